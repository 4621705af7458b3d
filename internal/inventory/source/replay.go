package source

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/steveyegge/invsync/internal/inventory/schema"
)

// BaselineFile is the snapshot file a replay directory starts from.
const BaselineFile = "baseline.json"

// Replay replays a directory of recorded batches.
//
// The directory holds baseline.json (a snapshot array) and any number of
// batch files, applied in file name order. Every session starts over from
// the baseline. New batch files are picked up as they appear.
//
// A batch file that fails to parse within SettleDelay of its last
// modification is treated as still being written: later files wait for it,
// and it is read again on the next change. Once it has been stable for
// SettleDelay and still does not parse, it is skipped.
type Replay struct {
	Dir string
	// WaitTimeout is how long WaitForUpdates blocks before ErrNoUpdates
	WaitTimeout time.Duration
	// SettleDelay is how long an unparsable file may stay unchanged before
	// it is skipped
	SettleDelay time.Duration
	Logger      *log.Logger
}

// NewReplay creates a replay source for dir.
func NewReplay(dir string) *Replay {
	return &Replay{
		Dir:         dir,
		WaitTimeout: 30 * time.Second,
		SettleDelay: 500 * time.Millisecond,
		Logger:      log.New(io.Discard, "", 0),
	}
}

// Connect starts watching the directory. Credentials are ignored.
func (r *Replay) Connect(ctx context.Context, creds Credentials) (Session, error) {
	info, err := os.Stat(r.Dir)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}
	if !info.IsDir() {
		return nil, &TransportError{Op: "connect", Err: fmt.Errorf("%s is not a directory", r.Dir)}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(r.Dir); err != nil {
		_ = watcher.Close()
		return nil, &TransportError{Op: "watch", Err: err}
	}

	logger := r.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &replaySession{
		dir:         r.Dir,
		waitTimeout: r.WaitTimeout,
		settleDelay: r.SettleDelay,
		logger:      logger,
		watcher:     watcher,
		delivered:   make(map[string]bool),
	}, nil
}

type replaySession struct {
	dir         string
	waitTimeout time.Duration
	settleDelay time.Duration
	logger      *log.Logger
	watcher     *fsnotify.Watcher
	delivered   map[string]bool
	closed      bool
}

func (s *replaySession) Enumerate(ctx context.Context) (*schema.UpdateBatch, error) {
	path := filepath.Join(s.dir, BaselineFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return schema.SnapshotBatch("baseline", nil), nil
		}
		return nil, &TransportError{Op: "enumerate", Err: err}
	}
	snapshots, err := schema.ReadSnapshotFile(path)
	if err != nil {
		return nil, err
	}
	return schema.SnapshotBatch("baseline", snapshots), nil
}

// batchFiles lists undelivered batch files in name order.
func (s *replaySession) batchFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == BaselineFile || filepath.Ext(name) != ".json" || strings.HasPrefix(name, ".") {
			continue
		}
		if !s.delivered[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *replaySession) WaitForUpdates(ctx context.Context) (*schema.UpdateBatch, error) {
	if s.closed {
		return nil, &TransportError{Op: "wait", Err: errSessionClosed}
	}

	timer := time.NewTimer(s.waitTimeout)
	defer timer.Stop()

	for {
		names, err := s.batchFiles()
		if err != nil {
			return nil, &TransportError{Op: "wait", Err: err}
		}
		var settle <-chan time.Time
		for _, name := range names {
			batch, wait, err := s.read(name)
			if err != nil {
				return nil, &TransportError{Op: "wait", Err: err}
			}
			if batch != nil {
				return batch, nil
			}
			if wait > 0 {
				settle = time.After(wait)
				break
			}
		}

		select {
		case <-settle:
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil, &TransportError{Op: "wait", Err: errSessionClosed}
			}
			if event.Name == s.dir && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return nil, &TransportError{Op: "wait", Err: fmt.Errorf("directory %s removed", s.dir)}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil, &TransportError{Op: "wait", Err: errSessionClosed}
			}
			return nil, &TransportError{Op: "wait", Err: err}
		case <-timer.C:
			return nil, ErrNoUpdates
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// read parses one batch file. It returns the batch, or a non-zero wait when
// the file failed to parse but may still be being written. A file that
// disappeared or settled unparsable yields neither and is not read again.
func (s *replaySession) read(name string) (*schema.UpdateBatch, time.Duration, error) {
	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	batch, perr := schema.ReadBatchFile(path)
	if perr == nil {
		s.delivered[name] = true
		return batch, 0, nil
	}

	age := time.Since(info.ModTime())
	if age < 0 {
		age = 0
	}
	if age < s.settleDelay {
		return nil, s.settleDelay - age, nil
	}
	s.logger.Printf("Warning: skipping batch file %s: %v", name, perr)
	s.delivered[name] = true
	return nil, 0, nil
}

func (s *replaySession) Disconnect(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}
