// Package changes applies path-addressed property changes to property trees.
//
// A property tree is the nested map/array structure that accumulates
// everything observed about one remote object. Paths are dotted segment
// lists where each segment may carry one bracketed selector:
//
//	name                      top-level property
//	config.hardware.device    nested property
//	disks[0]                  positional element
//	config.hardware.device["4000"].backing.fileName
//	network[dvportgroup-12]   keyed element (bare keys must not be all digits)
//
// Keyed selectors match map elements by their "key" field, or scalar
// elements by value.
package changes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/steveyegge/invsync/internal/inventory/schema"
)

var (
	// ErrMalformedPath is returned when a path does not follow the grammar.
	ErrMalformedPath = errors.New("malformed property path")

	// ErrPathConflict is returned when a path navigates through a value of
	// the wrong shape, e.g. indexing into a string.
	ErrPathConflict = errors.New("property path conflict")
)

// PathError reports a failed change operation.
type PathError struct {
	// Index is the position of the change within the applied list
	Index int
	Path  string
	Op    schema.Op
	Err   error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("change %d (%s %q): %v", e.Index, e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

type selectorKind int

const (
	selNone selectorKind = iota
	selIndex
	selKey
)

type segment struct {
	name  string
	sel   selectorKind
	index int
	key   string
}

func (s segment) String() string {
	switch s.sel {
	case selIndex:
		return fmt.Sprintf("%s[%d]", s.name, s.index)
	case selKey:
		return fmt.Sprintf("%s[%q]", s.name, s.key)
	}
	return s.name
}

func malformed(path, format string, args ...any) error {
	return fmt.Errorf("%w: %q: %s", ErrMalformedPath, path, fmt.Sprintf(format, args...))
}

// parsePath splits a path into segments.
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, malformed(path, "empty path")
	}

	var segs []segment
	i := 0
	for {
		start := i
		for i < len(path) && path[i] != '.' && path[i] != '[' {
			if path[i] == ']' || path[i] == '"' {
				return nil, malformed(path, "unexpected %q at offset %d", path[i], i)
			}
			i++
		}
		if i == start {
			return nil, malformed(path, "empty segment at offset %d", i)
		}
		seg := segment{name: path[start:i]}

		if i < len(path) && path[i] == '[' {
			next, err := parseSelector(path, i, &seg)
			if err != nil {
				return nil, err
			}
			i = next
		}
		segs = append(segs, seg)

		if i == len(path) {
			return segs, nil
		}
		if path[i] != '.' {
			return nil, malformed(path, "unexpected %q after selector at offset %d", path[i], i)
		}
		i++
		if i == len(path) {
			return nil, malformed(path, "trailing dot")
		}
	}
}

// parseSelector parses the bracketed selector starting at path[open] and
// returns the offset just past the closing bracket.
func parseSelector(path string, open int, seg *segment) (int, error) {
	i := open + 1
	if i < len(path) && path[i] == '"' {
		var b strings.Builder
		i++
		for {
			if i >= len(path) {
				return 0, malformed(path, "unterminated quoted selector")
			}
			c := path[i]
			if c == '\\' && i+1 < len(path) {
				b.WriteByte(path[i+1])
				i += 2
				continue
			}
			if c == '"' {
				break
			}
			b.WriteByte(c)
			i++
		}
		i++ // closing quote
		if i >= len(path) || path[i] != ']' {
			return 0, malformed(path, "expected ] after quoted selector")
		}
		if b.Len() == 0 {
			return 0, malformed(path, "empty selector")
		}
		seg.sel = selKey
		seg.key = b.String()
		return i + 1, nil
	}

	end := strings.IndexByte(path[i:], ']')
	if end < 0 {
		return 0, malformed(path, "unbalanced [")
	}
	raw := path[i : i+end]
	if raw == "" {
		return 0, malformed(path, "empty selector")
	}
	if strings.ContainsAny(raw, "[\"") {
		return 0, malformed(path, "invalid selector %q", raw)
	}

	switch {
	case isDigits(raw):
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, malformed(path, "index %q out of range", raw)
		}
		seg.sel = selIndex
		seg.index = n
	case raw[0] == '-' && isDigits(raw[1:]):
		return 0, malformed(path, "negative index %s", raw)
	default:
		seg.sel = selKey
		seg.key = raw
	}
	return i + end + 1, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ValidatePath reports whether path follows the grammar.
func ValidatePath(path string) error {
	_, err := parsePath(path)
	return err
}
