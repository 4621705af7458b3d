package ui

import (
	"strings"
	"testing"
)

func TestRenderPlainWithoutColor(t *testing.T) {
	SetColor(false)
	t.Cleanup(func() { SetColor(false) })

	for _, fn := range []func(string) string{RenderAccent, RenderPass, RenderWarn, RenderFail, RenderMuted} {
		if got := fn("ok"); got != "ok" {
			t.Errorf("render without color = %q, want plain", got)
		}
	}
}

func TestTableAlignsColumns(t *testing.T) {
	SetColor(false)

	out := Table([]string{"TYPE", "LIVE"}, [][]string{
		{"vm", "12"},
		{"resource_pool", "3"},
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}
	col := strings.Index(lines[0], "LIVE")
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if idx := strings.LastIndex(line, fields[len(fields)-1]); idx != col {
			t.Errorf("line %q: second column at %d, want %d", line, idx, col)
		}
	}
}

func TestTableShortRows(t *testing.T) {
	SetColor(false)

	out := Table([]string{"A", "B"}, [][]string{{"x"}})
	if !strings.HasPrefix(strings.Split(out, "\n")[1], "x") {
		t.Errorf("short row not rendered: %q", out)
	}
}
