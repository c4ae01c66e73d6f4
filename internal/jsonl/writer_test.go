package jsonl

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenEmptyPath(t *testing.T) {
	w, err := Open("  ")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if w != nil {
		t.Fatalf("expected nil writer for blank path")
	}
	// nil writer discards
	if err := w.Write(map[string]string{"k": "v"}); err != nil {
		t.Fatalf("nil Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

func TestWriteAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")

	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Write(map[string]any{"event": "cycle", "n": 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// reopen appends
	w, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w.Write(map[string]any{"event": "cycle", "n": 2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("lines got %d want 2: %v", len(lines), lines)
	}
	if lines[0] != `{"event":"cycle","n":1}` {
		t.Fatalf("line 0 got %q", lines[0])
	}
}

func TestWriteAfterClose(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "x.jsonl"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Write(1); err == nil {
		t.Fatalf("expected error writing after close")
	}
}
