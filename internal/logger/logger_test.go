package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false, false)
	l.Debugw("hidden")
	l.Infow("conversion done", "warnings", 2)
	_ = l.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug must be filtered without verbose: %q", out)
	}
	if !strings.Contains(out, "INFO") || !strings.Contains(out, `"warnings": 2`) {
		t.Fatalf("out=%q", out)
	}

	buf.Reset()
	l = New(&buf, true, false)
	l.Debugw("shown")
	_ = l.Sync()
	if !strings.Contains(buf.String(), "DEBUG") {
		t.Fatalf("verbose should enable debug: %q", buf.String())
	}
}

func TestInit_LogFile(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	path := filepath.Join(t.TempDir(), "app.log")
	if err := Init(false, path); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	Log.Infow("hello file")
	Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "hello file") {
		t.Fatalf("log file=%q", b)
	}

	if err := Init(false, filepath.Join(t.TempDir(), "missing", "x.log")); err == nil {
		t.Fatalf("expected error for unwritable path")
	}
}
