package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWorkspace_OpenAndCleanup(t *testing.T) {
	base := t.TempDir()
	ws := NewWorkspace(base)

	dir, cleanup, err := ws.Open("job/../1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if filepath.Dir(dir) != base {
		t.Fatalf("workspace %q not under %q", dir, base)
	}
	if strings.Contains(filepath.Base(dir), "/") || strings.Contains(filepath.Base(dir), "..") {
		t.Fatalf("job id not sanitized: %q", dir)
	}
	if err := os.WriteFile(filepath.Join(dir, "input.wav"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("workspace should be removed, stat err=%v", err)
	}
}

func TestWorkspace_DistinctPerRun(t *testing.T) {
	ws := NewWorkspace(t.TempDir())
	a, ca, err := ws.Open("same")
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	defer func() { _ = ca() }()
	b, cb, err := ws.Open("same")
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	defer func() { _ = cb() }()
	if a == b {
		t.Fatalf("expected distinct directories, got %q twice", a)
	}
}

func TestInputPath(t *testing.T) {
	cases := map[string]string{
		"uploads/meeting.MP4": "input.mp4",
		"clip.wav":            "input.wav",
		"noext":               "input.bin",
	}
	for key, want := range cases {
		if got := filepath.Base(InputPath("/tmp/x", key)); got != want {
			t.Fatalf("InputPath(%q) = %q, want %q", key, got, want)
		}
	}
}
