package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/transcriptworker/internal/common"
)

// Workspace hands out private scratch directories, one per job run.
type Workspace struct {
	baseDir string
}

// NewWorkspace creates a workspace rooted at baseDir. An empty baseDir uses
// the system temp directory.
func NewWorkspace(baseDir string) *Workspace {
	return &Workspace{baseDir: baseDir}
}

// Open creates a fresh directory for jobID. The caller must invoke cleanup
// when the run ends, whatever its outcome.
func (w *Workspace) Open(jobID string) (string, func() error, error) {
	if w.baseDir != "" {
		if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
			return "", nil, fmt.Errorf("ensure workspace base: %w", err)
		}
	}
	dir, err := os.MkdirTemp(w.baseDir, common.WorkspaceDirPrefix+sanitize(jobID)+"-")
	if err != nil {
		return "", nil, fmt.Errorf("create workspace: %w", err)
	}
	cleanup := func() error {
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}

// InputPath names the downloaded source file inside dir, keeping the
// object's extension so ffprobe can sniff it.
func InputPath(dir, objectKey string) string {
	ext := strings.ToLower(filepath.Ext(objectKey))
	if ext == "" || len(ext) > 8 {
		ext = ".bin"
	}
	return filepath.Join(dir, "input"+ext)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
