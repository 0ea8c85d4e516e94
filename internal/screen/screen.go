// Package screen enumerates application windows and grabs still images of
// them for video capture.
package screen

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/engram/internal/errors"
)

// Window is one on-screen top-level window.
type Window struct {
	ID     string `json:"id"`
	PID    int    `json:"pid"`
	Title  string `json:"title"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Area is width times height.
func (w Window) Area() int { return w.Width * w.Height }

// backend implements platform-specific window access
type backend interface {
	listWindows(ctx context.Context) ([]Window, error)
	grab(ctx context.Context, w Window, dst string) error
}

// Enumerator lists windows and snapshots them.
type Enumerator struct {
	backend
	tempDir string
	once    sync.Once
}

func newEnumerator(b backend) *Enumerator {
	tmpDir, err := os.MkdirTemp("", "engram-screen-*")
	if err != nil {
		slog.Error("failed to create temp dir", "error", err)
		tmpDir = os.TempDir()
	}
	return &Enumerator{backend: b, tempDir: tmpDir}
}

// CandidateWindows lists the visible, titled windows of pid that are large
// enough to be a meeting, in the order the window system reports them.
func (e *Enumerator) CandidateWindows(ctx context.Context, pid int) ([]Window, error) {
	all, err := e.listWindows(ctx)
	if err != nil {
		return nil, err
	}
	return candidates(all, pid), nil
}

// WindowTitle returns the title of pid's largest window.
func (e *Enumerator) WindowTitle(ctx context.Context, pid int) (string, bool) {
	wins, err := e.CandidateWindows(ctx, pid)
	if err != nil || len(wins) == 0 {
		return "", false
	}
	best := wins[0]
	for _, w := range wins[1:] {
		if w.Area() > best.Area() {
			best = w
		}
	}
	return best.Title, true
}

// Snapshot returns a JPEG image of w.
func (e *Enumerator) Snapshot(ctx context.Context, w Window) ([]byte, error) {
	tmpFile := filepath.Join(e.tempDir, uuid.NewString()+".jpg")
	defer os.Remove(tmpFile)

	if err := e.grab(ctx, w, tmpFile); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.WindowNotFound, "snapshot window %s", w.ID)
	}
	data, err := os.ReadFile(tmpFile)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Close cleans up temp directory
func (e *Enumerator) Close() {
	e.once.Do(func() {
		if e.tempDir != "" && e.tempDir != os.TempDir() {
			os.RemoveAll(e.tempDir)
		}
	})
}

func candidates(all []Window, pid int) []Window {
	var out []Window
	for _, w := range all {
		if w.PID != pid || w.Title == "" {
			continue
		}
		if w.Width < MinWindowWidth || w.Height < MinWindowHeight {
			continue
		}
		out = append(out, w)
	}
	return out
}

func run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.String(), nil
}
