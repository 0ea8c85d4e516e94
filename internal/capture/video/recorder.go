// Package video records a window as a sequence of still frames, keeping only
// frames that differ visibly from the previous one, and encodes them on stop.
package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/corona10/goimagehash"

	apperrors "github.com/GriffinCanCode/engram/internal/errors"
	"github.com/GriffinCanCode/engram/internal/media"
	"github.com/GriffinCanCode/engram/internal/screen"
)

// Snapshotter grabs one image of a window.
type Snapshotter interface {
	Snapshot(ctx context.Context, w screen.Window) ([]byte, error)
}

// Encoder turns frames into a video file.
type Encoder interface {
	EncodeFrames(ctx context.Context, frames []media.Frame, outPath string) error
}

// Result describes a finished video.
type Result struct {
	Path      string
	Duration  time.Duration
	SizeBytes int64
	Frames    int
}

// Recorder samples one window at a time.
type Recorder struct {
	snap     Snapshotter
	enc      Encoder
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	session *session
}

type session struct {
	window    screen.Window
	outPath   string
	framesDir string
	started   time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	// sampling goroutine only until done is closed
	frames   []frame
	lastHash *goimagehash.ImageHash
	failures int
}

type frame struct {
	path string
	at   time.Time
}

// NewRecorder creates a recorder sampling every interval.
func NewRecorder(snap Snapshotter, enc Encoder, interval time.Duration) *Recorder {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Recorder{snap: snap, enc: enc, interval: interval, now: time.Now}
}

// Start begins sampling w. The encoded video is written to outPath on Stop.
func (r *Recorder) Start(ctx context.Context, w screen.Window, outPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return apperrors.New(apperrors.SessionActive, "video capture already running")
	}

	dir, err := os.MkdirTemp(filepath.Dir(outPath), ".frames-*")
	if err != nil {
		return fmt.Errorf("create frames dir: %w", err)
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		window:    w,
		outPath:   outPath,
		framesDir: dir,
		started:   r.now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.session = s

	go r.run(loopCtx, s)
	slog.Info("started video capture", "window", w.Title, "window_id", w.ID)
	return nil
}

func (r *Recorder) run(ctx context.Context, s *session) {
	defer close(s.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sample(ctx, s)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.sample(ctx, s) {
				return
			}
		}
	}
}

// sample grabs one frame and reports whether sampling should continue.
func (r *Recorder) sample(ctx context.Context, s *session) bool {
	data, err := r.snap.Snapshot(ctx, s.window)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.failures++
		slog.Debug("window snapshot failed", "failures", s.failures, "error", err)
		if s.failures >= MaxSnapshotFailures {
			slog.Warn("video capture stopped, window unavailable", "window_id", s.window.ID, "error", err)
			return false
		}
		return true
	}
	s.failures = 0

	if s.similar(data) {
		return true
	}

	path := filepath.Join(s.framesDir, fmt.Sprintf("%06d.jpg", len(s.frames)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Warn("failed to write frame", "error", err)
		return true
	}
	s.frames = append(s.frames, frame{path: path, at: r.now()})
	return true
}

// similar computes pHash and reports whether data matches the previous kept frame.
func (s *session) similar(data []byte) bool {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return false
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return false
	}
	if s.lastHash == nil {
		s.lastHash = hash
		return false
	}
	dist, err := s.lastHash.Distance(hash)
	if err == nil && dist <= MaxHashDistance {
		return true
	}
	s.lastHash = hash
	return false
}

// Active reports whether a window is being sampled.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// Stop ends sampling and encodes the kept frames. Frames are left on disk
// when encoding fails.
func (r *Recorder) Stop(ctx context.Context) (Result, error) {
	r.mu.Lock()
	s := r.session
	r.session = nil
	r.mu.Unlock()
	if s == nil {
		return Result{}, apperrors.New(apperrors.NoSession, "video capture not running")
	}

	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	end := r.now()

	if len(s.frames) == 0 {
		os.RemoveAll(s.framesDir)
		return Result{}, apperrors.New(apperrors.WindowNotFound, "no frames captured")
	}

	frames := make([]media.Frame, len(s.frames))
	for i, f := range s.frames {
		next := end
		if i+1 < len(s.frames) {
			next = s.frames[i+1].at
		}
		frames[i] = media.Frame{Path: f.path, Duration: max(next.Sub(f.at), time.Millisecond)}
	}
	if err := r.enc.EncodeFrames(ctx, frames, s.outPath); err != nil {
		return Result{}, fmt.Errorf("encode %d frames in %s: %w", len(frames), s.framesDir, err)
	}
	os.RemoveAll(s.framesDir)

	res := Result{Path: s.outPath, Duration: end.Sub(s.started), Frames: len(frames)}
	if info, err := os.Stat(s.outPath); err == nil {
		res.SizeBytes = info.Size()
	}
	return res, nil
}
