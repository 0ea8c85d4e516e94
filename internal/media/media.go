// Package media wraps the ffmpeg and ffprobe binaries: merging audio tracks,
// encoding captured frames, muxing audio with video and probing durations.
package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/engram/internal/errors"
	"github.com/GriffinCanCode/engram/internal/trace"
)

// Result describes a finished media file.
type Result struct {
	Path      string
	Duration  time.Duration
	SizeBytes int64
}

// Frame is one still image shown for Duration in an encoded video.
type Frame struct {
	Path     string
	Duration time.Duration
}

// runner executes a binary and returns its combined output.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpeg runs media jobs through the ffmpeg tools.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	run     runner
}

// New creates a wrapper around the given binaries.
func New(ffmpegPath, ffprobePath string) *FFmpeg {
	return &FFmpeg{ffmpeg: ffmpegPath, ffprobe: ffprobePath, run: execRunner}
}

// Check reports whether both binaries are on PATH.
func (f *FFmpeg) Check() error {
	for _, bin := range []string{f.ffmpeg, f.ffprobe} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found. Install ffmpeg: %w", bin, err)
		}
	}
	return nil
}

// Combine muxes audioPath into videoPath, replacing the video-only file.
func (f *FFmpeg) Combine(ctx context.Context, videoPath, audioPath string) (Result, error) {
	ctx, span := trace.StartSpan(ctx, "media_combine")
	tmp := tempSibling(videoPath)
	err := f.ffmpegRun(ctx, combineArgs(videoPath, audioPath, tmp))
	span.EndErr(err)
	if err != nil {
		os.Remove(tmp)
		return Result{}, apperrors.Wrap(err, apperrors.MultiplexFailure, "mux audio and video")
	}
	if err := os.Rename(tmp, videoPath); err != nil {
		os.Remove(tmp)
		return Result{}, apperrors.Wrap(err, apperrors.MultiplexFailure, "replace video file")
	}
	return f.Describe(ctx, videoPath)
}

// MergeAudio mixes the microphone and system tracks into outPath.
func (f *FFmpeg) MergeAudio(ctx context.Context, micPath, systemPath, outPath string, sampleRate int) error {
	if err := f.ffmpegRun(ctx, mergeArgs(micPath, systemPath, outPath, sampleRate)); err != nil {
		return fmt.Errorf("merging audio: %w", err)
	}
	return nil
}

// EncodeFrames renders frames into an H.264 video at outPath.
func (f *FFmpeg) EncodeFrames(ctx context.Context, frames []Frame, outPath string) error {
	if len(frames) == 0 {
		return apperrors.New(apperrors.InvalidArgument, "no frames to encode")
	}
	list, err := os.CreateTemp("", "engram-frames-*.txt")
	if err != nil {
		return err
	}
	defer os.Remove(list.Name())
	if err := WriteConcatList(list, frames); err != nil {
		list.Close()
		return err
	}
	if err := list.Close(); err != nil {
		return err
	}
	if err := f.ffmpegRun(ctx, encodeArgs(list.Name(), outPath)); err != nil {
		return fmt.Errorf("encoding frames: %w", err)
	}
	return nil
}

// Duration asks ffprobe for the container duration of path.
func (f *FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	out, err := f.run(ctx, f.ffprobe, probeArgs(path)...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return parseProbeDuration(string(out))
}

// Describe fills a Result for an existing file. A failed probe leaves Duration zero.
func (f *FFmpeg) Describe(ctx context.Context, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, err
	}
	res := Result{Path: path, SizeBytes: info.Size()}
	if d, err := f.Duration(ctx, path); err == nil {
		res.Duration = d
	} else {
		trace.Logger(ctx).Debug("duration probe failed", "path", path, "error", err)
	}
	return res, nil
}

func (f *FFmpeg) ffmpegRun(ctx context.Context, args []string) error {
	out, err := f.run(ctx, f.ffmpeg, args...)
	if err != nil {
		return fmt.Errorf("%w\n%s", err, tail(string(out), 2048))
	}
	return nil
}

func combineArgs(videoPath, audioPath, outPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		"-y",
		outPath,
	}
}

func mergeArgs(micPath, systemPath, outPath string, sampleRate int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", systemPath,
		"-i", micPath,
		"-filter_complex", "[0:a][1:a]amix=inputs=2:duration=longest:dropout_transition=0[a]",
		"-map", "[a]",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-y",
		outPath,
	}
}

func encodeArgs(listPath, outPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2,format=yuv420p",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-vsync", "vfr",
		"-y",
		outPath,
	}
}

func probeArgs(path string) []string {
	return []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path}
}

// WriteConcatList writes an ffmpeg concat demuxer script. The last frame is
// listed twice so its duration is honoured.
func WriteConcatList(w io.Writer, frames []Frame) error {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, fr := range frames {
		fmt.Fprintf(&b, "file '%s'\nduration %.3f\n", escapeQuote(fr.Path), fr.Duration.Seconds())
	}
	if n := len(frames); n > 0 {
		fmt.Fprintf(&b, "file '%s'\n", escapeQuote(frames[n-1].Path))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func escapeQuote(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

func parseProbeDuration(out string) (time.Duration, error) {
	s := strings.TrimSpace(out)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func tempSibling(path string) string {
	ext := ""
	if i := strings.LastIndexByte(path, '.'); i > strings.LastIndexByte(path, '/') {
		ext = path[i:]
	}
	return strings.TrimSuffix(path, ext) + ".muxing" + ext
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
