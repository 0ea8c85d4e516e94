// Package audio records the microphone, and optionally a system loopback
// device, to WAV files through portaudio.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/engram/internal/errors"
)

// Config selects devices and format.
type Config struct {
	SampleRate         int
	CaptureSystemAudio bool
	ExcludedDevices    []string
}

// Result describes a finished recording.
type Result struct {
	Path      string
	Duration  time.Duration
	SizeBytes int64
}

// Merger mixes a microphone and a system track into one file.
type Merger interface {
	MergeAudio(ctx context.Context, micPath, systemPath, outPath string, sampleRate int) error
}

// Recorder captures one session at a time.
type Recorder struct {
	cfg    Config
	merger Merger

	mu      sync.Mutex
	session *session
}

type session struct {
	outPath string
	devices []*deviceCapture
}

type deviceCapture struct {
	source Source
	name   string
	track  *wavTrack
	stream *portaudio.Stream
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewRecorder creates a recorder. merger may be nil, in which case only the
// microphone track is kept.
func NewRecorder(cfg Config, merger Merger) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Recorder{cfg: cfg, merger: merger}
}

// RequestPermission checks that an input device is usable. Calling it again
// after a grant is harmless.
func (r *Recorder) RequestPermission(ctx context.Context) error {
	if err := portaudio.Initialize(); err != nil {
		return apperrors.Wrap(err, apperrors.PermissionDenied, "initialize audio")
	}
	defer portaudio.Terminate()

	_, infos, sel, err := r.pick()
	if err != nil {
		return err
	}
	if sel.mic < 0 && sel.system < 0 {
		return apperrors.Newf(apperrors.DeviceUnavailable, "no usable input among %d devices", len(infos))
	}
	return nil
}

// Active reports whether a session is recording.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// Start begins recording into outPath. Tracks are written next to it and
// combined on Stop.
func (r *Recorder) Start(ctx context.Context, outPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return apperrors.New(apperrors.SessionActive, "audio capture already running")
	}

	if err := portaudio.Initialize(); err != nil {
		return apperrors.Wrap(err, apperrors.PermissionDenied, "initialize audio")
	}
	devices, infos, sel, err := r.pick()
	if err != nil {
		portaudio.Terminate()
		return err
	}
	if sel.mic < 0 && sel.system < 0 {
		portaudio.Terminate()
		return apperrors.New(apperrors.DeviceUnavailable, "no microphone or loopback device found")
	}

	s := &session{outPath: outPath}
	if sel.mic >= 0 {
		dc, err := r.startDevice(infos[sel.mic], SourceUser, trackPath(outPath, SourceUser))
		if err != nil {
			portaudio.Terminate()
			return apperrors.Wrapf(err, apperrors.DeviceUnavailable, "start microphone %q", devices[sel.mic].Name)
		}
		s.devices = append(s.devices, dc)
		slog.Info("started audio capture", "device", dc.name, "source", SourceUser)
	}
	if sel.system >= 0 {
		dc, err := r.startDevice(infos[sel.system], SourceSystem, trackPath(outPath, SourceSystem))
		if err != nil {
			slog.Warn("failed to start device", "device", devices[sel.system].Name, "error", err)
		} else {
			s.devices = append(s.devices, dc)
			slog.Info("started audio capture", "device", dc.name, "source", SourceSystem)
		}
	}
	if len(s.devices) == 0 {
		portaudio.Terminate()
		return apperrors.New(apperrors.DeviceUnavailable, "no input device could be opened")
	}

	r.session = s
	return nil
}

// Stop ends the session and produces the final WAV at the path given to Start.
func (r *Recorder) Stop(ctx context.Context) (Result, error) {
	r.mu.Lock()
	s := r.session
	r.session = nil
	r.mu.Unlock()
	if s == nil {
		return Result{}, apperrors.New(apperrors.NoSession, "audio capture not running")
	}

	var (
		tracks    []finishedTrack
		trackErrs []error
	)
	for _, dc := range s.devices {
		ft, err := dc.stop()
		if err != nil {
			slog.Warn("audio track incomplete", "device", dc.name, "error", err)
			trackErrs = append(trackErrs, err)
		}
		if ft.path != "" {
			tracks = append(tracks, ft)
		}
	}
	_ = portaudio.Terminate()

	res, err := finalize(ctx, s.outPath, tracks, r.merger, r.cfg.SampleRate)
	if err != nil {
		return res, err
	}
	return res, errors.Join(trackErrs...)
}

func (r *Recorder) pick() ([]Device, []*portaudio.DeviceInfo, selection, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, nil, selection{}, apperrors.Wrap(err, apperrors.DeviceUnavailable, "list audio devices")
	}
	devices := make([]Device, len(infos))
	for i, d := range infos {
		devices[i] = Device{Name: d.Name, MaxInputChannels: d.MaxInputChannels}
	}
	return devices, infos, selectDevices(devices, r.cfg.ExcludedDevices, r.cfg.CaptureSystemAudio), nil
}

func (r *Recorder) startDevice(dev *portaudio.DeviceInfo, source Source, path string) (*deviceCapture, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(r.cfg.SampleRate),
		FramesPerBuffer: FramesPerBuffer,
	}

	buf := make([]float32, FramesPerBuffer)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, err
	}
	track, err := createTrack(path, r.cfg.SampleRate)
	if err != nil {
		stream.Close()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		track.close()
		os.Remove(path)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	dc := &deviceCapture{source: source, name: dev.Name, track: track, stream: stream, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(dc.done)
		for ctx.Err() == nil {
			if err := stream.Read(); err != nil {
				if errors.Is(err, portaudio.InputOverflowed) {
					continue
				}
				if ctx.Err() == nil {
					dc.err = err
				}
				return
			}
			if err := track.write(buf); err != nil {
				dc.err = err
				return
			}
		}
	}()
	return dc, nil
}

// stop halts the stream and closes the track. The track is kept even when
// the device failed mid-session.
func (d *deviceCapture) stop() (finishedTrack, error) {
	d.cancel()
	_ = d.stream.Stop()

	select {
	case <-d.done:
	case <-time.After(StopTimeout):
		_ = d.stream.Close()
		// The reader may still hold the file; keep what reached disk.
		return finishedTrack{source: d.source, path: d.track.path}, fmt.Errorf("device %q did not stop within %v", d.name, StopTimeout)
	}
	_ = d.stream.Close()

	size, err := d.track.close()
	ft := finishedTrack{
		source:   d.source,
		path:     d.track.path,
		duration: time.Duration(d.track.samples) * time.Second / time.Duration(d.track.rate),
		size:     size,
	}
	return ft, errors.Join(d.err, err)
}

type finishedTrack struct {
	source   Source
	path     string
	duration time.Duration
	size     int64
}

// finalize turns the per-device tracks into outPath. Two tracks are mixed; if
// mixing fails the microphone track alone becomes the recording.
func finalize(ctx context.Context, outPath string, tracks []finishedTrack, merger Merger, sampleRate int) (Result, error) {
	if len(tracks) == 0 {
		return Result{}, apperrors.New(apperrors.DeviceUnavailable, "no audio was captured")
	}

	primary := tracks[0]
	for _, t := range tracks {
		if t.source == SourceUser {
			primary = t
			break
		}
	}

	if len(tracks) > 1 && merger != nil {
		var system finishedTrack
		for _, t := range tracks {
			if t.source == SourceSystem {
				system = t
			}
		}
		if system.path != "" && system.path != primary.path {
			err := merger.MergeAudio(ctx, primary.path, system.path, outPath, sampleRate)
			if err == nil {
				info, statErr := os.Stat(outPath)
				if statErr == nil {
					os.Remove(primary.path)
					os.Remove(system.path)
					return Result{Path: outPath, Duration: max(primary.duration, system.duration), SizeBytes: info.Size()}, nil
				}
				err = statErr
			}
			slog.Warn("audio merge failed, keeping microphone track", "error", err, "system_track", system.path)
		}
	}

	if err := os.Rename(primary.path, outPath); err != nil {
		return Result{Path: primary.path, Duration: primary.duration, SizeBytes: primary.size}, fmt.Errorf("finalize audio: %w", err)
	}
	return Result{Path: outPath, Duration: primary.duration, SizeBytes: primary.size}, nil
}

// trackPath derives a per-device file next to outPath.
func trackPath(outPath string, source Source) string {
	base := strings.TrimSuffix(outPath, ".wav")
	return base + "." + string(source) + ".wav"
}
