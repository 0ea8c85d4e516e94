// Package orchestrator turns the meeting controller's start and stop commands
// into one synchronized audio and optional video recording, and hands the
// finished recording to the background scheduler.
package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/GriffinCanCode/engram/internal/activity"
	"github.com/GriffinCanCode/engram/internal/apps"
	"github.com/GriffinCanCode/engram/internal/capture/audio"
	"github.com/GriffinCanCode/engram/internal/capture/video"
	"github.com/GriffinCanCode/engram/internal/config"
	apperrors "github.com/GriffinCanCode/engram/internal/errors"
	"github.com/GriffinCanCode/engram/internal/events"
	"github.com/GriffinCanCode/engram/internal/media"
	"github.com/GriffinCanCode/engram/internal/meeting"
	"github.com/GriffinCanCode/engram/internal/scheduler"
	"github.com/GriffinCanCode/engram/internal/screen"
	"github.com/GriffinCanCode/engram/internal/store"
	"github.com/GriffinCanCode/engram/internal/syncx"
	"github.com/GriffinCanCode/engram/internal/trace"
)

// AudioEngine records the session's audio.
type AudioEngine interface {
	RequestPermission(ctx context.Context) error
	Start(ctx context.Context, outPath string) error
	Stop(ctx context.Context) (audio.Result, error)
}

// VideoEngine records one window.
type VideoEngine interface {
	Start(ctx context.Context, w screen.Window, outPath string) error
	Stop(ctx context.Context) (video.Result, error)
}

// WindowSource lists an app's windows.
type WindowSource interface {
	CandidateWindows(ctx context.Context, pid int) ([]screen.Window, error)
	WindowTitle(ctx context.Context, pid int) (string, bool)
}

// PIDResolver finds the process of a running app.
type PIDResolver interface {
	LookupPID(ctx context.Context, app activity.App) (int, bool)
}

// Muxer combines a video-only file with its audio, replacing the video file.
type Muxer interface {
	Combine(ctx context.Context, videoPath, audioPath string) (media.Result, error)
}

// Recordings persists finished sessions.
type Recordings interface {
	SaveRecording(ctx context.Context, m store.Metadata) (string, error)
}

// Transcriptions queues transcription work.
type Transcriptions interface {
	SubmitTranscription(ctx context.Context, recordingID, audioPath string) (scheduler.SubmitResult, error)
}

// Config controls where and what is recorded.
type Config struct {
	Dir            string
	RecordVideo    bool
	WindowMode     string
	AutoTranscribe bool
}

// Deps are the orchestrator's collaborators. Video, Windows, PIDs, Chooser,
// Muxer and Events may be nil.
type Deps struct {
	Audio      AudioEngine
	Video      VideoEngine
	Windows    WindowSource
	PIDs       PIDResolver
	Registry   *apps.Registry
	Chooser    Chooser
	Muxer      Muxer
	Recordings Recordings
	Queue      Transcriptions
	Events     events.Publisher
}

// Session is the recording in progress.
type Session struct {
	App       activity.App   `json:"app"`
	Name      string         `json:"name"`
	AudioPath string         `json:"audio_path"`
	VideoPath string         `json:"video_path,omitempty"`
	Window    *screen.Window `json:"window,omitempty"`
	StartedAt time.Time      `json:"started_at"`
}

// Orchestrator owns at most one Session. Every operation runs on a private
// serial executor, so the session has a single writer.
type Orchestrator struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	serial  *syncx.Serial
	current *syncx.RWGuard[*Session]

	// A stop interrupts a window choice pending inside start.
	choiceMu      sync.Mutex
	cancelChoice  context.CancelFunc
	stopRequested bool
}

// New creates an orchestrator. Call Close when done.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.WindowMode == "" {
		cfg.WindowMode = config.WindowModeSmart
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		now:     time.Now,
		serial:  syncx.NewSerial(),
		current: syncx.NewGuard[*Session](nil),
	}
}

// Close stops the executor. An active session is left untouched; call
// Finalize first.
func (o *Orchestrator) Close() { o.serial.Stop() }

// Current returns a copy of the active session.
func (o *Orchestrator) Current() (Session, bool) {
	s := o.current.Get()
	if s == nil {
		return Session{}, false
	}
	return *s, true
}

// StartRecording begins a session for app.
func (o *Orchestrator) StartRecording(ctx context.Context, app activity.App) (meeting.RecordingHandle, error) {
	var (
		handle meeting.RecordingHandle
		err    error
	)
	if derr := o.serial.Do(ctx, func() { handle, err = o.start(ctx, app) }); derr != nil {
		return meeting.RecordingHandle{}, derr
	}
	return handle, err
}

// StopRecording finishes the active session, persists it and queues it for
// transcription.
func (o *Orchestrator) StopRecording(ctx context.Context) error {
	_, err := o.StopAndSave(ctx)
	return err
}

// StopAndSave is StopRecording that also reports the new recording id.
func (o *Orchestrator) StopAndSave(ctx context.Context) (string, error) {
	var (
		id  string
		err error
	)
	o.interruptChoice()
	if derr := o.serial.Do(ctx, func() { id, err = o.stop(ctx) }); derr != nil {
		o.clearStopRequest()
		return "", derr
	}
	return id, err
}

// interruptChoice cancels a pending window choice, or the next one to begin
// before the stop runs, so the stop is not held up by the chooser.
func (o *Orchestrator) interruptChoice() {
	o.choiceMu.Lock()
	defer o.choiceMu.Unlock()
	o.stopRequested = true
	if o.cancelChoice != nil {
		o.cancelChoice()
	}
}

func (o *Orchestrator) clearStopRequest() {
	o.choiceMu.Lock()
	o.stopRequested = false
	o.choiceMu.Unlock()
}

func (o *Orchestrator) choiceContext(ctx context.Context) (context.Context, func()) {
	cctx, cancel := context.WithCancel(ctx)
	o.choiceMu.Lock()
	if o.stopRequested {
		cancel()
	}
	o.cancelChoice = cancel
	o.choiceMu.Unlock()
	return cctx, func() {
		o.choiceMu.Lock()
		o.cancelChoice = nil
		o.choiceMu.Unlock()
		cancel()
	}
}

func (o *Orchestrator) start(ctx context.Context, app activity.App) (handle meeting.RecordingHandle, err error) {
	ctx, span := trace.StartSpan(ctx, "orchestrator.start")
	defer func() { span.EndErr(err) }()
	log := trace.Logger(ctx)

	if s := o.current.Get(); s != nil {
		return handle, apperrors.Newf(apperrors.SessionActive, "recording %q already active", s.Name)
	}
	if err = o.deps.Audio.RequestPermission(ctx); err != nil {
		return handle, err
	}

	app = o.resolveApp(ctx, app)
	name := o.recordingName(ctx, app)
	span.SetAttr("app", app.Name)

	if err = os.MkdirAll(o.cfg.Dir, DirPerm); err != nil {
		return handle, apperrors.Wrap(err, apperrors.Internal, "create recordings dir")
	}
	started := o.now()
	audioPath := filepath.Join(o.cfg.Dir, BaseName(started, name)+AudioExt)
	if err = o.deps.Audio.Start(ctx, audioPath); err != nil {
		return handle, err
	}

	s := &Session{App: app, Name: name, AudioPath: audioPath, StartedAt: started}
	o.startVideo(ctx, s)
	o.current.Set(s)

	log.Info("recording started", "app", app.Name, "name", name, "audio", audioPath, "video", s.VideoPath != "")
	return meeting.RecordingHandle{
		Name:      s.Name,
		AudioPath: s.AudioPath,
		VideoPath: s.VideoPath,
		StartedAt: s.StartedAt,
	}, nil
}

// resolveApp fills in the bundle id and pid. The detector's values win, then
// the registry, then a live process lookup.
func (o *Orchestrator) resolveApp(ctx context.Context, app activity.App) activity.App {
	if app.BundleID == "" && o.deps.Registry != nil {
		if e, ok := o.deps.Registry.Lookup(app.Name); ok {
			app.BundleID = e.BundleID()
		}
	}
	if app.PID <= 0 && o.deps.PIDs != nil {
		if pid, ok := o.deps.PIDs.LookupPID(ctx, app); ok {
			app.PID = pid
		}
	}
	return app
}

func (o *Orchestrator) recordingName(ctx context.Context, app activity.App) string {
	if app.PID > 0 && o.deps.Windows != nil {
		if title, ok := o.deps.Windows.WindowTitle(ctx, app.PID); ok && strings.TrimSpace(title) != "" {
			return strings.TrimSpace(title)
		}
	}
	if t := strings.TrimSpace(app.Title); t != "" {
		return t
	}
	return app.Name
}

// startVideo never fails the session; any problem leaves it audio-only.
func (o *Orchestrator) startVideo(ctx context.Context, s *Session) {
	log := trace.Logger(ctx)
	switch {
	case !o.cfg.RecordVideo || o.deps.Video == nil || o.deps.Windows == nil:
		return
	case s.App.PID <= 0:
		log.Info("no process for app, recording audio only", "app", s.App.Name)
		return
	}

	candidates, err := o.deps.Windows.CandidateWindows(ctx, s.App.PID)
	if err != nil {
		log.Warn("window enumeration failed, recording audio only", "error", err)
		return
	}
	chooseCtx, done := o.choiceContext(ctx)
	sel := SelectWindow(chooseCtx, o.cfg.WindowMode, s.App, candidates, o.heuristic(s.App), o.deps.Chooser)
	done()
	log.Debug("window selection", "mode", o.cfg.WindowMode, "candidates", len(candidates), "outcome", sel.Outcome)
	if !sel.OK {
		log.Info("no window selected, recording audio only", "outcome", sel.Outcome)
		return
	}

	videoPath := VideoPathFor(s.AudioPath)
	if err := o.deps.Video.Start(ctx, sel.Window, videoPath); err != nil {
		log.Warn("video capture failed to start, recording audio only", "error", err)
		return
	}
	w := sel.Window
	s.Window = &w
	s.VideoPath = videoPath
}

func (o *Orchestrator) heuristic(app activity.App) Heuristic {
	if o.deps.Registry == nil {
		return nil
	}
	e, ok := o.deps.Registry.Lookup(app.Name)
	if !ok && app.BundleID != "" {
		e, ok = o.deps.Registry.Lookup(app.BundleID)
	}
	if !ok {
		return nil
	}
	return TitleHeuristic(e.IsMeetingWindow)
}

func (o *Orchestrator) stop(ctx context.Context) (id string, err error) {
	ctx, span := trace.StartSpan(ctx, "orchestrator.stop")
	defer func() { span.EndErr(err) }()
	log := trace.Logger(ctx)

	o.clearStopRequest()
	s := o.current.Swap(nil)
	if s == nil {
		return "", apperrors.New(apperrors.NoSession, "no recording active")
	}

	ar, stopErr := o.deps.Audio.Stop(ctx)
	if stopErr != nil {
		var ok bool
		if ar, ok = o.salvageAudio(s, ar); !ok {
			o.stopVideo(ctx, s)
			return "", apperrors.Wrapf(stopErr, apperrors.Internal, "stop audio for %q", s.Name)
		}
		log.Error("audio capture stopped with errors, keeping what was written", "audio", ar.Path, "error", stopErr)
	}

	meta := store.Metadata{
		Title:     s.Name,
		AppName:   s.App.Name,
		BundleID:  s.App.BundleID,
		AudioPath: ar.Path,
		StartedAt: s.StartedAt,
		Duration:  ar.Duration,
		SizeBytes: ar.SizeBytes,
	}
	if vr, ok := o.stopVideo(ctx, s); ok {
		meta.VideoPath = vr.Path
		meta.SizeBytes += vr.SizeBytes
		if o.deps.Muxer != nil {
			if mr, err := o.deps.Muxer.Combine(ctx, vr.Path, ar.Path); err != nil {
				log.Error("multiplexing failed, keeping separate audio and video", "video", vr.Path, "error", err)
			} else {
				meta.SizeBytes = ar.SizeBytes + mr.SizeBytes
			}
		}
	}

	id, err = o.deps.Recordings.SaveRecording(ctx, meta)
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.Internal, "save recording %q", s.Name)
	}
	ctx = trace.WithRecording(ctx, id)
	log = trace.Logger(ctx)
	log.Info("recording saved", "title", meta.Title, "duration", meta.Duration, "bytes", meta.SizeBytes)

	o.publish(events.RecordingSaved, events.Recording{
		RecordingID: id,
		Title:       meta.Title,
		AudioPath:   meta.AudioPath,
		VideoPath:   meta.VideoPath,
		DurationMS:  meta.Duration.Milliseconds(),
	})

	if o.cfg.AutoTranscribe && o.deps.Queue != nil {
		if _, err := o.deps.Queue.SubmitTranscription(ctx, id, meta.AudioPath); err != nil {
			log.Warn("failed to queue transcription", "error", err)
		}
	}
	return id, nil
}

// salvageAudio finds the audio left on disk by a failed stop.
func (o *Orchestrator) salvageAudio(s *Session, ar audio.Result) (audio.Result, bool) {
	if ar.Path == "" {
		ar.Path = s.AudioPath
	}
	info, err := os.Stat(ar.Path)
	if err != nil {
		return audio.Result{}, false
	}
	if ar.Duration <= 0 {
		ar.Duration = o.now().Sub(s.StartedAt)
	}
	ar.SizeBytes = info.Size()
	return ar, true
}

func (o *Orchestrator) stopVideo(ctx context.Context, s *Session) (video.Result, bool) {
	if s.VideoPath == "" {
		return video.Result{}, false
	}
	vr, err := o.deps.Video.Stop(ctx)
	if err != nil {
		trace.Logger(ctx).Warn("video capture lost", "error", err)
		return video.Result{}, false
	}
	return vr, true
}

// Finalize is the shutdown path: it stops both streams and saves metadata
// without muxing or queueing, giving up after timeout. Nothing is done when no
// session is active. The saved recording is picked up for transcription on the
// next start.
func (o *Orchestrator) Finalize(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultFinalizeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	o.interruptChoice()
	done := make(chan error, 1)
	go func() {
		var err error
		if derr := o.serial.Do(ctx, func() { err = o.finalize(ctx) }); derr != nil {
			o.clearStopRequest()
			err = derr
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		trace.Logger(ctx).Error("emergency finalization timed out", "timeout", timeout)
		return apperrors.Newf(apperrors.Timeout, "finalize did not finish within %s", timeout)
	}
}

func (o *Orchestrator) finalize(ctx context.Context) error {
	log := trace.Logger(ctx)
	o.clearStopRequest()
	s := o.current.Swap(nil)
	if s == nil {
		return nil
	}
	log.Warn("finalizing active recording", "name", s.Name)

	meta := store.Metadata{
		Title:     s.Name,
		AppName:   s.App.Name,
		BundleID:  s.App.BundleID,
		AudioPath: s.AudioPath,
		StartedAt: s.StartedAt,
		Duration:  o.now().Sub(s.StartedAt),
	}
	var errs []error
	ar, err := o.deps.Audio.Stop(ctx)
	if err != nil {
		errs = append(errs, err)
		ar, _ = o.salvageAudio(s, ar)
	}
	if ar.Path != "" {
		meta.AudioPath = ar.Path
		meta.Duration = ar.Duration
		meta.SizeBytes = ar.SizeBytes
	}
	if vr, ok := o.stopVideo(ctx, s); ok {
		meta.VideoPath = vr.Path
		meta.SizeBytes += vr.SizeBytes
	}

	if _, err := os.Stat(meta.AudioPath); err != nil {
		errs = append(errs, apperrors.Wrapf(err, apperrors.Internal, "audio for %q missing", s.Name))
		return errors.Join(errs...)
	}
	id, err := o.deps.Recordings.SaveRecording(ctx, meta)
	if err != nil {
		errs = append(errs, err)
		return errors.Join(errs...)
	}
	log.Info("partial recording saved", "recording_id", id, "duration", meta.Duration)
	return errors.Join(errs...)
}

func (o *Orchestrator) publish(t events.Type, payload any) {
	if o.deps.Events != nil {
		o.deps.Events.Publish(t, payload)
	}
}

// BaseName is the filename shared by a session's audio and video.
func BaseName(started time.Time, name string) string {
	slug := sanitize(name)
	if slug == "" {
		return started.Format(FileTimeLayout)
	}
	return started.Format(FileTimeLayout) + "_" + slug
}

// VideoPathFor derives the video file from its audio file.
func VideoPathFor(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + VideoExt
}

func sanitize(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if r := []rune(out); len(r) > MaxNameLength {
		out = strings.TrimSuffix(string(r[:MaxNameLength]), "-")
	}
	return out
}
