// Package app wires the recorder's components together and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GriffinCanCode/engram/internal/activity"
	"github.com/GriffinCanCode/engram/internal/apps"
	"github.com/GriffinCanCode/engram/internal/capture/audio"
	"github.com/GriffinCanCode/engram/internal/capture/video"
	"github.com/GriffinCanCode/engram/internal/config"
	"github.com/GriffinCanCode/engram/internal/events"
	"github.com/GriffinCanCode/engram/internal/grpcclient"
	"github.com/GriffinCanCode/engram/internal/media"
	"github.com/GriffinCanCode/engram/internal/meeting"
	"github.com/GriffinCanCode/engram/internal/orchestrator"
	"github.com/GriffinCanCode/engram/internal/pipeline"
	"github.com/GriffinCanCode/engram/internal/scheduler"
	"github.com/GriffinCanCode/engram/internal/screen"
	"github.com/GriffinCanCode/engram/internal/server"
	"github.com/GriffinCanCode/engram/internal/store"
	"github.com/GriffinCanCode/engram/internal/store/postgres"
)

// App owns every long-lived component.
type App struct {
	cfg *config.Config

	Bus        *events.Bus
	Store      store.Store
	Inference  *grpcclient.Client
	Scheduler  *scheduler.Scheduler
	Pipeline   *pipeline.Pipeline
	Controller *meeting.Controller
	Recorder   *orchestrator.Orchestrator
	Monitor    *activity.Monitor
	Power      *activity.PowerWatcher
	Windows    *screen.Enumerator
	Media      *media.FFmpeg
	Server     *server.Server

	redis     *redis.Client
	forwarder *events.RedisForwarder
}

// New builds the component graph. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg, Bus: events.NewBus(events.DefaultBuffer)}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st

	inference, err := grpcclient.New(cfg.InferenceAddr)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("inference client: %w", err)
	}
	a.Inference = inference

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.forwarder = events.NewRedisForwarder(a.redis, cfg.EventsChannel)
	}

	prefs := Preferences(cfg)
	a.Scheduler = scheduler.New(st, pipeline.Notifier{Bus: a.Bus})
	a.Pipeline = pipeline.New(st, inference, a.Bus, a.Scheduler, prefs)

	registry := apps.Default()
	monitored, unknown := registry.Subset(cfg.MonitoredApps)
	if len(unknown) > 0 {
		slog.Warn("ignoring unknown monitored apps", "apps", unknown)
	}

	a.Windows = screen.New()
	a.Media = media.New(cfg.FFmpegPath, cfg.FFprobePath)
	a.Monitor = activity.NewMonitor(activity.NewProber(), a.Windows, monitored, cfg.PollInterval())
	a.Power = activity.NewPowerWatcher(activity.DefaultPowerCheckInterval, activity.DefaultSleepTolerance)

	chooser := server.NewChooser(a.Bus, cfg.ChooserTimeout())
	a.Recorder = orchestrator.New(orchestrator.Config{
		Dir:            cfg.RecordingsDir,
		RecordVideo:    cfg.RecordVideo,
		WindowMode:     cfg.WindowSelectionMode,
		AutoTranscribe: cfg.AutoTranscribe,
	}, orchestrator.Deps{
		Audio: audio.NewRecorder(audio.Config{
			SampleRate:         cfg.SampleRate,
			CaptureSystemAudio: cfg.CaptureSystemAudio,
			ExcludedDevices:    cfg.ExcludedAudioDevices,
		}, a.Media),
		Video:      video.NewRecorder(a.Windows, a.Media, frameInterval(cfg.VideoFrameRate)),
		Windows:    a.Windows,
		PIDs:       a.Monitor,
		Registry:   registry,
		Chooser:    chooser,
		Muxer:      a.Media,
		Recordings: st,
		Queue:      a.Scheduler,
		Events:     a.Bus,
	})

	a.Controller = meeting.New(meeting.Config{
		Apps:          cfg.MonitoredApps,
		CheckOnWake:   cfg.CheckOnWake,
		ConfirmWindow: cfg.ConfirmWindow(),
		GraceWindow:   cfg.GraceWindow(),
	}, meeting.DefaultSignal(monitored), meeting.WithSnapshotter(a.Monitor))
	a.Controller.SetDelegate(delegate{Orchestrator: a.Recorder, bus: a.Bus})

	a.Server = server.New(server.Deps{
		Controller: a.Controller,
		Recorder:   a.Recorder,
		Queue:      a.Scheduler,
		Recordings: st,
		Feed:       a.Bus,
		Chooser:    chooser,
	})
	return a, nil
}

// Run starts everything and blocks until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Media.Check(); err != nil {
		slog.Warn("ffmpeg unavailable, muxing and video will fail", "error", err)
	}

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// Processing outlives intake so in-flight work can see the finalized recording.
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	if a.forwarder != nil {
		goRun(func() { a.forwarder.Run(workCtx, a.Bus) })
	}

	a.Scheduler.Start(workCtx)
	a.Pipeline.Install(a.Scheduler)
	if report, err := a.Scheduler.ResumeIncompleteWork(workCtx, Preferences(a.cfg)); err != nil {
		slog.Error("resume incomplete work failed", "error", err)
	} else if report.Transcriptions+report.Generations > 0 {
		slog.Info("resumed incomplete work", "transcriptions", report.Transcriptions, "generations", report.Generations)
	}

	goRun(func() {
		if err := a.Controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("meeting controller stopped", "error", err)
		}
	})
	goRun(func() { a.Monitor.Run(ctx, a.Controller.HandleSnapshot) })
	goRun(func() { a.Power.Run(ctx, a.Controller.HandlePowerEvent) })

	httpServer := &http.Server{
		Addr:         a.cfg.HTTPAddr,
		Handler:      a.Server.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	goRun(func() { a.Server.Broadcast(workCtx) })
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("engram starting", "http", a.cfg.HTTPAddr, "inference", a.cfg.InferenceAddr, "recordings", a.cfg.RecordingsDir)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	slog.Info("shutting down...")
	if err := a.Recorder.Finalize(a.cfg.ShutdownTimeout()); err != nil {
		slog.Error("emergency finalization incomplete", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	stopWork()
	a.Scheduler.Wait()
	wg.Wait()
	slog.Info("shutdown complete")
	return runErr
}

// Close releases resources. Call after Run returns.
func (a *App) Close() error {
	a.Recorder.Close()
	a.Windows.Close()
	a.Bus.Close()
	errs := []error{a.Store.Close(), a.Inference.Close()}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

// Preferences maps configuration onto scheduler preferences.
func Preferences(cfg *config.Config) scheduler.Preferences {
	return scheduler.Preferences{
		AutoTranscribe:  cfg.AutoTranscribe,
		AutoSummary:     cfg.AutoSummary,
		AutoActionItems: cfg.AutoActionItems,
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		st, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	}
	st, err := store.OpenFile(cfg.RecordingsDir)
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}
	return st, nil
}

func frameInterval(hz float64) time.Duration {
	if hz <= 0 {
		return video.DefaultFrameInterval
	}
	return time.Duration(float64(time.Second) / hz)
}
