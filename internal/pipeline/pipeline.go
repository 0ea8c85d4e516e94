// Package pipeline holds the scheduler handlers that turn a saved recording
// into a transcript, a summary and action items.
package pipeline

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/engram/internal/errors"
	"github.com/GriffinCanCode/engram/internal/events"
	"github.com/GriffinCanCode/engram/internal/resilience"
	"github.com/GriffinCanCode/engram/internal/scheduler"
	"github.com/GriffinCanCode/engram/internal/store"
	"github.com/GriffinCanCode/engram/internal/trace"
)

// Inference is the model server.
type Inference interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	Summarize(ctx context.Context, transcript string) (string, error)
	ExtractActionItems(ctx context.Context, transcript string) ([]string, error)
}

// Store is the part of store.Store the handlers write to.
type Store interface {
	Recording(ctx context.Context, id string) (store.Recording, error)
	SaveTranscript(ctx context.Context, id, text string) error
	SaveSummary(ctx context.Context, id, summary string) error
	SaveActionItems(ctx context.Context, id string, items []string) error
}

// GenerationSubmitter queues follow-up generation work.
type GenerationSubmitter interface {
	SubmitGeneration(ctx context.Context, recordingID string) (scheduler.SubmitResult, error)
}

// Pipeline implements the transcription and generation handlers.
type Pipeline struct {
	store     Store
	inference Inference
	bus       events.Publisher
	next      GenerationSubmitter
	prefs     scheduler.Preferences

	transcribeRetry resilience.RetryConfig
	generateRetry   resilience.RetryConfig
}

// New creates a pipeline. next may be nil when nothing chains after transcription.
func New(st Store, inf Inference, bus events.Publisher, next GenerationSubmitter, prefs scheduler.Preferences) *Pipeline {
	return &Pipeline{
		store:           st,
		inference:       inf,
		bus:             bus,
		next:            next,
		prefs:           prefs,
		transcribeRetry: resilience.TranscriptionRetryConfig(),
		generateRetry:   resilience.GenerationRetryConfig(),
	}
}

// Install registers both handlers on s.
func (p *Pipeline) Install(s *scheduler.Scheduler) {
	s.SetTranscriptionHandler(p.Transcribe)
	s.SetGenerationHandler(p.Generate)
}

// Transcribe is the transcription lane handler.
func (p *Pipeline) Transcribe(ctx context.Context, task scheduler.Task) error {
	log := trace.Logger(ctx)
	audio := task.AudioPath
	if audio == "" {
		rec, err := p.store.Recording(ctx, task.RecordingID)
		if err != nil {
			return err
		}
		audio = rec.AudioPath
	}
	if audio == "" {
		return apperrors.New(apperrors.InvalidArgument, "recording has no audio")
	}

	var text string
	err := resilience.Retry(ctx, p.transcribeRetry, func() error {
		var err error
		text, err = p.inference.Transcribe(ctx, audio)
		return err
	})
	if err != nil {
		return err
	}
	if err := p.store.SaveTranscript(ctx, task.RecordingID, text); err != nil {
		return err
	}
	log.Info("transcript saved", "chars", len(text))
	p.contentUpdated(task.RecordingID, events.FieldTranscript)

	if p.next != nil && p.prefs.Generates() {
		if _, err := p.next.SubmitGeneration(ctx, task.RecordingID); err != nil {
			log.Warn("could not queue generation", "error", err)
		}
	}
	return nil
}

// Generate is the generation lane handler. It produces the outputs enabled
// in the preferences that the recording still lacks; an explicit request for
// a recording that lacks nothing regenerates them. With no output enabled
// both are produced. A silent recording gets empty outputs without calling
// the model.
func (p *Pipeline) Generate(ctx context.Context, task scheduler.Task) error {
	rec, err := p.store.Recording(ctx, task.RecordingID)
	if err != nil {
		return err
	}
	if rec.TranscribedAt == nil {
		return apperrors.New(apperrors.InvalidArgument, "recording has no transcript")
	}

	wantSummary, wantItems := p.prefs.AutoSummary, p.prefs.AutoActionItems
	if !wantSummary && !wantItems {
		wantSummary, wantItems = true, true
	}
	missingSummary := wantSummary && rec.SummarizedAt == nil
	missingItems := wantItems && rec.ActionItemsAt == nil
	if missingSummary || missingItems {
		wantSummary, wantItems = missingSummary, missingItems
	}

	if wantSummary {
		if err := p.summarize(ctx, rec); err != nil {
			return err
		}
	}
	if wantItems {
		if err := p.actionItems(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) summarize(ctx context.Context, rec store.Recording) error {
	var summary string
	if !silent(rec) {
		err := resilience.Retry(ctx, p.generateRetry, func() error {
			var err error
			summary, err = p.inference.Summarize(ctx, rec.Transcript)
			return err
		})
		if err != nil {
			return err
		}
	}
	if err := p.store.SaveSummary(ctx, rec.ID, summary); err != nil {
		return err
	}
	p.contentUpdated(rec.ID, events.FieldSummary)
	return nil
}

func (p *Pipeline) actionItems(ctx context.Context, rec store.Recording) error {
	var items []string
	if !silent(rec) {
		err := resilience.Retry(ctx, p.generateRetry, func() error {
			var err error
			items, err = p.inference.ExtractActionItems(ctx, rec.Transcript)
			return err
		})
		if err != nil {
			return err
		}
	}
	if err := p.store.SaveActionItems(ctx, rec.ID, items); err != nil {
		return err
	}
	trace.Logger(ctx).Info("action items saved", "count", len(items))
	p.contentUpdated(rec.ID, events.FieldActionItems)
	return nil
}

func silent(rec store.Recording) bool { return strings.TrimSpace(rec.Transcript) == "" }

func (p *Pipeline) contentUpdated(id, field string) {
	if p.bus != nil {
		p.bus.Publish(events.ContentUpdated, events.Content{RecordingID: id, Field: field})
	}
}

// Notifier publishes scheduler task lifecycle events.
type Notifier struct {
	Bus events.Publisher
}

func (n Notifier) TaskStarted(task scheduler.Task) {
	n.Bus.Publish(events.ProcessingStarted, events.Processing{RecordingID: task.RecordingID, Task: string(task.Type)})
}

func (n Notifier) TaskFinished(task scheduler.Task, elapsed time.Duration, err error) {
	ok := err == nil
	ev := events.Processing{
		RecordingID: task.RecordingID,
		Task:        string(task.Type),
		ElapsedMS:   elapsed.Milliseconds(),
		Success:     &ok,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	n.Bus.Publish(events.ProcessingCompleted, ev)
}
