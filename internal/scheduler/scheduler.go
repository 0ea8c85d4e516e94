package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/GriffinCanCode/engram/internal/store"
)

// WorkSource lists recordings with unfinished processing.
type WorkSource interface {
	RecordingsNeedingTranscription(ctx context.Context) ([]store.Recording, error)
	RecordingsNeedingGeneration(ctx context.Context, filter store.GenerationFilter) ([]store.Recording, error)
}

// ResumeReport counts what ResumeIncompleteWork queued.
type ResumeReport struct {
	Transcriptions int `json:"transcriptions"`
	Generations    int `json:"generations"`
}

// Scheduler fronts the transcription and generation lanes. The lanes share
// nothing: a slow transcription never delays generation and vice versa.
type Scheduler struct {
	transcription *lane
	generation    *lane
	work          WorkSource
	wg            sync.WaitGroup
}

// New creates a scheduler. notifier may be nil.
func New(work WorkSource, notifier Notifier) *Scheduler {
	return &Scheduler{
		transcription: newLane(Transcription, notifier),
		generation:    newLane(Generation, notifier),
		work:          work,
	}
}

// Start launches both lanes; they stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, l := range []*lane{s.transcription, s.generation} {
		s.wg.Add(1)
		go func(l *lane) {
			defer s.wg.Done()
			l.run(ctx)
		}(l)
	}
	slog.Info("scheduler started")
}

// Wait blocks until both lanes and their running handlers have returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

// SetTranscriptionHandler installs the transcription handler.
func (s *Scheduler) SetTranscriptionHandler(h Handler) { s.transcription.handler.Set(h) }

// SetGenerationHandler installs the generation handler.
func (s *Scheduler) SetGenerationHandler(h Handler) { s.generation.handler.Set(h) }

// SubmitTranscription queues transcription of a saved recording.
func (s *Scheduler) SubmitTranscription(ctx context.Context, recordingID, audioPath string) (SubmitResult, error) {
	res, err := s.transcription.submit(ctx, recordingID, audioPath)
	s.logSubmit(Transcription, recordingID, res, err)
	return res, err
}

// SubmitGeneration queues summary and action-item generation.
func (s *Scheduler) SubmitGeneration(ctx context.Context, recordingID string) (SubmitResult, error) {
	res, err := s.generation.submit(ctx, recordingID, "")
	s.logSubmit(Generation, recordingID, res, err)
	return res, err
}

func (s *Scheduler) logSubmit(kind TaskType, recordingID string, res SubmitResult, err error) {
	if err != nil {
		slog.Warn("submit failed", "lane", kind, "recording_id", recordingID, "error", err)
		return
	}
	slog.Debug("task submitted", "lane", kind, "recording_id", recordingID, "result", res)
}

// Status snapshots both lanes.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	tr, err := s.transcription.status(ctx)
	if err != nil {
		return Status{}, err
	}
	gen, err := s.generation.status(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Transcription: tr, Generation: gen}, nil
}

// Cancel removes queued (not running) tasks for recordingID from both lanes.
func (s *Scheduler) Cancel(ctx context.Context, recordingID string) (int, error) {
	a, errA := s.transcription.cancel(ctx, recordingID)
	b, errB := s.generation.cancel(ctx, recordingID)
	return a + b, errors.Join(errA, errB)
}

// ResumeIncompleteWork re-queues recordings whose processing never finished,
// honouring prefs. Install handlers first: tasks reaching a lane without one
// are dropped.
func (s *Scheduler) ResumeIncompleteWork(ctx context.Context, prefs Preferences) (ResumeReport, error) {
	var report ResumeReport
	if s.work == nil {
		return report, nil
	}
	if prefs.AutoTranscribe && s.transcription.handler.Get() == nil {
		slog.Warn("resuming transcriptions before a handler is installed")
	}

	var errs []error
	if prefs.AutoTranscribe {
		recs, err := s.work.RecordingsNeedingTranscription(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		for _, r := range recs {
			if res, err := s.SubmitTranscription(ctx, r.ID, r.AudioPath); err == nil && res == Queued {
				report.Transcriptions++
			}
		}
	}

	if prefs.Generates() {
		filter := store.GenerationFilter{Summary: prefs.AutoSummary, ActionItems: prefs.AutoActionItems}
		recs, err := s.work.RecordingsNeedingGeneration(ctx, filter)
		if err != nil {
			errs = append(errs, err)
		}
		for _, r := range recs {
			if res, err := s.SubmitGeneration(ctx, r.ID); err == nil && res == Queued {
				report.Generations++
			}
		}
	}

	slog.Info("resumed incomplete work", "transcriptions", report.Transcriptions, "generations", report.Generations)
	return report, errors.Join(errs...)
}
