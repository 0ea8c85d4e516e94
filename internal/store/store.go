// Package store persists recording metadata and the text produced from it.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a recording id is unknown.
var ErrNotFound = errors.New("recording not found")

// Metadata describes a finished capture session.
type Metadata struct {
	Title     string
	AppName   string
	BundleID  string
	AudioPath string
	VideoPath string
	StartedAt time.Time
	Duration  time.Duration
	SizeBytes int64
}

// Recording is a persisted session plus its processing results. A nil
// timestamp means that output has not been produced yet.
type Recording struct {
	ID string `json:"id"`
	Metadata
	Transcript    string     `json:"transcript,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	ActionItems   []string   `json:"action_items,omitempty"`
	TranscribedAt *time.Time `json:"transcribed_at,omitempty"`
	SummarizedAt  *time.Time `json:"summarized_at,omitempty"`
	ActionItemsAt *time.Time `json:"action_items_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// GenerationFilter selects which generated outputs count as missing.
type GenerationFilter struct {
	Summary     bool
	ActionItems bool
}

// NeedsTranscription reports whether no transcript has been saved.
func (r Recording) NeedsTranscription() bool { return r.TranscribedAt == nil }

// NeedsGeneration reports whether r has a transcript but lacks an output selected by f.
func (r Recording) NeedsGeneration(f GenerationFilter) bool {
	if r.TranscribedAt == nil {
		return false
	}
	return (f.Summary && r.SummarizedAt == nil) || (f.ActionItems && r.ActionItemsAt == nil)
}

// Store is implemented by FileStore and postgres.Store.
type Store interface {
	SaveRecording(ctx context.Context, m Metadata) (string, error)
	Recording(ctx context.Context, id string) (Recording, error)
	SaveTranscript(ctx context.Context, id, text string) error
	SaveSummary(ctx context.Context, id, summary string) error
	SaveActionItems(ctx context.Context, id string, items []string) error
	RecordingsNeedingTranscription(ctx context.Context) ([]Recording, error)
	RecordingsNeedingGeneration(ctx context.Context, f GenerationFilter) ([]Recording, error)
	Close() error
}
