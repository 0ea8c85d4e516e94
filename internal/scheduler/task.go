// Package scheduler runs post-recording work on two independent FIFO lanes,
// one for transcription and one for AI generation, each processing a single
// task at a time.
package scheduler

import (
	"context"
	"fmt"
	"time"
)

// TaskType names a lane.
type TaskType string

const (
	Transcription TaskType = "transcription"
	Generation    TaskType = "generation"
)

// Task is one unit of queued work.
type Task struct {
	ID          string    `json:"id"`
	RecordingID string    `json:"recording_id"`
	Type        TaskType  `json:"type"`
	AudioPath   string    `json:"audio_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SubmitResult reports what a submission did.
type SubmitResult int

const (
	Queued SubmitResult = iota
	AlreadyQueued
	AlreadyInProgress
)

func (r SubmitResult) String() string {
	switch r {
	case Queued:
		return "queued"
	case AlreadyQueued:
		return "already_queued"
	case AlreadyInProgress:
		return "already_in_progress"
	default:
		return fmt.Sprintf("submit_result(%d)", int(r))
	}
}

func (r SubmitResult) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Duplicate reports whether the submission matched existing work.
func (r SubmitResult) Duplicate() bool { return r != Queued }

// Handler executes a task. Errors are logged; the lane moves on.
type Handler func(ctx context.Context, task Task) error

// Notifier observes task execution.
type Notifier interface {
	TaskStarted(task Task)
	TaskFinished(task Task, elapsed time.Duration, err error)
}

// LaneStatus is a snapshot of one lane.
type LaneStatus struct {
	Lane    TaskType `json:"lane"`
	Current *Task    `json:"current,omitempty"`
	Queued  []Task   `json:"queued"`
}

// Status is a snapshot of both lanes.
type Status struct {
	Transcription LaneStatus `json:"transcription"`
	Generation    LaneStatus `json:"generation"`
}

// Preferences select which work resumes after a restart.
type Preferences struct {
	AutoTranscribe  bool
	AutoSummary     bool
	AutoActionItems bool
}

// Generates reports whether any generation output is wanted.
func (p Preferences) Generates() bool { return p.AutoSummary || p.AutoActionItems }
