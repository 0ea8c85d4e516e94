package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFileStoreLifecycle(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := OpenFile(dir)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	id, err := s.SaveRecording(ctx, Metadata{Title: "Standup", AppName: "zoom", AudioPath: "/tmp/a.wav", Duration: time.Minute})
	if err != nil {
		t.Fatalf("SaveRecording: %v", err)
	}

	pending, _ := s.RecordingsNeedingTranscription(ctx)
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("needing transcription = %+v", pending)
	}
	gen, _ := s.RecordingsNeedingGeneration(ctx, GenerationFilter{Summary: true, ActionItems: true})
	if len(gen) != 0 {
		t.Errorf("untranscribed recording should not need generation, got %d", len(gen))
	}

	if err := s.SaveTranscript(ctx, id, "hello"); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	gen, _ = s.RecordingsNeedingGeneration(ctx, GenerationFilter{Summary: true})
	if len(gen) != 1 {
		t.Fatalf("needing generation = %d, want 1", len(gen))
	}
	if err := s.SaveSummary(ctx, id, "sum"); err != nil {
		t.Fatal(err)
	}
	gen, _ = s.RecordingsNeedingGeneration(ctx, GenerationFilter{Summary: true})
	if len(gen) != 0 {
		t.Errorf("summary saved, still needing generation")
	}
	gen, _ = s.RecordingsNeedingGeneration(ctx, GenerationFilter{ActionItems: true})
	if len(gen) != 1 {
		t.Errorf("action items missing, want 1 got %d", len(gen))
	}
	if err := s.SaveActionItems(ctx, id, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}

	// reopen from disk
	s2, err := OpenFile(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	r, err := s2.Recording(ctx, id)
	if err != nil {
		t.Fatalf("Recording: %v", err)
	}
	if r.Title != "Standup" || r.Transcript != "hello" || r.Summary != "sum" || len(r.ActionItems) != 2 {
		t.Errorf("reloaded = %+v", r)
	}
	if r.Duration != time.Minute {
		t.Errorf("Duration = %v", r.Duration)
	}
	if r.TranscribedAt == nil || r.SummarizedAt == nil || r.ActionItemsAt == nil {
		t.Error("timestamps not persisted")
	}
}

func TestFileStoreUnknownID(t *testing.T) {
	s, err := OpenFile(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := s.Recording(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Recording err = %v", err)
	}
	if err := s.SaveTranscript(ctx, "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveTranscript err = %v", err)
	}
}

func TestFileStoreOrdersOldestFirst(t *testing.T) {
	s, err := OpenFile(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.SaveRecording(ctx, Metadata{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	got, _ := s.RecordingsNeedingTranscription(ctx)
	for i := range ids {
		if got[i].ID != ids[i] {
			t.Fatalf("order[%d] = %s, want %s", i, got[i].ID, ids[i])
		}
	}
}

func TestRecordingNeeds(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		rec    Recording
		filter GenerationFilter
		trans  bool
		gen    bool
	}{
		{"fresh", Recording{}, GenerationFilter{Summary: true}, true, false},
		{"transcribed", Recording{TranscribedAt: &now}, GenerationFilter{Summary: true}, false, true},
		{"filter off", Recording{TranscribedAt: &now}, GenerationFilter{}, false, false},
		{"done", Recording{TranscribedAt: &now, SummarizedAt: &now, ActionItemsAt: &now}, GenerationFilter{Summary: true, ActionItems: true}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.NeedsTranscription(); got != tt.trans {
				t.Errorf("NeedsTranscription = %v", got)
			}
			if got := tt.rec.NeedsGeneration(tt.filter); got != tt.gen {
				t.Errorf("NeedsGeneration = %v", got)
			}
		})
	}
}
