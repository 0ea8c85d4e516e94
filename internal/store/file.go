package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const indexFile = "recordings.json"

// FileStore keeps all recordings in one JSON index inside the recordings
// directory. Every mutation rewrites the index via a temp file and rename, so
// a crash leaves either the old or the new index.
type FileStore struct {
	path string
	now  func() time.Time

	mu         sync.Mutex
	recordings map[string]*Recording
}

// OpenFile loads (or creates) the index in dir.
func OpenFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &FileStore{
		path:       filepath.Join(dir, indexFile),
		now:        time.Now,
		recordings: make(map[string]*Recording),
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var recs []*Recording
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", s.path, err)
	}
	for _, r := range recs {
		s.recordings[r.ID] = r
	}
	return s, nil
}

func (s *FileStore) SaveRecording(_ context.Context, m Metadata) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings[id.String()] = &Recording{ID: id.String(), Metadata: m, CreatedAt: s.now().UTC()}
	if err := s.flushLocked(); err != nil {
		delete(s.recordings, id.String())
		return "", err
	}
	return id.String(), nil
}

func (s *FileStore) Recording(_ context.Context, id string) (Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[id]
	if !ok {
		return Recording{}, ErrNotFound
	}
	out := *r
	out.ActionItems = slices.Clone(r.ActionItems)
	return out, nil
}

func (s *FileStore) SaveTranscript(_ context.Context, id, text string) error {
	return s.update(id, func(r *Recording, now time.Time) {
		r.Transcript = text
		r.TranscribedAt = &now
	})
}

func (s *FileStore) SaveSummary(_ context.Context, id, summary string) error {
	return s.update(id, func(r *Recording, now time.Time) {
		r.Summary = summary
		r.SummarizedAt = &now
	})
}

func (s *FileStore) SaveActionItems(_ context.Context, id string, items []string) error {
	return s.update(id, func(r *Recording, now time.Time) {
		r.ActionItems = slices.Clone(items)
		r.ActionItemsAt = &now
	})
}

func (s *FileStore) RecordingsNeedingTranscription(context.Context) ([]Recording, error) {
	return s.filter(Recording.NeedsTranscription), nil
}

func (s *FileStore) RecordingsNeedingGeneration(_ context.Context, f GenerationFilter) ([]Recording, error) {
	return s.filter(func(r Recording) bool { return r.NeedsGeneration(f) }), nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) update(id string, fn func(*Recording, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[id]
	if !ok {
		return ErrNotFound
	}
	prev := *r
	fn(r, s.now().UTC())
	if err := s.flushLocked(); err != nil {
		*r = prev
		return err
	}
	return nil
}

// filter returns matching recordings oldest first.
func (s *FileStore) filter(keep func(Recording) bool) []Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Recording
	for _, r := range s.recordings {
		if keep(*r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) || out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID })
	return out
}

func (s *FileStore) flushLocked() error {
	recs := make([]*Recording, 0, len(s.recordings))
	for _, r := range s.recordings {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), indexFile+".*")
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
