package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/engram/internal/store"
)

// gatedHandler reports each task it starts and blocks until released.
type gatedHandler struct {
	started chan Task
	release chan struct{}
	err     error
}

func newGatedHandler() *gatedHandler {
	return &gatedHandler{started: make(chan Task, 16), release: make(chan struct{}, 16)}
}

func (g *gatedHandler) handle(ctx context.Context, task Task) error {
	g.started <- task
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.err
}

func (g *gatedHandler) expectStart(t *testing.T, recordingID string) {
	t.Helper()
	select {
	case task := <-g.started:
		if task.RecordingID != recordingID {
			t.Fatalf("started %s, want %s", task.RecordingID, recordingID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s to start", recordingID)
	}
}

func (g *gatedHandler) expectIdle(t *testing.T) {
	t.Helper()
	select {
	case task := <-g.started:
		t.Fatalf("unexpected start of %s", task.RecordingID)
	case <-time.After(50 * time.Millisecond):
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	started  []string
	finished chan finished
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{finished: make(chan finished, 16)}
}

func (n *recordingNotifier) TaskStarted(task Task) {
	n.mu.Lock()
	n.started = append(n.started, task.RecordingID)
	n.mu.Unlock()
}

func (n *recordingNotifier) TaskFinished(task Task, elapsed time.Duration, err error) {
	n.finished <- finished{task: task, elapsed: elapsed, err: err}
}

func (n *recordingNotifier) waitFinished(t *testing.T) finished {
	t.Helper()
	select {
	case f := <-n.finished:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task to finish")
		return finished{}
	}
}

func startScheduler(t *testing.T, work WorkSource, n Notifier) *Scheduler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := New(work, n)
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
	return s
}

func TestSubmitDedupe(t *testing.T) {
	h := newGatedHandler()
	s := startScheduler(t, nil, nil)
	s.SetTranscriptionHandler(h.handle)
	ctx := context.Background()

	tests := []struct {
		id   string
		want SubmitResult
	}{
		{"a", Queued},
		{"a", AlreadyInProgress},
		{"b", Queued},
		{"b", AlreadyQueued},
	}
	for i, tt := range tests {
		got, err := s.SubmitTranscription(ctx, tt.id, "/tmp/"+tt.id+".wav")
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if got != tt.want {
			t.Errorf("submit %d (%s) = %v, want %v", i, tt.id, got, tt.want)
		}
		if i == 0 {
			h.expectStart(t, "a")
		}
	}

	st, err := s.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Transcription.Current == nil || st.Transcription.Current.RecordingID != "a" {
		t.Errorf("current = %+v", st.Transcription.Current)
	}
	if len(st.Transcription.Queued) != 1 || st.Transcription.Queued[0].AudioPath != "/tmp/b.wav" {
		t.Errorf("queued = %+v", st.Transcription.Queued)
	}
	if st.Generation.Current != nil || len(st.Generation.Queued) != 0 {
		t.Errorf("generation lane should be empty: %+v", st.Generation)
	}
}

func TestLaneRunsFIFOOneAtATime(t *testing.T) {
	h := newGatedHandler()
	s := startScheduler(t, nil, nil)
	s.SetGenerationHandler(h.handle)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		if _, err := s.SubmitGeneration(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	for _, id := range []string{"r1", "r2", "r3"} {
		h.expectStart(t, id)
		h.expectIdle(t)
		h.release <- struct{}{}
	}
}

func TestLanesAreIndependent(t *testing.T) {
	tr := newGatedHandler()
	gen := newGatedHandler()
	s := startScheduler(t, nil, nil)
	s.SetTranscriptionHandler(tr.handle)
	s.SetGenerationHandler(gen.handle)
	ctx := context.Background()

	if _, err := s.SubmitTranscription(ctx, "slow", ""); err != nil {
		t.Fatal(err)
	}
	tr.expectStart(t, "slow")

	// the same recording may sit in both lanes at once
	for _, id := range []string{"slow", "other"} {
		if res, err := s.SubmitGeneration(ctx, id); err != nil || res != Queued {
			t.Fatalf("SubmitGeneration(%s) = %v, %v", id, res, err)
		}
	}
	gen.expectStart(t, "slow")
	gen.release <- struct{}{}
	gen.expectStart(t, "other")
	gen.release <- struct{}{}
	tr.release <- struct{}{}
}

func TestCancelRemovesQueuedOnly(t *testing.T) {
	h := newGatedHandler()
	s := startScheduler(t, nil, nil)
	s.SetTranscriptionHandler(h.handle)
	s.SetGenerationHandler(h.handle)
	ctx := context.Background()

	s.SubmitTranscription(ctx, "running", "")
	h.expectStart(t, "running")
	s.SubmitTranscription(ctx, "x", "")
	s.SubmitTranscription(ctx, "y", "")

	n, err := s.Cancel(ctx, "running")
	if err != nil || n != 0 {
		t.Errorf("Cancel(running) = %d, %v; want 0", n, err)
	}
	n, err = s.Cancel(ctx, "x")
	if err != nil || n != 1 {
		t.Errorf("Cancel(x) = %d, %v; want 1", n, err)
	}

	h.release <- struct{}{}
	h.expectStart(t, "y")
	h.release <- struct{}{}
}

func TestMissingHandlerDropsTask(t *testing.T) {
	n := newRecordingNotifier()
	s := startScheduler(t, nil, n)
	ctx := context.Background()

	res, err := s.SubmitTranscription(ctx, "orphan", "")
	if err != nil || res != Queued {
		t.Fatalf("submit = %v, %v", res, err)
	}
	st, err := s.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Transcription.Current != nil || len(st.Transcription.Queued) != 0 {
		t.Errorf("task should be dropped, status = %+v", st.Transcription)
	}

	// installing a handler later does not resurrect it
	h := newGatedHandler()
	s.SetTranscriptionHandler(h.handle)
	h.expectIdle(t)
}

func TestFailuresDoNotHaltLane(t *testing.T) {
	n := newRecordingNotifier()
	s := startScheduler(t, nil, n)
	var calls sync.Map
	s.SetTranscriptionHandler(func(ctx context.Context, task Task) error {
		calls.Store(task.RecordingID, true)
		switch task.RecordingID {
		case "boom":
			panic("decoder exploded")
		case "fail":
			return errors.New("inference unavailable")
		}
		return nil
	})
	ctx := context.Background()

	for _, id := range []string{"boom", "fail", "ok"} {
		s.SubmitTranscription(ctx, id, "")
	}
	results := map[string]error{}
	for i := 0; i < 3; i++ {
		f := n.waitFinished(t)
		results[f.task.RecordingID] = f.err
	}
	if results["boom"] == nil || results["fail"] == nil {
		t.Errorf("failures not reported: %v", results)
	}
	if results["ok"] != nil {
		t.Errorf("ok task err = %v", results["ok"])
	}
	if _, ok := calls.Load("ok"); !ok {
		t.Error("lane stopped after failure")
	}
}

type fakeWork struct {
	transcription []store.Recording
	generation    []store.Recording
	filter        store.GenerationFilter
	err           error
}

func (f *fakeWork) RecordingsNeedingTranscription(context.Context) ([]store.Recording, error) {
	return f.transcription, f.err
}

func (f *fakeWork) RecordingsNeedingGeneration(_ context.Context, filter store.GenerationFilter) ([]store.Recording, error) {
	f.filter = filter
	return f.generation, nil
}

func rec(id, audio string) store.Recording {
	r := store.Recording{ID: id}
	r.AudioPath = audio
	return r
}

func TestResumeIncompleteWork(t *testing.T) {
	tests := []struct {
		name       string
		prefs      Preferences
		wantTrans  int
		wantGen    int
		wantFilter store.GenerationFilter
	}{
		{"all", Preferences{AutoTranscribe: true, AutoSummary: true, AutoActionItems: true}, 2, 1, store.GenerationFilter{Summary: true, ActionItems: true}},
		{"transcribe only", Preferences{AutoTranscribe: true}, 2, 0, store.GenerationFilter{}},
		{"summary only", Preferences{AutoSummary: true}, 0, 1, store.GenerationFilter{Summary: true}},
		{"nothing", Preferences{}, 0, 0, store.GenerationFilter{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			work := &fakeWork{
				transcription: []store.Recording{rec("t1", "/a.wav"), rec("t2", "/b.wav"), rec("t1", "/a.wav")},
				generation:    []store.Recording{rec("g1", "")},
			}
			h := newGatedHandler()
			s := startScheduler(t, work, nil)
			s.SetTranscriptionHandler(h.handle)
			s.SetGenerationHandler(h.handle)

			report, err := s.ResumeIncompleteWork(context.Background(), tt.prefs)
			if err != nil {
				t.Fatal(err)
			}
			if report.Transcriptions != tt.wantTrans || report.Generations != tt.wantGen {
				t.Errorf("report = %+v, want %d/%d", report, tt.wantTrans, tt.wantGen)
			}
			if work.filter != tt.wantFilter {
				t.Errorf("filter = %+v, want %+v", work.filter, tt.wantFilter)
			}
			for i := 0; i < tt.wantTrans+tt.wantGen; i++ {
				<-h.started
				h.release <- struct{}{}
			}
		})
	}
}

func TestResumeReportsSourceErrors(t *testing.T) {
	work := &fakeWork{err: errors.New("index unreadable")}
	s := startScheduler(t, work, nil)
	_, err := s.ResumeIncompleteWork(context.Background(), Preferences{AutoTranscribe: true})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(nil, nil)
	s.Start(ctx)
	cancel()
	s.Wait()

	if _, err := s.SubmitGeneration(context.Background(), "late"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}

func TestSubmitResultString(t *testing.T) {
	if Queued.Duplicate() || !AlreadyQueued.Duplicate() || !AlreadyInProgress.Duplicate() {
		t.Error("Duplicate mismatch")
	}
	b, _ := AlreadyInProgress.MarshalText()
	if string(b) != "already_in_progress" {
		t.Errorf("MarshalText = %s", b)
	}
}
