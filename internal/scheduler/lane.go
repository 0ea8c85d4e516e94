package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/engram/internal/errors"
	"github.com/GriffinCanCode/engram/internal/syncx"
	"github.com/GriffinCanCode/engram/internal/trace"
)

// ErrNotRunning is returned for operations on a lane that has stopped.
var ErrNotRunning = errors.New("scheduler lane not running")

type finished struct {
	task    Task
	elapsed time.Duration
	err     error
}

// lane owns one queue. Queue state is touched only by the run goroutine;
// callers reach it through do.
type lane struct {
	kind     TaskType
	handler  *syncx.RWGuard[Handler]
	notifier Notifier
	now      func() time.Time

	ops      chan func()
	finished chan finished
	stopped  chan struct{}
	workers  sync.WaitGroup

	// run goroutine only
	ctx     context.Context
	queue   []Task
	current *Task
}

func newLane(kind TaskType, notifier Notifier) *lane {
	return &lane{
		kind:     kind,
		handler:  syncx.NewGuard[Handler](nil),
		notifier: notifier,
		now:      time.Now,
		ops:      make(chan func()),
		finished: make(chan finished),
		stopped:  make(chan struct{}),
	}
}

func (l *lane) run(ctx context.Context) {
	l.ctx = ctx
	defer func() {
		close(l.stopped)
		l.workers.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			if n := len(l.queue); n > 0 {
				slog.Info("scheduler lane stopping with queued work", "lane", l.kind, "queued", n)
			}
			return
		case op := <-l.ops:
			op()
		case f := <-l.finished:
			l.complete(f)
		}
	}
}

// do runs fn on the lane goroutine and waits for it.
func (l *lane) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case l.ops <- op:
	case <-l.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (l *lane) submit(ctx context.Context, recordingID, audioPath string) (SubmitResult, error) {
	var res SubmitResult
	err := l.do(ctx, func() {
		if l.current != nil && l.current.RecordingID == recordingID {
			res = AlreadyInProgress
			return
		}
		if slices.ContainsFunc(l.queue, func(t Task) bool { return t.RecordingID == recordingID }) {
			res = AlreadyQueued
			return
		}
		l.queue = append(l.queue, Task{
			ID:          uuid.NewString(),
			RecordingID: recordingID,
			Type:        l.kind,
			AudioPath:   audioPath,
			CreatedAt:   l.now(),
		})
		res = Queued
		l.dispatch()
	})
	return res, err
}

func (l *lane) status(ctx context.Context) (LaneStatus, error) {
	var st LaneStatus
	err := l.do(ctx, func() {
		st = LaneStatus{Lane: l.kind, Queued: slices.Clone(l.queue)}
		if st.Queued == nil {
			st.Queued = []Task{}
		}
		if l.current != nil {
			cur := *l.current
			st.Current = &cur
		}
	})
	return st, err
}

// cancel drops queued tasks for recordingID. A running task is left alone.
func (l *lane) cancel(ctx context.Context, recordingID string) (int, error) {
	var removed int
	err := l.do(ctx, func() {
		before := len(l.queue)
		l.queue = slices.DeleteFunc(l.queue, func(t Task) bool { return t.RecordingID == recordingID })
		removed = before - len(l.queue)
	})
	return removed, err
}

// dispatch starts the next task if the lane is idle. Tasks without a handler are dropped.
func (l *lane) dispatch() {
	for l.current == nil && len(l.queue) > 0 {
		task := l.queue[0]
		l.queue = l.queue[1:]

		h := l.handler.Get()
		if h == nil {
			slog.Warn("no handler installed, dropping task", "lane", l.kind, "recording_id", task.RecordingID,
				"error", apperrors.Newf(apperrors.HandlerMissing, "%s handler missing", l.kind))
			continue
		}

		l.current = &task
		if l.notifier != nil {
			l.notifier.TaskStarted(task)
		}
		l.workers.Add(1)
		go l.execute(h, task)
	}
}

func (l *lane) execute(h Handler, task Task) {
	defer l.workers.Done()
	ctx := trace.WithLane(trace.WithRecording(l.ctx, task.RecordingID), string(l.kind))
	ctx, span := trace.StartSpan(ctx, string(l.kind)+"_task")
	span.SetAttr("task_id", task.ID)

	start := l.now()
	err := safeRun(ctx, h, task)
	span.EndErr(err)

	select {
	case l.finished <- finished{task: task, elapsed: l.now().Sub(start), err: err}:
	case <-l.stopped:
	}
}

func (l *lane) complete(f finished) {
	log := trace.Logger(trace.WithLane(trace.WithRecording(context.Background(), f.task.RecordingID), string(l.kind)))
	if f.err != nil {
		log.Error("task failed", "task_id", f.task.ID, "elapsed", f.elapsed, "error", f.err)
	} else {
		log.Info("task completed", "task_id", f.task.ID, "elapsed", f.elapsed)
	}
	if l.notifier != nil {
		l.notifier.TaskFinished(f.task, f.elapsed, f.err)
	}
	l.current = nil
	l.dispatch()
}

func safeRun(ctx context.Context, h Handler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Newf(apperrors.Internal, "handler panic: %v", r).WithMetadata("stack", string(debug.Stack()))
		}
	}()
	if err := h(ctx, task); err != nil {
		return fmt.Errorf("%s %s: %w", task.Type, task.RecordingID, err)
	}
	return nil
}
