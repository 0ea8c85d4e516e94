package meeting

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/engram/internal/activity"
	apperrors "github.com/GriffinCanCode/engram/internal/errors"
)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// fakeDelegate records commands. Start blocks on gate when set.
type fakeDelegate struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
	gate     chan struct{}
	errs     []error
}

func (d *fakeDelegate) StartRecording(ctx context.Context, app activity.App) (RecordingHandle, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	if d.startErr != nil {
		return RecordingHandle{}, d.startErr
	}
	return RecordingHandle{Name: app.Name + " call", AudioPath: "/tmp/rec.wav", StartedAt: time.Now()}, nil
}

func (d *fakeDelegate) StopRecording(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *fakeDelegate) OnStateChanged(State) {}

func (d *fakeDelegate) OnError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

func (d *fakeDelegate) counts() (starts, stops, errs int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.stops, len(d.errs)
}

type fakeSnapshotter struct{ snap activity.Snapshot }

func (f *fakeSnapshotter) Current(context.Context) (activity.Snapshot, error) { return f.snap, nil }

var (
	zoom  = activity.App{Name: "Zoom", BundleID: "us.zoom.xos", PID: 812}
	teams = activity.App{Name: "Microsoft Teams", PID: 900}
)

func snap(micOwner *activity.App, running ...activity.App) activity.Snapshot {
	return activity.Snapshot{Running: running, MicActive: micOwner != nil, MicInUseBy: micOwner}
}

type harness struct {
	t      *testing.T
	ctl    *Controller
	clock  *fakeClock
	del    *fakeDelegate
	states <-chan State
	cancel context.CancelFunc
	done   chan struct{}
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, clock: &fakeClock{}, del: &fakeDelegate{}, done: make(chan struct{})}
	if cfg.ConfirmWindow == 0 {
		cfg.ConfirmWindow = 2 * time.Second
	}
	if cfg.GraceWindow == 0 {
		cfg.GraceWindow = 2 * time.Second
	}
	opts = append([]Option{WithClock(h.clock)}, opts...)
	h.ctl = New(cfg, MicSignal{}, opts...)
	h.ctl.SetDelegate(h.del)
	h.states, _ = h.ctl.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		_ = h.ctl.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

// sync waits until every message sent so far has been processed.
func (h *harness) sync() State {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := h.ctl.State(ctx)
	if err != nil {
		h.t.Fatalf("State() error = %v", err)
	}
	return s
}

func (h *harness) feed(s activity.Snapshot) State {
	h.ctl.HandleSnapshot(s)
	return h.sync()
}

// waitFor polls until the controller reaches want; delegate results arrive asynchronously.
func (h *harness) waitFor(want State) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := h.sync()
		if got == want {
			return
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("state = %v, want %v", got, want)
		}
		time.Sleep(time.Millisecond)
	}
}

// expectEmitted reads the subscription until want arrives.
func (h *harness) expectEmitted(want State) {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-timeout:
			h.t.Fatalf("state %v was never emitted", want)
		}
	}
}

func (h *harness) drainStates() []State {
	var out []State
	for {
		select {
		case s := <-h.states:
			out = append(out, s)
		default:
			return out
		}
	}
}

// transitions drops repeated states, which acknowledge inputs that changed nothing.
func transitions(states []State) []State {
	var out []State
	for _, s := range states {
		if len(out) == 0 || out[len(out)-1] != s {
			out = append(out, s)
		}
	}
	return out
}

func TestLifecycleHappyPath(t *testing.T) {
	h := newHarness(t, Config{Apps: []string{"Zoom"}})

	if got := h.feed(snap(nil, zoom)); got != monitoring(zoom) {
		t.Fatalf("after launch state = %v, want %v", got, monitoring(zoom))
	}

	h.feed(snap(&zoom, zoom))
	h.clock.Advance(3 * time.Second)
	h.waitFor(recording(zoom))

	h.feed(snap(nil, zoom))
	h.clock.Advance(3 * time.Second)
	h.waitFor(monitoring(zoom))

	h.feed(snap(nil))
	h.waitFor(idle())

	starts, stops, _ := h.del.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("starts, stops = %d, %d, want 1, 1", starts, stops)
	}

	want := []State{monitoring(zoom), detected(zoom), recording(zoom), endingMeeting(zoom), monitoring(zoom), idle()}
	got := transitions(h.drainStates())
	if len(got) != len(want) {
		t.Fatalf("state sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSignalFlickerDoesNotStart(t *testing.T) {
	h := newHarness(t, Config{})
	h.feed(snap(nil, zoom))

	h.feed(snap(&zoom, zoom))
	h.clock.Advance(time.Second)
	h.feed(snap(nil, zoom))
	h.clock.Advance(5 * time.Second)

	if got := h.sync(); got != monitoring(zoom) {
		t.Errorf("state = %v, want %v", got, monitoring(zoom))
	}
	if starts, _, _ := h.del.counts(); starts != 0 {
		t.Errorf("starts = %d, want 0", starts)
	}
}

func TestGraceFlickerKeepsRecording(t *testing.T) {
	h := newHarness(t, Config{})
	h.feed(snap(&zoom, zoom))
	h.clock.Advance(2 * time.Second)
	h.waitFor(recording(zoom))

	if got := h.feed(snap(nil, zoom)); got != endingMeeting(zoom) {
		t.Fatalf("after signal drop state = %v, want %v", got, endingMeeting(zoom))
	}
	h.clock.Advance(time.Second)
	if got := h.feed(snap(&zoom, zoom)); got != recording(zoom) {
		t.Fatalf("after signal return state = %v, want %v", got, recording(zoom))
	}
	h.clock.Advance(5 * time.Second)
	h.sync()

	if _, stops, _ := h.del.counts(); stops != 0 {
		t.Errorf("stops = %d, want 0", stops)
	}
}

func TestAppExitWhileRecordingStops(t *testing.T) {
	h := newHarness(t, Config{})
	h.feed(snap(&zoom, zoom))
	h.clock.Advance(2 * time.Second)
	h.waitFor(recording(zoom))

	h.feed(snap(nil))
	h.waitFor(idle())

	if _, stops, _ := h.del.counts(); stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
}

func TestAppExitDuringStartStopsAfterStart(t *testing.T) {
	h := newHarness(t, Config{})
	gate := make(chan struct{})
	h.del.mu.Lock()
	h.del.gate = gate
	h.del.mu.Unlock()

	h.feed(snap(&zoom, zoom))
	h.clock.Advance(2 * time.Second)
	h.waitFor(detected(zoom))

	h.feed(snap(nil))
	close(gate)
	h.waitFor(idle())

	starts, stops, _ := h.del.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("starts, stops = %d, %d, want 1, 1", starts, stops)
	}
}

func TestSleepStopsRecordingAndWakeRearms(t *testing.T) {
	snaps := &fakeSnapshotter{}
	h := newHarness(t, Config{CheckOnWake: true}, WithSnapshotter(snaps))
	h.feed(snap(&zoom, zoom))
	h.clock.Advance(2 * time.Second)
	h.waitFor(recording(zoom))

	h.ctl.HandleSystemSleep()
	h.waitFor(monitoring(zoom))
	if _, stops, _ := h.del.counts(); stops != 1 {
		t.Fatalf("stops after sleep = %d, want 1", stops)
	}

	// Still in the call after waking: detection starts over.
	snaps.snap = snap(&zoom, zoom)
	h.drainStates()
	h.ctl.HandleSystemWake()
	h.expectEmitted(idle())
	h.expectEmitted(monitoring(zoom))
	h.sync()
	h.clock.Advance(2 * time.Second)
	h.waitFor(recording(zoom))

	if starts, _, _ := h.del.counts(); starts != 2 {
		t.Errorf("starts = %d, want 2", starts)
	}
}

func TestSleepCancelsPendingConfirmation(t *testing.T) {
	h := newHarness(t, Config{})
	h.feed(snap(&zoom, zoom))
	h.ctl.HandleSystemSleep()
	h.sync()
	h.clock.Advance(5 * time.Second)

	if got := h.sync(); got != monitoring(zoom) {
		t.Errorf("state = %v, want %v", got, monitoring(zoom))
	}
	if starts, _, _ := h.del.counts(); starts != 0 {
		t.Errorf("starts = %d, want 0", starts)
	}
}

func TestStartFailureReturnsToMonitoring(t *testing.T) {
	h := newHarness(t, Config{})
	h.del.startErr = apperrors.New(apperrors.PermissionDenied, "microphone access denied")

	h.feed(snap(&zoom, zoom))
	h.clock.Advance(2 * time.Second)
	h.waitFor(monitoring(zoom))

	// The signal never withdrew, so no retry.
	h.clock.Advance(10 * time.Second)
	h.sync()
	starts, _, errs := h.del.counts()
	if starts != 1 || errs != 1 {
		t.Fatalf("starts, errs = %d, %d, want 1, 1", starts, errs)
	}

	h.del.mu.Lock()
	h.del.startErr = nil
	h.del.mu.Unlock()
	h.feed(snap(nil, zoom))
	h.feed(snap(&zoom, zoom))
	h.clock.Advance(2 * time.Second)
	h.waitFor(recording(zoom))
}

func TestMissingDelegate(t *testing.T) {
	h := newHarness(t, Config{})
	h.ctl.SetDelegate(nil)

	h.feed(snap(&zoom, zoom))
	h.clock.Advance(2 * time.Second)
	h.waitFor(monitoring(zoom))

	got := h.drainStates()
	if len(got) < 2 || got[1] != detected(zoom) {
		t.Errorf("states = %v, want detection attempt before returning to monitoring", got)
	}
}

func TestResetRecordingState(t *testing.T) {
	h := newHarness(t, Config{})
	h.feed(snap(&zoom, zoom))
	h.clock.Advance(2 * time.Second)
	h.waitFor(recording(zoom))

	h.ctl.ResetRecordingState()
	h.waitFor(monitoring(zoom))
	h.clock.Advance(10 * time.Second)
	h.sync()

	starts, stops, _ := h.del.counts()
	if starts != 1 || stops != 0 {
		t.Errorf("starts, stops = %d, %d, want 1, 0", starts, stops)
	}
}

func TestUnrecognizedInputReemitsState(t *testing.T) {
	h := newHarness(t, Config{})
	h.ctl.ResetRecordingState()
	h.ctl.ScreenLocked()
	h.sync()

	got := h.drainStates()
	if len(got) != 2 || got[0] != idle() || got[1] != idle() {
		t.Errorf("states = %v, want [idle idle]", got)
	}
}

func TestNoOpSnapshotReemitsState(t *testing.T) {
	h := newHarness(t, Config{})
	h.feed(snap(nil, zoom))
	h.drainStates()

	h.feed(snap(nil, zoom))
	got := h.drainStates()
	if len(got) != 1 || got[0] != monitoring(zoom) {
		t.Errorf("states = %v, want [%v]", got, monitoring(zoom))
	}
}

func TestAppExitDuringSleepAppliedOnWake(t *testing.T) {
	h := newHarness(t, Config{CheckOnWake: false})
	h.feed(snap(nil, zoom))
	h.ctl.HandleSystemSleep()

	if got := h.feed(snap(nil)); got != monitoring(zoom) {
		t.Fatalf("state while asleep = %v, want %v", got, monitoring(zoom))
	}
	h.ctl.HandleSystemWake()
	if got := h.sync(); got != idle() {
		t.Errorf("state after wake with Zoom gone = %v, want idle", got)
	}
}

func TestMeetingDuringSleepDetectedOnWake(t *testing.T) {
	h := newHarness(t, Config{CheckOnWake: false})
	h.feed(snap(nil, zoom))
	h.ctl.HandleSystemSleep()
	h.feed(snap(&zoom, zoom))
	h.ctl.HandleSystemWake()
	h.sync()

	h.clock.Advance(2 * time.Second)
	h.waitFor(recording(zoom))
}

func TestSubscribersClosedOnStop(t *testing.T) {
	ctl := New(Config{}, MicSignal{})
	states, _ := ctl.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ctl.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	timeout := time.After(time.Second)
	for open := true; open; {
		select {
		case _, open = <-states:
		case <-timeout:
			t.Fatal("subscription still open after Run returned")
		}
	}
	late, _ := ctl.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscription after stop is open")
	}
}

func TestDisabledAppsIgnored(t *testing.T) {
	h := newHarness(t, Config{Apps: []string{"Zoom"}})
	if got := h.feed(snap(&teams, teams)); got != idle() {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestFollowsAppThatStartsMeeting(t *testing.T) {
	h := newHarness(t, Config{})
	h.feed(snap(nil, zoom, teams))
	if got := h.feed(snap(&teams, zoom, teams)); got != monitoring(teams) {
		t.Fatalf("state = %v, want %v", got, monitoring(teams))
	}
	h.clock.Advance(2 * time.Second)
	h.waitFor(recording(teams))
}

func TestStateAfterStop(t *testing.T) {
	ctl := New(Config{}, MicSignal{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ctl.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if _, err := ctl.State(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("State() after stop = %v, want ErrStopped", err)
	}
}
