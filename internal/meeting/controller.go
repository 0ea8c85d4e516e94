package meeting

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/engram/internal/activity"
	apperrors "github.com/GriffinCanCode/engram/internal/errors"
)

// ErrStopped is returned by queries after Run has returned.
var ErrStopped = errors.New("meeting controller stopped")

// Delegate carries out the controller's commands. OnStateChanged and OnError
// are called from the controller goroutine and must not block.
type Delegate interface {
	StartRecording(ctx context.Context, app activity.App) (RecordingHandle, error)
	StopRecording(ctx context.Context) error
	OnStateChanged(State)
	OnError(error)
}

// Snapshotter provides a fresh activity observation on demand.
type Snapshotter interface {
	Current(ctx context.Context) (activity.Snapshot, error)
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks; tests replace it to control time.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Config holds controller settings.
type Config struct {
	Apps          []string // enabled app names; empty enables every app observed
	CheckOnWake   bool
	ConfirmWindow time.Duration
	GraceWindow   time.Duration
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

// WithSnapshotter enables fresh observations on wake.
func WithSnapshotter(s Snapshotter) Option { return func(ctl *Controller) { ctl.snapshots = s } }

type stopReason int

const (
	stopNone stopReason = iota
	stopGraceExpired
	stopAppExited
	stopSleep
	stopReset
)

func (r stopReason) String() string {
	return [...]string{"none", "grace_expired", "app_exited", "sleep", "reset"}[r]
}

type timerKind int

const (
	confirmTimer timerKind = iota
	graceTimer
)

type pendingTimer struct {
	timer Timer
	gen   uint64
}

// Inbound messages for the controller goroutine.
type snapshotMsg struct {
	snap  activity.Snapshot
	fresh bool
}

type powerMsg struct{ event activity.PowerEvent }

type timerMsg struct {
	kind timerKind
	gen  uint64
}

type startResult struct {
	app    activity.App
	handle RecordingHandle
	err    error
}

type stopResult struct {
	app    activity.App
	reason stopReason
	err    error
}

type resetMsg struct{}

type setDelegateMsg struct{ d Delegate }

type stateQuery struct{ reply chan State }

// Controller is the meeting lifecycle state machine. All state is owned by the
// goroutine running Run; every public method only enqueues a message.
type Controller struct {
	cfg       Config
	enabled   map[string]bool
	signal    Signal
	clock     Clock
	snapshots Snapshotter

	inbox chan any
	done  chan struct{}

	subsMu     sync.Mutex
	subs       map[chan State]struct{}
	subsClosed bool

	inflight sync.WaitGroup

	// owned by the Run goroutine
	ctx         context.Context
	delegate    Delegate
	state       State
	last        activity.Snapshot
	confirm     *pendingTimer
	grace       *pendingTimer
	gen         uint64
	starting    bool
	stopping    bool
	pendingStop stopReason
	asleep      bool
	suppressed  map[string]bool // apps whose signal must withdraw before re-arming
}

// New creates a controller. Call SetDelegate and then Run.
func New(cfg Config, signal Signal, opts ...Option) *Controller {
	if cfg.ConfirmWindow <= 0 {
		cfg.ConfirmWindow = DefaultConfirmWindow
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	c := &Controller{
		cfg:        cfg,
		signal:     signal,
		clock:      realClock{},
		inbox:      make(chan any, inboxBuffer),
		done:       make(chan struct{}),
		subs:       make(map[chan State]struct{}),
		state:      idle(),
		suppressed: make(map[string]bool),
	}
	if len(cfg.Apps) > 0 {
		c.enabled = make(map[string]bool, len(cfg.Apps))
		for _, a := range cfg.Apps {
			c.enabled[strings.ToLower(a)] = true
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetDelegate installs the command target. Commands issued while no delegate
// is installed fail with DELEGATE_UNAVAILABLE.
func (c *Controller) SetDelegate(d Delegate) { c.send(setDelegateMsg{d: d}) }

// HandleSnapshot feeds an activity observation.
func (c *Controller) HandleSnapshot(s activity.Snapshot) { c.send(snapshotMsg{snap: s}) }

// HandlePowerEvent feeds a power or session notification.
func (c *Controller) HandlePowerEvent(e activity.PowerEvent) { c.send(powerMsg{event: e}) }

func (c *Controller) HandleSystemSleep() { c.HandlePowerEvent(activity.WillSleep) }
func (c *Controller) HandleSystemWake()  { c.HandlePowerEvent(activity.DidWake) }
func (c *Controller) ScreenLocked()      { c.HandlePowerEvent(activity.ScreenLocked) }
func (c *Controller) ScreenUnlocked()    { c.HandlePowerEvent(activity.ScreenUnlocked) }

// ResetRecordingState tells the controller a recording was stopped outside
// its control (for example by the user) so detection can re-arm.
func (c *Controller) ResetRecordingState() { c.send(resetMsg{}) }

// State returns the current state as seen by the controller goroutine.
func (c *Controller) State(ctx context.Context) (State, error) {
	q := stateQuery{reply: make(chan State, 1)}
	select {
	case c.inbox <- q:
	case <-c.done:
		return State{}, ErrStopped
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	select {
	case s := <-q.reply:
		return s, nil
	case <-c.done:
		return State{}, ErrStopped
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Subscribe returns a stream of state changes. Slow readers miss updates. The
// channel is closed when Run returns.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberBuffer)
	c.subsMu.Lock()
	if c.subsClosed {
		close(ch)
	} else {
		c.subs[ch] = struct{}{}
	}
	c.subsMu.Unlock()
	return ch, func() {
		c.subsMu.Lock()
		delete(c.subs, ch)
		c.subsMu.Unlock()
	}
}

func (c *Controller) send(msg any) {
	select {
	case c.inbox <- msg:
	case <-c.done:
	}
}

// Run processes messages until ctx is cancelled. In-flight delegate calls
// receive the cancelled context and are waited for before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer func() {
		c.cancelTimer(&c.confirm)
		c.cancelTimer(&c.grace)
		close(c.done)
		c.inflight.Wait()
		c.closeSubscribers()
	}()

	slog.Info("meeting controller started", "confirm_window", c.cfg.ConfirmWindow, "grace_window", c.cfg.GraceWindow)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.inbox:
			c.handle(msg)
		}
	}
}

func (c *Controller) handle(msg any) {
	switch m := msg.(type) {
	case snapshotMsg:
		c.onSnapshot(m)
	case powerMsg:
		c.onPower(m.event)
	case timerMsg:
		c.onTimer(m)
	case startResult:
		c.onStartResult(m)
	case stopResult:
		c.onStopResult(m)
	case resetMsg:
		c.onReset()
	case setDelegateMsg:
		c.delegate = m.d
	case stateQuery:
		m.reply <- c.state
	}
}

func (c *Controller) onSnapshot(m snapshotMsg) {
	before := c.state
	c.last = m.snap
	if m.fresh && !c.busy() && !c.state.Recording() {
		c.cancelTimer(&c.confirm)
		c.transition(idle())
	}
	c.evaluate()
	if c.state == before {
		c.emit()
	}
}

// evaluate applies the latest snapshot to the current state.
func (c *Controller) evaluate() {
	if c.asleep {
		return
	}
	app := c.state.App
	switch c.state.Phase {
	case Idle:
		if target, ok := c.pickTarget(); ok {
			c.transition(monitoring(target))
			c.evaluateMonitoring()
		}
	case Monitoring:
		c.evaluateMonitoring()
	case MeetingDetected:
		if !c.isRunning(app) && c.pendingStop == stopNone {
			c.pendingStop = stopAppExited
		}
	case Recording:
		if !c.isRunning(app) {
			c.beginStop(stopAppExited)
			return
		}
		if !c.isActive(app) {
			c.transition(endingMeeting(app))
			c.armTimer(&c.grace, graceTimer, c.cfg.GraceWindow)
		}
	case EndingMeeting:
		if c.stopping {
			return
		}
		if !c.isRunning(app) {
			c.beginStop(stopAppExited)
			return
		}
		if c.isActive(app) {
			c.cancelTimer(&c.grace)
			c.transition(recording(app))
		}
	}
}

func (c *Controller) evaluateMonitoring() {
	app := c.state.App
	if !c.isRunning(app) {
		c.cancelTimer(&c.confirm)
		if next, ok := c.pickTarget(); ok {
			c.transition(monitoring(next))
			c.evaluateMonitoring()
			return
		}
		c.transition(idle())
		return
	}

	active := c.isActive(app)
	if !active {
		delete(c.suppressed, key(app))
	}
	if active && !c.suppressed[key(app)] {
		if c.confirm == nil {
			c.armTimer(&c.confirm, confirmTimer, c.cfg.ConfirmWindow)
		}
		return
	}
	c.cancelTimer(&c.confirm)

	// Another monitored app has started a meeting; follow it.
	for _, r := range c.enabledRunning() {
		if !r.Is(app) && c.isActive(r) && !c.suppressed[key(r)] {
			c.transition(monitoring(r))
			c.armTimer(&c.confirm, confirmTimer, c.cfg.ConfirmWindow)
			return
		}
	}
}

func (c *Controller) onTimer(m timerMsg) {
	switch m.kind {
	case confirmTimer:
		if c.confirm == nil || c.confirm.gen != m.gen {
			return
		}
		c.confirm = nil
		app := c.state.App
		if c.asleep || c.state.Phase != Monitoring || !c.isRunning(app) || !c.isActive(app) {
			return
		}
		c.transition(detected(app))
		c.dispatchStart(app)
	case graceTimer:
		if c.grace == nil || c.grace.gen != m.gen {
			return
		}
		c.grace = nil
		if c.state.Phase != EndingMeeting || c.stopping {
			return
		}
		c.beginStop(stopGraceExpired)
	}
}

func (c *Controller) onPower(e activity.PowerEvent) {
	slog.Info("power event", "event", e, "state", c.state)
	switch e {
	case activity.WillSleep:
		c.asleep = true
		c.cancelTimer(&c.confirm)
		switch {
		case c.state.Phase == MeetingDetected:
			c.pendingStop = stopSleep
		case c.state.Recording() && !c.stopping:
			c.beginStop(stopSleep)
		default:
			c.emit()
		}
	case activity.DidWake, activity.ScreenUnlocked:
		c.asleep = false
		if !c.cfg.CheckOnWake {
			// Snapshots seen while asleep were held; apply the latest one.
			before := c.state
			c.evaluate()
			if c.state == before {
				c.emit()
			}
			return
		}
		c.wakeCheck()
	default:
		c.emit()
	}
}

// wakeCheck re-evaluates from scratch unless a session or command is live.
func (c *Controller) wakeCheck() {
	if c.busy() || c.state.Recording() {
		c.evaluate()
		return
	}
	clear(c.suppressed)
	if c.snapshots == nil {
		c.cancelTimer(&c.confirm)
		c.transition(idle())
		c.evaluate()
		return
	}
	ctx := c.ctx
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		probeCtx, cancel := context.WithTimeout(ctx, wakeProbeTimeout)
		defer cancel()
		snap, err := c.snapshots.Current(probeCtx)
		if err != nil {
			slog.Warn("wake re-check failed", "error", err)
			return
		}
		c.send(snapshotMsg{snap: snap, fresh: true})
	}()
}

func (c *Controller) onReset() {
	app := c.state.App
	switch {
	case c.state.Phase == MeetingDetected:
		c.pendingStop = stopReset
	case c.state.Recording() && !c.stopping:
		c.cancelTimer(&c.grace)
		c.suppressed[key(app)] = true
		c.settle(app)
	default:
		c.emit()
	}
}

func (c *Controller) dispatchStart(app activity.App) {
	d := c.delegate
	if d == nil {
		c.fail(apperrors.New(apperrors.DelegateUnavailable, "no recording delegate installed"))
		c.suppressed[key(app)] = true
		c.settle(app)
		return
	}
	c.starting = true
	c.pendingStop = stopNone
	ctx := c.ctx
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		h, err := d.StartRecording(ctx, app)
		c.send(startResult{app: app, handle: h, err: err})
	}()
}

func (c *Controller) onStartResult(m startResult) {
	c.starting = false
	pending := c.pendingStop
	c.pendingStop = stopNone

	if m.err != nil {
		slog.Warn("recording start failed", "app", m.app.Name, "error", m.err)
		c.fail(m.err)
		c.suppressed[key(m.app)] = true
		c.settle(m.app)
		return
	}

	slog.Info("recording started", "app", m.app.Name, "name", m.handle.Name, "audio", m.handle.AudioPath)
	c.transition(recording(m.app))
	if pending != stopNone {
		if pending == stopReset {
			c.suppressed[key(m.app)] = true
		}
		c.beginStop(pending)
		return
	}
	c.evaluate()
}

func (c *Controller) beginStop(reason stopReason) {
	app := c.state.App
	c.cancelTimer(&c.grace)
	c.transition(endingMeeting(app))

	d := c.delegate
	if d == nil {
		c.onStopResult(stopResult{app: app, reason: reason, err: apperrors.New(apperrors.DelegateUnavailable, "no recording delegate installed")})
		return
	}
	c.stopping = true
	ctx := c.ctx
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		err := d.StopRecording(ctx)
		c.send(stopResult{app: app, reason: reason, err: err})
	}()
}

func (c *Controller) onStopResult(m stopResult) {
	c.stopping = false
	if m.err != nil {
		slog.Warn("recording stop failed", "app", m.app.Name, "reason", m.reason, "error", m.err)
		c.fail(m.err)
	} else {
		slog.Info("recording stopped", "app", m.app.Name, "reason", m.reason)
	}

	if m.reason == stopAppExited {
		c.transition(idle())
		c.evaluate()
		return
	}
	c.settle(m.app)
}

// settle moves to Monitoring(app) when app is still running, else Idle, then re-evaluates.
func (c *Controller) settle(app activity.App) {
	if c.isRunning(app) {
		c.transition(monitoring(app))
	} else {
		c.transition(idle())
	}
	c.evaluate()
}

func (c *Controller) busy() bool { return c.starting || c.stopping }

func (c *Controller) fail(err error) {
	if c.delegate == nil {
		slog.Error("meeting controller error", "error", err)
		return
	}
	c.delegate.OnError(err)
}

func (c *Controller) transition(to State) {
	if to == c.state {
		return
	}
	slog.Debug("meeting state", "from", c.state, "to", to)
	c.state = to
	c.emit()
}

// emit publishes the current state, also used to acknowledge inputs that cause no transition.
func (c *Controller) emit() {
	if c.delegate != nil {
		c.delegate.OnStateChanged(c.state)
	}
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- c.state:
		default:
		}
	}
}

func (c *Controller) closeSubscribers() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		close(ch)
		delete(c.subs, ch)
	}
	c.subsClosed = true
}

func (c *Controller) armTimer(slot **pendingTimer, kind timerKind, d time.Duration) {
	c.cancelTimer(slot)
	c.gen++
	gen := c.gen
	*slot = &pendingTimer{
		gen:   gen,
		timer: c.clock.AfterFunc(d, func() { c.send(timerMsg{kind: kind, gen: gen}) }),
	}
}

func (c *Controller) cancelTimer(slot **pendingTimer) {
	if *slot != nil {
		(*slot).timer.Stop()
		*slot = nil
	}
}

func (c *Controller) isEnabled(app activity.App) bool {
	return c.enabled == nil || c.enabled[key(app)]
}

func (c *Controller) enabledRunning() []activity.App {
	out := make([]activity.App, 0, len(c.last.Running))
	for _, r := range c.last.Running {
		if c.isEnabled(r) {
			out = append(out, r)
		}
	}
	return out
}

func (c *Controller) isRunning(app activity.App) bool {
	return c.isEnabled(app) && c.last.IsRunning(app)
}

func (c *Controller) isActive(app activity.App) bool {
	return c.signal.Active(c.last, app)
}

// pickTarget prefers an app already signalling a meeting, then the frontmost app, then the first running.
func (c *Controller) pickTarget() (activity.App, bool) {
	running := c.enabledRunning()
	if len(running) == 0 {
		return activity.App{}, false
	}
	for _, r := range running {
		if c.isActive(r) && !c.suppressed[key(r)] {
			return r, true
		}
	}
	if f := c.last.Frontmost; f != nil {
		for _, r := range running {
			if r.Is(*f) {
				return r, true
			}
		}
	}
	return running[0], true
}

func key(app activity.App) string { return strings.ToLower(app.Name) }
