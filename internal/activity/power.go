package activity

import (
	"context"
	"log/slog"
	"time"
)

// PowerWatcher infers suspend/resume from gaps in wall-clock time between
// ticks. Monotonic clocks stop during suspend on macOS and Linux; the wall
// clock does not, so a tick that arrives far later than scheduled means the
// machine slept. The sleep notification is therefore delivered late, on wake.
type PowerWatcher struct {
	interval  time.Duration
	tolerance time.Duration
	now       func() time.Time
	last      time.Time
}

// NewPowerWatcher checks every interval and treats gaps beyond interval+tolerance as sleep.
func NewPowerWatcher(interval, tolerance time.Duration) *PowerWatcher {
	if interval <= 0 {
		interval = DefaultPowerCheckInterval
	}
	if tolerance <= 0 {
		tolerance = DefaultSleepTolerance
	}
	return &PowerWatcher{interval: interval, tolerance: tolerance, now: time.Now}
}

// Run ticks until ctx is cancelled, calling sink with WillSleep then DidWake
// after each detected suspension.
func (w *PowerWatcher) Run(ctx context.Context, sink func(PowerEvent)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.last = w.now().Round(0)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if gap, slept := w.check(w.now()); slept {
				slog.Info("system resumed from sleep", "gap", gap)
				sink(WillSleep)
				sink(DidWake)
			}
		}
	}
}

// check records now and reports whether the time since the previous check
// implies a suspension.
func (w *PowerWatcher) check(now time.Time) (time.Duration, bool) {
	now = now.Round(0)
	gap := now.Sub(w.last)
	w.last = now
	return gap, gap > w.interval+w.tolerance
}
