package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/GriffinCanCode/engram/internal/apps"
)

// Monitor polls a Prober and reports meeting-app activity.
type Monitor struct {
	prober   Prober
	titles   TitleSource
	registry *apps.Registry
	interval time.Duration
	now      func() time.Time
}

// NewMonitor watches the apps in registry. titles may be nil.
func NewMonitor(prober Prober, titles TitleSource, registry *apps.Registry, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Monitor{
		prober:   prober,
		titles:   titles,
		registry: registry,
		interval: interval,
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled, calling sink whenever the observed
// activity differs from the previous observation. The first successful
// observation is always delivered.
func (m *Monitor) Run(ctx context.Context, sink func(Snapshot)) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var last *Snapshot
	poll := func() {
		snap, err := m.Current(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("activity probe failed", "error", err)
			}
			return
		}
		if last != nil && last.Equal(snap) {
			return
		}
		last = &snap
		sink(snap)
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

// Current takes a fresh observation.
func (m *Monitor) Current(ctx context.Context) (Snapshot, error) {
	probe, err := m.prober.Probe(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return m.snapshot(ctx, probe), nil
}

// LookupPID finds the process id of a running app.
func (m *Monitor) LookupPID(ctx context.Context, app App) (int, bool) {
	snap, err := m.Current(ctx)
	if err != nil {
		return 0, false
	}
	if found, ok := snap.Find(app); ok && found.PID > 0 {
		return found.PID, true
	}
	return 0, false
}

func (m *Monitor) snapshot(ctx context.Context, probe Probe) Snapshot {
	snap := Snapshot{At: m.now()}
	byPID := make(map[int]App)

	// One App per registry entry, using its lowest pid (the launcher, not helpers).
	index := make(map[string]int)
	for _, proc := range probe.Processes {
		entry, ok := m.registry.MatchProcess(proc.Name)
		if !ok {
			continue
		}
		app := App{Name: entry.Name, BundleID: entry.BundleID(), PID: proc.PID}
		byPID[proc.PID] = app
		if i, seen := index[entry.Name]; seen {
			if proc.PID < snap.Running[i].PID {
				snap.Running[i] = app
			}
			continue
		}
		index[entry.Name] = len(snap.Running)
		snap.Running = append(snap.Running, app)
	}

	if m.titles != nil {
		for i := range snap.Running {
			if title, ok := m.titles.WindowTitle(ctx, snap.Running[i].PID); ok {
				snap.Running[i].Title = title
			}
		}
	}

	if app, ok := byPID[probe.FrontmostPID]; ok {
		front := m.canonical(snap, app)
		snap.Frontmost = &front
	}

	snap.MicActive = probe.MicActive
	for _, pid := range probe.MicPIDs {
		if app, ok := byPID[pid]; ok {
			owner := m.canonical(snap, app)
			snap.MicInUseBy = &owner
			break
		}
	}
	return snap
}

func (m *Monitor) canonical(snap Snapshot, app App) App {
	if found, ok := snap.Find(app); ok {
		return found
	}
	return app
}
