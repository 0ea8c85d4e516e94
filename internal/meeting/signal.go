package meeting

import (
	"github.com/GriffinCanCode/engram/internal/activity"
	"github.com/GriffinCanCode/engram/internal/apps"
)

// Signal decides whether app is currently in a meeting.
type Signal interface {
	Active(snap activity.Snapshot, app activity.App) bool
}

// SignalFunc adapts a function to Signal.
type SignalFunc func(snap activity.Snapshot, app activity.App) bool

func (f SignalFunc) Active(snap activity.Snapshot, app activity.App) bool { return f(snap, app) }

// MicSignal is positive while app holds the microphone. When the platform
// reports microphone use without an owner, the frontmost app is credited.
type MicSignal struct{}

func (MicSignal) Active(snap activity.Snapshot, app activity.App) bool {
	if snap.MicInUseBy != nil {
		return snap.MicInUseBy.Is(app)
	}
	return snap.MicActive && snap.Frontmost != nil && snap.Frontmost.Is(app)
}

// WindowTitleSignal is positive while app's front window looks like a call.
type WindowTitleSignal struct {
	Registry *apps.Registry
}

func (s WindowTitleSignal) Active(snap activity.Snapshot, app activity.App) bool {
	running, ok := snap.Find(app)
	if !ok || running.Title == "" {
		return false
	}
	entry, ok := s.Registry.Lookup(app.Name)
	return ok && entry.IsMeetingWindow(running.Title)
}

type anySignal []Signal

func (a anySignal) Active(snap activity.Snapshot, app activity.App) bool {
	for _, s := range a {
		if s.Active(snap, app) {
			return true
		}
	}
	return false
}

// AnySignal is positive when any of signals is.
func AnySignal(signals ...Signal) Signal { return anySignal(signals) }

// DefaultSignal combines microphone attribution with meeting-window titles.
func DefaultSignal(registry *apps.Registry) Signal {
	return AnySignal(MicSignal{}, WindowTitleSignal{Registry: registry})
}
