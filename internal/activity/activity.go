// Package activity observes which meeting apps are running, which one is in
// front, who holds the microphone, and when the machine sleeps or wakes.
package activity

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// App identifies a running meeting application.
type App struct {
	Name     string `json:"name"`
	BundleID string `json:"bundle_id,omitempty"`
	PID      int    `json:"pid,omitempty"`
	Title    string `json:"title,omitempty"` // front window title when known
}

// Is reports whether a and b are the same application (PIDs may differ).
func (a App) Is(b App) bool { return strings.EqualFold(a.Name, b.Name) }

func (a App) String() string { return a.Name }

// Snapshot is one observation of meeting-relevant activity.
type Snapshot struct {
	Running    []App     `json:"running"`
	Frontmost  *App      `json:"frontmost,omitempty"`
	MicActive  bool      `json:"mic_active"`
	MicInUseBy *App      `json:"mic_in_use_by,omitempty"`
	At         time.Time `json:"at"`
}

// Find returns the running instance of app.
func (s Snapshot) Find(app App) (App, bool) {
	for _, r := range s.Running {
		if r.Is(app) {
			return r, true
		}
	}
	return App{}, false
}

// IsRunning reports whether app appears in the snapshot.
func (s Snapshot) IsRunning(app App) bool {
	_, ok := s.Find(app)
	return ok
}

// Equal compares snapshots ignoring the observation time.
func (s Snapshot) Equal(o Snapshot) bool {
	return slices.Equal(s.Running, o.Running) &&
		s.MicActive == o.MicActive &&
		equalApp(s.Frontmost, o.Frontmost) &&
		equalApp(s.MicInUseBy, o.MicInUseBy)
}

func equalApp(a, b *App) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// PowerEvent is a system power or session notification.
type PowerEvent int

const (
	WillSleep PowerEvent = iota
	DidWake
	ScreenLocked
	ScreenUnlocked
)

var powerEventNames = [...]string{"will_sleep", "did_wake", "screen_locked", "screen_unlocked"}

func (e PowerEvent) String() string {
	if int(e) < len(powerEventNames) {
		return powerEventNames[e]
	}
	return fmt.Sprintf("power_event(%d)", int(e))
}

// ParsePowerEvent accepts the names produced by String.
func ParsePowerEvent(s string) (PowerEvent, error) {
	for i, n := range powerEventNames {
		if n == s {
			return PowerEvent(i), nil
		}
	}
	return 0, fmt.Errorf("unknown power event %q", s)
}
