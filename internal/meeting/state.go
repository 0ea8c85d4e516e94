// Package meeting implements the meeting lifecycle controller: a debounced
// state machine that turns activity snapshots and power events into
// start/stop recording commands.
package meeting

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/engram/internal/activity"
)

// Phase is the controller's lifecycle stage.
type Phase int

const (
	Idle Phase = iota
	Monitoring
	MeetingDetected
	Recording
	EndingMeeting
)

var phaseNames = [...]string{"idle", "monitoring", "meeting_detected", "recording", "ending_meeting"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// State is a phase plus the app it concerns. App is zero for Idle.
type State struct {
	Phase Phase        `json:"phase"`
	App   activity.App `json:"app"`
}

func (s State) String() string {
	if s.Phase == Idle {
		return "idle"
	}
	return fmt.Sprintf("%s(%s)", s.Phase, s.App.Name)
}

// Recording reports whether a recording session is believed active.
func (s State) Recording() bool {
	return s.Phase == Recording || s.Phase == EndingMeeting
}

func idle() State                          { return State{Phase: Idle} }
func monitoring(app activity.App) State    { return State{Phase: Monitoring, App: app} }
func detected(app activity.App) State      { return State{Phase: MeetingDetected, App: app} }
func recording(app activity.App) State     { return State{Phase: Recording, App: app} }
func endingMeeting(app activity.App) State { return State{Phase: EndingMeeting, App: app} }

// RecordingHandle describes a session the delegate started.
type RecordingHandle struct {
	Name      string    `json:"name"`
	AudioPath string    `json:"audio_path"`
	VideoPath string    `json:"video_path,omitempty"`
	StartedAt time.Time `json:"started_at"`
}
