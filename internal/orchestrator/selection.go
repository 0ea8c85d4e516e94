package orchestrator

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/engram/internal/activity"
	"github.com/GriffinCanCode/engram/internal/config"
	"github.com/GriffinCanCode/engram/internal/screen"
)

// Chooser errors. Any other error from a Chooser is treated like ErrChoiceCancelled.
var (
	ErrChooserUnavailable = errors.New("no window chooser connected")
	ErrChoiceCancelled    = errors.New("window choice cancelled")
)

// Chooser asks the user which window to record.
type Chooser interface {
	ChooseWindow(ctx context.Context, app activity.App, candidates []screen.Window) (screen.Window, error)
}

// Heuristic picks a window without asking, reporting false when nothing matches.
type Heuristic func(candidates []screen.Window) (screen.Window, bool)

// Outcome explains how SelectWindow decided.
type Outcome string

const (
	OutcomeNoCandidates Outcome = "no_candidates"
	OutcomeSingle       Outcome = "single_candidate"
	OutcomeHeuristic    Outcome = "heuristic"
	OutcomeChosen       Outcome = "chosen"
	OutcomeLargest      Outcome = "largest"
	OutcomeDeclined     Outcome = "declined"
)

// Selection is the result of SelectWindow. OK is false when video should be skipped.
type Selection struct {
	Window  screen.Window
	OK      bool
	Outcome Outcome
}

// SelectWindow picks the window to record for app.
//
// Zero candidates always means no video and exactly one is always taken.
// smart tries the heuristic and then asks; alwaysAsk asks straight away; auto
// tries the heuristic and then takes the largest window. When asking, a missing
// chooser falls back to the largest window and a cancelled or timed out choice
// means no video.
func SelectWindow(ctx context.Context, mode string, app activity.App, candidates []screen.Window, heuristic Heuristic, chooser Chooser) Selection {
	switch len(candidates) {
	case 0:
		return Selection{Outcome: OutcomeNoCandidates}
	case 1:
		return Selection{Window: candidates[0], OK: true, Outcome: OutcomeSingle}
	}

	if mode != config.WindowModeAlwaysAsk && heuristic != nil {
		if w, ok := heuristic(candidates); ok {
			return Selection{Window: w, OK: true, Outcome: OutcomeHeuristic}
		}
	}

	if mode == config.WindowModeAuto {
		return Selection{Window: Largest(candidates), OK: true, Outcome: OutcomeLargest}
	}

	if chooser == nil {
		return Selection{Window: Largest(candidates), OK: true, Outcome: OutcomeLargest}
	}
	w, err := chooser.ChooseWindow(ctx, app, candidates)
	switch {
	case err == nil:
		return Selection{Window: w, OK: true, Outcome: OutcomeChosen}
	case errors.Is(err, ErrChooserUnavailable):
		return Selection{Window: Largest(candidates), OK: true, Outcome: OutcomeLargest}
	default:
		return Selection{Outcome: OutcomeDeclined}
	}
}

// Largest returns the candidate with the biggest area; ties go to the earliest.
func Largest(candidates []screen.Window) screen.Window {
	var best screen.Window
	for i, w := range candidates {
		if i == 0 || w.Area() > best.Area() {
			best = w
		}
	}
	return best
}

// TitleHeuristic matches candidates whose title looks like a call window. When
// several match, the largest of them wins.
func TitleHeuristic(isMeeting func(title string) bool) Heuristic {
	return func(candidates []screen.Window) (screen.Window, bool) {
		var matches []screen.Window
		for _, w := range candidates {
			if isMeeting(w.Title) {
				matches = append(matches, w)
			}
		}
		if len(matches) == 0 {
			return screen.Window{}, false
		}
		return Largest(matches), true
	}
}
