package orchestrator

import (
	"context"
	"testing"

	"github.com/GriffinCanCode/engram/internal/activity"
	"github.com/GriffinCanCode/engram/internal/apps"
	"github.com/GriffinCanCode/engram/internal/config"
	"github.com/GriffinCanCode/engram/internal/screen"
)

type fakeChooser struct {
	pick  int
	err   error
	calls int
}

func (f *fakeChooser) ChooseWindow(_ context.Context, _ activity.App, candidates []screen.Window) (screen.Window, error) {
	f.calls++
	if f.err != nil {
		return screen.Window{}, f.err
	}
	return candidates[f.pick], nil
}

var (
	winSmall   = screen.Window{ID: "1", Title: "Zoom", Width: 400, Height: 300}
	winMeeting = screen.Window{ID: "2", Title: "Zoom Meeting", Width: 800, Height: 600}
	winChat    = screen.Window{ID: "3", Title: "Chat", Width: 1024, Height: 768}
	winTwin    = screen.Window{ID: "4", Title: "Settings", Width: 1024, Height: 768}
)

func zoomHeuristic(t *testing.T) Heuristic {
	t.Helper()
	e, ok := apps.Default().Lookup("Zoom")
	if !ok {
		t.Fatal("Zoom missing from default registry")
	}
	return TitleHeuristic(e.IsMeetingWindow)
}

func TestSelectWindow(t *testing.T) {
	h := zoomHeuristic(t)
	tests := []struct {
		name        string
		mode        string
		candidates  []screen.Window
		chooser     *fakeChooser
		noChooser   bool
		wantOK      bool
		wantID      string
		wantOutcome Outcome
		wantAsked   bool
	}{
		{"smart none", config.WindowModeSmart, nil, &fakeChooser{}, false, false, "", OutcomeNoCandidates, false},
		{"smart single", config.WindowModeSmart, []screen.Window{winChat}, &fakeChooser{}, false, true, "3", OutcomeSingle, false},
		{"smart heuristic", config.WindowModeSmart, []screen.Window{winSmall, winMeeting, winChat}, &fakeChooser{}, false, true, "2", OutcomeHeuristic, false},
		{"smart asks", config.WindowModeSmart, []screen.Window{winSmall, winChat}, &fakeChooser{pick: 0}, false, true, "1", OutcomeChosen, true},
		{"smart cancelled", config.WindowModeSmart, []screen.Window{winSmall, winChat}, &fakeChooser{err: ErrChoiceCancelled}, false, false, "", OutcomeDeclined, true},
		{"smart timeout", config.WindowModeSmart, []screen.Window{winSmall, winChat}, &fakeChooser{err: context.DeadlineExceeded}, false, false, "", OutcomeDeclined, true},
		{"smart no client", config.WindowModeSmart, []screen.Window{winSmall, winChat}, &fakeChooser{err: ErrChooserUnavailable}, false, true, "3", OutcomeLargest, true},
		{"smart nil chooser", config.WindowModeSmart, []screen.Window{winSmall, winChat}, nil, true, true, "3", OutcomeLargest, false},
		{"alwaysAsk none", config.WindowModeAlwaysAsk, nil, &fakeChooser{}, false, false, "", OutcomeNoCandidates, false},
		{"alwaysAsk single", config.WindowModeAlwaysAsk, []screen.Window{winMeeting}, &fakeChooser{}, false, true, "2", OutcomeSingle, false},
		{"alwaysAsk skips heuristic", config.WindowModeAlwaysAsk, []screen.Window{winSmall, winMeeting}, &fakeChooser{pick: 0}, false, true, "1", OutcomeChosen, true},
		{"auto heuristic", config.WindowModeAuto, []screen.Window{winChat, winMeeting}, &fakeChooser{}, false, true, "2", OutcomeHeuristic, false},
		{"auto largest", config.WindowModeAuto, []screen.Window{winSmall, winChat}, &fakeChooser{}, false, true, "3", OutcomeLargest, false},
		{"auto tie first", config.WindowModeAuto, []screen.Window{winSmall, winChat, winTwin}, &fakeChooser{}, false, true, "3", OutcomeLargest, false},
		{"auto none", config.WindowModeAuto, nil, &fakeChooser{}, false, false, "", OutcomeNoCandidates, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var chooser Chooser
			if !tt.noChooser {
				chooser = tt.chooser
			}
			got := SelectWindow(context.Background(), tt.mode, activity.App{Name: "Zoom"}, tt.candidates, h, chooser)
			if got.OK != tt.wantOK || got.Outcome != tt.wantOutcome {
				t.Fatalf("got ok=%v outcome=%s, want ok=%v outcome=%s", got.OK, got.Outcome, tt.wantOK, tt.wantOutcome)
			}
			if tt.wantOK && got.Window.ID != tt.wantID {
				t.Errorf("window = %s, want %s", got.Window.ID, tt.wantID)
			}
			if tt.chooser != nil && (tt.chooser.calls > 0) != tt.wantAsked {
				t.Errorf("chooser calls = %d, want asked=%v", tt.chooser.calls, tt.wantAsked)
			}
		})
	}
}

func TestSelectWindowNilHeuristic(t *testing.T) {
	got := SelectWindow(context.Background(), config.WindowModeAuto, activity.App{}, []screen.Window{winMeeting, winChat}, nil, nil)
	if !got.OK || got.Window.ID != "3" {
		t.Errorf("got %+v, want largest window", got)
	}
}

func TestTitleHeuristicPrefersLargestMatch(t *testing.T) {
	big := screen.Window{ID: "9", Title: "Zoom Meeting 2", Width: 1920, Height: 1080}
	w, ok := zoomHeuristic(t)([]screen.Window{winMeeting, winChat, big})
	if !ok || w.ID != "9" {
		t.Errorf("got %s ok=%v, want 9", w.ID, ok)
	}
	if _, ok := zoomHeuristic(t)([]screen.Window{winChat, winSmall}); ok {
		t.Error("expected no match")
	}
}
