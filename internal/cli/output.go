package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/GriffinCanCode/engram/internal/scheduler"
	"github.com/GriffinCanCode/engram/internal/server"
)

type formatter struct {
	w io.Writer
}

func newFormatter(w io.Writer) *formatter {
	return &formatter{w: w}
}

func (f *formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *formatter) Check(name string, ok bool, detail string) {
	if ok {
		fmt.Fprintf(f.w, "  ✅ %s: %s\n", name, detail)
	} else {
		fmt.Fprintf(f.w, "  ❌ %s: %s\n", name, detail)
	}
}

func (f *formatter) Status(st server.StatusResponse) {
	fmt.Fprintf(f.w, "Meeting:   %s\n", st.Meeting)
	if r := st.Recording; r != nil {
		fmt.Fprintf(f.w, "Recording: %s (%s)\n", r.Name, formatDuration(time.Since(r.StartedAt)))
		fmt.Fprintf(f.w, "           %s\n", r.AudioPath)
		if r.VideoPath != "" {
			fmt.Fprintf(f.w, "           %s\n", r.VideoPath)
		}
	} else {
		fmt.Fprintf(f.w, "Recording: none\n")
	}
	f.lane("Transcription", st.Queue.Transcription)
	f.lane("Generation", st.Queue.Generation)
}

func (f *formatter) lane(name string, l scheduler.LaneStatus) {
	current := "idle"
	if l.Current != nil {
		current = l.Current.RecordingID
	}
	fmt.Fprintf(f.w, "%-14s %s, %d queued\n", name+":", current, len(l.Queued))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// PrintError reports a command failure on stderr.
func PrintError(err error) {
	newFormatter(os.Stderr).Error(err.Error())
}
