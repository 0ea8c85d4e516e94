//go:build linux

package activity

import (
	"context"
	"log/slog"
	"os/exec"
)

type linuxProber struct {
	warnedFront bool
}

// NewProber returns the prober for this platform.
func NewProber() Prober { return &linuxProber{} }

func (l *linuxProber) Probe(ctx context.Context) (Probe, error) {
	out, err := exec.CommandContext(ctx, "ps", "-axo", "pid=,comm=").Output()
	if err != nil {
		return Probe{}, err
	}
	p := Probe{Processes: parsePS(string(out))}

	if front, err := exec.CommandContext(ctx, "xdotool", "getactivewindow", "getwindowpid").Output(); err == nil {
		p.FrontmostPID = parsePID(string(front))
	} else if !l.warnedFront {
		slog.Warn("frontmost window unavailable (install xdotool)", "error", err)
		l.warnedFront = true
	}

	if sources, err := exec.CommandContext(ctx, "pactl", "list", "source-outputs").Output(); err == nil {
		streams, pids := parsePactlSourceOutputs(string(sources))
		p.MicActive = streams > 0
		p.MicPIDs = pids
	}
	return p, nil
}
