//go:build darwin

package activity

import (
	"context"
	"os/exec"
)

const frontmostScript = `tell application "System Events" to get unix id of first process whose frontmost is true`

type darwinProber struct{}

// NewProber returns the prober for this platform. Microphone ownership is not
// observable from the command line on macOS, so meeting detection there relies
// on window titles (see meeting.WindowTitleSignal).
func NewProber() Prober { return darwinProber{} }

func (darwinProber) Probe(ctx context.Context) (Probe, error) {
	out, err := exec.CommandContext(ctx, "ps", "-axo", "pid=,comm=").Output()
	if err != nil {
		return Probe{}, err
	}
	p := Probe{Processes: parsePS(string(out))}

	if front, err := exec.CommandContext(ctx, "osascript", "-e", frontmostScript).Output(); err == nil {
		p.FrontmostPID = parsePID(string(front))
	}
	return p, nil
}
