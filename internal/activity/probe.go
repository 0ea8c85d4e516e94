package activity

import (
	"bufio"
	"context"
	"strconv"
	"strings"
)

// Process is one entry from the OS process table.
type Process struct {
	PID  int
	Name string
}

// Probe is the raw platform observation the Monitor turns into a Snapshot.
type Probe struct {
	Processes    []Process
	FrontmostPID int
	MicActive    bool
	MicPIDs      []int // processes holding an input stream, when attributable
}

// Prober reads the platform's process and audio state.
type Prober interface {
	Probe(ctx context.Context) (Probe, error)
}

// TitleSource resolves the title of a process's front window.
type TitleSource interface {
	WindowTitle(ctx context.Context, pid int) (string, bool)
}

// parsePS parses `ps -axo pid=,comm=` output.
func parsePS(out string) []Process {
	var procs []Process
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		pidStr, name, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}
		procs = append(procs, Process{PID: pid, Name: strings.TrimSpace(name)})
	}
	return procs
}

// parsePactlSourceOutputs extracts the owning process ids from
// `pactl list source-outputs` output. Streams without a process id still count
// toward the returned stream total.
func parsePactlSourceOutputs(out string) (streams int, pids []int) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "Source Output #") {
			streams++
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) != "application.process.id" {
			continue
		}
		if pid, err := strconv.Atoi(strings.Trim(strings.TrimSpace(val), `"`)); err == nil {
			pids = append(pids, pid)
		}
	}
	return streams, pids
}

func parsePID(out string) int {
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0
	}
	return pid
}
