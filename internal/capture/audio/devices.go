package audio

import "strings"

// Source is where a capture device's audio comes from.
type Source string

const (
	SourceNone   Source = ""
	SourceUser   Source = "user"   // microphone
	SourceSystem Source = "system" // loopback of what the machine plays
)

// Device is the subset of portaudio.DeviceInfo used for selection.
type Device struct {
	Name             string
	MaxInputChannels int
}

// selection is the chosen microphone and, optionally, loopback device.
type selection struct {
	mic    int // index into devices, -1 when none
	system int
}

func classifyDevice(name string) Source {
	systemKeywords := []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}
	for _, kw := range systemKeywords {
		if containsIgnoreCase(name, kw) {
			return SourceSystem
		}
	}

	micKeywords := []string{"microphone", "input", "mic", "built-in"}
	for _, kw := range micKeywords {
		if containsIgnoreCase(name, kw) {
			return SourceUser
		}
	}

	return SourceNone
}

func preferDevice(name, current string) bool {
	// Prefer built-in/MacBook mics over external/virtual
	preferred := []string{"macbook", "built-in"}
	for _, p := range preferred {
		if containsIgnoreCase(name, p) && !containsIgnoreCase(current, p) {
			return true
		}
	}
	return false
}

func isExcluded(name string, excluded []string) bool {
	for _, ex := range excluded {
		if ex != "" && containsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

// selectDevices picks the best microphone and the first loopback device.
func selectDevices(devices []Device, excluded []string, systemAudio bool) selection {
	sel := selection{mic: -1, system: -1}
	for i, dev := range devices {
		if dev.MaxInputChannels < 1 || isExcluded(dev.Name, excluded) {
			continue
		}
		switch classifyDevice(dev.Name) {
		case SourceSystem:
			if systemAudio && sel.system < 0 {
				sel.system = i
			}
		case SourceUser:
			if sel.mic < 0 || preferDevice(dev.Name, devices[sel.mic].Name) {
				sel.mic = i
			}
		}
	}
	return sel
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
