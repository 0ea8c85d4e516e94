//go:build darwin

package screen

import (
	"context"
	"fmt"
)

// windowListScript prints one tab-separated line per visible window.
const windowListScript = `set out to ""
tell application "System Events"
	repeat with p in (every process whose visible is true)
		set pid to unix id of p
		set i to 0
		repeat with w in (every window of p)
			set i to i + 1
			try
				set {x, y} to position of w
				set {ww, hh} to size of w
				set out to out & pid & tab & i & tab & x & tab & y & tab & ww & tab & hh & tab & (name of w) & linefeed
			end try
		end repeat
	end repeat
end tell
return out`

type darwinBackend struct{}

func (darwinBackend) listWindows(ctx context.Context) ([]Window, error) {
	out, err := run(ctx, "osascript", "-e", windowListScript)
	if err != nil {
		return nil, err
	}
	return parseAppleScriptWindows(out), nil
}

func (darwinBackend) grab(ctx context.Context, w Window, dst string) error {
	region := fmt.Sprintf("%d,%d,%d,%d", w.X, w.Y, w.Width, w.Height)
	_, err := run(ctx, "screencapture", "-x", "-t", "jpg", "-R", region, dst)
	return err
}

// New creates a platform-specific window enumerator
func New() *Enumerator {
	return newEnumerator(darwinBackend{})
}
