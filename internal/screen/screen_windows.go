//go:build windows

package screen

import (
	"context"

	apperrors "github.com/GriffinCanCode/engram/internal/errors"
)

type windowsBackend struct{}

func (windowsBackend) listWindows(context.Context) ([]Window, error) {
	return nil, apperrors.New(apperrors.Unavailable, "window enumeration unsupported on windows")
}

func (windowsBackend) grab(context.Context, Window, string) error {
	return apperrors.New(apperrors.Unavailable, "window capture unsupported on windows")
}

// New creates a platform-specific window enumerator
func New() *Enumerator {
	return newEnumerator(windowsBackend{})
}
