//go:build windows

package activity

import (
	"context"
	"errors"
	"log/slog"
)

type windowsProber struct{}

// NewProber returns the prober for this platform.
func NewProber() Prober { return windowsProber{} }

func (windowsProber) Probe(context.Context) (Probe, error) {
	slog.Warn("Windows activity probing not yet implemented")
	return Probe{}, errors.New("activity probing unsupported on windows")
}
