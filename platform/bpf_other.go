//go:build !linux

package platform

import (
	"context"
	"errors"
)

// ErrUnsupported is returned where the kernel substrate is absent.
var ErrUnsupported = errors.New("kernel capture substrate requires linux")

type stubMonitor struct{}

// NewMonitor returns a monitor that refuses to run. The capture engine
// itself stays usable for development and tests on any platform.
func NewMonitor(cfg Config) (Monitor, error) {
	return stubMonitor{}, nil
}

func (stubMonitor) Run(ctx context.Context) error { return ErrUnsupported }
func (stubMonitor) Close()                        {}
