package process

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when a live handle already exists for the name.
	ErrAlreadyRunning = errors.New("service already running")
	// ErrStoppedDuringStart is returned when Stop removed the handle while the spawn was in flight.
	ErrStoppedDuringStart = errors.New("service stopped while starting")
)

// LaunchError reports that a service executable could not be spawned.
type LaunchError struct {
	Name string
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("launch %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("launch %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// IsLaunchError reports whether err is or wraps a *LaunchError.
func IsLaunchError(err error) bool {
	var le *LaunchError
	return errors.As(err, &le)
}
