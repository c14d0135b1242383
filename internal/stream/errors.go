package stream

import (
	"errors"
	"fmt"
)

// Error kinds returned by the stream service. Stores return ErrNotFound,
// ErrDuplicateStreamID and ErrStatusConflict; the rest originate in the service.
var (
	ErrNotFound          = errors.New("stream not found")
	ErrDuplicateStreamID = errors.New("stream id already exists")
	ErrAlreadyActive     = errors.New("stream is already active")
	ErrAlreadyInactive   = errors.New("stream is already inactive")
	ErrStartFailed       = errors.New("failed to start stream")
	ErrStopFailed        = errors.New("failed to stop stream")
	ErrActuatorTimeout   = errors.New("media engine call timed out")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrInvalidStream     = errors.New("invalid stream")
	ErrInvalidStatus     = errors.New("invalid stream status")

	// ErrStatusConflict means a guarded transition found the row in a
	// state other than the one it expected.
	ErrStatusConflict = errors.New("stream status changed concurrently")
)

// Actuator operations
const (
	OpStart = "start"
	OpStop  = "stop"
)

// ActuatorError describes a failed start or stop. It matches ErrStartFailed or
// ErrStopFailed depending on Op, and ErrActuatorTimeout when Timeout is set.
type ActuatorError struct {
	Op       string
	StreamID string
	Timeout  bool
	Err      error
}

func (e *ActuatorError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s stream %s: media engine call timed out: %v", e.Op, e.StreamID, e.Err)
	}
	return fmt.Sprintf("%s stream %s: %v", e.Op, e.StreamID, e.Err)
}

func (e *ActuatorError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches one of the lifecycle sentinels
func (e *ActuatorError) Is(target error) bool {
	switch target {
	case ErrStartFailed:
		return e.Op == OpStart
	case ErrStopFailed:
		return e.Op == OpStop
	case ErrActuatorTimeout:
		return e.Timeout
	}
	return false
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidStream, fmt.Sprintf(format, args...))
}
