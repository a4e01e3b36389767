package checkpoint

import (
	"errors"
	"fmt"
)

// ErrLocked is returned when another run holds the slug lock.
var ErrLocked = errors.New("run is locked by another process")

// CorruptCheckpointError reports a checkpoint file that exists but does not
// hold valid JSON.
type CorruptCheckpointError struct {
	Path string
	Err  error
}

func (e *CorruptCheckpointError) Error() string {
	return fmt.Sprintf("corrupt checkpoint %s: %v", e.Path, e.Err)
}

func (e *CorruptCheckpointError) Unwrap() error { return e.Err }
