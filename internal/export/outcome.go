package export

import (
	"errors"
	"fmt"
)

// Static errors for export scheduling.
var (
	// ErrNoDestination is returned when Export is called without a destination.
	ErrNoDestination = errors.New("export destination is empty")
	// ErrDestinationExists is returned when the destination already exists and
	// RemoveExisting was not requested.
	ErrDestinationExists = errors.New("export destination already exists")
	// ErrRenderLost is reported when a render stops without delivering a result.
	ErrRenderLost = errors.New("render ended without a result")
)

// State is the lifecycle state of one export.
type State string

const (
	// StatePending is the state before the render has started.
	StatePending State = "pending"
	// StateExporting means the render is running.
	StateExporting State = "exporting"
	// StateCompleted means the destination was fully written.
	StateCompleted State = "completed"
	// StateFailed means the render failed.
	StateFailed State = "failed"
	// StateCancelled means the render was stopped before finishing.
	StateCancelled State = "cancelled"
)

// IsTerminal returns true if no further transitions are possible.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Outcome is the terminal result of an export.
type Outcome struct {
	State State
	// Location is the written destination. Set only for StateCompleted.
	Location string
	// Err is an *ExportFailure for StateFailed and the cancellation cause for
	// StateCancelled.
	Err error
}

// Succeeded reports whether the export completed.
func (o Outcome) Succeeded() bool {
	return o.State == StateCompleted
}

// ExportFailure wraps the error that made a render fail.
type ExportFailure struct {
	Destination string
	Err         error
}

func (e *ExportFailure) Error() string {
	return fmt.Sprintf("export to %s failed: %v", e.Destination, e.Err)
}

func (e *ExportFailure) Unwrap() error {
	return e.Err
}
