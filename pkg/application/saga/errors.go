package saga

import "github.com/pkg/errors"

var (
	ErrSagaNotFound = errors.New("saga instance not found")

	// ErrConcurrentModification marks an optimistic concurrency conflict on a
	// saga update. Callers retry after reloading the instance.
	ErrConcurrentModification = errors.New("saga instance modified concurrently")

	ErrDefinitionNotFound = errors.New("saga definition not registered")

	// ErrAbortNotAllowed is returned when a saga is past the point where a
	// bare abort is sound; cancellation must then go through compensation.
	ErrAbortNotAllowed = errors.New("saga cannot be aborted in its current state")

	// ErrCompensationFailed means a compensating command itself failed. The
	// saga stays COMPENSATING and is surfaced for operator intervention
	// rather than falsely reported COMPENSATED.
	ErrCompensationFailed = errors.New("compensating command failed")
)
