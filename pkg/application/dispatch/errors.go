package dispatch

import "github.com/pkg/errors"

var (
	// ErrDuplicateMessage marks a ledger hit. The dispatcher treats it as
	// success: the effect is already durable, the delivery is acknowledged.
	ErrDuplicateMessage = errors.New("message already processed")

	// ErrUnroutableMessage marks a message type with no registered handler.
	ErrUnroutableMessage = errors.New("no handler registered for message type")
)
