package outbox

import "context"

type Event interface {
	Type() string
}

type EventSerializer[E Event] interface {
	Serialize(event E) ([]byte, error)
}

type EventDispatcher[E Event] interface {
	Dispatch(ctx context.Context, destination string, event E) error
}
