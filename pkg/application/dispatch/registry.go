package dispatch

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/messaging"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/outbox"
)

// HandlerFunc applies the effect of one inbound message. Returned records are
// appended to the outbox in the same transaction as the idempotency ledger
// insert, so the effect and the fact of handling commit together.
type HandlerFunc func(ctx context.Context, envelope messaging.Envelope) ([]outbox.Record, error)

// Registry maps message types to handlers. It is built at startup and passed
// to the dispatcher by reference; registration after Start is not supported.
type Registry struct {
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

func (r *Registry) Register(messageType string, handler HandlerFunc) error {
	if messageType == "" {
		return errors.New("message type is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	if _, ok := r.handlers[messageType]; ok {
		return errors.Errorf("handler for message type %q already registered", messageType)
	}
	r.handlers[messageType] = handler
	return nil
}

func (r *Registry) handler(messageType string) (HandlerFunc, bool) {
	handler, ok := r.handlers[messageType]
	return handler, ok
}
