package outbox

import (
	"context"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/outbox"
)

// NewEventDispatcher adapts typed domain events to outbox records. Events
// dispatched outside a saga get a generated correlation id carrying the app
// id and a payload digest.
func NewEventDispatcher[E outbox.Event](
	appID string,
	aggregateType string,
	serializer outbox.EventSerializer[E],
	appender outbox.Appender,
) outbox.EventDispatcher[E] {
	return &eventDispatcher[E]{
		appID:         appID,
		aggregateType: aggregateType,
		serializer:    serializer,
		appender:      appender,
	}
}

type eventDispatcher[E outbox.Event] struct {
	appID         string
	aggregateType string
	serializer    outbox.EventSerializer[E]

	appender outbox.Appender
}

func (d *eventDispatcher[E]) Dispatch(ctx context.Context, destination string, event E) error {
	payload, err := d.serializer.Serialize(event)
	if err != nil {
		return err
	}

	correlationID, err := newCorrelationID(d.appID, payload)
	if err != nil {
		return err
	}

	record, err := outbox.NewRecord(destination, d.aggregateType, d.appID, event.Type(), payload)
	if err != nil {
		return err
	}
	record.CorrelationID = correlationID

	return d.appender.Append(ctx, record)
}
