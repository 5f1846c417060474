package amqp

import (
	"context"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/messaging"
)

const envelopeContentType = "application/octet-stream"

// NewBusPublisher exposes a producer as the application-level publisher. The
// producer waits for broker confirmation, so a nil result means the bus has
// durably accepted the message.
func NewBusPublisher(producer Producer) messaging.Publisher {
	return &busPublisher{producer: producer}
}

type busPublisher struct {
	producer Producer
}

func (p *busPublisher) Publish(ctx context.Context, topic string, envelope messaging.Envelope) error {
	return p.producer.Publish(ctx, Delivery{
		RoutingKey:    topic,
		MessageID:     envelope.ID,
		CorrelationID: envelope.CorrelationID,
		CausationID:   envelope.CausationID,
		ContentType:   envelopeContentType,
		Type:          envelope.Type,
		Body:          envelope.Payload,
	})
}

// NewEnvelopeHandler adapts an application handler to the consumer contract:
// a handler error negatively acknowledges the delivery and the broker
// redelivers it.
func NewEnvelopeHandler(handler messaging.Handler) Handler {
	return func(ctx context.Context, delivery Delivery) error {
		return handler(ctx, EnvelopeFromDelivery(delivery))
	}
}

func EnvelopeFromDelivery(delivery Delivery) messaging.Envelope {
	return messaging.Envelope{
		ID:            delivery.MessageID,
		Type:          delivery.Type,
		CorrelationID: delivery.CorrelationID,
		CausationID:   delivery.CausationID,
		Payload:       delivery.Body,
	}
}
