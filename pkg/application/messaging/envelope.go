package messaging

import "context"

// Envelope is the wire unit exchanged with the bus. ID identifies the message
// for deduplication, CorrelationID links it to a saga instance and CausationID
// to the message that produced it.
type Envelope struct {
	ID            string
	Type          string
	CorrelationID string
	CausationID   string
	Payload       []byte
}

type Publisher interface {
	Publish(ctx context.Context, topic string, envelope Envelope) error
}

// Handler processes one inbound envelope. A nil result acknowledges the
// message, an error negatively acknowledges it and the bus redelivers.
type Handler func(ctx context.Context, envelope Envelope) error
