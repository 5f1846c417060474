package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Record is one pending domain event, written in the same local transaction
// as the state change it reports. Published flips false to true exactly once,
// after the bus has confirmed the delivery.
type Record struct {
	ID            string
	Destination   string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CorrelationID string
	CausationID   string
	OccurredAt    time.Time
	Published     bool
	PublishedAt   *time.Time
}

func NewRecord(destination, aggregateType, aggregateID, eventType string, payload []byte) (Record, error) {
	if eventType == "" {
		return Record{}, errors.New("event type is required")
	}
	if destination == "" {
		return Record{}, errors.New("destination is required")
	}

	uid, err := uuid.NewV7()
	if err != nil {
		return Record{}, errors.WithStack(err)
	}

	return Record{
		ID:            uid.String(),
		Destination:   destination,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		OccurredAt:    time.Now().UTC(),
	}, nil
}

// Appender stores records. Implementations must join the transaction already
// in flight for the given context, so a rolled back business mutation leaves
// no record behind.
type Appender interface {
	Append(ctx context.Context, record Record) error
}
