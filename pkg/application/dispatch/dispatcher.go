package dispatch

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/messaging"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/outbox"
)

// Ledger records message ids whose effect has been durably applied. TryInsert
// reports false on a key that already exists; uniqueness is enforced by the
// store, not by in-process locking, because several dispatcher instances may
// run for the same consumer.
type Ledger interface {
	TryInsert(ctx context.Context, consumerName, messageID string) (bool, error)
}

type RepositoryProvider interface {
	Ledger() Ledger
	Outbox() outbox.Appender
}

type UnitOfWork interface {
	ExecuteWithUnitOfWork(ctx context.Context, callback func(provider RepositoryProvider) error) error
}

type Dispatcher struct {
	consumerName    string
	registry        *Registry
	uow             UnitOfWork
	deadLetters     messaging.Publisher
	deadLetterTopic string
	logger          logging.Logger
}

func NewDispatcher(
	consumerName string,
	registry *Registry,
	uow UnitOfWork,
	logger logging.Logger,
) *Dispatcher {
	if consumerName == "" {
		panic("consumer name is required")
	}
	return &Dispatcher{
		consumerName: consumerName,
		registry:     registry,
		uow:          uow,
		logger:       logger.WithField("consumer", consumerName),
	}
}

// WithDeadLetterSink routes unroutable messages to the given topic instead of
// dropping them after the warning.
func (d *Dispatcher) WithDeadLetterSink(publisher messaging.Publisher, topic string) *Dispatcher {
	d.deadLetters = publisher
	d.deadLetterTopic = topic
	return d
}

// OnMessage applies one inbound envelope. A nil result means the delivery may
// be acknowledged; duplicates and unroutable messages are acknowledged too,
// the former silently, the latter with a warning and an optional dead-letter
// publish. A handler error is returned as-is so the bus redelivers.
func (d *Dispatcher) OnMessage(ctx context.Context, envelope messaging.Envelope) error {
	log := d.logger.WithFields(logging.Fields{
		"message_id":   envelope.ID,
		"message_type": envelope.Type,
	})

	if envelope.ID == "" {
		log.Warning(errors.New("envelope without message id"), "dropping unidentifiable message")
		return nil
	}

	handler, ok := d.registry.handler(envelope.Type)
	if !ok {
		return d.deadLetter(ctx, log, envelope)
	}

	err := d.uow.ExecuteWithUnitOfWork(ctx, func(provider RepositoryProvider) error {
		inserted, err := provider.Ledger().TryInsert(ctx, d.consumerName, envelope.ID)
		if err != nil {
			return err
		}
		if !inserted {
			return ErrDuplicateMessage
		}

		records, err := handler(ctx, envelope)
		if err != nil {
			return err
		}

		for _, record := range records {
			record.CausationID = envelope.ID
			if record.CorrelationID == "" {
				record.CorrelationID = envelope.CorrelationID
			}
			if err = provider.Outbox().Append(ctx, record); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateMessage) {
		log.Debug("duplicate delivery, effect already applied")
		return nil
	}
	return err
}

func (d *Dispatcher) deadLetter(ctx context.Context, log logging.Logger, envelope messaging.Envelope) error {
	log.Warning(ErrUnroutableMessage, "acknowledging unroutable message")
	if d.deadLetters == nil {
		return nil
	}
	if err := d.deadLetters.Publish(ctx, d.deadLetterTopic, envelope); err != nil {
		// Keep the message on the bus until the dead-letter sink accepts it.
		return errors.Wrap(err, "publish to dead-letter sink")
	}
	return nil
}
