package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/messaging"
	appoutbox "gitea.xscloud.ru/xscloud/sagakit/pkg/application/outbox"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/mysql"
)

const relayLockName = "outbox_relay"

// Source is the slice of the outbox the relay needs.
type Source interface {
	ListUnpublished(ctx context.Context, limit uint) ([]appoutbox.Record, error)
	MarkPublished(ctx context.Context, id string) error
}

type Relay interface {
	Start(ctx context.Context) error
}

// NewRelay builds the poller that drains unpublished records to the bus.
// Records are published sequentially in occurred-at order and marked published
// only after the bus confirms acceptance; a crash in between republishes the
// record, which downstream idempotency absorbs. A publish failure stops the
// batch, leaves the record unpublished and is retried with capped exponential
// backoff, indefinitely.
func NewRelay(
	source Source,
	publisher messaging.Publisher,
	locker mysql.Locker,
	batchSize uint,
	pollInterval time.Duration,
	lockTimeout time.Duration,
	maxBackoff time.Duration,
	logger logging.Logger,
) Relay {
	return &relay{
		source:       source,
		publisher:    publisher,
		locker:       locker,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		lockTimeout:  lockTimeout,
		maxBackoff:   maxBackoff,
		logger:       logger.WithField("component", "outbox_relay"),
	}
}

type relay struct {
	source    Source
	publisher messaging.Publisher
	locker    mysql.Locker

	batchSize    uint
	pollInterval time.Duration
	lockTimeout  time.Duration
	maxBackoff   time.Duration
	logger       logging.Logger
}

func (r *relay) Start(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = r.maxBackoff
	bo.MaxElapsedTime = 0

	delay := r.pollInterval
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		err := r.relayBatch(ctx)
		if err != nil {
			r.logger.Error(err, "outbox relay pass failed")
			delay = bo.NextBackOff()
			continue
		}
		bo.Reset()
		delay = r.pollInterval
	}
}

func (r *relay) relayBatch(ctx context.Context) error {
	return r.locker.ExecuteWithLock(ctx, relayLockName, r.lockTimeout, func() error {
		records, err := r.source.ListUnpublished(ctx, r.batchSize)
		if err != nil {
			return err
		}

		for _, record := range records {
			err = r.publisher.Publish(ctx, record.Destination, messaging.Envelope{
				ID:            record.ID,
				Type:          record.EventType,
				CorrelationID: record.CorrelationID,
				CausationID:   record.CausationID,
				Payload:       record.Payload,
			})
			if err != nil {
				return errors.Wrapf(err, "publish record %s", record.ID)
			}
			if err = r.source.MarkPublished(ctx, record.ID); err != nil {
				return errors.Wrapf(err, "mark record %s published", record.ID)
			}
		}
		return nil
	})
}
