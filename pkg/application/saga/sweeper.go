package saga

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/logging"
)

// Sweeper periodically expires STEP_IN_PROGRESS instances whose deadline has
// elapsed, transitioning them as if a failure event with reason TIMEOUT had
// arrived, and reports sagas stuck in COMPENSATING for operator attention.
type Sweeper struct {
	orchestrator *Orchestrator
	uow          UnitOfWork

	interval       time.Duration
	stuckThreshold time.Duration
	batchSize      uint
	logger         logging.Logger
}

func NewSweeper(
	orchestrator *Orchestrator,
	uow UnitOfWork,
	interval time.Duration,
	stuckThreshold time.Duration,
	batchSize uint,
	logger logging.Logger,
) *Sweeper {
	return &Sweeper{
		orchestrator:   orchestrator,
		uow:            uow,
		interval:       interval,
		stuckThreshold: stuckThreshold,
		batchSize:      batchSize,
		logger:         logger.WithField("component", "saga_sweeper"),
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.interval):
		}

		if err := s.Sweep(ctx); err != nil {
			s.logger.Error(err, "saga sweep failed")
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	if err := s.expireDeadlines(ctx, now); err != nil {
		return err
	}
	return s.reportStuck(ctx, now)
}

func (s *Sweeper) expireDeadlines(ctx context.Context, now time.Time) error {
	var expired []*Instance
	err := s.uow.ExecuteWithUnitOfWork(ctx, func(provider RepositoryProvider) error {
		var err error
		expired, err = provider.Sagas().ListExpired(ctx, now, s.batchSize)
		return err
	})
	if err != nil {
		return err
	}

	// Each instance gets its own transaction so a lost version race rolls the
	// compensating command back together with the state transition.
	for _, candidate := range expired {
		err = s.expireInstance(ctx, candidate.SagaID, now)
		if errors.Is(err, ErrConcurrentModification) {
			// An event for this saga landed first; it wins.
			s.logger.WithField("saga_id", candidate.SagaID).Debug("skipping expired saga, updated concurrently")
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Sweeper) expireInstance(ctx context.Context, sagaID string, now time.Time) error {
	o := s.orchestrator
	return s.uow.ExecuteWithUnitOfWork(ctx, func(provider RepositoryProvider) error {
		instance, err := provider.Sagas().Get(ctx, sagaID)
		if errors.Is(err, ErrSagaNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if instance.Status != StatusStepInProgress || instance.DeadlineAt == nil || !instance.DeadlineAt.Before(now) {
			return nil
		}

		definition, err := o.registry.Definition(instance.Definition)
		if err != nil {
			return err
		}
		if err = o.failCurrentStep(ctx, provider, definition, instance, OutcomeTimeout, ""); err != nil {
			return err
		}
		if err = provider.Sagas().Update(ctx, instance); err != nil {
			return err
		}
		s.logger.WithField("saga_id", instance.SagaID).Info("saga step timed out, compensating")
		return nil
	})
}

func (s *Sweeper) reportStuck(ctx context.Context, now time.Time) error {
	return s.uow.ExecuteWithUnitOfWork(ctx, func(provider RepositoryProvider) error {
		stuck, err := provider.Sagas().ListStuckCompensating(ctx, now.Add(-s.stuckThreshold), s.batchSize)
		if err != nil {
			return err
		}
		for _, instance := range stuck {
			s.logger.WithFields(logging.Fields{
				"saga_id":           instance.SagaID,
				"compensating_step": instance.CompensatingStep,
				"updated_at":        instance.UpdatedAt,
			}).Error(ErrCompensationFailed, "saga stuck in compensation, manual intervention required")
		}
		return nil
	})
}
