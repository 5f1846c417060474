package saga

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/dispatch"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/messaging"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/outbox"
)

const (
	commandAggregateType = "saga"

	defaultConflictRetries = 5
)

// Orchestrator drives persisted saga state machines. Every transition commits
// atomically with the outbox record carrying the next command; events are
// matched to instances through the correlation id the remote service echoes
// back. Concurrent deliveries for one saga serialize through optimistic
// version checks with reload-and-retry.
type Orchestrator struct {
	registry *Registry
	uow      UnitOfWork
	logger   logging.Logger

	conflictRetries uint64
}

func NewOrchestrator(registry *Registry, uow UnitOfWork, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		registry:        registry,
		uow:             uow,
		logger:          logger.WithField("component", "saga_orchestrator"),
		conflictRetries: defaultConflictRetries,
	}
}

// Start creates a new instance and dispatches the first step's command in one
// transaction.
func (o *Orchestrator) Start(ctx context.Context, definitionName, sagaID string, payload []byte) error {
	if sagaID == "" {
		return errors.New("saga id is required")
	}
	definition, err := o.registry.Definition(definitionName)
	if err != nil {
		return err
	}

	instance := NewInstance(sagaID, definitionName, payload)
	return o.uow.ExecuteWithUnitOfWork(ctx, func(provider RepositoryProvider) error {
		if err := o.dispatchForward(ctx, provider, definition, instance, ""); err != nil {
			return err
		}
		return provider.Sagas().Create(ctx, instance)
	})
}

// HandleEvent applies one bus event to the saga it correlates with. Events
// for unknown or terminal sagas are logged and discarded; a concurrent
// modification is retried transparently after a reload.
func (o *Orchestrator) HandleEvent(ctx context.Context, envelope messaging.Envelope) error {
	return o.retryOnConflict(func() error {
		return o.handleEventOnce(ctx, envelope)
	})
}

// HandlerFunc adapts the orchestrator to the dispatcher's handler contract.
func (o *Orchestrator) HandlerFunc() dispatch.HandlerFunc {
	return func(ctx context.Context, envelope messaging.Envelope) ([]outbox.Record, error) {
		return nil, o.HandleEvent(ctx, envelope)
	}
}

// Abort cancels a saga that has not committed any step remotely. Once a step
// has succeeded, cancellation is routed through compensation instead.
func (o *Orchestrator) Abort(ctx context.Context, sagaID string) error {
	return o.retryOnConflict(func() error {
		return o.uow.ExecuteWithUnitOfWork(ctx, func(provider RepositoryProvider) error {
			instance, err := provider.Sagas().Get(ctx, sagaID)
			if err != nil {
				return err
			}

			switch instance.Status {
			case StatusStarted, StatusStepInProgress:
			default:
				return errors.Wrapf(ErrAbortNotAllowed, "status %s", instance.Status)
			}

			definition, err := o.registry.Definition(instance.Definition)
			if err != nil {
				return err
			}

			if instance.PendingCommandID != "" {
				instance.recordOutcome(instance.CurrentStep, OutcomeAborted)
			}
			if instance.anyStepSucceeded() {
				if err = o.beginCompensation(ctx, provider, definition, instance, instance.CurrentStep, ""); err != nil {
					return err
				}
			} else {
				instance.Status = StatusAborted
				instance.DeadlineAt = nil
			}
			return provider.Sagas().Update(ctx, instance)
		})
	})
}

func (o *Orchestrator) retryOnConflict(operation func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond

	return backoff.Retry(func() error {
		err := operation()
		if err == nil || errors.Is(err, ErrConcurrentModification) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithMaxRetries(bo, o.conflictRetries))
}

func (o *Orchestrator) handleEventOnce(ctx context.Context, envelope messaging.Envelope) error {
	log := o.logger.WithFields(logging.Fields{
		"saga_id":    envelope.CorrelationID,
		"event_type": envelope.Type,
		"event_id":   envelope.ID,
	})
	if envelope.CorrelationID == "" {
		log.Warning(errors.New("event without correlation id"), "discarding uncorrelated event")
		return nil
	}

	return o.uow.ExecuteWithUnitOfWork(ctx, func(provider RepositoryProvider) error {
		instance, err := provider.Sagas().Get(ctx, envelope.CorrelationID)
		if errors.Is(err, ErrSagaNotFound) {
			log.Warning(err, "discarding event for unknown saga")
			return nil
		}
		if err != nil {
			return err
		}

		if instance.Status.Terminal() {
			log.Info("discarding event for terminal saga")
			return nil
		}

		definition, err := o.registry.Definition(instance.Definition)
		if err != nil {
			return err
		}

		switch instance.Status {
		case StatusStepInProgress:
			return o.onForwardEvent(ctx, provider, definition, instance, envelope, log)
		case StatusCompensating:
			return o.onCompensationEvent(ctx, provider, definition, instance, envelope, log)
		default:
			log.Info("discarding event, saga is not awaiting one")
			return nil
		}
	})
}

func (o *Orchestrator) onForwardEvent(
	ctx context.Context,
	provider RepositoryProvider,
	definition Definition,
	instance *Instance,
	envelope messaging.Envelope,
	log logging.Logger,
) error {
	step := definition.Steps[instance.CurrentStep]

	switch envelope.Type {
	case step.SuccessEventType:
		instance.recordOutcome(instance.CurrentStep, OutcomeOK)
		instance.CurrentStep++
		if instance.CurrentStep < len(definition.Steps) {
			if err := o.dispatchForward(ctx, provider, definition, instance, envelope.ID); err != nil {
				return err
			}
		} else {
			instance.Status = StatusCompleted
			instance.DeadlineAt = nil
		}
	case step.FailureEventType:
		if err := o.failCurrentStep(ctx, provider, definition, instance, OutcomeFailed, envelope.ID); err != nil {
			return err
		}
	default:
		log.Info("discarding event not expected by current step")
		return nil
	}

	return provider.Sagas().Update(ctx, instance)
}

func (o *Orchestrator) onCompensationEvent(
	ctx context.Context,
	provider RepositoryProvider,
	definition Definition,
	instance *Instance,
	envelope messaging.Envelope,
	log logging.Logger,
) error {
	idx := instance.CompensatingStep
	if idx < 0 || definition.Steps[idx].Compensation == nil {
		log.Info("discarding event, no compensation in flight")
		return nil
	}
	compensation := definition.Steps[idx].Compensation

	switch envelope.Type {
	case compensation.DoneEventType:
		instance.recordOutcome(idx, OutcomeCompensated)
		if err := o.beginCompensation(ctx, provider, definition, instance, idx-1, envelope.ID); err != nil {
			return err
		}
	case compensation.FailedEventType:
		instance.recordOutcome(idx, OutcomeCompensationFailed)
		log.Error(ErrCompensationFailed, "saga stuck in compensation, step ", idx)
	default:
		log.Info("discarding event not expected by compensation in flight")
		return nil
	}

	return provider.Sagas().Update(ctx, instance)
}

// failCurrentStep records the failed outcome and starts the backward walk.
func (o *Orchestrator) failCurrentStep(
	ctx context.Context,
	provider RepositoryProvider,
	definition Definition,
	instance *Instance,
	outcome Outcome,
	causationID string,
) error {
	instance.recordOutcome(instance.CurrentStep, outcome)
	instance.Status = StatusStepFailed
	instance.DeadlineAt = nil
	return o.beginCompensation(ctx, provider, definition, instance, instance.CurrentStep, causationID)
}

// beginCompensation dispatches the compensating command for the next
// compensable step at or below from, or finishes the saga as COMPENSATED when
// none remain.
func (o *Orchestrator) beginCompensation(
	ctx context.Context,
	provider RepositoryProvider,
	definition Definition,
	instance *Instance,
	from int,
	causationID string,
) error {
	idx := instance.nextCompensableStep(definition, min(from, len(definition.Steps)-1))
	if idx < 0 {
		instance.Status = StatusCompensated
		instance.CompensatingStep = -1
		instance.DeadlineAt = nil
		return nil
	}

	instance.Status = StatusCompensating
	instance.CompensatingStep = idx
	instance.DeadlineAt = nil

	compensation := definition.Steps[idx].Compensation
	record, err := outbox.NewRecord(
		compensation.CommandTopic,
		commandAggregateType,
		instance.SagaID,
		compensation.CommandType,
		instance.Payload,
	)
	if err != nil {
		return err
	}
	record.CorrelationID = instance.SagaID
	record.CausationID = causationID
	instance.PendingCommandID = record.ID

	return provider.Outbox().Append(ctx, record)
}

func (o *Orchestrator) dispatchForward(
	ctx context.Context,
	provider RepositoryProvider,
	definition Definition,
	instance *Instance,
	causationID string,
) error {
	step := definition.Steps[instance.CurrentStep]

	record, err := outbox.NewRecord(
		step.CommandTopic,
		commandAggregateType,
		instance.SagaID,
		step.CommandType,
		instance.Payload,
	)
	if err != nil {
		return err
	}
	record.CorrelationID = instance.SagaID
	record.CausationID = causationID

	instance.Status = StatusStepInProgress
	instance.PendingCommandID = record.ID
	deadline := time.Now().UTC().Add(step.Timeout)
	instance.DeadlineAt = &deadline

	return provider.Outbox().Append(ctx, record)
}
