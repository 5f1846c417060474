package saga

import (
	"context"
	"time"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/outbox"
)

type Store interface {
	Create(ctx context.Context, instance *Instance) error
	Get(ctx context.Context, sagaID string) (*Instance, error)

	// Update persists the instance and bumps its version. It returns
	// ErrConcurrentModification when the stored version no longer matches.
	Update(ctx context.Context, instance *Instance) error

	// ListExpired returns instances in STEP_IN_PROGRESS whose deadline elapsed
	// before now.
	ListExpired(ctx context.Context, now time.Time, limit uint) ([]*Instance, error)

	// ListStuckCompensating returns instances that have been COMPENSATING
	// without progress since before the given time. They require operator
	// attention; the orchestrator never abandons them silently.
	ListStuckCompensating(ctx context.Context, updatedBefore time.Time, limit uint) ([]*Instance, error)
}

type RepositoryProvider interface {
	Sagas() Store
	Outbox() outbox.Appender
}

type UnitOfWork interface {
	ExecuteWithUnitOfWork(ctx context.Context, callback func(provider RepositoryProvider) error) error
}
