package saga

import (
	"context"
	"time"

	appoutbox "gitea.xscloud.ru/xscloud/sagakit/pkg/application/outbox"
	appsaga "gitea.xscloud.ru/xscloud/sagakit/pkg/application/saga"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/mysql"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/outbox"
)

// NewUnitOfWork builds the orchestrator's unit of work: saga updates and the
// outbox records they emit share one transaction.
func NewUnitOfWork(pool mysql.ConnectionPool) appsaga.UnitOfWork {
	return &unitOfWork{
		inner: mysql.NewUnitOfWork(pool, func(client mysql.ClientContext) *provider {
			return &provider{
				sagas:  NewStore(client),
				outbox: outbox.NewRepository(client),
			}
		}),
	}
}

// NewLockedUnitOfWork wraps the unit of work in a named advisory lock so that
// only one process runs the callback at a time. The sweeper uses it to avoid
// concurrent sweeps across replicas.
func NewLockedUnitOfWork(pool mysql.ConnectionPool, lockName string, lockTimeout time.Duration) appsaga.UnitOfWork {
	inner := mysql.NewUnitOfWork(pool, func(client mysql.ClientContext) *provider {
		return &provider{
			sagas:  NewStore(client),
			outbox: outbox.NewRepository(client),
		}
	})
	return &lockedUnitOfWork{
		inner:       mysql.NewLockableUnitOfWork(inner, mysql.NewLocker(pool)),
		lockName:    lockName,
		lockTimeout: lockTimeout,
	}
}

type lockedUnitOfWork struct {
	inner       mysql.LockableUnitOfWork[*provider]
	lockName    string
	lockTimeout time.Duration
}

func (u *lockedUnitOfWork) ExecuteWithUnitOfWork(ctx context.Context, callback func(provider appsaga.RepositoryProvider) error) error {
	return u.inner.ExecuteWithLockableUnitOfWork(ctx, u.lockName, u.lockTimeout, func(p *provider) error {
		return callback(p)
	})
}

type provider struct {
	sagas  *Store
	outbox *outbox.Repository
}

func (p *provider) Sagas() appsaga.Store {
	return p.sagas
}

func (p *provider) Outbox() appoutbox.Appender {
	return p.outbox
}

type unitOfWork struct {
	inner mysql.UnitOfWork[*provider]
}

func (u *unitOfWork) ExecuteWithUnitOfWork(ctx context.Context, callback func(provider appsaga.RepositoryProvider) error) error {
	return u.inner.ExecuteWithUnitOfWork(ctx, func(p *provider) error {
		return callback(p)
	})
}
