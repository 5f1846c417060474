package inbox

import (
	"context"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/dispatch"
	appoutbox "gitea.xscloud.ru/xscloud/sagakit/pkg/application/outbox"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/mysql"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/outbox"
)

// NewUnitOfWork builds the dispatcher's unit of work: the ledger insert, the
// handled effect and any emitted outbox records commit together.
func NewUnitOfWork(pool mysql.ConnectionPool) dispatch.UnitOfWork {
	return &unitOfWork{
		inner: mysql.NewUnitOfWork(pool, func(client mysql.ClientContext) *provider {
			return &provider{
				ledger: NewLedger(client),
				outbox: outbox.NewRepository(client),
			}
		}),
	}
}

type provider struct {
	ledger *Ledger
	outbox *outbox.Repository
}

func (p *provider) Ledger() dispatch.Ledger {
	return p.ledger
}

func (p *provider) Outbox() appoutbox.Appender {
	return p.outbox
}

type unitOfWork struct {
	inner mysql.UnitOfWork[*provider]
}

func (u *unitOfWork) ExecuteWithUnitOfWork(ctx context.Context, callback func(provider dispatch.RepositoryProvider) error) error {
	return u.inner.ExecuteWithUnitOfWork(ctx, func(p *provider) error {
		return callback(p)
	})
}
