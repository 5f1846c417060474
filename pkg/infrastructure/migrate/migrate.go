package migrate

import (
	"context"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/common/errors"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/common/io"
	inboxmigrations "gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/inbox/migrations"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/mysql"
	outboxmigrations "gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/outbox/migrations"
	sagamigrations "gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/saga/migrations"
)

type migratorBuilder func(ctx context.Context, pool mysql.ConnectionPool, logger logging.Logger) (migrator.Migrator, io.CloserFunc, error)

var builders = []migratorBuilder{
	outboxmigrations.NewOutboxMigrator,
	inboxmigrations.NewInboxMigrator,
	sagamigrations.NewSagaMigrator,
}

// Run applies the outbox, inbox and saga schema migrations.
func Run(ctx context.Context, pool mysql.ConnectionPool, logger logging.Logger) (err error) {
	closer := io.NewMultiCloser()
	defer func() {
		err = errors.Join(err, closer.Close())
	}()

	for _, builder := range builders {
		m, release, err := builder(ctx, pool, logger)
		if err != nil {
			return err
		}
		closer.AddCloser(release)

		if err = m.Migrate(); err != nil {
			return err
		}
	}
	return nil
}
