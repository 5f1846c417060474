package outboxmigrations

import (
	"context"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/common/errors"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/common/io"
	libmigrator "gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/mysql"
)

func NewOutboxMigrator(
	ctx context.Context,
	pool mysql.ConnectionPool,
	logger logging.Logger,
) (migrator libmigrator.Migrator, release io.CloserFunc, err error) {
	conn, err2 := pool.TransactionalConnection(ctx)
	if err2 != nil {
		return nil, nil, err2
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, conn.Close())
		}
	}()

	const tablePrefix = "outbox"
	l := logger.WithField("migrator", tablePrefix)
	factory := libmigrator.NewMigratorFactory(tablePrefix, conn, l)

	migrations := make([]libmigrator.Migration, 0, len(builderFunctions))
	for _, builder := range builderFunctions {
		migrations = append(migrations, builder(conn))
	}

	migrator, err = factory.NewMigrator(ctx, migrations...)
	if err != nil {
		return nil, nil, err
	}
	return migrator, conn.Close, nil
}

var builderFunctions = []func(client mysql.ClientContext) libmigrator.Migration{
	newVersion1767120411,
}
