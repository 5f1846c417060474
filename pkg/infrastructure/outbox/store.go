package outbox

import (
	"context"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/outbox"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/common/errors"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/mysql"
)

// Store runs repository operations on their own pooled connection. The relay
// uses it outside any business transaction.
type Store struct {
	pool mysql.ConnectionPool
}

func NewStore(pool mysql.ConnectionPool) *Store {
	return &Store{pool: pool}
}

func (s *Store) ListUnpublished(ctx context.Context, limit uint) (records []outbox.Record, err error) {
	conn, err := s.pool.TransactionalConnection(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, conn.Close())
	}()

	records, err = NewRepository(conn).ListUnpublished(ctx, limit)
	return records, err
}

func (s *Store) MarkPublished(ctx context.Context, id string) (err error) {
	conn, err := s.pool.TransactionalConnection(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, conn.Close())
	}()

	return NewRepository(conn).MarkPublished(ctx, id)
}
