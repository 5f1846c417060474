package inbox

import (
	"context"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/mysql"
)

const duplicateEntryErrNumber = 1062

// Ledger is the processed-message table. Rows are inserted in the same
// transaction as the handled effect and never updated; the primary key on
// (consumer_name, message_id) is what collapses at-least-once delivery into
// effectively-once application across dispatcher instances.
type Ledger struct {
	client mysql.ClientContext
}

func NewLedger(client mysql.ClientContext) *Ledger {
	return &Ledger{client: client}
}

func (l *Ledger) TryInsert(ctx context.Context, consumerName, messageID string) (bool, error) {
	_, err := l.client.ExecContext(ctx, `
		INSERT INTO inbox_processed_message (consumer_name, message_id, processed_at)
		VALUES (?, ?, ?)
	`, consumerName, messageID, time.Now().UTC())
	if err != nil {
		var mysqlErr *gomysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateEntryErrNumber {
			return false, nil
		}
		return false, errors.WithStack(err)
	}
	return true, nil
}
