package outboxmigrations

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/mysql"
)

func newVersion1767120411(client mysql.ClientContext) migrator.Migration {
	return &version1767120411{
		client: client,
	}
}

type version1767120411 struct {
	client mysql.ClientContext
}

func (v version1767120411) Version() int64 {
	return 1767120411
}

func (v version1767120411) Description() string {
	return "Create 'outbox_event' table"
}

func (v version1767120411) Up(ctx context.Context) error {
	_, err := v.client.ExecContext(ctx, `
		CREATE TABLE outbox_event
		(
		    id               CHAR(36)        NOT NULL,
		    destination      VARBINARY(255)  NOT NULL,
		    aggregate_type   VARBINARY(128)  NOT NULL,
		    aggregate_id     VARBINARY(128)  NOT NULL,
		    event_type       VARBINARY(128)  NOT NULL,
		    payload          MEDIUMBLOB      NOT NULL,
		    correlation_id   VARBINARY(128)  NULL,
		    causation_id     VARBINARY(128)  NULL,
		    occurred_at      DATETIME(6)     NOT NULL,
		    published        TINYINT(1)      NOT NULL DEFAULT 0,
		    published_at     DATETIME(6)     NULL,
		    PRIMARY KEY (id),
		    KEY idx_outbox_event_unpublished (published, occurred_at)
		) 
		    ENGINE = InnoDB
		    CHARACTER SET = utf8mb4
		    COLLATE utf8mb4_unicode_ci
	`)
	return errors.WithStack(err)
}
