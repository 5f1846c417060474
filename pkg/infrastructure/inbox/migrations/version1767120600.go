package inboxmigrations

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/mysql"
)

func newVersion1767120600(client mysql.ClientContext) migrator.Migration {
	return &version1767120600{
		client: client,
	}
}

type version1767120600 struct {
	client mysql.ClientContext
}

func (v version1767120600) Version() int64 {
	return 1767120600
}

func (v version1767120600) Description() string {
	return "Create 'inbox_processed_message' table"
}

func (v version1767120600) Up(ctx context.Context) error {
	_, err := v.client.ExecContext(ctx, `
		CREATE TABLE inbox_processed_message
		(
		    consumer_name   VARBINARY(128)  NOT NULL,
		    message_id      VARBINARY(128)  NOT NULL,
		    processed_at    DATETIME(6)     NOT NULL,
		    PRIMARY KEY (consumer_name, message_id)
		) 
		    ENGINE = InnoDB
		    CHARACTER SET = utf8mb4
		    COLLATE utf8mb4_unicode_ci
	`)
	return errors.WithStack(err)
}
