package sagamigrations

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/mysql"
)

func newVersion1767120833(client mysql.ClientContext) migrator.Migration {
	return &version1767120833{
		client: client,
	}
}

type version1767120833 struct {
	client mysql.ClientContext
}

func (v version1767120833) Version() int64 {
	return 1767120833
}

func (v version1767120833) Description() string {
	return "Create 'saga_instance' table"
}

func (v version1767120833) Up(ctx context.Context) error {
	_, err := v.client.ExecContext(ctx, `
		CREATE TABLE saga_instance
		(
		    saga_id             VARBINARY(128)  NOT NULL,
		    definition_name     VARBINARY(128)  NOT NULL,
		    status              VARBINARY(32)   NOT NULL,
		    current_step        INT             NOT NULL,
		    compensating_step   INT             NOT NULL,
		    pending_command_id  CHAR(36)        NOT NULL DEFAULT '',
		    payload             MEDIUMBLOB      NOT NULL,
		    step_history        MEDIUMTEXT      NOT NULL,
		    deadline_at         DATETIME(6)     NULL,
		    created_at          DATETIME(6)     NOT NULL,
		    updated_at          DATETIME(6)     NOT NULL,
		    version             BIGINT          NOT NULL,
		    PRIMARY KEY (saga_id),
		    KEY idx_saga_instance_deadline (status, deadline_at),
		    KEY idx_saga_instance_updated (status, updated_at)
		) 
		    ENGINE = InnoDB
		    CHARACTER SET = utf8mb4
		    COLLATE utf8mb4_unicode_ci
	`)
	return errors.WithStack(err)
}
