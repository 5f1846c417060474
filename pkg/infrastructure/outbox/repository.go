package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/outbox"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/mysql"
)

type storedRecord struct {
	ID            string         `db:"id"`
	Destination   string         `db:"destination"`
	AggregateType string         `db:"aggregate_type"`
	AggregateID   string         `db:"aggregate_id"`
	EventType     string         `db:"event_type"`
	Payload       []byte         `db:"payload"`
	CorrelationID sql.NullString `db:"correlation_id"`
	CausationID   sql.NullString `db:"causation_id"`
	OccurredAt    time.Time      `db:"occurred_at"`
	Published     bool           `db:"published"`
	PublishedAt   sql.NullTime   `db:"published_at"`
}

// Repository persists outbox records through the client of the transaction it
// was built with, so appends commit or roll back together with the business
// mutation of that transaction.
type Repository struct {
	client mysql.ClientContext
}

func NewRepository(client mysql.ClientContext) *Repository {
	return &Repository{client: client}
}

func (r *Repository) Append(ctx context.Context, record outbox.Record) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO outbox_event
			(id, destination, aggregate_type, aggregate_id, event_type, payload,
			 correlation_id, causation_id, occurred_at, published)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`,
		record.ID, record.Destination, record.AggregateType, record.AggregateID,
		record.EventType, record.Payload,
		nullable(record.CorrelationID), nullable(record.CausationID),
		record.OccurredAt,
	)
	return errors.WithStack(err)
}

func (r *Repository) ListUnpublished(ctx context.Context, limit uint) ([]outbox.Record, error) {
	var rows []storedRecord
	err := r.client.SelectContext(ctx, &rows, `
		SELECT
			id, destination, aggregate_type, aggregate_id, event_type, payload,
			correlation_id, causation_id, occurred_at, published, published_at
		FROM outbox_event
		WHERE published = 0
		ORDER BY occurred_at, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	records := make([]outbox.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

// MarkPublished is idempotent: marking an already published record is a no-op.
func (r *Repository) MarkPublished(ctx context.Context, id string) error {
	_, err := r.client.ExecContext(ctx, `
		UPDATE outbox_event
		SET published = 1, published_at = ?
		WHERE id = ? AND published = 0
	`, time.Now().UTC(), id)
	return errors.WithStack(err)
}

func (row storedRecord) toRecord() outbox.Record {
	record := outbox.Record{
		ID:            row.ID,
		Destination:   row.Destination,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		EventType:     row.EventType,
		Payload:       row.Payload,
		CorrelationID: row.CorrelationID.String,
		CausationID:   row.CausationID.String,
		OccurredAt:    row.OccurredAt,
		Published:     row.Published,
	}
	if row.PublishedAt.Valid {
		publishedAt := row.PublishedAt.Time
		record.PublishedAt = &publishedAt
	}
	return record
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
