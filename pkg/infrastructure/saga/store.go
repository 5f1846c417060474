package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/saga"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/infrastructure/mysql"
)

type storedInstance struct {
	SagaID           string       `db:"saga_id"`
	DefinitionName   string       `db:"definition_name"`
	Status           string       `db:"status"`
	CurrentStep      int          `db:"current_step"`
	CompensatingStep int          `db:"compensating_step"`
	PendingCommandID string       `db:"pending_command_id"`
	Payload          []byte       `db:"payload"`
	StepHistory      []byte       `db:"step_history"`
	DeadlineAt       sql.NullTime `db:"deadline_at"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
	Version          int64        `db:"version"`
}

// Store persists saga instances through the client of the transaction it was
// built with. Updates carry an optimistic version guard so concurrent event
// deliveries for one saga serialize instead of clobbering each other.
type Store struct {
	client mysql.ClientContext
}

func NewStore(client mysql.ClientContext) *Store {
	return &Store{client: client}
}

func (s *Store) Create(ctx context.Context, instance *saga.Instance) error {
	row, err := toStored(instance)
	if err != nil {
		return err
	}

	_, err = s.client.ExecContext(ctx, `
		INSERT INTO saga_instance
			(saga_id, definition_name, status, current_step, compensating_step,
			 pending_command_id, payload, step_history, deadline_at,
			 created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.SagaID, row.DefinitionName, row.Status, row.CurrentStep, row.CompensatingStep,
		row.PendingCommandID, row.Payload, row.StepHistory, row.DeadlineAt,
		row.CreatedAt, row.UpdatedAt, row.Version,
	)
	return errors.WithStack(err)
}

func (s *Store) Get(ctx context.Context, sagaID string) (*saga.Instance, error) {
	var row storedInstance
	err := s.client.GetContext(ctx, &row, `
		SELECT
			saga_id, definition_name, status, current_step, compensating_step,
			pending_command_id, payload, step_history, deadline_at,
			created_at, updated_at, version
		FROM saga_instance
		WHERE saga_id = ?
	`, sagaID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(saga.ErrSagaNotFound, sagaID)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return row.toInstance()
}

func (s *Store) Update(ctx context.Context, instance *saga.Instance) error {
	row, err := toStored(instance)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.client.ExecContext(ctx, `
		UPDATE saga_instance
		SET status = ?, current_step = ?, compensating_step = ?,
		    pending_command_id = ?, step_history = ?, deadline_at = ?,
		    updated_at = ?, version = version + 1
		WHERE saga_id = ? AND version = ?
	`,
		row.Status, row.CurrentStep, row.CompensatingStep,
		row.PendingCommandID, row.StepHistory, row.DeadlineAt,
		now,
		row.SagaID, row.Version,
	)
	if err != nil {
		return errors.WithStack(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected == 0 {
		return errors.Wrap(saga.ErrConcurrentModification, instance.SagaID)
	}

	instance.Version++
	instance.UpdatedAt = now
	return nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time, limit uint) ([]*saga.Instance, error) {
	return s.list(ctx, `
		SELECT
			saga_id, definition_name, status, current_step, compensating_step,
			pending_command_id, payload, step_history, deadline_at,
			created_at, updated_at, version
		FROM saga_instance
		WHERE status = ? AND deadline_at IS NOT NULL AND deadline_at < ?
		ORDER BY deadline_at
		LIMIT ?
	`, string(saga.StatusStepInProgress), now, limit)
}

func (s *Store) ListStuckCompensating(ctx context.Context, updatedBefore time.Time, limit uint) ([]*saga.Instance, error) {
	return s.list(ctx, `
		SELECT
			saga_id, definition_name, status, current_step, compensating_step,
			pending_command_id, payload, step_history, deadline_at,
			created_at, updated_at, version
		FROM saga_instance
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?
	`, string(saga.StatusCompensating), updatedBefore, limit)
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*saga.Instance, error) {
	var rows []storedInstance
	err := s.client.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	instances := make([]*saga.Instance, 0, len(rows))
	for _, row := range rows {
		instance, err := row.toInstance()
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

func toStored(instance *saga.Instance) (storedInstance, error) {
	history, err := json.Marshal(instance.History)
	if err != nil {
		return storedInstance{}, errors.WithStack(err)
	}

	row := storedInstance{
		SagaID:           instance.SagaID,
		DefinitionName:   instance.Definition,
		Status:           string(instance.Status),
		CurrentStep:      instance.CurrentStep,
		CompensatingStep: instance.CompensatingStep,
		PendingCommandID: instance.PendingCommandID,
		Payload:          instance.Payload,
		StepHistory:      history,
		CreatedAt:        instance.CreatedAt,
		UpdatedAt:        instance.UpdatedAt,
		Version:          instance.Version,
	}
	if instance.DeadlineAt != nil {
		row.DeadlineAt = sql.NullTime{Time: *instance.DeadlineAt, Valid: true}
	}
	return row, nil
}

func (row storedInstance) toInstance() (*saga.Instance, error) {
	var history []saga.StepResult
	if len(row.StepHistory) > 0 {
		if err := json.Unmarshal(row.StepHistory, &history); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	instance := &saga.Instance{
		SagaID:           row.SagaID,
		Definition:       row.DefinitionName,
		Status:           saga.Status(row.Status),
		CurrentStep:      row.CurrentStep,
		CompensatingStep: row.CompensatingStep,
		PendingCommandID: row.PendingCommandID,
		Payload:          row.Payload,
		History:          history,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		Version:          row.Version,
	}
	if row.DeadlineAt.Valid {
		deadline := row.DeadlineAt.Time
		instance.DeadlineAt = &deadline
	}
	return instance, nil
}
