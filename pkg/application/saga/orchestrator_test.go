package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/messaging"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/outbox"
)

type memStore struct {
	mu        sync.Mutex
	instances map[string]Instance

	conflictsLeft int
}

func newMemStore() *memStore {
	return &memStore{instances: make(map[string]Instance)}
}

func (s *memStore) Create(_ context.Context, instance *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instance.SagaID] = cloneInstance(instance)
	return nil
}

func (s *memStore) Get(_ context.Context, sagaID string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.instances[sagaID]
	if !ok {
		return nil, errors.Wrap(ErrSagaNotFound, sagaID)
	}
	clone := cloneInstance(&stored)
	return &clone, nil
}

func (s *memStore) Update(_ context.Context, instance *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return errors.Wrap(ErrConcurrentModification, instance.SagaID)
	}
	stored, ok := s.instances[instance.SagaID]
	if !ok || stored.Version != instance.Version {
		return errors.Wrap(ErrConcurrentModification, instance.SagaID)
	}
	instance.Version++
	instance.UpdatedAt = time.Now().UTC()
	s.instances[instance.SagaID] = cloneInstance(instance)
	return nil
}

func (s *memStore) ListExpired(_ context.Context, now time.Time, _ uint) ([]*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*Instance
	for _, stored := range s.instances {
		if stored.Status == StatusStepInProgress && stored.DeadlineAt != nil && stored.DeadlineAt.Before(now) {
			clone := cloneInstance(&stored)
			expired = append(expired, &clone)
		}
	}
	return expired, nil
}

func (s *memStore) ListStuckCompensating(_ context.Context, updatedBefore time.Time, _ uint) ([]*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stuck []*Instance
	for _, stored := range s.instances {
		if stored.Status == StatusCompensating && stored.UpdatedAt.Before(updatedBefore) {
			clone := cloneInstance(&stored)
			stuck = append(stuck, &clone)
		}
	}
	return stuck, nil
}

func cloneInstance(instance *Instance) Instance {
	clone := *instance
	clone.History = append([]StepResult(nil), instance.History...)
	if instance.DeadlineAt != nil {
		deadline := *instance.DeadlineAt
		clone.DeadlineAt = &deadline
	}
	return clone
}

type memAppender struct {
	mu      sync.Mutex
	records []outbox.Record
}

func (a *memAppender) Append(_ context.Context, record outbox.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
	return nil
}

func (a *memAppender) commandTypes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	types := make([]string, 0, len(a.records))
	for _, record := range a.records {
		types = append(types, record.EventType)
	}
	return types
}

func (a *memAppender) last() outbox.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.records[len(a.records)-1]
}

type memProvider struct {
	store    *memStore
	appender *memAppender
}

func (p *memProvider) Sagas() Store             { return p.store }
func (p *memProvider) Outbox() outbox.Appender { return p.appender }

type memUnitOfWork struct {
	provider *memProvider
}

// ExecuteWithUnitOfWork stages outbox appends and merges them only when the
// callback succeeds, mirroring the rollback of the real transaction.
func (u *memUnitOfWork) ExecuteWithUnitOfWork(ctx context.Context, callback func(provider RepositoryProvider) error) error {
	staged := &memAppender{}
	err := callback(&memProvider{store: u.provider.store, appender: staged})
	if err != nil {
		return err
	}

	u.provider.appender.mu.Lock()
	defer u.provider.appender.mu.Unlock()
	u.provider.appender.records = append(u.provider.appender.records, staged.records...)
	return nil
}

func orderDefinition() Definition {
	return Definition{
		Name: "order",
		Steps: []Step{
			{
				Name:             "reserve",
				CommandType:      "reserve",
				CommandTopic:     "inventory",
				SuccessEventType: "reserve-succeeded",
				FailureEventType: "reserve-failed",
				Compensation: &Compensation{
					CommandType:     "unreserve",
					CommandTopic:    "inventory",
					DoneEventType:   "unreserve-done",
					FailedEventType: "unreserve-failed",
				},
				Timeout: time.Minute,
			},
			{
				Name:             "charge",
				CommandType:      "charge",
				CommandTopic:     "billing",
				SuccessEventType: "charge-succeeded",
				FailureEventType: "charge-failed",
				Compensation: &Compensation{
					CommandType:   "refund",
					CommandTopic:  "billing",
					DoneEventType: "refund-done",
				},
				Timeout: time.Minute,
			},
			{
				Name:             "confirm",
				CommandType:      "confirm",
				CommandTopic:     "orders",
				SuccessEventType: "confirm-succeeded",
				FailureEventType: "confirm-failed",
				Timeout:          time.Minute,
			},
		},
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *memStore, *memAppender, *memUnitOfWork) {
	t.Helper()
	registry, err := NewRegistry(orderDefinition())
	require.NoError(t, err)

	store := newMemStore()
	appender := &memAppender{}
	uow := &memUnitOfWork{provider: &memProvider{store: store, appender: appender}}
	return NewOrchestrator(registry, uow, logging.NewNopLogger()), store, appender, uow
}

func event(sagaID, eventType string) messaging.Envelope {
	return messaging.Envelope{
		ID:            eventType + "-msg",
		Type:          eventType,
		CorrelationID: sagaID,
		Payload:       []byte(`{}`),
	}
}

func TestOrchestratorStart(t *testing.T) {
	orchestrator, store, appender, _ := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, orchestrator.Start(ctx, "order", "saga-1", []byte(`{"order":1}`)))

	instance, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, StatusStepInProgress, instance.Status)
	assert.Equal(t, 0, instance.CurrentStep)
	require.NotNil(t, instance.DeadlineAt)

	require.Len(t, appender.records, 1)
	command := appender.records[0]
	assert.Equal(t, "reserve", command.EventType)
	assert.Equal(t, "inventory", command.Destination)
	assert.Equal(t, "saga-1", command.CorrelationID)
	assert.Equal(t, instance.PendingCommandID, command.ID)
	assert.Equal(t, []byte(`{"order":1}`), command.Payload)
}

func TestOrchestratorStartUnknownDefinition(t *testing.T) {
	orchestrator, _, _, _ := newTestOrchestrator(t)
	err := orchestrator.Start(context.Background(), "missing", "saga-1", nil)
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}

func TestOrchestratorCompletesHappyPath(t *testing.T) {
	orchestrator, store, appender, _ := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, orchestrator.Start(ctx, "order", "saga-1", nil))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "reserve-succeeded")))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "charge-succeeded")))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "confirm-succeeded")))

	instance, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, instance.Status)
	assert.Nil(t, instance.DeadlineAt)
	assert.Equal(t, []string{"reserve", "charge", "confirm"}, appender.commandTypes())

	require.Len(t, instance.History, 3)
	for i, result := range instance.History {
		assert.Equal(t, i, result.StepIndex)
		assert.Equal(t, OutcomeOK, result.Outcome)
	}
}

func TestOrchestratorStepFailureTriggersCompensation(t *testing.T) {
	orchestrator, store, appender, _ := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, orchestrator.Start(ctx, "order", "saga-1", nil))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "reserve-succeeded")))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "charge-failed")))

	instance, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompensating, instance.Status)
	assert.Equal(t, 0, instance.CompensatingStep)

	// One compensation for the reserve step, and confirm never dispatched.
	assert.Equal(t, []string{"reserve", "charge", "unreserve"}, appender.commandTypes())

	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "unreserve-done")))

	instance, err = store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompensated, instance.Status)
	assert.Equal(t, []string{"reserve", "charge", "unreserve"}, appender.commandTypes())
}

func TestOrchestratorCompensationWalksBackward(t *testing.T) {
	orchestrator, store, appender, _ := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, orchestrator.Start(ctx, "order", "saga-1", nil))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "reserve-succeeded")))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "charge-succeeded")))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "confirm-failed")))

	// Compensations issue in reverse order of the successful forward steps.
	assert.Equal(t, []string{"reserve", "charge", "confirm", "refund"}, appender.commandTypes())

	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "refund-done")))
	assert.Equal(t, []string{"reserve", "charge", "confirm", "refund", "unreserve"}, appender.commandTypes())

	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "unreserve-done")))

	instance, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompensated, instance.Status)
	assert.Equal(t, -1, instance.CompensatingStep)
}

func TestOrchestratorDuplicateSuccessEventAdvancesOnce(t *testing.T) {
	orchestrator, store, appender, _ := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, orchestrator.Start(ctx, "order", "saga-1", nil))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "reserve-succeeded")))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "reserve-succeeded")))

	instance, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, 1, instance.CurrentStep)
	assert.Equal(t, []string{"reserve", "charge"}, appender.commandTypes())
}

func TestOrchestratorDiscardsEventForTerminalSaga(t *testing.T) {
	orchestrator, store, appender, _ := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, orchestrator.Start(ctx, "order", "saga-1", nil))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "reserve-succeeded")))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "charge-succeeded")))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "confirm-succeeded")))

	before, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)

	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "confirm-succeeded")))

	after, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Len(t, appender.records, 3)
}

func TestOrchestratorDiscardsEventForUnknownSaga(t *testing.T) {
	orchestrator, _, appender, _ := newTestOrchestrator(t)

	require.NoError(t, orchestrator.HandleEvent(context.Background(), event("saga-unknown", "reserve-succeeded")))
	assert.Empty(t, appender.records)
}

func TestOrchestratorCompensationFailureStaysCompensating(t *testing.T) {
	orchestrator, store, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, orchestrator.Start(ctx, "order", "saga-1", nil))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "reserve-succeeded")))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "charge-failed")))
	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "unreserve-failed")))

	instance, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompensating, instance.Status)

	last := instance.History[len(instance.History)-1]
	assert.Equal(t, OutcomeCompensationFailed, last.Outcome)
	assert.Equal(t, 0, last.StepIndex)
}

func TestOrchestratorRetriesOnConcurrentModification(t *testing.T) {
	orchestrator, store, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, orchestrator.Start(ctx, "order", "saga-1", nil))

	store.mu.Lock()
	store.conflictsLeft = 2
	store.mu.Unlock()

	require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "reserve-succeeded")))

	instance, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, 1, instance.CurrentStep)
}

func TestOrchestratorAbort(t *testing.T) {
	t.Run("before any committed step", func(t *testing.T) {
		orchestrator, store, _, _ := newTestOrchestrator(t)
		ctx := context.Background()

		require.NoError(t, orchestrator.Start(ctx, "order", "saga-1", nil))
		require.NoError(t, orchestrator.Abort(ctx, "saga-1"))

		instance, err := store.Get(ctx, "saga-1")
		require.NoError(t, err)
		assert.Equal(t, StatusAborted, instance.Status)
	})

	t.Run("after a committed step goes through compensation", func(t *testing.T) {
		orchestrator, store, appender, _ := newTestOrchestrator(t)
		ctx := context.Background()

		require.NoError(t, orchestrator.Start(ctx, "order", "saga-1", nil))
		require.NoError(t, orchestrator.HandleEvent(ctx, event("saga-1", "reserve-succeeded")))
		require.NoError(t, orchestrator.Abort(ctx, "saga-1"))

		instance, err := store.Get(ctx, "saga-1")
		require.NoError(t, err)
		assert.Equal(t, StatusCompensating, instance.Status)
		assert.Equal(t, []string{"reserve", "charge", "unreserve"}, appender.commandTypes())
	})

	t.Run("not allowed once terminal", func(t *testing.T) {
		orchestrator, _, _, _ := newTestOrchestrator(t)
		ctx := context.Background()

		require.NoError(t, orchestrator.Start(ctx, "order", "saga-1", nil))
		require.NoError(t, orchestrator.Abort(ctx, "saga-1"))

		assert.ErrorIs(t, orchestrator.Abort(ctx, "saga-1"), ErrAbortNotAllowed)
	})
}
