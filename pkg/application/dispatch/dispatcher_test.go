package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/messaging"
	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/outbox"
)

type memState struct {
	processed map[string]struct{}
	records   []outbox.Record
}

type memLedger struct {
	state *memState
}

func (l *memLedger) TryInsert(_ context.Context, consumerName, messageID string) (bool, error) {
	key := consumerName + "/" + messageID
	if _, ok := l.state.processed[key]; ok {
		return false, nil
	}
	l.state.processed[key] = struct{}{}
	return true, nil
}

type memAppender struct {
	state *memState
}

func (a *memAppender) Append(_ context.Context, record outbox.Record) error {
	a.state.records = append(a.state.records, record)
	return nil
}

type memProvider struct {
	ledger *memLedger
	outbox *memAppender
}

func (p *memProvider) Ledger() Ledger           { return p.ledger }
func (p *memProvider) Outbox() outbox.Appender { return p.outbox }

// memUnitOfWork stages writes and keeps them only when the callback succeeds,
// mimicking commit/rollback.
type memUnitOfWork struct {
	mu    sync.Mutex
	state memState
}

func newMemUnitOfWork() *memUnitOfWork {
	return &memUnitOfWork{
		state: memState{processed: make(map[string]struct{})},
	}
}

func (u *memUnitOfWork) ExecuteWithUnitOfWork(_ context.Context, callback func(provider RepositoryProvider) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	staged := memState{
		processed: make(map[string]struct{}, len(u.state.processed)),
		records:   append([]outbox.Record(nil), u.state.records...),
	}
	for key := range u.state.processed {
		staged.processed[key] = struct{}{}
	}

	err := callback(&memProvider{
		ledger: &memLedger{state: &staged},
		outbox: &memAppender{state: &staged},
	})
	if err != nil {
		return err
	}
	u.state = staged
	return nil
}

type memPublisher struct {
	mu        sync.Mutex
	published map[string][]messaging.Envelope
	err       error
}

func (p *memPublisher) Publish(_ context.Context, topic string, envelope messaging.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.published == nil {
		p.published = make(map[string][]messaging.Envelope)
	}
	p.published[topic] = append(p.published[topic], envelope)
	return nil
}

func testEnvelope() messaging.Envelope {
	return messaging.Envelope{
		ID:            "msg-1",
		Type:          "order-placed",
		CorrelationID: "saga-1",
		Payload:       []byte(`{"order":1}`),
	}
}

func TestDispatcherAppliesMessageOnce(t *testing.T) {
	registry := NewRegistry()
	var calls int
	require.NoError(t, registry.Register("order-placed", func(_ context.Context, envelope messaging.Envelope) ([]outbox.Record, error) {
		calls++
		record, err := outbox.NewRecord("orders", "order", "1", "order-accepted", envelope.Payload)
		if err != nil {
			return nil, err
		}
		return []outbox.Record{record}, nil
	}))

	uow := newMemUnitOfWork()
	dispatcher := NewDispatcher("order-service", registry, uow, logging.NewNopLogger())

	require.NoError(t, dispatcher.OnMessage(context.Background(), testEnvelope()))
	require.NoError(t, dispatcher.OnMessage(context.Background(), testEnvelope()))

	assert.Equal(t, 1, calls)
	assert.Len(t, uow.state.processed, 1)

	require.Len(t, uow.state.records, 1)
	record := uow.state.records[0]
	assert.Equal(t, "order-accepted", record.EventType)
	assert.Equal(t, "msg-1", record.CausationID)
	assert.Equal(t, "saga-1", record.CorrelationID)
}

func TestDispatcherHandlerErrorRollsBack(t *testing.T) {
	registry := NewRegistry()
	handlerErr := errors.New("downstream unavailable")
	require.NoError(t, registry.Register("order-placed", func(context.Context, messaging.Envelope) ([]outbox.Record, error) {
		return nil, handlerErr
	}))

	uow := newMemUnitOfWork()
	dispatcher := NewDispatcher("order-service", registry, uow, logging.NewNopLogger())

	err := dispatcher.OnMessage(context.Background(), testEnvelope())
	assert.ErrorIs(t, err, handlerErr)

	// Nothing recorded: the redelivery must be able to apply the effect.
	assert.Empty(t, uow.state.processed)
	assert.Empty(t, uow.state.records)
}

func TestDispatcherUnroutableMessage(t *testing.T) {
	t.Run("acknowledged with warning", func(t *testing.T) {
		uow := newMemUnitOfWork()
		dispatcher := NewDispatcher("order-service", NewRegistry(), uow, logging.NewNopLogger())

		require.NoError(t, dispatcher.OnMessage(context.Background(), testEnvelope()))
		assert.Empty(t, uow.state.processed)
	})

	t.Run("routed to dead-letter sink", func(t *testing.T) {
		uow := newMemUnitOfWork()
		publisher := &memPublisher{}
		dispatcher := NewDispatcher("order-service", NewRegistry(), uow, logging.NewNopLogger()).
			WithDeadLetterSink(publisher, "dead-letters")

		require.NoError(t, dispatcher.OnMessage(context.Background(), testEnvelope()))
		require.Len(t, publisher.published["dead-letters"], 1)
		assert.Equal(t, "msg-1", publisher.published["dead-letters"][0].ID)
	})

	t.Run("kept on the bus when the sink is down", func(t *testing.T) {
		uow := newMemUnitOfWork()
		publisher := &memPublisher{err: errors.New("broker unreachable")}
		dispatcher := NewDispatcher("order-service", NewRegistry(), uow, logging.NewNopLogger()).
			WithDeadLetterSink(publisher, "dead-letters")

		assert.Error(t, dispatcher.OnMessage(context.Background(), testEnvelope()))
	})
}

func TestDispatcherDropsMessageWithoutID(t *testing.T) {
	registry := NewRegistry()
	var calls int
	require.NoError(t, registry.Register("order-placed", func(context.Context, messaging.Envelope) ([]outbox.Record, error) {
		calls++
		return nil, nil
	}))

	uow := newMemUnitOfWork()
	dispatcher := NewDispatcher("order-service", registry, uow, logging.NewNopLogger())

	envelope := testEnvelope()
	envelope.ID = ""
	require.NoError(t, dispatcher.OnMessage(context.Background(), envelope))
	assert.Zero(t, calls)
}

func TestRegistryRejectsDuplicateHandler(t *testing.T) {
	registry := NewRegistry()
	handler := func(context.Context, messaging.Envelope) ([]outbox.Record, error) { return nil, nil }

	require.NoError(t, registry.Register("order-placed", handler))
	assert.Error(t, registry.Register("order-placed", handler))
}
