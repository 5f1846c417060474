package outbox

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
	appoutbox "gitea.xscloud.ru/xscloud/sagakit/pkg/application/outbox"
)

type fakeSource struct {
	mu        sync.Mutex
	records   []appoutbox.Record
	published map[string]int
}

func newFakeSource(records ...appoutbox.Record) *fakeSource {
	return &fakeSource{
		records:   records,
		published: make(map[string]int),
	}
}

func (s *fakeSource) ListUnpublished(_ context.Context, limit uint) ([]appoutbox.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var unpublished []appoutbox.Record
	for _, record := range s.records {
		if s.published[record.ID] == 0 {
			unpublished = append(unpublished, record)
		}
		if uint(len(unpublished)) == limit {
			break
		}
	}
	return unpublished, nil
}

func (s *fakeSource) MarkPublished(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[id]++
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	sent     []messaging.Envelope
	failType string
}

func (p *fakePublisher) Publish(_ context.Context, topic string, envelope messaging.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failType != "" && envelope.Type == p.failType {
		return errors.New("broker unreachable")
	}
	p.sent = append(p.sent, envelope)
	return nil
}

type fakeLocker struct{}

func (fakeLocker) ExecuteWithLock(_ context.Context, _ string, _ time.Duration, callback func() error) error {
	return callback()
}

func record(t *testing.T, eventType string) appoutbox.Record {
	t.Helper()
	r, err := appoutbox.NewRecord("orders", "order", "1", eventType, []byte(`{}`))
	require.NoError(t, err)
	return r
}

func newTestRelay(source Source, publisher messaging.Publisher) *relay {
	return NewRelay(
		source, publisher, fakeLocker{},
		10, time.Millisecond, time.Second, time.Second,
		logging.NewNopLogger(),
	).(*relay)
}

func TestRelayPublishesInOrderAndMarks(t *testing.T) {
	first := record(t, "order-placed")
	second := record(t, "order-charged")
	source := newFakeSource(first, second)
	publisher := &fakePublisher{}

	require.NoError(t, newTestRelay(source, publisher).relayBatch(context.Background()))

	require.Len(t, publisher.sent, 2)
	assert.Equal(t, "order-placed", publisher.sent[0].Type)
	assert.Equal(t, "order-charged", publisher.sent[1].Type)
	assert.Equal(t, first.ID, publisher.sent[0].ID)

	assert.Equal(t, 1, source.published[first.ID])
	assert.Equal(t, 1, source.published[second.ID])
}

func TestRelayPublishFailureLeavesRecordUnpublished(t *testing.T) {
	first := record(t, "order-placed")
	second := record(t, "order-charged")
	source := newFakeSource(first, second)
	publisher := &fakePublisher{failType: "order-charged"}
	relay := newTestRelay(source, publisher)

	require.Error(t, relay.relayBatch(context.Background()))
	assert.Equal(t, 1, source.published[first.ID])
	assert.Zero(t, source.published[second.ID])

	// Next pass picks the failed record up again.
	publisher.mu.Lock()
	publisher.failType = ""
	publisher.mu.Unlock()

	require.NoError(t, relay.relayBatch(context.Background()))
	assert.Equal(t, 1, source.published[first.ID])
	assert.Equal(t, 1, source.published[second.ID])
}

func TestRelayEmptyBatchIsNoop(t *testing.T) {
	publisher := &fakePublisher{}
	require.NoError(t, newTestRelay(newFakeSource(), publisher).relayBatch(context.Background()))
	assert.Empty(t, publisher.sent)
}
