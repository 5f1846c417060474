package amqp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gitea.xscloud.ru/xscloud/sagakit/pkg/application/messaging"
)

func TestEnvelopeFromDelivery(t *testing.T) {
	envelope := EnvelopeFromDelivery(Delivery{
		RoutingKey:    "orders",
		MessageID:     "msg-1",
		CorrelationID: "saga-1",
		CausationID:   "msg-0",
		Type:          "order-placed",
		Body:          []byte(`{}`),
	})

	assert.Equal(t, messaging.Envelope{
		ID:            "msg-1",
		Type:          "order-placed",
		CorrelationID: "saga-1",
		CausationID:   "msg-0",
		Payload:       []byte(`{}`),
	}, envelope)
}
