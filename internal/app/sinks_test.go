package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfa/loan-accrual-service/internal/domain"
)

type publishedMessage struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	messages []publishedMessage
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.messages = append(p.messages, publishedMessage{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

type writtenMessage struct {
	topic string
	key   []byte
	value []byte
}

type writerStub struct {
	messages []writtenMessage
}

func (w *writerStub) Write(ctx context.Context, topic string, key, value []byte) error {
	w.messages = append(w.messages, writtenMessage{topic: topic, key: key, value: value})
	return nil
}

func TestAMQPSink_RoutesByKind(t *testing.T) {
	publisher := &publisherStub{}
	sink := NewAMQPSink(publisher, "loan.events")

	require.NoError(t, sink.Send(context.Background(), increaseEvent("loan-1", 100, 110)))
	state := domain.AccrualState{LoanID: "loan-1", CurrentAmount: decimal.NewFromInt(121)}
	require.NoError(t, sink.Send(context.Background(), domain.NewRepaymentCompletedEvent(state, testStart)))

	require.Len(t, publisher.messages, 2)
	assert.Equal(t, "loan.events", publisher.messages[0].exchange)
	assert.Equal(t, "loan.accrual.amount_increase", publisher.messages[0].routingKey)
	assert.Equal(t, "loan.accrual.repayment_completed", publisher.messages[1].routingKey)
}

func TestKafkaSink_KeysByLoanID(t *testing.T) {
	writer := &writerStub{}
	sink := NewKafkaSink(writer, "loan-accrual-events")

	event := increaseEvent("loan-1", 100, 110)
	event.EventID = "evt-1"
	require.NoError(t, sink.Send(context.Background(), event))

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "loan-accrual-events", msg.topic)
	assert.Equal(t, "loan-1", string(msg.key))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.value, &payload))
	assert.Equal(t, "evt-1", payload["eventId"])
	assert.Equal(t, "amount_increase", payload["kind"])
	assert.Equal(t, "110", payload["newAmount"])
	assert.NotContains(t, payload, "finalAmount")
}

func TestLogSink_NeverFails(t *testing.T) {
	sink := NewLogSink(discardLogger())
	state := domain.AccrualState{LoanID: "loan-1", CurrentAmount: decimal.NewFromInt(121)}

	assert.NoError(t, sink.Send(context.Background(), increaseEvent("loan-1", 100, 110)))
	assert.NoError(t, sink.Send(context.Background(), domain.NewRepaymentCompletedEvent(state, testStart)))
}
