package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

type recordingWriter struct {
	msgs     []kafka.Message
	writes   int
	err      error
	closeErr error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.writes++
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return w.closeErr
}

var fixedNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func newTestProducer() (*Producer, *recordingWriter, *recordingWriter, *recordingWriter) {
	d, tr, rb := &recordingWriter{}, &recordingWriter{}, &recordingWriter{}
	return &Producer{
		decisions: d,
		triggers:  tr,
		rebalance: rb,
		now:       func() time.Time { return fixedNow },
	}, d, tr, rb
}

func TestProducer_PublishDecisions(t *testing.T) {
	t.Run("one keyed message per decision in one batch", func(t *testing.T) {
		p, w, _, _ := newTestProducer()
		stop := 92.0
		decisions := []models.InvestmentDecision{
			{Symbol: "NVDA", Action: models.ActionBuy, Quantity: 10, StopLossPrice: &stop},
			{Symbol: "XOM", Action: models.ActionExit, Quantity: 5},
		}

		require.NoError(t, p.PublishDecisions(context.Background(), decisions))
		assert.Equal(t, 1, w.writes)
		require.Len(t, w.msgs, 2)
		assert.Equal(t, "NVDA", string(w.msgs[0].Key))
		assert.Equal(t, "XOM", string(w.msgs[1].Key))

		var event DecisionEvent
		require.NoError(t, json.Unmarshal(w.msgs[0].Value, &event))
		assert.Equal(t, EventInvestmentDecision, event.EventType)
		assert.Equal(t, "NVDA", event.Symbol)
		assert.Equal(t, 10.0, event.Decision.Quantity)
		require.NotNil(t, event.Decision.StopLossPrice)
		assert.Equal(t, 92.0, *event.Decision.StopLossPrice)
		assert.True(t, event.Timestamp.Equal(fixedNow))
	})

	t.Run("empty list writes nothing", func(t *testing.T) {
		p, w, _, _ := newTestProducer()
		require.NoError(t, p.PublishDecisions(context.Background(), nil))
		assert.Equal(t, 0, w.writes)
	})

	t.Run("write failure is wrapped", func(t *testing.T) {
		p, w, _, _ := newTestProducer()
		w.err = errors.New("broker down")

		err := p.PublishDecisions(context.Background(), []models.InvestmentDecision{{Symbol: "AAPL"}})
		require.Error(t, err)
		assert.ErrorIs(t, err, w.err)
		assert.Contains(t, err.Error(), "failed to write decisions")
	})
}

func TestProducer_PublishTrigger(t *testing.T) {
	p, _, w, _ := newTestProducer()
	trigger := models.TriggerEvent{
		OrderID:     "order-1",
		Symbol:      "XOM",
		TriggerType: models.TriggerStopLoss,
		ExitPrice:   91,
		Quantity:    10,
		RealizedPnL: decimal.NewFromInt(-90),
		Timestamp:   fixedNow,
	}

	require.NoError(t, p.PublishTrigger(context.Background(), trigger))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "XOM", string(w.msgs[0].Key))

	var event TriggerMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &event))
	assert.Equal(t, EventExitTriggered, event.EventType)
	assert.Equal(t, "order-1", event.Trigger.OrderID)
	assert.True(t, event.Trigger.RealizedPnL.Equal(decimal.NewFromInt(-90)))
}

func TestProducer_PublishRebalance(t *testing.T) {
	p, _, _, w := newTestProducer()
	w.err = errors.New("timeout")

	err := p.PublishRebalance(context.Background(), models.RebalanceRequest{Symbol: "XOM", Reason: "stop hit"})
	require.Error(t, err)
	assert.ErrorIs(t, err, w.err)

	w.err = nil
	require.NoError(t, p.PublishRebalance(context.Background(), models.RebalanceRequest{Symbol: "XOM", Reason: "stop hit"}))
	var event RebalanceEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &event))
	assert.Equal(t, EventRebalanceRequested, event.EventType)
	assert.Equal(t, "stop hit", event.Request.Reason)
}

func TestProducer_Close(t *testing.T) {
	p, d, tr, rb := newTestProducer()
	tr.closeErr = errors.New("first")
	rb.closeErr = errors.New("second")

	err := p.Close()
	assert.Equal(t, tr.closeErr, err)
	assert.True(t, d.closed)
	assert.True(t, tr.closed)
	assert.True(t, rb.closed)
}
