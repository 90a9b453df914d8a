// Package kafka publishes decisions and exit triggers and consumes position snapshots.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// messageWriter is the subset of kafka.Writer the producer needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Topics names the topics the producer writes to
type Topics struct {
	Decisions string
	Triggers  string
	Rebalance string
}

// Producer handles publishing events to Kafka
type Producer struct {
	decisions messageWriter
	triggers  messageWriter
	rebalance messageWriter
	now       func() time.Time
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewProducer creates a producer with one writer per topic
func NewProducer(brokers []string, topics Topics) *Producer {
	return &Producer{
		decisions: newWriter(brokers, topics.Decisions),
		triggers:  newWriter(brokers, topics.Triggers),
		rebalance: newWriter(brokers, topics.Rebalance),
		now:       time.Now,
	}
}

// PublishDecisions writes one message per decision, keyed by symbol, in a single batch
func (p *Producer) PublishDecisions(ctx context.Context, decisions []models.InvestmentDecision) error {
	if len(decisions) == 0 {
		return nil
	}
	now := p.now()
	msgs := make([]kafka.Message, 0, len(decisions))
	for _, d := range decisions {
		msg, err := message(d.Symbol, DecisionEvent{
			EventType: EventInvestmentDecision,
			Symbol:    d.Symbol,
			Decision:  d,
			Timestamp: now,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.decisions.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write decisions to kafka: %w", err)
	}
	return nil
}

// PublishTrigger publishes a fired order
func (p *Producer) PublishTrigger(ctx context.Context, event models.TriggerEvent) error {
	return p.publish(ctx, p.triggers, event.Symbol, TriggerMessage{
		EventType: EventExitTriggered,
		Symbol:    event.Symbol,
		Trigger:   event,
		Timestamp: p.now(),
	})
}

// PublishRebalance publishes a rebalance request
func (p *Producer) PublishRebalance(ctx context.Context, req models.RebalanceRequest) error {
	return p.publish(ctx, p.rebalance, req.Symbol, RebalanceEvent{
		EventType: EventRebalanceRequested,
		Symbol:    req.Symbol,
		Request:   req,
		Timestamp: p.now(),
	})
}

func (p *Producer) publish(ctx context.Context, w messageWriter, key string, event any) error {
	msg, err := message(key, event)
	if err != nil {
		return err
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

func message(key string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{Key: []byte(key), Value: data}, nil
}

// Close closes every writer
func (p *Producer) Close() error {
	var firstErr error
	for _, w := range []messageWriter{p.decisions, p.triggers, p.rebalance} {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
