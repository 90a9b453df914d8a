package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// positionsReader is the subset of kafka.Reader the consumer needs
type positionsReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
	Config() kafka.ReaderConfig
}

// PositionSink receives full position snapshots
type PositionSink interface {
	Replace(snapshot []*models.Position)
}

// OrderSyncer creates protective orders for newly seen positions
type OrderSyncer interface {
	SyncPositions(positions []*models.Position) int
}

// PositionsConsumer replaces the held positions from the execution layer's snapshots
type PositionsConsumer struct {
	reader positionsReader
	sink   PositionSink
	orders OrderSyncer
	now    func() time.Time
	logger zerolog.Logger
}

// NewPositionsConsumer creates a consumer for the positions topic. orders may be nil.
func NewPositionsConsumer(brokers []string, topic, groupID string, sink PositionSink, orders OrderSyncer) *PositionsConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})
	return newPositionsConsumer(reader, sink, orders)
}

func newPositionsConsumer(reader positionsReader, sink PositionSink, orders OrderSyncer) *PositionsConsumer {
	return &PositionsConsumer{
		reader: reader,
		sink:   sink,
		orders: orders,
		now:    time.Now,
		logger: log.With().Str("component", "positions_consumer").Logger(),
	}
}

// Start consumes snapshots until ctx is cancelled
func (c *PositionsConsumer) Start(ctx context.Context) error {
	c.logger.Info().Str("topic", c.reader.Config().Topic).Msg("starting positions consumer")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("positions consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return c.reader.Close()
				}
				c.logger.Error().Err(err).Msg("error reading message")
				continue
			}

			if err := c.processMessage(msg); err != nil {
				c.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("error processing message")
			}
		}
	}
}

func (c *PositionsConsumer) processMessage(msg kafka.Message) error {
	var event PositionsEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal positions event: %w", err)
	}

	if event.EventType != EventPositionsSnapshot {
		c.logger.Debug().Str("event_type", event.EventType).Msg("ignoring event type")
		return nil
	}

	snapshotAt := c.now()
	if ts, err := time.Parse(time.RFC3339, event.Timestamp); err == nil {
		snapshotAt = ts
	}

	positions := make([]*models.Position, 0, len(event.Data.Positions))
	for _, data := range event.Data.Positions {
		p, err := convertPosition(data, snapshotAt)
		if err != nil {
			return fmt.Errorf("rejecting snapshot from %s: %w", event.Source, err)
		}
		if p != nil {
			positions = append(positions, p)
		}
	}

	c.sink.Replace(positions)
	created := 0
	if c.orders != nil {
		created = c.orders.SyncPositions(positions)
	}

	c.logger.Info().
		Str("source", event.Source).
		Int("positions", len(positions)).
		Int("orders_created", created).
		Msg("applied positions snapshot")
	return nil
}

// convertPosition maps one snapshot row; a zero quantity yields nil
func convertPosition(data PositionData, snapshotAt time.Time) (*models.Position, error) {
	symbol := strings.ToUpper(strings.TrimSpace(data.Symbol))
	if symbol == "" {
		return nil, errors.New("position without symbol")
	}

	quantity, err := decimal.NewFromString(data.Quantity)
	if err != nil {
		return nil, fmt.Errorf("invalid quantity %q for %s: %w", data.Quantity, symbol, err)
	}
	if quantity.IsZero() {
		return nil, nil
	}

	price, err := decimal.NewFromString(data.AverageBuyPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q for %s: %w", data.AverageBuyPrice, symbol, err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("non-positive price %s for %s", price, symbol)
	}

	side := strings.ToLower(strings.TrimSpace(data.Side))
	switch {
	case side == "" && quantity.IsNegative():
		side = models.SideShort
	case side == "":
		side = models.SideLong
	case side != models.SideLong && side != models.SideShort:
		return nil, fmt.Errorf("invalid side %q for %s", data.Side, symbol)
	}

	p := &models.Position{
		Symbol:     symbol,
		Sector:     data.Sector,
		Side:       side,
		Quantity:   quantity.Abs().InexactFloat64(),
		EntryPrice: price.InexactFloat64(),
		EntryTime:  snapshotAt,
	}

	if data.OpenedAt != "" {
		opened, err := time.Parse(time.RFC3339, data.OpenedAt)
		if err != nil {
			// Try parsing without timezone
			opened, err = time.Parse("2006-01-02T15:04:05", data.OpenedAt)
		}
		if err == nil {
			p.EntryTime = opened
		}
	}

	if data.StopPrice != "" {
		stop, err := decimal.NewFromString(data.StopPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid stop price %q for %s: %w", data.StopPrice, symbol, err)
		}
		p.StopPrice = stop.InexactFloat64()
	}
	return p, nil
}

// Close closes the reader
func (c *PositionsConsumer) Close() error {
	return c.reader.Close()
}
