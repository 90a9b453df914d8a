package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/trogers1052/stock-risk-engine/internal/config"
	"github.com/trogers1052/stock-risk-engine/internal/metrics"
	"github.com/trogers1052/stock-risk-engine/internal/models"
	"github.com/trogers1052/stock-risk-engine/internal/portfolio"
	"github.com/trogers1052/stock-risk-engine/internal/symlock"
)

var (
	// ErrInvalidOrder rejects an order request with inconsistent prices or quantity
	ErrInvalidOrder = errors.New("invalid order")
	// ErrOrderClosed rejects changes to a triggered, cancelled or expired order
	ErrOrderClosed = errors.New("order closed")
	// ErrAlreadyRunning is returned by Start on a running monitor
	ErrAlreadyRunning = errors.New("monitor already running")
)

// Tick outcomes recorded in metrics
const (
	TickOK       = "ok"
	TickSkipped  = "skipped"
	TickDisabled = "disabled"
)

// QuoteSource fetches quotes for the watched symbols
type QuoteSource interface {
	GetMultipleQuotes(ctx context.Context, symbols []string) map[string]models.QuoteResult
}

// SettingsSource supplies the current monitor settings
type SettingsSource interface {
	StopLoss() config.StopLossSettings
}

// Publisher delivers trigger events and rebalance requests downstream
type Publisher interface {
	PublishTrigger(ctx context.Context, event models.TriggerEvent) error
	PublishRebalance(ctx context.Context, req models.RebalanceRequest) error
}

// OrderStore persists orders and trigger events
type OrderStore interface {
	SaveStopLossOrder(o *models.StopLossOrder) error
	CreateTriggerEvent(e *models.TriggerEvent) error
}

// OrderRequest describes a new protective order. Zero prices fall back to the configured defaults.
type OrderRequest struct {
	Symbol          string   `json:"symbol"`
	Side            string   `json:"side"`
	Quantity        float64  `json:"quantity"`
	EntryPrice      float64  `json:"entry_price"`
	StopLossPrice   float64  `json:"stop_loss_price"`
	TakeProfitPrice *float64 `json:"take_profit_price,omitempty"`
	Trailing        *bool    `json:"trailing,omitempty"`
	TrailingPercent float64  `json:"trailing_percent"`
}

// TickResult summarizes one monitor pass
type TickResult struct {
	Checked   int
	Expired   int
	Triggered []models.TriggerEvent
	Skipped   []string
}

// Monitor is the periodic stop-loss loop
type Monitor struct {
	settings  SettingsSource
	quotes    QuoteSource
	orders    *OrderRegistry
	positions *portfolio.Registry
	locks     *symlock.Locker
	publisher Publisher
	store     OrderStore
	metrics   *metrics.Registry
	now       func() time.Time
	logger    zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// Option configures a Monitor
type Option func(*Monitor)

// WithPositions links orders to the position registry so trailing tightening also moves position stops
func WithPositions(r *portfolio.Registry) Option {
	return func(m *Monitor) { m.positions = r }
}

// WithLocker shares per-symbol locks with the analysis loop
func WithLocker(l *symlock.Locker) Option {
	return func(m *Monitor) { m.locks = l }
}

// WithPublisher publishes trigger events and rebalance requests
func WithPublisher(p Publisher) Option {
	return func(m *Monitor) { m.publisher = p }
}

// WithStore persists orders and trigger events
func WithStore(s OrderStore) Option {
	return func(m *Monitor) { m.store = s }
}

// WithMetrics records ticks, triggers and the active order gauge
func WithMetrics(r *metrics.Registry) Option {
	return func(m *Monitor) { m.metrics = r }
}

// New creates a Monitor
func New(settings SettingsSource, quotes QuoteSource, orders *OrderRegistry, opts ...Option) *Monitor {
	m := &Monitor{
		settings: settings,
		quotes:   quotes,
		orders:   orders,
		locks:    symlock.New(),
		now:      time.Now,
		logger:   log.With().Str("component", "position_monitor").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Orders exposes the order registry
func (m *Monitor) Orders() *OrderRegistry { return m.orders }

// Start runs Tick every MonitorInterval until Stop or ctx cancellation
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	interval := m.settings.StopLoss().MonitorInterval
	m.logger.Info().Dur("interval", interval).Msg("position monitor started")
	go m.run(ctx, interval, m.done)
	return nil
}

func (m *Monitor) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
			if next := m.settings.StopLoss().MonitorInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Stop halts the loop and waits for an in-flight tick to finish
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	done := m.done
	m.running = false
	m.mu.Unlock()

	<-done
	m.logger.Info().Msg("position monitor stopped")
}

// Running reports whether the loop is active
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Tick expires stale orders, fetches quotes for the remaining active ones and applies the
// trigger rules. A symbol without a usable quote keeps its previous state.
func (m *Monitor) Tick(ctx context.Context) TickResult {
	var result TickResult
	settings := m.settings.StopLoss()
	if !settings.Enabled {
		m.metrics.RecordTick(TickDisabled)
		return result
	}

	result.Expired = m.expire(settings.OrderTTL)

	active := m.orders.Active()
	m.metrics.SetActiveOrders(len(active))
	if len(active) == 0 {
		m.metrics.RecordTick(TickOK)
		return result
	}

	symbols := make([]string, 0, len(active))
	for _, o := range active {
		symbols = append(symbols, o.Symbol)
	}
	quotes := m.quotes.GetMultipleQuotes(ctx, symbols)

	for _, o := range active {
		q, ok := quotes[o.Symbol].(*models.Quote)
		if !ok {
			result.Skipped = append(result.Skipped, o.Symbol)
			continue
		}
		result.Checked++

		var event *models.TriggerEvent
		_ = m.locks.WithLock(o.Symbol, func() error {
			event = m.check(ctx, o.ID, q.Price, settings)
			return nil
		})
		if event != nil {
			result.Triggered = append(result.Triggered, *event)
		}
	}

	if result.Checked == 0 {
		m.logger.Warn().Strs("symbols", symbols).Msg("no quotes available, skipping tick")
		m.metrics.RecordTick(TickSkipped)
		return result
	}
	m.metrics.SetActiveOrders(len(m.orders.Active()))
	m.metrics.RecordTick(TickOK)
	return result
}

// check evaluates one order under its symbol lock. The order is re-read so a concurrent
// cancel wins over a stale snapshot.
func (m *Monitor) check(ctx context.Context, id string, price float64, settings config.StopLossSettings) *models.TriggerEvent {
	o, err := m.orders.Get(id)
	if err != nil || !o.IsActive() {
		return nil
	}

	if triggerType, reason, fired := evaluate(o, price, settings); fired {
		return m.trigger(ctx, o, price, triggerType, reason, settings)
	}

	if o.Trailing && m.trail(o, price) {
		if err := m.orders.Update(o); err != nil {
			m.logger.Debug().Err(err).Str("order_id", o.ID).Msg("trailing update dropped")
			return nil
		}
		m.persist(o)
		m.tightenPosition(o)
	}
	return nil
}

// evaluate applies the trigger rules in priority order; the first match wins
func evaluate(o *models.StopLossOrder, price float64, settings config.StopLossSettings) (string, string, bool) {
	dir := 1.0
	if o.IsShort() {
		dir = -1
	}

	lossPct := (o.OriginalPrice - price) * dir / o.OriginalPrice * 100
	if lossPct >= settings.EmergencyStopPercent {
		return models.TriggerStopLoss, fmt.Sprintf("emergency stop: loss %.2f%% >= %.2f%%", lossPct, settings.EmergencyStopPercent), true
	}

	if o.StopLossPrice > 0 && (price-o.StopLossPrice)*dir <= 0 {
		return models.TriggerStopLoss, fmt.Sprintf("price %.2f breached stop %.2f", price, o.StopLossPrice), true
	}

	if o.TakeProfitPrice != nil && (price-*o.TakeProfitPrice)*dir >= 0 {
		return models.TriggerTakeProfit, fmt.Sprintf("price %.2f reached take profit %.2f", price, *o.TakeProfitPrice), true
	}

	// Once trail has ratcheted the stop, the stop check above fires first. This covers orders
	// whose trailing level still sits above the stop, such as a fresh order before its first
	// favorable tick.
	if o.Trailing && o.HighWaterMark > 0 && o.TrailingPercent > 0 {
		level := trailLevel(o.HighWaterMark, o.TrailingPercent, o.IsShort())
		if (price-level)*dir <= 0 {
			return models.TriggerTrailingStop, fmt.Sprintf("price %.2f fell through trailing level %.2f", price, level), true
		}
	}
	return "", "", false
}

func trailLevel(extreme, percent float64, short bool) float64 {
	if short {
		return extreme * (1 + percent/100)
	}
	return extreme * (1 - percent/100)
}

// trail records a new favorable extreme and tightens the stop behind it
func (m *Monitor) trail(o *models.StopLossOrder, price float64) bool {
	favorable := price > o.HighWaterMark
	if o.IsShort() {
		favorable = o.HighWaterMark <= 0 || price < o.HighWaterMark
	}
	if !favorable {
		return false
	}
	o.HighWaterMark = price

	level := trailLevel(price, o.TrailingPercent, o.IsShort())
	tighter := level > o.StopLossPrice
	if o.IsShort() {
		tighter = o.StopLossPrice <= 0 || level < o.StopLossPrice
	}
	if tighter {
		o.StopLossPrice = level
	}
	return true
}

func (m *Monitor) tightenPosition(o *models.StopLossOrder) {
	if m.positions == nil {
		return
	}
	p, err := m.positions.Get(o.Symbol)
	if err != nil || p.Side != o.Side || !p.Tighter(o.StopLossPrice) {
		return
	}
	p.StopPrice = o.StopLossPrice
	m.positions.Annotate(p)
}

func (m *Monitor) trigger(ctx context.Context, o *models.StopLossOrder, price float64, triggerType, reason string, settings config.StopLossSettings) *models.TriggerEvent {
	now := m.now()
	o.Status = models.OrderStatusTriggered
	o.TriggeredAt = &now
	if err := m.orders.Update(o); err != nil {
		m.logger.Debug().Err(err).Str("order_id", o.ID).Msg("trigger dropped")
		return nil
	}
	m.persist(o)

	event := models.TriggerEvent{
		OrderID:     o.ID,
		Symbol:      o.Symbol,
		TriggerType: triggerType,
		Reason:      reason,
		ExitPrice:   price,
		Quantity:    o.Quantity,
		RealizedPnL: RealizedPnL(o, price),
		Timestamp:   now,
	}

	m.logger.Info().
		Str("order_id", o.ID).
		Str("symbol", o.Symbol).
		Str("trigger_type", triggerType).
		Float64("price", price).
		Str("realized_pnl", event.RealizedPnL.StringFixed(2)).
		Msg(reason)
	m.metrics.RecordTrigger(triggerType)

	if m.store != nil {
		if err := m.store.CreateTriggerEvent(&event); err != nil {
			m.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to save trigger event")
		}
	}
	if m.publisher != nil {
		if err := m.publisher.PublishTrigger(ctx, event); err != nil {
			m.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to publish trigger event")
		}
		if settings.AutoRebalance {
			req := models.RebalanceRequest{Symbol: o.Symbol, Reason: triggerType, OrderID: o.ID, Timestamp: now}
			if err := m.publisher.PublishRebalance(ctx, req); err != nil {
				m.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to publish rebalance request")
			}
		}
	}
	return &event
}

// RealizedPnL is (exit - entry) * quantity, sign-flipped for shorts
func RealizedPnL(o *models.StopLossOrder, exit float64) decimal.Decimal {
	pnl := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(o.OriginalPrice)).Mul(decimal.NewFromFloat(o.Quantity))
	if o.IsShort() {
		pnl = pnl.Neg()
	}
	return pnl.Round(4)
}

func (m *Monitor) expire(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	now := m.now()
	expired := 0
	for _, o := range m.orders.Active() {
		if now.Sub(o.CreatedAt) < ttl {
			continue
		}
		_ = m.locks.WithLock(o.Symbol, func() error {
			current, err := m.orders.Get(o.ID)
			if err != nil || !current.IsActive() {
				return nil
			}
			current.Status = models.OrderStatusExpired
			if err := m.orders.Update(current); err != nil {
				return err
			}
			m.persist(current)
			expired++
			m.logger.Info().Str("order_id", o.ID).Str("symbol", o.Symbol).Msg("order expired")
			return nil
		})
	}
	return expired
}

func (m *Monitor) persist(o *models.StopLossOrder) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveStopLossOrder(o); err != nil {
		m.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to save order")
	}
}

// AddOrder validates the request, fills defaults from settings and starts monitoring the order
func (m *Monitor) AddOrder(req OrderRequest) (*models.StopLossOrder, error) {
	return m.addOrder(req, true)
}

// addOrder registers the order. strictStop requires the stop to sit on the losing side of entry,
// which a ratcheted position stop no longer does.
func (m *Monitor) addOrder(req OrderRequest, strictStop bool) (*models.StopLossOrder, error) {
	settings := m.settings.StopLoss()
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("missing symbol: %w", ErrInvalidOrder)
	}
	if req.Quantity <= 0 || req.EntryPrice <= 0 {
		return nil, fmt.Errorf("quantity and entry price must be positive: %w", ErrInvalidOrder)
	}
	side := req.Side
	if side == "" {
		side = models.SideLong
	}
	if side != models.SideLong && side != models.SideShort {
		return nil, fmt.Errorf("unknown side %q: %w", req.Side, ErrInvalidOrder)
	}
	dir := 1.0
	if side == models.SideShort {
		dir = -1
	}

	stop := req.StopLossPrice
	if stop <= 0 {
		stop = req.EntryPrice * (1 - dir*settings.DefaultStopPercent/100)
	}
	if strictStop && (req.EntryPrice-stop)*dir <= 0 {
		return nil, fmt.Errorf("stop %.2f is on the wrong side of entry %.2f: %w", stop, req.EntryPrice, ErrInvalidOrder)
	}

	tp := req.TakeProfitPrice
	if tp == nil {
		v := req.EntryPrice * (1 + dir*settings.DefaultTakeProfitPercent/100)
		tp = &v
	}
	if (*tp-req.EntryPrice)*dir <= 0 {
		return nil, fmt.Errorf("take profit %.2f is on the wrong side of entry %.2f: %w", *tp, req.EntryPrice, ErrInvalidOrder)
	}

	trailing := settings.TrailingEnabled
	if req.Trailing != nil {
		trailing = *req.Trailing
	}
	trailingPct := req.TrailingPercent
	if trailingPct <= 0 {
		trailingPct = settings.DefaultTrailingPercent
	}
	if trailingPct >= 100 {
		return nil, fmt.Errorf("trailing percent %.2f must be below 100: %w", trailingPct, ErrInvalidOrder)
	}

	o := m.orders.Add(&models.StopLossOrder{
		Symbol:          symbol,
		Side:            side,
		Quantity:        req.Quantity,
		OriginalPrice:   req.EntryPrice,
		StopLossPrice:   stop,
		TakeProfitPrice: tp,
		Trailing:        trailing,
		TrailingPercent: trailingPct,
		HighWaterMark:   req.EntryPrice,
	})
	m.persist(o)
	m.metrics.SetActiveOrders(len(m.orders.Active()))
	m.logger.Info().Str("order_id", o.ID).Str("symbol", symbol).Float64("stop", stop).Float64("take_profit", *tp).Msg("order added")
	return o, nil
}

// Cancel stops monitoring an active order
func (m *Monitor) Cancel(id string) error {
	o, err := m.orders.Get(id)
	if err != nil {
		return err
	}
	return m.locks.WithLock(o.Symbol, func() error {
		current, err := m.orders.Get(id)
		if err != nil {
			return err
		}
		current.Status = models.OrderStatusCancelled
		if err := m.orders.Update(current); err != nil {
			return err
		}
		m.persist(current)
		m.metrics.SetActiveOrders(len(m.orders.Active()))
		m.logger.Info().Str("order_id", id).Str("symbol", current.Symbol).Msg("order cancelled")
		return nil
	})
}

// CreateFromPosition protects an open position with an order at its current stop.
// An existing active order for the symbol is returned unchanged.
func (m *Monitor) CreateFromPosition(p *models.Position) (*models.StopLossOrder, error) {
	if existing := m.orders.ActiveFor(p.Symbol); len(existing) > 0 {
		return existing[0], nil
	}
	return m.addOrder(OrderRequest{
		Symbol:        p.Symbol,
		Side:          p.Side,
		Quantity:      p.Quantity,
		EntryPrice:    p.EntryPrice,
		StopLossPrice: p.StopPrice,
	}, false)
}

// SyncPositions creates orders for positions that have had no order since they were opened
func (m *Monitor) SyncPositions(positions []*models.Position) int {
	if !m.settings.StopLoss().Enabled {
		return 0
	}
	created := 0
	for _, p := range positions {
		if m.orders.CreatedSince(p.Symbol, p.EntryTime) || len(m.orders.ActiveFor(p.Symbol)) > 0 {
			continue
		}
		if _, err := m.CreateFromPosition(p); err != nil {
			m.logger.Warn().Err(err).Str("symbol", p.Symbol).Msg("failed to protect position")
			continue
		}
		created++
	}
	return created
}
