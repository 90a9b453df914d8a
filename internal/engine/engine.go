// Package engine runs the analysis cycle: screen the universe, evaluate open positions,
// allocate new entries and publish the resulting decisions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trogers1052/stock-risk-engine/internal/allocation"
	"github.com/trogers1052/stock-risk-engine/internal/config"
	"github.com/trogers1052/stock-risk-engine/internal/exits"
	"github.com/trogers1052/stock-risk-engine/internal/indicators"
	"github.com/trogers1052/stock-risk-engine/internal/marketdata"
	"github.com/trogers1052/stock-risk-engine/internal/metrics"
	"github.com/trogers1052/stock-risk-engine/internal/models"
	"github.com/trogers1052/stock-risk-engine/internal/portfolio"
	"github.com/trogers1052/stock-risk-engine/internal/screening"
	"github.com/trogers1052/stock-risk-engine/internal/symlock"
)

const (
	maxConcurrentAnalyses = 4
	unknownSector         = "Unknown"
	defaultLookback       = 120
)

// Cycle outcomes recorded in metrics
const (
	OutcomeOK        = "ok"
	OutcomeEmergency = "emergency"
	OutcomeCancelled = "cancelled"
)

// SettingsSource supplies the current strategy settings
type SettingsSource interface {
	Risk() config.RiskConfig
	AI() config.AISettings
}

// DecisionPublisher delivers the decisions of a cycle downstream
type DecisionPublisher interface {
	PublishDecisions(ctx context.Context, decisions []models.InvestmentDecision) error
}

// DecisionStore records decisions
type DecisionStore interface {
	CreateInvestmentDecisions(decisions []models.InvestmentDecision) error
}

// Engine orchestrates one analysis cycle at a time
type Engine struct {
	settings  SettingsSource
	gateway   marketdata.Gateway
	universe  []models.Instrument
	positions *portfolio.Registry
	locks     *symlock.Locker
	analyzer  *screening.Analyzer
	optimizer *allocation.Optimizer
	exits     *exits.Engine
	publisher DecisionPublisher
	store     DecisionStore
	metrics   *metrics.Registry
	lookback  int
	now       func() time.Time
	logger    zerolog.Logger

	cycleMu sync.Mutex
	mu      sync.RWMutex
	latest  *models.CycleReport
}

// Option configures an Engine
type Option func(*Engine)

// WithLocker shares per-symbol locks with the position monitor
func WithLocker(l *symlock.Locker) Option {
	return func(e *Engine) { e.locks = l }
}

// WithPublisher publishes every cycle's decisions
func WithPublisher(p DecisionPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithStore persists every cycle's decisions
func WithStore(s DecisionStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithMetrics records cycle metrics
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithHistoryLookback sets how many daily bars are requested per symbol
func WithHistoryLookback(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.lookback = n
		}
	}
}

// New creates an Engine over universe. Held symbols outside the universe are analyzed too.
func New(settings SettingsSource, gateway marketdata.Gateway, universe []models.Instrument, positions *portfolio.Registry, opts ...Option) *Engine {
	e := &Engine{
		settings:  settings,
		gateway:   gateway,
		universe:  universe,
		positions: positions,
		locks:     symlock.New(),
		analyzer:  screening.NewAnalyzer(settings),
		optimizer: allocation.NewOptimizer(settings),
		exits:     exits.NewEngine(settings),
		lookback:  defaultLookback,
		now:       time.Now,
		logger:    log.With().Str("component", "engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Latest returns the report of the last completed cycle, or nil
func (e *Engine) Latest() *models.CycleReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Run executes RunCycle every interval until ctx is cancelled
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", interval).Int("universe", len(e.universe)).Msg("analysis loop started")
	for {
		if _, err := e.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error().Err(err).Msg("analysis cycle failed")
		}
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("analysis loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// symbolData is everything fetched for one symbol this cycle
type symbolData struct {
	instrument models.Instrument
	quote      *models.Quote
	history    models.PriceSeries
	analysis   *models.MarketAnalysis
}

// RunCycle analyzes the universe and held symbols, evaluates every open position and, unless a
// panic or the drawdown guard suppresses them, allocates new entries. Symbol-level failures are
// logged and skipped; only cancellation of ctx fails the cycle.
func (e *Engine) RunCycle(ctx context.Context) (*models.CycleReport, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := e.now()
	report := &models.CycleReport{StartedAt: start}

	instruments := e.instruments()
	data, skipped := e.collect(ctx, instruments)
	if err := ctx.Err(); err != nil {
		e.metrics.ObserveCycle(e.now().Sub(start), OutcomeCancelled)
		return nil, fmt.Errorf("failed to complete cycle: %w", err)
	}
	report.Skipped = skipped

	analyses := make([]*models.MarketAnalysis, 0, len(data))
	for _, in := range instruments {
		if d, ok := data[in.Symbol]; ok && d.analysis != nil {
			analyses = append(analyses, d.analysis)
		}
	}
	report.Analyzed = len(analyses)

	emergency := e.exits.EmergencyCheck(analyses)
	report.Emergency = emergency.Triggered

	decisions := e.evaluatePositions(data, emergency)

	guard, drawdown := e.drawdownExceeded(data)
	report.EntriesSuppressed = emergency.Triggered || guard
	if guard {
		e.logger.Warn().Float64("drawdown_percent", drawdown).Msg("max drawdown exceeded, suppressing new entries")
	}

	if !report.EntriesSuppressed {
		screened := e.analyzer.Screen(analyses)
		report.Screened = len(screened)
		report.Allocations = e.optimizer.Allocate(screened, e.positions.Held())
		decisions = append(decisions, e.entries(report.Allocations, data)...)
	}
	report.Decisions = decisions
	report.Duration = e.now().Sub(start)

	e.deliver(ctx, decisions)

	outcome := OutcomeOK
	if emergency.Triggered {
		outcome = OutcomeEmergency
	}
	e.metrics.ObserveCycle(report.Duration, outcome)
	e.metrics.SetOpenPositions(e.positions.Len())
	for _, d := range decisions {
		e.metrics.RecordDecision(d.Action)
	}

	e.mu.Lock()
	e.latest = report
	e.mu.Unlock()

	e.logger.Info().
		Int("analyzed", report.Analyzed).
		Int("screened", report.Screened).
		Int("skipped", len(report.Skipped)).
		Int("decisions", len(decisions)).
		Bool("emergency", report.Emergency).
		Dur("duration", report.Duration).
		Msg("analysis cycle complete")
	return report, nil
}

// instruments is the universe plus held symbols not in it
func (e *Engine) instruments() []models.Instrument {
	seen := make(map[string]bool, len(e.universe))
	out := make([]models.Instrument, 0, len(e.universe))
	for _, in := range e.universe {
		in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
		if in.Symbol == "" || seen[in.Symbol] {
			continue
		}
		seen[in.Symbol] = true
		out = append(out, in)
	}
	for _, p := range e.positions.List() {
		if seen[p.Symbol] {
			continue
		}
		sector := p.Sector
		if sector == "" {
			sector = unknownSector
		}
		seen[p.Symbol] = true
		out = append(out, models.Instrument{Symbol: p.Symbol, Sector: sector})
	}
	return out
}

// collect fetches quotes in one batch, then history and fundamentals per symbol, and analyzes it
func (e *Engine) collect(ctx context.Context, instruments []models.Instrument) (map[string]*symbolData, []string) {
	symbols := make([]string, len(instruments))
	for i, in := range instruments {
		symbols[i] = in.Symbol
	}
	quotes := e.gateway.GetMultipleQuotes(ctx, symbols)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		data    = make(map[string]*symbolData, len(instruments))
		skipped []string
	)
	sem := make(chan struct{}, maxConcurrentAnalyses)

	for _, in := range instruments {
		wg.Add(1)
		go func(in models.Instrument) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			d, reason := e.analyzeOne(ctx, in, quotes[in.Symbol])
			mu.Lock()
			defer mu.Unlock()
			if d != nil {
				data[in.Symbol] = d
			}
			if reason != "" {
				skipped = append(skipped, in.Symbol)
				e.metrics.RecordSkip(reason)
			}
		}(in)
	}
	wg.Wait()

	sort.Strings(skipped)
	return data, skipped
}

func (e *Engine) analyzeOne(ctx context.Context, in models.Instrument, result models.QuoteResult) (*symbolData, string) {
	q, ok := result.(*models.Quote)
	if !ok {
		reason := "no quote"
		if qe, isErr := result.(*models.QuoteError); isErr {
			reason = qe.Reason
		}
		e.logger.Warn().Str("symbol", in.Symbol).Str("reason", reason).Msg("skipping symbol")
		return nil, "quote"
	}

	d := &symbolData{instrument: in, quote: q}
	if ctx.Err() != nil {
		return d, "cancelled"
	}

	history, err := e.gateway.GetHistoricalPrices(ctx, in.Symbol, e.lookback)
	if err != nil {
		e.logger.Debug().Err(err).Str("symbol", in.Symbol).Msg("no history, using simplified technicals")
	}
	d.history = history

	fundamentals, err := e.gateway.GetFundamentals(ctx, in.Symbol)
	if err != nil {
		e.logger.Debug().Err(err).Str("symbol", in.Symbol).Msg("no fundamentals")
	}

	analysis, err := e.analyzer.Analyze(screening.Input{
		Instrument:   in,
		Quote:        q,
		History:      history,
		Fundamentals: fundamentals,
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", in.Symbol).Msg("skipping symbol")
		return d, "analysis"
	}
	d.analysis = analysis
	return d, ""
}

// evaluatePositions runs the exit engine for every open position with a quote.
// Positions without a quote keep their previous state.
func (e *Engine) evaluatePositions(data map[string]*symbolData, emergency exits.Emergency) []models.InvestmentDecision {
	var decisions []models.InvestmentDecision
	for _, symbol := range e.positions.Symbols() {
		d, ok := data[symbol]
		if !ok || d.quote == nil {
			e.logger.Warn().Str("symbol", symbol).Msg("no quote for open position, keeping prior state")
			continue
		}

		unlock := e.locks.Lock(symbol)
		p, err := e.positions.Get(symbol)
		if err != nil {
			unlock()
			continue
		}
		decision, updated := e.exits.Evaluate(p, exits.Market{
			Price:    d.quote.Price,
			Bars:     d.history,
			Analysis: d.analysis,
		}, emergency)
		if !e.positions.Annotate(updated) {
			e.logger.Debug().Str("symbol", symbol).Msg("position reopened during evaluation, annotations dropped")
		}
		unlock()

		decisions = append(decisions, decision)
	}
	return decisions
}

// drawdownExceeded compares the open loss of the portfolio against the configured maximum
func (e *Engine) drawdownExceeded(data map[string]*symbolData) (bool, float64) {
	ai := e.settings.AI()
	if ai.InvestmentAmount <= 0 {
		return false, 0
	}
	var loss float64
	for _, p := range e.positions.List() {
		d, ok := data[p.Symbol]
		if !ok || d.quote == nil {
			continue
		}
		if pnl := p.UnrealizedPnL(d.quote.Price); pnl < 0 {
			loss -= pnl
		}
	}
	pct := loss / ai.InvestmentAmount * 100
	return pct > ai.MaxDrawdownPercent, pct
}

// entries sizes buy and rebalance decisions from the target weights
func (e *Engine) entries(allocations []models.PortfolioAllocation, data map[string]*symbolData) []models.InvestmentDecision {
	ai := e.settings.AI()
	risk := e.settings.Risk()
	var out []models.InvestmentDecision

	for _, a := range allocations {
		d, ok := data[a.Symbol]
		if !ok || d.quote == nil || d.analysis == nil {
			continue
		}
		price := d.quote.Price
		qty := math.Floor(ai.InvestmentAmount * a.TargetWeight / price)
		if qty < 1 {
			e.logger.Debug().Str("symbol", a.Symbol).Float64("weight", a.TargetWeight).Msg("allocation too small for one share")
			continue
		}

		decision := models.InvestmentDecision{
			Symbol:     a.Symbol,
			Action:     a.Action,
			Quantity:   qty,
			Confidence: indicators.Clamp(d.analysis.CombinedScore/10, 0, 1),
			Reasoning: fmt.Sprintf("composite %.2f (combined %.2f), target weight %.1f%% in %s",
				a.CompositeScore, d.analysis.CombinedScore, a.TargetWeight*100, a.Sector),
			Strategy:  models.StrategyAllocationEntry,
			RiskScore: indicators.Clamp(d.analysis.Volatility*10, 0, 10),
			Priority:  a.Priority,
			Urgency:   models.UrgencyNormal,
			CreatedAt: e.now(),
		}
		if d.analysis.Synthetic {
			decision.Reasoning += " [synthetic data]"
		}
		if ai.StopLossEnabled {
			stop := price * (1 - ai.StopLossPercent/100)
			if atr := d.analysis.Technicals.ATR; atr > 0 && !d.analysis.Technicals.Simplified {
				stop = price - risk.InitialATRMult*atr
			}
			if stop > 0 {
				decision.StopLossPrice = &stop
			}
		}
		if ai.TakeProfitEnabled {
			tp := price * (1 + ai.TakeProfitPercent/100)
			decision.TakeProfitPrice = &tp
			decision.ExpectedReturn = ai.TakeProfitPercent / 100
		}
		out = append(out, decision)
	}
	return out
}

func (e *Engine) deliver(ctx context.Context, decisions []models.InvestmentDecision) {
	if len(decisions) == 0 {
		return
	}
	if e.store != nil {
		if err := e.store.CreateInvestmentDecisions(decisions); err != nil {
			e.logger.Error().Err(err).Int("count", len(decisions)).Msg("failed to save decisions")
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishDecisions(ctx, decisions); err != nil {
			e.logger.Error().Err(err).Int("count", len(decisions)).Msg("failed to publish decisions")
		}
	}
}
