package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/stock-risk-engine/internal/config"
	"github.com/trogers1052/stock-risk-engine/internal/models"
	"github.com/trogers1052/stock-risk-engine/internal/portfolio"
)

type fakeSettings struct {
	risk config.RiskConfig
	ai   config.AISettings
}

func (f *fakeSettings) Risk() config.RiskConfig { return f.risk }
func (f *fakeSettings) AI() config.AISettings   { return f.ai }

func defaultSettings() *fakeSettings {
	return &fakeSettings{risk: config.DefaultRiskConfig(), ai: config.DefaultAISettings()}
}

// fakeGateway serves fixed quotes and fundamentals and never has history,
// so every analysis uses the quote-only technical model.
type fakeGateway struct {
	quotes       map[string]models.QuoteResult
	fundamentals map[string]*models.FundamentalMetrics
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		quotes:       make(map[string]models.QuoteResult),
		fundamentals: make(map[string]*models.FundamentalMetrics),
	}
}

func (g *fakeGateway) GetQuote(ctx context.Context, symbol string) models.QuoteResult {
	if q, ok := g.quotes[symbol]; ok {
		return q
	}
	return &models.QuoteError{Symbol: symbol, Reason: "unknown symbol", Err: models.ErrDataUnavailable}
}

func (g *fakeGateway) GetMultipleQuotes(ctx context.Context, symbols []string) map[string]models.QuoteResult {
	out := make(map[string]models.QuoteResult, len(symbols))
	for _, s := range symbols {
		out[s] = g.GetQuote(ctx, s)
	}
	return out
}

func (g *fakeGateway) GetHistoricalPrices(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error) {
	return nil, fmt.Errorf("history for %s: %w", symbol, models.ErrDataUnavailable)
}

func (g *fakeGateway) GetFundamentals(ctx context.Context, symbol string) (*models.FundamentalMetrics, error) {
	if f, ok := g.fundamentals[symbol]; ok {
		c := *f
		return &c, nil
	}
	return nil, fmt.Errorf("fundamentals for %s: %w", symbol, models.ErrDataUnavailable)
}

// bullish adds a symbol that passes the screen: strong fundamentals, a 4% breakout on heavy volume
func (g *fakeGateway) bullish(symbol string, price float64) {
	sentiment := 0.8
	g.quotes[symbol] = &models.Quote{Symbol: symbol, Price: price, ChangePercent: 4, Volume: 2_000_000, Source: models.SourceFinnhub}
	g.fundamentals[symbol] = &models.FundamentalMetrics{
		EPSGrowth:        30,
		ROE:              20,
		SalesGrowth:      28,
		PERatio:          20,
		DebtToEquity:     0.5,
		OperatingMargin:  25,
		CurrentRatio:     1.8,
		AnalystSentiment: &sentiment,
		Source:           models.SourceFinnhub,
	}
}

// bearish adds a symbol falling 2.5% without fundamentals: five bearish signals and a down trend
func (g *fakeGateway) bearish(symbol string, price float64) {
	g.quotes[symbol] = &models.Quote{Symbol: symbol, Price: price, ChangePercent: -2.5, Volume: 500_000, Source: models.SourceFinnhub}
}

type recordingPublisher struct {
	mu        sync.Mutex
	decisions []models.InvestmentDecision
}

func (r *recordingPublisher) PublishDecisions(ctx context.Context, decisions []models.InvestmentDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, decisions...)
	return nil
}

type memoryStore struct {
	saved []models.InvestmentDecision
}

func (m *memoryStore) CreateInvestmentDecisions(decisions []models.InvestmentDecision) error {
	m.saved = append(m.saved, decisions...)
	return nil
}

var entryTime = time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC)

func longPosition(symbol string, qty, entry float64) *models.Position {
	return &models.Position{
		Symbol:     symbol,
		Side:       models.SideLong,
		Quantity:   qty,
		EntryPrice: entry,
		EntryTime:  entryTime,
	}
}

func byAction(decisions []models.InvestmentDecision, action string) []models.InvestmentDecision {
	var out []models.InvestmentDecision
	for _, d := range decisions {
		if d.Action == action {
			out = append(out, d)
		}
	}
	return out
}

func bySymbol(decisions []models.InvestmentDecision, symbol string) (models.InvestmentDecision, bool) {
	for _, d := range decisions {
		if d.Symbol == symbol {
			return d, true
		}
	}
	return models.InvestmentDecision{}, false
}

func TestRunCycle_Entries(t *testing.T) {
	gw := newFakeGateway()
	gw.bullish("NVDA", 100)
	gw.bearish("XOM", 50)
	universe := []models.Instrument{
		{Symbol: "NVDA", Sector: "Technology"},
		{Symbol: "XOM", Sector: "Energy"},
	}
	pub := &recordingPublisher{}
	store := &memoryStore{}

	e := New(defaultSettings(), gw, universe, portfolio.NewRegistry(), WithPublisher(pub), WithStore(store))
	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Analyzed)
	assert.Equal(t, 1, report.Screened)
	assert.False(t, report.Emergency)
	assert.False(t, report.EntriesSuppressed)
	require.Len(t, report.Allocations, 1)

	alloc := report.Allocations[0]
	assert.Equal(t, "NVDA", alloc.Symbol)
	assert.LessOrEqual(t, alloc.TargetWeight, 0.4+1e-9)

	require.Len(t, report.Decisions, 1)
	d := report.Decisions[0]
	assert.Equal(t, models.ActionBuy, d.Action)
	assert.Equal(t, models.StrategyAllocationEntry, d.Strategy)
	assert.Equal(t, math.Floor(100000*alloc.TargetWeight/100), d.Quantity)
	assert.GreaterOrEqual(t, d.Quantity, 1.0)
	assert.Equal(t, 1, d.Priority)
	require.NotNil(t, d.StopLossPrice)
	assert.InDelta(t, 92, *d.StopLossPrice, 1e-9)
	require.NotNil(t, d.TakeProfitPrice)
	assert.InDelta(t, 120, *d.TakeProfitPrice, 1e-9)
	assert.InDelta(t, 0.2, d.ExpectedReturn, 1e-9)
	assert.Greater(t, d.Confidence, 0.0)
	assert.LessOrEqual(t, d.Confidence, 1.0)

	assert.Equal(t, report.Decisions, pub.decisions)
	assert.Equal(t, report.Decisions, store.saved)
	assert.Same(t, report, e.Latest())
}

func TestRunCycle_StopLossDisabled(t *testing.T) {
	gw := newFakeGateway()
	gw.bullish("NVDA", 100)
	settings := defaultSettings()
	settings.ai.StopLossEnabled = false
	settings.ai.TakeProfitEnabled = false

	e := New(settings, gw, []models.Instrument{{Symbol: "NVDA", Sector: "Technology"}}, portfolio.NewRegistry())
	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Decisions, 1)
	assert.Nil(t, report.Decisions[0].StopLossPrice)
	assert.Nil(t, report.Decisions[0].TakeProfitPrice)
}

func TestRunCycle_TinyAllocationsAreSkipped(t *testing.T) {
	gw := newFakeGateway()
	gw.bullish("BRK.A", 700000)
	e := New(defaultSettings(), gw, []models.Instrument{{Symbol: "BRK.A", Sector: "Financials"}}, portfolio.NewRegistry())

	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Allocations, 1)
	assert.Empty(t, report.Decisions)
}

func TestRunCycle_MarketPanic(t *testing.T) {
	gw := newFakeGateway()
	var universe []models.Instrument
	for i := 0; i < 18; i++ {
		symbol := fmt.Sprintf("BEAR%02d", i)
		gw.bearish(symbol, 50)
		universe = append(universe, models.Instrument{Symbol: symbol, Sector: "Energy"})
	}
	gw.bullish("NVDA", 104)
	gw.bullish("AMD", 104)
	universe = append(universe,
		models.Instrument{Symbol: "NVDA", Sector: "Technology"},
		models.Instrument{Symbol: "AMD", Sector: "Technology"},
	)

	positions := portfolio.NewRegistry()
	positions.Upsert(longPosition("BEAR00", 10, 52))
	positions.Upsert(longPosition("NVDA", 10, 100))

	e := New(defaultSettings(), gw, universe, positions)
	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 20, report.Analyzed)
	assert.True(t, report.Emergency)
	assert.True(t, report.EntriesSuppressed)
	assert.Empty(t, report.Allocations)
	assert.Empty(t, byAction(report.Decisions, models.ActionBuy))
	assert.Empty(t, byAction(report.Decisions, models.ActionRebalance))

	bear, ok := bySymbol(report.Decisions, "BEAR00")
	require.True(t, ok)
	assert.Equal(t, models.ActionExit, bear.Action)
	assert.Equal(t, models.StrategyEmergencyExit, bear.Strategy)
	assert.Equal(t, 10.0, bear.Quantity)
	assert.Equal(t, models.UrgencyCritical, bear.Urgency)

	nvda, ok := bySymbol(report.Decisions, "NVDA")
	require.True(t, ok)
	assert.NotEqual(t, models.StrategyEmergencyExit, nvda.Strategy)
	assert.Equal(t, models.ActionHold, nvda.Action)
}

func TestRunCycle_BelowPanicThreshold(t *testing.T) {
	gw := newFakeGateway()
	var universe []models.Instrument
	for i := 0; i < 16; i++ {
		symbol := fmt.Sprintf("BEAR%02d", i)
		gw.bearish(symbol, 50)
		universe = append(universe, models.Instrument{Symbol: symbol, Sector: "Energy"})
	}
	for i := 0; i < 4; i++ {
		symbol := fmt.Sprintf("BULL%02d", i)
		gw.bullish(symbol, 100)
		universe = append(universe, models.Instrument{Symbol: symbol, Sector: fmt.Sprintf("Sector%d", i)})
	}

	e := New(defaultSettings(), gw, universe, portfolio.NewRegistry())
	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Emergency)
	assert.False(t, report.EntriesSuppressed)
	assert.Equal(t, 4, report.Screened)
	assert.NotEmpty(t, byAction(report.Decisions, models.ActionBuy))
}

func TestRunCycle_DrawdownGuard(t *testing.T) {
	gw := newFakeGateway()
	gw.bullish("NVDA", 100)
	gw.bearish("XOM", 80)
	universe := []models.Instrument{{Symbol: "NVDA", Sector: "Technology"}}

	positions := portfolio.NewRegistry()
	// 1000 shares down 20 each is a 20% loss on the 100k account
	positions.Upsert(&models.Position{
		Symbol:     "XOM",
		Sector:     "Energy",
		Side:       models.SideLong,
		Quantity:   1000,
		EntryPrice: 100,
		EntryTime:  entryTime,
	})

	e := New(defaultSettings(), gw, universe, positions)
	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Emergency)
	assert.True(t, report.EntriesSuppressed)
	assert.Equal(t, 2, report.Analyzed, "held symbols outside the universe are analyzed")
	assert.Empty(t, byAction(report.Decisions, models.ActionBuy))

	xom, ok := bySymbol(report.Decisions, "XOM")
	require.True(t, ok)
	assert.Equal(t, models.ActionExit, xom.Action)
	assert.Equal(t, models.StrategyHardStop, xom.Strategy)

	stored, err := positions.Get("XOM")
	require.NoError(t, err)
	assert.InDelta(t, 92, stored.StopPrice, 1e-9, "initial stop is written back to the registry")
}

func TestRunCycle_HeldCandidateRebalances(t *testing.T) {
	gw := newFakeGateway()
	gw.bullish("NVDA", 104)
	positions := portfolio.NewRegistry()
	positions.Upsert(longPosition("NVDA", 5, 100))

	e := New(defaultSettings(), gw, []models.Instrument{{Symbol: "NVDA", Sector: "Technology"}}, positions)
	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Decisions, 2)
	assert.Equal(t, models.ActionHold, report.Decisions[0].Action)
	assert.Equal(t, models.ActionRebalance, report.Decisions[1].Action)
	assert.Greater(t, report.Decisions[1].Quantity, 0.0)
}

func TestRunCycle_SkipsUnavailableSymbols(t *testing.T) {
	gw := newFakeGateway()
	gw.bullish("NVDA", 100)
	gw.quotes["BAD"] = &models.QuoteError{Symbol: "BAD", Reason: "price must be positive", Err: models.ErrDataUnavailable}
	universe := []models.Instrument{
		{Symbol: "NVDA", Sector: "Technology"},
		{Symbol: "BAD", Sector: "Technology"},
		{Symbol: "GONE", Sector: "Technology"},
		{Symbol: "nvda ", Sector: "Technology"},
	}

	e := New(defaultSettings(), gw, universe, portfolio.NewRegistry())
	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Analyzed)
	assert.Equal(t, []string{"BAD", "GONE"}, report.Skipped)
	require.Len(t, report.Decisions, 1)
	assert.Equal(t, "NVDA", report.Decisions[0].Symbol)
}

func TestRunCycle_PositionWithoutQuoteKeepsState(t *testing.T) {
	gw := newFakeGateway()
	positions := portfolio.NewRegistry()
	p := longPosition("GONE", 10, 100)
	p.StopPrice = 95
	positions.Upsert(p)

	e := New(defaultSettings(), gw, nil, positions)
	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Decisions)
	assert.Equal(t, []string{"GONE"}, report.Skipped)
	stored, err := positions.Get("GONE")
	require.NoError(t, err)
	assert.Equal(t, 95.0, stored.StopPrice)
}

func TestRunCycle_Cancelled(t *testing.T) {
	gw := newFakeGateway()
	gw.bullish("NVDA", 100)
	e := New(defaultSettings(), gw, []models.Instrument{{Symbol: "NVDA", Sector: "Technology"}}, portfolio.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := e.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, report)
	assert.Nil(t, e.Latest())
}

func TestRun(t *testing.T) {
	gw := newFakeGateway()
	gw.bullish("NVDA", 100)
	e := New(defaultSettings(), gw, []models.Instrument{{Symbol: "NVDA", Sector: "Technology"}}, portfolio.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return e.Latest() != nil }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
