package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/stock-risk-engine/internal/config"
	"github.com/trogers1052/stock-risk-engine/internal/metrics"
	"github.com/trogers1052/stock-risk-engine/internal/models"
	"github.com/trogers1052/stock-risk-engine/internal/monitor"
	"github.com/trogers1052/stock-risk-engine/internal/portfolio"
)

type staticDecisions struct {
	report *models.CycleReport
}

func (s *staticDecisions) Latest() *models.CycleReport { return s.report }

type fakeHistory struct {
	decisions []models.InvestmentDecision
	orders    map[string]*models.StopLossOrder
	triggers  []*models.TriggerEvent
	err       error

	lastSymbol string
	lastLimit  int
}

func (f *fakeHistory) GetRecentInvestmentDecisions(limit int) ([]models.InvestmentDecision, error) {
	f.lastLimit = limit
	return f.decisions, f.err
}

func (f *fakeHistory) GetStopLossOrderByID(id string) (*models.StopLossOrder, error) {
	if o, ok := f.orders[id]; ok {
		return o, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeHistory) GetStopLossOrdersBySymbol(symbol string, limit int) ([]*models.StopLossOrder, error) {
	f.lastSymbol, f.lastLimit = symbol, limit
	var out []*models.StopLossOrder
	for _, o := range f.orders {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, f.err
}

func (f *fakeHistory) GetTriggerEventsBySymbol(symbol string, limit int) ([]*models.TriggerEvent, error) {
	f.lastSymbol, f.lastLimit = symbol, limit
	return f.triggers, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testServer struct {
	router    http.Handler
	decisions *staticDecisions
	monitor   *monitor.Monitor
	settings  *config.SettingsStore
	positions *portfolio.Registry
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	settings, err := config.NewSettingsStore("")
	require.NoError(t, err)

	ts := &testServer{
		decisions: &staticDecisions{},
		settings:  settings,
		positions: portfolio.NewRegistry(),
	}
	ts.monitor = monitor.New(settings, nil, monitor.NewOrderRegistry())
	handler := NewHandler(ts.decisions, ts.monitor, settings, ts.positions, opts...)
	ts.router = SetupRoutes(handler, metrics.NewRegistry().Handler())
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy without dependencies", func(t *testing.T) {
		rec := newTestServer(t).do(t, "GET", "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "healthy")
	})

	t.Run("unreachable database degrades", func(t *testing.T) {
		rec := newTestServer(t, WithHealthCheck(fakePinger{err: errors.New("connection refused")})).do(t, "GET", "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection refused")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newTestServer(t).do(t, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetLatestDecisions(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/api/v1/decisions/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.decisions.report = &models.CycleReport{
		Analyzed:  3,
		Decisions: []models.InvestmentDecision{{Symbol: "NVDA", Action: models.ActionBuy, Quantity: 10}},
	}
	rec = ts.do(t, "GET", "/api/v1/decisions/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.CycleReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.Analyzed)
	require.Len(t, got.Decisions, 1)
	assert.Equal(t, "NVDA", got.Decisions[0].Symbol)
}

func TestGetDecisionHistory(t *testing.T) {
	t.Run("requires the database", func(t *testing.T) {
		rec := newTestServer(t).do(t, "GET", "/api/v1/decisions", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("limit is validated and capped", func(t *testing.T) {
		history := &fakeHistory{decisions: []models.InvestmentDecision{{Symbol: "AAPL", Action: models.ActionHold}}}
		ts := newTestServer(t, WithHistory(history))

		rec := ts.do(t, "GET", "/api/v1/decisions?limit=abc", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = ts.do(t, "GET", "/api/v1/decisions?limit=10000", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, maxHistoryLimit, history.lastLimit)

		rec = ts.do(t, "GET", "/api/v1/decisions", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, defaultHistoryLimit, history.lastLimit)
		assert.Contains(t, rec.Body.String(), "AAPL")
	})

	t.Run("store failure is a server error", func(t *testing.T) {
		ts := newTestServer(t, WithHistory(&fakeHistory{err: errors.New("boom")}))
		rec := ts.do(t, "GET", "/api/v1/decisions", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "boom")
	})
}

func TestGetPositions(t *testing.T) {
	ts := newTestServer(t)
	ts.positions.Upsert(&models.Position{Symbol: "AAPL", Side: models.SideLong, Quantity: 10, EntryPrice: 100})

	rec := ts.do(t, "GET", "/api/v1/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got []models.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Symbol)
}

func TestOrders(t *testing.T) {
	t.Run("create fills defaults from settings", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, "POST", "/api/v1/orders", monitor.OrderRequest{Symbol: "aapl", Quantity: 10, EntryPrice: 100})
		require.Equal(t, http.StatusCreated, rec.Code)

		var order models.StopLossOrder
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
		assert.NotEmpty(t, order.ID)
		assert.Equal(t, "AAPL", order.Symbol)
		assert.InDelta(t, 92.0, order.StopLossPrice, 1e-9)
		require.NotNil(t, order.TakeProfitPrice)
		assert.InDelta(t, 120.0, *order.TakeProfitPrice, 1e-9)
		assert.Equal(t, models.OrderStatusActive, order.Status)

		rec = ts.do(t, "GET", "/api/v1/orders/"+order.ID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("invalid requests are rejected", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, "POST", "/api/v1/orders", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = ts.do(t, "POST", "/api/v1/orders", monitor.OrderRequest{Symbol: "AAPL", Quantity: 0, EntryPrice: 100})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = ts.do(t, "POST", "/api/v1/orders", monitor.OrderRequest{Symbol: "AAPL", Quantity: 1, EntryPrice: 100, StopLossPrice: 105})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, ts.monitor.Orders().List())
	})

	t.Run("cancel then cancel again conflicts", func(t *testing.T) {
		ts := newTestServer(t)
		order, err := ts.monitor.AddOrder(monitor.OrderRequest{Symbol: "MSFT", Quantity: 5, EntryPrice: 300})
		require.NoError(t, err)

		rec := ts.do(t, "DELETE", "/api/v1/orders/"+order.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.do(t, "DELETE", "/api/v1/orders/"+order.ID, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = ts.do(t, "DELETE", "/api/v1/orders/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list filters by symbol and status", func(t *testing.T) {
		ts := newTestServer(t)
		keep, err := ts.monitor.AddOrder(monitor.OrderRequest{Symbol: "AAPL", Quantity: 1, EntryPrice: 100})
		require.NoError(t, err)
		gone, err := ts.monitor.AddOrder(monitor.OrderRequest{Symbol: "AAPL", Quantity: 1, EntryPrice: 100})
		require.NoError(t, err)
		_, err = ts.monitor.AddOrder(monitor.OrderRequest{Symbol: "MSFT", Quantity: 1, EntryPrice: 300})
		require.NoError(t, err)
		require.NoError(t, ts.monitor.Cancel(gone.ID))

		rec := ts.do(t, "GET", "/api/v1/orders?symbol=aapl&status=active", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var got []models.StopLossOrder
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, keep.ID, got[0].ID)

		rec = ts.do(t, "GET", "/api/v1/orders", nil)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Len(t, got, 3)
	})

	t.Run("history serves persisted orders", func(t *testing.T) {
		history := &fakeHistory{orders: map[string]*models.StopLossOrder{
			"old-1": {ID: "old-1", Symbol: "XOM", Status: models.OrderStatusTriggered},
		}}
		ts := newTestServer(t, WithHistory(history))

		rec := ts.do(t, "GET", "/api/v1/orders/old-1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "triggered")

		rec = ts.do(t, "GET", "/api/v1/orders?symbol=xom&limit=5", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "XOM", history.lastSymbol)
		assert.Equal(t, 5, history.lastLimit)

		rec = ts.do(t, "GET", "/api/v1/orders/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetTriggers(t *testing.T) {
	history := &fakeHistory{triggers: []*models.TriggerEvent{{OrderID: "o-1", Symbol: "XOM", TriggerType: models.TriggerStopLoss}}}
	ts := newTestServer(t, WithHistory(history))

	rec := ts.do(t, "GET", "/api/v1/triggers/xom", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "XOM", history.lastSymbol)
	assert.Contains(t, rec.Body.String(), "stop_loss")
}

func TestSettings(t *testing.T) {
	t.Run("get each section", func(t *testing.T) {
		ts := newTestServer(t)
		for _, section := range []string{"risk", "ai", "stoploss"} {
			rec := ts.do(t, "GET", "/api/v1/settings/"+section, nil)
			assert.Equal(t, http.StatusOK, rec.Code, section)
		}
		rec := ts.do(t, "GET", "/api/v1/settings/unknown", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("partial update keeps other fields", func(t *testing.T) {
		ts := newTestServer(t)
		before := ts.settings.AI()

		rec := ts.do(t, "PUT", "/api/v1/settings/ai", `{"max_positions": 5}`)
		require.Equal(t, http.StatusOK, rec.Code)

		after := ts.settings.AI()
		assert.Equal(t, 5, after.MaxPositions)
		assert.Equal(t, before.InvestmentAmount, after.InvestmentAmount)

		var body config.AISettings
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 5, body.MaxPositions)
	})

	t.Run("invalid update is rejected whole", func(t *testing.T) {
		ts := newTestServer(t)
		before := ts.settings.Risk()

		rec := ts.do(t, "PUT", "/api/v1/settings/risk", `{"weights": {"momentum": 0.9}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "weights")
		assert.Equal(t, before, ts.settings.Risk())
	})

	t.Run("malformed body", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, "PUT", "/api/v1/settings/stoploss", `{"enabled": "yes"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.True(t, ts.settings.StopLoss().Enabled)
	})
}
