package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trogers1052/stock-risk-engine/internal/config"
	"github.com/trogers1052/stock-risk-engine/internal/models"
	"github.com/trogers1052/stock-risk-engine/internal/monitor"
	"github.com/trogers1052/stock-risk-engine/internal/portfolio"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// DecisionSource exposes the most recent analysis cycle
type DecisionSource interface {
	Latest() *models.CycleReport
}

// History serves persisted orders, triggers and decisions
type History interface {
	GetRecentInvestmentDecisions(limit int) ([]models.InvestmentDecision, error)
	GetStopLossOrderByID(id string) (*models.StopLossOrder, error)
	GetStopLossOrdersBySymbol(symbol string, limit int) ([]*models.StopLossOrder, error)
	GetTriggerEventsBySymbol(symbol string, limit int) ([]*models.TriggerEvent, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	decisions DecisionSource
	monitor   *monitor.Monitor
	settings  *config.SettingsStore
	positions *portfolio.Registry
	history   History
	health    Pinger
	logger    zerolog.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithHistory enables the persisted history endpoints
func WithHistory(h History) Option {
	return func(handler *Handler) { handler.history = h }
}

// WithHealthCheck makes /health report the dependency's reachability
func WithHealthCheck(p Pinger) Option {
	return func(handler *Handler) { handler.health = p }
}

// NewHandler creates a new Handler
func NewHandler(decisions DecisionSource, mon *monitor.Monitor, settings *config.SettingsStore, positions *portfolio.Registry, opts ...Option) *Handler {
	h := &Handler{
		decisions: decisions,
		monitor:   mon,
		settings:  settings,
		positions: positions,
		logger:    log.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "healthy"}
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}
	respondJSON(w, http.StatusOK, status)
}

// GetLatestDecisions handles GET /decisions/latest
func (h *Handler) GetLatestDecisions(w http.ResponseWriter, r *http.Request) {
	report := h.decisions.Latest()
	if report == nil {
		respondError(w, http.StatusNotFound, "no analysis cycle has completed yet")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// GetDecisionHistory handles GET /decisions
func (h *Handler) GetDecisionHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondError(w, http.StatusServiceUnavailable, "decision history requires the database")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	decisions, err := h.history.GetRecentInvestmentDecisions(limit)
	if err != nil {
		h.internalError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, decisions)
}

// GetPositions handles GET /positions
func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.positions.List())
}

// GetOrders handles GET /orders. With ?symbol= and a database it returns that symbol's order history.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol != "" && h.history != nil {
		limit, err := limitParam(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		orders, err := h.history.GetStopLossOrdersBySymbol(symbol, limit)
		if err != nil {
			h.internalError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, orders)
		return
	}

	orders := h.monitor.Orders().List()
	if symbol != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if o.Symbol == symbol {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	if r.URL.Query().Get("status") == models.OrderStatusActive {
		active := orders[:0]
		for _, o := range orders {
			if o.IsActive() {
				active = append(active, o)
			}
		}
		orders = active
	}
	respondJSON(w, http.StatusOK, orders)
}

// GetOrder handles GET /orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	order, err := h.monitor.Orders().Get(id)
	if errors.Is(err, models.ErrNotFound) && h.history != nil {
		order, err = h.history.GetStopLossOrderByID(id)
	}
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// CreateOrder handles POST /orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req monitor.OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.monitor.AddOrder(req)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

// CancelOrder handles DELETE /orders/{id}
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.Cancel(mux.Vars(r)["id"]); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTriggers handles GET /triggers/{symbol}
func (h *Handler) GetTriggers(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondError(w, http.StatusServiceUnavailable, "trigger history requires the database")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.history.GetTriggerEventsBySymbol(strings.ToUpper(mux.Vars(r)["symbol"]), limit)
	if err != nil {
		h.internalError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// GetSettings handles GET /settings/{section}
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	switch mux.Vars(r)["section"] {
	case "risk":
		respondJSON(w, http.StatusOK, h.settings.Risk())
	case "ai":
		respondJSON(w, http.StatusOK, h.settings.AI())
	case "stoploss":
		respondJSON(w, http.StatusOK, h.settings.StopLoss())
	default:
		respondError(w, http.StatusNotFound, "unknown settings section")
	}
}

// UpdateSettings handles PUT /settings/{section}. Fields missing from the body keep their current value.
// An invalid section is rejected as a whole and the previous settings stay in force.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var err error
	switch mux.Vars(r)["section"] {
	case "risk":
		cfg := h.settings.Risk()
		if !decodeBody(w, r, &cfg) {
			return
		}
		err = h.settings.UpdateRisk(cfg)
	case "ai":
		cfg := h.settings.AI()
		if !decodeBody(w, r, &cfg) {
			return
		}
		err = h.settings.UpdateAI(cfg)
	case "stoploss":
		cfg := h.settings.StopLoss()
		if !decodeBody(w, r, &cfg) {
			return
		}
		err = h.settings.UpdateStopLoss(cfg)
	default:
		respondError(w, http.StatusNotFound, "unknown settings section")
		return
	}

	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.GetSettings(w, r)
}

// respondErr maps the error taxonomy onto status codes
func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, monitor.ErrInvalidOrder), errors.Is(err, models.ErrConfiguration):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, monitor.ErrOrderClosed):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.internalError(w, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	h.logger.Error().Err(err).Msg("request failed")
	respondError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
