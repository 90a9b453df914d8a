package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes. metrics serves /metrics.
func SetupRoutes(handler *Handler, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	// Decisions
	api.HandleFunc("/decisions/latest", handler.GetLatestDecisions).Methods("GET")
	api.HandleFunc("/decisions", handler.GetDecisionHistory).Methods("GET")

	// Positions and protective orders
	api.HandleFunc("/positions", handler.GetPositions).Methods("GET")
	api.HandleFunc("/orders", handler.GetOrders).Methods("GET")
	api.HandleFunc("/orders", handler.CreateOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", handler.GetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}", handler.CancelOrder).Methods("DELETE")
	api.HandleFunc("/triggers/{symbol}", handler.GetTriggers).Methods("GET")

	// Strategy settings
	api.HandleFunc("/settings/{section}", handler.GetSettings).Methods("GET")
	api.HandleFunc("/settings/{section}", handler.UpdateSettings).Methods("PUT")

	return r
}
