// Package monitor watches protective orders and fires stop-loss, take-profit and trailing-stop exits.
package monitor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// OrderRegistry owns StopLossOrder state. Stored orders are only reachable through copies.
type OrderRegistry struct {
	mu     sync.RWMutex
	orders map[string]*models.StopLossOrder
	now    func() time.Time
}

// NewOrderRegistry creates an empty OrderRegistry
func NewOrderRegistry() *OrderRegistry {
	return &OrderRegistry{
		orders: make(map[string]*models.StopLossOrder),
		now:    time.Now,
	}
}

func cloneOrder(o *models.StopLossOrder) *models.StopLossOrder {
	c := *o
	if o.TakeProfitPrice != nil {
		tp := *o.TakeProfitPrice
		c.TakeProfitPrice = &tp
	}
	if o.TriggeredAt != nil {
		at := *o.TriggeredAt
		c.TriggeredAt = &at
	}
	return &c
}

// Add registers a new active order, assigning an ID when it has none
func (r *OrderRegistry) Add(o *models.StopLossOrder) *models.StopLossOrder {
	c := cloneOrder(o)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	now := r.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = models.OrderStatusActive
	}

	r.mu.Lock()
	r.orders[c.ID] = c
	r.mu.Unlock()
	return cloneOrder(c)
}

// Get returns a copy of the order
func (r *OrderRegistry) Get(id string) (*models.StopLossOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	return cloneOrder(o), nil
}

// Update replaces a stored order. Orders that already left the active state cannot change.
func (r *OrderRegistry) Update(o *models.StopLossOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", o.ID, models.ErrNotFound)
	}
	if !stored.IsActive() {
		return fmt.Errorf("order %s is %s: %w", o.ID, stored.Status, ErrOrderClosed)
	}
	c := cloneOrder(o)
	c.UpdatedAt = r.now()
	r.orders[o.ID] = c
	return nil
}

// List returns copies of all orders, newest first
func (r *OrderRegistry) List() []*models.StopLossOrder {
	return r.filter(func(*models.StopLossOrder) bool { return true })
}

// Active returns copies of the active orders, newest first
func (r *OrderRegistry) Active() []*models.StopLossOrder {
	return r.filter(func(o *models.StopLossOrder) bool { return o.IsActive() })
}

// ActiveFor returns copies of the active orders for symbol
func (r *OrderRegistry) ActiveFor(symbol string) []*models.StopLossOrder {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return r.filter(func(o *models.StopLossOrder) bool { return o.IsActive() && o.Symbol == symbol })
}

// CreatedSince reports whether any order for symbol was created at or after since
func (r *OrderRegistry) CreatedSince(symbol string, since time.Time) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return len(r.filter(func(o *models.StopLossOrder) bool {
		return o.Symbol == symbol && !o.CreatedAt.Before(since)
	})) > 0
}

// Restore loads previously persisted orders, replacing any with the same ID
func (r *OrderRegistry) Restore(orders []*models.StopLossOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range orders {
		r.orders[o.ID] = cloneOrder(o)
	}
}

func (r *OrderRegistry) filter(keep func(*models.StopLossOrder) bool) []*models.StopLossOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.StopLossOrder, 0, len(r.orders))
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
