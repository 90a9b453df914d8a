// Package portfolio holds the open positions reported by the execution layer.
package portfolio

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// Registry is the in-memory set of open positions keyed by symbol.
// Callers that read-modify-write a position serialize on the symbol lock first.
type Registry struct {
	mu        sync.RWMutex
	positions map[string]*models.Position
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{positions: make(map[string]*models.Position)}
}

func key(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Get returns a copy of the position for symbol
func (r *Registry) Get(symbol string) (*models.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.positions[key(symbol)]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", key(symbol), models.ErrNotFound)
	}
	return p.Clone(), nil
}

// Upsert stores a copy of p. A position with zero quantity is removed.
func (r *Registry) Upsert(p *models.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(p.Symbol)
	if p.Quantity <= 0 {
		delete(r.positions, k)
		return
	}
	c := p.Clone()
	c.Symbol = k
	r.positions[k] = c
}

// Annotate merges the engine-owned fields of p into the stored position, leaving the
// execution-owned fields untouched. p may be stale: the stop only moves if p's is tighter
// and the counters only grow. It reports false when the position is gone or was reopened
// on another side or entry since p was read.
func (r *Registry) Annotate(p *models.Position) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.positions[key(p.Symbol)]
	if !ok || stored.Side != p.Side || stored.EntryPrice != p.EntryPrice {
		return false
	}
	if stored.Tighter(p.StopPrice) {
		stored.StopPrice = p.StopPrice
	}
	if stored.RiskPerShare <= 0 {
		stored.RiskPerShare = p.RiskPerShare
	}
	if p.RealizedScaleouts > stored.RealizedScaleouts {
		// a snapshot landing after p was read has already executed part of p's pending sells
		executed := max(0, p.Quantity-stored.Quantity)
		stored.PendingScaleOut = max(0, p.PendingScaleOut-executed)
	}
	stored.BarsHeld = max(stored.BarsHeld, p.BarsHeld)
	stored.PeakUnrealized = max(stored.PeakUnrealized, p.PeakUnrealized)
	stored.RealizedScaleouts = max(stored.RealizedScaleouts, p.RealizedScaleouts)
	return true
}

// Replace swaps in a full snapshot. Engine annotations survive for symbols still held
// on the same side; everything else comes from the snapshot. A quantity drop settles
// pending scale-outs.
func (r *Registry) Replace(snapshot []*models.Position) {
	next := make(map[string]*models.Position, len(snapshot))

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range snapshot {
		if p == nil || p.Quantity <= 0 {
			continue
		}
		c := p.Clone()
		c.Symbol = key(p.Symbol)
		if prev, ok := r.positions[c.Symbol]; ok && prev.Side == c.Side && prev.EntryPrice == c.EntryPrice {
			if !prev.Tighter(c.StopPrice) {
				c.StopPrice = prev.StopPrice
			}
			if c.RiskPerShare == 0 {
				c.RiskPerShare = prev.RiskPerShare
			}
			if !prev.EntryTime.IsZero() && (c.EntryTime.IsZero() || prev.EntryTime.Before(c.EntryTime)) {
				c.EntryTime = prev.EntryTime
			}
			c.PendingScaleOut = max(0, prev.PendingScaleOut-max(0, prev.Quantity-c.Quantity))
			c.BarsHeld = max(c.BarsHeld, prev.BarsHeld)
			c.PeakUnrealized = max(c.PeakUnrealized, prev.PeakUnrealized)
			c.RealizedScaleouts = max(c.RealizedScaleouts, prev.RealizedScaleouts)
		}
		next[c.Symbol] = c
	}
	r.positions = next
}

// Remove deletes the position for symbol
func (r *Registry) Remove(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.positions, key(symbol))
}

// List returns copies of all positions sorted by symbol
func (r *Registry) List() []*models.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Position, 0, len(r.positions))
	for _, p := range r.positions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbols returns the held symbols
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.positions))
	for s := range r.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Held returns the held symbols as a set
func (r *Registry) Held() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool, len(r.positions))
	for s := range r.positions {
		out[s] = true
	}
	return out
}

// Len returns the number of open positions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}
