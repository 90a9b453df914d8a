// Package allocation turns screened candidates into constrained target weights.
package allocation

import (
	"math"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trogers1052/stock-risk-engine/internal/config"
	"github.com/trogers1052/stock-risk-engine/internal/indicators"
	"github.com/trogers1052/stock-risk-engine/internal/models"
)

const (
	// MinWeight is the smallest target weight worth entering
	MinWeight = 0.02

	remainingFraction = 0.3
	scoreWeightScale  = 0.4
	sectorTolerance   = 1e-9
)

// AISource supplies the current AISettings
type AISource interface {
	AI() config.AISettings
}

// Optimizer ranks candidates and sizes their target weights
type Optimizer struct {
	settings AISource
	logger   zerolog.Logger
}

// NewOptimizer creates an Optimizer
func NewOptimizer(settings AISource) *Optimizer {
	return &Optimizer{
		settings: settings,
		logger:   log.With().Str("component", "allocation").Logger(),
	}
}

// CompositeScore blends the combined score with the normalized factor view of the candidate
func CompositeScore(m *models.MarketAnalysis) float64 {
	factors := m.Momentum*0.4 + m.ValueScore*0.2 + m.SentimentScore*0.3 + (1-m.Volatility)*0.1
	return m.CombinedScore*0.7 + factors*0.3
}

type candidate struct {
	analysis  *models.MarketAnalysis
	composite float64
	weight    float64
}

// Allocate returns target weights for the best candidates. held marks symbols already in the
// portfolio, which get the rebalance action instead of buy. An empty result means no new entries.
func (o *Optimizer) Allocate(candidates []*models.MarketAnalysis, held map[string]bool) []models.PortfolioAllocation {
	ai := o.settings.AI()

	ranked := make([]candidate, 0, len(candidates))
	for _, m := range candidates {
		if m == nil {
			continue
		}
		ranked = append(ranked, candidate{analysis: m, composite: CompositeScore(m)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].composite != ranked[j].composite {
			return ranked[i].composite > ranked[j].composite
		}
		return ranked[i].analysis.Symbol < ranked[j].analysis.Symbol
	})

	kept := greedy(ranked, ai)
	if len(kept) == 0 {
		o.logger.Info().Int("candidates", len(candidates)).Msg("no allocations this cycle")
		return nil
	}
	normalize(kept, ai)

	allocations := make([]models.PortfolioAllocation, 0, len(kept))
	for i, c := range kept {
		action := models.ActionBuy
		if held[c.analysis.Symbol] {
			action = models.ActionRebalance
		}
		allocations = append(allocations, models.PortfolioAllocation{
			Symbol:         c.analysis.Symbol,
			Sector:         c.analysis.Sector,
			TargetWeight:   c.weight,
			CompositeScore: c.composite,
			Action:         action,
			Priority:       i + 1,
		})
	}
	return allocations
}

// greedy walks the ranking, spending a shrinking share of the remaining budget on each
// candidate within its sector headroom and, when configured, the per-position cap.
func greedy(ranked []candidate, ai config.AISettings) []candidate {
	remaining := 1.0
	sectorWeight := make(map[string]float64)

	var kept []candidate
	for _, c := range ranked {
		if len(kept) >= ai.MaxPositions {
			break
		}
		vol := indicators.Clamp(c.analysis.Volatility, 0, 1)
		w := math.Min(remaining*remainingFraction, c.composite*scoreWeightScale*(1-vol*0.5))
		if ai.MaxPositionWeight > 0 {
			w = math.Min(w, ai.MaxPositionWeight)
		}
		w = math.Min(w, ai.SectorLimit(c.analysis.Sector)-sectorWeight[c.analysis.Sector])
		if w <= MinWeight {
			continue
		}
		c.weight = w
		remaining -= w
		sectorWeight[c.analysis.Sector] += w
		kept = append(kept, c)
	}
	return kept
}

// normalize scales kept weights to sum to 1, then caps any sector over its limit and
// redistributes the excess across sectors that still have headroom. When every represented
// sector is capped, or a position cap clips a weight, the weights sum to less than 1.
func normalize(kept []candidate, ai config.AISettings) {
	balanceSectors(kept, ai)
	if ai.MaxPositionWeight <= 0 {
		return
	}
	// clipping only lowers weights, so sector totals stay within their limits
	for i := range kept {
		kept[i].weight = math.Min(kept[i].weight, ai.MaxPositionWeight)
	}
}

func balanceSectors(kept []candidate, ai config.AISettings) {
	scale(kept, nil, 1/sumWeights(kept, nil))

	capped := make(map[string]bool)
	for {
		totals := make(map[string]float64)
		for _, c := range kept {
			totals[c.analysis.Sector] += c.weight
		}

		over := false
		for sector, total := range totals {
			limit := ai.SectorLimit(sector)
			if capped[sector] || total <= limit+sectorTolerance {
				continue
			}
			scale(kept, func(s string) bool { return s == sector }, limit/total)
			capped[sector] = true
			over = true
		}
		if !over {
			return
		}

		isFree := func(s string) bool { return !capped[s] }
		free := sumWeights(kept, isFree)
		if free <= 0 {
			return
		}
		cappedTotal := sumWeights(kept, func(s string) bool { return capped[s] })
		scale(kept, isFree, (1-cappedTotal)/free)
	}
}

func sumWeights(kept []candidate, match func(sector string) bool) float64 {
	var sum float64
	for _, c := range kept {
		if match == nil || match(c.analysis.Sector) {
			sum += c.weight
		}
	}
	return sum
}

func scale(kept []candidate, match func(sector string) bool, factor float64) {
	for i := range kept {
		if match == nil || match(kept[i].analysis.Sector) {
			kept[i].weight *= factor
		}
	}
}
