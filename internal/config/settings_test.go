package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/stock-risk-engine/internal/models"
)

func TestDefaultSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.InDelta(t, 1.0, s.Risk.Weights.Sum(), 1e-9)
	assert.Equal(t, 0.70, s.Risk.ExitThreshold)
	assert.Equal(t, 0.85, s.Risk.PanicThreshold)
	assert.Equal(t, 10*time.Second, s.StopLoss.MonitorInterval)
}

func TestRiskConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RiskConfig)
		field  string
	}{
		{"weights not summing to one", func(r *RiskConfig) { r.Weights.Time = 0.5 }, "weights"},
		{"negative weight", func(r *RiskConfig) { r.Weights.Time = -0.08; r.Weights.Drawdown = 0.28 }, "weights.time"},
		{"zero atr length", func(r *RiskConfig) { r.ATRLength = 0 }, "atr_length"},
		{"fast ema not faster", func(r *RiskConfig) { r.EMAFast = 30 }, "ema_fast"},
		{"exit threshold above one", func(r *RiskConfig) { r.ExitThreshold = 1.2 }, "exit_threshold"},
		{"panic threshold zero", func(r *RiskConfig) { r.PanicThreshold = 0 }, "panic_threshold"},
		{"levels and percents mismatch", func(r *RiskConfig) { r.ScaleOutPercents = []float64{0.5} }, "scale_out_percents"},
		{"levels not increasing", func(r *RiskConfig) { r.TakeProfitLevels = []float64{2, 1} }, "take_profit_levels"},
		{"scale out percent above one", func(r *RiskConfig) { r.ScaleOutPercents = []float64{0.5, 1.5} }, "scale_out_percents"},
		{"rsi bounds inverted", func(r *RiskConfig) { r.RSIOversold = 80 }, "rsi_oversold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRiskConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrConfiguration)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "risk", verr.Section)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	t.Run("weights within tolerance pass", func(t *testing.T) {
		cfg := DefaultRiskConfig()
		cfg.Weights.Time += 5e-7
		assert.NoError(t, cfg.Validate())
	})
}

func TestAISettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AISettings)
	}{
		{"unknown tolerance", func(a *AISettings) { a.RiskTolerance = "yolo" }},
		{"zero investment", func(a *AISettings) { a.InvestmentAmount = 0 }},
		{"zero positions", func(a *AISettings) { a.MaxPositions = 0 }},
		{"sector limit above one", func(a *AISettings) { a.SectorLimits["Technology"] = 1.5 }},
		{"position cap above one", func(a *AISettings) { a.MaxPositionWeight = 1.5 }},
		{"negative position cap", func(a *AISettings) { a.MaxPositionWeight = -0.1 }},
		{"stop loss percent out of range", func(a *AISettings) { a.StopLossPercent = 150 }},
		{"drawdown zero", func(a *AISettings) { a.MaxDrawdownPercent = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAISettings()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), models.ErrConfiguration)
		})
	}
}

func TestAISettingsHelpers(t *testing.T) {
	t.Run("sector limit falls back to default", func(t *testing.T) {
		a := DefaultAISettings()
		a.SectorLimits["Energy"] = 0.2
		assert.Equal(t, 0.2, a.SectorLimit("Energy"))
		assert.Equal(t, 0.4, a.SectorLimit("Technology"))
	})

	t.Run("risk tolerance presets", func(t *testing.T) {
		a := DefaultAISettings()
		assert.Equal(t, 0.0, a.ExitThresholdOffset())
		assert.Zero(t, a.MaxPositionWeight, "position cap is off by default")

		a.RiskTolerance = ToleranceConservative
		assert.Equal(t, -0.05, a.ExitThresholdOffset())

		a.RiskTolerance = ToleranceAggressive
		assert.Equal(t, 0.05, a.ExitThresholdOffset())
	})

	t.Run("clone does not share sector map", func(t *testing.T) {
		a := DefaultAISettings()
		c := a.Clone()
		c.SectorLimits["Energy"] = 0.1
		_, ok := a.SectorLimits["Energy"]
		assert.False(t, ok)
	})
}

func TestStopLossSettingsValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, DefaultStopLossSettings().Validate())
	})

	t.Run("monitor interval too short", func(t *testing.T) {
		s := DefaultStopLossSettings()
		s.MonitorInterval = 10 * time.Millisecond
		assert.ErrorIs(t, s.Validate(), models.ErrConfiguration)
	})

	t.Run("negative order ttl", func(t *testing.T) {
		s := DefaultStopLossSettings()
		s.OrderTTL = -time.Minute
		assert.ErrorIs(t, s.Validate(), models.ErrConfiguration)
	})

	t.Run("emergency percent out of range", func(t *testing.T) {
		s := DefaultStopLossSettings()
		s.EmergencyStopPercent = 0
		assert.ErrorIs(t, s.Validate(), models.ErrConfiguration)
	})
}
