package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// FinnhubProvider reads quotes, fundamentals and analyst ratings from the Finnhub REST API.
// Daily candles are a premium endpoint, so it does not serve history.
type FinnhubProvider struct {
	client *resty.Client
	apiKey string
}

// NewFinnhubProvider creates a Finnhub provider
func NewFinnhubProvider(baseURL, apiKey string, timeout time.Duration) *FinnhubProvider {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	return &FinnhubProvider{
		client: client,
		apiKey: apiKey,
	}
}

// finnhubQuote is the /quote payload. Volume is only present on some plans.
type finnhubQuote struct {
	Current       *float64 `json:"c"`
	Change        *float64 `json:"d"`
	ChangePercent *float64 `json:"dp"`
	High          float64  `json:"h"`
	Low           float64  `json:"l"`
	Open          float64  `json:"o"`
	PreviousClose float64  `json:"pc"`
	Timestamp     int64    `json:"t"`
	Volume        *int64   `json:"v"`
}

type finnhubMetrics struct {
	Metric map[string]*float64 `json:"metric"`
}

type finnhubRecommendation struct {
	StrongBuy  int    `json:"strongBuy"`
	Buy        int    `json:"buy"`
	Hold       int    `json:"hold"`
	Sell       int    `json:"sell"`
	StrongSell int    `json:"strongSell"`
	Period     string `json:"period"`
}

func (f *FinnhubProvider) Name() string { return models.SourceFinnhub }

// Quote fetches /quote
func (f *FinnhubProvider) Quote(ctx context.Context, symbol string) (models.RawQuote, error) {
	var payload finnhubQuote
	if err := f.get(ctx, "/quote", map[string]string{"symbol": symbol}, &payload); err != nil {
		return models.RawQuote{}, err
	}

	// Finnhub answers unknown symbols with an all-zero payload
	if payload.Current == nil || (*payload.Current == 0 && payload.Timestamp == 0) {
		return models.RawQuote{}, fmt.Errorf("finnhub has no quote for %s: %w", symbol, models.ErrDataUnavailable)
	}

	raw := models.RawQuote{
		Symbol:        symbol,
		Price:         payload.Current,
		Change:        payload.Change,
		ChangePercent: payload.ChangePercent,
		Volume:        payload.Volume,
		Source:        models.SourceFinnhub,
	}
	if payload.Timestamp > 0 {
		ts := time.Unix(payload.Timestamp, 0)
		raw.Timestamp = &ts
	}
	return raw, nil
}

// History is not offered on the free Finnhub plan
func (f *FinnhubProvider) History(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error) {
	return nil, notSupported(models.SourceFinnhub, "history")
}

// Fundamentals combines /stock/metric with the latest /stock/recommendation
func (f *FinnhubProvider) Fundamentals(ctx context.Context, symbol string) (*models.FundamentalMetrics, error) {
	var payload finnhubMetrics
	if err := f.get(ctx, "/stock/metric", map[string]string{"symbol": symbol, "metric": "all"}, &payload); err != nil {
		return nil, err
	}
	if len(payload.Metric) == 0 {
		return nil, fmt.Errorf("finnhub has no metrics for %s: %w", symbol, models.ErrDataUnavailable)
	}

	pick := func(keys ...string) (float64, bool) {
		for _, k := range keys {
			if v, ok := payload.Metric[k]; ok && v != nil {
				return *v, true
			}
		}
		return 0, false
	}

	metrics := &models.FundamentalMetrics{Source: models.SourceFinnhub}
	fields := []struct {
		dst  *float64
		keys []string
	}{
		{&metrics.EPSGrowth, []string{"epsGrowthTTMYoy", "epsGrowth3Y"}},
		{&metrics.ROE, []string{"roeTTM", "roeRfy"}},
		{&metrics.SalesGrowth, []string{"revenueGrowthTTMYoy", "revenueGrowth3Y"}},
		{&metrics.PERatio, []string{"peTTM", "peBasicExclExtraTTM", "peNormalizedAnnual"}},
		{&metrics.DebtToEquity, []string{"totalDebt/totalEquityQuarterly", "totalDebt/totalEquityAnnual"}},
		{&metrics.OperatingMargin, []string{"operatingMarginTTM", "operatingMarginAnnual"}},
		{&metrics.CurrentRatio, []string{"currentRatioQuarterly", "currentRatioAnnual"}},
	}
	var missing []string
	for _, field := range fields {
		v, ok := pick(field.keys...)
		if !ok {
			missing = append(missing, field.keys[0])
			continue
		}
		*field.dst = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("finnhub metrics for %s missing %s: %w", symbol, strings.Join(missing, ","), models.ErrDataUnavailable)
	}

	var recs []finnhubRecommendation
	if err := f.get(ctx, "/stock/recommendation", map[string]string{"symbol": symbol}, &recs); err == nil && len(recs) > 0 {
		if s, ok := recommendationSentiment(recs[0]); ok {
			metrics.AnalystSentiment = &s
		}
	}
	return metrics, nil
}

// recommendationSentiment maps analyst counts to [0,1], strong sell = 0 and strong buy = 1
func recommendationSentiment(r finnhubRecommendation) (float64, bool) {
	total := r.StrongBuy + r.Buy + r.Hold + r.Sell + r.StrongSell
	if total == 0 {
		return 0, false
	}
	score := float64(r.StrongBuy)*1 + float64(r.Buy)*0.75 + float64(r.Hold)*0.5 + float64(r.Sell)*0.25
	return score / float64(total), true
}

func (f *FinnhubProvider) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	if f.apiKey == "" {
		return fmt.Errorf("finnhub API key not configured: %w", models.ErrDataUnavailable)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetQueryParam("token", f.apiKey).
		Get(path)
	if err != nil {
		return fmt.Errorf("failed to call finnhub %s: %w", path, err)
	}

	switch {
	case resp.StatusCode() == http.StatusOK:
	case resp.StatusCode() == http.StatusForbidden || resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("finnhub %s returned %d: %w", path, resp.StatusCode(), models.ErrDataUnavailable)
	default:
		return fmt.Errorf("finnhub %s returned %d: %s", path, resp.StatusCode(), resp.String())
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to parse finnhub %s response: %w", path, err)
	}
	return nil
}
