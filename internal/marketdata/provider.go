// Package marketdata implements the Market Data Provider (§4.1): quote
// and historical-bar retrieval against a single upstream JSON chart/quote
// contract, TTL caching, and the SMA/EMA/RSI indicator functions the
// Rule Evaluator consumes.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/paperdesk/paperdeskd/internal/config"
	"github.com/paperdesk/paperdeskd/pkg/models"
)

// ErrUpstreamUnavailable is returned when the upstream fetch fails or
// times out and the provider is not configured to degrade to synthetic
// data (§7 UpstreamUnavailable).
var ErrUpstreamUnavailable = fmt.Errorf("marketdata: upstream unavailable")

// defaultUserAgent mirrors the teacher's internal/infra.DefaultUserAgent
// — upstream chart APIs of this shape reject bare Go http.Client UAs.
const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Provider fetches quotes and historical bars for symbols.
type Provider struct {
	cfg        config.MarketDataConfig
	httpClient *http.Client
	cache      *cache
}

// New constructs a Provider from the engine/market-data slice of Config.
func New(cfg config.MarketDataConfig, timeout time.Duration) *Provider {
	return &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		cache:      newCache(),
	}
}

// GetQuote fetches the current quote for symbol, per §4.1.
func (p *Provider) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	key := fmt.Sprintf("quote:%s", symbol)
	v, err := p.cache.coalesce(key, p.cfg.QuoteTTL(), func() (any, error) {
		return p.fetchQuote(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Quote), nil
}

// GetMultipleQuotes fans out GetQuote concurrently across symbols;
// partial failures omit the key from the result map rather than failing
// the whole call (§4.1).
func (p *Provider) GetMultipleQuotes(ctx context.Context, symbols []string) map[string]*models.Quote {
	out := make(map[string]*models.Quote, len(symbols))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			q, err := p.GetQuote(gctx, sym)
			if err != nil {
				log.Printf("marketdata: quote fetch failed for %s: %v", sym, err)
				return nil
			}
			mu.Lock()
			out[sym] = q
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// GetHistorical fetches ascending-by-timestamp bars for symbol over the
// requested range/interval, dropping any bar whose close is null (§4.1).
func (p *Provider) GetHistorical(ctx context.Context, symbol string, rng models.Range, interval models.Interval) ([]models.Bar, error) {
	key := fmt.Sprintf("hist:%s:%s:%s", symbol, rng, interval)
	v, err := p.cache.coalesce(key, p.cfg.HistoryTTL(), func() (any, error) {
		return p.fetchHistorical(ctx, symbol, rng, interval)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Bar), nil
}

func (p *Provider) fetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	bars, err := p.fetchChart(ctx, symbol, "1d", "1m")
	if err != nil {
		if p.cfg.IsDevelopment() {
			return syntheticQuote(symbol), nil
		}
		return nil, err
	}
	if len(bars) == 0 {
		if p.cfg.IsDevelopment() {
			return syntheticQuote(symbol), nil
		}
		return nil, fmt.Errorf("%w: no bars for %s", ErrUpstreamUnavailable, symbol)
	}
	last := bars[len(bars)-1]
	prevClose := bars[0].Open
	if len(bars) > 1 {
		prevClose = bars[len(bars)-2].Close
	}
	change := last.Close.Sub(prevClose)
	changePct := decimal.Zero
	if prevClose.Sign() != 0 {
		changePct = change.Div(prevClose).Mul(decimal.NewFromInt(100))
	}
	return &models.Quote{
		Symbol:        symbol,
		Price:         last.Close,
		PreviousClose: prevClose,
		Open:          bars[0].Open,
		High:          highOf(bars),
		Low:           lowOf(bars),
		Volume:        last.Volume,
		Timestamp:     last.Timestamp,
		Change:        change,
		ChangePercent: changePct,
	}, nil
}

func (p *Provider) fetchHistorical(ctx context.Context, symbol string, rng models.Range, interval models.Interval) ([]models.Bar, error) {
	bars, err := p.fetchChart(ctx, symbol, string(rng), string(interval))
	if err != nil {
		if p.cfg.IsDevelopment() {
			return syntheticBars(symbol, rng, interval), nil
		}
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: zero bars for %s", ErrUpstreamUnavailable, symbol)
	}
	return bars, nil
}

// fetchChart performs the §6 upstream contract call: GET
// {base}/chart/{symbol}?interval=&range=.
func (p *Provider) fetchChart(ctx context.Context, symbol, rng, interval string) ([]models.Bar, error) {
	url := fmt.Sprintf("%s/chart/%s?interval=%s&range=%s", strings.TrimRight(p.cfg.UpstreamURL, "/"), symbol, interval, rng)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrUpstreamUnavailable, resp.StatusCode, string(body))
	}

	var chart chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstreamUnavailable, err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, nil
	}
	return parseBars(chart.Chart.Result[0]), nil
}

// parseBars converts the upstream parallel-array shape into ascending
// Bars, dropping any index whose close is null (§4.1).
func parseBars(r chartResult) []models.Bar {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]
	out := make([]models.Bar, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		if i >= len(q.Close) || q.Close[i] == nil {
			continue
		}
		bar := models.Bar{
			Timestamp: time.Unix(ts, 0).UTC(),
			Close:     decimal.NewFromFloat(*q.Close[i]),
		}
		if i < len(q.Open) && q.Open[i] != nil {
			bar.Open = decimal.NewFromFloat(*q.Open[i])
		} else {
			bar.Open = bar.Close
		}
		if i < len(q.High) && q.High[i] != nil {
			bar.High = decimal.NewFromFloat(*q.High[i])
		} else {
			bar.High = bar.Close
		}
		if i < len(q.Low) && q.Low[i] != nil {
			bar.Low = decimal.NewFromFloat(*q.Low[i])
		} else {
			bar.Low = bar.Close
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			bar.Volume = *q.Volume[i]
		}
		out = append(out, bar)
	}
	return out
}

func highOf(bars []models.Bar) decimal.Decimal {
	h := bars[0].High
	for _, b := range bars[1:] {
		if b.High.GreaterThan(h) {
			h = b.High
		}
	}
	return h
}

func lowOf(bars []models.Bar) decimal.Decimal {
	l := bars[0].Low
	for _, b := range bars[1:] {
		if b.Low.LessThan(l) {
			l = b.Low
		}
	}
	return l
}

// syntheticQuote produces deterministic-looking placeholder data for
// development mode, per §4.1's "MAY degrade to deterministic synthetic
// data only in an explicit development mode".
func syntheticQuote(symbol string) *models.Quote {
	base := syntheticBasePrice(symbol)
	now := time.Now().UTC()
	prevClose := base.Mul(decimal.NewFromFloat(0.995)).Round(2)
	return &models.Quote{
		Symbol:        symbol,
		Price:         base,
		PreviousClose: prevClose,
		Open:          prevClose,
		High:          base.Mul(decimal.NewFromFloat(1.01)).Round(2),
		Low:           base.Mul(decimal.NewFromFloat(0.99)).Round(2),
		Volume:        1_000_000,
		Timestamp:     now,
		Change:        base.Sub(prevClose),
		ChangePercent: base.Sub(prevClose).Div(prevClose).Mul(decimal.NewFromInt(100)),
	}
}

// syntheticBars produces a deterministic placeholder candle walk for
// symbol: the drift sequence is derived from symbol's hash (syntheticSeed),
// the same way syntheticBasePrice derives a deterministic starting price.
// Timestamps count back from the start of the current UTC day, so the
// series covers the requested range up to just before today; two calls on
// the same UTC day return identical bars.
func syntheticBars(symbol string, rng models.Range, interval models.Interval) []models.Bar {
	n := syntheticBarCount(rng, interval)
	base := syntheticBasePrice(symbol)
	out := make([]models.Bar, 0, n)
	step := syntheticStep(interval)
	rnd := newSyntheticRand(syntheticSeed(symbol))
	epoch := time.Now().UTC().Truncate(24 * time.Hour)
	price := base
	for i := 0; i < n; i++ {
		drift := decimal.NewFromFloat((rnd.float64() - 0.5) * 2)
		price = price.Add(drift).Round(2)
		if price.Sign() <= 0 {
			price = decimal.NewFromInt(1)
		}
		ts := epoch.Add(-time.Duration(n-i) * step)
		out = append(out, models.Bar{
			Timestamp: ts,
			Open:      price,
			High:      price.Mul(decimal.NewFromFloat(1.005)).Round(2),
			Low:       price.Mul(decimal.NewFromFloat(0.995)).Round(2),
			Close:     price,
			Volume:    500_000,
		})
	}
	return out
}

func syntheticBasePrice(symbol string) decimal.Decimal {
	sum := 0
	for _, r := range symbol {
		sum += int(r)
	}
	return decimal.NewFromInt(int64(50 + sum%200))
}

// syntheticSeed hashes symbol (FNV-1a) into a deterministic 64-bit seed for
// syntheticRand — the same symbol always drives the same drift sequence.
func syntheticSeed(symbol string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(symbol); i++ {
		h ^= uint64(symbol[i])
		h *= 1099511628211
	}
	if h == 0 {
		h = 1
	}
	return h
}

// syntheticRand is a xorshift64* generator: small, dependency-free, and
// reproducible across runs given the same seed — unlike math/rand's global
// source, which is neither seeded nor safe to pin for this purpose.
type syntheticRand struct{ state uint64 }

func newSyntheticRand(seed uint64) *syntheticRand {
	return &syntheticRand{state: seed}
}

func (r *syntheticRand) next() uint64 {
	r.state ^= r.state >> 12
	r.state ^= r.state << 25
	r.state ^= r.state >> 27
	return r.state * 2685821657736338717
}

// float64 returns a value in [0, 1).
func (r *syntheticRand) float64() float64 {
	return float64(r.next()>>11) / float64(1<<53)
}

func syntheticStep(interval models.Interval) time.Duration {
	switch interval {
	case models.Interval1m:
		return time.Minute
	case models.Interval5m:
		return 5 * time.Minute
	case models.Interval15m:
		return 15 * time.Minute
	case models.Interval30m:
		return 30 * time.Minute
	case models.Interval1h:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

func syntheticBarCount(rng models.Range, interval models.Interval) int {
	var span time.Duration
	switch rng {
	case models.Range1D:
		span = 24 * time.Hour
	case models.Range5D:
		span = 5 * 24 * time.Hour
	case models.Range1Mo:
		span = 30 * 24 * time.Hour
	case models.Range3Mo:
		span = 90 * 24 * time.Hour
	case models.Range6Mo:
		span = 180 * 24 * time.Hour
	case models.Range1Y:
		span = 365 * 24 * time.Hour
	case models.Range2Y:
		span = 2 * 365 * 24 * time.Hour
	case models.Range5Y:
		span = 5 * 365 * 24 * time.Hour
	default:
		span = 24 * time.Hour
	}
	n := int(span / syntheticStep(interval))
	if n < 2 {
		n = 2
	}
	if n > 2000 {
		n = 2000
	}
	return n
}
