package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PortfolioLens/internal/metrics"
	"PortfolioLens/internal/model"
	"PortfolioLens/internal/provider"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// daily builds one tick per day ending an hour before end.
func daily(end time.Time, closes ...float64) []model.Tick {
	ticks := make([]model.Tick, len(closes))
	for i, c := range closes {
		ticks[i] = model.Tick{Time: end.Add(-time.Hour).AddDate(0, 0, -(len(closes) - 1 - i)), Close: c}
	}
	return ticks
}

func quote(current, prev float64) model.PriceEntry {
	return model.PriceEntry{Current: current, PreviousClose: model.Float(prev)}
}

var rateLimited = fmt.Errorf("upstream: %w", provider.ErrRateLimited)

type cascade struct {
	primary, secondary, exchange, csv *provider.Mock
}

func newCascade() *cascade {
	return &cascade{
		primary:   &provider.Mock{Name: model.ProviderPrimary},
		secondary: &provider.Mock{Name: model.ProviderSecondary},
		exchange:  &provider.Mock{Name: model.ProviderExchange, IDs: provider.ExchangeCandidates},
		csv:       &provider.Mock{Name: model.ProviderCSV, IDs: func(string) []string { return nil }},
	}
}

func (c *cascade) service(clk *clock, opts ...Option) *Service {
	base := []Option{
		WithCascade(c.primary, c.secondary, c.exchange, c.csv),
		WithClock(clk.Now),
	}
	return New(append(base, opts...)...)
}

func TestResolvePrice_FallsThroughAndMemoizes(t *testing.T) {
	clk := newClock()
	c := newCascade()
	c.exchange.Prices = map[string]model.PriceEntry{"1rTAIR": quote(150, 148)}
	svc := c.service(clk)

	e := svc.ResolvePrice(context.Background(), "air.pa")
	assert.Equal(t, 150.0, e.Current)
	assert.Equal(t, 2.0, *e.Change)
	assert.Equal(t, 1, c.primary.QuoteCalls("AIR.PA"))
	assert.Equal(t, 1, c.secondary.QuoteCalls("AIR.PA"))
	assert.Equal(t, 1, c.exchange.QuoteCalls("1rPAIR"))
	assert.Equal(t, 1, c.exchange.QuoteCalls("1rTAIR"))

	// Once the quote is stale the memoized provider and id are tried first.
	clk.Advance(61 * time.Second)
	e = svc.ResolvePrice(context.Background(), "AIR.PA")
	assert.Equal(t, 150.0, e.Current)
	assert.Equal(t, 1, c.primary.QuoteCalls("AIR.PA"))
	assert.Equal(t, 1, c.exchange.QuoteCalls("1rPAIR"))
	assert.Equal(t, 2, c.exchange.QuoteCalls("1rTAIR"))
}

func TestResolvePrice_MemoFailureFallsBackToCascade(t *testing.T) {
	clk := newClock()
	c := newCascade()
	c.exchange.Prices = map[string]model.PriceEntry{"1rPAIR": quote(150, 148)}
	svc := c.service(clk)
	require.True(t, svc.ResolvePrice(context.Background(), "AIR.PA").Resolved())

	clk.Advance(2 * time.Minute)
	c.exchange.Prices = nil
	c.primary.Prices = map[string]model.PriceEntry{"AIR.PA": quote(151, 150)}

	e := svc.ResolvePrice(context.Background(), "AIR.PA")
	assert.Equal(t, 151.0, e.Current)
	// The memoized id is not retried during the cascade walk.
	assert.Equal(t, 2, c.exchange.QuoteCalls("1rPAIR"))
}

func TestResolvePrice_CacheHitMakesNoCalls(t *testing.T) {
	clk := newClock()
	c := newCascade()
	c.primary.Prices = map[string]model.PriceEntry{"MSFT": quote(410, 400)}
	svc := c.service(clk)

	first := svc.ResolvePrice(context.Background(), "MSFT")
	quotes, histories := c.primary.QuoteCalls(""), c.primary.HistoryCalls("")

	clk.Advance(59 * time.Second)
	second := svc.ResolvePrice(context.Background(), "msft")
	assert.Equal(t, first, second)
	assert.Equal(t, quotes, c.primary.QuoteCalls(""))
	assert.Equal(t, histories, c.primary.HistoryCalls(""))
}

func TestResolvePrice_FailureCachedForShortTTL(t *testing.T) {
	clk := newClock()
	c := newCascade()
	svc := c.service(clk)

	e := svc.ResolvePrice(context.Background(), "NOPE")
	assert.True(t, e.Empty())
	assert.Equal(t, 1, c.primary.QuoteCalls("NOPE"))

	clk.Advance(5 * time.Second)
	assert.True(t, svc.ResolvePrice(context.Background(), "NOPE").Empty())
	assert.Equal(t, 1, c.primary.QuoteCalls("NOPE"))

	clk.Advance(6 * time.Second)
	c.primary.Prices = map[string]model.PriceEntry{"NOPE": quote(1, 1)}
	assert.True(t, svc.ResolvePrice(context.Background(), "NOPE").Resolved())
	assert.Equal(t, 2, c.primary.QuoteCalls("NOPE"))
}

func TestResolvePrice_PrimaryRateLimitTripsYahooFamily(t *testing.T) {
	clk := newClock()
	c := newCascade()
	c.primary.Err = rateLimited
	c.secondary.Prices = map[string]model.PriceEntry{"AAPL": quote(200, 190), "SAP": quote(200, 190)}
	c.exchange.Prices = map[string]model.PriceEntry{"AAPL": quote(201, 190), "SAP": quote(202, 190)}
	svc := c.service(clk)
	trips := testutil.ToFloat64(metrics.BreakerTrips.WithLabelValues("yahoo"))

	e := svc.ResolvePrice(context.Background(), "AAPL")
	assert.Equal(t, 201.0, e.Current, "secondary shares the tripped family and is skipped")
	assert.Equal(t, 1, c.primary.QuoteCalls(""))
	assert.Zero(t, c.primary.HistoryCalls(""))
	assert.Zero(t, c.secondary.QuoteCalls(""))
	assert.Equal(t, trips+1, testutil.ToFloat64(metrics.BreakerTrips.WithLabelValues("yahoo")))

	st := svc.Stats()
	require.Contains(t, st.Tripped, "yahoo")
	assert.Equal(t, clk.Now().Add(DefaultCooldown), st.Tripped["yahoo"])

	clk.Advance(14 * time.Minute)
	assert.Equal(t, 202.0, svc.ResolvePrice(context.Background(), "SAP").Current)
	assert.Equal(t, 1, c.primary.QuoteCalls(""))

	clk.Advance(time.Minute + time.Second)
	c.primary.Err = nil
	c.primary.Prices = map[string]model.PriceEntry{"MSFT": quote(410, 400)}
	assert.Equal(t, 410.0, svc.ResolvePrice(context.Background(), "MSFT").Current)
	assert.Equal(t, 2, c.primary.QuoteCalls(""))
	assert.Empty(t, svc.Stats().Tripped)
}

func TestResolvePrice_SecondaryRateLimitDoesNotTrip(t *testing.T) {
	clk := newClock()
	c := newCascade()
	c.secondary.Err = rateLimited
	c.exchange.Prices = map[string]model.PriceEntry{"AAPL": quote(201, 190)}
	svc := c.service(clk)

	assert.Equal(t, 201.0, svc.ResolvePrice(context.Background(), "AAPL").Current)
	assert.Empty(t, svc.Stats().Tripped)
}

func TestResolvePrice_DerivesChangeAndReferences(t *testing.T) {
	clk := newClock()
	c := newCascade()
	bogus := model.PriceEntry{Current: 120, PreviousClose: model.Float(100), Change: model.Float(-1), ChangePct: model.Float(-1)}
	c.primary.Prices = map[string]model.PriceEntry{"MSFT": bogus}
	c.primary.Ticks = map[string][]model.Tick{
		"MSFT": daily(clk.Now(), 100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110, 111),
	}
	svc := c.service(clk)

	e := svc.ResolvePrice(context.Background(), "MSFT")
	assert.Equal(t, 20.0, *e.Change)
	assert.InDelta(t, 20.0, *e.ChangePct, 1e-9)
	assert.Equal(t, 101.0, *e.Price10d)
	assert.InDelta(t, 19.0/101*100, *e.Change10dPct, 1e-9)
	assert.Equal(t, 100.0, *e.Price1y)
	assert.InDelta(t, 20.0, *e.Change1yPct, 1e-9)
}

func TestResolvePrice_ShortHistoryUsesOldestClose(t *testing.T) {
	clk := newClock()
	c := newCascade()
	c.primary.Prices = map[string]model.PriceEntry{"NEW": quote(12, 0)}
	c.primary.Ticks = map[string][]model.Tick{"NEW": daily(clk.Now(), 10, 11, 12)}
	svc := c.service(clk)

	e := svc.ResolvePrice(context.Background(), "NEW")
	assert.Nil(t, e.ChangePct, "zero previous close leaves the day percentage null")
	assert.Equal(t, 10.0, *e.Price10d)
	assert.Equal(t, 10.0, *e.Price1y)
}

func TestResolvePrice_FundBypassesCascade(t *testing.T) {
	clk := newClock()
	c := newCascade()
	fund := &provider.Mock{
		Name:   model.ProviderFund,
		IDs:    func(s string) []string { return []string{strings.TrimSuffix(s, ".F")} },
		Prices: map[string]model.PriceEntry{"0P0000ABCD": quote(101, 100)},
	}
	c.primary.Ticks = map[string][]model.Tick{"0P0000ABCD.F": daily(clk.Now(), 90, 95, 100)}
	svc := c.service(clk, WithFund(fund))

	e := svc.ResolvePrice(context.Background(), "0P0000ABCD.F")
	assert.Equal(t, 101.0, e.Current)
	assert.Zero(t, c.primary.QuoteCalls(""))
	assert.Equal(t, 90.0, *e.Price1y, "references are backfilled from the history cascade")
}

func TestResolvePrice_CustomSourceIsExclusive(t *testing.T) {
	clk := newClock()
	c := newCascade()
	custom := &provider.Mock{
		Name: model.ProviderCustom,
		IDs: func(s string) []string {
			if s == "GOLD" {
				return []string{"GOLD"}
			}
			return nil
		},
	}
	c.primary.Prices = map[string]model.PriceEntry{"GOLD": quote(1, 1), "MSFT": quote(410, 400)}
	svc := c.service(clk, WithCustom(custom))

	assert.True(t, svc.ResolvePrice(context.Background(), "GOLD").Empty())
	assert.Zero(t, c.primary.QuoteCalls("GOLD"))
	assert.Equal(t, 1, custom.QuoteCalls("GOLD"))

	assert.Equal(t, 410.0, svc.ResolvePrice(context.Background(), "MSFT").Current)
	assert.Zero(t, custom.QuoteCalls("MSFT"))
}

func TestResolvePrice_CancelledContextIsNotCached(t *testing.T) {
	clk := newClock()
	c := newCascade()
	c.primary.Prices = map[string]model.PriceEntry{"MSFT": quote(410, 400)}
	svc := c.service(clk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, svc.ResolvePrice(ctx, "MSFT").Empty())
	assert.Equal(t, 410.0, svc.ResolvePrice(context.Background(), "MSFT").Current)
}

// cancelOnHistory cancels the caller's context as soon as history is requested.
type cancelOnHistory struct {
	*provider.Mock
	cancel context.CancelFunc
}

func (c cancelOnHistory) History(ctx context.Context, id string, start, end time.Time, iv model.Interval) ([]model.Tick, error) {
	c.cancel()
	return c.Mock.History(ctx, id, start, end, iv)
}

func TestResolvePrice_CancelledDuringHistoryIsNotCached(t *testing.T) {
	clk := newClock()
	c := newCascade()
	c.primary.Prices = map[string]model.PriceEntry{"MSFT": quote(410, 400)}
	c.primary.Ticks = map[string][]model.Tick{"MSFT": daily(clk.Now(), 380, 390, 400)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := New(
		WithCascade(cancelOnHistory{Mock: c.primary, cancel: cancel}, c.secondary, c.exchange, c.csv),
		WithClock(clk.Now),
	)

	partial := svc.ResolvePrice(ctx, "MSFT")
	assert.Equal(t, 410.0, partial.Current)
	assert.Nil(t, partial.Price1y)

	full := svc.ResolvePrice(context.Background(), "MSFT")
	assert.Equal(t, 2, c.primary.QuoteCalls("MSFT"), "the partial entry was not served from cache")
	require.NotNil(t, full.Price1y)
	assert.Equal(t, 380.0, *full.Price1y)
}

func TestResolvePrice_ReturnedEntryDoesNotAliasCache(t *testing.T) {
	clk := newClock()
	c := newCascade()
	c.primary.Prices = map[string]model.PriceEntry{"MSFT": quote(410, 400)}
	svc := c.service(clk)

	first := svc.ResolvePrice(context.Background(), "MSFT")
	*first.PreviousClose = 1
	*first.Change = -1

	second := svc.ResolvePrice(context.Background(), "MSFT")
	assert.Equal(t, 400.0, *second.PreviousClose)
	assert.Equal(t, 10.0, *second.Change)
	assert.Equal(t, 1, c.primary.QuoteCalls("MSFT"))
}

func TestResolvePrices_DedupesSymbols(t *testing.T) {
	clk := newClock()
	c := newCascade()
	c.primary.Delay = 5 * time.Millisecond
	c.primary.Prices = map[string]model.PriceEntry{}
	var symbols []string
	for i := 0; i < 10; i++ {
		sym := fmt.Sprintf("S%d", i)
		c.primary.Prices[sym] = quote(float64(i+1), 1)
		symbols = append(symbols, sym, strings.ToLower(sym))
	}
	symbols = append(symbols, "MISSING", " ")
	svc := c.service(clk)

	out := svc.ResolvePrices(context.Background(), symbols)
	require.Len(t, out, 11)
	for i := 0; i < 10; i++ {
		sym := fmt.Sprintf("S%d", i)
		assert.Equal(t, float64(i+1), out[sym].Current)
		assert.Equal(t, 1, c.primary.QuoteCalls(sym))
	}
	assert.True(t, out["MISSING"].Empty())
}

func TestResolveHistory_NormalizesAndCaches(t *testing.T) {
	clk := newClock()
	c := newCascade()
	now := clk.Now()
	c.exchange.Ticks = map[string][]model.Tick{"SAP": {
		{Time: now.Add(-50 * time.Hour), Close: 1},
		{Time: now.Add(-30 * time.Hour), Close: 2},
		{Time: now.Add(-26 * time.Hour), Close: 3},
		{Time: now.Add(-2 * time.Hour), Close: 4},
	}}
	svc := c.service(clk)

	points := svc.ResolveHistory(context.Background(), "sap", model.Period1mo, model.IntervalDay)
	require.Len(t, points, 3)
	assert.Equal(t, []float64{1, 3, 4}, model.Closes(points))

	calls := c.exchange.HistoryCalls("")
	clk.Advance(time.Hour)
	again := svc.ResolveHistories(context.Background(), []string{"SAP", "sap"}, model.Period1mo, model.IntervalDay)
	assert.Equal(t, points, again["SAP"])
	assert.Equal(t, calls, c.exchange.HistoryCalls(""))
}

func TestResolveHistory_EmptyResultExpiresQuickly(t *testing.T) {
	clk := newClock()
	c := newCascade()
	svc := c.service(clk)

	assert.Empty(t, svc.ResolveHistory(context.Background(), "NONE", model.Period1y, model.IntervalDay))
	calls := c.primary.HistoryCalls("NONE")
	clk.Advance(11 * time.Second)
	svc.ResolveHistory(context.Background(), "NONE", model.Period1y, model.IntervalDay)
	assert.Equal(t, calls+1, c.primary.HistoryCalls("NONE"))
}

type fakeFundamentals struct {
	mu    sync.Mutex
	calls int
	out   map[string][]model.FundamentalPoint
}

func (f *fakeFundamentals) Fetch(_ context.Context, _ string, metrics []string, _, _ time.Time) (map[string][]model.FundamentalPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make(map[string][]model.FundamentalPoint)
	for _, m := range metrics {
		if pts, ok := f.out[m]; ok {
			out[m] = pts
		}
	}
	if len(out) == 0 {
		return nil, provider.ErrNoData
	}
	return out, nil
}

func TestResolveFundamentals(t *testing.T) {
	clk := newClock()
	c := newCascade()
	f := &fakeFundamentals{out: map[string][]model.FundamentalPoint{
		"annualTotalRevenue": {{Metric: "annualTotalRevenue", AsOfDate: "2024-09-30", Value: 391e9}},
	}}
	svc := c.service(clk, WithFundamentals(f))

	out := svc.ResolveFundamentals(context.Background(), "aapl", []string{"annualTotalRevenue", "annualNetIncome"})
	require.Contains(t, out, "annualTotalRevenue")
	assert.NotContains(t, out, "annualNetIncome")

	svc.ResolveFundamentals(context.Background(), "AAPL", []string{"annualNetIncome", "annualTotalRevenue"})
	assert.Equal(t, 1, f.calls, "metric order does not change the cache key")

	c.primary.Err = rateLimited
	svc.ResolvePrice(context.Background(), "X")
	assert.Nil(t, svc.ResolveFundamentals(context.Background(), "MSFT", []string{"annualTotalRevenue"}))
	assert.Equal(t, 1, f.calls, "skipped while the yahoo family is cooling down")
}

func TestClearAll(t *testing.T) {
	clk := newClock()
	c := newCascade()
	c.primary.Err = rateLimited
	c.exchange.Prices = map[string]model.PriceEntry{"AAPL": quote(201, 190)}
	svc := c.service(clk)

	svc.ResolvePrice(context.Background(), "AAPL")
	st := svc.Stats()
	require.NotEmpty(t, st.Tripped)
	require.Equal(t, 1, st.Quotes)

	svc.ClearAll(context.Background())
	st = svc.Stats()
	assert.Zero(t, st.Quotes)
	assert.Zero(t, st.Histories)
	assert.Empty(t, st.Tripped)

	c.primary.Err = nil
	c.primary.Prices = map[string]model.PriceEntry{"AAPL": quote(200, 190)}
	assert.Equal(t, 200.0, svc.ResolvePrice(context.Background(), "AAPL").Current,
		"resolution memo is cleared so the cascade starts at the primary again")
}
