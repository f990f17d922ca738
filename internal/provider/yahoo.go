package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"PortfolioLens/internal/model"
)

// DefaultYahooBaseURL is the host of the chart, quote and fundamentals endpoints.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

// yahooChart is the response structure of the v8 chart endpoint.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta       yahooMeta `json:"meta"`
			Timestamp  []int64   `json:"timestamp"`
			Indicators struct {
				Quote []yahooBars `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type yahooBars struct {
	Close []*float64 `json:"close"`
}

type yahooMeta struct {
	Currency                   string   `json:"currency"`
	Symbol                     string   `json:"symbol"`
	LongName                   string   `json:"longName"`
	ShortName                  string   `json:"shortName"`
	RegularMarketPrice         *float64 `json:"regularMarketPrice"`
	PreviousClose              *float64 `json:"previousClose"`
	RegularMarketPreviousClose *float64 `json:"regularMarketPreviousClose"`
	ChartPreviousClose         *float64 `json:"chartPreviousClose"`
	GMTOffset                  int      `json:"gmtoffset"`
}

// YahooChart is the primary adapter: quotes and history from the v8 chart endpoint.
//
// Extraction rules, in order:
//   - current: meta.regularMarketPrice, then the last non-null close;
//   - previous close: meta.previousClose, meta.regularMarketPreviousClose,
//     the close before the last one, meta.chartPreviousClose;
//   - name: meta.longName, meta.shortName.
type YahooChart struct {
	baseURL string
	http    Getter
	now     func() time.Time
}

// NewYahooChart creates the primary adapter. An empty baseURL uses DefaultYahooBaseURL.
func NewYahooChart(getter Getter, baseURL string) *YahooChart {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	return &YahooChart{baseURL: strings.TrimRight(baseURL, "/"), http: getter, now: time.Now}
}

func (y *YahooChart) Provider() model.Provider { return model.ProviderPrimary }

func (y *YahooChart) Candidates(symbol string) []string { return passthrough(symbol) }

func (y *YahooChart) Quote(ctx context.Context, id string) (model.PriceEntry, error) {
	now := y.now()
	chart, err := y.fetchChart(ctx, id, now.AddDate(0, 0, -7), now, model.IntervalDay)
	if err != nil {
		return model.PriceEntry{}, err
	}
	result := chart.Chart.Result[0]
	meta := result.Meta
	closes := nonNullCloses(result.Indicators.Quote)

	current, ok := firstFloat(meta.RegularMarketPrice, lastOf(closes, 1))
	if !ok || current == 0 {
		return model.PriceEntry{}, fmt.Errorf("yahoo chart %s: %w", id, ErrNoData)
	}
	entry := model.PriceEntry{
		Current:  current,
		LongName: model.String(firstString(meta.LongName, meta.ShortName)),
		Currency: model.String(meta.Currency),
	}
	if prev, ok := firstFloat(meta.PreviousClose, meta.RegularMarketPreviousClose, lastOf(closes, 2), meta.ChartPreviousClose); ok {
		entry = entry.WithPreviousClose(&prev)
	}
	return entry, nil
}

func (y *YahooChart) History(ctx context.Context, id string, start, end time.Time, interval model.Interval) ([]model.Tick, error) {
	chart, err := y.fetchChart(ctx, id, start, end, interval)
	if err != nil {
		return nil, err
	}
	result := chart.Chart.Result[0]
	loc := time.FixedZone("exchange", result.Meta.GMTOffset)

	var closes []*float64
	if len(result.Indicators.Quote) > 0 {
		closes = result.Indicators.Quote[0].Close
	}
	ticks := make([]model.Tick, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil || *closes[i] == 0 {
			continue // null bars (holidays, halted sessions)
		}
		ticks = append(ticks, model.Tick{Time: time.Unix(ts, 0).In(loc), Close: *closes[i]})
	}
	if len(ticks) == 0 {
		return nil, fmt.Errorf("yahoo chart %s: %w", id, ErrNoData)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Time.Before(ticks[j].Time) })
	return ticks, nil
}

// chartWindowStep is the granularity of chart request bounds. Callers within
// the same step build the same URL and share one in-flight fetch.
const chartWindowStep = time.Minute

func (y *YahooChart) fetchChart(ctx context.Context, id string, start, end time.Time, interval model.Interval) (*yahooChart, error) {
	start = start.Truncate(chartWindowStep)
	end = end.Truncate(chartWindowStep).Add(chartWindowStep)
	u := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=%s",
		y.baseURL, url.PathEscape(id), start.Unix(), end.Unix(), interval)
	body, err := y.http.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo chart decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart api error: %s: %w", chart.Chart.Error.Description, ErrNoData)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo chart %s: %w", id, ErrNoData)
	}
	return &chart, nil
}

// yahooQuote is the response structure of the v7 quote endpoint.
type yahooQuote struct {
	QuoteResponse struct {
		Result []struct {
			Symbol                     string   `json:"symbol"`
			RegularMarketPrice         *float64 `json:"regularMarketPrice"`
			RegularMarketPreviousClose *float64 `json:"regularMarketPreviousClose"`
			LongName                   string   `json:"longName"`
			ShortName                  string   `json:"shortName"`
			Currency                   string   `json:"currency"`
		} `json:"result"`
	} `json:"quoteResponse"`
}

// YahooQuote is the secondary adapter backed by the v7 quote endpoint. It is
// heavier on the upstream's rate limit and offers no history.
type YahooQuote struct {
	baseURL string
	http    Getter
}

// NewYahooQuote creates the secondary adapter.
func NewYahooQuote(getter Getter, baseURL string) *YahooQuote {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	return &YahooQuote{baseURL: strings.TrimRight(baseURL, "/"), http: getter}
}

func (y *YahooQuote) Provider() model.Provider { return model.ProviderSecondary }

func (y *YahooQuote) Candidates(symbol string) []string { return passthrough(symbol) }

func (y *YahooQuote) Quote(ctx context.Context, id string) (model.PriceEntry, error) {
	u := fmt.Sprintf("%s/v7/finance/quote?symbols=%s", y.baseURL, url.QueryEscape(id))
	body, err := y.http.Get(ctx, u)
	if err != nil {
		return model.PriceEntry{}, err
	}
	var q yahooQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return model.PriceEntry{}, fmt.Errorf("yahoo quote decode: %w", err)
	}
	if len(q.QuoteResponse.Result) == 0 {
		return model.PriceEntry{}, fmt.Errorf("yahoo quote %s: %w", id, ErrNoData)
	}
	r := q.QuoteResponse.Result[0]
	if r.RegularMarketPrice == nil || *r.RegularMarketPrice == 0 {
		return model.PriceEntry{}, fmt.Errorf("yahoo quote %s: %w", id, ErrNoData)
	}
	entry := model.PriceEntry{
		Current:  *r.RegularMarketPrice,
		LongName: model.String(firstString(r.LongName, r.ShortName)),
		Currency: model.String(r.Currency),
	}
	return entry.WithPreviousClose(r.RegularMarketPreviousClose), nil
}

func nonNullCloses(quotes []yahooBars) []float64 {
	if len(quotes) == 0 {
		return nil
	}
	out := make([]float64, 0, len(quotes[0].Close))
	for _, c := range quotes[0].Close {
		if c != nil && *c != 0 {
			out = append(out, *c)
		}
	}
	return out
}

// lastOf returns the n-th value from the end (1 = last), or nil.
func lastOf(values []float64, n int) *float64 {
	if len(values) < n {
		return nil
	}
	v := values[len(values)-n]
	return &v
}

func firstFloat(candidates ...*float64) (float64, bool) {
	for _, c := range candidates {
		if c != nil {
			return *c, true
		}
	}
	return 0, false
}

func firstString(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return strings.TrimSpace(c)
		}
	}
	return ""
}
