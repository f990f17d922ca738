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

// Fundamentals reads annual metrics from the time-series fundamentals endpoint.
type Fundamentals struct {
	baseURL string
	http    Getter
}

// NewFundamentals creates the fundamentals adapter.
func NewFundamentals(getter Getter, baseURL string) *Fundamentals {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	return &Fundamentals{baseURL: strings.TrimRight(baseURL, "/"), http: getter}
}

type timeseriesMeta struct {
	Type []string `json:"type"`
}

type timeseriesValue struct {
	AsOfDate      string `json:"asOfDate"`
	ReportedValue struct {
		Raw *float64 `json:"raw"`
	} `json:"reportedValue"`
}

// Fetch returns the requested metrics (e.g. "annualTotalRevenue") between
// start and end, each series sorted by as-of date. Metrics the upstream does
// not report are absent from the result.
func (f *Fundamentals) Fetch(ctx context.Context, symbol string, metrics []string, start, end time.Time) (map[string][]model.FundamentalPoint, error) {
	if len(metrics) == 0 {
		return nil, nil
	}
	u := fmt.Sprintf("%s/ws/fundamentals-timeseries/v1/finance/timeseries/%s?type=%s&period1=%d&period2=%d",
		f.baseURL, url.PathEscape(symbol), url.QueryEscape(strings.Join(metrics, ",")), start.Unix(), end.Unix())
	body, err := f.http.Get(ctx, u)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Timeseries struct {
			Result []map[string]json.RawMessage `json:"result"`
		} `json:"timeseries"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("fundamentals decode: %w", err)
	}

	out := make(map[string][]model.FundamentalPoint)
	for _, result := range payload.Timeseries.Result {
		var meta timeseriesMeta
		if raw, ok := result["meta"]; !ok || json.Unmarshal(raw, &meta) != nil || len(meta.Type) == 0 {
			continue
		}
		metric := meta.Type[0]
		raw, ok := result[metric]
		if !ok {
			continue
		}
		var values []*timeseriesValue
		if err := json.Unmarshal(raw, &values); err != nil {
			continue
		}
		for _, v := range values {
			if v == nil || v.ReportedValue.Raw == nil || v.AsOfDate == "" {
				continue
			}
			out[metric] = append(out[metric], model.FundamentalPoint{
				Metric:   metric,
				AsOfDate: v.AsOfDate,
				Value:    *v.ReportedValue.Raw,
			})
		}
		sort.Slice(out[metric], func(i, j int) bool { return out[metric][i].AsOfDate < out[metric][j].AsOfDate })
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("fundamentals %s: %w", symbol, ErrNoData)
	}
	return out, nil
}
