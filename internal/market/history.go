package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"PortfolioLens/internal/metrics"
	"PortfolioLens/internal/model"
	"PortfolioLens/internal/provider"
)

// fundamentalsLookback bounds how far back annual metrics are requested.
const fundamentalsLookback = 10

// ResolveHistory returns the daily-normalized close series of symbol over
// period, ascending by date. An empty result means no source had data.
// The returned slice is shared with the cache and must not be modified.
func (s *Service) ResolveHistory(ctx context.Context, symbol string, period model.Period, interval model.Interval) []model.HistoryPoint {
	symbol = normalize(symbol)
	if symbol == "" {
		return nil
	}
	if !interval.Valid() {
		interval = model.IntervalDay
	}
	key := symbol + "|" + string(period) + "|" + string(interval)
	if points, ok := s.histories.Get(key, s.ttl.History); ok {
		metrics.CacheResult("history", true)
		return points
	}
	metrics.CacheResult("history", false)

	end := s.now()
	points := model.NormalizeTicks(s.resolveHistory(ctx, symbol, period.Start(end), end, interval))
	if len(points) == 0 {
		if ctx.Err() == nil {
			s.histories.Set(key, nil, s.ttl.QuoteFailure)
		}
		return nil
	}
	s.histories.Set(key, points)
	return points
}

func (s *Service) resolveHistory(ctx context.Context, symbol string, start, end time.Time, interval model.Interval) []model.Tick {
	if src, ids := s.routeCustom(symbol); src != nil {
		ticks, _ := s.historyFirst(ctx, src, symbol, ids, start, end, interval)
		return ticks
	}

	rec, memo := s.resolutions.Load(ctx, symbol)
	if memo {
		if a := s.adapterFor(rec.Provider); a != nil {
			if ticks, ok := s.historyFirst(ctx, a, symbol, []string{rec.ProviderSymbolID}, start, end, interval); ok {
				return ticks
			}
		}
	}
	for _, a := range s.cascade {
		ids := a.Candidates(symbol)
		if memo && a.Provider() == rec.Provider {
			ids = without(ids, rec.ProviderSymbolID)
		}
		if ticks, ok := s.historyFirst(ctx, a, symbol, ids, start, end, interval); ok {
			return ticks
		}
	}
	s.logger.Debug("no history available", zap.String("symbol", symbol))
	return nil
}

func (s *Service) historyFirst(ctx context.Context, a provider.Adapter, symbol string, ids []string, start, end time.Time, interval model.Interval) ([]model.Tick, bool) {
	h, ok := a.(provider.Historian)
	if !ok {
		return nil, false
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return nil, false
		}
		if s.blocked(a.Provider()) {
			metrics.ProviderRequests.WithLabelValues(string(a.Provider()), "skipped").Inc()
			return nil, false
		}
		ticks, err := h.History(ctx, id, start, end, interval)
		if err == nil && len(ticks) == 0 {
			err = fmt.Errorf("%s %s: %w", a.Provider(), id, provider.ErrNoData)
		}
		s.observe(a.Provider(), symbol, id, err)
		if err == nil {
			return ticks, true
		}
	}
	return nil, false
}

// ResolveFundamentals returns the requested annual metrics of symbol keyed by
// metric name. Missing metrics are absent; nil means nothing was available.
func (s *Service) ResolveFundamentals(ctx context.Context, symbol string, names []string) map[string][]model.FundamentalPoint {
	symbol = normalize(symbol)
	if symbol == "" || s.funda == nil || len(names) == 0 {
		return nil
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	key := symbol + "|" + strings.Join(sorted, ",")
	if out, ok := s.fundamentals.Get(key, s.ttl.Fundamentals); ok {
		metrics.CacheResult("fundamentals", true)
		return out
	}
	metrics.CacheResult("fundamentals", false)

	// Fundamentals come from the primary upstream and share its rate limit.
	if s.blocked(model.ProviderPrimary) {
		metrics.ProviderRequests.WithLabelValues("fundamentals", "skipped").Inc()
		return nil
	}
	end := s.now()
	out, err := s.funda.Fetch(ctx, symbol, sorted, end.AddDate(-fundamentalsLookback, 0, 0), end)
	s.observe("fundamentals", symbol, symbol, err)
	if err != nil {
		if ctx.Err() == nil {
			s.fundamentals.Set(key, nil, s.ttl.QuoteFailure)
		}
		return nil
	}
	s.fundamentals.Set(key, out)
	return out
}
