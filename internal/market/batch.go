package market

import (
	"context"

	"PortfolioLens/internal/model"
	"PortfolioLens/internal/pool"
)

// ResolvePrices resolves a batch of symbols with bounded concurrency. Keys
// are the upper-cased symbols; every requested symbol is present.
func (s *Service) ResolvePrices(ctx context.Context, symbols []string) map[string]model.PriceEntry {
	unique := dedupe(symbols)
	entries := pool.Map(ctx, unique, s.workers, s.ResolvePrice)
	out := make(map[string]model.PriceEntry, len(unique))
	for i, sym := range unique {
		out[sym] = entries[i]
	}
	return out
}

// ResolveHistories resolves the series of a batch of symbols with bounded
// concurrency. Symbols without data map to an empty series.
func (s *Service) ResolveHistories(ctx context.Context, symbols []string, period model.Period, interval model.Interval) map[string][]model.HistoryPoint {
	unique := dedupe(symbols)
	series := pool.Map(ctx, unique, s.workers, func(ctx context.Context, sym string) []model.HistoryPoint {
		return s.ResolveHistory(ctx, sym, period, interval)
	})
	out := make(map[string][]model.HistoryPoint, len(unique))
	for i, sym := range unique {
		out[sym] = series[i]
	}
	return out
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = normalize(sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}
