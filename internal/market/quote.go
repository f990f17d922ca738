package market

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"PortfolioLens/internal/calculator"
	"PortfolioLens/internal/metrics"
	"PortfolioLens/internal/model"
	"PortfolioLens/internal/provider"
)

// ResolvePrice returns the current quote of symbol with day, 10-day and
// 1-year deltas. It never fails: when no source can price the symbol the
// empty sentinel is returned and remembered for the failure TTL. The
// returned entry is a copy the caller may modify.
func (s *Service) ResolvePrice(ctx context.Context, symbol string) model.PriceEntry {
	symbol = normalize(symbol)
	if symbol == "" {
		return model.EmptyPrice()
	}
	if e, ok := s.quotes.Get(symbol, s.ttl.Quote); ok {
		metrics.CacheResult("quote", true)
		return e.Clone()
	}
	metrics.CacheResult("quote", false)

	entry, ok := s.resolveQuote(ctx, symbol)
	if !ok {
		if ctx.Err() != nil {
			return model.EmptyPrice()
		}
		s.logger.Warn("no provider resolved symbol", zap.String("symbol", symbol))
		s.quotes.Set(symbol, model.EmptyPrice(), s.ttl.QuoteFailure)
		return model.EmptyPrice()
	}

	entry = entry.WithPreviousClose(entry.PreviousClose)
	entry = calculator.Fill(entry, s.ResolveHistory(ctx, symbol, model.Period1y, model.IntervalDay))
	if ctx.Err() != nil {
		// History may have been cut short; the next call recomputes the deltas.
		return entry
	}
	s.quotes.Set(symbol, entry.Clone())
	return entry
}

// resolveQuote walks the sources for symbol: an owning custom source or the
// fund page exclusively, otherwise the memoized provider and then the cascade.
func (s *Service) resolveQuote(ctx context.Context, symbol string) (model.PriceEntry, bool) {
	if src, ids := s.routeCustom(symbol); src != nil {
		e, _, ok := s.quoteFirst(ctx, src, symbol, ids)
		return e, ok
	}
	if s.fund != nil && provider.IsFund(symbol) {
		e, _, ok := s.quoteFirst(ctx, s.fund, symbol, s.fund.Candidates(symbol))
		return e, ok
	}

	rec, memo := s.resolutions.Load(ctx, symbol)
	if memo {
		if a := s.adapterFor(rec.Provider); a != nil {
			if e, _, ok := s.quoteFirst(ctx, a, symbol, []string{rec.ProviderSymbolID}); ok {
				return e, true
			}
			s.logger.Debug("memoized provider failed, walking cascade",
				zap.String("symbol", symbol), zap.String("provider", string(rec.Provider)))
		}
	}

	for _, a := range s.cascade {
		ids := a.Candidates(symbol)
		if memo && a.Provider() == rec.Provider {
			ids = without(ids, rec.ProviderSymbolID)
		}
		e, id, ok := s.quoteFirst(ctx, a, symbol, ids)
		if !ok {
			continue
		}
		s.resolutions.Save(ctx, symbol, model.ResolutionRecord{
			Provider:         a.Provider(),
			ProviderSymbolID: id,
			ResolvedAt:       s.now(),
		})
		return e, true
	}
	return model.PriceEntry{}, false
}

// quoteFirst tries ids in order against a and returns the first usable quote
// with the id that produced it.
func (s *Service) quoteFirst(ctx context.Context, a provider.Adapter, symbol string, ids []string) (model.PriceEntry, string, bool) {
	q, ok := a.(provider.Quoter)
	if !ok {
		return model.PriceEntry{}, "", false
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return model.PriceEntry{}, "", false
		}
		if s.blocked(a.Provider()) {
			metrics.ProviderRequests.WithLabelValues(string(a.Provider()), "skipped").Inc()
			return model.PriceEntry{}, "", false
		}
		e, err := q.Quote(ctx, id)
		if err == nil && !e.Resolved() {
			err = fmt.Errorf("%s %s: %w", a.Provider(), id, provider.ErrNoData)
		}
		s.observe(a.Provider(), symbol, id, err)
		if err == nil {
			return e, id, true
		}
	}
	return model.PriceEntry{}, "", false
}

// observe accounts for one adapter call. A 429 from the primary adapter opens
// the breaker of its family; other providers' 429s are plain failures.
func (s *Service) observe(p model.Provider, symbol, id string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
		s.logger.Debug("provider answered",
			zap.String("symbol", symbol), zap.String("provider", string(p)), zap.String("id", id))
	case errors.Is(err, provider.ErrRateLimited):
		outcome = "rate_limited"
		if p == model.ProviderPrimary {
			s.breaker(p.Family()).Trip(s.cooldown)
			metrics.BreakerTrips.WithLabelValues(p.Family()).Inc()
			s.logger.Warn("rate limited, skipping provider family",
				zap.String("provider", string(p)),
				zap.String("family", p.Family()),
				zap.Duration("cooldown", s.cooldown))
		}
	case errors.Is(err, provider.ErrNoData):
		outcome = "empty"
	default:
		outcome = "error"
		s.logger.Debug("provider failed",
			zap.String("symbol", symbol), zap.String("provider", string(p)),
			zap.String("id", id), zap.Error(err))
	}
	metrics.ProviderRequests.WithLabelValues(string(p), outcome).Inc()
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func without(ids []string, skip string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}
