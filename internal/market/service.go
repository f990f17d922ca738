// Package market resolves prices, histories and fundamentals for ticker
// symbols across several unreliable upstreams. A Service owns every cache,
// the provider resolution memo and the per-family rate-limit breakers, so a
// process builds one at startup and shares it.
package market

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"PortfolioLens/internal/breaker"
	"PortfolioLens/internal/cache"
	"PortfolioLens/internal/logging"
	"PortfolioLens/internal/model"
	"PortfolioLens/internal/pool"
	"PortfolioLens/internal/provider"
)

// DefaultCooldown is how long the yahoo family is skipped after the primary
// adapter is rate limited.
const DefaultCooldown = 15 * time.Minute

// TTLs holds the freshness window of each cache class.
type TTLs struct {
	Quote        time.Duration
	QuoteFailure time.Duration
	History      time.Duration
	Resolution   time.Duration
	Fundamentals time.Duration
}

// DefaultTTLs returns the standard freshness windows.
func DefaultTTLs() TTLs {
	return TTLs{
		Quote:        60 * time.Second,
		QuoteFailure: 10 * time.Second,
		History:      6 * time.Hour,
		Resolution:   24 * time.Hour,
		Fundamentals: 24 * time.Hour,
	}
}

// FundamentalsFetcher reads annual fundamentals series.
type FundamentalsFetcher interface {
	Fetch(ctx context.Context, symbol string, metrics []string, start, end time.Time) (map[string][]model.FundamentalPoint, error)
}

// Endpoints overrides adapter base URLs; empty fields use each adapter's default.
type Endpoints struct {
	Primary      string
	Secondary    string
	Exchange     string
	CSV          string
	Fund         string
	Fundamentals string
}

// StandardCascade returns the quote and history adapters in cascade order:
// primary, secondary, exchange, CSV.
func StandardCascade(g provider.Getter, e Endpoints) []provider.Adapter {
	return []provider.Adapter{
		provider.NewYahooChart(g, e.Primary),
		provider.NewYahooQuote(g, e.Secondary),
		provider.NewExchange(g, e.Exchange),
		provider.NewCSV(g, e.CSV),
	}
}

// Service is the market-data resolution engine.
type Service struct {
	cascade  []provider.Adapter
	fund     provider.Quoter
	custom   []provider.Adapter
	funda    FundamentalsFetcher
	workers  int
	cooldown time.Duration
	ttl      TTLs
	logger   *zap.Logger
	now      func() time.Time

	quotes       *cache.TTL[model.PriceEntry]
	histories    *cache.TTL[[]model.HistoryPoint]
	fundamentals *cache.TTL[map[string][]model.FundamentalPoint]
	resolutions  cache.ResolutionStore

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
}

// Option configures a Service.
type Option func(*Service)

// WithCascade sets the ordered adapters walked for every symbol.
func WithCascade(adapters ...provider.Adapter) Option {
	return func(s *Service) { s.cascade = adapters }
}

// WithFund sets the adapter serving fund identifiers.
func WithFund(q provider.Quoter) Option {
	return func(s *Service) { s.fund = q }
}

// WithCustom registers user-declared sources. A symbol for which a source
// returns candidates is resolved through that source only.
func WithCustom(sources ...provider.Adapter) Option {
	return func(s *Service) { s.custom = append(s.custom, sources...) }
}

// WithFundamentals sets the fundamentals source.
func WithFundamentals(f FundamentalsFetcher) Option {
	return func(s *Service) { s.funda = f }
}

// WithResolutionStore replaces the in-memory resolution memo.
func WithResolutionStore(rs cache.ResolutionStore) Option {
	return func(s *Service) { s.resolutions = rs }
}

// WithTTLs overrides cache freshness windows; zero fields keep the default.
func WithTTLs(t TTLs) Option {
	return func(s *Service) {
		if t.Quote > 0 {
			s.ttl.Quote = t.Quote
		}
		if t.QuoteFailure > 0 {
			s.ttl.QuoteFailure = t.QuoteFailure
		}
		if t.History > 0 {
			s.ttl.History = t.History
		}
		if t.Resolution > 0 {
			s.ttl.Resolution = t.Resolution
		}
		if t.Fundamentals > 0 {
			s.ttl.Fundamentals = t.Fundamentals
		}
	}
}

// WithCooldown sets how long a rate-limited family is skipped.
func WithCooldown(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithWorkers bounds batch fan-out.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

// WithClock injects the time source used by caches and breakers.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Service. Without WithCascade no upstream is consulted.
func New(opts ...Option) *Service {
	s := &Service{
		workers:  pool.DefaultWorkers,
		cooldown: DefaultCooldown,
		ttl:      DefaultTTLs(),
		logger:   zap.NewNop(),
		now:      time.Now,
		breakers: make(map[string]*breaker.Breaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.quotes = cache.NewWithClock[model.PriceEntry](s.now)
	s.histories = cache.NewWithClock[[]model.HistoryPoint](s.now)
	s.fundamentals = cache.NewWithClock[map[string][]model.FundamentalPoint](s.now)
	if s.resolutions == nil {
		s.resolutions = cache.NewMemoryResolutions(s.ttl.Resolution, s.now)
	}
	return s
}

// breaker returns the breaker guarding a provider family.
func (s *Service) breaker(family string) *breaker.Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[family]
	if !ok {
		b = breaker.New(s.now)
		s.breakers[family] = b
	}
	return b
}

func (s *Service) blocked(p model.Provider) bool {
	return s.breaker(p.Family()).Tripped()
}

// ClearAll drops every cached quote, history, fundamentals series and
// resolution record, closes every breaker and flushes custom source responses.
func (s *Service) ClearAll(ctx context.Context) {
	s.quotes.Clear()
	s.histories.Clear()
	s.fundamentals.Clear()
	s.resolutions.Clear(ctx)

	s.mu.Lock()
	for _, b := range s.breakers {
		b.Reset()
	}
	s.mu.Unlock()

	for _, src := range s.custom {
		if c, ok := src.(interface{ ClearCache() }); ok {
			c.ClearCache()
		}
	}
	s.logger.Info("market caches cleared")
}

// Stats is a point-in-time view of the engine's state.
type Stats struct {
	Quotes       int
	Histories    int
	Fundamentals int
	// Tripped maps each open breaker's family to its cooldown deadline.
	Tripped map[string]time.Time
}

// Stats reports cache sizes and open breakers.
func (s *Service) Stats() Stats {
	st := Stats{
		Quotes:       s.quotes.Len(),
		Histories:    s.histories.Len(),
		Fundamentals: s.fundamentals.Len(),
		Tripped:      make(map[string]time.Time),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for family, b := range s.breakers {
		if b.Tripped() {
			st.Tripped[family] = b.Until()
		}
	}
	return st
}

// routeCustom returns the custom source owning symbol, if any.
func (s *Service) routeCustom(symbol string) (provider.Adapter, []string) {
	for _, src := range s.custom {
		if ids := src.Candidates(symbol); len(ids) > 0 {
			return src, ids
		}
	}
	return nil, nil
}

// adapterFor finds the cascade adapter named by a resolution record.
func (s *Service) adapterFor(p model.Provider) provider.Adapter {
	for _, a := range s.cascade {
		if a.Provider() == p {
			return a
		}
	}
	return nil
}
