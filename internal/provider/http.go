package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"PortfolioLens/internal/metrics"
)

const (
	// DefaultTimeout bounds every upstream request.
	DefaultTimeout = 10 * time.Second

	// DefaultRateLimit is the per-host request rate (requests per second).
	DefaultRateLimit = 5

	// DefaultUserAgent is sent with every request; several sources reject Go's default.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

	maxBodyBytes = 8 << 20
)

// ErrRateLimited is matched by a StatusError carrying HTTP 429.
var ErrRateLimited = errors.New("rate limited")

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code int
	Host string
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s%s: status %d", e.Host, e.Path, e.Code)
}

// Is lets errors.Is(err, ErrRateLimited) detect throttling.
func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.Code == http.StatusTooManyRequests
}

// HTTPFetcher performs GET requests on behalf of every adapter. Concurrent
// requests for the same URL share one round trip, each host is paced by its
// own limiter, and every request is bounded by a timeout.
type HTTPFetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	rps       float64
	burst     int
	logger    *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	inflight singleflight.Group
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithRateLimit sets the per-host pacing. A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) FetcherOption {
	return func(f *HTTPFetcher) {
		f.rps = rps
		f.burst = burst
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithProxy routes requests through proxyURL. Invalid URLs are ignored.
func WithProxy(proxyURL string) FetcherOption {
	return func(f *HTTPFetcher) {
		if proxyURL == "" {
			return
		}
		if u, err := url.Parse(proxyURL); err == nil {
			f.client = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(u)}}
		}
	}
}

// WithFetcherLogger sets a logger.
func WithFetcherLogger(l *zap.Logger) FetcherOption {
	return func(f *HTTPFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewHTTPFetcher creates a fetcher with default timeout, pacing and user agent.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:    &http.Client{},
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
		rps:       DefaultRateLimit,
		burst:     DefaultRateLimit,
		logger:    zap.NewNop(),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get fetches rawURL. Callers asking for a URL that is already in flight wait
// for that request instead of issuing their own. The shared request is not
// cancelled when one caller gives up; each caller still returns as soon as
// its own context is done.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	ch := f.inflight.DoChan(rawURL, func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		return f.do(reqCtx, rawURL)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("GET %s: %w", redact(rawURL), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (f *HTTPFetcher) do(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if lim := f.limiter(u.Host); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for %s limiter: %w", u.Host, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json,text/html,text/csv;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	metrics.UpstreamLatency.WithLabelValues(u.Host).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("GET %s%s: %w", u.Host, u.Path, err)
	}
	defer resp.Body.Close()

	f.logger.Debug("upstream response",
		zap.String("host", u.Host),
		zap.String("path", u.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode, Host: u.Host, Path: u.Path}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", u.Host, err)
	}
	return body, nil
}

func (f *HTTPFetcher) limiter(host string) *rate.Limiter {
	if f.rps <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		burst := f.burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(f.rps), burst)
		f.limiters[host] = lim
	}
	return lim
}

// redact drops the query string, which may carry API tokens.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Host + u.Path
}
