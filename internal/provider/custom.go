package provider

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"PortfolioLens/internal/cache"
	"PortfolioLens/internal/model"
)

// DefaultCustomTTL is how long a raw custom API response is reused.
const DefaultCustomTTL = 15 * time.Second

// CustomSource declares a user-configured JSON endpoint and the rules used to
// read it. URL must contain "{symbol}".
type CustomSource struct {
	Name          string
	URL           string
	Symbols       []string
	Price         Rule
	PreviousClose Rule
	LongName      Rule
	Currency      Rule
	// HistoryPath points at an array of objects; DateField holds either a
	// YYYY-MM-DD string or unix seconds, CloseField the close.
	HistoryPath string
	DateField   string
	CloseField  string
}

// Custom serves the symbols listed by a CustomSource, exclusively.
type Custom struct {
	src     CustomSource
	http    Getter
	symbols map[string]bool
	docs    *cache.TTL[any]
	ttl     time.Duration
}

// NewCustom creates a custom adapter. A non-positive ttl uses DefaultCustomTTL.
func NewCustom(getter Getter, src CustomSource, ttl time.Duration) *Custom {
	if ttl <= 0 {
		ttl = DefaultCustomTTL
	}
	symbols := make(map[string]bool, len(src.Symbols))
	for _, s := range src.Symbols {
		symbols[strings.ToUpper(s)] = true
	}
	if src.DateField == "" {
		src.DateField = "date"
	}
	if src.CloseField == "" {
		src.CloseField = "close"
	}
	return &Custom{src: src, http: getter, symbols: symbols, docs: cache.New[any](), ttl: ttl}
}

func (c *Custom) Provider() model.Provider { return model.ProviderCustom }

// Name is the configured source name.
func (c *Custom) Name() string { return c.src.Name }

// Serves reports whether symbol is routed to this source.
func (c *Custom) Serves(symbol string) bool { return c.symbols[strings.ToUpper(symbol)] }

func (c *Custom) Candidates(symbol string) []string {
	if !c.Serves(symbol) {
		return nil
	}
	return []string{strings.ToUpper(symbol)}
}

func (c *Custom) Quote(ctx context.Context, id string) (model.PriceEntry, error) {
	doc, err := c.document(ctx, id)
	if err != nil {
		return model.PriceEntry{}, err
	}
	current, ok := c.src.Price.Float(doc)
	if !ok || current == 0 {
		return model.PriceEntry{}, fmt.Errorf("custom %s %s: %w", c.src.Name, id, ErrNoData)
	}
	entry := model.PriceEntry{Current: current}
	if name, ok := c.src.LongName.String(doc); ok {
		entry.LongName = &name
	}
	if cur, ok := c.src.Currency.String(doc); ok {
		entry.Currency = &cur
	}
	if prev, ok := c.src.PreviousClose.Float(doc); ok {
		entry = entry.WithPreviousClose(&prev)
	}
	return entry, nil
}

func (c *Custom) History(ctx context.Context, id string, start, end time.Time, _ model.Interval) ([]model.Tick, error) {
	if c.src.HistoryPath == "" {
		return nil, fmt.Errorf("custom %s has no history: %w", c.src.Name, ErrNoData)
	}
	doc, err := c.document(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, ok := lookupList(c.src.HistoryPath, doc)
	if !ok {
		return nil, fmt.Errorf("custom %s %s: %w", c.src.Name, id, ErrNoData)
	}
	var ticks []model.Tick
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t, ok := parseTime(obj[c.src.DateField])
		if !ok || t.Before(start) || t.After(end) {
			continue
		}
		v, ok := toFloat(obj[c.src.CloseField])
		if !ok || v == 0 {
			continue
		}
		ticks = append(ticks, model.Tick{Time: t, Close: v})
	}
	if len(ticks) == 0 {
		return nil, fmt.Errorf("custom %s %s: %w", c.src.Name, id, ErrNoData)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Time.Before(ticks[j].Time) })
	return ticks, nil
}

func (c *Custom) document(ctx context.Context, id string) (any, error) {
	u := strings.ReplaceAll(c.src.URL, "{symbol}", url.PathEscape(id))
	if doc, ok := c.docs.Get(u, c.ttl); ok {
		return doc, nil
	}
	body, err := c.http.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument(body)
	if err != nil {
		return nil, fmt.Errorf("custom %s decode: %w", c.src.Name, err)
	}
	c.docs.Set(u, doc)
	return doc, nil
}

// ClearCache drops cached responses.
func (c *Custom) ClearCache() { c.docs.Clear() }

// lookupList evaluates path without unwrapping, so both "$.prices" and
// "$.prices[*]" yield the list of points.
func lookupList(path string, doc any) ([]any, bool) {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil, false
	}
	list, ok := v.([]any)
	return list, ok && len(list) > 0
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(model.DateLayout, t)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, t)
		}
		return parsed, err == nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), true
	}
	return time.Time{}, false
}
