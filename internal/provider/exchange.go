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

// DefaultExchangeBaseURL hosts the secondary-market quote and history service.
const DefaultExchangeBaseURL = "https://www.boursorama.com"

// Extraction rules for the GetTicksEOD payload.
var (
	exchangePriceRule    = Rule{"$.d.qd.c", "$.d.QuoteTab[-1:].c"}
	exchangePreviousRule = Rule{"$.d.qd.pc", "$.d.QuoteTab[-2:-1].c"}
	exchangeNameRule     = Rule{"$.d.Name", "$.d.SymbolId"}
)

type exchangeTicks struct {
	D struct {
		Name     string `json:"Name"`
		QuoteTab []struct {
			Day   int64   `json:"d"` // days since 1970-01-01
			Close float64 `json:"c"`
		} `json:"QuoteTab"`
	} `json:"d"`
}

// Exchange is the secondary-market adapter. Its ids are derived from the
// canonical ticker by ExchangeCandidates.
type Exchange struct {
	baseURL string
	http    Getter
}

// NewExchange creates the secondary-market adapter.
func NewExchange(getter Getter, baseURL string) *Exchange {
	if baseURL == "" {
		baseURL = DefaultExchangeBaseURL
	}
	return &Exchange{baseURL: strings.TrimRight(baseURL, "/"), http: getter}
}

func (e *Exchange) Provider() model.Provider { return model.ProviderExchange }

func (e *Exchange) Candidates(symbol string) []string { return ExchangeCandidates(symbol) }

// ExchangeCandidates maps a canonical ticker to the source's ids, in the
// order they should be tried: a Paris listing may be a share (1rP) or a
// tracker (1rT), a Xetra listing has a single id, a bare ticker passes
// through, and any other suffix is not covered.
func ExchangeCandidates(symbol string) []string {
	base, suffix := SplitSuffix(strings.ToUpper(symbol))
	switch suffix {
	case "":
		return passthrough(base)
	case "PA":
		return []string{"1rP" + base, "1rT" + base}
	case "DE":
		return []string{"1z" + base}
	}
	return nil
}

func (e *Exchange) Quote(ctx context.Context, id string) (model.PriceEntry, error) {
	doc, err := e.fetch(ctx, id, 5)
	if err != nil {
		return model.PriceEntry{}, err
	}
	current, ok := exchangePriceRule.Float(doc)
	if !ok || current == 0 {
		return model.PriceEntry{}, fmt.Errorf("exchange %s: %w", id, ErrNoData)
	}
	entry := model.PriceEntry{Current: current}
	if name, ok := exchangeNameRule.String(doc); ok {
		entry.LongName = &name
	}
	if prev, ok := exchangePreviousRule.Float(doc); ok {
		entry = entry.WithPreviousClose(&prev)
	}
	return entry, nil
}

func (e *Exchange) History(ctx context.Context, id string, start, end time.Time, _ model.Interval) ([]model.Tick, error) {
	days := int(end.Sub(start).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	body, err := e.http.Get(ctx, e.ticksURL(id, days))
	if err != nil {
		return nil, err
	}
	var payload exchangeTicks
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("exchange decode: %w", err)
	}
	ticks := make([]model.Tick, 0, len(payload.D.QuoteTab))
	for _, q := range payload.D.QuoteTab {
		t := time.Unix(q.Day*86400, 0).UTC()
		if q.Close == 0 || t.Before(start.UTC().Truncate(24*time.Hour)) || t.After(end) {
			continue
		}
		ticks = append(ticks, model.Tick{Time: t, Close: q.Close})
	}
	if len(ticks) == 0 {
		return nil, fmt.Errorf("exchange %s: %w", id, ErrNoData)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Time.Before(ticks[j].Time) })
	return ticks, nil
}

func (e *Exchange) fetch(ctx context.Context, id string, days int) (any, error) {
	body, err := e.http.Get(ctx, e.ticksURL(id, days))
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument(body)
	if err != nil {
		return nil, fmt.Errorf("exchange decode: %w", err)
	}
	return doc, nil
}

func (e *Exchange) ticksURL(id string, days int) string {
	return fmt.Sprintf("%s/bourse/action/graph/ws/GetTicksEOD?symbol=%s&length=%d&period=0&guid=",
		e.baseURL, url.QueryEscape(id), days)
}
