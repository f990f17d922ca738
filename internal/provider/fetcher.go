package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"PortfolioLens/internal/model"
)

// ErrNoData means the upstream answered but carried nothing usable.
var ErrNoData = errors.New("no data")

// Adapter is an upstream data source taking part in the resolution cascade.
type Adapter interface {
	Provider() model.Provider
	// Candidates derives the provider-specific ids to try, in order, for a
	// canonical ticker. An empty result means the source cannot serve it.
	Candidates(symbol string) []string
}

// Quoter is an Adapter able to produce a live quote.
type Quoter interface {
	Adapter
	Quote(ctx context.Context, id string) (model.PriceEntry, error)
}

// Historian is an Adapter able to produce historical closes.
type Historian interface {
	Adapter
	History(ctx context.Context, id string, start, end time.Time, interval model.Interval) ([]model.Tick, error)
}

// Getter fetches the body of a URL.
type Getter interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// SplitSuffix splits "AIR.PA" into ("AIR", "PA"). Symbols without an exchange
// suffix return an empty suffix.
func SplitSuffix(symbol string) (base, suffix string) {
	i := strings.LastIndex(symbol, ".")
	if i <= 0 || i == len(symbol)-1 {
		return symbol, ""
	}
	return symbol[:i], symbol[i+1:]
}

// passthrough is the Candidates implementation of sources keyed by the
// canonical ticker itself.
func passthrough(symbol string) []string {
	if symbol == "" {
		return nil
	}
	return []string{symbol}
}
