package model

import "time"

// Provider identifies an upstream data source.
type Provider string

const (
	ProviderPrimary   Provider = "primary"
	ProviderSecondary Provider = "secondary"
	ProviderExchange  Provider = "exchange"
	ProviderCSV       Provider = "csv"
	ProviderFund      Provider = "fund"
	ProviderCustom    Provider = "custom"
)

// Family groups providers that share an upstream and therefore a rate limit.
func (p Provider) Family() string {
	switch p {
	case ProviderPrimary, ProviderSecondary:
		return "yahoo"
	case ProviderExchange, ProviderFund:
		return "boursorama"
	default:
		return string(p)
	}
}

// ResolutionRecord remembers which provider and provider-specific id last
// produced a price for a symbol.
type ResolutionRecord struct {
	Provider         Provider  `json:"provider"`
	ProviderSymbolID string    `json:"provider_symbol_id"`
	ResolvedAt       time.Time `json:"resolved_at"`
}
