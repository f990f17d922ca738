package model

// Position is a holding as stored in the document store.
type Position struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	Quantity     float64  `json:"quantity"`
	CostPrice    float64  `json:"cost_price"`
	IsClosed     bool     `json:"is_closed"`
	ClosingPrice *float64 `json:"closing_price,omitempty"`
	Tags         []string `json:"tags"`
	PurchaseDate string   `json:"purchase_date"`
}

// Summary holds portfolio totals over open positions.
type Summary struct {
	TotalMarketValue  float64 `json:"total_market_value"`
	TotalUnrealizedPL float64 `json:"total_unrealized_pl"`
}

// TagSummaryRow is the rollup of every position carrying one tag.
type TagSummaryRow struct {
	Tag          string   `json:"tag"`
	Quantity     float64  `json:"quantity"`
	MarketValue  float64  `json:"market_value"`
	UnrealizedPL float64  `json:"unrealized_pl"`
	IntradayPct  *float64 `json:"intraday_pct"`
	TenDayPct    *float64 `json:"ten_day_pct"`
}

// Point is one dated value of an aggregated series.
type Point struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Timeseries holds per-tag and total market value series.
type Timeseries struct {
	Tags  map[string][]Point `json:"tags"`
	Total []Point            `json:"total"`
}
