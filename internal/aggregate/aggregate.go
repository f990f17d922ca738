// Package aggregate rolls per-position prices into portfolio totals, per-tag
// summaries and market value time series. Positions without a usable price
// are left out of monetary sums rather than counted as zero.
package aggregate

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"PortfolioLens/internal/model"
)

var hundred = decimal.NewFromInt(100)

// EffectivePrice is the closing price of a closed position when one was
// recorded, otherwise the live price. ok is false when neither is known.
func EffectivePrice(pos model.Position, prices map[string]model.PriceEntry) (float64, bool) {
	if pos.IsClosed && pos.ClosingPrice != nil {
		return *pos.ClosingPrice, true
	}
	p, ok := prices[strings.ToUpper(pos.Symbol)]
	if !ok || !p.Resolved() {
		return 0, false
	}
	return p.Current, true
}

// ComputeSummary totals market value and unrealized P/L over open positions
// that have a live price.
func ComputeSummary(positions []model.Position, prices map[string]model.PriceEntry) model.Summary {
	mv, pl := decimal.Zero, decimal.Zero
	for _, pos := range positions {
		if pos.IsClosed {
			continue
		}
		price, ok := EffectivePrice(pos, prices)
		if !ok {
			continue
		}
		qty := decimal.NewFromFloat(pos.Quantity)
		cur := decimal.NewFromFloat(price)
		mv = mv.Add(qty.Mul(cur))
		pl = pl.Add(qty.Mul(cur.Sub(decimal.NewFromFloat(pos.CostPrice))))
	}
	return model.Summary{
		TotalMarketValue:  mv.InexactFloat64(),
		TotalUnrealizedPL: pl.InexactFloat64(),
	}
}

// weighted accumulates Σ(cur·q − ref·q) over Σ(ref·q).
type weighted struct {
	delta, base decimal.Decimal
}

func (w *weighted) add(current float64, ref *float64, qty decimal.Decimal) {
	if ref == nil || *ref == 0 {
		return
	}
	r := decimal.NewFromFloat(*ref).Mul(qty)
	w.delta = w.delta.Add(decimal.NewFromFloat(current).Mul(qty).Sub(r))
	w.base = w.base.Add(r)
}

func (w weighted) pct() *float64 {
	if w.base.IsZero() {
		return nil
	}
	return model.Float(w.delta.Div(w.base).Mul(hundred).InexactFloat64())
}

type bucket struct {
	qty, mv, pl decimal.Decimal
	intraday    weighted
	tenDay      weighted
}

// ComputeTagSummary builds one row per tag. Tag ids are translated through
// tagNames; unknown ids are reported as-is. Quantity, market value and P/L use
// each position's effective price. Intraday and 10-day percentages are
// weighted by position value over open positions with a non-zero reference.
func ComputeTagSummary(positions []model.Position, prices map[string]model.PriceEntry, tagNames map[string]string) []model.TagSummaryRow {
	buckets := make(map[string]*bucket)
	for _, pos := range positions {
		if len(pos.Tags) == 0 {
			continue
		}
		price, ok := EffectivePrice(pos, prices)
		if !ok {
			continue
		}
		qty := decimal.NewFromFloat(pos.Quantity)
		cur := decimal.NewFromFloat(price)
		mv := qty.Mul(cur)
		pl := qty.Mul(cur.Sub(decimal.NewFromFloat(pos.CostPrice)))
		live, hasLive := prices[strings.ToUpper(pos.Symbol)]

		for _, name := range tagLabels(pos.Tags, tagNames) {
			b, ok := buckets[name]
			if !ok {
				b = &bucket{}
				buckets[name] = b
			}
			b.qty = b.qty.Add(qty)
			b.mv = b.mv.Add(mv)
			b.pl = b.pl.Add(pl)
			if !pos.IsClosed && hasLive && live.Resolved() {
				b.intraday.add(live.Current, live.PreviousClose, qty)
				b.tenDay.add(live.Current, live.Price10d, qty)
			}
		}
	}

	rows := make([]model.TagSummaryRow, 0, len(buckets))
	for name, b := range buckets {
		rows = append(rows, model.TagSummaryRow{
			Tag:          name,
			Quantity:     b.qty.InexactFloat64(),
			MarketValue:  b.mv.InexactFloat64(),
			UnrealizedPL: b.pl.InexactFloat64(),
			IntradayPct:  b.intraday.pct(),
			TenDayPct:    b.tenDay.pct(),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Tag < rows[j].Tag })
	return rows
}

// ComputeTagTimeseries sums close × quantity per day for every open position,
// per tag and in total, starting at each position's purchase date.
func ComputeTagTimeseries(positions []model.Position, histories map[string][]model.HistoryPoint, tagNames map[string]string) model.Timeseries {
	tags := make(map[string]map[string]decimal.Decimal)
	total := make(map[string]decimal.Decimal)

	for _, pos := range positions {
		if pos.IsClosed {
			continue
		}
		series := histories[strings.ToUpper(pos.Symbol)]
		if len(series) == 0 {
			continue
		}
		since := purchaseDay(pos.PurchaseDate)
		qty := decimal.NewFromFloat(pos.Quantity)
		labels := tagLabels(pos.Tags, tagNames)

		for _, pt := range series {
			if since != "" && pt.Date < since {
				continue
			}
			v := decimal.NewFromFloat(pt.Close).Mul(qty)
			total[pt.Date] = total[pt.Date].Add(v)
			for _, name := range labels {
				if tags[name] == nil {
					tags[name] = make(map[string]decimal.Decimal)
				}
				tags[name][pt.Date] = tags[name][pt.Date].Add(v)
			}
		}
	}

	out := model.Timeseries{Tags: make(map[string][]model.Point, len(tags)), Total: points(total)}
	for name, byDate := range tags {
		out.Tags[name] = points(byDate)
	}
	return out
}

func points(byDate map[string]decimal.Decimal) []model.Point {
	out := make([]model.Point, 0, len(byDate))
	for date, v := range byDate {
		out = append(out, model.Point{Date: date, Value: v.InexactFloat64()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// tagLabels maps tag ids to display names, dropping duplicates so a position
// tagged twice is counted once per tag.
func tagLabels(ids []string, tagNames map[string]string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		name := id
		if n, ok := tagNames[id]; ok && n != "" {
			name = n
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// purchaseDay trims a timestamp to its calendar day.
func purchaseDay(s string) string {
	if len(s) >= len(model.DateLayout) {
		return s[:len(model.DateLayout)]
	}
	return s
}
