package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"PortfolioLens/internal/model"
)

// FormatDigest formats the end-of-day portfolio digest. previous, when set,
// is the last recorded summary and adds a day-over-day line.
func FormatDigest(taken time.Time, s model.Summary, rows []model.TagSummaryRow, previous *model.Summary) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📊 <b>PortfolioLens</b> | %s\n\n", taken.Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("Market value: %s\n", money(s.TotalMarketValue)))
	b.WriteString(fmt.Sprintf("Unrealized P/L: %s\n", signedMoney(s.TotalUnrealizedPL)))
	if previous != nil && previous.TotalMarketValue != 0 {
		delta := s.TotalMarketValue - previous.TotalMarketValue
		b.WriteString(fmt.Sprintf("Since last snapshot: %s (%+.2f%%)\n",
			signedMoney(delta), delta/previous.TotalMarketValue*100))
	}

	if len(rows) > 0 {
		b.WriteString("\n🏷 <b>Tags</b>\n")
		for _, r := range rows {
			b.WriteString(fmt.Sprintf("  %s: %s | P/L %s | day %s | 10d %s\n",
				html.EscapeString(r.Tag), money(r.MarketValue), signedMoney(r.UnrealizedPL),
				pct(r.IntradayPct), pct(r.TenDayPct)))
		}
	}
	return b.String()
}

// FormatQuote formats a single resolved quote.
func FormatQuote(symbol string, e model.PriceEntry) string {
	if e.Empty() {
		return fmt.Sprintf("❓ %s: no data from any source", html.EscapeString(symbol))
	}
	var b strings.Builder
	name := symbol
	if e.LongName != nil {
		name = fmt.Sprintf("%s (%s)", *e.LongName, symbol)
	}
	b.WriteString(fmt.Sprintf("💹 <b>%s</b>\n", html.EscapeString(name)))
	cur := ""
	if e.Currency != nil {
		cur = " " + *e.Currency
	}
	b.WriteString(fmt.Sprintf("Price: %.2f%s\n", e.Current, cur))
	b.WriteString(fmt.Sprintf("Day: %s | 10d: %s | 1y: %s\n", pct(e.ChangePct), pct(e.Change10dPct), pct(e.Change1yPct)))
	return b.String()
}

// FormatTrend summarises a market value series: first and last value overall
// and per tag.
func FormatTrend(ts model.Timeseries) string {
	if len(ts.Total) == 0 {
		return "📉 No history available"
	}
	var b strings.Builder
	first, last := ts.Total[0], ts.Total[len(ts.Total)-1]
	b.WriteString(fmt.Sprintf("📈 <b>Trend</b> %s → %s\n", first.Date, last.Date))
	b.WriteString(fmt.Sprintf("Total: %s → %s %s\n", money(first.Value), money(last.Value), change(first.Value, last.Value)))

	names := make([]string, 0, len(ts.Tags))
	for name := range ts.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pts := ts.Tags[name]
		if len(pts) == 0 {
			continue
		}
		f, l := pts[0].Value, pts[len(pts)-1].Value
		b.WriteString(fmt.Sprintf("  %s: %s → %s %s\n", html.EscapeString(name), money(f), money(l), change(f, l)))
	}
	return b.String()
}

// FormatFundamentals lists the latest value of each metric.
func FormatFundamentals(symbol string, series map[string][]model.FundamentalPoint) string {
	if len(series) == 0 {
		return fmt.Sprintf("❓ %s: no fundamentals", html.EscapeString(symbol))
	}
	metrics := make([]string, 0, len(series))
	for m := range series {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("🧾 <b>%s</b>\n", html.EscapeString(symbol)))
	for _, m := range metrics {
		pts := series[m]
		if len(pts) == 0 {
			continue
		}
		latest := pts[len(pts)-1]
		b.WriteString(fmt.Sprintf("  %s (%s): %s\n", m, latest.AsOfDate, money(latest.Value)))
	}
	return b.String()
}

// FormatStatus reports cache sizes and open breakers.
func FormatStatus(quotes, histories int, tripped map[string]time.Time) string {
	var b strings.Builder
	b.WriteString("⚙️ <b>Status</b>\n")
	b.WriteString(fmt.Sprintf("Cached quotes: %d | histories: %d\n", quotes, histories))
	if len(tripped) == 0 {
		b.WriteString("All providers available\n")
		return b.String()
	}
	families := make([]string, 0, len(tripped))
	for f := range tripped {
		families = append(families, f)
	}
	sort.Strings(families)
	for _, f := range families {
		b.WriteString(fmt.Sprintf("⛔ %s rate limited until %s\n", f, tripped[f].Format("15:04:05")))
	}
	return b.String()
}

func pct(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f%%", *p)
}

func change(from, to float64) string {
	if from == 0 {
		return ""
	}
	return fmt.Sprintf("(%+.2f%%)", (to-from)/from*100)
}

func money(v float64) string { return fmt.Sprintf("%.2f", v) }

func signedMoney(v float64) string { return fmt.Sprintf("%+.2f", v) }
