package provider

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"PortfolioLens/internal/model"
)

// DefaultCSVBaseURL hosts the daily-bar CSV download endpoint.
const DefaultCSVBaseURL = "https://stooq.com"

// csvCountries maps exchange suffixes to the CSV source's country codes.
var csvCountries = map[string]string{
	"PA": "fr",
	"DE": "de",
	"F":  "de",
	"L":  "uk",
	"AS": "nl",
	"MI": "it",
	"MC": "es",
	"BR": "be",
	"SW": "ch",
	"T":  "jp",
	"HK": "hk",
	"TO": "ca",
}

// CSV is the last-resort adapter reading daily bars from a CSV download.
type CSV struct {
	baseURL string
	http    Getter
	now     func() time.Time
}

// NewCSV creates the CSV adapter.
func NewCSV(getter Getter, baseURL string) *CSV {
	if baseURL == "" {
		baseURL = DefaultCSVBaseURL
	}
	return &CSV{baseURL: strings.TrimRight(baseURL, "/"), http: getter, now: time.Now}
}

func (c *CSV) Provider() model.Provider { return model.ProviderCSV }

func (c *CSV) Candidates(symbol string) []string {
	if id := CSVSymbol(symbol); id != "" {
		return []string{id}
	}
	return nil
}

// CSVSymbol transliterates a canonical ticker: the exchange suffix becomes a
// two-letter country code and bare tickers are treated as US listings.
func CSVSymbol(symbol string) string {
	base, suffix := SplitSuffix(strings.ToUpper(symbol))
	if base == "" {
		return ""
	}
	if suffix == "" {
		return strings.ToLower(base) + ".us"
	}
	country, ok := csvCountries[suffix]
	if !ok {
		return ""
	}
	return strings.ToLower(base) + "." + country
}

func (c *CSV) Quote(ctx context.Context, id string) (model.PriceEntry, error) {
	now := c.now()
	ticks, err := c.History(ctx, id, now.AddDate(0, 0, -10), now, model.IntervalDay)
	if err != nil {
		return model.PriceEntry{}, err
	}
	entry := model.PriceEntry{Current: ticks[len(ticks)-1].Close}
	if len(ticks) > 1 {
		prev := ticks[len(ticks)-2].Close
		entry = entry.WithPreviousClose(&prev)
	}
	return entry, nil
}

func (c *CSV) History(ctx context.Context, id string, start, end time.Time, _ model.Interval) ([]model.Tick, error) {
	u := fmt.Sprintf("%s/q/d/l/?s=%s&d1=%s&d2=%s&i=d",
		c.baseURL, url.QueryEscape(id), start.Format("20060102"), end.Format("20060102"))
	body, err := c.http.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	ticks, err := parseDailyCSV(body)
	if err != nil {
		return nil, fmt.Errorf("csv %s: %w", id, err)
	}
	return ticks, nil
}

// parseDailyCSV reads a "Date,Open,High,Low,Close[,Volume]" document.
func parseDailyCSV(body []byte) ([]model.Tick, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, ErrNoData
	}
	dateCol, closeCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "date":
			dateCol = i
		case "close":
			closeCol = i
		}
	}
	if dateCol < 0 || closeCol < 0 {
		return nil, ErrNoData // the source answers "No data" as plain text
	}

	var ticks []model.Tick
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(rec) <= closeCol || len(rec) <= dateCol {
			continue
		}
		t, err := time.Parse(model.DateLayout, strings.TrimSpace(rec[dateCol]))
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[closeCol]), 64)
		if err != nil || v == 0 {
			continue
		}
		ticks = append(ticks, model.Tick{Time: t, Close: v})
	}
	if len(ticks) == 0 {
		return nil, ErrNoData
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Time.Before(ticks[j].Time) })
	return ticks, nil
}
