package model

import (
	"sort"
	"time"
)

// DateLayout is the calendar-day format used by history points and positions.
const DateLayout = "2006-01-02"

// Tick is a raw close observation as returned by an upstream source.
type Tick struct {
	Time  time.Time
	Close float64
}

// HistoryPoint is one trading day of a daily series.
type HistoryPoint struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// NormalizeTicks folds ticks into one point per calendar day (the latest tick
// of the day wins, evaluated in the tick's own location) sorted by date.
func NormalizeTicks(ticks []Tick) []HistoryPoint {
	if len(ticks) == 0 {
		return nil
	}
	latest := make(map[string]Tick, len(ticks))
	for _, t := range ticks {
		day := t.Time.Format(DateLayout)
		if cur, ok := latest[day]; !ok || !t.Time.Before(cur.Time) {
			latest[day] = t
		}
	}
	points := make([]HistoryPoint, 0, len(latest))
	for day, t := range latest {
		points = append(points, HistoryPoint{Date: day, Close: t.Close})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}

// Closes extracts the close prices of a series, preserving order.
func Closes(points []HistoryPoint) []float64 {
	closes := make([]float64, len(points))
	for i, p := range points {
		closes[i] = p.Close
	}
	return closes
}

// Interval is the bar size requested from a history source.
type Interval string

const (
	IntervalDay   Interval = "1d"
	IntervalWeek  Interval = "1wk"
	IntervalMonth Interval = "1mo"
)

// Valid reports whether the interval is one of the supported codes.
func (i Interval) Valid() bool {
	switch i {
	case IntervalDay, IntervalWeek, IntervalMonth:
		return true
	}
	return false
}

// Period is a lookback window ending now.
type Period string

const (
	Period1d  Period = "1d"
	Period5d  Period = "5d"
	Period1mo Period = "1mo"
	Period3mo Period = "3mo"
	Period6mo Period = "6mo"
	Period1y  Period = "1y"
	Period2y  Period = "2y"
	Period5y  Period = "5y"
	Period10y Period = "10y"
	PeriodYTD Period = "ytd"
	PeriodMax Period = "max"
)

// Start returns the beginning of the window relative to now.
// Unknown periods fall back to one year.
func (p Period) Start(now time.Time) time.Time {
	switch p {
	case Period1d:
		return now.AddDate(0, 0, -1)
	case Period5d:
		return now.AddDate(0, 0, -5)
	case Period1mo:
		return now.AddDate(0, -1, 0)
	case Period3mo:
		return now.AddDate(0, -3, 0)
	case Period6mo:
		return now.AddDate(0, -6, 0)
	case Period2y:
		return now.AddDate(-2, 0, 0)
	case Period5y:
		return now.AddDate(-5, 0, 0)
	case Period10y:
		return now.AddDate(-10, 0, 0)
	case PeriodYTD:
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
	case PeriodMax:
		return time.Unix(0, 0).UTC()
	default:
		return now.AddDate(-1, 0, 0)
	}
}

// FundamentalPoint is one reported value of an annual fundamentals metric.
type FundamentalPoint struct {
	Metric   string  `json:"metric"`
	AsOfDate string  `json:"as_of_date"`
	Value    float64 `json:"value"`
}
