package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"PortfolioLens/internal/model"
)

// Mock is a controllable adapter for development and tests. It serves quotes
// and history from fixed maps keyed by provider id and counts every call.
type Mock struct {
	Name   model.Provider
	Prices map[string]model.PriceEntry
	Ticks  map[string][]model.Tick
	// Err, when set, is returned by every call.
	Err error
	// IDs derives candidate ids; nil passes the symbol through.
	IDs func(symbol string) []string
	// Delay simulates upstream latency; honours context cancellation.
	Delay time.Duration

	mu           sync.Mutex
	quoteCalls   map[string]int
	historyCalls map[string]int
}

func (m *Mock) Provider() model.Provider { return m.Name }

func (m *Mock) Candidates(symbol string) []string {
	if m.IDs != nil {
		return m.IDs(symbol)
	}
	return passthrough(strings.ToUpper(symbol))
}

func (m *Mock) Quote(ctx context.Context, id string) (model.PriceEntry, error) {
	m.record(&m.quoteCalls, id)
	if err := m.wait(ctx); err != nil {
		return model.PriceEntry{}, err
	}
	if m.Err != nil {
		return model.PriceEntry{}, m.Err
	}
	p, ok := m.Prices[id]
	if !ok || p.Current == 0 {
		return model.PriceEntry{}, fmt.Errorf("mock %s %s: %w", m.Name, id, ErrNoData)
	}
	return p, nil
}

func (m *Mock) History(ctx context.Context, id string, start, end time.Time, _ model.Interval) ([]model.Tick, error) {
	m.record(&m.historyCalls, id)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	var out []model.Tick
	for _, t := range m.Ticks[id] {
		if t.Time.Before(start) || t.Time.After(end) {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("mock %s %s: %w", m.Name, id, ErrNoData)
	}
	return out, nil
}

// QuoteCalls returns how many quotes were requested for id ("" = all ids).
func (m *Mock) QuoteCalls(id string) int { return m.count(&m.quoteCalls, id) }

// HistoryCalls returns how many histories were requested for id ("" = all ids).
func (m *Mock) HistoryCalls(id string) int { return m.count(&m.historyCalls, id) }

func (m *Mock) record(counter *map[string]int, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if *counter == nil {
		*counter = make(map[string]int)
	}
	(*counter)[id]++
}

func (m *Mock) count(counter *map[string]int, id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		return (*counter)[id]
	}
	total := 0
	for _, n := range *counter {
		total += n
	}
	return total
}

func (m *Mock) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.Delay):
		return nil
	}
}

// GenerateTicks builds count daily ticks ending at end, drifting from base.
func GenerateTicks(base float64, count int, end time.Time) []model.Tick {
	ticks := make([]model.Tick, count)
	for i := 0; i < count; i++ {
		ticks[i] = model.Tick{
			Time:  end.AddDate(0, 0, -(count - 1 - i)),
			Close: base * (1 + float64(i-count/2)*0.001),
		}
	}
	return ticks
}
