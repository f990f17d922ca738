package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PortfolioLens/internal/market"
	"PortfolioLens/internal/model"
	"PortfolioLens/internal/provider"
	"PortfolioLens/internal/store"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingSender) SendWithRetry(_ context.Context, text string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	return nil
}

func setup(t *testing.T) (*Scheduler, *recordingSender, *provider.Mock) {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "lens.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	for _, p := range []model.Position{
		{ID: "a", Symbol: "A", Quantity: 10, CostPrice: 100, Tags: []string{"t1"}},
		{ID: "b", Symbol: "B", Quantity: 1, CostPrice: 10000, Tags: []string{"t1"}},
		{ID: "c", Symbol: "C", Quantity: 5, CostPrice: 10, IsClosed: true, ClosingPrice: model.Float(20), Tags: []string{"t2"}},
	} {
		_, err := st.Insert(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, st.PutTag(ctx, "t1", "Core"))

	now := time.Now()
	primary := &provider.Mock{
		Name: model.ProviderPrimary,
		Prices: map[string]model.PriceEntry{
			"A": {Current: 110, PreviousClose: model.Float(100)},
			"B": {Current: 10001, PreviousClose: model.Float(10000)},
		},
		Ticks: map[string][]model.Tick{
			"A": {{Time: now.AddDate(0, 0, -3), Close: 100}, {Time: now.Add(-time.Hour), Close: 110}},
		},
	}
	svc := market.New(market.WithCascade(primary))
	sender := &recordingSender{}
	return NewScheduler(ctx, svc, st, sender, nil), sender, primary
}

func TestSnapshot_RecordsAndSendsDigest(t *testing.T) {
	s, sender, primary := setup(t)
	ctx := context.Background()

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.RunID)
	assert.InDelta(t, 1100+10001, snap.Summary.TotalMarketValue, 1e-9)
	require.Len(t, snap.Tags, 2)
	assert.Equal(t, "Core", snap.Tags[0].Tag)
	assert.InDelta(t, 101.0/11000*100, *snap.Tags[0].IntradayPct, 1e-9)
	assert.Equal(t, "t2", snap.Tags[1].Tag)
	assert.Equal(t, 100.0, snap.Tags[1].MarketValue)
	assert.Zero(t, primary.QuoteCalls("C"), "closed positions with a closing price are not quoted")

	latest, err := s.Store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.RunID, latest.RunID)

	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0], "Core")

	_, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Contains(t, sender.messages[1], "Since last snapshot: +0.00")
}

func TestRefresh_WarmsCache(t *testing.T) {
	s, _, primary := setup(t)
	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, 1, primary.QuoteCalls("A"))
	assert.Equal(t, 2, s.Market.Stats().Quotes)

	s.HandleCommand(context.Background(), "/price a")
	assert.Equal(t, 1, primary.QuoteCalls("A"), "served from cache")
}

func TestHandleCommand(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()

	assert.Contains(t, s.HandleCommand(ctx, "/price a"), "Price: 110.00")
	assert.Contains(t, s.HandleCommand(ctx, "/price"), "usage")
	assert.Contains(t, s.HandleCommand(ctx, "/summary"), "Market value: 11101.00")
	assert.Contains(t, s.HandleCommand(ctx, "/trend"), "Core: 1000.00 → 1100.00")
	assert.Contains(t, s.HandleCommand(ctx, "/status"), "All providers available")
	assert.Contains(t, s.HandleCommand(ctx, "/fundamentals AAPL"), "no fundamentals")
	assert.Contains(t, s.HandleCommand(ctx, "/clear"), "cleared")
	assert.Zero(t, s.Market.Stats().Quotes)
	assert.Contains(t, s.HandleCommand(ctx, "hello"), "Commands:")
}

func TestRegisterAll_RejectsBadCron(t *testing.T) {
	s, _, _ := setup(t)
	assert.Error(t, s.RegisterAll("not a cron", "0 0 22 * * 1-5"))
	assert.NoError(t, s.RegisterAll("0 */5 * * * *", "0 0 22 * * 1-5"))
}
