package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"PortfolioLens/internal/aggregate"
	"PortfolioLens/internal/logging"
	"PortfolioLens/internal/market"
	"PortfolioLens/internal/model"
	"PortfolioLens/internal/notifier"
	"PortfolioLens/internal/store"
)

// Sender delivers messages to the operator.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// digestMetrics are shown by the /fundamentals command.
var digestMetrics = []string{"annualTotalRevenue", "annualNetIncome", "annualDilutedEPS"}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron     *cron.Cron
	Market   *market.Service
	Store    store.Store
	Notifier Sender // nil disables messages
	Logger   *zap.Logger
	Ctx      context.Context

	now func() time.Time
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, svc *market.Service, st store.Store, n Sender, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Market:   svc,
		Store:    st,
		Notifier: n,
		Logger:   logging.OrNop(logger),
		Ctx:      ctx,
		now:      time.Now,
	}
}

// RegisterAll registers the price refresh and snapshot tasks.
func (s *Scheduler) RegisterAll(refreshCron, snapshotCron string) error {
	if _, err := s.Cron.AddFunc(refreshCron, s.refreshTask); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	if _, err := s.Cron.AddFunc(snapshotCron, s.snapshotTask); err != nil {
		return fmt.Errorf("register snapshot task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Logger.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.Logger.Info("scheduler stopped")
}

func (s *Scheduler) refreshTask() {
	if err := s.Refresh(s.Ctx); err != nil {
		s.Logger.Error("refresh failed", zap.Error(err))
	}
}

func (s *Scheduler) snapshotTask() {
	if _, err := s.Snapshot(s.Ctx); err != nil {
		s.Logger.Error("snapshot failed", zap.Error(err))
		s.trySend(s.Ctx, fmt.Sprintf("❌ Snapshot failed: %v", err))
	}
}

// Refresh resolves the prices of every open position so that user requests
// are served from cache.
func (s *Scheduler) Refresh(ctx context.Context) error {
	positions, err := s.Store.Find(ctx, store.Filter{OpenOnly: true})
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	prices := s.Market.ResolvePrices(ctx, symbols(positions))
	unresolved := 0
	for _, p := range prices {
		if !p.Resolved() {
			unresolved++
		}
	}
	st := s.Market.Stats()
	s.Logger.Info("prices refreshed",
		zap.Int("symbols", len(prices)),
		zap.Int("unresolved", unresolved),
		zap.Int("cached_quotes", st.Quotes),
		zap.Int("tripped_families", len(st.Tripped)))
	return nil
}

type valuation struct {
	summary model.Summary
	rows    []model.TagSummaryRow
}

func (s *Scheduler) valuate(ctx context.Context) (valuation, error) {
	positions, err := s.Store.Find(ctx, store.Filter{})
	if err != nil {
		return valuation{}, fmt.Errorf("load positions: %w", err)
	}
	names, err := s.Store.TagNames(ctx)
	if err != nil {
		return valuation{}, fmt.Errorf("load tag names: %w", err)
	}
	prices := s.Market.ResolvePrices(ctx, symbols(positions))
	return valuation{
		summary: aggregate.ComputeSummary(positions, prices),
		rows:    aggregate.ComputeTagSummary(positions, prices, names),
	}, nil
}

// Snapshot values the portfolio, records the result and sends the digest.
func (s *Scheduler) Snapshot(ctx context.Context) (store.Snapshot, error) {
	s.Logger.Info("running snapshot")
	v, err := s.valuate(ctx)
	if err != nil {
		return store.Snapshot{}, err
	}

	var previous *model.Summary
	if last, err := s.Store.LatestSnapshot(ctx); err == nil {
		previous = &last.Summary
	} else if !errors.Is(err, store.ErrNotFound) {
		s.Logger.Warn("load previous snapshot", zap.Error(err))
	}

	snap := store.Snapshot{RunID: uuid.NewString(), Taken: s.now(), Summary: v.summary, Tags: v.rows}
	if err := s.Store.RecordSnapshot(ctx, snap); err != nil {
		return snap, fmt.Errorf("record snapshot: %w", err)
	}
	s.Logger.Info("snapshot recorded",
		zap.String("run_id", snap.RunID),
		zap.Float64("market_value", snap.Summary.TotalMarketValue))

	s.trySend(ctx, notifier.FormatDigest(snap.Taken, snap.Summary, snap.Tags, previous))
	return snap, nil
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return help()
	}
	arg := ""
	if len(fields) > 1 {
		arg = strings.ToUpper(fields[1])
	}

	switch fields[0] {
	case "/summary":
		v, err := s.valuate(ctx)
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatDigest(s.now(), v.summary, v.rows, nil)
	case "/price":
		if arg == "" {
			return "usage: /price SYMBOL"
		}
		return notifier.FormatQuote(arg, s.Market.ResolvePrice(ctx, arg))
	case "/trend":
		return s.trend(ctx)
	case "/fundamentals":
		if arg == "" {
			return "usage: /fundamentals SYMBOL"
		}
		return notifier.FormatFundamentals(arg, s.Market.ResolveFundamentals(ctx, arg, digestMetrics))
	case "/status":
		st := s.Market.Stats()
		return notifier.FormatStatus(st.Quotes, st.Histories, st.Tripped)
	case "/clear":
		s.Market.ClearAll(ctx)
		return "🧹 Market caches cleared"
	default:
		return help()
	}
}

func (s *Scheduler) trend(ctx context.Context) string {
	positions, err := s.Store.Find(ctx, store.Filter{OpenOnly: true})
	if err != nil {
		return fmt.Sprintf("❌ load positions: %v", err)
	}
	names, err := s.Store.TagNames(ctx)
	if err != nil {
		return fmt.Sprintf("❌ load tag names: %v", err)
	}
	histories := s.Market.ResolveHistories(ctx, symbols(positions), model.Period1mo, model.IntervalDay)
	return notifier.FormatTrend(aggregate.ComputeTagTimeseries(positions, histories, names))
}

func help() string {
	return "Commands:\n• /summary\n• /price SYMBOL\n• /trend\n• /fundamentals SYMBOL\n• /status\n• /clear"
}

// symbols lists the symbols whose live price is needed: every position
// except closed ones with a recorded closing price.
func symbols(positions []model.Position) []string {
	out := make([]string, 0, len(positions))
	for _, p := range positions {
		if p.IsClosed && p.ClosingPrice != nil {
			continue
		}
		out = append(out, p.Symbol)
	}
	return out
}

func (s *Scheduler) trySend(ctx context.Context, text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(ctx, text, 3); err != nil {
		s.Logger.Error("send notification", zap.Error(err))
	}
}
