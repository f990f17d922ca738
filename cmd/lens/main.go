package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"PortfolioLens/internal/cache"
	"PortfolioLens/internal/config"
	"PortfolioLens/internal/logging"
	"PortfolioLens/internal/market"
	"PortfolioLens/internal/notifier"
	"PortfolioLens/internal/provider"
	"PortfolioLens/internal/scheduler"
	"PortfolioLens/internal/store"
)

func main() {
	// Secrets may live in a local .env file
	dotenvErr := godotenv.Load()

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.New("info").Fatal("load config", zap.Error(err))
	}
	logger := logging.New(cfg.Logging.Level)
	defer logger.Sync()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("config validation", zap.Error(err))
	}
	if dotenvErr != nil && !errors.Is(dotenvErr, fs.ErrNotExist) {
		logger.Warn("load .env", zap.Error(dotenvErr))
	}
	logger.Info("PortfolioLens starting", zap.String("config", cfgPath))

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := newMarketService(ctx, cfg, logger)

	// Init store
	var st store.Store
	if cfg.Database.SQLitePath != "" {
		ss, err := store.NewSQLiteStore(cfg.Database.SQLitePath, logger)
		if err != nil {
			logger.Warn("init sqlite store failed, using noop", zap.Error(err))
			st = store.NewNoopStore()
		} else {
			st = ss
			defer ss.Close()
		}
	} else {
		st = store.NewNoopStore()
	}

	// Init Telegram notifier
	var sender scheduler.Sender
	var tn *notifier.TelegramNotifier
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, logger)
		sender = tn
	}

	sched := scheduler.NewScheduler(ctx, svc, st, sender, logger)
	if err := sched.RegisterAll(cfg.Schedule.RefreshCron, cfg.Schedule.SnapshotCron); err != nil {
		logger.Fatal("register cron tasks", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		logger.Info("telegram polling started")
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
	}

	// Optional: warm the caches on start
	if os.Getenv("RUN_ON_START") == "true" {
		logger.Info("RUN_ON_START enabled, refreshing prices now")
		go func() {
			if err := sched.Refresh(ctx); err != nil {
				logger.Error("initial refresh", zap.Error(err))
			}
		}()
	}

	logger.Info("PortfolioLens is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping")
	cancel()
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func newMarketService(ctx context.Context, cfg *config.Config, logger *zap.Logger) *market.Service {
	fetcher := provider.NewHTTPFetcher(
		provider.WithTimeout(cfg.Market.RequestTimeout),
		provider.WithRateLimit(cfg.Market.RateLimit, cfg.Market.Burst),
		provider.WithUserAgent(cfg.Market.UserAgent),
		provider.WithProxy(cfg.Proxy),
		provider.WithFetcherLogger(logger),
	)

	endpoints := market.Endpoints{
		Primary:      cfg.Providers.Primary,
		Secondary:    cfg.Providers.Secondary,
		Exchange:     cfg.Providers.Exchange,
		CSV:          cfg.Providers.CSV,
		Fund:         cfg.Providers.Fund,
		Fundamentals: cfg.Providers.Fundamentals,
	}
	opts := []market.Option{
		market.WithCascade(market.StandardCascade(fetcher, endpoints)...),
		market.WithFund(provider.NewFund(fetcher, endpoints.Fund)),
		market.WithFundamentals(provider.NewFundamentals(fetcher, endpoints.Fundamentals)),
		market.WithWorkers(cfg.Market.Workers),
		market.WithCooldown(cfg.Market.Cooldown),
		market.WithTTLs(market.TTLs{
			Quote:        cfg.Cache.Quote,
			QuoteFailure: cfg.Cache.QuoteFailure,
			History:      cfg.Cache.History,
			Resolution:   cfg.Cache.Resolution,
			Fundamentals: cfg.Cache.Fundamentals,
		}),
		market.WithLogger(logger),
	}

	for _, src := range cfg.CustomSources {
		opts = append(opts, market.WithCustom(provider.NewCustom(fetcher, provider.CustomSource{
			Name:          src.Name,
			URL:           src.URL,
			Symbols:       src.Symbols,
			Price:         provider.Rule(src.Price),
			PreviousClose: provider.Rule(src.PreviousClose),
			LongName:      provider.Rule(src.LongName),
			Currency:      provider.Rule(src.Currency),
			HistoryPath:   src.HistoryPath,
			DateField:     src.DateField,
			CloseField:    src.CloseField,
		}, cfg.Cache.Custom)))
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rs := cache.NewRedisResolutions(client, cfg.Redis.Prefix, cfg.Cache.Resolution)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			logger.Warn("redis unavailable, keeping resolutions in memory", zap.Error(err))
		} else {
			opts = append(opts, market.WithResolutionStore(rs))
			logger.Info("resolution memo shared through redis", zap.String("addr", cfg.Redis.Addr))
		}
	}

	return market.New(opts...)
}
