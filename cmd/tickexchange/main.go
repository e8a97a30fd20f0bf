package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/tickexchange/internal/admission"
	"github.com/efreitasn/tickexchange/internal/budget"
	"github.com/efreitasn/tickexchange/internal/config"
	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/engine"
	"github.com/efreitasn/tickexchange/internal/events"
	"github.com/efreitasn/tickexchange/internal/handler"
	"github.com/efreitasn/tickexchange/internal/market"
	"github.com/efreitasn/tickexchange/internal/metrics"
	"github.com/efreitasn/tickexchange/internal/saga"
	"github.com/efreitasn/tickexchange/internal/service"
	"github.com/efreitasn/tickexchange/internal/settlement"
	"github.com/efreitasn/tickexchange/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)

	// Instantiate stores.
	accountStore := store.NewAccountStore()
	journal := store.NewTransactionStore()
	sagaStore := store.NewSagaStore()
	webhookStore := store.NewWebhookStore()

	// Events fan out to the log, the metrics and the webhook subscribers.
	webhookSink := events.NewWebhookSink(webhookStore, cfg.WebhookTimeout, logger)
	sink := events.Multi{events.NewLogSink(logger), mt, webhookSink}

	// Settlement. The escrow and the bank hold ledger accounts from the start.
	ledger := settlement.NewLedger(accountStore)
	for _, id := range []string{cfg.EscrowAgentID, cfg.BankAgentID} {
		if _, err := ledger.Open(id); err != nil {
			logger.Error("failed to open system account", slog.String("agent_id", id), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	if cfg.BankReservesPennies > 0 {
		if err := ledger.Mint(cfg.BankAgentID, cfg.BankReservesPennies, settlement.DefaultCurrency); err != nil {
			logger.Error("failed to fund bank reserves", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	bank := settlement.NewMemoryBank(cfg.BankAgentID, ledger)

	// Markets.
	mode, err := admission.ParseMode(cfg.PriceLimitMode)
	if err != nil {
		logger.Error("invalid price limit mode", slog.String("error", err.Error()))
		os.Exit(1)
	}
	exchange := service.NewExchange(logger, journal)
	for _, kind := range []domain.MarketKind{domain.KindGoods, domain.KindLabor} {
		id := string(kind)
		matcherOpts := []engine.MatcherOption{engine.WithWorkers(cfg.MatchWorkers)}
		if kind == domain.KindLabor {
			matcherOpts = append(matcherOpts, engine.WithHaloCoefficient(cfg.LaborHaloCoefficient))
		}
		opts := []market.Option{
			market.WithEvents(sink),
			market.WithMetrics(mt),
			market.WithJournal(journal),
			market.WithMatcherOptions(matcherOpts...),
			market.WithCircuitBreaker(admission.NewCircuitBreaker(id, admission.CircuitBreakerConfig{
				Window:           cfg.CircuitBreakerWindow,
				MinHistory:       cfg.CircuitBreakerMinHistory,
				BaseLimit:        cfg.PriceLimitBase,
				VolatilityWeight: cfg.CircuitBreakerVolatilityWeight,
				HaltTicks:        cfg.CircuitBreakerHaltTicks,
			}, sink)),
		}
		if cfg.PriceLimitEnabled {
			opts = append(opts, market.WithPriceLimits(admission.NewPriceLimitEnforcer(admission.PriceLimitConfig{
				Enabled:        true,
				Mode:           mode,
				FloorPennies:   cfg.PriceLimitFloor,
				CeilingPennies: cfg.PriceLimitCeiling,
				BaseLimit:      cfg.PriceLimitBase,
			})))
		}
		exchange.AddMarket(market.NewOrderBookMarket(id, kind, opts...))
	}

	stockMarket := market.NewStockMarket(market.DefaultStockMarketID,
		market.StockMarketConfig{
			ExpiryTicks: cfg.StockOrderExpiryTicks,
			PriceLimit: admission.PriceLimitConfig{
				Enabled:   cfg.PriceLimitEnabled,
				Mode:      admission.ModeDynamic,
				BaseLimit: cfg.StockPriceLimitBase,
			},
			Workers: cfg.MatchWorkers,
		},
		market.WithIndexBreaker(admission.NewIndexCircuitBreaker(market.DefaultStockMarketID, admission.IndexCircuitBreakerConfig{
			Tier1:      cfg.IndexCBTier1,
			Tier2:      cfg.IndexCBTier2,
			Tier3:      cfg.IndexCBTier3,
			Tier1Ticks: cfg.IndexCBTier1Ticks,
			Tier2Ticks: cfg.IndexCBTier2Ticks,
		}, sink)),
		market.WithStockEvents(sink),
		market.WithStockMetrics(mt),
		market.WithStockJournal(journal),
	)
	exchange.SetStockMarket(stockMarket)

	// Housing.
	registry := saga.NewRegistry()
	housingSaga := saga.NewHousingSaga(saga.Config{
		MaxLTV:       cfg.MortgageMaxLTV,
		TermTicks:    cfg.MortgageTermTicks,
		InterestRate: cfg.MortgageInterestRate,
		EscrowID:     cfg.EscrowAgentID,
		Currency:     settlement.DefaultCurrency,
	}, ledger, bank, registry, sink)

	// Router.
	router := handler.NewRouter(handler.Services{
		Accounts: service.NewAccountService(ledger),
		Exchange: exchange,
		Housing:  service.NewHousingService(housingSaga, registry, sagaStore, accountStore),
		Budget:   service.NewBudgetService(budget.NewGatekeeper(sink)),
		Webhooks: service.NewWebhookService(webhookStore, accountStore),
	}, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger)

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	if cfg.TickInterval > 0 {
		g.Go(func() error {
			runTicker(gctx, exchange, cfg.TickInterval, logger)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		// Graceful shutdown: stop HTTP server, then drain webhook deliveries.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		webhookSink.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// runTicker steps the exchange every interval until ctx is done. A tick
// that fails on some markets still advances; the failure is logged.
func runTicker(ctx context.Context, exchange *service.Exchange, interval time.Duration, logger *slog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res, err := exchange.Step()
			if err != nil {
				logger.Error("tick failed", slog.Int64("tick", res.Tick), slog.String("error", err.Error()))
			}
		}
	}
}
