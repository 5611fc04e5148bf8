package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/stamford_condor/internal/allocator"
	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/config"
	"github.com/eddiefleurent/stamford_condor/internal/dashboard"
	"github.com/eddiefleurent/stamford_condor/internal/pipeline"
	"github.com/eddiefleurent/stamford_condor/internal/reconcile"
	"github.com/eddiefleurent/stamford_condor/internal/retry"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; config values may reference its variables.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags|log.Lshortfile)
	logger.Printf("Starting execution bot in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - No real money at risk")
	} else {
		logger.Println("LIVE TRADING MODE - Real money at risk!")
		logger.Println("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	bot, err := buildBot(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to build bot: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping bot...")
		cancel()
	}()

	if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatalf("Bot error: %v", err)
	}
	logger.Println("Bot stopped successfully")
}

func buildBot(cfg *config.Config, logger *log.Logger) (*Bot, error) {
	var gateway broker.Gateway = broker.NewClient(cfg.BrokerClientConfig())
	if cfg.Broker.CircuitBreaker {
		gateway = broker.NewCircuitGateway(gateway)
	}

	store, err := storage.NewStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	alloc, err := allocator.New(cfg.AllocatorCoreConfig(), nil)
	if err != nil {
		return nil, fmt.Errorf("allocator: %w", err)
	}

	pipe := pipeline.New(gateway, store, logger, cfg.PipelineConfig())
	engine := reconcile.New(gateway, store, logger)
	closer := retry.NewClient(pipe, logger)

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		if cfg.Environment.LogLevel == "debug" {
			dashLogger.SetLevel(logrus.DebugLevel)
		}
		dash = dashboard.NewServer(dashboard.Config{
			Addr:      cfg.Dashboard.Addr,
			AuthToken: cfg.Dashboard.Token,
		}, store, gateway, alloc, engine, dashLogger)
	}

	return &Bot{
		config:    cfg,
		gateway:   gateway,
		store:     store,
		allocator: alloc,
		pipeline:  pipe,
		engine:    engine,
		closer:    closer,
		dashboard: dash,
		source:    &noopSource{},
		logger:    logger,
	}, nil
}

// Run verifies broker connectivity, then drives the trading loop, the
// reconciliation loop, and the dashboard until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Println("Verifying broker connection...")
	summary, err := b.gateway.AccountSummary(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	b.logger.Printf("Connected. Net liquidation $%.2f, available funds $%.2f",
		summary.NetLiquidation, summary.AvailableFunds)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.tradingLoop(ctx) })
	g.Go(func() error { return b.reconcileLoop(ctx) })

	if b.dashboard != nil {
		g.Go(func() error { return b.dashboard.Start() })
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return b.dashboard.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func (b *Bot) tradingLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.config.ScanInterval())
	defer ticker.Stop()

	b.runTradingCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.runTradingCycle(ctx)
		}
	}
}

func (b *Bot) reconcileLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.config.ReconcileInterval())
	defer ticker.Stop()

	b.runReconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.runReconcile(ctx)
		}
	}
}
