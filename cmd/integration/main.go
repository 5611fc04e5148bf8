// Command integration is a read-only smoke harness for the broker gateway.
// It loads the normal config, talks to the live Client Portal endpoint, and
// exercises every read path plus an order preview. Nothing is placed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/compiler"
	"github.com/eddiefleurent/stamford_condor/internal/config"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/reconcile"
	"github.com/eddiefleurent/stamford_condor/internal/report"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	fmt.Println("=== Broker Gateway Smoke Test (read-only) ===")
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.IsPaperTrading() {
		log.Fatalf("Smoke test must run in paper mode. Set environment.mode: paper in %s", *configPath)
	}

	logger := log.New(os.Stdout, "[SMOKE] ", log.LstdFlags)

	var gateway broker.Gateway = broker.NewClient(cfg.BrokerClientConfig())
	if cfg.Broker.CircuitBreaker {
		gateway = broker.NewCircuitGateway(gateway)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Println("1. Account summary")
	summary, err := gateway.AccountSummary(ctx)
	if err != nil {
		log.Fatalf("   account summary failed: %v", err)
	}
	report.Account(os.Stdout, summary)

	fmt.Println("2. Option positions")
	positions, err := gateway.OptionPositions(ctx)
	if err != nil {
		log.Fatalf("   option positions failed: %v", err)
	}
	groups := reconcile.GroupPositions(positions)
	fmt.Printf("   %d option legs in %d (symbol, expiry) groups\n", len(positions), len(groups))

	fmt.Println("3. Ledger diff")
	store, err := storage.NewStore(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("   storage open failed: %v", err)
	}
	engine := reconcile.New(gateway, store, logger)
	diff, err := engine.Diff(ctx)
	if err != nil {
		log.Fatalf("   diff failed: %v", err)
	}
	fmt.Printf("   matched=%d mismatched=%d local-only=%d broker-only=%d\n",
		len(diff.Matched), len(diff.Mismatched), len(diff.LocalOnly), len(diff.BrokerOnly))

	fmt.Println("4. Margin preview (far-OTM condor, never placed)")
	preview, err := previewCondor(ctx, gateway)
	switch {
	case err != nil:
		log.Fatalf("   preview failed: %v", err)
	case preview == nil:
		fmt.Println("   broker returned no preview figures")
	default:
		fmt.Printf("   init margin change: $%.2f\n", preview.InitMarginChange)
	}

	fmt.Println()
	fmt.Println("All checks passed.")
}

// previewCondor compiles a deliberately far-OTM SPY condor and asks the
// broker to price its margin impact. Strikes this wide should never be worth
// filling even if a preview were mistakenly submitted.
func previewCondor(ctx context.Context, gateway broker.Gateway) (*broker.MarginPreview, error) {
	expiry := nextMonthlyExpiry(time.Now().UTC())
	compiled, err := compiler.Compile(&models.TradeCandidate{
		Structure:  models.StructureIronCondor,
		Symbol:     "SPY",
		Expiration: expiry,
		Fill: models.FillEstimate{
			EntryCredit: 0.05,
			IsCredit:    true,
			Quantity:    1,
		},
		Legs: []models.Leg{
			{Type: models.RightPut, Strike: 300, Action: models.ActionBuy, Ratio: 1},
			{Type: models.RightPut, Strike: 310, Action: models.ActionSell, Ratio: 1},
			{Type: models.RightCall, Strike: 900, Action: models.ActionSell, Ratio: 1},
			{Type: models.RightCall, Strike: 910, Action: models.ActionBuy, Ratio: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	legs := make([]broker.ComboLeg, 0, len(compiled.Legs))
	for _, leg := range compiled.Legs {
		legs = append(legs, broker.ComboLeg{
			Symbol: "SPY",
			Expiry: expiry.Format("20060102"),
			Strike: leg.Strike,
			Right:  leg.Type,
			Action: leg.Action,
			Ratio:  leg.Ratio,
		})
	}
	return gateway.PreviewOrder(ctx, broker.ComboOrder{
		Symbol:     "SPY",
		Action:     compiled.Action,
		Quantity:   1,
		LimitPrice: 0.05,
		Legs:       legs,
	})
}

// nextMonthlyExpiry returns the third Friday at least two weeks out.
func nextMonthlyExpiry(now time.Time) time.Time {
	month := now.AddDate(0, 1, 0)
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+14)
}
