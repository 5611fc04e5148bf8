// reset_positions rebuilds the ledger from broker reality. It discards the
// existing ledger file and imports every open (symbol, expiry) option group
// as a position with inferred structure. Entry pricing cannot be recovered
// from broker cost basis, so imported positions carry zero entry credit/cost
// and are tracked on broker-observed values only.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/config"
	"github.com/eddiefleurent/stamford_condor/internal/reconcile"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	outputPath := flag.String("output", "", "Ledger path to rebuild (defaults to storage.path from config)")
	force := flag.Bool("force", false, "Overwrite an existing ledger without prompting")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	path := *outputPath
	if path == "" {
		path = cfg.Storage.Path
	}

	if _, err := os.Stat(path); err == nil && !*force {
		fmt.Printf("Ledger %s already exists. This will DISCARD it and rebuild from the broker.\n", path)
		fmt.Printf("Type 'yes' to continue: ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to remove existing ledger: %v", err)
	}

	logger := log.New(os.Stderr, "[RESET] ", log.LstdFlags)
	var gateway broker.Gateway = broker.NewClient(cfg.BrokerClientConfig())
	if cfg.Broker.CircuitBreaker {
		gateway = broker.NewCircuitGateway(gateway)
	}

	store, err := storage.NewStore(path)
	if err != nil {
		log.Fatalf("Failed to create ledger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	fmt.Println("Importing broker positions...")
	brokerPositions, err := gateway.OptionPositions(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch broker positions: %v", err)
	}
	groups := make([]*reconcile.BrokerGroup, 0)
	for _, group := range reconcile.GroupPositions(brokerPositions) {
		groups = append(groups, group)
	}
	imported, err := reconcile.New(gateway, store, logger).Import(groups)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	if len(imported) == 0 {
		if err := store.Save(); err != nil {
			log.Fatalf("Failed to write empty ledger: %v", err)
		}
		fmt.Printf("No option positions at the broker. Wrote empty ledger to %s\n", path)
		return
	}
	for _, pos := range imported {
		fmt.Printf("  %s  %s  %d leg(s)\n", pos.ID, pos.Structure, len(pos.Legs))
	}
	fmt.Printf("Imported %d position(s) into %s\n", len(imported), path)
}
