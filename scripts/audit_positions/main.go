// audit_positions compares the local ledger against live broker holdings
// without changing either side. Run it before trusting the ledger after a
// crash, a manual trade, or a long offline stretch.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/config"
	"github.com/eddiefleurent/stamford_condor/internal/reconcile"
	"github.com/eddiefleurent/stamford_condor/internal/report"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

// maskAccountID masks all but the last 4 characters of an account ID to
// prevent PII exposure in shared output.
func maskAccountID(id string) string {
	if len(id) > 4 {
		return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
	}
	return id
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		jsonOutput = flag.Bool("json", false, "Output results as JSON")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *verbose {
		fmt.Printf("Using config: %s\n", *configPath)
		fmt.Printf("Broker: %s (paper: %t)\n", cfg.Broker.BaseURL, cfg.IsPaperTrading())
		fmt.Printf("Account ID: %s\n\n", maskAccountID(cfg.Broker.AccountID))
	}

	logger := log.New(os.Stderr, "[AUDIT] ", log.LstdFlags)
	var gateway broker.Gateway = broker.NewClient(cfg.BrokerClientConfig())
	if cfg.Broker.CircuitBreaker {
		gateway = broker.NewCircuitGateway(gateway)
	}

	store, err := storage.NewStore(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	diff, err := reconcile.New(gateway, store, logger).Diff(ctx)
	if err != nil {
		log.Fatalf("Failed to diff positions: %v", err)
	}

	if *jsonOutput {
		output, err := json.MarshalIndent(diff, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal JSON: %v", err)
		}
		fmt.Println(string(output))
		return
	}

	report.Reconciliation(os.Stdout, &reconcile.Report{Diff: diff, RunAt: time.Now().UTC()})

	if issues := analyzeDiff(diff); len(issues) > 0 {
		fmt.Printf("\nPOTENTIAL ISSUES FOUND:\n")
		for i, issue := range issues {
			fmt.Printf("  %d. %s\n", i+1, issue)
		}
		fmt.Printf("\nNext steps:\n")
		fmt.Printf("  1. Run the bot's reconcile loop (or wait for the next scheduled run) to flag local-only positions\n")
		fmt.Printf("  2. Import broker-only groups with scripts/reset_positions if they are yours\n")
		fmt.Printf("  3. Investigate strike mismatches manually before resuming trading\n")
	}
}

// analyzeDiff turns a raw diff into human-readable findings.
func analyzeDiff(diff *reconcile.Diff) []string {
	var issues []string
	if diff == nil || diff.Clean() {
		return issues
	}
	for _, m := range diff.Mismatched {
		issues = append(issues, fmt.Sprintf("position %s strikes %v disagree with broker strikes %v",
			m.Position.ID, m.LocalStrikes, m.BrokerStrikes))
	}
	if n := len(diff.LocalOnly); n > 0 {
		issues = append(issues, fmt.Sprintf("%d ledger position(s) not found at the broker - possibly assigned or manually closed", n))
	}
	if n := len(diff.BrokerOnly); n > 0 {
		issues = append(issues, fmt.Sprintf("%d broker group(s) unknown to the ledger - manual trades or a lost ledger file", n))
	}
	return issues
}
