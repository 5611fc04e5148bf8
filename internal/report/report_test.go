package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/allocator"
	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/reconcile"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

func testAllocator(t *testing.T) *allocator.Allocator {
	t.Helper()
	a, err := allocator.New(allocator.Config{
		Capital: 100_000,
		TierPcts: map[allocator.Tier]float64{
			allocator.TierTreasury:    0.40,
			allocator.TierDirectional: 0.15,
		},
		MaxPortfolioDelta: 50,
		MaxPortfolioVega:  500,
		BaseRiskPct:       0.01,
		MaxRiskPct:        0.03,
		MaxDailyRiskPct:   0.05,
	}, nil)
	if err != nil {
		t.Fatalf("allocator: %v", err)
	}
	return a
}

func TestPortfolioRendersOpenPositions(t *testing.T) {
	alloc := testAllocator(t)
	positions := []models.Position{
		{
			ID:          "IC-SPY-20260828",
			Symbol:      "SPY",
			Structure:   models.StructureIronCondor,
			Status:      models.StatusOpen,
			Expiration:  time.Now().UTC().AddDate(0, 1, 0),
			EntryCredit: 3.15,
			Quantity:    1,
			MaxRisk:     680,
		},
		{
			ID:        "LC-QQQ-20260710",
			Symbol:    "QQQ",
			Structure: models.StructureLongCall,
			Status:    models.StatusClosed,
			EntryCost: 4.20,
			Quantity:  2,
		},
	}
	snap := alloc.Snapshot(positions, 0)

	var buf bytes.Buffer
	Portfolio(&buf, alloc, snap, positions)
	out := buf.String()

	if !strings.Contains(out, "IC-SPY-20260828") {
		t.Errorf("missing open position row:\n%s", out)
	}
	if strings.Contains(out, "LC-QQQ-20260710") {
		t.Errorf("closed position should not appear:\n%s", out)
	}
	if !strings.Contains(out, "directional") {
		t.Errorf("missing tier row:\n%s", out)
	}
}

func TestReconciliationCleanAndDrift(t *testing.T) {
	var buf bytes.Buffer
	Reconciliation(&buf, &reconcile.Report{Diff: &reconcile.Diff{}, RunAt: time.Now()})
	if !strings.Contains(buf.String(), "agree") {
		t.Errorf("clean diff should say so:\n%s", buf.String())
	}

	buf.Reset()
	Reconciliation(&buf, &reconcile.Report{
		RunAt: time.Now(),
		Diff: &reconcile.Diff{
			Mismatched: []reconcile.Mismatch{{
				Position:      models.Position{ID: "BPS-SPY-20260801"},
				LocalStrikes:  []float64{100, 110},
				BrokerStrikes: []float64{100, 115},
			}},
		},
		ChangeLog: []string{"mismatch BPS-SPY-20260801"},
	})
	out := buf.String()
	if !strings.Contains(out, "BPS-SPY-20260801") || !strings.Contains(out, "115") {
		t.Errorf("mismatch table missing detail:\n%s", out)
	}
}

func TestAccountAndStatistics(t *testing.T) {
	var buf bytes.Buffer
	Account(&buf, &broker.AccountSummary{NetLiquidation: 120_000, AvailableFunds: 50_000})
	if !strings.Contains(buf.String(), "50000.00") {
		t.Errorf("account table missing available funds:\n%s", buf.String())
	}

	buf.Reset()
	Statistics(&buf, &storage.Statistics{
		TotalTrades:   4,
		WinningTrades: 3,
		LosingTrades:  1,
		WinRate:       0.75,
		TotalPnL:      412.50,
		ByStructure:   map[models.Structure]int{models.StructureIronCondor: 2},
	})
	out := buf.String()
	if !strings.Contains(out, "75.0%") || !strings.Contains(out, "IRON_CONDOR") {
		t.Errorf("statistics output missing fields:\n%s", out)
	}
}
