package reconcile

import (
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test: ", log.LstdFlags)
}

func brokerLeg(symbol, expiry string, strike float64, right string, qty float64) broker.OptionPosition {
	return broker.OptionPosition{
		Symbol:   symbol,
		SecType:  "OPT",
		Strike:   strike,
		Right:    right,
		Expiry:   expiry,
		Quantity: qty,
	}
}

func ledgerSpread(id, symbol string, expiry time.Time, strikes ...float64) models.Position {
	legs := make([]models.Leg, len(strikes))
	for i, strike := range strikes {
		action := models.ActionSell
		if i%2 == 0 {
			action = models.ActionBuy
		}
		legs[i] = models.Leg{Type: models.RightPut, Strike: strike, Action: action, Ratio: 1}
	}
	return models.Position{
		ID:          id,
		Symbol:      symbol,
		Structure:   models.StructureBullPutSpread,
		Status:      models.StatusOpen,
		EntryDate:   expiry.AddDate(0, -2, 0),
		Expiration:  expiry,
		EntryCredit: 1.50,
		Quantity:    1,
		Legs:        legs,
	}
}

func TestGroupPositions(t *testing.T) {
	positions := []broker.OptionPosition{
		brokerLeg("SPY", "20261016", 600, "P", 1),
		brokerLeg("SPY", "20261016", 610, "P", -1),
		brokerLeg("SPY", "20261120", 620, "P", -1),
		brokerLeg("QQQ", "20261016", 400, "C", -1),
		{Symbol: "SPY", SecType: "STK", Quantity: 100}, // ignored
		brokerLeg("IWM", "20261016", 200, "P", 0),      // flat, ignored
	}

	groups := GroupPositions(positions)
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
	spy := groups[GroupKey{Symbol: "SPY", Expiry: "20261016"}]
	if spy == nil || len(spy.Legs) != 2 {
		t.Fatalf("SPY 20261016 group missing or wrong size: %+v", spy)
	}
	if GroupCount(positions) != 3 {
		t.Errorf("GroupCount = %d, want 3", GroupCount(positions))
	}
}

func TestDiffPartitions(t *testing.T) {
	expiry := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	store := storage.NewMockStore()
	// Matched.
	if err := store.AddPosition(ledgerSpread("BPS-SPY-20260801", "SPY", expiry, 600, 610)); err != nil {
		t.Fatal(err)
	}
	// Local-only.
	if err := store.AddPosition(ledgerSpread("BPS-IWM-20260801", "IWM", expiry, 200, 210)); err != nil {
		t.Fatal(err)
	}

	gw := &broker.MockGateway{Positions: []broker.OptionPosition{
		brokerLeg("SPY", "20261016", 600, "P", 1),
		brokerLeg("SPY", "20261016", 610, "P", -1),
		// Broker-only.
		brokerLeg("QQQ", "20261016", 400, "C", -1),
	}}

	diff, err := New(gw, store, testLogger()).Diff(context.Background())
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(diff.Matched) != 1 || diff.Matched[0].Position.ID != "BPS-SPY-20260801" {
		t.Errorf("matched = %+v, want the SPY spread", diff.Matched)
	}
	if len(diff.LocalOnly) != 1 || diff.LocalOnly[0].ID != "BPS-IWM-20260801" {
		t.Errorf("local-only = %+v, want the IWM spread", diff.LocalOnly)
	}
	if len(diff.BrokerOnly) != 1 || diff.BrokerOnly[0].Key.Symbol != "QQQ" {
		t.Errorf("broker-only = %+v, want the QQQ group", diff.BrokerOnly)
	}
	if len(diff.Mismatched) != 0 {
		t.Errorf("mismatched = %+v, want none", diff.Mismatched)
	}
	if diff.Clean() {
		t.Error("diff with drift must not report clean")
	}
}

func TestDiffStrikeMismatch(t *testing.T) {
	expiry := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	store := storage.NewMockStore()
	if err := store.AddPosition(ledgerSpread("BPS-SPY-20260801", "SPY", expiry, 100, 110)); err != nil {
		t.Fatal(err)
	}

	gw := &broker.MockGateway{Positions: []broker.OptionPosition{
		brokerLeg("SPY", "20261016", 100, "P", 1),
		brokerLeg("SPY", "20261016", 115, "P", -1),
	}}

	diff, err := New(gw, store, testLogger()).Diff(context.Background())
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(diff.Mismatched) != 1 {
		t.Fatalf("mismatched = %d, want exactly 1", len(diff.Mismatched))
	}
	mm := diff.Mismatched[0]
	if got, want := mm.LocalStrikes, []float64{100, 110}; !equalFloats(got, want) {
		t.Errorf("local strikes = %v, want %v", got, want)
	}
	if got, want := mm.BrokerStrikes, []float64{100, 115}; !equalFloats(got, want) {
		t.Errorf("broker strikes = %v, want %v", got, want)
	}
	if len(diff.Matched) != 0 || len(diff.LocalOnly) != 0 || len(diff.BrokerOnly) != 0 {
		t.Errorf("mismatch must not leak into other buckets: %+v", diff)
	}
}

func TestReconcileUpdatesLedger(t *testing.T) {
	expiry := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	store := storage.NewMockStore()
	if err := store.AddPosition(ledgerSpread("BPS-SPY-20260801", "SPY", expiry, 600, 610)); err != nil {
		t.Fatal(err)
	}
	if err := store.AddPosition(ledgerSpread("BPS-IWM-20260801", "IWM", expiry, 200, 210)); err != nil {
		t.Fatal(err)
	}

	gw := &broker.MockGateway{Positions: []broker.OptionPosition{
		{Symbol: "SPY", SecType: "OPT", Strike: 600, Right: "P", Expiry: "20261016", Quantity: 1, MarketValue: 120, UnrealizedPnL: -15},
		{Symbol: "SPY", SecType: "OPT", Strike: 610, Right: "P", Expiry: "20261016", Quantity: -1, MarketValue: -180, UnrealizedPnL: 40},
	}}

	engine := New(gw, store, testLogger())
	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return fixed }

	report, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	spy, _ := store.GetPositionByID("BPS-SPY-20260801")
	if spy.BrokerMarketValue != -60 {
		t.Errorf("market value = %.2f, want -60", spy.BrokerMarketValue)
	}
	if spy.BrokerUnrealizedPnL != 25 {
		t.Errorf("unrealized = %.2f, want 25", spy.BrokerUnrealizedPnL)
	}
	if !spy.LastBrokerSync.Equal(fixed) {
		t.Errorf("last sync = %v, want %v", spy.LastBrokerSync, fixed)
	}
	if spy.SyncWarning != "" {
		t.Errorf("matched position carries warning %q", spy.SyncWarning)
	}
	if spy.Status != models.StatusOpen {
		t.Errorf("reconcile must not close positions, status = %s", spy.Status)
	}

	iwm, _ := store.GetPositionByID("BPS-IWM-20260801")
	if iwm.SyncWarning != WarningNotFound {
		t.Errorf("local-only warning = %q, want %q", iwm.SyncWarning, WarningNotFound)
	}
	if iwm.Status != models.StatusOpen {
		t.Errorf("local-only must stay OPEN, status = %s", iwm.Status)
	}

	if len(report.ChangeLog) != 2 {
		t.Errorf("changelog = %v, want 2 entries", report.ChangeLog)
	}
	if store.SaveCalls != 1 {
		t.Errorf("Save calls = %d, want 1", store.SaveCalls)
	}
}

func TestImportBrokerOnlyGroups(t *testing.T) {
	store := storage.NewMockStore()
	gw := &broker.MockGateway{Positions: []broker.OptionPosition{
		{Symbol: "SPY", SecType: "OPT", Strike: 600, Right: "P", Expiry: "20261016", Quantity: 1, AvgCost: 250},
		{Symbol: "SPY", SecType: "OPT", Strike: 610, Right: "P", Expiry: "20261016", Quantity: -1, AvgCost: -420},
		{Symbol: "SPY", SecType: "OPT", Strike: 650, Right: "C", Expiry: "20261016", Quantity: -1, AvgCost: -380},
		{Symbol: "SPY", SecType: "OPT", Strike: 660, Right: "C", Expiry: "20261016", Quantity: 1, AvgCost: 210},
	}}
	engine := New(gw, store, testLogger())

	diff, err := engine.Diff(context.Background())
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	imported, err := engine.Import(diff.BrokerOnly)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(imported) != 1 {
		t.Fatalf("imported = %d, want 1", len(imported))
	}

	pos := imported[0]
	if pos.ID != "IB-SPY-20261016" {
		t.Errorf("id = %s, want IB-SPY-20261016", pos.ID)
	}
	if pos.Structure != models.StructureIronCondor {
		t.Errorf("structure = %s, want IRON_CONDOR", pos.Structure)
	}
	if pos.ExecutionMethod != models.ExecutionImport {
		t.Errorf("execution method = %s, want IB_IMPORT", pos.ExecutionMethod)
	}
	if pos.EntryCredit != 0 || pos.EntryCost != 0 {
		t.Errorf("entry pricing must stay zero on import, got credit=%.2f cost=%.2f", pos.EntryCredit, pos.EntryCost)
	}
	if len(pos.Legs) != 4 {
		t.Fatalf("legs = %d, want 4", len(pos.Legs))
	}
	if pos.Legs[0].EntryPrice != 2.50 {
		t.Errorf("leg entry price = %.2f, want 2.50 (abs avg cost / 100)", pos.Legs[0].EntryPrice)
	}
	if pos.Legs[1].Action != models.ActionSell {
		t.Errorf("short put action = %s, want SELL", pos.Legs[1].Action)
	}

	if stored, ok := store.GetPositionByID(pos.ID); !ok || stored.Status != models.StatusOpen {
		t.Errorf("imported position not persisted as OPEN")
	}
}

func TestImportIDCollisionGetsSuffix(t *testing.T) {
	store := storage.NewMockStore()
	existing := ledgerSpread("IB-SPY-20261016", "SPY", time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), 500, 510)
	if err := store.AddPosition(existing); err != nil {
		t.Fatal(err)
	}

	engine := New(&broker.MockGateway{}, store, testLogger())
	group := &BrokerGroup{
		Key:  GroupKey{Symbol: "SPY", Expiry: "20261016"},
		Legs: []broker.OptionPosition{brokerLeg("SPY", "20261016", 600, "C", 1)},
	}
	imported, err := engine.Import([]*BrokerGroup{group})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	id := imported[0].ID
	if !strings.HasPrefix(id, "IB-SPY-20261016-") || id == "IB-SPY-20261016" {
		t.Errorf("id = %s, want suffixed on collision", id)
	}
}

func TestInferStructure(t *testing.T) {
	buy := func(right models.OptionRight, strike float64) models.Leg {
		return models.Leg{Type: right, Strike: strike, Action: models.ActionBuy, Ratio: 1}
	}
	sell := func(right models.OptionRight, strike float64) models.Leg {
		return models.Leg{Type: right, Strike: strike, Action: models.ActionSell, Ratio: 1}
	}

	tests := []struct {
		name string
		legs []models.Leg
		want models.Structure
	}{
		{"iron condor", []models.Leg{buy(models.RightPut, 600), sell(models.RightPut, 610), sell(models.RightCall, 650), buy(models.RightCall, 660)}, models.StructureIronCondor},
		{"bull put spread", []models.Leg{buy(models.RightPut, 600), sell(models.RightPut, 610)}, models.StructureBullPutSpread},
		{"put debit spread", []models.Leg{sell(models.RightPut, 600), buy(models.RightPut, 610)}, models.StructurePutDebitSpread},
		{"call debit spread", []models.Leg{buy(models.RightCall, 640), sell(models.RightCall, 650)}, models.StructureCallDebitSpread},
		{"bear call spread", []models.Leg{sell(models.RightCall, 640), buy(models.RightCall, 650)}, models.StructureBearCallSpread},
		{"long call", []models.Leg{buy(models.RightCall, 650)}, models.StructureLongCall},
		{"long put", []models.Leg{buy(models.RightPut, 600)}, models.StructureLongPut},
		{"naked short", []models.Leg{sell(models.RightPut, 600)}, models.StructureCustom},
		{"same-action pair", []models.Leg{buy(models.RightCall, 640), buy(models.RightCall, 650)}, models.StructureCustom},
		{"three legs", []models.Leg{buy(models.RightCall, 640), sell(models.RightCall, 650), sell(models.RightCall, 660)}, models.StructureCustom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferStructure(tt.legs); got != tt.want {
				t.Errorf("InferStructure = %s, want %s", got, tt.want)
			}
		})
	}
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
