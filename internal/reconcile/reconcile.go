// Package reconcile keeps the local position ledger consistent with the
// broker's account state. It never closes positions on its own: drift is
// surfaced to the operator, and only the import path creates records.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

// WarningNotFound is attached to ledger positions the broker no longer
// reports. The field name is part of the on-disk contract.
const WarningNotFound = "Not found in IB account"

// GroupKey identifies one synthetic position group in the broker account.
// Expiry uses the broker-native YYYYMMDD form.
type GroupKey struct {
	Symbol string
	Expiry string
}

func (k GroupKey) String() string {
	return k.Symbol + " " + k.Expiry
}

// BrokerGroup aggregates the broker's individual option legs under one
// (symbol, expiry) key.
type BrokerGroup struct {
	Key           GroupKey
	Legs          []broker.OptionPosition
	MarketValue   float64
	UnrealizedPnL float64
}

// StrikeSet returns the distinct strikes across the group's legs.
func (g *BrokerGroup) StrikeSet() map[float64]bool {
	set := make(map[float64]bool, len(g.Legs))
	for _, leg := range g.Legs {
		set[leg.Strike] = true
	}
	return set
}

// GroupPositions buckets broker option legs by (symbol, expiry). Non-option
// lines and zero-quantity leftovers are skipped.
func GroupPositions(positions []broker.OptionPosition) map[GroupKey]*BrokerGroup {
	groups := make(map[GroupKey]*BrokerGroup)
	for _, pos := range positions {
		if pos.SecType != "" && pos.SecType != "OPT" {
			continue
		}
		if pos.Quantity == 0 {
			continue
		}
		key := GroupKey{Symbol: pos.Symbol, Expiry: pos.Expiry}
		group, ok := groups[key]
		if !ok {
			group = &BrokerGroup{Key: key}
			groups[key] = group
		}
		group.Legs = append(group.Legs, pos)
		group.MarketValue += pos.MarketValue
		group.UnrealizedPnL += pos.UnrealizedPnL
	}
	return groups
}

// GroupCount returns the number of synthetic position groups in the broker
// account. The execution pipeline uses this as its open-position count
// instead of estimating from raw leg counts.
func GroupCount(positions []broker.OptionPosition) int {
	return len(GroupPositions(positions))
}

// Mismatch is a matched (symbol, expiry) key whose strike sets differ. Both
// sets are carried for operator review; nothing is auto-resolved.
type Mismatch struct {
	Position      models.Position
	Group         *BrokerGroup
	LocalStrikes  []float64
	BrokerStrikes []float64
}

// MatchedPair is a ledger position confirmed by a broker group with the
// identical strike set.
type MatchedPair struct {
	Position models.Position
	Group    *BrokerGroup
}

// Diff is the four-way partition of ledger versus broker state.
type Diff struct {
	Matched    []MatchedPair
	Mismatched []Mismatch
	LocalOnly  []models.Position
	BrokerOnly []*BrokerGroup
}

// Clean reports whether ledger and broker agree exactly.
func (d *Diff) Clean() bool {
	return len(d.Mismatched) == 0 && len(d.LocalOnly) == 0 && len(d.BrokerOnly) == 0
}

// Report is the outcome of one reconcile pass.
type Report struct {
	Diff      *Diff
	ChangeLog []string
	RunAt     time.Time
}

// Engine drives diff, reconcile, and import against the ledger.
type Engine struct {
	gateway broker.Gateway
	store   storage.Interface
	logger  *log.Logger
	now     func() time.Time
}

// New creates a reconciliation engine.
func New(gateway broker.Gateway, store storage.Interface, logger *log.Logger) *Engine {
	if gateway == nil {
		panic("reconcile.New: gateway must not be nil")
	}
	if store == nil {
		panic("reconcile.New: store must not be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "reconcile: ", log.LstdFlags)
	}
	return &Engine{
		gateway: gateway,
		store:   store,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Diff pulls the broker's option positions and partitions them against the
// locally-OPEN ledger. Matching compares strike sets only, never quantities
// or prices.
func (e *Engine) Diff(ctx context.Context) (*Diff, error) {
	brokerPositions, err := e.gateway.OptionPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch broker positions: %w", err)
	}

	groups := GroupPositions(brokerPositions)
	diff := &Diff{}
	claimed := make(map[GroupKey]bool, len(groups))

	for _, pos := range e.store.GetOpenPositions() {
		key := GroupKey{Symbol: pos.Symbol, Expiry: pos.Expiration.Format("20060102")}
		group, ok := groups[key]
		if !ok {
			diff.LocalOnly = append(diff.LocalOnly, pos)
			continue
		}
		claimed[key] = true
		if strikeSetsEqual(pos.StrikeSet(), group.StrikeSet()) {
			diff.Matched = append(diff.Matched, MatchedPair{Position: pos, Group: group})
		} else {
			diff.Mismatched = append(diff.Mismatched, Mismatch{
				Position:      pos,
				Group:         group,
				LocalStrikes:  sortedStrikes(pos.StrikeSet()),
				BrokerStrikes: sortedStrikes(group.StrikeSet()),
			})
		}
	}

	for key, group := range groups {
		if !claimed[key] {
			diff.BrokerOnly = append(diff.BrokerOnly, group)
		}
	}
	sort.Slice(diff.BrokerOnly, func(i, j int) bool {
		return diff.BrokerOnly[i].Key.String() < diff.BrokerOnly[j].Key.String()
	})
	return diff, nil
}

// Reconcile refreshes matched positions with broker-observed values and
// flags local-only positions. Mismatched and broker-only entries are logged
// but never auto-resolved.
func (e *Engine) Reconcile(ctx context.Context) (*Report, error) {
	diff, err := e.Diff(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()
	report := &Report{Diff: diff, RunAt: now}

	for _, pair := range diff.Matched {
		pos := pair.Position.Copy()
		pos.BrokerMarketValue = pair.Group.MarketValue
		pos.BrokerUnrealizedPnL = pair.Group.UnrealizedPnL
		pos.LastBrokerSync = now
		pos.SyncWarning = ""
		if err := e.store.UpdatePosition(pos); err != nil {
			return nil, fmt.Errorf("update %s: %w", pos.ID, err)
		}
		report.ChangeLog = append(report.ChangeLog,
			fmt.Sprintf("synced %s: market_value=%.2f unrealized=%.2f", pos.ID, pos.BrokerMarketValue, pos.BrokerUnrealizedPnL))
	}

	for _, local := range diff.LocalOnly {
		pos := local.Copy()
		pos.SyncWarning = WarningNotFound
		pos.LastBrokerSync = now
		if err := e.store.UpdatePosition(pos); err != nil {
			return nil, fmt.Errorf("flag %s: %w", pos.ID, err)
		}
		report.ChangeLog = append(report.ChangeLog,
			fmt.Sprintf("flagged %s: %s", pos.ID, WarningNotFound))
	}

	for _, mm := range diff.Mismatched {
		e.logger.Printf("strike mismatch %s: local=%v broker=%v", mm.Position.ID, mm.LocalStrikes, mm.BrokerStrikes)
		report.ChangeLog = append(report.ChangeLog,
			fmt.Sprintf("mismatch %s: local=%v broker=%v", mm.Position.ID, mm.LocalStrikes, mm.BrokerStrikes))
	}
	for _, group := range diff.BrokerOnly {
		e.logger.Printf("broker-only group %s with %d legs", group.Key, len(group.Legs))
	}

	if err := e.store.Save(); err != nil {
		return nil, fmt.Errorf("persist reconciled ledger: %w", err)
	}
	return report, nil
}

// Import synthesizes ledger positions from broker-only groups, typically
// after the operator confirms the account state is legitimate. Entry credit
// and cost stay zero: the broker snapshot does not carry them. Per-leg entry
// prices are recovered from the broker's average cost.
func (e *Engine) Import(groups []*BrokerGroup) ([]models.Position, error) {
	var imported []models.Position
	for _, group := range groups {
		pos, err := e.buildImported(group)
		if err != nil {
			return imported, fmt.Errorf("import %s: %w", group.Key, err)
		}
		if err := e.store.AddPosition(pos); err != nil {
			return imported, fmt.Errorf("import %s: %w", group.Key, err)
		}
		imported = append(imported, pos)
		e.logger.Printf("imported %s as %s (%s)", group.Key, pos.ID, pos.Structure)
	}
	if len(imported) > 0 {
		if err := e.store.Save(); err != nil {
			return imported, fmt.Errorf("persist imported positions: %w", err)
		}
	}
	return imported, nil
}

func (e *Engine) buildImported(group *BrokerGroup) (models.Position, error) {
	expiry, err := time.Parse("20060102", group.Key.Expiry)
	if err != nil {
		return models.Position{}, fmt.Errorf("bad expiry %q: %w", group.Key.Expiry, err)
	}

	legs := make([]models.Leg, 0, len(group.Legs))
	for _, bl := range group.Legs {
		action := models.ActionBuy
		if bl.Quantity < 0 {
			action = models.ActionSell
		}
		right := models.RightCall
		if bl.Right == "P" || bl.Right == "PUT" {
			right = models.RightPut
		}
		legs = append(legs, models.Leg{
			Type:       right,
			Strike:     bl.Strike,
			Action:     action,
			Ratio:      int(math.Abs(bl.Quantity)),
			EntryPrice: math.Abs(bl.AvgCost) / models.ContractMultiplier,
		})
	}
	sort.Slice(legs, func(i, j int) bool {
		if legs[i].Strike != legs[j].Strike {
			return legs[i].Strike < legs[j].Strike
		}
		return legs[i].Type == models.RightPut && legs[j].Type == models.RightCall
	})

	pos := models.Position{
		ID:              e.importID(group.Key),
		Symbol:          group.Key.Symbol,
		Structure:       InferStructure(legs),
		Status:          models.StatusOpen,
		EntryDate:       e.now(),
		Expiration:      expiry,
		Legs:            legs,
		Quantity:        1,
		ExecutionMethod: models.ExecutionImport,

		BrokerMarketValue:   group.MarketValue,
		BrokerUnrealizedPnL: group.UnrealizedPnL,
		LastBrokerSync:      e.now(),
	}
	return pos, nil
}

// importID builds "IB-{symbol}-{expiry}", falling back to a uuid suffix when
// the ledger already holds that ID.
func (e *Engine) importID(key GroupKey) string {
	id := fmt.Sprintf("IB-%s-%s", key.Symbol, key.Expiry)
	if _, exists := e.store.GetPositionByID(id); !exists {
		return id
	}
	return id + "-" + uuid.NewString()[:8]
}

// InferStructure guesses a structure tag from leg shape. Anything it cannot
// classify becomes CUSTOM rather than a wrong guess.
func InferStructure(legs []models.Leg) models.Structure {
	var puts, calls []models.Leg
	for _, leg := range legs {
		if leg.Type == models.RightPut {
			puts = append(puts, leg)
		} else {
			calls = append(calls, leg)
		}
	}

	switch {
	case len(legs) == 4 && len(puts) == 2 && len(calls) == 2:
		return models.StructureIronCondor
	case len(legs) == 2 && len(puts) == 2:
		return inferVertical(puts, models.StructurePutDebitSpread, models.StructureBullPutSpread)
	case len(legs) == 2 && len(calls) == 2:
		return inferVertical(calls, models.StructureCallDebitSpread, models.StructureBearCallSpread)
	case len(legs) == 1 && legs[0].Action == models.ActionBuy:
		if legs[0].Type == models.RightCall {
			return models.StructureLongCall
		}
		return models.StructureLongPut
	default:
		return models.StructureCustom
	}
}

// inferVertical classifies a two-leg same-right spread by which strike the
// long leg sits on.
func inferVertical(legs []models.Leg, debit, credit models.Structure) models.Structure {
	a, b := legs[0], legs[1]
	if a.Action == b.Action {
		return models.StructureCustom
	}
	long := a
	short := b
	if a.Action == models.ActionSell {
		long, short = b, a
	}
	// Debit verticals buy the strike closer to the money: lower for calls,
	// higher for puts.
	if long.Type == models.RightCall {
		if long.Strike < short.Strike {
			return debit
		}
		return credit
	}
	if long.Strike > short.Strike {
		return debit
	}
	return credit
}

func strikeSetsEqual(a, b map[float64]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for strike := range a {
		if !b[strike] {
			return false
		}
	}
	return true
}

func sortedStrikes(set map[float64]bool) []float64 {
	strikes := make([]float64, 0, len(set))
	for s := range set {
		strikes = append(strikes, s)
	}
	sort.Float64s(strikes)
	return strikes
}
