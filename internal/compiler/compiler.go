// Package compiler maps trade candidates to broker-ready combo orders.
// Everything here is a pure function of the candidate: no I/O, no state.
package compiler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// ErrUnknownStructure is returned when a candidate carries a structure tag
// outside the supported set. Callers must not attempt execution.
var ErrUnknownStructure = errors.New("unknown structure")

// CompiledOrder is the normalized output: legs, the combo action, and the
// net limit price. Legs are ordered by strike ascending, puts before calls
// at equal strikes.
type CompiledOrder struct {
	Legs       []models.Leg
	Action     models.LegAction
	LimitPrice float64
}

// Compile turns a candidate into a combo order. The switch over structure
// tags is exhaustive; adding a structure without a case here surfaces as
// ErrUnknownStructure at the first compile attempt in tests.
func Compile(candidate *models.TradeCandidate) (*CompiledOrder, error) {
	if candidate == nil {
		return nil, fmt.Errorf("nil candidate")
	}
	if err := candidate.Validate(); err != nil {
		if !candidate.Structure.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStructure, candidate.Structure)
		}
		return nil, err
	}

	var (
		legs   []models.Leg
		action models.LegAction
		err    error
	)

	switch candidate.Structure {
	case models.StructureIronCondor:
		legs, action, err = compileIronCondor(candidate)
	case models.StructureCallDebitSpread:
		legs, action, err = compileDebitSpread(candidate, models.RightCall)
	case models.StructurePutDebitSpread:
		legs, action, err = compileDebitSpread(candidate, models.RightPut)
	case models.StructureBullPutSpread:
		legs, action, err = compileCreditSpread(candidate, models.RightPut)
	case models.StructureBearCallSpread:
		legs, action, err = compileCreditSpread(candidate, models.RightCall)
	case models.StructureLongCall:
		legs, action, err = compileLongSingle(candidate, models.RightCall)
	case models.StructureLongPut:
		legs, action, err = compileLongSingle(candidate, models.RightPut)
	case models.StructureCallRatioSpread:
		legs, action, err = compileCallRatioSpread(candidate)
	case models.StructureBrokenWingFly:
		legs, action, err = compileBrokenWingFly(candidate)
	case models.StructureShortIronCondor:
		legs, action, err = compileShortIronCondor(candidate)
	case models.StructureIronButterfly:
		legs, action, err = compileIronButterfly(candidate)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStructure, candidate.Structure)
	}
	if err != nil {
		return nil, err
	}

	sortLegs(legs)
	return &CompiledOrder{
		Legs:       legs,
		Action:     action,
		LimitPrice: candidate.Fill.Limit(),
	}, nil
}

// compileIronCondor takes the four legs directly from the candidate.
func compileIronCondor(c *models.TradeCandidate) ([]models.Leg, models.LegAction, error) {
	if len(c.Legs) != 4 {
		return nil, "", fmt.Errorf("iron condor %s: %d legs supplied, want 4", c.Symbol, len(c.Legs))
	}
	legs := make([]models.Leg, len(c.Legs))
	copy(legs, c.Legs)
	for i := range legs {
		if legs[i].Ratio == 0 {
			legs[i].Ratio = 1
		}
		if err := legs[i].Validate(); err != nil {
			return nil, "", fmt.Errorf("iron condor %s leg %d: %w", c.Symbol, i, err)
		}
	}
	if err := checkCondorOrdering(c.Symbol, legs); err != nil {
		return nil, "", err
	}
	return legs, models.ActionSell, nil
}

// compileDebitSpread builds BUY long strike + SELL short strike.
func compileDebitSpread(c *models.TradeCandidate, right models.OptionRight) ([]models.Leg, models.LegAction, error) {
	long, err := c.StrikeFor(models.RoleLongStrike)
	if err != nil {
		return nil, "", err
	}
	short, err := c.StrikeFor(models.RoleShortStrike)
	if err != nil {
		return nil, "", err
	}
	// Call debit buys the lower strike; put debit buys the higher.
	if right == models.RightCall && long >= short {
		return nil, "", fmt.Errorf("call debit spread %s: long %.2f must be below short %.2f", c.Symbol, long, short)
	}
	if right == models.RightPut && long <= short {
		return nil, "", fmt.Errorf("put debit spread %s: long %.2f must be above short %.2f", c.Symbol, long, short)
	}
	legs := []models.Leg{
		{Type: right, Strike: long, Action: models.ActionBuy, Ratio: 1},
		{Type: right, Strike: short, Action: models.ActionSell, Ratio: 1},
	}
	return legs, models.ActionBuy, nil
}

// compileCreditSpread builds SELL short strike + BUY far strike.
func compileCreditSpread(c *models.TradeCandidate, right models.OptionRight) ([]models.Leg, models.LegAction, error) {
	long, err := c.StrikeFor(models.RoleLongStrike)
	if err != nil {
		return nil, "", err
	}
	short, err := c.StrikeFor(models.RoleShortStrike)
	if err != nil {
		return nil, "", err
	}
	// Bull put sells the higher strike; bear call sells the lower.
	if right == models.RightPut && long >= short {
		return nil, "", fmt.Errorf("bull put spread %s: long %.2f must be below short %.2f", c.Symbol, long, short)
	}
	if right == models.RightCall && long <= short {
		return nil, "", fmt.Errorf("bear call spread %s: long %.2f must be above short %.2f", c.Symbol, long, short)
	}
	legs := []models.Leg{
		{Type: right, Strike: short, Action: models.ActionSell, Ratio: 1},
		{Type: right, Strike: long, Action: models.ActionBuy, Ratio: 1},
	}
	return legs, models.ActionSell, nil
}

// compileLongSingle builds the single BUY leg.
func compileLongSingle(c *models.TradeCandidate, right models.OptionRight) ([]models.Leg, models.LegAction, error) {
	strike, err := c.StrikeFor(models.RoleStrike)
	if err != nil {
		return nil, "", err
	}
	legs := []models.Leg{
		{Type: right, Strike: strike, Action: models.ActionBuy, Ratio: 1},
	}
	return legs, models.ActionBuy, nil
}

// compileCallRatioSpread builds BUY 1x near + SELL 2x far (1x2).
func compileCallRatioSpread(c *models.TradeCandidate) ([]models.Leg, models.LegAction, error) {
	long, err := c.StrikeFor(models.RoleLongStrike)
	if err != nil {
		return nil, "", err
	}
	short, err := c.StrikeFor(models.RoleShortStrike)
	if err != nil {
		return nil, "", err
	}
	if long >= short {
		return nil, "", fmt.Errorf("call ratio spread %s: long %.2f must be below short %.2f", c.Symbol, long, short)
	}
	legs := []models.Leg{
		{Type: models.RightCall, Strike: long, Action: models.ActionBuy, Ratio: 1},
		{Type: models.RightCall, Strike: short, Action: models.ActionSell, Ratio: 2},
	}
	return legs, creditDebitAction(c), nil
}

// compileBrokenWingFly builds BUY 1 lower + SELL 2 middle + BUY 1 upper,
// all calls.
func compileBrokenWingFly(c *models.TradeCandidate) ([]models.Leg, models.LegAction, error) {
	lower, err := c.StrikeFor(models.RoleLowerStrike)
	if err != nil {
		return nil, "", err
	}
	middle, err := c.StrikeFor(models.RoleMidStrike)
	if err != nil {
		return nil, "", err
	}
	upper, err := c.StrikeFor(models.RoleUpperStrike)
	if err != nil {
		return nil, "", err
	}
	if !(lower < middle && middle < upper) {
		return nil, "", fmt.Errorf("broken wing butterfly %s: strikes %.2f/%.2f/%.2f not ascending", c.Symbol, lower, middle, upper)
	}
	legs := []models.Leg{
		{Type: models.RightCall, Strike: lower, Action: models.ActionBuy, Ratio: 1},
		{Type: models.RightCall, Strike: middle, Action: models.ActionSell, Ratio: 2},
		{Type: models.RightCall, Strike: upper, Action: models.ActionBuy, Ratio: 1},
	}
	return legs, creditDebitAction(c), nil
}

// compileShortIronCondor builds the four role-keyed legs: sell the inner
// strikes, buy the wings.
func compileShortIronCondor(c *models.TradeCandidate) ([]models.Leg, models.LegAction, error) {
	longPut, err := c.StrikeFor(models.RoleLongPut)
	if err != nil {
		return nil, "", err
	}
	shortPut, err := c.StrikeFor(models.RoleShortPut)
	if err != nil {
		return nil, "", err
	}
	shortCall, err := c.StrikeFor(models.RoleShortCall)
	if err != nil {
		return nil, "", err
	}
	longCall, err := c.StrikeFor(models.RoleLongCall)
	if err != nil {
		return nil, "", err
	}
	legs := []models.Leg{
		{Type: models.RightPut, Strike: longPut, Action: models.ActionBuy, Ratio: 1},
		{Type: models.RightPut, Strike: shortPut, Action: models.ActionSell, Ratio: 1},
		{Type: models.RightCall, Strike: shortCall, Action: models.ActionSell, Ratio: 1},
		{Type: models.RightCall, Strike: longCall, Action: models.ActionBuy, Ratio: 1},
	}
	if err := checkCondorOrdering(c.Symbol, legs); err != nil {
		return nil, "", err
	}
	return legs, creditDebitAction(c), nil
}

// compileIronButterfly builds SELL the ATM straddle + BUY both wings.
func compileIronButterfly(c *models.TradeCandidate) ([]models.Leg, models.LegAction, error) {
	atm, err := c.StrikeFor(models.RoleAtmStrike)
	if err != nil {
		return nil, "", err
	}
	wingCall, err := c.StrikeFor(models.RoleWingCall)
	if err != nil {
		return nil, "", err
	}
	wingPut, err := c.StrikeFor(models.RoleWingPut)
	if err != nil {
		return nil, "", err
	}
	if !(wingPut < atm && atm < wingCall) {
		return nil, "", fmt.Errorf("iron butterfly %s: wings %.2f/%.2f must straddle body %.2f", c.Symbol, wingPut, wingCall, atm)
	}
	legs := []models.Leg{
		{Type: models.RightPut, Strike: wingPut, Action: models.ActionBuy, Ratio: 1},
		{Type: models.RightPut, Strike: atm, Action: models.ActionSell, Ratio: 1},
		{Type: models.RightCall, Strike: atm, Action: models.ActionSell, Ratio: 1},
		{Type: models.RightCall, Strike: wingCall, Action: models.ActionBuy, Ratio: 1},
	}
	return legs, creditDebitAction(c), nil
}

// creditDebitAction reads the sign from the fill estimate's is_credit flag,
// never re-derived from prices.
func creditDebitAction(c *models.TradeCandidate) models.LegAction {
	if c.Fill.IsCredit {
		return models.ActionSell
	}
	return models.ActionBuy
}

// checkCondorOrdering enforces long-put < short-put < short-call < long-call.
func checkCondorOrdering(symbol string, legs []models.Leg) error {
	var longPut, shortPut, shortCall, longCall float64
	for _, leg := range legs {
		switch {
		case leg.Type == models.RightPut && leg.Action == models.ActionBuy:
			longPut = leg.Strike
		case leg.Type == models.RightPut && leg.Action == models.ActionSell:
			shortPut = leg.Strike
		case leg.Type == models.RightCall && leg.Action == models.ActionSell:
			shortCall = leg.Strike
		case leg.Type == models.RightCall && leg.Action == models.ActionBuy:
			longCall = leg.Strike
		}
	}
	if longPut == 0 || shortPut == 0 || shortCall == 0 || longCall == 0 {
		return fmt.Errorf("condor %s: missing one of the four leg roles", symbol)
	}
	if !(longPut < shortPut && shortPut < shortCall && shortCall < longCall) {
		return fmt.Errorf("condor %s: strikes %.2f/%.2f/%.2f/%.2f violate long-put < short-put < short-call < long-call",
			symbol, longPut, shortPut, shortCall, longCall)
	}
	return nil
}

func sortLegs(legs []models.Leg) {
	sort.SliceStable(legs, func(i, j int) bool {
		if legs[i].Strike != legs[j].Strike {
			return legs[i].Strike < legs[j].Strike
		}
		return legs[i].Type == models.RightPut && legs[j].Type == models.RightCall
	})
}
