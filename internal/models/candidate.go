package models

import (
	"fmt"
	"time"
)

// Strike role keys used by the compiler's per-structure templates.
const (
	RoleShortPut    = "short_put_strike"
	RoleLongPut     = "long_put_strike"
	RoleShortCall   = "short_call_strike"
	RoleLongCall    = "long_call_strike"
	RoleShortStrike = "short_strike"
	RoleLongStrike  = "long_strike"
	RoleLowerStrike = "lower_strike"
	RoleMidStrike   = "middle_strike"
	RoleUpperStrike = "upper_strike"
	RoleAtmStrike   = "atm_strike"
	RoleWingCall    = "wing_call_strike"
	RoleWingPut     = "wing_put_strike"
	RoleStrike      = "strike"
)

// FillEstimate carries the strategy collaborator's pre-trade pricing for a
// candidate. Exactly one of EntryCredit/EntryCost is meaningful, selected by
// IsCredit; the compiler uses IsCredit directly rather than re-deriving the
// sign from prices.
type FillEstimate struct {
	EntryCredit float64   `json:"entry_credit"`
	EntryCost   float64   `json:"entry_cost"`
	IsCredit    bool      `json:"is_credit"`
	Quantity    int       `json:"quantity"`
	MaxRisk     float64   `json:"max_risk"`
	MaxProfit   float64   `json:"max_profit"`
	Breakevens  []float64 `json:"breakevens,omitempty"`
	Greeks      Greeks    `json:"greeks"`
}

// Limit returns the net limit price implied by the estimate.
func (f FillEstimate) Limit() float64 {
	if f.IsCredit {
		return f.EntryCredit
	}
	return f.EntryCost
}

// TradeCandidate is the allocator/compiler input produced by an external
// strategy collaborator. Consumed once, never mutated.
type TradeCandidate struct {
	Structure    Structure          `json:"structure"`
	Symbol       string             `json:"symbol"`
	Expiration   time.Time          `json:"expiration"`
	SpotPrice    float64            `json:"spot_price"`
	Strikes      map[string]float64 `json:"strikes"`
	SignalSystem string             `json:"signal_system"`
	Fill         FillEstimate       `json:"fill"`

	// Legs is set only for IRON_CONDOR candidates, whose strategy agent
	// supplies the four legs directly. Other structures derive legs from
	// the role-keyed Strikes map.
	Legs []Leg `json:"legs,omitempty"`
}

// StrikeFor looks up a role-keyed strike, erroring when the strategy
// collaborator omitted a role the structure template requires.
func (c *TradeCandidate) StrikeFor(role string) (float64, error) {
	strike, ok := c.Strikes[role]
	if !ok {
		return 0, fmt.Errorf("candidate %s %s: missing %q strike", c.Structure, c.Symbol, role)
	}
	if strike <= 0 {
		return 0, fmt.Errorf("candidate %s %s: non-positive %q strike %.2f", c.Structure, c.Symbol, role, strike)
	}
	return strike, nil
}

// Validate checks the fields every structure template depends on.
func (c *TradeCandidate) Validate() error {
	if !c.Structure.Valid() {
		return fmt.Errorf("unknown structure tag %q", c.Structure)
	}
	if c.Symbol == "" {
		return fmt.Errorf("candidate missing symbol")
	}
	if c.Expiration.IsZero() {
		return fmt.Errorf("candidate %s missing expiration", c.Symbol)
	}
	if c.Fill.Quantity < 1 {
		return fmt.Errorf("candidate %s %s: quantity %d must be at least 1", c.Structure, c.Symbol, c.Fill.Quantity)
	}
	if c.Fill.IsCredit && c.Fill.EntryCredit <= 0 {
		return fmt.Errorf("candidate %s %s: credit structure with entry_credit %.2f", c.Structure, c.Symbol, c.Fill.EntryCredit)
	}
	if !c.Fill.IsCredit && c.Fill.EntryCost <= 0 {
		return fmt.Errorf("candidate %s %s: debit structure with entry_cost %.2f", c.Structure, c.Symbol, c.Fill.EntryCost)
	}
	return nil
}
