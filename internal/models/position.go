package models

import (
	"fmt"
	"math"
	"time"
)

// PositionStatus is the ledger lifecycle of a position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
)

// Execution methods recorded on positions.
const (
	ExecutionSystem = "SYSTEM"
	ExecutionImport = "IB_IMPORT"
)

// ContractMultiplier converts per-share option prices to dollars.
const ContractMultiplier = 100

// Position is the ledger's unit of truth for one open or closed structure.
//
// Exactly one of EntryCredit/EntryCost is nonzero; which one determines the
// realized P&L sign convention on close. Status transitions OPEN to CLOSED
// exactly once and CLOSED is terminal. The reconciliation engine is the only
// component allowed to touch the Broker* fields outside the close path.
type Position struct {
	ID         string         `json:"id"`
	Symbol     string         `json:"symbol"`
	Structure  Structure      `json:"structure"`
	Status     PositionStatus `json:"status"`
	EntryDate  time.Time      `json:"entry_date"`
	ExitDate   time.Time      `json:"exit_date,omitempty"`
	Expiration time.Time      `json:"expiration"`

	EntryCredit float64 `json:"entry_credit"`
	EntryCost   float64 `json:"entry_cost"`
	Legs        []Leg   `json:"legs"`
	Commission  float64 `json:"commission"`
	Quantity    int     `json:"quantity"`

	ExitReason  string  `json:"exit_reason,omitempty"`
	ExitPrice   float64 `json:"exit_price,omitempty"`
	RealizedPnL float64 `json:"realized_pnl,omitempty"`

	Tier            string    `json:"tier,omitempty"`
	SignalSystem    string    `json:"signal_system,omitempty"`
	ExecutionMethod string    `json:"execution_method,omitempty"`
	MaxRisk         float64   `json:"max_risk,omitempty"`
	MaxProfit       float64   `json:"max_profit,omitempty"`
	Breakevens      []float64 `json:"breakevens,omitempty"`
	Greeks          Greeks    `json:"greeks"`

	// Broker-observed fields, written only by reconciliation.
	BrokerMarketValue   float64   `json:"ib_market_value,omitempty"`
	BrokerUnrealizedPnL float64   `json:"ib_unrealized_pnl,omitempty"`
	LastBrokerSync      time.Time `json:"last_ib_sync,omitempty"`
	SyncWarning         string    `json:"ib_warning,omitempty"`
}

// PositionID builds the canonical identifier for a position opened on the
// given date, e.g. "IC-SPY-20260830".
func PositionID(structure Structure, symbol string, entryDate time.Time) string {
	return fmt.Sprintf("%s-%s-%s", structure.Prefix(), symbol, entryDate.Format("20060102"))
}

// IsCredit reports which entry convention the position uses.
func (p *Position) IsCredit() bool {
	return p.EntryCredit != 0
}

// DTE returns calendar days to expiration, negative once expired.
func (p *Position) DTE(now time.Time) int {
	return int(math.Ceil(p.Expiration.Sub(now).Hours() / 24))
}

// StrikeSet returns the distinct strikes across all legs. Reconciliation
// compares these sets, not quantities or prices.
func (p *Position) StrikeSet() map[float64]bool {
	set := make(map[float64]bool, len(p.Legs))
	for _, leg := range p.Legs {
		set[leg.Strike] = true
	}
	return set
}

// realizedPnL applies the credit-XOR-cost sign convention.
func (p *Position) realizedPnL(exitPrice, commission float64) float64 {
	gross := 0.0
	if p.IsCredit() {
		gross = (p.EntryCredit - exitPrice) * ContractMultiplier * float64(p.Quantity)
	} else {
		gross = (exitPrice - p.EntryCost) * ContractMultiplier * float64(p.Quantity)
	}
	return gross - commission
}

// Close returns a CLOSED copy of the position with realized P&L computed
// from the exit fill. The receiver is never mutated; the caller replaces
// the ledger record with the returned value.
func (p Position) Close(exitReason string, exitPrice, commission float64, exitDate time.Time) (Position, error) {
	if p.Status == StatusClosed {
		return p, fmt.Errorf("position %s already closed", p.ID)
	}
	p.Status = StatusClosed
	p.ExitReason = exitReason
	p.ExitPrice = exitPrice
	p.ExitDate = exitDate
	p.RealizedPnL = p.realizedPnL(exitPrice, commission)
	p.Commission += commission
	p.Legs = cloneLegs(p.Legs)
	return p, nil
}

// CloseEstimated returns a CLOSED copy for the degraded path where the
// broker could not execute the closing order. The exit reason is marked so
// operators can spot ledger records that never saw a closing fill.
func (p Position) CloseEstimated(exitReason string, estimatedPnL, commission float64, exitDate time.Time) (Position, error) {
	if p.Status == StatusClosed {
		return p, fmt.Errorf("position %s already closed", p.ID)
	}
	p.Status = StatusClosed
	p.ExitReason = exitReason + " (IB close failed)"
	p.ExitDate = exitDate
	p.RealizedPnL = estimatedPnL - commission
	p.Commission += commission
	p.Legs = cloneLegs(p.Legs)
	return p, nil
}

// ReverseLegs builds the closing leg list by flipping every action.
func (p *Position) ReverseLegs() []Leg {
	reversed := make([]Leg, len(p.Legs))
	for i, leg := range p.Legs {
		reversed[i] = leg.Reversed()
	}
	return reversed
}

// Validate enforces the per-status invariants before a position is accepted
// into the ledger.
func (p *Position) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("position missing ID")
	}
	if p.Symbol == "" {
		return fmt.Errorf("position %s missing symbol", p.ID)
	}
	if p.Structure != StructureCustom && !p.Structure.Valid() {
		return fmt.Errorf("position %s has unknown structure %q", p.ID, p.Structure)
	}
	if p.Quantity < 1 {
		return fmt.Errorf("position %s has quantity %d, must be at least 1", p.ID, p.Quantity)
	}
	if p.EntryCredit != 0 && p.EntryCost != 0 {
		return fmt.Errorf("position %s sets both entry_credit (%.2f) and entry_cost (%.2f)", p.ID, p.EntryCredit, p.EntryCost)
	}
	if p.EntryCredit < 0 || p.EntryCost < 0 {
		return fmt.Errorf("position %s has negative entry pricing", p.ID)
	}
	if len(p.Legs) == 0 {
		return fmt.Errorf("position %s has no legs", p.ID)
	}
	for i, leg := range p.Legs {
		if err := leg.Validate(); err != nil {
			return fmt.Errorf("position %s leg %d: %w", p.ID, i, err)
		}
	}

	switch p.Status {
	case StatusOpen:
		if !p.ExitDate.IsZero() || p.ExitReason != "" {
			return fmt.Errorf("position %s is OPEN but carries exit fields", p.ID)
		}
	case StatusClosed:
		if p.ExitReason == "" {
			return fmt.Errorf("position %s is CLOSED without an exit reason", p.ID)
		}
		if p.ExitDate.IsZero() {
			return fmt.Errorf("position %s is CLOSED without an exit date", p.ID)
		}
	default:
		return fmt.Errorf("position %s has invalid status %q", p.ID, p.Status)
	}
	return nil
}

// Copy returns a deep copy safe to hand to another goroutine or to mutate
// during reconciliation before writing back.
func (p *Position) Copy() Position {
	cp := *p
	cp.Legs = cloneLegs(p.Legs)
	if p.Breakevens != nil {
		cp.Breakevens = make([]float64, len(p.Breakevens))
		copy(cp.Breakevens, p.Breakevens)
	}
	return cp
}

func cloneLegs(legs []Leg) []Leg {
	if legs == nil {
		return nil
	}
	out := make([]Leg, len(legs))
	copy(out, legs)
	return out
}
