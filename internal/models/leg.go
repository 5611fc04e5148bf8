package models

import "fmt"

// OptionRight is the option type of a leg.
type OptionRight string

const (
	RightCall OptionRight = "C"
	RightPut  OptionRight = "P"
)

// LegAction is the trade direction of a leg.
type LegAction string

const (
	ActionBuy  LegAction = "BUY"
	ActionSell LegAction = "SELL"
)

// Reverse returns the opposite action, used when building closing orders.
func (a LegAction) Reverse() LegAction {
	if a == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

// Leg is one option contract within a multi-leg order. Once compiled it is
// treated as immutable; closing orders are built from fresh reversed copies.
//
// EntryPrice is best-effort: brokers report combo-level fill prices, not
// per-leg, so legs filled as part of a combo carry EntryPrice 0 and the
// aggregate price lives on the Position.
type Leg struct {
	Type       OptionRight `json:"type"`
	Strike     float64     `json:"strike"`
	Action     LegAction   `json:"action"`
	Ratio      int         `json:"ratio"`
	EntryPrice float64     `json:"entry_price"`
}

// Reversed returns a copy of the leg with the action flipped.
func (l Leg) Reversed() Leg {
	l.Action = l.Action.Reverse()
	return l
}

// Validate checks the leg's field invariants.
func (l Leg) Validate() error {
	if l.Type != RightCall && l.Type != RightPut {
		return fmt.Errorf("invalid leg type %q", l.Type)
	}
	if l.Action != ActionBuy && l.Action != ActionSell {
		return fmt.Errorf("invalid leg action %q", l.Action)
	}
	if l.Strike <= 0 {
		return fmt.Errorf("invalid strike %.2f: must be positive", l.Strike)
	}
	if l.Ratio < 1 {
		return fmt.Errorf("invalid ratio %d: must be a positive integer", l.Ratio)
	}
	return nil
}

// Greeks holds the sensitivity values supplied by the pricing collaborator.
// The core only aggregates these, it never computes them.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// Add returns the component-wise sum of two Greeks.
func (g Greeks) Add(other Greeks) Greeks {
	return Greeks{
		Delta: g.Delta + other.Delta,
		Gamma: g.Gamma + other.Gamma,
		Theta: g.Theta + other.Theta,
		Vega:  g.Vega + other.Vega,
	}
}
