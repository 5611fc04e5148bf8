package models

import (
	"fmt"
	"time"
)

// OrderState tracks one order attempt through the execution pipeline.
type OrderState string

const (
	OrderPreviewing       OrderState = "PREVIEWING"
	OrderMarginChecked    OrderState = "MARGIN_CHECKED"
	OrderPlaced           OrderState = "PLACED"
	OrderFilled           OrderState = "FILLED"
	OrderCancelledTimeout OrderState = "CANCELLED_TIMEOUT"
	OrderRejected         OrderState = "REJECTED"
)

// OrderTransition defines one valid edge in the order lifecycle.
type OrderTransition struct {
	From        OrderState
	To          OrderState
	Condition   string
	Description string
}

// ValidOrderTransitions is the full order lifecycle. FILLED,
// CANCELLED_TIMEOUT, and REJECTED are terminal.
var ValidOrderTransitions = []OrderTransition{
	{OrderPreviewing, OrderMarginChecked, "margin_ok", "Margin preview passed or was unavailable"},
	{OrderPreviewing, OrderRejected, "margin_blocked", "Projected margin exceeds the configured fraction of available funds"},
	{OrderPreviewing, OrderRejected, "preview_failed", "Broker rejected the preview request outright"},
	{OrderMarginChecked, OrderPlaced, "order_placed", "Combo order submitted to broker"},
	{OrderMarginChecked, OrderRejected, "placement_failed", "Broker rejected the order submission"},
	{OrderPlaced, OrderFilled, "order_filled", "Broker reported a complete fill"},
	{OrderPlaced, OrderCancelledTimeout, "fill_timeout", "No fill within the order timeout; cancel issued"},
	{OrderPlaced, OrderRejected, "broker_rejected", "Broker rejected the working order"},
}

// OrderTracker walks an order attempt through ValidOrderTransitions and
// refuses anything off the table. Every attempt resolves to a terminal
// state; an order is never left pending.
type OrderTracker struct {
	current        OrderState
	previous       OrderState
	transitionTime time.Time
	history        []OrderState
}

// NewOrderTracker starts a tracker in PREVIEWING.
func NewOrderTracker() *OrderTracker {
	return &OrderTracker{
		current:        OrderPreviewing,
		previous:       OrderPreviewing,
		transitionTime: time.Now().UTC(),
		history:        []OrderState{OrderPreviewing},
	}
}

// Current returns the current state.
func (t *OrderTracker) Current() OrderState {
	return t.current
}

// Terminal reports whether the tracker has resolved.
func (t *OrderTracker) Terminal() bool {
	switch t.current {
	case OrderFilled, OrderCancelledTimeout, OrderRejected:
		return true
	default:
		return false
	}
}

// Transition moves to a new state, validating against the transition table.
func (t *OrderTracker) Transition(to OrderState, condition string) error {
	if t.Terminal() {
		return fmt.Errorf("order already resolved to terminal state %s", t.current)
	}
	for _, tr := range ValidOrderTransitions {
		if tr.From == t.current && tr.To == to && tr.Condition == condition {
			t.previous = t.current
			t.current = to
			t.transitionTime = time.Now().UTC()
			t.history = append(t.history, to)
			return nil
		}
	}
	return fmt.Errorf("invalid order transition from %s to %s with condition %q", t.current, to, condition)
}

// History returns the states visited in order.
func (t *OrderTracker) History() []OrderState {
	out := make([]OrderState, len(t.history))
	copy(out, t.history)
	return out
}
