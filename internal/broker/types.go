package broker

import (
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// Order status strings reported by the gateway. Anything else is passed
// through verbatim from the broker.
const (
	OrderStatusFilled           = "Filled"
	OrderStatusCancelledTimeout = "CANCELLED_TIMEOUT"
	OrderStatusCancelled        = "Cancelled"
	OrderStatusSubmitted        = "Submitted"
	OrderStatusRejected         = "Rejected"
)

// AccountSummary mirrors the broker's account summary tags. All values are
// dollars.
type AccountSummary struct {
	AccountID          string  `json:"account_id"`
	NetLiquidation     float64 `json:"NetLiquidation"`
	BuyingPower        float64 `json:"BuyingPower"`
	TotalCashValue     float64 `json:"TotalCashValue"`
	GrossPositionValue float64 `json:"GrossPositionValue"`
	MaintMarginReq     float64 `json:"MaintMarginReq"`
	AvailableFunds     float64 `json:"AvailableFunds"`
	InitMarginReq      float64 `json:"InitMarginReq"`
	ExcessLiquidity    float64 `json:"ExcessLiquidity"`
}

// ComboLeg is the broker-facing leg schema. Expiry uses the broker-native
// YYYYMMDD form.
type ComboLeg struct {
	Symbol string             `json:"symbol"`
	Expiry string             `json:"expiry"`
	Strike float64            `json:"strike"`
	Right  models.OptionRight `json:"right"`
	Action models.LegAction   `json:"action"`
	Ratio  int                `json:"ratio"`
}

// ComboOrder is one multi-leg order: all legs execute atomically at the net
// limit price under the combo action.
type ComboOrder struct {
	Symbol     string           `json:"symbol"`
	Legs       []ComboLeg       `json:"legs"`
	Action     models.LegAction `json:"action"`
	LimitPrice float64          `json:"limit_price"`
	Quantity   int              `json:"quantity"`
}

// MarginPreview is the broker's what-if estimate for a candidate order.
// A nil *MarginPreview means the broker could not compute one; that is not
// an error and must not block execution.
type MarginPreview struct {
	InitMarginChange  float64 `json:"init_margin_change"`
	MaintMarginChange float64 `json:"maint_margin_change"`
	EquityWithLoan    float64 `json:"equity_with_loan"`
	Commission        float64 `json:"commission"`
	MinCommission     float64 `json:"min_commission"`
	MaxCommission     float64 `json:"max_commission"`
}

// Fill is one execution report for a leg of a combo order.
type Fill struct {
	ContractID int       `json:"contract_id"`
	Price      float64   `json:"price"`
	Qty        float64   `json:"qty"`
	Commission float64   `json:"commission"`
	Time       time.Time `json:"time"`
}

// OrderResult is the terminal outcome of a combo order placement.
type OrderResult struct {
	OrderID   string  `json:"order_id"`
	PermID    string  `json:"perm_id"`
	Status    string  `json:"status"`
	Fills     []Fill  `json:"fills"`
	AvgPrice  float64 `json:"avg_price"`
	FilledQty float64 `json:"filled_qty"`
}

// TotalCommission sums commissions across all leg fills.
func (r *OrderResult) TotalCommission() float64 {
	total := 0.0
	for _, f := range r.Fills {
		total += f.Commission
	}
	return total
}

// OrderStatus is one poll of a working order.
type OrderStatus struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	FilledQty    float64 `json:"filled_qty"`
	RemainingQty float64 `json:"remaining_qty"`
	AvgPrice     float64 `json:"avg_price"`

	// fills carries execution reports between the status poll and the
	// final order result.
	fills []Fill
}

// OptionPosition is one option line from the broker's position snapshot.
type OptionPosition struct {
	Symbol        string  `json:"symbol"`
	SecType       string  `json:"sec_type"`
	Strike        float64 `json:"strike"`
	Right         string  `json:"right"`
	Expiry        string  `json:"expiry"`
	Quantity      float64 `json:"quantity"`
	AvgCost       float64 `json:"avg_cost"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}
