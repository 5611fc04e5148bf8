package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// QuantityEpsilon tolerates floating point noise in broker-reported fill
// quantities.
const QuantityEpsilon = 1e-6

// Client talks to an IB Client Portal style gateway over REST. The
// connection handle is owned explicitly: construct one, pass it into every
// component that needs broker access, close it on shutdown. No package-level
// state.
type Client struct {
	client       *http.Client
	baseURL      string
	accountID    string
	sessionToken string
	limiter      *rate.Limiter
	orderTimeout time.Duration
	pollInterval time.Duration
	callTimeout  time.Duration
}

// ClientConfig bundles the tunables for a gateway client.
type ClientConfig struct {
	BaseURL      string
	AccountID    string
	SessionToken string
	// RequestsPerSec bounds outbound request rate; 0 selects the default.
	RequestsPerSec float64
	OrderTimeout   time.Duration
	PollInterval   time.Duration
	CallTimeout    time.Duration
}

// NewClient creates a gateway client with default HTTP transport.
func NewClient(cfg ClientConfig) *Client {
	return NewClientWithHTTP(cfg, nil)
}

// NewClientWithHTTP creates a gateway client with a caller-supplied HTTP
// client (tests, custom transport).
func NewClientWithHTTP(cfg ClientConfig, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://localhost:5000/v1/api"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.CallTimeout}
	}
	return &Client{
		client:       httpClient,
		baseURL:      cfg.BaseURL,
		accountID:    cfg.AccountID,
		sessionToken: cfg.SessionToken,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 10),
		orderTimeout: cfg.OrderTimeout,
		pollInterval: cfg.PollInterval,
		callTimeout:  cfg.CallTimeout,
	}
}

// Ensure Client implements Gateway at compile time.
var _ Gateway = (*Client)(nil)

// ============ Response structures ============

// Handle single-object vs array responses from the gateway.
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

type summaryResponse struct {
	AccountID          string  `json:"account_id"`
	NetLiquidation     float64 `json:"netliquidation"`
	BuyingPower        float64 `json:"buyingpower"`
	TotalCashValue     float64 `json:"totalcashvalue"`
	GrossPositionValue float64 `json:"grosspositionvalue"`
	MaintMarginReq     float64 `json:"maintmarginreq"`
	AvailableFunds     float64 `json:"availablefunds"`
	InitMarginReq      float64 `json:"initmarginreq"`
	ExcessLiquidity    float64 `json:"excessliquidity"`
}

type positionItem struct {
	ContractDesc  string  `json:"contractDesc"`
	AssetClass    string  `json:"assetClass"`
	Strike        float64 `json:"strike"`
	Right         string  `json:"putOrCall"`
	Expiry        string  `json:"expiry"`
	Position      float64 `json:"position"`
	AvgCost       float64 `json:"avgCost"`
	MktValue      float64 `json:"mktValue"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	Ticker        string  `json:"ticker"`
}

type whatifResponse struct {
	Amount *struct {
		InitMarginChange  float64 `json:"initial"`
		MaintMarginChange float64 `json:"maintenance"`
		EquityWithLoan    float64 `json:"equity_with_loan"`
		Commission        float64 `json:"commission"`
		MinCommission     float64 `json:"min_commission"`
		MaxCommission     float64 `json:"max_commission"`
	} `json:"amount"`
	Error string `json:"error,omitempty"`
}

type orderAck struct {
	OrderID     string `json:"order_id"`
	PermID      string `json:"perm_id"`
	OrderStatus string `json:"order_status"`
}

type fillItem struct {
	ContractID int     `json:"conid"`
	Price      float64 `json:"price"`
	Qty        float64 `json:"qty"`
	Commission float64 `json:"commission"`
	TimeMs     int64   `json:"time"`
}

type orderStatusResponse struct {
	OrderID      string                  `json:"order_id"`
	Status       string                  `json:"order_status"`
	FilledQty    float64                 `json:"filled_quantity"`
	RemainingQty float64                 `json:"remaining_quantity"`
	AvgPrice     float64                 `json:"avg_price"`
	Fills        singleOrArray[fillItem] `json:"fills"`
}

type orderLegPayload struct {
	Symbol string  `json:"symbol"`
	OCC    string  `json:"occ_symbol"`
	Expiry string  `json:"expiry"`
	Strike float64 `json:"strike"`
	Right  string  `json:"right"`
	Action string  `json:"side"`
	Ratio  int     `json:"ratio"`
}

type orderPayload struct {
	AccountID string            `json:"acctId"`
	OrderType string            `json:"orderType"`
	Symbol    string            `json:"symbol"`
	Side      string            `json:"side"`
	Price     float64           `json:"price"`
	Quantity  int               `json:"quantity"`
	TIF       string            `json:"tif"`
	Legs      []orderLegPayload `json:"legs"`
	WhatIf    bool              `json:"isWhatIf,omitempty"`
}

// ============ Gateway implementation ============

// AccountSummary fetches the account's margin and equity tags.
func (c *Client) AccountSummary(ctx context.Context) (*AccountSummary, error) {
	endpoint := fmt.Sprintf("%s/iserver/account/%s/summary", c.baseURL, c.accountID)
	var resp summaryResponse
	if err := c.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("account summary: %w", err)
	}
	accountID := resp.AccountID
	if accountID == "" {
		accountID = c.accountID
	}
	return &AccountSummary{
		AccountID:          accountID,
		NetLiquidation:     resp.NetLiquidation,
		BuyingPower:        resp.BuyingPower,
		TotalCashValue:     resp.TotalCashValue,
		GrossPositionValue: resp.GrossPositionValue,
		MaintMarginReq:     resp.MaintMarginReq,
		AvailableFunds:     resp.AvailableFunds,
		InitMarginReq:      resp.InitMarginReq,
		ExcessLiquidity:    resp.ExcessLiquidity,
	}, nil
}

// OptionPositions fetches the account's option positions. Non-option lines
// are filtered out.
func (c *Client) OptionPositions(ctx context.Context) ([]OptionPosition, error) {
	endpoint := fmt.Sprintf("%s/portfolio/%s/positions/0", c.baseURL, c.accountID)
	var resp singleOrArray[positionItem]
	if err := c.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}

	positions := make([]OptionPosition, 0, len(resp))
	for _, item := range resp {
		if item.AssetClass != "OPT" {
			continue
		}
		symbol := item.Ticker
		expiry := item.Expiry
		right := item.Right
		strike := item.Strike
		// Some gateway builds omit the structured fields and only send the
		// OSI description; fall back to parsing it.
		if symbol == "" || expiry == "" {
			if parsed, err := ParseOptionSymbol(item.ContractDesc); err == nil {
				symbol = parsed.Underlying
				expiry = parsed.Expiry.Format("20060102")
				right = string(parsed.Right)
				strike = parsed.Strike
			}
		}
		positions = append(positions, OptionPosition{
			Symbol:        symbol,
			SecType:       "OPT",
			Strike:        strike,
			Right:         right,
			Expiry:        expiry,
			Quantity:      item.Position,
			AvgCost:       item.AvgCost,
			MarketValue:   item.MktValue,
			UnrealizedPnL: item.UnrealizedPnL,
		})
	}
	return positions, nil
}

// PreviewOrder runs the broker's margin what-if for the exact order about to
// be placed. Returns (nil, nil) when the broker declines to compute one.
func (c *Client) PreviewOrder(ctx context.Context, order ComboOrder) (*MarginPreview, error) {
	payload, err := c.buildOrderPayload(order)
	if err != nil {
		return nil, err
	}
	payload.WhatIf = true

	endpoint := fmt.Sprintf("%s/iserver/account/%s/orders/whatif", c.baseURL, c.accountID)
	var resp whatifResponse
	if err := c.makeRequestCtx(ctx, http.MethodPost, endpoint, payload, &resp); err != nil {
		if IsUnreachable(err) {
			return nil, fmt.Errorf("margin preview: %w", err)
		}
		// The broker answered but could not produce a preview. Missing
		// preview data does not block execution.
		log.Printf("margin preview unavailable for %s %s: %v", order.Action, order.Symbol, err)
		return nil, nil
	}
	if resp.Amount == nil || resp.Error != "" {
		log.Printf("margin preview empty for %s %s: %s", order.Action, order.Symbol, resp.Error)
		return nil, nil
	}
	return &MarginPreview{
		InitMarginChange:  resp.Amount.InitMarginChange,
		MaintMarginChange: resp.Amount.MaintMarginChange,
		EquityWithLoan:    resp.Amount.EquityWithLoan,
		Commission:        resp.Amount.Commission,
		MinCommission:     resp.Amount.MinCommission,
		MaxCommission:     resp.Amount.MaxCommission,
	}, nil
}

// PlaceComboOrder submits the order and blocks until it fills or the order
// timeout elapses. On timeout the working order is cancelled and the result
// status is CANCELLED_TIMEOUT.
func (c *Client) PlaceComboOrder(ctx context.Context, order ComboOrder) (*OrderResult, error) {
	payload, err := c.buildOrderPayload(order)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/iserver/account/%s/orders", c.baseURL, c.accountID)
	var acks singleOrArray[orderAck]
	if err := c.makeRequestCtx(ctx, http.MethodPost, endpoint, payload, &acks); err != nil {
		return nil, fmt.Errorf("place combo order: %w", err)
	}
	if len(acks) == 0 || acks[0].OrderID == "" {
		return nil, fmt.Errorf("place combo order: broker returned no order id")
	}
	ack := acks[0]

	result, err := c.waitForFill(ctx, ack, float64(order.Quantity))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// waitForFill polls order status until complete fill or timeout.
func (c *Client) waitForFill(ctx context.Context, ack orderAck, quantity float64) (*OrderResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.orderTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				// The caller's context died, not the order timeout.
				return nil, fmt.Errorf("order %s: %w", ack.OrderID, ctx.Err())
			}
			return c.cancelTimedOutOrder(ctx, ack, quantity)
		case <-ticker.C:
			status, err := c.OrderStatus(waitCtx, ack.OrderID)
			if err != nil {
				// Transient poll failures are tolerated until the timeout.
				log.Printf("order %s status poll failed: %v", ack.OrderID, err)
				continue
			}
			if isCompletelyFilled(status, quantity) {
				return orderResultFrom(ack, status), nil
			}
			if status.Status == OrderStatusRejected || status.Status == OrderStatusCancelled {
				return &OrderResult{
					OrderID: ack.OrderID,
					PermID:  ack.PermID,
					Status:  status.Status,
				}, nil
			}
		}
	}
}

// cancelTimedOutOrder issues the cancel after the fill window closed, then
// verifies broker-side state before declaring the order dead: a fill can
// land between the last poll and the deadline, and cancelling a filled
// order is a broker-side no-op, so the post-cancel status is authoritative.
// Both calls use a fresh deadline because the wait context is already
// expired.
func (c *Client) cancelTimedOutOrder(ctx context.Context, ack orderAck, quantity float64) (*OrderResult, error) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
	defer cancel()

	if err := c.CancelOrder(cancelCtx, ack.OrderID); err != nil {
		log.Printf("cancel of timed-out order %s failed: %v", ack.OrderID, err)
	}
	if status, err := c.OrderStatus(cancelCtx, ack.OrderID); err != nil {
		log.Printf("post-cancel status check for order %s failed: %v", ack.OrderID, err)
	} else if isCompletelyFilled(status, quantity) {
		log.Printf("order %s filled at the timeout boundary, keeping the fill", ack.OrderID)
		return orderResultFrom(ack, status), nil
	}
	return &OrderResult{
		OrderID: ack.OrderID,
		PermID:  ack.PermID,
		Status:  OrderStatusCancelledTimeout,
	}, nil
}

func isCompletelyFilled(status *OrderStatus, quantity float64) bool {
	if status.Status != OrderStatusFilled {
		return false
	}
	if status.FilledQty <= QuantityEpsilon {
		return false
	}
	return status.FilledQty >= quantity-QuantityEpsilon && status.RemainingQty <= QuantityEpsilon
}

// orderResultFrom assembles the final result from the last status poll.
func orderResultFrom(ack orderAck, status *OrderStatus) *OrderResult {
	return &OrderResult{
		OrderID:   ack.OrderID,
		PermID:    ack.PermID,
		Status:    OrderStatusFilled,
		Fills:     status.fills,
		AvgPrice:  math.Abs(status.AvgPrice),
		FilledQty: status.FilledQty,
	}
}

// OrderStatus polls a working order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	endpoint := fmt.Sprintf("%s/iserver/account/order/status/%s", c.baseURL, orderID)
	var resp orderStatusResponse
	if err := c.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("order status %s: %w", orderID, err)
	}
	status := &OrderStatus{
		OrderID:      resp.OrderID,
		Status:       resp.Status,
		FilledQty:    resp.FilledQty,
		RemainingQty: resp.RemainingQty,
		AvgPrice:     resp.AvgPrice,
	}
	for _, f := range resp.Fills {
		status.fills = append(status.fills, Fill{
			ContractID: f.ContractID,
			Price:      f.Price,
			Qty:        f.Qty,
			Commission: f.Commission,
			Time:       time.UnixMilli(f.TimeMs).UTC(),
		})
	}
	return status, nil
}

// CancelOrder cancels a working order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	endpoint := fmt.Sprintf("%s/iserver/account/%s/order/%s", c.baseURL, c.accountID, orderID)
	if err := c.makeRequestCtx(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

// buildOrderPayload validates and serializes a combo order.
func (c *Client) buildOrderPayload(order ComboOrder) (*orderPayload, error) {
	if order.Symbol == "" {
		return nil, fmt.Errorf("combo order missing symbol")
	}
	if len(order.Legs) == 0 {
		return nil, fmt.Errorf("combo order %s has no legs", order.Symbol)
	}
	if order.Quantity < 1 {
		return nil, fmt.Errorf("combo order %s quantity %d must be at least 1", order.Symbol, order.Quantity)
	}
	if order.Action != models.ActionBuy && order.Action != models.ActionSell {
		return nil, fmt.Errorf("combo order %s invalid action %q", order.Symbol, order.Action)
	}

	legs := make([]orderLegPayload, 0, len(order.Legs))
	for i, leg := range order.Legs {
		if leg.Ratio < 1 {
			return nil, fmt.Errorf("combo order %s leg %d ratio %d must be positive", order.Symbol, i, leg.Ratio)
		}
		expiry, err := parseExpiry(leg.Expiry)
		if err != nil {
			return nil, fmt.Errorf("combo order %s leg %d: %w", order.Symbol, i, err)
		}
		occ, err := BuildOptionSymbol(leg.Symbol, expiry, leg.Right, leg.Strike)
		if err != nil {
			return nil, fmt.Errorf("combo order %s leg %d: %w", order.Symbol, i, err)
		}
		legs = append(legs, orderLegPayload{
			Symbol: leg.Symbol,
			OCC:    occ,
			Expiry: expiry.Format("20060102"),
			Strike: leg.Strike,
			Right:  string(leg.Right),
			Action: string(leg.Action),
			Ratio:  leg.Ratio,
		})
	}

	return &orderPayload{
		AccountID: c.accountID,
		OrderType: "LMT",
		Symbol:    order.Symbol,
		Side:      string(order.Action),
		Price:     order.LimitPrice,
		Quantity:  order.Quantity,
		TIF:       "DAY",
		Legs:      legs,
	}, nil
}

// makeRequestCtx makes an HTTP request with context support, applying the
// client's rate limit before every call.
func (c *Client) makeRequestCtx(ctx context.Context, method, endpoint string, body, response interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var req *http.Request
	var err error
	if body != nil {
		encoded, merr := json.Marshal(body)
		if merr != nil {
			return merr
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(encoded))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/json")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("Authorization", "Bearer "+c.sessionToken)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "stamford-condor/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Printf("failed to close response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		errBody, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap
		if rerr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(errBody))}
	}

	if resp.StatusCode == http.StatusNoContent || response == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
