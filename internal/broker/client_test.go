package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(ClientConfig{
		BaseURL:        server.URL,
		AccountID:      "DU12345",
		SessionToken:   "test-token",
		RequestsPerSec: 1000,
		OrderTimeout:   200 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		CallTimeout:    time.Second,
	})
}

func testComboOrder() ComboOrder {
	return ComboOrder{
		Symbol: "SPY",
		Action: models.ActionSell,
		Legs: []ComboLeg{
			{Symbol: "SPY", Expiry: "20261016", Strike: 600, Right: models.RightPut, Action: models.ActionBuy, Ratio: 1},
			{Symbol: "SPY", Expiry: "20261016", Strike: 610, Right: models.RightPut, Action: models.ActionSell, Ratio: 1},
			{Symbol: "SPY", Expiry: "20261016", Strike: 650, Right: models.RightCall, Action: models.ActionSell, Ratio: 1},
			{Symbol: "SPY", Expiry: "20261016", Strike: 660, Right: models.RightCall, Action: models.ActionBuy, Ratio: 1},
		},
		LimitPrice: 3.20,
		Quantity:   1,
	}
}

func TestAccountSummary(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/iserver/account/DU12345/summary") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"account_id":     "DU12345",
			"netliquidation": 100000.0,
			"availablefunds": 50000.0,
			"buyingpower":    200000.0,
		})
	})

	summary, err := testClient(t, handler).AccountSummary(context.Background())
	if err != nil {
		t.Fatalf("AccountSummary failed: %v", err)
	}
	if summary.NetLiquidation != 100000 || summary.AvailableFunds != 50000 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestAccountSummaryAPIError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	})

	_, err := testClient(t, handler).AccountSummary(context.Background())
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusInternalServerError || !apiErr.IsRetryable() {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestOptionPositionsFiltersNonOptions(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"assetClass": "STK", "ticker": "SPY", "position": 100.0},
			{"assetClass": "OPT", "ticker": "SPY", "strike": 610.0, "putOrCall": "P", "expiry": "20261016", "position": -1.0, "avgCost": 315.0},
		})
	})

	positions, err := testClient(t, handler).OptionPositions(context.Background())
	if err != nil {
		t.Fatalf("OptionPositions failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	if positions[0].Strike != 610 || positions[0].Right != "P" {
		t.Errorf("position = %+v", positions[0])
	}
}

func TestOptionPositionsParsesOSIFallback(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"assetClass": "OPT", "contractDesc": "SPY261016P00600000", "position": 1.0, "avgCost": 120.0},
		})
	})

	positions, err := testClient(t, handler).OptionPositions(context.Background())
	if err != nil {
		t.Fatalf("OptionPositions failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	pos := positions[0]
	if pos.Symbol != "SPY" || pos.Strike != 600 || pos.Right != "P" || pos.Expiry != "20261016" {
		t.Errorf("parsed position = %+v", pos)
	}
}

func TestPreviewOrderUnavailableIsNil(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no preview for combos", http.StatusBadRequest)
	})

	preview, err := testClient(t, handler).PreviewOrder(context.Background(), testComboOrder())
	if err != nil {
		t.Fatalf("PreviewOrder should not error when the broker answers: %v", err)
	}
	if preview != nil {
		t.Errorf("expected nil preview, got %+v", preview)
	}
}

func TestPreviewOrderReturnsAmounts(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"amount": map[string]any{
				"initial":     4000.0,
				"maintenance": 3200.0,
				"commission":  2.60,
			},
		})
	})

	preview, err := testClient(t, handler).PreviewOrder(context.Background(), testComboOrder())
	if err != nil {
		t.Fatalf("PreviewOrder failed: %v", err)
	}
	if preview == nil {
		t.Fatal("expected a preview")
	}
	if preview.InitMarginChange != 4000 || preview.Commission != 2.60 {
		t.Errorf("preview = %+v", preview)
	}
}

func TestPlaceComboOrderFills(t *testing.T) {
	var polls atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/orders"):
			var payload orderPayload
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("bad order payload: %v", err)
			}
			if len(payload.Legs) != 4 || payload.Side != "SELL" || payload.Price != 3.20 {
				t.Errorf("payload = %+v", payload)
			}
			if payload.Legs[0].OCC != "SPY261016P00600000" {
				t.Errorf("occ symbol = %q", payload.Legs[0].OCC)
			}
			_ = json.NewEncoder(w).Encode([]map[string]any{{"order_id": "42", "perm_id": "99", "order_status": "Submitted"}})
		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/order/status/"):
			if polls.Add(1) < 2 {
				_ = json.NewEncoder(w).Encode(map[string]any{"order_id": "42", "order_status": "Submitted", "filled_quantity": 0.0, "remaining_quantity": 1.0})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"order_id": "42", "order_status": "Filled",
				"filled_quantity": 1.0, "remaining_quantity": 0.0, "avg_price": 3.15,
				"fills": []map[string]any{
					{"conid": 1, "price": 3.15, "qty": 1.0, "commission": 2.60, "time": 1760000000000},
				},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	result, err := testClient(t, handler).PlaceComboOrder(context.Background(), testComboOrder())
	if err != nil {
		t.Fatalf("PlaceComboOrder failed: %v", err)
	}
	if result.Status != OrderStatusFilled {
		t.Errorf("status = %q, want Filled", result.Status)
	}
	if result.AvgPrice != 3.15 || result.TotalCommission() != 2.60 {
		t.Errorf("result = %+v", result)
	}
}

func TestPlaceComboOrderTimeoutCancels(t *testing.T) {
	var cancelled atomic.Bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode([]map[string]any{{"order_id": "7", "order_status": "Submitted"}})
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"order_id": "7", "order_status": "Submitted", "remaining_quantity": 1.0})
		case r.Method == http.MethodDelete:
			cancelled.Store(true)
			w.WriteHeader(http.StatusOK)
		}
	})

	result, err := testClient(t, handler).PlaceComboOrder(context.Background(), testComboOrder())
	if err != nil {
		t.Fatalf("PlaceComboOrder failed: %v", err)
	}
	if result.Status != OrderStatusCancelledTimeout {
		t.Errorf("status = %q, want CANCELLED_TIMEOUT", result.Status)
	}
	if !cancelled.Load() {
		t.Error("timed-out order was never cancelled")
	}
}

func TestPlaceComboOrderTimeoutKeepsRacingFill(t *testing.T) {
	// The order fills broker-side between the last poll and the deadline:
	// every in-window poll says Submitted, the cancel lands on an already
	// filled order, and the post-cancel verification reports the fill.
	var cancelled atomic.Bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode([]map[string]any{{"order_id": "13", "order_status": "Submitted"}})
		case r.Method == http.MethodGet && !cancelled.Load():
			_ = json.NewEncoder(w).Encode(map[string]any{"order_id": "13", "order_status": "Submitted", "remaining_quantity": 1.0})
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"order_id": "13", "order_status": "Filled",
				"filled_quantity": 1.0, "remaining_quantity": 0.0, "avg_price": 3.10,
				"fills": []map[string]any{
					{"conid": 1, "price": 3.10, "qty": 1.0, "commission": 2.60, "time": 1760000000000},
				},
			})
		case r.Method == http.MethodDelete:
			cancelled.Store(true)
			w.WriteHeader(http.StatusOK)
		}
	})

	result, err := testClient(t, handler).PlaceComboOrder(context.Background(), testComboOrder())
	if err != nil {
		t.Fatalf("PlaceComboOrder failed: %v", err)
	}
	if !cancelled.Load() {
		t.Fatal("timed-out order was never cancelled")
	}
	if result.Status != OrderStatusFilled {
		t.Errorf("status = %q, want Filled after post-cancel verification", result.Status)
	}
	if result.AvgPrice != 3.10 || result.TotalCommission() != 2.60 {
		t.Errorf("result = %+v", result)
	}
}

func TestUnreachableBrokerWrapsSentinel(t *testing.T) {
	client := NewClient(ClientConfig{
		BaseURL:        "http://127.0.0.1:1", // nothing listens here
		AccountID:      "DU12345",
		RequestsPerSec: 1000,
		CallTimeout:    200 * time.Millisecond,
	})
	_, err := client.AccountSummary(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !IsUnreachable(err) {
		t.Errorf("expected ErrUnreachable, got %v", err)
	}
}
