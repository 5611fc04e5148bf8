package broker

import (
	"context"
	"sync"
)

// MockGateway is an in-memory Gateway for tests. Configure the canned
// responses, then assert on the call counters.
type MockGateway struct {
	mu sync.Mutex

	Summary   *AccountSummary
	Positions []OptionPosition
	Preview   *MarginPreview
	Result    *OrderResult
	Status    *OrderStatus

	SummaryErr   error
	PositionsErr error
	PreviewErr   error
	PlaceErr     error
	StatusErr    error
	CancelErr    error

	SummaryCalls   int
	PositionsCalls int
	PreviewCalls   int
	PlaceCalls     int
	StatusCalls    int
	CancelCalls    int

	// PlacedOrders records every order handed to PlaceComboOrder.
	PlacedOrders []ComboOrder
	// CancelledIDs records every order id handed to CancelOrder.
	CancelledIDs []string
}

// Ensure MockGateway implements Gateway at compile time.
var _ Gateway = (*MockGateway)(nil)

// AccountSummary returns the canned summary.
func (m *MockGateway) AccountSummary(_ context.Context) (*AccountSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SummaryCalls++
	if m.SummaryErr != nil {
		return nil, m.SummaryErr
	}
	if m.Summary == nil {
		return &AccountSummary{}, nil
	}
	cp := *m.Summary
	return &cp, nil
}

// OptionPositions returns the canned position list.
func (m *MockGateway) OptionPositions(_ context.Context) ([]OptionPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PositionsCalls++
	if m.PositionsErr != nil {
		return nil, m.PositionsErr
	}
	out := make([]OptionPosition, len(m.Positions))
	copy(out, m.Positions)
	return out, nil
}

// PreviewOrder returns the canned preview; a nil Preview with nil PreviewErr
// models "broker could not compute".
func (m *MockGateway) PreviewOrder(_ context.Context, _ ComboOrder) (*MarginPreview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PreviewCalls++
	if m.PreviewErr != nil {
		return nil, m.PreviewErr
	}
	if m.Preview == nil {
		return nil, nil
	}
	cp := *m.Preview
	return &cp, nil
}

// PlaceComboOrder records the order and returns the canned result.
func (m *MockGateway) PlaceComboOrder(_ context.Context, order ComboOrder) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlaceCalls++
	m.PlacedOrders = append(m.PlacedOrders, order)
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}
	if m.Result == nil {
		return &OrderResult{OrderID: "mock-1", Status: OrderStatusFilled}, nil
	}
	cp := *m.Result
	return &cp, nil
}

// OrderStatus returns the canned status.
func (m *MockGateway) OrderStatus(_ context.Context, orderID string) (*OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls++
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	if m.Status == nil {
		return &OrderStatus{OrderID: orderID, Status: OrderStatusSubmitted}, nil
	}
	cp := *m.Status
	return &cp, nil
}

// CancelOrder records the cancel.
func (m *MockGateway) CancelOrder(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls++
	m.CancelledIDs = append(m.CancelledIDs, orderID)
	return m.CancelErr
}
