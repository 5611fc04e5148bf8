// Package broker provides the gateway to the brokerage trading API. It is
// the only package in the system that performs network I/O.
package broker

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnreachable marks transport-level failures: the broker could not be
// contacted at all. Callers use errors.Is to pick the degraded path instead
// of treating it as an order rejection.
var ErrUnreachable = errors.New("broker unreachable")

// APIError represents a broker HTTP error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// IsRetryable reports whether the request can be safely retried.
func (e *APIError) IsRetryable() bool {
	return e.Status >= 500 || e.Status == 429
}

// isPermanentAPIError checks if an error is a permanent API error that
// retrying cannot fix.
func isPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.IsRetryable()
	}
	return false
}

// IsUnreachable reports whether the error means the broker could not be
// contacted (as opposed to the broker answering with a rejection).
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// Gateway defines the synchronous facade over the brokerage trading API.
// Calls against one gateway are not reentrant; callers serialize access.
type Gateway interface {
	// Account state
	AccountSummary(ctx context.Context) (*AccountSummary, error)
	OptionPositions(ctx context.Context) ([]OptionPosition, error)

	// PreviewOrder asks the broker for a margin what-if. A (nil, nil)
	// return means the broker could not compute a preview; that is not an
	// error.
	PreviewOrder(ctx context.Context, order ComboOrder) (*MarginPreview, error)

	// PlaceComboOrder submits a multi-leg order and blocks until it fills
	// or the configured order timeout elapses. On timeout the order is
	// cancelled and the result carries status CANCELLED_TIMEOUT.
	PlaceComboOrder(ctx context.Context, order ComboOrder) (*OrderResult, error)

	OrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
}
