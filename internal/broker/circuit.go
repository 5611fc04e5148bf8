package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitGateway wraps a Gateway with circuit breaker protection so a
// flapping broker connection stops burning the request budget.
type CircuitGateway struct {
	gateway Gateway
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitGateway implements Gateway at compile time.
var _ Gateway = (*CircuitGateway)(nil)

// CircuitSettings configures circuit breaker behavior.
type CircuitSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitGateway wraps a gateway with sensible breaker defaults.
func NewCircuitGateway(gateway Gateway) *CircuitGateway {
	return NewCircuitGatewayWithSettings(gateway, CircuitSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitGatewayWithSettings wraps a gateway with custom breaker settings.
func NewCircuitGatewayWithSettings(gateway Gateway, settings CircuitSettings) *CircuitGateway {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerGateway",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// A 4xx means the broker answered; only transport failures and
			// server errors should trip the breaker.
			return isPermanentAPIError(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitGateway{
		gateway: gateway,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuit is a generic helper for circuit breaker wrapper methods.
func execCircuit[T any](
	breaker *gobreaker.CircuitBreaker,
	gateway Gateway,
	fn func(Gateway) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(gateway) })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, errors.Join(ErrUnreachable, err)
		}
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// AccountSummary wraps the underlying gateway call with the circuit breaker.
func (c *CircuitGateway) AccountSummary(ctx context.Context) (*AccountSummary, error) {
	return execCircuit(c.breaker, c.gateway, func(g Gateway) (*AccountSummary, error) {
		return g.AccountSummary(ctx)
	})
}

// OptionPositions wraps the underlying gateway call with the circuit breaker.
func (c *CircuitGateway) OptionPositions(ctx context.Context) ([]OptionPosition, error) {
	return execCircuit(c.breaker, c.gateway, func(g Gateway) ([]OptionPosition, error) {
		return g.OptionPositions(ctx)
	})
}

// PreviewOrder wraps the underlying gateway call with the circuit breaker.
func (c *CircuitGateway) PreviewOrder(ctx context.Context, order ComboOrder) (*MarginPreview, error) {
	return execCircuit(c.breaker, c.gateway, func(g Gateway) (*MarginPreview, error) {
		return g.PreviewOrder(ctx, order)
	})
}

// PlaceComboOrder wraps the underlying gateway call with the circuit breaker.
func (c *CircuitGateway) PlaceComboOrder(ctx context.Context, order ComboOrder) (*OrderResult, error) {
	return execCircuit(c.breaker, c.gateway, func(g Gateway) (*OrderResult, error) {
		return g.PlaceComboOrder(ctx, order)
	})
}

// OrderStatus wraps the underlying gateway call with the circuit breaker.
func (c *CircuitGateway) OrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	return execCircuit(c.breaker, c.gateway, func(g Gateway) (*OrderStatus, error) {
		return g.OrderStatus(ctx, orderID)
	})
}

// CancelOrder wraps the underlying gateway call with the circuit breaker.
func (c *CircuitGateway) CancelOrder(ctx context.Context, orderID string) error {
	_, err := execCircuit(c.breaker, c.gateway, func(g Gateway) (struct{}, error) {
		return struct{}{}, g.CancelOrder(ctx, orderID)
	})
	return err
}
