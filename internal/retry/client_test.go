package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/pipeline"
)

type fakeCloser struct {
	calls int
	errs  []error
}

func (f *fakeCloser) Close(_ context.Context, pos models.Position, exitReason string, estimatedPnL float64) (models.Position, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return pos, f.errs[idx]
	}
	closed, _ := pos.Close(exitReason, 0.50, 1.30, time.Now().UTC())
	return closed, nil
}

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func openPosition() models.Position {
	return models.Position{
		ID:          "BPS-SPY-20260801",
		Symbol:      "SPY",
		Structure:   models.StructureBullPutSpread,
		Status:      models.StatusOpen,
		EntryCredit: 2.00,
		Quantity:    1,
		Legs: []models.Leg{
			{Type: models.RightPut, Strike: 600, Action: models.ActionBuy, Ratio: 1},
			{Type: models.RightPut, Strike: 610, Action: models.ActionSell, Ratio: 1},
		},
	}
}

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test: ", log.LstdFlags)
}

func TestCloseRetriesTransientErrors(t *testing.T) {
	closer := &fakeCloser{errs: []error{
		fmt.Errorf("close: %w", &broker.APIError{Status: 503, Body: "unavailable"}),
		fmt.Errorf("close: %w", pipeline.ErrOrderTimeout),
		nil,
	}}
	c := NewClient(closer, testLogger(), fastConfig())

	closed, err := c.ClosePositionWithRetry(context.Background(), openPosition(), "profit target", 0)
	if err != nil {
		t.Fatalf("ClosePositionWithRetry: %v", err)
	}
	if closer.calls != 3 {
		t.Errorf("calls = %d, want 3", closer.calls)
	}
	if closed.Status != models.StatusClosed {
		t.Errorf("status = %s, want CLOSED", closed.Status)
	}
}

func TestClosePermanentErrorNotRetried(t *testing.T) {
	permanent := fmt.Errorf("close: %w", &broker.APIError{Status: 400, Body: "bad order"})
	closer := &fakeCloser{errs: []error{permanent, nil}}
	c := NewClient(closer, testLogger(), fastConfig())

	_, err := c.ClosePositionWithRetry(context.Background(), openPosition(), "stop loss", -100)
	if err == nil {
		t.Fatal("permanent error should fail the close")
	}
	if closer.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", closer.calls)
	}
	var apiErr *broker.APIError
	if !errors.As(err, &apiErr) {
		t.Errorf("err = %v, want wrapped APIError", err)
	}
}

func TestCloseExhaustsRetries(t *testing.T) {
	transient := fmt.Errorf("close: %w", &broker.APIError{Status: 502, Body: "bad gateway"})
	closer := &fakeCloser{errs: []error{transient, transient, transient, transient}}
	c := NewClient(closer, testLogger(), fastConfig())

	_, err := c.ClosePositionWithRetry(context.Background(), openPosition(), "profit target", 0)
	if err == nil {
		t.Fatal("exhausted retries should fail")
	}
	if closer.calls != 4 {
		t.Errorf("calls = %d, want 4 (1 + 3 retries)", closer.calls)
	}
}

func TestCloseRespectsContextCancel(t *testing.T) {
	transient := fmt.Errorf("close: %w", &broker.APIError{Status: 503, Body: "unavailable"})
	closer := &fakeCloser{errs: []error{transient, transient, transient, transient}}
	c := NewClient(closer, testLogger(), Config{
		MaxRetries:     3,
		InitialBackoff: time.Hour,
		MaxBackoff:     time.Hour,
		Timeout:        20 * time.Millisecond,
	})

	start := time.Now()
	_, err := c.ClosePositionWithRetry(context.Background(), openPosition(), "profit target", 0)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("took %v, backoff should abort on context deadline", elapsed)
	}
}
