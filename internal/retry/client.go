// Package retry wraps pipeline close operations with bounded retries and
// jittered backoff for transient broker failures.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/pipeline"
)

// Closer is the slice of the pipeline the retry client needs.
type Closer interface {
	Close(ctx context.Context, pos models.Position, exitReason string, estimatedPnL float64) (models.Position, error)
}

// Config bounds the retry loop.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is the default retry configuration.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries position closes that fail transiently.
type Client struct {
	closer Closer
	logger *log.Logger
	config Config
}

// NewClient creates a retry client around a pipeline.
func NewClient(closer Closer, logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = log.New(os.Stderr, "retry: ", log.LstdFlags)
	}
	if closer == nil {
		panic("retry.NewClient: closer must not be nil")
	}

	return &Client{
		closer: closer,
		logger: logger,
		config: cfg,
	}
}

// ClosePositionWithRetry closes a position, retrying transient failures with
// jittered backoff. Unreachable-broker degradation happens inside the
// pipeline and is not retried here: a degraded close is still a close.
func (c *Client) ClosePositionWithRetry(ctx context.Context, pos models.Position, exitReason string, estimatedPnL float64) (models.Position, error) {
	closeCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-closeCtx.Done():
			return pos, fmt.Errorf("close timed out after %v: %w", c.config.Timeout, closeCtx.Err())
		default:
		}

		c.logger.Printf("Close attempt %d/%d for position %s", attempt+1, c.config.MaxRetries+1, pos.ID)

		closed, err := c.closer.Close(closeCtx, pos, exitReason, estimatedPnL)
		if err == nil {
			if attempt > 0 {
				c.logger.Printf("Close succeeded on attempt %d for %s", attempt+1, pos.ID)
			}
			return closed, nil
		}

		lastErr = err
		c.logger.Printf("Close attempt %d failed: %v", attempt+1, err)

		if !isTransient(err) || attempt == c.config.MaxRetries {
			break
		}
		c.logger.Printf("Transient error, retrying in %v", backoff)
		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-closeCtx.Done():
			return pos, fmt.Errorf("close timed out during backoff: %w", closeCtx.Err())
		}
	}

	return pos, fmt.Errorf("failed to close position %s after %d attempts: %w", pos.ID, c.config.MaxRetries+1, lastErr)
}

func (c *Client) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

// isTransient classifies errors worth retrying: broker 5xx/429 responses and
// order timeouts, where a fresh attempt at updated prices can succeed.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pipeline.ErrOrderTimeout) {
		return true
	}
	var apiErr *broker.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return false
}
