// Package storage persists the position ledger as a single JSON document.
// The on-disk field names are a durable contract shared with external
// reporting tools and must not change.
package storage

import (
	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// Interface defines the contract for ledger persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe. The provided JSONStore implementation uses
// sync.RWMutex to serialize access.
//
// Writes are whole-record: a position is added or replaced as a unit, never
// partially mutated in place.
type Interface interface {
	// Position management
	GetOpenPositions() []models.Position
	GetAllPositions() []models.Position
	GetPositionByID(id string) (models.Position, bool)
	AddPosition(pos models.Position) error
	UpdatePosition(pos models.Position) error
	ClosePosition(closed models.Position) error

	// Daily deployment tracking, keyed by trading date (YYYY-MM-DD)
	GetDailyDeployed(date string) float64
	AddDailyDeployed(date string, amount float64) error

	// Data persistence
	Save() error
	Load() error

	// Analytics
	GetStatistics() *Statistics
}

// NewStore creates the default ledger implementation (currently JSON-based).
func NewStore(filepath string) (Interface, error) {
	return NewJSONStore(filepath)
}

// Ensure JSONStore implements Interface
var _ Interface = (*JSONStore)(nil)
