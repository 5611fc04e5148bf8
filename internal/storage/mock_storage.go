package storage

import (
	"fmt"
	"sync"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// MockStore is an in-memory Interface implementation for tests, with call
// counters for interaction assertions.
type MockStore struct {
	mu sync.Mutex

	positions     []models.Position
	dailyDeployed map[string]float64
	stats         *Statistics

	AddCalls    int
	UpdateCalls int
	CloseCalls  int
	SaveCalls   int

	AddErr    error
	UpdateErr error
	CloseErr  error
	SaveErr   error
}

// NewMockStore creates an empty mock ledger.
func NewMockStore() *MockStore {
	return &MockStore{
		dailyDeployed: make(map[string]float64),
		stats:         &Statistics{ByStructure: make(map[models.Structure]int)},
	}
}

// Ensure MockStore implements Interface
var _ Interface = (*MockStore)(nil)

// GetOpenPositions returns copies of OPEN positions.
func (m *MockStore) GetOpenPositions() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []models.Position
	for i := range m.positions {
		if m.positions[i].Status == models.StatusOpen {
			open = append(open, m.positions[i].Copy())
		}
	}
	return open
}

// GetAllPositions returns copies of all positions.
func (m *MockStore) GetAllPositions() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]models.Position, 0, len(m.positions))
	for i := range m.positions {
		all = append(all, m.positions[i].Copy())
	}
	return all
}

// GetPositionByID looks up a position by ID.
func (m *MockStore) GetPositionByID(id string) (models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.positions {
		if m.positions[i].ID == id {
			return m.positions[i].Copy(), true
		}
	}
	return models.Position{}, false
}

// AddPosition appends a position.
func (m *MockStore) AddPosition(pos models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddCalls++
	if m.AddErr != nil {
		return m.AddErr
	}
	for i := range m.positions {
		if m.positions[i].ID == pos.ID {
			return fmt.Errorf("%w: %s", ErrDuplicatePosition, pos.ID)
		}
	}
	m.positions = append(m.positions, pos.Copy())
	return nil
}

// UpdatePosition replaces a stored position.
func (m *MockStore) UpdatePosition(pos models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	for i := range m.positions {
		if m.positions[i].ID == pos.ID {
			m.positions[i] = pos.Copy()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPositionNotFound, pos.ID)
}

// ClosePosition replaces a stored position with its closed value.
func (m *MockStore) ClosePosition(closed models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	if m.CloseErr != nil {
		return m.CloseErr
	}
	for i := range m.positions {
		if m.positions[i].ID == closed.ID {
			m.positions[i] = closed.Copy()
			m.stats.TotalTrades++
			m.stats.TotalPnL += closed.RealizedPnL
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPositionNotFound, closed.ID)
}

// GetDailyDeployed returns the deployed amount for a date.
func (m *MockStore) GetDailyDeployed(date string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyDeployed[date]
}

// AddDailyDeployed increments a date's deployed counter.
func (m *MockStore) AddDailyDeployed(date string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyDeployed[date] += amount
	return nil
}

// Save counts calls and returns the configured error.
func (m *MockStore) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	return m.SaveErr
}

// Load is a no-op for the mock.
func (m *MockStore) Load() error { return nil }

// GetStatistics returns the mock's statistics.
func (m *MockStore) GetStatistics() *Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.stats
	return &cp
}
