package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// JSONStore persists the ledger to a single JSON file with atomic writes.
type JSONStore struct {
	mu       sync.RWMutex
	filepath string
	data     *ledgerData
}

type ledgerData struct {
	Positions     []models.Position  `json:"positions"`
	DailyDeployed map[string]float64 `json:"daily_deployed"`
	Statistics    *Statistics        `json:"statistics"`
	LastUpdated   time.Time          `json:"last_updated"`
}

// Statistics are derived from closed positions as they are recorded.
type Statistics struct {
	TotalTrades   int                      `json:"total_trades"`
	WinningTrades int                      `json:"winning_trades"`
	LosingTrades  int                      `json:"losing_trades"`
	WinRate       float64                  `json:"win_rate"`
	TotalPnL      float64                  `json:"total_pnl"`
	AverageWin    float64                  `json:"average_win"`
	AverageLoss   float64                  `json:"average_loss"`
	MaxDrawdown   float64                  `json:"max_drawdown"`
	CurrentStreak int                      `json:"current_streak"`
	ByStructure   map[models.Structure]int `json:"by_structure"`
}

// NewJSONStore opens (or initializes) the ledger file at filepath.
func NewJSONStore(filepath string) (*JSONStore, error) {
	s := &JSONStore{
		filepath: filepath,
		data: &ledgerData{
			DailyDeployed: make(map[string]float64),
			Statistics:    &Statistics{ByStructure: make(map[models.Structure]int)},
		},
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading ledger: %w", err)
		}
	}

	return s, nil
}

// Load reads the ledger from disk, replacing the in-memory state.
func (s *JSONStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return err
	}
	if s.data.DailyDeployed == nil {
		s.data.DailyDeployed = make(map[string]float64)
	}
	if s.data.Statistics == nil {
		s.data.Statistics = &Statistics{}
	}
	if s.data.Statistics.ByStructure == nil {
		s.data.Statistics.ByStructure = make(map[models.Structure]int)
	}
	return nil
}

// Save writes the ledger to disk atomically (temp file + rename).
func (s *JSONStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStore) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// GetOpenPositions returns copies of all OPEN positions.
func (s *JSONStore) GetOpenPositions() []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []models.Position
	for i := range s.data.Positions {
		if s.data.Positions[i].Status == models.StatusOpen {
			open = append(open, s.data.Positions[i].Copy())
		}
	}
	return open
}

// GetAllPositions returns copies of every position, open and closed.
func (s *JSONStore) GetAllPositions() []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]models.Position, 0, len(s.data.Positions))
	for i := range s.data.Positions {
		all = append(all, s.data.Positions[i].Copy())
	}
	return all
}

// GetPositionByID returns a copy of the position with the given ID.
func (s *JSONStore) GetPositionByID(id string) (models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.Positions {
		if s.data.Positions[i].ID == id {
			return s.data.Positions[i].Copy(), true
		}
	}
	return models.Position{}, false
}

// AddPosition appends a validated position and persists.
func (s *JSONStore) AddPosition(pos models.Position) error {
	if err := pos.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Positions {
		if s.data.Positions[i].ID == pos.ID {
			return fmt.Errorf("%w: %s", ErrDuplicatePosition, pos.ID)
		}
	}
	s.data.Positions = append(s.data.Positions, pos.Copy())
	return s.saveLocked()
}

// UpdatePosition replaces the stored record with the same ID as a whole and
// persists. Used by reconciliation to attach broker-observed fields.
func (s *JSONStore) UpdatePosition(pos models.Position) error {
	if err := pos.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Positions {
		if s.data.Positions[i].ID == pos.ID {
			s.data.Positions[i] = pos.Copy()
			return s.saveLocked()
		}
	}
	return fmt.Errorf("%w: %s", ErrPositionNotFound, pos.ID)
}

// ClosePosition replaces the stored record with its CLOSED value and folds
// the realized P&L into the statistics.
func (s *JSONStore) ClosePosition(closed models.Position) error {
	if closed.Status != models.StatusClosed {
		return fmt.Errorf("position %s is not closed", closed.ID)
	}
	if err := closed.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Positions {
		if s.data.Positions[i].ID != closed.ID {
			continue
		}
		if s.data.Positions[i].Status == models.StatusClosed {
			return fmt.Errorf("position %s already closed in ledger", closed.ID)
		}
		s.data.Positions[i] = closed.Copy()
		s.updateStatistics(&closed)
		return s.saveLocked()
	}
	return fmt.Errorf("%w: %s", ErrPositionNotFound, closed.ID)
}

// GetDailyDeployed returns the capital deployed on the given trading date.
func (s *JSONStore) GetDailyDeployed(date string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DailyDeployed[date]
}

// AddDailyDeployed increments the date's deployed counter and persists.
func (s *JSONStore) AddDailyDeployed(date string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.DailyDeployed[date] += amount
	return s.saveLocked()
}

// GetStatistics returns a copy of the derived statistics.
func (s *JSONStore) GetStatistics() *Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := *s.data.Statistics
	stats.ByStructure = make(map[models.Structure]int, len(s.data.Statistics.ByStructure))
	for k, v := range s.data.Statistics.ByStructure {
		stats.ByStructure[k] = v
	}
	return &stats
}

func (s *JSONStore) updateStatistics(closed *models.Position) {
	stats := s.data.Statistics
	pnl := closed.RealizedPnL

	stats.TotalTrades++
	stats.TotalPnL += pnl
	stats.ByStructure[closed.Structure]++

	if pnl > 0 {
		stats.WinningTrades++
		if stats.CurrentStreak >= 0 {
			stats.CurrentStreak++
		} else {
			stats.CurrentStreak = 1
		}
		totalWins := stats.AverageWin*float64(stats.WinningTrades-1) + pnl
		stats.AverageWin = totalWins / float64(stats.WinningTrades)
	} else {
		stats.LosingTrades++
		if stats.CurrentStreak <= 0 {
			stats.CurrentStreak--
		} else {
			stats.CurrentStreak = -1
		}
		totalLosses := stats.AverageLoss*float64(stats.LosingTrades-1) + pnl
		stats.AverageLoss = totalLosses / float64(stats.LosingTrades)
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}
	if pnl < 0 && pnl < stats.MaxDrawdown {
		stats.MaxDrawdown = pnl
	}
}
