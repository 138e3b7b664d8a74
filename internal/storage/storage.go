package storage

import (
	"fmt"

	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/util"
)

// MemoryStore keeps open positions in insertion order and closed positions
// as an append-only history.
type MemoryStore struct {
	open       []*models.Position
	history    []models.Position
	statistics *Statistics
}

// Statistics summarizes closed trades and the current open book.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AveragePnL    float64 `json:"average_pnl"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	CurrentStreak int     `json:"current_streak"`
	OpenPositions int     `json:"open_positions"`
	PremiumAtRisk float64 `json:"premium_at_risk"`
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		open:       []*models.Position{},
		history:    []models.Position{},
		statistics: &Statistics{},
	}
}

// Add appends pos to the open book
func (s *MemoryStore) Add(pos *models.Position) error {
	if pos == nil {
		return fmt.Errorf("nil position")
	}
	if _, ok := s.Get(pos.ID); ok {
		return fmt.Errorf("add %s: %w", pos.ID, ErrDuplicateID)
	}
	s.open = append(s.open, pos)
	return nil
}

// Get returns the open position with id
func (s *MemoryStore) Get(id string) (*models.Position, bool) {
	for _, p := range s.open {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Remove takes the open position with id out of the book
func (s *MemoryStore) Remove(id string) (*models.Position, error) {
	for i, p := range s.open {
		if p.ID == id {
			s.open = append(s.open[:i], s.open[i+1:]...)
			return p, nil
		}
	}
	return nil, fmt.Errorf("remove %s: %w", id, ErrNotFound)
}

// GetOpen returns copies of the open positions in insertion order
func (s *MemoryStore) GetOpen() []models.Position {
	out := make([]models.Position, len(s.open))
	for i, p := range s.open {
		out[i] = p.Clone()
	}
	return out
}

// OpenCount returns the number of open positions
func (s *MemoryStore) OpenCount() int { return len(s.open) }

// Archive appends a closed position to the history and updates statistics
func (s *MemoryStore) Archive(pos *models.Position) {
	s.history = append(s.history, pos.Clone())
	s.updateStatistics(pos.PnL)
}

func (s *MemoryStore) updateStatistics(pnl float64) {
	stats := s.statistics
	stats.TotalTrades++
	stats.TotalPnL = util.RoundToCents(stats.TotalPnL + pnl)

	if pnl > 0 {
		stats.WinningTrades++
		if stats.CurrentStreak >= 0 {
			stats.CurrentStreak++
		} else {
			stats.CurrentStreak = 1
		}

		// Update average win
		totalWins := stats.AverageWin*float64(stats.WinningTrades-1) + pnl
		stats.AverageWin = totalWins / float64(stats.WinningTrades)
	} else {
		stats.LosingTrades++
		if stats.CurrentStreak <= 0 {
			stats.CurrentStreak--
		} else {
			stats.CurrentStreak = -1
		}

		// Update average loss
		totalLosses := stats.AverageLoss*float64(stats.LosingTrades-1) + pnl
		stats.AverageLoss = totalLosses / float64(stats.LosingTrades)
	}

	stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	stats.AveragePnL = stats.TotalPnL / float64(stats.TotalTrades)

	// Update max drawdown
	if pnl < 0 && pnl < stats.MaxDrawdown {
		stats.MaxDrawdown = pnl
	}
}

// GetHistory returns copies of closed positions, most recent last
func (s *MemoryStore) GetHistory() []models.Position {
	out := make([]models.Position, len(s.history))
	for i := range s.history {
		out[i] = s.history[i].Clone()
	}
	return out
}

// GetStatistics returns a snapshot of trade statistics including the open book
func (s *MemoryStore) GetStatistics() *Statistics {
	out := *s.statistics
	out.OpenPositions = len(s.open)
	for _, p := range s.open {
		out.PremiumAtRisk += p.MaxLoss
	}
	out.PremiumAtRisk = util.RoundToCents(out.PremiumAtRisk)
	out.AverageWin = util.RoundToCents(out.AverageWin)
	out.AverageLoss = util.RoundToCents(out.AverageLoss)
	out.AveragePnL = util.RoundToCents(out.AveragePnL)
	return &out
}

// Reset drops every open and closed position
func (s *MemoryStore) Reset() {
	s.open = []*models.Position{}
	s.history = []models.Position{}
	s.statistics = &Statistics{}
}
