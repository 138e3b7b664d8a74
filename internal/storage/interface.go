package storage

import (
	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// Interface defines the contract for the in-memory position book.
//
// Implementations are not synchronized. manager.Manager holds a single lock
// across every call so that the open book, the history and the session mirror
// change together.
type Interface interface {
	// Open positions
	Add(pos *models.Position) error
	Get(id string) (*models.Position, bool)
	Remove(id string) (*models.Position, error)
	GetOpen() []models.Position
	OpenCount() int

	// Closed positions and analytics
	Archive(pos *models.Position)
	GetHistory() []models.Position
	GetStatistics() *Statistics

	Reset()
}

// Journal is a write-only audit trail of position events. It is never read
// back into state.
type Journal interface {
	RecordOpen(pos *models.Position) error
	RecordClose(pos *models.Position) error
	Close() error
}

// NewStorage creates the in-memory position book
func NewStorage() Interface {
	return NewMemoryStore()
}

// NewJournal opens a SQLite journal at path, or a no-op journal when path is empty
func NewJournal(path string) (Journal, error) {
	if path == "" {
		return NopJournal{}, nil
	}
	return OpenSQLiteJournal(path)
}

// Ensure implementations satisfy their interfaces
var (
	_ Interface = (*MemoryStore)(nil)
	_ Journal   = NopJournal{}
	_ Journal   = (*SQLiteJournal)(nil)
	_ Journal   = (*MockJournal)(nil)
)

// NopJournal discards every record
type NopJournal struct{}

// RecordOpen does nothing
func (NopJournal) RecordOpen(*models.Position) error { return nil }

// RecordClose does nothing
func (NopJournal) RecordClose(*models.Position) error { return nil }

// Close does nothing
func (NopJournal) Close() error { return nil }
