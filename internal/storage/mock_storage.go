package storage

import (
	"sync"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// MockJournal implements Journal for testing
type MockJournal struct {
	mu         sync.Mutex
	openError  error
	closeError error
	opened     []models.Position
	closed     []models.Position
	closeCalls int
}

// NewMockJournal creates a new mock journal for testing
func NewMockJournal() *MockJournal {
	return &MockJournal{}
}

// RecordOpen records pos unless an open error is set
func (m *MockJournal) RecordOpen(pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openError != nil {
		return m.openError
	}
	m.opened = append(m.opened, pos.Clone())
	return nil
}

// RecordClose records pos unless a close error is set
func (m *MockJournal) RecordClose(pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeError != nil {
		return m.closeError
	}
	m.closed = append(m.closed, pos.Clone())
	return nil
}

// Close counts calls
func (m *MockJournal) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

// SetOpenError makes RecordOpen fail with err
func (m *MockJournal) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openError = err
}

// SetCloseError makes RecordClose fail with err
func (m *MockJournal) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeError = err
}

// Opened returns the positions recorded as opened
func (m *MockJournal) Opened() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Position(nil), m.opened...)
}

// Closed returns the positions recorded as closed
func (m *MockJournal) Closed() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Position(nil), m.closed...)
}

// CloseCalls returns how often Close was called
func (m *MockJournal) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}
