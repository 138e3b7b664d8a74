// Package session simulates the broker link: a connected flag, artificial
// delays, and a random login check.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// ErrNotInitialized is returned by login checks before Initialize.
var ErrNotInitialized = errors.New("browser automation not initialized")

// Config contains the simulated timings and login odds.
type Config struct {
	InitDelay        time.Duration
	LoginDelay       time.Duration
	LoginSuccessRate float64
}

// DefaultConfig is the default configuration for the simulator.
var DefaultConfig = Config{
	InitDelay:        1 * time.Second,
	LoginDelay:       500 * time.Millisecond,
	LoginSuccessRate: 0.75,
}

// Simulator owns the SessionState. It does no locking: Wait and the
// composite Initialize/CheckLogin may block, so concurrent callers must
// serialize the state-touching steps themselves (see manager.Manager).
type Simulator struct {
	config     Config
	automation Automation
	now        func() time.Time
	draw       func() float64
	logger     logrus.FieldLogger

	state models.SessionState
}

// New creates a disconnected Simulator. Negative delays are clamped to zero and
// an out-of-range success rate falls back to the default.
func New(config Config, automation Automation, logger logrus.FieldLogger) *Simulator {
	if config.InitDelay < 0 {
		config.InitDelay = 0
	}
	if config.LoginDelay < 0 {
		config.LoginDelay = 0
	}
	if config.LoginSuccessRate < 0 || config.LoginSuccessRate > 1 {
		config.LoginSuccessRate = DefaultConfig.LoginSuccessRate
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if automation == nil {
		automation = NewLoggingAutomation(logger)
	}
	return &Simulator{
		config:     config,
		automation: automation,
		now:        time.Now,
		draw:       func() float64 { return 0 },
		logger:     logger,
		state:      emptyState(),
	}
}

// WithClock overrides the time source.
func (s *Simulator) WithClock(now func() time.Time) *Simulator {
	if now != nil {
		s.now = now
	}
	return s
}

// WithDraw sets the [0,1) source used for the login check.
func (s *Simulator) WithDraw(draw func() float64) *Simulator {
	if draw != nil {
		s.draw = draw
	}
	return s
}

// Config returns the effective configuration.
func (s *Simulator) Config() Config { return s.config }

func emptyState() models.SessionState {
	return models.SessionState{LinkedPositions: []models.Position{}}
}

// Connect marks the link running and opens the automation handle. It does not
// wait; callers apply Config().InitDelay with Wait. Calling it again refreshes the timestamp and session id.
func (s *Simulator) Connect(headless bool) (models.SessionState, error) {
	if err := s.automation.Open(headless); err != nil {
		return models.SessionState{}, fmt.Errorf("failed to initialize browser automation: %w", err)
	}
	s.markConnected(headless, s.automation.Available())
	s.logger.WithFields(logrus.Fields{
		"session_id": s.state.SessionID,
		"headless":   headless,
	}).Info("Broker session initialized")
	return s.State(), nil
}

// ForceConnect marks the link running without touching the automation
// handle. Demo data uses it.
func (s *Simulator) ForceConnect() models.SessionState {
	s.markConnected(s.state.Headless, true)
	s.logger.WithField("session_id", s.state.SessionID).Debug("Broker session forced connected")
	return s.State()
}

func (s *Simulator) markConnected(headless, automation bool) {
	now := s.now().UTC()
	s.state.IsRunning = true
	s.state.HasAutomation = automation
	s.state.Headless = headless
	s.state.InitializedAt = &now
	s.state.SessionID = uuid.NewString()
}

// IsRunning reports whether the link is up.
func (s *Simulator) IsRunning() bool { return s.state.IsRunning }

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrawLogin performs the login draw. It fails with ErrNotInitialized when the
// link is down. Callers wait Config().LoginDelay first.
func (s *Simulator) DrawLogin() (models.LoginResult, error) {
	if !s.state.IsRunning {
		return models.LoginResult{}, ErrNotInitialized
	}
	if s.draw() >= s.config.LoginSuccessRate {
		s.logger.WithField("session_id", s.state.SessionID).Info("Login check: not logged in")
		return models.LoginResult{Success: false, LoggedIn: false}, nil
	}
	account := models.DemoAccount
	s.logger.WithFields(logrus.Fields{
		"session_id": s.state.SessionID,
		"account_id": account.AccountID,
	}).Info("Login check: logged in")
	return models.LoginResult{Success: true, LoggedIn: true, AccountInfo: &account}, nil
}

// Link mirrors an open position into the session list.
func (s *Simulator) Link(p *models.Position) {
	s.state.LinkedPositions = append(s.state.LinkedPositions, p.Clone())
}

// Unlink drops every mirrored position with id and reports whether any matched.
func (s *Simulator) Unlink(id string) bool {
	kept := s.state.LinkedPositions[:0]
	removed := false
	for _, p := range s.state.LinkedPositions {
		if p.ID == id {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	s.state.LinkedPositions = kept
	return removed
}

// LinkedCount is the number of mirrored positions.
func (s *Simulator) LinkedCount() int { return len(s.state.LinkedPositions) }

// State returns a deep copy of the session state.
func (s *Simulator) State() models.SessionState { return s.state.Clone() }

// Reset disconnects, clears the mirror and closes the automation handle.
func (s *Simulator) Reset() {
	if err := s.automation.Close(); err != nil {
		s.logger.WithError(err).Warn("Failed to close browser automation")
	}
	s.state = emptyState()
}
