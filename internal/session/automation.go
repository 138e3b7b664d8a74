package session

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Automation is the handle a real deployment would use to drive the broker's
// web login in a browser.
type Automation interface {
	Open(headless bool) error
	Close() error
	Available() bool
}

// LoggingAutomation stands in for a browser driver and only logs the steps it
// would take.
type LoggingAutomation struct {
	mu     sync.Mutex
	logger logrus.FieldLogger
	open   bool
}

// Ensure LoggingAutomation implements Automation at compile time.
var _ Automation = (*LoggingAutomation)(nil)

// NewLoggingAutomation creates a LoggingAutomation.
func NewLoggingAutomation(logger logrus.FieldLogger) *LoggingAutomation {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LoggingAutomation{logger: logger}
}

// Open pretends to launch a browser at the login page. Reopening is allowed.
func (a *LoggingAutomation) Open(headless bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = true
	a.logger.WithField("headless", headless).Info("[SIMULATION] Opening browser and navigating to broker login")
	a.logger.Info("[SIMULATION] Browser automation ready for manual login")
	return nil
}

// Close pretends to shut the browser down.
func (a *LoggingAutomation) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open {
		a.logger.Info("[SIMULATION] Closing browser")
	}
	a.open = false
	return nil
}

// Available is always true; nothing needs to be installed.
func (a *LoggingAutomation) Available() bool { return true }
