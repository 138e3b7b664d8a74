package manager

import (
	"errors"

	"github.com/eddiefleurent/scranton_condor/internal/session"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
)

// Sentinel errors returned by Manager operations. Match with errors.Is.
var (
	// ErrNotInitialized means the login check ran before Initialize.
	ErrNotInitialized = session.ErrNotInitialized
	// ErrBrokerNotConnected means a position was requested while the link is down.
	ErrBrokerNotConnected = errors.New("broker connection required to create positions")
	// ErrNotFound means no open position has the requested id.
	ErrNotFound = storage.ErrNotFound
)
