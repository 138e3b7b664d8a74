package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_condor/internal/util"
)

// PositionTypeIronCondor is the only position type this service creates.
const PositionTypeIronCondor = "iron_condor"

// pnlEpsilon absorbs float noise when checking P&L bounds
const pnlEpsilon = 1e-9

// Strikes holds the four legs of an Iron Condor.
type Strikes struct {
	PutLong   float64 `json:"put_long"`
	PutShort  float64 `json:"put_short"`
	CallShort float64 `json:"call_short"`
	CallLong  float64 `json:"call_long"`
}

// PutSpreadWidth returns the distance between the put legs.
func (s Strikes) PutSpreadWidth() float64 {
	return s.PutShort - s.PutLong
}

// CallSpreadWidth returns the distance between the call legs.
func (s Strikes) CallSpreadWidth() float64 {
	return s.CallLong - s.CallShort
}

// Ordered reports whether put_long < put_short < call_short < call_long.
func (s Strikes) Ordered() bool {
	return s.PutLong < s.PutShort && s.PutShort < s.CallShort && s.CallShort < s.CallLong
}

// Position represents a simulated Iron Condor position.
type Position struct {
	StateMachine     *StateMachine  `json:"-"` // Runtime only, excluded from JSON
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
	ID               string         `json:"id"`
	Symbol           string         `json:"symbol"`
	Type             string         `json:"type"`
	Status           PositionStatus `json:"status"`
	OpenedAt         time.Time      `json:"opened_at"`
	Strikes          Strikes        `json:"strikes"`
	UnderlyingPrice  float64        `json:"underlying_price"`
	PremiumCollected float64        `json:"premium_collected"`
	MaxProfit        float64        `json:"max_profit"`
	MaxLoss          float64        `json:"max_loss"`
	PnL              float64        `json:"pnl"`
	Quantity         int            `json:"quantity"`
	DaysToExpiration int            `json:"days_to_expiration"`
}

// NewPosition creates an open Iron Condor position with an initialized state machine.
// MaxProfit and MaxLoss are derived from the premium and the put spread width.
func NewPosition(id, symbol string, underlying float64, strikes Strikes, premium float64,
	daysToExpiration int, openedAt time.Time) *Position {
	return &Position{
		ID:               id,
		Symbol:           symbol,
		Type:             PositionTypeIronCondor,
		UnderlyingPrice:  underlying,
		Strikes:          strikes,
		PremiumCollected: premium,
		MaxProfit:        premium,
		MaxLoss:          util.RoundToCents(strikes.PutSpreadWidth() - premium),
		Quantity:         1,
		OpenedAt:         openedAt.UTC(),
		Status:           StatusOpen,
		PnL:              0,
		DaysToExpiration: daysToExpiration,
		StateMachine:     NewStateMachine(),
	}
}

// ensureMachine ensures the StateMachine is initialized from persisted status
func (p *Position) ensureMachine() *StateMachine {
	if p.StateMachine == nil {
		p.StateMachine = NewStateMachineFromState(p.Status)
	}
	return p.StateMachine
}

// TransitionState moves the position to a new status
func (p *Position) TransitionState(to PositionStatus, condition string, at time.Time) error {
	if err := p.ensureMachine().Transition(to, condition); err != nil {
		return fmt.Errorf("position %s state transition failed: %w", p.ID, err)
	}

	p.Status = to

	if to == StatusClosed && p.ClosedAt == nil {
		closed := at.UTC()
		p.ClosedAt = &closed
	}
	return nil
}

// Close marks the position closed at the given time with the realized P&L.
// A position in a terminal state cannot be closed again.
func (p *Position) Close(pnl float64, at time.Time) error {
	if p.ensureMachine().IsTerminal() {
		return fmt.Errorf("position %s already %s", p.ID, p.Status)
	}
	if err := p.TransitionState(StatusClosed, ConditionPositionClosed, at); err != nil {
		return err
	}
	p.PnL = pnl
	return nil
}

// IsOpen returns true while the position has not been closed
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// Clone returns a deep copy that shares no pointers with p.
func (p *Position) Clone() Position {
	out := *p
	out.StateMachine = nil
	if p.ClosedAt != nil {
		closed := *p.ClosedAt
		out.ClosedAt = &closed
	}
	return out
}

// Validate checks the position against its structural invariants
func (p *Position) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("position has empty ID")
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("position %s has empty symbol", p.ID)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("position %s has unknown status %q", p.ID, p.Status)
	}
	if !p.Strikes.Ordered() {
		return fmt.Errorf("position %s: strikes out of order (%.0f/%.0f/%.0f/%.0f)",
			p.ID, p.Strikes.PutLong, p.Strikes.PutShort, p.Strikes.CallShort, p.Strikes.CallLong)
	}
	if p.MaxProfit != p.PremiumCollected {
		return fmt.Errorf("position %s: max_profit (%.2f) must equal premium_collected (%.2f)",
			p.ID, p.MaxProfit, p.PremiumCollected)
	}
	if want := p.Strikes.PutSpreadWidth() - p.PremiumCollected; math.Abs(p.MaxLoss-want) > pnlEpsilon &&
		math.Abs(p.MaxLoss-util.RoundToCents(want)) > pnlEpsilon {
		return fmt.Errorf("position %s: max_loss (%.2f) must equal spread width minus premium (%.2f)",
			p.ID, p.MaxLoss, want)
	}

	switch p.Status {
	case StatusOpen:
		if p.ClosedAt != nil {
			return fmt.Errorf("position %s in state %s: closed_at must be unset", p.ID, p.Status)
		}
		if p.PnL != 0 {
			return fmt.Errorf("position %s in state %s: pnl must be zero (current: %.2f)", p.ID, p.Status, p.PnL)
		}
	case StatusClosed:
		if p.ClosedAt == nil {
			return fmt.Errorf("position %s in state %s: closed_at must be set", p.ID, p.Status)
		}
		if p.ClosedAt.Before(p.OpenedAt) {
			return fmt.Errorf("position %s in state %s: closed_at (%v) precedes opened_at (%v)",
				p.ID, p.Status, *p.ClosedAt, p.OpenedAt)
		}
		lo, hi := math.Min(-p.MaxLoss, p.MaxProfit), math.Max(-p.MaxLoss, p.MaxProfit)
		if p.PnL < lo-pnlEpsilon || p.PnL > hi+pnlEpsilon {
			return fmt.Errorf("position %s in state %s: pnl %.2f outside [%.2f, %.2f]",
				p.ID, p.Status, p.PnL, lo, hi)
		}
	}
	return nil
}

// ProfitPercent returns realized P&L as a percentage of premium collected.
func (p *Position) ProfitPercent() float64 {
	if p.PremiumCollected == 0 {
		return 0
	}
	return (p.PnL / p.PremiumCollected) * 100
}
