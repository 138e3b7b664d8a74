package market

import (
	"fmt"
	"time"
)

// Regular US equity session, exchange local time.
const (
	DefaultTimezone = "America/New_York"
	DefaultOpen     = "09:30"
	DefaultClose    = "16:00"
)

// Hours is a weekday trading window in a fixed location. Both ends are inclusive
// and no holiday calendar is applied.
type Hours struct {
	loc      *time.Location
	openMin  int
	closeMin int
}

// LoadLocation resolves tz, falling back to America/New_York and finally to a
// fixed UTC-5 zone when the host has no tzdata.
func LoadLocation(tz string) *time.Location {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err == nil {
		return loc
	}
	if fallbackLoc, err2 := time.LoadLocation(DefaultTimezone); err2 == nil {
		return fallbackLoc
	}
	// DST-agnostic final fallback for minimal containers
	return time.FixedZone("ET", -5*60*60)
}

// DefaultHours is Mon-Fri 09:30-16:00 America/New_York.
func DefaultHours() Hours {
	h, _ := NewHours(DefaultTimezone, DefaultOpen, DefaultClose)
	return h
}

// NewHours parses "HH:MM" bounds. open must be strictly before close.
func NewHours(timezone, open, close string) (Hours, error) {
	loc := LoadLocation(timezone)
	s, err := time.Parse("15:04", open)
	if err != nil {
		return Hours{}, fmt.Errorf("invalid open time %q: %w", open, err)
	}
	e, err := time.Parse("15:04", close)
	if err != nil {
		return Hours{}, fmt.Errorf("invalid close time %q: %w", close, err)
	}
	h := Hours{
		loc:      loc,
		openMin:  s.Hour()*60 + s.Minute(),
		closeMin: e.Hour()*60 + e.Minute(),
	}
	if h.openMin >= h.closeMin {
		return Hours{}, fmt.Errorf("trading window %s-%s is empty", open, close)
	}
	return h, nil
}

// Location returns the zone the window is evaluated in.
func (h Hours) Location() *time.Location {
	if h.loc == nil {
		return LoadLocation(DefaultTimezone)
	}
	return h.loc
}

// IsOpen reports whether now falls inside the window on a weekday.
func (h Hours) IsOpen(now time.Time) bool {
	if h.loc == nil {
		h = DefaultHours()
	}
	today := now.In(h.loc)

	// Only allow Monday–Friday trading
	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	start := time.Date(today.Year(), today.Month(), today.Day(), h.openMin/60, h.openMin%60, 0, 0, h.loc)
	end := time.Date(today.Year(), today.Month(), today.Day(), h.closeMin/60, h.closeMin%60, 0, 0, h.loc)

	return !today.Before(start) && !today.After(end)
}
