package market

import (
	"testing"
	"time"
)

func TestHours_IsOpen(t *testing.T) {
	h := DefaultHours()
	loc := h.Location()
	at := func(day, hour, min, sec int) time.Time {
		// March 2025: the 10th is a Monday
		return time.Date(2025, 3, day, hour, min, sec, 0, loc)
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before open", at(10, 9, 29, 59), false},
		{"at open", at(10, 9, 30, 0), true},
		{"midday", at(12, 12, 0, 0), true},
		{"at close", at(14, 16, 0, 0), true},
		{"after close", at(14, 16, 0, 1), false},
		{"saturday midday", at(15, 12, 0, 0), false},
		{"sunday midday", at(16, 12, 0, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.IsOpen(tt.now); got != tt.want {
				t.Errorf("IsOpen(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestHours_IsOpen_ConvertsFromUTC(t *testing.T) {
	h := DefaultHours()
	local := time.Date(2025, 3, 11, 10, 0, 0, 0, h.Location())
	if !h.IsOpen(local.UTC()) {
		t.Errorf("IsOpen(%v) = false, want true for the same instant in UTC", local.UTC())
	}
}

func TestNewHours_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		open, close string
	}{
		{"bad open", "9am", "16:00"},
		{"bad close", "09:30", "4pm"},
		{"reversed", "16:00", "09:30"},
		{"empty window", "10:00", "10:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHours(DefaultTimezone, tt.open, tt.close); err == nil {
				t.Errorf("NewHours(%q, %q) expected error", tt.open, tt.close)
			}
		})
	}
}

func TestLoadLocation_Fallback(t *testing.T) {
	if loc := LoadLocation("Not/A_Zone"); loc == nil {
		t.Fatal("LoadLocation returned nil")
	}
	if loc := LoadLocation(""); loc == nil {
		t.Fatal("LoadLocation returned nil for empty tz")
	}
}

func TestHours_ZeroValueUsesDefault(t *testing.T) {
	var h Hours
	now := time.Date(2025, 3, 10, 11, 0, 0, 0, LoadLocation(DefaultTimezone))
	if !h.IsOpen(now) {
		t.Errorf("zero Hours should behave like DefaultHours")
	}
}
