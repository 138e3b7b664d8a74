package models

import "time"

// MarketState is the latest volatility snapshot.
type MarketState struct {
	LastCheck  *time.Time `json:"last_vix_check"`
	VIXValue   *float64   `json:"vix_value"`
	MarketOpen bool       `json:"is_market_open"`
}

// Clone returns a copy that shares no pointers with m.
func (m MarketState) Clone() MarketState {
	out := m
	if m.LastCheck != nil {
		t := *m.LastCheck
		out.LastCheck = &t
	}
	if m.VIXValue != nil {
		v := *m.VIXValue
		out.VIXValue = &v
	}
	return out
}

// SessionState tracks the simulated broker link.
type SessionState struct {
	InitializedAt   *time.Time `json:"last_initialized_at"`
	SessionID       string     `json:"session_id,omitempty"`
	LinkedPositions []Position `json:"positions"`
	IsRunning       bool       `json:"is_running"`
	HasAutomation   bool       `json:"has_automation"`
	Headless        bool       `json:"headless"`
}

// Clone returns a deep copy of the session state.
func (s SessionState) Clone() SessionState {
	out := s
	if s.InitializedAt != nil {
		t := *s.InitializedAt
		out.InitializedAt = &t
	}
	out.LinkedPositions = make([]Position, len(s.LinkedPositions))
	for i := range s.LinkedPositions {
		out.LinkedPositions[i] = s.LinkedPositions[i].Clone()
	}
	return out
}

// AccountInfo is the demo account reported after a successful login check.
type AccountInfo struct {
	AccountID   string  `json:"account_id"`
	AccountType string  `json:"account_type"`
	BuyingPower float64 `json:"buying_power"`
}

// DemoAccount is returned by every successful login check.
var DemoAccount = AccountInfo{
	AccountID:   "DEMO_12345",
	AccountType: "MARGIN",
	BuyingPower: 25000.00,
}

// LoginResult is the outcome of a login check.
type LoginResult struct {
	AccountInfo *AccountInfo `json:"account_info,omitempty"`
	Success     bool         `json:"success"`
	LoggedIn    bool         `json:"logged_in"`
}
