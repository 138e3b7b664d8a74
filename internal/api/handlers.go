package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eddiefleurent/scranton_condor/internal/manager"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
	"github.com/eddiefleurent/scranton_condor/internal/strategy"
)

const maxBodyBytes = 1 << 20

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Webull       bool   `json:"webull"`
	MarketData   bool   `json:"market_data"`
	QuoteBreaker string `json:"quote_breaker,omitempty"`
}

type statusResponse struct {
	IsRunning         bool       `json:"is_running"`
	HasAutomation     bool       `json:"has_automation"`
	LastInitializedAt *time.Time `json:"last_initialized_at"`
	PositionsCount    int        `json:"positions_count"`
	SessionID         string     `json:"session_id,omitempty"`
}

type initializeResponse struct {
	Success  bool   `json:"success"`
	Headless bool   `json:"headless"`
	Message  string `json:"message"`
	NextStep string `json:"next_step"`
}

type loginResponse struct {
	Success     bool                `json:"success"`
	LoggedIn    bool                `json:"logged_in"`
	Message     string              `json:"message"`
	AccountInfo *models.AccountInfo `json:"account_info,omitempty"`
}

type vixResponse struct {
	Success      bool      `json:"success"`
	VIX          float64   `json:"vix"`
	Timestamp    time.Time `json:"timestamp"`
	MarketOpen   bool      `json:"market_open"`
	ConditionMet bool      `json:"condition_met"`
	Message      string    `json:"message"`
}

type positionsResponse struct {
	Success        bool              `json:"success"`
	Positions      []models.Position `json:"positions"`
	TotalPositions int               `json:"total_positions"`
}

type positionResponse struct {
	Success  bool            `json:"success"`
	Position models.Position `json:"position"`
	Message  string          `json:"message"`
}

type closeResponse struct {
	Success        bool            `json:"success"`
	ClosedPosition models.Position `json:"closed_position"`
	Message        string          `json:"message"`
}

type demoResponse struct {
	Success          bool              `json:"success"`
	Message          string            `json:"message"`
	CreatedPositions int               `json:"created_positions"`
	Positions        []models.Position `json:"positions"`
}

type statsResponse struct {
	Success bool               `json:"success"`
	Stats   storage.Statistics `json:"stats"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding errors after WriteHeader can only be logged by the caller's middleware
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

// readBody decodes a JSON object body. Empty, malformed or non-object
// bodies yield an empty map.
func readBody(r *http.Request) map[string]any {
	body := map[string]any{}
	if r.Body == nil {
		return body
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(data) == 0 {
		return body
	}
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		return map[string]any{}
	}
	return body
}

// truthy follows the usual dynamic-language truth rules for JSON values.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func positionsOrEmpty(p []models.Position) []models.Position {
	if p == nil {
		return []models.Position{}
	}
	return p
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.service.Health()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
		Services: healthServices{
			Webull:       h.BrokerConnected,
			MarketData:   h.MarketData,
			QuoteBreaker: h.QuoteBreaker,
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.service.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		IsRunning:         st.IsRunning,
		HasAutomation:     st.HasAutomation,
		LastInitializedAt: st.InitializedAt,
		PositionsCount:    len(st.LinkedPositions),
		SessionID:         st.SessionID,
	})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	headless := truthy(readBody(r)["headless"])

	if _, err := s.service.Initialize(r.Context(), headless); err != nil {
		s.logger.WithError(err).Error("Failed to initialize browser automation")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, initializeResponse{
		Success:  true,
		Headless: headless,
		Message:  "Browser automation initialized. Please complete login manually.",
		NextStep: "Login to your Webull account in the opened browser window",
	})
}

func (s *Server) handleLoginTest(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.CheckLogin(r.Context())
	if err != nil {
		status := statusFor(err)
		msg := fmt.Sprintf("Login check failed: %v", err)
		if errors.Is(err, manager.ErrNotInitialized) {
			msg = "Browser automation not initialized. Please initialize first."
		}
		writeError(w, status, msg)
		return
	}

	if !res.Success {
		writeJSON(w, http.StatusOK, loginResponse{
			Success:  false,
			LoggedIn: false,
			Message:  "Login required. Please complete login in the browser window.",
		})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Success:     true,
		LoggedIn:    true,
		Message:     "Successfully logged into Webull account",
		AccountInfo: res.AccountInfo,
	})
}

func (s *Server) handleVIX(w http.ResponseWriter, r *http.Request) {
	reading, err := s.service.FetchVIX(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to fetch VIX")
		writeError(w, http.StatusInternalServerError, "Unable to fetch VIX data")
		return
	}

	msg := fmt.Sprintf("VIX at %s. ", formatNumber(reading.Value))
	if reading.ConditionMet {
		msg += "Good conditions for Iron Condor"
	} else {
		msg += "Wait for higher volatility"
	}
	writeJSON(w, http.StatusOK, vixResponse{
		Success:      true,
		VIX:          reading.Value,
		Timestamp:    reading.Timestamp,
		MarketOpen:   reading.MarketOpen,
		ConditionMet: reading.ConditionMet,
		Message:      msg,
	})
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	positions := positionsOrEmpty(s.service.List())
	writeJSON(w, http.StatusOK, positionsResponse{
		Success:        true,
		Positions:      positions,
		TotalPositions: len(positions),
	})
}

func (s *Server) handleCreatePosition(w http.ResponseWriter, r *http.Request) {
	symbol, _ := readBody(r)["symbol"].(string)
	symbol = strategy.NormalizeSymbol(symbol)

	pos, err := s.service.Create(r.Context(), symbol)
	if err != nil {
		status := statusFor(err)
		msg := fmt.Sprintf("Failed to create position: %v", err)
		if errors.Is(err, manager.ErrBrokerNotConnected) {
			msg = "Webull connection required to create positions"
		}
		if status == http.StatusInternalServerError {
			s.logger.WithError(err).WithField("symbol", symbol).Error("Failed to create position")
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, positionResponse{
		Success:  true,
		Position: pos,
		Message:  fmt.Sprintf("Iron Condor position created for %s", pos.Symbol),
	})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	pos, err := s.service.Close(id)
	if err != nil {
		status := statusFor(err)
		msg := fmt.Sprintf("Failed to close position: %v", err)
		if status == http.StatusNotFound {
			msg = "Position not found"
		} else {
			s.logger.WithError(err).WithField("id", id).Error("Failed to close position")
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, closeResponse{
		Success:        true,
		ClosedPosition: pos,
		Message:        fmt.Sprintf("Position %s closed with P&L: $%s", pos.ID, formatNumber(pos.PnL)),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	positions := positionsOrEmpty(s.service.History())
	writeJSON(w, http.StatusOK, positionsResponse{
		Success:        true,
		Positions:      positions,
		TotalPositions: len(positions),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{Success: true, Stats: s.service.Statistics()})
}

func (s *Server) handleDemoData(w http.ResponseWriter, r *http.Request) {
	positions, err := s.service.CreateDemo(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to create demo data")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create demo data: %v", err))
		return
	}

	positions = positionsOrEmpty(positions)
	writeJSON(w, http.StatusOK, demoResponse{
		Success:          true,
		Message:          "Demo data created successfully",
		CreatedPositions: len(positions),
		Positions:        positions,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.service.ResetAll()
	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "All data reset successfully",
	})
}
