// Package broker provides market-data clients used as quote sources.
// It includes the Tradier API client used to read index and ETF closes.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNoQuoteData is returned when the upstream answers but carries no usable price
var ErrNoQuoteData = errors.New("no quote data")

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// TradierAPI is a read-only Tradier market-data client
type TradierAPI struct {
	client  *http.Client
	apiKey  string
	baseURL string
	sandbox bool
	timeout time.Duration // configurable timeout for HTTP requests
}

// NewTradierAPI creates a new TradierAPI client with default settings.
func NewTradierAPI(apiKey string, sandbox bool) *TradierAPI {
	return NewTradierAPIWithBaseURL(apiKey, sandbox, "")
}

// NewTradierAPIWithBaseURL creates a new TradierAPI client with an optional custom baseURL
func NewTradierAPIWithBaseURL(apiKey string, sandbox bool, baseURL string) *TradierAPI {
	if baseURL == "" {
		if sandbox {
			baseURL = "https://sandbox.tradier.com/v1"
		} else {
			baseURL = "https://api.tradier.com/v1"
		}
	}
	// Normalize once
	baseURL = strings.TrimRight(baseURL, "/")

	defaultTimeout := 10 * time.Second
	return &TradierAPI{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		sandbox: sandbox,
		timeout: defaultTimeout,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (t *TradierAPI) WithHTTPClient(c *http.Client) *TradierAPI {
	if c != nil {
		t.client = c
	}
	return t
}

// WithTimeout sets the HTTP client timeout duration.
func (t *TradierAPI) WithTimeout(timeout time.Duration) *TradierAPI {
	if timeout <= 0 {
		return t
	}
	t.timeout = timeout
	if t.client != nil {
		t.client.Timeout = timeout
	}
	return t
}

// ============ API Response Structures ============

// Handle single-object vs array responses from Tradier
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// HistoricalDataPoint represents a single historical data point
type HistoricalDataPoint struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

type historyDay struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// HistoricalDataResponse represents the response from historical data API.
// A single-day window comes back as an object rather than an array.
type HistoricalDataResponse struct {
	History HistoryWrapper `json:"history"`
}

// HistoryWrapper handles the case where history can be "null" string or an object
type HistoryWrapper struct {
	Day singleOrArray[historyDay] `json:"day"`
}

func (hw *HistoryWrapper) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)

	// Handle both bare null and quoted "null" cases
	if bytes.Equal(trimmed, []byte(`null`)) || bytes.Equal(trimmed, []byte(`"null"`)) {
		*hw = HistoryWrapper{}
		return nil
	}

	type normalWrapper HistoryWrapper
	return json.Unmarshal(b, (*normalWrapper)(hw))
}

// ============ API Methods ============

// GetHistoricalDataCtx retrieves historical price data for a symbol with context support.
// Bars are returned in the order the API sends them (oldest first).
func (t *TradierAPI) GetHistoricalDataCtx(ctx context.Context, symbol string, interval string,
	startDate, endDate time.Time) ([]HistoricalDataPoint, error) {
	params := url.Values{}
	params.Add("symbol", symbol)
	if interval != "" {
		params.Add("interval", interval)
	} else {
		params.Add("interval", "daily") // Default to daily
	}
	params.Add("start", startDate.Format("2006-01-02"))
	params.Add("end", endDate.Format("2006-01-02"))

	endpoint := t.baseURL + "/markets/history?" + params.Encode()

	var response HistoricalDataResponse
	if err := t.makeRequestCtx(ctx, "GET", endpoint, &response); err != nil {
		return nil, fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
	}
	dataPoints := make([]HistoricalDataPoint, len(response.History.Day))
	for i, day := range response.History.Day {
		date, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date %s: %w", day.Date, err)
		}

		dataPoints[i] = HistoricalDataPoint{
			Date:   date,
			Open:   day.Open,
			High:   day.High,
			Low:    day.Low,
			Close:  day.Close,
			Volume: day.Volume,
		}
	}

	return dataPoints, nil
}

// makeRequestCtx makes an HTTP request with context support for timeout/cancellation
func (t *TradierAPI) makeRequestCtx(ctx context.Context, method, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "scranton-condor/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close response body")
		}
	}()

	if remaining := resp.Header.Get("X-Ratelimit-Available"); remaining != "" && t.sandbox {
		logrus.WithField("remaining", remaining).Debug("Tradier rate limit")
	}

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s (retry-after: %s)", method, endpoint, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
