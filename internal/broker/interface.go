package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// QuoteSource reads the most recent close for a ticker over a short trailing window.
type QuoteSource interface {
	LatestClose(ctx context.Context, symbol string) (float64, error)
}

// DefaultLookbackDays covers a long weekend plus a holiday.
const DefaultLookbackDays = 5

// TradierQuotes adapts TradierAPI history to the QuoteSource interface
type TradierQuotes struct {
	api          *TradierAPI
	now          func() time.Time
	lookbackDays int
}

// Ensure TradierQuotes implements QuoteSource at compile time.
var _ QuoteSource = (*TradierQuotes)(nil)

// NewTradierQuotes creates a Tradier-backed quote source.
// A non-positive lookback falls back to DefaultLookbackDays.
func NewTradierQuotes(api *TradierAPI, lookbackDays int) *TradierQuotes {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &TradierQuotes{
		api:          api,
		lookbackDays: lookbackDays,
		now:          time.Now,
	}
}

// LatestClose returns the close of the newest daily bar in the lookback window.
func (q *TradierQuotes) LatestClose(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	end := q.now()
	start := end.AddDate(0, 0, -q.lookbackDays)

	bars, err := q.api.GetHistoricalDataCtx(ctx, symbol, "daily", start, end)
	if err != nil {
		return 0, err
	}
	return lastClose(symbol, bars)
}

// lastClose picks the final bar's close, rejecting empty or non-positive data
func lastClose(symbol string, bars []HistoricalDataPoint) (float64, error) {
	if len(bars) == 0 {
		return 0, fmt.Errorf("empty history for %s: %w", symbol, ErrNoQuoteData)
	}
	last := bars[len(bars)-1]
	if last.Close <= 0 {
		return 0, fmt.Errorf("non-positive close %.4f for %s on %s: %w",
			last.Close, symbol, last.Date.Format("2006-01-02"), ErrNoQuoteData)
	}
	return last.Close, nil
}

// IsUpstreamUnavailable reports whether err belongs to the quote-source failure family.
func IsUpstreamUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	return errors.Is(err, ErrNoQuoteData) ||
		errors.As(err, &apiErr) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, context.DeadlineExceeded)
}

// CircuitBreakerQuotes wraps a QuoteSource with circuit breaker functionality
type CircuitBreakerQuotes struct {
	source  QuoteSource
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerQuotes implements QuoteSource at compile time.
var _ QuoteSource = (*CircuitBreakerQuotes)(nil)

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	source QuoteSource,
	fn func(QuoteSource) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(source) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips after 60% failures over at least 5 calls.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,                // Allow 3 requests when half-open
	Interval:     60 * time.Second, // Reset counts every minute
	Timeout:      30 * time.Second, // Open circuit for 30 seconds
	MinRequests:  5,                // Minimum requests before tripping
	FailureRatio: 0.6,              // Trip if 60% failure rate
}

// NewCircuitBreakerQuotes creates a new CircuitBreakerQuotes with sensible defaults
func NewCircuitBreakerQuotes(source QuoteSource, logger logrus.FieldLogger) *CircuitBreakerQuotes {
	return NewCircuitBreakerQuotesWithSettings(source, DefaultCircuitBreakerSettings, logger)
}

// NewCircuitBreakerQuotesWithSettings creates a CircuitBreakerQuotes with custom settings
func NewCircuitBreakerQuotesWithSettings(source QuoteSource, settings CircuitBreakerSettings,
	logger logrus.FieldLogger) *CircuitBreakerQuotes {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "QuoteSourceCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		// Cancellation by the caller says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &CircuitBreakerQuotes{
		source:  source,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// LatestClose wraps the underlying quote source call with circuit breaker
func (c *CircuitBreakerQuotes) LatestClose(ctx context.Context, symbol string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.source, func(s QuoteSource) (float64, error) {
		return s.LatestClose(ctx, symbol)
	})
}

// State exposes the breaker state for health reporting.
func (c *CircuitBreakerQuotes) State() gobreaker.State {
	return c.breaker.State()
}
