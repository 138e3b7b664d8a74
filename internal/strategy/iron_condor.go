// Package strategy derives simulated Iron Condor positions from the latest
// underlying close.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/util"
)

// Strike offsets from the underlying and the per-spread credit ratio.
const (
	putLongRatio   = 0.90
	putShortRatio  = 0.95
	callShortRatio = 1.05
	callLongRatio  = 1.10
	creditRatio    = 0.02
)

// Defaults used when Config fields are zero.
const (
	DefaultSymbol           = "SPY"
	DefaultFallbackPrice    = 450.0
	DefaultDaysToExpiration = 30
)

// Config holds the generator parameters.
type Config struct {
	FallbackPrice    float64 // used when the quote source fails
	DaysToExpiration int     // informational only
}

// DefaultConfig returns the standard generator parameters.
func DefaultConfig() Config {
	return Config{
		FallbackPrice:    DefaultFallbackPrice,
		DaysToExpiration: DefaultDaysToExpiration,
	}
}

// IronCondorStrategy builds positions from quotes. Generate is safe for
// concurrent use; the quote source must be as well.
type IronCondorStrategy struct {
	source broker.QuoteSource
	config Config
	ids    *IDGenerator
	now    func() time.Time
	logger logrus.FieldLogger
}

// NewIronCondorStrategy creates a generator over source.
func NewIronCondorStrategy(source broker.QuoteSource, config Config, logger logrus.FieldLogger) *IronCondorStrategy {
	if config.FallbackPrice <= 0 {
		config.FallbackPrice = DefaultFallbackPrice
	}
	if config.DaysToExpiration <= 0 {
		config.DaysToExpiration = DefaultDaysToExpiration
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &IronCondorStrategy{
		source: source,
		config: config,
		ids:    NewIDGenerator(),
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the time source used for opened_at and identifiers.
func (s *IronCondorStrategy) WithClock(now func() time.Time) *IronCondorStrategy {
	if now != nil {
		s.now = now
	}
	return s
}

// Config returns the effective parameters.
func (s *IronCondorStrategy) Config() Config { return s.config }

// NormalizeSymbol upper-cases and trims symbol, defaulting to SPY.
func NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return DefaultSymbol
	}
	return symbol
}

// Generate fetches the latest close for symbol and builds an open position.
// A failed or empty quote falls back to the configured reference price.
func (s *IronCondorStrategy) Generate(ctx context.Context, symbol string) *models.Position {
	symbol = NormalizeSymbol(symbol)
	return s.Build(symbol, s.UnderlyingPrice(ctx, symbol))
}

// UnderlyingPrice returns the latest close or the fallback price.
func (s *IronCondorStrategy) UnderlyingPrice(ctx context.Context, symbol string) float64 {
	if s.source == nil {
		return s.config.FallbackPrice
	}
	price, err := s.source.LatestClose(ctx, symbol)
	if err == nil && price > 0 {
		return price
	}
	if err == nil {
		err = fmt.Errorf("non-positive close %.4f: %w", price, broker.ErrNoQuoteData)
	}
	s.logger.WithError(err).WithFields(logrus.Fields{
		"symbol":   symbol,
		"fallback": s.config.FallbackPrice,
		"upstream": broker.IsUpstreamUnavailable(err),
	}).Warn("Quote unavailable, using reference price")
	return s.config.FallbackPrice
}

// Build derives strikes and credits from price and assigns a fresh identifier.
func (s *IronCondorStrategy) Build(symbol string, price float64) *models.Position {
	now := s.now()
	strikes := ComputeStrikes(price)
	premium := TotalPremium(price)

	if err := ValidateStrikes(strikes, premium); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"symbol": symbol,
			"price":  price,
		}).Warn("Degenerate iron condor")
	}

	pos := models.NewPosition(s.ids.Next(symbol, now), symbol, price, strikes, premium,
		s.config.DaysToExpiration, now)

	s.logger.WithFields(logrus.Fields{
		"id":         pos.ID,
		"symbol":     symbol,
		"price":      price,
		"put_long":   strikes.PutLong,
		"put_short":  strikes.PutShort,
		"call_short": strikes.CallShort,
		"call_long":  strikes.CallLong,
		"premium":    premium,
	}).Debug("Iron condor generated")
	return pos
}

// ComputeStrikes places the wings at ±5% and ±10% of price, whole units.
func ComputeStrikes(price float64) models.Strikes {
	return models.Strikes{
		PutLong:   util.RoundToStrike(price * putLongRatio),
		PutShort:  util.RoundToStrike(price * putShortRatio),
		CallShort: util.RoundToStrike(price * callShortRatio),
		CallLong:  util.RoundToStrike(price * callLongRatio),
	}
}

// SpreadCredit is the credit for one vertical, 2% of price in cents.
func SpreadCredit(price float64) float64 {
	return util.RoundToCents(price * creditRatio)
}

// TotalPremium is the credit collected for both verticals.
func TotalPremium(price float64) float64 {
	credit := SpreadCredit(price)
	return util.RoundToCents(credit + credit)
}

// ValidateStrikes reports strikes that rounding collapsed or a premium that
// exceeds the put spread width. Both only happen for prices near zero.
func ValidateStrikes(strikes models.Strikes, premium float64) error {
	if !strikes.Ordered() {
		return fmt.Errorf("strikes not strictly ordered: %.0f/%.0f/%.0f/%.0f",
			strikes.PutLong, strikes.PutShort, strikes.CallShort, strikes.CallLong)
	}
	if width := strikes.PutSpreadWidth(); premium > width {
		return fmt.Errorf("premium %.2f exceeds put spread width %.0f", premium, width)
	}
	return nil
}
