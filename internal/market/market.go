// Package market keeps the volatility-index snapshot and the market-open flag.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/util"
)

// Defaults for the volatility reading.
const (
	DefaultSymbol             = "VIX"
	DefaultFallbackMin        = 15.0
	DefaultFallbackMax        = 35.0
	DefaultConditionThreshold = 20.0
)

// ErrNoSource is returned by Read when the provider has no quote source.
var ErrNoSource = errors.New("no quote source configured")

// Options tunes a Provider. Zero values select the defaults.
type Options struct {
	Symbol      string
	FallbackMin float64
	FallbackMax float64
	Hours       *Hours
	Now         func() time.Time
	// Draw returns values in [0,1) and feeds the synthetic fallback.
	Draw   func() float64
	Logger logrus.FieldLogger
}

// Provider owns the MarketState. It does no locking of its own: Read touches no
// state and may run concurrently, while Record, Snapshot and Reset must be
// serialized by the caller.
type Provider struct {
	source      broker.QuoteSource
	symbol      string
	fallbackMin float64
	fallbackMax float64
	hours       Hours
	now         func() time.Time
	draw        func() float64
	logger      logrus.FieldLogger

	state models.MarketState
}

// NewProvider builds a Provider over source.
func NewProvider(source broker.QuoteSource, opts Options) *Provider {
	p := &Provider{
		source:      source,
		symbol:      strings.ToUpper(strings.TrimSpace(opts.Symbol)),
		fallbackMin: opts.FallbackMin,
		fallbackMax: opts.FallbackMax,
		now:         opts.Now,
		draw:        opts.Draw,
		logger:      opts.Logger,
	}
	if p.symbol == "" {
		p.symbol = DefaultSymbol
	}
	if p.fallbackMin == 0 && p.fallbackMax == 0 {
		p.fallbackMin, p.fallbackMax = DefaultFallbackMin, DefaultFallbackMax
	}
	if opts.Hours != nil {
		p.hours = *opts.Hours
	} else {
		p.hours = DefaultHours()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.draw == nil {
		p.draw = func() float64 { return 0.5 }
	}
	if p.logger == nil {
		p.logger = logrus.StandardLogger()
	}
	return p
}

// Symbol is the ticker read as the volatility index.
func (p *Provider) Symbol() string { return p.symbol }

// Hours returns the trading window used for the market-open flag.
func (p *Provider) Hours() Hours { return p.hours }

// Read fetches the latest close of the volatility index.
func (p *Provider) Read(ctx context.Context) (float64, error) {
	if p.source == nil {
		return 0, ErrNoSource
	}
	v, err := p.source.LatestClose(ctx, p.symbol)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("non-positive %s close %.4f: %w", p.symbol, v, broker.ErrNoQuoteData)
	}
	return v, nil
}

// Record stores the outcome of Read and returns the value now held.
// A failed read substitutes a uniform draw from the fallback range and leaves
// the market-open flag as it was.
func (p *Provider) Record(value float64, readErr error) float64 {
	now := p.now()
	if readErr != nil {
		value = util.RoundToCents(util.UniformBetween(p.draw(), p.fallbackMin, p.fallbackMax))
		p.logger.WithError(readErr).WithFields(logrus.Fields{
			"symbol":   p.symbol,
			"fallback": value,
			"upstream": broker.IsUpstreamUnavailable(readErr),
		}).Warn("Volatility fetch failed, using synthetic value")
	} else {
		p.state.MarketOpen = p.hours.IsOpen(now)
		p.logger.WithFields(logrus.Fields{
			"symbol":      p.symbol,
			"value":       value,
			"market_open": p.state.MarketOpen,
		}).Debug("Volatility updated")
	}
	p.state.LastCheck = &now
	v := value
	p.state.VIXValue = &v
	return value
}

// FetchVolatility reads and records in one step. It never fails.
func (p *Provider) FetchVolatility(ctx context.Context) float64 {
	v, err := p.Read(ctx)
	return p.Record(v, err)
}

// Snapshot returns a copy of the current MarketState.
func (p *Provider) Snapshot() models.MarketState {
	return p.state.Clone()
}

// Reset forgets every reading.
func (p *Provider) Reset() {
	p.state = models.MarketState{}
}

// ConditionMet reports whether vix is strictly above threshold.
func ConditionMet(vix, threshold float64) bool {
	return vix > threshold
}
