// Package mock provides an offline quote source that produces plausible
// daily closes for the demo symbols and the volatility index.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/util"
)

// ReferencePrices seeds the walk for symbols the provider knows about.
var ReferencePrices = map[string]float64{
	"SPY": 450.0,
	"QQQ": 380.0,
	"IWM": 195.0,
	"VIX": 18.0,
}

// defaultReference seeds symbols missing from ReferencePrices.
const defaultReference = 100.0

// DataProvider is a random-walk quote source. Every call moves the symbol's
// price by up to maxStep (as a fraction) in either direction.
type DataProvider struct {
	mu      sync.Mutex
	prices  map[string]float64
	maxStep float64
	float   func() float64
	fail    map[string]error
}

// Ensure DataProvider implements broker.QuoteSource at compile time.
var _ broker.QuoteSource = (*DataProvider)(nil)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// NewDataProvider returns a provider seeded from ReferencePrices with a 1% step.
func NewDataProvider() *DataProvider {
	return NewDataProviderWithSource(secureFloat64)
}

// NewDataProviderWithSource uses float (values in [0,1)) as the walk's randomness.
func NewDataProviderWithSource(float func() float64) *DataProvider {
	if float == nil {
		float = secureFloat64
	}
	prices := make(map[string]float64, len(ReferencePrices))
	for sym, p := range ReferencePrices {
		prices[sym] = p
	}
	return &DataProvider{
		prices:  prices,
		maxStep: 0.01,
		float:   float,
		fail:    make(map[string]error),
	}
}

// SetPrice pins the current price of symbol.
func (m *DataProvider) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[normalize(symbol)] = price
}

// FailWith makes every subsequent lookup of symbol return err. A nil err clears it.
func (m *DataProvider) FailWith(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, normalize(symbol))
		return
	}
	m.fail[normalize(symbol)] = err
}

// LatestClose advances the walk for symbol and returns the new close.
func (m *DataProvider) LatestClose(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sym := normalize(symbol)
	if sym == "" {
		return 0, fmt.Errorf("empty symbol: %w", broker.ErrNoQuoteData)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail[sym]; err != nil {
		return 0, err
	}
	price, ok := m.prices[sym]
	if !ok {
		price = defaultReference
	}
	// Simulate small price movements
	price *= 1 + (m.float()-0.5)*2*m.maxStep
	price = math.Max(util.CentTick, util.RoundToCents(price))
	m.prices[sym] = price
	return price, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
