package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// stubQuotes implements broker.QuoteSource for strategy testing
type stubQuotes struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
	asked  []string
}

var _ broker.QuoteSource = (*stubQuotes)(nil)

func (s *stubQuotes) LatestClose(_ context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, symbol)
	if s.err != nil {
		return 0, s.err
	}
	return s.prices[symbol], nil
}

var fixedNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestStrategy(src broker.QuoteSource) *IronCondorStrategy {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewIronCondorStrategy(src, DefaultConfig(), logger).
		WithClock(func() time.Time { return fixedNow })
}

func TestComputeStrikesAndPremium(t *testing.T) {
	tests := []struct {
		name        string
		price       float64
		wantStrikes models.Strikes
		wantCredit  float64
		wantPremium float64
		wantMaxLoss float64
	}{
		{
			name:        "round hundred",
			price:       100,
			wantStrikes: models.Strikes{PutLong: 90, PutShort: 95, CallShort: 105, CallLong: 110},
			wantCredit:  2, wantPremium: 4, wantMaxLoss: 1,
		},
		{
			name:        "spy-like",
			price:       500,
			wantStrikes: models.Strikes{PutLong: 450, PutShort: 475, CallShort: 525, CallLong: 550},
			wantCredit:  10, wantPremium: 20, wantMaxLoss: 5,
		},
		{
			name:        "fractional price",
			price:       401.37,
			wantStrikes: models.Strikes{PutLong: 361, PutShort: 381, CallShort: 421, CallLong: 442},
			wantCredit:  8.03, wantPremium: 16.06, wantMaxLoss: 3.94,
		},
		{
			name:        "short strikes on a half tie",
			price:       450,
			wantStrikes: models.Strikes{PutLong: 405, PutShort: 428, CallShort: 472, CallLong: 495},
			wantCredit:  9, wantPremium: 18, wantMaxLoss: 5,
		},
		{
			name:        "ties round to even",
			price:       250,
			wantStrikes: models.Strikes{PutLong: 225, PutShort: 238, CallShort: 262, CallLong: 275},
			wantCredit:  5, wantPremium: 10, wantMaxLoss: 3,
		},
		{
			name:        "ties round to even odd base",
			price:       430,
			wantStrikes: models.Strikes{PutLong: 387, PutShort: 408, CallShort: 452, CallLong: 473},
			wantCredit:  8.6, wantPremium: 17.2, wantMaxLoss: 3.8,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strikes := ComputeStrikes(tt.price)
			assert.Equal(t, tt.wantStrikes, strikes)
			assert.Equal(t, tt.wantCredit, SpreadCredit(tt.price))
			assert.InDelta(t, tt.wantPremium, TotalPremium(tt.price), 1e-9)
			assert.NoError(t, ValidateStrikes(strikes, TotalPremium(tt.price)))

			pos := newTestStrategy(nil).Build("SPY", tt.price)
			assert.InDelta(t, tt.wantMaxLoss, pos.MaxLoss, 1e-9)
			assert.Equal(t, pos.PremiumCollected, pos.MaxProfit)
		})
	}
}

func TestGenerate_Invariants(t *testing.T) {
	src := &stubQuotes{prices: map[string]float64{"SPY": 512.34, "QQQ": 438.1, "IWM": 201.77}}
	s := newTestStrategy(src)

	for _, sym := range []string{"SPY", "QQQ", "IWM"} {
		t.Run(sym, func(t *testing.T) {
			pos := s.Generate(context.Background(), sym)
			k := pos.Strikes

			assert.Less(t, k.PutLong, k.PutShort)
			assert.Less(t, k.PutShort, pos.UnderlyingPrice)
			assert.Less(t, pos.UnderlyingPrice, k.CallShort)
			assert.Less(t, k.CallShort, k.CallLong)
			assert.Equal(t, k.PutShort-k.PutLong, k.CallLong-k.CallShort)
			assert.Equal(t, pos.PremiumCollected, pos.MaxProfit)
			assert.InDelta(t, (k.PutShort-k.PutLong)-pos.PremiumCollected, pos.MaxLoss, 1e-9)
			assert.GreaterOrEqual(t, pos.MaxLoss, 0.0)

			assert.Equal(t, models.StatusOpen, pos.Status)
			assert.Equal(t, models.PositionTypeIronCondor, pos.Type)
			assert.Equal(t, 0.0, pos.PnL)
			assert.Equal(t, 1, pos.Quantity)
			assert.Equal(t, DefaultDaysToExpiration, pos.DaysToExpiration)
			assert.True(t, pos.OpenedAt.Equal(fixedNow))
			assert.Equal(t, "IC_"+sym+"_1741618800", pos.ID)
			require.NoError(t, pos.Validate())
		})
	}
}

func TestGenerate_FallbackPrice(t *testing.T) {
	tests := []struct {
		name string
		src  broker.QuoteSource
	}{
		{"source error", &stubQuotes{err: &broker.APIError{Status: 500, Body: "down"}}},
		{"no data", &stubQuotes{err: broker.ErrNoQuoteData}},
		{"zero close", &stubQuotes{prices: map[string]float64{}}},
		{"nil source", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := newTestStrategy(tt.src).Generate(context.Background(), "SPY")
			assert.Equal(t, DefaultFallbackPrice, pos.UnderlyingPrice)
			assert.Equal(t, 405.0, pos.Strikes.PutLong)
			assert.Equal(t, 428.0, pos.Strikes.PutShort)
			assert.Equal(t, 472.0, pos.Strikes.CallShort)
			assert.Equal(t, 495.0, pos.Strikes.CallLong)
			assert.Equal(t, 18.0, pos.PremiumCollected)
			require.NoError(t, pos.Validate())
		})
	}
}

func TestGenerate_FallbackLogsUpstream(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		upstream bool
	}{
		{"api error", &broker.APIError{Status: 503, Body: "busy"}, true},
		{"no data", broker.ErrNoQuoteData, true},
		{"local failure", errors.New("dial tcp: refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			s := NewIronCondorStrategy(&stubQuotes{err: tt.err}, DefaultConfig(), logger)

			s.Generate(context.Background(), "SPY")
			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, logrus.WarnLevel, entry.Level)
			assert.Equal(t, tt.upstream, entry.Data["upstream"])
			assert.Equal(t, DefaultFallbackPrice, entry.Data["fallback"])
		})
	}
}

func TestGenerate_CustomFallback(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s := NewIronCondorStrategy(&stubQuotes{err: errors.New("x")}, Config{FallbackPrice: 100, DaysToExpiration: 45}, logger)

	pos := s.Generate(context.Background(), "SPY")
	assert.Equal(t, 100.0, pos.UnderlyingPrice)
	assert.Equal(t, 45, pos.DaysToExpiration)
}

func TestGenerate_NormalizesSymbol(t *testing.T) {
	src := &stubQuotes{prices: map[string]float64{"QQQ": 400, "SPY": 500}}
	s := newTestStrategy(src)

	pos := s.Generate(context.Background(), "  qqq ")
	assert.Equal(t, "QQQ", pos.Symbol)

	pos = s.Generate(context.Background(), "")
	assert.Equal(t, "SPY", pos.Symbol)
	assert.Equal(t, []string{"QQQ", "SPY"}, src.asked)
}

func TestValidateStrikes_NearZeroPrice(t *testing.T) {
	// Every wing rounds to 1, so the condor collapses
	strikes := ComputeStrikes(1)
	err := ValidateStrikes(strikes, TotalPremium(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not strictly ordered")

	// Ordered strikes but credit wider than the spread
	err = ValidateStrikes(models.Strikes{PutLong: 9, PutShort: 10, CallShort: 11, CallLong: 12}, 1.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds put spread width")

	// Build still returns a position and only logs
	pos := newTestStrategy(nil).Build("PENNY", 1)
	assert.Equal(t, "PENNY", pos.Symbol)
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "SPY", NormalizeSymbol(""))
	assert.Equal(t, "SPY", NormalizeSymbol("   "))
	assert.Equal(t, "IWM", NormalizeSymbol("iwm"))
}
