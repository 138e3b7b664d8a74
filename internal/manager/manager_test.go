package manager

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/market"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/session"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
)

// Tuesday 11:00 New York time, market open
var testNow = time.Date(2025, 3, 11, 11, 0, 0, 0, market.LoadLocation(market.DefaultTimezone))

type quoteFunc func(ctx context.Context, symbol string) (float64, error)

func (f quoteFunc) LatestClose(ctx context.Context, symbol string) (float64, error) {
	return f(ctx, symbol)
}

var testPrices = map[string]float64{"SPY": 500, "QQQ": 400, "IWM": 200, "VIX": 22.5}

func staticQuotes() broker.QuoteSource {
	return quoteFunc(func(_ context.Context, symbol string) (float64, error) {
		p, ok := testPrices[symbol]
		if !ok {
			return 0, broker.ErrNoQuoteData
		}
		return p, nil
	})
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestManager(t *testing.T, mutate ...func(*Options)) *Manager {
	t.Helper()
	opts := Options{
		Quotes:  staticQuotes(),
		Session: session.Config{LoginSuccessRate: 0.75},
		Rand:    rand.New(rand.NewSource(42)),
		Now:     func() time.Time { return testNow },
		Logger:  quietLogger(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	return New(opts)
}

func initialize(t *testing.T, m *Manager) {
	t.Helper()
	_, err := m.Initialize(context.Background(), false)
	require.NoError(t, err)
}

func TestManager_Scenario(t *testing.T) {
	m := newTestManager(t)
	initialize(t, m)

	pos, err := m.Create(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, "SPY", pos.Symbol)
	assert.Equal(t, models.StatusOpen, pos.Status)

	open := m.List()
	require.Len(t, open, 1)
	assert.Equal(t, pos.ID, open[0].ID)
	assert.Len(t, m.Status().LinkedPositions, 1)

	closed, err := m.Close(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	require.NoError(t, closed.Validate())

	assert.Empty(t, m.List())
	assert.Empty(t, m.Status().LinkedPositions)

	hist := m.History()
	require.Len(t, hist, 1)
	assert.Equal(t, pos.ID, hist[0].ID)
}

func TestManager_CreateWhileDisconnected(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Create(context.Background(), "SPY")
	require.ErrorIs(t, err, ErrBrokerNotConnected)
	assert.Empty(t, m.List())
	assert.Empty(t, m.Status().LinkedPositions)
}

func TestManager_CreateResetDuringFetch(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := quoteFunc(func(_ context.Context, _ string) (float64, error) {
		close(entered)
		<-release
		return 500, nil
	})
	m := newTestManager(t, func(o *Options) { o.Quotes = slow })
	initialize(t, m)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Create(context.Background(), "SPY")
		errCh <- err
	}()

	<-entered
	m.ResetAll()
	close(release)

	require.ErrorIs(t, <-errCh, ErrBrokerNotConnected)
	assert.Empty(t, m.List())
}

func TestManager_CloseRemovesOnlyThatID(t *testing.T) {
	m := newTestManager(t)
	initialize(t, m)

	var ids []string
	for _, sym := range []string{"SPY", "QQQ", "IWM"} {
		p, err := m.Create(context.Background(), sym)
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	_, err := m.Close(ids[1])
	require.NoError(t, err)

	open := m.List()
	require.Len(t, open, 2)
	assert.Equal(t, ids[0], open[0].ID)
	assert.Equal(t, ids[2], open[1].ID)

	linked := m.Status().LinkedPositions
	require.Len(t, linked, 2)
	assert.Equal(t, ids[0], linked[0].ID)
	assert.Equal(t, ids[2], linked[1].ID)
}

func TestManager_CloseUnknown(t *testing.T) {
	m := newTestManager(t)
	initialize(t, m)

	_, err := m.Close("IC_SPY_0")
	require.ErrorIs(t, err, ErrNotFound)

	p, err := m.Create(context.Background(), "SPY")
	require.NoError(t, err)
	_, err = m.Close(p.ID)
	require.NoError(t, err)
	_, err = m.Close(p.ID)
	assert.ErrorIs(t, err, ErrNotFound, "closing twice must fail")
}

func TestManager_CloseLogsProfitPercent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	m := newTestManager(t, func(o *Options) { o.Logger = logger })
	initialize(t, m)

	p, err := m.Create(context.Background(), "SPY")
	require.NoError(t, err)
	c, err := m.Close(p.ID)
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Iron condor closed", entry.Message)
	assert.Equal(t, c.ID, entry.Data["id"])
	assert.Equal(t, c.PnL, entry.Data["pnl"])
	assert.Equal(t, c.ProfitPercent(), entry.Data["profit_pct"])
}

func TestManager_ClosedPnLWithinBounds(t *testing.T) {
	m := newTestManager(t, func(o *Options) { o.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) })
	initialize(t, m)

	for i := 0; i < 200; i++ {
		p, err := m.Create(context.Background(), "IWM")
		require.NoError(t, err)
		c, err := m.Close(p.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, c.PnL, -c.MaxLoss)
		assert.LessOrEqual(t, c.PnL, c.MaxProfit)
		assert.InDelta(t, math.Round(c.PnL*100), c.PnL*100, 1e-6, "pnl not rounded to cents")
	}
}

func TestManager_ResetAll(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateDemo(context.Background())
	require.NoError(t, err)
	p := m.List()[0]
	_, err = m.Close(p.ID)
	require.NoError(t, err)

	m.ResetAll()

	assert.Empty(t, m.List())
	assert.Empty(t, m.History())
	_, err = m.CheckLogin(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)

	st := m.Status()
	assert.False(t, st.IsRunning)
	assert.False(t, st.HasAutomation)
	assert.Nil(t, st.InitializedAt)

	mk := m.Market()
	assert.Nil(t, mk.VIXValue)
	assert.Nil(t, mk.LastCheck)
	assert.False(t, mk.MarketOpen)

	assert.Equal(t, storage.Statistics{}, m.Statistics())
}

func TestManager_IDsNotReusedAcrossReset(t *testing.T) {
	m := newTestManager(t)
	initialize(t, m)
	first, err := m.Create(context.Background(), "SPY")
	require.NoError(t, err)

	m.ResetAll()
	initialize(t, m)
	second, err := m.Create(context.Background(), "SPY")
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("IC_SPY_%d", testNow.Unix()), first.ID)
	assert.Equal(t, first.ID+"_2", second.ID)
}

func TestManager_CreateDemo(t *testing.T) {
	m := newTestManager(t)

	positions, err := m.CreateDemo(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 3)
	for i, sym := range []string{"SPY", "QQQ", "IWM"} {
		assert.Equal(t, sym, positions[i].Symbol)
		assert.Equal(t, testPrices[sym], positions[i].UnderlyingPrice)
	}

	st := m.Status()
	assert.True(t, st.IsRunning)
	assert.True(t, st.HasAutomation)
	assert.NotNil(t, st.InitializedAt)
	assert.Len(t, st.LinkedPositions, 3)
	assert.Len(t, m.List(), 3)

	mk := m.Market()
	require.NotNil(t, mk.VIXValue)
	assert.Equal(t, 22.5, *mk.VIXValue)
	assert.True(t, mk.MarketOpen)
}

func TestManager_CreateDemoUpstreamDown(t *testing.T) {
	down := quoteFunc(func(context.Context, string) (float64, error) {
		return 0, &broker.APIError{Status: 503, Body: "unavailable"}
	})
	m := newTestManager(t, func(o *Options) { o.Quotes = down })

	positions, err := m.CreateDemo(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 3)
	for _, p := range positions {
		assert.Equal(t, 450.0, p.UnderlyingPrice)
	}
	mk := m.Market()
	require.NotNil(t, mk.VIXValue)
	assert.GreaterOrEqual(t, *mk.VIXValue, 15.0)
	assert.LessOrEqual(t, *mk.VIXValue, 35.0)
	assert.False(t, mk.MarketOpen, "fallback must not recompute market_open")
}

func TestManager_CreateDemoCustomSymbols(t *testing.T) {
	m := newTestManager(t, func(o *Options) { o.DemoSymbols = []string{"SPY", "DIA"} })
	positions, err := m.CreateDemo(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "DIA", positions[1].Symbol)
}

func TestManager_CheckLogin(t *testing.T) {
	m := newTestManager(t, func(o *Options) { o.Session.LoginSuccessRate = 1 })

	_, err := m.CheckLogin(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)

	initialize(t, m)
	res, err := m.CheckLogin(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.AccountInfo)
	assert.Equal(t, "DEMO_12345", res.AccountInfo.AccountID)
}

func TestManager_CheckLoginFailureDraw(t *testing.T) {
	m := newTestManager(t, func(o *Options) { o.Session.LoginSuccessRate = 0 })
	initialize(t, m)

	res, err := m.CheckLogin(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.LoggedIn)
	assert.Nil(t, res.AccountInfo)
}

func TestManager_CheckLoginResetDuringDelay(t *testing.T) {
	m := newTestManager(t, func(o *Options) { o.Session.LoginDelay = 200 * time.Millisecond })
	initialize(t, m)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.CheckLogin(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	m.ResetAll()

	assert.ErrorIs(t, <-errCh, ErrNotInitialized)
}

func TestManager_InitializeCanceled(t *testing.T) {
	m := newTestManager(t, func(o *Options) { o.Session.InitDelay = time.Minute })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Initialize(ctx, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_FetchVIX(t *testing.T) {
	m := newTestManager(t)

	r, err := m.FetchVIX(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 22.5, r.Value)
	assert.True(t, r.ConditionMet)
	assert.True(t, r.MarketOpen)
	assert.True(t, r.Timestamp.Equal(testNow))
	assert.True(t, m.Health().MarketData)
}

func TestManager_FetchVIXFallback(t *testing.T) {
	down := quoteFunc(func(context.Context, string) (float64, error) { return 0, errors.New("dial tcp: refused") })
	m := newTestManager(t, func(o *Options) {
		o.Quotes = down
		o.FallbackMin, o.FallbackMax = 16, 16
	})

	r, err := m.FetchVIX(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 16.0, r.Value)
	assert.False(t, r.ConditionMet)
	assert.False(t, r.MarketOpen)
}

func TestManager_Health(t *testing.T) {
	cb := broker.NewCircuitBreakerQuotes(staticQuotes(), quietLogger())
	m := newTestManager(t, func(o *Options) { o.Quotes = cb })

	h := m.Health()
	assert.False(t, h.BrokerConnected)
	assert.False(t, h.MarketData)
	assert.Equal(t, "closed", h.QuoteBreaker)

	initialize(t, m)
	assert.True(t, m.Health().BrokerConnected)

	plain := newTestManager(t)
	assert.Empty(t, plain.Health().QuoteBreaker)
}

func TestManager_Statistics(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateDemo(context.Background())
	require.NoError(t, err)

	c, err := m.Close(m.List()[0].ID)
	require.NoError(t, err)

	stats := m.Statistics()
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, c.PnL, stats.TotalPnL)
	assert.Equal(t, 2, stats.OpenPositions)
	assert.Greater(t, stats.PremiumAtRisk, 0.0)
}

func TestManager_Journal(t *testing.T) {
	j := storage.NewMockJournal()
	m := newTestManager(t, func(o *Options) { o.Journal = j })
	initialize(t, m)

	p, err := m.Create(context.Background(), "SPY")
	require.NoError(t, err)
	_, err = m.Close(p.ID)
	require.NoError(t, err)

	require.Len(t, j.Opened(), 1)
	require.Len(t, j.Closed(), 1)
	assert.Equal(t, models.StatusClosed, j.Closed()[0].Status)

	// Journal failures are logged, not returned
	j.SetOpenError(errors.New("disk full"))
	_, err = m.Create(context.Background(), "QQQ")
	assert.NoError(t, err)

	require.NoError(t, m.Shutdown())
	assert.Equal(t, 1, j.CloseCalls())
}

func TestManager_ConcurrentOperations(t *testing.T) {
	m := newTestManager(t)
	initialize(t, m)

	const workers = 20
	var wg sync.WaitGroup
	ids := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := m.Create(context.Background(), "SPY")
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			ids <- p.ID
			_ = m.List()
			_, _ = m.FetchVIX(context.Background())
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, m.List(), workers)
	assert.Len(t, m.Status().LinkedPositions, workers)

	// Close half concurrently
	var closeWG sync.WaitGroup
	n := 0
	for id := range seen {
		if n%2 == 0 {
			closeWG.Add(1)
			go func(id string) {
				defer closeWG.Done()
				if _, err := m.Close(id); err != nil {
					t.Errorf("Close(%s): %v", id, err)
				}
			}(id)
		}
		n++
	}
	closeWG.Wait()
	assert.Len(t, m.List(), workers/2)
	assert.Len(t, m.Status().LinkedPositions, workers/2)
	assert.Len(t, m.History(), workers/2)
}
