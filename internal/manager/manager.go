// Package manager owns the demo's entire mutable state (market snapshot,
// broker session, open and closed positions) behind a single mutex.
package manager

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/market"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/session"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
	"github.com/eddiefleurent/scranton_condor/internal/strategy"
	"github.com/eddiefleurent/scranton_condor/internal/util"
)

// DefaultDemoSymbols are the underlyings seeded by CreateDemo.
var DefaultDemoSymbols = []string{"SPY", "QQQ", "IWM"}

// Options wires a Manager. Zero values select defaults.
type Options struct {
	Quotes     broker.QuoteSource
	Session    session.Config
	Automation session.Automation
	Strategy   strategy.Config

	VolatilitySymbol   string
	FallbackMin        float64
	FallbackMax        float64
	Hours              *market.Hours
	ConditionThreshold float64

	DemoSymbols []string
	Store       storage.Interface
	Journal     storage.Journal

	Rand   *rand.Rand
	Now    func() time.Time
	Logger *logrus.Logger
}

// Manager serializes every state change. Quote fetches and simulated delays
// run outside the lock, and state is checked again once it is re-acquired.
type Manager struct {
	mu sync.Mutex

	rng    *rand.Rand // guarded by mu
	now    func() time.Time
	logger *logrus.Logger

	quotes    broker.QuoteSource
	market    *market.Provider
	session   *session.Simulator
	strategy  *strategy.IronCondorStrategy
	store     storage.Interface
	journal   storage.Journal
	demo      []string
	threshold float64
}

// VIXReading is the result of FetchVIX.
type VIXReading struct {
	Value        float64
	Timestamp    time.Time
	MarketOpen   bool
	ConditionMet bool
	Threshold    float64
}

// Health summarizes service availability.
type Health struct {
	BrokerConnected bool
	MarketData      bool
	QuoteBreaker    string // empty when the quote source has no breaker
}

// New builds a Manager from opts.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404 -- simulation only
	}
	store := opts.Store
	if store == nil {
		store = storage.NewStorage()
	}
	journal := opts.Journal
	if journal == nil {
		journal = storage.NopJournal{}
	}
	demo := opts.DemoSymbols
	if len(demo) == 0 {
		demo = DefaultDemoSymbols
	}
	threshold := opts.ConditionThreshold
	if threshold == 0 {
		threshold = market.DefaultConditionThreshold
	}

	m := &Manager{
		rng:       rng,
		now:       now,
		logger:    logger,
		quotes:    opts.Quotes,
		store:     store,
		journal:   journal,
		demo:      append([]string(nil), demo...),
		threshold: threshold,
	}

	// Both draws only run inside market.Record and session.DrawLogin, which
	// are always called with m.mu held.
	m.market = market.NewProvider(opts.Quotes, market.Options{
		Symbol:      opts.VolatilitySymbol,
		FallbackMin: opts.FallbackMin,
		FallbackMax: opts.FallbackMax,
		Hours:       opts.Hours,
		Now:         now,
		Draw:        m.rng.Float64,
		Logger:      logger.WithField("component", "market"),
	})
	m.session = session.New(opts.Session, opts.Automation, logger.WithField("component", "session")).
		WithClock(now).
		WithDraw(m.rng.Float64)
	m.strategy = strategy.NewIronCondorStrategy(opts.Quotes, opts.Strategy, logger.WithField("component", "strategy")).
		WithClock(now)

	return m
}

// Health reports whether the broker link is up and market data has been read.
func (m *Manager) Health() Health {
	m.mu.Lock()
	h := Health{
		BrokerConnected: m.session.IsRunning(),
		MarketData:      m.market.Snapshot().LastCheck != nil,
	}
	m.mu.Unlock()

	if b, ok := m.quotes.(interface{ State() gobreaker.State }); ok {
		h.QuoteBreaker = b.State().String()
	}
	return h
}

// Status returns a copy of the session state.
func (m *Manager) Status() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State()
}

// Market returns a copy of the market state.
func (m *Manager) Market() models.MarketState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.market.Snapshot()
}

// Initialize brings the simulated link up, then waits the startup delay.
func (m *Manager) Initialize(ctx context.Context, headless bool) (models.SessionState, error) {
	m.mu.Lock()
	state, err := m.session.Connect(headless)
	m.mu.Unlock()
	if err != nil {
		return models.SessionState{}, err
	}

	if err := session.Wait(ctx, m.session.Config().InitDelay); err != nil {
		return state, err
	}
	return state, nil
}

// CheckLogin waits the login delay and draws the outcome. The link must be up
// both before and after the wait.
func (m *Manager) CheckLogin(ctx context.Context) (models.LoginResult, error) {
	m.mu.Lock()
	running := m.session.IsRunning()
	m.mu.Unlock()
	if !running {
		return models.LoginResult{}, ErrNotInitialized
	}

	if err := session.Wait(ctx, m.session.Config().LoginDelay); err != nil {
		return models.LoginResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.DrawLogin()
}

// FetchVIX refreshes the volatility reading. A failed fetch is replaced by a
// synthetic value, so the returned error is always nil today.
func (m *Manager) FetchVIX(ctx context.Context) (VIXReading, error) {
	v, readErr := m.market.Read(ctx)

	m.mu.Lock()
	value := m.market.Record(v, readErr)
	snap := m.market.Snapshot()
	m.mu.Unlock()

	reading := VIXReading{
		Value:        value,
		MarketOpen:   snap.MarketOpen,
		ConditionMet: market.ConditionMet(value, m.threshold),
		Threshold:    m.threshold,
	}
	if snap.LastCheck != nil {
		reading.Timestamp = *snap.LastCheck
	}
	return reading, nil
}

// Create opens an Iron Condor on symbol. It fails with ErrBrokerNotConnected
// when the link is down, including when it went down while the quote was
// being fetched.
func (m *Manager) Create(ctx context.Context, symbol string) (models.Position, error) {
	m.mu.Lock()
	running := m.session.IsRunning()
	m.mu.Unlock()
	if !running {
		return models.Position{}, ErrBrokerNotConnected
	}

	pos := m.strategy.Generate(ctx, symbol)

	m.mu.Lock()
	if !m.session.IsRunning() {
		m.mu.Unlock()
		return models.Position{}, ErrBrokerNotConnected
	}
	if err := m.store.Add(pos); err != nil {
		m.mu.Unlock()
		return models.Position{}, fmt.Errorf("failed to create position: %w", err)
	}
	m.session.Link(pos)
	out := pos.Clone()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"id":      out.ID,
		"symbol":  out.Symbol,
		"premium": out.PremiumCollected,
	}).Info("Iron condor opened")
	m.recordOpen(&out)
	return out, nil
}

// List returns the open positions in creation order.
func (m *Manager) List() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.GetOpen()
}

// Close settles the open position id at a random P&L within
// [-max_loss, max_profit] and moves it to the history.
func (m *Manager) Close(id string) (models.Position, error) {
	m.mu.Lock()
	pos, ok := m.store.Get(id)
	if !ok {
		m.mu.Unlock()
		return models.Position{}, fmt.Errorf("close %s: %w", id, ErrNotFound)
	}

	lo, hi := -pos.MaxLoss, pos.MaxProfit
	pnl := util.Clamp(util.RoundToCents(util.UniformBetween(m.rng.Float64(), lo, hi)), lo, hi)
	if err := pos.Close(pnl, m.now()); err != nil {
		m.mu.Unlock()
		return models.Position{}, err
	}
	if _, err := m.store.Remove(id); err != nil {
		m.mu.Unlock()
		return models.Position{}, fmt.Errorf("close %s: %w", id, err)
	}
	m.session.Unlink(id)
	m.store.Archive(pos)
	out := pos.Clone()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"id":         out.ID,
		"pnl":        out.PnL,
		"profit_pct": out.ProfitPercent(),
	}).Info("Iron condor closed")
	if err := m.journal.RecordClose(&out); err != nil {
		m.logger.WithError(err).WithField("id", out.ID).Warn("Failed to journal position close")
	}
	return out, nil
}

// CreateDemo opens one position per demo symbol without checking the link,
// forces the link up and refreshes the volatility reading. Quotes are fetched
// concurrently; the result keeps the configured symbol order.
func (m *Manager) CreateDemo(ctx context.Context) ([]models.Position, error) {
	generated := make([]*models.Position, len(m.demo))
	var vix float64
	var vixErr error

	g, gctx := errgroup.WithContext(ctx)
	for i, sym := range m.demo {
		i, sym := i, sym
		g.Go(func() error {
			generated[i] = m.strategy.Generate(gctx, sym)
			return nil
		})
	}
	g.Go(func() error {
		vix, vixErr = m.market.Read(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to create demo data: %w", err)
	}

	out := make([]models.Position, 0, len(generated))
	m.mu.Lock()
	for _, pos := range generated {
		if err := m.store.Add(pos); err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("failed to create demo data: %w", err)
		}
		m.session.Link(pos)
		out = append(out, pos.Clone())
	}
	m.session.ForceConnect()
	m.market.Record(vix, vixErr)
	m.mu.Unlock()

	m.logger.WithField("count", len(out)).Info("Demo positions created")
	for i := range out {
		m.recordOpen(&out[i])
	}
	return out, nil
}

// History returns closed positions, most recent last.
func (m *Manager) History() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.GetHistory()
}

// Statistics summarizes closed trades and the open book.
func (m *Manager) Statistics() storage.Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.store.GetStatistics()
}

// ResetAll drops market, session and position state in one step. Issued
// position ids stay reserved.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	m.store.Reset()
	m.session.Reset()
	m.market.Reset()
	m.mu.Unlock()

	m.logger.Info("All data reset")
}

// Shutdown flushes and closes the trade journal.
func (m *Manager) Shutdown() error {
	return m.journal.Close()
}

func (m *Manager) recordOpen(pos *models.Position) {
	if err := m.journal.RecordOpen(pos); err != nil {
		m.logger.WithError(err).WithField("id", pos.ID).Warn("Failed to journal position open")
	}
}
