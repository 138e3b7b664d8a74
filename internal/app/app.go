// Package app turns a Config into a ready Manager. Both commands share it.
package app

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/config"
	"github.com/eddiefleurent/scranton_condor/internal/manager"
	"github.com/eddiefleurent/scranton_condor/internal/mock"
	"github.com/eddiefleurent/scranton_condor/internal/session"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
	"github.com/eddiefleurent/scranton_condor/internal/strategy"
)

// LoadConfig reads path, falling back to the defaults when the file does not
// exist. The bool reports whether the defaults were used.
func LoadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid default config: %w", err)
	}
	return cfg, true, nil
}

// NewQuoteSource picks the market-data provider and wraps it with the
// circuit breaker when enabled.
func NewQuoteSource(cfg *config.Config, logger *logrus.Logger) broker.QuoteSource {
	var source broker.QuoteSource
	if cfg.UseMockData() {
		source = mock.NewDataProvider()
	} else {
		client := broker.NewTradierAPIWithBaseURL(cfg.Broker.APIKey, cfg.Broker.Sandbox, cfg.Broker.APIEndpoint).
			WithTimeout(cfg.GetBrokerTimeout())
		source = broker.NewTradierQuotes(client, cfg.Market.LookbackDays)
	}

	if cfg.Broker.CircuitBreaker.Enabled {
		source = broker.NewCircuitBreakerQuotesWithSettings(source, cfg.GetCircuitBreakerSettings(),
			logger.WithField("component", "quotes"))
	}
	return source
}

// NewManager opens the journal and builds a Manager over source. A nil
// source is built from cfg. Call Manager.Shutdown to close the journal.
func NewManager(cfg *config.Config, source broker.QuoteSource, logger *logrus.Logger) (*manager.Manager, error) {
	journal, err := storage.NewJournal(cfg.Storage.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("opening trade journal: %w", err)
	}
	if source == nil {
		source = NewQuoteSource(cfg, logger)
	}

	seed := cfg.Simulation.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	hours := cfg.GetTradingHours()
	return manager.New(manager.Options{
		Quotes: source,
		Session: session.Config{
			InitDelay:        cfg.GetInitDelay(),
			LoginDelay:       cfg.GetLoginDelay(),
			LoginSuccessRate: cfg.GetLoginSuccessRate(),
		},
		Strategy: strategy.Config{
			FallbackPrice:    cfg.Simulation.FallbackPrice,
			DaysToExpiration: strategy.DefaultDaysToExpiration,
		},
		VolatilitySymbol:   cfg.Market.VolatilitySymbol,
		FallbackMin:        cfg.Market.FallbackMin,
		FallbackMax:        cfg.Market.FallbackMax,
		Hours:              &hours,
		ConditionThreshold: cfg.Market.ConditionThreshold,
		DemoSymbols:        cfg.Simulation.DemoSymbols,
		Journal:            journal,
		Rand:               rand.New(rand.NewSource(seed)), // #nosec G404 -- simulation only
		Logger:             logger,
	}), nil
}
