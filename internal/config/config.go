// Package config provides configuration management for the condor demo server.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/market"
	"github.com/eddiefleurent/scranton_condor/internal/strategy"
)

// Defaults applied by Default and by Validate when a field is unset
const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 5000
	defaultShutdownTimeout  = "10s"
	defaultBrokerTimeout    = "10s"
	defaultInitDelay        = "1s"
	defaultLoginDelay       = "500ms"
	defaultLoginSuccessRate = 0.75
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Server      ServerConfig      `yaml:"server"`
	Broker      BrokerConfig      `yaml:"broker"`
	Market      MarketConfig      `yaml:"market"`
	Simulation  SimulationConfig  `yaml:"simulation"`
	Storage     StorageConfig     `yaml:"storage"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

// BrokerConfig defines the market-data provider.
type BrokerConfig struct {
	Provider       string               `yaml:"provider"` // tradier | mock
	APIKey         string               `yaml:"api_key"`
	APIEndpoint    string               `yaml:"api_endpoint"`
	Sandbox        bool                 `yaml:"sandbox"`
	Timeout        string               `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig mirrors broker.CircuitBreakerSettings.
type CircuitBreakerConfig struct {
	Enabled      bool    `yaml:"enabled"`
	MaxRequests  uint32  `yaml:"max_requests"`
	Interval     string  `yaml:"interval"`
	Timeout      string  `yaml:"timeout"`
	MinRequests  uint32  `yaml:"min_requests"`
	FailureRatio float64 `yaml:"failure_ratio"`
}

// MarketConfig defines the volatility reading and trading hours.
type MarketConfig struct {
	VolatilitySymbol   string  `yaml:"volatility_symbol"`
	LookbackDays       int     `yaml:"lookback_days"`
	Timezone           string  `yaml:"timezone"` // e.g., "America/New_York"
	Open               string  `yaml:"open"`     // "HH:MM"
	Close              string  `yaml:"close"`    // "HH:MM"
	FallbackMin        float64 `yaml:"fallback_min"`
	FallbackMax        float64 `yaml:"fallback_max"`
	ConditionThreshold float64 `yaml:"condition_threshold"`
}

// SimulationConfig defines the simulated broker link and position generator.
type SimulationConfig struct {
	InitDelay  string `yaml:"init_delay"`
	LoginDelay string `yaml:"login_delay"`
	// LoginSuccessRate is a pointer so an explicit 0 survives defaulting
	LoginSuccessRate *float64 `yaml:"login_success_rate"`
	Seed             int64    `yaml:"seed"` // 0 seeds from the clock
	FallbackPrice    float64  `yaml:"fallback_price"`
	DemoSymbols      []string `yaml:"demo_symbols"`
}

// StorageConfig defines the optional trade journal.
type StorageConfig struct {
	JournalPath string `yaml:"journal_path"` // empty disables the journal
}

// Default returns a complete configuration that runs without a file.
func Default() *Config {
	rate := defaultLoginSuccessRate
	return &Config{
		Environment: EnvironmentConfig{LogLevel: "info", LogFormat: "text"},
		Server: ServerConfig{
			Host:            defaultHost,
			Port:            defaultPort,
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Broker: BrokerConfig{
			Provider: "mock",
			Sandbox:  true,
			Timeout:  defaultBrokerTimeout,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:      true,
				MaxRequests:  broker.DefaultCircuitBreakerSettings.MaxRequests,
				Interval:     broker.DefaultCircuitBreakerSettings.Interval.String(),
				Timeout:      broker.DefaultCircuitBreakerSettings.Timeout.String(),
				MinRequests:  broker.DefaultCircuitBreakerSettings.MinRequests,
				FailureRatio: broker.DefaultCircuitBreakerSettings.FailureRatio,
			},
		},
		Market: MarketConfig{
			VolatilitySymbol:   market.DefaultSymbol,
			LookbackDays:       broker.DefaultLookbackDays,
			Timezone:           market.DefaultTimezone,
			Open:               market.DefaultOpen,
			Close:              market.DefaultClose,
			FallbackMin:        market.DefaultFallbackMin,
			FallbackMax:        market.DefaultFallbackMax,
			ConditionThreshold: market.DefaultConditionThreshold,
		},
		Simulation: SimulationConfig{
			InitDelay:        defaultInitDelay,
			LoginDelay:       defaultLoginDelay,
			LoginSuccessRate: &rate,
			FallbackPrice:    strategy.DefaultFallbackPrice,
			DemoSymbols:      []string{"SPY", "QQQ", "IWM"},
		},
	}
}

// Load reads and parses the configuration file from the specified path.
// Fields missing from the file keep their Default values.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	config := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// Validate checks that all configuration values are valid and consistent.
// Empty optional fields are normalized to their defaults first.
func (c *Config) Validate() error {
	c.normalize()

	// Environment validation
	switch strings.ToLower(c.Environment.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}
	if c.Environment.LogFormat != "text" && c.Environment.LogFormat != "json" {
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("server.shutdown_timeout invalid: %w", err)
	}

	// Broker validation
	switch c.Broker.Provider {
	case "tradier":
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required for provider 'tradier'")
		}
	case "mock":
	default:
		return fmt.Errorf("broker.provider must be 'tradier' or 'mock'")
	}
	if d, err := time.ParseDuration(c.Broker.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("broker.timeout must be a positive duration")
	}
	if cb := c.Broker.CircuitBreaker; cb.Enabled {
		if _, err := time.ParseDuration(cb.Interval); err != nil {
			return fmt.Errorf("broker.circuit_breaker.interval invalid: %w", err)
		}
		if _, err := time.ParseDuration(cb.Timeout); err != nil {
			return fmt.Errorf("broker.circuit_breaker.timeout invalid: %w", err)
		}
		if cb.FailureRatio <= 0 || cb.FailureRatio > 1 {
			return fmt.Errorf("broker.circuit_breaker.failure_ratio must be in (0,1]")
		}
	}

	// Market validation
	if c.Market.LookbackDays <= 0 {
		return fmt.Errorf("market.lookback_days must be > 0")
	}
	if c.Market.FallbackMin <= 0 || c.Market.FallbackMin > c.Market.FallbackMax {
		return fmt.Errorf("market fallback range must satisfy 0 < fallback_min <= fallback_max")
	}
	if _, err := market.NewHours(c.Market.Timezone, c.Market.Open, c.Market.Close); err != nil {
		return fmt.Errorf("market trading window invalid: %w", err)
	}

	// Simulation validation
	if d, err := time.ParseDuration(c.Simulation.InitDelay); err != nil || d < 0 {
		return fmt.Errorf("simulation.init_delay must be a non-negative duration")
	}
	if d, err := time.ParseDuration(c.Simulation.LoginDelay); err != nil || d < 0 {
		return fmt.Errorf("simulation.login_delay must be a non-negative duration")
	}
	if r := *c.Simulation.LoginSuccessRate; r < 0 || r > 1 {
		return fmt.Errorf("simulation.login_success_rate must be between 0 and 1")
	}
	if c.Simulation.FallbackPrice <= 0 {
		return fmt.Errorf("simulation.fallback_price must be > 0")
	}
	for _, sym := range c.Simulation.DemoSymbols {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("simulation.demo_symbols must not contain empty symbols")
		}
	}

	return nil
}

// normalize sets default values for unset optional fields
func (c *Config) normalize() {
	d := Default()
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = d.Environment.LogLevel
	}
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = d.Environment.LogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = d.Server.AllowedOrigins
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Broker.Provider == "" {
		c.Broker.Provider = d.Broker.Provider
	}
	if c.Broker.Timeout == "" {
		c.Broker.Timeout = d.Broker.Timeout
	}
	if c.Market.VolatilitySymbol == "" {
		c.Market.VolatilitySymbol = d.Market.VolatilitySymbol
	}
	if c.Market.LookbackDays == 0 {
		c.Market.LookbackDays = d.Market.LookbackDays
	}
	if c.Market.Timezone == "" {
		c.Market.Timezone = d.Market.Timezone
	}
	if c.Market.Open == "" {
		c.Market.Open = d.Market.Open
	}
	if c.Market.Close == "" {
		c.Market.Close = d.Market.Close
	}
	if c.Market.FallbackMin == 0 && c.Market.FallbackMax == 0 {
		c.Market.FallbackMin, c.Market.FallbackMax = d.Market.FallbackMin, d.Market.FallbackMax
	}
	if c.Market.ConditionThreshold == 0 {
		c.Market.ConditionThreshold = d.Market.ConditionThreshold
	}
	if c.Simulation.InitDelay == "" {
		c.Simulation.InitDelay = d.Simulation.InitDelay
	}
	if c.Simulation.LoginDelay == "" {
		c.Simulation.LoginDelay = d.Simulation.LoginDelay
	}
	if c.Simulation.LoginSuccessRate == nil {
		c.Simulation.LoginSuccessRate = d.Simulation.LoginSuccessRate
	}
	if c.Simulation.FallbackPrice == 0 {
		c.Simulation.FallbackPrice = d.Simulation.FallbackPrice
	}
	if len(c.Simulation.DemoSymbols) == 0 {
		c.Simulation.DemoSymbols = d.Simulation.DemoSymbols
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// UseMockData reports whether quotes come from the synthetic provider.
func (c *Config) UseMockData() bool {
	return c.Broker.Provider == "mock"
}

// GetShutdownTimeout returns the graceful shutdown budget.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// GetBrokerTimeout returns the HTTP timeout for quote requests.
func (c *Config) GetBrokerTimeout() time.Duration {
	return parseDuration(c.Broker.Timeout, 10*time.Second)
}

// GetInitDelay returns the simulated browser startup delay.
func (c *Config) GetInitDelay() time.Duration {
	return parseDuration(c.Simulation.InitDelay, time.Second)
}

// GetLoginDelay returns the simulated login check delay.
func (c *Config) GetLoginDelay() time.Duration {
	return parseDuration(c.Simulation.LoginDelay, 500*time.Millisecond)
}

// GetLoginSuccessRate returns the login draw threshold.
func (c *Config) GetLoginSuccessRate() float64 {
	if c.Simulation.LoginSuccessRate == nil {
		return defaultLoginSuccessRate
	}
	return *c.Simulation.LoginSuccessRate
}

// GetCircuitBreakerSettings converts the breaker section to broker settings.
func (c *Config) GetCircuitBreakerSettings() broker.CircuitBreakerSettings {
	def := broker.DefaultCircuitBreakerSettings
	cb := c.Broker.CircuitBreaker
	s := broker.CircuitBreakerSettings{
		MaxRequests:  cb.MaxRequests,
		Interval:     parseDuration(cb.Interval, def.Interval),
		Timeout:      parseDuration(cb.Timeout, def.Timeout),
		MinRequests:  cb.MinRequests,
		FailureRatio: cb.FailureRatio,
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = def.MaxRequests
	}
	if s.MinRequests == 0 {
		s.MinRequests = def.MinRequests
	}
	if s.FailureRatio == 0 {
		s.FailureRatio = def.FailureRatio
	}
	return s
}

// GetTradingHours builds the market-open window.
func (c *Config) GetTradingHours() market.Hours {
	h, err := market.NewHours(c.Market.Timezone, c.Market.Open, c.Market.Close)
	if err != nil {
		return market.DefaultHours()
	}
	return h
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
