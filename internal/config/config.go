package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is one crawl job's configuration: {max_pages, max_concurrent,
// request_delay_s, per_request_timeout_s, user_agent, respect_robots} per
// spec.md §4.5, plus the retry/backoff knobs carried over from the
// teacher's politeness layer.
type Config struct {
	//===============
	// Limits
	//===============
	// Maximum number of pages the crawl is permitted to fetch.
	maxPages int

	//===============
	// Concurrency & politeness
	//===============
	// Bounded concurrency permit capacity.
	maxConcurrent int
	// Politeness delay applied inside each permit, per host.
	requestDelay time.Duration
	// Randomized variation added on top of the request delay.
	jitter time.Duration
	// Controls the random number generator used for jitter.
	randomSeed    int64
	respectRobots bool

	//===============
	// Retry
	//===============
	maxAttempt             int
	backoffInitialDuration time.Duration
	backoffMultiplier      float64
	backoffMaxDuration     time.Duration

	//===============
	// Fetch
	//===============
	// Per-request timeout; bounds every individual HTTP fetch.
	perRequestTimeout time.Duration
	userAgent         string
}

type configDTO struct {
	MaxPages               int           `json:"maxPages,omitempty"`
	MaxConcurrent          int           `json:"maxConcurrent,omitempty"`
	RequestDelay           time.Duration `json:"requestDelaySeconds,omitempty"`
	Jitter                 time.Duration `json:"jitter,omitempty"`
	RandomSeed             int64         `json:"randomSeed,omitempty"`
	RespectRobots          *bool         `json:"respectRobots,omitempty"`
	MaxAttempt             int           `json:"maxAttempt,omitempty"`
	BackoffInitialDuration time.Duration `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier      float64       `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration     time.Duration `json:"backoffMaxDuration,omitempty"`
	PerRequestTimeout      time.Duration `json:"perRequestTimeoutSeconds,omitempty"`
	UserAgent              string        `json:"userAgent,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg, err := WithDefault().Build()
	if err != nil {
		return Config{}, err
	}

	if dto.MaxPages != 0 {
		cfg.maxPages = dto.MaxPages
	}
	if dto.MaxConcurrent != 0 {
		cfg.maxConcurrent = dto.MaxConcurrent
	}
	if dto.RequestDelay != 0 {
		cfg.requestDelay = dto.RequestDelay * time.Second
	}
	if dto.Jitter != 0 {
		cfg.jitter = dto.Jitter
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.RespectRobots != nil {
		cfg.respectRobots = *dto.RespectRobots
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if dto.BackoffInitialDuration != 0 {
		cfg.backoffInitialDuration = dto.BackoffInitialDuration
	}
	if dto.BackoffMultiplier != 0 {
		cfg.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.BackoffMaxDuration != 0 {
		cfg.backoffMaxDuration = dto.BackoffMaxDuration
	}
	if dto.PerRequestTimeout != 0 {
		cfg.perRequestTimeout = dto.PerRequestTimeout * time.Second
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}

	return cfg, nil
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	if err := json.Unmarshal(configContent, &cfgDTO); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	return newConfigFromDTO(cfgDTO)
}

// WithDefault creates a new Config builder seeded with sane defaults for
// every field.
func WithDefault() *Config {
	return &Config{
		maxPages:               1000,
		maxConcurrent:          10,
		requestDelay:           time.Second,
		jitter:                 time.Millisecond * 500,
		randomSeed:             1,
		respectRobots:          true,
		maxAttempt:             3,
		backoffInitialDuration: 200 * time.Millisecond,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     5 * time.Second,
		perRequestTimeout:      10 * time.Second,
		userAgent:              "linkgraph/1.0",
	}
}

func (c *Config) WithMaxPages(pages int) *Config {
	c.maxPages = pages
	return c
}

func (c *Config) WithMaxConcurrent(concurrent int) *Config {
	c.maxConcurrent = concurrent
	return c
}

func (c *Config) WithRequestDelay(delay time.Duration) *Config {
	c.requestDelay = delay
	return c
}

func (c *Config) WithJitter(jitter time.Duration) *Config {
	c.jitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithRespectRobots(respect bool) *Config {
	c.respectRobots = respect
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithBackoffInitialDuration(duration time.Duration) *Config {
	c.backoffInitialDuration = duration
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(duration time.Duration) *Config {
	c.backoffMaxDuration = duration
	return c
}

func (c *Config) WithPerRequestTimeout(timeout time.Duration) *Config {
	c.perRequestTimeout = timeout
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) Build() (Config, error) {
	if c.maxPages <= 0 {
		return Config{}, fmt.Errorf("%w: maxPages must be positive", ErrInvalidConfig)
	}
	if c.maxConcurrent <= 0 {
		return Config{}, fmt.Errorf("%w: maxConcurrent must be positive", ErrInvalidConfig)
	}
	return *c, nil
}

func (c Config) MaxPages() int                         { return c.maxPages }
func (c Config) MaxConcurrent() int                    { return c.maxConcurrent }
func (c Config) RequestDelay() time.Duration           { return c.requestDelay }
func (c Config) Jitter() time.Duration                 { return c.jitter }
func (c Config) RandomSeed() int64                     { return c.randomSeed }
func (c Config) RespectRobots() bool                   { return c.respectRobots }
func (c Config) MaxAttempt() int                       { return c.maxAttempt }
func (c Config) BackoffInitialDuration() time.Duration { return c.backoffInitialDuration }
func (c Config) BackoffMultiplier() float64            { return c.backoffMultiplier }
func (c Config) BackoffMaxDuration() time.Duration     { return c.backoffMaxDuration }
func (c Config) PerRequestTimeout() time.Duration      { return c.perRequestTimeout }
func (c Config) UserAgent() string                     { return c.userAgent }

// DBPath returns the bbolt database file path, honoring the
// SCRAPER_ENGINE_DB environment variable override (spec.md §6).
func DBPath() string {
	if p := os.Getenv("SCRAPER_ENGINE_DB"); p != "" {
		return p
	}
	return "linkgraph.db"
}
