package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	ModelSFGK = "sfgk" // zero-intelligence and chartist traders
	ModelCI   = "ci"   // Chiarella-Iori fundamentalists
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every setting of a simulator process. Load fills it from
// defaults, then a YAML file, then a .env file and DAS_* environment
// variables.
type Config struct {
	Simulation Simulation `yaml:"simulation"`
	SFGK       SFGK       `yaml:"sfgk"`
	CI         CI         `yaml:"ci"`
	Interest   Interest   `yaml:"interest"`
	Book       Book       `yaml:"book"`
	Gateway    Gateway    `yaml:"gateway"`
	API        API        `yaml:"api"`
	Store      Store      `yaml:"store"`
	Logging    Logging    `yaml:"logging"`
}

type Simulation struct {
	Model          string        `yaml:"model"`
	Rounds         int           `yaml:"rounds"`
	Seed           int64         `yaml:"seed"` // 0 picks one from the clock
	RoundInterval  time.Duration `yaml:"round_interval"`
	StartingMoney  float64       `yaml:"starting_money"`
	StartingShares int64         `yaml:"starting_shares"`
	Users          []string      `yaml:"users"`
}

type SFGK struct {
	ZeroIntel        int     `yaml:"zero_intel"`
	Chartists        int     `yaml:"chartists"`
	History          int     `yaml:"history"`
	LimitProb        float64 `yaml:"limit_prob"`
	SellProb         float64 `yaml:"sell_prob"`
	Interval         float64 `yaml:"interval"`
	Lifetime         int     `yaml:"lifetime"`
	FundamentalPrice float64 `yaml:"fundamental_price"`
	Contrarian       bool    `yaml:"contrarian"`
}

type CI struct {
	Agents      int     `yaml:"agents"`
	Tau         int     `yaml:"tau"`    // Order lifetime in rounds
	Tick        float64 `yaml:"tick"`   // Price grid
	Lambda      float64 `yaml:"lambda"` // Probability a trader enters on a round
	Fundamental float64 `yaml:"fundamental"`
	FundStd     float64 `yaml:"fund_std"`
	ChartStd    float64 `yaml:"chart_std"`
	NoiseStd    float64 `yaml:"noise_std"`
	MaxLookback int     `yaml:"max_lookback"`
	MaxFraction float64 `yaml:"max_fraction"`
}

type Interest struct {
	Enabled  bool    `yaml:"enabled"`
	Rate     float64 `yaml:"rate"`
	Dividend float64 `yaml:"dividend"`
	Period   int     `yaml:"period"`
}

type Book struct {
	Expirations         bool   `yaml:"expirations"`
	SelfTradePrevention bool   `yaml:"self_trade_prevention"`
	SkipPolicy          string `yaml:"skip_policy"` // restore | discard
}

type Gateway struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	Workers int    `yaml:"workers"`
}

type API struct {
	Address        string   `yaml:"address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Store struct {
	Path string `yaml:"path"` // empty disables persistence
}

type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func Default() Config {
	return Config{
		Simulation: Simulation{
			Model:          ModelSFGK,
			Rounds:         10000,
			RoundInterval:  time.Millisecond,
			StartingMoney:  1000,
			StartingShares: 20,
			Users:          []string{"user"},
		},
		SFGK: SFGK{
			ZeroIntel:        50,
			Chartists:        50,
			History:          3,
			LimitProb:        0.7,
			SellProb:         0.5,
			Interval:         5,
			Lifetime:         100,
			FundamentalPrice: 50,
		},
		CI: CI{
			Agents:      100,
			Tau:         100,
			Tick:        0.01,
			Lambda:      0.5,
			Fundamental: 50,
			FundStd:     1.0,
			ChartStd:    1.4,
			NoiseStd:    1.0,
			MaxLookback: 100,
			MaxFraction: 0.5,
		},
		Interest: Interest{
			Enabled:  true,
			Rate:     1.03,
			Dividend: 1.035,
			Period:   1000,
		},
		Book: Book{
			Expirations: true,
			SkipPolicy:  "restore",
		},
		Gateway: Gateway{
			Address: "0.0.0.0",
			Port:    9001,
			Workers: 20,
		},
		API: API{
			Address:        ":8080",
			AllowedOrigins: []string{"*"},
		},
		Logging: Logging{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies the .env
// file at envPath and the process environment.
// Priority: ENV > .env file > YAML > defaults
func Load(path, envPath string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// The .env file is optional.
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if err := overrideWithEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideWithEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("DAS_MODEL", &cfg.Simulation.Model)
	integer("DAS_ROUNDS", &cfg.Simulation.Rounds)
	if v := os.Getenv("DAS_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("DAS_SEED: %w", err))
		} else {
			cfg.Simulation.Seed = seed
		}
	}
	if v := os.Getenv("DAS_ROUND_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DAS_ROUND_INTERVAL: %w", err))
		} else {
			cfg.Simulation.RoundInterval = d
		}
	}
	if v := os.Getenv("DAS_USERS"); v != "" {
		cfg.Simulation.Users = strings.Split(v, ",")
	}

	integer("DAS_ZERO_INTEL", &cfg.SFGK.ZeroIntel)
	integer("DAS_CHARTISTS", &cfg.SFGK.Chartists)
	float("DAS_LIMIT_PROB", &cfg.SFGK.LimitProb)
	float("DAS_SELL_PROB", &cfg.SFGK.SellProb)
	integer("DAS_CI_AGENTS", &cfg.CI.Agents)
	float("DAS_CI_LAMBDA", &cfg.CI.Lambda)

	boolean("DAS_INTEREST", &cfg.Interest.Enabled)
	boolean("DAS_EXPIRATIONS", &cfg.Book.Expirations)
	boolean("DAS_SELF_TRADE_PREVENTION", &cfg.Book.SelfTradePrevention)
	str("DAS_SKIP_POLICY", &cfg.Book.SkipPolicy)

	str("DAS_GATEWAY_ADDRESS", &cfg.Gateway.Address)
	integer("DAS_GATEWAY_PORT", &cfg.Gateway.Port)
	str("DAS_API_ADDRESS", &cfg.API.Address)
	str("DAS_STORE_PATH", &cfg.Store.Path)
	str("DAS_LOG_LEVEL", &cfg.Logging.Level)
	boolean("DAS_LOG_PRETTY", &cfg.Logging.Pretty)

	return errors.Join(errs...)
}

// Validate rejects settings the simulator cannot run with.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	probability := func(p float64) bool { return p >= 0 && p <= 1 }

	sim := c.Simulation
	switch sim.Model {
	case ModelSFGK:
		if c.SFGK.ZeroIntel < 0 || c.SFGK.Chartists < 0 || c.SFGK.ZeroIntel+c.SFGK.Chartists == 0 {
			return fail("sfgk needs at least one trader")
		}
		if !probability(c.SFGK.LimitProb) || !probability(c.SFGK.SellProb) {
			return fail("sfgk probabilities must lie in [0, 1]")
		}
		if c.SFGK.Interval < 0 || c.SFGK.Lifetime < 0 || c.SFGK.History < 0 {
			return fail("sfgk interval, lifetime and history must not be negative")
		}
	case ModelCI:
		if c.CI.Agents <= 0 {
			return fail("ci needs at least one trader")
		}
		if !probability(c.CI.Lambda) {
			return fail("ci lambda must lie in [0, 1]")
		}
		if c.CI.MaxFraction < 0 || c.CI.MaxFraction >= 1 {
			return fail("ci max_fraction must lie in [0, 1)")
		}
		if c.CI.MaxLookback < 1 || c.CI.Tau < 0 || c.CI.Tick <= 0 || c.CI.Fundamental <= 0 {
			return fail("ci max_lookback, tau, tick and fundamental out of range")
		}
	default:
		return fail("unknown model %q", sim.Model)
	}

	if sim.Rounds <= 0 {
		return fail("rounds must be positive")
	}
	if sim.RoundInterval < 0 {
		return fail("round interval must not be negative")
	}
	if sim.StartingMoney < 0 || sim.StartingShares < 0 {
		return fail("starting endowment must not be negative")
	}
	if c.Interest.Enabled && c.Interest.Period <= 0 {
		return fail("interest period must be positive")
	}
	if c.Interest.Rate < 0 || c.Interest.Dividend < 0 {
		return fail("interest rate and dividend must not be negative")
	}
	if c.Book.SkipPolicy != "restore" && c.Book.SkipPolicy != "discard" {
		return fail("unknown skip policy %q", c.Book.SkipPolicy)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fail("gateway port %d out of range", c.Gateway.Port)
	}
	if c.Gateway.Workers <= 0 {
		return fail("gateway needs at least one worker")
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fail("log level: %v", err)
	}
	return nil
}

// LogLevel returns the parsed logging level, info when unparseable.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Logging.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
