package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	DBDriver          string        `env:"DB_DRIVER" envDefault:"sqlite"`
	DBConnStr         string        `env:"DB_CONN_STR" envDefault:"dice.db"`
	PersistMaxElapsed time.Duration `env:"PERSIST_MAX_ELAPSED" envDefault:"2s"`

	HouseEdge           float64 `env:"HOUSE_EDGE" envDefault:"0.015"`
	MinBetSats          int64   `env:"MIN_BET_SATS" envDefault:"1"`
	MaxBetSats          int64   `env:"MAX_BET_SATS" envDefault:"100000"`
	InitialBankrollSats int64   `env:"INITIAL_BANKROLL_SATS" envDefault:"0"`
	PauseThresholdSats  int64   `env:"PAUSE_THRESHOLD_SATS" envDefault:"0"`
	SafetyFactor        float64 `env:"SAFETY_FACTOR" envDefault:"2"`

	// DevEntropy injects random entropy when no payment authorization is
	// present. Never enable in production.
	DevEntropy bool `env:"DEV_ENTROPY" envDefault:"false"`

	NatsURL       string        `env:"NATS_URL"`
	PayoutSubject string        `env:"PAYOUT_SUBJECT" envDefault:"dice.payout"`
	PayoutTimeout time.Duration `env:"PAYOUT_TIMEOUT" envDefault:"5s"`
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		fmt.Println("No .env file loaded:", err)
	}
	return Parse()
}

func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.HouseEdge < 0 || c.HouseEdge >= 1 {
		errs = append(errs, fmt.Errorf("HOUSE_EDGE must be in [0,1), got %v", c.HouseEdge))
	}
	if c.MinBetSats < 1 {
		errs = append(errs, fmt.Errorf("MIN_BET_SATS must be >= 1, got %d", c.MinBetSats))
	}
	if c.MinBetSats > c.MaxBetSats {
		errs = append(errs, fmt.Errorf("MIN_BET_SATS (%d) exceeds MAX_BET_SATS (%d)", c.MinBetSats, c.MaxBetSats))
	}
	if c.SafetyFactor < 1 {
		errs = append(errs, fmt.Errorf("SAFETY_FACTOR must be >= 1, got %v", c.SafetyFactor))
	}
	if c.InitialBankrollSats < 0 || c.PauseThresholdSats < 0 {
		errs = append(errs, errors.New("bankroll figures must not be negative"))
	}
	if c.DBDriver != DriverPostgres && c.DBDriver != DriverSQLite {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DBDriver))
	}
	return errors.Join(errs...)
}
