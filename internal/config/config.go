package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/tripwatch/server/internal/clients/messaging"
	"github.com/tripwatch/server/internal/lib/dispatch"
	"github.com/tripwatch/server/internal/lib/monitor"
	"github.com/tripwatch/server/internal/lib/realtime"
	"github.com/tripwatch/server/internal/lib/tracking"
	"github.com/tripwatch/server/internal/store"
)

// Config represents the complete server configuration. Each field is one
// top-level section of prefab.yaml.
type Config struct {
	Store      StoreConfig      `koanf:"store" yaml:"store"`
	Monitor    monitor.Config   `koanf:"monitor" yaml:"monitor"`
	Tracking   tracking.Config  `koanf:"tracking" yaml:"tracking"`
	Dispatch   dispatch.Config  `koanf:"dispatch" yaml:"dispatch"`
	Messaging  messaging.Config `koanf:"messaging" yaml:"messaging"`
	Directions DirectionsConfig `koanf:"directions" yaml:"directions"`
	Realtime   RealtimeConfig   `koanf:"realtime" yaml:"realtime"`
	Auth       AuthConfig       `koanf:"auth" yaml:"auth"`
	Membership MembershipConfig `koanf:"membership" yaml:"membership"`
}

// StoreConfig selects the backend and the sample retention policy.
type StoreConfig struct {
	Backend         store.Config  `koanf:"backend" yaml:"backend"`
	SampleRetention time.Duration `koanf:"sample_retention" yaml:"sample_retention"`
	SweepInterval   time.Duration `koanf:"sweep_interval" yaml:"sweep_interval"`
}

// DirectionsConfig holds Google Routes API settings. An empty key disables
// the directions fallback.
type DirectionsConfig struct {
	APIKey  string `koanf:"api_key" yaml:"api_key"`
	BaseURL string `koanf:"base_url" yaml:"base_url"`
}

// RealtimeConfig configures the cross-instance relay. An empty NATS URL
// keeps realtime events local to this instance.
type RealtimeConfig struct {
	NATSURL       string `koanf:"nats_url" yaml:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix" yaml:"subject_prefix"`
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string `koanf:"issuer" yaml:"issuer"`

	// AllowHeaderIdentity trusts an X-User-ID header when no bearer token is
	// present. Only for development behind a trusted proxy.
	AllowHeaderIdentity bool `koanf:"allow_header_identity" yaml:"allow_header_identity"`
}

// MembershipConfig controls the user to circle cache.
type MembershipConfig struct {
	CacheTTL time.Duration `koanf:"cache_ttl" yaml:"cache_ttl"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: store.Config{
				Driver:     store.DriverMemory,
				SQLitePath: "tripwatch.db",
				Postgres: store.PostgresConfig{
					Host:     "localhost",
					Port:     5432,
					Database: "tripwatch",
					User:     "tripwatch",
				},
				ClickHouse: store.ClickHouseConfig{
					Host:          "localhost",
					Port:          9000,
					Database:      "default",
					User:          "default",
					RetentionDays: 365,
				},
			},
			SampleRetention: 30 * 24 * time.Hour,
			SweepInterval:   time.Hour,
		},
		Monitor:  monitor.DefaultConfig(),
		Tracking: tracking.DefaultConfig(),
		Dispatch: dispatch.DefaultConfig(),
		Messaging: messaging.Config{
			Timeout: 15 * time.Second,
		},
		Realtime: RealtimeConfig{
			SubjectPrefix: realtime.DefaultSubjectPrefix,
		},
		Membership: MembershipConfig{
			CacheTTL: 10 * time.Minute,
		},
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Monitor.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Tracking.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Dispatch.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Backend.Driver {
	case "", store.DriverMemory, store.DriverSQLite, store.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Backend.Driver))
	}
	if c.Store.SampleRetention < 0 {
		errs = append(errs, errors.New("store: sample_retention must not be negative"))
	}
	if c.Store.SampleRetention > 0 && c.Store.SweepInterval <= 0 {
		errs = append(errs, errors.New("store: sweep_interval must be positive when retention is enabled"))
	}
	if c.Membership.CacheTTL <= 0 {
		errs = append(errs, errors.New("membership: cache_ttl must be positive"))
	}
	if c.Auth.JWTSecret == "" && !c.Auth.AllowHeaderIdentity {
		errs = append(errs, errors.New("auth: jwt_secret is required unless allow_header_identity is set"))
	}
	return errors.Join(errs...)
}
