package store

import (
	"context"
	"fmt"

	"github.com/dpup/prefab/logging"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures the backend.
type Config struct {
	Driver     string           `koanf:"driver" yaml:"driver"`
	SQLitePath string           `koanf:"sqlite_path" yaml:"sqlite_path"`
	Postgres   PostgresConfig   `koanf:"postgres" yaml:"postgres"`
	ClickHouse ClickHouseConfig `koanf:"clickhouse" yaml:"clickhouse"`

	// ArchiveEnabled tees persisted samples into ClickHouse.
	ArchiveEnabled bool `koanf:"archive_enabled" yaml:"archive_enabled"`
}

// Open returns the configured Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	ctx = logging.EnsureLogger(ctx)
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", DriverMemory:
		s = NewMemory()
	case DriverSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "tripwatch.db"
		}
		s, err = OpenSQLite(path)
	case DriverPostgres:
		s, err = OpenPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	logging.Infow(ctx, "Store: opened", "driver", cfg.Driver)

	if !cfg.ArchiveEnabled {
		return s, nil
	}
	archive, err := OpenClickHouseArchive(ctx, cfg.ClickHouse)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	logging.Infow(ctx, "Store: archiving samples to ClickHouse", "host", cfg.ClickHouse.Host)
	return WithArchive(s, archive), nil
}
