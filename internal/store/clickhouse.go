package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/dpup/prefab/logging"

	"github.com/tripwatch/server/internal/lib/trip"
)

// ClickHouseConfig holds ClickHouse connection settings for the sample
// archive.
type ClickHouseConfig struct {
	Host          string `koanf:"host" yaml:"host"`
	Port          int    `koanf:"port" yaml:"port"`
	Database      string `koanf:"database" yaml:"database"`
	User          string `koanf:"user" yaml:"user"`
	Password      string `koanf:"password" yaml:"password"`
	RetentionDays int    `koanf:"retention_days" yaml:"retention_days"`
}

// SampleArchive receives every persisted sample for long-term analytics.
type SampleArchive interface {
	ArchiveSamples(ctx context.Context, samples []trip.Sample) error
}

// ClickHouseArchive writes samples to a MergeTree table with a TTL.
type ClickHouseArchive struct {
	conn          driver.Conn
	retentionDays int
}

// OpenClickHouseArchive connects and creates the archive table.
func OpenClickHouseArchive(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseArchive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	days := cfg.RetentionDays
	if days <= 0 {
		days = 365
	}
	a := &ClickHouseArchive{conn: conn, retentionDays: days}
	if err := a.CreateSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return a, nil
}

// Close closes the connection.
func (a *ClickHouseArchive) Close() error {
	return a.conn.Close()
}

// CreateSchema creates the archive table.
func (a *ClickHouseArchive) CreateSchema(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS trip_samples (
		id              String,
		trip_id         String,
		user_id         LowCardinality(String),
		latitude        Float64,
		longitude       Float64,
		speed           Float32,
		heading         Float32,
		altitude        Float32,
		accuracy        Float32,
		battery_level   Nullable(Float32),
		ts              DateTime64(3),
		is_moving       Bool,
		archived_at     DateTime64(3) DEFAULT now64(3)
	)
	ENGINE = ReplacingMergeTree(archived_at)
	PARTITION BY toYYYYMM(ts)
	ORDER BY (trip_id, ts, id)
	TTL toDateTime(ts) + INTERVAL %d DAY`, a.retentionDays)

	if err := a.conn.Exec(ctx, q); err != nil {
		return fmt.Errorf("create archive schema: %w", err)
	}
	return nil
}

// ArchiveSamples appends samples in one batch. Replays are collapsed by the
// ReplacingMergeTree engine.
func (a *ClickHouseArchive) ArchiveSamples(ctx context.Context, samples []trip.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO trip_samples (id, trip_id, user_id, latitude, longitude, speed, heading, altitude, accuracy, battery_level, ts, is_moving)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, s := range samples {
		var battery *float32
		if s.BatteryLevel != nil {
			b := float32(*s.BatteryLevel)
			battery = &b
		}
		err := batch.Append(s.ID, s.TripID, s.UserID, s.Latitude, s.Longitude,
			float32(s.Speed), float32(s.Heading), float32(s.Altitude), float32(s.Accuracy),
			battery, s.Timestamp, s.IsMoving)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append sample: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CountSamples returns the number of archived samples for a trip.
func (a *ClickHouseArchive) CountSamples(ctx context.Context, tripID string) (uint64, error) {
	var n uint64
	err := a.conn.QueryRow(ctx, `SELECT count() FROM trip_samples FINAL WHERE trip_id = ?`, tripID).Scan(&n)
	return n, err
}

// Archiving tees every sample batch saved to the primary store into an
// archive. Archive failures are logged and never fail the save.
type Archiving struct {
	Store
	archive SampleArchive
}

// WithArchive wraps s so saved samples are also archived.
func WithArchive(s Store, archive SampleArchive) *Archiving {
	return &Archiving{Store: s, archive: archive}
}

func (a *Archiving) SaveSamples(ctx context.Context, samples []trip.Sample) (int, error) {
	n, err := a.Store.SaveSamples(ctx, samples)
	if err != nil {
		return n, err
	}
	if err := a.archive.ArchiveSamples(ctx, samples); err != nil {
		logging.Warnw(ctx, "Store: sample archive failed", "error", err, "samples", len(samples))
	}
	return n, nil
}

// Close closes the primary store and the archive, if it can be closed.
func (a *Archiving) Close() error {
	err := a.Store.Close()
	if c, ok := a.archive.(interface{ Close() error }); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
