package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/circles"
	"github.com/tripwatch/server/internal/lib/trip"
)

const (
	pgUniqueViolation = "23505"
	oneActiveIndex    = "idx_trips_one_active"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `koanf:"host" yaml:"host"`
	Port     int    `koanf:"port" yaml:"port"`
	Database string `koanf:"database" yaml:"database"`
	User     string `koanf:"user" yaml:"user"`
	Password string `koanf:"password" yaml:"password"`
	SSLMode  string `koanf:"ssl_mode" yaml:"ssl_mode"`
	MaxConns int32  `koanf:"max_conns" yaml:"max_conns"`
}

// DSN returns the connection string for cfg.
func (c PostgresConfig) DSN() string {
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, ssl)
}

// Postgres is a Store backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool and creates the schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	return OpenPostgresDSN(ctx, cfg.DSN(), cfg.MaxConns)
}

// OpenPostgresDSN is OpenPostgres with an explicit connection string.
func OpenPostgresDSN(ctx context.Context, dsn string, maxConns int32) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// CreateSchema creates the tables if they do not exist.
func (p *Postgres) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS trips (
		id                  TEXT PRIMARY KEY,
		user_id             TEXT NOT NULL,
		source_lat          DOUBLE PRECISION NOT NULL,
		source_lng          DOUBLE PRECISION NOT NULL,
		source_address      TEXT NOT NULL DEFAULT '',
		dest_lat            DOUBLE PRECISION NOT NULL,
		dest_lng            DOUBLE PRECISION NOT NULL,
		dest_address        TEXT NOT NULL DEFAULT '',
		polyline            TEXT NOT NULL DEFAULT '',
		alt_polylines       JSONB NOT NULL DEFAULT '[]',
		status              TEXT NOT NULL,
		start_time          TIMESTAMPTZ NOT NULL,
		end_time            TIMESTAMPTZ,
		route_id            TEXT NOT NULL DEFAULT '',
		est_duration_s      INTEGER NOT NULL DEFAULT 0,
		est_distance_m      DOUBLE PRECISION NOT NULL DEFAULT 0,
		deviation_count     INTEGER NOT NULL DEFAULT 0,
		stop_count          INTEGER NOT NULL DEFAULT 0,
		alert_count         INTEGER NOT NULL DEFAULT 0,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_trips_one_active ON trips(user_id) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_trips_user ON trips(user_id);

	CREATE TABLE IF NOT EXISTS samples (
		id              TEXT NOT NULL,
		trip_id         TEXT NOT NULL,
		user_id         TEXT NOT NULL,
		latitude        DOUBLE PRECISION NOT NULL,
		longitude       DOUBLE PRECISION NOT NULL,
		speed           DOUBLE PRECISION NOT NULL DEFAULT 0,
		heading         DOUBLE PRECISION NOT NULL DEFAULT 0,
		altitude        DOUBLE PRECISION NOT NULL DEFAULT 0,
		accuracy        DOUBLE PRECISION NOT NULL DEFAULT 0,
		battery_level   DOUBLE PRECISION,
		ts              TIMESTAMPTZ NOT NULL,
		is_moving       BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (trip_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_samples_trip_ts ON samples(trip_id, ts);
	CREATE INDEX IF NOT EXISTS idx_samples_ts ON samples(ts);

	CREATE TABLE IF NOT EXISTS alerts (
		id              TEXT PRIMARY KEY,
		trip_id         TEXT NOT NULL DEFAULT '',
		user_id         TEXT NOT NULL,
		type            TEXT NOT NULL,
		latitude        DOUBLE PRECISION NOT NULL,
		longitude       DOUBLE PRECISION NOT NULL,
		ts              TIMESTAMPTZ NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		is_sent         BOOLEAN NOT NULL DEFAULT FALSE,
		recipient_count INTEGER NOT NULL DEFAULT 0,
		is_acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
		is_cancelled    BOOLEAN NOT NULL DEFAULT FALSE,
		cancelled_at    TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_trip ON alerts(trip_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id);

	CREATE TABLE IF NOT EXISTS routes (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS route_paths (
		route_id    TEXT NOT NULL REFERENCES routes(id) ON DELETE CASCADE,
		id          TEXT NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		seq         INTEGER NOT NULL,
		is_active   BOOLEAN NOT NULL DEFAULT FALSE,
		points      JSONB NOT NULL,
		PRIMARY KEY (route_id, id)
	);

	CREATE TABLE IF NOT EXISTS circles (
		id      TEXT PRIMARY KEY,
		name    TEXT NOT NULL DEFAULT '',
		code    TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS circle_members (
		user_id         TEXT PRIMARY KEY,
		circle_id       TEXT NOT NULL REFERENCES circles(id) ON DELETE CASCADE,
		display_name    TEXT NOT NULL DEFAULT '',
		phone           TEXT NOT NULL DEFAULT '',
		messenger_id    TEXT NOT NULL DEFAULT '',
		seq             INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_circle_members_circle ON circle_members(circle_id);
	`
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func pgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if pgErr.ConstraintName == oneActiveIndex {
			return ErrActiveTripExists
		}
		return ErrDuplicate
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const pgTripColumns = `id, user_id, source_lat, source_lng, source_address, dest_lat, dest_lng,
	dest_address, polyline, alt_polylines, status, start_time, end_time, route_id,
	est_duration_s, est_distance_m, deviation_count, stop_count, alert_count,
	created_at, updated_at`

func (p *Postgres) CreateTrip(ctx context.Context, t *trip.Trip) error {
	alts, err := json.Marshal(nonNilStrings(t.AlternativePolylines))
	if err != nil {
		return fmt.Errorf("marshal alternatives: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO trips (`+pgTripColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, t.ID, t.UserID, t.Source.Latitude, t.Source.Longitude, t.SourceAddress,
		t.Destination.Latitude, t.Destination.Longitude, t.DestinationAddress,
		t.Polyline, alts, string(t.Status), t.StartTime, t.EndTime, t.RouteID,
		t.EstimatedDurationSeconds, t.EstimatedDistanceMeters,
		t.DeviationCount, t.StopCount, t.AlertCount, t.CreatedAt, t.UpdatedAt)
	return pgError(err)
}

func (p *Postgres) GetTrip(ctx context.Context, id string) (*trip.Trip, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+pgTripColumns+` FROM trips WHERE id = $1`, id)
	return scanPgTrip(row)
}

func (p *Postgres) ActiveTripForUser(ctx context.Context, userID string) (*trip.Trip, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+pgTripColumns+` FROM trips WHERE user_id = $1 AND `+statusIn(trip.StatusActive), userID)
	return scanPgTrip(row)
}

func scanPgTrip(row pgx.Row) (*trip.Trip, error) {
	var (
		t      trip.Trip
		alts   []byte
		status string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Source.Latitude, &t.Source.Longitude, &t.SourceAddress,
		&t.Destination.Latitude, &t.Destination.Longitude, &t.DestinationAddress,
		&t.Polyline, &alts, &status, &t.StartTime, &t.EndTime, &t.RouteID,
		&t.EstimatedDurationSeconds, &t.EstimatedDistanceMeters,
		&t.DeviationCount, &t.StopCount, &t.AlertCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, pgError(err)
	}
	if t.Status, err = parseStatus(t.ID, status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(alts, &t.AlternativePolylines); err != nil {
		return nil, fmt.Errorf("decode alternatives: %w", err)
	}
	if len(t.AlternativePolylines) == 0 {
		t.AlternativePolylines = nil
	}
	return &t, nil
}

func (p *Postgres) UpdateTripStatus(ctx context.Context, t *trip.Trip, from trip.Status) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE trips SET status = $1, start_time = $2, end_time = $3, updated_at = $4
		WHERE id = $5 AND `+statusIn(from),
		string(t.Status), t.StartTime, t.EndTime, t.UpdatedAt, t.ID)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return p.missingOrConflict(ctx, "trips", t.ID)
	}
	return nil
}

func (p *Postgres) AddTripCounters(ctx context.Context, tripID string, delta trip.Counters) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE trips SET
			deviation_count = deviation_count + $1,
			stop_count = stop_count + $2,
			alert_count = alert_count + $3,
			updated_at = NOW()
		WHERE id = $4 AND `+statusIn(trip.StatusActive),
		delta.DeviationCount, delta.StopCount, delta.AlertCount, tripID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.missingOrConflict(ctx, "trips", tripID)
	}
	return nil
}

func (p *Postgres) missingOrConflict(ctx context.Context, table, id string) error {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (p *Postgres) SaveSamples(ctx context.Context, samples []trip.Sample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, s := range samples {
		batch.Queue(`
			INSERT INTO samples (id, trip_id, user_id, latitude, longitude, speed, heading, altitude, accuracy, battery_level, ts, is_moving)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (trip_id, id) DO NOTHING
		`, s.ID, s.TripID, s.UserID, s.Latitude, s.Longitude, s.Speed, s.Heading,
			s.Altitude, s.Accuracy, s.BatteryLevel, s.Timestamp, s.IsMoving)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range samples {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert sample: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (p *Postgres) SampleExists(ctx context.Context, tripID, id string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM samples WHERE trip_id = $1 AND id = $2)`, tripID, id).Scan(&exists)
	return exists, err
}

func (p *Postgres) ListSamples(ctx context.Context, tripID string) ([]trip.Sample, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, trip_id, user_id, latitude, longitude, speed, heading, altitude, accuracy, battery_level, ts, is_moving
		FROM samples WHERE trip_id = $1 ORDER BY ts, id
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trip.Sample
	for rows.Next() {
		var s trip.Sample
		if err := rows.Scan(&s.ID, &s.TripID, &s.UserID, &s.Latitude, &s.Longitude, &s.Speed,
			&s.Heading, &s.Altitude, &s.Accuracy, &s.BatteryLevel, &s.Timestamp, &s.IsMoving); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) PurgeSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM samples WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const pgAlertColumns = `id, trip_id, user_id, type, latitude, longitude, ts, description,
	is_sent, recipient_count, is_acknowledged, is_cancelled, cancelled_at, created_at`

func (p *Postgres) CreateAlert(ctx context.Context, a *alerts.Alert) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO alerts (`+pgAlertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, a.ID, a.TripID, a.UserID, string(a.Type), a.Latitude, a.Longitude, a.Timestamp,
		a.Description, a.IsSent, a.RecipientCount, a.IsAcknowledged, a.IsCancelled,
		a.CancelledAt, a.CreatedAt)
	return pgError(err)
}

func (p *Postgres) GetAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+pgAlertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanPgAlert(row)
	if err != nil {
		return nil, pgError(err)
	}
	return &a, nil
}

func (p *Postgres) ListAlertsByTrip(ctx context.Context, tripID string) ([]alerts.Alert, error) {
	return p.queryAlerts(ctx, `SELECT `+pgAlertColumns+` FROM alerts WHERE trip_id = $1 ORDER BY ts, id`, tripID)
}

func (p *Postgres) ListAlertsByUser(ctx context.Context, userID string) ([]alerts.Alert, error) {
	return p.queryAlerts(ctx, `SELECT `+pgAlertColumns+` FROM alerts WHERE user_id = $1 ORDER BY ts, id`, userID)
}

func (p *Postgres) queryAlerts(ctx context.Context, query string, arg string) ([]alerts.Alert, error) {
	rows, err := p.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		a, err := scanPgAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanPgAlert(row pgx.Row) (alerts.Alert, error) {
	var (
		a   alerts.Alert
		typ string
	)
	err := row.Scan(&a.ID, &a.TripID, &a.UserID, &typ, &a.Latitude, &a.Longitude, &a.Timestamp,
		&a.Description, &a.IsSent, &a.RecipientCount, &a.IsAcknowledged, &a.IsCancelled,
		&a.CancelledAt, &a.CreatedAt)
	a.Type = alerts.Type(typ)
	return a, err
}

func (p *Postgres) RecordDelivery(ctx context.Context, id string, sent bool, recipientCount int) error {
	return p.execAlert(ctx, `UPDATE alerts SET is_sent = $2, recipient_count = $3 WHERE id = $1`, id, sent, recipientCount)
}

func (p *Postgres) AcknowledgeAlert(ctx context.Context, id string) error {
	return p.execAlert(ctx, `UPDATE alerts SET is_acknowledged = TRUE WHERE id = $1`, id)
}

func (p *Postgres) CancelAlert(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE alerts SET is_cancelled = TRUE, cancelled_at = $2
		WHERE id = $1 AND type = 'sos' AND NOT is_cancelled
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.missingOrConflict(ctx, "alerts", id)
	}
	return nil
}

func (p *Postgres) execAlert(ctx context.Context, query string, id string, args ...any) error {
	tag, err := p.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateRoute(ctx context.Context, r *trip.Route) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO routes (id, user_id, name, created_at) VALUES ($1, $2, $3, $4)`,
			r.ID, r.UserID, r.Name, r.CreatedAt)
		if err != nil {
			return pgError(err)
		}
		for i, path := range r.Paths {
			points, err := json.Marshal(path.Points)
			if err != nil {
				return fmt.Errorf("marshal path points: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO route_paths (route_id, id, name, seq, is_active, points)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, r.ID, path.ID, path.Name, i, path.IsActive, points)
			if err != nil {
				return pgError(err)
			}
		}
		return nil
	})
}

func (p *Postgres) GetRoute(ctx context.Context, id string) (*trip.Route, error) {
	var r trip.Route
	err := p.pool.QueryRow(ctx, `SELECT id, user_id, name, created_at FROM routes WHERE id = $1`, id).
		Scan(&r.ID, &r.UserID, &r.Name, &r.CreatedAt)
	if err != nil {
		return nil, pgError(err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, name, is_active, points FROM route_paths WHERE route_id = $1 ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			path   trip.Path
			points []byte
		)
		if err := rows.Scan(&path.ID, &path.Name, &path.IsActive, &points); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(points, &path.Points); err != nil {
			return nil, fmt.Errorf("decode path points: %w", err)
		}
		r.Paths = append(r.Paths, path)
	}
	return &r, rows.Err()
}

func (p *Postgres) ActivatePath(ctx context.Context, routeID, pathID string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM route_paths WHERE route_id = $1 AND id = $2)`,
			routeID, pathID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx, `UPDATE route_paths SET is_active = (id = $2) WHERE route_id = $1`, routeID, pathID)
		return err
	})
}

func (p *Postgres) SaveCircle(ctx context.Context, c *circles.Circle) error {
	c.Code = circles.NormalizeCode(c.Code)
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO circles (id, name, code) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, code = EXCLUDED.code
		`, c.ID, c.Name, c.Code)
		if err != nil {
			return pgError(err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM circle_members WHERE circle_id = $1`, c.ID); err != nil {
			return err
		}
		for i, m := range c.Members {
			_, err := tx.Exec(ctx, `
				INSERT INTO circle_members (user_id, circle_id, display_name, phone, messenger_id, seq)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (user_id) DO UPDATE SET
					circle_id = EXCLUDED.circle_id,
					display_name = EXCLUDED.display_name,
					phone = EXCLUDED.phone,
					messenger_id = EXCLUDED.messenger_id,
					seq = EXCLUDED.seq
			`, m.UserID, c.ID, m.DisplayName, m.Phone, m.MessengerID, i)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) CircleForUser(ctx context.Context, userID string) (*circles.Circle, error) {
	var circleID string
	err := p.pool.QueryRow(ctx, `SELECT circle_id FROM circle_members WHERE user_id = $1`, userID).Scan(&circleID)
	if err != nil {
		return nil, pgError(err)
	}
	return p.loadCircle(ctx, `SELECT id, name, code FROM circles WHERE id = $1`, circleID)
}

func (p *Postgres) CircleByCode(ctx context.Context, code string) (*circles.Circle, error) {
	return p.loadCircle(ctx, `SELECT id, name, code FROM circles WHERE code = $1`, circles.NormalizeCode(code))
}

func (p *Postgres) loadCircle(ctx context.Context, query, arg string) (*circles.Circle, error) {
	var c circles.Circle
	if err := p.pool.QueryRow(ctx, query, arg).Scan(&c.ID, &c.Name, &c.Code); err != nil {
		return nil, pgError(err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT user_id, display_name, phone, messenger_id FROM circle_members
		WHERE circle_id = $1 ORDER BY seq, user_id
	`, c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m circles.Member
		if err := rows.Scan(&m.UserID, &m.DisplayName, &m.Phone, &m.MessengerID); err != nil {
			return nil, err
		}
		c.Members = append(c.Members, m)
	}
	return &c, rows.Err()
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
