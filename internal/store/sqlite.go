package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/circles"
	"github.com/tripwatch/server/internal/lib/trip"
)

// SQLite is a single-node Store in an embedded SQLite database. Timestamps
// are stored as unix nanoseconds.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates a database at path. Use ":memory:" for a
// throwaway database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := createSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (d *SQLite) Close() error {
	return d.db.Close()
}

func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		source_lat REAL NOT NULL,
		source_lng REAL NOT NULL,
		source_address TEXT NOT NULL DEFAULT '',
		dest_lat REAL NOT NULL,
		dest_lng REAL NOT NULL,
		dest_address TEXT NOT NULL DEFAULT '',
		polyline TEXT NOT NULL DEFAULT '',
		alt_polylines TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		route_id TEXT NOT NULL DEFAULT '',
		est_duration_s INTEGER NOT NULL DEFAULT 0,
		est_distance_m REAL NOT NULL DEFAULT 0,
		deviation_count INTEGER NOT NULL DEFAULT 0,
		stop_count INTEGER NOT NULL DEFAULT 0,
		alert_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_trips_one_active ON trips(user_id) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_trips_user ON trips(user_id);

	CREATE TABLE IF NOT EXISTS samples (
		id TEXT NOT NULL,
		trip_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		speed REAL NOT NULL DEFAULT 0,
		heading REAL NOT NULL DEFAULT 0,
		altitude REAL NOT NULL DEFAULT 0,
		accuracy REAL NOT NULL DEFAULT 0,
		battery_level REAL,
		ts INTEGER NOT NULL,
		is_moving INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (trip_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_samples_trip_ts ON samples(trip_id, ts);
	CREATE INDEX IF NOT EXISTS idx_samples_ts ON samples(ts);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		ts INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_sent INTEGER NOT NULL DEFAULT 0,
		recipient_count INTEGER NOT NULL DEFAULT 0,
		is_acknowledged INTEGER NOT NULL DEFAULT 0,
		is_cancelled INTEGER NOT NULL DEFAULT 0,
		cancelled_at INTEGER,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_trip ON alerts(trip_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id);

	CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS route_paths (
		route_id TEXT NOT NULL REFERENCES routes(id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		seq INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		points TEXT NOT NULL,
		PRIMARY KEY (route_id, id)
	);

	CREATE TABLE IF NOT EXISTS circles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS circle_members (
		user_id TEXT PRIMARY KEY,
		circle_id TEXT NOT NULL REFERENCES circles(id) ON DELETE CASCADE,
		display_name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		messenger_id TEXT NOT NULL DEFAULT '',
		seq INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_circle_members_circle ON circle_members(circle_id);
	`
	_, err := db.Exec(schema)
	return err
}

func sqliteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		if strings.Contains(msg, "trips.user_id") {
			return ErrActiveTripExists
		}
		return ErrDuplicate
	}
	return err
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

const sqliteTripColumns = `id, user_id, source_lat, source_lng, source_address, dest_lat, dest_lng,
	dest_address, polyline, alt_polylines, status, start_time, end_time, route_id,
	est_duration_s, est_distance_m, deviation_count, stop_count, alert_count,
	created_at, updated_at`

func (d *SQLite) CreateTrip(ctx context.Context, t *trip.Trip) error {
	alts, err := json.Marshal(nonNilStrings(t.AlternativePolylines))
	if err != nil {
		return fmt.Errorf("marshal alternatives: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO trips (`+sqliteTripColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Source.Latitude, t.Source.Longitude, t.SourceAddress,
		t.Destination.Latitude, t.Destination.Longitude, t.DestinationAddress,
		t.Polyline, string(alts), string(t.Status), toNanos(t.StartTime), toNullNanos(t.EndTime),
		t.RouteID, t.EstimatedDurationSeconds, t.EstimatedDistanceMeters,
		t.DeviationCount, t.StopCount, t.AlertCount, toNanos(t.CreatedAt), toNanos(t.UpdatedAt))
	return sqliteError(err)
}

func (d *SQLite) GetTrip(ctx context.Context, id string) (*trip.Trip, error) {
	return scanSQLiteTrip(d.db.QueryRowContext(ctx, `SELECT `+sqliteTripColumns+` FROM trips WHERE id = ?`, id))
}

func (d *SQLite) ActiveTripForUser(ctx context.Context, userID string) (*trip.Trip, error) {
	return scanSQLiteTrip(d.db.QueryRowContext(ctx,
		`SELECT `+sqliteTripColumns+` FROM trips WHERE user_id = ? AND `+statusIn(trip.StatusActive), userID))
}

func scanSQLiteTrip(row rowScanner) (*trip.Trip, error) {
	var (
		t                       trip.Trip
		alts, status            string
		start, created, updated int64
		end                     sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Source.Latitude, &t.Source.Longitude, &t.SourceAddress,
		&t.Destination.Latitude, &t.Destination.Longitude, &t.DestinationAddress,
		&t.Polyline, &alts, &status, &start, &end, &t.RouteID,
		&t.EstimatedDurationSeconds, &t.EstimatedDistanceMeters,
		&t.DeviationCount, &t.StopCount, &t.AlertCount, &created, &updated)
	if err != nil {
		return nil, sqliteError(err)
	}
	if t.Status, err = parseStatus(t.ID, status); err != nil {
		return nil, err
	}
	t.StartTime = fromNanos(start)
	t.EndTime = fromNullNanos(end)
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	if err := json.Unmarshal([]byte(alts), &t.AlternativePolylines); err != nil {
		return nil, fmt.Errorf("decode alternatives: %w", err)
	}
	if len(t.AlternativePolylines) == 0 {
		t.AlternativePolylines = nil
	}
	return &t, nil
}

func (d *SQLite) UpdateTripStatus(ctx context.Context, t *trip.Trip, from trip.Status) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE trips SET status = ?, start_time = ?, end_time = ?, updated_at = ?
		WHERE id = ? AND `+statusIn(from),
		string(t.Status), toNanos(t.StartTime), toNullNanos(t.EndTime), toNanos(t.UpdatedAt), t.ID)
	if err != nil {
		return sqliteError(err)
	}
	return d.checkAffected(ctx, res, "trips", t.ID)
}

func (d *SQLite) AddTripCounters(ctx context.Context, tripID string, delta trip.Counters) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE trips SET
			deviation_count = deviation_count + ?,
			stop_count = stop_count + ?,
			alert_count = alert_count + ?,
			updated_at = ?
		WHERE id = ? AND `+statusIn(trip.StatusActive),
		delta.DeviationCount, delta.StopCount, delta.AlertCount, time.Now().UnixNano(), tripID)
	if err != nil {
		return err
	}
	return d.checkAffected(ctx, res, "trips", tripID)
}

// checkAffected distinguishes a missing row from a failed condition when a
// conditional update touched nothing.
func (d *SQLite) checkAffected(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := d.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = ?)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (d *SQLite) SaveSamples(ctx context.Context, samples []trip.Sample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (id, trip_id, user_id, latitude, longitude, speed, heading, altitude, accuracy, battery_level, ts, is_moving)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trip_id, id) DO NOTHING
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, s := range samples {
		var battery sql.NullFloat64
		if s.BatteryLevel != nil {
			battery = sql.NullFloat64{Float64: *s.BatteryLevel, Valid: true}
		}
		res, err := stmt.ExecContext(ctx, s.ID, s.TripID, s.UserID, s.Latitude, s.Longitude,
			s.Speed, s.Heading, s.Altitude, s.Accuracy, battery, toNanos(s.Timestamp), s.IsMoving)
		if err != nil {
			return 0, fmt.Errorf("insert sample: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (d *SQLite) SampleExists(ctx context.Context, tripID, id string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM samples WHERE trip_id = ? AND id = ?)`, tripID, id).Scan(&exists)
	return exists, err
}

func (d *SQLite) ListSamples(ctx context.Context, tripID string) ([]trip.Sample, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, trip_id, user_id, latitude, longitude, speed, heading, altitude, accuracy, battery_level, ts, is_moving
		FROM samples WHERE trip_id = ? ORDER BY ts, id
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trip.Sample
	for rows.Next() {
		var (
			s       trip.Sample
			battery sql.NullFloat64
			ts      int64
		)
		if err := rows.Scan(&s.ID, &s.TripID, &s.UserID, &s.Latitude, &s.Longitude, &s.Speed,
			&s.Heading, &s.Altitude, &s.Accuracy, &battery, &ts, &s.IsMoving); err != nil {
			return nil, err
		}
		if battery.Valid {
			b := battery.Float64
			s.BatteryLevel = &b
		}
		s.Timestamp = fromNanos(ts)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *SQLite) PurgeSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM samples WHERE ts < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const sqliteAlertColumns = `id, trip_id, user_id, type, latitude, longitude, ts, description,
	is_sent, recipient_count, is_acknowledged, is_cancelled, cancelled_at, created_at`

func (d *SQLite) CreateAlert(ctx context.Context, a *alerts.Alert) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO alerts (`+sqliteAlertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.TripID, a.UserID, string(a.Type), a.Latitude, a.Longitude, toNanos(a.Timestamp),
		a.Description, a.IsSent, a.RecipientCount, a.IsAcknowledged, a.IsCancelled,
		toNullNanos(a.CancelledAt), toNanos(a.CreatedAt))
	return sqliteError(err)
}

func (d *SQLite) GetAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	a, err := scanSQLiteAlert(d.db.QueryRowContext(ctx, `SELECT `+sqliteAlertColumns+` FROM alerts WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteError(err)
	}
	return &a, nil
}

func (d *SQLite) ListAlertsByTrip(ctx context.Context, tripID string) ([]alerts.Alert, error) {
	return d.queryAlerts(ctx, `SELECT `+sqliteAlertColumns+` FROM alerts WHERE trip_id = ? ORDER BY ts, id`, tripID)
}

func (d *SQLite) ListAlertsByUser(ctx context.Context, userID string) ([]alerts.Alert, error) {
	return d.queryAlerts(ctx, `SELECT `+sqliteAlertColumns+` FROM alerts WHERE user_id = ? ORDER BY ts, id`, userID)
}

func (d *SQLite) queryAlerts(ctx context.Context, query, arg string) ([]alerts.Alert, error) {
	rows, err := d.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		a, err := scanSQLiteAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanSQLiteAlert(row rowScanner) (alerts.Alert, error) {
	var (
		a           alerts.Alert
		typ         string
		ts, created int64
		cancelled   sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.TripID, &a.UserID, &typ, &a.Latitude, &a.Longitude, &ts,
		&a.Description, &a.IsSent, &a.RecipientCount, &a.IsAcknowledged, &a.IsCancelled,
		&cancelled, &created)
	if err != nil {
		return a, err
	}
	a.Type = alerts.Type(typ)
	a.Timestamp = fromNanos(ts)
	a.CancelledAt = fromNullNanos(cancelled)
	a.CreatedAt = fromNanos(created)
	return a, nil
}

func (d *SQLite) RecordDelivery(ctx context.Context, id string, sent bool, recipientCount int) error {
	return d.execAlert(ctx, `UPDATE alerts SET is_sent = ?, recipient_count = ? WHERE id = ?`, sent, recipientCount, id)
}

func (d *SQLite) AcknowledgeAlert(ctx context.Context, id string) error {
	return d.execAlert(ctx, `UPDATE alerts SET is_acknowledged = 1 WHERE id = ?`, id)
}

func (d *SQLite) CancelAlert(ctx context.Context, id string, at time.Time) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE alerts SET is_cancelled = 1, cancelled_at = ?
		WHERE id = ? AND type = 'sos' AND is_cancelled = 0
	`, at.UnixNano(), id)
	if err != nil {
		return err
	}
	return d.checkAffected(ctx, res, "alerts", id)
}

func (d *SQLite) execAlert(ctx context.Context, query string, args ...any) error {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *SQLite) CreateRoute(ctx context.Context, r *trip.Route) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO routes (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
			r.ID, r.UserID, r.Name, toNanos(r.CreatedAt))
		if err != nil {
			return sqliteError(err)
		}
		for i, path := range r.Paths {
			points, err := json.Marshal(path.Points)
			if err != nil {
				return fmt.Errorf("marshal path points: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO route_paths (route_id, id, name, seq, is_active, points)
				VALUES (?, ?, ?, ?, ?, ?)
			`, r.ID, path.ID, path.Name, i, path.IsActive, string(points))
			if err != nil {
				return sqliteError(err)
			}
		}
		return nil
	})
}

func (d *SQLite) GetRoute(ctx context.Context, id string) (*trip.Route, error) {
	var (
		r       trip.Route
		created int64
	)
	err := d.db.QueryRowContext(ctx, `SELECT id, user_id, name, created_at FROM routes WHERE id = ?`, id).
		Scan(&r.ID, &r.UserID, &r.Name, &created)
	if err != nil {
		return nil, sqliteError(err)
	}
	r.CreatedAt = fromNanos(created)

	rows, err := d.db.QueryContext(ctx, `SELECT id, name, is_active, points FROM route_paths WHERE route_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			path   trip.Path
			points string
		)
		if err := rows.Scan(&path.ID, &path.Name, &path.IsActive, &points); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(points), &path.Points); err != nil {
			return nil, fmt.Errorf("decode path points: %w", err)
		}
		r.Paths = append(r.Paths, path)
	}
	return &r, rows.Err()
}

func (d *SQLite) ActivatePath(ctx context.Context, routeID, pathID string) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM route_paths WHERE route_id = ? AND id = ?)`,
			routeID, pathID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx, `UPDATE route_paths SET is_active = (id = ?) WHERE route_id = ?`, pathID, routeID)
		return err
	})
}

func (d *SQLite) SaveCircle(ctx context.Context, c *circles.Circle) error {
	c.Code = circles.NormalizeCode(c.Code)
	return d.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO circles (id, name, code) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, code = excluded.code
		`, c.ID, c.Name, c.Code)
		if err != nil {
			return sqliteError(err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM circle_members WHERE circle_id = ?`, c.ID); err != nil {
			return err
		}
		for i, m := range c.Members {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO circle_members (user_id, circle_id, display_name, phone, messenger_id, seq)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (user_id) DO UPDATE SET
					circle_id = excluded.circle_id,
					display_name = excluded.display_name,
					phone = excluded.phone,
					messenger_id = excluded.messenger_id,
					seq = excluded.seq
			`, m.UserID, c.ID, m.DisplayName, m.Phone, m.MessengerID, i)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *SQLite) CircleForUser(ctx context.Context, userID string) (*circles.Circle, error) {
	var circleID string
	err := d.db.QueryRowContext(ctx, `SELECT circle_id FROM circle_members WHERE user_id = ?`, userID).Scan(&circleID)
	if err != nil {
		return nil, sqliteError(err)
	}
	return d.loadCircle(ctx, `SELECT id, name, code FROM circles WHERE id = ?`, circleID)
}

func (d *SQLite) CircleByCode(ctx context.Context, code string) (*circles.Circle, error) {
	return d.loadCircle(ctx, `SELECT id, name, code FROM circles WHERE code = ?`, circles.NormalizeCode(code))
}

func (d *SQLite) loadCircle(ctx context.Context, query, arg string) (*circles.Circle, error) {
	var c circles.Circle
	if err := d.db.QueryRowContext(ctx, query, arg).Scan(&c.ID, &c.Name, &c.Code); err != nil {
		return nil, sqliteError(err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id, display_name, phone, messenger_id FROM circle_members
		WHERE circle_id = ? ORDER BY seq, user_id
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

func (d *SQLite) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
