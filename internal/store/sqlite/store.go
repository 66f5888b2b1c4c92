// Package sqlite is a durable incident.Repository backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"
	_ "modernc.org/sqlite"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
	"github.com/lamain12/Roadpulse-backend/internal/lib/incident"
)

const (
	DefaultDBFileName = "roadpulse.db"
	schemaVersion     = 1
)

// Store implements incident.Repository
type Store struct {
	db     *sql.DB
	dbPath string
}

var _ incident.Repository = (*Store)(nil)

// New opens or creates the database at dbPath
func New(ctx context.Context, dbPath string) (*Store, error) {
	ctx = logging.EnsureLogger(ctx)
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer; the CAS in AddReporter relies on serialized transactions
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Infow(ctx, "sqlite: Opened incident store", "path", dbPath)
	return store, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return s.createSchema(ctx)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);
	INSERT OR IGNORE INTO schema_version (version) VALUES (1);

	CREATE TABLE IF NOT EXISTS incidents (
		id             TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		lat            REAL NOT NULL,
		lng            REAL NOT NULL,
		text           TEXT NOT NULL DEFAULT '',
		delay_minutes  INTEGER NOT NULL DEFAULT 0,
		times          INTEGER NOT NULL DEFAULT 1,
		status_cleared INTEGER NOT NULL DEFAULT 0,
		reported_at    INTEGER NOT NULL,
		place_name     TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_active_type ON incidents(status_cleared, type);

	CREATE TABLE IF NOT EXISTS incident_reporters (
		incident_id TEXT NOT NULL REFERENCES incidents(id) ON DELETE CASCADE,
		reporter    TEXT NOT NULL,
		position    INTEGER NOT NULL,
		PRIMARY KEY (incident_id, reporter)
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, inc incident.Incident) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Upstream("Create", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO incidents (id, type, lat, lng, text, delay_minutes, times, status_cleared, reported_at, place_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.Type, inc.Location.Latitude, inc.Location.Longitude, inc.Text,
		inc.DelayMinutes, inc.Times, inc.StatusCleared, inc.ReportedAt.UnixNano(), inc.PlaceName)
	if err != nil {
		if isConstraint(err) {
			return errs.Conflict("Create", "incident %s already exists", inc.ID)
		}
		return errs.Upstream("Create", err)
	}

	for i, reporter := range inc.Reporters {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO incident_reporters (incident_id, reporter, position) VALUES (?, ?, ?)`,
			inc.ID, reporter, i); err != nil {
			return errs.Upstream("Create", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Upstream("Create", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (incident.Incident, error) {
	incidents, err := s.query(ctx, s.db, "WHERE id = ?", id)
	if err != nil {
		return incident.Incident{}, err
	}
	if len(incidents) == 0 {
		return incident.Incident{}, errs.NotFound("Get", "incident %s not found", id)
	}
	return incidents[0], nil
}

func (s *Store) ListActive(ctx context.Context) ([]incident.Incident, error) {
	return s.query(ctx, s.db, "WHERE status_cleared = 0")
}

func (s *Store) ListActiveByType(ctx context.Context, incidentType string) ([]incident.Incident, error) {
	return s.query(ctx, s.db, "WHERE status_cleared = 0 AND type = ?", incidentType)
}

func (s *Store) AddReporter(ctx context.Context, id, reporter string, expectedTimes int) (incident.Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return incident.Incident{}, errs.Upstream("AddReporter", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE incidents SET times = times + 1 WHERE id = ? AND times = ?`, id, expectedTimes)
	if err != nil {
		return incident.Incident{}, errs.Upstream("AddReporter", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return incident.Incident{}, errs.Upstream("AddReporter", err)
	}
	if n == 0 {
		var times int
		err := tx.QueryRowContext(ctx, `SELECT times FROM incidents WHERE id = ?`, id).Scan(&times)
		if errors.Is(err, sql.ErrNoRows) {
			return incident.Incident{}, errs.NotFound("AddReporter", "incident %s not found", id)
		}
		if err != nil {
			return incident.Incident{}, errs.Upstream("AddReporter", err)
		}
		return incident.Incident{}, errs.Conflict("AddReporter", "incident %s has times=%d, expected %d", id, times, expectedTimes)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO incident_reporters (incident_id, reporter, position)
		 VALUES (?, ?, (SELECT COUNT(*) FROM incident_reporters WHERE incident_id = ?))`,
		id, reporter, id); err != nil {
		if isConstraint(err) {
			return incident.Incident{}, errs.Conflict("AddReporter", "reporter already recorded on incident %s", id)
		}
		return incident.Incident{}, errs.Upstream("AddReporter", err)
	}

	updated, err := s.query(ctx, tx, "WHERE id = ?", id)
	if err != nil {
		return incident.Incident{}, err
	}
	if err := tx.Commit(); err != nil {
		return incident.Incident{}, errs.Upstream("AddReporter", err)
	}
	return updated[0], nil
}

func (s *Store) MarkCleared(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE incidents SET status_cleared = 1 WHERE id = ?`, id)
	if err != nil {
		return errs.Upstream("MarkCleared", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Upstream("MarkCleared", err)
	}
	if n == 0 {
		return errs.NotFound("MarkCleared", "incident %s not found", id)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errs.Upstream("Ping", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) query(ctx context.Context, q querier, where string, args ...any) ([]incident.Incident, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, type, lat, lng, text, delay_minutes, times, status_cleared, reported_at, place_name
		FROM incidents `+where+`
		ORDER BY reported_at, id`, args...)
	if err != nil {
		return nil, errs.Upstream("query", fmt.Errorf("sqlite: failed to query incidents: %w", err))
	}

	incidents := []incident.Incident{}
	index := map[string]int{}
	for rows.Next() {
		var (
			inc        incident.Incident
			lat, lng   float64
			reportedAt int64
		)
		if err := rows.Scan(&inc.ID, &inc.Type, &lat, &lng, &inc.Text, &inc.DelayMinutes,
			&inc.Times, &inc.StatusCleared, &reportedAt, &inc.PlaceName); err != nil {
			rows.Close()
			return nil, errs.Upstream("query", fmt.Errorf("sqlite: failed to scan incident: %w", err))
		}
		inc.Location = geo.Point{Latitude: lat, Longitude: lng}
		inc.ReportedAt = time.Unix(0, reportedAt).UTC()
		inc.Reporters = []string{}
		index[inc.ID] = len(incidents)
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errs.Upstream("query", err)
	}
	rows.Close()

	if len(incidents) == 0 {
		return incidents, nil
	}
	if err := s.attachReporters(ctx, q, incidents, index); err != nil {
		return nil, err
	}
	return incidents, nil
}

func (s *Store) attachReporters(ctx context.Context, q querier, incidents []incident.Incident, index map[string]int) error {
	placeholders := make([]string, len(incidents))
	args := make([]any, len(incidents))
	for i, inc := range incidents {
		placeholders[i] = "?"
		args[i] = inc.ID
	}

	rows, err := q.QueryContext(ctx, `
		SELECT incident_id, reporter FROM incident_reporters
		WHERE incident_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY incident_id, position`, args...)
	if err != nil {
		return errs.Upstream("query", fmt.Errorf("sqlite: failed to query reporters: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var id, reporter string
		if err := rows.Scan(&id, &reporter); err != nil {
			return errs.Upstream("query", fmt.Errorf("sqlite: failed to scan reporter: %w", err))
		}
		i := index[id]
		incidents[i].Reporters = append(incidents[i].Reporters, reporter)
	}
	return rows.Err()
}

func isConstraint(err error) bool {
	return strings.Contains(err.Error(), "constraint failed")
}
