package rewards

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
)

// Schema creates the accounts table used by PostgresStore
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	username   TEXT PRIMARY KEY,
	points     INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// DB is the subset of *pgxpool.Pool used by PostgresStore
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps balances in a Postgres accounts table
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a store over an open pool
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the accounts table if needed
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: failed to create accounts table: %w", err)
	}
	return nil
}

// AwardPoints increments a balance in a single statement, creating the
// account if it does not exist.
func (s *PostgresStore) AwardPoints(ctx context.Context, userID string, delta int) error {
	if userID == "" {
		return errs.Validation("AwardPoints", "user id is required")
	}

	query := `
		INSERT INTO accounts (username, points) VALUES ($1, $2)
		ON CONFLICT (username)
		DO UPDATE SET points = accounts.points + EXCLUDED.points, updated_at = now()
	`
	tag, err := s.db.Exec(ctx, query, userID, delta)
	if err != nil {
		return errs.Upstream("AwardPoints", fmt.Errorf("postgres: failed to award points: %w", err))
	}
	if tag.RowsAffected() != 1 {
		return errs.New(errs.KindInternal, "AwardPoints", "expected 1 row affected, got %d", tag.RowsAffected())
	}
	return nil
}

// Points returns the balance of an account
func (s *PostgresStore) Points(ctx context.Context, userID string) (int, error) {
	var points int
	err := s.db.QueryRow(ctx, `SELECT points FROM accounts WHERE username = $1`, userID).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errs.NotFound("Points", "no account for user %q", userID)
	}
	if err != nil {
		return 0, errs.Upstream("Points", fmt.Errorf("postgres: failed to read points: %w", err))
	}
	return points, nil
}
