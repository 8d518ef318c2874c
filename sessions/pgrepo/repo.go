// Package pgrepo stores session records in Postgres. The record body is JSONB; the version
// column is the compare-and-swap token.
package pgrepo

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/jrsteele09/transcript-summary/sessions"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type Repo struct {
	db *sqlx.DB
}

var _ sessions.Store = (*Repo)(nil)

func New(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// NewFromURL opens the database, applies pending migrations and returns a ready Repo.
func NewFromURL(ctx context.Context, databaseURL string) (*Repo, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required for the postgres session store")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func Migrate(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (r *Repo) Close() error {
	return r.db.Close()
}

type sessionRow struct {
	Version int64  `db:"version"`
	Data    []byte `db:"data"`
}

func (r *Repo) Load(ctx context.Context, id string) (*sessions.Record, error) {
	query := `
		SELECT version, data
		FROM app_sessions
		WHERE id = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`
	var row sessionRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sessions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[pgrepo Load] %w", err)
	}

	var rec sessions.Record
	if err := json.Unmarshal(row.Data, &rec); err != nil {
		return nil, fmt.Errorf("[pgrepo Load] failed to unmarshal session: %w", err)
	}
	rec.Version = row.Version
	return &rec, nil
}

func (r *Repo) Save(ctx context.Context, rec *sessions.Record) (*sessions.Record, error) {
	if rec == nil || rec.ID == "" {
		return nil, errors.New("session id is required")
	}

	next := *rec
	next.Version++
	payload, err := json.Marshal(&next)
	if err != nil {
		return nil, fmt.Errorf("[pgrepo Save] failed to marshal session: %w", err)
	}

	var expiresAt *time.Time
	if !next.ExpiresAt.IsZero() {
		expiresAt = &next.ExpiresAt
	}

	var result sql.Result
	if rec.Version == 0 {
		// An expired row with the same id may still be present; it counts as absent.
		result, err = r.db.ExecContext(ctx, `
			INSERT INTO app_sessions (id, version, data, expires_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				version = EXCLUDED.version,
				data = EXCLUDED.data,
				expires_at = EXCLUDED.expires_at,
				created_at = NOW(),
				updated_at = NOW()
			WHERE app_sessions.expires_at IS NOT NULL AND app_sessions.expires_at <= NOW()
		`, next.ID, next.Version, string(payload), expiresAt)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE app_sessions
			SET version = $3, data = $4, expires_at = $5, updated_at = NOW()
			WHERE id = $1 AND version = $2
		`, next.ID, rec.Version, next.Version, string(payload), expiresAt)
	}
	if err != nil {
		return nil, fmt.Errorf("[pgrepo Save] %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("[pgrepo Save] %w", err)
	}
	if affected == 0 {
		return nil, sessions.ErrVersionConflict
	}

	var saved sessions.Record
	if err := json.Unmarshal(payload, &saved); err != nil {
		return nil, fmt.Errorf("[pgrepo Save] %w", err)
	}
	return &saved, nil
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM app_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("[pgrepo Delete] %w", err)
	}
	return nil
}

// DeleteExpired removes expired rows and returns how many were dropped.
func (r *Repo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM app_sessions WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("[pgrepo DeleteExpired] %w", err)
	}
	return result.RowsAffected()
}
