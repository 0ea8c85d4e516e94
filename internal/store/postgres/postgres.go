// Package postgres stores recordings in PostgreSQL. The schema is embedded
// and migrated on Open.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GriffinCanCode/engram/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

const columns = `id, title, app_name, bundle_id, audio_path, video_path, started_at,
	duration_ms, size_bytes, transcript, summary, action_items,
	transcribed_at, summarized_at, action_items_at, created_at`

// Store implements store.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open migrates the database at url and connects a pool.
func Open(ctx context.Context, url string) (*Store, error) {
	if err := Migrate(url); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate applies all pending up migrations.
func Migrate(url string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(url))
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}
	v, _, _ := m.Version()
	slog.Info("database migrated", "version", v)
	return nil
}

// migrateURL rewrites a postgres:// url to the scheme the pgx migrate driver registers.
func migrateURL(url string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(url, prefix) {
			return "pgx5://" + strings.TrimPrefix(url, prefix)
		}
	}
	return url
}

func (s *Store) SaveRecording(ctx context.Context, m store.Metadata) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO recordings (id, title, app_name, bundle_id, audio_path, video_path, started_at, duration_ms, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, m.Title, m.AppName, m.BundleID, m.AudioPath, m.VideoPath, m.StartedAt, m.Duration.Milliseconds(), m.SizeBytes)
	if err != nil {
		return "", fmt.Errorf("insert recording: %w", err)
	}
	return id.String(), nil
}

func (s *Store) Recording(ctx context.Context, id string) (store.Recording, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+columns+` FROM recordings WHERE id = $1`, id)
	r, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Recording{}, store.ErrNotFound
	}
	return r, err
}

func (s *Store) SaveTranscript(ctx context.Context, id, text string) error {
	return s.exec(ctx, `UPDATE recordings SET transcript = $2, transcribed_at = NOW() WHERE id = $1`, id, text)
}

func (s *Store) SaveSummary(ctx context.Context, id, summary string) error {
	return s.exec(ctx, `UPDATE recordings SET summary = $2, summarized_at = NOW() WHERE id = $1`, id, summary)
}

func (s *Store) SaveActionItems(ctx context.Context, id string, items []string) error {
	if items == nil {
		items = []string{}
	}
	return s.exec(ctx, `UPDATE recordings SET action_items = $2, action_items_at = NOW() WHERE id = $1`, id, items)
}

func (s *Store) RecordingsNeedingTranscription(ctx context.Context) ([]store.Recording, error) {
	return s.query(ctx, `SELECT `+columns+` FROM recordings WHERE transcribed_at IS NULL ORDER BY created_at, id`)
}

func (s *Store) RecordingsNeedingGeneration(ctx context.Context, f store.GenerationFilter) ([]store.Recording, error) {
	if !f.Summary && !f.ActionItems {
		return nil, nil
	}
	return s.query(ctx, `
		SELECT `+columns+` FROM recordings
		WHERE transcribed_at IS NOT NULL
		  AND (($1 AND summarized_at IS NULL) OR ($2 AND action_items_at IS NULL))
		ORDER BY created_at, id`, f.Summary, f.ActionItems)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]store.Recording, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []store.Recording
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scan(row pgx.Row) (store.Recording, error) {
	var (
		r          store.Recording
		id         uuid.UUID
		durationMS int64
	)
	err := row.Scan(&id, &r.Title, &r.AppName, &r.BundleID, &r.AudioPath, &r.VideoPath, &r.StartedAt,
		&durationMS, &r.SizeBytes, &r.Transcript, &r.Summary, &r.ActionItems,
		&r.TranscribedAt, &r.SummarizedAt, &r.ActionItemsAt, &r.CreatedAt)
	if err != nil {
		return store.Recording{}, err
	}
	r.ID = id.String()
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return r, nil
}
