package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jusunglee/igrelay/internal/db"
)

//go:embed schema.sql
var schemaSQL string

// See the sqlite backend for the rationale; both stores share the TTL.
const profileCacheTTL = 12 * time.Hour

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so every query
// method works inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements db.Repository using PostgreSQL via pgx
type Repository struct {
	pool *pgxpool.Pool
	q    querier
}

// New creates a new PostgreSQL repository
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	config.MaxConns = 5
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 30 * time.Second
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Repository{pool: pool, q: pool}, nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// PoolStats exposes pgxpool counters for the metrics exporter.
func (r *Repository) PoolStats() *pgxpool.Stat {
	return r.pool.Stat()
}

func (r *Repository) WithTx(ctx context.Context, fn func(repo db.Repository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	// If fn() panics, the normal err-check rollback below won't run.
	// recover() catches the panic so we can roll back the tx (releasing the
	// db connection), then re-panic.
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(ctx)
			panic(p)
		}
	}()

	txRepo := &Repository{pool: r.pool, q: tx}

	err = fn(txRepo)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Download methods

func (r *Repository) RecordDownload(ctx context.Context, arg db.RecordDownloadParams) (db.Download, error) {
	var d db.Download
	err := r.q.QueryRow(ctx, `
		INSERT INTO downloads (user_id, chat_id, kind, url, status, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, user_id, chat_id, kind, url, status, duration_ms, created_at
	`, arg.UserID, arg.ChatID, arg.Kind, arg.URL, arg.Status, arg.DurationMs).
		Scan(&d.ID, &d.UserID, &d.ChatID, &d.Kind, &d.URL, &d.Status, &d.DurationMs, &d.CreatedAt)
	if err != nil {
		return db.Download{}, err
	}
	return d, nil
}

func (r *Repository) CountDownloadsByUserSince(ctx context.Context, arg db.CountDownloadsByUserSinceParams) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM downloads WHERE user_id = $1 AND created_at > $2
	`, arg.UserID, arg.Since).Scan(&count)
	return count, err
}

func (r *Repository) GetUserKindCounts(ctx context.Context, userID int64) ([]db.KindCount, error) {
	rows, err := r.q.Query(ctx, `
		SELECT kind, COUNT(*)
		FROM downloads
		WHERE user_id = $1 AND status = $2
		GROUP BY kind
		ORDER BY kind
	`, userID, db.StatusOK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []db.KindCount
	for rows.Next() {
		var c db.KindCount
		if err := rows.Scan(&c.Kind, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (r *Repository) DeleteDownloadsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM downloads WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Profile cache methods

func (r *Repository) GetCachedProfile(ctx context.Context, username string) (db.CachedProfile, error) {
	var p db.CachedProfile
	err := r.q.QueryRow(ctx, `
		SELECT id, username, full_name, pic_url, is_private, cached_at, expires_at
		FROM profile_cache
		WHERE username = $1 AND expires_at > now()
	`, username).Scan(&p.ID, &p.Username, &p.FullName, &p.PicURL, &p.IsPrivate, &p.CachedAt, &p.ExpiresAt)
	if err == pgx.ErrNoRows {
		return db.CachedProfile{}, db.ErrNoRows
	}
	if err != nil {
		return db.CachedProfile{}, err
	}
	return p, nil
}

func (r *Repository) CacheProfile(ctx context.Context, arg db.CacheProfileParams) error {
	expiresAt := time.Now().Add(profileCacheTTL)
	_, err := r.q.Exec(ctx, `
		INSERT INTO profile_cache (username, full_name, pic_url, is_private, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username)
		DO UPDATE SET full_name = $2, pic_url = $3, is_private = $4, cached_at = now(), expires_at = $5
	`, arg.Username, arg.FullName, arg.PicURL, arg.IsPrivate, expiresAt)
	return err
}

func (r *Repository) DeleteExpiredProfileCache(ctx context.Context) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM profile_cache WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
