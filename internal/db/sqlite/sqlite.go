package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jusunglee/igrelay/internal/db"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// profileCacheTTL bounds how long a cached profile lookup stays valid.
// Profile pictures change rarely; half a day keeps the bot responsive
// without hammering Instagram.
const profileCacheTTL = 12 * time.Hour

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query method works
// inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository implements db.Repository using SQLite
type Repository struct {
	db *sql.DB
	q  dbtx
}

// New creates a new SQLite repository
func New(ctx context.Context, dbPath string) (*Repository, error) {
	// Strip sqlite:// prefix if present
	dbPath = strings.TrimPrefix(dbPath, "sqlite://")

	isNew := false
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		isNew = true
	}

	sqliteDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	// Every pooled connection to :memory: gets its own empty database, so
	// transactions would silently land somewhere without a schema.
	if dbPath == ":memory:" {
		sqliteDB.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := sqliteDB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := sqliteDB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	repo := &Repository{db: sqliteDB, q: sqliteDB}

	if isNew {
		if _, err := sqliteDB.ExecContext(ctx, schemaSQL); err != nil {
			sqliteDB.Close()
			return nil, fmt.Errorf("initializing schema: %w", err)
		}
		slog.Info("created new SQLite database", "path", dbPath)
	}

	return repo, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Download methods

func (r *Repository) RecordDownload(ctx context.Context, arg db.RecordDownloadParams) (db.Download, error) {
	result, err := r.q.ExecContext(ctx, `
		INSERT INTO downloads (user_id, chat_id, kind, url, status, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, arg.UserID, arg.ChatID, arg.Kind, arg.URL, arg.Status, arg.DurationMs, formatTime(time.Now()))
	if err != nil {
		return db.Download{}, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return db.Download{}, err
	}

	return r.getDownload(ctx, id)
}

func (r *Repository) getDownload(ctx context.Context, id int64) (db.Download, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, chat_id, kind, url, status, duration_ms, created_at
		FROM downloads
		WHERE id = ?
	`, id)

	return scanDownload(row)
}

func (r *Repository) CountDownloadsByUserSince(ctx context.Context, arg db.CountDownloadsByUserSinceParams) (int64, error) {
	var count int64
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM downloads WHERE user_id = ? AND created_at > ?
	`, arg.UserID, formatTime(arg.Since)).Scan(&count)
	return count, err
}

func (r *Repository) GetUserKindCounts(ctx context.Context, userID int64) ([]db.KindCount, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT kind, COUNT(*)
		FROM downloads
		WHERE user_id = ? AND status = ?
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
	result, err := r.q.ExecContext(ctx, `
		DELETE FROM downloads WHERE created_at < ?
	`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Profile cache methods

func (r *Repository) GetCachedProfile(ctx context.Context, username string) (db.CachedProfile, error) {
	var p db.CachedProfile
	var isPrivate int
	var cachedAtStr, expiresAtStr string
	err := r.q.QueryRowContext(ctx, `
		SELECT id, username, full_name, pic_url, is_private, cached_at, expires_at
		FROM profile_cache
		WHERE username = ? AND expires_at > ?
	`, username, formatTime(time.Now())).Scan(&p.ID, &p.Username, &p.FullName, &p.PicURL, &isPrivate, &cachedAtStr, &expiresAtStr)
	if err == sql.ErrNoRows {
		return db.CachedProfile{}, db.ErrNoRows
	}
	if err != nil {
		return db.CachedProfile{}, err
	}
	p.IsPrivate = isPrivate != 0
	p.CachedAt, _ = time.Parse(time.RFC3339, cachedAtStr)
	p.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAtStr)
	return p, nil
}

func (r *Repository) CacheProfile(ctx context.Context, arg db.CacheProfileParams) error {
	isPrivate := 0
	if arg.IsPrivate {
		isPrivate = 1
	}
	now := time.Now()
	cachedAt := formatTime(now)
	expiresAt := formatTime(now.Add(profileCacheTTL))
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO profile_cache (username, full_name, pic_url, is_private, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (username)
		DO UPDATE SET full_name = ?, pic_url = ?, is_private = ?, cached_at = ?, expires_at = ?
	`, arg.Username, arg.FullName, arg.PicURL, isPrivate, cachedAt, expiresAt,
		arg.FullName, arg.PicURL, isPrivate, cachedAt, expiresAt)
	return err
}

func (r *Repository) DeleteExpiredProfileCache(ctx context.Context) (int64, error) {
	result, err := r.q.ExecContext(ctx, `
		DELETE FROM profile_cache WHERE expires_at < ?
	`, formatTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// WithTx runs fn inside a transaction. fn gets a repository bound to the
// transaction; returning an error rolls everything back.
func (r *Repository) WithTx(ctx context.Context, fn func(repo db.Repository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	txRepo := &Repository{db: r.db, q: tx}
	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// Helper functions

func scanDownload(row *sql.Row) (db.Download, error) {
	var d db.Download
	var createdAtStr string
	err := row.Scan(&d.ID, &d.UserID, &d.ChatID, &d.Kind, &d.URL, &d.Status, &d.DurationMs, &createdAtStr)
	if err == sql.ErrNoRows {
		return db.Download{}, db.ErrNoRows
	}
	if err != nil {
		return db.Download{}, err
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	return d, nil
}

// formatTime renders a timestamp the way the schema expects: RFC3339 in UTC,
// so string ordering matches time ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
