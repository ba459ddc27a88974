package db

import (
	"context"
	"time"
)

// Download records one media delivery attempt: who asked, what for, and how
// it went.
type Download struct {
	ID         int64
	UserID     int64
	ChatID     int64
	Kind       string
	URL        string
	Status     string
	DurationMs int64
	CreatedAt  time.Time
}

// Download kinds and statuses stored in the downloads table.
const (
	KindProfilePic = "profile_pic"
	KindVideo      = "video"
	KindAudio      = "audio"

	StatusOK     = "ok"
	StatusFailed = "failed"
)

// CachedProfile is a cached Instagram profile lookup.
type CachedProfile struct {
	ID        int64
	Username  string
	FullName  string
	PicURL    string
	IsPrivate bool
	CachedAt  time.Time
	ExpiresAt time.Time
}

// KindCount is a per-kind download tally for one user.
type KindCount struct {
	Kind  string
	Count int64
}

// Parameter structs for repository methods

type RecordDownloadParams struct {
	UserID     int64
	ChatID     int64
	Kind       string
	URL        string
	Status     string
	DurationMs int64
}

type CountDownloadsByUserSinceParams struct {
	UserID int64
	Since  time.Time
}

type CacheProfileParams struct {
	Username  string
	FullName  string
	PicURL    string
	IsPrivate bool
}

// Repository defines the interface for database operations
type Repository interface {
	// Downloads
	RecordDownload(ctx context.Context, arg RecordDownloadParams) (Download, error)
	CountDownloadsByUserSince(ctx context.Context, arg CountDownloadsByUserSinceParams) (int64, error)
	GetUserKindCounts(ctx context.Context, userID int64) ([]KindCount, error)
	DeleteDownloadsBefore(ctx context.Context, before time.Time) (int64, error)

	// Profile cache
	GetCachedProfile(ctx context.Context, username string) (CachedProfile, error)
	CacheProfile(ctx context.Context, arg CacheProfileParams) error
	DeleteExpiredProfileCache(ctx context.Context) (int64, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	// Lifecycle
	Close() error
}
