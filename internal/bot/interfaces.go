package bot

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jusunglee/igrelay/internal/fetch"
	"github.com/jusunglee/igrelay/internal/ratelimit"
)

// Logger defines the logging interface used by Bot
type Logger interface {
	InfoContext(ctx context.Context, msg string, args ...any)
	Info(msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	Warn(msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Sender defines the Telegram API surface used by Bot.
// *tgbotapi.BotAPI satisfies it directly.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// MediaFetcher defines the media retrieval interface used by Bot
type MediaFetcher interface {
	FetchProfilePicture(ctx context.Context, username string) (fetch.Result, error)
	FetchMedia(ctx context.Context, url string, audioOnly bool) (fetch.Result, error)
}

// Admitter defines the admission control interface used by Bot
type Admitter interface {
	TryAdmit(userID int64, now time.Time) ratelimit.Decision
}

// FileStore defines the downloaded file cleanup interface used by Bot
type FileStore interface {
	Remove(path string)
}

// slogAdapter wraps *slog.Logger to return our Logger interface from With()
type slogAdapter struct {
	*slog.Logger
}

func (l *slogAdapter) With(args ...any) Logger {
	return &slogAdapter{Logger: l.Logger.With(args...)}
}

// NewLogger wraps a *slog.Logger to implement the Logger interface
func NewLogger(log *slog.Logger) Logger {
	return &slogAdapter{Logger: log}
}
