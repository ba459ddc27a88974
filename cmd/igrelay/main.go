package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/jusunglee/igrelay/internal/bot"
	"github.com/jusunglee/igrelay/internal/db"
	"github.com/jusunglee/igrelay/internal/db/postgres"
	"github.com/jusunglee/igrelay/internal/db/sqlite"
	"github.com/jusunglee/igrelay/internal/envsetup"
	"github.com/jusunglee/igrelay/internal/fetch"
	"github.com/jusunglee/igrelay/internal/instagram"
	"github.com/jusunglee/igrelay/internal/keepalive"
	"github.com/jusunglee/igrelay/internal/logger"
	"github.com/jusunglee/igrelay/internal/metrics"
	"github.com/jusunglee/igrelay/internal/ratelimit"
	"github.com/jusunglee/igrelay/internal/store"
	"github.com/jusunglee/igrelay/internal/web"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := mainE(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
	slog.Info("exiting without error")
}

func mainE() error {
	_ = godotenv.Load()

	// First run with no configuration at all: walk through the .env wizard.
	if envsetup.NeedsSetup() && os.Getenv("BOT_TOKEN") == "" {
		done, err := envsetup.Run()
		if err != nil {
			return fmt.Errorf("running setup wizard: %w", err)
		}
		if !done {
			return errors.New("setup aborted")
		}
		_ = godotenv.Load()
	}

	fs := ff.NewFlagSet("igrelay")

	var (
		botToken          = fs.StringLong("bot-token", "", "Telegram bot token")
		databaseURL       = fs.StringLong("database-url", "igrelay.db", "sqlite path or postgres:// URL")
		downloadsDir      = fs.StringLong("downloads-dir", "downloads", "directory for in-flight media files")
		port              = fs.Int64Long("port", 8080, "HTTP server port")
		webhookURL        = fs.StringLong("webhook-url", "", "public webhook URL; empty means long polling")
		webhookSecret     = fs.StringLong("webhook-secret", "", "secret token Telegram echoes on webhook deliveries")
		keepaliveURL      = fs.StringLong("keepalive-url", "", "public URL to self-ping; empty disables keepalive")
		keepaliveInterval = fs.DurationLong("keepalive-interval", 5*time.Minute, "self-ping cadence")
		sessionID         = fs.StringLong("instagram-session-id", "", "Instagram sessionid cookie for content behind the login wall")
		maxPerHour        = fs.Int64Long("max-requests-per-hour", 30, "per-user admission cap")
		window            = fs.DurationLong("rate-limit-window", time.Hour, "rolling admission window")
		sweepInterval     = fs.DurationLong("sweep-interval", 5*time.Minute, "limiter and janitor sweep cadence")
		sessionTTL        = fs.DurationLong("session-ttl", 5*time.Minute, "pending format choice lifetime")
		staleFileAge      = fs.DurationLong("stale-file-age", 30*time.Minute, "downloads older than this get janitored")
		fetchTimeout      = fs.DurationLong("fetch-timeout", 3*time.Minute, "per-download time budget")
		workers           = fs.Int64Long("workers", 4, "update consumer goroutines")
		ytdlpPath         = fs.StringLong("ytdlp-path", "yt-dlp", "yt-dlp binary")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVars()); err != nil {
		fmt.Printf("%s\n", ffhelp.Flags(fs))
		return fmt.Errorf("parsing flags: %w", err)
	}

	if *botToken == "" {
		return errors.New("bot-token is required")
	}

	log := logger.New()

	ctx, cancel := context.WithCancelCause(context.Background())

	var repo db.Repository
	if strings.HasPrefix(*databaseURL, "postgres://") || strings.HasPrefix(*databaseURL, "postgresql://") {
		pg, err := postgres.New(ctx, *databaseURL)
		if err != nil {
			return fmt.Errorf("creating PostgreSQL connection: %w", err)
		}
		defer pg.Close()
		log.InfoContext(ctx, "connected to PostgreSQL database")

		// Periodically export pgxpool stats as Prometheus gauges
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s := pg.PoolStats()
					metrics.DBPoolTotalConns.Set(float64(s.TotalConns()))
					metrics.DBPoolIdleConns.Set(float64(s.IdleConns()))
					metrics.DBPoolAcquiredConns.Set(float64(s.AcquiredConns()))
					metrics.DBPoolMaxConns.Set(float64(s.MaxConns()))
				case <-ctx.Done():
					return
				}
			}
		}()
		repo = pg
	} else {
		sq, err := sqlite.New(ctx, *databaseURL)
		if err != nil {
			return fmt.Errorf("opening sqlite database: %w", err)
		}
		defer sq.Close()
		log.InfoContext(ctx, "opened sqlite database", "path", *databaseURL)
		repo = sq
	}

	limiter, err := ratelimit.New(ratelimit.Policy{
		MaxRequestsPerWindow: int(*maxPerHour),
		Window:               *window,
		SweepInterval:        *sweepInterval,
	})
	if err != nil {
		return err
	}

	files, err := store.NewManager(log, *downloadsDir)
	if err != nil {
		return err
	}

	insta := instagram.NewCachedClient(*sessionID, repo)
	ytdlp := fetch.NewYTDLP(log, *ytdlpPath)
	fetcher := fetch.NewFetcher(log, insta, ytdlp, files, *fetchTimeout)

	api, err := tgbotapi.NewBotAPI(*botToken)
	if err != nil {
		return fmt.Errorf("creating Telegram client: %w", err)
	}
	log.InfoContext(ctx, "authorized on Telegram", "username", api.Self.UserName)

	b := bot.New(bot.NewLogger(log), api, fetcher, limiter, repo, files, bot.Config{
		NumWorkers: *workers,
		// The per-update budget sits above the fetch budget so a slow
		// download times out inside the handler, where the user gets told.
		ProcessTimeout:       *fetchTimeout + time.Minute,
		SessionTTL:           *sessionTTL,
		SessionSweepInterval: *sweepInterval,
		MaxRequestsPerHour:   int(*maxPerHour),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received signal, shutting down", "signal", sig)
		cancel(errors.New("signal received"))
	}()

	g, ctx := errgroup.WithContext(ctx)

	var updates <-chan tgbotapi.Update
	if *webhookURL != "" {
		ch := make(chan tgbotapi.Update, 64)
		updates = ch
		var webhookHandler http.Handler = bot.WebhookHandler(bot.NewLogger(log), ch)

		// v5 has no typed field for secret_token yet, so register the
		// webhook with a raw request.
		params := tgbotapi.Params{"url": *webhookURL}
		params.AddNonEmpty("secret_token", *webhookSecret)
		params.AddBool("drop_pending_updates", true)
		if _, err := api.MakeRequest("setWebhook", params); err != nil {
			return fmt.Errorf("registering webhook: %w", err)
		}
		log.InfoContext(ctx, "webhook registered", "url", *webhookURL)

		server := web.New(log, webhookHandler, web.Config{Port: *port, WebhookSecret: *webhookSecret})
		g.Go(func() error {
			err := server.Run(ctx)
			// No deliveries can be in flight once Shutdown has returned;
			// closing the channel lets the workers drain and exit.
			close(ch)
			return err
		})
	} else {
		// Polling and webhooks are mutually exclusive; clear any webhook a
		// previous deployment left behind.
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
			return fmt.Errorf("deleting stale webhook: %w", err)
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		updates = api.GetUpdatesChan(u)
		go func() {
			<-ctx.Done()
			api.StopReceivingUpdates()
		}()

		server := web.New(log, nil, web.Config{Port: *port})
		g.Go(func() error { return server.Run(ctx) })
	}

	g.Go(func() error { return b.Run(ctx, updates) })
	g.Go(func() error { return ratelimit.NewSweeper(log, limiter).Run(ctx) })
	g.Go(func() error { return files.Run(ctx, *sweepInterval, *staleFileAge) })
	g.Go(func() error { return keepalive.New(log, *keepaliveURL, *keepaliveInterval).Run(ctx) })

	// Expired profile cache rows ride the same cadence as the janitor.
	g.Go(func() error {
		ticker := time.NewTicker(*sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed, err := repo.DeleteExpiredProfileCache(ctx)
				if err != nil {
					log.ErrorContext(ctx, "profile cache cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					log.InfoContext(ctx, "expired cached profiles removed", "count", removed)
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
