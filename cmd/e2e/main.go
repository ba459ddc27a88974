package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/jusunglee/igrelay/internal/db"
	"github.com/jusunglee/igrelay/internal/db/sqlite"
	"github.com/jusunglee/igrelay/internal/fetch"
	"github.com/jusunglee/igrelay/internal/instagram"
	"github.com/jusunglee/igrelay/internal/logger"
	"github.com/jusunglee/igrelay/internal/ratelimit"
	"github.com/jusunglee/igrelay/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("E2E FAILED", "error", err)
		os.Exit(1)
	}
	slog.Info("E2E PASSED")
}

func run() error {
	_ = godotenv.Load()

	username := os.Getenv("E2E_INSTAGRAM_USERNAME")
	if username == "" {
		username = "instagram"
	}
	reelURL := os.Getenv("E2E_INSTAGRAM_REEL_URL")
	sessionID := os.Getenv("INSTAGRAM_SESSION_ID")

	log := logger.New()
	ctx := context.Background()

	// Phase 1: temp DB + temp downloads dir + the real fetch stack
	log.Info("Phase 1: Setting up temp DB and fetcher...")
	dbPath := fmt.Sprintf("/tmp/igrelay-e2e-%d.db", time.Now().UnixNano())
	defer os.Remove(dbPath)

	repo, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("creating temp SQLite: %w", err)
	}
	defer repo.Close()

	dir, err := os.MkdirTemp("", "igrelay-e2e-*")
	if err != nil {
		return fmt.Errorf("creating temp downloads dir: %w", err)
	}
	defer os.RemoveAll(dir)

	files, err := store.NewManager(log, dir)
	if err != nil {
		return fmt.Errorf("creating store manager: %w", err)
	}

	insta := instagram.NewCachedClient(sessionID, repo)
	ytdlp := fetch.NewYTDLP(log, "yt-dlp")
	fetcher := fetch.NewFetcher(log, insta, ytdlp, files, 3*time.Minute)

	// Phase 2: live profile picture fetch
	log.Info("Phase 2: Fetching profile picture...", "username", username)
	picCtx, picCancel := context.WithTimeout(ctx, time.Minute)
	defer picCancel()

	pic, err := fetcher.FetchProfilePicture(picCtx, username)
	if err != nil {
		return fmt.Errorf("fetching profile picture for %s: %w", username, err)
	}
	info, err := os.Stat(pic.Path)
	if err != nil {
		return fmt.Errorf("stat on downloaded picture: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("downloaded picture %s is empty", pic.Path)
	}
	log.Info("profile picture downloaded", "path", pic.Path, "bytes", info.Size(), "uploader", pic.Uploader)
	files.Remove(pic.Path)

	// Phase 3: the lookup must have landed in the profile cache
	log.Info("Phase 3: Verifying profile cache...")
	cached, err := repo.GetCachedProfile(ctx, username)
	if err != nil {
		return fmt.Errorf("no cached profile after fetch: %w", err)
	}
	if cached.PicURL == "" {
		return fmt.Errorf("cached profile for %s has no picture URL", username)
	}
	log.Info("profile cache verified", "username", cached.Username, "expires_at", cached.ExpiresAt)

	// Phase 4: reel download through yt-dlp, video then audio
	if reelURL == "" {
		log.Info("Phase 4: skipped, set E2E_INSTAGRAM_REEL_URL to exercise yt-dlp")
	} else {
		log.Info("Phase 4: Downloading reel...", "url", reelURL)
		videoCtx, videoCancel := context.WithTimeout(ctx, 3*time.Minute)
		defer videoCancel()

		video, err := fetcher.FetchMedia(videoCtx, reelURL, false)
		if err != nil {
			return fmt.Errorf("downloading reel video: %w", err)
		}
		vinfo, err := os.Stat(video.Path)
		if err != nil {
			return fmt.Errorf("stat on downloaded video: %w", err)
		}
		if video.Duration <= 0 {
			return fmt.Errorf("reel %s reports no duration", reelURL)
		}
		log.Info("video downloaded", "path", video.Path, "bytes", vinfo.Size(), "duration", video.Duration)
		files.Remove(video.Path)

		audioCtx, audioCancel := context.WithTimeout(ctx, 3*time.Minute)
		defer audioCancel()

		audio, err := fetcher.FetchMedia(audioCtx, reelURL, true)
		if err != nil {
			return fmt.Errorf("extracting reel audio: %w", err)
		}
		if !strings.HasSuffix(audio.Path, ".mp3") {
			return fmt.Errorf("audio extraction produced %s, want .mp3", audio.Path)
		}
		log.Info("audio extracted", "path", audio.Path, "title", audio.Title)
		files.Remove(audio.Path)
	}

	// Phase 5: admission control + download history round trip
	log.Info("Phase 5: Admission and history round trip...")
	limiter, err := ratelimit.New(ratelimit.Policy{
		MaxRequestsPerWindow: 2,
		Window:               time.Hour,
		SweepInterval:        time.Minute,
	})
	if err != nil {
		return fmt.Errorf("creating limiter: %w", err)
	}

	now := time.Now()
	if d := limiter.TryAdmit(1, now); !d.Admitted {
		return fmt.Errorf("first admission denied: %+v", d)
	}
	if d := limiter.TryAdmit(1, now); !d.Admitted {
		return fmt.Errorf("second admission denied: %+v", d)
	}
	denied := limiter.TryAdmit(1, now)
	if denied.Admitted {
		return fmt.Errorf("third admission should be denied")
	}
	if denied.RetryAfter <= 0 {
		return fmt.Errorf("denial carries no retry-after: %+v", denied)
	}
	if removed := limiter.Sweep(now.Add(2 * time.Hour)); removed != 1 {
		return fmt.Errorf("sweep removed %d users, want 1", removed)
	}

	rec, err := repo.RecordDownload(ctx, db.RecordDownloadParams{
		UserID:     1,
		ChatID:     1,
		Kind:       db.KindProfilePic,
		URL:        username,
		Status:     db.StatusOK,
		DurationMs: 1200,
	})
	if err != nil {
		return fmt.Errorf("recording download: %w", err)
	}
	count, err := repo.CountDownloadsByUserSince(ctx, db.CountDownloadsByUserSinceParams{
		UserID: 1,
		Since:  now.Add(-time.Hour),
	})
	if err != nil {
		return fmt.Errorf("counting downloads: %w", err)
	}
	if count != 1 {
		return fmt.Errorf("download count is %d, want 1", count)
	}

	log.Info("all verifications passed",
		"profile", cached.Username,
		"download_id", rec.ID,
		"retry_after", denied.RetryAfter,
	)

	return nil
}
