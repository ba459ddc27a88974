package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jusunglee/igrelay/internal/instagram"
	"github.com/jusunglee/igrelay/internal/store"
)

// Result describes a media file ready to send, plus the metadata that goes
// into its caption.
type Result struct {
	Path        string
	Title       string
	Description string
	Uploader    string
	Duration    time.Duration
}

// ProfileSource provides account info and picture bytes. Satisfied by
// instagram.CachedClient.
type ProfileSource interface {
	GetProfile(ctx context.Context, username string) (instagram.Profile, error)
	DownloadPicture(ctx context.Context, picURL string) (io.ReadCloser, error)
}

// MediaDownloader fetches video or audio into an output template. Satisfied
// by YTDLP.
type MediaDownloader interface {
	Download(ctx context.Context, url, outTemplate string, audioOnly bool) (Metadata, error)
}

// Fetcher resolves links into files under the download store. Every fetch is
// bounded by the configured timeout.
type Fetcher struct {
	log      *slog.Logger
	profiles ProfileSource
	media    MediaDownloader
	files    *store.Manager
	timeout  time.Duration
}

func NewFetcher(log *slog.Logger, profiles ProfileSource, media MediaDownloader, files *store.Manager, timeout time.Duration) *Fetcher {
	return &Fetcher{
		log:      log,
		profiles: profiles,
		media:    media,
		files:    files,
		timeout:  timeout,
	}
}

// FetchProfilePicture downloads username's profile picture and returns it
// with the account's display name in Title.
func (f *Fetcher) FetchProfilePicture(ctx context.Context, username string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	profile, err := f.profiles.GetProfile(ctx, username)
	if err != nil {
		return Result{}, fmt.Errorf("fetching profile %s: %w", username, err)
	}
	if profile.ProfilePicURL == "" {
		return Result{}, fmt.Errorf("profile %s has no picture: %w", username, instagram.ErrNotFound)
	}

	rc, err := f.profiles.DownloadPicture(ctx, profile.ProfilePicURL)
	if err != nil {
		return Result{}, fmt.Errorf("downloading picture for %s: %w", username, err)
	}
	defer rc.Close()

	name := fmt.Sprintf("profile_%s_%s.jpg", profile.Username, uuid.NewString())
	path, err := f.files.Save(name, rc)
	if err != nil {
		return Result{}, fmt.Errorf("saving picture for %s: %w", username, err)
	}

	return Result{
		Path:     path,
		Title:    profile.FullName,
		Uploader: profile.Username,
	}, nil
}

// FetchMedia downloads the video at url, or just its audio track as mp3 when
// audioOnly is set.
func (f *Fetcher) FetchMedia(ctx context.Context, url string, audioOnly bool) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	stem := f.files.NewStem("media")
	meta, err := f.media.Download(ctx, url, stem+".%(ext)s", audioOnly)
	if err != nil {
		return Result{}, err
	}

	path, err := locateOutput(stem, meta.Ext, audioOnly)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Path:        path,
		Title:       meta.Title,
		Description: meta.Description,
		Uploader:    meta.Uploader,
		Duration:    time.Duration(meta.Duration * float64(time.Second)),
	}, nil
}

// locateOutput finds the file yt-dlp actually produced. The metadata ext is
// the download's container; audio extraction rewrites it to mp3 afterwards,
// so the expected name is tried first and a glob covers the rest.
func locateOutput(stem, ext string, audioOnly bool) (string, error) {
	expected := stem + "." + ext
	if audioOnly {
		expected = stem + ".mp3"
	}
	if _, err := os.Stat(expected); err == nil {
		return expected, nil
	}

	matches, err := filepath.Glob(stem + ".*")
	if err != nil {
		return "", fmt.Errorf("globbing %s: %w", stem, err)
	}
	for _, m := range matches {
		switch filepath.Ext(m) {
		case ".part", ".tmp", ".ytdl":
			continue
		}
		return m, nil
	}
	return "", fmt.Errorf("yt-dlp produced no output for %s", stem)
}
