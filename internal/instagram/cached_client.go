package instagram

import (
	"context"
	"fmt"
	"io"

	"github.com/jusunglee/igrelay/internal/db"
)

// CachedClient fronts the Instagram API with the profile cache in the
// repository. Profile lookups are the only cached call; pictures and media
// change URLs too often to be worth keeping.
type CachedClient struct {
	client *client
	repo   db.Repository
}

func NewCachedClient(sessionID string, repo db.Repository) *CachedClient {
	return &CachedClient{
		client: newClient(sessionID),
		repo:   repo,
	}
}

func (c *CachedClient) GetProfile(ctx context.Context, username string) (Profile, error) {
	cached, err := c.repo.GetCachedProfile(ctx, username)
	if err == nil {
		return Profile{
			Username:      cached.Username,
			FullName:      cached.FullName,
			ProfilePicURL: cached.PicURL,
			IsPrivate:     cached.IsPrivate,
		}, nil
	}
	if !db.IsNoRows(err) {
		return Profile{}, fmt.Errorf("profile cache lookup failed: %w", err)
	}

	profile, err := c.client.GetProfile(ctx, username)
	if err != nil {
		return Profile{}, err
	}

	if err := c.repo.CacheProfile(ctx, db.CacheProfileParams{
		Username:  profile.Username,
		FullName:  profile.FullName,
		PicURL:    profile.ProfilePicURL,
		IsPrivate: profile.IsPrivate,
	}); err != nil {
		return Profile{}, fmt.Errorf("failed to cache profile: %w", err)
	}

	return profile, nil
}

func (c *CachedClient) DownloadPicture(ctx context.Context, picURL string) (io.ReadCloser, error) {
	return c.client.DownloadPicture(ctx, picURL)
}
