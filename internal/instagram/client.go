// Package instagram talks to Instagram's unauthenticated web API. Only the
// profile endpoint is called directly; reel and post media go through yt-dlp
// instead, which handles the many ways Instagram hides video URLs.
package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jusunglee/igrelay/internal/metrics"
)

var (
	ErrNotFound    = errors.New("profile not found")
	ErrLoginWall   = errors.New("instagram requires login")
	ErrRateLimited = errors.New("rate limited by instagram")
)

const defaultBaseURL = "https://www.instagram.com"

// Browser-like headers. Instagram's web API rejects requests without the
// app ID and a plausible User-Agent.
const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	igAppID   = "936619743392459"
)

// Profile is the subset of account data the bot relays.
type Profile struct {
	Username      string
	FullName      string
	ProfilePicURL string
	IsPrivate     bool
}

// client calls Instagram's web profile API. A session ID is optional; without
// one, Instagram serves public profiles only and throttles harder.
type client struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client
}

func newClient(sessionID string) *client {
	return &client{
		baseURL:   defaultBaseURL,
		sessionID: sessionID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetProfile fetches public account info for a username.
func (c *client) GetProfile(ctx context.Context, username string) (Profile, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users/web_profile_info/?username=%s", c.baseURL, url.QueryEscape(username))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.InstagramCallLatency.WithLabelValues("profile").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.InstagramCallsTotal.WithLabelValues("profile", "error").Inc()
		return Profile{}, fmt.Errorf("fetching profile %s: %w", username, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		metrics.InstagramCallsTotal.WithLabelValues("profile", "not_found").Inc()
		return Profile{}, ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		metrics.InstagramCallsTotal.WithLabelValues("profile", "login_wall").Inc()
		return Profile{}, ErrLoginWall
	case http.StatusTooManyRequests:
		metrics.InstagramCallsTotal.WithLabelValues("profile", "rate_limited").Inc()
		return Profile{}, ErrRateLimited
	default:
		metrics.InstagramCallsTotal.WithLabelValues("profile", "error").Inc()
		return Profile{}, fmt.Errorf("unexpected status %d fetching profile %s", resp.StatusCode, username)
	}

	var payload struct {
		RequiresToLogin bool `json:"requires_to_login"`
		Data            struct {
			User struct {
				Username        string `json:"username"`
				FullName        string `json:"full_name"`
				IsPrivate       bool   `json:"is_private"`
				ProfilePicURL   string `json:"profile_pic_url"`
				ProfilePicURLHD string `json:"profile_pic_url_hd"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		metrics.InstagramCallsTotal.WithLabelValues("profile", "error").Inc()
		return Profile{}, fmt.Errorf("decoding profile response: %w", err)
	}

	if payload.RequiresToLogin {
		metrics.InstagramCallsTotal.WithLabelValues("profile", "login_wall").Inc()
		return Profile{}, ErrLoginWall
	}
	user := payload.Data.User
	if user.Username == "" {
		// Instagram returns 200 with an empty user for nonexistent accounts.
		metrics.InstagramCallsTotal.WithLabelValues("profile", "not_found").Inc()
		return Profile{}, ErrNotFound
	}

	picURL := user.ProfilePicURLHD
	if picURL == "" {
		picURL = user.ProfilePicURL
	}

	metrics.InstagramCallsTotal.WithLabelValues("profile", "ok").Inc()
	return Profile{
		Username:      user.Username,
		FullName:      user.FullName,
		ProfilePicURL: picURL,
		IsPrivate:     user.IsPrivate,
	}, nil
}

// DownloadPicture streams the image at picURL. The caller owns closing the
// returned reader.
func (c *client) DownloadPicture(ctx context.Context, picURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, picURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", defaultBaseURL+"/")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.InstagramCallsTotal.WithLabelValues("picture", "error").Inc()
		return nil, fmt.Errorf("downloading picture: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		metrics.InstagramCallsTotal.WithLabelValues("picture", "error").Inc()
		return nil, fmt.Errorf("unexpected status %d downloading picture", resp.StatusCode)
	}

	metrics.InstagramCallsTotal.WithLabelValues("picture", "ok").Inc()
	return resp.Body, nil
}

func (c *client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("X-IG-App-ID", igAppID)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", defaultBaseURL+"/")
	if c.sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: c.sessionID})
	}
}
