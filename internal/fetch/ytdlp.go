// Package fetch turns Instagram links into local media files. Profile
// pictures come straight off the CDN; reels and posts are delegated to the
// yt-dlp binary, which keeps up with Instagram's extractor churn far better
// than any in-process scraper could.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ErrUnavailable means yt-dlp could not access the content: private account,
// deleted post, or a login wall.
var ErrUnavailable = errors.New("content unavailable")

// Metadata is the slice of yt-dlp's --print-json output the bot cares about.
type Metadata struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Uploader    string  `json:"uploader"`
	Duration    float64 `json:"duration"`
	Ext         string  `json:"ext"`
}

// YTDLP shells out to the yt-dlp binary.
type YTDLP struct {
	log     *slog.Logger
	binPath string
}

func NewYTDLP(log *slog.Logger, binPath string) *YTDLP {
	return &YTDLP{log: log, binPath: binPath}
}

// Download fetches url into outTemplate (a yt-dlp -o template, typically
// ending in ".%(ext)s") and returns the parsed metadata. With audioOnly the
// result is extracted to mp3.
func (y *YTDLP) Download(ctx context.Context, url, outTemplate string, audioOnly bool) (Metadata, error) {
	args := buildArgs(url, outTemplate, audioOnly)
	y.log.DebugContext(ctx, "running yt-dlp", "args", args)

	cmd := exec.CommandContext(ctx, y.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Metadata{}, ctx.Err()
		}
		return Metadata{}, classifyRunError(stderr.String(), err)
	}

	meta, err := parseMetadata(stdout.Bytes())
	if err != nil {
		return Metadata{}, fmt.Errorf("parsing yt-dlp output: %w", err)
	}
	return meta, nil
}

func buildArgs(url, outTemplate string, audioOnly bool) []string {
	args := []string{
		"--no-warnings",
		"--no-playlist",
		"--print-json",
		"-o", outTemplate,
	}
	if audioOnly {
		args = append(args, "-x", "--audio-format", "mp3", "--audio-quality", "192K")
	} else {
		args = append(args, "-f", "best[ext=mp4]/best")
	}
	return append(args, url)
}

// parseMetadata pulls the info dict out of --print-json output. yt-dlp may
// emit progress noise around it, so only the last JSON object line counts.
func parseMetadata(out []byte) (Metadata, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal([]byte(line), &meta); err != nil {
			return Metadata{}, err
		}
		return meta, nil
	}
	return Metadata{}, errors.New("no JSON object in output")
}

func classifyRunError(stderr string, err error) error {
	lowered := strings.ToLower(stderr)
	for _, marker := range []string{
		"login required",
		"private",
		"requested content is not available",
		"this post may not be available",
		"404",
	} {
		if strings.Contains(lowered, marker) {
			return fmt.Errorf("%w: %s", ErrUnavailable, lastLine(stderr))
		}
	}
	if stderr != "" {
		return fmt.Errorf("yt-dlp failed: %s: %w", lastLine(stderr), err)
	}
	return fmt.Errorf("yt-dlp failed: %w", err)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
