// Package store owns the downloads directory: temp file naming, atomic
// writes, cleanup after delivery, and the janitor that removes anything a
// crashed handler left behind.
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jusunglee/igrelay/internal/metrics"
)

type Manager struct {
	log *slog.Logger
	dir string
}

func NewManager(log *slog.Logger, dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating downloads dir: %w", err)
	}
	return &Manager{log: log, dir: dir}, nil
}

func (m *Manager) Dir() string {
	return m.dir
}

// NewStem returns a fresh collision-free path without extension, suitable as
// a yt-dlp output template base or for appending a known extension.
func (m *Manager) NewStem(prefix string) string {
	return filepath.Join(m.dir, prefix+"_"+uuid.NewString())
}

// Save writes r to name inside the downloads dir. The write goes to a temp
// file first and is renamed into place so a partial download never shows up
// under the final name.
func (m *Manager) Save(name string, r io.Reader) (string, error) {
	path := filepath.Join(m.dir, name)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", tmp, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("closing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return path, nil
}

// Remove deletes a delivered file. Failure is logged, not returned; the
// janitor picks up anything left behind.
func (m *Manager) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			m.log.Warn("failed to remove download", "path", path, "error", err)
		}
		return
	}
	m.log.Debug("removed download", "path", path)
}

// SweepStale removes regular files older than maxAge. Subdirectories are
// left alone.
func (m *Manager) SweepStale(now time.Time, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("reading downloads dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, entry.Name())); err != nil {
			m.log.Warn("failed to remove stale file", "name", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Run sweeps the downloads dir on a fixed cadence until the context is
// cancelled.
func (m *Manager) Run(ctx context.Context, interval, maxAge time.Duration) error {
	m.log.InfoContext(ctx, "download janitor started", "dir", m.dir, "interval", interval, "max_age", maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := m.SweepStale(time.Now(), maxAge)
			if err != nil {
				m.log.ErrorContext(ctx, "download sweep failed", "error", err)
				continue
			}
			metrics.StaleFilesRemovedTotal.Add(float64(removed))
			if removed > 0 {
				m.log.InfoContext(ctx, "removed stale downloads", "count", removed)
			}
		case <-ctx.Done():
			m.log.Info("download janitor stopped")
			return nil
		}
	}
}
