// Package keepalive periodically pings the bot's own public URL so that
// free hosting tiers don't idle the process out between messages.
package keepalive

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jusunglee/igrelay/internal/metrics"
)

// Pinger hits url every interval. If url is empty, all calls are no-ops
// (opt-out by default).
type Pinger struct {
	log      *slog.Logger
	url      string
	interval time.Duration
	client   *http.Client
}

func New(log *slog.Logger, url string, interval time.Duration) *Pinger {
	return &Pinger{
		log:      log,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *Pinger) Enabled() bool {
	return p.url != ""
}

// Run pings until ctx is cancelled. Failed pings are logged and counted but
// never abort the loop; the next tick tries again.
func (p *Pinger) Run(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}

	p.log.Info("keepalive pinger started", "url", p.url, "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("keepalive pinger stopped")
			return nil
		case <-ticker.C:
			p.ping(ctx)
		}
	}
}

func (p *Pinger) ping(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		metrics.KeepalivePingsTotal.WithLabelValues("error").Inc()
		p.log.Warn("keepalive ping failed", "error", err)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		metrics.KeepalivePingsTotal.WithLabelValues("error").Inc()
		p.log.Warn("keepalive ping failed", "error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		metrics.KeepalivePingsTotal.WithLabelValues("error").Inc()
		p.log.Warn("keepalive ping failed", "status", resp.StatusCode)
		return
	}

	metrics.KeepalivePingsTotal.WithLabelValues("ok").Inc()
}
