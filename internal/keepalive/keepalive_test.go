package keepalive

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinger(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("disabled pinger returns immediately", func(t *testing.T) {
		p := New(log, "", time.Millisecond)

		done := make(chan error, 1)
		go func() { done <- p.Run(context.Background()) }()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run did not return for an empty URL")
		}
	})

	t.Run("pings the URL on every tick", func(t *testing.T) {
		var hits atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		p := New(log, srv.URL, 5*time.Millisecond)

		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()

		assert.Eventually(t, func() bool { return hits.Load() >= 2 }, time.Second, time.Millisecond)

		cancel()
		require.NoError(t, <-done)
	})

	t.Run("server errors don't stop the loop", func(t *testing.T) {
		var hits atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		p := New(log, srv.URL, 5*time.Millisecond)

		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()

		assert.Eventually(t, func() bool { return hits.Load() >= 2 }, time.Second, time.Millisecond)

		cancel()
		require.NoError(t, <-done)
	})
}
