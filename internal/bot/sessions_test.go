package bot

import (
	"testing"
	"time"

	"github.com/jusunglee/igrelay/internal/instagram"
	"github.com/stretchr/testify/assert"
)

func TestSessionStore(t *testing.T) {
	now := time.Now()

	t.Run("put then get", func(t *testing.T) {
		s := newSessionStore(5 * time.Minute)
		s.put(7, "https://www.instagram.com/reel/abc/", instagram.LinkReel, now)

		sess, ok := s.get(7, now.Add(time.Minute))
		assert.True(t, ok)
		assert.Equal(t, "https://www.instagram.com/reel/abc/", sess.url)
		assert.Equal(t, instagram.LinkReel, sess.kind)
	})

	t.Run("get drops expired entries", func(t *testing.T) {
		s := newSessionStore(5 * time.Minute)
		s.put(7, "https://www.instagram.com/reel/abc/", instagram.LinkReel, now)

		_, ok := s.get(7, now.Add(6*time.Minute))
		assert.False(t, ok)
		assert.Equal(t, 0, s.len())
	})

	t.Run("new link replaces the pending choice", func(t *testing.T) {
		s := newSessionStore(5 * time.Minute)
		s.put(7, "https://www.instagram.com/reel/old/", instagram.LinkReel, now)
		s.put(7, "https://www.instagram.com/p/new/", instagram.LinkPost, now.Add(time.Minute))

		sess, ok := s.get(7, now.Add(2*time.Minute))
		assert.True(t, ok)
		assert.Equal(t, "https://www.instagram.com/p/new/", sess.url)
		assert.Equal(t, instagram.LinkPost, sess.kind)
		assert.Equal(t, 1, s.len())
	})

	t.Run("clear removes the entry", func(t *testing.T) {
		s := newSessionStore(5 * time.Minute)
		s.put(7, "https://www.instagram.com/reel/abc/", instagram.LinkReel, now)
		s.clear(7)

		_, ok := s.get(7, now)
		assert.False(t, ok)
	})

	t.Run("clear of unknown user is a no-op", func(t *testing.T) {
		s := newSessionStore(5 * time.Minute)
		s.clear(99)
		assert.Equal(t, 0, s.len())
	})

	t.Run("sweep removes only stale entries", func(t *testing.T) {
		s := newSessionStore(5 * time.Minute)
		s.put(1, "https://www.instagram.com/reel/stale/", instagram.LinkReel, now.Add(-10*time.Minute))
		s.put(2, "https://www.instagram.com/reel/fresh/", instagram.LinkReel, now)

		removed := s.sweep(now)
		assert.Equal(t, 1, removed)
		assert.Equal(t, 1, s.len())

		_, ok := s.get(2, now)
		assert.True(t, ok)
	})

	t.Run("sweep is idempotent", func(t *testing.T) {
		s := newSessionStore(5 * time.Minute)
		s.put(1, "https://www.instagram.com/reel/stale/", instagram.LinkReel, now.Add(-10*time.Minute))

		assert.Equal(t, 1, s.sweep(now))
		assert.Equal(t, 0, s.sweep(now))
	})
}
