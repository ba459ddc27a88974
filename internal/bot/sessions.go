package bot

import (
	"sync"
	"time"

	"github.com/jusunglee/igrelay/internal/instagram"
)

// session is one pending format choice: the user got a Video/Audio keyboard
// and has not pressed a button yet. Keyed by user, so a new link replaces
// any earlier unanswered keyboard from the same user.
type session struct {
	url     string
	kind    instagram.LinkKind
	created time.Time
}

type sessionStore struct {
	ttl time.Duration

	mu      sync.Mutex
	pending map[int64]session
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{
		ttl:     ttl,
		pending: make(map[int64]session),
	}
}

func (s *sessionStore) put(userID int64, url string, kind instagram.LinkKind, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[userID] = session{url: url, kind: kind, created: now}
}

// get returns the user's pending choice if it has not aged past the TTL.
// Expired entries are dropped on the spot.
func (s *sessionStore) get(userID int64, now time.Time) (session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.pending[userID]
	if !ok {
		return session{}, false
	}
	if now.Sub(sess.created) > s.ttl {
		delete(s.pending, userID)
		return session{}, false
	}
	return sess, true
}

func (s *sessionStore) clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, userID)
}

func (s *sessionStore) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, sess := range s.pending {
		if now.Sub(sess.created) > s.ttl {
			delete(s.pending, userID)
			removed++
		}
	}
	return removed
}

func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
