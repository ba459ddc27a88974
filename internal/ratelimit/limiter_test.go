package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(maxRequests int, window time.Duration) Policy {
	return Policy{
		MaxRequestsPerWindow: maxRequests,
		Window:               window,
		SweepInterval:        time.Minute,
	}
}

func newTestLimiter(t *testing.T, maxRequests int, window time.Duration) *Limiter {
	t.Helper()
	l, err := New(testPolicy(maxRequests, window))
	require.NoError(t, err)
	return l
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"default is valid", DefaultPolicy, false},
		{"zero max requests", testPolicy(0, time.Hour), true},
		{"negative max requests", testPolicy(-1, time.Hour), true},
		{"zero window", testPolicy(30, 0), true},
		{"negative window", testPolicy(30, -time.Hour), true},
		{"zero sweep interval", Policy{MaxRequestsPerWindow: 30, Window: time.Hour}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	_, err := New(Policy{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid rate limit policy")
}

func TestTryAdmitAllowsUpToLimit(t *testing.T) {
	l := newTestLimiter(t, 5, time.Hour)
	now := time.Now()

	for i := 0; i < 5; i++ {
		d := l.TryAdmit(100, now)
		require.True(t, d.Admitted, "request %d should be admitted", i+1)
		assert.Equal(t, 4-i, d.Remaining, "request %d remaining", i+1)
	}

	d := l.TryAdmit(100, now)
	assert.False(t, d.Admitted, "6th request should be denied")
	assert.Zero(t, d.Remaining)
}

func TestTryAdmitIsolatesUsers(t *testing.T) {
	l := newTestLimiter(t, 3, time.Hour)
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.True(t, l.TryAdmit(1, now).Admitted)
	}
	assert.False(t, l.TryAdmit(1, now).Admitted, "user 1 should be at limit")
	assert.True(t, l.TryAdmit(2, now).Admitted, "user 2 should not be affected by user 1")
}

func TestTryAdmitWindowSlides(t *testing.T) {
	l := newTestLimiter(t, 3, time.Hour)
	base := time.Now()

	require.True(t, l.TryAdmit(7, base).Admitted)
	require.True(t, l.TryAdmit(7, base.Add(10*time.Second)).Admitted)
	require.True(t, l.TryAdmit(7, base.Add(20*time.Second)).Admitted)

	d := l.TryAdmit(7, base.Add(30*time.Second))
	require.False(t, d.Admitted)
	// The oldest entry ages out one hour after base, so 59m30s from now.
	assert.Equal(t, time.Hour-30*time.Second, d.RetryAfter)

	d = l.TryAdmit(7, base.Add(time.Hour+time.Second))
	assert.True(t, d.Admitted, "entries older than the window should have been pruned")
}

func TestTryAdmitAtExactRetryAfter(t *testing.T) {
	l := newTestLimiter(t, 2, time.Hour)
	base := time.Now()

	require.True(t, l.TryAdmit(9, base).Admitted)
	require.True(t, l.TryAdmit(9, base.Add(time.Minute)).Admitted)

	denied := l.TryAdmit(9, base.Add(2*time.Minute))
	require.False(t, denied.Admitted)

	// A timestamp exactly window old is no longer counted, so retrying at
	// precisely now+RetryAfter must succeed.
	retryAt := base.Add(2 * time.Minute).Add(denied.RetryAfter)
	assert.True(t, l.TryAdmit(9, retryAt).Admitted)
}

func TestTryAdmitDenialDoesNotConsume(t *testing.T) {
	l := newTestLimiter(t, 1, time.Hour)
	base := time.Now()

	require.True(t, l.TryAdmit(3, base).Admitted)

	// Hammering while denied must not push the retry horizon out.
	first := l.TryAdmit(3, base.Add(time.Minute))
	second := l.TryAdmit(3, base.Add(2*time.Minute))
	require.False(t, first.Admitted)
	require.False(t, second.Admitted)
	assert.Equal(t, 59*time.Minute, first.RetryAfter)
	assert.Equal(t, 58*time.Minute, second.RetryAfter)
}

func TestTryAdmitToleratesClockRegression(t *testing.T) {
	l := newTestLimiter(t, 5, time.Hour)
	base := time.Now()

	require.True(t, l.TryAdmit(4, base).Admitted)
	// A retrograde clock reading must not panic or corrupt the log.
	d := l.TryAdmit(4, base.Add(-10*time.Minute))
	assert.True(t, d.Admitted)
	assert.Equal(t, 1, l.Len())
}

func TestSweepRemovesIdleUsers(t *testing.T) {
	l := newTestLimiter(t, 3, time.Hour)
	base := time.Now()

	for id := int64(0); id < 4; id++ {
		require.True(t, l.TryAdmit(id, base).Admitted)
	}
	require.Equal(t, 4, l.Len())

	removed := l.Sweep(base.Add(time.Hour + time.Second))
	assert.Equal(t, 4, removed)
	assert.Zero(t, l.Len())

	// A second sweep at the same instant has nothing left to do.
	assert.Zero(t, l.Sweep(base.Add(time.Hour+time.Second)))
}

func TestSweepKeepsActiveUsers(t *testing.T) {
	l := newTestLimiter(t, 3, time.Hour)
	base := time.Now()

	require.True(t, l.TryAdmit(1, base).Admitted)
	require.True(t, l.TryAdmit(2, base).Admitted)
	require.True(t, l.TryAdmit(2, base.Add(50*time.Minute)).Admitted)

	removed := l.Sweep(base.Add(55 * time.Minute))
	assert.Zero(t, removed, "no user is fully idle yet")
	assert.Equal(t, 2, l.Len())

	removed = l.Sweep(base.Add(time.Hour + time.Minute))
	assert.Equal(t, 1, removed, "user 1's only entry has aged out")
	assert.Equal(t, 1, l.Len())
}

func TestSweepDoesNotFreeQuota(t *testing.T) {
	l := newTestLimiter(t, 2, time.Hour)
	base := time.Now()

	require.True(t, l.TryAdmit(8, base).Admitted)
	require.True(t, l.TryAdmit(8, base.Add(time.Second)).Admitted)

	l.Sweep(base.Add(time.Minute))
	d := l.TryAdmit(8, base.Add(time.Minute))
	assert.False(t, d.Admitted, "sweeping in-window entries must not grant extra admissions")
}

func TestTryAdmitConcurrentUsers(t *testing.T) {
	const maxRequests = 5
	l := newTestLimiter(t, maxRequests, time.Hour)
	now := time.Now()

	var wg sync.WaitGroup
	admitted := make([]int, 10)
	for userID := 0; userID < 10; userID++ {
		userID := userID
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < maxRequests+3; j++ {
				if l.TryAdmit(int64(userID), now).Admitted {
					admitted[userID]++
				}
			}
		}()
	}
	wg.Wait()

	for userID, got := range admitted {
		assert.Equal(t, maxRequests, got, "user %d admission count", userID)
	}
}

func TestTryAdmitConcurrentLastSlot(t *testing.T) {
	const maxRequests = 10
	l := newTestLimiter(t, maxRequests, time.Hour)
	now := time.Now()

	for i := 0; i < maxRequests-1; i++ {
		require.True(t, l.TryAdmit(42, now).Admitted)
	}

	// Many goroutines race for the single remaining slot; exactly one wins.
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAdmit(42, now).Admitted {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestSweepConcurrentWithAdmissions(t *testing.T) {
	l := newTestLimiter(t, 3, 50*time.Millisecond)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				l.TryAdmit(1, time.Now())
				l.TryAdmit(2, time.Now())
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				l.Sweep(time.Now())
			}
		}
	}()

	time.Sleep(100 * time.Millisecond)
	close(done)
	wg.Wait()

	// Quota accounting must survive the churn: a burst right after the
	// window passes admits exactly the cap again.
	now := time.Now().Add(time.Second)
	got := 0
	for i := 0; i < 5; i++ {
		if l.TryAdmit(1, now).Admitted {
			got++
		}
	}
	assert.Equal(t, 3, got)
}
