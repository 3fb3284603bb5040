package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/dns402/metrics"
	"github.com/vitwit/dns402/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testSession(key string, expires time.Time) types.Session {
	return types.Session{
		SubjectKey: key,
		Proof:      types.ProofOfPayment{Signature: "sig-" + key, Payer: "P"},
		ExpiresAt:  expires,
	}
}

func TestMemoryStore_GetPut(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now), WithSweepInterval(0))
	defer s.Close()
	ctx := context.Background()

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	sess := testSession("a", clock.Now().Add(time.Minute))
	require.NoError(t, s.Put(ctx, "a", sess))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, sess, got)
}

func TestMemoryStore_LastWriteWins(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now), WithSweepInterval(0))
	defer s.Close()
	ctx := context.Background()

	long := testSession("a", clock.Now().Add(time.Hour))
	short := testSession("a", clock.Now().Add(time.Second))
	short.Proof.Signature = "newer"

	require.NoError(t, s.Put(ctx, "a", long))
	require.NoError(t, s.Put(ctx, "a", short))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "newer", got.Proof.Signature)

	clock.Advance(2 * time.Second)
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound, "the shorter replacement is not merged with the older entry")
}

// A session stored with expiry e is visible for every t < e and never for
// t >= e, whether or not sweeps run in between.
func TestMemoryStore_Monotonicity(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now), WithSweepInterval(0))
	defer s.Close()
	ctx := context.Background()

	start := clock.Now()
	expiry := start.Add(10 * time.Second)
	require.NoError(t, s.Put(ctx, "k", testSession("k", expiry)))

	for ms := 0; ms <= 12_000; ms += 250 {
		now := start.Add(time.Duration(ms) * time.Millisecond)
		clock.Set(now)
		if ms%1000 == 0 {
			_, err := s.Sweep(ctx, now)
			require.NoError(t, err)
		}

		_, err := s.Get(ctx, "k")
		if now.Before(expiry) {
			assert.NoError(t, err, "at +%dms", ms)
		} else {
			assert.ErrorIs(t, err, ErrNotFound, "at +%dms", ms)
		}
	}
}

func TestMemoryStore_ExpiresExactlyAtBoundary(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now), WithSweepInterval(0))
	defer s.Close()
	ctx := context.Background()

	expiry := clock.Now().Add(time.Second)
	require.NoError(t, s.Put(ctx, "k", testSession("k", expiry)))

	clock.Set(expiry.Add(-time.Nanosecond))
	_, err := s.Get(ctx, "k")
	assert.NoError(t, err)

	clock.Set(expiry)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now), WithSweepInterval(0))
	defer s.Close()
	ctx := context.Background()

	now := clock.Now()
	require.NoError(t, s.Put(ctx, "old", testSession("old", now.Add(-time.Second))))
	require.NoError(t, s.Put(ctx, "edge", testSession("edge", now)))
	require.NoError(t, s.Put(ctx, "live", testSession("live", now.Add(time.Second))))

	removed, err := s.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, s.Len())

	_, err = s.Get(ctx, "live")
	assert.NoError(t, err)
}

type sweepRecorder struct {
	metrics.NoopRecorder
	mu    sync.Mutex
	swept float64
}

func (r *sweepRecorder) AddCounter(name string, v float64, _ map[string]string) {
	if name != metrics.SessionsSwept {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swept += v
}

func TestMemoryStore_SweepCountsRemovedSessions(t *testing.T) {
	clock := newFakeClock()
	rec := &sweepRecorder{}
	s := NewMemoryStore(WithClock(clock.Now), WithSweepInterval(0), WithMetrics(rec))
	defer s.Close()
	ctx := context.Background()

	now := clock.Now()
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("old-%d", i)
		require.NoError(t, s.Put(ctx, key, testSession(key, now.Add(-time.Second))))
	}
	require.NoError(t, s.Put(ctx, "live", testSession("live", now.Add(time.Second))))

	_, err := s.Sweep(ctx, now)
	require.NoError(t, err)
	_, err = s.Sweep(ctx, now)
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 3.0, rec.swept)
}

func TestMemoryStore_PutIfAbsent(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now), WithSweepInterval(0))
	defer s.Close()
	ctx := context.Background()

	ok, err := s.PutIfAbsent(ctx, "sig", testSession("sig", clock.Now().Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.PutIfAbsent(ctx, "sig", testSession("sig", clock.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(2 * time.Minute)
	ok, err = s.PutIfAbsent(ctx, "sig", testSession("sig", clock.Now().Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, ok, "an expired entry does not block a new one")
}

func TestMemoryStore_ClearAndDelete(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now), WithSweepInterval(0))
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, s.Put(ctx, key, testSession(key, clock.Now().Add(time.Hour))))
	}
	require.NoError(t, s.Delete(ctx, "k0"))
	assert.Equal(t, 4, s.Len())

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_BackgroundSweep(t *testing.T) {
	s := NewMemoryStore(WithSweepInterval(10 * time.Millisecond))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "gone", testSession("gone", time.Now().Add(-time.Second))))

	assert.Eventually(t, func() bool {
		return s.Len() == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore(WithSweepInterval(time.Millisecond))
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("payer-%d", i%4)
			for j := 0; j < 200; j++ {
				_ = s.Put(ctx, key, testSession(key, time.Now().Add(time.Duration(j%3)*time.Millisecond)))
				if sess, err := s.Get(ctx, key); err == nil {
					assert.Equal(t, key, sess.SubjectKey)
				}
			}
		}(i)
	}
	wg.Wait()
}
