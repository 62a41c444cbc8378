package tradelock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireTwiceThenRelease(t *testing.T) {
	l := New()

	first := l.Acquire("round-1")
	require.True(t, first.Acquired)
	require.NotEmpty(t, first.LockID)

	second := l.Acquire("round-2")
	assert.False(t, second.Acquired)
	require.NotNil(t, second.Existing)
	assert.Equal(t, first.LockID, second.Existing.LockID)
	assert.Equal(t, "round-1", second.Existing.Holder)

	assert.True(t, l.Release(first.LockID))
	third := l.Acquire("round-3")
	assert.True(t, third.Acquired)
	assert.NotEqual(t, first.LockID, third.LockID)
}

func TestReleaseWithStaleIDIsNoop(t *testing.T) {
	l := New()
	acq := l.Acquire("round-1")

	assert.False(t, l.Release("not-the-holder"))
	assert.True(t, l.Status().Locked)
	assert.True(t, l.Release(acq.LockID))
	assert.False(t, l.Release(acq.LockID))
}

func TestForceRelease(t *testing.T) {
	l := New()
	assert.False(t, l.ForceRelease())
	l.Acquire("wedged")
	assert.True(t, l.ForceRelease())
	assert.False(t, l.Status().Locked)
}

func TestExpiredLockIsReclaimed(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	l := New(WithTTL(time.Minute), WithClock(func() time.Time { return now }))

	crashed := l.Acquire("crashed-round")
	require.True(t, crashed.Acquired)
	st := l.Status()
	require.True(t, st.Locked)
	assert.Equal(t, now.Add(time.Minute), st.Lock.ExpiresAt)

	now = now.Add(time.Minute)
	assert.False(t, l.Status().Locked)

	next := l.Acquire("next-round")
	require.True(t, next.Acquired)
	assert.False(t, l.Release(crashed.LockID), "stale holder cannot release the new lock")
	assert.True(t, l.Status().Locked)
}

func TestWithLock_ReleasesOnSuccessAndError(t *testing.T) {
	l := New()

	out, err := WithLock(context.Background(), l, "ok-round", func(context.Context) (int, error) {
		assert.True(t, l.Status().Locked)
		return 7, nil
	})
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Equal(t, 7, out.Result)
	assert.False(t, l.Status().Locked)

	boom := errors.New("executor down")
	_, err = WithLock(context.Background(), l, "bad-round", func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, l.Status().Locked)
}

func TestWithLock_ReleasesOnPanic(t *testing.T) {
	l := New()
	assert.Panics(t, func() {
		_, _ = WithLock(context.Background(), l, "panicky", func(context.Context) (struct{}, error) {
			panic("agent exploded")
		})
	})
	assert.False(t, l.Status().Locked)
}

func TestWithLock_SkipsWhenBusy(t *testing.T) {
	l := New()
	held := l.Acquire("long-round")

	called := false
	out, err := WithLock(context.Background(), l, "overlap", func(context.Context) (string, error) {
		called = true
		return "ran", nil
	})
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.False(t, called)
	require.NotNil(t, out.Existing)
	assert.Equal(t, held.LockID, out.Existing.LockID)
	assert.True(t, l.Status().Locked, "skipped caller must not release the holder's lock")
}

func TestWithLock_ConcurrentRoundsNeverOverlap(t *testing.T) {
	l := New()
	var (
		inFlight int32
		maxSeen  int32
		ran      int32
		wg       sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := WithLock(context.Background(), l, "round", func(context.Context) (bool, error) {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					m := atomic.LoadInt32(&maxSeen)
					if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return true, nil
			})
			assert.NoError(t, err)
			if !out.Skipped {
				atomic.AddInt32(&ran, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&ran), int32(1))
}
