package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	token, ok, err := l.Acquire(ctx, "foo.example.com", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = l.Acquire(ctx, "foo.example.com", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire of a held key must fail")

	// A different key is independent.
	_, ok, err = l.Acquire(ctx, "bar.example.com", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLockerRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	token, ok, _ := l.Acquire(ctx, "foo.example.com", time.Minute)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "foo.example.com", token))

	_, ok, _ = l.Acquire(ctx, "foo.example.com", time.Minute)
	assert.True(t, ok, "released key must be acquirable again")
}

func TestMemoryLockerReleaseWrongTokenKeepsLock(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	token, ok, _ := l.Acquire(ctx, "foo.example.com", time.Minute)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "foo.example.com", "not-"+token))

	_, ok, _ = l.Acquire(ctx, "foo.example.com", time.Minute)
	assert.False(t, ok, "release with a mismatched token must not free the lock")
}

func TestMemoryLockerStaleReleaseAfterReacquire(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	now := time.Now()
	l.now = func() time.Time { return now }

	// First holder's lock expires while it is still working.
	staleToken, ok, _ := l.Acquire(ctx, "foo.example.com", 55*time.Second)
	require.True(t, ok)
	now = now.Add(time.Minute)

	newToken, ok, _ := l.Acquire(ctx, "foo.example.com", 55*time.Second)
	require.True(t, ok, "expired lock must be acquirable")

	// The first holder's deferred release fires late: the current holder
	// must keep the lock.
	require.NoError(t, l.Release(ctx, "foo.example.com", staleToken))
	_, ok, _ = l.Acquire(ctx, "foo.example.com", 55*time.Second)
	assert.False(t, ok, "stale release must not free the new holder's lock")

	require.NoError(t, l.Release(ctx, "foo.example.com", newToken))
	_, ok, _ = l.Acquire(ctx, "foo.example.com", 55*time.Second)
	assert.True(t, ok)
}

func TestMemoryLockerTTLExpiry(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	now := time.Now()
	l.now = func() time.Time { return now }

	_, ok, _ := l.Acquire(ctx, "foo.example.com", 55*time.Second)
	require.True(t, ok)

	now = now.Add(54 * time.Second)
	_, ok, _ = l.Acquire(ctx, "foo.example.com", 55*time.Second)
	assert.False(t, ok, "lock still held before TTL")

	now = now.Add(2 * time.Second)
	_, ok, _ = l.Acquire(ctx, "foo.example.com", 55*time.Second)
	assert.True(t, ok, "expired lock must be acquirable")
}

func TestMemoryLockerSingleWinner(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	const contenders = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := l.Acquire(ctx, "contested.example.com", time.Minute)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one contender may win")
}
