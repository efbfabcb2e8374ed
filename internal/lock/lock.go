// Package lock provides TTL-bounded mutual exclusion keyed by arbitrary
// strings (full domain names, advisory scheduler keys). Locks self-expire so
// a crashed holder can never deadlock a name forever.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teris-io/shortid"
)

// Locker grants exclusive, time-bounded leases on a key. Acquire returns a
// holder token and ok=false (not an error) when the key is already held.
// Release only frees the key while the given token still holds it: a holder
// that outlived its TTL cannot release the lock out from under whoever
// acquired it since. There is no fairness: callers that lose should retry
// later.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

type memoryLease struct {
	token    string
	deadline time.Time
}

// MemoryLocker is a process-local Locker for single-instance deployments and
// tests.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]memoryLease),
		now:    time.Now,
	}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token, err := shortid.Generate()
	if err != nil {
		return "", false, fmt.Errorf("generate lock token: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if lease, held := m.leases[key]; held && now.Before(lease.deadline) {
		return "", false, nil
	}
	m.leases[key] = memoryLease{token: token, deadline: now.Add(ttl)}
	return token, true, nil
}

func (m *MemoryLocker) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lease, held := m.leases[key]; held && lease.token == token {
		delete(m.leases, key)
	}
	return nil
}
