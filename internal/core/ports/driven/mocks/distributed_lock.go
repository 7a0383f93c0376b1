package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockDistributedLock tracks duty locks in memory with real TTL expiry, so
// maintenance tests can exercise lock contention without a backend.
type MockDistributedLock struct {
	mu    sync.Mutex
	locks map[string]lockEntry

	AcquireFn func(name string, ttl time.Duration) (bool, error)
	ReleaseFn func(name string) error
	ExtendFn  func(name string, ttl time.Duration) error
	PingFn    func() error
}

type lockEntry struct {
	holder string
	expiry time.Time
}

// NewMockDistributedLock creates an empty in-memory lock table.
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{
		locks: make(map[string]lockEntry),
	}
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, held := m.locks[name]; held && time.Now().Before(entry.expiry) {
		return false, nil
	}
	m.locks[name] = lockEntry{
		holder: "test-holder",
		expiry: time.Now().Add(ttl),
	}
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	if m.ReleaseFn != nil {
		return m.ReleaseFn(name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, name)
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	if m.ExtendFn != nil {
		return m.ExtendFn(name, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, held := m.locks[name]
	if !held || time.Now().After(entry.expiry) {
		return fmt.Errorf("lock %s not held", name)
	}
	entry.expiry = time.Now().Add(ttl)
	m.locks[name] = entry
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// Reset drops every lock.
func (m *MockDistributedLock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks = make(map[string]lockEntry)
}

// IsHeld reports whether a live lock exists, for assertions.
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, held := m.locks[name]
	return held && time.Now().Before(entry.expiry)
}

// SetLockHeld plants a foreign lock, simulating another instance holding
// the duty.
func (m *MockDistributedLock) SetLockHeld(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.locks[name] = lockEntry{
		holder: "other-instance",
		expiry: time.Now().Add(ttl),
	}
}
