// Package locking serialises work per key, in process or across instances through Redis.
package locking

import (
	"context"
	"errors"
	"sync"
)

// ErrLockTimeout is returned when a lock could not be acquired before the context expired or
// the configured wait elapsed.
var ErrLockTimeout = errors.New("locking: timed out waiting for lock")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires exclusive leases keyed by an arbitrary string.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// KeyedMutex is an in-process Locker. Idle keys are dropped so the map does not grow without bound.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

// Acquire blocks until key is free or ctx is done.
func (m *KeyedMutex) Acquire(ctx context.Context, key string) (Lease, error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return &mutexLease{owner: m, key: key, slot: s}, nil
	case <-ctx.Done():
		m.unref(key, s)
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}
}

func (m *KeyedMutex) unref(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

type mutexLease struct {
	owner *KeyedMutex
	key   string
	slot  *slot
	once  sync.Once
}

func (l *mutexLease) Release(context.Context) error {
	l.once.Do(func() {
		<-l.slot.ch
		l.owner.unref(l.key, l.slot)
	})
	return nil
}
