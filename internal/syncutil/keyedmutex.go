// Package syncutil holds small concurrency helpers.
package syncutil

import (
	"context"
	"strings"
	"sync"
)

// KeyedMutex serializes work per key, typically per signing account, and
// lets waiters give up when their context ends. Keys are case-insensitive
// so checksummed and lowercase addresses share one lock.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]chan struct{})}
}

func (m *KeyedMutex) slot(key string) chan struct{} {
	key = strings.ToLower(key)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]chan struct{})
	}
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		m.locks[key] = ch
	}
	return ch
}

// Lock acquires the lock for key. On success the caller must call the
// returned unlock exactly once. If ctx ends first, Lock returns ctx.Err().
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	ch := m.slot(key)
	select {
	case <-ch:
		var once sync.Once
		return func() { once.Do(func() { ch <- struct{}{} }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
