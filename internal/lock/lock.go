// Package lock provides per-key in-process locking used by the Sync Agent
// to serialize writes to the same product across concurrent channel pushes.
package lock

import "sync"

type entry struct {
	mu  sync.Mutex
	ref int
}

// KeyedMutex hands out a *sync.Mutex per key, lazily created and reaped
// once its last holder releases it. Keys are tenant-scoped by the caller
// (e.g. "tenantId:productId") so locks never cross tenant boundaries.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Lock blocks until the named key is free, then acquires it. The returned
// func must be called exactly once to release it.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.ref++
	k.mu.Unlock()

	e.mu.Lock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		e.mu.Unlock()

		k.mu.Lock()
		e.ref--
		if e.ref == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

// TryLock attempts to acquire the named key without blocking. Returns the
// release func and true on success, or nil and false if already held.
func (k *KeyedMutex) TryLock(key string) (func(), bool) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	if !e.mu.TryLock() {
		k.mu.Unlock()
		return nil, false
	}
	e.ref++
	k.mu.Unlock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		e.mu.Unlock()

		k.mu.Lock()
		e.ref--
		if e.ref == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}, true
}
