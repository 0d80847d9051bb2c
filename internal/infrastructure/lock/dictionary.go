// Package lock provides a keyed mutual-exclusion dictionary. Locking one key
// never blocks another, and entries are dropped once nobody holds or waits
// for them.
package lock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Release unlocks a key. Calling it more than once is a no-op.
type Release func()

type entry struct {
	sem  *semaphore.Weighted
	refs int // holders plus waiters
}

// Dictionary maps keys to reference-counted locks.
type Dictionary struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewDictionary creates an empty lock dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{entries: make(map[string]*entry)}
}

// Lock blocks until key is acquired.
func (d *Dictionary) Lock(key string) Release {
	release, _ := d.LockContext(context.Background(), key)
	return release
}

// LockContext waits for key until it is acquired or ctx is done. On error no
// lock is held and the returned Release is nil.
func (d *Dictionary) LockContext(ctx context.Context, key string) (Release, error) {
	e := d.acquireEntry(key)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		d.releaseEntry(key, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			d.releaseEntry(key, e)
		})
	}, nil
}

// TryLock acquires key only if it is free.
func (d *Dictionary) TryLock(key string) (Release, bool) {
	e := d.acquireEntry(key)
	if !e.sem.TryAcquire(1) {
		d.releaseEntry(key, e)
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			d.releaseEntry(key, e)
		})
	}, true
}

// IsLocked reports whether key is currently held.
func (d *Dictionary) IsLocked(key string) bool {
	d.mu.Lock()
	e, ok := d.entries[key]
	d.mu.Unlock()
	if !ok {
		return false
	}
	if e.sem.TryAcquire(1) {
		e.sem.Release(1)
		return false
	}
	return true
}

// Len returns the number of live entries.
func (d *Dictionary) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *Dictionary) acquireEntry(key string) *entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		d.entries[key] = e
	}
	e.refs++
	return e
}

func (d *Dictionary) releaseEntry(key string, e *entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(d.entries, key)
	}
}
