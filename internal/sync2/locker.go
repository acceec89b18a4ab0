// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sync2 provides synchronization helpers used by the sync
// engine.
package sync2

import "sync"

// Locker provides mutual exclusion per string key. It enforces the
// at-most-one-writer-per-key discipline for asset transfers and index
// document updates within a single process.
type Locker struct {
	mu   sync.Mutex
	held map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key, blocking until it is available, and
// returns the matching unlock function.
func (locker *Locker) Lock(key string) (unlock func()) {
	locker.mu.Lock()
	if locker.held == nil {
		locker.held = map[string]*keyLock{}
	}
	lock, ok := locker.held[key]
	if !ok {
		lock = &keyLock{}
		locker.held[key] = lock
	}
	lock.refs++
	locker.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		locker.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(locker.held, key)
		}
		locker.mu.Unlock()
	}
}
