// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package trackedlock provides an implementation of the sync.Mutex interface
// that adds lock hold tracking.
//
// If lock tracking is enabled, the hold time is checked when a lock is
// unlocked.  If it was held longer than "LockHoldTimeLimit" then a warning is
// logged along with the stack traces of the Lock() and Unlock().  In addition,
// a daemon, the trackedlock watcher, periodically checks whether any lock has
// been held too long.  When one has, the daemon logs the goroutine ID and
// stack trace of the goroutine that acquired it.
//
// The config variable "TrackedLock.LockHoldTimeLimit" is the hold time that
// triggers warning messages being logged.  If it is 0 then locks are not
// tracked and the overhead of this package is minimal.
//
// The config variable "TrackedLock.LockCheckPeriod" is how often the daemon
// checks tracked locks.  If it is 0 then no daemon is created and lock hold
// time is checked only when the lock is unlocked.
//
// trackedlock locks can be locked before this package is Up(), but they will
// not be tracked until the first time they are locked after that.
//
package trackedlock

import (
	"sync"
	"sync/atomic"
)

// Mutex is a sync.Mutex whose holds are tracked.  The zero value is an
// unlocked Mutex.
//
type Mutex struct {
	wrappedMutex sync.Mutex // the actual Mutex
	tracker      MutexTrack // tracking information for the Mutex
}

func (m *Mutex) Lock() {
	m.wrappedMutex.Lock()

	m.tracker.lockTrack(m)
}

func (m *Mutex) Unlock() {
	m.tracker.unlockTrack(m)

	m.wrappedMutex.Unlock()
}

// IsLocked reports whether the Mutex is currently held (by any goroutine).
//
// The answer may be stale by the time the caller looks at it.
//
func (m *Mutex) IsLocked() bool {
	return 0 != atomic.LoadInt32(&m.tracker.lockCnt)
}
