// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package sleeplock provides a long-term lock that blocks (rather than spins)
// its waiters and records which goroutine holds it.
//
// A Mutex may be held across blocking operations (such as device I/O).
// Only the holding goroutine may Unlock() it.
//
package sleeplock

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/utils"
)

// Mutex must be initialized with Init() (or created with New()) before use.
//
type Mutex struct {
	c      chan struct{} // a Lock() writes a struct{} to c; an Unlock() reads it back
	holder uint64        // (atomic) goroutine ID of the holder, 0 if unheld
	name   string
}

func New(name string) (lock *Mutex) {
	lock = &Mutex{}
	lock.Init(name)
	return
}

// Init makes lock ready for use.  It must not be called on a lock in use.
//
func (lock *Mutex) Init(name string) {
	lock.c = make(chan struct{}, 1) // since there is space for one struct{}, lock is initially available
	lock.name = name
	atomic.StoreUint64(&lock.holder, 0)
}

func (lock *Mutex) Name() string {
	return lock.name
}

// Lock blocks until the lock is acquired.
//
func (lock *Mutex) Lock() {
	goId := utils.GetGoId()

	if goId == atomic.LoadUint64(&lock.holder) {
		err := blunder.NewError(blunder.InvalidArgError, "sleeplock %s already held by goroutine %d", lock.name, goId)
		logger.PanicfWithError(err, "Mutex.Lock() would self-deadlock")
	}

	lock.c <- struct{}{}

	atomic.StoreUint64(&lock.holder, goId)
}

// TryLock acquires the lock unless timeout expires first.
//
func (lock *Mutex) TryLock(timeout time.Duration) (gotIt bool) {
	timer := time.NewTimer(timeout)

	select {
	case lock.c <- struct{}{}:
		timer.Stop()
		atomic.StoreUint64(&lock.holder, utils.GetGoId())
		gotIt = true
	case <-timer.C:
		gotIt = false
	}

	return
}

// Unlock releases the lock.  It is fatal for a goroutine other than the holder to call it.
//
func (lock *Mutex) Unlock() {
	goId := utils.GetGoId()
	holder := atomic.LoadUint64(&lock.holder)

	if goId != holder {
		err := blunder.NewError(blunder.NotPermError, "sleeplock %s held by goroutine %d", lock.name, holder)
		logger.PanicfWithError(err, "Mutex.Unlock() called by non-holder goroutine %d", goId)
	}

	atomic.StoreUint64(&lock.holder, 0)

	<-lock.c
}

// Holding reports whether the calling goroutine holds the lock.
//
func (lock *Mutex) Holding() bool {
	return utils.GetGoId() == atomic.LoadUint64(&lock.holder)
}
