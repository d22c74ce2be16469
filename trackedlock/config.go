// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package trackedlock

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/logger"
)

const (
	defaultLockHoldTimeLimit = 40 * time.Second
	defaultLockCheckPeriod   = 20 * time.Second
)

// parseConfMap fetches [TrackedLock] settings; missing options disable tracking
// and non-zero values under one second are replaced with the defaults.
//
func parseConfMap(confMap conf.ConfMap) (lockHoldTimeLimit time.Duration, lockCheckPeriod time.Duration) {
	var (
		err error
	)

	lockHoldTimeLimit, err = confMap.FetchOptionValueDuration("TrackedLock", "LockHoldTimeLimit")
	if nil != err {
		logger.Warnf("config variable 'TrackedLock.LockHoldTimeLimit' defaulting to '0s': %v", err)
		lockHoldTimeLimit = time.Duration(0)
	}
	if (lockHoldTimeLimit < time.Second) && (0 != lockHoldTimeLimit) {
		logger.Warnf("config variable 'TrackedLock.LockHoldTimeLimit' value less then 1 sec; defaulting to '%v'", defaultLockHoldTimeLimit)
		lockHoldTimeLimit = defaultLockHoldTimeLimit
	}

	lockCheckPeriod, err = confMap.FetchOptionValueDuration("TrackedLock", "LockCheckPeriod")
	if nil != err {
		logger.Warnf("config variable 'TrackedLock.LockCheckPeriod' defaulting to '0s': %v", err)
		lockCheckPeriod = time.Duration(0)
	}
	if (lockCheckPeriod < time.Second) && (0 != lockCheckPeriod) {
		logger.Warnf("config variable 'TrackedLock.LockCheckPeriod' value less then 1 sec; defaulting to '%v'", defaultLockCheckPeriod)
		lockCheckPeriod = defaultLockCheckPeriod
	}

	return
}

// Up enables lock tracking per confMap's [TrackedLock] section.  Calling Up()
// again (without Down()) applies any changed settings.
//
func Up(confMap conf.ConfMap) (err error) {
	lockHoldTimeLimit, lockCheckPeriod := parseConfMap(confMap)

	globals.Lock()
	defer globals.Unlock()

	stopLockWatcher()

	logger.Infof("trackedlock.Up(): LockHoldTimeLimit %v  LockCheckPeriod %v", lockHoldTimeLimit, lockCheckPeriod)

	atomic.StoreInt64(&globals.lockHoldTimeLimit, int64(lockHoldTimeLimit))
	atomic.StoreInt64(&globals.lockCheckPeriod, int64(lockCheckPeriod))
	globals.lockWatcherLocksLogged = 16

	globals.mapMutex.Lock()
	if nil == globals.mutexMap {
		globals.mutexMap = make(map[*MutexTrack]*Mutex, 128)
	}
	globals.mapMutex.Unlock()

	if (0 == lockCheckPeriod) || (0 == lockHoldTimeLimit) {
		err = nil
		return
	}

	globals.lockCheckTicker = time.NewTicker(lockCheckPeriod)
	globals.stopChan = make(chan struct{})
	globals.doneChan = make(chan struct{})

	go lockWatcher(globals.lockCheckTicker.C, globals.stopChan, globals.doneChan)

	err = nil
	return
}

// Down disables lock tracking.  Locks held across Down() may be safely unlocked.
//
func Down() (err error) {
	globals.Lock()
	defer globals.Unlock()

	logger.Infof("trackedlock.Down() called")

	stopLockWatcher()

	atomic.StoreInt64(&globals.lockHoldTimeLimit, 0)
	atomic.StoreInt64(&globals.lockCheckPeriod, 0)

	globals.mapMutex.Lock()
	for mt := range globals.mutexMap {
		atomic.StoreInt32(&mt.isWatched, 0)
	}
	globals.mutexMap = nil
	globals.mapMutex.Unlock()

	err = nil
	return
}

// stopLockWatcher is called with globals locked.
//
func stopLockWatcher() {
	if nil == globals.lockCheckTicker {
		return
	}

	globals.lockCheckTicker.Stop()
	globals.lockCheckTicker = nil

	globals.stopChan <- struct{}{}
	<-globals.doneChan
}
