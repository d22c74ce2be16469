// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package trackedlock

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/utils"
)

type globalsStruct struct {
	sync.Mutex                                      // protects the fields below, except mutexMap
	mapMutex               sync.Mutex               // protects mutexMap
	mutexMap               map[*MutexTrack]*Mutex   // the locks being watched
	lockHoldTimeLimit      int64                    // (atomic) nanoseconds; locks held longer then this get logged
	lockCheckPeriod        int64                    // (atomic) nanoseconds; check locks once each period
	lockWatcherLocksLogged int                      // max overlimit locks logged by lockWatcher()
	lockCheckTicker        *time.Ticker             // ticker for lock check time
	stopChan               chan struct{}            // time to shutdown and go home
	doneChan               chan struct{}            // shutdown complete
}

var globals globalsStruct

func holdTimeLimit() time.Duration {
	return time.Duration(atomic.LoadInt64(&globals.lockHoldTimeLimit))
}

func checkPeriod() time.Duration {
	return time.Duration(atomic.LoadInt64(&globals.lockCheckPeriod))
}

// stackTraceObj holds the stack trace of one goroutine.  stackTraceBuf is the
// storage required to hold one stack trace. We keep a pool of them around.
//
type stackTraceObj struct {
	stackTrace    []byte     // stack trace of current or last locker
	stackTraceBuf [4040]byte // storage for stack trace slice
}

var stackTraceObjPool = sync.Pool{
	New: func() interface{} {
		return &stackTraceObj{}
	},
}

// MutexTrack holds the tracking state of a Mutex.
//
type MutexTrack struct {
	lockCnt    int32          // (atomic) 0 if unlocked, -1 if locked
	isWatched  int32          // (atomic) 1 if lock is in globals.mutexMap
	lockTime   int64          // (atomic) UnixNano when last lock operation completed
	stackLock  sync.Mutex     // protects lockerGoId and lockStack
	lockerGoId uint64         // goroutine ID of the last locker
	lockStack  *stackTraceObj // stack trace when object was last locked
}

func (mt *MutexTrack) lockedAt() time.Time {
	return time.Unix(0, atomic.LoadInt64(&mt.lockTime))
}

// lockTrack is called with the wrapped mutex held.
//
func (mt *MutexTrack) lockTrack(wrappedLock *Mutex) {
	var (
		lockStack *stackTraceObj
		oldStack  *stackTraceObj
	)

	// if lock tracking is disabled, just record the lock time
	if 0 == holdTimeLimit() {
		atomic.StoreInt64(&mt.lockTime, time.Now().UnixNano())
		atomic.StoreInt32(&mt.lockCnt, -1)
		return
	}

	lockStack = stackTraceObjPool.Get().(*stackTraceObj)
	lockStack.stackTrace = lockStack.stackTraceBuf[:runtime.Stack(lockStack.stackTraceBuf[:], false)]

	mt.stackLock.Lock()
	oldStack = mt.lockStack
	mt.lockStack = lockStack
	mt.lockerGoId = utils.StackTraceToGoId(lockStack.stackTrace)
	mt.stackLock.Unlock()

	if nil != oldStack {
		stackTraceObjPool.Put(oldStack)
	}

	atomic.StoreInt64(&mt.lockTime, time.Now().UnixNano())
	atomic.StoreInt32(&mt.lockCnt, -1)

	// add to the list of watched mutexes if anybody is watching
	if (0 != checkPeriod()) && atomic.CompareAndSwapInt32(&mt.isWatched, 0, 1) {
		globals.mapMutex.Lock()
		if nil != globals.mutexMap {
			globals.mutexMap[mt] = wrappedLock
		}
		globals.mapMutex.Unlock()
	}
}

// unlockTrack is called with the wrapped mutex still held.
//
func (mt *MutexTrack) unlockTrack(wrappedLock *Mutex) {
	var (
		limit     time.Duration
		lockStack *stackTraceObj
		lockStr   string
		now       time.Time
		unlockBuf [4040]byte
	)

	limit = holdTimeLimit()

	if 0 != limit {
		now = time.Now()
		if now.Sub(mt.lockedAt()) >= limit {
			// lockStack is absent if the lock was taken before tracking was enabled
			lockStr = "goroutine 9999 [unknown]\nlocked before lock tracking enabled\n"
			mt.stackLock.Lock()
			if nil != mt.lockStack {
				lockStr = string(mt.lockStack.stackTrace)
			}
			mt.stackLock.Unlock()

			logger.Warnf("Unlock(): %T at %p locked for %f sec; stack at call to Lock():\n%s stack at Unlock():\n%s",
				wrappedLock, wrappedLock, float64(now.Sub(mt.lockedAt()))/float64(time.Second),
				lockStr, string(unlockBuf[:runtime.Stack(unlockBuf[:], false)]))
		}
	}

	atomic.StoreInt32(&mt.lockCnt, 0)

	mt.stackLock.Lock()
	lockStack = mt.lockStack
	mt.lockStack = nil
	mt.stackLock.Unlock()

	if nil != lockStack {
		stackTraceObjPool.Put(lockStack)
	}
}

// longLockHolder is information about a lock that is held too long
//
type longLockHolder struct {
	lockPtr      *Mutex    // pointer to the actual lock
	lockTime     time.Time // time last lock operation completed
	lockerGoId   uint64    // goroutine ID of the last locker
	lockStackStr string    // stack trace when the object was locked
}

// recordLongLockHolder records a lock that has been held too long.
//
// longLockHolders is a slice containing longLockHolder information for up to
// globals.lockWatcherLocksLogged locks, sorted from longest to shortest held.
// Add newHolder to the slice, potentially discarding the lock that has been
// held least long.
//
func recordLongLockHolder(longLockHolders []*longLockHolder, newHolder *longLockHolder) []*longLockHolder {
	// if there's room append the new entry, else overwrite the youngest lock holder
	if len(longLockHolders) < globals.lockWatcherLocksLogged {
		longLockHolders = append(longLockHolders, newHolder)
	} else {
		longLockHolders[len(longLockHolders)-1] = newHolder
	}

	// the new entry may not be the shortest lock holder; resort the list
	for i := len(longLockHolders) - 2; i >= 0; i-- {
		if longLockHolders[i].lockTime.Before(longLockHolders[i+1].lockTime) {
			break
		}
		longLockHolders[i], longLockHolders[i+1] = longLockHolders[i+1], longLockHolders[i]
	}

	return longLockHolders
}

// checkLocks finds the locks held longer than the limit, longest first.
//
func checkLocks(now time.Time) (longLockHolders []*longLockHolder) {
	var (
		longestDuration = holdTimeLimit()
	)

	longLockHolders = make([]*longLockHolder, 0)

	globals.mapMutex.Lock()
	defer globals.mapMutex.Unlock()

	for mt, lockPtr := range globals.mutexMap {
		// If the lock is not locked then skip it; if it has been idle
		// for the lockCheckPeriod then drop it from the locks being
		// watched.
		if 0 == atomic.LoadInt32(&mt.lockCnt) {
			if now.Sub(mt.lockedAt()) >= checkPeriod() {
				atomic.StoreInt32(&mt.isWatched, 0)
				delete(globals.mutexMap, mt)
			}
			continue
		}

		lockedDuration := now.Sub(mt.lockedAt())
		if lockedDuration <= longestDuration {
			continue
		}

		longHolder := &longLockHolder{
			lockPtr:  lockPtr,
			lockTime: mt.lockedAt(),
		}
		mt.stackLock.Lock()
		longHolder.lockerGoId = mt.lockerGoId
		if nil != mt.lockStack {
			longHolder.lockStackStr = string(mt.lockStack.stackTrace)
		}
		mt.stackLock.Unlock()

		longLockHolders = recordLongLockHolder(longLockHolders, longHolder)

		// once we've hit the maximum number of locks bump longestDuration
		if len(longLockHolders) == globals.lockWatcherLocksLogged {
			longestDuration = now.Sub(longLockHolders[len(longLockHolders)-1].lockTime)
		}
	}

	return
}

// lockWatcher periodically checks for locks that have been held too long.
//
func lockWatcher(lockCheckChan <-chan time.Time, stopChan <-chan struct{}, doneChan chan<- struct{}) {
	for shutdown := false; !shutdown; {
		select {
		case <-stopChan:
			shutdown = true
			logger.Infof("trackedlock lock watcher shutting down")
			// fall through and perform one last check
		case <-lockCheckChan:
			// fall through and perform checks
		}

		now := time.Now()

		// log a Warning for each lock that has been held too long,
		// from longest to shortest
		for i, holder := range checkLocks(now) {
			logger.Warnf("trackedlock watcher: %T at %p locked for %f sec rank %d by goroutine %d; stack at call to Lock():\n%s",
				holder.lockPtr, holder.lockPtr,
				float64(now.Sub(holder.lockTime))/float64(time.Second), i,
				holder.lockerGoId, holder.lockStackStr)
		}
	}

	doneChan <- struct{}{}
}
