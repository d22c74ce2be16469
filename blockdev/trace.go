// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"sync"
	"time"

	"github.com/google/btree"
)

const traceBTreeDegree = 32

// traceItem counts the transfers of one block.  Items are ordered by BlockID.
//
type traceItem struct {
	BlockID
	reads  uint64
	writes uint64
}

func (item *traceItem) Less(than btree.Item) bool {
	other := than.(*traceItem)
	if item.DeviceID != other.DeviceID {
		return item.DeviceID < other.DeviceID
	}
	return item.BlockNumber < other.BlockNumber
}

// TraceDevice forwards transfers to another Device and counts them.
//
type TraceDevice struct {
	sync.Mutex
	inner       Device
	delay       time.Duration
	items       *btree.BTree
	totalReads  uint64
	totalWrites uint64
}

func newTraceDevice(inner Device, delay time.Duration) (traceDevice *TraceDevice) {
	traceDevice = &TraceDevice{
		inner: inner,
		delay: delay,
		items: btree.New(traceBTreeDegree),
	}
	return
}

func (traceDevice *TraceDevice) BlockSize() uint32 {
	return traceDevice.inner.BlockSize()
}

func (traceDevice *TraceDevice) Transfer(deviceID uint32, blockNumber uint64, buf []byte, isWrite bool) (err error) {
	if 0 != traceDevice.delay {
		time.Sleep(traceDevice.delay)
	}

	err = traceDevice.inner.Transfer(deviceID, blockNumber, buf, isWrite)
	if nil != err {
		return
	}

	traceDevice.Lock()

	key := &traceItem{BlockID: BlockID{DeviceID: deviceID, BlockNumber: blockNumber}}
	item := traceDevice.items.Get(key)
	if nil == item {
		traceDevice.items.ReplaceOrInsert(key)
		item = key
	}

	if isWrite {
		item.(*traceItem).writes++
		traceDevice.totalWrites++
	} else {
		item.(*traceItem).reads++
		traceDevice.totalReads++
	}

	traceDevice.Unlock()

	return
}

func (traceDevice *TraceDevice) lookup(deviceID uint32, blockNumber uint64) (item *traceItem) {
	found := traceDevice.items.Get(&traceItem{BlockID: BlockID{DeviceID: deviceID, BlockNumber: blockNumber}})
	if nil != found {
		item = found.(*traceItem)
	}
	return
}

// Reads returns the number of successful reads of the block.
//
func (traceDevice *TraceDevice) Reads(deviceID uint32, blockNumber uint64) (reads uint64) {
	traceDevice.Lock()
	if item := traceDevice.lookup(deviceID, blockNumber); nil != item {
		reads = item.reads
	}
	traceDevice.Unlock()
	return
}

// Writes returns the number of successful writes of the block.
//
func (traceDevice *TraceDevice) Writes(deviceID uint32, blockNumber uint64) (writes uint64) {
	traceDevice.Lock()
	if item := traceDevice.lookup(deviceID, blockNumber); nil != item {
		writes = item.writes
	}
	traceDevice.Unlock()
	return
}

func (traceDevice *TraceDevice) TotalReads() (totalReads uint64) {
	traceDevice.Lock()
	totalReads = traceDevice.totalReads
	traceDevice.Unlock()
	return
}

func (traceDevice *TraceDevice) TotalWrites() (totalWrites uint64) {
	traceDevice.Lock()
	totalWrites = traceDevice.totalWrites
	traceDevice.Unlock()
	return
}

// Blocks returns every block transferred, in ascending BlockID order.
//
func (traceDevice *TraceDevice) Blocks() (blockIDs []BlockID) {
	traceDevice.Lock()
	defer traceDevice.Unlock()

	blockIDs = make([]BlockID, 0, traceDevice.items.Len())

	traceDevice.items.Ascend(func(item btree.Item) bool {
		blockIDs = append(blockIDs, item.(*traceItem).BlockID)
		return true
	})

	return
}

// Reset discards all counts.
//
func (traceDevice *TraceDevice) Reset() {
	traceDevice.Lock()
	traceDevice.items.Clear(false)
	traceDevice.totalReads = 0
	traceDevice.totalWrites = 0
	traceDevice.Unlock()
}
