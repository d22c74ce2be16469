// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/sortedmap"

	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/logger"
)

// RAMDevice keeps, for each device ID, a sortedmap.LLRBTree mapping block
// number to that block's contents.
//
type RAMDevice struct {
	sync.Mutex
	blockSize uint32
	devices   map[uint32]sortedmap.LLRBTree // key: deviceID
}

type ramDeviceDumpCallbacks struct{}

func (dummy *ramDeviceDumpCallbacks) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	blockNumber, ok := key.(uint64)
	if !ok {
		err = fmt.Errorf("RAMDevice key %v not a uint64", key)
		return
	}
	keyAsString = fmt.Sprintf("0x%016X", blockNumber)
	err = nil
	return
}

func (dummy *ramDeviceDumpCallbacks) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	block, ok := value.([]byte)
	if !ok {
		err = fmt.Errorf("RAMDevice value not a []byte")
		return
	}
	if len(block) > 8 {
		valueAsString = fmt.Sprintf("%v...", block[:8])
	} else {
		valueAsString = fmt.Sprintf("%v", block)
	}
	err = nil
	return
}

var ramDeviceCallbacks = &ramDeviceDumpCallbacks{}

func newRAMDevice(blockSize uint32) (ramDevice *RAMDevice, err error) {
	if 0 == blockSize {
		err = blunder.NewError(blunder.InvalidArgError, "RAMDevice blockSize must be non-zero")
		return
	}

	ramDevice = &RAMDevice{
		blockSize: blockSize,
		devices:   make(map[uint32]sortedmap.LLRBTree),
	}

	err = nil
	return
}

func (ramDevice *RAMDevice) BlockSize() uint32 {
	return ramDevice.blockSize
}

func (ramDevice *RAMDevice) Transfer(deviceID uint32, blockNumber uint64, buf []byte, isWrite bool) (err error) {
	var (
		block  []byte
		blocks sortedmap.LLRBTree
		ok     bool
		value  sortedmap.Value
	)

	if uint32(len(buf)) != ramDevice.blockSize {
		err = blunder.NewError(blunder.InvalidArgError, "RAMDevice.Transfer() buf len %d != blockSize %d", len(buf), ramDevice.blockSize)
		return
	}

	ramDevice.Lock()
	defer ramDevice.Unlock()

	blocks, ok = ramDevice.devices[deviceID]

	if !isWrite {
		if ok {
			value, ok, err = blocks.GetByKey(blockNumber)
			if nil != err {
				err = blunder.AddError(err, blunder.IOError)
				return
			}
		}
		if ok {
			copy(buf, value.([]byte))
		} else {
			for i := range buf {
				buf[i] = 0
			}
		}
		err = nil
		return
	}

	if !ok {
		blocks = sortedmap.NewLLRBTree(sortedmap.CompareUint64, ramDeviceCallbacks)
		ramDevice.devices[deviceID] = blocks
		logger.Tracef("RAMDevice created device %d", deviceID)
	}

	block = make([]byte, len(buf))
	copy(block, buf)

	ok, err = blocks.PatchByKey(blockNumber, block)
	if (nil == err) && !ok {
		ok, err = blocks.Put(blockNumber, block)
	}
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}
	if !ok {
		err = blunder.NewError(blunder.IOError, "RAMDevice.Transfer() unable to store block %d:%d", deviceID, blockNumber)
		return
	}

	err = nil
	return
}

// BlockCount returns the number of blocks ever written to deviceID.
//
func (ramDevice *RAMDevice) BlockCount(deviceID uint32) (blockCount int, err error) {
	ramDevice.Lock()
	defer ramDevice.Unlock()

	blocks, ok := ramDevice.devices[deviceID]
	if !ok {
		blockCount = 0
		err = nil
		return
	}

	blockCount, err = blocks.Len()

	return
}

// WrittenBlocks returns, in ascending order, the block numbers written to deviceID.
//
func (ramDevice *RAMDevice) WrittenBlocks(deviceID uint32) (blockNumbers []uint64, err error) {
	ramDevice.Lock()
	defer ramDevice.Unlock()

	blocks, ok := ramDevice.devices[deviceID]
	if !ok {
		blockNumbers = []uint64{}
		err = nil
		return
	}

	numBlocks, err := blocks.Len()
	if nil != err {
		return
	}

	blockNumbers = make([]uint64, 0, numBlocks)

	for index := 0; index < numBlocks; index++ {
		key, _, ok, getErr := blocks.GetByIndex(index)
		if nil != getErr {
			err = getErr
			return
		}
		if !ok {
			err = blunder.NewError(blunder.IOError, "RAMDevice device %d index %d vanished", deviceID, index)
			return
		}
		blockNumbers = append(blockNumbers, key.(uint64))
	}

	err = nil
	return
}

// DumpBlock returns a printable rendition of deviceID's blockNumber as stored.
//
func (ramDevice *RAMDevice) DumpBlock(deviceID uint32, blockNumber uint64) (dump string, err error) {
	ramDevice.Lock()
	defer ramDevice.Unlock()

	keyAsString, err := ramDeviceCallbacks.DumpKey(blockNumber)
	if nil != err {
		return
	}

	blocks, ok := ramDevice.devices[deviceID]
	if !ok {
		dump = fmt.Sprintf("%d:%s <unwritten>", deviceID, keyAsString)
		return
	}

	value, ok, err := blocks.GetByKey(blockNumber)
	if nil != err {
		return
	}
	if !ok {
		dump = fmt.Sprintf("%d:%s <unwritten>", deviceID, keyAsString)
		return
	}

	valueAsString, err := ramDeviceCallbacks.DumpValue(value)
	if nil != err {
		return
	}

	dump = fmt.Sprintf("%d:%s %s", deviceID, keyAsString, valueAsString)

	return
}
