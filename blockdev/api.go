// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blockdev provides the block storage devices beneath the buffer cache.
//
// A Device reads or writes exactly one fixed-size block per Transfer() call,
// synchronously, possibly blocking the calling goroutine.  Three Devices are
// provided:
//
//   RAMDevice    - blocks held in memory, one sorted map per device ID
//   FileDevice   - a single device ID backed by a formatted image file
//   TraceDevice  - wraps another Device, counting transfers per block
//
package blockdev

import (
	"fmt"
	"time"
)

// Device is the interface to a block storage device.
//
// Transfer requires len(buf) == BlockSize().  When isWrite is false, buf is
// filled from the device; otherwise buf is written to it.
//
type Device interface {
	BlockSize() uint32
	Transfer(deviceID uint32, blockNumber uint64, buf []byte, isWrite bool) (err error)
}

// BlockID identifies a block across devices.
//
type BlockID struct {
	DeviceID    uint32
	BlockNumber uint64
}

func (blockID BlockID) String() string {
	return fmt.Sprintf("%d:%d", blockID.DeviceID, blockID.BlockNumber)
}

// NewRAMDevice returns a RAMDevice accepting any device ID.  Blocks never
// written read as zeros.
//
func NewRAMDevice(blockSize uint32) (ramDevice *RAMDevice, err error) {
	ramDevice, err = newRAMDevice(blockSize)
	return
}

// CreateFileDevice formats the file at path as an image of numBlocks blocks
// for deviceID and returns it opened.  Any existing file is truncated.
//
func CreateFileDevice(path string, deviceID uint32, blockSize uint32, numBlocks uint64) (fileDevice *FileDevice, err error) {
	fileDevice, err = createFileDevice(path, deviceID, blockSize, numBlocks)
	return
}

// OpenFileDevice opens an image previously formatted by CreateFileDevice.
//
func OpenFileDevice(path string) (fileDevice *FileDevice, err error) {
	fileDevice, err = openFileDevice(path)
	return
}

// NewTraceDevice returns a Device that forwards each Transfer to inner after
// sleeping delay (if non-zero), counting successful transfers per block.
//
func NewTraceDevice(inner Device, delay time.Duration) (traceDevice *TraceDevice) {
	traceDevice = newTraceDevice(inner, delay)
	return
}
