// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"encoding/binary"

	"github.com/creachadair/cityhash"

	"github.com/NVIDIA/blockcache/blunder"
)

// A stamped block starts with
//
//   deviceID    uint32
//   blockNumber uint64
//   generation  uint64
//   hash        uint64  cityhash64 of the rest of the block
//
// (little endian) followed by a payload derived from generation.  An all-zero
// block is an unstamped one, i.e. generation 0.
//
const (
	stampDeviceIDOffset    = 0
	stampBlockNumberOffset = 4
	stampGenerationOffset  = 12
	stampHashOffset        = 20
	StampHeaderSize        = 28
)

func fillStampPayload(payload []byte, generation uint64) {
	for i := range payload {
		payload[i] = byte(generation*31 + uint64(i))
	}
}

// StampBlock overwrites buf with generation's stamp for (deviceID, blockNumber).
//
func StampBlock(buf []byte, deviceID uint32, blockNumber uint64, generation uint64) (err error) {
	if len(buf) <= StampHeaderSize {
		err = blunder.NewError(blunder.InvalidArgError, "block of %d bytes too small to stamp", len(buf))
		return
	}

	payload := buf[StampHeaderSize:]
	fillStampPayload(payload, generation)

	binary.LittleEndian.PutUint32(buf[stampDeviceIDOffset:], deviceID)
	binary.LittleEndian.PutUint64(buf[stampBlockNumberOffset:], blockNumber)
	binary.LittleEndian.PutUint64(buf[stampGenerationOffset:], generation)
	binary.LittleEndian.PutUint64(buf[stampHashOffset:], cityhash.Hash64(payload))

	err = nil
	return
}

// CheckStamp verifies buf holds a stamp (or nothing) for (deviceID, blockNumber)
// and returns its generation.
//
func CheckStamp(buf []byte, deviceID uint32, blockNumber uint64) (generation uint64, err error) {
	var (
		hash         uint64
		isZero       bool
		stampedBlock uint64
		stampedID    uint32
	)

	if len(buf) <= StampHeaderSize {
		err = blunder.NewError(blunder.InvalidArgError, "block of %d bytes too small to hold a stamp", len(buf))
		return
	}

	isZero = true
	for _, b := range buf {
		if 0 != b {
			isZero = false
			break
		}
	}
	if isZero {
		generation = 0
		err = nil
		return
	}

	stampedID = binary.LittleEndian.Uint32(buf[stampDeviceIDOffset:])
	stampedBlock = binary.LittleEndian.Uint64(buf[stampBlockNumberOffset:])
	generation = binary.LittleEndian.Uint64(buf[stampGenerationOffset:])
	hash = binary.LittleEndian.Uint64(buf[stampHashOffset:])

	if (stampedID != deviceID) || (stampedBlock != blockNumber) {
		err = blunder.NewError(blunder.CorruptImageError, "block %d:%d holds stamp of block %d:%d", deviceID, blockNumber, stampedID, stampedBlock)
		return
	}
	if hash != cityhash.Hash64(buf[StampHeaderSize:]) {
		err = blunder.NewError(blunder.CorruptImageError, "block %d:%d generation %d payload hash mismatch", deviceID, blockNumber, generation)
		return
	}

	err = nil
	return
}
