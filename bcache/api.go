// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package bcache implements a sharded cache of fixed-size device blocks.
//
// A Cache owns a fixed set of Buffers, each holding one block.  Buffers are
// spread across shards, each shard guarded by its own lock and keeping its
// Buffers on a circular LRU list.  A block's home shard is its block number
// modulo the number of shards.  A miss recycles the least recently released
// free Buffer of the home shard or, failing that, steals one from another
// shard.
//
// Callers check Buffers out with Read(), which returns the Buffer with its
// item lock held.  The holder may Write() it through to the device and must
// eventually Release() it.  Pin() and Unpin() hold a reference without the
// item lock, keeping the Buffer from being recycled.
//
// Running out of free Buffers, breaking the item lock discipline, and device
// errors are fatal: they are logged and then panic.
//
package bcache

import (
	"github.com/NVIDIA/blockcache/blockdev"
	"github.com/NVIDIA/blockcache/sleeplock"
	"github.com/NVIDIA/blockcache/trackedlock"
)

// Buffer is a cached copy of one device block.
//
// Identity and refCount are protected by the lock of the shard holding the
// Buffer.  data and the valid transition are protected by itemLock.
//
type Buffer struct {
	index       int // position in Cache.buffers and Cache.nodes
	hasIdentity bool
	deviceID    uint32
	blockNumber uint64
	valid       bool
	refCount    int32
	data        []byte
	itemLock    sleeplock.Mutex
}

// Data returns the block contents.  It may only be used while holding the
// Buffer, i.e. between Read() and Release().
//
func (buffer *Buffer) Data() []byte {
	return buffer.data
}

func (buffer *Buffer) DeviceID() uint32 {
	return buffer.deviceID
}

func (buffer *Buffer) BlockNumber() uint64 {
	return buffer.blockNumber
}

// Valid reports whether data reflects the block's device contents.
//
func (buffer *Buffer) Valid() bool {
	return buffer.valid
}

// Holding reports whether the calling goroutine holds buffer's item lock.
//
func (buffer *Buffer) Holding() bool {
	return buffer.itemLock.Holding()
}

// cacheNode links a Buffer (or, beyond the Buffers, a shard's sentinel) into
// a circular list.  prev and next are indices into Cache.nodes.
//
type cacheNode struct {
	prev int
	next int
}

type shardStruct struct {
	trackedlock.Mutex
	shardIndex uint32
	head       int // index of this shard's sentinel in Cache.nodes
}

// Cache is a sharded block cache in front of a blockdev.Device.
//
type Cache struct {
	config  Config
	device  blockdev.Device
	buffers []Buffer
	nodes   []cacheNode // Buffers first, then one sentinel per shard
	shards  []shardStruct
	stats   *cacheStats
}

// New builds a Cache of config.NumBuffers Buffers in front of device.
//
// config.BlockSize must match device.BlockSize().  The Cache's statistics are
// registered with bucketstats as ("bcache", config.CacheName).
//
func New(config Config, device blockdev.Device) (cache *Cache, err error) {
	cache, err = newCache(config, device)
	return
}

// Read returns the Buffer for (deviceID, blockNumber) with its item lock held
// and its data valid, reading the block from the device if needed.
//
func (cache *Cache) Read(deviceID uint32, blockNumber uint64) (buffer *Buffer) {
	buffer = cache.read(deviceID, blockNumber)
	return
}

// Write writes buffer's data through to the device.  The caller must hold
// buffer (from Read()).
//
func (cache *Cache) Write(buffer *Buffer) {
	cache.write(buffer)
}

// Release gives up a Buffer obtained from Read().  Once no references remain
// the Buffer becomes its shard's most recently used.
//
func (cache *Cache) Release(buffer *Buffer) {
	cache.release(buffer)
}

// Pin adds a reference to buffer, keeping it from being recycled.
//
func (cache *Cache) Pin(buffer *Buffer) {
	cache.pin(buffer)
}

// Unpin drops a reference added by Pin().
//
func (cache *Cache) Unpin(buffer *Buffer) {
	cache.unpin(buffer)
}

// BusyBuffers returns the number of Buffers with references.  Shards are
// counted one at a time, so the result is approximate while the Cache is in use.
//
func (cache *Cache) BusyBuffers() uint64 {
	return cache.busyBuffers()
}

func (cache *Cache) Config() Config {
	return cache.config
}

// Stats returns the Cache's statistics in bucketstats.StatFormatParsable1.
//
func (cache *Cache) Stats() string {
	return cache.sprintStats()
}
