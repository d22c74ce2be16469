// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bcache

import (
	"fmt"

	"github.com/NVIDIA/blockcache/blockdev"
	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/halter"
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/utils"
)

func newCache(config Config, device blockdev.Device) (cache *Cache, err error) {
	var (
		bufferIndex int
		shardIndex  uint32
		stats       *cacheStats
	)

	err = config.validate()
	if nil != err {
		return
	}
	if nil == device {
		err = blunder.NewError(blunder.InvalidArgError, "bcache.New() requires a device")
		return
	}
	if device.BlockSize() != config.BlockSize {
		err = blunder.NewError(blunder.InvalidArgError, "BlockSize %d does not match device block size %d", config.BlockSize, device.BlockSize())
		return
	}

	stats = &cacheStats{}

	config.CacheName, err = registerStats(config.CacheName, stats)
	if nil != err {
		return
	}

	cache = &Cache{
		config:  config,
		device:  device,
		buffers: make([]Buffer, config.NumBuffers),
		nodes:   make([]cacheNode, config.NumBuffers+config.NumShards),
		shards:  make([]shardStruct, config.NumShards),
		stats:   stats,
	}

	// sentinels follow the buffers in nodes[]
	for shardIndex = 0; shardIndex < config.NumShards; shardIndex++ {
		shard := &cache.shards[shardIndex]
		shard.shardIndex = shardIndex
		shard.head = int(config.NumBuffers + shardIndex)
		cache.nodes[shard.head] = cacheNode{prev: shard.head, next: shard.head}
	}

	for bufferIndex = range cache.buffers {
		buffer := &cache.buffers[bufferIndex]
		buffer.index = bufferIndex
		buffer.data = make([]byte, config.BlockSize)
		buffer.itemLock.Init(fmt.Sprintf("%s.buffer%d", config.CacheName, bufferIndex))
		cache.insertMRU(&cache.shards[uint32(bufferIndex)%config.NumShards], bufferIndex)
	}

	logger.Infof("bcache %s up: %s", config.CacheName, utils.JSONify(config, false))

	err = nil
	return
}

// insertMRU links nodeIndex at shard's MRU end.  Caller holds shard's lock.
//
func (cache *Cache) insertMRU(shard *shardStruct, nodeIndex int) {
	head := &cache.nodes[shard.head]
	node := &cache.nodes[nodeIndex]

	node.next = head.next
	node.prev = shard.head
	cache.nodes[head.next].prev = nodeIndex
	head.next = nodeIndex
}

// unlink removes nodeIndex from its list.  Caller holds that list's shard lock.
//
func (cache *Cache) unlink(nodeIndex int) {
	node := &cache.nodes[nodeIndex]

	cache.nodes[node.prev].next = node.next
	cache.nodes[node.next].prev = node.prev
	node.prev = nodeIndex
	node.next = nodeIndex
}

func (cache *Cache) homeShard(blockNumber uint64) (shard *shardStruct) {
	shard = &cache.shards[blockNumber%uint64(cache.config.NumShards)]
	return
}

// lookup returns the Buffer in shard holding (deviceID, blockNumber), if any.
// Caller holds shard's lock.
//
func (cache *Cache) lookup(shard *shardStruct, deviceID uint32, blockNumber uint64) (buffer *Buffer) {
	for nodeIndex := cache.nodes[shard.head].next; nodeIndex != shard.head; nodeIndex = cache.nodes[nodeIndex].next {
		buffer = &cache.buffers[nodeIndex]
		if buffer.hasIdentity && (deviceID == buffer.deviceID) && (blockNumber == buffer.blockNumber) {
			return
		}
	}

	buffer = nil
	return
}

// lruFree returns shard's least recently used unreferenced Buffer, if any.
// Caller holds shard's lock.
//
func (cache *Cache) lruFree(shard *shardStruct) (buffer *Buffer) {
	for nodeIndex := cache.nodes[shard.head].prev; nodeIndex != shard.head; nodeIndex = cache.nodes[nodeIndex].prev {
		buffer = &cache.buffers[nodeIndex]
		if 0 == buffer.refCount {
			return
		}
	}

	buffer = nil
	return
}

// assign gives buffer a new identity and its first reference.  Caller holds the
// lock of the shard currently holding buffer.
//
func (buffer *Buffer) assign(deviceID uint32, blockNumber uint64) {
	buffer.hasIdentity = true
	buffer.deviceID = deviceID
	buffer.blockNumber = blockNumber
	buffer.valid = false
	buffer.refCount = 1
}

// get returns the Buffer for (deviceID, blockNumber) with a reference added
// and its item lock held.  A miss recycles the home shard's LRU free Buffer
// or else steals one from the other shards, scanned in ascending order (with
// wraparound) while the home shard stays locked.
//
func (cache *Cache) get(deviceID uint32, blockNumber uint64) (buffer *Buffer) {
	var (
		candidate      *shardStruct
		candidateIndex uint32
		err            error
		home           *shardStruct
		numShards      uint32
		shardsScanned  uint64
	)

	numShards = cache.config.NumShards
	home = cache.homeShard(blockNumber)

	home.Lock()

	buffer = cache.lookup(home, deviceID, blockNumber)
	if nil != buffer {
		buffer.refCount++
		home.Unlock()
		buffer.itemLock.Lock()
		return
	}

	buffer = cache.lruFree(home)
	if nil != buffer {
		buffer.assign(deviceID, blockNumber)
		home.Unlock()
		cache.stats.InShardRecycles.Increment()
		logger.Tracef("bcache %s recycled buffer %d for block %d:%d in shard %d",
			cache.config.CacheName, buffer.index, deviceID, blockNumber, home.shardIndex)
		buffer.itemLock.Lock()
		return
	}

	for candidateIndex = (home.shardIndex + 1) % numShards; candidateIndex != home.shardIndex; candidateIndex = (candidateIndex + 1) % numShards {
		shardsScanned++
		candidate = &cache.shards[candidateIndex]

		candidate.Lock()

		buffer = cache.lruFree(candidate)
		if nil == buffer {
			candidate.Unlock()
			continue
		}

		buffer.assign(deviceID, blockNumber)
		cache.unlink(buffer.index)

		halter.Trigger(halter.BcacheStealAfterUnlink)

		candidate.Unlock()

		cache.insertMRU(home, buffer.index)

		home.Unlock()

		cache.stats.Steals.Increment()
		cache.stats.StealScanShards.Add(shardsScanned)
		logger.Tracef("bcache %s stole buffer %d from shard %d for block %d:%d in shard %d",
			cache.config.CacheName, buffer.index, candidateIndex, deviceID, blockNumber, home.shardIndex)

		buffer.itemLock.Lock()
		return
	}

	home.Unlock()

	err = blunder.NewError(blunder.NoBufferSpaceError, "no free buffer for block %d:%d", deviceID, blockNumber)
	logger.PanicfWithError(err, "bcache %s exhausted (%d buffers all referenced)", cache.config.CacheName, cache.config.NumBuffers)

	buffer = nil
	return
}

// fatal logs err and panics, tagging err with errValue if it has no value yet.
//
func (cache *Cache) fatal(err error, errValue blunder.BlockError, format string, args ...interface{}) {
	if 0 > blunder.Errno(err) {
		err = blunder.AddError(err, errValue)
	}

	logger.PanicfWithError(err, "bcache %s: %s", cache.config.CacheName, fmt.Sprintf(format, args...))
}

func (cache *Cache) read(deviceID uint32, blockNumber uint64) (buffer *Buffer) {
	var (
		err       error
		stopwatch *utils.Stopwatch
	)

	cache.stats.Reads.Increment()

	buffer = cache.get(deviceID, blockNumber)

	if buffer.valid {
		cache.stats.ReadHits.Increment()
		return
	}

	cache.stats.ReadMisses.Increment()

	stopwatch = utils.NewStopwatch()
	err = cache.device.Transfer(deviceID, blockNumber, buffer.data, false)
	_ = stopwatch.Stop()
	cache.stats.DeviceReadUsecs.Add(stopwatch.ElapsedUs())
	if nil != err {
		cache.fatal(err, blunder.IOError, "device read of block %d:%d failed", deviceID, blockNumber)
	}

	cache.stats.DeviceReads.Increment()

	buffer.valid = true

	return
}

func (cache *Cache) write(buffer *Buffer) {
	var (
		err       error
		stopwatch *utils.Stopwatch
	)

	if !buffer.itemLock.Holding() {
		err = blunder.NewError(blunder.NotPermError, "Write() of buffer %d (block %d:%d) by non-holder", buffer.index, buffer.deviceID, buffer.blockNumber)
		cache.fatal(err, blunder.NotPermError, "item lock not held")
	}

	halter.Trigger(halter.BcacheWriteBeforeTransfer)

	stopwatch = utils.NewStopwatch()
	err = cache.device.Transfer(buffer.deviceID, buffer.blockNumber, buffer.data, true)
	_ = stopwatch.Stop()
	cache.stats.DeviceWriteUsecs.Add(stopwatch.ElapsedUs())
	if nil != err {
		cache.fatal(err, blunder.IOError, "device write of block %d:%d failed", buffer.deviceID, buffer.blockNumber)
	}

	halter.Trigger(halter.BcacheWriteAfterTransfer)

	cache.stats.DeviceWrites.Increment()
}

func (cache *Cache) release(buffer *Buffer) {
	var (
		err  error
		home *shardStruct
	)

	if !buffer.itemLock.Holding() {
		err = blunder.NewError(blunder.NotPermError, "Release() of buffer %d (block %d:%d) by non-holder", buffer.index, buffer.deviceID, buffer.blockNumber)
		cache.fatal(err, blunder.NotPermError, "item lock not held")
	}

	buffer.itemLock.Unlock()

	home = cache.homeShard(buffer.blockNumber)

	home.Lock()

	if 0 >= buffer.refCount {
		err = blunder.NewError(blunder.NotPermError, "Release() of buffer %d (block %d:%d) with refCount %d", buffer.index, buffer.deviceID, buffer.blockNumber, buffer.refCount)
		home.Unlock()
		cache.fatal(err, blunder.NotPermError, "reference count underflow")
	}

	buffer.refCount--

	if 0 == buffer.refCount {
		cache.unlink(buffer.index)
		cache.insertMRU(home, buffer.index)
	}

	home.Unlock()

	cache.stats.Releases.Increment()
}

func (cache *Cache) pin(buffer *Buffer) {
	home := cache.homeShard(buffer.blockNumber)

	home.Lock()
	buffer.refCount++
	home.Unlock()

	cache.stats.Pins.Increment()
}

func (cache *Cache) unpin(buffer *Buffer) {
	var (
		err  error
		home *shardStruct
	)

	home = cache.homeShard(buffer.blockNumber)

	home.Lock()

	if 0 >= buffer.refCount {
		err = blunder.NewError(blunder.NotPermError, "Unpin() of buffer %d (block %d:%d) with refCount %d", buffer.index, buffer.deviceID, buffer.blockNumber, buffer.refCount)
		home.Unlock()
		cache.fatal(err, blunder.NotPermError, "reference count underflow")
	}

	buffer.refCount--

	home.Unlock()

	cache.stats.Unpins.Increment()
}

func (cache *Cache) busyBuffers() (busy uint64) {
	for shardIndex := range cache.shards {
		shard := &cache.shards[shardIndex]
		shard.Lock()
		for nodeIndex := cache.nodes[shard.head].next; nodeIndex != shard.head; nodeIndex = cache.nodes[nodeIndex].next {
			if 0 != cache.buffers[nodeIndex].refCount {
				busy++
			}
		}
		shard.Unlock()
	}
	return
}
