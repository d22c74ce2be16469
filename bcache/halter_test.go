// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bcache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/blockcache/blockdev"
	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/halter"
)

func TestHaltPoints(t *testing.T) {
	var (
		haltErrs          []error
		homeLockedAtHalt  bool
		writesSeenAtHalts []uint64
	)

	assert := assert.New(t)

	cache, traceDevice := testNewCache(t, 30, 13, 0)

	assert.Nil(halter.Up(conf.MakeConfMap()))
	defer func() { _ = halter.Down() }()

	halter.ConfigureTestModeHaltCB(func(err error) {
		haltErrs = append(haltErrs, err)
		writesSeenAtHalts = append(writesSeenAtHalts, traceDevice.Writes(2, 5))
		homeLockedAtHalt = cache.shards[4].IsLocked()
	})

	assert.Nil(halter.Arm("bcache.write_BeforeTransfer", 2))
	assert.Nil(halter.Arm("bcache.write_AfterTransfer", 3))

	buffer := cache.Read(2, 5)
	assert.Nil(blockdev.StampBlock(buffer.Data(), 2, 5, 1))
	cache.Write(buffer)
	cache.Write(buffer)
	cache.Write(buffer)
	cache.Release(buffer)

	// a crash before the second transfer leaves one write on the device;
	// a crash after the third leaves all three
	assert.Equal(2, len(haltErrs))
	assert.EqualError(haltErrs[0], "halter.Trigger(bcache.write_BeforeTransfer) triggered HALT")
	assert.EqualError(haltErrs[1], "halter.Trigger(bcache.write_AfterTransfer) triggered HALT")
	assert.Equal([]uint64{1, 3}, writesSeenAtHalts)
	assert.Equal(0, len(halter.Dump()))

	// the steal point fires with the home shard still locked
	assert.Nil(halter.Arm("bcache.steal_AfterUnlink", 1))
	held4 := cache.Read(1, 4)
	held17 := cache.Read(1, 17)
	buffer = cache.Read(1, 30)
	assert.Equal(3, len(haltErrs))
	assert.EqualError(haltErrs[2], "halter.Trigger(bcache.steal_AfterUnlink) triggered HALT")
	assert.True(homeLockedAtHalt)
	assert.False(cache.shards[4].IsLocked())

	cache.Release(buffer)
	cache.Release(held17)
	cache.Release(held4)
}
