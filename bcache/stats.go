// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bcache

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/bucketstats"
)

const statsPkgName = "bcache"

type cacheStats struct {
	Reads            bucketstats.Total
	ReadHits         bucketstats.Total // data already valid once the item lock was acquired
	ReadMisses       bucketstats.Total
	InShardRecycles  bucketstats.Total
	Steals           bucketstats.Total
	StealScanShards  bucketstats.BucketLog2Round // shards visited per successful steal
	DeviceReads      bucketstats.Total
	DeviceWrites     bucketstats.Total
	Releases         bucketstats.Total
	Pins             bucketstats.Total
	Unpins           bucketstats.Total
	DeviceReadUsecs  bucketstats.BucketLog2Round
	DeviceWriteUsecs bucketstats.BucketLog2Round
}

var statsGroups struct {
	sync.Mutex
	names      map[string]struct{}
	nextAutoID uint64
}

// registerStats claims a statistics group name for a new Cache, generating
// one if cacheName is empty.
//
func registerStats(cacheName string, stats *cacheStats) (statsGroupName string, err error) {
	statsGroups.Lock()
	defer statsGroups.Unlock()

	if nil == statsGroups.names {
		statsGroups.names = make(map[string]struct{})
	}

	if "" == cacheName {
		for {
			statsGroups.nextAutoID++
			statsGroupName = fmt.Sprintf("cache%d", statsGroups.nextAutoID)
			if _, inUse := statsGroups.names[statsGroupName]; !inUse {
				break
			}
		}
	} else {
		if _, inUse := statsGroups.names[cacheName]; inUse {
			err = blunder.NewError(blunder.InvalidArgError, "CacheName %s already in use", cacheName)
			return
		}
		statsGroupName = cacheName
	}

	bucketstats.Register(statsPkgName, statsGroupName, stats)
	statsGroups.names[statsGroupName] = struct{}{}

	err = nil
	return
}

func (cache *Cache) sprintStats() string {
	return bucketstats.SprintStats(bucketstats.StatFormatParsable1, statsPkgName, cache.config.CacheName)
}
