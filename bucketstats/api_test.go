// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bucketstats

import (
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type testCacheStats struct {
	Reads     Total
	Steals    Total
	ReadUsecs Average
	ScanWidth BucketLog2Round
	Renamed   Total `json:"ignored"`
	notAStat  int
}

// Verify that all of the bucketstats types satisfy the appropriate interface
//
func TestBucketStatsInterfaces(t *testing.T) {
	var (
		total   Total
		average Average
		bucket  BucketLog2Round

		totaler  Totaler
		averager Averager
		bucketer Bucketer
	)

	totaler = &total
	totaler = &average
	totaler = &bucket
	averager = &average
	averager = &bucket
	bucketer = &bucket

	_ = totaler
	_ = averager
	_ = bucketer
}

func TestLog2RoundIdx(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint(0), log2RoundIdx(0))
	assert.Equal(uint(1), log2RoundIdx(1))
	assert.Equal(uint(2), log2RoundIdx(2))
	assert.Equal(uint(3), log2RoundIdx(3)) // ties round up to 4
	assert.Equal(uint(3), log2RoundIdx(4))
	assert.Equal(uint(3), log2RoundIdx(5))
	assert.Equal(uint(4), log2RoundIdx(6))
	assert.Equal(uint(11), log2RoundIdx(1024))
	assert.Equal(uint(11), log2RoundIdx(1535))
	assert.Equal(uint(12), log2RoundIdx(1536))
	assert.Equal(uint(64), log2RoundIdx(uint64(1)<<63))
	assert.Equal(uint(65), log2RoundIdx(math.MaxUint64))

	// every value maps into the bucket whose range contains it
	dist := bucketDistMake(65, make([]uint32, 65))
	for _, value := range []uint64{0, 1, 2, 3, 7, 8, 11, 12, 100, 1000, 1 << 40, math.MaxUint64} {
		idx := log2RoundIdx(value)
		if idx > 64 {
			idx = 64
		}
		assert.True(dist[idx].RangeLow <= value && value <= dist[idx].RangeHigh,
			"value %d idx %d range [%d,%d]", value, idx, dist[idx].RangeLow, dist[idx].RangeHigh)
	}

	// ranges are contiguous
	for i := 1; i < len(dist); i++ {
		assert.Equal(dist[i-1].RangeHigh+1, dist[i].RangeLow)
	}
}

func TestRegister(t *testing.T) {
	var (
		stats testCacheStats
	)

	stats.Renamed.Name = "has space"

	Register("bcache", "register test", &stats)
	defer UnRegister("bcache", "register test")

	assert.Equal(t, "Reads", stats.Reads.Name)
	assert.Equal(t, "ReadUsecs", stats.ReadUsecs.Name)
	assert.Equal(t, "has_space", stats.Renamed.Name)
	assert.Equal(t, uint(65), stats.ScanWidth.NBucket)

	// duplicate registration panics
	assert.Panics(t, func() { Register("bcache", "register test", &stats) })

	// nameless registration panics
	assert.Panics(t, func() { Register("", "", &testCacheStats{}) })

	// registration of a non-pointer panics
	assert.Panics(t, func() { Register("bcache", "by value", testCacheStats{}) })

	// duplicate statistic names panic
	dup := struct {
		A Total
		B Total
	}{B: Total{Name: "A"}}
	assert.Panics(t, func() { Register("bcache", "dup", &dup) })
}

func TestTotaler(t *testing.T) {
	var (
		stats testCacheStats
		wg    sync.WaitGroup
	)

	assert := assert.New(t)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				stats.Reads.Increment()
				stats.ReadUsecs.Add(10)
			}
		}()
	}
	wg.Wait()

	assert.Equal(uint64(10000), stats.Reads.TotalGet())
	assert.Equal(uint64(100000), stats.ReadUsecs.TotalGet())
	assert.Equal(uint64(10000), stats.ReadUsecs.CountGet())
	assert.Equal(uint64(10), stats.ReadUsecs.AverageGet())

	var empty Average
	assert.Equal(uint64(0), empty.AverageGet())

	stats.ScanWidth.NBucket = 10
	stats.ScanWidth.Add(0)
	stats.ScanWidth.Add(1)
	stats.ScanWidth.Add(4)
	stats.ScanWidth.Add(4)
	stats.ScanWidth.Add(1 << 30) // lands in the last bucket

	dist := stats.ScanWidth.DistGet()
	assert.Equal(10, len(dist))
	assert.Equal(uint64(1), dist[0].Count)
	assert.Equal(uint64(1), dist[1].Count)
	assert.Equal(uint64(2), dist[3].Count)
	assert.Equal(uint64(4), dist[3].NominalVal)
	assert.Equal(uint64(1), dist[9].Count)
	assert.Equal(uint64(math.MaxUint64), dist[9].RangeHigh)
	assert.Equal(uint64(5), stats.ScanWidth.CountGet())
	assert.Equal(uint64(0+1+4+4)+dist[9].MeanVal, stats.ScanWidth.TotalGet())
}

func TestSprintStats(t *testing.T) {
	var (
		stats testCacheStats
	)

	Register("bcache", "sprint", &stats)
	defer UnRegister("bcache", "sprint")

	stats.Reads.Add(5)
	stats.ReadUsecs.Add(20)
	stats.ReadUsecs.Add(40)
	stats.ScanWidth.Add(1)
	stats.ScanWidth.Add(2)

	out := SprintStats(StatFormatParsable1, "bcache", "sprint")

	assert.Contains(t, out, "bcache.sprint.Reads total:5\n")
	assert.Contains(t, out, "bcache.sprint.Steals total:0\n")
	assert.Contains(t, out, "bcache.sprint.ReadUsecs total:60 count:2 avg:30\n")
	assert.Contains(t, out, "bcache.sprint.ScanWidth total:3 count:2 avg:1 0:0 1:1 2:1\n")
	assert.Equal(t, 5, strings.Count(out, "\n"))

	all := SprintStats(StatFormatParsable1, "*", "*")
	assert.Contains(t, all, "bcache.sprint.Reads total:5\n")

	assert.Panics(t, func() { SprintStats(StatFormatParsable1, "bcache", "not registered") })

	// after UnRegister the name may be reused
	UnRegister("bcache", "sprint")
	Register("bcache", "sprint", &testCacheStats{})
}
