// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package statslogger

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/blockcache/bucketstats"
	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/logger"
)

type testStats struct {
	Ops bucketstats.Total
}

func logContains(logcopy logger.LogTarget, substr string) bool {
	entries, _ := logcopy.Entries()
	for _, entry := range entries {
		if strings.Contains(entry, substr) {
			return true
		}
	}
	return false
}

func TestSimpleStats(t *testing.T) {
	assert := assert.New(t)

	var stats SimpleStats

	assert.Equal(int64(0), stats.Mean())

	for _, sample := range []int64{5, -2, 9, 4} {
		stats.Sample(sample)
	}
	assert.Equal(int64(-2), stats.Min())
	assert.Equal(int64(9), stats.Max())
	assert.Equal(int64(4), stats.Mean())
	assert.Equal(int64(4), stats.Samples())

	stats.Clear()
	stats.Sample(3)
	assert.Equal(int64(3), stats.Min())
	assert.Equal(int64(3), stats.Max())
}

func TestParseConfMap(t *testing.T) {
	assert := assert.New(t)

	confMap, err := conf.MakeConfMapFromStrings([]string{"StatsLogger.Period=30s"})
	assert.Nil(err)
	assert.Nil(parseConfMap(confMap))
	assert.Equal(30*time.Second, globals.statsLogPeriod)

	assert.Nil(confMap.UpdateFromString("StatsLogger.Period=10ms"))
	assert.Nil(parseConfMap(confMap))
	assert.Equal(defaultStatsLogPeriod, globals.statsLogPeriod)

	assert.Nil(confMap.UpdateFromString("StatsLogger.Period=0s"))
	assert.Nil(parseConfMap(confMap))
	assert.Equal(time.Duration(0), globals.statsLogPeriod)

	assert.Nil(parseConfMap(conf.MakeConfMap()))
	assert.Equal(defaultStatsLogPeriod, globals.statsLogPeriod)

	globals.statsLogPeriod = 0
}

func TestStatsLogger(t *testing.T) {
	var (
		logcopy logger.LogTarget
		samples int64
		stats   testStats
	)

	assert := assert.New(t)

	confMap, err := conf.MakeConfMapFromStrings([]string{
		"Logging.LogToConsole=false",
		"StatsLogger.Period=1s",
	})
	assert.Nil(err)

	err = logger.Up(confMap)
	assert.Nil(err)
	logcopy.Init(200)
	logger.AddLogTarget(logcopy)
	defer func() { _ = logger.Down() }()

	bucketstats.Register("statslogger_test", "group1", &stats)
	defer bucketstats.UnRegister("statslogger_test", "group1")
	stats.Ops.Add(3)

	RegisterGauge("test.gauge", func() int64 {
		atomic.AddInt64(&samples, 1)
		return 7
	})
	defer UnRegisterGauge("test.gauge")

	collectPeriod = 10 * time.Millisecond
	defer func() { collectPeriod = time.Second }()

	err = Up(confMap)
	assert.Nil(err)

	time.Sleep(1200 * time.Millisecond)

	err = Down()
	assert.Nil(err)

	assert.True(atomic.LoadInt64(&samples) > 2, "gauge sampled %d times", atomic.LoadInt64(&samples))
	assert.True(logContains(logcopy, "Gauge test.gauge: min=7 mean=7 max=7"))
	assert.True(logContains(logcopy, "Stats: statslogger_test.group1.Ops total:3"))
	assert.True(logContains(logcopy, "Memory in Kibyte (total)"))
	assert.True(logContains(logcopy, "Memory in Kibyte (delta)"))

	// disabled
	assert.Nil(confMap.UpdateFromString("StatsLogger.Period=0s"))
	assert.Nil(Up(confMap))
	assert.Nil(Down())
}
