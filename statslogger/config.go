// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package statslogger periodically writes statistics to the log: every
// registered bucketstats group, Go runtime memory usage, and the min/mean/max
// of each registered gauge sampled over the period.
//
package statslogger

import (
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NVIDIA/blockcache/bucketstats"
	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/logger"
)

const defaultStatsLogPeriod = 10 * time.Minute

// collectPeriod is how often gauges are sampled.
var collectPeriod = time.Second

type gauge struct {
	sample func() int64
	stats  SimpleStats
}

type globalsStruct struct {
	sync.Mutex                       // protects gauges
	gauges         map[string]*gauge // key: gauge name
	collectChan    <-chan time.Time  // time to sample gauges
	logChan        <-chan time.Time  // time to log statistics
	stopChan       chan bool         // time to shutdown and go home
	doneChan       chan bool         // shutdown complete
	statsLogPeriod time.Duration     // time between statistics logging
	collectTicker  *time.Ticker      // ticker for collectChan (if any)
	logTicker      *time.Ticker      // ticker for logChan (if any)
}

var globals globalsStruct

func parseConfMap(confMap conf.ConfMap) (err error) {
	globals.statsLogPeriod, err = confMap.FetchOptionValueDuration("StatsLogger", "Period")
	if nil != err {
		logger.Warnf("config variable 'StatsLogger.Period' defaulting to '%v': %v", defaultStatsLogPeriod, err)
		globals.statsLogPeriod = defaultStatsLogPeriod
	}

	// statsLogPeriod must be >= 1 sec, except 0 means disabled
	if (globals.statsLogPeriod < time.Second) && (0 != globals.statsLogPeriod) {
		logger.Warnf("config variable 'StatsLogger.Period' value is non-zero and less then 1 sec; defaulting to '%v'", defaultStatsLogPeriod)
		globals.statsLogPeriod = defaultStatsLogPeriod
	}

	err = nil
	return
}

// Up starts logging statistics every [StatsLogger]Period (0s disables it).
//
func Up(confMap conf.ConfMap) (err error) {
	err = parseConfMap(confMap)
	if nil != err {
		return
	}

	if 0 == globals.statsLogPeriod {
		return
	}

	globals.collectTicker = time.NewTicker(collectPeriod)
	globals.collectChan = globals.collectTicker.C

	globals.logTicker = time.NewTicker(globals.statsLogPeriod)
	globals.logChan = globals.logTicker.C

	globals.stopChan = make(chan bool)
	globals.doneChan = make(chan bool)

	go statsLogger()

	return
}

// Down logs a final round of statistics and stops the logger.
//
func Down() (err error) {
	logger.Infof("statslogger.Down() called")

	if 0 != globals.statsLogPeriod {
		globals.stopChan <- true
		_ = <-globals.doneChan

		globals.collectTicker.Stop()
		globals.logTicker.Stop()
		globals.statsLogPeriod = 0
	}

	err = nil
	return
}

// RegisterGauge adds a gauge sampled every collection tick, replacing any
// gauge of the same name.
//
func RegisterGauge(gaugeName string, sample func() int64) {
	globals.Lock()
	if nil == globals.gauges {
		globals.gauges = make(map[string]*gauge)
	}
	globals.gauges[gaugeName] = &gauge{sample: sample}
	globals.Unlock()
}

func UnRegisterGauge(gaugeName string) {
	globals.Lock()
	delete(globals.gauges, gaugeName)
	globals.Unlock()
}

func sampleGauges() {
	globals.Lock()
	for _, g := range globals.gauges {
		g.stats.Sample(g.sample())
	}
	globals.Unlock()
}

// logGauges logs and then clears each gauge's samples.
//
func logGauges() {
	globals.Lock()

	gaugeNames := make([]string, 0, len(globals.gauges))
	for gaugeName := range globals.gauges {
		gaugeNames = append(gaugeNames, gaugeName)
	}
	sort.Strings(gaugeNames)

	for _, gaugeName := range gaugeNames {
		g := globals.gauges[gaugeName]
		logger.Infof("Gauge %s: min=%d mean=%d max=%d samples=%d",
			gaugeName, g.stats.Min(), g.stats.Mean(), g.stats.Max(), g.stats.Samples())
		g.stats.Clear()
	}

	globals.Unlock()
}

// statsLogger samples gauges every collectChan tick and logs a batch of
// statistics every logChan tick ([StatsLogger]Period).
//
func statsLogger() {
	var (
		oldMemStats runtime.MemStats
		newMemStats runtime.MemStats
	)

	sampleGauges()

	// memstats "stops the world"
	runtime.ReadMemStats(&oldMemStats)

	// print an initial round of absolute stats
	logStats("total", &oldMemStats)

mainloop:
	for stopRequest := false; !stopRequest; {
		select {
		case <-globals.stopChan:
			// print final stats and then exit
			stopRequest = true

		case <-globals.collectChan:
			sampleGauges()
			continue mainloop

		case <-globals.logChan:
			// fall through to do the logging
		}

		runtime.ReadMemStats(&newMemStats)

		// collect an extra sample to ensure we have at least one
		sampleGauges()

		logStats("total", &newMemStats)

		oldMemStats.Sys = newMemStats.Sys - oldMemStats.Sys
		oldMemStats.TotalAlloc = newMemStats.TotalAlloc - oldMemStats.TotalAlloc
		oldMemStats.HeapInuse = newMemStats.HeapInuse - oldMemStats.HeapInuse
		oldMemStats.HeapIdle = newMemStats.HeapIdle - oldMemStats.HeapIdle
		oldMemStats.HeapReleased = newMemStats.HeapReleased - oldMemStats.HeapReleased
		oldMemStats.StackSys = newMemStats.StackSys - oldMemStats.StackSys
		oldMemStats.NumGC = newMemStats.NumGC - oldMemStats.NumGC
		oldMemStats.NumForcedGC = newMemStats.NumForcedGC - oldMemStats.NumForcedGC
		oldMemStats.PauseTotalNs = newMemStats.PauseTotalNs - oldMemStats.PauseTotalNs
		logMemStats("delta", &oldMemStats)

		oldMemStats = newMemStats
	}

	globals.doneChan <- true
}

// logStats writes memory usage, gauges, and every bucketstats group to the
// log.  statsType is "total" or "delta".
//
func logStats(statsType string, memStats *runtime.MemStats) {
	logMemStats(statsType, memStats)

	logGauges()

	for _, line := range strings.Split(bucketstats.SprintStats(bucketstats.StatFormatParsable1, "*", "*"), "\n") {
		if "" != line {
			logger.Infof("Stats: %s", line)
		}
	}
}

func logMemStats(statsType string, memStats *runtime.MemStats) {
	logger.Infof("Memory in Kibyte (%s): Sys=%d StackSys=%d HeapInuse=%d HeapIdle=%d HeapReleased=%d Cumulative TotalAlloc=%d",
		statsType,
		int64(memStats.Sys)/1024, int64(memStats.StackSys)/1024,
		int64(memStats.HeapInuse)/1024, int64(memStats.HeapIdle)/1024,
		int64(memStats.HeapReleased)/1024, int64(memStats.TotalAlloc)/1024)
	logger.Infof("GC Stats (%s): NumGC=%d  NumForcedGC=%d  PauseTotalMsec=%d",
		statsType, memStats.NumGC, memStats.NumForcedGC, memStats.PauseTotalNs/1000000)
}
