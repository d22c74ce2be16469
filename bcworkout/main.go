// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Program bcworkout exercises a bcache.Cache with concurrent stamped block
// writes and re-reads, then reports throughput and cache statistics.
//
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/blockcache/bcache"
	"github.com/NVIDIA/blockcache/blockdev"
	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/halter"
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/statslogger"
	"github.com/NVIDIA/blockcache/trackedlock"
	"github.com/NVIDIA/blockcache/utils"
)

var (
	blocksPerThread uint64
	cache           *bcache.Cache
	deviceID        uint32
	threads         uint64
	totalBlocks     uint64
)

func usage(file *os.File) {
	fmt.Fprintf(file, "Usage:\n")
	fmt.Fprintf(file, "    %v threads blocks-per-thread conf-file [section.option=value]*\n", os.Args[0])
	fmt.Fprintf(file, "  where:\n")
	fmt.Fprintf(file, "    threads                 number of threads\n")
	fmt.Fprintf(file, "    blocks-per-thread       number of blocks each thread stamps and then updates\n")
	fmt.Fprintf(file, "    conf-file               input to conf.MakeConfMapFromFile()\n")
	fmt.Fprintf(file, "    [section.option=value]* optional input to conf.UpdateFromStrings()\n")
	fmt.Fprintf(file, "\n")
	fmt.Fprintf(file, "Note: [BlockDevice]Type selects a \"ram\" device or a \"file\" device image\n")
	fmt.Fprintf(file, "      at [BlockDevice]ImagePath (created if [BlockDevice]Create is true)\n")
}

// openDevice builds the device described by confMap's [BlockDevice] section,
// returning a close func for it.
//
func openDevice(confMap conf.ConfMap) (device blockdev.Device, closeDevice func() error, err error) {
	var (
		blockSize  uint32
		create     bool
		deviceType string
		fileDevice *blockdev.FileDevice
		imagePath  string
		numBlocks  uint64
		ramDevice  *blockdev.RAMDevice
	)

	deviceType, err = confMap.FetchOptionValueString("BlockDevice", "Type")
	if nil != err {
		return
	}
	deviceID, err = confMap.FetchOptionValueUint32("BlockDevice", "DeviceID")
	if nil != err {
		return
	}
	blockSize, err = confMap.FetchOptionValueUint32("BlockDevice", "BlockSize")
	if nil != err {
		return
	}

	switch deviceType {
	case "ram":
		ramDevice, err = blockdev.NewRAMDevice(blockSize)
		if nil != err {
			return
		}
		device = ramDevice
		closeDevice = func() error { return nil }
	case "file":
		imagePath, err = confMap.FetchOptionValueString("BlockDevice", "ImagePath")
		if nil != err {
			return
		}
		create, err = confMap.FetchOptionValueBool("BlockDevice", "Create")
		if nil != err {
			return
		}
		if create {
			numBlocks, err = confMap.FetchOptionValueUint64("BlockDevice", "NumBlocks")
			if nil != err {
				return
			}
			fileDevice, err = blockdev.CreateFileDevice(imagePath, deviceID, blockSize, numBlocks)
		} else {
			fileDevice, err = blockdev.OpenFileDevice(imagePath)
		}
		if nil != err {
			return
		}
		if (fileDevice.DeviceID() != deviceID) || (fileDevice.BlockSize() != blockSize) {
			_ = fileDevice.Close()
			err = fmt.Errorf("%s holds device %d with blockSize %d, not device %d with blockSize %d",
				imagePath, fileDevice.DeviceID(), fileDevice.BlockSize(), deviceID, blockSize)
			return
		}
		if fileDevice.NumBlocks() < totalBlocks {
			_ = fileDevice.Close()
			err = fmt.Errorf("%s holds %d blocks, %d needed", imagePath, fileDevice.NumBlocks(), totalBlocks)
			return
		}
		device = fileDevice
		closeDevice = func() (err error) {
			err = fileDevice.Sync()
			if nil == err {
				err = fileDevice.Close()
			}
			return
		}
	default:
		err = fmt.Errorf("[BlockDevice]Type (\"%v\") must be \"ram\" or \"file\"", deviceType)
	}

	return
}

func main() {
	var (
		cacheConfig                  bcache.Config
		closeDevice                  func() error
		confMap                      conf.ConfMap
		device                       blockdev.Device
		durationOfMeasuredOperations time.Duration
		err                          error
		group                        errgroup.Group
		latencyPerOpInMicroSeconds   float64
		opsPerSecond                 float64
		stopwatch                    *utils.Stopwatch
		traceDelay                   time.Duration
		traceDevice                  *blockdev.TraceDevice
	)

	// Parse arguments

	if 4 > len(os.Args) {
		usage(os.Stderr)
		os.Exit(1)
	}

	threads, err = strconv.ParseUint(os.Args[1], 10, 64)
	if nil != err {
		fmt.Fprintf(os.Stderr, "strconv.ParseUint(\"%v\", 10, 64) of threads failed: %v\n", os.Args[1], err)
		os.Exit(1)
	}
	if 0 == threads {
		fmt.Fprintf(os.Stderr, "threads must be a positive number\n")
		os.Exit(1)
	}

	blocksPerThread, err = strconv.ParseUint(os.Args[2], 10, 64)
	if nil != err {
		fmt.Fprintf(os.Stderr, "strconv.ParseUint(\"%v\", 10, 64) of blocks-per-thread failed: %v\n", os.Args[2], err)
		os.Exit(1)
	}
	if 0 == blocksPerThread {
		fmt.Fprintf(os.Stderr, "blocks-per-thread must be a positive number\n")
		os.Exit(1)
	}

	totalBlocks = threads * blocksPerThread

	confMap, err = conf.MakeConfMapFromFile(os.Args[3])
	if nil != err {
		fmt.Fprintf(os.Stderr, "conf.MakeConfMapFromFile(\"%v\") failed: %v\n", os.Args[3], err)
		os.Exit(1)
	}

	if 4 < len(os.Args) {
		err = confMap.UpdateFromStrings(os.Args[4:])
		if nil != err {
			fmt.Fprintf(os.Stderr, "confMap.UpdateFromStrings(%#v) failed: %v\n", os.Args[4:], err)
			os.Exit(1)
		}
	}

	// Start up needed components

	err = logger.Up(confMap)
	if nil != err {
		fmt.Fprintf(os.Stderr, "logger.Up() failed: %v\n", err)
		os.Exit(1)
	}

	err = trackedlock.Up(confMap)
	if nil != err {
		fmt.Fprintf(os.Stderr, "trackedlock.Up() failed: %v\n", err)
		os.Exit(1)
	}

	err = halter.Up(confMap)
	if nil != err {
		fmt.Fprintf(os.Stderr, "halter.Up() failed: %v\n", err)
		os.Exit(1)
	}

	device, closeDevice, err = openDevice(confMap)
	if nil != err {
		fmt.Fprintf(os.Stderr, "openDevice() failed: %v\n", err)
		os.Exit(1)
	}

	traceDelay, err = confMap.FetchOptionValueDuration("BlockDevice", "TraceDelay")
	if nil != err {
		traceDelay = time.Duration(0)
	}
	traceDevice = blockdev.NewTraceDevice(device, traceDelay)

	cacheConfig, err = bcache.ParseConfMap(confMap, "BufferCache")
	if nil != err {
		fmt.Fprintf(os.Stderr, "bcache.ParseConfMap() failed: %v\n", err)
		os.Exit(1)
	}

	cache, err = bcache.New(cacheConfig, traceDevice)
	if nil != err {
		fmt.Fprintf(os.Stderr, "bcache.New() failed: %v\n", err)
		os.Exit(1)
	}

	statslogger.RegisterGauge("bcache."+cache.Config().CacheName+".BusyBuffers", func() int64 {
		return int64(cache.BusyBuffers())
	})

	err = statslogger.Up(confMap)
	if nil != err {
		fmt.Fprintf(os.Stderr, "statslogger.Up() failed: %v\n", err)
		os.Exit(1)
	}

	// Do initialization step: each thread stamps its own blocks

	for threadIndex := uint64(0); threadIndex < threads; threadIndex++ {
		firstBlock := threadIndex * blocksPerThread
		group.Go(func() error {
			return stampBlocks(firstBlock)
		})
	}
	err = group.Wait()
	if nil != err {
		fmt.Fprintf(os.Stderr, "stampBlocks() initialization step returned: %v\n", err)
		os.Exit(1)
	}

	// Do measured operations step: threads interleave over the shared block range

	stopwatch = utils.NewStopwatch()
	for threadIndex := uint64(0); threadIndex < threads; threadIndex++ {
		threadIndexCopy := threadIndex
		group.Go(func() error {
			return updateBlocks(threadIndexCopy)
		})
	}
	err = group.Wait()
	durationOfMeasuredOperations = stopwatch.Stop()
	if nil != err {
		fmt.Fprintf(os.Stderr, "updateBlocks() measured operations step returned: %v\n", err)
		os.Exit(1)
	}

	// Do verification step

	err = verifyBlocks()
	if nil != err {
		fmt.Fprintf(os.Stderr, "verifyBlocks() returned: %v\n", err)
		os.Exit(1)
	}

	// Report results

	opsPerSecond = float64(totalBlocks*1000*1000*1000) / float64(durationOfMeasuredOperations.Nanoseconds())
	latencyPerOpInMicroSeconds = float64(durationOfMeasuredOperations.Nanoseconds()) / float64(blocksPerThread*1000)

	fmt.Printf("opsPerSecond = %10.2f\n", opsPerSecond)
	fmt.Printf("latencyPerOp = %10.2f us\n", latencyPerOpInMicroSeconds)
	fmt.Printf("deviceReads  = %10d\n", traceDevice.TotalReads())
	fmt.Printf("deviceWrites = %10d\n", traceDevice.TotalWrites())
	fmt.Printf("\n%s", cache.Stats())

	// Stop components launched above

	err = statslogger.Down()
	if nil != err {
		fmt.Fprintf(os.Stderr, "statslogger.Down() failed: %v\n", err)
		os.Exit(1)
	}

	err = closeDevice()
	if nil != err {
		fmt.Fprintf(os.Stderr, "closing device failed: %v\n", err)
		os.Exit(1)
	}

	err = halter.Down()
	if nil != err {
		fmt.Fprintf(os.Stderr, "halter.Down() failed: %v\n", err)
		os.Exit(1)
	}

	err = trackedlock.Down()
	if nil != err {
		fmt.Fprintf(os.Stderr, "trackedlock.Down() failed: %v\n", err)
		os.Exit(1)
	}

	err = logger.Down()
	if nil != err {
		fmt.Fprintf(os.Stderr, "logger.Down() failed: %v\n", err)
		os.Exit(1)
	}
}

// stampBlocks writes generation 1 of blocksPerThread blocks from firstBlock.
//
func stampBlocks(firstBlock uint64) (err error) {
	for blockNumber := firstBlock; blockNumber < firstBlock+blocksPerThread; blockNumber++ {
		buffer := cache.Read(deviceID, blockNumber)
		err = blockdev.StampBlock(buffer.Data(), deviceID, blockNumber, 1)
		if nil == err {
			cache.Write(buffer)
		}
		cache.Release(buffer)
		if nil != err {
			return
		}
	}

	err = nil
	return
}

// updateBlocks bumps the generation of every threads'th block starting at
// threadIndex, so threads interleave over the whole block range.
//
func updateBlocks(threadIndex uint64) (err error) {
	var (
		generation uint64
	)

	for i := uint64(0); i < blocksPerThread; i++ {
		blockNumber := i*threads + threadIndex

		buffer := cache.Read(deviceID, blockNumber)

		generation, err = blockdev.CheckStamp(buffer.Data(), deviceID, blockNumber)
		if nil == err {
			err = blockdev.StampBlock(buffer.Data(), deviceID, blockNumber, generation+1)
		}
		if nil == err {
			cache.Write(buffer)
		}

		cache.Release(buffer)

		if nil != err {
			return
		}
	}

	err = nil
	return
}

// verifyBlocks checks every stamp and that no update was lost.
//
func verifyBlocks() (err error) {
	var (
		generation      uint64
		generationTotal uint64
	)

	for blockNumber := uint64(0); blockNumber < totalBlocks; blockNumber++ {
		buffer := cache.Read(deviceID, blockNumber)
		generation, err = blockdev.CheckStamp(buffer.Data(), deviceID, blockNumber)
		cache.Release(buffer)
		if nil != err {
			return
		}
		if 0 == generation {
			err = fmt.Errorf("block %d:%d never stamped", deviceID, blockNumber)
			return
		}
		generationTotal += generation
	}

	// one initial stamp per block plus one update per measured operation
	if generationTotal != 2*totalBlocks {
		err = fmt.Errorf("generations total %d, expected %d", generationTotal, 2*totalBlocks)
		return
	}

	logger.Infof("bcworkout verified %d blocks", totalBlocks)

	err = nil
	return
}
