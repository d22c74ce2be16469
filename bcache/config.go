// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bcache

import (
	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/conf"
)

const (
	DefaultNumBuffers uint32 = 30
	DefaultNumShards  uint32 = 13
	DefaultBlockSize  uint32 = 1024
)

// Config describes a Cache.  An empty CacheName is replaced with a unique
// generated one.
//
type Config struct {
	CacheName  string
	NumBuffers uint32
	NumShards  uint32
	BlockSize  uint32
}

// DefaultConfig returns a Config with every field at its default.
//
func DefaultConfig() (config Config) {
	config = Config{
		CacheName:  "",
		NumBuffers: DefaultNumBuffers,
		NumShards:  DefaultNumShards,
		BlockSize:  DefaultBlockSize,
	}
	return
}

// fetchUint32 fetches [sectionName]optionName, leaving *value untouched if the
// option is absent.
//
func fetchUint32(confMap conf.ConfMap, sectionName string, optionName string, value *uint32) (err error) {
	var (
		fetched uint32
	)

	fetched, err = confMap.FetchOptionValueUint32(sectionName, optionName)
	if nil == err {
		*value = fetched
		return
	}

	if nil == confMap.VerifyOptionIsMissing(sectionName, optionName) {
		err = nil
		return
	}

	err = blunder.AddError(err, blunder.InvalidArgError)

	return
}

// ParseConfMap builds a Config from confMap's [sectionName] section:
//
//   [BufferCache]
//   CacheName:  primary
//   NumBuffers: 30
//   NumShards:  13
//   BlockSize:  1024
//
// Every option is optional.  Values are not validated here; New() does that.
//
func ParseConfMap(confMap conf.ConfMap, sectionName string) (config Config, err error) {
	config = DefaultConfig()

	if nil == confMap.VerifyOptionValueIsEmpty(sectionName, "CacheName") {
		config.CacheName = ""
	} else {
		config.CacheName, err = confMap.FetchOptionValueString(sectionName, "CacheName")
		if nil != err {
			if nil != confMap.VerifyOptionIsMissing(sectionName, "CacheName") {
				err = blunder.AddError(err, blunder.InvalidArgError)
				return
			}
			config.CacheName = ""
		}
	}

	err = fetchUint32(confMap, sectionName, "NumBuffers", &config.NumBuffers)
	if nil != err {
		return
	}
	err = fetchUint32(confMap, sectionName, "NumShards", &config.NumShards)
	if nil != err {
		return
	}
	err = fetchUint32(confMap, sectionName, "BlockSize", &config.BlockSize)
	if nil != err {
		return
	}

	err = nil
	return
}

func (config *Config) validate() (err error) {
	if 0 == config.NumBuffers {
		err = blunder.NewError(blunder.InvalidArgError, "NumBuffers must be at least 1")
		return
	}
	if 0 == config.NumShards {
		err = blunder.NewError(blunder.InvalidArgError, "NumShards must be at least 1")
		return
	}
	if 0 == config.BlockSize {
		err = blunder.NewError(blunder.InvalidArgError, "BlockSize must be at least 1")
		return
	}

	err = nil
	return
}
