// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var tempDir string

func TestMain(m *testing.M) {
	var (
		err error
	)

	tempDir, err = ioutil.TempDir("", "conf_test")
	if nil != err {
		panic(err)
	}

	err = ioutil.WriteFile(filepath.Join(tempDir, "main.conf"), []byte(
		"# comment line\n"+
			"[BufferCache]\n"+
			"NumBuffers:  30   ; trailing comment\n"+
			"NumShards = 13\n"+
			"BlockSize: 1024\n"+
			"DeviceList: ram0, ram1 ram2\n"+
			"Empty:\n"+
			"\n"+
			".include ./lock.conf\n"+
			"\n"+
			"[Logging]\n"+
			"LogToConsole: true\n"), 0644)
	if nil != err {
		panic(err)
	}

	err = ioutil.WriteFile(filepath.Join(tempDir, "lock.conf"), []byte(
		"[TrackedLock]\n"+
			"LockHoldTimeLimit: 40s\n"+
			"LockCheckPeriod: 20s\n"), 0644)
	if nil != err {
		panic(err)
	}

	err = ioutil.WriteFile(filepath.Join(tempDir, "orphan.conf"), []byte(
		"NumBuffers: 30\n"), 0644)
	if nil != err {
		panic(err)
	}

	err = ioutil.WriteFile(filepath.Join(tempDir, "noeol.conf"), []byte(
		"[BufferCache]\nNumBuffers: 30"), 0644)
	if nil != err {
		panic(err)
	}

	exitCode := m.Run()

	_ = os.RemoveAll(tempDir)

	os.Exit(exitCode)
}

func TestUpdateFromFile(t *testing.T) {
	assert := assert.New(t)

	confMap, err := MakeConfMapFromFile(filepath.Join(tempDir, "main.conf"))
	if nil != err {
		t.Fatalf("MakeConfMapFromFile() failed: %v", err)
	}

	numBuffers, err := confMap.FetchOptionValueUint32("BufferCache", "NumBuffers")
	assert.Nil(err)
	assert.Equal(uint32(30), numBuffers)

	numShards, err := confMap.FetchOptionValueUint64("BufferCache", "NumShards")
	assert.Nil(err)
	assert.Equal(uint64(13), numShards)

	deviceList, err := confMap.FetchOptionValueStringSlice("BufferCache", "DeviceList")
	assert.Nil(err)
	assert.Equal([]string{"ram0", "ram1", "ram2"}, deviceList)

	_, err = confMap.FetchOptionValueString("BufferCache", "DeviceList")
	assert.NotNil(err, "multi-valued option must not fetch as a single string")

	assert.Nil(confMap.VerifyOptionValueIsEmpty("BufferCache", "Empty"))
	assert.NotNil(confMap.VerifyOptionValueIsEmpty("BufferCache", "BlockSize"))

	assert.Nil(confMap.VerifyOptionIsMissing("BufferCache", "Missing"))
	assert.Nil(confMap.VerifyOptionIsMissing("NoSuchSection", "NumBuffers"))
	assert.NotNil(confMap.VerifyOptionIsMissing("BufferCache", "NumBuffers"))

	holdLimit, err := confMap.FetchOptionValueDuration("TrackedLock", "LockHoldTimeLimit")
	assert.Nil(err)
	assert.Equal(40*time.Second, holdLimit)

	logToConsole, err := confMap.FetchOptionValueBool("Logging", "LogToConsole")
	assert.Nil(err)
	assert.True(logToConsole)

	_, err = confMap.FetchOptionValueString("NoSuchSection", "NumBuffers")
	assert.NotNil(err)
	_, err = confMap.FetchOptionValueUint32("Logging", "LogToConsole")
	assert.NotNil(err)
	_, err = confMap.FetchOptionValueBool("BufferCache", "NumBuffers")
	assert.NotNil(err)
}

func TestMalformedFiles(t *testing.T) {
	_, err := MakeConfMapFromFile(filepath.Join(tempDir, "orphan.conf"))
	assert.NotNil(t, err, "option outside of a section must fail")

	_, err = MakeConfMapFromFile(filepath.Join(tempDir, "noeol.conf"))
	assert.NotNil(t, err, "file lacking trailing newline must fail")

	_, err = MakeConfMapFromFile(filepath.Join(tempDir, "does_not_exist.conf"))
	assert.NotNil(t, err)
}

func TestUpdateFromStrings(t *testing.T) {
	assert := assert.New(t)

	confMap, err := MakeConfMapFromStrings([]string{
		"BufferCache.NumBuffers=60",
		"BufferCache.NumShards = 7",
		"TrackedLock.LockHoldTimeLimit=0s",
	})
	if nil != err {
		t.Fatalf("MakeConfMapFromStrings() failed: %v", err)
	}

	numBuffers, err := confMap.FetchOptionValueUint32("BufferCache", "NumBuffers")
	assert.Nil(err)
	assert.Equal(uint32(60), numBuffers)

	numShards, err := confMap.FetchOptionValueUint32("BufferCache", "NumShards")
	assert.Nil(err)
	assert.Equal(uint32(7), numShards)

	holdLimit, err := confMap.FetchOptionValueDuration("TrackedLock", "LockHoldTimeLimit")
	assert.Nil(err)
	assert.Equal(time.Duration(0), holdLimit)

	err = confMap.UpdateFromString("BufferCache.NumBuffers=90")
	assert.Nil(err)
	numBuffers, err = confMap.FetchOptionValueUint32("BufferCache", "NumBuffers")
	assert.Nil(err)
	assert.Equal(uint32(90), numBuffers)

	assert.NotNil(confMap.UpdateFromString(""))
	assert.NotNil(confMap.UpdateFromString("NoDotHere=1"))

	err = confMap.UpdateFromString("TrackedLock.LockCheckPeriod=-1s")
	assert.Nil(err)
	_, err = confMap.FetchOptionValueDuration("TrackedLock", "LockCheckPeriod")
	assert.NotNil(err, "negative durations are rejected")
}

func TestDump(t *testing.T) {
	confMap, err := MakeConfMapFromStrings([]string{
		"Logging.LogToConsole=false",
		"BufferCache.NumShards=13",
		"BufferCache.NumBuffers=30",
	})
	if nil != err {
		t.Fatalf("MakeConfMapFromStrings() failed: %v", err)
	}

	assert.Equal(t,
		"[BufferCache]\nNumBuffers: 30\nNumShards: 13\n\n[Logging]\nLogToConsole: false\n",
		confMap.Dump())

	reloaded := MakeConfMap()
	dumpPath := filepath.Join(tempDir, "dump.conf")
	err = ioutil.WriteFile(dumpPath, []byte(confMap.Dump()), 0644)
	assert.Nil(t, err)
	err = reloaded.UpdateFromFile(dumpPath)
	assert.Nil(t, err)
	assert.Equal(t, confMap, reloaded)
}
