// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/blockcache/conf"
)

func testNestedFunc(target LogTarget) string {
	Warnf("nested %v", 3)
	entries, _ := target.Entries()
	return entries[0]
}

func TestAPI(t *testing.T) {
	var (
		target LogTarget
	)

	assert := assert.New(t)

	confMap, err := conf.MakeConfMapFromStrings([]string{
		"Logging.LogToConsole=false",
		"Logging.TraceLevelLogging=logger",
	})
	if nil != err {
		t.Fatalf("%v", err)
	}

	err = Up(confMap)
	if nil != err {
		t.Fatalf("logger.Up() failed: %v", err)
	}

	target.Init(10)
	AddLogTarget(target)

	Infof("hello there, %s!", "you")
	entries, totalEntries := target.Entries()
	assert.Equal(1, totalEntries)
	assert.Contains(entries[0], "hello there, you!")
	assert.Contains(entries[0], "level=info")
	assert.Contains(entries[0], "function=TestAPI")
	assert.Contains(entries[0], "package=logger")

	Tracef("tracing %d", 1)
	entries, totalEntries = target.Entries()
	assert.Equal(2, totalEntries)
	assert.Contains(entries[0], "tracing 1")

	err = fmt.Errorf("this is the error")
	ErrorfWithError(err, "we had an error!")
	entries, _ = target.Entries()
	assert.Contains(entries[0], "level=error")
	assert.Contains(entries[0], "this is the error")
	assert.Contains(entries[1], "tracing 1")

	nested := testNestedFunc(target)
	assert.Contains(nested, "function=testNestedFunc")
	assert.Contains(nested, "level=warning")

	assert.Panics(func() { PanicfWithError(err, "must panic") })
	entries, _ = target.Entries()
	assert.Contains(entries[0], "must panic")

	err = Down()
	assert.Nil(err)
}

func TestTraceDisabled(t *testing.T) {
	var (
		target LogTarget
	)

	confMap, err := conf.MakeConfMapFromStrings([]string{
		"Logging.LogToConsole=false",
		"Logging.TraceLevelLogging=none",
	})
	if nil != err {
		t.Fatalf("%v", err)
	}

	err = Up(confMap)
	if nil != err {
		t.Fatalf("logger.Up() failed: %v", err)
	}

	target.Init(4)
	AddLogTarget(target)

	Tracef("should not appear")
	_, totalEntries := target.Entries()
	assert.Equal(t, 0, totalEntries)

	Infof("should appear")
	_, totalEntries = target.Entries()
	assert.Equal(t, 1, totalEntries)

	err = Down()
	assert.Nil(t, err)
}

func TestLogFile(t *testing.T) {
	tempDir, err := ioutil.TempDir("", "logger_test")
	if nil != err {
		t.Fatalf("%v", err)
	}
	defer os.RemoveAll(tempDir)

	logFilePath := filepath.Join(tempDir, "blockcache.log")

	confMap, err := conf.MakeConfMapFromStrings([]string{
		"Logging.LogFilePath=" + logFilePath,
	})
	if nil != err {
		t.Fatalf("%v", err)
	}

	err = Up(confMap)
	if nil != err {
		t.Fatalf("logger.Up() failed: %v", err)
	}

	Infof("written to file")

	err = Down()
	assert.Nil(t, err)

	contents, err := ioutil.ReadFile(logFilePath)
	assert.Nil(t, err)
	assert.True(t, strings.Contains(string(contents), "written to file"))
}
