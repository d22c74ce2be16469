// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package utils provides miscellaneous utilities for the block cache packages.
package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

var (
	goroutinePrefix = []byte("goroutine ")
	extractFnNameRE = regexp.MustCompile(`[^\/]*$`)
	extractPkgRE    = regexp.MustCompile(`^[^.]*`)
	extractFuncRE   = regexp.MustCompile(`[^.]*$`)
)

// I know our go-overlords would prefer that we knew nothing about goroutines,
// but lock ownership checks (see package sleeplock) and log context both need
// to identify the calling goroutine.

// GetGoId returns the ID of the calling goroutine.
//
func GetGoId() (goId uint64) {
	var (
		buf [64]byte
	)

	goId = StackTraceToGoId(buf[:runtime.Stack(buf[:], false)])

	return
}

// StackTraceToGoId extracts the goroutine ID from the first line of a stack
// trace as returned by runtime.Stack(). It returns 0 if none is found.
//
func StackTraceToGoId(stackTrace []byte) (goId uint64) {
	var (
		err      error
		spaceIdx int
	)

	if !bytes.HasPrefix(stackTrace, goroutinePrefix) {
		goId = 0
		return
	}

	stackTrace = stackTrace[len(goroutinePrefix):]

	spaceIdx = bytes.IndexByte(stackTrace, ' ')
	if 0 > spaceIdx {
		goId = 0
		return
	}

	goId, err = strconv.ParseUint(string(stackTrace[:spaceIdx]), 10, 64)
	if nil != err {
		goId = 0
	}

	return
}

// GetAFnName returns a string containing the calling function and package
// "level" frames up the stack from its caller.
//
func GetAFnName(level int) string {
	pc, _, _, ok := runtime.Caller(level + 1)
	if !ok {
		return "unknown.unknown"
	}

	return extractFnNameRE.FindString(runtime.FuncForPC(pc).Name())
}

// GetFuncPackage returns separate strings containing the calling function and
// package as well as the calling goroutine's ID.
//
func GetFuncPackage(level int) (fn string, pkg string, gid uint64) {
	funcPkg := GetAFnName(level + 1)

	pkg = extractPkgRE.FindString(funcPkg)
	fn = extractFuncRE.FindString(funcPkg)
	gid = GetGoId()

	return
}

// GetFnName returns a string containing the name of the running function and its package.
func GetFnName() string {
	return GetAFnName(1)
}

// JSONify returns a string form of input, optionally indented.
//
// On failure, the result is the %#v rendering of input rather than an error.
//
func JSONify(input interface{}, indentify bool) (output string) {
	var (
		err         error
		inputJSON   []byte
		outputBytes bytes.Buffer
	)

	inputJSON, err = json.Marshal(input)
	if nil != err {
		output = fmt.Sprintf("<<<%#v>>>", input)
		return
	}

	if indentify {
		err = json.Indent(&outputBytes, inputJSON, "", "\t")
		if nil != err {
			output = fmt.Sprintf("<<<%#v>>>", input)
			return
		}
		output = outputBytes.String()
	} else {
		output = string(inputJSON)
	}

	return
}

// Stopwatch measures elapsed time between NewStopwatch() (or Restart()) and Stop().
type Stopwatch struct {
	StartTime time.Time
	StopTime  time.Time
	ElapsedNs int64
	IsRunning bool
}

func NewStopwatch() *Stopwatch {
	return &Stopwatch{StartTime: time.Now(), IsRunning: true}
}

func (sw *Stopwatch) Stop() time.Duration {
	sw.StopTime = time.Now()
	sw.ElapsedNs = sw.StopTime.Sub(sw.StartTime).Nanoseconds()
	sw.IsRunning = false

	return time.Duration(sw.ElapsedNs)
}

func (sw *Stopwatch) Restart() {
	sw.StartTime = time.Now()
	sw.StopTime = time.Time{}
	sw.ElapsedNs = 0
	sw.IsRunning = true
}

// Elapsed returns the time since start if still running, else the stopped duration.
func (sw *Stopwatch) Elapsed() time.Duration {
	if sw.IsRunning {
		return time.Since(sw.StartTime)
	}

	return time.Duration(sw.ElapsedNs)
}

func (sw *Stopwatch) ElapsedUs() uint64 {
	return uint64(sw.Elapsed() / time.Microsecond)
}
