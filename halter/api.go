// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package halter provides named crash points.  A point armed with a count
// halts the process on that many calls to Trigger(), simulating a crash at a
// precise spot in the write-through path.
//
package halter

import (
	"fmt"
	"os"
	"syscall"

	"github.com/NVIDIA/blockcache/logger"
)

// The const block and HaltLabelStrings must be kept in sync.

const (
	apiTestHaltLabel1 = iota
	apiTestHaltLabel2
	BcacheWriteBeforeTransfer
	BcacheWriteAfterTransfer
	BcacheStealAfterUnlink
)

var (
	HaltLabelStrings = []string{
		"halter.testHaltLabel1",
		"halter.testHaltLabel2",
		"bcache.write_BeforeTransfer",
		"bcache.write_AfterTransfer",
		"bcache.steal_AfterUnlink",
	}
)

// Arm sets up a HALT on the haltAfterCount'th call to Trigger().
//
func Arm(haltLabelString string, haltAfterCount uint32) (err error) {
	globals.Lock()
	defer globals.Unlock()

	haltLabel, ok := globals.triggerNamesToNumbers[haltLabelString]
	if !ok {
		err = fmt.Errorf("halter.Arm(haltLabelString='%v',) - label unknown", haltLabelString)
		return
	}
	if 0 == haltAfterCount {
		err = fmt.Errorf("halter.Arm(haltLabelString='%v',) called with haltAfterCount==0", haltLabelString)
		return
	}

	globals.armedTriggers[haltLabel] = haltAfterCount

	err = nil
	return
}

// Disarm removes a trigger set up by Arm().
//
func Disarm(haltLabelString string) (err error) {
	globals.Lock()
	defer globals.Unlock()

	haltLabel, ok := globals.triggerNamesToNumbers[haltLabelString]
	if !ok {
		err = fmt.Errorf("halter.Disarm(haltLabelString='%v') - label unknown", haltLabelString)
		return
	}

	delete(globals.armedTriggers, haltLabel)

	err = nil
	return
}

// Trigger counts down haltLabel's trigger, if armed, and HALTs when it reaches 0.
//
func Trigger(haltLabel uint32) {
	globals.Lock()

	numTriggersRemaining, armed := globals.armedTriggers[haltLabel]
	if !armed {
		globals.Unlock()
		return
	}

	numTriggersRemaining--
	if 0 < numTriggersRemaining {
		globals.armedTriggers[haltLabel] = numTriggersRemaining
		globals.Unlock()
		return
	}

	delete(globals.armedTriggers, haltLabel)
	haltCB := globals.testModeHaltCB
	globals.Unlock()

	haltWithErr(fmt.Errorf("halter.Trigger(%v) triggered HALT", HaltLabelStrings[haltLabel]), haltCB)
}

// Dump returns the armed triggers and their remaining counts.
//
func Dump() (armedTriggers map[string]uint32) {
	globals.Lock()
	armedTriggers = make(map[string]uint32)
	for k, v := range globals.armedTriggers {
		armedTriggers[globals.triggerNumbersToNames[k]] = v
	}
	globals.Unlock()
	return
}

// List returns every known trigger label.
//
func List() (availableTriggers []string) {
	availableTriggers = make([]string, len(HaltLabelStrings))
	copy(availableTriggers, HaltLabelStrings)
	return
}

func haltWithErr(err error, haltCB func(err error)) {
	if nil != haltCB {
		haltCB(err)
		return
	}

	logger.ErrorfWithError(err, "halting")
	os.Exit(int(syscall.SIGKILL))
}
