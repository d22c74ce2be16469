// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package halter

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/NVIDIA/blockcache/conf"
)

type globalsStruct struct {
	sync.Mutex
	armedTriggers         map[uint32]uint32 // key: haltLabel; value: haltAfterCount (remaining)
	triggerNamesToNumbers map[string]uint32
	triggerNumbersToNames map[uint32]string
	testModeHaltCB        func(err error)
}

var globals globalsStruct

// Up resets every trigger and arms those listed in [Halter]ArmedTriggers,
// each given as <label>:<haltAfterCount>.
//
func Up(confMap conf.ConfMap) (err error) {
	var (
		armedTrigger   string
		armedTriggers  []string
		haltAfterCount uint64
		labelAndCount  []string
	)

	globals.Lock()
	globals.armedTriggers = make(map[uint32]uint32)
	globals.triggerNamesToNumbers = make(map[string]uint32)
	globals.triggerNumbersToNames = make(map[uint32]string)
	for i, s := range HaltLabelStrings {
		globals.triggerNamesToNumbers[s] = uint32(i)
		globals.triggerNumbersToNames[uint32(i)] = s
	}
	globals.testModeHaltCB = nil
	globals.Unlock()

	armedTriggers, err = confMap.FetchOptionValueStringSlice("Halter", "ArmedTriggers")
	if nil != err {
		// none armed
		err = nil
		return
	}

	for _, armedTrigger = range armedTriggers {
		labelAndCount = strings.Split(armedTrigger, ":")
		if 2 != len(labelAndCount) {
			err = fmt.Errorf("[Halter]ArmedTriggers entry '%v' must be <label>:<haltAfterCount>", armedTrigger)
			return
		}
		haltAfterCount, err = strconv.ParseUint(labelAndCount[1], 10, 32)
		if nil != err {
			err = fmt.Errorf("[Halter]ArmedTriggers entry '%v' has bad haltAfterCount: %v", armedTrigger, err)
			return
		}
		err = Arm(labelAndCount[0], uint32(haltAfterCount))
		if nil != err {
			return
		}
	}

	return
}

// Down disarms every trigger.
//
func Down() (err error) {
	globals.Lock()
	globals.armedTriggers = make(map[uint32]uint32)
	globals.testModeHaltCB = nil
	globals.Unlock()

	err = nil
	return
}

// ConfigureTestModeHaltCB replaces halting with a call to testHalt (nil
// restores halting).  For tests only.
//
func ConfigureTestModeHaltCB(testHalt func(err error)) {
	globals.Lock()
	globals.testModeHaltCB = testHalt
	globals.Unlock()
}
