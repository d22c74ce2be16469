// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package halter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/blockcache/conf"
)

func TestAPI(t *testing.T) {
	var (
		haltErr error
	)

	assert := assert.New(t)

	assert.Nil(Up(conf.MakeConfMap()))
	defer func() { _ = Down() }()

	ConfigureTestModeHaltCB(func(err error) { haltErr = err })

	assert.Equal(0, len(Dump()))
	assert.Equal(HaltLabelStrings, List())

	err := Arm("halter.testHaltLabel0", 1)
	assert.EqualError(err, "halter.Arm(haltLabelString='halter.testHaltLabel0',) - label unknown")

	err = Arm("halter.testHaltLabel1", 0)
	assert.EqualError(err, "halter.Arm(haltLabelString='halter.testHaltLabel1',) called with haltAfterCount==0")

	assert.Nil(Arm("halter.testHaltLabel1", 1))
	assert.Equal(map[string]uint32{"halter.testHaltLabel1": 1}, Dump())

	assert.Nil(Arm("halter.testHaltLabel2", 2))
	assert.Equal(map[string]uint32{"halter.testHaltLabel1": 1, "halter.testHaltLabel2": 2}, Dump())

	err = Disarm("halter.testHaltLabel0")
	assert.EqualError(err, "halter.Disarm(haltLabelString='halter.testHaltLabel0') - label unknown")

	assert.Nil(Disarm("halter.testHaltLabel1"))
	assert.Equal(map[string]uint32{"halter.testHaltLabel2": 2}, Dump())

	// disarmed label is a no-op
	Trigger(apiTestHaltLabel1)
	assert.Nil(haltErr)

	Trigger(apiTestHaltLabel2)
	assert.Nil(haltErr)
	assert.Equal(map[string]uint32{"halter.testHaltLabel2": 1}, Dump())

	Trigger(apiTestHaltLabel2)
	assert.EqualError(haltErr, "halter.Trigger(halter.testHaltLabel2) triggered HALT")
	assert.Equal(0, len(Dump()))
}

func TestUpArmsFromConf(t *testing.T) {
	assert := assert.New(t)

	confMap, err := conf.MakeConfMapFromStrings([]string{
		"Halter.ArmedTriggers=bcache.write_AfterTransfer:3,halter.testHaltLabel1:1",
	})
	assert.Nil(err)

	assert.Nil(Up(confMap))
	assert.Equal(map[string]uint32{"bcache.write_AfterTransfer": 3, "halter.testHaltLabel1": 1}, Dump())

	assert.Nil(Down())
	assert.Equal(0, len(Dump()))

	assert.Nil(confMap.UpdateFromString("Halter.ArmedTriggers=bcache.write_AfterTransfer"))
	assert.NotNil(Up(confMap))

	assert.Nil(confMap.UpdateFromString("Halter.ArmedTriggers=bcache.nowhere:2"))
	assert.NotNil(Up(confMap))

	assert.Nil(Down())
}
