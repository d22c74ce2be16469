// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package bucketstats implements easy to use statistics collection and
// reporting, including bucketized statistics.  Statistics start at zero and
// grow as they are added to.
//
// The statistics provided include totals and averages as well as a
// distribution of values into power-of-two buckets.
//
// To use this package, a client defines a struct whose exported fields are
// statistic types (Total, Average, BucketLog2Round) and registers it:
//
//   type cacheStats struct {
//       Reads     bucketstats.Total
//       ScanWidth bucketstats.BucketLog2Round
//   }
//
//   bucketstats.Register("bcache", "primary", &stats)
//
// Register fills in each statistic's Name from its field name (if not already
// set).  Statistics are updated via Add() or Increment() and may be dumped via
// SprintStats().  Updates are atomic; a Sprint may observe a statistic midway
// through a set of related updates.
//
package bucketstats

import (
	"sync/atomic"
)

type StatStringFormat int

const (
	StatFormatParsable1 StatStringFormat = iota
)

// A Totaler can be incremented, or added to, and tracks the total value of all
// values added.
//
type Totaler interface {
	Increment()
	Add(value uint64)
	TotalGet() (total uint64)
	Sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) (values string)
}

// An Averager is a Totaler with an average (mean) function added.
//
// This adds a CountGet() function that returns the number of values added as
// well as an AverageGet() method.
//
type Averager interface {
	Totaler
	CountGet() (count uint64)
	AverageGet() (avg uint64)
}

// BucketInfo describes a single bucket of a distribution.
//
type BucketInfo struct {
	Count      uint64 // number of values added to the bucket
	NominalVal uint64 // nominal value of the bucket (a power of 2, or 0)
	MeanVal    uint64 // mean value for values added to the bucket (assuming uniform distribution)
	RangeLow   uint64 // lowest value that maps to this bucket
	RangeHigh  uint64 // highest value that maps to this bucket
}

// A Bucketer is an Averager that also tracks the distribution of values by
// grouping them into buckets.
//
type Bucketer interface {
	Averager
	DistGet() []BucketInfo
}

// Register and initialize a set of statistics.
//
// statsStruct is a pointer to a struct which has one or more fields holding
// statistics.  Register() panics if pkgName and statsGroupName are both empty,
// if the group is already registered, or if two statistics share a Name.
//
func Register(pkgName string, statsGroupName string, statsStruct interface{}) {
	register(pkgName, statsGroupName, statsStruct)
}

// UnRegister a set of statistics.
//
// Once unregistered, the same or a different set of statistics can be
// registered using the same name.
//
func UnRegister(pkgName string, statsGroupName string) {
	unRegister(pkgName, statsGroupName)
}

// SprintStats prints the statistics for a group, or all groups (statsGroupName
// == "*"), of a package, or all packages (pkgName == "*").
//
func SprintStats(stringFmt StatStringFormat, pkgName string, statsGroupName string) (values string) {
	return sprintStats(stringFmt, pkgName, statsGroupName)
}

// Total is a simple totaler. It supports the Totaler interface.
//
type Total struct {
	total uint64 // Ensure 64-bit alignment
	Name  string
}

// Add a value to the total.
//
func (this *Total) Add(value uint64) {
	atomic.AddUint64(&this.total, value)
}

// Increment the total by 1.
//
func (this *Total) Increment() {
	atomic.AddUint64(&this.total, 1)
}

func (this *Total) TotalGet() uint64 {
	return atomic.LoadUint64(&this.total)
}

// Sprint returns a string with the statistic's value in the specified format.
//
func (this *Total) Sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	return this.sprint(stringFmt, pkgName, statsGroupName)
}

// Average counts a number of items and their average size. It supports the
// Averager interface.
//
type Average struct {
	count uint64 // Ensure 64-bit alignment
	total uint64 // Ensure 64-bit alignment
	Name  string
}

// Add a value to the average.
//
func (this *Average) Add(value uint64) {
	atomic.AddUint64(&this.total, value)
	atomic.AddUint64(&this.count, 1)
}

// Increment adds the value 1.
//
func (this *Average) Increment() {
	this.Add(1)
}

func (this *Average) CountGet() uint64 {
	return atomic.LoadUint64(&this.count)
}

func (this *Average) TotalGet() uint64 {
	return atomic.LoadUint64(&this.total)
}

// AverageGet returns 0 if nothing has been added.
//
func (this *Average) AverageGet() uint64 {
	count := atomic.LoadUint64(&this.count)
	if 0 == count {
		return 0
	}
	return atomic.LoadUint64(&this.total) / count
}

func (this *Average) Sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	return this.sprint(stringFmt, pkgName, statsGroupName)
}

// BucketLog2Round holds bucketized statistics where the stats value is placed
// in the bucket whose nominal value is the power of 2 closest to it.
//
// Bucket 0 holds the value 0 and bucket n (n > 0) holds values nearest 2^(n-1).
// Values too big for the last bucket (NBucket - 1) are placed in it.
//
// NBucket may be set to the number of buckets wanted (10 to 65); if left 0 it
// defaults to 65.
//
type BucketLog2Round struct {
	Name        string
	NBucket     uint
	statBuckets [65]uint32
}

// Add a value to the bucketized statistic.
//
func (this *BucketLog2Round) Add(value uint64) {
	idx := log2RoundIdx(value)
	if idx > this.nBucket()-1 {
		idx = this.nBucket() - 1
	}

	atomic.AddUint32(&this.statBuckets[idx], 1)
}

// Increment adds the value 1.
//
func (this *BucketLog2Round) Increment() {
	this.Add(1)
}

func (this *BucketLog2Round) CountGet() uint64 {
	_, count, _, _ := bucketCalcStat(this.DistGet())
	return count
}

// TotalGet returns the approximate total (bucket mean values times their counts).
//
func (this *BucketLog2Round) TotalGet() uint64 {
	_, _, total, _ := bucketCalcStat(this.DistGet())
	return total
}

func (this *BucketLog2Round) AverageGet() uint64 {
	_, _, _, mean := bucketCalcStat(this.DistGet())
	return mean
}

// DistGet returns the distribution of values across buckets.
//
func (this *BucketLog2Round) DistGet() []BucketInfo {
	return bucketDistMake(this.nBucket(), this.statBuckets[:])
}

func (this *BucketLog2Round) Sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	return bucketSprint(stringFmt, pkgName, statsGroupName, this.Name, this.DistGet())
}
