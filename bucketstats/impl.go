// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bucketstats

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"
)

var (
	pkgNameToGroupName map[string]map[string]interface{}
	statsNameMapLock   sync.Mutex
)

// isStatType returns true if fieldType is one of the statistics types.
//
func isStatType(fieldType reflect.Type) bool {
	switch fieldType {
	case reflect.TypeOf(Total{}), reflect.TypeOf(Average{}), reflect.TypeOf(BucketLog2Round{}):
		return true
	}
	return false
}

func checkStatsStruct(statsGroupName string, statsStruct interface{}) (structAsValue reflect.Value) {
	if reflect.TypeOf(statsStruct).Kind() != reflect.Ptr ||
		reflect.ValueOf(statsStruct).Elem().Type().Kind() != reflect.Struct {
		panic(fmt.Sprintf("statsStruct for statistics group '%s' is (%s), should be (*struct)",
			statsGroupName, reflect.TypeOf(statsStruct)))
	}

	structAsValue = reflect.ValueOf(statsStruct).Elem()
	return
}

// Register a set of statistics, where the statistics are one or more fields in
// the passed structure.
//
func register(pkgName string, statsGroupName string, statsStruct interface{}) {
	var (
		ok bool
	)

	if "" == pkgName && "" == statsGroupName {
		panic(fmt.Sprintf("statistics group must have non-empty pkgName or statsGroupName"))
	}

	structAsValue := checkStatsStruct(statsGroupName, statsStruct)
	structAsType := structAsValue.Type()

	// find all the statistics fields and fill in their Names, which must be unique
	names := make(map[string]struct{})

	for i := 0; i < structAsType.NumField(); i++ {
		fieldName := structAsType.Field(i).Name
		fieldAsValue := structAsValue.Field(i)

		if !isStatType(structAsType.Field(i).Type) {
			continue
		}

		if !fieldAsValue.CanSet() {
			panic(fmt.Sprintf("statistics group '%s' field %s must be exported to be usable by bucketstats",
				statsGroupName, fieldName))
		}

		statNameValue := fieldAsValue.FieldByName("Name")
		if "" == statNameValue.String() {
			statNameValue.SetString(fieldName)
		} else {
			statNameValue.SetString(scrubName(statNameValue.String()))
		}
		_, ok = names[statNameValue.String()]
		if ok {
			panic(fmt.Sprintf("stats '%s' field %s Name '%s' is already in use",
				statsGroupName, fieldName, statNameValue))
		}
		names[statNameValue.String()] = struct{}{}

		v, isBucket := (fieldAsValue.Addr().Interface()).(*BucketLog2Round)
		if isBucket {
			if v.NBucket == 0 || v.NBucket > uint(len(v.statBuckets)) {
				v.NBucket = uint(len(v.statBuckets))
			} else if v.NBucket < 10 {
				v.NBucket = 10
			}
		}
	}

	statsGroupName = scrubName(statsGroupName)
	pkgName = scrubName(pkgName)

	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	if nil == pkgNameToGroupName {
		pkgNameToGroupName = make(map[string]map[string]interface{})
	}
	if nil == pkgNameToGroupName[pkgName] {
		pkgNameToGroupName[pkgName] = make(map[string]interface{})
	}

	if nil != pkgNameToGroupName[pkgName][statsGroupName] {
		panic(fmt.Sprintf("pkgName '%s' with statsGroupName '%s' is already registered",
			pkgName, statsGroupName))
	}
	pkgNameToGroupName[pkgName][statsGroupName] = statsStruct
}

func unRegister(pkgName string, statsGroupName string) {
	statsGroupName = scrubName(statsGroupName)
	pkgName = scrubName(pkgName)

	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	if nil != pkgNameToGroupName[pkgName] {
		delete(pkgNameToGroupName[pkgName], statsGroupName)

		if 0 == len(pkgNameToGroupName[pkgName]) {
			delete(pkgNameToGroupName, pkgName)
		}
	}
}

func sortedKeys(m map[string]map[string]interface{}) (keys []string) {
	keys = make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return
}

// Return the selected group(s) of statistics as a string.
//
func sprintStats(stringFmt StatStringFormat, pkgName string, statsGroupName string) (statValues string) {
	var (
		groupNames []string
		pkgNames   []string
	)

	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	if "*" == pkgName {
		pkgNames = sortedKeys(pkgNameToGroupName)
	} else {
		pkgNames = []string{scrubName(pkgName)}
	}

	for _, pkg := range pkgNames {
		if "*" == statsGroupName {
			groupNames = make([]string, 0, len(pkgNameToGroupName[pkg]))
			for group := range pkgNameToGroupName[pkg] {
				groupNames = append(groupNames, group)
			}
			sort.Strings(groupNames)
		} else {
			groupNames = []string{scrubName(statsGroupName)}
		}

		for _, group := range groupNames {
			statsStruct, ok := pkgNameToGroupName[pkg][group]
			if !ok {
				panic(fmt.Sprintf("bucketstats.sprintStats(): statistics group '%s.%s' is not registered",
					pkg, group))
			}
			statValues += sprintStatsStruct(stringFmt, pkg, group, statsStruct)
		}
	}

	return
}

func sprintStatsStruct(stringFmt StatStringFormat, pkgName string, statsGroupName string,
	statsStruct interface{}) (statValues string) {

	structAsValue := checkStatsStruct(statsGroupName, statsStruct)
	structAsType := structAsValue.Type()

	for i := 0; i < structAsType.NumField(); i++ {
		if !isStatType(structAsType.Field(i).Type) {
			continue
		}

		statValues += (structAsValue.Field(i).Addr().Interface()).(Totaler).Sprint(stringFmt, pkgName, statsGroupName)
	}

	return
}

// Construct and return a statistics name (fully qualified field name) in the specified format.
//
func statisticName(pkgName string, statsGroupName string, fieldName string) string {
	switch {
	case "" == pkgName:
		return statsGroupName + "." + fieldName
	case "" == statsGroupName:
		return pkgName + "." + fieldName
	default:
		return pkgName + "." + statsGroupName + "." + fieldName
	}
}

func (this *Total) sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	statName := statisticName(pkgName, statsGroupName, this.Name)

	switch stringFmt {
	case StatFormatParsable1:
		return fmt.Sprintf("%s total:%d\n", statName, this.TotalGet())
	}

	return fmt.Sprintf("statName '%s': Unknown StatStringFormat: '%v'\n", statName, stringFmt)
}

func (this *Average) sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	statName := statisticName(pkgName, statsGroupName, this.Name)

	switch stringFmt {
	case StatFormatParsable1:
		return fmt.Sprintf("%s total:%d count:%d avg:%d\n",
			statName, this.TotalGet(), this.CountGet(), this.AverageGet())
	}

	return fmt.Sprintf("statName '%s': Unknown StatStringFormat: '%v'\n", statName, stringFmt)
}

func (this *BucketLog2Round) nBucket() uint {
	if 0 == this.NBucket || this.NBucket > uint(len(this.statBuckets)) {
		return uint(len(this.statBuckets))
	}
	return this.NBucket
}

// log2RoundIdx returns the index of the bucket whose nominal value, 2^(idx-1),
// is closest to value (ties round up); 0 maps to index 0.
//
func log2RoundIdx(value uint64) uint {
	if 0 == value {
		return 0
	}

	floorLog2 := uint(bits.Len64(value)) - 1
	lower := uint64(1) << floorLog2
	distToUpper := (lower << 1) - value // wraps correctly to 2^64 - value when floorLog2 == 63

	if value-lower >= distToUpper {
		return floorLog2 + 2
	}
	return floorLog2 + 1
}

// log2RoundRangeLow returns the smallest value mapping to bucket idx.
//
func log2RoundRangeLow(idx uint) uint64 {
	switch idx {
	case 0, 1, 2:
		return uint64(idx)
	default:
		return uint64(3) << (idx - 3)
	}
}

// Return a filled in BucketInfo array for a Log2Round statistic.
//
func bucketDistMake(nBucket uint, statBuckets []uint32) (bucketInfo []BucketInfo) {
	bucketInfo = make([]BucketInfo, nBucket)

	for i := uint(0); i < nBucket; i++ {
		bucketInfo[i].Count = uint64(statBuckets[i])
		if 0 < i {
			bucketInfo[i].NominalVal = uint64(1) << (i - 1)
		}
		bucketInfo[i].RangeLow = log2RoundRangeLow(i)
		if i == nBucket-1 {
			bucketInfo[i].RangeHigh = math.MaxUint64
		} else {
			bucketInfo[i].RangeHigh = log2RoundRangeLow(i+1) - 1
		}

		mean := bucketInfo[i].RangeLow / 2
		mean += bucketInfo[i].RangeHigh / 2
		bothOdd := bucketInfo[i].RangeLow & bucketInfo[i].RangeHigh & 0x1
		mean += bothOdd
		bucketInfo[i].MeanVal = mean
	}

	return
}

// Given the distribution of values in buckets, compute the index of the last
// non-empty bucket, the count, the (approximate) sum, and the mean.
//
func bucketCalcStat(bucketInfo []BucketInfo) (lastIdx int, count uint64, sum uint64, mean uint64) {
	var (
		bigMean    big.Int
		bigProduct big.Int
		bigSum     big.Int
		bigTmp     big.Int
	)

	for i := 0; i < len(bucketInfo); i++ {
		count += bucketInfo[i].Count

		bigTmp.SetUint64(bucketInfo[i].Count)
		bigProduct.SetUint64(bucketInfo[i].MeanVal)
		bigProduct.Mul(&bigProduct, &bigTmp)
		bigSum.Add(&bigSum, &bigProduct)

		if 0 < bucketInfo[i].Count {
			lastIdx = i
		}
	}
	if 0 < count {
		bigTmp.SetUint64(count)
		bigMean.Div(&bigSum, &bigTmp)
	}

	mean = bigMean.Uint64()
	sum = bigSum.Uint64()

	return
}

// Return a string for a bucketized statistic in the specified format.
//
// Buckets with nominal values below 1024 are labeled with their value;
// larger ones as powers of 2.
//
func bucketSprint(stringFmt StatStringFormat, pkgName string, statsGroupName string, fieldName string,
	bucketInfo []BucketInfo) string {

	lastIdx, count, sum, mean := bucketCalcStat(bucketInfo)
	statName := statisticName(pkgName, statsGroupName, fieldName)

	switch stringFmt {
	case StatFormatParsable1:
		line := fmt.Sprintf("%s total:%d count:%d avg:%d", statName, sum, count, mean)

		for idx := 0; idx <= lastIdx && 0 < count; idx++ {
			if bucketInfo[idx].NominalVal < 1024 {
				line += fmt.Sprintf(" %d:%d", bucketInfo[idx].NominalVal, bucketInfo[idx].Count)
			} else {
				line += fmt.Sprintf(" 2^%d:%d", idx-1, bucketInfo[idx].Count)
			}
		}
		return line + "\n"
	}

	return fmt.Sprintf("StatisticName '%s': Unknown StatStringFormat: '%v'\n", statName, stringFmt)
}

// Replace illegal characters in names with underbar (`_`)
//
func scrubName(name string) string {
	replaceChar := func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return '_'
		case !unicode.IsPrint(r):
			return '_'
		case r == '*':
			return '_'
		case r == ':':
			return '_'
		case r == '#':
			return '_'
		}
		return r
	}

	return strings.Map(replaceChar, name)
}
