// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package statslogger

// SimpleStats tracks the min, max, and mean of a gauge's samples over a
// logging period.
//
type SimpleStats struct {
	min     int64
	max     int64
	total   int64
	samples int64
}

func (sp *SimpleStats) Clear() {
	*sp = SimpleStats{}
}

func (sp *SimpleStats) Sample(cnt int64) {
	if (0 == sp.samples) || (sp.min > cnt) {
		sp.min = cnt
	}
	if (0 == sp.samples) || (sp.max < cnt) {
		sp.max = cnt
	}
	sp.total += cnt
	sp.samples++
}

func (sp *SimpleStats) Mean() int64 {
	if 0 == sp.samples {
		return 0
	}
	return sp.total / sp.samples
}

func (sp *SimpleStats) Min() int64 {
	return sp.min
}

func (sp *SimpleStats) Max() int64 {
	return sp.max
}

func (sp *SimpleStats) Samples() int64 {
	return sp.samples
}
