// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blunder

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestValues(t *testing.T) {
	assert.Equal(t, int(unix.EPERM), NotPermError.Value())
	assert.Equal(t, int(unix.EIO), IOError.Value())
	assert.Equal(t, int(unix.ENODEV), NoDeviceError.Value())
	assert.Equal(t, int(unix.EINVAL), InvalidArgError.Value())
	assert.Equal(t, int(unix.ERANGE), OutOfRangeError.Value())
	assert.Equal(t, int(unix.ENOBUFS), NoBufferSpaceError.Value())
	assert.Equal(t, 1000, CorruptImageError.Value())

	assert.Equal(t, "NoBufferSpaceError", NoBufferSpaceError.String())
	assert.Equal(t, "BlockError(4242)", BlockError(4242).String())
}

func TestDefaultErrno(t *testing.T) {
	var (
		err error
	)

	// Since err is nil, the value should be successErrno
	assert.Equal(t, successErrno, Errno(err))
	assert.True(t, IsSuccess(err))
	assert.Equal(t, "", ErrorString(err))

	// A plain error carries no value
	err = fmt.Errorf("plain error")
	assert.Equal(t, failureErrno, Errno(err))
	assert.True(t, IsNotSuccess(err))
	assert.Equal(t, "plain error", ErrorString(err))
}

func TestNewError(t *testing.T) {
	err := NewError(OutOfRangeError, "block %v beyond device end %v", 12, 10)

	assert.True(t, Is(err, OutOfRangeError))
	assert.True(t, IsNot(err, IOError))
	assert.Equal(t, int(unix.ERANGE), Errno(err))
	assert.Equal(t, "block 12 beyond device end 10", err.Error())
	assert.Equal(t, "block 12 beyond device end 10. Error Value: OutOfRangeError", ErrorString(err))

	file, line := Location(err)
	assert.True(t, strings.HasSuffix(file, "api_test.go"))
	assert.NotEqual(t, 0, line)

	assert.Contains(t, Stacktrace(err), "TestNewError")
	assert.Contains(t, Details(err), "block 12 beyond device end 10")
	assert.Contains(t, SourceLine(err), "api_test.go")
}

func TestAddError(t *testing.T) {
	err := AddError(nil, NoDeviceError)
	assert.True(t, Is(err, NoDeviceError))

	err = AddError(fmt.Errorf("pread failed"), IOError)
	assert.True(t, Is(err, IOError))
	assert.Equal(t, "pread failed", err.Error())

	// Replacement of an existing value
	err = AddError(err, CorruptImageError)
	assert.True(t, Is(err, CorruptImageError))
	assert.True(t, IsNot(err, IOError))
}
