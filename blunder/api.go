// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blunder provides error-handling wrappers
//
// These wrappers allow callers to attach an errno-style BlockError value to
// an error while still using a third-party error package.
//
// This package is currently implemented on top of the ansel1/merry package:
//   https://github.com/ansel1/merry
//
//   merry comes with built-in support for adding information to errors:
//    - stacktraces
//    - overriding the error message
//    - HTTP error codes
//    - arbitrary additional information (via key-value pairs)
//
// The block device and buffer cache layers use it like this:
//
//   return blunder.NewError(blunder.OutOfRangeError, "block %v beyond device end %v", blockNumber, numBlocks)
//
//   if blunder.Is(err, blunder.NoDeviceError) { ... }
//
package blunder

import (
	"fmt"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/blockcache/logger"
)

// BlockError is an errno-style value attached to errors returned by the
// block device and buffer cache layers.
//
type BlockError int

const (
	NotPermError       BlockError = BlockError(int(unix.EPERM))   // Operation not permitted
	IOError            BlockError = BlockError(int(unix.EIO))     // I/O error
	NoDeviceError      BlockError = BlockError(int(unix.ENODEV))  // No such device
	InvalidArgError    BlockError = BlockError(int(unix.EINVAL))  // Invalid argument
	OutOfRangeError    BlockError = BlockError(int(unix.ERANGE))  // Block number beyond device end
	NoBufferSpaceError BlockError = BlockError(int(unix.ENOBUFS)) // No buffer space available
)

const SuccessError BlockError = 0

// Values outside the errno range
const ( // reset iota to 0
	CorruptImageError BlockError = 1000 + iota
	PackError
	UnpackError
)

const successErrno = 0
const failureErrno = -1

func (err BlockError) Value() int {
	return int(err)
}

func (err BlockError) String() string {
	switch err {
	case SuccessError:
		return "SuccessError"
	case NotPermError:
		return "NotPermError"
	case IOError:
		return "IOError"
	case NoDeviceError:
		return "NoDeviceError"
	case InvalidArgError:
		return "InvalidArgError"
	case OutOfRangeError:
		return "OutOfRangeError"
	case NoBufferSpaceError:
		return "NoBufferSpaceError"
	case CorruptImageError:
		return "CorruptImageError"
	case PackError:
		return "PackError"
	case UnpackError:
		return "UnpackError"
	default:
		return fmt.Sprintf("BlockError(%d)", int(err))
	}
}

// NewError creates a new merry/blunder.BlockError-annotated error using the given
// format string and arguments.
//
func NewError(errValue BlockError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue("errno", int(errValue))
}

// AddError is used to add a BlockError value to an error.
//
// If the error already carries a value it is replaced (and a warning logged).
//
func AddError(e error, errValue BlockError) error {
	if nil == e {
		// Caller didn't give us an error; make one up
		return merry.New("regular error").WithValue("errno", int(errValue))
	}

	prevValue := Errno(e)
	if (prevValue != successErrno) && (prevValue != failureErrno) && (prevValue != int(errValue)) {
		logger.Warnf("replacing error value %v with value %v for error %v", prevValue, int(errValue), e)
	}

	return merry.WrapSkipping(e, 1).WithValue("errno", int(errValue))
}

// Errno extracts the BlockError value (as an int) from an error.
//
// A nil error yields successErrno (0). An error without a value yields
// failureErrno (-1).
//
func Errno(e error) int {
	if nil == e {
		return successErrno
	}

	errno := failureErrno
	tmp := merry.Value(e, "errno")
	if nil != tmp {
		errno = tmp.(int)
	}

	return errno
}

// ErrorString returns e's message plus its BlockError value, if any.
//
func ErrorString(e error) string {
	if nil == e {
		return ""
	}

	errPlusVal := e.Error()

	tmp := merry.Value(e, "errno")
	if nil != tmp {
		errPlusVal = fmt.Sprintf("%s. Error Value: %v", errPlusVal, BlockError(tmp.(int)))
	}

	return errPlusVal
}

func Is(e error, theError BlockError) bool {
	return Errno(e) == theError.Value()
}

func IsNot(e error, theError BlockError) bool {
	return Errno(e) != theError.Value()
}

func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

func IsNotSuccess(e error) bool {
	return Errno(e) != successErrno
}

func Location(e error) (file string, line int) {
	file, line = merry.Location(e)
	return
}

func SourceLine(e error) string {
	return merry.SourceLine(e)
}

func Details(e error) string {
	return merry.Details(e)
}

func Stacktrace(e error) string {
	return merry.Stacktrace(e)
}
