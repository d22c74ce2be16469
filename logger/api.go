// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides logging wrappers
//
// These wrappers allow us to standardize logging while still using a third-party
// logging package.
//
// This package is currently implemented on top of the sirupsen/logrus package:
//   https://github.com/sirupsen/logrus
//
// The APIs here add package, calling function, and goroutine to all logs.
//
// Trace logs are enabled/disabled on a per package basis.
package logger

import (
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/blockcache/utils"
)

type Level int

// Our logging levels
//
// Trace is finer grained than logrus supports (it is enabled per package),
// so levels are mapped to logrus levels before calling logrus APIs.
//
const (
	// PanicLevel corresponds to logrus.PanicLevel; logrus will log and then call panic with the log entry
	PanicLevel Level = iota
	// FatalLevel corresponds to logrus.FatalLevel; logrus will log and then call os.Exit(1)
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	// TraceLevel logs are emitted (at logrus.InfoLevel) only for packages enabled
	// via [Logging]TraceLevelLogging
	TraceLevel
)

// Log fields supported by logger
const (
	packageKey  string = "package"
	functionKey string = "function"
	errorKey    string = "error"
	gidKey      string = "goroutine"
)

var backtraceOneLevel int = 1

// packageTraceSettings controls whether tracing is enabled for particular packages.
//
// In order to enable tracing for a package using the "Logging.TraceLevelLogging"
// config variable, the package must be in this map.
//
var (
	traceLevelEnabled    = false
	packageTraceSettings = map[string]bool{
		"bcache":      false,
		"blockdev":    false,
		"conf":        false,
		"logger":      false,
		"sleeplock":   false,
		"trackedlock": false,
	}
	packageTraceSettingsLock sync.Mutex
)

func setTraceLoggingLevel(confStrSlice []string) {
	var (
		enabledPkgs []string
	)

	packageTraceSettingsLock.Lock()

	traceLevelEnabled = false
	for pkg := range packageTraceSettings {
		packageTraceSettings[pkg] = false
	}

HandlePkgs:
	for _, pkg := range confStrSlice {
		switch pkg {
		case "none":
			traceLevelEnabled = false
			for pkg := range packageTraceSettings {
				packageTraceSettings[pkg] = false
			}
			enabledPkgs = nil
			break HandlePkgs
		default:
			if _, ok := packageTraceSettings[pkg]; ok {
				packageTraceSettings[pkg] = true
				traceLevelEnabled = true
				enabledPkgs = append(enabledPkgs, pkg)
			}
		}
	}

	packageTraceSettingsLock.Unlock()

	for _, pkg := range enabledPkgs {
		Infof("Package %v trace logging is enabled.", pkg)
	}
}

func traceEnabled(pkg string) (isEnabled bool) {
	packageTraceSettingsLock.Lock()
	isEnabled = packageTraceSettings[pkg]
	packageTraceSettingsLock.Unlock()
	return
}

func logEnabled(level Level) bool {
	if (level == TraceLevel) && !traceLevelEnabled {
		return false
	}
	return true
}

// newLogEntry extracts the calling function from the call stack and returns
// a logrus entry carrying it and fields (which may be nil).
//
func newLogEntry(level int, fields log.Fields) (entry *log.Entry, pkg string) {
	var (
		fn  string
		gid uint64
	)

	fn, pkg, gid = utils.GetFuncPackage(level + 1)

	if nil == fields {
		fields = make(log.Fields)
	}
	fields[functionKey] = fn
	fields[packageKey] = pkg
	fields[gidKey] = gid

	entry = log.WithFields(fields)

	return
}

// emit is the common low-level logging function used internal to this package.
//
func emit(level Level, entry *log.Entry, pkg string, logString string) {
	switch level {
	case PanicLevel:
		entry.Panic(logString)
	case FatalLevel:
		entry.Fatal(logString)
	case ErrorLevel:
		entry.Error(logString)
	case WarnLevel:
		entry.Warn(logString)
	case InfoLevel:
		entry.Info(logString)
	case TraceLevel:
		if traceEnabled(pkg) {
			entry.Info(logString)
		}
	}
}

func logf(level Level, err error, format string, args ...interface{}) {
	var (
		fields log.Fields
	)

	if !logEnabled(level) {
		return
	}

	if nil != err {
		fields = log.Fields{errorKey: err}
	}

	// skip logf() and its exported caller
	entry, pkg := newLogEntry(backtraceOneLevel+1, fields)

	emit(level, entry, pkg, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	logf(ErrorLevel, nil, format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logf(FatalLevel, nil, format, args...)
}

func Infof(format string, args ...interface{}) {
	logf(InfoLevel, nil, format, args...)
}

func Panicf(format string, args ...interface{}) {
	logf(PanicLevel, nil, format, args...)
}

func Tracef(format string, args ...interface{}) {
	logf(TraceLevel, nil, format, args...)
}

func Warnf(format string, args ...interface{}) {
	logf(WarnLevel, nil, format, args...)
}

func ErrorfWithError(err error, format string, args ...interface{}) {
	logf(ErrorLevel, err, format, args...)
}

func FatalfWithError(err error, format string, args ...interface{}) {
	logf(FatalLevel, err, format, args...)
}

func InfofWithError(err error, format string, args ...interface{}) {
	logf(InfoLevel, err, format, args...)
}

// PanicfWithError logs at PanicLevel and then panics with the *logrus.Entry.
//
func PanicfWithError(err error, format string, args ...interface{}) {
	logf(PanicLevel, err, format, args...)
}

func TracefWithError(err error, format string, args ...interface{}) {
	logf(TraceLevel, err, format, args...)
}

func WarnfWithError(err error, format string, args ...interface{}) {
	logf(WarnLevel, err, format, args...)
}

// AddLogTarget adds another target for log messages to be written to.
// writer is called once for each log message.
//
// Logger.Up() must be called before this function is used.
//
func AddLogTarget(writer io.Writer) {
	addLogTarget(writer)
}

// LogBuffer captures the most recent n lines of log. Useful for writing test cases.
//
type LogBuffer struct {
	sync.Mutex
	LogEntries   []string // most recent log entry is [0]
	TotalEntries int      // count of all entries seen
}

type LogTarget struct {
	LogBuf *LogBuffer
}

// Init initializes a LogTarget to hold up to nEntry log entries.
//
func (target *LogTarget) Init(nEntry int) {
	target.LogBuf = &LogBuffer{TotalEntries: 0}
	target.LogBuf.LogEntries = make([]string, nEntry)
}

// Write is called by logger for each log entry
//
func (target LogTarget) Write(p []byte) (n int, err error) {
	target.LogBuf.Lock()

	target.LogBuf.TotalEntries++
	copy(target.LogBuf.LogEntries[1:], target.LogBuf.LogEntries[:len(target.LogBuf.LogEntries)-1])
	target.LogBuf.LogEntries[0] = string(p)

	target.LogBuf.Unlock()

	n = len(p)
	err = nil
	return
}

// Entries returns a copy of the captured entries (most recent first).
//
func (target LogTarget) Entries() (entries []string, totalEntries int) {
	target.LogBuf.Lock()
	entries = make([]string, len(target.LogBuf.LogEntries))
	copy(entries, target.LogBuf.LogEntries)
	totalEntries = target.LogBuf.TotalEntries
	target.LogBuf.Unlock()
	return
}
