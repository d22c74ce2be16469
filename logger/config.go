// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/blockcache/conf"
)

// multiWriter fans each log entry out to every registered io.Writer
//
type multiWriter struct {
	sync.Mutex
	writers []io.Writer
}

func (mw *multiWriter) addWriter(writer io.Writer) {
	mw.Lock()
	mw.writers = append(mw.writers, writer)
	mw.Unlock()
}

func (mw *multiWriter) Write(p []byte) (n int, err error) {
	mw.Lock()
	defer mw.Unlock()

	for _, writer := range mw.writers {
		n, err = writer.Write(p)
		// regardless of the error, keep going
	}
	n = len(p)
	return
}

func (mw *multiWriter) clear() {
	mw.Lock()
	mw.writers = nil
	mw.Unlock()
}

var (
	logFile     *os.File
	logTargets  multiWriter
	logOutput   multiWriter
	logUpCalled bool
)

// Up configures logging from the [Logging] section of confMap:
//
//   [Logging]
//   LogFilePath:       <path>                  ; optional
//   LogToConsole:      true|false              ; defaults to false if LogFilePath is set
//   TraceLevelLogging: bcache blockdev ...     ; or "none"
//
// With neither LogFilePath nor LogToConsole set, logs go to os.Stderr.
//
func Up(confMap conf.ConfMap) (err error) {
	var (
		logFilePath       string
		logToConsole      bool
		traceLevelLogging []string
	)

	log.SetFormatter(&log.TextFormatter{DisableColors: true})

	logOutput.clear()

	logFilePath, err = confMap.FetchOptionValueString("Logging", "LogFilePath")
	if nil != err {
		logFilePath = ""
	}

	if "" != logFilePath {
		logFile, err = os.OpenFile(logFilePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if nil != err {
			log.Errorf("couldn't open log file %s: %v", logFilePath, err)
			return
		}
		logOutput.addWriter(logFile)
	}

	logToConsole, err = confMap.FetchOptionValueBool("Logging", "LogToConsole")
	if nil != err {
		logToConsole = ("" == logFilePath)
	}
	if logToConsole {
		logOutput.addWriter(os.Stderr)
	}

	logOutput.addWriter(&logTargets)

	log.SetOutput(&logOutput)

	// We always enable max logging in logrus and decide in this package whether to log
	log.SetLevel(log.DebugLevel)

	traceLevelLogging, err = confMap.FetchOptionValueStringSlice("Logging", "TraceLevelLogging")
	if nil != err {
		traceLevelLogging = []string{}
	}
	setTraceLoggingLevel(traceLevelLogging)

	logUpCalled = true

	err = nil
	return
}

// Down closes the log file (if any), drops added log targets, and reverts to logging to os.Stderr
//
func Down() (err error) {
	log.SetOutput(os.Stderr)

	logOutput.clear()
	logTargets.clear()

	if nil != logFile {
		err = logFile.Close()
		logFile = nil
	}

	setTraceLoggingLevel([]string{})

	logUpCalled = false

	return
}

func addLogTarget(writer io.Writer) {
	if !logUpCalled {
		log.Warnf("logger.AddLogTarget() called before logger.Up()")
	}
	logTargets.addWriter(writer)
}
