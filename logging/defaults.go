//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package logging

import (
	"io"
	"log"
	"os"

	"github.com/google/uuid"
)

const (
	DefaultLogLevel = LogLevelInfo

	emptyLogFlags = 0
	stdLogFlags   = log.LstdFlags
	debugLogFlags = log.Lmicroseconds | log.Lshortfile
)

func levelPrefix(prefix string, level LogLevel) string {
	if prefix == "" {
		return level.String() + " "
	}
	return prefix + " " + level.String() + " "
}

// NewCommandLineLogger returns a logger configured
// to send non-error output to stdout and error
// output to stderr. The output format is suitable
// for command line utilities which don't want output
// to include timestamps and filenames.
func NewCommandLineLogger() *LeveledLogger {
	ll := &LeveledLogger{level: DefaultLogLevel}
	ll.AddDestination(LogLevelTrace, "TRACE ", debugLogFlags, os.Stdout)
	ll.AddDestination(LogLevelDebug, "DEBUG ", debugLogFlags, os.Stdout)
	ll.AddDestination(LogLevelInfo, "", emptyLogFlags, os.Stdout)
	ll.AddDestination(LogLevelNotice, "", emptyLogFlags, os.Stdout)
	ll.AddDestination(LogLevelError, "ERROR: ", emptyLogFlags, os.Stderr)
	return ll
}

// NewStdoutLogger returns a logger configured
// to send all output to stdout.
func NewStdoutLogger(prefix string) *LeveledLogger {
	return NewCombinedLogger(prefix, os.Stdout)
}

// NewCombinedLogger returns a logger configured
// to send all output to the supplied io.Writer.
func NewCombinedLogger(prefix string, output io.Writer) *LeveledLogger {
	ll := &LeveledLogger{level: DefaultLogLevel}
	for _, level := range []LogLevel{LogLevelTrace, LogLevelDebug} {
		ll.AddDestination(level, levelPrefix(prefix, level), debugLogFlags, output)
	}
	for _, level := range []LogLevel{LogLevelInfo, LogLevelNotice, LogLevelError} {
		ll.AddDestination(level, levelPrefix(prefix, level), stdLogFlags, output)
	}
	return ll
}

// NewTestLogger returns a logger and a *LogBuffer,
// with the logger configured to send all output into
// the buffer. The logger's level is set to DEBUG by default.
func NewTestLogger(prefix string) (*LeveledLogger, *LogBuffer) {
	var buf LogBuffer
	return NewCombinedLogger(prefix, &buf).
		WithLogLevel(LogLevelDebug), &buf
}

// ShortUUID returns a truncated UUID string suitable for logging.
func ShortUUID(u uuid.UUID) string {
	return u.String()[:8]
}
