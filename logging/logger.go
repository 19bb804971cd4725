//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

type (
	// Logger defines a standard logging interface
	Logger interface {
		EnabledFor(level LogLevel) bool
		TraceLogger
		Trace(msg string)
		DebugLogger
		Debug(msg string)
		InfoLogger
		Info(msg string)
		NoticeLogger
		Notice(msg string)
		ErrorLogger
		Error(msg string)
	}

	// TraceLogger defines an interface to be implemented
	// by Trace loggers.
	TraceLogger interface {
		Tracef(format string, args ...interface{})
	}

	// DebugLogger defines an interface to be implemented
	// by Debug loggers.
	DebugLogger interface {
		Debugf(format string, args ...interface{})
	}

	// InfoLogger defines an interface to be implemented
	// by Info loggers.
	InfoLogger interface {
		Infof(format string, args ...interface{})
	}

	// NoticeLogger defines an interface to be implemented
	// by Notice loggers.
	NoticeLogger interface {
		Noticef(format string, args ...interface{})
	}

	// ErrorLogger defines an interface to be implemented
	// by Error loggers.
	ErrorLogger interface {
		Errorf(format string, args ...interface{})
	}

	// destination is a single output for one level.
	destination struct {
		out *log.Logger
	}

	// LeveledLogger provides a logging implementation which
	// can emit log messages to multiple destinations with
	// different output formats.
	LeveledLogger struct {
		sync.RWMutex

		level LogLevel
		dests [numLogLevels][]destination
	}
)

// callers of emit sit two frames above log.Output.
const emitDepth = 3

var _ Logger = (*LeveledLogger)(nil)

// AddDestination routes messages at the given level to w.
func (ll *LeveledLogger) AddDestination(level LogLevel, prefix string, flags int, w io.Writer) {
	if !level.valid() || level == LogLevelDisabled {
		return
	}

	ll.Lock()
	defer ll.Unlock()
	ll.dests[level] = append(ll.dests[level], destination{
		out: log.New(w, prefix, flags),
	})
}

// ClearLevel removes all destinations for the specified level.
func (ll *LeveledLogger) ClearLevel(level LogLevel) {
	if !level.valid() {
		return
	}

	ll.Lock()
	defer ll.Unlock()
	ll.dests[level] = nil
}

// SetLevel sets the logger's LogLevel, at or above
// which messages will be emitted.
func (ll *LeveledLogger) SetLevel(newLevel LogLevel) {
	ll.level.Set(newLevel)
}

// Level returns the logger's current LogLevel.
func (ll *LeveledLogger) Level() LogLevel {
	return ll.level.Get()
}

// WithLogLevel allows the logger's LogLevel to be set
// as part of a chained method call.
func (ll *LeveledLogger) WithLogLevel(level LogLevel) *LeveledLogger {
	ll.SetLevel(level)
	return ll
}

// EnabledFor returns true if the logger is enabled for the
// specified LogLevel.
func (ll *LeveledLogger) EnabledFor(level LogLevel) bool {
	return level != LogLevelDisabled && ll.level.Get() >= level
}

func (ll *LeveledLogger) emit(level LogLevel, format string, args ...interface{}) {
	if !ll.EnabledFor(level) {
		return
	}

	ll.RLock()
	dests := ll.dests[level]
	ll.RUnlock()

	if len(dests) == 0 {
		return
	}

	msg := fmt.Sprintf(format, args...)
	for _, d := range dests {
		if err := d.out.Output(emitDepth, msg); err != nil {
			fmt.Fprintf(os.Stderr, "logger output at %s failed: %s\n", level, err)
		}
	}
}

// Trace emits an unformatted message at Trace level.
func (ll *LeveledLogger) Trace(msg string) {
	ll.emit(LogLevelTrace, "%s", msg)
}

// Tracef emits a formatted message at Trace level.
func (ll *LeveledLogger) Tracef(format string, args ...interface{}) {
	ll.emit(LogLevelTrace, format, args...)
}

// Debug emits an unformatted message at Debug level.
func (ll *LeveledLogger) Debug(msg string) {
	ll.emit(LogLevelDebug, "%s", msg)
}

// Debugf emits a formatted message at Debug level.
func (ll *LeveledLogger) Debugf(format string, args ...interface{}) {
	ll.emit(LogLevelDebug, format, args...)
}

// Info emits an unformatted message at Info level.
func (ll *LeveledLogger) Info(msg string) {
	ll.emit(LogLevelInfo, "%s", msg)
}

// Infof emits a formatted message at Info level.
func (ll *LeveledLogger) Infof(format string, args ...interface{}) {
	ll.emit(LogLevelInfo, format, args...)
}

// Notice emits an unformatted message at Notice level.
func (ll *LeveledLogger) Notice(msg string) {
	ll.emit(LogLevelNotice, "%s", msg)
}

// Noticef emits a formatted message at Notice level.
func (ll *LeveledLogger) Noticef(format string, args ...interface{}) {
	ll.emit(LogLevelNotice, format, args...)
}

// Error emits an unformatted message at Error level.
func (ll *LeveledLogger) Error(msg string) {
	ll.emit(LogLevelError, "%s", msg)
}

// Errorf emits a formatted message at Error level.
func (ll *LeveledLogger) Errorf(format string, args ...interface{}) {
	ll.emit(LogLevelError, format, args...)
}

// LogBuffer provides a thread-safe wrapper for bytes.Buffer.
// It only wraps a subset of bytes.Buffer's methods; just enough
// to implement io.Reader, io.Writer, and fmt.Stringer. The
// Reset() method is also wrapped in order to make it useful
// for testing.
type LogBuffer struct {
	sync.Mutex
	buf bytes.Buffer
}

func (lb *LogBuffer) Read(p []byte) (int, error) {
	lb.Lock()
	defer lb.Unlock()
	return lb.buf.Read(p)
}

func (lb *LogBuffer) Write(p []byte) (int, error) {
	lb.Lock()
	defer lb.Unlock()
	return lb.buf.Write(p)
}

func (lb *LogBuffer) String() string {
	lb.Lock()
	defer lb.Unlock()
	return lb.buf.String()
}

func (lb *LogBuffer) Reset() {
	lb.Lock()
	defer lb.Unlock()
	lb.buf.Reset()
}
