//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package rsvc

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/daos-stack/dsr/logging"
)

var (
	suppressedMessages = map[string]struct{}{
		"failed to contact":              {},
		"failed to appendEntries to":     {},
		"failed to make requestVote RPC": {},
		"failed to heartbeat to":         {},
		"failed to send snapshot to":     {},
	}
)

// hcLogger implements the hclog.Logger interface on top of a
// logging.Logger. As hclog is a structured (key/val) logger, the
// pairs are joined into a single string before being logged. Every
// message is prefixed with the replica name.
type hcLogger struct {
	log     logging.Logger
	name    string
	implied []interface{}
}

func newHcLogger(l logging.Logger, name string) *hcLogger {
	return &hcLogger{log: l, name: name}
}

func (hcl *hcLogger) argString(args ...interface{}) string {
	args = append(append([]interface{}{}, hcl.implied...), args...)

	var argPairs []string
	for i := 0; i+1 < len(args); i += 2 {
		keyStr, ok := args[i].(string)
		if !ok {
			continue
		}
		argPairs = append(argPairs, fmt.Sprintf("%s=%+v", keyStr, args[i+1]))
	}
	return strings.Join(argPairs, " ")
}

func (hcl *hcLogger) format(msg string, args ...interface{}) string {
	if argStr := hcl.argString(args...); argStr != "" {
		return fmt.Sprintf("%s: %s: %s", hcl.name, msg, argStr)
	}
	return fmt.Sprintf("%s: %s", hcl.name, msg)
}

func (hcl *hcLogger) Log(level hclog.Level, msg string, args ...interface{}) {
	switch level {
	case hclog.Trace:
		hcl.Trace(msg, args...)
	case hclog.Debug:
		hcl.Debug(msg, args...)
	case hclog.Info:
		hcl.Info(msg, args...)
	case hclog.Warn:
		hcl.Warn(msg, args...)
	case hclog.Error:
		hcl.Error(msg, args...)
	}
}

func (hcl *hcLogger) Trace(msg string, args ...interface{}) {
	if !hcl.log.EnabledFor(logging.LogLevelTrace) {
		return
	}
	hcl.log.Trace(hcl.format(msg, args...))
}

func (hcl *hcLogger) Debug(msg string, args ...interface{}) {
	if _, found := suppressedMessages[msg]; found {
		return
	}
	hcl.log.Debug(hcl.format(msg, args...))
}

func (hcl *hcLogger) Info(msg string, args ...interface{}) {
	// Replica elections are routine, keep them out of INFO.
	hcl.log.Debug(hcl.format(msg, args...))
}

func (hcl *hcLogger) Warn(msg string, args ...interface{}) {
	// Stopped replicas are expected; unreachable peers warn constantly.
	if _, found := suppressedMessages[msg]; found {
		return
	}
	hcl.log.Debug(hcl.format(msg, args...))
}

func (hcl *hcLogger) Error(msg string, args ...interface{}) {
	if _, found := suppressedMessages[msg]; found {
		hcl.log.Debug(hcl.format(msg, args...))
		return
	}
	hcl.log.Error(hcl.format(msg, args...))
}

func (hcl *hcLogger) IsTrace() bool { return hcl.log.EnabledFor(logging.LogLevelTrace) }

func (hcl *hcLogger) IsDebug() bool { return hcl.log.EnabledFor(logging.LogLevelDebug) }

func (hcl *hcLogger) IsInfo() bool { return true }

func (hcl *hcLogger) IsWarn() bool { return true }

func (hcl *hcLogger) IsError() bool { return true }

func (hcl *hcLogger) Name() string { return hcl.name }

func (hcl *hcLogger) ImpliedArgs() []interface{} { return hcl.implied }

func (hcl *hcLogger) With(args ...interface{}) hclog.Logger {
	return &hcLogger{
		log:     hcl.log,
		name:    hcl.name,
		implied: append(append([]interface{}{}, hcl.implied...), args...),
	}
}

func (hcl *hcLogger) Named(name string) hclog.Logger {
	return &hcLogger{log: hcl.log, name: hcl.name + "." + name, implied: hcl.implied}
}

func (hcl *hcLogger) ResetNamed(name string) hclog.Logger {
	return &hcLogger{log: hcl.log, name: name, implied: hcl.implied}
}

func (hcl *hcLogger) SetLevel(level hclog.Level) {}

func (hcl *hcLogger) GetLevel() hclog.Level {
	if hcl.IsDebug() {
		return hclog.Debug
	}
	return hclog.Info
}

func (hcl *hcLogger) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	panic("not supported")
}

func (hcl *hcLogger) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	panic("not supported")
}
