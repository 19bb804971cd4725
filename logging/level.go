//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package logging

import (
	"fmt"
	"strings"
	"sync/atomic"
)

const (
	// LogLevelDisabled disables any logging output
	LogLevelDisabled LogLevel = iota
	// LogLevelError emits messages at ERROR or higher
	LogLevelError
	// LogLevelNotice emits messages at NOTICE or higher
	LogLevelNotice
	// LogLevelInfo emits messages at INFO or higher
	LogLevelInfo
	// LogLevelDebug emits messages at DEBUG or higher
	LogLevelDebug
	// LogLevelTrace emits messages at TRACE or higher
	LogLevelTrace

	numLogLevels = int(LogLevelTrace) + 1
)

var levelNames = [numLogLevels]string{
	LogLevelDisabled: "DISABLED",
	LogLevelError:    "ERROR",
	LogLevelNotice:   "NOTICE",
	LogLevelInfo:     "INFO",
	LogLevelDebug:    "DEBUG",
	LogLevelTrace:    "TRACE",
}

// LogLevel represents the level at which the logger will emit log messages
type LogLevel int32

// Set safely sets the log level to the supplied level
func (ll *LogLevel) Set(newLevel LogLevel) {
	atomic.StoreInt32((*int32)(ll), int32(newLevel))
}

// Get returns the current log level
func (ll *LogLevel) Get() LogLevel {
	return LogLevel(atomic.LoadInt32((*int32)(ll)))
}

// SetString sets the log level from the supplied string.
func (ll *LogLevel) SetString(in string) error {
	for i, name := range levelNames {
		if strings.EqualFold(in, name) {
			ll.Set(LogLevel(i))
			return nil
		}
	}

	return fmt.Errorf("%q is not a valid log level", in)
}

// UnmarshalYAML allows the level to be set from its name in a config file.
func (ll *LogLevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var in string
	if err := unmarshal(&in); err != nil {
		return err
	}
	return ll.SetString(in)
}

// MarshalYAML emits the level by name.
func (ll LogLevel) MarshalYAML() (interface{}, error) {
	return ll.String(), nil
}

func (ll LogLevel) valid() bool {
	return ll >= LogLevelDisabled && int(ll) < numLogLevels
}

func (ll LogLevel) String() string {
	if !ll.valid() {
		return "UNKNOWN"
	}
	return levelNames[ll]
}
