//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package cmdutil

import (
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
)

type (
	// JSONOutputter is implemented by commands that can emit JSON.
	JSONOutputter interface {
		EnableJSONOutput(io.Writer, *atomic.Bool)
		JSONOutputEnabled() bool
		OutputJSON(interface{}, error) error
	}

	// JSONOutputCmd is an embeddable type that extends a command with
	// JSON output capabilities.
	JSONOutputCmd struct {
		writer    io.Writer
		wroteJSON *atomic.Bool
	}

	// jsonResult is the envelope of every JSON response.
	jsonResult struct {
		Response interface{} `json:"response"`
		Error    *string     `json:"error"`
		Status   int         `json:"status"`
	}
)

var _ JSONOutputter = (*JSONOutputCmd)(nil)

// EnableJSONOutput directs JSON output to the writer. The flag records
// whether anything was written.
func (cmd *JSONOutputCmd) EnableJSONOutput(out io.Writer, wj *atomic.Bool) {
	cmd.writer = out
	cmd.wroteJSON = wj
}

// JSONOutputEnabled returns true if JSON output is enabled.
func (cmd *JSONOutputCmd) JSONOutputEnabled() bool {
	return cmd.writer != nil
}

// OutputJSON writes the response and error as a JSON envelope.
func (cmd *JSONOutputCmd) OutputJSON(in interface{}, cmdErr error) error {
	if cmd.wroteJSON != nil {
		if cmd.wroteJSON.Load() {
			return nil
		}
		cmd.wroteJSON.Store(true)
	}

	return OutputJSON(cmd.writer, in, cmdErr)
}

// ErrorStatus is implemented by errors which carry a numeric status.
type ErrorStatus interface {
	error
	Int32() int32
}

// OutputJSON writes the response and error to the writer as an indented
// JSON envelope. The command error, if any, is returned.
func OutputJSON(out io.Writer, in interface{}, cmdErr error) error {
	status := 0
	var errStr *string
	if cmdErr != nil {
		msg := cmdErr.Error()
		errStr = &msg
		status = -1
		var es ErrorStatus
		if errors.As(cmdErr, &es) {
			status = int(es.Int32())
		}
	}

	data, err := json.MarshalIndent(jsonResult{in, errStr, status}, "", "  ")
	if err != nil {
		return err
	}

	if _, err = out.Write(append(data, '\n')); err != nil {
		return err
	}

	return cmdErr
}
