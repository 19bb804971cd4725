//
// (C) Copyright 2020-2021 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package txtfmt

import (
	"fmt"
	"io"
)

// ErrWriter captures the first write error and ignores subsequent
// writes, so that a sequence of prints needs a single error check.
type ErrWriter struct {
	writer io.Writer
	Err    error
}

// NewErrWriter returns an initialized ErrWriter.
func NewErrWriter(w io.Writer) *ErrWriter {
	return &ErrWriter{writer: w}
}

func (w *ErrWriter) Write(data []byte) (int, error) {
	if w.Err != nil {
		return 0, w.Err
	}

	var n int
	n, w.Err = w.writer.Write(data)
	return n, w.Err
}

// Printf formats to the underlying writer unless an earlier write failed.
func (w *ErrWriter) Printf(format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}

// Println writes the arguments followed by a newline.
func (w *ErrWriter) Println(args ...interface{}) {
	fmt.Fprintln(w, args...)
}
