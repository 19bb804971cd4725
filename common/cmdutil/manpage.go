//
// (C) Copyright 2021-2022 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package cmdutil

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ManPageWriter is implemented by commands which are handed the parser's
// man page generator.
type ManPageWriter interface {
	SetWriteFunc(func(io.Writer))
}

// ManCmd writes the man page of the command line parser.
type ManCmd struct {
	writeFn func(io.Writer)
	Output  string `long:"output" short:"o" description:"write the man page to this file instead of stdout"`
}

// SetWriteFunc sets the man page generator.
func (cmd *ManCmd) SetWriteFunc(fn func(io.Writer)) {
	cmd.writeFn = fn
}

// Execute writes the man page to stdout or the output file.
func (cmd *ManCmd) Execute(_ []string) (err error) {
	if cmd.writeFn == nil {
		return errors.New("no man page writer set")
	}

	var out io.Writer = os.Stdout
	if cmd.Output != "" {
		f, err := os.OpenFile(cmd.Output, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrapf(err, "failed to create %s", cmd.Output)
		}
		defer func() {
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
		}()
		out = f
	}

	w := bufio.NewWriter(out)
	cmd.writeFn(w)
	return w.Flush()
}
