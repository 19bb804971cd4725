//
// (C) Copyright 2021-2022 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package cmdutil

import (
	"github.com/pkg/errors"
)

// ArgsHandler is implemented by commands which check the arguments left
// over after flag and positional parsing, before Execute is called.
type ArgsHandler interface {
	CheckArgs([]string) error
}

var _ ArgsHandler = (*NoArgsCmd)(nil)

// NoArgsCmd rejects any leftover arguments.
type NoArgsCmd struct{}

// CheckArgs returns an error naming the first leftover argument.
func (cmd *NoArgsCmd) CheckArgs(args []string) error {
	switch len(args) {
	case 0:
		return nil
	case 1:
		return errors.Errorf("unexpected argument %q", args[0])
	default:
		return errors.Errorf("unexpected arguments %q (and %d more)", args[0], len(args)-1)
	}
}
