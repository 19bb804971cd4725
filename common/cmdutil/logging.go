//
// (C) Copyright 2021-2022 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package cmdutil

import (
	"context"

	"github.com/daos-stack/dsr/logging"
)

var _ LogSetter = (*LogCmd)(nil)

type (
	// LogSetter defines an interface to be implemented by types
	// that can set a logger.
	LogSetter interface {
		SetLog(log logging.Logger)
	}

	// LogCmd is an embeddable type that extends a command with
	// logging capabilities.
	LogCmd struct {
		logging.Logger
		parent context.Context
	}
)

// SetLog sets the logger for the command.
func (cmd *LogCmd) SetLog(log logging.Logger) {
	cmd.Logger = log
}

// SetContext sets the parent of contexts returned by LogCtx, so that an
// interactive session can cancel a running command.
func (cmd *LogCmd) SetContext(ctx context.Context) {
	cmd.parent = ctx
}

// LogCtx returns a context with the command's logger set.
func (cmd *LogCmd) LogCtx() (context.Context, error) {
	parent := cmd.parent
	if parent == nil {
		parent = context.Background()
	}
	return logging.ToContext(parent, cmd.Logger)
}

// MustLogCtx returns a context with the command's logger set.
// NB: Panics on error.
func (cmd *LogCmd) MustLogCtx() context.Context {
	ctx, err := cmd.LogCtx()
	if err != nil {
		panic(err)
	}
	return ctx
}
