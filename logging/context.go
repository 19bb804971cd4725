//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package logging

import (
	"context"
	"errors"
)

type loggerKey struct{}

// discard is handed out when a context carries no logger, so that
// callers deep in the data path never need to check for nil.
var discard Logger = &LeveledLogger{level: LogLevelDisabled}

func ctxLogger(ctx context.Context) Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(loggerKey{}).(Logger)
	return logger
}

// FromContext returns the logger carried by the context. A context
// without one yields a logger which discards everything.
func FromContext(ctx context.Context) Logger {
	if logger := ctxLogger(ctx); logger != nil {
		return logger
	}
	return discard
}

// ToContext returns a child context carrying the logger. A context may
// only carry one logger.
func ToContext(ctx context.Context, logger Logger) (context.Context, error) {
	switch {
	case ctx == nil:
		return nil, errors.New("nil context")
	case logger == nil:
		return nil, errors.New("nil logger")
	case ctxLogger(ctx) != nil:
		return nil, errors.New("logger already present in context")
	}
	return context.WithValue(ctx, loggerKey{}, logger), nil
}
