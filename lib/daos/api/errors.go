//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package api

import (
	"context"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
)

var (
	ErrNoSystemRanks          = errors.New("no ranks in system")
	ErrContextHandleConflict  = errors.New("context already contains a handle for a different pool or container")
	ErrInvalidPoolHandle      = errors.New("pool handle is nil or invalid")
	ErrInvalidContainerHandle = errors.New("container handle is nil or invalid")
	ErrInvalidObjectHandle    = errors.New("object handle is nil or invalid")

	errNilCtx   = errors.New("nil context")
	errNoCtxHdl = errors.New("no handle in context")
)

// ctxErr recasts a context error as a DAOS error.
func ctxErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return errors.Wrap(daos.Canceled, "DAOS API context canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(daos.TimedOut, "DAOS API context deadline exceeded")
	default:
		return errors.Wrap(daos.MiscError, "DAOS API context error")
	}
}

// checkCtx returns an error if the context is nil or already done.
func checkCtx(ctx context.Context) error {
	if ctx == nil {
		return errNilCtx
	}
	return ctxErr(ctx.Err())
}
