//
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package api

import (
	"context"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/system"
)

// SystemInfo contains information about the system.
type SystemInfo = system.Info

// GetSystemInfo queries for the connected system information.
func GetSystemInfo(ctx context.Context, sysName string) (*SystemInfo, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	sys, err := getSystem(sysName)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debugf("GetSystemInfo(%s)", sys.Name)

	info, err := sys.SystemInfo(ctx)
	if err != nil {
		return nil, errors.Wrapf(ctxErr(err), "failed to query system %q", sys.Name)
	}
	return info, nil
}

// MgmtSvcLeader returns the rank of the management service leader.
func MgmtSvcLeader(ctx context.Context, sysName string) (ranklist.Rank, error) {
	if err := checkCtx(ctx); err != nil {
		return ranklist.NilRank, err
	}
	sys, err := getSystem(sysName)
	if err != nil {
		return ranklist.NilRank, err
	}

	rank, err := sys.MgmtSvcLeader()
	if err != nil {
		return ranklist.NilRank, errors.Wrap(err, "no management service leader")
	}
	logging.FromContext(ctx).Debugf("MgmtSvcLeader(%s): %d", sys.Name, rank)
	return rank, nil
}
