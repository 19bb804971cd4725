//
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package api

import (
	"context"
	"testing"

	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/system"
)

const testSysName = "mock"

// testSystem starts a three-engine system and attaches the API to it for
// the duration of the test.
func testSystem(t *testing.T) (context.Context, *system.System) {
	t.Helper()

	log, buf := logging.NewTestLogger(t.Name())
	t.Cleanup(func() { test.ShowBufferOnFailure(t, buf) })

	sys := system.MockSystem(t, log, system.MockConfig(3))
	p, err := NewProvider(log, sys)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Cleanup)

	return test.MustLogContext(t, log), sys
}

func createTestPool(t *testing.T, ctx context.Context, sys *system.System, label string) *system.PoolService {
	t.Helper()

	ps, err := sys.PoolCreate(ctx, &system.PoolCreateReq{
		Label:     label,
		ScmBytes:  6 << 20,
		NvmeBytes: 6 << 24,
	})
	if err != nil {
		t.Fatal(err)
	}
	return ps
}

func connectTestPool(t *testing.T, ctx context.Context, poolID string, flags daos.PoolConnectFlag) *PoolHandle {
	t.Helper()

	resp, err := PoolConnect(ctx, PoolConnectReq{
		SysName: testSysName,
		ID:      poolID,
		Flags:   flags,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if resp.Connection.IsValid() {
			_ = resp.Connection.Disconnect(context.Background())
		}
	})
	return resp.Connection
}

func openTestContainer(t *testing.T, ctx context.Context, ph *PoolHandle, label string, flags daos.ContainerOpenFlag) *ContainerHandle {
	t.Helper()

	if _, err := ph.CreateContainer(ctx, ContainerCreateReq{Label: label}); err != nil && !daos.IsStatus(err, daos.Exists) {
		t.Fatal(err)
	}
	resp, err := ph.OpenContainer(ctx, ContainerOpenReq{ID: label, Flags: flags})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if resp.Connection.IsValid() {
			_ = resp.Connection.Close(context.Background())
		}
	})
	return resp.Connection
}

// testContainer returns a read-write handle to a new container in a new
// pool.
func testContainer(t *testing.T) (context.Context, *ContainerHandle) {
	t.Helper()

	ctx, sys := testSystem(t)
	createTestPool(t, ctx, sys, "pool")
	ph := connectTestPool(t, ctx, "pool", daos.PoolConnectFlagReadWrite)
	return ctx, openTestContainer(t, ctx, ph, "cont", daos.ContainerOpenFlagReadWrite)
}
