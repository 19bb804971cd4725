//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/common/cmdutil"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/daos/api"
	"github.com/daos-stack/dsr/lib/ui"
	"github.com/daos-stack/dsr/server/config"
	"github.com/daos-stack/dsr/system"
)

type (
	// outputSetter is implemented by commands which print results.
	outputSetter interface {
		setOutput(io.Writer)
	}

	// configSetter is implemented by commands which need the system
	// configuration but not a running system.
	configSetter interface {
		setConfig(*config.System)
	}

	// systemSetter is implemented by commands which run against a
	// started system.
	systemSetter interface {
		setSystem(*system.System)
	}

	// systemStarter is implemented by commands which start their own
	// long-running system.
	systemStarter interface {
		startsSystem()
	}
)

type outputCmd struct {
	out io.Writer
}

func (cmd *outputCmd) setOutput(out io.Writer) {
	cmd.out = out
}

func (cmd *outputCmd) writer() io.Writer {
	if cmd.out == nil {
		return os.Stdout
	}
	return cmd.out
}

type cfgCmd struct {
	cfg *config.System
}

func (cmd *cfgCmd) setConfig(cfg *config.System) {
	cmd.cfg = cfg
}

type sysCmd struct {
	sys *system.System
}

func (cmd *sysCmd) setSystem(sys *system.System) {
	cmd.sys = sys
}

func (cmd *sysCmd) sysName() string {
	return cmd.sys.Name
}

// baseCmd is embedded by every command which runs against a system and
// prints a result.
type baseCmd struct {
	cmdutil.LogCmd
	cmdutil.JSONOutputCmd
	cmdutil.NoArgsCmd
	outputCmd
	sysCmd
}

// printOrJSON emits the result as JSON when enabled, otherwise calls the
// printer with the command output.
func (cmd *baseCmd) printOrJSON(in interface{}, printer func(io.Writer) error) error {
	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(in, nil)
	}
	return printer(cmd.writer())
}

type poolBaseCmd struct {
	baseCmd

	Args struct {
		Pool ui.LabelOrUUIDFlag `positional-arg-name:"<pool label or UUID>" required:"1"`
	} `positional-args:"yes"`
}

func (cmd *poolBaseCmd) poolID() string {
	return cmd.Args.Pool.String()
}

// connectPool connects to the pool and returns a function which
// disconnects.
func (cmd *baseCmd) connectPool(ctx context.Context, poolID string, flags daos.PoolConnectFlag) (*api.PoolHandle, func(), error) {
	resp, err := api.PoolConnect(ctx, api.PoolConnectReq{
		SysName: cmd.sysName(),
		ID:      poolID,
		Flags:   flags,
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to connect to pool %s", poolID)
	}

	return resp.Connection, func() {
		if err := resp.Connection.Disconnect(ctx); err != nil {
			cmd.Errorf("failed to disconnect from pool %s: %s", poolID, err)
		}
	}, nil
}

func (cmd *poolBaseCmd) connect(ctx context.Context, flags daos.PoolConnectFlag) (*api.PoolHandle, func(), error) {
	return cmd.connectPool(ctx, cmd.poolID(), flags)
}

type contBaseCmd struct {
	baseCmd

	Args struct {
		Pool      ui.LabelOrUUIDFlag `positional-arg-name:"<pool label or UUID>" required:"1"`
		Container ui.LabelOrUUIDFlag `positional-arg-name:"<container label or UUID>" required:"1"`
	} `positional-args:"yes"`
}

func (cmd *contBaseCmd) poolID() string {
	return cmd.Args.Pool.String()
}

func (cmd *contBaseCmd) contID() string {
	return cmd.Args.Container.String()
}

// open opens the container, connecting to its pool, and returns a
// function which closes both.
func (cmd *contBaseCmd) open(ctx context.Context, flags daos.ContainerOpenFlag) (*api.ContainerHandle, func(), error) {
	resp, err := api.ContainerOpen(ctx, api.ContainerOpenReq{
		SysName: cmd.sysName(),
		PoolID:  cmd.poolID(),
		ID:      cmd.contID(),
		Flags:   flags,
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open container %s/%s", cmd.poolID(), cmd.contID())
	}

	return resp.Connection, func() {
		if err := resp.Connection.Close(ctx); err != nil {
			cmd.Errorf("failed to close container %s: %s", cmd.contID(), err)
		}
	}, nil
}

// snapTx opens a read-only transaction at the epoch. A zero epoch returns
// a nil transaction, which reads the latest state.
func (cmd *contBaseCmd) snapTx(ctx context.Context, ch *api.ContainerHandle, epoch daos.Epoch) (*api.Tx, func(), error) {
	if epoch == 0 {
		return nil, func() {}, nil
	}
	tx, err := ch.OpenSnapTx(ctx, epoch)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open snapshot %#x", uint64(epoch))
	}
	return tx, func() {
		if err := tx.Close(ctx); err != nil {
			cmd.Errorf("failed to close snapshot transaction: %s", err)
		}
	}, nil
}

// objBaseCmd is embedded by commands which address a single object.
type objBaseCmd struct {
	contBaseCmd

	OID ui.ObjectIDFlag `long:"oid" short:"i" required:"1" description:"object ID (hi.lo)"`
}

func attrListFromNames(names []string) daos.AttributeList {
	attrs := make(daos.AttributeList, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, &daos.Attribute{Name: name})
	}
	return attrs
}

// parseACLEntries parses ACE strings supplied one per argument.
func parseACLEntries(entries []string) (*daos.AccessControlList, error) {
	acl := &daos.AccessControlList{}
	for _, entry := range entries {
		ace, err := daos.ParseACE(strings.TrimSpace(entry))
		if err != nil {
			return nil, err
		}
		if err := acl.Add(ace); err != nil {
			return nil, err
		}
	}
	return acl, nil
}

// createACLFile opens a file for writing an ACL, refusing to replace an
// existing file unless forced.
func createACLFile(path string, force bool) (*os.File, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Errorf("%s already exists (use --force to overwrite)", path)
		}
		return nil, errors.Wrap(err, "failed to create ACL file")
	}
	return f, nil
}
