//
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/cmd/dsr/pretty"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/daos/api"
	"github.com/daos-stack/dsr/lib/ui"
)

type kvCmd struct {
	Put     kvPutCmd     `command:"put" description:"store a value under a key"`
	Get     kvGetCmd     `command:"get" description:"fetch the value of a key"`
	List    kvListCmd    `command:"list" alias:"ls" description:"list the keys of a KV object"`
	Remove  kvRemoveCmd  `command:"remove" alias:"rm" description:"remove a key"`
	Destroy kvDestroyCmd `command:"destroy" description:"remove every key of a KV object"`
}

// kvCondFlag selects the condition of a put or remove.
type kvCondFlag struct {
	Cond api.KVCond
}

func (f kvCondFlag) String() string {
	switch f.Cond {
	case api.KVCondInsert:
		return "insert"
	case api.KVCondUpdate:
		return "update"
	case api.KVCondPunch:
		return "exists"
	}
	return "none"
}

// UnmarshalFlag implements the go-flags.Unmarshaler interface.
func (f *kvCondFlag) UnmarshalFlag(fv string) error {
	switch fv {
	case "none":
		f.Cond = api.KVCondNone
	case "insert":
		f.Cond = api.KVCondInsert
	case "update":
		f.Cond = api.KVCondUpdate
	case "exists":
		f.Cond = api.KVCondPunch
	default:
		return errors.Errorf("invalid condition %q (valid: none, insert, update, exists)", fv)
	}
	return nil
}

type kvBaseCmd struct {
	objBaseCmd
}

// openKV opens the container and the KV object in it, and returns a
// function which closes both.
func (cmd *kvBaseCmd) openKV(ctx context.Context, mode api.ObjectOpenMode) (*api.ContainerHandle, *api.KVHandle, func(), error) {
	contFlags := daos.ContainerOpenFlagReadOnly
	if mode.Writable() {
		contFlags = daos.ContainerOpenFlagReadWrite
	}
	ch, cleanup, err := cmd.open(ctx, contFlags)
	if err != nil {
		return nil, nil, nil, err
	}

	kv, err := ch.OpenKV(ctx, cmd.OID.ObjectID, mode)
	if err != nil {
		cleanup()
		return nil, nil, nil, errors.Wrapf(err, "failed to open KV object %s", cmd.OID)
	}

	return ch, kv, func() {
		if err := kv.Close(ctx); err != nil {
			cmd.Errorf("failed to close KV object %s: %s", cmd.OID, err)
		}
		cleanup()
	}, nil
}

type kvPutCmd struct {
	kvBaseCmd
	Key   string     `long:"key" short:"k" required:"1" description:"key"`
	Value string     `long:"value" short:"v" required:"1" description:"value"`
	Cond  kvCondFlag `long:"cond" short:"c" default:"none" description:"put condition (none, insert, update)"`
}

// Execute is run when kvPutCmd subcommand is activated.
func (cmd *kvPutCmd) Execute(_ []string) error {
	if cmd.Cond.Cond == api.KVCondPunch {
		return errors.New("put condition must be one of none, insert or update")
	}

	ctx := cmd.MustLogCtx()
	_, kv, cleanup, err := cmd.openKV(ctx, api.ObjectOpenModeReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := kv.Put(ctx, nil, cmd.Key, []byte(cmd.Value), cmd.Cond.Cond); err != nil {
		return errors.Wrapf(err, "failed to put key %q", cmd.Key)
	}

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type kvGetCmd struct {
	kvBaseCmd
	Key   string       `long:"key" short:"k" required:"1" description:"key"`
	Epoch ui.EpochFlag `long:"epc" short:"e" description:"read from this snapshot epoch"`
}

// Execute is run when kvGetCmd subcommand is activated.
func (cmd *kvGetCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, kv, cleanup, err := cmd.openKV(ctx, api.ObjectOpenModeReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	tx, closeTx, err := cmd.snapTx(ctx, ch, cmd.Epoch.Epoch)
	if err != nil {
		return err
	}
	defer closeTx()

	value, err := kv.GetValue(ctx, tx, cmd.Key)
	if err != nil {
		return errors.Wrapf(err, "failed to get key %q", cmd.Key)
	}

	return cmd.printOrJSON(string(value), func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s\n", value)
		return err
	})
}

type kvListCmd struct {
	kvBaseCmd
	Epoch ui.EpochFlag `long:"epc" short:"e" description:"list keys in this snapshot epoch"`
}

// Execute is run when kvListCmd subcommand is activated.
func (cmd *kvListCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, kv, cleanup, err := cmd.openKV(ctx, api.ObjectOpenModeReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	tx, closeTx, err := cmd.snapTx(ctx, ch, cmd.Epoch.Epoch)
	if err != nil {
		return err
	}
	defer closeTx()

	var keys []string
	var anchor daos.Anchor
	for !anchor.EOF() {
		batch, err := kv.List(ctx, tx, &anchor, listBatchSize)
		if err != nil {
			return errors.Wrapf(err, "failed to list keys of %s", cmd.OID)
		}
		keys = append(keys, batch...)
	}

	return cmd.printOrJSON(keys, func(w io.Writer) error {
		return pretty.PrintKeys(keys, w)
	})
}

type kvRemoveCmd struct {
	kvBaseCmd
	Key       string `long:"key" short:"k" required:"1" description:"key"`
	MustExist bool   `long:"must-exist" short:"x" description:"fail if the key does not exist"`
}

// Execute is run when kvRemoveCmd subcommand is activated.
func (cmd *kvRemoveCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	_, kv, cleanup, err := cmd.openKV(ctx, api.ObjectOpenModeReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	cond := api.KVCondNone
	if cmd.MustExist {
		cond = api.KVCondPunch
	}
	if err := kv.Remove(ctx, nil, cmd.Key, cond); err != nil {
		return errors.Wrapf(err, "failed to remove key %q", cmd.Key)
	}

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type kvDestroyCmd struct {
	kvBaseCmd
}

// Execute is run when kvDestroyCmd subcommand is activated.
func (cmd *kvDestroyCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	_, kv, cleanup, err := cmd.openKV(ctx, api.ObjectOpenModeReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := kv.Destroy(ctx, nil); err != nil {
		return errors.Wrapf(err, "failed to destroy KV object %s", cmd.OID)
	}

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}
