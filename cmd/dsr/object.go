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
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/cmd/dsr/pretty"
	"github.com/daos-stack/dsr/common/cmdutil"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/daos/api"
	"github.com/daos-stack/dsr/lib/ui"
)

type objectCmd struct {
	Classes  objClassesCmd  `command:"classes" description:"list the known object classes"`
	Create   objCreateCmd   `command:"create" description:"allocate a new object ID in a container"`
	Query    objQueryCmd    `command:"query" description:"show the layout of an object"`
	ListKeys objListKeysCmd `command:"list-keys" alias:"ls" description:"list dkeys, akeys under a dkey, or extents under an akey"`
	Update   objUpdateCmd   `command:"update" alias:"put" description:"write a single value under a dkey/akey"`
	Fetch    objFetchCmd    `command:"fetch" alias:"get" description:"read a single value under a dkey/akey"`
	Punch    objPunchCmd    `command:"punch" description:"punch an object, a dkey, or an akey"`
}

// objClassesCmd does not need a running system.
type objClassesCmd struct {
	cmdutil.LogCmd
	cmdutil.JSONOutputCmd
	outputCmd
}

// Execute is run when objClassesCmd subcommand is activated.
func (cmd *objClassesCmd) Execute(_ []string) error {
	names := api.ListObjectClasses()
	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(names, nil)
	}
	return pretty.PrintObjectClasses(names, cmd.writer())
}

// objTypeFlag holds an object type name such as "kv_hashed".
type objTypeFlag struct {
	Type daos.ObjectType
}

var objectTypes = []daos.ObjectType{
	daos.ObjectTypeMultiHashed,
	daos.ObjectTypeDkeyUint64,
	daos.ObjectTypeKVHashed,
	daos.ObjectTypeArray,
	daos.ObjectTypeArrayByte,
}

func (f objTypeFlag) String() string {
	return f.Type.String()
}

// UnmarshalFlag implements the go-flags.Unmarshaler interface.
func (f *objTypeFlag) UnmarshalFlag(fv string) error {
	for _, t := range objectTypes {
		if strings.EqualFold(t.String(), fv) {
			f.Type = t
			return nil
		}
	}

	names := make([]string, len(objectTypes))
	for i, t := range objectTypes {
		names[i] = t.String()
	}
	return errors.Errorf("invalid object type %q (valid: %s)", fv, strings.Join(names, ", "))
}

type objCreateCmd struct {
	contBaseCmd
	Type   objTypeFlag        `long:"type" short:"t" default:"multi_hashed" description:"object type"`
	OClass ui.ObjectClassFlag `long:"oclass" short:"o" description:"object class (default from container)"`
}

// Execute is run when objCreateCmd subcommand is activated.
func (cmd *objCreateCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	lo, err := ch.AllocOIDs(ctx, 1)
	if err != nil {
		return errors.Wrapf(err, "failed to allocate object ID in container %s", cmd.contID())
	}
	oid := daos.GenerateOID(0, lo, cmd.Type.Type, cmd.OClass.Class)

	return cmd.printOrJSON(oid, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, oid)
		return err
	})
}

// openObject opens the container and the object in it, and returns a
// function which closes both.
func (cmd *objBaseCmd) openObject(ctx context.Context, mode api.ObjectOpenMode) (*api.ObjectHandle, func(), error) {
	contFlags := daos.ContainerOpenFlagReadOnly
	if mode.Writable() {
		contFlags = daos.ContainerOpenFlagReadWrite
	}
	ch, cleanup, err := cmd.open(ctx, contFlags)
	if err != nil {
		return nil, nil, err
	}

	oh, err := ch.OpenObject(ctx, cmd.OID.ObjectID, mode)
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrapf(err, "failed to open object %s", cmd.OID)
	}

	return oh, func() {
		if err := oh.Close(ctx); err != nil {
			cmd.Errorf("failed to close object %s: %s", cmd.OID, err)
		}
		cleanup()
	}, nil
}

// dkey converts a dkey argument, which must be an integer for objects
// with integer dkeys.
func (cmd *objBaseCmd) dkey(s string) (daos.Key, error) {
	if !cmd.OID.Type().IntegerDkeys() {
		return daos.Key(s), nil
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return nil, errors.Errorf("%s object requires an integer dkey, got %q", cmd.OID.Type(), s)
	}
	return daos.Uint64Key(n), nil
}

func (cmd *objBaseCmd) dkeyString(k daos.Key) string {
	if cmd.OID.Type().IntegerDkeys() {
		if n, err := k.Uint64(); err == nil {
			return strconv.FormatUint(n, 10)
		}
	}
	return k.String()
}

type objQueryCmd struct {
	objBaseCmd
}

// Execute is run when objQueryCmd subcommand is activated.
func (cmd *objQueryCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	oh, cleanup, err := cmd.openObject(ctx, api.ObjectOpenModeReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	layout, err := oh.Query(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to query object %s", cmd.OID)
	}

	return cmd.printOrJSON(layout, func(w io.Writer) error {
		return pretty.PrintObjectLayout(cmd.OID.ObjectID, layout, w)
	})
}

type objListKeysCmd struct {
	objBaseCmd
	Dkey string `long:"dkey" short:"d" description:"list akeys under this dkey"`
	Akey string `long:"akey" short:"a" description:"list array extents under this akey (requires --dkey)"`
}

func (cmd *objListKeysCmd) listKeys(ctx context.Context, oh *api.ObjectHandle) ([]string, error) {
	var out []string
	var anchor daos.Anchor
	for !anchor.EOF() {
		var keys []daos.Key
		var err error
		if cmd.Dkey == "" {
			keys, err = oh.ListDkeys(ctx, nil, &anchor, listBatchSize)
		} else {
			var dkey daos.Key
			if dkey, err = cmd.dkey(cmd.Dkey); err != nil {
				return nil, err
			}
			keys, err = oh.ListAkeys(ctx, nil, dkey, &anchor, listBatchSize)
		}
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if cmd.Dkey == "" {
				out = append(out, cmd.dkeyString(k))
			} else {
				out = append(out, k.String())
			}
		}
	}
	return out, nil
}

func (cmd *objListKeysCmd) listRecx(ctx context.Context, oh *api.ObjectHandle) ([]daos.Recx, uint64, error) {
	dkey, err := cmd.dkey(cmd.Dkey)
	if err != nil {
		return nil, 0, err
	}

	var recxs []daos.Recx
	var size uint64
	var anchor daos.Anchor
	for !anchor.EOF() {
		batch, rsize, err := oh.ListRecx(ctx, nil, dkey, daos.Key(cmd.Akey), &anchor, listBatchSize)
		if err != nil {
			return nil, 0, err
		}
		recxs = append(recxs, batch...)
		if rsize != 0 {
			size = rsize
		}
	}
	return recxs, size, nil
}

// Execute is run when objListKeysCmd subcommand is activated.
func (cmd *objListKeysCmd) Execute(_ []string) error {
	if cmd.Akey != "" && cmd.Dkey == "" {
		return errors.New("--akey requires --dkey")
	}

	ctx := cmd.MustLogCtx()
	oh, cleanup, err := cmd.openObject(ctx, api.ObjectOpenModeReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	if cmd.Akey != "" {
		recxs, size, err := cmd.listRecx(ctx, oh)
		if err != nil {
			return errors.Wrapf(err, "failed to list extents of object %s", cmd.OID)
		}
		return cmd.printOrJSON(struct {
			RecordSize uint64      `json:"record_size"`
			Recxs      []daos.Recx `json:"recxs"`
		}{size, recxs}, func(w io.Writer) error {
			return pretty.PrintRecxs(recxs, size, w)
		})
	}

	keys, err := cmd.listKeys(ctx, oh)
	if err != nil {
		return errors.Wrapf(err, "failed to list keys of object %s", cmd.OID)
	}
	return cmd.printOrJSON(keys, func(w io.Writer) error {
		return pretty.PrintKeys(keys, w)
	})
}

type objUpdateCmd struct {
	objBaseCmd
	Dkey  string `long:"dkey" short:"d" required:"1" description:"distribution key"`
	Akey  string `long:"akey" short:"a" required:"1" description:"attribute key"`
	Value string `long:"value" short:"v" required:"1" description:"value to write"`
}

// Execute is run when objUpdateCmd subcommand is activated.
func (cmd *objUpdateCmd) Execute(_ []string) error {
	dkey, err := cmd.dkey(cmd.Dkey)
	if err != nil {
		return err
	}

	ctx := cmd.MustLogCtx()
	oh, cleanup, err := cmd.openObject(ctx, api.ObjectOpenModeReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	iod := daos.IOD{
		Name: daos.Key(cmd.Akey),
		Type: daos.IODTypeSingle,
		Size: uint64(len(cmd.Value)),
	}
	if err := oh.Update(ctx, nil, dkey, []daos.IOD{iod}, []daos.SGList{{[]byte(cmd.Value)}}); err != nil {
		return errors.Wrapf(err, "failed to update object %s", cmd.OID)
	}
	cmd.Debugf("updated %s/%s/%s", cmd.OID, cmd.Dkey, cmd.Akey)

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type objFetchCmd struct {
	objBaseCmd
	Dkey string `long:"dkey" short:"d" required:"1" description:"distribution key"`
	Akey string `long:"akey" short:"a" required:"1" description:"attribute key"`
}

// Execute is run when objFetchCmd subcommand is activated.
func (cmd *objFetchCmd) Execute(_ []string) error {
	dkey, err := cmd.dkey(cmd.Dkey)
	if err != nil {
		return err
	}

	ctx := cmd.MustLogCtx()
	oh, cleanup, err := cmd.openObject(ctx, api.ObjectOpenModeReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	iod := daos.IOD{Name: daos.Key(cmd.Akey), Type: daos.IODTypeSingle}
	_, sizes, err := oh.Fetch(ctx, nil, dkey, []daos.IOD{iod})
	if err != nil {
		return errors.Wrapf(err, "failed to fetch from object %s", cmd.OID)
	}
	if sizes[0] == 0 {
		return errors.Wrapf(daos.Nonexistent, "no value at %s/%s", cmd.Dkey, cmd.Akey)
	}

	iod.Size = sizes[0]
	sgls, _, err := oh.Fetch(ctx, nil, dkey, []daos.IOD{iod})
	if err != nil {
		return errors.Wrapf(err, "failed to fetch from object %s", cmd.OID)
	}
	value := sgls[0].Flatten()

	return cmd.printOrJSON(string(value), func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s\n", value)
		return err
	})
}

type objPunchCmd struct {
	objBaseCmd
	Dkey string `long:"dkey" short:"d" description:"punch only this dkey"`
	Akey string `long:"akey" short:"a" description:"punch only this akey (requires --dkey)"`
}

// Execute is run when objPunchCmd subcommand is activated.
func (cmd *objPunchCmd) Execute(_ []string) error {
	if cmd.Akey != "" && cmd.Dkey == "" {
		return errors.New("--akey requires --dkey")
	}

	ctx := cmd.MustLogCtx()
	oh, cleanup, err := cmd.openObject(ctx, api.ObjectOpenModeReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	switch {
	case cmd.Dkey == "":
		err = oh.Punch(ctx, nil)
	case cmd.Akey == "":
		var dkey daos.Key
		if dkey, err = cmd.dkey(cmd.Dkey); err == nil {
			err = oh.PunchDkeys(ctx, nil, dkey)
		}
	default:
		var dkey daos.Key
		if dkey, err = cmd.dkey(cmd.Dkey); err == nil {
			err = oh.PunchAkeys(ctx, nil, dkey, daos.Key(cmd.Akey))
		}
	}
	if err != nil {
		return errors.Wrapf(err, "failed to punch object %s", cmd.OID)
	}

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}
