//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/cmd/dsr/pretty"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/daos/api"
	"github.com/daos-stack/dsr/lib/ui"
)

type containerCmd struct {
	Create       containerCreateCmd       `command:"create" description:"create a container"`
	Destroy      containerDestroyCmd      `command:"destroy" description:"destroy a container"`
	List         containerListCmd         `command:"list" alias:"ls" description:"list all containers in pool"`
	Query        containerQueryCmd        `command:"query" description:"query a container"`
	GetProp      containerGetPropCmd      `command:"get-prop" description:"get container properties"`
	SetProp      containerSetPropCmd      `command:"set-prop" description:"set container properties"`
	ListAttrs    containerListAttrsCmd    `command:"list-attr" alias:"list-attrs" description:"list container user-defined attributes"`
	GetAttr      containerGetAttrCmd      `command:"get-attr" description:"get container user-defined attributes"`
	SetAttr      containerSetAttrCmd      `command:"set-attr" description:"set container user-defined attributes"`
	DelAttr      containerDelAttrCmd      `command:"del-attr" alias:"delete-attr" description:"delete container user-defined attributes"`
	GetACL       containerGetACLCmd       `command:"get-acl" description:"get a container's ACL"`
	OverwriteACL containerOverwriteACLCmd `command:"overwrite-acl" description:"replace a container's ACL"`
	UpdateACL    containerUpdateACLCmd    `command:"update-acl" description:"add/modify entries in a container's ACL"`
	DeleteACL    containerDeleteACLCmd    `command:"delete-acl" description:"delete an entry from a container's ACL"`
	CreateSnap   containerSnapCreateCmd   `command:"create-snap" alias:"snap" description:"create container snapshot"`
	ListSnaps    containerSnapListCmd     `command:"list-snaps" alias:"list-snap" description:"list container snapshots"`
	DestroySnap  containerSnapDestroyCmd  `command:"destroy-snap" description:"destroy container snapshots"`
	Rollback     containerRollbackCmd     `command:"rollback" description:"roll back container to a snapshot"`
	Aggregate    containerAggregateCmd    `command:"aggregate" description:"aggregate container epochs up to an epoch"`
	ListObjects  containerListObjectsCmd  `command:"list-objects" alias:"list-obj" description:"list all objects in container"`
	AllocOIDs    containerAllocOIDsCmd    `command:"alloc-oids" description:"reserve a range of object IDs"`
}

type containerCreateCmd struct {
	poolBaseCmd
	UUID       string             `long:"uuid" description:"UUID to assign to the container (generated if not set)"`
	Type       string             `long:"type" short:"t" description:"container type (e.g. POSIX, HDF5, DATABASE)"`
	OClass     ui.ObjectClassFlag `long:"oclass" short:"o" description:"default object class for new objects"`
	ChunkSize  ui.ByteSizeFlag    `long:"chunk-size" short:"z" description:"default array chunk size"`
	Properties contSetPropsFlag   `long:"properties" short:"P" description:"container properties to set (key:val[,key:val...])"`
	ACL        ui.ACLEntriesFlag  `long:"acl" short:"a" description:"access control entry, or @file of entries (may be repeated)"`
	Label      string             `long:"label" short:"l" description:"container label"`
}

func (cmd *containerCreateCmd) createReq() (*api.ContainerCreateReq, error) {
	req := &api.ContainerCreateReq{Label: cmd.Label}
	if cmd.UUID != "" {
		id, err := uuid.Parse(cmd.UUID)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid container UUID %q", cmd.UUID)
		}
		req.UUID = id
	}
	if !cmd.ACL.Empty() {
		req.ACL = cmd.ACL.ACL
	}

	props, err := cmd.Properties.PropertyList()
	if err != nil {
		return nil, err
	}
	if props == nil && (cmd.Type != "" || cmd.OClass.IsSet() || cmd.ChunkSize.IsSet()) {
		props = daos.NewContainerPropertyList()
	}
	if cmd.Type != "" {
		if err := props.Set("layout_type", cmd.Type); err != nil {
			return nil, err
		}
	}
	if cmd.OClass.IsSet() {
		if err := props.SetNumber("oclass", uint64(cmd.OClass.Class)); err != nil {
			return nil, err
		}
	}
	if cmd.ChunkSize.IsSet() {
		if err := props.SetNumber("chunk_size", cmd.ChunkSize.Bytes); err != nil {
			return nil, err
		}
	}
	req.Properties = props

	return req, nil
}

// Execute is run when containerCreateCmd subcommand is activated.
func (cmd *containerCreateCmd) Execute(_ []string) error {
	req, err := cmd.createReq()
	if err != nil {
		return err
	}

	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadWrite)
	if err != nil {
		return err
	}
	defer disconnect()

	ci, err := ph.CreateContainer(ctx, *req)
	if err != nil {
		return errors.Wrapf(err, "failed to create container in pool %s", cmd.poolID())
	}
	cmd.Infof("Successfully created container %s", ci.ContainerUUID)

	return cmd.printOrJSON(ci, func(w io.Writer) error {
		return pretty.PrintContainerInfo(ci, w)
	})
}

type containerDestroyCmd struct {
	contBaseCmd
	Force bool `long:"force" short:"f" description:"force destroy even if there are open handles"`
}

// Execute is run when containerDestroyCmd subcommand is activated.
func (cmd *containerDestroyCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connectPool(ctx, cmd.poolID(), daos.PoolConnectFlagReadWrite)
	if err != nil {
		return err
	}
	defer disconnect()

	if err := ph.DestroyContainer(ctx, cmd.contID(), cmd.Force); err != nil {
		return errors.Wrapf(err, "failed to destroy container %s", cmd.contID())
	}
	cmd.Infof("Successfully destroyed container %s", cmd.contID())

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type containerListCmd struct {
	poolListContsCmd
}

type containerQueryCmd struct {
	contBaseCmd
}

// Execute is run when containerQueryCmd subcommand is activated.
func (cmd *containerQueryCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	ci, err := ch.Query(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to query container %s", cmd.contID())
	}

	return cmd.printOrJSON(ci, func(w io.Writer) error {
		return pretty.PrintContainerInfo(ci, w)
	})
}

type containerGetPropCmd struct {
	contBaseCmd
	Props contGetPropsFlag `long:"properties" short:"P" description:"container properties to get (key[,key...])"`
}

// Execute is run when containerGetPropCmd subcommand is activated.
func (cmd *containerGetPropCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	props, err := ch.GetProperties(ctx, cmd.Props.Names()...)
	if err != nil {
		return errors.Wrapf(err, "failed to get properties of container %s", cmd.contID())
	}

	return cmd.printOrJSON(props, func(w io.Writer) error {
		return pretty.PrintProperties(fmt.Sprintf("Properties for container %s", cmd.contID()), props, w)
	})
}

type containerSetPropCmd struct {
	contBaseCmd
	Props contSetPropsFlag `long:"properties" short:"P" required:"1" description:"container properties to set (key:val[,key:val...])"`
}

// Execute is run when containerSetPropCmd subcommand is activated.
func (cmd *containerSetPropCmd) Execute(_ []string) error {
	props, err := cmd.Props.PropertyList()
	if err != nil {
		return err
	}

	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := ch.SetProperties(ctx, props); err != nil {
		return errors.Wrapf(err, "failed to set properties on container %s", cmd.contID())
	}
	cmd.Infof("Properties were successfully set")

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type containerListAttrsCmd struct {
	contBaseCmd
	Verbose bool `long:"verbose" short:"V" description:"include values"`
}

// Execute is run when containerListAttrsCmd subcommand is activated.
func (cmd *containerListAttrsCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	var attrs daos.AttributeList
	if cmd.Verbose {
		attrs, err = ch.GetAttributes(ctx)
	} else {
		var names []string
		if names, err = ch.ListAttributes(ctx); err == nil {
			attrs = attrListFromNames(names)
		}
	}
	if err != nil {
		return errors.Wrapf(err, "failed to list attributes for container %s", cmd.contID())
	}

	return cmd.printOrJSON(attrs, func(w io.Writer) error {
		return pretty.PrintAttributes(fmt.Sprintf("Attributes for container %s:", cmd.contID()), attrs, w)
	})
}

type containerGetAttrCmd struct {
	contBaseCmd
	Attrs ui.GetPropertiesFlag `long:"attr" short:"a" required:"1" description:"attribute names to get (key[,key...])"`
}

// Execute is run when containerGetAttrCmd subcommand is activated.
func (cmd *containerGetAttrCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	attrs, err := ch.GetAttributes(ctx, cmd.Attrs.Names()...)
	if err != nil {
		return errors.Wrapf(err, "failed to get attributes %s from container %s",
			strings.Join(cmd.Attrs.Names(), ","), cmd.contID())
	}

	return cmd.printOrJSON(attrs, func(w io.Writer) error {
		return pretty.PrintAttributes(fmt.Sprintf("Attributes for container %s:", cmd.contID()), attrs, w)
	})
}

type containerSetAttrCmd struct {
	contBaseCmd
	Attrs ui.SetPropertiesFlag `long:"attr" short:"a" required:"1" description:"attributes to set (key:val[,key:val...])"`
}

// Execute is run when containerSetAttrCmd subcommand is activated.
func (cmd *containerSetAttrCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	attrs := make(daos.AttributeList, 0, len(cmd.Attrs.ParsedProps))
	for key, val := range cmd.Attrs.ParsedProps {
		attrs = append(attrs, &daos.Attribute{Name: key, Value: []byte(val)})
	}
	if err := ch.SetAttributes(ctx, attrs...); err != nil {
		return errors.Wrapf(err, "failed to set attributes on container %s", cmd.contID())
	}

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type containerDelAttrCmd struct {
	contBaseCmd
	Attrs ui.GetPropertiesFlag `long:"attr" short:"a" required:"1" description:"attribute names to delete (key[,key...])"`
}

// Execute is run when containerDelAttrCmd subcommand is activated.
func (cmd *containerDelAttrCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := ch.DeleteAttributes(ctx, cmd.Attrs.Names()...); err != nil {
		return errors.Wrapf(err, "failed to delete attributes %s on container %s",
			strings.Join(cmd.Attrs.Names(), ","), cmd.contID())
	}

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type containerGetACLCmd struct {
	contBaseCmd
	Verbose bool   `long:"verbose" short:"V" description:"add descriptive comments to ACL entries"`
	File    string `long:"outfile" short:"O" description:"write ACL to file"`
	Force   bool   `long:"force" short:"f" description:"allow overwriting an existing output file"`
}

// Execute is run when containerGetACLCmd subcommand is activated.
func (cmd *containerGetACLCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := ch.GetACL(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to get ACL of container %s", cmd.contID())
	}

	return outputACL(&cmd.baseCmd, resp, cmd.Verbose, cmd.File, cmd.Force)
}

type containerOverwriteACLCmd struct {
	contBaseCmd
	Entries ui.ACLEntriesFlag `long:"acl" short:"a" required:"1" description:"access control entry, or @file of entries (may be repeated)"`
}

// Execute is run when containerOverwriteACLCmd subcommand is activated.
func (cmd *containerOverwriteACLCmd) Execute(_ []string) error {
	return cmd.modifyACL(func(ch *api.ContainerHandle) error {
		return ch.OverwriteACL(cmd.MustLogCtx(), cmd.Entries.ACL)
	})
}

type containerUpdateACLCmd struct {
	contBaseCmd
	Entries ui.ACLEntriesFlag `long:"acl" short:"a" required:"1" description:"access control entry, or @file of entries (may be repeated)"`
}

// Execute is run when containerUpdateACLCmd subcommand is activated.
func (cmd *containerUpdateACLCmd) Execute(_ []string) error {
	return cmd.modifyACL(func(ch *api.ContainerHandle) error {
		return ch.UpdateACL(cmd.MustLogCtx(), cmd.Entries.ACL)
	})
}

type containerDeleteACLCmd struct {
	contBaseCmd
	Principal ui.ACLPrincipalFlag `long:"principal" short:"p" required:"1" description:"principal whose entry should be removed"`
}

// Execute is run when containerDeleteACLCmd subcommand is activated.
func (cmd *containerDeleteACLCmd) Execute(_ []string) error {
	return cmd.modifyACL(func(ch *api.ContainerHandle) error {
		return ch.DeleteACL(cmd.MustLogCtx(), cmd.Principal.String())
	})
}

func (cmd *contBaseCmd) modifyACL(modify func(*api.ContainerHandle) error) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := modify(ch); err != nil {
		return errors.Wrapf(err, "failed to modify ACL of container %s", cmd.contID())
	}

	resp, err := ch.GetACL(ctx)
	if err != nil {
		return err
	}
	return outputACL(&cmd.baseCmd, resp, false, "", false)
}

type containerSnapCreateCmd struct {
	contBaseCmd
	Name string `long:"snap" short:"s" description:"snapshot name"`
}

// Execute is run when containerSnapCreateCmd subcommand is activated.
func (cmd *containerSnapCreateCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	epoch, err := ch.CreateSnapshot(ctx, cmd.Name)
	if err != nil {
		return errors.Wrapf(err, "failed to create snapshot of container %s", cmd.contID())
	}

	snap := &api.Snapshot{Epoch: epoch, Name: cmd.Name}
	return cmd.printOrJSON(snap, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "snapshot/epoch %#x has been created\n", uint64(epoch))
		return err
	})
}

type containerSnapListCmd struct {
	contBaseCmd
}

// Execute is run when containerSnapListCmd subcommand is activated.
func (cmd *containerSnapListCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	snaps, err := ch.ListSnapshots(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to list snapshots of container %s", cmd.contID())
	}

	return cmd.printOrJSON(snaps, func(w io.Writer) error {
		return pretty.PrintSnapshots(snaps, w)
	})
}

type containerSnapDestroyCmd struct {
	contBaseCmd
	Epoch      ui.EpochFlag      `long:"epc" short:"e" description:"snapshot epoch to delete"`
	EpochRange ui.EpochRangeFlag `long:"epcrange" short:"r" description:"range of snapshot epochs to delete (lo-hi)"`
	Name       string            `long:"snap" short:"s" description:"snapshot name to delete"`
}

// epochRange resolves the selection flags into the range of epochs to
// destroy. Exactly one selector must be given.
func (cmd *containerSnapDestroyCmd) epochRange(listSnaps func() ([]*api.Snapshot, error)) (daos.EpochRange, error) {
	var set int
	for _, isSet := range []bool{cmd.Epoch.Epoch != 0, cmd.EpochRange.Range.Hi != 0, cmd.Name != ""} {
		if isSet {
			set++
		}
	}
	if set != 1 {
		return daos.EpochRange{}, errors.New("exactly one of --epc, --epcrange or --snap must be supplied")
	}

	switch {
	case cmd.Epoch.Epoch != 0:
		return daos.EpochRange{Lo: cmd.Epoch.Epoch, Hi: cmd.Epoch.Epoch}, nil
	case cmd.EpochRange.Range.Hi != 0:
		return cmd.EpochRange.Range, nil
	}

	snaps, err := listSnaps()
	if err != nil {
		return daos.EpochRange{}, err
	}
	for _, snap := range snaps {
		if snap.Name == cmd.Name {
			return daos.EpochRange{Lo: snap.Epoch, Hi: snap.Epoch}, nil
		}
	}
	return daos.EpochRange{}, errors.Wrapf(daos.Nonexistent, "no snapshot named %q", cmd.Name)
}

// Execute is run when containerSnapDestroyCmd subcommand is activated.
func (cmd *containerSnapDestroyCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	er, err := cmd.epochRange(func() ([]*api.Snapshot, error) {
		return ch.ListSnapshots(ctx)
	})
	if err != nil {
		return err
	}

	if err := ch.DestroySnapshot(ctx, er); err != nil {
		return errors.Wrapf(err, "failed to destroy snapshots of container %s", cmd.contID())
	}
	cmd.Infof("snapshots %#x-%#x have been destroyed", uint64(er.Lo), uint64(er.Hi))

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type containerRollbackCmd struct {
	contBaseCmd
	Epoch ui.EpochFlag `long:"epc" short:"e" required:"1" description:"snapshot epoch to roll back to"`
}

// Execute is run when containerRollbackCmd subcommand is activated.
func (cmd *containerRollbackCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := ch.Rollback(ctx, cmd.Epoch.Epoch); err != nil {
		return errors.Wrapf(err, "failed to roll back container %s", cmd.contID())
	}
	cmd.Infof("container %s rolled back to %#x", cmd.contID(), uint64(cmd.Epoch.Epoch))

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type containerAggregateCmd struct {
	contBaseCmd
	Epoch ui.EpochFlag `long:"epc" short:"e" description:"aggregate up to this epoch (default all)"`
}

// Execute is run when containerAggregateCmd subcommand is activated.
func (cmd *containerAggregateCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	epoch := cmd.Epoch.Epoch
	if epoch == 0 {
		epoch = daos.EpochMax
	}
	if err := ch.Aggregate(ctx, epoch); err != nil {
		return errors.Wrapf(err, "failed to aggregate container %s", cmd.contID())
	}

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

const listBatchSize = 128

type containerListObjectsCmd struct {
	contBaseCmd
	Epoch ui.EpochFlag `long:"epc" short:"e" description:"list objects visible in this snapshot epoch"`
}

// Execute is run when containerListObjectsCmd subcommand is activated.
func (cmd *containerListObjectsCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	tx, closeTx, err := cmd.snapTx(ctx, ch, cmd.Epoch.Epoch)
	if err != nil {
		return err
	}
	defer closeTx()

	var oids []daos.ObjectID
	var anchor daos.Anchor
	for !anchor.EOF() {
		batch, err := ch.ListObjects(ctx, tx, &anchor, listBatchSize)
		if err != nil {
			return errors.Wrapf(err, "failed to list objects in container %s", cmd.contID())
		}
		oids = append(oids, batch...)
	}

	return cmd.printOrJSON(oids, func(w io.Writer) error {
		return pretty.PrintObjectIDs(oids, w)
	})
}

type containerAllocOIDsCmd struct {
	contBaseCmd
	Num uint64 `long:"num" short:"n" default:"1" description:"number of object IDs to reserve"`
}

// Execute is run when containerAllocOIDsCmd subcommand is activated.
func (cmd *containerAllocOIDsCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	first, err := ch.AllocOIDs(ctx, cmd.Num)
	if err != nil {
		return errors.Wrapf(err, "failed to allocate object IDs in container %s", cmd.contID())
	}

	return cmd.printOrJSON(struct {
		First uint64 `json:"first"`
		Num   uint64 `json:"num"`
	}{first, cmd.Num}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "allocated object IDs %d-%d\n", first, first+cmd.Num-1)
		return err
	})
}
