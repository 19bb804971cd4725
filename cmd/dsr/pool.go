//
// (C) Copyright 2019-2024 Intel Corporation.
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
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/lib/ui"
	"github.com/daos-stack/dsr/system"
)

type poolCmd struct {
	Create         poolCreateCmd       `command:"create" description:"create a pool"`
	Destroy        poolDestroyCmd      `command:"destroy" description:"destroy a pool"`
	List           poolListCmd         `command:"list" alias:"ls" description:"list pools in the system"`
	Query          poolQueryCmd        `command:"query" description:"query pool info"`
	QueryTargets   poolQueryTargetsCmd `command:"query-targets" description:"query pool target info"`
	ListContainers poolListContsCmd    `command:"list-containers" alias:"list-cont" description:"list containers in a pool"`
	GetProp        poolGetPropCmd      `command:"get-prop" description:"get pool properties"`
	SetProp        poolSetPropCmd      `command:"set-prop" description:"set pool properties"`
	ListAttrs      poolListAttrsCmd    `command:"list-attr" alias:"list-attrs" description:"list pool user-defined attributes"`
	GetAttr        poolGetAttrCmd      `command:"get-attr" description:"get pool user-defined attributes"`
	SetAttr        poolSetAttrCmd      `command:"set-attr" description:"set pool user-defined attributes"`
	DelAttr        poolDelAttrCmd      `command:"del-attr" alias:"delete-attr" description:"delete pool user-defined attributes"`
	GetACL         poolGetACLCmd       `command:"get-acl" description:"get a pool's access control list"`
	OverwriteACL   poolOverwriteACLCmd `command:"overwrite-acl" description:"overwrite a pool's access control list"`
	UpdateACL      poolUpdateACLCmd    `command:"update-acl" description:"update entries in a pool's access control list"`
	DeleteACL      poolDeleteACLCmd    `command:"delete-acl" description:"delete an entry from a pool's access control list"`
	Exclude        poolExcludeCmd      `command:"exclude" description:"exclude targets from a pool"`
	Drain          poolDrainCmd        `command:"drain" description:"drain targets from a pool"`
	Reintegrate    poolReintegrateCmd  `command:"reintegrate" alias:"reint" description:"reintegrate targets into a pool"`
	ListSvc        poolListSvcCmd      `command:"list-svc" alias:"svc-leader" description:"list pool service replicas and leader"`
	AddSvc         poolAddSvcCmd       `command:"add-svc" description:"add pool service replicas"`
	RemoveSvc      poolRemoveSvcCmd    `command:"remove-svc" description:"remove pool service replicas"`
	BlobstoreState poolBlobstoreCmd    `command:"blobstore-state" description:"show the storage state of pool targets"`
}

// poolCreateCmd is the struct representing the command to create a pool.
type poolCreateCmd struct {
	baseCmd
	UUID       string              `long:"uuid" description:"UUID to assign to the pool (generated if not set)"`
	ScmSize    ui.ByteSizeFlag     `long:"scm-size" short:"s" required:"1" description:"total SCM capacity of the pool (e.g. 1GB)"`
	NvmeSize   ui.ByteSizeFlag     `long:"nvme-size" short:"n" description:"total NVMe capacity of the pool"`
	NumSvcReps uint32              `long:"nsvc" short:"v" description:"number of pool service replicas"`
	Ranks      ui.RankSetFlag      `long:"ranks" short:"r" description:"storage engine ranks to use (default all)"`
	Properties poolSetPropsFlag    `long:"properties" short:"P" description:"pool properties to set (key:val[,key:val...])"`
	ACL        ui.ACLEntriesFlag   `long:"acl" short:"a" description:"access control entry, or @file of entries (may be repeated)"`
	User       ui.ACLPrincipalFlag `long:"user" short:"u" description:"pool owner user"`
	Group      ui.ACLPrincipalFlag `long:"group" short:"g" description:"pool owner group"`

	Args struct {
		Label string `positional-arg-name:"<pool label>" required:"1"`
	} `positional-args:"yes"`
}

// Execute is run when poolCreateCmd subcommand is activated.
func (cmd *poolCreateCmd) Execute(_ []string) error {
	req := &system.PoolCreateReq{
		Label:          cmd.Args.Label,
		ScmBytes:       cmd.ScmSize.Bytes,
		NvmeBytes:      cmd.NvmeSize.Bytes,
		NumSvcReplicas: int(cmd.NumSvcReps),
		Owner:          cmd.User.String(),
		Group:          cmd.Group.String(),
	}
	if cmd.UUID != "" {
		id, err := uuid.Parse(cmd.UUID)
		if err != nil {
			return errors.Wrapf(err, "invalid pool UUID %q", cmd.UUID)
		}
		req.UUID = id
	}
	if !cmd.Ranks.Empty() {
		req.Ranks = cmd.Ranks.Ranks()
	}
	if !cmd.ACL.Empty() {
		req.ACL = cmd.ACL.ACL
	}

	props, err := cmd.Properties.PropertyList()
	if err != nil {
		return err
	}
	req.Props = props

	ps, err := cmd.sys.PoolCreate(cmd.MustLogCtx(), req)
	if err != nil {
		return errors.Wrap(err, "pool create failed")
	}
	cmd.Debugf("created pool %s", ps.PoolUUID)

	return cmd.printOrJSON(ps, func(w io.Writer) error {
		return pretty.PrintPoolCreateResponse(ps, w)
	})
}

// poolDestroyCmd is the struct representing the command to destroy a pool.
type poolDestroyCmd struct {
	poolBaseCmd
	Force bool `long:"force" short:"f" description:"destroy the pool even if it has open connections"`
}

// Execute is run when poolDestroyCmd subcommand is activated.
func (cmd *poolDestroyCmd) Execute(_ []string) error {
	if err := cmd.sys.PoolDestroy(cmd.MustLogCtx(), cmd.poolID(), cmd.Force); err != nil {
		return errors.Wrapf(err, "failed to destroy pool %s", cmd.poolID())
	}
	cmd.Infof("Pool-destroy command succeeded")

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

// poolListCmd represents the command to fetch a list of all pools in the
// system.
type poolListCmd struct {
	baseCmd
	NoQuery bool `long:"no-query" short:"n" description:"disable query of listed pools"`
}

// Execute is run when poolListCmd activates.
func (cmd *poolListCmd) Execute(_ []string) error {
	pools, err := api.GetPoolList(cmd.MustLogCtx(), api.GetPoolListReq{
		SysName: cmd.sysName(),
		Query:   !cmd.NoQuery,
	})
	if err != nil {
		return errors.Wrap(err, "failed to list pools")
	}

	return cmd.printOrJSON(pools, func(w io.Writer) error {
		return pretty.PrintPoolList(pools, !cmd.NoQuery, w)
	})
}

// poolQueryCmd is the struct representing the command to query a pool.
type poolQueryCmd struct {
	poolBaseCmd
	ShowEnabledRanks  bool `long:"show-enabled" short:"e" description:"show engine unique identifiers (ranks) which are enabled"`
	ShowDisabledRanks bool `long:"show-disabled" short:"b" description:"show engine unique identifiers (ranks) which are disabled"`
	HealthOnly        bool `long:"health-only" short:"t" description:"only perform pool health related queries"`
}

func (cmd *poolQueryCmd) queryMask() (daos.PoolQueryMask, error) {
	mask := daos.DefaultPoolQueryMask
	if cmd.HealthOnly {
		mask = daos.HealthOnlyPoolQueryMask
	}
	if cmd.ShowEnabledRanks {
		if err := mask.SetOptions(daos.PoolQueryOptionEnabledEngines); err != nil {
			return 0, err
		}
	}
	if !cmd.ShowDisabledRanks {
		if err := mask.ClearOptions(daos.PoolQueryOptionDisabledEngines); err != nil {
			return 0, err
		}
	}
	return mask, nil
}

// Execute is run when poolQueryCmd subcommand is activated.
func (cmd *poolQueryCmd) Execute(_ []string) error {
	mask, err := cmd.queryMask()
	if err != nil {
		return err
	}

	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return err
	}
	defer disconnect()

	pi, err := ph.Query(ctx, mask)
	if err != nil {
		return errors.Wrapf(err, "failed to query pool %s", cmd.poolID())
	}

	return cmd.printOrJSON(pi, func(w io.Writer) error {
		return pretty.PrintPoolInfo(pi, w)
	})
}

type poolQueryTargetsCmd struct {
	poolBaseCmd
	Rank    uint32         `long:"rank" required:"1" description:"engine unique identifier (rank) to query"`
	Targets ui.RankSetFlag `long:"target-idx" description:"comma-separated list of target indices to query (default all)"`
}

// Execute is run when the poolQueryTargetsCmd subcommand is activated.
func (cmd *poolQueryTargetsCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return err
	}
	defer disconnect()

	var tgts *ranklist.RankSet
	if !cmd.Targets.Empty() {
		tgts = &cmd.Targets.RankSet
	}
	infos, err := ph.QueryTargets(ctx, ranklist.Rank(cmd.Rank), tgts)
	if err != nil {
		return errors.Wrapf(err, "failed to query targets of pool %s", cmd.poolID())
	}

	return cmd.printOrJSON(infos, func(w io.Writer) error {
		return pretty.PrintPoolTargets(infos, w)
	})
}

type poolListContsCmd struct {
	poolBaseCmd
	NoQuery bool `long:"no-query" short:"n" description:"disable query of listed containers"`
}

// Execute is run when poolListContsCmd subcommand is activated.
func (cmd *poolListContsCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return err
	}
	defer disconnect()

	conts, err := ph.ListContainers(ctx, !cmd.NoQuery)
	if err != nil {
		return errors.Wrapf(err, "unable to list containers for pool %s", cmd.poolID())
	}

	return cmd.printOrJSON(conts, func(w io.Writer) error {
		return pretty.PrintContainerList(conts, w)
	})
}

type poolGetPropCmd struct {
	poolBaseCmd

	Args struct {
		Props poolGetPropsFlag `positional-arg-name:"[key[,key...]]"`
	} `positional-args:"yes"`
}

// Execute is run when poolGetPropCmd subcommand is activated.
func (cmd *poolGetPropCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return err
	}
	defer disconnect()

	props, err := ph.GetProperties(ctx, cmd.Args.Props.Names()...)
	if err != nil {
		return errors.Wrapf(err, "failed to get properties of pool %s", cmd.poolID())
	}

	return cmd.printOrJSON(props, func(w io.Writer) error {
		return pretty.PrintProperties(fmt.Sprintf("Properties for pool %s", cmd.poolID()), props, w)
	})
}

type poolSetPropCmd struct {
	poolBaseCmd

	Args struct {
		Props poolSetPropsFlag `positional-arg-name:"key:val[,key:val...]" required:"1"`
	} `positional-args:"yes"`
}

// Execute is run when poolSetPropCmd subcommand is activated.
func (cmd *poolSetPropCmd) Execute(_ []string) error {
	props, err := cmd.Args.Props.PropertyList()
	if err != nil {
		return err
	}

	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadWrite)
	if err != nil {
		return err
	}
	defer disconnect()

	if err := ph.SetProperties(ctx, props); err != nil {
		return errors.Wrapf(err, "failed to set properties on pool %s", cmd.poolID())
	}
	cmd.Infof("pool set-prop succeeded (%s)", cmd.Args.Props.String())

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type poolListAttrsCmd struct {
	poolBaseCmd
	Verbose bool `long:"verbose" short:"V" description:"include values"`
}

// Execute is run when poolListAttrsCmd subcommand is activated.
func (cmd *poolListAttrsCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return err
	}
	defer disconnect()

	var attrs daos.AttributeList
	if cmd.Verbose {
		attrs, err = ph.GetAttributes(ctx)
	} else {
		var names []string
		if names, err = ph.ListAttributes(ctx); err == nil {
			attrs = attrListFromNames(names)
		}
	}
	if err != nil {
		return errors.Wrapf(err, "failed to list attributes for pool %s", cmd.poolID())
	}

	return cmd.printOrJSON(attrs, func(w io.Writer) error {
		return pretty.PrintAttributes(fmt.Sprintf("Attributes for pool %s:", cmd.poolID()), attrs, w)
	})
}

type poolGetAttrCmd struct {
	poolBaseCmd

	Args struct {
		Attrs ui.GetPropertiesFlag `positional-arg-name:"key[,key...]" required:"1"`
	} `positional-args:"yes"`
}

// Execute is run when poolGetAttrCmd subcommand is activated.
func (cmd *poolGetAttrCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return err
	}
	defer disconnect()

	attrs, err := ph.GetAttributes(ctx, cmd.Args.Attrs.Names()...)
	if err != nil {
		return errors.Wrapf(err, "failed to get attributes %s from pool %s",
			strings.Join(cmd.Args.Attrs.Names(), ","), cmd.poolID())
	}

	return cmd.printOrJSON(attrs, func(w io.Writer) error {
		return pretty.PrintAttributes(fmt.Sprintf("Attributes for pool %s:", cmd.poolID()), attrs, w)
	})
}

type poolSetAttrCmd struct {
	poolBaseCmd

	Args struct {
		Attrs ui.SetPropertiesFlag `positional-arg-name:"key:val[,key:val...]" required:"1"`
	} `positional-args:"yes"`
}

// Execute is run when poolSetAttrCmd subcommand is activated.
func (cmd *poolSetAttrCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadWrite)
	if err != nil {
		return err
	}
	defer disconnect()

	attrs := make(daos.AttributeList, 0, len(cmd.Args.Attrs.ParsedProps))
	for key, val := range cmd.Args.Attrs.ParsedProps {
		attrs = append(attrs, &daos.Attribute{Name: key, Value: []byte(val)})
	}
	if err := ph.SetAttributes(ctx, attrs...); err != nil {
		return errors.Wrapf(err, "failed to set attributes on pool %s", cmd.poolID())
	}

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type poolDelAttrCmd struct {
	poolBaseCmd

	Args struct {
		Attrs ui.GetPropertiesFlag `positional-arg-name:"key[,key...]" required:"1"`
	} `positional-args:"yes"`
}

// Execute is run when poolDelAttrCmd subcommand is activated.
func (cmd *poolDelAttrCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadWrite)
	if err != nil {
		return err
	}
	defer disconnect()

	if err := ph.DeleteAttributes(ctx, cmd.Args.Attrs.Names()...); err != nil {
		return errors.Wrapf(err, "failed to delete attributes %s on pool %s",
			strings.Join(cmd.Args.Attrs.Names(), ","), cmd.poolID())
	}

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type poolGetACLCmd struct {
	poolBaseCmd
	Verbose bool   `long:"verbose" short:"V" description:"add descriptive comments to ACL entries"`
	File    string `long:"outfile" short:"O" description:"write ACL to file"`
	Force   bool   `long:"force" short:"f" description:"allow overwriting an existing output file"`
}

// Execute is run when the poolGetACLCmd subcommand is activated.
func (cmd *poolGetACLCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return err
	}
	defer disconnect()

	resp, err := ph.GetACL(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to get ACL of pool %s", cmd.poolID())
	}

	return outputACL(&cmd.baseCmd, resp, cmd.Verbose, cmd.File, cmd.Force)
}

type poolOverwriteACLCmd struct {
	poolBaseCmd
	Entries ui.ACLEntriesFlag `long:"acl" short:"a" required:"1" description:"access control entry, or @file of entries (may be repeated)"`
}

// Execute is run when the poolOverwriteACLCmd subcommand is activated.
func (cmd *poolOverwriteACLCmd) Execute(_ []string) error {
	return cmd.modifyACL(func(ph *api.PoolHandle) error {
		return ph.OverwriteACL(cmd.MustLogCtx(), cmd.Entries.ACL)
	})
}

type poolUpdateACLCmd struct {
	poolBaseCmd
	Entries ui.ACLEntriesFlag `long:"acl" short:"a" required:"1" description:"access control entry, or @file of entries (may be repeated)"`
}

// Execute is run when the poolUpdateACLCmd subcommand is activated.
func (cmd *poolUpdateACLCmd) Execute(_ []string) error {
	return cmd.modifyACL(func(ph *api.PoolHandle) error {
		return ph.UpdateACL(cmd.MustLogCtx(), cmd.Entries.ACL)
	})
}

type poolDeleteACLCmd struct {
	poolBaseCmd
	Principal ui.ACLPrincipalFlag `long:"principal" short:"p" required:"1" description:"principal whose entry should be removed"`
}

// Execute is run when the poolDeleteACLCmd subcommand is activated.
func (cmd *poolDeleteACLCmd) Execute(_ []string) error {
	return cmd.modifyACL(func(ph *api.PoolHandle) error {
		return ph.DeleteACL(cmd.MustLogCtx(), cmd.Principal.String())
	})
}

// modifyACL connects read-write, applies the change and prints the
// resulting ACL.
func (cmd *poolBaseCmd) modifyACL(modify func(*api.PoolHandle) error) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadWrite)
	if err != nil {
		return err
	}
	defer disconnect()

	if err := modify(ph); err != nil {
		return errors.Wrapf(err, "failed to modify ACL of pool %s", cmd.poolID())
	}

	resp, err := ph.GetACL(ctx)
	if err != nil {
		return err
	}
	return outputACL(&cmd.baseCmd, resp, false, "", false)
}

// outputACL prints the ACL, or writes it to a file when one is named.
func outputACL(cmd *baseCmd, resp *api.ACLResp, verbose bool, file string, force bool) error {
	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(resp, nil)
	}
	if file == "" {
		return pretty.PrintACL(resp, verbose, cmd.writer())
	}

	f, err := createACLFile(file, force)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := pretty.PrintACL(resp, verbose, f); err != nil {
		return errors.Wrapf(err, "failed to write ACL to %s", file)
	}
	cmd.Infof("Wrote ACL to output file: %s", file)
	return nil
}

type poolRankTargetsCmd struct {
	poolBaseCmd
	Rank      uint32            `long:"rank" required:"1" description:"engine unique identifier (rank) of the targets"`
	TargetIdx ui.NumberListFlag `long:"target-idx" description:"comma-separated list of target indices (default all)"`
}

func (cmd *poolRankTargetsCmd) updateTargets(op daos.PoolTargetOp) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadWrite)
	if err != nil {
		return err
	}
	defer disconnect()

	if err := ph.UpdateTargets(ctx, op, ranklist.Rank(cmd.Rank), cmd.TargetIdx.Numbers...); err != nil {
		return errors.Wrapf(err, "%s failed on pool %s rank %d", op, cmd.poolID(), cmd.Rank)
	}
	cmd.Infof("%s command succeeded", op)

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type poolExcludeCmd struct {
	poolRankTargetsCmd
}

// Execute is run when poolExcludeCmd subcommand is activated.
func (cmd *poolExcludeCmd) Execute(_ []string) error {
	return cmd.updateTargets(daos.PoolTargetOpExclude)
}

type poolDrainCmd struct {
	poolRankTargetsCmd
}

// Execute is run when poolDrainCmd subcommand is activated.
func (cmd *poolDrainCmd) Execute(_ []string) error {
	return cmd.updateTargets(daos.PoolTargetOpDrain)
}

type poolReintegrateCmd struct {
	poolRankTargetsCmd
}

// Execute is run when poolReintegrateCmd subcommand is activated.
func (cmd *poolReintegrateCmd) Execute(_ []string) error {
	return cmd.updateTargets(daos.PoolTargetOpReintegrate)
}

type poolListSvcCmd struct {
	poolBaseCmd
}

// Execute is run when poolListSvcCmd subcommand is activated.
func (cmd *poolListSvcCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return err
	}
	defer disconnect()

	replicas, err := ph.ListReplicas(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to list service replicas of pool %s", cmd.poolID())
	}
	leader, err := ph.ServiceLeader(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to find service leader of pool %s", cmd.poolID())
	}

	return cmd.printOrJSON(struct {
		Replicas ranklist.RankList `json:"replicas"`
		Leader   ranklist.Rank     `json:"leader"`
	}{replicas, leader}, func(w io.Writer) error {
		return pretty.PrintServiceReplicas(replicas, leader, w)
	})
}

type poolSvcRanksCmd struct {
	poolBaseCmd
	Ranks ui.RankSetFlag `long:"ranks" short:"r" required:"1" description:"engine ranks of the replicas"`
}

func (cmd *poolSvcRanksCmd) update(name string, fn func(*api.PoolHandle, ...ranklist.Rank) error) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadWrite)
	if err != nil {
		return err
	}
	defer disconnect()

	if err := fn(ph, cmd.Ranks.Ranks()...); err != nil {
		return errors.Wrapf(err, "failed to %s service replicas of pool %s", name, cmd.poolID())
	}
	cmd.Infof("%s service replicas %s succeeded", name, cmd.Ranks.RangedString())

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type poolAddSvcCmd struct {
	poolSvcRanksCmd
}

// Execute is run when poolAddSvcCmd subcommand is activated.
func (cmd *poolAddSvcCmd) Execute(_ []string) error {
	return cmd.update("add", func(ph *api.PoolHandle, ranks ...ranklist.Rank) error {
		return ph.AddReplicas(cmd.MustLogCtx(), ranks...)
	})
}

type poolRemoveSvcCmd struct {
	poolSvcRanksCmd
}

// Execute is run when poolRemoveSvcCmd subcommand is activated.
func (cmd *poolRemoveSvcCmd) Execute(_ []string) error {
	return cmd.update("remove", func(ph *api.PoolHandle, ranks ...ranklist.Rank) error {
		return ph.RemoveReplicas(cmd.MustLogCtx(), ranks...)
	})
}

type poolBlobstoreCmd struct {
	poolBaseCmd
}

// Execute is run when poolBlobstoreCmd subcommand is activated.
func (cmd *poolBlobstoreCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ph, disconnect, err := cmd.connect(ctx, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return err
	}
	id := ph.UUID()
	disconnect()

	states, err := api.MgmtGetBSState(ctx, cmd.sysName(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to get blobstore state of pool %s", cmd.poolID())
	}

	return cmd.printOrJSON(states, func(w io.Writer) error {
		return pretty.PrintBlobstoreStates(states, w)
	})
}
