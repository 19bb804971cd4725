//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/daos-stack/dsr/common/cmdutil"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/lib/ui"
	"github.com/daos-stack/dsr/server/config"
)

type configCmd struct {
	Show     configShowCmd     `command:"show" description:"print the effective system configuration"`
	Validate configValidateCmd `command:"validate" description:"check the system configuration"`
	Generate configGenCmd      `command:"generate" alias:"gen" description:"generate a system configuration file"`
}

type configBaseCmd struct {
	cmdutil.LogCmd
	cmdutil.JSONOutputCmd
	cmdutil.NoArgsCmd
	outputCmd
	cfgCmd
}

type configShowCmd struct {
	configBaseCmd
}

// Execute is run when configShowCmd subcommand is activated.
func (cmd *configShowCmd) Execute(_ []string) error {
	fp, err := cmd.cfg.Fingerprint()
	if err != nil {
		return errors.Wrap(err, "failed to fingerprint configuration")
	}

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(struct {
			Config      *config.System `json:"config"`
			Fingerprint uint64         `json:"fingerprint"`
		}{cmd.cfg, fp}, nil)
	}

	w := cmd.writer()
	if cmd.cfg.Path != "" {
		if _, err := fmt.Fprintf(w, "# loaded from %s\n", cmd.cfg.Path); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "# fingerprint %#x\n", fp); err != nil {
		return err
	}
	return writeYAML(w, cmd.cfg)
}

type configValidateCmd struct {
	configBaseCmd
}

// Execute is run when configValidateCmd subcommand is activated.
func (cmd *configValidateCmd) Execute(_ []string) error {
	if err := cmd.cfg.Validate(cmd.Logger); err != nil {
		return err
	}
	cmd.Infof("configuration is valid (%d engines)", len(cmd.cfg.EngineConfigs()))

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

// configGenCmd builds a configuration from the flags rather than loading
// one.
type configGenCmd struct {
	cmdutil.LogCmd
	cmdutil.JSONOutputCmd
	outputCmd
	Name        string          `long:"name" short:"n" default:"daos_server" description:"system name"`
	NrEngines   int             `long:"engines" short:"e" default:"3" description:"number of engines"`
	NrTargets   int             `long:"targets" short:"t" default:"4" description:"number of targets per engine"`
	ScmSize     ui.ByteSizeFlag `long:"scm-size" short:"s" description:"SCM size per engine (default 1GiB)"`
	NvmeSize    ui.ByteSizeFlag `long:"nvme-size" description:"NVMe size per engine (default 8GiB)"`
	MgmtSvcReps int             `long:"mgmt-svc-replicas" default:"3" description:"number of management service replicas"`
	PoolSvcReps int             `long:"pool-svc-replicas" default:"3" description:"default number of pool service replicas"`
	RaftDir     string          `long:"raft-dir" description:"directory for durable raft logs (in-memory if not set)"`
	Output      string          `long:"output" short:"o" description:"write to this file instead of stdout"`
}

func (cmd *configGenCmd) build() (*config.System, error) {
	engines := make([]*config.Engine, 0, cmd.NrEngines)
	for i := 0; i < cmd.NrEngines; i++ {
		ec := config.NewEngine(ranklist.Rank(i)).WithTargets(cmd.NrTargets)
		scm, nvme := uint64(ec.ScmSize), uint64(ec.NvmeSize)
		if cmd.ScmSize.IsSet() {
			scm = cmd.ScmSize.Bytes
		}
		if cmd.NvmeSize.IsSet() {
			nvme = cmd.NvmeSize.Bytes
		}
		engines = append(engines, ec.WithStorage(scm, nvme))
	}

	cfg := config.DefaultSystem().
		WithSystemName(cmd.Name).
		WithEngines(engines...).
		WithMgmtSvcReplicas(cmd.MgmtSvcReps).
		WithPoolSvcReplicas(cmd.PoolSvcReps).
		WithRaftDir(cmd.RaftDir)
	if err := cfg.Validate(cmd.Logger); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Execute is run when configGenCmd subcommand is activated.
func (cmd *configGenCmd) Execute(_ []string) error {
	cfg, err := cmd.build()
	if err != nil {
		return err
	}

	if cmd.Output != "" {
		if err := cfg.SaveToFile(cmd.Output); err != nil {
			return errors.Wrapf(err, "failed to write %s", cmd.Output)
		}
		cmd.Infof("wrote configuration to %s", cmd.Output)
		if cmd.JSONOutputEnabled() {
			return cmd.OutputJSON(nil, nil)
		}
		return nil
	}

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(cfg, nil)
	}
	return writeYAML(cmd.writer(), cfg)
}

func writeYAML(w io.Writer, in interface{}) error {
	out, err := yaml.Marshal(in)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
