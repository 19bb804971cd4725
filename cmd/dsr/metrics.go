//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// metricsCmd dumps the metrics registered by the system.
type metricsCmd struct {
	baseCmd
	Prefix string `long:"prefix" short:"p" description:"only include metrics whose names start with this prefix"`
}

func (cmd *metricsCmd) gather() ([]*dto.MetricFamily, error) {
	mfs, err := cmd.sys.Registry().Gather()
	if err != nil {
		return nil, errors.Wrap(err, "failed to gather metrics")
	}
	if cmd.Prefix == "" {
		return mfs, nil
	}

	filtered := make([]*dto.MetricFamily, 0, len(mfs))
	for _, mf := range mfs {
		if strings.HasPrefix(mf.GetName(), cmd.Prefix) {
			filtered = append(filtered, mf)
		}
	}
	return filtered, nil
}

// Execute is run when metricsCmd subcommand is activated.
func (cmd *metricsCmd) Execute(_ []string) error {
	mfs, err := cmd.gather()
	if err != nil {
		return err
	}

	return cmd.printOrJSON(mfs, func(w io.Writer) error {
		return writeMetrics(w, mfs)
	})
}

// writeMetrics writes the families in the prometheus text exposition
// format.
func writeMetrics(w io.Writer, mfs []*dto.MetricFamily) error {
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return errors.Wrapf(err, "failed to encode %s", mf.GetName())
		}
	}
	return nil
}
