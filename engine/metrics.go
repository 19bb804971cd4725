//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package engine

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/vos"
)

// Metrics holds the I/O metrics shared by all engines in a system.
type Metrics struct {
	ioOps    *prometheus.CounterVec
	ioBytes  *prometheus.CounterVec
	scmUsed  *prometheus.GaugeVec
	nvmeUsed *prometheus.GaugeVec
}

// NewMetrics creates the engine metrics and registers them with the
// registerer, if one is supplied.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ioOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dsr",
				Subsystem: "engine",
				Name:      "io_ops_total",
				Help:      "Number of object I/O operations handled.",
			},
			[]string{"rank", "op"},
		),
		ioBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dsr",
				Subsystem: "engine",
				Name:      "io_bytes_total",
				Help:      "Number of bytes read and written.",
			},
			[]string{"rank", "dir"},
		),
		scmUsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dsr",
				Subsystem: "engine",
				Name:      "target_scm_used_bytes",
				Help:      "SCM space used on a target.",
			},
			[]string{"rank", "target"},
		),
		nvmeUsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dsr",
				Subsystem: "engine",
				Name:      "target_nvme_used_bytes",
				Help:      "NVMe space used on a target.",
			},
			[]string{"rank", "target"},
		),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.ioOps, m.ioBytes, m.scmUsed, m.nvmeUsed} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register engine metrics")
		}
	}
	return m, nil
}

func (m *Metrics) countOp(rank ranklist.Rank, op string) {
	if m == nil {
		return
	}
	m.ioOps.WithLabelValues(rank.String(), op).Inc()
}

func (m *Metrics) countBytes(rank ranklist.Rank, dir string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ioBytes.WithLabelValues(rank.String(), dir).Add(float64(n))
}

func (m *Metrics) setUsage(rank ranklist.Rank, idx uint32, u vos.Usage) {
	if m == nil {
		return
	}
	tgt := strconv.FormatUint(uint64(idx), 10)
	m.scmUsed.WithLabelValues(rank.String(), tgt).Set(float64(u.SCM))
	m.nvmeUsed.WithLabelValues(rank.String(), tgt).Set(float64(u.NVMe))
}
