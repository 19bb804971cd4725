//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package pool

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/daos-stack/dsr/rsvc"
)

// Metrics holds the pool service metrics shared by all pools in a system.
type Metrics struct {
	svcOps     *prometheus.CounterVec
	handles    *prometheus.GaugeVec
	mapVersion *prometheus.GaugeVec
	containers *prometheus.GaugeVec
}

// NewMetrics creates the pool service metrics and registers them with the
// registerer, if one is supplied.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		svcOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dsr",
				Subsystem: "pool",
				Name:      "svc_ops_total",
				Help:      "Number of replicated pool service updates submitted.",
			},
			[]string{"pool", "op"},
		),
		handles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dsr",
				Subsystem: "pool",
				Name:      "handles",
				Help:      "Number of open pool handles.",
			},
			[]string{"pool"},
		),
		mapVersion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dsr",
				Subsystem: "pool",
				Name:      "map_version",
				Help:      "Current pool map version.",
			},
			[]string{"pool"},
		),
		containers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dsr",
				Subsystem: "pool",
				Name:      "containers",
				Help:      "Number of containers in the pool.",
			},
			[]string{"pool"},
		),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.svcOps, m.handles, m.mapVersion, m.containers} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register pool metrics")
		}
	}
	return m, nil
}

func (m *Metrics) countOp(pool uuid.UUID, op rsvc.Op) {
	if m == nil {
		return
	}
	m.svcOps.WithLabelValues(pool.String(), opName(op)).Inc()
}

func (m *Metrics) update(pool uuid.UUID, pd *poolData) {
	if m == nil || pd == nil || pd.Map == nil {
		return
	}
	id := pool.String()
	m.handles.WithLabelValues(id).Set(float64(len(pd.Handles)))
	m.mapVersion.WithLabelValues(id).Set(float64(pd.Map.Version))
	m.containers.WithLabelValues(id).Set(float64(len(pd.Containers)))
}

func (m *Metrics) remove(pool uuid.UUID) {
	if m == nil {
		return
	}
	id := pool.String()
	for _, name := range opNames {
		m.svcOps.DeleteLabelValues(id, name)
	}
	m.handles.DeleteLabelValues(id)
	m.mapVersion.DeleteLabelValues(id)
	m.containers.DeleteLabelValues(id)
}
