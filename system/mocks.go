//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package system

import (
	"context"
	"testing"
	"time"

	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/server/config"
)

// MockConfig returns a configuration for a small system with fast raft
// timeouts. Engines have two targets of 32MiB SCM and 256MiB NVMe each.
func MockConfig(nrEngines int) *config.System {
	engines := make([]*config.Engine, 0, nrEngines)
	for i := 0; i < nrEngines; i++ {
		engines = append(engines, config.NewEngine(ranklist.Rank(i)).
			WithTargets(2).
			WithStorage(64<<20, 512<<20))
	}

	replicas := nrEngines
	if replicas > 3 {
		replicas = 3
	}
	if replicas%2 == 0 {
		replicas--
	}

	return config.DefaultSystem().
		WithSystemName("mock").
		WithEngines(engines...).
		WithMgmtSvcReplicas(replicas).
		WithPoolSvcReplicas(replicas).
		WithRaftTimeouts(50*time.Millisecond, 50*time.Millisecond, 25*time.Millisecond)
}

// MockSystem creates and starts a system from the configuration, and stops
// it when the test completes.
func MockSystem(t *testing.T, log logging.Logger, cfg *config.System) *System {
	t.Helper()

	sys, err := New(log, cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sys.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := sys.Stop(); err != nil {
			t.Log(err)
		}
	})
	return sys
}
