//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package engine provides the storage engines and targets that hold pool
// shards.
package engine

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/logging"
)

// State describes the run state of an engine.
type State int

const (
	StateStopped State = iota
	StateReady
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "Joined"
	default:
		return "Stopped"
	}
}

// Config describes the storage of an engine.
type Config struct {
	Rank     ranklist.Rank
	Targets  int
	SCMSize  uint64
	NVMeSize uint64
}

// Engine is a storage engine with a fixed set of targets.
type Engine struct {
	log     logging.Logger
	metrics *Metrics
	Rank    ranklist.Rank
	Targets []*Target

	sync.RWMutex
	running bool
}

// New creates a stopped engine. Storage is split evenly between targets.
func New(log logging.Logger, cfg Config, metrics *Metrics) (*Engine, error) {
	if cfg.Targets <= 0 {
		return nil, errors.Wrapf(daos.InvalidInput, "engine %d: no targets", cfg.Rank)
	}

	e := &Engine{
		log:     log,
		metrics: metrics,
		Rank:    cfg.Rank,
	}
	for i := 0; i < cfg.Targets; i++ {
		e.Targets = append(e.Targets, newTarget(e, uint32(i),
			cfg.SCMSize/uint64(cfg.Targets), cfg.NVMeSize/uint64(cfg.Targets)))
	}
	return e, nil
}

func (e *Engine) String() string {
	return fmt.Sprintf("engine %d", e.Rank)
}

// Start brings the engine online.
func (e *Engine) Start() error {
	e.Lock()
	defer e.Unlock()

	if e.running {
		return errors.Wrapf(daos.Already, "%s already started", e)
	}
	e.running = true
	e.log.Debugf("%s started with %d targets", e, len(e.Targets))
	return nil
}

// Stop takes the engine offline. Shard data is retained and becomes
// available again when the engine is restarted.
func (e *Engine) Stop() error {
	e.Lock()
	defer e.Unlock()

	if !e.running {
		return errors.Wrapf(daos.Already, "%s already stopped", e)
	}
	e.running = false
	e.log.Debugf("%s stopped", e)
	return nil
}

// IsRunning returns true if the engine is started.
func (e *Engine) IsRunning() bool {
	e.RLock()
	defer e.RUnlock()

	return e.running
}

// State returns the run state of the engine.
func (e *Engine) State() State {
	if e.IsRunning() {
		return StateReady
	}
	return StateStopped
}

func (e *Engine) checkRunning() error {
	if !e.IsRunning() {
		return errors.Wrapf(daos.Unreachable, "%s is not running", e)
	}
	return nil
}

// Target returns the target at the index.
func (e *Engine) Target(idx uint32) (*Target, error) {
	if int(idx) >= len(e.Targets) {
		return nil, errors.Wrapf(daos.Nonexistent, "%s has no target %d", e, idx)
	}
	return e.Targets[idx], nil
}

// SCMSize returns the SCM capacity of all targets.
func (e *Engine) SCMSize() uint64 {
	var total uint64
	for _, t := range e.Targets {
		total += t.SCMSize
	}
	return total
}

// NVMeSize returns the NVMe capacity of all targets.
func (e *Engine) NVMeSize() uint64 {
	var total uint64
	for _, t := range e.Targets {
		total += t.NVMeSize
	}
	return total
}
