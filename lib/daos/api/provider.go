//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package api

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/build"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/system"
)

type (
	debugTraceLogger interface {
		logging.TraceLogger
		logging.DebugLogger
	}

	// Provider attaches the API to a running system. Functions that take
	// a system name resolve it among the attached systems.
	Provider struct {
		log     debugTraceLogger
		sys     *system.System
		cleanup func()
	}
)

var attached = struct {
	sync.RWMutex
	systems map[string]*system.System
}{
	systems: make(map[string]*system.System),
}

// NewProvider returns a provider for the system, which is attached under
// its name until Cleanup is called.
func NewProvider(log debugTraceLogger, sys *system.System) (*Provider, error) {
	if sys == nil {
		return nil, errors.Wrap(daos.InvalidInput, "nil system")
	}

	attached.Lock()
	defer attached.Unlock()

	if _, found := attached.systems[sys.Name]; found {
		return nil, errors.Wrapf(daos.Already, "system %q already attached", sys.Name)
	}
	attached.systems[sys.Name] = sys
	log.Debugf("attached to system %q", sys.Name)

	return &Provider{
		log: log,
		sys: sys,
		cleanup: func() {
			attached.Lock()
			defer attached.Unlock()

			delete(attached.systems, sys.Name)
		},
	}, nil
}

// System returns the attached system.
func (p *Provider) System() *system.System {
	return p.sys
}

// Cleanup detaches the system.
func (p *Provider) Cleanup() {
	p.cleanup()
	p.log.Debugf("detached from system %q", p.sys.Name)
}

// getSystem returns the attached system with the name, or the default
// system if no name is supplied.
func getSystem(sysName string) (*system.System, error) {
	if sysName == "" {
		sysName = build.DefaultSystemName
	}

	attached.RLock()
	defer attached.RUnlock()

	sys, found := attached.systems[sysName]
	if !found {
		return nil, errors.Wrapf(daos.NotInit, "system %q is not attached", sysName)
	}
	return sys, nil
}
