//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package vos

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
)

// Pool holds the container stores of one pool shard.
type Pool struct {
	sync.RWMutex
	id         uuid.UUID
	containers map[uuid.UUID]*Container
}

// NewPool returns an empty pool shard store.
func NewPool(id uuid.UUID) *Pool {
	return &Pool{
		id:         id,
		containers: make(map[uuid.UUID]*Container),
	}
}

// ID returns the pool UUID.
func (p *Pool) ID() uuid.UUID {
	return p.id
}

// Container returns the store for the container, creating it if requested.
func (p *Pool) Container(id uuid.UUID, create bool) (*Container, error) {
	p.Lock()
	defer p.Unlock()

	if c, found := p.containers[id]; found {
		return c, nil
	}
	if !create {
		return nil, errors.Wrapf(daos.Nonexistent, "container %s", id)
	}

	c := NewContainer(id)
	p.containers[id] = c
	return c, nil
}

// DestroyContainer discards the container's store.
func (p *Pool) DestroyContainer(id uuid.UUID) error {
	p.Lock()
	defer p.Unlock()

	c, found := p.containers[id]
	if !found {
		return errors.Wrapf(daos.Nonexistent, "container %s", id)
	}
	c.Destroy()
	delete(p.containers, id)
	return nil
}

// Containers returns the UUIDs of the stored containers.
func (p *Pool) Containers() []uuid.UUID {
	p.RLock()
	defer p.RUnlock()

	ids := make([]uuid.UUID, 0, len(p.containers))
	for id := range p.containers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Usage returns the space used by all containers.
func (p *Pool) Usage() Usage {
	p.RLock()
	defer p.RUnlock()

	var u Usage
	for _, c := range p.containers {
		u = u.Add(c.Usage())
	}
	return u
}

// Destroy discards every container.
func (p *Pool) Destroy() {
	p.Lock()
	defer p.Unlock()

	for id, c := range p.containers {
		c.Destroy()
		delete(p.containers, id)
	}
}
