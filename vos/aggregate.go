//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package vos

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
)

// Aggregate discards versions at or below upTo that are no longer visible at
// upTo or at any of the snapshot epochs. Keys left with no versions are
// removed.
func (c *Container) Aggregate(upTo daos.Epoch, snapshots []daos.Epoch) error {
	if upTo == 0 {
		return errors.Wrap(daos.InvalidInput, "aggregation epoch must be nonzero")
	}

	bounds := make([]daos.Epoch, 0, len(snapshots)+1)
	for _, s := range snapshots {
		if s < upTo {
			bounds = append(bounds, s)
		}
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i] < bounds[j] })
	bounds = append(bounds, upTo)

	c.Lock()
	defer c.Unlock()

	for _, obj := range c.objectNodes() {
		for _, dk := range obj.dkeyNodes() {
			for _, ak := range dk.akeyNodes() {
				c.aggregateAkey(obj, dk, ak, upTo, bounds)
				if ak.empty() && ak.punches.newest() <= upTo {
					dk.akeys.Remove(treeKey(ak.key))
				}
			}
			if dk.akeys.Empty() && dk.punches.newest() <= upTo {
				obj.dkeys.Remove(treeKey(dk.key))
			}
		}
		if obj.dkeys.Empty() && obj.punches.newest() <= upTo {
			c.objects.Remove(obj.oid)
		}
	}

	return nil
}

func (c *Container) aggregateAkey(obj *object, dk *dkeyNode, ak *akeyNode, upTo daos.Epoch, bounds []daos.Epoch) {
	keepSingles := make(map[*singleVersion]bool)
	keepExtents := make(map[*extent]bool)
	for _, b := range bounds {
		v := newView(b, obj.punches, dk.punches, ak.punches)
		if sv := ak.single(v); sv != nil {
			keepSingles[sv] = true
		}
		for _, p := range ak.pieces(v) {
			keepExtents[p.ext] = true
		}
	}

	singles := ak.singles[:0]
	for _, sv := range ak.singles {
		if sv.epoch > upTo || keepSingles[sv] {
			singles = append(singles, sv)
			continue
		}
		c.usage.release(sv.data)
	}
	ak.singles = singles

	hasData := false
	extents := ak.extents[:0]
	for _, ext := range ak.extents {
		if ext.epoch > upTo || keepExtents[ext] {
			extents = append(extents, ext)
			if ext.data != nil || ext.epoch > upTo {
				hasData = true
			}
			continue
		}
		c.usage.release(ext.data)
	}
	ak.extents = extents

	// holes with nothing beneath them
	if !hasData {
		ak.extents = nil
	}
}

// Rollback discards every update and punch above the epoch.
func (c *Container) Rollback(epoch daos.Epoch) error {
	if epoch == 0 {
		return errors.Wrap(daos.InvalidInput, "rollback epoch must be nonzero")
	}

	c.Lock()
	defer c.Unlock()

	for _, obj := range c.objectNodes() {
		obj.punches = obj.punches.trimAbove(epoch)
		for _, dk := range obj.dkeyNodes() {
			dk.punches = dk.punches.trimAbove(epoch)
			for _, ak := range dk.akeyNodes() {
				c.rollbackAkey(ak, epoch)
				if ak.empty() && len(ak.punches) == 0 {
					dk.akeys.Remove(treeKey(ak.key))
				}
			}
			if dk.akeys.Empty() && len(dk.punches) == 0 {
				obj.dkeys.Remove(treeKey(dk.key))
			}
		}
		if obj.dkeys.Empty() && len(obj.punches) == 0 {
			c.objects.Remove(obj.oid)
		}
	}

	return nil
}

func (c *Container) rollbackAkey(ak *akeyNode, epoch daos.Epoch) {
	ak.punches = ak.punches.trimAbove(epoch)

	singles := ak.singles[:0]
	for _, sv := range ak.singles {
		if sv.epoch <= epoch {
			singles = append(singles, sv)
			continue
		}
		c.usage.release(sv.data)
	}
	ak.singles = singles

	extents := ak.extents[:0]
	for _, ext := range ak.extents {
		if ext.epoch <= epoch {
			extents = append(extents, ext)
			continue
		}
		c.usage.release(ext.data)
	}
	ak.extents = extents

	if ak.empty() {
		ak.recSize = 0
	}
}
