//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package vos

import (
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
)

// SmallValueThreshold is the size below which values are charged to SCM.
const SmallValueThreshold = 4096

type (
	// Usage is the number of bytes stored per storage tier.
	Usage struct {
		SCM  uint64 `json:"scm"`
		NVMe uint64 `json:"nvme"`
	}

	// KeyQuery is the result of a key query.
	KeyQuery struct {
		Dkey daos.Key  `json:"dkey,omitempty"`
		Akey daos.Key  `json:"akey,omitempty"`
		Recx daos.Recx `json:"recx"`
	}

	// Container is the versioned object store of one container on one
	// target.
	Container struct {
		sync.RWMutex
		id      uuid.UUID
		seq     uint64
		objects *treemap.Map
		usage   Usage
	}
)

func (u *Usage) charge(data []byte) {
	if len(data) < SmallValueThreshold {
		u.SCM += uint64(len(data))
	} else {
		u.NVMe += uint64(len(data))
	}
}

func (u *Usage) release(data []byte) {
	if len(data) < SmallValueThreshold {
		u.SCM -= uint64(len(data))
	} else {
		u.NVMe -= uint64(len(data))
	}
}

// Add returns the sum of the two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{SCM: u.SCM + other.SCM, NVMe: u.NVMe + other.NVMe}
}

// Total returns the bytes used on all tiers.
func (u Usage) Total() uint64 {
	return u.SCM + u.NVMe
}

// UpdateCost returns the space charged for an update.
func UpdateCost(iods []daos.IOD, sgls []daos.SGList) Usage {
	var u Usage
	for i, iod := range iods {
		if i >= len(sgls) || sgls[i] == nil {
			continue
		}
		data := sgls[i].Flatten()
		switch iod.Type {
		case daos.IODTypeSingle:
			u.charge(data)
		case daos.IODTypeArray:
			off := uint64(0)
			for _, rx := range iod.Recxs {
				n := rx.Nr * iod.Size
				if off+n > uint64(len(data)) {
					break
				}
				u.charge(data[off : off+n])
				off += n
			}
		}
	}
	return u
}

// NewContainer returns an empty container store.
func NewContainer(id uuid.UUID) *Container {
	return &Container{
		id:      id,
		objects: treemap.NewWith(oidComparator),
	}
}

// ID returns the container UUID.
func (c *Container) ID() uuid.UUID {
	return c.id
}

// Usage returns the space consumed by live versions.
func (c *Container) Usage() Usage {
	c.RLock()
	defer c.RUnlock()

	return c.usage
}

func (c *Container) nextStamp(e daos.Epoch) stamp {
	c.seq++
	return stamp{epoch: e, seq: c.seq}
}

func (c *Container) object(oid daos.ObjectID) *object {
	if v, found := c.objects.Get(oid); found {
		return v.(*object)
	}
	return nil
}

func (c *Container) getOrAddObject(oid daos.ObjectID) *object {
	obj := c.object(oid)
	if obj == nil {
		obj = newObject(oid)
		c.objects.Put(oid, obj)
	}
	return obj
}

func (c *Container) objectNodes() []*object {
	nodes := make([]*object, 0, c.objects.Size())
	it := c.objects.Iterator()
	for it.Next() {
		nodes = append(nodes, it.Value().(*object))
	}
	return nodes
}

func checkEpoch(e daos.Epoch) error {
	if e == 0 || e == daos.EpochMax {
		return errors.Wrapf(daos.InvalidInput, "invalid update epoch %s", e)
	}
	return nil
}

// Update writes the values described by the IODs under the dkey at the
// epoch. A nil scatter/gather list for an array IOD writes holes.
func (c *Container) Update(oid daos.ObjectID, epoch daos.Epoch, dkey daos.Key, iods []daos.IOD, sgls []daos.SGList) error {
	if err := checkEpoch(epoch); err != nil {
		return err
	}
	if err := dkey.Validate(); err != nil {
		return errors.Wrap(err, "invalid dkey")
	}
	if len(iods) == 0 {
		return errors.Wrap(daos.InvalidInput, "no IODs supplied")
	}
	if len(sgls) != len(iods) {
		return errors.Wrapf(daos.IOInvalid, "%d IODs with %d buffers", len(iods), len(sgls))
	}

	type pending struct {
		iod  *daos.IOD
		data []byte
	}
	todo := make([]pending, 0, len(iods))

	c.Lock()
	defer c.Unlock()

	obj := c.object(oid)
	for i := range iods {
		iod := &iods[i]
		if err := iod.Validate(); err != nil {
			return err
		}

		var existing *akeyNode
		if obj != nil {
			if dk := obj.dkey(dkey); dk != nil {
				existing = dk.akey(iod.Name)
			}
		}
		if existing != nil && !existing.empty() && existing.iodType != iod.Type {
			return errors.Wrapf(daos.InvalidInput, "akey %s is %s, not %s", iod.Name, existing.iodType, iod.Type)
		}

		var data []byte
		if sgls[i] != nil {
			data = sgls[i].Flatten()
		}

		switch iod.Type {
		case daos.IODTypeSingle:
			if iod.Size == 0 {
				iod.Size = uint64(len(data))
			}
			if uint64(len(data)) < iod.Size {
				return errors.Wrapf(daos.IOInvalid, "single value of %d bytes in %d byte buffer", iod.Size, len(data))
			}
			data = data[:iod.Size]
		case daos.IODTypeArray:
			if iod.Size == 0 {
				return errors.Wrap(daos.InvalidInput, "array update with zero record size")
			}
			if existing != nil && existing.recSize != 0 && existing.recSize != iod.Size {
				return errors.Wrapf(daos.InvalidInput, "record size %d does not match %d", iod.Size, existing.recSize)
			}
			if data != nil && uint64(len(data)) < iod.NumBytes() {
				return errors.Wrapf(daos.IOInvalid, "%d byte buffer for %d byte update", len(data), iod.NumBytes())
			}
		}
		todo = append(todo, pending{iod: iod, data: data})
	}

	st := c.nextStamp(epoch)
	dk := c.getOrAddObject(oid).getOrAddDkey(dkey)
	for _, p := range todo {
		ak := dk.getOrAddAkey(p.iod.Name)
		ak.iodType = p.iod.Type

		if p.iod.Type == daos.IODTypeSingle {
			sv := &singleVersion{stamp: st, data: append([]byte{}, p.data...)}
			ak.addSingle(sv)
			c.usage.charge(sv.data)
			continue
		}

		ak.recSize = p.iod.Size
		off := uint64(0)
		for _, rx := range p.iod.Recxs {
			ext := &extent{stamp: st, recx: rx}
			if p.data != nil {
				n := rx.Nr * p.iod.Size
				ext.data = append([]byte{}, p.data[off:off+n]...)
				off += n
				c.usage.charge(ext.data)
			}
			ak.addExtent(ext)
		}
	}

	return nil
}

// Fetch reads the values described by the IODs as of the epoch. The
// returned sizes are the value size for single values and the record size
// for arrays, or zero if nothing was found.
func (c *Container) Fetch(oid daos.ObjectID, epoch daos.Epoch, dkey daos.Key, iods []daos.IOD) ([]daos.SGList, []uint64, error) {
	if err := dkey.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, "invalid dkey")
	}

	c.RLock()
	defer c.RUnlock()

	sgls := make([]daos.SGList, len(iods))
	sizes := make([]uint64, len(iods))

	var obj *object
	var dk *dkeyNode
	if obj = c.object(oid); obj != nil {
		dk = obj.dkey(dkey)
	}

	for i, iod := range iods {
		if err := iod.Validate(); err != nil {
			return nil, nil, err
		}

		var ak *akeyNode
		if dk != nil {
			ak = dk.akey(iod.Name)
		}
		if ak != nil && !ak.empty() && ak.iodType != iod.Type {
			return nil, nil, errors.Wrapf(daos.InvalidInput, "akey %s is %s, not %s", iod.Name, ak.iodType, iod.Type)
		}

		var v view
		if ak != nil {
			v = newView(epoch, obj.punches, dk.punches, ak.punches)
		}

		switch iod.Type {
		case daos.IODTypeSingle:
			if ak == nil {
				continue
			}
			if sv := ak.single(v); sv != nil {
				sgls[i] = daos.SGList{append([]byte{}, sv.data...)}
				sizes[i] = uint64(len(sv.data))
			}
		case daos.IODTypeArray:
			recSize := iod.Size
			if ak != nil && ak.recSize != 0 {
				if recSize != 0 && recSize != ak.recSize {
					return nil, nil, errors.Wrapf(daos.InvalidInput, "record size %d does not match %d", recSize, ak.recSize)
				}
				recSize = ak.recSize
			}
			var pieces []piece
			if ak != nil {
				pieces = ak.dataPieces(v)
			}

			found := false
			sgl := make(daos.SGList, len(iod.Recxs))
			for j, rx := range iod.Recxs {
				buf := make([]byte, rx.Nr*recSize)
				for _, p := range pieces {
					isect, ok := rx.Intersect(p.Recx)
					if !ok {
						continue
					}
					found = true
					src := (isect.Idx - p.ext.recx.Idx) * recSize
					dst := (isect.Idx - rx.Idx) * recSize
					copy(buf[dst:dst+isect.Nr*recSize], p.ext.data[src:src+isect.Nr*recSize])
				}
				sgl[j] = buf
			}
			sgls[i] = sgl
			if found {
				sizes[i] = recSize
			}
		}
	}

	return sgls, sizes, nil
}

// PunchObject hides every key of the object as of the epoch.
func (c *Container) PunchObject(oid daos.ObjectID, epoch daos.Epoch) error {
	if err := checkEpoch(epoch); err != nil {
		return err
	}

	c.Lock()
	defer c.Unlock()

	obj := c.getOrAddObject(oid)
	obj.punches = obj.punches.insert(c.nextStamp(epoch))
	return nil
}

// PunchDkeys hides the dkeys as of the epoch.
func (c *Container) PunchDkeys(oid daos.ObjectID, epoch daos.Epoch, dkeys ...daos.Key) error {
	if err := checkEpoch(epoch); err != nil {
		return err
	}
	if len(dkeys) == 0 {
		return errors.Wrap(daos.InvalidInput, "no dkeys to punch")
	}
	for _, dkey := range dkeys {
		if err := dkey.Validate(); err != nil {
			return errors.Wrap(err, "invalid dkey")
		}
	}

	c.Lock()
	defer c.Unlock()

	st := c.nextStamp(epoch)
	obj := c.getOrAddObject(oid)
	for _, dkey := range dkeys {
		dk := obj.getOrAddDkey(dkey)
		dk.punches = dk.punches.insert(st)
	}
	return nil
}

// PunchAkeys hides the akeys under the dkey as of the epoch.
func (c *Container) PunchAkeys(oid daos.ObjectID, epoch daos.Epoch, dkey daos.Key, akeys ...daos.Key) error {
	if err := checkEpoch(epoch); err != nil {
		return err
	}
	if err := dkey.Validate(); err != nil {
		return errors.Wrap(err, "invalid dkey")
	}
	if len(akeys) == 0 {
		return errors.Wrap(daos.InvalidInput, "no akeys to punch")
	}
	for _, akey := range akeys {
		if err := akey.Validate(); err != nil {
			return errors.Wrap(err, "invalid akey")
		}
	}

	c.Lock()
	defer c.Unlock()

	st := c.nextStamp(epoch)
	dk := c.getOrAddObject(oid).getOrAddDkey(dkey)
	for _, akey := range akeys {
		ak := dk.getOrAddAkey(akey)
		ak.punches = ak.punches.insert(st)
	}
	return nil
}

func listDone(anchor *daos.Anchor) bool {
	return anchor != nil && anchor.EOF()
}

func afterAnchor(anchor *daos.Anchor, key string) bool {
	pos := anchor.Position()
	return pos == nil || key > string(pos)
}

// ListDkeys returns up to max dkeys visible at the epoch, resuming after
// the anchor. A max of zero returns every remaining key.
func (c *Container) ListDkeys(oid daos.ObjectID, epoch daos.Epoch, anchor *daos.Anchor, max int) ([]daos.Key, error) {
	if anchor == nil {
		anchor = new(daos.Anchor)
	}
	if listDone(anchor) {
		return nil, nil
	}

	c.RLock()
	defer c.RUnlock()

	obj := c.object(oid)
	if obj == nil {
		anchor.Advance(nil, true)
		return nil, nil
	}

	ov := newView(epoch, obj.punches)
	var keys []daos.Key
	it := obj.dkeys.Iterator()
	for it.Next() {
		if !afterAnchor(anchor, it.Key().(string)) {
			continue
		}
		dk := it.Value().(*dkeyNode)
		if !dk.visible(ov) {
			continue
		}
		keys = append(keys, append(daos.Key(nil), dk.key...))
		if max > 0 && len(keys) == max {
			anchor.Advance(dk.key, false)
			return keys, nil
		}
	}

	var last daos.Key
	if len(keys) > 0 {
		last = keys[len(keys)-1]
	}
	anchor.Advance(last, true)
	return keys, nil
}

// ListAkeys returns up to max akeys of the dkey visible at the epoch.
func (c *Container) ListAkeys(oid daos.ObjectID, epoch daos.Epoch, dkey daos.Key, anchor *daos.Anchor, max int) ([]daos.Key, error) {
	if err := dkey.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid dkey")
	}
	if anchor == nil {
		anchor = new(daos.Anchor)
	}
	if listDone(anchor) {
		return nil, nil
	}

	c.RLock()
	defer c.RUnlock()

	var dk *dkeyNode
	obj := c.object(oid)
	if obj != nil {
		dk = obj.dkey(dkey)
	}
	if dk == nil {
		anchor.Advance(nil, true)
		return nil, nil
	}

	var keys []daos.Key
	it := dk.akeys.Iterator()
	for it.Next() {
		if !afterAnchor(anchor, it.Key().(string)) {
			continue
		}
		ak := it.Value().(*akeyNode)
		if !ak.visible(newView(epoch, obj.punches, dk.punches, ak.punches)) {
			continue
		}
		keys = append(keys, append(daos.Key(nil), ak.key...))
		if max > 0 && len(keys) == max {
			anchor.Advance(ak.key, false)
			return keys, nil
		}
	}

	var last daos.Key
	if len(keys) > 0 {
		last = keys[len(keys)-1]
	}
	anchor.Advance(last, true)
	return keys, nil
}

// ListRecx returns up to max visible extents of an array akey along with
// its record size.
func (c *Container) ListRecx(oid daos.ObjectID, epoch daos.Epoch, dkey, akey daos.Key, anchor *daos.Anchor, max int) ([]daos.Recx, uint64, error) {
	if anchor == nil {
		anchor = new(daos.Anchor)
	}
	if listDone(anchor) {
		return nil, 0, nil
	}

	c.RLock()
	defer c.RUnlock()

	obj, dk, ak := c.lookup(oid, dkey, akey)
	if ak == nil {
		anchor.Advance(nil, true)
		return nil, 0, nil
	}

	var start uint64
	if pos := anchor.Position(); pos != nil {
		var err error
		if start, err = daos.Key(pos).Uint64(); err != nil {
			return nil, 0, errors.Wrap(daos.InvalidInput, "bad recx anchor")
		}
	}

	var out []daos.Recx
	for _, p := range ak.dataPieces(newView(epoch, obj.punches, dk.punches, ak.punches)) {
		if p.Idx < start {
			continue
		}
		out = append(out, p.Recx)
		if max > 0 && len(out) == max {
			anchor.Advance(daos.Uint64Key(p.End()), false)
			return out, ak.recSize, nil
		}
	}
	anchor.Advance(nil, true)
	return out, ak.recSize, nil
}

// ListObjects returns up to max objects with keys visible at the epoch.
func (c *Container) ListObjects(epoch daos.Epoch, anchor *daos.Anchor, max int) ([]daos.ObjectID, error) {
	if anchor == nil {
		anchor = new(daos.Anchor)
	}
	if listDone(anchor) {
		return nil, nil
	}

	var after *daos.ObjectID
	if pos := anchor.Position(); pos != nil {
		oid, ok := oidFromBytes(pos)
		if !ok {
			return nil, errors.Wrap(daos.InvalidInput, "bad object anchor")
		}
		after = &oid
	}

	c.RLock()
	defer c.RUnlock()

	var oids []daos.ObjectID
	for _, obj := range c.objectNodes() {
		if after != nil && !after.Less(obj.oid) {
			continue
		}
		if !obj.visible(epoch) {
			continue
		}
		oids = append(oids, obj.oid)
		if max > 0 && len(oids) == max {
			anchor.Advance(oidBytes(obj.oid), false)
			return oids, nil
		}
	}
	anchor.Advance(nil, true)
	return oids, nil
}

func (c *Container) lookup(oid daos.ObjectID, dkey, akey daos.Key) (*object, *dkeyNode, *akeyNode) {
	obj := c.object(oid)
	if obj == nil {
		return nil, nil, nil
	}
	dk := obj.dkey(dkey)
	if dk == nil || akey == nil {
		return obj, dk, nil
	}
	return obj, dk, dk.akey(akey)
}

// QueryKey returns the greatest (or with QueryKeyMin, the least) dkey,
// akey, or extent visible at the epoch. Keys not selected by the flags must
// be supplied.
func (c *Container) QueryKey(oid daos.ObjectID, epoch daos.Epoch, flags daos.QueryKeyFlag, dkey, akey daos.Key) (*KeyQuery, error) {
	if flags&(daos.QueryKeyGetDkey|daos.QueryKeyGetAkey|daos.QueryKeyGetRecx) == 0 {
		return nil, errors.Wrap(daos.InvalidInput, "no key selected")
	}
	if flags&daos.QueryKeyMax != 0 && flags&daos.QueryKeyMin != 0 {
		return nil, errors.Wrap(daos.InvalidInput, "max and min are exclusive")
	}
	if flags&daos.QueryKeyGetRecx != 0 && flags&daos.QueryKeyGetAkey == 0 && akey == nil {
		return nil, errors.Wrap(daos.InvalidInput, "extent query requires an akey")
	}
	if flags&daos.QueryKeyGetDkey == 0 && dkey == nil {
		return nil, errors.Wrap(daos.InvalidInput, "akey query requires a dkey")
	}
	wantMin := flags&daos.QueryKeyMin != 0

	c.RLock()
	defer c.RUnlock()

	obj := c.object(oid)
	if obj == nil {
		return nil, errors.Wrapf(daos.Nonexistent, "object %s", oid)
	}
	ov := newView(epoch, obj.punches)
	res := new(KeyQuery)

	var dk *dkeyNode
	if flags&daos.QueryKeyGetDkey != 0 {
		nodes := obj.dkeyNodes()
		for i := range nodes {
			n := nodes[len(nodes)-1-i]
			if wantMin {
				n = nodes[i]
			}
			if n.visible(ov) {
				dk = n
				break
			}
		}
		if dk == nil {
			return nil, errors.Wrap(daos.Nonexistent, "no visible dkeys")
		}
		res.Dkey = append(daos.Key(nil), dk.key...)
	} else if dk = obj.dkey(dkey); dk == nil {
		return nil, errors.Wrapf(daos.Nonexistent, "dkey %s", dkey)
	}

	var ak *akeyNode
	if flags&daos.QueryKeyGetAkey != 0 {
		nodes := dk.akeyNodes()
		for i := range nodes {
			n := nodes[len(nodes)-1-i]
			if wantMin {
				n = nodes[i]
			}
			if n.visible(newView(epoch, obj.punches, dk.punches, n.punches)) {
				ak = n
				break
			}
		}
		if ak == nil {
			return nil, errors.Wrap(daos.Nonexistent, "no visible akeys")
		}
		res.Akey = append(daos.Key(nil), ak.key...)
	} else if akey != nil {
		if ak = dk.akey(akey); ak == nil {
			return nil, errors.Wrapf(daos.Nonexistent, "akey %s", akey)
		}
	}

	if flags&daos.QueryKeyGetRecx != 0 {
		pieces := ak.dataPieces(newView(epoch, obj.punches, dk.punches, ak.punches))
		if len(pieces) == 0 {
			return nil, errors.Wrap(daos.Nonexistent, "no visible extents")
		}
		if wantMin {
			res.Recx = pieces[0].Recx
		} else {
			res.Recx = pieces[len(pieces)-1].Recx
		}
	}

	return res, nil
}

// LastModified returns the newest epoch at which the object, dkey or akey
// was updated or punched. A nil dkey covers the whole object and a nil akey
// covers the whole dkey.
func (c *Container) LastModified(oid daos.ObjectID, dkey, akey daos.Key) daos.Epoch {
	c.RLock()
	defer c.RUnlock()

	obj := c.object(oid)
	if obj == nil {
		return 0
	}

	last := obj.punches.newest()
	bump := func(e daos.Epoch) {
		if e > last {
			last = e
		}
	}

	for _, dk := range obj.dkeyNodes() {
		if dkey != nil && !dk.key.Equals(dkey) {
			continue
		}
		bump(dk.punches.newest())
		for _, ak := range dk.akeyNodes() {
			if akey != nil && !ak.key.Equals(akey) {
				continue
			}
			bump(ak.newest())
		}
	}
	return last
}

// Destroy discards every object in the container.
func (c *Container) Destroy() {
	c.Lock()
	defer c.Unlock()

	c.objects.Clear()
	c.usage = Usage{}
}
