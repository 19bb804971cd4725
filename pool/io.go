//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package pool

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/daos-stack/dsr/engine"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/placement"
	"github.com/daos-stack/dsr/vos"
)

// Commit allocates a new epoch of the container and runs fn at it. Epochs
// are committed in allocation order; once fn returns without error the
// epoch is visible to readers. If fn fails, whatever it wrote at the epoch
// is discarded from every shard of the pool.
func (s *Service) Commit(cont uuid.UUID, fn func(epoch daos.Epoch) error) (daos.Epoch, error) {
	rt, err := s.runtime(cont)
	if err != nil {
		return 0, err
	}

	rt.commitMu.Lock()
	defer rt.commitMu.Unlock()

	epoch := rt.clock.Now()
	if err := fn(epoch); err != nil {
		if dErr := s.discardEpoch(cont, epoch); dErr != nil {
			s.log.Errorf("%s: discarding epoch %d of container %s: %s", s, epoch, cont, dErr)
		}
		return 0, err
	}
	rt.markCommitted(epoch)
	return epoch, nil
}

// discardEpoch drops the updates made at the epoch from every shard of the
// pool. The caller holds the container commit lock, so nothing newer than
// the epoch has been written.
func (s *Service) discardEpoch(cont uuid.UUID, epoch daos.Epoch) error {
	m := s.currentMap()
	if m == nil {
		return nil
	}
	var errs error
	for _, ref := range m.Refs() {
		sh, err := s.shard(ref)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, sh.Discard(cont, epoch))
	}
	return errs
}

// ContEpoch returns the latest committed epoch of the container.
func (s *Service) ContEpoch(cont uuid.UUID) (daos.Epoch, error) {
	rt, err := s.runtime(cont)
	if err != nil {
		return 0, err
	}
	return rt.lastCommitted(), nil
}

// ContDefaultClass returns the class given to objects created in the
// container without one.
func (s *Service) ContDefaultClass(cont uuid.UUID) (daos.ObjectClass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, found := s.conts[cont]
	if !found {
		return daos.ObjectClassUnknown, errors.Wrapf(daos.NoHandle, "container %s is not open", cont)
	}
	return rt.class, nil
}

// ObjLayout returns the placement of the object's shards.
func (s *Service) ObjLayout(cont uuid.UUID, oid daos.ObjectID) (*placement.ObjectLayout, error) {
	class := oid.Class()
	if class == daos.ObjectClassUnknown {
		var err error
		if class, err = s.ContDefaultClass(cont); err != nil {
			return nil, err
		}
	}
	m := s.currentMap()
	if m == nil {
		return nil, errors.Wrapf(daos.NotInit, "%s has no pool map", s)
	}
	return placement.Layout(oid, class, m.Refs())
}

type groupShard struct {
	ref placement.TargetRef
	sh  *engine.Shard
}

// writeShards returns every in-service shard of the group. Each must be
// reachable for a write to succeed.
func (s *Service) writeShards(group []placement.TargetRef) ([]groupShard, error) {
	m := s.currentMap()
	var out []groupShard
	for _, ref := range group {
		if !m.InService(ref) {
			continue
		}
		sh, err := s.shard(ref)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: target %s", s, ref)
		}
		out = append(out, groupShard{ref: ref, sh: sh})
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(daos.Unreachable, "%s: no targets in service for %v", s, group)
	}
	return out, nil
}

// readShard runs fn on the first in-service shard of the group that can
// be reached.
func (s *Service) readShard(group []placement.TargetRef, fn func(sh *engine.Shard) error) error {
	m := s.currentMap()
	for _, ref := range group {
		if !m.InService(ref) {
			continue
		}
		sh, err := s.shard(ref)
		if err == nil {
			err = fn(sh)
		}
		if errors.Is(err, daos.Unreachable) {
			s.log.Debugf("%s: read from %s failed: %s", s, ref, err)
			continue
		}
		return err
	}
	return errors.Wrapf(daos.Unreachable, "%s: no reachable replica in %v", s, group)
}

func (s *Service) dkeyGroup(cont uuid.UUID, oid daos.ObjectID, dkey daos.Key) ([]placement.TargetRef, error) {
	layout, err := s.ObjLayout(cont, oid)
	if err != nil {
		return nil, err
	}
	return layout.Groups[placement.GroupForDkey(layout, dkey)], nil
}

func (s *Service) writeGroup(group []placement.TargetRef, fn func(sh *engine.Shard) error) error {
	shards, err := s.writeShards(group)
	if err != nil {
		return err
	}
	for _, gs := range shards {
		if err := fn(gs.sh); err != nil {
			return errors.Wrapf(err, "target %s", gs.ref)
		}
	}
	return nil
}

// ObjUpdate writes the values of one dkey at the epoch to every replica of
// the dkey's group.
func (s *Service) ObjUpdate(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, dkey daos.Key, iods []daos.IOD, sgls []daos.SGList) error {
	group, err := s.dkeyGroup(cont, oid, dkey)
	if err != nil {
		return err
	}
	return s.writeGroup(group, func(sh *engine.Shard) error {
		return sh.Update(cont, oid, epoch, dkey, iods, sgls)
	})
}

// ObjFetch reads the values of one dkey visible at the epoch.
func (s *Service) ObjFetch(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, dkey daos.Key, iods []daos.IOD) (sgls []daos.SGList, sizes []uint64, err error) {
	group, err := s.dkeyGroup(cont, oid, dkey)
	if err != nil {
		return nil, nil, err
	}
	err = s.readShard(group, func(sh *engine.Shard) error {
		sgls, sizes, err = sh.Fetch(cont, oid, epoch, dkey, iods)
		return err
	})
	return
}

// ObjPunch punches the whole object at the epoch.
func (s *Service) ObjPunch(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch) error {
	layout, err := s.ObjLayout(cont, oid)
	if err != nil {
		return err
	}
	for _, group := range layout.Groups {
		if err := s.writeGroup(group, func(sh *engine.Shard) error {
			return sh.PunchObject(cont, oid, epoch)
		}); err != nil {
			return err
		}
	}
	return nil
}

// ObjPunchDkeys punches dkeys of the object at the epoch.
func (s *Service) ObjPunchDkeys(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, dkeys ...daos.Key) error {
	for _, dkey := range dkeys {
		group, err := s.dkeyGroup(cont, oid, dkey)
		if err != nil {
			return err
		}
		if err := s.writeGroup(group, func(sh *engine.Shard) error {
			return sh.PunchDkeys(cont, oid, epoch, dkey)
		}); err != nil {
			return err
		}
	}
	return nil
}

// ObjPunchAkeys punches akeys under a dkey of the object at the epoch.
func (s *Service) ObjPunchAkeys(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, dkey daos.Key, akeys ...daos.Key) error {
	group, err := s.dkeyGroup(cont, oid, dkey)
	if err != nil {
		return err
	}
	return s.writeGroup(group, func(sh *engine.Shard) error {
		return sh.PunchAkeys(cont, oid, epoch, dkey, akeys...)
	})
}

// ObjListDkeys returns up to max dkeys after the anchor position, in key
// order, merged across the object's groups. A max of zero returns all
// remaining dkeys.
func (s *Service) ObjListDkeys(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, anchor *daos.Anchor, max int) ([]daos.Key, error) {
	if anchor == nil {
		anchor = new(daos.Anchor)
	}
	if anchor.EOF() {
		return nil, nil
	}
	layout, err := s.ObjLayout(cont, oid)
	if err != nil {
		return nil, err
	}

	var all []daos.Key
	for _, group := range layout.Groups {
		if err := s.readShard(group, func(sh *engine.Shard) error {
			keys, err := sh.ListDkeys(cont, oid, epoch, nil, 0)
			all = append(all, keys...)
			return err
		}); err != nil {
			return nil, err
		}
	}
	sort.Slice(all, func(i, j int) bool { return bytes.Compare(all[i], all[j]) < 0 })

	pos := anchor.Position()
	start := sort.Search(len(all), func(i int) bool {
		return pos == nil || bytes.Compare(all[i], pos) > 0
	})
	out := all[start:]
	if max > 0 && len(out) > max {
		out = out[:max]
	}

	var last []byte
	if len(out) > 0 {
		last = out[len(out)-1]
	}
	anchor.Advance(last, start+len(out) == len(all))
	return out, nil
}

// ObjListAkeys returns up to max akeys of the dkey after the anchor.
func (s *Service) ObjListAkeys(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, dkey daos.Key, anchor *daos.Anchor, max int) (keys []daos.Key, err error) {
	group, err := s.dkeyGroup(cont, oid, dkey)
	if err != nil {
		return nil, err
	}
	err = s.readShard(group, func(sh *engine.Shard) error {
		keys, err = sh.ListAkeys(cont, oid, epoch, dkey, anchor, max)
		return err
	})
	return
}

// ObjListRecx returns up to max array extents of the akey after the anchor,
// along with the record size.
func (s *Service) ObjListRecx(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, dkey, akey daos.Key, anchor *daos.Anchor, max int) (recxs []daos.Recx, recSize uint64, err error) {
	group, err := s.dkeyGroup(cont, oid, dkey)
	if err != nil {
		return nil, 0, err
	}
	err = s.readShard(group, func(sh *engine.Shard) error {
		recxs, recSize, err = sh.ListRecx(cont, oid, epoch, dkey, akey, anchor, max)
		return err
	})
	return
}

// ObjQueryKey returns the greatest or least key selected by the flags. A
// dkey query considers every group of the object.
func (s *Service) ObjQueryKey(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, flags daos.QueryKeyFlag, dkey, akey daos.Key) (*vos.KeyQuery, error) {
	if flags&daos.QueryKeyGetDkey == 0 {
		group, err := s.dkeyGroup(cont, oid, dkey)
		if err != nil {
			return nil, err
		}
		var res *vos.KeyQuery
		err = s.readShard(group, func(sh *engine.Shard) error {
			res, err = sh.QueryKey(cont, oid, epoch, flags, dkey, akey)
			return err
		})
		return res, err
	}

	layout, err := s.ObjLayout(cont, oid)
	if err != nil {
		return nil, err
	}
	wantMin := flags&daos.QueryKeyMin != 0
	var best *vos.KeyQuery
	for _, group := range layout.Groups {
		var res *vos.KeyQuery
		err := s.readShard(group, func(sh *engine.Shard) error {
			res, err = sh.QueryKey(cont, oid, epoch, flags, dkey, akey)
			return err
		})
		switch {
		case errors.Is(err, daos.Nonexistent):
			continue
		case err != nil:
			return nil, err
		}

		if best == nil {
			best = res
			continue
		}
		cmp := bytes.Compare(res.Dkey, best.Dkey)
		if (wantMin && cmp < 0) || (!wantMin && cmp > 0) {
			best = res
		}
	}
	if best == nil {
		return nil, errors.Wrapf(daos.Nonexistent, "object %s has no visible keys", oid)
	}
	return best, nil
}

// ObjLastModified returns the newest epoch at which the key was written or
// punched. A nil dkey covers the whole object and a nil akey the whole
// dkey.
func (s *Service) ObjLastModified(cont uuid.UUID, oid daos.ObjectID, dkey, akey daos.Key) (daos.Epoch, error) {
	layout, err := s.ObjLayout(cont, oid)
	if err != nil {
		return 0, err
	}
	groups := layout.Groups
	if dkey != nil {
		groups = groups[placement.GroupForDkey(layout, dkey) : placement.GroupForDkey(layout, dkey)+1]
	}

	var latest daos.Epoch
	for _, group := range groups {
		if err := s.readShard(group, func(sh *engine.Shard) error {
			e, err := sh.LastModified(cont, oid, dkey, akey)
			if e > latest {
				latest = e
			}
			return err
		}); err != nil {
			return 0, err
		}
	}
	return latest, nil
}

func oidKey(oid daos.ObjectID) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key, oid.Hi)
	binary.BigEndian.PutUint64(key[8:], oid.Lo)
	return key
}

// ListObjects returns up to max objects visible at the epoch after the
// anchor, in object ID order.
func (s *Service) ListObjects(cont uuid.UUID, epoch daos.Epoch, anchor *daos.Anchor, max int) ([]daos.ObjectID, error) {
	if _, err := s.runtime(cont); err != nil {
		return nil, err
	}
	if anchor == nil {
		anchor = new(daos.Anchor)
	}
	if anchor.EOF() {
		return nil, nil
	}

	seen := make(map[daos.ObjectID]struct{})
	if err := s.forEachShard(func(_ placement.TargetRef, sh *engine.Shard) error {
		oids, err := sh.ListObjects(cont, epoch)
		for _, oid := range oids {
			seen[oid] = struct{}{}
		}
		return err
	}); err != nil {
		return nil, err
	}

	all := make([]daos.ObjectID, 0, len(seen))
	for oid := range seen {
		all = append(all, oid)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Less(all[j]) })

	pos := anchor.Position()
	start := sort.Search(len(all), func(i int) bool {
		return pos == nil || bytes.Compare(oidKey(all[i]), pos) > 0
	})
	out := all[start:]
	if max > 0 && len(out) > max {
		out = out[:max]
	}

	var last []byte
	if len(out) > 0 {
		last = oidKey(out[len(out)-1])
	}
	anchor.Advance(last, start+len(out) == len(all))
	return out, nil
}
