//
// (C) Copyright 2024-2025 Intel Corporation.
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/placement"
	"github.com/daos-stack/dsr/vos"
)

type (
	// ObjectOpenMode controls the access granted by an object handle.
	ObjectOpenMode uint

	// ObjectHandle is an open object in a container.
	ObjectHandle struct {
		mu   sync.RWMutex
		ch   *ContainerHandle
		oid  daos.ObjectID
		mode ObjectOpenMode
		open bool
	}

	// ObjectLayout is the placement of an object's shards.
	ObjectLayout = placement.ObjectLayout

	// KeyQuery is the result of an object key query.
	KeyQuery = vos.KeyQuery
)

const (
	ObjectOpenModeReadOnly ObjectOpenMode = iota + 1
	ObjectOpenModeReadWrite
	ObjectOpenModeExclusive
)

func (m ObjectOpenMode) String() string {
	switch m {
	case ObjectOpenModeReadOnly:
		return "read-only"
	case ObjectOpenModeReadWrite:
		return "read-write"
	case ObjectOpenModeExclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("unknown(%d)", uint(m))
	}
}

// Writable returns true if the mode allows modification.
func (m ObjectOpenMode) Writable() bool {
	return m == ObjectOpenModeReadWrite || m == ObjectOpenModeExclusive
}

// RegisterObjectClass adds a named object class with a custom layout.
func RegisterObjectClass(name string, attr daos.ObjectClassAttr) (daos.ObjectClass, error) {
	return daos.RegisterObjectClass(name, attr)
}

// QueryObjectClass returns the layout of the object class.
func QueryObjectClass(class daos.ObjectClass) (daos.ObjectClassAttr, error) {
	return class.Attr()
}

// ListObjectClasses returns the names of every known object class.
func ListObjectClasses() []string {
	return daos.ListObjectClasses()
}

// ObjectClassFromName returns the object class with the given name.
func ObjectClassFromName(name string) (daos.ObjectClass, error) {
	return daos.ObjectClassFromString(name)
}

// OpenObject opens the object. Objects exist implicitly, so opening
// never fails for a well-formed ID in an open container.
func (ch *ContainerHandle) OpenObject(ctx context.Context, oid daos.ObjectID, mode ObjectOpenMode) (*ObjectHandle, error) {
	if !ch.IsValid() {
		return nil, ErrInvalidContainerHandle
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if oid.IsZero() {
		return nil, errors.Wrap(daos.InvalidInput, "zero object ID")
	}
	switch mode {
	case 0:
		mode = ObjectOpenModeReadOnly
	case ObjectOpenModeReadOnly:
	case ObjectOpenModeReadWrite, ObjectOpenModeExclusive:
		if !ch.flags.Writable() {
			return nil, errors.Wrapf(daos.NoPermission, "%s object open in read-only container", mode)
		}
	default:
		return nil, errors.Wrapf(daos.InvalidInput, "invalid object open mode %d", mode)
	}
	if _, err := oid.Class().Attr(); oid.Class() != daos.ObjectClassUnknown && err != nil {
		return nil, err
	}

	// the layout must be computable for the object to be usable
	if _, err := ch.svc().ObjLayout(ch.UUID, oid); err != nil {
		return nil, errors.Wrapf(err, "failed to open object %s", oid)
	}
	logging.FromContext(ctx).Debugf("OpenObject(%s:%s:%s)", ch, oid, mode)

	return &ObjectHandle{
		ch:   ch,
		oid:  oid,
		mode: mode,
		open: true,
	}, nil
}

func (oh *ObjectHandle) String() string {
	if oh == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s/%s", oh.ch, oh.oid)
}

// IsValid returns true if the object handle and its container handle are
// valid.
func (oh *ObjectHandle) IsValid() bool {
	if oh == nil {
		return false
	}
	oh.mu.RLock()
	defer oh.mu.RUnlock()

	return oh.open && oh.ch.IsValid()
}

// ID returns the object ID.
func (oh *ObjectHandle) ID() daos.ObjectID {
	return oh.oid
}

// Close closes the object handle.
func (oh *ObjectHandle) Close(ctx context.Context) error {
	if !oh.IsValid() {
		return ErrInvalidObjectHandle
	}
	oh.mu.Lock()
	defer oh.mu.Unlock()

	oh.open = false
	return nil
}

func (oh *ObjectHandle) checkWritable() error {
	if !oh.IsValid() {
		return ErrInvalidObjectHandle
	}
	if !oh.mode.Writable() {
		return errors.Wrapf(daos.NoPermission, "object %s opened %s", oh.oid, oh.mode)
	}
	return nil
}

func (oh *ObjectHandle) checkDkey(dkey daos.Key) error {
	if err := dkey.Validate(); err != nil {
		return errors.Wrap(err, "invalid dkey")
	}
	if oh.oid.Type().IntegerDkeys() {
		if _, err := dkey.Uint64(); err != nil {
			return errors.Wrapf(err, "%s object requires integer dkeys", oh.oid.Type())
		}
	}
	return nil
}

// Query returns the layout of the object's shards.
func (oh *ObjectHandle) Query(ctx context.Context) (*ObjectLayout, error) {
	if !oh.IsValid() {
		return nil, ErrInvalidObjectHandle
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	return oh.ch.svc().ObjLayout(oh.ch.UUID, oh.oid)
}

// Punch punches the whole object.
func (oh *ObjectHandle) Punch(ctx context.Context, tx *Tx) error {
	if err := oh.checkWritable(); err != nil {
		return err
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}
	logging.FromContext(ctx).Debugf("ObjectHandle.Punch(%s)", oh)

	return tx.write(oh.ch, &txOp{typ: txOpPunchObject, oid: oh.oid})
}

// PunchDkeys punches the dkeys of the object along with all of their akeys.
func (oh *ObjectHandle) PunchDkeys(ctx context.Context, tx *Tx, dkeys ...daos.Key) error {
	if err := oh.checkWritable(); err != nil {
		return err
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if len(dkeys) == 0 {
		return errors.Wrap(daos.InvalidInput, "no dkeys to punch")
	}
	for _, dk := range dkeys {
		if err := oh.checkDkey(dk); err != nil {
			return err
		}
	}
	logging.FromContext(ctx).Debugf("ObjectHandle.PunchDkeys(%s:%d)", oh, len(dkeys))

	return tx.write(oh.ch, &txOp{typ: txOpPunchDkeys, oid: oh.oid, dkeys: dkeys})
}

// PunchAkeys punches the akeys under the dkey.
func (oh *ObjectHandle) PunchAkeys(ctx context.Context, tx *Tx, dkey daos.Key, akeys ...daos.Key) error {
	if err := oh.checkWritable(); err != nil {
		return err
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if err := oh.checkDkey(dkey); err != nil {
		return err
	}
	if len(akeys) == 0 {
		return errors.Wrap(daos.InvalidInput, "no akeys to punch")
	}
	for _, ak := range akeys {
		if err := ak.Validate(); err != nil {
			return errors.Wrap(err, "invalid akey")
		}
	}
	logging.FromContext(ctx).Debugf("ObjectHandle.PunchAkeys(%s:%s:%d)", oh, dkey, len(akeys))

	return tx.write(oh.ch, &txOp{typ: txOpPunchAkeys, oid: oh.oid, dkey: dkey, akeys: akeys})
}

// Update writes the values described by the IODs under the dkey. Each IOD
// takes its data from the scatter/gather list at the same index. A nil list
// for an array IOD punches its extents.
func (oh *ObjectHandle) Update(ctx context.Context, tx *Tx, dkey daos.Key, iods []daos.IOD, sgls []daos.SGList) error {
	if err := oh.checkWritable(); err != nil {
		return err
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if err := oh.checkDkey(dkey); err != nil {
		return err
	}
	if len(iods) == 0 {
		return errors.Wrap(daos.InvalidInput, "no IODs supplied")
	}
	if len(sgls) != len(iods) {
		return errors.Wrapf(daos.IOInvalid, "%d IODs with %d buffers", len(iods), len(sgls))
	}
	for i := range iods {
		if err := iods[i].Validate(); err != nil {
			return err
		}
		if sgls[i] == nil {
			if iods[i].Type == daos.IODTypeSingle {
				return errors.Wrapf(daos.IOInvalid, "no buffer for single value %s", iods[i].Name)
			}
			continue
		}
		if need := iods[i].NumBytes(); uint64(sgls[i].Len()) < need {
			return errors.Wrapf(daos.IOInvalid, "IOD %s needs %d bytes, buffer holds %d", iods[i].Name, need, sgls[i].Len())
		}
	}

	return tx.write(oh.ch, &txOp{typ: txOpUpdate, oid: oh.oid, dkey: dkey, iods: iods, sgls: sgls})
}

// Fetch reads the values described by the IODs under the dkey. It returns
// one scatter/gather list per IOD along with the size of each value (the
// record size for arrays), which is zero when nothing was found.
func (oh *ObjectHandle) Fetch(ctx context.Context, tx *Tx, dkey daos.Key, iods []daos.IOD) ([]daos.SGList, []uint64, error) {
	if !oh.IsValid() {
		return nil, nil, ErrInvalidObjectHandle
	}
	if err := checkCtx(ctx); err != nil {
		return nil, nil, err
	}
	if err := oh.checkDkey(dkey); err != nil {
		return nil, nil, err
	}
	if len(iods) == 0 {
		return nil, nil, errors.Wrap(daos.InvalidInput, "no IODs supplied")
	}

	keys := make([]txKey, 0, len(iods))
	for _, iod := range iods {
		keys = append(keys, txKey{oid: oh.oid, dkey: dkey, akey: iod.Name})
	}
	epoch, err := tx.readEpoch(oh.ch, keys...)
	if err != nil {
		return nil, nil, err
	}

	sgls, sizes, err := oh.ch.svc().ObjFetch(oh.ch.UUID, oh.oid, epoch, dkey, iods)
	if err != nil {
		return nil, nil, err
	}
	tx.overlay(oh.oid, dkey, iods, sgls, sizes)

	return sgls, sizes, nil
}

// QueryKey returns the greatest (or least, with daos.QueryKeyMin) dkey,
// akey or array extent selected by the flags.
func (oh *ObjectHandle) QueryKey(ctx context.Context, tx *Tx, flags daos.QueryKeyFlag, dkey, akey daos.Key) (*KeyQuery, error) {
	if !oh.IsValid() {
		return nil, ErrInvalidObjectHandle
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if flags&(daos.QueryKeyGetDkey|daos.QueryKeyGetAkey|daos.QueryKeyGetRecx) == 0 {
		return nil, errors.Wrap(daos.InvalidInput, "no key selected to query")
	}
	if flags&daos.QueryKeyMax != 0 && flags&daos.QueryKeyMin != 0 {
		return nil, errors.Wrap(daos.InvalidInput, "both min and max requested")
	}

	key := txKey{oid: oh.oid}
	if flags&daos.QueryKeyGetDkey == 0 {
		key.dkey = dkey
	}
	epoch, err := tx.readEpoch(oh.ch, key)
	if err != nil {
		return nil, err
	}

	return oh.ch.svc().ObjQueryKey(oh.ch.UUID, oh.oid, epoch, flags, dkey, akey)
}

// ListDkeys returns up to max dkeys of the object after the anchor. A max
// of zero returns all of them.
func (oh *ObjectHandle) ListDkeys(ctx context.Context, tx *Tx, anchor *daos.Anchor, max int) ([]daos.Key, error) {
	if !oh.IsValid() {
		return nil, ErrInvalidObjectHandle
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, errors.Wrap(daos.InvalidInput, "nil anchor")
	}

	epoch, err := tx.readEpoch(oh.ch, txKey{oid: oh.oid})
	if err != nil {
		return nil, err
	}
	return oh.ch.svc().ObjListDkeys(oh.ch.UUID, oh.oid, epoch, anchor, max)
}

// ListAkeys returns up to max akeys under the dkey after the anchor.
func (oh *ObjectHandle) ListAkeys(ctx context.Context, tx *Tx, dkey daos.Key, anchor *daos.Anchor, max int) ([]daos.Key, error) {
	if !oh.IsValid() {
		return nil, ErrInvalidObjectHandle
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if err := oh.checkDkey(dkey); err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, errors.Wrap(daos.InvalidInput, "nil anchor")
	}

	epoch, err := tx.readEpoch(oh.ch, txKey{oid: oh.oid, dkey: dkey})
	if err != nil {
		return nil, err
	}
	return oh.ch.svc().ObjListAkeys(oh.ch.UUID, oh.oid, epoch, dkey, anchor, max)
}

// ListRecx returns up to max visible extents of the array akey after the
// anchor, along with its record size.
func (oh *ObjectHandle) ListRecx(ctx context.Context, tx *Tx, dkey, akey daos.Key, anchor *daos.Anchor, max int) ([]daos.Recx, uint64, error) {
	if !oh.IsValid() {
		return nil, 0, ErrInvalidObjectHandle
	}
	if err := checkCtx(ctx); err != nil {
		return nil, 0, err
	}
	if err := oh.checkDkey(dkey); err != nil {
		return nil, 0, err
	}
	if anchor == nil {
		return nil, 0, errors.Wrap(daos.InvalidInput, "nil anchor")
	}

	epoch, err := tx.readEpoch(oh.ch, txKey{oid: oh.oid, dkey: dkey, akey: akey})
	if err != nil {
		return nil, 0, err
	}
	return oh.ch.svc().ObjListRecx(oh.ch.UUID, oh.oid, epoch, dkey, akey, anchor, max)
}
