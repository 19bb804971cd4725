//
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package api

import (
	"context"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/logging"
)

const kvValueAkey = "0"

type (
	// KVCond makes a put or remove conditional on whether the key exists.
	KVCond uint

	// KVHandle is an open flat key-value object. Each key is stored as a
	// dkey holding a single value.
	KVHandle struct {
		oh *ObjectHandle
	}
)

const (
	// KVCondNone applies the operation unconditionally.
	KVCondNone KVCond = iota
	// KVCondInsert fails a put with daos.Exists if the key exists.
	KVCondInsert
	// KVCondUpdate fails a put with daos.Nonexistent if the key does not exist.
	KVCondUpdate
	// KVCondPunch fails a remove with daos.Nonexistent if the key does not exist.
	KVCondPunch
)

// OpenKV opens a key-value object.
func (ch *ContainerHandle) OpenKV(ctx context.Context, oid daos.ObjectID, mode ObjectOpenMode) (*KVHandle, error) {
	if oid.Type() != daos.ObjectTypeKVHashed {
		return nil, errors.Wrapf(daos.InvalidInput, "object %s of type %s is not a key-value object", oid, oid.Type())
	}

	oh, err := ch.OpenObject(ctx, oid, mode)
	if err != nil {
		return nil, err
	}
	return &KVHandle{oh: oh}, nil
}

// ID returns the object ID of the key-value object.
func (kv *KVHandle) ID() daos.ObjectID {
	return kv.oh.ID()
}

// Close closes the key-value handle.
func (kv *KVHandle) Close(ctx context.Context) error {
	if kv == nil {
		return ErrInvalidObjectHandle
	}
	return kv.oh.Close(ctx)
}

func kvIOD(size uint64) daos.IOD {
	return daos.IOD{
		Name: daos.Key(kvValueAkey),
		Type: daos.IODTypeSingle,
		Size: size,
	}
}

func checkKVKey(key string) error {
	if err := daos.Key(key).Validate(); err != nil {
		return errors.Wrap(err, "invalid key")
	}
	return nil
}

// exists checks for the key in the latest state, outside of any tx.
func (kv *KVHandle) exists(key string) (bool, error) {
	ch := kv.oh.ch
	_, sizes, err := ch.svc().ObjFetch(ch.UUID, kv.oh.oid, daos.EpochMax, daos.Key(key), []daos.IOD{kvIOD(0)})
	if err != nil {
		return false, err
	}
	return sizes[0] != 0, nil
}

// condCheck returns a check of the key for the condition, or nil if the
// condition needs none. Within a tx the key is checked right away.
func (kv *KVHandle) condCheck(ctx context.Context, tx *Tx, key string, cond KVCond) (func() error, error) {
	want := func(found bool) error {
		switch {
		case cond == KVCondInsert && found:
			return errors.Wrapf(daos.Exists, "key %q", key)
		case (cond == KVCondUpdate || cond == KVCondPunch) && !found:
			return errors.Wrapf(daos.Nonexistent, "key %q", key)
		}
		return nil
	}
	if cond == KVCondNone {
		return nil, nil
	}

	if tx != nil {
		size, err := kv.Get(ctx, tx, key, nil)
		switch {
		case errors.Is(err, daos.Nonexistent):
			return nil, want(false)
		case err != nil:
			return nil, err
		}
		return nil, want(size > 0)
	}

	return func() error {
		found, err := kv.exists(key)
		if err != nil {
			return err
		}
		return want(found)
	}, nil
}

// Put stores the value under the key, subject to the condition.
func (kv *KVHandle) Put(ctx context.Context, tx *Tx, key string, value []byte, cond KVCond) error {
	if err := kv.oh.checkWritable(); err != nil {
		return err
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if err := checkKVKey(key); err != nil {
		return err
	}
	if len(value) == 0 {
		return errors.Wrapf(daos.InvalidInput, "empty value for key %q", key)
	}
	switch cond {
	case KVCondNone, KVCondInsert, KVCondUpdate:
	default:
		return errors.Wrapf(daos.InvalidInput, "invalid put condition %d", cond)
	}

	check, err := kv.condCheck(ctx, tx, key, cond)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Debugf("KVHandle.Put(%s:%q:%d)", kv.oh, key, len(value))

	return tx.write(kv.oh.ch, &txOp{
		typ:   txOpUpdate,
		oid:   kv.oh.oid,
		dkey:  daos.Key(key),
		iods:  []daos.IOD{kvIOD(uint64(len(value)))},
		sgls:  []daos.SGList{{value}},
		check: check,
	})
}

// Get copies the value of the key into the buffer and returns its size.
// A nil buffer returns the size only; a buffer too small for the value
// returns daos.BufTooSmall along with the size.
func (kv *KVHandle) Get(ctx context.Context, tx *Tx, key string, buf []byte) (uint64, error) {
	if err := checkKVKey(key); err != nil {
		return 0, err
	}

	sgls, sizes, err := kv.oh.Fetch(ctx, tx, daos.Key(key), []daos.IOD{kvIOD(0)})
	if err != nil {
		return 0, err
	}
	size := sizes[0]
	if size == 0 {
		return 0, errors.Wrapf(daos.Nonexistent, "key %q", key)
	}
	if buf == nil {
		return size, nil
	}
	if uint64(len(buf)) < size {
		return size, errors.Wrapf(daos.BufTooSmall, "value of %d bytes for %d byte buffer", size, len(buf))
	}
	copy(buf, sgls[0].Flatten())
	return size, nil
}

// GetValue returns a copy of the value of the key.
func (kv *KVHandle) GetValue(ctx context.Context, tx *Tx, key string) ([]byte, error) {
	size, err := kv.Get(ctx, tx, key, nil)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := kv.Get(ctx, tx, key, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Remove removes the key, subject to the condition.
func (kv *KVHandle) Remove(ctx context.Context, tx *Tx, key string, cond KVCond) error {
	if err := kv.oh.checkWritable(); err != nil {
		return err
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if err := checkKVKey(key); err != nil {
		return err
	}
	switch cond {
	case KVCondNone, KVCondPunch:
	default:
		return errors.Wrapf(daos.InvalidInput, "invalid remove condition %d", cond)
	}

	check, err := kv.condCheck(ctx, tx, key, cond)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Debugf("KVHandle.Remove(%s:%q)", kv.oh, key)

	return tx.write(kv.oh.ch, &txOp{
		typ:   txOpPunchDkeys,
		oid:   kv.oh.oid,
		dkeys: []daos.Key{daos.Key(key)},
		check: check,
	})
}

// List returns up to max keys after the anchor. A max of zero returns all
// remaining keys.
func (kv *KVHandle) List(ctx context.Context, tx *Tx, anchor *daos.Anchor, max int) ([]string, error) {
	dkeys, err := kv.oh.ListDkeys(ctx, tx, anchor, max)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(dkeys))
	for _, dk := range dkeys {
		keys = append(keys, dk.String())
	}
	return keys, nil
}

// Destroy removes every key of the object.
func (kv *KVHandle) Destroy(ctx context.Context, tx *Tx) error {
	if kv == nil {
		return ErrInvalidObjectHandle
	}
	return kv.oh.Punch(ctx, tx)
}
