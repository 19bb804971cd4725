//
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
)

type (
	// TxFlag modifies the behavior of a transaction.
	TxFlag uint

	// TxState is the state of a transaction.
	TxState uint

	// Tx is a distributed transaction against a container. Reads are made
	// at the transaction's epoch and updates are buffered until Commit.
	// A nil *Tx may be passed to any operation that takes one, in which case
	// the operation is committed independently.
	Tx struct {
		sync.Mutex
		ch     *ContainerHandle
		flags  TxFlag
		snap   bool
		epoch  daos.Epoch
		state  TxState
		closed bool
		ops    []*txOp
		reads  map[string]txKey
	}

	txOpType uint

	txOp struct {
		typ   txOpType
		oid   daos.ObjectID
		dkey  daos.Key
		dkeys []daos.Key
		akeys []daos.Key
		iods  []daos.IOD
		sgls  []daos.SGList
		// checked before the op is applied outside of a tx
		check func() error
	}

	// txKey identifies what a tx read or wrote. A nil dkey covers the
	// whole object, and a nil akey the whole dkey.
	txKey struct {
		oid  daos.ObjectID
		dkey daos.Key
		akey daos.Key
	}
)

const (
	// TxFlagReadOnly opens a transaction that rejects updates.
	TxFlagReadOnly TxFlag = 1 << iota
)

const (
	TxStateOpen TxState = iota
	TxStateCommitting
	TxStateCommitted
	TxStateAborted
	TxStateFailed
)

const (
	txOpUpdate txOpType = iota
	txOpPunchObject
	txOpPunchDkeys
	txOpPunchAkeys
)

func (s TxState) String() string {
	return map[TxState]string{
		TxStateOpen:       "open",
		TxStateCommitting: "committing",
		TxStateCommitted:  "committed",
		TxStateAborted:    "aborted",
		TxStateFailed:     "failed",
	}[s]
}

func (k txKey) String() string {
	return fmt.Sprintf("%s/%x/%x", k.oid, []byte(k.dkey), []byte(k.akey))
}

func (k txKey) id() string {
	return fmt.Sprintf("%s/%t%x/%t%x", k.oid, k.dkey == nil, []byte(k.dkey), k.akey == nil, []byte(k.akey))
}

// OpenTx opens a transaction that reads the container as of its latest
// committed epoch.
func (ch *ContainerHandle) OpenTx(ctx context.Context, flags TxFlag) (*Tx, error) {
	if !ch.IsValid() {
		return nil, ErrInvalidContainerHandle
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	epoch, err := ch.svc().ContEpoch(ch.UUID)
	if err != nil {
		return nil, err
	}
	tx := &Tx{
		ch:    ch,
		flags: flags,
		epoch: epoch,
		reads: make(map[string]txKey),
	}
	logging.FromContext(ctx).Debugf("OpenTx(%s): epoch %d", ch, epoch)

	return tx, nil
}

// OpenSnapTx opens a read-only transaction that reads the container as of
// the snapshot epoch.
func (ch *ContainerHandle) OpenSnapTx(ctx context.Context, epoch daos.Epoch) (*Tx, error) {
	if !ch.IsValid() {
		return nil, ErrInvalidContainerHandle
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if epoch == 0 {
		return nil, errors.Wrap(daos.InvalidInput, "zero snapshot epoch")
	}
	logging.FromContext(ctx).Debugf("OpenSnapTx(%s): epoch %d", ch, epoch)

	return &Tx{
		ch:    ch,
		flags: TxFlagReadOnly,
		snap:  true,
		epoch: epoch,
		reads: make(map[string]txKey),
	}, nil
}

// Epoch returns the epoch the transaction reads at.
func (tx *Tx) Epoch() daos.Epoch {
	tx.Lock()
	defer tx.Unlock()

	return tx.epoch
}

// State returns the current state of the transaction.
func (tx *Tx) State() TxState {
	tx.Lock()
	defer tx.Unlock()

	return tx.state
}

func (tx *Tx) readOnly() bool {
	return tx.flags&TxFlagReadOnly != 0
}

// checkOpen returns an error if the tx can no longer be used.
// NB: Must be called with the lock held.
func (tx *Tx) checkOpen() error {
	switch {
	case tx.closed:
		return errors.Wrap(daos.NoHandle, "transaction is closed")
	case tx.state == TxStateCommitted:
		return errors.Wrap(daos.TxCommitted, "transaction")
	case tx.state == TxStateAborted:
		return errors.Wrap(daos.TxAborted, "transaction")
	case tx.state == TxStateCommitting:
		return errors.Wrap(daos.InProgress, "transaction is committing")
	case tx.state == TxStateFailed:
		return errors.Wrap(daos.TxRestart, "failed transaction must be restarted")
	}
	return nil
}

// readEpoch returns the epoch for a read made through the tx, and records
// the keys read for conflict detection at commit.
func (tx *Tx) readEpoch(ch *ContainerHandle, keys ...txKey) (daos.Epoch, error) {
	if tx == nil {
		return daos.EpochMax, nil
	}
	tx.Lock()
	defer tx.Unlock()

	if err := tx.checkOpen(); err != nil {
		return 0, err
	}
	if tx.ch != ch {
		return 0, errors.Wrapf(daos.InvalidInput, "transaction opened on %s, not %s", tx.ch, ch)
	}
	if !tx.readOnly() {
		for _, k := range keys {
			tx.reads[k.id()] = k
		}
	}
	return tx.epoch, nil
}

// write buffers the ops in the tx, or commits them together at a new
// epoch if the tx is nil. Checks attached to the ops run under the
// container commit lock before anything is applied when the tx is nil.
func (tx *Tx) write(ch *ContainerHandle, ops ...*txOp) error {
	if tx == nil {
		_, err := ch.svc().Commit(ch.UUID, func(epoch daos.Epoch) error {
			for _, op := range ops {
				if op.check == nil {
					continue
				}
				if err := op.check(); err != nil {
					return err
				}
			}
			for _, op := range ops {
				if err := op.apply(ch, epoch); err != nil {
					return err
				}
			}
			return nil
		})
		return err
	}

	tx.Lock()
	defer tx.Unlock()

	if err := tx.checkOpen(); err != nil {
		return err
	}
	if tx.ch != ch {
		return errors.Wrapf(daos.InvalidInput, "transaction opened on %s, not %s", tx.ch, ch)
	}
	if tx.readOnly() {
		return errors.Wrap(daos.TxReadOnly, "update in read-only transaction")
	}
	for _, op := range ops {
		tx.ops = append(tx.ops, op.copy())
	}
	return nil
}

func (op *txOp) copy() *txOp {
	out := &txOp{
		typ:  op.typ,
		oid:  op.oid,
		dkey: append(daos.Key{}, op.dkey...),
	}
	for _, dk := range op.dkeys {
		out.dkeys = append(out.dkeys, append(daos.Key{}, dk...))
	}
	for _, ak := range op.akeys {
		out.akeys = append(out.akeys, append(daos.Key{}, ak...))
	}
	for _, iod := range op.iods {
		iod.Name = append(daos.Key{}, iod.Name...)
		iod.Recxs = append([]daos.Recx{}, iod.Recxs...)
		out.iods = append(out.iods, iod)
	}
	for _, sgl := range op.sgls {
		if sgl == nil {
			out.sgls = append(out.sgls, nil)
			continue
		}
		out.sgls = append(out.sgls, daos.SGList{append([]byte{}, sgl.Flatten()...)})
	}
	for i := range out.iods {
		if out.iods[i].Type == daos.IODTypeSingle && out.iods[i].Size == 0 && i < len(out.sgls) {
			out.iods[i].Size = uint64(out.sgls[i].Len())
		}
	}
	return out
}

// keys returns the keys modified by the op.
func (op *txOp) keys() []txKey {
	switch op.typ {
	case txOpPunchObject:
		return []txKey{{oid: op.oid}}
	case txOpPunchDkeys:
		keys := make([]txKey, 0, len(op.dkeys))
		for _, dk := range op.dkeys {
			keys = append(keys, txKey{oid: op.oid, dkey: dk})
		}
		return keys
	case txOpPunchAkeys:
		keys := make([]txKey, 0, len(op.akeys))
		for _, ak := range op.akeys {
			keys = append(keys, txKey{oid: op.oid, dkey: op.dkey, akey: ak})
		}
		return keys
	default:
		keys := make([]txKey, 0, len(op.iods))
		for _, iod := range op.iods {
			keys = append(keys, txKey{oid: op.oid, dkey: op.dkey, akey: iod.Name})
		}
		return keys
	}
}

func (op *txOp) apply(ch *ContainerHandle, epoch daos.Epoch) error {
	svc := ch.svc()
	switch op.typ {
	case txOpPunchObject:
		return svc.ObjPunch(ch.UUID, op.oid, epoch)
	case txOpPunchDkeys:
		return svc.ObjPunchDkeys(ch.UUID, op.oid, epoch, op.dkeys...)
	case txOpPunchAkeys:
		return svc.ObjPunchAkeys(ch.UUID, op.oid, epoch, op.dkey, op.akeys...)
	default:
		return svc.ObjUpdate(ch.UUID, op.oid, epoch, op.dkey, op.iods, op.sgls)
	}
}

// punches returns true if the op hides the akey under the dkey.
func (op *txOp) punches(oid daos.ObjectID, dkey, akey daos.Key) bool {
	if op.oid != oid {
		return false
	}
	switch op.typ {
	case txOpPunchObject:
		return true
	case txOpPunchDkeys:
		for _, dk := range op.dkeys {
			if dk.Equals(dkey) {
				return true
			}
		}
	case txOpPunchAkeys:
		if !op.dkey.Equals(dkey) {
			return false
		}
		for _, ak := range op.akeys {
			if ak.Equals(akey) {
				return true
			}
		}
	}
	return false
}

// overlay applies the buffered ops of the tx to values fetched at its
// epoch, so that a tx reads its own writes.
func (tx *Tx) overlay(oid daos.ObjectID, dkey daos.Key, iods []daos.IOD, sgls []daos.SGList, sizes []uint64) {
	if tx == nil {
		return
	}
	tx.Lock()
	defer tx.Unlock()

	for _, op := range tx.ops {
		for i := range iods {
			iod := &iods[i]
			if op.punches(oid, dkey, iod.Name) {
				sizes[i] = 0
				if iod.Type == daos.IODTypeSingle {
					sgls[i] = nil
					continue
				}
				for _, buf := range sgls[i] {
					clear(buf)
				}
				continue
			}
			if op.typ != txOpUpdate || op.oid != oid || !op.dkey.Equals(dkey) {
				continue
			}
			for j, upd := range op.iods {
				if !upd.Name.Equals(iod.Name) || upd.Type != iod.Type {
					continue
				}
				if iod.Type == daos.IODTypeSingle {
					if op.sgls[j] == nil {
						sgls[i], sizes[i] = nil, 0
						continue
					}
					val := op.sgls[j].Flatten()
					sgls[i] = daos.SGList{append([]byte{}, val[:upd.Size]...)}
					sizes[i] = upd.Size
					continue
				}
				overlayArray(iod, sgls[i], upd, op.sgls[j])
				if op.sgls[j] != nil {
					sizes[i] = upd.Size
				}
			}
		}
	}
}

// overlayArray copies the extents of the update that intersect the fetched
// extents into the fetch buffers. A nil update buffer zeroes them.
func overlayArray(iod *daos.IOD, fetched daos.SGList, upd daos.IOD, data daos.SGList) {
	recSize := upd.Size
	if iod.Size != 0 && iod.Size != recSize {
		return
	}
	var src []byte
	if data != nil {
		src = data.Flatten()
	}

	var off uint64
	for _, urx := range upd.Recxs {
		for k, rx := range iod.Recxs {
			if k >= len(fetched) {
				break
			}
			isect, ok := rx.Intersect(urx)
			if !ok {
				continue
			}
			dst := fetched[k][(isect.Idx-rx.Idx)*recSize : (isect.Idx-rx.Idx+isect.Nr)*recSize]
			if src == nil {
				clear(dst)
				continue
			}
			start := off + (isect.Idx-urx.Idx)*recSize
			copy(dst, src[start:start+isect.Nr*recSize])
		}
		off += urx.Nr * recSize
	}
}

// Commit applies every buffered update of the tx at a single new epoch.
// If a key read or written by the tx was modified after the tx epoch,
// nothing is applied and daos.TxRestart is returned.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx == nil {
		return errors.Wrap(daos.NoHandle, "nil transaction")
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}
	log := logging.FromContext(ctx)

	tx.Lock()
	defer tx.Unlock()

	if err := tx.checkOpen(); err != nil {
		return err
	}
	if len(tx.ops) == 0 {
		tx.state = TxStateCommitted
		return nil
	}
	if !tx.ch.IsValid() {
		return ErrInvalidContainerHandle
	}
	tx.state = TxStateCommitting

	check := make(map[string]txKey, len(tx.reads))
	for id, k := range tx.reads {
		check[id] = k
	}
	for _, op := range tx.ops {
		for _, k := range op.keys() {
			check[k.id()] = k
		}
	}

	svc := tx.ch.svc()
	epoch, err := svc.Commit(tx.ch.UUID, func(epoch daos.Epoch) error {
		for _, k := range check {
			last, err := svc.ObjLastModified(tx.ch.UUID, k.oid, k.dkey, k.akey)
			if err != nil {
				return err
			}
			if last > tx.epoch {
				return errors.Wrapf(daos.TxRestart, "%s modified at %d after %d", k, last, tx.epoch)
			}
		}
		for _, op := range tx.ops {
			if err := op.apply(tx.ch, epoch); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tx.state = TxStateFailed
		log.Debugf("tx commit on %s at %d failed: %s", tx.ch, tx.epoch, err)
		return err
	}

	log.Debugf("tx on %s committed %d ops at %d", tx.ch, len(tx.ops), epoch)
	tx.state = TxStateCommitted
	tx.ops = nil
	return nil
}

// Abort discards the buffered updates of the tx.
func (tx *Tx) Abort(ctx context.Context) error {
	if tx == nil {
		return errors.Wrap(daos.NoHandle, "nil transaction")
	}
	tx.Lock()
	defer tx.Unlock()

	switch {
	case tx.closed:
		return errors.Wrap(daos.NoHandle, "transaction is closed")
	case tx.state == TxStateCommitted:
		return errors.Wrap(daos.TxCommitted, "transaction")
	case tx.state == TxStateAborted:
		return errors.Wrap(daos.TxAborted, "transaction")
	}
	tx.ops = nil
	tx.state = TxStateAborted
	return nil
}

// Restart discards the buffered updates and reads of the tx and moves it
// to the latest committed epoch, so that it can be retried after a
// conflict.
func (tx *Tx) Restart(ctx context.Context) error {
	if tx == nil {
		return errors.Wrap(daos.NoHandle, "nil transaction")
	}
	tx.Lock()
	defer tx.Unlock()

	if tx.closed {
		return errors.Wrap(daos.NoHandle, "transaction is closed")
	}
	if tx.state == TxStateCommitted {
		return errors.Wrap(daos.TxCommitted, "transaction")
	}
	if tx.snap {
		return errors.Wrap(daos.NotApplicable, "snapshot transaction cannot be restarted")
	}

	epoch, err := tx.ch.svc().ContEpoch(tx.ch.UUID)
	if err != nil {
		return err
	}
	tx.epoch = epoch
	tx.ops = nil
	tx.reads = make(map[string]txKey)
	tx.state = TxStateOpen
	logging.FromContext(ctx).Debugf("tx on %s restarted at %d", tx.ch, epoch)
	return nil
}

// Close releases the tx. Buffered updates that were not committed are
// discarded.
func (tx *Tx) Close(ctx context.Context) error {
	if tx == nil {
		return errors.Wrap(daos.NoHandle, "nil transaction")
	}
	tx.Lock()
	defer tx.Unlock()

	if tx.closed {
		return errors.Wrap(daos.NoHandle, "transaction is closed")
	}
	tx.closed = true
	tx.ops = nil
	tx.reads = nil
	return nil
}
