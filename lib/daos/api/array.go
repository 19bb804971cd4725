//
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package api

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/logging"
)

const (
	arrayMetaMagic = 0xdaca55a9daca55a9
	arrayMetaKey   = "daos_array_metadata"
	arrayDataAkey  = "0"
)

var (
	// chunk 0 holds the metadata, so data chunks start at dkey 1
	arrayMetaDkey = daos.Uint64Key(0)
)

type (
	// ArrayRange is a run of consecutive array cells.
	ArrayRange struct {
		Idx uint64 `json:"idx"`
		Len uint64 `json:"len"`
	}

	// ArrayIOD describes the cells of an array read or write. Cells are
	// transferred to or from the buffer in the order of the ranges.
	ArrayIOD struct {
		Ranges []ArrayRange `json:"ranges"`
	}

	// ArrayHandle is an open array object. Cells of the array are grouped
	// in chunks, each stored under its own dkey.
	ArrayHandle struct {
		oh        *ObjectHandle
		cellSize  uint64
		chunkSize uint64
	}

	// arrayPiece is the part of a range that falls in one chunk.
	arrayPiece struct {
		dkey   daos.Key
		recx   daos.Recx
		bufOff uint64
	}
)

func (r ArrayRange) String() string {
	return fmt.Sprintf("[%d+%d]", r.Idx, r.Len)
}

// NumCells returns the number of cells described by the IOD.
func (iod *ArrayIOD) NumCells() uint64 {
	var n uint64
	for _, r := range iod.Ranges {
		n += r.Len
	}
	return n
}

func checkArrayOID(oid daos.ObjectID) error {
	if !oid.Type().IsArray() {
		return errors.Wrapf(daos.InvalidInput, "object %s of type %s is not an array", oid, oid.Type())
	}
	return nil
}

func encodeArrayMeta(cellSize, chunkSize uint64) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf, arrayMetaMagic)
	binary.LittleEndian.PutUint64(buf[8:], cellSize)
	binary.LittleEndian.PutUint64(buf[16:], chunkSize)
	return buf
}

func decodeArrayMeta(buf []byte) (cellSize, chunkSize uint64, err error) {
	if len(buf) != 24 {
		return 0, 0, errors.Wrapf(daos.IOError, "array metadata of %d bytes", len(buf))
	}
	if binary.LittleEndian.Uint64(buf) != arrayMetaMagic {
		return 0, 0, errors.Wrap(daos.IOError, "bad array metadata magic")
	}
	cellSize = binary.LittleEndian.Uint64(buf[8:])
	chunkSize = binary.LittleEndian.Uint64(buf[16:])
	if cellSize == 0 || chunkSize == 0 {
		return 0, 0, errors.Wrap(daos.IOError, "array metadata with zero cell or chunk size")
	}
	return cellSize, chunkSize, nil
}

func arrayMetaIOD() daos.IOD {
	return daos.IOD{
		Name: daos.Key(arrayMetaKey),
		Type: daos.IODTypeSingle,
	}
}

// CreateArray creates an array object with the cell and chunk sizes, which
// are stored with the array. A zero chunk size selects the default.
func (ch *ContainerHandle) CreateArray(ctx context.Context, oid daos.ObjectID, tx *Tx, cellSize, chunkSize uint64) (*ArrayHandle, error) {
	if err := checkArrayOID(oid); err != nil {
		return nil, err
	}
	if cellSize == 0 {
		return nil, errors.Wrap(daos.InvalidInput, "zero cell size")
	}
	if oid.Type() == daos.ObjectTypeArrayByte && cellSize != 1 {
		return nil, errors.Wrapf(daos.InvalidInput, "byte array with cell size %d", cellSize)
	}
	if chunkSize == 0 {
		chunkSize = daos.DefaultChunkSize
	}

	oh, err := ch.OpenObject(ctx, oid, ObjectOpenModeReadWrite)
	if err != nil {
		return nil, err
	}
	ah := &ArrayHandle{oh: oh, cellSize: cellSize, chunkSize: chunkSize}

	exists := func(epoch daos.Epoch) error {
		_, sizes, err := ch.svc().ObjFetch(ch.UUID, oid, epoch, arrayMetaDkey, []daos.IOD{arrayMetaIOD()})
		if err != nil {
			return err
		}
		if sizes[0] != 0 {
			return errors.Wrapf(daos.Exists, "array %s", oid)
		}
		return nil
	}
	if tx != nil {
		if _, sizes, err := oh.Fetch(ctx, tx, arrayMetaDkey, []daos.IOD{arrayMetaIOD()}); err != nil {
			return nil, err
		} else if sizes[0] != 0 {
			return nil, errors.Wrapf(daos.Exists, "array %s", oid)
		}
	}

	iod := arrayMetaIOD()
	iod.Size = 24
	op := &txOp{
		typ:  txOpUpdate,
		oid:  oid,
		dkey: arrayMetaDkey,
		iods: []daos.IOD{iod},
		sgls: []daos.SGList{{encodeArrayMeta(cellSize, chunkSize)}},
		check: func() error {
			return exists(daos.EpochMax)
		},
	}
	if err := tx.write(ch, op); err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debugf("CreateArray(%s:%s): cell %d, chunk %d", ch, oid, cellSize, chunkSize)

	return ah, nil
}

// OpenArray opens an existing array, reading its cell and chunk sizes.
func (ch *ContainerHandle) OpenArray(ctx context.Context, oid daos.ObjectID, tx *Tx, mode ObjectOpenMode) (*ArrayHandle, error) {
	if err := checkArrayOID(oid); err != nil {
		return nil, err
	}

	oh, err := ch.OpenObject(ctx, oid, mode)
	if err != nil {
		return nil, err
	}
	sgls, sizes, err := oh.Fetch(ctx, tx, arrayMetaDkey, []daos.IOD{arrayMetaIOD()})
	if err != nil {
		return nil, err
	}
	if sizes[0] == 0 {
		return nil, errors.Wrapf(daos.Nonexistent, "array %s", oid)
	}
	cellSize, chunkSize, err := decodeArrayMeta(sgls[0].Flatten())
	if err != nil {
		return nil, errors.Wrapf(err, "array %s", oid)
	}

	return &ArrayHandle{oh: oh, cellSize: cellSize, chunkSize: chunkSize}, nil
}

// OpenArrayWithAttr opens an array with the supplied cell and chunk sizes,
// without reading or storing metadata.
func (ch *ContainerHandle) OpenArrayWithAttr(ctx context.Context, oid daos.ObjectID, mode ObjectOpenMode, cellSize, chunkSize uint64) (*ArrayHandle, error) {
	if err := checkArrayOID(oid); err != nil {
		return nil, err
	}
	if cellSize == 0 || chunkSize == 0 {
		return nil, errors.Wrap(daos.InvalidInput, "zero cell or chunk size")
	}

	oh, err := ch.OpenObject(ctx, oid, mode)
	if err != nil {
		return nil, err
	}
	return &ArrayHandle{oh: oh, cellSize: cellSize, chunkSize: chunkSize}, nil
}

// Info returns the cell size in bytes and the chunk size in cells.
func (ah *ArrayHandle) Info() (cellSize, chunkSize uint64) {
	return ah.cellSize, ah.chunkSize
}

// ID returns the object ID of the array.
func (ah *ArrayHandle) ID() daos.ObjectID {
	return ah.oh.ID()
}

// Close closes the array handle.
func (ah *ArrayHandle) Close(ctx context.Context) error {
	if ah == nil {
		return ErrInvalidObjectHandle
	}
	return ah.oh.Close(ctx)
}

func (ah *ArrayHandle) chunkDkey(chunk uint64) daos.Key {
	return daos.Uint64Key(chunk + 1)
}

// split maps the ranges to per-chunk extents.
func (ah *ArrayHandle) split(iod ArrayIOD) ([]arrayPiece, error) {
	var pieces []arrayPiece
	var off uint64
	for _, r := range iod.Ranges {
		if r.Len == 0 {
			continue
		}
		if r.Idx+r.Len < r.Idx {
			return nil, errors.Wrapf(daos.InvalidInput, "range %s overflows", r)
		}
		idx, left := r.Idx, r.Len
		for left > 0 {
			chunk := idx / ah.chunkSize
			rec := idx % ah.chunkSize
			n := ah.chunkSize - rec
			if n > left {
				n = left
			}
			pieces = append(pieces, arrayPiece{
				dkey:   ah.chunkDkey(chunk),
				recx:   daos.Recx{Idx: rec, Nr: n},
				bufOff: off,
			})
			off += n * ah.cellSize
			idx += n
			left -= n
		}
	}
	return pieces, nil
}

func (ah *ArrayHandle) dataIOD(recx daos.Recx) daos.IOD {
	return daos.IOD{
		Name:  daos.Key(arrayDataAkey),
		Type:  daos.IODTypeArray,
		Size:  ah.cellSize,
		Recxs: []daos.Recx{recx},
	}
}

// Write writes cells from the buffer to the ranges of the IOD. Every range
// is written at the same epoch.
func (ah *ArrayHandle) Write(ctx context.Context, tx *Tx, iod ArrayIOD, buf []byte) error {
	if err := ah.oh.checkWritable(); err != nil {
		return err
	}
	if need := iod.NumCells() * ah.cellSize; uint64(len(buf)) < need {
		return errors.Wrapf(daos.BufTooSmall, "write of %d bytes from %d byte buffer", need, len(buf))
	}
	pieces, err := ah.split(iod)
	if err != nil {
		return err
	}
	if len(pieces) == 0 {
		return nil
	}

	ops := make([]*txOp, 0, len(pieces))
	for _, p := range pieces {
		ops = append(ops, &txOp{
			typ:  txOpUpdate,
			oid:  ah.oh.oid,
			dkey: p.dkey,
			iods: []daos.IOD{ah.dataIOD(p.recx)},
			sgls: []daos.SGList{{buf[p.bufOff : p.bufOff+p.recx.Nr*ah.cellSize]}},
		})
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return tx.write(ah.oh.ch, ops...)
}

// Read reads the cells of the ranges of the IOD into the buffer. Cells that
// were never written read as zero.
func (ah *ArrayHandle) Read(ctx context.Context, tx *Tx, iod ArrayIOD, buf []byte) error {
	if !ah.oh.IsValid() {
		return ErrInvalidObjectHandle
	}
	if need := iod.NumCells() * ah.cellSize; uint64(len(buf)) < need {
		return errors.Wrapf(daos.BufTooSmall, "read of %d bytes into %d byte buffer", need, len(buf))
	}
	pieces, err := ah.split(iod)
	if err != nil {
		return err
	}

	for _, p := range pieces {
		sgls, _, err := ah.oh.Fetch(ctx, tx, p.dkey, []daos.IOD{ah.dataIOD(p.recx)})
		if err != nil {
			return err
		}
		dst := buf[p.bufOff : p.bufOff+p.recx.Nr*ah.cellSize]
		clear(dst)
		copy(dst, sgls[0].Flatten())
	}
	return nil
}

// chunkEnd returns the index after the last visible cell of the chunk
// stored under the dkey, or false if the chunk holds no visible cells.
func (ah *ArrayHandle) chunkEnd(ctx context.Context, tx *Tx, dkey daos.Key) (uint64, bool, error) {
	chunk, err := dkey.Uint64()
	if err != nil || chunk == 0 {
		return 0, false, err
	}
	kq, err := ah.oh.QueryKey(ctx, tx, daos.QueryKeyGetRecx|daos.QueryKeyMax, dkey, daos.Key(arrayDataAkey))
	switch {
	case errors.Is(err, daos.Nonexistent):
		return 0, false, nil
	case err != nil:
		return 0, false, err
	}
	return (chunk-1)*ah.chunkSize + kq.Recx.End(), true, nil
}

// GetSize returns the number of cells up to and including the last cell
// written.
func (ah *ArrayHandle) GetSize(ctx context.Context, tx *Tx) (uint64, error) {
	if !ah.oh.IsValid() {
		return 0, ErrInvalidObjectHandle
	}

	kq, err := ah.oh.QueryKey(ctx, tx, daos.QueryKeyGetDkey|daos.QueryKeyMax, nil, nil)
	switch {
	case errors.Is(err, daos.Nonexistent):
		return 0, nil
	case err != nil:
		return 0, err
	}
	if end, found, err := ah.chunkEnd(ctx, tx, kq.Dkey); err != nil || found {
		return end, err
	}

	// the highest chunk has been emptied, so scan down from the next one
	var dkeys []uint64
	anchor := new(daos.Anchor)
	for !anchor.EOF() {
		keys, err := ah.oh.ListDkeys(ctx, tx, anchor, 0)
		if err != nil {
			return 0, err
		}
		for _, k := range keys {
			if n, err := k.Uint64(); err == nil && n != 0 {
				dkeys = append(dkeys, n)
			}
		}
	}
	sort.Slice(dkeys, func(i, j int) bool { return dkeys[i] > dkeys[j] })
	for _, n := range dkeys {
		if end, found, err := ah.chunkEnd(ctx, tx, daos.Uint64Key(n)); err != nil || found {
			return end, err
		}
	}
	return 0, nil
}

// SetSize truncates or extends the array to the number of cells. Cells
// beyond the new size are punched, and an extended array reads as zero
// past its old size.
func (ah *ArrayHandle) SetSize(ctx context.Context, tx *Tx, size uint64) error {
	if err := ah.oh.checkWritable(); err != nil {
		return err
	}
	cur, err := ah.GetSize(ctx, tx)
	if err != nil {
		return err
	}
	log := logging.FromContext(ctx)

	if size >= cur {
		if size == cur {
			return nil
		}
		log.Debugf("ArrayHandle.SetSize(%s): extend %d -> %d", ah.oh, cur, size)
		return ah.Write(ctx, tx, ArrayIOD{Ranges: []ArrayRange{{Idx: size - 1, Len: 1}}}, make([]byte, ah.cellSize))
	}
	log.Debugf("ArrayHandle.SetSize(%s): shrink %d -> %d", ah.oh, cur, size)

	first := size / ah.chunkSize
	if rec := size % ah.chunkSize; rec != 0 {
		first++
	}
	var punch []daos.Key
	for chunk := first; chunk*ah.chunkSize < cur; chunk++ {
		punch = append(punch, ah.chunkDkey(chunk))
	}

	var ops []*txOp
	if len(punch) > 0 {
		ops = append(ops, &txOp{typ: txOpPunchDkeys, oid: ah.oh.oid, dkeys: punch})
	}
	if rec := size % ah.chunkSize; rec != 0 {
		// punch the tail of the boundary chunk
		ops = append(ops, &txOp{
			typ:  txOpUpdate,
			oid:  ah.oh.oid,
			dkey: ah.chunkDkey(size / ah.chunkSize),
			iods: []daos.IOD{ah.dataIOD(daos.Recx{Idx: rec, Nr: ah.chunkSize - rec})},
			sgls: []daos.SGList{nil},
		})
	}
	if size > 0 {
		// rewrite the last cell so that the size does not depend on
		// whether it was ever written
		last := make([]byte, ah.cellSize)
		if err := ah.Read(ctx, tx, ArrayIOD{Ranges: []ArrayRange{{Idx: size - 1, Len: 1}}}, last); err != nil {
			return err
		}
		ops = append(ops, &txOp{
			typ:  txOpUpdate,
			oid:  ah.oh.oid,
			dkey: ah.chunkDkey((size - 1) / ah.chunkSize),
			iods: []daos.IOD{ah.dataIOD(daos.Recx{Idx: (size - 1) % ah.chunkSize, Nr: 1})},
			sgls: []daos.SGList{{last}},
		})
	}
	return tx.write(ah.oh.ch, ops...)
}

// Punch punches the cells of the ranges, which then read as zero.
func (ah *ArrayHandle) Punch(ctx context.Context, tx *Tx, iod ArrayIOD) error {
	if err := ah.oh.checkWritable(); err != nil {
		return err
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}
	pieces, err := ah.split(iod)
	if err != nil {
		return err
	}
	if len(pieces) == 0 {
		return nil
	}

	ops := make([]*txOp, 0, len(pieces))
	for _, p := range pieces {
		ops = append(ops, &txOp{
			typ:  txOpUpdate,
			oid:  ah.oh.oid,
			dkey: p.dkey,
			iods: []daos.IOD{ah.dataIOD(p.recx)},
			sgls: []daos.SGList{nil},
		})
	}
	return tx.write(ah.oh.ch, ops...)
}

// Destroy punches the whole array, including its metadata.
func (ah *ArrayHandle) Destroy(ctx context.Context, tx *Tx) error {
	if ah == nil {
		return ErrInvalidObjectHandle
	}
	return ah.oh.Punch(ctx, tx)
}
