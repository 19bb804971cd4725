//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package vos

import (
	"encoding/binary"
	"sort"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"github.com/daos-stack/dsr/lib/daos"
)

// stamp orders versions within a container: by epoch, then by the order in
// which they were applied.
type stamp struct {
	epoch daos.Epoch
	seq   uint64
}

func (s stamp) less(o stamp) bool {
	if s.epoch != o.epoch {
		return s.epoch < o.epoch
	}
	return s.seq < o.seq
}

// punchList is sorted by stamp.
type punchList []stamp

func (pl punchList) insert(s stamp) punchList {
	i := sort.Search(len(pl), func(i int) bool { return s.less(pl[i]) })
	pl = append(pl, stamp{})
	copy(pl[i+1:], pl[i:])
	pl[i] = s
	return pl
}

// latest returns the newest punch at or below the epoch.
func (pl punchList) latest(e daos.Epoch) (stamp, bool) {
	for i := len(pl) - 1; i >= 0; i-- {
		if pl[i].epoch <= e {
			return pl[i], true
		}
	}
	return stamp{}, false
}

func (pl punchList) newest() daos.Epoch {
	if len(pl) == 0 {
		return 0
	}
	return pl[len(pl)-1].epoch
}

func (pl punchList) trimAbove(e daos.Epoch) punchList {
	i := sort.Search(len(pl), func(i int) bool { return pl[i].epoch > e })
	return pl[:i]
}

// view is a read of the tree at an epoch, with the newest applicable punch.
type view struct {
	epoch  daos.Epoch
	cut    stamp
	hasCut bool
}

func newView(e daos.Epoch, lists ...punchList) view {
	v := view{epoch: e}
	for _, pl := range lists {
		if s, ok := pl.latest(e); ok && (!v.hasCut || v.cut.less(s)) {
			v.cut, v.hasCut = s, true
		}
	}
	return v
}

func (v view) sees(s stamp) bool {
	return s.epoch <= v.epoch && (!v.hasCut || v.cut.less(s))
}

type singleVersion struct {
	stamp
	data []byte
}

type extent struct {
	stamp
	recx daos.Recx
	// nil data is a hole
	data []byte
}

// piece is the part of an extent that is visible in a view.
type piece struct {
	daos.Recx
	ext *extent
}

func (p piece) hole() bool {
	return p.ext.data == nil
}

type akeyNode struct {
	key     daos.Key
	punches punchList
	iodType daos.IODType
	recSize uint64
	singles []*singleVersion
	extents []*extent
}

type dkeyNode struct {
	key     daos.Key
	punches punchList
	akeys   *treemap.Map
}

type object struct {
	oid     daos.ObjectID
	punches punchList
	dkeys   *treemap.Map
}

// Keys are stored as strings so that the tree orders them bytewise.
func treeKey(k daos.Key) string {
	return string(k)
}

func oidComparator(a, b interface{}) int {
	oa, ob := a.(daos.ObjectID), b.(daos.ObjectID)
	switch {
	case oa.Less(ob):
		return -1
	case ob.Less(oa):
		return 1
	default:
		return 0
	}
}

func oidBytes(oid daos.ObjectID) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf, oid.Hi)
	binary.BigEndian.PutUint64(buf[8:], oid.Lo)
	return buf
}

func oidFromBytes(buf []byte) (daos.ObjectID, bool) {
	if len(buf) != 16 {
		return daos.ObjectID{}, false
	}
	return daos.ObjectID{
		Hi: binary.BigEndian.Uint64(buf),
		Lo: binary.BigEndian.Uint64(buf[8:]),
	}, true
}

func newObject(oid daos.ObjectID) *object {
	return &object{
		oid:   oid,
		dkeys: treemap.NewWith(utils.StringComparator),
	}
}

func newDkey(key daos.Key) *dkeyNode {
	return &dkeyNode{
		key:   append(daos.Key(nil), key...),
		akeys: treemap.NewWith(utils.StringComparator),
	}
}

func newAkey(key daos.Key) *akeyNode {
	return &akeyNode{
		key: append(daos.Key(nil), key...),
	}
}

func (o *object) dkey(key daos.Key) *dkeyNode {
	if v, found := o.dkeys.Get(treeKey(key)); found {
		return v.(*dkeyNode)
	}
	return nil
}

func (o *object) dkeyNodes() []*dkeyNode {
	nodes := make([]*dkeyNode, 0, o.dkeys.Size())
	it := o.dkeys.Iterator()
	for it.Next() {
		nodes = append(nodes, it.Value().(*dkeyNode))
	}
	return nodes
}

func (o *object) getOrAddDkey(key daos.Key) *dkeyNode {
	dk := o.dkey(key)
	if dk == nil {
		dk = newDkey(key)
		o.dkeys.Put(treeKey(key), dk)
	}
	return dk
}

func (dk *dkeyNode) akey(key daos.Key) *akeyNode {
	if v, found := dk.akeys.Get(treeKey(key)); found {
		return v.(*akeyNode)
	}
	return nil
}

func (dk *dkeyNode) akeyNodes() []*akeyNode {
	nodes := make([]*akeyNode, 0, dk.akeys.Size())
	it := dk.akeys.Iterator()
	for it.Next() {
		nodes = append(nodes, it.Value().(*akeyNode))
	}
	return nodes
}

func (dk *dkeyNode) getOrAddAkey(key daos.Key) *akeyNode {
	ak := dk.akey(key)
	if ak == nil {
		ak = newAkey(key)
		dk.akeys.Put(treeKey(key), ak)
	}
	return ak
}

func (ak *akeyNode) addSingle(sv *singleVersion) {
	i := sort.Search(len(ak.singles), func(i int) bool { return sv.less(ak.singles[i].stamp) })
	ak.singles = append(ak.singles, nil)
	copy(ak.singles[i+1:], ak.singles[i:])
	ak.singles[i] = sv
}

func (ak *akeyNode) addExtent(ext *extent) {
	i := sort.Search(len(ak.extents), func(i int) bool { return ext.less(ak.extents[i].stamp) })
	ak.extents = append(ak.extents, nil)
	copy(ak.extents[i+1:], ak.extents[i:])
	ak.extents[i] = ext
}

// single returns the newest single value visible in the view.
func (ak *akeyNode) single(v view) *singleVersion {
	for i := len(ak.singles) - 1; i >= 0; i-- {
		if v.sees(ak.singles[i].stamp) {
			return ak.singles[i]
		}
	}
	return nil
}

// pieces composes the extents visible in the view, newest first wins,
// and returns the result sorted by index.
func (ak *akeyNode) pieces(v view) []piece {
	var covered []daos.Recx
	var out []piece
	for i := len(ak.extents) - 1; i >= 0; i-- {
		ext := ak.extents[i]
		if !v.sees(ext.stamp) {
			continue
		}
		for _, r := range subtractRecx(ext.recx, covered) {
			out = append(out, piece{Recx: r, ext: ext})
		}
		covered = insertRecx(covered, ext.recx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Idx < out[j].Idx })
	return out
}

func (ak *akeyNode) dataPieces(v view) []piece {
	var out []piece
	for _, p := range ak.pieces(v) {
		if !p.hole() {
			out = append(out, p)
		}
	}
	return out
}

func (ak *akeyNode) visible(v view) bool {
	if ak.single(v) != nil {
		return true
	}
	return len(ak.dataPieces(v)) > 0
}

func (ak *akeyNode) empty() bool {
	return len(ak.singles) == 0 && len(ak.extents) == 0
}

func (ak *akeyNode) newest() daos.Epoch {
	e := ak.punches.newest()
	for _, sv := range ak.singles {
		if sv.epoch > e {
			e = sv.epoch
		}
	}
	for _, ext := range ak.extents {
		if ext.epoch > e {
			e = ext.epoch
		}
	}
	return e
}

func (dk *dkeyNode) visible(v view) bool {
	for _, ak := range dk.akeyNodes() {
		if ak.visible(newView(v.epoch, dk.punches, ak.punches).merge(v)) {
			return true
		}
	}
	return false
}

func (o *object) visible(e daos.Epoch) bool {
	ov := newView(e, o.punches)
	for _, dk := range o.dkeyNodes() {
		if dk.visible(ov) {
			return true
		}
	}
	return false
}

// merge returns the view with the newer of the two punches.
func (v view) merge(other view) view {
	if other.hasCut && (!v.hasCut || v.cut.less(other.cut)) {
		v.cut, v.hasCut = other.cut, true
	}
	return v
}

// subtractRecx returns the parts of r not covered. covered must be sorted
// and non-overlapping.
func subtractRecx(r daos.Recx, covered []daos.Recx) []daos.Recx {
	var out []daos.Recx
	start := r.Idx
	for _, c := range covered {
		if start >= r.End() {
			break
		}
		if c.End() <= start {
			continue
		}
		if c.Idx >= r.End() {
			break
		}
		if c.Idx > start {
			out = append(out, daos.Recx{Idx: start, Nr: c.Idx - start})
		}
		start = c.End()
	}
	if start < r.End() {
		out = append(out, daos.Recx{Idx: start, Nr: r.End() - start})
	}
	return out
}

// insertRecx adds r to the sorted extent list, merging overlaps.
func insertRecx(covered []daos.Recx, r daos.Recx) []daos.Recx {
	all := append(append([]daos.Recx(nil), covered...), r)
	sort.Slice(all, func(i, j int) bool { return all[i].Idx < all[j].Idx })

	out := all[:1]
	for _, c := range all[1:] {
		last := &out[len(out)-1]
		if c.Idx <= last.End() {
			if c.End() > last.End() {
				last.Nr = c.End() - last.Idx
			}
			continue
		}
		out = append(out, c)
	}
	return out
}
