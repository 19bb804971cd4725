//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package pool

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/rsvc"
	"github.com/daos-stack/dsr/security"
)

const (
	opInit rsvc.Op = iota + 1
	opConnect
	opDisconnect
	opEvict
	opSetAttrs
	opDelAttrs
	opSetProps
	opSetACL
	opUpdateTargets
	opContCreate
	opContDestroy
	opContOpen
	opContClose
	opContSetProps
	opContSetACL
	opContSetAttrs
	opContDelAttrs
	opContAllocOIDs
	opContSnapCreate
	opContSnapDestroy
	opContAggregate
	opContRollback
)

var opNames = map[rsvc.Op]string{
	opInit:            "init",
	opConnect:         "connect",
	opDisconnect:      "disconnect",
	opEvict:           "evict",
	opSetAttrs:        "set_attr",
	opDelAttrs:        "del_attr",
	opSetProps:        "set_prop",
	opSetACL:          "set_acl",
	opUpdateTargets:   "update_targets",
	opContCreate:      "cont_create",
	opContDestroy:     "cont_destroy",
	opContOpen:        "cont_open",
	opContClose:       "cont_close",
	opContSetProps:    "cont_set_prop",
	opContSetACL:      "cont_set_acl",
	opContSetAttrs:    "cont_set_attr",
	opContDelAttrs:    "cont_del_attr",
	opContAllocOIDs:   "cont_alloc_oids",
	opContSnapCreate:  "cont_snap_create",
	opContSnapDestroy: "cont_snap_destroy",
	opContAggregate:   "cont_aggregate",
	opContRollback:    "cont_rollback",
}

func opName(op rsvc.Op) string {
	if name, found := opNames[op]; found {
		return name
	}
	return "unknown"
}

// aclMode selects how an ACL update is applied.
type aclMode int

const (
	aclOverwrite aclMode = iota
	aclUpdate
	aclDelete
)

type (
	// PoolHandle is an open connection to the pool.
	PoolHandle struct {
		Flags     daos.PoolConnectFlag `json:"flags"`
		Cred      *security.Credential `json:"cred,omitempty"`
		Connected time.Time            `json:"connected"`
	}

	// ContHandle is an open handle of a container.
	ContHandle struct {
		Flags  daos.ContainerOpenFlag `json:"flags"`
		Cred   *security.Credential   `json:"cred,omitempty"`
		Opened time.Time              `json:"opened"`
	}

	// ContainerRecord is the replicated metadata of a container. Epochs are
	// kept as raw integers so that the logical part of the clock survives
	// encoding.
	ContainerRecord struct {
		UUID            uuid.UUID                 `json:"uuid"`
		Label           string                    `json:"label,omitempty"`
		Owner           string                    `json:"owner"`
		Group           string                    `json:"group"`
		Props           *daos.PropertyList        `json:"props"`
		ACL             *daos.AccessControlList   `json:"acl"`
		Attrs           map[string][]byte         `json:"attrs"`
		Handles         map[uuid.UUID]*ContHandle `json:"handles"`
		Snapshots       []uint64                  `json:"snapshots"`
		SnapNames       map[uint64]string         `json:"snap_names"`
		Committed       uint64                    `json:"committed"`
		AggregatedTo    uint64                    `json:"aggregated_to"`
		RolledBackTo    uint64                    `json:"rolled_back_to"`
		NextOID         uint64                    `json:"next_oid"`
		Created         time.Time                 `json:"created"`
		OpenTime        time.Time                 `json:"open_time"`
		CloseModifyTime time.Time                 `json:"close_modify_time"`
	}

	// poolData is the replicated pool metadata.
	poolData struct {
		UUID       uuid.UUID                      `json:"uuid"`
		Label      string                         `json:"label"`
		Owner      string                         `json:"owner"`
		Group      string                         `json:"group"`
		Props      *daos.PropertyList             `json:"props"`
		ACL        *daos.AccessControlList        `json:"acl"`
		Attrs      map[string][]byte              `json:"attrs"`
		Handles    map[uuid.UUID]*PoolHandle      `json:"handles"`
		Map        *Map                           `json:"map"`
		Containers map[uuid.UUID]*ContainerRecord `json:"containers"`
		Created    time.Time                      `json:"created"`
	}

	// poolState implements rsvc.FSM for the pool service.
	poolState struct {
		sync.RWMutex
		data *poolData
	}
)

func newPoolData() *poolData {
	return &poolData{
		Props:      daos.NewPoolPropertyList(),
		Attrs:      make(map[string][]byte),
		Handles:    make(map[uuid.UUID]*PoolHandle),
		Containers: make(map[uuid.UUID]*ContainerRecord),
	}
}

func newPoolState() rsvc.FSM {
	return &poolState{data: newPoolData()}
}

func (pd *poolData) UnmarshalJSON(data []byte) error {
	type fromJSON poolData
	from := &struct {
		Props json.RawMessage `json:"props"`
		*fromJSON
	}{
		fromJSON: (*fromJSON)(pd),
	}
	if err := json.Unmarshal(data, from); err != nil {
		return err
	}

	pd.Props = daos.NewPoolPropertyList()
	if len(from.Props) > 0 && string(from.Props) != "null" {
		if err := json.Unmarshal(from.Props, pd.Props); err != nil {
			return errors.Wrap(err, "pool properties")
		}
	}
	return nil
}

func (cr *ContainerRecord) UnmarshalJSON(data []byte) error {
	type fromJSON ContainerRecord
	from := &struct {
		Props json.RawMessage `json:"props"`
		*fromJSON
	}{
		fromJSON: (*fromJSON)(cr),
	}
	if err := json.Unmarshal(data, from); err != nil {
		return err
	}

	cr.Props = daos.NewContainerPropertyList()
	if len(from.Props) > 0 && string(from.Props) != "null" {
		if err := json.Unmarshal(from.Props, cr.Props); err != nil {
			return errors.Wrapf(err, "container %s properties", cr.UUID)
		}
	}
	return nil
}

// Snapshot implements rsvc.FSM.
func (ps *poolState) Snapshot() ([]byte, error) {
	ps.RLock()
	defer ps.RUnlock()

	return json.Marshal(ps.data)
}

// Restore implements rsvc.FSM.
func (ps *poolState) Restore(data []byte) error {
	pd := newPoolData()
	if err := json.Unmarshal(data, pd); err != nil {
		return errors.Wrap(err, "failed to decode pool state")
	}

	ps.Lock()
	defer ps.Unlock()

	ps.data = pd
	return nil
}

func decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "failed to decode pool update")
	}
	return nil
}

// Apply implements rsvc.FSM.
func (ps *poolState) Apply(op rsvc.Op, data []byte) error {
	ps.Lock()
	defer ps.Unlock()

	pd := ps.data
	if op != opInit && pd.Map == nil {
		return errors.Wrapf(daos.NotInit, "pool op %s", opName(op))
	}

	switch op {
	case opInit:
		return pd.init(data)
	case opConnect:
		return pd.connect(data)
	case opDisconnect:
		return pd.disconnect(data)
	case opEvict:
		return pd.evict(data)
	case opSetAttrs, opDelAttrs:
		return pd.updateAttrs(op, data)
	case opSetProps:
		return pd.setProps(data)
	case opSetACL:
		return pd.setACL(data)
	case opUpdateTargets:
		return pd.updateTargets(data)
	case opContCreate:
		return pd.contCreate(data)
	case opContDestroy:
		return pd.contDestroy(data)
	case opContOpen:
		return pd.contOpen(data)
	case opContClose:
		return pd.contClose(data)
	case opContSetProps:
		return pd.contSetProps(data)
	case opContSetACL:
		return pd.contSetACL(data)
	case opContSetAttrs, opContDelAttrs:
		return pd.contUpdateAttrs(op, data)
	case opContAllocOIDs:
		return pd.contAllocOIDs(data)
	case opContSnapCreate:
		return pd.contSnapCreate(data)
	case opContSnapDestroy:
		return pd.contSnapDestroy(data)
	case opContAggregate, opContRollback:
		return pd.contEpochOp(op, data)
	default:
		return errors.Wrapf(daos.InvalidInput, "unknown pool op %d", op)
	}
}

type (
	initReq struct {
		UUID  uuid.UUID               `json:"uuid"`
		Label string                  `json:"label"`
		Owner string                  `json:"owner"`
		Group string                  `json:"group"`
		Props json.RawMessage         `json:"props,omitempty"`
		ACL   *daos.AccessControlList `json:"acl"`
		Map   *Map                    `json:"map"`
		Time  time.Time               `json:"time"`
	}

	connectReq struct {
		Handle uuid.UUID            `json:"handle"`
		Flags  daos.PoolConnectFlag `json:"flags"`
		Cred   *security.Credential `json:"cred,omitempty"`
		Time   time.Time            `json:"time"`
	}

	handleReq struct {
		Handle uuid.UUID `json:"handle"`
	}

	attrReq struct {
		Cont   uuid.UUID            `json:"cont,omitempty"`
		Handle uuid.UUID            `json:"handle,omitempty"`
		Cred   *security.Credential `json:"cred,omitempty"`
		Attrs  map[string][]byte    `json:"attrs,omitempty"`
		Names  []string             `json:"names,omitempty"`
	}

	propReq struct {
		Cont  uuid.UUID            `json:"cont,omitempty"`
		Cred  *security.Credential `json:"cred,omitempty"`
		Props json.RawMessage      `json:"props"`
	}

	aclReq struct {
		Cont      uuid.UUID               `json:"cont,omitempty"`
		Cred      *security.Credential    `json:"cred,omitempty"`
		Mode      aclMode                 `json:"mode"`
		ACL       *daos.AccessControlList `json:"acl,omitempty"`
		Principal string                  `json:"principal,omitempty"`
	}

	targetsReq struct {
		Op      daos.PoolTargetOp `json:"op"`
		Rank    ranklist.Rank     `json:"rank"`
		Indexes []uint32          `json:"indexes,omitempty"`
	}

	contCreateReq struct {
		UUID  uuid.UUID               `json:"uuid"`
		Label string                  `json:"label,omitempty"`
		Cred  *security.Credential    `json:"cred,omitempty"`
		Props json.RawMessage         `json:"props,omitempty"`
		ACL   *daos.AccessControlList `json:"acl,omitempty"`
		Time  time.Time               `json:"time"`
	}

	contDestroyReq struct {
		UUID  uuid.UUID            `json:"uuid"`
		Cred  *security.Credential `json:"cred,omitempty"`
		Force bool                 `json:"force"`
	}

	contOpenReq struct {
		UUID   uuid.UUID              `json:"uuid"`
		Handle uuid.UUID              `json:"handle"`
		Flags  daos.ContainerOpenFlag `json:"flags"`
		Cred   *security.Credential   `json:"cred,omitempty"`
		Time   time.Time              `json:"time"`
	}

	contCloseReq struct {
		UUID      uuid.UUID `json:"uuid"`
		Handle    uuid.UUID `json:"handle"`
		Committed uint64    `json:"committed"`
		Time      time.Time `json:"time"`
	}

	allocReq struct {
		UUID   uuid.UUID `json:"uuid"`
		Expect uint64    `json:"expect"`
		Count  uint64    `json:"count"`
	}

	snapReq struct {
		UUID      uuid.UUID `json:"uuid"`
		Epoch     uint64    `json:"epoch"`
		Hi        uint64    `json:"hi,omitempty"`
		Name      string    `json:"name,omitempty"`
		Committed uint64    `json:"committed"`
	}

	epochReq struct {
		UUID  uuid.UUID `json:"uuid"`
		Epoch uint64    `json:"epoch"`
	}
)

func (pd *poolData) init(data []byte) error {
	var req initReq
	if err := decode(data, &req); err != nil {
		return err
	}
	if pd.Map != nil {
		return errors.Wrapf(daos.Exists, "pool %s already initialized", pd.UUID)
	}
	if req.Map == nil || len(req.Map.Targets) == 0 {
		return errors.Wrap(daos.InvalidInput, "pool map has no targets")
	}

	pd.UUID = req.UUID
	pd.Label = req.Label
	pd.Owner = req.Owner
	pd.Group = req.Group
	pd.Map = req.Map
	pd.Created = req.Time
	pd.ACL = req.ACL
	if pd.ACL == nil || pd.ACL.Empty() {
		pd.ACL = daos.DefaultPoolACL()
	}
	if len(req.Props) > 0 {
		if err := json.Unmarshal(req.Props, pd.Props); err != nil {
			return errors.Wrap(err, "pool properties")
		}
	}
	return nil
}

func (pd *poolData) connect(data []byte) error {
	var req connectReq
	if err := decode(data, &req); err != nil {
		return err
	}
	if _, found := pd.Handles[req.Handle]; found {
		return errors.Wrapf(daos.Exists, "pool handle %s", req.Handle)
	}

	if req.Cred != nil {
		perms := security.ACLPerms(pd.ACL, pd.Owner, pd.Group, req.Cred)
		if err := security.PoolCapabilities(perms, req.Flags); err != nil {
			return errors.Wrapf(err, "pool %s", pd.UUID)
		}
	}

	for _, h := range pd.Handles {
		if h.Flags&daos.PoolConnectFlagExclusive != 0 {
			return errors.Wrapf(daos.Busy, "pool %s is held exclusively", pd.UUID)
		}
	}
	if req.Flags&daos.PoolConnectFlagExclusive != 0 && len(pd.Handles) > 0 {
		return errors.Wrapf(daos.Busy, "pool %s has %d open handles", pd.UUID, len(pd.Handles))
	}

	pd.Handles[req.Handle] = &PoolHandle{
		Flags:     req.Flags,
		Cred:      req.Cred,
		Connected: req.Time,
	}
	return nil
}

func (pd *poolData) disconnect(data []byte) error {
	var req handleReq
	if err := decode(data, &req); err != nil {
		return err
	}
	if _, found := pd.Handles[req.Handle]; !found {
		return errors.Wrapf(daos.NoHandle, "pool handle %s", req.Handle)
	}
	delete(pd.Handles, req.Handle)
	return nil
}

// evict drops every pool handle along with the container handles opened
// through them.
func (pd *poolData) evict(data []byte) error {
	pd.Handles = make(map[uuid.UUID]*PoolHandle)
	for _, cr := range pd.Containers {
		cr.Handles = make(map[uuid.UUID]*ContHandle)
	}
	return nil
}

// checkPoolHandle verifies that the handle is connected, and writable if
// required. A nil handle is an administrative request.
func (pd *poolData) checkPoolHandle(hdl uuid.UUID, write bool) error {
	if hdl == uuid.Nil {
		return nil
	}
	h, found := pd.Handles[hdl]
	if !found {
		return errors.Wrapf(daos.NoHandle, "pool handle %s", hdl)
	}
	if write && !h.Flags.Writable() {
		return errors.Wrapf(daos.NoPermission, "pool handle %s is read-only", hdl)
	}
	return nil
}

func applyAttrs(attrs map[string][]byte, op rsvc.Op, req *attrReq) error {
	if op == opDelAttrs || op == opContDelAttrs {
		for _, name := range req.Names {
			delete(attrs, name)
		}
		return nil
	}

	for name, val := range req.Attrs {
		a := &daos.Attribute{Name: name, Value: val}
		if err := a.Validate(); err != nil {
			return err
		}
	}
	for name, val := range req.Attrs {
		attrs[name] = val
	}
	return nil
}

func (pd *poolData) updateAttrs(op rsvc.Op, data []byte) error {
	var req attrReq
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := pd.checkPoolHandle(req.Handle, true); err != nil {
		return err
	}
	return applyAttrs(pd.Attrs, op, &req)
}

// derivedProps are kept as record fields rather than in the property list.
var derivedProps = []string{"label", "owner", "group"}

func (pd *poolData) setProps(data []byte) error {
	var req propReq
	if err := decode(data, &req); err != nil {
		return err
	}
	props := daos.NewPoolPropertyList()
	if err := json.Unmarshal(req.Props, props); err != nil {
		return errors.Wrap(err, "pool properties")
	}
	for _, p := range props.Properties() {
		if p.ReadOnly {
			return errors.Wrapf(daos.InvalidInput, "property %q is read-only", p.Name)
		}
	}

	if s := props.Str("label", ""); s != "" {
		pd.Label = s
	}
	if s := props.Str("owner", ""); s != "" {
		pd.Owner = s
	}
	if s := props.Str("group", ""); s != "" {
		pd.Group = s
	}
	pd.Props.Merge(props)
	for _, name := range derivedProps {
		pd.Props.Delete(name)
	}
	return nil
}

func updateACL(acl *daos.AccessControlList, req *aclReq) (*daos.AccessControlList, error) {
	switch req.Mode {
	case aclOverwrite:
		if req.ACL == nil {
			return nil, errors.Wrap(daos.InvalidInput, "no ACL supplied")
		}
		if err := req.ACL.Validate(); err != nil {
			return nil, err
		}
		return req.ACL.Copy(), nil
	case aclUpdate:
		if req.ACL == nil {
			return nil, errors.Wrap(daos.InvalidInput, "no ACL supplied")
		}
		updated := acl.Copy()
		if err := updated.Merge(req.ACL); err != nil {
			return nil, err
		}
		if err := updated.Validate(); err != nil {
			return nil, err
		}
		return updated, nil
	case aclDelete:
		pt, name, err := daos.ParsePrincipal(req.Principal)
		if err != nil {
			return nil, err
		}
		updated := acl.Copy()
		if err := updated.Remove(pt, name); err != nil {
			return nil, err
		}
		return updated, nil
	default:
		return nil, errors.Wrapf(daos.InvalidInput, "unknown ACL mode %d", req.Mode)
	}
}

func (pd *poolData) setACL(data []byte) error {
	var req aclReq
	if err := decode(data, &req); err != nil {
		return err
	}
	acl, err := updateACL(pd.ACL, &req)
	if err != nil {
		return err
	}
	pd.ACL = acl
	return nil
}

func (pd *poolData) updateTargets(data []byte) error {
	var req targetsReq
	if err := decode(data, &req); err != nil {
		return err
	}
	return pd.Map.update(req.Op, req.Rank, req.Indexes)
}

func (pd *poolData) findContainer(id uuid.UUID) (*ContainerRecord, error) {
	cr, found := pd.Containers[id]
	if !found {
		return nil, errors.Wrapf(daos.Nonexistent, "container %s", id)
	}
	return cr, nil
}

// resolveContainer finds a container by UUID string or label.
func (pd *poolData) resolveContainer(id string) (*ContainerRecord, error) {
	if u, err := uuid.Parse(id); err == nil {
		return pd.findContainer(u)
	}
	for _, cr := range pd.Containers {
		if cr.Label == id {
			return cr, nil
		}
	}
	return nil, errors.Wrapf(daos.Nonexistent, "container %q", id)
}

func (pd *poolData) labelInUse(label string, except uuid.UUID) bool {
	for _, cr := range pd.Containers {
		if cr.UUID != except && cr.Label == label {
			return true
		}
	}
	return false
}

func (pd *poolData) poolPerms(cred *security.Credential) daos.ACLPerm {
	if cred == nil {
		return daos.ACLPermAll
	}
	return security.ACLPerms(pd.ACL, pd.Owner, pd.Group, cred)
}

func (cr *ContainerRecord) perms(cred *security.Credential) daos.ACLPerm {
	if cred == nil {
		return daos.ACLPermAll
	}
	return security.ACLPerms(cr.ACL, cr.Owner, cr.Group, cred)
}

func (pd *poolData) contCreate(data []byte) error {
	var req contCreateReq
	if err := decode(data, &req); err != nil {
		return err
	}

	// Pool write permission implies container create and delete.
	if perms := pd.poolPerms(req.Cred); perms&(daos.ACLPermCreateCont|daos.ACLPermWrite) == 0 {
		return errors.Wrapf(daos.NoPermission, "create container in pool %s", pd.UUID)
	}
	if _, found := pd.Containers[req.UUID]; found {
		return errors.Wrapf(daos.Exists, "container %s", req.UUID)
	}
	if req.Label != "" {
		if !daos.LabelIsValid(req.Label) {
			return errors.Wrapf(daos.InvalidInput, "invalid container label %q", req.Label)
		}
		if pd.labelInUse(req.Label, req.UUID) {
			return errors.Wrapf(daos.Exists, "container label %q", req.Label)
		}
	}

	cr := &ContainerRecord{
		UUID:            req.UUID,
		Label:           req.Label,
		Props:           daos.NewContainerPropertyList(),
		ACL:             req.ACL,
		Attrs:           make(map[string][]byte),
		Handles:         make(map[uuid.UUID]*ContHandle),
		SnapNames:       make(map[uint64]string),
		NextOID:         1,
		Created:         req.Time,
		CloseModifyTime: req.Time,
	}
	if len(req.Props) > 0 {
		if err := json.Unmarshal(req.Props, cr.Props); err != nil {
			return errors.Wrap(err, "container properties")
		}
	}
	cr.Owner = cr.Props.Str("owner", "")
	cr.Group = cr.Props.Str("group", "")
	if req.Cred != nil {
		if cr.Owner == "" {
			cr.Owner = req.Cred.User
		}
		if cr.Group == "" {
			cr.Group = req.Cred.Group
		}
	}
	for _, name := range derivedProps {
		cr.Props.Delete(name)
	}
	if cr.ACL == nil || cr.ACL.Empty() {
		cr.ACL = daos.DefaultContainerACL()
	}

	pd.Containers[cr.UUID] = cr
	return nil
}

func (pd *poolData) contDestroy(data []byte) error {
	var req contDestroyReq
	if err := decode(data, &req); err != nil {
		return err
	}
	cr, err := pd.findContainer(req.UUID)
	if err != nil {
		return err
	}

	poolPerms := pd.poolPerms(req.Cred)
	if poolPerms&(daos.ACLPermDelCont|daos.ACLPermWrite) == 0 &&
		cr.perms(req.Cred)&daos.ACLPermDelCont == 0 {
		return errors.Wrapf(daos.NoPermission, "destroy container %s", cr.UUID)
	}
	if len(cr.Handles) > 0 && !req.Force {
		return errors.Wrapf(daos.Busy, "container %s has %d open handles", cr.UUID, len(cr.Handles))
	}

	delete(pd.Containers, cr.UUID)
	return nil
}

func (pd *poolData) contOpen(data []byte) error {
	var req contOpenReq
	if err := decode(data, &req); err != nil {
		return err
	}
	cr, err := pd.findContainer(req.UUID)
	if err != nil {
		return err
	}
	if _, found := cr.Handles[req.Handle]; found {
		return errors.Wrapf(daos.Exists, "container handle %s", req.Handle)
	}

	if err := security.ContainerCapabilities(cr.perms(req.Cred), req.Flags); err != nil {
		return errors.Wrapf(err, "container %s", cr.UUID)
	}

	for _, h := range cr.Handles {
		if h.Flags&daos.ContainerOpenFlagExclusive != 0 {
			return errors.Wrapf(daos.Busy, "container %s is held exclusively", cr.UUID)
		}
	}
	if req.Flags&daos.ContainerOpenFlagExclusive != 0 && len(cr.Handles) > 0 {
		return errors.Wrapf(daos.Busy, "container %s has %d open handles", cr.UUID, len(cr.Handles))
	}

	cr.Handles[req.Handle] = &ContHandle{
		Flags:  req.Flags,
		Cred:   req.Cred,
		Opened: req.Time,
	}
	cr.OpenTime = req.Time
	return nil
}

func (cr *ContainerRecord) recordCommitted(epoch uint64) {
	if epoch > cr.Committed {
		cr.Committed = epoch
	}
}

func (pd *poolData) contClose(data []byte) error {
	var req contCloseReq
	if err := decode(data, &req); err != nil {
		return err
	}
	cr, err := pd.findContainer(req.UUID)
	if err != nil {
		return err
	}
	h, found := cr.Handles[req.Handle]
	if !found {
		return errors.Wrapf(daos.NoHandle, "container handle %s", req.Handle)
	}

	delete(cr.Handles, req.Handle)
	if h.Flags.Writable() {
		cr.CloseModifyTime = req.Time
	}
	cr.recordCommitted(req.Committed)
	return nil
}

func (pd *poolData) contSetProps(data []byte) error {
	var req propReq
	if err := decode(data, &req); err != nil {
		return err
	}
	cr, err := pd.findContainer(req.Cont)
	if err != nil {
		return err
	}
	props := daos.NewContainerPropertyList()
	if err := json.Unmarshal(req.Props, props); err != nil {
		return errors.Wrap(err, "container properties")
	}

	perms := cr.perms(req.Cred)
	for _, p := range props.Properties() {
		if p.ReadOnly {
			return errors.Wrapf(daos.InvalidInput, "property %q is read-only", p.Name)
		}
		want := daos.ACLPermSetProp
		if p.Name == "owner" || p.Name == "group" {
			want = daos.ACLPermSetOwner
		}
		if err := security.CheckPerm(perms, want); err != nil {
			return err
		}
	}
	if label := props.Str("label", ""); label != "" {
		if pd.labelInUse(label, cr.UUID) {
			return errors.Wrapf(daos.Exists, "container label %q", label)
		}
		cr.Label = label
	}
	if s := props.Str("owner", ""); s != "" {
		cr.Owner = s
	}
	if s := props.Str("group", ""); s != "" {
		cr.Group = s
	}
	cr.Props.Merge(props)
	for _, name := range derivedProps {
		cr.Props.Delete(name)
	}
	return nil
}

func (pd *poolData) contSetACL(data []byte) error {
	var req aclReq
	if err := decode(data, &req); err != nil {
		return err
	}
	cr, err := pd.findContainer(req.Cont)
	if err != nil {
		return err
	}
	if err := security.CheckPerm(cr.perms(req.Cred), daos.ACLPermSetACL); err != nil {
		return err
	}
	acl, err := updateACL(cr.ACL, &req)
	if err != nil {
		return err
	}
	cr.ACL = acl
	return nil
}

func (pd *poolData) contUpdateAttrs(op rsvc.Op, data []byte) error {
	var req attrReq
	if err := decode(data, &req); err != nil {
		return err
	}
	cr, err := pd.findContainer(req.Cont)
	if err != nil {
		return err
	}
	if err := security.CheckPerm(cr.perms(req.Cred), daos.ACLPermWrite); err != nil {
		return err
	}
	return applyAttrs(cr.Attrs, op, &req)
}

// contAllocOIDs reserves a range of object IDs. The caller supplies the
// counter value it read, so that an allocation computed against a stale
// leader is rejected instead of handing out a range twice.
func (pd *poolData) contAllocOIDs(data []byte) error {
	var req allocReq
	if err := decode(data, &req); err != nil {
		return err
	}
	cr, err := pd.findContainer(req.UUID)
	if err != nil {
		return err
	}
	if req.Count == 0 {
		return errors.Wrap(daos.InvalidInput, "zero object IDs requested")
	}
	if cr.NextOID != req.Expect {
		return errors.Wrapf(daos.TryAgain, "container %s OID counter moved", cr.UUID)
	}
	if cr.NextOID+req.Count < cr.NextOID {
		return errors.Wrapf(daos.NoSpace, "container %s OID space exhausted", cr.UUID)
	}
	cr.NextOID += req.Count
	return nil
}

func (pd *poolData) contSnapCreate(data []byte) error {
	var req snapReq
	if err := decode(data, &req); err != nil {
		return err
	}
	cr, err := pd.findContainer(req.UUID)
	if err != nil {
		return err
	}
	if req.Epoch == 0 {
		return errors.Wrap(daos.InvalidInput, "zero snapshot epoch")
	}

	if max := cr.Props.Number("max_snapshot", 0); max > 0 && uint64(len(cr.Snapshots)) >= max {
		return errors.Wrapf(daos.NoSpace, "container %s has %d snapshots", cr.UUID, len(cr.Snapshots))
	}
	idx := sort.Search(len(cr.Snapshots), func(i int) bool { return cr.Snapshots[i] >= req.Epoch })
	if idx < len(cr.Snapshots) && cr.Snapshots[idx] == req.Epoch {
		return errors.Wrapf(daos.Exists, "snapshot %d", req.Epoch)
	}
	if req.Name != "" {
		for _, name := range cr.SnapNames {
			if name == req.Name {
				return errors.Wrapf(daos.Exists, "snapshot %q", req.Name)
			}
		}
	}

	cr.Snapshots = append(cr.Snapshots, 0)
	copy(cr.Snapshots[idx+1:], cr.Snapshots[idx:])
	cr.Snapshots[idx] = req.Epoch
	if req.Name != "" {
		if cr.SnapNames == nil {
			cr.SnapNames = make(map[uint64]string)
		}
		cr.SnapNames[req.Epoch] = req.Name
	}
	cr.recordCommitted(req.Committed)
	return nil
}

func (pd *poolData) contSnapDestroy(data []byte) error {
	var req snapReq
	if err := decode(data, &req); err != nil {
		return err
	}
	cr, err := pd.findContainer(req.UUID)
	if err != nil {
		return err
	}

	hi := req.Hi
	if hi == 0 {
		hi = req.Epoch
	}
	kept := cr.Snapshots[:0]
	removed := 0
	for _, e := range cr.Snapshots {
		if e >= req.Epoch && e <= hi {
			delete(cr.SnapNames, e)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	cr.Snapshots = kept
	if removed == 0 {
		return errors.Wrapf(daos.Nonexistent, "no snapshot in [%d, %d]", req.Epoch, hi)
	}
	return nil
}

func (pd *poolData) contEpochOp(op rsvc.Op, data []byte) error {
	var req epochReq
	if err := decode(data, &req); err != nil {
		return err
	}
	cr, err := pd.findContainer(req.UUID)
	if err != nil {
		return err
	}

	if op == opContAggregate {
		if req.Epoch > cr.AggregatedTo {
			cr.AggregatedTo = req.Epoch
		}
		return nil
	}

	idx := sort.Search(len(cr.Snapshots), func(i int) bool { return cr.Snapshots[i] >= req.Epoch })
	if idx == len(cr.Snapshots) || cr.Snapshots[idx] != req.Epoch {
		return errors.Wrapf(daos.InvalidInput, "epoch %d is not a snapshot", req.Epoch)
	}
	for _, e := range cr.Snapshots[idx+1:] {
		delete(cr.SnapNames, e)
	}
	cr.Snapshots = cr.Snapshots[:idx+1]
	cr.RolledBackTo = req.Epoch
	cr.Committed = req.Epoch
	return nil
}
