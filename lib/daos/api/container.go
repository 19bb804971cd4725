//
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package api

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/pool"
)

type (
	// ContainerHandle is an opaque type used to represent a DAOS Container connection.
	// NB: A ContainerHandle contains the PoolHandle used to open the container.
	ContainerHandle struct {
		connHandle
		PoolHandle *PoolHandle
		flags      daos.ContainerOpenFlag
		// disconnects the pool if it was connected to open the container
		poolCleanup func()
	}

	// Snapshot is a persistent read-only view of a container.
	Snapshot = pool.Snapshot
)

const (
	contHandleKey ctxHdlKey = "contHandle"
)

// chFromCtx retrieves the ContainerHandle from the supplied context, if available.
func chFromCtx(ctx context.Context) (*ContainerHandle, error) {
	if ctx == nil {
		return nil, errNilCtx
	}

	ch, ok := ctx.Value(contHandleKey).(*ContainerHandle)
	if !ok {
		return nil, errNoCtxHdl
	}

	return ch, nil
}

// toCtx returns a new context with the ContainerHandle and its PoolHandle
// stashed in it.
// NB: Will panic if the context already has a different handle stashed.
func (ch *ContainerHandle) toCtx(ctx context.Context) context.Context {
	if ch == nil {
		return ctx
	}

	stashed, _ := chFromCtx(ctx)
	if stashed != nil {
		if stashed.UUID == ch.UUID {
			return ctx
		}
		panic("attempt to stash different ContainerHandle in context")
	}

	return context.WithValue(ch.PoolHandle.toCtx(ctx), contHandleKey, ch)
}

// IsValid returns true if the container handle and its pool handle are valid.
func (ch *ContainerHandle) IsValid() bool {
	if ch == nil {
		return false
	}
	return ch.connHandle.IsValid() && ch.PoolHandle.IsValid()
}

func (ch *ContainerHandle) String() string {
	if ch == nil {
		return "<nil>"
	}
	return ch.PoolHandle.String() + "/" + ch.connHandle.String()
}

// Flags returns the flags the container was opened with.
func (ch *ContainerHandle) Flags() daos.ContainerOpenFlag {
	return ch.flags
}

func (ch *ContainerHandle) svc() *pool.Service {
	return ch.PoolHandle.svc
}

func (ch *ContainerHandle) checkWritable() error {
	if !ch.IsValid() {
		return ErrInvalidContainerHandle
	}
	if !ch.flags.Writable() {
		return errors.Wrap(daos.NoPermission, "container handle is read-only")
	}
	return nil
}

// Close closes the container handle. The pool is disconnected as well if
// it was connected to open the container.
func (ch *ContainerHandle) Close(ctx context.Context) error {
	if !ch.IsValid() {
		return ErrInvalidContainerHandle
	}
	logging.FromContext(ctx).Debugf("ContainerHandle.Close(%s)", ch)

	if err := ch.svc().ContClose(ctx, ch.UUID, ch.hdl); err != nil {
		return errors.Wrap(err, "failed to close container")
	}
	ch.invalidate()

	if ch.poolCleanup != nil {
		ch.poolCleanup()
		ch.poolCleanup = nil
	}
	return nil
}

type (
	// ContainerCreateReq defines the parameters for a container create request.
	ContainerCreateReq struct {
		Label      string
		UUID       uuid.UUID
		Properties *daos.PropertyList
		ACL        *daos.AccessControlList
	}
)

// CreateContainer is a convenience wrapper around the ContainerCreate() function.
func (ph *PoolHandle) CreateContainer(ctx context.Context, req ContainerCreateReq) (*daos.ContainerInfo, error) {
	if !ph.IsValid() {
		return nil, ErrInvalidPoolHandle
	}
	return ContainerCreate(ph.toCtx(ctx), "", "", req)
}

// ContainerCreate creates a container in the pool and returns its information.
func ContainerCreate(ctx context.Context, sysName, poolID string, req ContainerCreateReq) (*daos.ContainerInfo, error) {
	poolConn, disconnect, err := getPoolConn(ctx, sysName, poolID, daos.PoolConnectFlagReadWrite)
	if err != nil {
		return nil, err
	}
	defer disconnect()
	logging.FromContext(ctx).Debugf("ContainerCreate(%s:%+v)", poolConn, req)

	if err := poolConn.checkWritable(); err != nil {
		return nil, err
	}

	if req.Label != "" && !daos.LabelIsValid(req.Label) {
		return nil, errors.Wrapf(daos.InvalidInput, "invalid container label %q", req.Label)
	}

	id, err := poolConn.svc.ContCreate(ctx, poolConn.cred, &pool.ContCreateReq{
		UUID:  req.UUID,
		Label: req.Label,
		Props: req.Properties,
		ACL:   req.ACL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create container")
	}

	return poolConn.svc.ContQuery(ctx, id.String())
}

// DestroyContainer is a convenience wrapper around the ContainerDestroy() function.
func (ph *PoolHandle) DestroyContainer(ctx context.Context, contID string, force bool) error {
	if !ph.IsValid() {
		return ErrInvalidPoolHandle
	}
	return ContainerDestroy(ph.toCtx(ctx), "", "", contID, force)
}

// ContainerDestroy destroys the specified container. Setting the force flag
// to true will destroy the container even if it has open handles.
func ContainerDestroy(ctx context.Context, sysName, poolID string, contID string, force bool) error {
	poolConn, disconnect, err := getPoolConn(ctx, sysName, poolID, daos.PoolConnectFlagReadWrite)
	if err != nil {
		return err
	}
	defer disconnect()
	logging.FromContext(ctx).Debugf("ContainerDestroy(%s:%s:%t)", poolConn, contID, force)

	if err := poolConn.checkWritable(); err != nil {
		return err
	}

	if contID == "" {
		return errors.Wrap(daos.InvalidInput, "no container ID provided")
	}

	if err := poolConn.svc.ContDestroy(ctx, poolConn.cred, contID, force); err != nil {
		return errors.Wrap(err, "failed to destroy container")
	}
	return nil
}

type (
	// ContainerOpenReq defines the parameters for a container open request.
	ContainerOpenReq struct {
		ID      string
		Flags   daos.ContainerOpenFlag
		Query   bool
		SysName string
		PoolID  string
	}

	// ContainerOpenResp contains the response to a container open request.
	ContainerOpenResp struct {
		Connection *ContainerHandle
		Info       *daos.ContainerInfo
	}
)

// OpenContainer is a convenience wrapper around the ContainerOpen() function.
func (ph *PoolHandle) OpenContainer(ctx context.Context, req ContainerOpenReq) (*ContainerOpenResp, error) {
	if !ph.IsValid() {
		return nil, ErrInvalidPoolHandle
	}
	req.SysName = ""
	req.PoolID = ""
	return ContainerOpen(ph.toCtx(ctx), req)
}

// ContainerOpen opens the container specified in the open request.
// NB: The caller is responsible for closing the container handle.
func ContainerOpen(ctx context.Context, req ContainerOpenReq) (*ContainerOpenResp, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	logging.FromContext(ctx).Debugf("ContainerOpen(%+v)", req)

	if _, err := chFromCtx(ctx); err == nil {
		return nil, ErrContextHandleConflict
	}
	if req.ID == "" {
		return nil, errors.Wrap(daos.InvalidInput, "no container ID provided")
	}
	if req.Flags == 0 {
		req.Flags = daos.ContainerOpenFlagReadOnly
	}

	poolFlags := daos.PoolConnectFlagReadOnly
	if req.Flags.Writable() {
		poolFlags = daos.PoolConnectFlagReadWrite
	}
	poolConn, disconnect, err := getPoolConn(ctx, req.SysName, req.PoolID, poolFlags)
	if err != nil {
		return nil, err
	}

	contConn, info, err := openContainer(ctx, poolConn, req.ID, req.Flags)
	if err != nil {
		disconnect()
		return nil, err
	}
	contConn.poolCleanup = disconnect

	resp := &ContainerOpenResp{Connection: contConn}
	if req.Query {
		resp.Info = info
	}
	return resp, nil
}

func openContainer(ctx context.Context, poolConn *PoolHandle, contID string, flags daos.ContainerOpenFlag) (*ContainerHandle, *daos.ContainerInfo, error) {
	if contID == "" {
		return nil, nil, errors.Wrap(daos.InvalidInput, "no container ID provided")
	}
	if flags.Writable() && !poolConn.flags.Writable() {
		return nil, nil, errors.Wrap(daos.NoPermission, "read-write container open through read-only pool handle")
	}

	id, err := poolConn.svc.ResolveContainer(ctx, contID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open container")
	}

	contConn := &ContainerHandle{
		connHandle: newConnHandle(id, ""),
		PoolHandle: poolConn,
		flags:      flags,
	}
	info, err := poolConn.svc.ContOpen(ctx, poolConn.cred, id.String(), contConn.hdl, flags)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open container")
	}
	contConn.Label = info.ContainerLabel
	if contConn.Label == "" {
		contConn.Label = MissingContainerLabel
	}

	logging.FromContext(ctx).Debugf("Opened Container %s", contConn)
	return contConn, info, nil
}

// getContConn retrieves the ContainerHandle set in the context, if available,
// or tries to open the specified container.
func getContConn(ctx context.Context, sysName, poolID, contID string, flags daos.ContainerOpenFlag) (*ContainerHandle, func(), error) {
	nulCleanup := func() {}
	if ctx == nil {
		return nil, nulCleanup, errNilCtx
	}

	if ch, err := chFromCtx(ctx); err == nil {
		if contID != "" {
			return nil, nulCleanup, errors.Wrap(daos.InvalidInput, "ContainerHandle found in context with non-empty contID")
		}
		if !ch.IsValid() {
			return nil, nulCleanup, ErrInvalidContainerHandle
		}
		return ch, nulCleanup, nil
	}

	if contID == "" {
		if _, err := phFromCtx(ctx); err == nil {
			return nil, nulCleanup, errors.Wrap(daos.InvalidInput, "no container ID provided")
		}
		if poolID == "" {
			return nil, nulCleanup, errors.Wrap(daos.InvalidInput, "no pool ID provided")
		}
		return nil, nulCleanup, errors.Wrap(daos.InvalidInput, "no container ID provided")
	}

	resp, err := ContainerOpen(ctx, ContainerOpenReq{
		ID:      contID,
		Flags:   flags,
		SysName: sysName,
		PoolID:  poolID,
	})
	if err != nil {
		return nil, nulCleanup, err
	}

	cleanup := func() {
		if err := resp.Connection.Close(ctx); err != nil {
			logging.FromContext(ctx).Error(err.Error())
		}
	}
	return resp.Connection, cleanup, nil
}

// Query is a convenience wrapper around the ContainerQuery() function.
func (ch *ContainerHandle) Query(ctx context.Context) (*daos.ContainerInfo, error) {
	if !ch.IsValid() {
		return nil, ErrInvalidContainerHandle
	}
	return ContainerQuery(ch.toCtx(ctx), "", "", "")
}

// ContainerQuery queries the specified container and returns its information.
func ContainerQuery(ctx context.Context, sysName, poolID, contID string) (*daos.ContainerInfo, error) {
	contConn, cleanup, err := getContConn(ctx, sysName, poolID, contID, daos.ContainerOpenFlagReadOnly)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	logging.FromContext(ctx).Debugf("ContainerQuery(%s)", contConn)

	info, err := contConn.svc().ContQuery(ctx, contConn.UUID.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query container")
	}
	if rt, err := contConn.svc().ContEpoch(contConn.UUID); err == nil && rt > info.CommittedEpoch {
		info.CommittedEpoch = rt
	}
	return info, nil
}

// ListAttributes is a convenience wrapper around the ContainerListAttributes() function.
func (ch *ContainerHandle) ListAttributes(ctx context.Context) ([]string, error) {
	if !ch.IsValid() {
		return nil, ErrInvalidContainerHandle
	}
	return ContainerListAttributes(ch.toCtx(ctx), "", "", "")
}

// ContainerListAttributes returns a list of user-definable container attribute names.
func ContainerListAttributes(ctx context.Context, sysName, poolID, contID string) ([]string, error) {
	contConn, cleanup, err := getContConn(ctx, sysName, poolID, contID, daos.ContainerOpenFlagReadOnly)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	logging.FromContext(ctx).Debugf("ContainerListAttributes(%s)", contConn)

	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}

	return contConn.svc().ContListAttrs(ctx, contConn.UUID)
}

// GetAttributes is a convenience wrapper around the ContainerGetAttributes() function.
func (ch *ContainerHandle) GetAttributes(ctx context.Context, attrNames ...string) (daos.AttributeList, error) {
	if !ch.IsValid() {
		return nil, ErrInvalidContainerHandle
	}
	return ContainerGetAttributes(ch.toCtx(ctx), "", "", "", attrNames...)
}

// ContainerGetAttributes fetches the specified container attributes. If no
// attribute names are provided, all attributes are fetched.
func ContainerGetAttributes(ctx context.Context, sysName, poolID, contID string, names ...string) (daos.AttributeList, error) {
	contConn, cleanup, err := getContConn(ctx, sysName, poolID, contID, daos.ContainerOpenFlagReadOnly)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	logging.FromContext(ctx).Debugf("ContainerGetAttributes(%s:%v)", contConn, names)

	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}

	return contConn.svc().ContGetAttrs(ctx, contConn.UUID, names...)
}

// SetAttributes is a convenience wrapper around the ContainerSetAttributes() function.
func (ch *ContainerHandle) SetAttributes(ctx context.Context, attrs ...*daos.Attribute) error {
	if !ch.IsValid() {
		return ErrInvalidContainerHandle
	}
	return ContainerSetAttributes(ch.toCtx(ctx), "", "", "", attrs...)
}

// ContainerSetAttributes sets the specified container attributes.
func ContainerSetAttributes(ctx context.Context, sysName, poolID, contID string, attrs ...*daos.Attribute) error {
	contConn, cleanup, err := getContConn(ctx, sysName, poolID, contID, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()
	logging.FromContext(ctx).Debugf("ContainerSetAttributes(%s:%v)", contConn, attrs)

	if err := contConn.checkWritable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return ctxErr(err)
	}

	return contConn.svc().ContSetAttrs(ctx, contConn.PoolHandle.cred, contConn.UUID, daos.AttributeList(attrs))
}

// DeleteAttributes is a convenience wrapper around the ContainerDeleteAttributes() function.
func (ch *ContainerHandle) DeleteAttributes(ctx context.Context, attrNames ...string) error {
	if !ch.IsValid() {
		return ErrInvalidContainerHandle
	}
	return ContainerDeleteAttributes(ch.toCtx(ctx), "", "", "", attrNames...)
}

// ContainerDeleteAttributes deletes the specified container attributes.
func ContainerDeleteAttributes(ctx context.Context, sysName, poolID, contID string, attrNames ...string) error {
	contConn, cleanup, err := getContConn(ctx, sysName, poolID, contID, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()
	logging.FromContext(ctx).Debugf("ContainerDeleteAttributes(%s:%+v)", contConn, attrNames)

	if err := contConn.checkWritable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return ctxErr(err)
	}

	return contConn.svc().ContDelAttrs(ctx, contConn.PoolHandle.cred, contConn.UUID, attrNames...)
}

// GetProperties is a convenience wrapper around the ContainerGetProperties() function.
func (ch *ContainerHandle) GetProperties(ctx context.Context, propNames ...string) (*daos.PropertyList, error) {
	if !ch.IsValid() {
		return nil, ErrInvalidContainerHandle
	}
	return ContainerGetProperties(ch.toCtx(ctx), "", "", "", propNames...)
}

// ContainerGetProperties fetches the named container properties, or all
// properties that are set if none are named.
func ContainerGetProperties(ctx context.Context, sysName, poolID, contID string, propNames ...string) (*daos.PropertyList, error) {
	contConn, cleanup, err := getContConn(ctx, sysName, poolID, contID, daos.ContainerOpenFlagReadOnly)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	logging.FromContext(ctx).Debugf("ContainerGetProperties(%s:%v)", contConn, propNames)

	return contConn.svc().ContGetProps(ctx, contConn.UUID, propNames...)
}

// SetProperties is a convenience wrapper around the ContainerSetProperties() function.
func (ch *ContainerHandle) SetProperties(ctx context.Context, props *daos.PropertyList) error {
	if !ch.IsValid() {
		return ErrInvalidContainerHandle
	}
	return ContainerSetProperties(ch.toCtx(ctx), "", "", "", props)
}

// ContainerSetProperties updates the container properties.
func ContainerSetProperties(ctx context.Context, sysName, poolID, contID string, props *daos.PropertyList) error {
	contConn, cleanup, err := getContConn(ctx, sysName, poolID, contID, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()
	logging.FromContext(ctx).Debugf("ContainerSetProperties(%s:%s)", contConn, props)

	if err := contConn.checkWritable(); err != nil {
		return err
	}
	if err := contConn.svc().ContSetProps(ctx, contConn.PoolHandle.cred, contConn.UUID, props); err != nil {
		return err
	}

	if label := props.Str("label", ""); label != "" {
		contConn.Label = label
	}
	return nil
}

// GetACL returns the container ACL along with the owner principals.
func (ch *ContainerHandle) GetACL(ctx context.Context) (*ACLResp, error) {
	if !ch.IsValid() {
		return nil, ErrInvalidContainerHandle
	}
	logging.FromContext(ctx).Debugf("ContainerHandle.GetACL(%s)", ch)

	acl, owner, group, err := ch.svc().ContGetACL(ctx, ch.PoolHandle.cred, ch.UUID)
	if err != nil {
		return nil, err
	}
	return &ACLResp{ACL: acl, Owner: owner, OwnerGroup: group}, nil
}

// OverwriteACL replaces the container ACL.
func (ch *ContainerHandle) OverwriteACL(ctx context.Context, acl *daos.AccessControlList) error {
	if err := ch.checkWritable(); err != nil {
		return err
	}
	logging.FromContext(ctx).Debugf("ContainerHandle.OverwriteACL(%s:%s)", ch, acl)

	return ch.svc().ContOverwriteACL(ctx, ch.PoolHandle.cred, ch.UUID, acl)
}

// UpdateACL adds or replaces entries of the container ACL.
func (ch *ContainerHandle) UpdateACL(ctx context.Context, acl *daos.AccessControlList) error {
	if err := ch.checkWritable(); err != nil {
		return err
	}
	logging.FromContext(ctx).Debugf("ContainerHandle.UpdateACL(%s:%s)", ch, acl)

	return ch.svc().ContUpdateACL(ctx, ch.PoolHandle.cred, ch.UUID, acl)
}

// DeleteACL removes the entry of the principal from the container ACL.
func (ch *ContainerHandle) DeleteACL(ctx context.Context, principal string) error {
	if err := ch.checkWritable(); err != nil {
		return err
	}
	logging.FromContext(ctx).Debugf("ContainerHandle.DeleteACL(%s:%s)", ch, principal)

	return ch.svc().ContDeleteACL(ctx, ch.PoolHandle.cred, ch.UUID, principal)
}

// AllocOIDs reserves a range of num object IDs unique within the container
// and returns the first of them.
func (ch *ContainerHandle) AllocOIDs(ctx context.Context, num uint64) (uint64, error) {
	if err := ch.checkWritable(); err != nil {
		return 0, err
	}
	if num == 0 {
		return 0, errors.Wrap(daos.InvalidInput, "zero object IDs requested")
	}

	return ch.svc().ContAllocOIDs(ctx, ch.UUID, num)
}

// CreateSnapshot creates a snapshot of the container and returns its epoch.
func (ch *ContainerHandle) CreateSnapshot(ctx context.Context, name string) (daos.Epoch, error) {
	if err := ch.checkWritable(); err != nil {
		return 0, err
	}
	logging.FromContext(ctx).Debugf("ContainerHandle.CreateSnapshot(%s:%q)", ch, name)

	return ch.svc().ContCreateSnap(ctx, ch.UUID, name)
}

// ListSnapshots returns the container snapshots in epoch order.
func (ch *ContainerHandle) ListSnapshots(ctx context.Context) ([]*Snapshot, error) {
	if !ch.IsValid() {
		return nil, ErrInvalidContainerHandle
	}

	return ch.svc().ContListSnaps(ctx, ch.UUID)
}

// DestroySnapshot destroys every snapshot in the epoch range. A range with
// no upper bound destroys the snapshot at the lower bound only.
func (ch *ContainerHandle) DestroySnapshot(ctx context.Context, er daos.EpochRange) error {
	if err := ch.checkWritable(); err != nil {
		return err
	}
	logging.FromContext(ctx).Debugf("ContainerHandle.DestroySnapshot(%s:%d-%d)", ch, er.Lo, er.Hi)

	return ch.svc().ContDestroySnap(ctx, ch.UUID, er)
}

// Aggregate discards versions that are not visible at the epoch or at
// any snapshot. A zero epoch aggregates up to the last committed epoch.
func (ch *ContainerHandle) Aggregate(ctx context.Context, epoch daos.Epoch) error {
	if err := ch.checkWritable(); err != nil {
		return err
	}
	logging.FromContext(ctx).Debugf("ContainerHandle.Aggregate(%s:%d)", ch, epoch)

	return ch.svc().ContAggregate(ctx, ch.UUID, epoch)
}

// Rollback discards every update committed after the snapshot epoch.
func (ch *ContainerHandle) Rollback(ctx context.Context, epoch daos.Epoch) error {
	if err := ch.checkWritable(); err != nil {
		return err
	}
	logging.FromContext(ctx).Debugf("ContainerHandle.Rollback(%s:%d)", ch, epoch)

	return ch.svc().ContRollback(ctx, ch.UUID, epoch)
}

// Subscribe blocks until an epoch above the supplied one has been committed
// and returns the committed epoch.
func (ch *ContainerHandle) Subscribe(ctx context.Context, epoch daos.Epoch) (daos.Epoch, error) {
	if !ch.IsValid() {
		return 0, ErrInvalidContainerHandle
	}

	return ch.svc().ContSubscribe(ctx, ch.UUID, epoch)
}

// ListObjects returns up to max IDs of objects with data visible through
// the tx, resuming from the anchor.
func (ch *ContainerHandle) ListObjects(ctx context.Context, tx *Tx, anchor *daos.Anchor, max int) ([]daos.ObjectID, error) {
	if !ch.IsValid() {
		return nil, ErrInvalidContainerHandle
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, errors.Wrap(daos.InvalidInput, "nil anchor")
	}

	epoch, err := tx.readEpoch(ch)
	if err != nil {
		return nil, err
	}
	return ch.svc().ListObjects(ch.UUID, epoch, anchor, max)
}
