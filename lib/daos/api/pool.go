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
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/pool"
	"github.com/daos-stack/dsr/security"
	"github.com/daos-stack/dsr/system"
)

type (
	// PoolHandle is an opaque type used to represent a DAOS Pool connection.
	PoolHandle struct {
		connHandle
		sys   *system.System
		svc   *pool.Service
		cred  *security.Credential
		flags daos.PoolConnectFlag
	}

	// ACLResp contains an ACL along with the owner principals.
	ACLResp struct {
		ACL        *daos.AccessControlList `json:"acl"`
		Owner      string                  `json:"owner_user"`
		OwnerGroup string                  `json:"owner_group"`
	}
)

const (
	poolHandleKey ctxHdlKey = "poolHandle"
)

// phFromContext retrieves the PoolHandle from the supplied context, if available.
func phFromCtx(ctx context.Context) (*PoolHandle, error) {
	if ctx == nil {
		return nil, errNilCtx
	}

	ph, ok := ctx.Value(poolHandleKey).(*PoolHandle)
	if !ok {
		return nil, errNoCtxHdl
	}

	return ph, nil
}

// IsValid returns true if the pool handle is valid.
func (ph *PoolHandle) IsValid() bool {
	if ph == nil {
		return false
	}
	return ph.connHandle.IsValid()
}

// toCtx returns a new context with the PoolHandle stashed in it.
// NB: Will panic if the context already has a different PoolHandle stashed.
func (ph *PoolHandle) toCtx(ctx context.Context) context.Context {
	if ph == nil {
		return ctx
	}

	stashed, _ := phFromCtx(ctx)
	if stashed != nil {
		if stashed.UUID() == ph.UUID() {
			return ctx
		}
		panic("attempt to stash different PoolHandle in context")
	}

	return context.WithValue(ctx, poolHandleKey, ph)
}

// Disconnect signals that the client no longer needs the DAOS pool
// connection and that it is safe to release resources allocated for
// the connection.
func (ph *PoolHandle) Disconnect(ctx context.Context) error {
	if !ph.IsValid() {
		return ErrInvalidPoolHandle
	}
	logging.FromContext(ctx).Debugf("PoolHandle.Disconnect(%s)", ph)

	if err := ph.svc.Disconnect(ctx, ph.hdl); err != nil {
		return errors.Wrap(err, "failed to disconnect from pool")
	}
	ph.invalidate()

	return nil
}

// UUID returns the DAOS pool's UUID.
func (ph *PoolHandle) UUID() uuid.UUID {
	if ph == nil {
		return uuid.Nil
	}
	return ph.connHandle.UUID
}

// Flags returns the flags the pool was connected with.
func (ph *PoolHandle) Flags() daos.PoolConnectFlag {
	return ph.flags
}

type (
	// PoolConnectReq defines the parameters for a PoolConnect request.
	PoolConnectReq struct {
		SysName string
		ID      string
		Flags   daos.PoolConnectFlag
		Query   bool
		// Cred overrides the credential of the calling process.
		Cred *security.Credential
	}

	// PoolConnectResp contains the response to a PoolConnect request.
	PoolConnectResp struct {
		Connection *PoolHandle
		Info       *daos.PoolInfo
	}
)

// PoolConnect establishes a connection to the specified DAOS pool.
// NB: The caller is responsible for disconnecting from the pool when
// finished.
func PoolConnect(ctx context.Context, req PoolConnectReq) (*PoolConnectResp, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	logging.FromContext(ctx).Debugf("PoolConnect(%+v)", req)

	if _, err := phFromCtx(ctx); err == nil {
		return nil, ErrContextHandleConflict
	}

	if req.ID == "" {
		return nil, errors.Wrap(daos.InvalidInput, "no pool ID provided")
	}
	if req.Flags == 0 {
		req.Flags = daos.PoolConnectFlagReadOnly
	}

	sys, err := getSystem(req.SysName)
	if err != nil {
		return nil, err
	}
	svc, err := sys.PoolResolve(ctx, req.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to pool")
	}

	cred := req.Cred
	if cred == nil {
		if cred, err = security.CurrentCredential(); err != nil {
			return nil, security.FaultNoCredential(err)
		}
	}

	label, err := svc.Label(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to pool")
	}
	if label == "" {
		label = MissingPoolLabel
	}

	poolConn := &PoolHandle{
		connHandle: newConnHandle(svc.UUID, label),
		sys:        sys,
		svc:        svc,
		cred:       cred,
		flags:      req.Flags,
	}
	if err := svc.Connect(ctx, poolConn.hdl, cred, req.Flags); err != nil {
		return nil, errors.Wrap(err, "failed to connect to pool")
	}

	poolInfo := &daos.PoolInfo{
		UUID:  svc.UUID,
		Label: label,
		State: daos.PoolServiceStateReady,
	}
	if req.Query {
		qpi, err := svc.Query(ctx, daos.DefaultPoolQueryMask)
		if err != nil {
			if dcErr := poolConn.Disconnect(ctx); dcErr != nil {
				logging.FromContext(ctx).Error(dcErr.Error())
			}
			return nil, errors.Wrap(err, "failed to query pool")
		}
		poolInfo = qpi
	}

	logging.FromContext(ctx).Debugf("Connected to Pool %s", poolConn)
	return &PoolConnectResp{
		Connection: poolConn,
		Info:       poolInfo,
	}, nil
}

// getPoolConn retrieves the PoolHandle set in the context, if available,
// or tries to establish a new connection to the specified pool.
func getPoolConn(ctx context.Context, sysName, poolID string, flags daos.PoolConnectFlag) (*PoolHandle, func(), error) {
	nulCleanup := func() {}
	if ctx == nil {
		return nil, nulCleanup, errNilCtx
	}
	ph, err := phFromCtx(ctx)
	if err == nil {
		if poolID != "" {
			return nil, nulCleanup, errors.Wrap(daos.InvalidInput, "PoolHandle found in context with non-empty poolID")
		}
		if !ph.IsValid() {
			return nil, nulCleanup, ErrInvalidPoolHandle
		}
		// the handle may have been evicted
		if err := ph.svc.CheckHandle(ctx, ph.hdl); err != nil {
			return nil, nulCleanup, err
		}
		return ph, nulCleanup, nil
	}

	resp, err := PoolConnect(ctx, PoolConnectReq{
		ID:      poolID,
		SysName: sysName,
		Flags:   flags,
		Query:   false,
	})
	if err != nil {
		return nil, nulCleanup, err
	}

	cleanup := func() {
		if err := resp.Connection.Disconnect(ctx); err != nil {
			logging.FromContext(ctx).Error(err.Error())
		}
	}
	return resp.Connection, cleanup, nil
}

// Query is a convenience wrapper around the PoolQuery() function.
func (ph *PoolHandle) Query(ctx context.Context, mask daos.PoolQueryMask) (*daos.PoolInfo, error) {
	if !ph.IsValid() {
		return nil, ErrInvalidPoolHandle
	}
	return PoolQuery(ph.toCtx(ctx), "", "", mask)
}

// PoolQuery retrieves information about the DAOS Pool, including health and rebuild status,
// storage usage, and other details.
func PoolQuery(ctx context.Context, sysName, poolID string, queryMask daos.PoolQueryMask) (*daos.PoolInfo, error) {
	if queryMask == 0 {
		queryMask = daos.DefaultPoolQueryMask
	}
	poolConn, disconnect, err := getPoolConn(ctx, sysName, poolID, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return nil, err
	}
	defer disconnect()
	logging.FromContext(ctx).Debugf("PoolQuery(%s:%s)", poolConn, queryMask)

	poolInfo, err := poolConn.svc.Query(ctx, queryMask)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query pool")
	}
	return poolInfo, nil
}

// QueryTargets is a convenience wrapper around the PoolQueryTargets() function.
func (ph *PoolHandle) QueryTargets(ctx context.Context, rank ranklist.Rank, targets *ranklist.RankSet) ([]*daos.PoolQueryTargetInfo, error) {
	if !ph.IsValid() {
		return nil, ErrInvalidPoolHandle
	}
	return PoolQueryTargets(ph.toCtx(ctx), "", "", rank, targets)
}

// PoolQueryTargets retrieves information about storage targets in the DAOS Pool.
// All targets of the rank are queried if none are specified.
func PoolQueryTargets(ctx context.Context, sysName, poolID string, rank ranklist.Rank, reqTargets *ranklist.RankSet) ([]*daos.PoolQueryTargetInfo, error) {
	targets := ranklist.NewRankSet()
	targets.Replace(reqTargets)

	poolConn, disconnect, err := getPoolConn(ctx, sysName, poolID, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return nil, err
	}
	defer disconnect()
	logging.FromContext(ctx).Debugf("PoolQueryTargets(%s:%d:[%s])", poolConn, rank, targets)

	idxs := make([]uint32, 0, targets.Count())
	for _, tgt := range targets.Ranks() {
		idxs = append(idxs, tgt.Uint32())
	}

	infos, err := poolConn.svc.QueryTargets(ctx, rank, idxs...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query pool %s rank %d targets", poolConn, rank)
	}
	return infos, nil
}

// ListAttributes is a convenience wrapper around the PoolListAttributes() function.
func (ph *PoolHandle) ListAttributes(ctx context.Context) ([]string, error) {
	if !ph.IsValid() {
		return nil, ErrInvalidPoolHandle
	}
	return PoolListAttributes(ph.toCtx(ctx), "", "")
}

// PoolListAttributes returns a list of user-definable pool attribute names.
func PoolListAttributes(ctx context.Context, sysName, poolID string) ([]string, error) {
	poolConn, disconnect, err := getPoolConn(ctx, sysName, poolID, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return nil, err
	}
	defer disconnect()
	logging.FromContext(ctx).Debugf("PoolListAttributes(%s)", poolConn)

	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}

	return poolConn.svc.ListAttrs(ctx)
}

// GetAttributes is a convenience wrapper around the PoolGetAttributes() function.
func (ph *PoolHandle) GetAttributes(ctx context.Context, attrNames ...string) (daos.AttributeList, error) {
	if !ph.IsValid() {
		return nil, ErrInvalidPoolHandle
	}
	return PoolGetAttributes(ph.toCtx(ctx), "", "", attrNames...)
}

// PoolGetAttributes fetches the specified pool attributes. If no
// attribute names are provided, all attributes are fetched.
func PoolGetAttributes(ctx context.Context, sysName, poolID string, names ...string) (daos.AttributeList, error) {
	poolConn, disconnect, err := getPoolConn(ctx, sysName, poolID, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return nil, err
	}
	defer disconnect()
	logging.FromContext(ctx).Debugf("PoolGetAttributes(%s:%v)", poolConn, names)

	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}

	return poolConn.svc.GetAttrs(ctx, names...)
}

// SetAttributes is a convenience wrapper around the PoolSetAttributes() function.
func (ph *PoolHandle) SetAttributes(ctx context.Context, attrs ...*daos.Attribute) error {
	if !ph.IsValid() {
		return ErrInvalidPoolHandle
	}
	return PoolSetAttributes(ph.toCtx(ctx), "", "", attrs...)
}

// PoolSetAttributes sets the specified pool attributes.
func PoolSetAttributes(ctx context.Context, sysName, poolID string, attrs ...*daos.Attribute) error {
	poolConn, disconnect, err := getPoolConn(ctx, sysName, poolID, daos.PoolConnectFlagReadWrite)
	if err != nil {
		return err
	}
	defer disconnect()
	logging.FromContext(ctx).Debugf("PoolSetAttributes(%s:%v)", poolConn, attrs)

	if err := ctx.Err(); err != nil {
		return ctxErr(err)
	}

	return poolConn.svc.SetAttrs(ctx, poolConn.hdl, daos.AttributeList(attrs))
}

// DeleteAttributes is a convenience wrapper around the PoolDeleteAttributes() function.
func (ph *PoolHandle) DeleteAttributes(ctx context.Context, attrNames ...string) error {
	if !ph.IsValid() {
		return ErrInvalidPoolHandle
	}
	return PoolDeleteAttributes(ph.toCtx(ctx), "", "", attrNames...)
}

// PoolDeleteAttributes deletes the specified pool attributes.
func PoolDeleteAttributes(ctx context.Context, sysName, poolID string, attrNames ...string) error {
	poolConn, disconnect, err := getPoolConn(ctx, sysName, poolID, daos.PoolConnectFlagReadWrite)
	if err != nil {
		return err
	}
	defer disconnect()
	logging.FromContext(ctx).Debugf("PoolDeleteAttributes(%s:%+v)", poolConn, attrNames)

	if err := ctx.Err(); err != nil {
		return ctxErr(err)
	}

	return poolConn.svc.DelAttrs(ctx, poolConn.hdl, attrNames...)
}

// GetProperties is a convenience wrapper around the PoolGetProperties() function.
func (ph *PoolHandle) GetProperties(ctx context.Context, propNames ...string) (*daos.PropertyList, error) {
	if !ph.IsValid() {
		return nil, ErrInvalidPoolHandle
	}
	return PoolGetProperties(ph.toCtx(ctx), "", "", propNames...)
}

// PoolGetProperties fetches the named pool properties, or all properties
// that are set if none are named.
func PoolGetProperties(ctx context.Context, sysName, poolID string, propNames ...string) (*daos.PropertyList, error) {
	poolConn, disconnect, err := getPoolConn(ctx, sysName, poolID, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return nil, err
	}
	defer disconnect()
	logging.FromContext(ctx).Debugf("PoolGetProperties(%s:%v)", poolConn, propNames)

	return poolConn.svc.GetProps(ctx, propNames...)
}

// SetProperties is a convenience wrapper around the PoolSetProperties() function.
func (ph *PoolHandle) SetProperties(ctx context.Context, props *daos.PropertyList) error {
	if !ph.IsValid() {
		return ErrInvalidPoolHandle
	}
	return PoolSetProperties(ph.toCtx(ctx), "", "", props)
}

// PoolSetProperties updates pool properties. A new label must not be
// used by any other pool in the system.
func PoolSetProperties(ctx context.Context, sysName, poolID string, props *daos.PropertyList) error {
	poolConn, disconnect, err := getPoolConn(ctx, sysName, poolID, daos.PoolConnectFlagReadWrite)
	if err != nil {
		return err
	}
	defer disconnect()
	logging.FromContext(ctx).Debugf("PoolSetProperties(%s:%s)", poolConn, props)

	if !poolConn.flags.Writable() {
		return errors.Wrap(daos.NoPermission, "pool handle is read-only")
	}
	if err := poolConn.sys.PoolSetProps(ctx, poolConn.UUID().String(), props); err != nil {
		return err
	}

	if label := props.Str("label", ""); label != "" {
		poolConn.Label = label
	}
	return nil
}

// GetACL returns the pool ACL along with the owner principals.
func (ph *PoolHandle) GetACL(ctx context.Context) (*ACLResp, error) {
	if !ph.IsValid() {
		return nil, ErrInvalidPoolHandle
	}
	logging.FromContext(ctx).Debugf("PoolHandle.GetACL(%s)", ph)

	acl, owner, group, err := ph.svc.GetACL(ctx)
	if err != nil {
		return nil, err
	}
	return &ACLResp{ACL: acl, Owner: owner, OwnerGroup: group}, nil
}

func (ph *PoolHandle) checkWritable() error {
	if !ph.IsValid() {
		return ErrInvalidPoolHandle
	}
	if !ph.flags.Writable() {
		return errors.Wrap(daos.NoPermission, "pool handle is read-only")
	}
	return nil
}

// OverwriteACL replaces the pool ACL.
func (ph *PoolHandle) OverwriteACL(ctx context.Context, acl *daos.AccessControlList) error {
	if err := ph.checkWritable(); err != nil {
		return err
	}
	logging.FromContext(ctx).Debugf("PoolHandle.OverwriteACL(%s:%s)", ph, acl)

	return ph.svc.OverwriteACL(ctx, acl)
}

// UpdateACL adds or replaces entries of the pool ACL.
func (ph *PoolHandle) UpdateACL(ctx context.Context, acl *daos.AccessControlList) error {
	if err := ph.checkWritable(); err != nil {
		return err
	}
	logging.FromContext(ctx).Debugf("PoolHandle.UpdateACL(%s:%s)", ph, acl)

	return ph.svc.UpdateACL(ctx, acl)
}

// DeleteACL removes the entry of the principal from the pool ACL.
func (ph *PoolHandle) DeleteACL(ctx context.Context, principal string) error {
	if err := ph.checkWritable(); err != nil {
		return err
	}
	logging.FromContext(ctx).Debugf("PoolHandle.DeleteACL(%s:%s)", ph, principal)

	return ph.svc.DeleteACL(ctx, principal)
}

// UpdateTargets is a convenience wrapper around the PoolUpdateTargets() function.
func (ph *PoolHandle) UpdateTargets(ctx context.Context, op daos.PoolTargetOp, rank ranklist.Rank, idxs ...uint32) error {
	if !ph.IsValid() {
		return ErrInvalidPoolHandle
	}
	return PoolUpdateTargets(ph.toCtx(ctx), "", "", op, rank, idxs...)
}

// PoolUpdateTargets excludes, drains or reintegrates targets of a rank.
// All targets of the rank are updated if no indexes are supplied.
func PoolUpdateTargets(ctx context.Context, sysName, poolID string, op daos.PoolTargetOp, rank ranklist.Rank, idxs ...uint32) error {
	poolConn, disconnect, err := getPoolConn(ctx, sysName, poolID, daos.PoolConnectFlagReadWrite)
	if err != nil {
		return err
	}
	defer disconnect()
	logging.FromContext(ctx).Debugf("PoolUpdateTargets(%s:%s:%d:%v)", poolConn, op, rank, idxs)

	return poolConn.svc.UpdateTargets(ctx, op, rank, idxs...)
}

// ListContainers is a convenience wrapper around the PoolListContainers() function.
func (ph *PoolHandle) ListContainers(ctx context.Context, query bool) ([]*daos.ContainerInfo, error) {
	if !ph.IsValid() {
		return nil, ErrInvalidPoolHandle
	}

	return PoolListContainers(ph.toCtx(ctx), "", "", query)
}

// PoolListContainers returns a list of information about containers in the pool.
func PoolListContainers(ctx context.Context, sysName, poolID string, query bool) ([]*daos.ContainerInfo, error) {
	poolConn, disconnect, err := getPoolConn(ctx, sysName, poolID, daos.PoolConnectFlagReadOnly)
	if err != nil {
		return nil, err
	}
	defer disconnect()
	logging.FromContext(ctx).Debugf("PoolListContainers(%s:%t)", poolConn, query)

	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}

	out, err := poolConn.svc.ListContainers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "pool list containers failed")
	}

	if query {
		for i := range out {
			qc, err := poolConn.svc.ContQuery(ctx, out[i].ContainerUUID.String())
			if err != nil {
				logging.FromContext(ctx).Errorf("failed to query container %s: %s", out[i].Name(), err)
				continue
			}
			out[i] = qc
		}
	}

	return out, nil
}

// ListReplicas returns the ranks of the pool service replicas.
func (ph *PoolHandle) ListReplicas(ctx context.Context) (ranklist.RankList, error) {
	if !ph.IsValid() {
		return nil, ErrInvalidPoolHandle
	}
	return ph.svc.Replicas(), nil
}

// ServiceLeader returns the rank of the pool service leader.
func (ph *PoolHandle) ServiceLeader(ctx context.Context) (ranklist.Rank, error) {
	if !ph.IsValid() {
		return ranklist.NilRank, ErrInvalidPoolHandle
	}
	return ph.svc.Leader()
}

// AddReplicas adds pool service replicas on the ranks.
func (ph *PoolHandle) AddReplicas(ctx context.Context, ranks ...ranklist.Rank) error {
	if !ph.IsValid() {
		return ErrInvalidPoolHandle
	}
	logging.FromContext(ctx).Debugf("PoolHandle.AddReplicas(%s:%v)", ph, ranks)

	return ph.svc.AddReplicas(ctx, ranks...)
}

// RemoveReplicas removes the pool service replicas on the ranks.
func (ph *PoolHandle) RemoveReplicas(ctx context.Context, ranks ...ranklist.Rank) error {
	if !ph.IsValid() {
		return ErrInvalidPoolHandle
	}
	logging.FromContext(ctx).Debugf("PoolHandle.RemoveReplicas(%s:%v)", ph, ranks)

	return ph.svc.RemoveReplicas(ctx, ranks...)
}

// StopService stops the pool service. The handle is invalid afterwards.
func (ph *PoolHandle) StopService(ctx context.Context) error {
	if !ph.IsValid() {
		return ErrInvalidPoolHandle
	}
	logging.FromContext(ctx).Debugf("PoolHandle.StopService(%s)", ph)

	if err := ph.svc.StopSvc(ctx); err != nil {
		return err
	}
	ph.invalidate()
	return nil
}

type (
	// GetPoolListReq defines the parameters for a GetPoolList request.
	GetPoolListReq struct {
		SysName string
		Query   bool
	}
)

// GetPoolList returns a list of DAOS pools in the system.
func GetPoolList(ctx context.Context, req GetPoolListReq) ([]*daos.PoolInfo, error) {
	if ctx == nil {
		return nil, errNilCtx
	}

	log := logging.FromContext(ctx)
	log.Debugf("GetPoolList(%+v)", req)

	sys, err := getSystem(req.SysName)
	if err != nil {
		return nil, err
	}
	records, err := sys.PoolList(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pools")
	}
	log.Debugf("pools in system: %d", len(records))

	pools := make([]*daos.PoolInfo, 0, len(records))
	for _, ps := range records {
		pi := &daos.PoolInfo{
			UUID:            ps.PoolUUID,
			Label:           ps.PoolLabel,
			State:           daos.PoolServiceState(ps.State),
			ServiceReplicas: ps.Replicas,
		}

		if req.Query && ps.State == system.PoolServiceStateReady {
			svc, err := sys.PoolResolve(ctx, ps.PoolUUID.String())
			if err == nil {
				var qpi *daos.PoolInfo
				if qpi, err = svc.Query(ctx, daos.DefaultPoolQueryMask); err == nil {
					pi = qpi
				}
			}
			if err != nil {
				log.Errorf("failed to query pool %s: %s", ps, err)
			}
		}
		pools = append(pools, pi)
	}

	return pools, nil
}

// TargetBlobstoreState is the storage state of one target of a pool.
type TargetBlobstoreState struct {
	Rank   ranklist.Rank `json:"rank"`
	Target uint32        `json:"target_idx"`
	State  string        `json:"state"`
}

// MgmtGetBSState returns the blobstore state of every target of the pool.
func MgmtGetBSState(ctx context.Context, sysName string, poolUUID uuid.UUID) ([]*TargetBlobstoreState, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	logging.FromContext(ctx).Debugf("MgmtGetBSState(%s:%s)", sysName, poolUUID)

	sys, err := getSystem(sysName)
	if err != nil {
		return nil, err
	}
	states, err := sys.PoolBlobstoreStates(ctx, poolUUID.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to get blobstore states")
	}

	out := make([]*TargetBlobstoreState, 0, len(states))
	for _, tbs := range states {
		out = append(out, &TargetBlobstoreState{
			Rank:   tbs.Rank,
			Target: tbs.Index,
			State:  tbs.State.String(),
		})
	}
	return out, nil
}

