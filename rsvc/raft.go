//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package rsvc

import (
	"encoding/json"
	"io"
	"time"

	"github.com/hashicorp/raft"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/logging"
)

// A service's metadata is modeled as a FSM, with every modification
// captured by a discrete log entry. The entries are distributed to the
// service replicas, and a given entry is applied once a quorum of
// replicas have persisted it.
//
// https://github.com/hashicorp/raft
// https://raft.github.io/

type (
	// Op identifies an update operation of a service FSM.
	Op uint32

	// update provides some metadata for an update operation.
	// The data is an opaque blob to raft.
	update struct {
		Time time.Time
		Op   Op
		Data json.RawMessage
	}

	// FSM is the replicated state of a service. Apply is called on every
	// replica once an update has been committed and must be deterministic.
	// An error returned from Apply is reported to the submitter only.
	FSM interface {
		Apply(op Op, data []byte) error
		Snapshot() ([]byte, error)
		Restore(data []byte) error
	}

	// FSMFactory creates the empty state of a new replica.
	FSMFactory func() FSM
)

// IsRaftLeadershipError returns true if the given error is a known
// leadership error returned by the raft library.
func IsRaftLeadershipError(err error) bool {
	switch errors.Cause(err) {
	case raft.ErrLeadershipLost, raft.ErrLeadershipTransferInProgress,
		raft.ErrNotLeader, raft.ErrRaftShutdown, raft.ErrEnqueueTimeout:
		return true
	default:
		return false
	}
}

// createUpdate serializes the inner payload and then wraps
// it with an update that is submitted to the raft service.
func createUpdate(op Op, inner interface{}) ([]byte, error) {
	data, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&update{
		Time: time.Now(),
		Op:   op,
		Data: data,
	})
}

// fsm adapts a service FSM to the raft.FSM interface.
type fsm struct {
	log   logging.Logger
	name  string
	state FSM
}

// Apply is called after the log entry has been committed.
func (f *fsm) Apply(l *raft.Log) interface{} {
	u := new(update)
	if err := json.Unmarshal(l.Data, u); err != nil {
		f.log.Errorf("%s: failed to decode update at index %d: %s", f.name, l.Index, err)
		return errors.Wrapf(err, "failed to decode update at index %d", l.Index)
	}

	if err := f.state.Apply(u.Op, u.Data); err != nil {
		f.log.Debugf("%s: op %d at index %d: %s", f.name, u.Op, l.Index, err)
		return err
	}
	return nil
}

// Snapshot is called to support log compaction and to bring a new
// replica up to date without replaying every entry.
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	data, err := f.state.Snapshot()
	if err != nil {
		return nil, err
	}

	f.log.Debugf("%s: created snapshot (%d bytes)", f.name, len(data))
	return &fsmSnapshot{data}, nil
}

// Restore is called to force the FSM to read in a snapshot, discarding any previous state.
func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to read snapshot", f.name)
	}
	if err := f.state.Restore(data); err != nil {
		return errors.Wrapf(err, "%s: failed to restore snapshot", f.name)
	}

	f.log.Debugf("%s: snapshot loaded (%d bytes)", f.name, len(data))
	return nil
}

// fsmSnapshot implements the raft.FSMSnapshot interface, and is used
// to persist the snapshot to an io.WriteCloser.
type fsmSnapshot struct {
	data []byte
}

// Persist writes the snapshot to the supplied raft.SnapshotSink.
func (f *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if _, err := sink.Write(f.data); err != nil {
			return err
		}

		return sink.Close()
	}()

	if err != nil {
		_ = sink.Cancel()
	}

	return err
}

// Release is a no-op for this implementation.
func (f *fsmSnapshot) Release() {}
