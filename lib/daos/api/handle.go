//
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package api

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/daos-stack/dsr/logging"
)

const (
	MissingPoolLabel      = "<no pool label supplied>"
	MissingContainerLabel = "<no container label supplied>"
)

type (
	// ctxHdlKey is a type used for storing handles as context values.
	ctxHdlKey string

	// connHandle is an opaque type used to represent a DAOS connection (pool or container).
	connHandle struct {
		UUID   uuid.UUID
		Label  string
		cookie uint64
		// the connection ID given to the service for this handle
		hdl uuid.UUID
	}
)

var lastCookie uint64

func newConnHandle(id uuid.UUID, label string) connHandle {
	return connHandle{
		UUID:   id,
		Label:  label,
		cookie: atomic.AddUint64(&lastCookie, 1),
		hdl:    uuid.New(),
	}
}

// invalidate clears the handle so that it cannot be reused inadvertently.
func (ch *connHandle) invalidate() {
	if ch == nil {
		return
	}
	ch.UUID = uuid.Nil
	ch.Label = ""
	ch.cookie = 0
	ch.hdl = uuid.Nil
}

// IsValid returns true if the pool or container handle is valid.
func (ch *connHandle) IsValid() bool {
	if ch == nil {
		return false
	}
	return ch.cookie != 0
}

// ID returns the label if available, otherwise the UUID.
func (ch *connHandle) ID() string {
	id := ch.Label
	if id == "" || id == MissingPoolLabel || id == MissingContainerLabel {
		id = ch.UUID.String()
	}

	return id
}

func (ch *connHandle) String() string {
	id := ch.Label
	if id == "" || id == MissingPoolLabel || id == MissingContainerLabel {
		id = logging.ShortUUID(ch.UUID)
	}
	return fmt.Sprintf("%s:%t", id, ch.IsValid())
}
