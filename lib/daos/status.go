//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package daos

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is a status code in the set defined by the storage system.
type Status int32

type statusInfo struct {
	name string
	desc string
}

func (ds Status) info() statusInfo {
	if si, found := statusTable[ds]; found {
		return si
	}
	return statusInfo{name: "DER_UNKNOWN", desc: "Unknown error code"}
}

func (ds Status) Error() string {
	si := ds.info()
	return fmt.Sprintf("%s(%d): %s", si.name, ds, si.desc)
}

// Name returns the symbolic name of the status.
func (ds Status) Name() string {
	return ds.info().name
}

func (ds Status) Int32() int32 {
	return int32(ds)
}

const (
	// Success indicates no error
	Success Status = 0
	// NoPermission indicates that access to a resource was denied
	NoPermission Status = -1001
	// NoHandle indicates the handle was invalid
	NoHandle Status = -1002
	// InvalidInput indicates an input was invalid
	InvalidInput Status = -1003
	// Exists indicates the entity already exists
	Exists Status = -1004
	// Nonexistent indicates the entity does not exist
	Nonexistent Status = -1005
	// Unreachable indicates a node was unreachable
	Unreachable Status = -1006
	// NoSpace indicates there was not enough storage space
	NoSpace Status = -1007
	// Already indicates the operation was already done
	Already Status = -1008
	// NoMemory indicates the system ran out of memory
	NoMemory Status = -1009
	// NotImpl indicates the requested functionality is not implemented
	NotImpl Status = -1010
	// TimedOut indicates the operation timed out
	TimedOut Status = -1011
	// Busy indicates the system was busy and didn't process the request
	Busy Status = -1012
	// TryAgain indicates the operation failed, but should be tried again
	TryAgain Status = -1013
	// NotInit indicates something in the system wasn't initialized
	NotInit Status = -1015
	// BufTooSmall indicates a provided buffer was too small
	BufTooSmall Status = -1016
	// StructTooSmall indicates data could not fit in the provided structure
	StructTooSmall Status = -1017
	// Canceled indicates the operation was canceled
	Canceled Status = -1018
	// OutOfGroup indicates that a rank wasn't found in the group
	OutOfGroup Status = -1019
	// MiscError indicates an unspecified error
	MiscError Status = -1025
	// Excluded indicates that the rank was excluded
	Excluded Status = -1032
	// NoService indicates the pool service is not up and didn't process the pool request
	NoService Status = -1038
)

const (
	// IOError indicates a generic IO error
	IOError Status = -2001
	// NoEntry indicates that the entry was not found
	NoEntry Status = -2003
	// Stale indicates that a resource was stale
	Stale Status = -2007
	// NotLeader indicates that the replica is not the service leader
	NotLeader Status = -2008
	// EpochReadOnly indicates that the epoch couldn't be modified
	EpochReadOnly Status = -2010
	// EpochRecycled indicates that the epoch was recycled due to age
	EpochRecycled Status = -2011
	// KeyTooBig indicates that the key is too big
	KeyTooBig Status = -2012
	// RecordTooBig indicates that the record is too big
	RecordTooBig Status = -2013
	// IOInvalid indicates a mismatch between IO buffers and object extents
	IOInvalid Status = -2014
	// EventQueueBusy indicates that the event queue is busy
	EventQueueBusy Status = -2015
	// Shutdown indicates that the service should shut down
	Shutdown Status = -2017
	// InProgress indicates that the operation is in progress
	InProgress Status = -2018
	// NotApplicable indicates that the operation is not applicable
	NotApplicable Status = -2019
	// NotReplica indicates that the requested component is not a service replica
	NotReplica Status = -2020
	// DataLoss indicates that data was lost and cannot be recovered
	DataLoss Status = -2023
	// TxRestart indicates that the transaction must be restarted
	TxRestart Status = -2024
	// TxBusy indicates that a conflicting transaction is in progress
	TxBusy Status = -2026
	// TxCommitted indicates that the transaction was already committed
	TxCommitted Status = -2027
	// TxAborted indicates that the transaction was already aborted
	TxAborted Status = -2028
	// TxReadOnly indicates a write in a read-only transaction
	TxReadOnly Status = -2029
)

var statusTable = map[Status]statusInfo{
	Success:        {"DER_SUCCESS", "Success"},
	NoPermission:   {"DER_NO_PERM", "Operation not permitted"},
	NoHandle:       {"DER_NO_HDL", "Invalid handle"},
	InvalidInput:   {"DER_INVAL", "Invalid parameters"},
	Exists:         {"DER_EXIST", "Entity already exists"},
	Nonexistent:    {"DER_NONEXIST", "The specified entity does not exist"},
	Unreachable:    {"DER_UNREACH", "Unreachable node"},
	NoSpace:        {"DER_NOSPACE", "No space on storage target"},
	Already:        {"DER_ALREADY", "Operation already performed"},
	NoMemory:       {"DER_NOMEM", "Out of memory"},
	NotImpl:        {"DER_NOSYS", "Function not implemented"},
	TimedOut:       {"DER_TIMEDOUT", "Time out"},
	Busy:           {"DER_BUSY", "Device or resource busy"},
	TryAgain:       {"DER_AGAIN", "Try again"},
	NotInit:        {"DER_UNINIT", "Not initialized"},
	BufTooSmall:    {"DER_TRUNC", "Buffer too short"},
	StructTooSmall: {"DER_OVERFLOW", "Data too long for defined data type or buffer size"},
	Canceled:       {"DER_CANCELED", "Operation canceled"},
	OutOfGroup:     {"DER_OOG", "Out of group or member list"},
	MiscError:      {"DER_MISC", "Miscellaneous error"},
	Excluded:       {"DER_EXCLUDED", "Rank has been excluded"},
	NoService:      {"DER_NO_SERVICE", "Service unavailable"},
	IOError:        {"DER_IO", "Generic I/O error"},
	NoEntry:        {"DER_ENOENT", "Entry not found"},
	Stale:          {"DER_STALE", "Stale resource version"},
	NotLeader:      {"DER_NOTLEADER", "Not service leader"},
	EpochReadOnly:  {"DER_EP_RO", "Epoch is read-only"},
	EpochRecycled:  {"DER_EP_OLD", "Epoch is recycled"},
	KeyTooBig:      {"DER_KEY2BIG", "Key is too large"},
	RecordTooBig:   {"DER_REC2BIG", "Record is too large"},
	IOInvalid:      {"DER_IO_INVAL", "I/O buffers do not match object extents"},
	EventQueueBusy: {"DER_EQ_BUSY", "Event queue is busy"},
	Shutdown:       {"DER_SHUTDOWN", "Service should shut down"},
	InProgress:     {"DER_INPROGRESS", "Operation now in progress"},
	NotApplicable:  {"DER_NOTAPPLICABLE", "Not applicable"},
	NotReplica:     {"DER_NOTREPLICA", "Not a service replica"},
	DataLoss:       {"DER_DATA_LOSS", "Data lost or not recoverable"},
	TxRestart:      {"DER_TX_RESTART", "Transaction should restart"},
	TxBusy:         {"DER_TX_BUSY", "Transaction is busy"},
	TxCommitted:    {"DER_TX_COMMITTED", "Transaction has been committed"},
	TxAborted:      {"DER_TX_ABORTED", "Transaction has been aborted"},
	TxReadOnly:     {"DER_TX_RDONLY", "Transaction is read-only"},
}

// ErrorFromRC converts a simple return code into an error.
func ErrorFromRC(rc int) error {
	if rc == 0 {
		return nil
	}
	return Status(rc)
}

// StatusFromError returns the Status carried by the error chain, or
// MiscError if the error does not carry one.
func StatusFromError(err error) Status {
	if err == nil {
		return Success
	}

	var ds Status
	if errors.As(err, &ds) {
		return ds
	}
	return MiscError
}

// IsStatus returns true if the error chain carries the given Status.
func IsStatus(err error, ds Status) bool {
	return err != nil && errors.Is(err, ds)
}
