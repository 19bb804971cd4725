//
// (C) Copyright 2021-2022 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package ui

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
)

var (
	_ flags.Unmarshaler = &LabelOrUUIDFlag{}
	_ flags.Unmarshaler = &ObjectIDFlag{}
	_ flags.Unmarshaler = &ObjectClassFlag{}
)

// LabelOrUUIDFlag is used to hold a pool or container ID supplied
// via command-line argument.
type LabelOrUUIDFlag struct {
	UUID  uuid.UUID `json:"uuid"`
	Label string    `json:"label"`
}

// Empty returns true if neither UUID or Label were set.
func (f LabelOrUUIDFlag) Empty() bool {
	return !f.HasLabel() && !f.HasUUID()
}

// HasLabel returns true if Label is a nonempty string.
func (f LabelOrUUIDFlag) HasLabel() bool {
	return f.Label != ""
}

// HasUUID returns true if UUID is a nonzero value.
func (f LabelOrUUIDFlag) HasUUID() bool {
	return f.UUID != uuid.Nil
}

func (f LabelOrUUIDFlag) String() string {
	switch {
	case f.HasLabel():
		return f.Label
	case f.HasUUID():
		return f.UUID.String()
	default:
		return "<no label or uuid set>"
	}
}

// SetLabel validates the supplied label and sets it if valid.
func (f *LabelOrUUIDFlag) SetLabel(l string) error {
	if !daos.LabelIsValid(l) {
		return errors.Errorf("invalid label %q", l)
	}

	f.Label = l
	return nil
}

// UnmarshalFlag implements the go-flags.Unmarshaler
// interface.
func (f *LabelOrUUIDFlag) UnmarshalFlag(fv string) error {
	uuid, err := uuid.Parse(fv)
	if err == nil {
		f.UUID = uuid
		return nil
	}

	return f.SetLabel(fv)
}

// ObjectIDFlag holds an object ID in "hi.lo" form.
type ObjectIDFlag struct {
	daos.ObjectID
}

// UnmarshalFlag implements the go-flags.Unmarshaler interface.
func (f *ObjectIDFlag) UnmarshalFlag(fv string) error {
	return f.FromString(fv)
}

// ObjectClassFlag holds an object class name such as "RP_3G1".
type ObjectClassFlag struct {
	Class daos.ObjectClass
	set   bool
}

// IsSet returns true if a class was supplied.
func (f ObjectClassFlag) IsSet() bool {
	return f.set
}

func (f ObjectClassFlag) String() string {
	return f.Class.String()
}

// UnmarshalFlag implements the go-flags.Unmarshaler interface.
func (f *ObjectClassFlag) UnmarshalFlag(fv string) error {
	if err := f.Class.FromString(fv); err != nil {
		return err
	}
	f.set = true
	return nil
}

// Complete implements the go-flags.Completer interface.
func (f *ObjectClassFlag) Complete(match string) (comps []flags.Completion) {
	for _, name := range daos.ListObjectClasses() {
		if strings.HasPrefix(name, strings.ToUpper(match)) {
			comps = append(comps, flags.Completion{Item: name})
		}
	}
	return
}
