//
// (C) Copyright 2023-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package daos

import (
	"sort"

	"github.com/pkg/errors"
)

const (
	// MaxAttributeNameLength is the maximum length of an attribute name.
	MaxAttributeNameLength = 255
	// MaxAttributeValueSize is the maximum size of an attribute value.
	MaxAttributeValueSize = 1 << 20
)

type (
	// Attribute is a pool or container attribute.
	Attribute struct {
		Name  string `json:"name"`
		Value []byte `json:"value,omitempty"`
	}

	// AttributeList is a list of attributes.
	AttributeList []*Attribute
)

// Validate checks the attribute name and value against size limits.
func (a *Attribute) Validate() error {
	if a == nil {
		return errors.Wrap(InvalidInput, "nil attribute")
	}
	if a.Name == "" {
		return errors.Wrap(InvalidInput, "empty attribute name")
	}
	if len(a.Name) > MaxAttributeNameLength {
		return errors.Wrapf(InvalidInput, "attribute name %q exceeds %d bytes", a.Name, MaxAttributeNameLength)
	}
	if len(a.Value) > MaxAttributeValueSize {
		return errors.Wrapf(InvalidInput, "attribute %q value exceeds %d bytes", a.Name, MaxAttributeValueSize)
	}
	return nil
}

// AsMap returns the attribute list as a map.
func (al AttributeList) AsMap() map[string][]byte {
	m := make(map[string][]byte)
	for _, a := range al {
		m[a.Name] = a.Value
	}
	return m
}

// AsList returns the list of attribute names.
func (al AttributeList) AsList() []string {
	names := make([]string, len(al))
	for i, a := range al {
		names[i] = a.Name
	}
	return names
}

// Names returns the sorted list of attribute names.
func (al AttributeList) Names() []string {
	names := al.AsList()
	sort.Strings(names)
	return names
}

// Get returns the named attribute, or Nonexistent.
func (al AttributeList) Get(name string) (*Attribute, error) {
	for _, a := range al {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, errors.Wrapf(Nonexistent, "attribute %q", name)
}

// AttributeListFromMap builds a sorted attribute list from a map.
func AttributeListFromMap(m map[string][]byte) AttributeList {
	al := make(AttributeList, 0, len(m))
	for name, val := range m {
		al = append(al, &Attribute{Name: name, Value: val})
	}
	sort.Slice(al, func(i, j int) bool {
		return al[i].Name < al[j].Name
	})
	return al
}
