//
// (C) Copyright 2021 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jessevdk/go-flags"
)

const (
	maxKeyLen   = 64
	maxValueLen = 128
)

func propError(fs string, args ...interface{}) *flags.Error {
	return &flags.Error{
		Message: fmt.Sprintf(fs, args...),
	}
}

// keySet restricts the keys a flag accepts. An empty set accepts any key.
type keySet map[string]struct{}

func newKeySet(keys ...string) keySet {
	ks := make(keySet, len(keys))
	for _, key := range keys {
		ks[key] = struct{}{}
	}
	return ks
}

func (ks keySet) allows(key string) bool {
	if len(ks) == 0 {
		return true
	}
	_, ok := ks[key]
	return ok
}

func (ks keySet) sorted() []string {
	keys := make([]string, 0, len(ks))
	for key := range ks {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func checkKey(key string, allowed keySet, kind string) error {
	switch {
	case key == "":
		return propError("key must not be empty")
	case !allowed.allows(key):
		return propError("%q is not a %s property (valid: %s)", key, kind, strings.Join(allowed.sorted(), ","))
	case len(key) > maxKeyLen:
		return propError("key too long (%d > %d)", len(key), maxKeyLen)
	}
	return nil
}

// CompletionMap maps keys to the values offered for completion.
type CompletionMap map[string][]string

// completeLast completes the last item of a comma separated list, keeping
// the items before it as a prefix of every candidate.
func completeLast(match string, candidates func(last string) []string) []flags.Completion {
	var prefix string
	if i := strings.LastIndex(match, ","); i >= 0 {
		prefix, match = match[:i+1], match[i+1:]
	}

	var comps []flags.Completion
	for _, item := range candidates(match) {
		comps = append(comps, flags.Completion{Item: prefix + item})
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i].Item < comps[j].Item })
	return comps
}

// SetPropertiesFlag parses "key:val[,key:val...]" input.
type SetPropertiesFlag struct {
	ParsedProps  map[string]string
	settableKeys keySet
	completions  CompletionMap
}

// SettableKeys restricts the keys which may be set.
func (f *SetPropertiesFlag) SettableKeys(keys ...string) {
	f.settableKeys = newKeySet(keys...)
}

// SetCompletions sets the keys and values offered for shell completion.
func (f *SetPropertiesFlag) SetCompletions(comps CompletionMap) {
	f.completions = comps
}

// IsSettable returns true if the key may be set.
func (f *SetPropertiesFlag) IsSettable(key string) bool {
	return f.settableKeys.allows(key)
}

// String reassembles the parsed properties in key order.
func (f *SetPropertiesFlag) String() string {
	keys := make([]string, 0, len(f.ParsedProps))
	for key := range f.ParsedProps {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+":"+f.ParsedProps[key])
	}
	return strings.Join(pairs, ",")
}

// UnmarshalFlag implements the go-flags.Unmarshaler interface. Values
// may themselves contain colons.
func (f *SetPropertiesFlag) UnmarshalFlag(fv string) error {
	f.ParsedProps = make(map[string]string)

	for _, propStr := range strings.Split(fv, ",") {
		key, value, found := strings.Cut(propStr, ":")
		if !found {
			return propError("invalid property %q (must be key:val)", propStr)
		}

		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if err := checkKey(key, f.settableKeys, "settable"); err != nil {
			return err
		}
		if value == "" {
			return propError("value must not be empty")
		}
		if len(value) > maxValueLen {
			return propError("value too long (%d > %d)", len(value), maxValueLen)
		}

		f.ParsedProps[key] = value
	}

	return nil
}

// Complete offers "key:" for keys matching the last pair, and "key:val"
// once the key has been typed.
func (f *SetPropertiesFlag) Complete(match string) []flags.Completion {
	return completeLast(match, func(last string) (items []string) {
		typedKey, _, hasKey := strings.Cut(last, ":")
		for key, vals := range f.completions {
			if !hasKey || len(vals) == 0 {
				if strings.HasPrefix(key, last) {
					items = append(items, key+":")
				}
				continue
			}
			if key != typedKey {
				continue
			}
			for _, val := range vals {
				if pair := key + ":" + val; strings.HasPrefix(pair, last) {
					items = append(items, pair)
				}
			}
		}
		return
	})
}

// GetPropertiesFlag parses "key[,key...]" input.
type GetPropertiesFlag struct {
	ParsedProps  keySet
	gettableKeys keySet
	completions  CompletionMap
}

// GettableKeys restricts the keys which may be requested.
func (f *GetPropertiesFlag) GettableKeys(keys ...string) {
	f.gettableKeys = newKeySet(keys...)
}

// SetCompletions sets the keys offered for shell completion.
func (f *GetPropertiesFlag) SetCompletions(comps CompletionMap) {
	f.completions = comps
}

// IsGettable returns true if the key may be requested.
func (f *GetPropertiesFlag) IsGettable(key string) bool {
	return f.gettableKeys.allows(key)
}

// Names returns the sorted list of parsed keys.
func (f *GetPropertiesFlag) Names() []string {
	return f.ParsedProps.sorted()
}

// UnmarshalFlag implements the go-flags.Unmarshaler interface.
func (f *GetPropertiesFlag) UnmarshalFlag(fv string) error {
	f.ParsedProps = make(keySet)

	for _, key := range strings.Split(fv, ",") {
		key = strings.TrimSpace(key)
		if err := checkKey(key, f.gettableKeys, "gettable"); err != nil {
			return err
		}
		f.ParsedProps[key] = struct{}{}
	}

	return nil
}

// Complete offers the keys matching the last item.
func (f *GetPropertiesFlag) Complete(match string) []flags.Completion {
	return completeLast(match, func(last string) (items []string) {
		for key := range f.completions {
			if strings.HasPrefix(key, last) {
				items = append(items, key)
			}
		}
		return
	})
}
