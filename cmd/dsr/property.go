//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"sort"

	"github.com/jessevdk/go-flags"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ui"
)

func propCompletions(pm daos.PropertyMap) ui.CompletionMap {
	comps := make(ui.CompletionMap)
	for _, key := range pm.Keys() {
		comps[key] = pm[key].Values()
	}
	return comps
}

// buildPropList converts parsed key:val pairs into a property list, in key
// order so that the first invalid value reported is stable.
func buildPropList(parsed map[string]string, list *daos.PropertyList) (*daos.PropertyList, error) {
	keys := make([]string, 0, len(parsed))
	for key := range parsed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := list.Set(key, parsed[key]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

type poolSetPropsFlag struct {
	ui.SetPropertiesFlag
}

func (f *poolSetPropsFlag) init() {
	pm := daos.PoolProperties()
	f.SettableKeys(pm.Keys()...)
	f.SetCompletions(propCompletions(pm))
}

func (f *poolSetPropsFlag) UnmarshalFlag(fv string) error {
	f.init()
	return f.SetPropertiesFlag.UnmarshalFlag(fv)
}

func (f *poolSetPropsFlag) Complete(match string) []flags.Completion {
	f.init()
	return f.SetPropertiesFlag.Complete(match)
}

// PropertyList returns the parsed properties, or nil if none were given.
func (f *poolSetPropsFlag) PropertyList() (*daos.PropertyList, error) {
	if len(f.ParsedProps) == 0 {
		return nil, nil
	}
	return buildPropList(f.ParsedProps, daos.NewPoolPropertyList())
}

type poolGetPropsFlag struct {
	ui.GetPropertiesFlag
}

func (f *poolGetPropsFlag) init() {
	pm := daos.PoolProperties()
	f.GettableKeys(pm.Keys()...)
	f.SetCompletions(propCompletions(pm))
}

func (f *poolGetPropsFlag) UnmarshalFlag(fv string) error {
	f.init()
	return f.GetPropertiesFlag.UnmarshalFlag(fv)
}

func (f *poolGetPropsFlag) Complete(match string) []flags.Completion {
	f.init()
	return f.GetPropertiesFlag.Complete(match)
}

type contSetPropsFlag struct {
	ui.SetPropertiesFlag
}

func (f *contSetPropsFlag) init() {
	pm := daos.ContainerProperties()
	f.SettableKeys(pm.Keys()...)
	f.SetCompletions(propCompletions(pm))
}

func (f *contSetPropsFlag) UnmarshalFlag(fv string) error {
	f.init()
	return f.SetPropertiesFlag.UnmarshalFlag(fv)
}

func (f *contSetPropsFlag) Complete(match string) []flags.Completion {
	f.init()
	return f.SetPropertiesFlag.Complete(match)
}

// PropertyList returns the parsed properties, or nil if none were given.
func (f *contSetPropsFlag) PropertyList() (*daos.PropertyList, error) {
	if len(f.ParsedProps) == 0 {
		return nil, nil
	}
	return buildPropList(f.ParsedProps, daos.NewContainerPropertyList())
}

type contGetPropsFlag struct {
	ui.GetPropertiesFlag
}

func (f *contGetPropsFlag) init() {
	pm := daos.ContainerProperties()
	f.GettableKeys(pm.Keys()...)
	f.SetCompletions(propCompletions(pm))
}

func (f *contGetPropsFlag) UnmarshalFlag(fv string) error {
	f.init()
	return f.GetPropertiesFlag.UnmarshalFlag(fv)
}

func (f *contGetPropsFlag) Complete(match string) []flags.Completion {
	f.init()
	return f.GetPropertiesFlag.Complete(match)
}
