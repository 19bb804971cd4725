//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigDirEnv names an environment variable holding a directory which is
// searched for configuration files before any other.
const ConfigDirEnv = "DSR_CONFIG_DIR"

// ErrDefaultConfigNotFound lists the locations searched for a
// configuration file which did not have one.
type ErrDefaultConfigNotFound struct {
	Searched []string
}

func (e *ErrDefaultConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found in %s", strings.Join(e.Searched, ", "))
}

// IsDefaultConfigNotFound returns true if no configuration file was found
// in any of the searched directories.
func IsDefaultConfigNotFound(err error) bool {
	_, ok := err.(*ErrDefaultConfigNotFound)
	return ok
}

// ConfigDirs returns the directories searched for configuration files, in
// order: $DSR_CONFIG_DIR, the link-time directory, the user configuration
// directory and the system default. Duplicates are dropped.
func ConfigDirs() []string {
	candidates := []string{os.Getenv(ConfigDirEnv), ConfigDir}
	if userDir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(userDir, CLIName))
	}
	candidates = append(candidates, DefaultConfigDir)

	seen := make(map[string]bool)
	var dirs []string
	for _, dir := range candidates {
		if dir == "" || seen[filepath.Clean(dir)] {
			continue
		}
		seen[filepath.Clean(dir)] = true
		dirs = append(dirs, dir)
	}
	return dirs
}

// FindConfigFilePath returns the path of the first regular file with the
// given name in the configuration directories.
func FindConfigFilePath(filename string) (string, error) {
	if filepath.IsAbs(filename) || filepath.Base(filename) != filename {
		return "", fmt.Errorf("%q already specifies a path", filename)
	}

	notFound := &ErrDefaultConfigNotFound{}
	for _, dir := range ConfigDirs() {
		path := filepath.Join(dir, filename)
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			return path, nil
		}
		notFound.Searched = append(notFound.Searched, path)
	}

	return "", notFound
}
