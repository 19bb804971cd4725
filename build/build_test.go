//
// (C) Copyright 2022-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package build

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuild_String(t *testing.T) {
	for name, tc := range map[string]struct {
		version  string
		revision string
		dirty    bool
		release  bool
		expStr   string
	}{
		"no revision": {
			version: "2.6.0",
			expStr:  "dsr version 2.6.0",
		},
		"revision": {
			version:  "2.6.0",
			revision: "abcdef12345",
			expStr:   "dsr version 2.6.0-gabcdef",
		},
		"dirty": {
			version:  "2.6.0",
			revision: "abcdef12345",
			dirty:    true,
			expStr:   "dsr version 2.6.0-gabcdef-dirty",
		},
		"release": {
			version:  "2.6.0",
			revision: "abcdef12345",
			release:  true,
			expStr:   "dsr version 2.6.0",
		},
	} {
		t.Run(name, func(t *testing.T) {
			oldVer, oldRev, oldDirty, oldRel := DaosVersion, Revision, DirtyBuild, ReleaseBuild
			defer func() {
				DaosVersion, Revision, DirtyBuild, ReleaseBuild = oldVer, oldRev, oldDirty, oldRel
			}()
			DaosVersion, Revision, DirtyBuild, ReleaseBuild = tc.version, tc.revision, tc.dirty, tc.release

			if got := String("dsr"); got != tc.expStr {
				t.Fatalf("expected %q, got %q", tc.expStr, got)
			}
		})
	}
}

func TestBuild_FindConfigFilePath(t *testing.T) {
	dir := t.TempDir()
	oldDir := ConfigDir
	defer func() { ConfigDir = oldDir }()
	ConfigDir = dir
	t.Setenv(ConfigDirEnv, "")

	if _, err := FindConfigFilePath("/abs/path.yml"); err == nil {
		t.Fatal("expected error for absolute path")
	}

	_, err := FindConfigFilePath("missing.yml")
	if !IsDefaultConfigNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}

	want := filepath.Join(dir, ConfigFile)
	if err := os.WriteFile(want, []byte("name: test\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := FindConfigFilePath(ConfigFile)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	envDir := t.TempDir()
	t.Setenv(ConfigDirEnv, envDir)
	if dirs := ConfigDirs(); dirs[0] != envDir {
		t.Fatalf("expected %s to be searched first, got %v", ConfigDirEnv, dirs)
	}
	envWant := filepath.Join(envDir, ConfigFile)
	if err := os.WriteFile(envWant, []byte("name: env\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = FindConfigFilePath(ConfigFile)
	if err != nil {
		t.Fatal(err)
	}
	if got != envWant {
		t.Fatalf("expected %q, got %q", envWant, got)
	}
}
