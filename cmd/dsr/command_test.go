//
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/build"
	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/daos/api"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/pool"
	"github.com/daos-stack/dsr/system"
)

type cmdTestEnv struct {
	t   *testing.T
	sys *system.System
	log *logging.LeveledLogger
}

func newCmdTestEnv(t *testing.T) *cmdTestEnv {
	t.Helper()

	log, buf := logging.NewTestLogger(t.Name())
	t.Cleanup(func() { test.ShowBufferOnFailure(t, buf) })

	sys := system.MockSystem(t, log, system.MockConfig(3))
	p, err := api.NewProvider(log, sys)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Cleanup)

	return &cmdTestEnv{t: t, sys: sys, log: log}
}

// run executes the command line against the test system and returns what
// it printed.
func (env *cmdTestEnv) run(args ...string) (string, error) {
	env.t.Helper()

	var opts cliOptions
	var out bytes.Buffer
	err := parseOptsWithOutput(args, &opts, env.log, env.sys, &out)
	return out.String(), err
}

func (env *cmdTestEnv) mustRun(args ...string) string {
	env.t.Helper()

	out, err := env.run(args...)
	if err != nil {
		env.t.Fatalf("%q: %s", strings.Join(args, " "), err)
	}
	return out
}

// runJSON executes the command with JSON output and decodes the response
// into resp.
func (env *cmdTestEnv) runJSON(resp interface{}, args ...string) {
	env.t.Helper()

	out := env.mustRun(append([]string{"--json"}, args...)...)
	var result struct {
		Response json.RawMessage `json:"response"`
		Error    *string         `json:"error"`
		Status   int             `json:"status"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		env.t.Fatalf("failed to decode %q: %s", out, err)
	}
	if result.Error != nil {
		env.t.Fatalf("unexpected error in response: %s", *result.Error)
	}
	if resp == nil {
		return
	}
	if err := json.Unmarshal(result.Response, resp); err != nil {
		env.t.Fatalf("failed to decode response %q: %s", result.Response, err)
	}
}

func (env *cmdTestEnv) createPoolAndCont(poolLabel, contLabel string) {
	env.t.Helper()

	env.mustRun("pool", "create", "--scm-size", "6MiB", "--nvme-size", "96MiB", poolLabel)
	env.mustRun("container", "create", poolLabel, "--label", contLabel)
}

func TestDsr_PoolCommands(t *testing.T) {
	env := newCmdTestEnv(t)

	var ps system.PoolService
	env.runJSON(&ps, "pool", "create", "--scm-size", "6MiB", "--nvme-size", "96MiB", "tank")
	if ps.PoolLabel != "tank" {
		t.Fatalf("expected label tank, got %q", ps.PoolLabel)
	}

	if _, err := env.run("pool", "create", "--scm-size", "6MiB", "tank"); err == nil {
		t.Fatal("expected error creating a pool with a duplicate label")
	}

	out := env.mustRun("pool", "list")
	if !strings.Contains(out, "tank") {
		t.Fatalf("pool list output does not include tank:\n%s", out)
	}

	env.mustRun("pool", "query", ps.PoolUUID.String())
	env.mustRun("pool", "destroy", "tank")

	if _, err := env.run("pool", "query", "tank"); err == nil {
		t.Fatal("expected error querying a destroyed pool")
	}
}

func TestDsr_PoolNoExtend(t *testing.T) {
	env := newCmdTestEnv(t)
	env.mustRun("pool", "create", "--scm-size", "6MiB", "--nvme-size", "96MiB", "tank")

	_, err := env.run("pool", "extend", "tank")
	if err == nil || !strings.Contains(err.Error(), "extend") {
		t.Fatalf("expected unknown command error for pool extend, got %v", err)
	}
}

func TestDsr_KVCommands(t *testing.T) {
	env := newCmdTestEnv(t)
	env.createPoolAndCont("tank", "c1")

	oid := daos.GenerateOID(0, 1, daos.ObjectTypeKVHashed, daos.ObjectClassS1).String()
	kv := func(sub string, args ...string) []string {
		return append([]string{"kv", sub, "tank", "c1", "--oid", oid}, args...)
	}

	env.mustRun(kv("put", "--key", "k1", "--value", "v1")...)
	env.mustRun(kv("put", "--key", "k2", "--value", "v2")...)

	for name, tc := range map[string]struct {
		args    []string
		expOut  string
		expErr  bool
		contain bool
	}{
		"get": {
			args:   kv("get", "--key", "k1"),
			expOut: "v1\n",
		},
		"list": {
			args:    kv("list"),
			expOut:  "k2",
			contain: true,
		},
		"insert existing": {
			args:   kv("put", "--key", "k1", "--value", "v3", "--cond", "insert"),
			expErr: true,
		},
		"update missing": {
			args:   kv("put", "--key", "k9", "--value", "v9", "--cond", "update"),
			expErr: true,
		},
		"put exists cond": {
			args:   kv("put", "--key", "k1", "--value", "v1", "--cond", "exists"),
			expErr: true,
		},
		"get missing": {
			args:   kv("get", "--key", "k9"),
			expErr: true,
		},
		"remove missing must exist": {
			args:   kv("remove", "--key", "k9", "--must-exist"),
			expErr: true,
		},
		"wrong object type": {
			args: []string{"kv", "get", "tank", "c1", "--key", "k1", "--oid",
				daos.GenerateOID(0, 2, daos.ObjectTypeArray, daos.ObjectClassS1).String()},
			expErr: true,
		},
	} {
		t.Run(name, func(t *testing.T) {
			out, err := env.run(tc.args...)
			if tc.expErr {
				if err == nil {
					t.Fatalf("expected error, got output %q", out)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tc.contain {
				if !strings.Contains(out, tc.expOut) {
					t.Fatalf("expected output to contain %q, got %q", tc.expOut, out)
				}
				return
			}
			test.AssertEqual(t, tc.expOut, out, "unexpected output")
		})
	}

	env.mustRun(kv("remove", "--key", "k1")...)
	if _, err := env.run(kv("get", "--key", "k1")...); err == nil {
		t.Fatal("expected error getting a removed key")
	}
}

func TestDsr_SnapshotRead(t *testing.T) {
	env := newCmdTestEnv(t)
	env.createPoolAndCont("tank", "c1")

	oid := daos.GenerateOID(0, 1, daos.ObjectTypeKVHashed, daos.ObjectClassS1).String()
	env.mustRun("kv", "put", "tank", "c1", "--oid", oid, "--key", "k", "--value", "before")

	out := env.mustRun("container", "create-snap", "tank", "c1", "--snap", "s1")
	fields := strings.Fields(out)
	if len(fields) < 2 {
		t.Fatalf("unexpected create-snap output %q", out)
	}
	epc := fields[1]
	if n, err := strconv.ParseUint(epc, 0, 64); err != nil || n == 0 {
		t.Fatalf("bad snapshot epoch %q in %q", epc, out)
	}

	env.mustRun("kv", "put", "tank", "c1", "--oid", oid, "--key", "k", "--value", "after")

	test.AssertEqual(t, "before\n",
		env.mustRun("kv", "get", "tank", "c1", "--oid", oid, "--key", "k", "--epc", epc),
		"snapshot read")
	test.AssertEqual(t, "after\n",
		env.mustRun("kv", "get", "tank", "c1", "--oid", oid, "--key", "k"),
		"current read")

	var snaps []*pool.Snapshot
	env.runJSON(&snaps, "container", "list-snaps", "tank", "c1")
	if len(snaps) != 1 || snaps[0].Name != "s1" {
		t.Fatalf("unexpected snapshots: %+v", snaps)
	}

	env.mustRun("container", "destroy-snap", "tank", "c1", "--snap", "s1")
	env.runJSON(&snaps, "container", "list-snaps", "tank", "c1")
	if len(snaps) != 0 {
		t.Fatalf("expected no snapshots, got %+v", snaps)
	}
}

func TestDsr_ArrayCommands(t *testing.T) {
	env := newCmdTestEnv(t)
	env.createPoolAndCont("tank", "c1")

	oid := daos.GenerateOID(0, 1, daos.ObjectTypeArray, daos.ObjectClassS2).String()
	array := func(sub string, args ...string) []string {
		return append([]string{"array", sub, "tank", "c1", "--oid", oid}, args...)
	}

	env.mustRun(array("create", "--cell-size", "1", "--chunk-size", "4")...)
	env.mustRun(array("write", "--data", "hello world")...)

	test.AssertEqual(t, "hello\n", env.mustRun(array("read", "--count", "5")...), "read head")
	test.AssertEqual(t, "world\n", env.mustRun(array("read", "--index", "6", "--count", "5")...), "read tail")
	test.AssertEqual(t, "11\n", env.mustRun(array("size")...), "size")

	env.mustRun(array("set-size", "--size", "5")...)
	test.AssertEqual(t, "5\n", env.mustRun(array("size")...), "truncated size")

	if _, err := env.run(array("create", "--cell-size", "1")...); err == nil {
		t.Fatal("expected error creating an existing array")
	}
}

func TestDsr_SystemCommands(t *testing.T) {
	env := newCmdTestEnv(t)

	var members system.Members
	env.runJSON(&members, "system", "query")
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}

	var results []*system.MemberResult
	env.runJSON(&results, "system", "stop", "--ranks", "2")
	if len(results) != 1 || results[0].Errored || results[0].State != system.MemberStateStopped {
		t.Fatalf("unexpected stop results: %+v", results)
	}

	env.runJSON(&members, "system", "query")
	stopped := members.Ranks(system.MemberStateStopped)
	if len(stopped) != 1 || stopped[0] != 2 {
		t.Fatalf("expected rank 2 stopped, got %v", stopped)
	}

	env.mustRun("system", "start", "--ranks", "2")
	env.runJSON(&members, "system", "query")
	if len(members.Ranks(system.MemberStateJoined)) != 3 {
		t.Fatalf("expected all members joined: %+v", members)
	}

	out := env.mustRun("system", "leader")
	if !strings.HasPrefix(out, "leader: ") {
		t.Fatalf("unexpected leader output %q", out)
	}
}

func TestDsr_ConfigCommands(t *testing.T) {
	env := newCmdTestEnv(t)

	out := env.mustRun("config", "show")
	if !strings.Contains(out, "name: mock") {
		t.Fatalf("config show output missing system name:\n%s", out)
	}
	env.mustRun("config", "validate")

	cfgPath := filepath.Join(t.TempDir(), "dsr.yml")
	env.mustRun("config", "generate", "--name", "gen", "--engines", "2", "--targets", "2",
		"--mgmt-svc-replicas", "1", "--pool-svc-replicas", "1", "--output", cfgPath)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "name: gen") {
		t.Fatalf("generated config missing system name:\n%s", data)
	}

	if _, err := env.run("config", "generate", "--engines", "2", "--mgmt-svc-replicas", "2"); err == nil {
		t.Fatal("expected error generating an even number of management replicas")
	}
}

func TestDsr_MetricsCommand(t *testing.T) {
	env := newCmdTestEnv(t)
	env.createPoolAndCont("tank", "c1")

	oid := daos.GenerateOID(0, 1, daos.ObjectTypeKVHashed, daos.ObjectClassS1).String()
	env.mustRun("kv", "put", "tank", "c1", "--oid", oid, "--key", "k", "--value", "v")

	out := env.mustRun("metrics", "--prefix", "dsr_engine")
	if !strings.Contains(out, "dsr_engine_io_ops_total") {
		t.Fatalf("metrics output missing engine I/O counter:\n%s", out)
	}
	if strings.Contains(out, "dsr_pool_") {
		t.Fatalf("metrics output not filtered by prefix:\n%s", out)
	}
}

func TestDsr_JSONErrorOutput(t *testing.T) {
	env := newCmdTestEnv(t)

	out, err := env.run("--json", "pool", "query", "missing")
	if err == nil {
		t.Fatal("expected error querying a missing pool")
	}

	var result struct {
		Error  *string `json:"error"`
		Status int     `json:"status"`
	}
	if jerr := json.Unmarshal([]byte(out), &result); jerr != nil {
		t.Fatalf("failed to decode %q: %s", out, jerr)
	}
	if result.Error == nil {
		t.Fatal("expected error in JSON output")
	}
	var status daos.Status
	if errors.As(err, &status) {
		test.AssertEqual(t, int(status), result.Status, "JSON status")
	}
}

func TestDsr_InteractiveOnly(t *testing.T) {
	env := newCmdTestEnv(t)

	for _, args := range [][]string{{"shell"}, {"run"}} {
		if _, err := env.run(args...); err == nil {
			t.Fatalf("expected %q to be refused in a session", args[0])
		}
	}
}

func TestDsr_ShellFile(t *testing.T) {
	env := newCmdTestEnv(t)
	oid := daos.GenerateOID(0, 1, daos.ObjectTypeKVHashed, daos.ObjectClassS1).String()

	var out bytes.Buffer
	app := createShellApp(env.sys, filepath.Join(t.TempDir(), "history"), &out,
		func() *logging.LeveledLogger {
			log, _ := logging.NewTestLogger(t.Name())
			return log
		})

	dir := t.TempDir()
	good := test.CreateTestFile(t, dir, strings.Join([]string{
		"# create a pool and store a value",
		"pool create --scm-size 6MiB tank",
		"",
		"container create tank --label c1",
		"kv put tank c1 --oid " + oid + " --key k --value 'hello world'",
		"kv get tank c1 --oid " + oid + " --key k",
	}, "\n"))

	if err := runFileCmds(env.log, app, good); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out.String(), "hello world\n") {
		t.Fatalf("unexpected shell output %q", out.String())
	}

	bad := test.CreateTestFile(t, dir, "kv get tank c1 --oid "+oid+" --key missing\npool list\n")
	if err := runFileCmds(env.log, app, bad); err == nil {
		t.Fatal("expected error from failing command")
	}
}

func TestDsr_Version(t *testing.T) {
	env := newCmdTestEnv(t)

	out := env.mustRun("version")
	if !strings.HasPrefix(out, build.CLIName+" version ") {
		t.Fatalf("unexpected version output %q", out)
	}

	var resp struct {
		Name string `json:"name"`
	}
	env.runJSON(&resp, "version")
	test.AssertEqual(t, build.CLIName, resp.Name, "version name")
}

func TestDsr_LeftoverArgs(t *testing.T) {
	env := newCmdTestEnv(t)

	_, err := env.run("system", "query", "extra")
	test.CmpErr(t, errors.New(`unexpected argument "extra"`), err)
}

func TestDsr_ManPage(t *testing.T) {
	env := newCmdTestEnv(t)

	manPath := filepath.Join(t.TempDir(), "dsr.1")
	env.mustRun("manpage", "--output", manPath)

	data, err := os.ReadFile(manPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), ".TH "+build.CLIName) {
		t.Fatalf("unexpected man page:\n%s", data)
	}
}
