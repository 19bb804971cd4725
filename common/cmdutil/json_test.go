//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package cmdutil_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	pkgerrors "github.com/pkg/errors"

	"github.com/daos-stack/dsr/common/cmdutil"
	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/lib/daos"
)

func TestCmdutil_OutputJSON(t *testing.T) {
	for name, tc := range map[string]struct {
		in     interface{}
		cmdErr error
		expOut string
	}{
		"nil response": {
			expOut: "{\n  \"response\": null,\n  \"error\": null,\n  \"status\": 0\n}\n",
		},
		"response": {
			in:     map[string]int{"count": 2},
			expOut: "{\n  \"response\": {\n    \"count\": 2\n  },\n  \"error\": null,\n  \"status\": 0\n}\n",
		},
		"plain error": {
			cmdErr: errors.New("failed"),
			expOut: "{\n  \"response\": null,\n  \"error\": \"failed\",\n  \"status\": -1\n}\n",
		},
	} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			gotErr := cmdutil.OutputJSON(&buf, tc.in, tc.cmdErr)
			test.CmpErr(t, tc.cmdErr, gotErr)

			if diff := cmp.Diff(tc.expOut, buf.String()); diff != "" {
				t.Fatalf("unexpected output (-want, +got):\n%s\n", diff)
			}
		})
	}
}

func TestCmdutil_OutputJSON_Status(t *testing.T) {
	var buf bytes.Buffer
	cmdErr := pkgerrors.Wrap(daos.Nonexistent, "pool")
	test.CmpErr(t, daos.Nonexistent, cmdutil.OutputJSON(&buf, nil, cmdErr))

	var result struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, int(daos.Nonexistent.Int32()), result.Status, "unexpected status")
	test.AssertEqual(t, cmdErr.Error(), result.Error, "unexpected error")
}

func TestCmdutil_JSONOutputCmd(t *testing.T) {
	var cmd cmdutil.JSONOutputCmd
	test.AssertFalse(t, cmd.JSONOutputEnabled(), "enabled before EnableJSONOutput")

	var buf bytes.Buffer
	var wrote atomic.Bool
	cmd.EnableJSONOutput(&buf, &wrote)
	test.AssertTrue(t, cmd.JSONOutputEnabled(), "not enabled")

	if err := cmd.OutputJSON([]string{"a"}, nil); err != nil {
		t.Fatal(err)
	}
	test.AssertTrue(t, wrote.Load(), "write not recorded")
	first := buf.String()

	// only one response is written per invocation
	if err := cmd.OutputJSON([]string{"b"}, nil); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, first, buf.String(), "second response written")
}
