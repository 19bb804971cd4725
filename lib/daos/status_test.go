//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package daos_test

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/lib/daos"
)

func TestDaos_Status(t *testing.T) {
	for name, tc := range map[string]struct {
		rc      int
		expErr  error
		expName string
		expStr  string
	}{
		"success": {
			rc: 0,
		},
		"nonexistent": {
			rc:      -1005,
			expErr:  daos.Nonexistent,
			expName: "DER_NONEXIST",
			expStr:  "DER_NONEXIST(-1005): The specified entity does not exist",
		},
		"tx restart": {
			rc:      -2024,
			expErr:  daos.TxRestart,
			expName: "DER_TX_RESTART",
			expStr:  "DER_TX_RESTART(-2024): Transaction should restart",
		},
		"unknown": {
			rc:      -9999,
			expErr:  daos.Status(-9999),
			expName: "DER_UNKNOWN",
			expStr:  "DER_UNKNOWN(-9999): Unknown error code",
		},
	} {
		t.Run(name, func(t *testing.T) {
			err := daos.ErrorFromRC(tc.rc)
			test.CmpErr(t, tc.expErr, err)
			if err == nil {
				return
			}

			ds := daos.StatusFromError(err)
			test.AssertEqual(t, tc.expName, ds.Name(), "unexpected name")
			test.AssertEqual(t, tc.expStr, ds.Error(), "unexpected string")
			test.AssertEqual(t, int32(tc.rc), ds.Int32(), "unexpected code")
		})
	}
}

func TestDaos_StatusFromError(t *testing.T) {
	for name, tc := range map[string]struct {
		err       error
		expStatus daos.Status
	}{
		"nil": {
			expStatus: daos.Success,
		},
		"plain": {
			err:       daos.Busy,
			expStatus: daos.Busy,
		},
		"wrapped": {
			err:       errors.Wrap(errors.Wrap(daos.NoSpace, "inner"), "outer"),
			expStatus: daos.NoSpace,
		},
		"not a status": {
			err:       errors.New("something else"),
			expStatus: daos.MiscError,
		},
	} {
		t.Run(name, func(t *testing.T) {
			test.AssertEqual(t, tc.expStatus, daos.StatusFromError(tc.err), "unexpected status")
			if tc.err != nil {
				test.AssertEqual(t, tc.expStatus != daos.MiscError, daos.IsStatus(tc.err, tc.expStatus), "unexpected IsStatus")
			}
		})
	}
}
