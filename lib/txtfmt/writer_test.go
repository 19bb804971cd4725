//
// (C) Copyright 2020-2021 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package txtfmt

import (
	"bytes"
	"errors"
	"testing"

	"github.com/daos-stack/dsr/common/test"
)

type failingWriter struct {
	after int
	calls int
}

func (fw *failingWriter) Write(data []byte) (int, error) {
	fw.calls++
	if fw.calls > fw.after {
		return 0, errors.New("write failed")
	}
	return len(data), nil
}

func TestTxtFmt_ErrWriter(t *testing.T) {
	var buf bytes.Buffer
	ew := NewErrWriter(&buf)
	ew.Printf("%s=%d\n", "a", 1)
	ew.Println("b")
	if ew.Err != nil {
		t.Fatal(ew.Err)
	}
	test.AssertEqual(t, "a=1\nb\n", buf.String(), "unexpected output")

	fw := &failingWriter{after: 1}
	ew = NewErrWriter(fw)
	ew.Println("ok")
	ew.Println("fails")
	ew.Println("skipped")
	test.CmpErr(t, errors.New("write failed"), ew.Err)
	test.AssertEqual(t, 2, fw.calls, "writes continued after failure")
}
