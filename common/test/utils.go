//
// (C) Copyright 2018-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package test provides helpers shared by the package tests.
package test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/logging"
)

// AssertTrue asserts b is true
func AssertTrue(t *testing.T, b bool, message string) {
	t.Helper()

	if !b {
		t.Fatal(message)
	}
}

// AssertFalse asserts b is false
func AssertFalse(t *testing.T, b bool, message string) {
	t.Helper()

	if b {
		t.Fatal(message)
	}
}

// AssertEqual asserts b is equal to a
func AssertEqual(t *testing.T, a, b interface{}, message string) {
	t.Helper()

	if reflect.DeepEqual(a, b) {
		return
	}

	if message == "" {
		message = "values not equal"
	}
	t.Fatalf("%s: %#v != %#v", message, a, b)
}

// CmpErrBool compares two errors for equality, returning true if they match.
func CmpErrBool(want, got error) bool {
	if want == got {
		return true
	}
	if want == nil || got == nil {
		return false
	}
	if errors.Is(got, want) {
		return true
	}
	return strings.Contains(got.Error(), want.Error())
}

// CmpErr compares two errors for equality or at least close similarity in their messages.
func CmpErr(t *testing.T, want, got error) {
	t.Helper()

	if !CmpErrBool(want, got) {
		t.Fatalf("unexpected error\n(wanted: %v, got: %v)", want, got)
	}
}

// DefaultCmpOpts gets default go-cmp comparison options for tests.
func DefaultCmpOpts() []cmp.Option {
	return []cmp.Option{
		cmpopts.EquateEmpty(),
		cmp.Comparer(func(x, y uuid.UUID) bool { return x == y }),
		cmp.Comparer(func(x, y time.Time) bool { return x.Equal(y) }),
	}
}

// CmpAny compares two values and fails the test if they are not equal.
func CmpAny(t *testing.T, desc string, want, got any, cmpOpts ...cmp.Option) {
	t.Helper()

	if len(cmpOpts) == 0 {
		cmpOpts = DefaultCmpOpts()
	}
	if diff := cmp.Diff(want, got, cmpOpts...); diff != "" {
		t.Fatalf("unexpected %s (-want, +got):\n%s\n", desc, diff)
	}
}

// ShowBufferOnFailure displays captured output on test failure. Should be called
// via defer in the test function.
func ShowBufferOnFailure(t *testing.T, buf fmt.Stringer) {
	t.Helper()

	if t.Failed() {
		t.Log(buf.String())
	}
}

// Context returns a context that will be canceled when the test is complete.
func Context(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// MustLogContext returns a context containing the supplied logger.
// Canceled when the test is complete.
func MustLogContext(t *testing.T, log logging.Logger) context.Context {
	t.Helper()

	ctx, err := logging.ToContext(Context(t), log)
	if err != nil {
		t.Fatal(err)
	}
	return ctx
}

// MockUUID returns mock UUID values for use in tests.
func MockUUID(idxList ...int32) string {
	idx := int32(0)
	if len(idxList) > 0 {
		idx = idxList[0]
	}

	return fmt.Sprintf("%08d-%04d-%04d-%04d-%012d", idx, idx, idx, idx, idx)
}

// MockPoolUUID returns mock pool UUID values for use in tests.
func MockPoolUUID(idxList ...int32) uuid.UUID {
	return uuid.MustParse(MockUUID(idxList...))
}

// CreateTestDir creates a temporary test directory which is removed when
// the test is complete.
func CreateTestDir(t *testing.T) string {
	t.Helper()

	return t.TempDir()
}

// CreateTestFile creates a file in the supplied directory with the supplied contents.
func CreateTestFile(t *testing.T, dir, content string) string {
	t.Helper()

	f, err := os.CreateTemp(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}

	return filepath.Clean(f.Name())
}
