//
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package api

import (
	"context"
	"testing"

	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/lib/daos"
)

func openTestKV(t *testing.T, ctx context.Context, ch *ContainerHandle, lo uint64) *KVHandle {
	t.Helper()

	oid := daos.GenerateOID(0, lo, daos.ObjectTypeKVHashed, daos.ObjectClassS1)
	kv, err := ch.OpenKV(ctx, oid, ObjectOpenModeReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kv.Close(context.Background()) })
	return kv
}

func TestAPI_OpenKV(t *testing.T) {
	ctx, ch := testContainer(t)

	_, err := ch.OpenKV(ctx, daos.GenerateOID(0, 1, daos.ObjectTypeArray, daos.ObjectClassS1), ObjectOpenModeReadOnly)
	test.CmpErr(t, daos.InvalidInput, err)

	kv := openTestKV(t, ctx, ch, 1)
	test.AssertEqual(t, daos.ObjectTypeKVHashed, kv.ID().Type(), "unexpected object type")
}

func TestAPI_KV_PutGet(t *testing.T) {
	ctx, ch := testContainer(t)
	kv := openTestKV(t, ctx, ch, 1)
	if err := kv.Put(ctx, nil, "present", []byte("value"), KVCondNone); err != nil {
		t.Fatal(err)
	}

	for name, tc := range map[string]struct {
		key    string
		value  []byte
		cond   KVCond
		expErr error
	}{
		"empty key": {
			value:  []byte("x"),
			expErr: daos.InvalidInput,
		},
		"empty value": {
			key:    "k",
			expErr: daos.InvalidInput,
		},
		"invalid condition": {
			key:    "k",
			value:  []byte("x"),
			cond:   KVCondPunch,
			expErr: daos.InvalidInput,
		},
		"insert existing": {
			key:    "present",
			value:  []byte("x"),
			cond:   KVCondInsert,
			expErr: daos.Exists,
		},
		"update missing": {
			key:    "absent",
			value:  []byte("x"),
			cond:   KVCondUpdate,
			expErr: daos.Nonexistent,
		},
		"insert new": {
			key:   "new",
			value: []byte("inserted"),
			cond:  KVCondInsert,
		},
		"update existing": {
			key:   "present",
			value: []byte("updated"),
			cond:  KVCondUpdate,
		},
	} {
		t.Run(name, func(t *testing.T) {
			err := kv.Put(ctx, nil, tc.key, tc.value, tc.cond)
			test.CmpErr(t, tc.expErr, err)
			if tc.expErr != nil {
				return
			}

			got, err := kv.GetValue(ctx, nil, tc.key)
			if err != nil {
				t.Fatal(err)
			}
			test.AssertEqual(t, string(tc.value), string(got), "unexpected value")
		})
	}
}

func TestAPI_KV_GetBuffer(t *testing.T) {
	ctx, ch := testContainer(t)
	kv := openTestKV(t, ctx, ch, 1)
	if err := kv.Put(ctx, nil, "k", []byte("12345"), KVCondNone); err != nil {
		t.Fatal(err)
	}

	size, err := kv.Get(ctx, nil, "k", nil)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, uint64(5), size, "unexpected size")

	size, err = kv.Get(ctx, nil, "k", make([]byte, 2))
	test.CmpErr(t, daos.BufTooSmall, err)
	test.AssertEqual(t, uint64(5), size, "expected size with short buffer")

	buf := make([]byte, 8)
	if _, err := kv.Get(ctx, nil, "k", buf); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "12345", string(buf[:5]), "unexpected buffer contents")

	_, err = kv.Get(ctx, nil, "missing", nil)
	test.CmpErr(t, daos.Nonexistent, err)
}

func TestAPI_KV_Remove(t *testing.T) {
	ctx, ch := testContainer(t)
	kv := openTestKV(t, ctx, ch, 1)
	if err := kv.Put(ctx, nil, "k", []byte("v"), KVCondNone); err != nil {
		t.Fatal(err)
	}

	test.CmpErr(t, daos.InvalidInput, kv.Remove(ctx, nil, "k", KVCondInsert))
	test.CmpErr(t, daos.Nonexistent, kv.Remove(ctx, nil, "missing", KVCondPunch))
	if err := kv.Remove(ctx, nil, "missing", KVCondNone); err != nil {
		t.Fatal(err)
	}
	if err := kv.Remove(ctx, nil, "k", KVCondPunch); err != nil {
		t.Fatal(err)
	}

	_, err := kv.Get(ctx, nil, "k", nil)
	test.CmpErr(t, daos.Nonexistent, err)

	// a removed key can be inserted again
	if err := kv.Put(ctx, nil, "k", []byte("again"), KVCondInsert); err != nil {
		t.Fatal(err)
	}
}

func TestAPI_KV_List(t *testing.T) {
	ctx, ch := testContainer(t)
	kv := openTestKV(t, ctx, ch, 1)

	want := []string{"a", "b", "c", "d", "e"}
	for _, key := range want {
		if err := kv.Put(ctx, nil, key, []byte(key), KVCondNone); err != nil {
			t.Fatal(err)
		}
	}

	var got []string
	anchor := &daos.Anchor{}
	for !anchor.EOF() {
		keys, err := kv.List(ctx, nil, anchor, 2)
		if err != nil {
			t.Fatal(err)
		}
		test.AssertTrue(t, len(keys) <= 2, "too many keys returned")
		got = append(got, keys...)
	}
	test.CmpAny(t, "listed keys", want, got)

	if err := kv.Destroy(ctx, nil); err != nil {
		t.Fatal(err)
	}
	keys, err := kv.List(ctx, nil, &daos.Anchor{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 0, len(keys), "expected no keys after destroy")
}

func TestAPI_KV_ReadOnly(t *testing.T) {
	ctx, ch := testContainer(t)
	oid := daos.GenerateOID(0, 1, daos.ObjectTypeKVHashed, daos.ObjectClassS1)

	kv, err := ch.OpenKV(ctx, oid, ObjectOpenModeReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close(ctx)

	test.CmpErr(t, daos.NoPermission, kv.Put(ctx, nil, "k", []byte("v"), KVCondNone))
	test.CmpErr(t, daos.NoPermission, kv.Remove(ctx, nil, "k", KVCondNone))
}

func TestAPI_KV_Tx(t *testing.T) {
	ctx, ch := testContainer(t)
	kv := openTestKV(t, ctx, ch, 1)
	if err := kv.Put(ctx, nil, "existing", []byte("v"), KVCondNone); err != nil {
		t.Fatal(err)
	}

	tx, err := ch.OpenTx(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Close(ctx)

	if err := kv.Put(ctx, tx, "k", []byte("buffered"), KVCondInsert); err != nil {
		t.Fatal(err)
	}
	// the tx sees its own write, others do not
	test.CmpErr(t, daos.Exists, kv.Put(ctx, tx, "k", []byte("again"), KVCondInsert))
	_, err = kv.Get(ctx, nil, "k", nil)
	test.CmpErr(t, daos.Nonexistent, err)

	if err := kv.Remove(ctx, tx, "existing", KVCondPunch); err != nil {
		t.Fatal(err)
	}
	_, err = kv.Get(ctx, tx, "existing", nil)
	test.CmpErr(t, daos.Nonexistent, err)

	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	val, err := kv.GetValue(ctx, nil, "k")
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "buffered", string(val), "unexpected committed value")
	_, err = kv.Get(ctx, nil, "existing", nil)
	test.CmpErr(t, daos.Nonexistent, err)
}
