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

func TestAPI_Tx_States(t *testing.T) {
	ctx, ch := testContainer(t)
	kv := openTestKV(t, ctx, ch, 1)

	for name, tc := range map[string]struct {
		setup     func(*Tx) error
		expState  TxState
		expCommit error
	}{
		"empty commit": {
			expState: TxStateOpen,
		},
		"committed": {
			setup:     func(tx *Tx) error { return tx.Commit(ctx) },
			expState:  TxStateCommitted,
			expCommit: daos.TxCommitted,
		},
		"aborted": {
			setup: func(tx *Tx) error {
				if err := kv.Put(ctx, tx, "k", []byte("v"), KVCondNone); err != nil {
					return err
				}
				return tx.Abort(ctx)
			},
			expState:  TxStateAborted,
			expCommit: daos.TxAborted,
		},
		"closed": {
			setup:     func(tx *Tx) error { return tx.Close(ctx) },
			expState:  TxStateOpen,
			expCommit: daos.NoHandle,
		},
	} {
		t.Run(name, func(t *testing.T) {
			tx, err := ch.OpenTx(ctx, 0)
			if err != nil {
				t.Fatal(err)
			}
			if tc.setup != nil {
				if err := tc.setup(tx); err != nil {
					t.Fatal(err)
				}
			}
			test.AssertEqual(t, tc.expState, tx.State(), "unexpected state")
			test.CmpErr(t, tc.expCommit, tx.Commit(ctx))
		})
	}
}

func TestAPI_Tx_ReadOnly(t *testing.T) {
	ctx, ch := testContainer(t)
	kv := openTestKV(t, ctx, ch, 1)
	if err := kv.Put(ctx, nil, "k", []byte("v"), KVCondNone); err != nil {
		t.Fatal(err)
	}

	tx, err := ch.OpenTx(ctx, TxFlagReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Close(ctx)

	test.CmpErr(t, daos.TxReadOnly, kv.Put(ctx, tx, "k", []byte("x"), KVCondNone))
	val, err := kv.GetValue(ctx, tx, "k")
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "v", string(val), "unexpected value")
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestAPI_Tx_Isolation(t *testing.T) {
	ctx, ch := testContainer(t)
	kv := openTestKV(t, ctx, ch, 1)
	if err := kv.Put(ctx, nil, "k", []byte("before"), KVCondNone); err != nil {
		t.Fatal(err)
	}

	tx, err := ch.OpenTx(ctx, TxFlagReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Close(ctx)

	if err := kv.Put(ctx, nil, "k", []byte("after"), KVCondNone); err != nil {
		t.Fatal(err)
	}

	val, err := kv.GetValue(ctx, tx, "k")
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "before", string(val), "tx observed a later commit")
}

func TestAPI_Tx_Conflict(t *testing.T) {
	ctx, ch := testContainer(t)
	kv := openTestKV(t, ctx, ch, 1)
	if err := kv.Put(ctx, nil, "counter", []byte{0}, KVCondNone); err != nil {
		t.Fatal(err)
	}

	increment := func(tx *Tx) error {
		val, err := kv.GetValue(ctx, tx, "counter")
		if err != nil {
			return err
		}
		return kv.Put(ctx, tx, "counter", []byte{val[0] + 1}, KVCondNone)
	}

	tx1, err := ch.OpenTx(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer tx1.Close(ctx)
	tx2, err := ch.OpenTx(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Close(ctx)

	for _, tx := range []*Tx{tx1, tx2} {
		if err := increment(tx); err != nil {
			t.Fatal(err)
		}
	}

	if err := tx1.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, daos.TxRestart, tx2.Commit(ctx))
	test.AssertEqual(t, TxStateFailed, tx2.State(), "unexpected state after conflict")

	// nothing of the failed tx was applied
	val, err := kv.GetValue(ctx, nil, "counter")
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, byte(1), val[0], "unexpected counter after conflict")

	// a failed tx must be restarted before it can be used again
	test.CmpErr(t, daos.TxRestart, increment(tx2))
	if err := tx2.Restart(ctx); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, TxStateOpen, tx2.State(), "unexpected state after restart")
	if err := increment(tx2); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	val, err = kv.GetValue(ctx, nil, "counter")
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, byte(2), val[0], "unexpected counter after retry")
}

func TestAPI_Tx_DisjointKeys(t *testing.T) {
	ctx, ch := testContainer(t)
	kv := openTestKV(t, ctx, ch, 1)

	tx1, err := ch.OpenTx(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer tx1.Close(ctx)
	tx2, err := ch.OpenTx(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Close(ctx)

	if err := kv.Put(ctx, tx1, "one", []byte("1"), KVCondNone); err != nil {
		t.Fatal(err)
	}
	if err := kv.Put(ctx, tx2, "two", []byte("2"), KVCondNone); err != nil {
		t.Fatal(err)
	}
	if err := tx1.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	keys, err := kv.List(ctx, nil, &daos.Anchor{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	test.CmpAny(t, "keys", []string{"one", "two"}, keys)
}

func TestAPI_Tx_Atomic(t *testing.T) {
	ctx, ch := testContainer(t)
	kv1 := openTestKV(t, ctx, ch, 1)
	kv2 := openTestKV(t, ctx, ch, 2)
	if err := kv1.Put(ctx, nil, "seed", []byte("v"), KVCondNone); err != nil {
		t.Fatal(err)
	}

	tx, err := ch.OpenTx(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Close(ctx)

	for _, kv := range []*KVHandle{kv1, kv2} {
		if err := kv.Put(ctx, tx, "k", []byte("v"), KVCondNone); err != nil {
			t.Fatal(err)
		}
	}
	before, err := ch.Query(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	after, err := ch.Query(ctx)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertTrue(t, after.CommittedEpoch > before.CommittedEpoch, "commit epoch did not advance")

	// both updates are visible at the commit epoch and neither before it
	snapBefore, err := ch.OpenSnapTx(ctx, before.CommittedEpoch)
	if err != nil {
		t.Fatal(err)
	}
	snapAfter, err := ch.OpenSnapTx(ctx, after.CommittedEpoch)
	if err != nil {
		t.Fatal(err)
	}
	for _, kv := range []*KVHandle{kv1, kv2} {
		_, err := kv.Get(ctx, snapBefore, "k", nil)
		test.CmpErr(t, daos.Nonexistent, err)
		if _, err := kv.Get(ctx, snapAfter, "k", nil); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAPI_Tx_FailedCommitDiscarded(t *testing.T) {
	// larger than the NVMe share of any single target of the test pool
	const bigSize = 20 << 20

	for name, tc := range map[string]struct {
		write  func(t *testing.T, ctx context.Context, ch *ContainerHandle) error
		verify func(t *testing.T, ctx context.Context, ch *ContainerHandle)
	}{
		"tx with a value too large": {
			write: func(t *testing.T, ctx context.Context, ch *ContainerHandle) error {
				kv := openTestKV(t, ctx, ch, 1)
				tx, err := ch.OpenTx(ctx, 0)
				if err != nil {
					t.Fatal(err)
				}
				defer tx.Close(ctx)

				if err := kv.Put(ctx, tx, "a", []byte("small"), KVCondNone); err != nil {
					t.Fatal(err)
				}
				if err := kv.Put(ctx, tx, "b", make([]byte, bigSize), KVCondNone); err != nil {
					t.Fatal(err)
				}
				err = tx.Commit(ctx)
				test.AssertEqual(t, TxStateFailed, tx.State(), "unexpected state")
				return err
			},
			verify: func(t *testing.T, ctx context.Context, ch *ContainerHandle) {
				kv := openTestKV(t, ctx, ch, 1)
				for _, key := range []string{"a", "b"} {
					_, err := kv.GetValue(ctx, nil, key)
					test.CmpErr(t, daos.Nonexistent, err)
				}
				keys, err := kv.List(ctx, nil, &daos.Anchor{}, 0)
				if err != nil {
					t.Fatal(err)
				}
				test.AssertEqual(t, 0, len(keys), "unexpected keys")
			},
		},
		"array write spanning chunks": {
			write: func(t *testing.T, ctx context.Context, ch *ContainerHandle) error {
				ah := createTestArray(t, ctx, ch, 2, 1, bigSize)
				iod := ArrayIOD{Ranges: []ArrayRange{{Idx: bigSize - 4, Len: bigSize + 4}}}
				return ah.Write(ctx, nil, iod, make([]byte, bigSize+4))
			},
			verify: func(t *testing.T, ctx context.Context, ch *ContainerHandle) {
				oid := daos.GenerateOID(0, 2, daos.ObjectTypeArray, daos.ObjectClassS2)
				ah, err := ch.OpenArray(ctx, oid, nil, ObjectOpenModeReadOnly)
				if err != nil {
					t.Fatal(err)
				}
				defer ah.Close(ctx)

				size, err := ah.GetSize(ctx, nil)
				if err != nil {
					t.Fatal(err)
				}
				test.AssertEqual(t, uint64(0), size, "unexpected array size")
			},
		},
	} {
		t.Run(name, func(t *testing.T) {
			ctx, ch := testContainer(t)

			test.CmpErr(t, daos.NoSpace, tc.write(t, ctx, ch))

			// a later commit must not expose anything left by the failed one
			other := openTestKV(t, ctx, ch, 3)
			if err := other.Put(ctx, nil, "later", []byte("v"), KVCondNone); err != nil {
				t.Fatal(err)
			}

			tc.verify(t, ctx, ch)
		})
	}
}

func TestAPI_Tx_SnapRestart(t *testing.T) {
	ctx, ch := testContainer(t)

	_, err := ch.OpenSnapTx(ctx, 0)
	test.CmpErr(t, daos.InvalidInput, err)

	tx, err := ch.OpenSnapTx(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, daos.NotApplicable, tx.Restart(ctx))
	if err := tx.Close(ctx); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, daos.NoHandle, tx.Close(ctx))

	var nilTx *Tx
	test.CmpErr(t, daos.NoHandle, nilTx.Commit(ctx))
}

func TestAPI_TxState_String(t *testing.T) {
	for state, exp := range map[TxState]string{
		TxStateOpen:       "open",
		TxStateCommitting: "committing",
		TxStateCommitted:  "committed",
		TxStateAborted:    "aborted",
		TxStateFailed:     "failed",
	} {
		test.AssertEqual(t, exp, state.String(), "unexpected state string")
	}
}
