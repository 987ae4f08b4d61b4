package tests

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-auction/pkg/ledger/account"
)

func RunTests(t *testing.T, s account.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s account.Store){
		testRoundTrip,
		testGetMany,
		testCommitAtomic,
		testCloseDeletes,
	} {
		tf(t, s)
		teardown()
	}
}

func testRoundTrip(t *testing.T, s account.Store) {
	t.Run("testRoundTrip", func(t *testing.T) {
		ctx := context.Background()

		expected := newRecord(t, 1_000_000, []byte{1, 2, 3})

		actual, err := s.Get(ctx, expected.Address)
		assert.Equal(t, account.ErrAccountNotFound, err)
		assert.Nil(t, actual)

		cloned := expected.Clone()
		require.NoError(t, s.Commit(ctx, expected))

		actual, err = s.Get(ctx, expected.Address)
		require.NoError(t, err)
		assertEquivalentRecords(t, &cloned, actual)

		// Mutating the returned record must not leak into the store.
		actual.Data[0] = 0xff
		actual.Lamports = 1

		actual, err = s.Get(ctx, expected.Address)
		require.NoError(t, err)
		assertEquivalentRecords(t, &cloned, actual)

		expected.Lamports = 42
		expected.Data = make([]byte, 209)
		expected.Executable = true
		require.NoError(t, s.Commit(ctx, expected))

		actual, err = s.Get(ctx, expected.Address)
		require.NoError(t, err)
		assertEquivalentRecords(t, expected, actual)
	})
}

func testGetMany(t *testing.T, s account.Store) {
	t.Run("testGetMany", func(t *testing.T) {
		ctx := context.Background()

		a := newRecord(t, 10, nil)
		b := newRecord(t, 20, []byte{})
		missing := newRecord(t, 30, nil)
		require.NoError(t, s.Commit(ctx, a, b))

		actual, err := s.GetMany(ctx, b.Address, missing.Address, a.Address)
		require.NoError(t, err)
		require.Len(t, actual, 2)
		assertEquivalentRecords(t, b, actual[0])
		assertEquivalentRecords(t, a, actual[1])

		actual, err = s.GetMany(ctx)
		require.NoError(t, err)
		assert.Empty(t, actual)
	})
}

func testCommitAtomic(t *testing.T, s account.Store) {
	t.Run("testCommitAtomic", func(t *testing.T) {
		ctx := context.Background()

		valid := newRecord(t, 10, nil)
		invalid := newRecord(t, 10, nil)
		invalid.Owner = invalid.Owner[:5]

		assert.Error(t, s.Commit(ctx, valid, invalid))

		_, err := s.Get(ctx, valid.Address)
		assert.Equal(t, account.ErrAccountNotFound, err)
	})
}

func testCloseDeletes(t *testing.T, s account.Store) {
	t.Run("testCloseDeletes", func(t *testing.T) {
		ctx := context.Background()

		closing := newRecord(t, 2_039_280, make([]byte, 165))
		kept := newRecord(t, 5, nil)
		require.NoError(t, s.Commit(ctx, closing, kept))

		closing.Lamports = 0
		closing.Data = make([]byte, 165)
		kept.Lamports += 2_039_280
		require.NoError(t, s.Commit(ctx, closing, kept))

		_, err := s.Get(ctx, closing.Address)
		assert.Equal(t, account.ErrAccountNotFound, err)

		actual, err := s.Get(ctx, kept.Address)
		require.NoError(t, err)
		assert.EqualValues(t, 2_039_285, actual.Lamports)

		// Closing an account that never existed is a no-op.
		never := newRecord(t, 0, nil)
		require.NoError(t, s.Commit(ctx, never))
		_, err = s.Get(ctx, never.Address)
		assert.Equal(t, account.ErrAccountNotFound, err)
	})
}

func newRecord(t *testing.T, lamports uint64, data []byte) *account.Record {
	address, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	owner, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	return &account.Record{
		Address:  address,
		Lamports: lamports,
		Owner:    owner,
		Data:     data,
	}
}

func assertEquivalentRecords(t *testing.T, obj1, obj2 *account.Record) {
	assert.EqualValues(t, obj1.Address, obj2.Address)
	assert.Equal(t, obj1.Lamports, obj2.Lamports)
	assert.EqualValues(t, obj1.Owner, obj2.Owner)
	assert.Equal(t, len(obj1.Data), len(obj2.Data))
	if len(obj1.Data) > 0 {
		assert.Equal(t, obj1.Data, obj2.Data)
	}
	assert.Equal(t, obj1.Executable, obj2.Executable)
}
