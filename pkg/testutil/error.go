package testutil

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-auction/pkg/solana"
)

// AssertCustomError verifies that the provided error is a transaction error
// whose failing instruction returned the custom program error code.
func AssertCustomError(t *testing.T, err error, code solana.CustomError) {
	require.Error(t, err)

	var txnErr *solana.TransactionError
	require.True(t, errors.As(err, &txnErr), "not a transaction error: %v", err)
	require.NotNil(t, txnErr.InstructionError(), "not an instruction error: %v", err)

	custom := txnErr.InstructionError().CustomError()
	require.NotNil(t, custom, "not a custom error: %v", err)
	assert.Equal(t, code, *custom)
}

// AssertInstructionError verifies that the provided error is a transaction
// error whose failing instruction returned the expected error.
func AssertInstructionError(t *testing.T, err error, expected error) {
	require.Error(t, err)

	var txnErr *solana.TransactionError
	require.True(t, errors.As(err, &txnErr), "not a transaction error: %v", err)
	require.NotNil(t, txnErr.InstructionError(), "not an instruction error: %v", err)
	assert.True(t, errors.Is(err, expected), "expected %v, got %v", expected, err)
}

// AssertTransactionError verifies that the provided error is a transaction
// error with the expected key.
func AssertTransactionError(t *testing.T, err error, key solana.TransactionErrorKey) {
	require.Error(t, err)

	var txnErr *solana.TransactionError
	require.True(t, errors.As(err, &txnErr), "not a transaction error: %v", err)
	assert.Equal(t, key, txnErr.ErrorKey())
}
