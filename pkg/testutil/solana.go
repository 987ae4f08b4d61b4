package testutil

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-auction/pkg/ledger/account"
	"github.com/code-payments/code-auction/pkg/solana/system"
	"github.com/code-payments/code-auction/pkg/solana/token"
)

func GenerateSolanaKeypair(t *testing.T) ed25519.PrivateKey {
	_, p, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return p
}

func GenerateSolanaKeys(t *testing.T, n int) []ed25519.PublicKey {
	keys := make([]ed25519.PublicKey, n)
	for i := 0; i < n; i++ {
		p, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		keys[i] = p
	}
	return keys
}

// FundAccount sets the lamport balance of a system owned account, bypassing
// transaction execution.
func FundAccount(t *testing.T, store account.Store, address ed25519.PublicKey, lamports uint64) {
	require.NoError(t, store.Commit(context.Background(), &account.Record{
		Address:  address,
		Lamports: lamports,
		Owner:    system.SystemAccount,
	}))
}

// CreateTokenAccount writes an initialized, rent exempt token account holding
// amount units of mint, bypassing transaction execution.
func CreateTokenAccount(t *testing.T, store account.Store, address, mint, owner ed25519.PublicKey, amount uint64) {
	state := token.Account{
		Mint:   mint,
		Owner:  owner,
		Amount: amount,
		State:  token.AccountStateInitialized,
	}

	require.NoError(t, store.Commit(context.Background(), &account.Record{
		Address:  address,
		Lamports: system.DefaultRent.MinimumBalance(token.AccountSize),
		Owner:    token.ProgramKey,
		Data:     state.Marshal(),
	}))
}

// GetLamports returns the committed lamport balance of the account, or zero if
// it does not exist.
func GetLamports(t *testing.T, store account.Store, address ed25519.PublicKey) uint64 {
	record, err := store.Get(context.Background(), address)
	if err == account.ErrAccountNotFound {
		return 0
	}
	require.NoError(t, err)
	return record.Lamports
}

// GetTokenAccount returns the committed token account state.
func GetTokenAccount(t *testing.T, store account.Store, address ed25519.PublicKey) *token.Account {
	record, err := store.Get(context.Background(), address)
	require.NoError(t, err)
	require.Equal(t, token.ProgramKey, record.Owner)

	var state token.Account
	require.NoError(t, state.Unmarshal(record.Data))
	return &state
}

// RequireAccountClosed asserts the account no longer exists.
func RequireAccountClosed(t *testing.T, store account.Store, address ed25519.PublicKey) {
	_, err := store.Get(context.Background(), address)
	require.Equal(t, account.ErrAccountNotFound, err)
}
