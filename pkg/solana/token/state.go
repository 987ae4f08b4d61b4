package token

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/code-auction/pkg/solana/binary"
)

type AccountState byte

const (
	AccountStateUninitialized AccountState = iota
	AccountStateInitialized
	AccountStateFrozen
)

// AccountSize is the size of a token account:
//
//	mint            32
//	owner           32
//	amount           8
//	delegate         4 + 32  (option tag + key)
//	state            1
//	is_native        4 + 8   (option tag + rent reserve)
//	delegated        8
//	close_authority  4 + 32  (option tag + key)
//
// Reference: https://github.com/solana-labs/solana-program-library/blob/11b1e3eefdd4e523768d63f7c70a7aa391ea0d02/token/program/src/state.rs#L125
const AccountSize = 165

// Options are encoded with a 4 byte tag
const optionSize = 4

var ErrInvalidAccountSize = errors.New("invalid token account size")

// Account is the state of a token account: a balance of one mint, held on
// behalf of Owner. Owner is the authority allowed to move the balance, which
// is how custody is handed over.
type Account struct {
	Mint   ed25519.PublicKey
	Owner  ed25519.PublicKey
	Amount uint64
	State  AccountState

	// Optional; nil when unset.
	Delegate        ed25519.PublicKey
	DelegatedAmount uint64
	CloseAuthority  ed25519.PublicKey

	// Set for wrapped native accounts, holding the rent exempt reserve.
	IsNative *uint64
}

// Marshal encodes the account into its AccountSize layout.
func (a *Account) Marshal() []byte {
	b := make([]byte, AccountSize)

	var offset int
	binary.PutKey32(b, a.Mint, &offset)
	binary.PutKey32(b[offset:], a.Owner, &offset)
	binary.PutUint64(b[offset:], a.Amount, &offset)
	binary.PutOptionalKey32(b[offset:], a.Delegate, &offset, optionSize)
	binary.PutUint8(b[offset:], uint8(a.State), &offset)
	binary.PutOptionalUint64(b[offset:], a.IsNative, &offset, optionSize)
	binary.PutUint64(b[offset:], a.DelegatedAmount, &offset)
	binary.PutOptionalKey32(b[offset:], a.CloseAuthority, &offset, optionSize)

	return b
}

// Unmarshal decodes an AccountSize buffer. Any other size is rejected.
func (a *Account) Unmarshal(b []byte) error {
	if len(b) != AccountSize {
		return errors.Wrapf(ErrInvalidAccountSize, "got %d bytes", len(b))
	}

	var state uint8
	var offset int
	binary.GetKey32(b, &a.Mint, &offset)
	binary.GetKey32(b[offset:], &a.Owner, &offset)
	binary.GetUint64(b[offset:], &a.Amount, &offset)
	binary.GetOptionalKey32(b[offset:], &a.Delegate, &offset, optionSize)
	binary.GetUint8(b[offset:], &state, &offset)
	binary.GetOptionalUint64(b[offset:], &a.IsNative, &offset, optionSize)
	binary.GetUint64(b[offset:], &a.DelegatedAmount, &offset)
	binary.GetOptionalKey32(b[offset:], &a.CloseAuthority, &offset, optionSize)
	a.State = AccountState(state)

	return nil
}

func (a *Account) IsInitialized() bool {
	return a.State != AccountStateUninitialized
}
