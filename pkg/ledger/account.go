package ledger

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/code-auction/pkg/ledger/account"
	"github.com/code-payments/code-auction/pkg/solana"
	"github.com/code-payments/code-auction/pkg/solana/system"
)

// AccountInfo is a program's view of an account referenced by the executing
// instruction. Views of the same account share state, so changes made by a
// program, or by a program it invokes, are visible through every view.
type AccountInfo struct {
	Key        ed25519.PublicKey
	IsSigner   bool
	IsWritable bool

	record *account.Record
}

func (a *AccountInfo) Lamports() uint64 {
	return a.record.Lamports
}

func (a *AccountInfo) SetLamports(lamports uint64) {
	a.record.Lamports = lamports
}

// Data returns the account data. Writes to the returned slice modify the
// account.
func (a *AccountInfo) Data() []byte {
	return a.record.Data
}

// Realloc resizes the account data, zero filling any growth.
func (a *AccountInfo) Realloc(size int) {
	if size <= len(a.record.Data) {
		a.record.Data = a.record.Data[:size]
		return
	}
	a.record.Data = append(a.record.Data, make([]byte, size-len(a.record.Data))...)
}

func (a *AccountInfo) Owner() ed25519.PublicKey {
	return a.record.Owner
}

// Assign changes the owning program.
func (a *AccountInfo) Assign(owner ed25519.PublicKey) {
	a.record.Owner = append(ed25519.PublicKey{}, owner...)
}

func (a *AccountInfo) Executable() bool {
	return a.record.Executable
}

// IsOwnedBy returns whether the program owns the account.
func (a *AccountInfo) IsOwnedBy(program ed25519.PublicKey) bool {
	return bytes.Equal(a.record.Owner, program)
}

// Credit adds lamports to the account, guarding against overflow.
func (a *AccountInfo) Credit(lamports uint64) error {
	if a.record.Lamports+lamports < a.record.Lamports {
		return solana.ErrArithmeticOverflow
	}
	a.record.Lamports += lamports
	return nil
}

// Debit removes lamports from the account.
func (a *AccountInfo) Debit(lamports uint64) error {
	if lamports > a.record.Lamports {
		return solana.ErrInsufficientFunds
	}
	a.record.Lamports -= lamports
	return nil
}

// ClockFromAccount reads the clock sysvar from its account.
func ClockFromAccount(info *AccountInfo) (*system.Clock, error) {
	if !bytes.Equal(info.Key, system.ClockSysVar) {
		return nil, errors.Wrap(solana.ErrInvalidArgument, "not the clock sysvar")
	}

	var clock system.Clock
	if err := clock.Unmarshal(info.Data()); err != nil {
		return nil, errors.Wrap(solana.ErrInvalidAccountData, err.Error())
	}
	return &clock, nil
}

// RentFromAccount reads the rent sysvar from its account.
func RentFromAccount(info *AccountInfo) (*system.Rent, error) {
	if !bytes.Equal(info.Key, system.RentSysVar) {
		return nil, errors.Wrap(solana.ErrInvalidArgument, "not the rent sysvar")
	}

	var rent system.Rent
	if err := rent.Unmarshal(info.Data()); err != nil {
		return nil, errors.Wrap(solana.ErrInvalidAccountData, err.Error())
	}
	return &rent, nil
}
