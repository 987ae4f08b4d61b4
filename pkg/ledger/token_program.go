package ledger

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/code-payments/code-auction/pkg/solana"
	"github.com/code-payments/code-auction/pkg/solana/token"
)

// processToken implements the subset of the token program used for escrow.
// Mints are treated as opaque identities: supply is not tracked.
//
// Reference: https://github.com/solana-labs/solana-program-library/blob/b011698251981b5a12088acba18fad1d41c3719a/token/program/src/processor.rs
func processToken(ctx *InvokeContext) error {
	cmd, err := token.GetCommand(ctx.Data)
	if err != nil {
		return err
	}

	switch cmd {
	case token.CommandInitializeAccount:
		return processInitializeAccount(ctx)
	case token.CommandTransfer:
		return processTokenTransfer(ctx)
	case token.CommandSetAuthority:
		return processSetAuthority(ctx)
	case token.CommandCloseAccount:
		return processCloseAccount(ctx)
	default:
		return errors.Wrapf(token.ErrorInvalidInstruction, "unsupported token command: %d", cmd)
	}
}

func processInitializeAccount(ctx *InvokeContext) error {
	if len(ctx.Data) != 1 {
		return token.ErrorInvalidInstruction
	}
	if len(ctx.Accounts) < 4 {
		return solana.ErrNotEnoughAccountKeys
	}

	info, mint, owner, rentInfo := ctx.Accounts[0], ctx.Accounts[1], ctx.Accounts[2], ctx.Accounts[3]

	rent, err := RentFromAccount(rentInfo)
	if err != nil {
		return err
	}

	state, err := loadTokenAccount(info, false)
	if err != nil {
		return err
	}
	if state.IsInitialized() {
		return token.ErrorAlreadyInUse
	}

	if !rent.IsExempt(info.Lamports(), uint64(len(info.Data()))) {
		return token.ErrorNotRentExempt
	}

	state = &token.Account{
		Mint:  mint.Key,
		Owner: owner.Key,
		State: token.AccountStateInitialized,
	}
	copy(info.Data(), state.Marshal())
	return nil
}

func processTokenTransfer(ctx *InvokeContext) error {
	amount, err := token.DecodeTransfer(ctx.Data)
	if err != nil {
		return err
	}
	if len(ctx.Accounts) < 3 {
		return solana.ErrNotEnoughAccountKeys
	}

	sourceInfo, destInfo, authority := ctx.Accounts[0], ctx.Accounts[1], ctx.Accounts[2]

	source, err := loadTokenAccount(sourceInfo, true)
	if err != nil {
		return err
	}
	dest, err := loadTokenAccount(destInfo, true)
	if err != nil {
		return err
	}

	if source.State == token.AccountStateFrozen || dest.State == token.AccountStateFrozen {
		return token.ErrorAccountFrozen
	}
	if source.Amount < amount {
		ctx.Log("Error: insufficient funds")
		return token.ErrorInsufficientFunds
	}
	if !bytes.Equal(source.Mint, dest.Mint) {
		return token.ErrorMintMismatch
	}
	if err := validateOwner(source.Owner, authority); err != nil {
		return err
	}

	if bytes.Equal(sourceInfo.Key, destInfo.Key) {
		return nil
	}

	if dest.Amount+amount < dest.Amount {
		return token.ErrorOverflow
	}
	source.Amount -= amount
	dest.Amount += amount

	copy(sourceInfo.Data(), source.Marshal())
	copy(destInfo.Data(), dest.Marshal())
	return nil
}

func processSetAuthority(ctx *InvokeContext) error {
	args, err := token.DecodeSetAuthority(ctx.Data)
	if err != nil {
		return err
	}
	if len(ctx.Accounts) < 2 {
		return solana.ErrNotEnoughAccountKeys
	}

	info, authority := ctx.Accounts[0], ctx.Accounts[1]

	state, err := loadTokenAccount(info, true)
	if err != nil {
		return err
	}
	if state.State == token.AccountStateFrozen {
		return token.ErrorAccountFrozen
	}

	switch args.Type {
	case token.AuthorityTypeAccountHolder:
		if err := validateOwner(state.Owner, authority); err != nil {
			return err
		}
		if args.NewAuthority == nil {
			return errors.Wrap(token.ErrorInvalidInstruction, "account holder cannot be unset")
		}

		state.Owner = args.NewAuthority
		state.Delegate = nil
		state.DelegatedAmount = 0
	case token.AuthorityTypeCloseAccount:
		current := state.CloseAuthority
		if current == nil {
			current = state.Owner
		}
		if err := validateOwner(current, authority); err != nil {
			return err
		}

		state.CloseAuthority = args.NewAuthority
	default:
		return token.ErrorAuthorityTypeNotSupported
	}

	copy(info.Data(), state.Marshal())
	return nil
}

func processCloseAccount(ctx *InvokeContext) error {
	if len(ctx.Data) != 1 {
		return token.ErrorInvalidInstruction
	}
	if len(ctx.Accounts) < 3 {
		return solana.ErrNotEnoughAccountKeys
	}

	info, dest, authority := ctx.Accounts[0], ctx.Accounts[1], ctx.Accounts[2]
	if bytes.Equal(info.Key, dest.Key) {
		return solana.ErrInvalidAccountData
	}

	state, err := loadTokenAccount(info, true)
	if err != nil {
		return err
	}
	if state.Amount != 0 {
		ctx.Log("Error: non-native account has balance")
		return token.ErrorNonNativeHasBalance
	}

	closeAuthority := state.CloseAuthority
	if closeAuthority == nil {
		closeAuthority = state.Owner
	}
	if err := validateOwner(closeAuthority, authority); err != nil {
		return err
	}

	if err := dest.Credit(info.Lamports()); err != nil {
		return token.ErrorOverflow
	}
	info.SetLamports(0)

	data := info.Data()
	for i := range data {
		data[i] = 0
	}
	return nil
}

// loadTokenAccount parses the token account, requiring it to be initialized
// when initialized is set.
func loadTokenAccount(info *AccountInfo, initialized bool) (*token.Account, error) {
	if !info.IsOwnedBy(token.ProgramKey) {
		return nil, solana.ErrIncorrectProgramID
	}

	var state token.Account
	if err := state.Unmarshal(info.Data()); err != nil {
		return nil, errors.Wrap(solana.ErrInvalidAccountData, err.Error())
	}
	if initialized && !state.IsInitialized() {
		return nil, token.ErrorUninitializedState
	}
	return &state, nil
}

func validateOwner(expected []byte, authority *AccountInfo) error {
	if !bytes.Equal(expected, authority.Key) {
		return token.ErrorOwnerMismatch
	}
	if !authority.IsSigner {
		return solana.ErrMissingRequiredSignature
	}
	return nil
}
