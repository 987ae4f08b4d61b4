package ledger

import (
	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/code-auction/pkg/solana"
	"github.com/code-payments/code-auction/pkg/solana/system"
)

func processSystem(ctx *InvokeContext) error {
	cmd, err := system.GetCommand(ctx.Data)
	if err != nil {
		return err
	}

	switch cmd {
	case system.CommandCreateAccount:
		return processCreateAccount(ctx)
	case system.CommandTransfer:
		return processSystemTransfer(ctx)
	default:
		return errors.Wrapf(solana.ErrInvalidInstructionData, "unsupported system command: %d", cmd)
	}
}

// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/runtime/src/system_instruction_processor.rs#L168
func processCreateAccount(ctx *InvokeContext) error {
	args, err := system.DecodeCreateAccount(ctx.Data)
	if err != nil {
		return err
	}
	if len(ctx.Accounts) < 2 {
		return solana.ErrNotEnoughAccountKeys
	}

	funder, created := ctx.Accounts[0], ctx.Accounts[1]
	if !funder.IsSigner || !created.IsSigner {
		return solana.ErrMissingRequiredSignature
	}

	if created.Lamports() > 0 || len(created.Data()) > 0 || !created.IsOwnedBy(system.SystemAccount) {
		ctx.Log("Create Account: account %s already in use", base58.Encode(created.Key))
		return system.ErrorAccountAlreadyInUse
	}

	if args.Size > system.MaxPermittedDataLength {
		return system.ErrorInvalidAccountDataLength
	}

	if err := debitSystemAccount(ctx, funder, args.Lamports); err != nil {
		return err
	}

	created.Realloc(int(args.Size))
	created.Assign(args.Owner)
	return created.Credit(args.Lamports)
}

func processSystemTransfer(ctx *InvokeContext) error {
	lamports, err := system.DecodeTransfer(ctx.Data)
	if err != nil {
		return err
	}
	if len(ctx.Accounts) < 2 {
		return solana.ErrNotEnoughAccountKeys
	}

	from, to := ctx.Accounts[0], ctx.Accounts[1]
	if !from.IsSigner {
		return solana.ErrMissingRequiredSignature
	}

	if err := debitSystemAccount(ctx, from, lamports); err != nil {
		return err
	}
	return to.Credit(lamports)
}

func debitSystemAccount(ctx *InvokeContext, from *AccountInfo, lamports uint64) error {
	if len(from.Data()) > 0 {
		return errors.Wrap(solana.ErrInvalidArgument, "from must not carry data")
	}
	if !from.IsOwnedBy(system.SystemAccount) {
		return errors.Wrap(solana.ErrInvalidArgument, "from must be a system account")
	}
	if lamports > from.Lamports() {
		ctx.Log("Transfer: insufficient lamports %d, need %d", from.Lamports(), lamports)
		return system.ErrorResultWithNegativeLamports
	}

	return from.Debit(lamports)
}
