package auction

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/code-auction/pkg/ledger"
	"github.com/code-payments/code-auction/pkg/solana"
	"github.com/code-payments/code-auction/pkg/solana/token"
)

// custody moves assets into and out of accounts held by the custody
// authority. Deposits are authorized by the depositor's own signature, while
// releases and closes are signed by the program as the custody authority.
type custody struct {
	ctx       *ledger.InvokeContext
	authority ed25519.PublicKey
	seeds     [][]byte
}

func newCustody(ctx *ledger.InvokeContext) (*custody, error) {
	authority, bump, err := GetCustodyAuthority(ctx.ProgramID)
	if err != nil {
		return nil, errors.Wrap(err, "failure deriving custody authority")
	}

	return &custody{
		ctx:       ctx,
		authority: authority,
		seeds:     custodyAuthoritySignerSeeds(bump),
	}, nil
}

// checkAuthority verifies the account passed as the custody authority is the
// derived one.
func (c *custody) checkAuthority(info *ledger.AccountInfo) error {
	if !info.Key.Equal(c.authority) {
		return newProgramError(ErrInvalidInstruction, "custody authority mismatch")
	}
	return nil
}

// deposit moves amount from source into a custody account, authorized by the
// source's owner.
func (c *custody) deposit(source, custodyAccount, owner ed25519.PublicKey, amount uint64) error {
	return c.ctx.Invoke(token.Transfer(source, custodyAccount, owner, amount))
}

// handOver makes the custody authority the holder of an account currently
// held by owner.
func (c *custody) handOver(custodyAccount, owner ed25519.PublicKey) error {
	return c.ctx.Invoke(token.SetAuthority(custodyAccount, owner, c.authority, token.AuthorityTypeAccountHolder))
}

// release moves amount out of a custody account to destination.
func (c *custody) release(custodyAccount, destination ed25519.PublicKey, amount uint64) error {
	return c.ctx.InvokeSigned(token.Transfer(custodyAccount, destination, c.authority, amount), c.seeds)
}

// close closes an emptied custody account, returning its rent to
// destination.
func (c *custody) close(custodyAccount, destination ed25519.PublicKey) error {
	return c.ctx.InvokeSigned(token.CloseAccount(custodyAccount, destination, c.authority), c.seeds)
}

// handBack returns a custody account to holder, balance included, clearing
// any close authority the custody authority was given.
func (c *custody) handBack(info *ledger.AccountInfo, holder ed25519.PublicKey) error {
	account, err := c.load(info)
	if err != nil {
		return err
	}

	if account.CloseAuthority != nil {
		if err := c.ctx.InvokeSigned(token.SetAuthority(info.Key, c.authority, nil, token.AuthorityTypeCloseAccount), c.seeds); err != nil {
			return err
		}
	}
	return c.ctx.InvokeSigned(token.SetAuthority(info.Key, c.authority, holder, token.AuthorityTypeAccountHolder), c.seeds)
}

// balance returns the token balance of a custody account.
func (c *custody) balance(info *ledger.AccountInfo) (uint64, error) {
	account, err := c.load(info)
	if err != nil {
		return 0, err
	}
	return account.Amount, nil
}

// load returns the state of an account held by the custody authority.
func (c *custody) load(info *ledger.AccountInfo) (*token.Account, error) {
	account, err := loadTokenAccount(info)
	if err != nil {
		return nil, err
	}
	if !account.Owner.Equal(c.authority) {
		return nil, errors.Wrap(solana.ErrInvalidAccountData, "custody account is not held by the custody authority")
	}
	return account, nil
}

// canReceive reports whether a transfer of mint tokens into info would
// succeed.
func canReceive(info *ledger.AccountInfo, mint ed25519.PublicKey) bool {
	account, err := loadTokenAccount(info)
	if err != nil {
		return false
	}
	return account.State == token.AccountStateInitialized && account.Mint.Equal(mint)
}

func loadTokenAccount(info *ledger.AccountInfo) (*token.Account, error) {
	if !info.IsOwnedBy(token.ProgramKey) {
		return nil, errors.Wrap(solana.ErrIncorrectProgramID, "custody account is not a token account")
	}

	var account token.Account
	if err := account.Unmarshal(info.Data()); err != nil {
		return nil, errors.Wrap(solana.ErrInvalidAccountData, err.Error())
	}
	if !account.IsInitialized() {
		return nil, errors.Wrap(solana.ErrUninitializedAccount, "custody account is not initialized")
	}
	return &account, nil
}
