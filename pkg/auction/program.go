package auction

import (
	"crypto/ed25519"
	"fmt"
	"math"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-auction/pkg/ledger"
	"github.com/code-payments/code-auction/pkg/solana"
	"github.com/code-payments/code-auction/pkg/solana/token"
)

// Program is the on-ledger auction program. Register it with a ledger.Bank
// under the program ID clients address it by.
type Program struct {
	log *logrus.Entry
}

func NewProgram() *Program {
	return &Program{
		log: logrus.StandardLogger().WithField("type", "auction/program"),
	}
}

func (p *Program) Process(ctx *ledger.InvokeContext) error {
	ix, err := DecodeInstruction(ctx.Data)
	if err != nil {
		return p.fail(ctx, ErrInvalidInstruction, "%v", err)
	}

	log := p.log.WithFields(logrus.Fields{
		"method":  ix.Type.String(),
		"program": base58.Encode(ctx.ProgramID),
	})

	switch ix.Type {
	case InstructionOpen:
		ctx.Log("Initializing Auction...")
		err = p.processOpen(ctx, ix.InitialPrice, ix.Duration)
	case InstructionBid:
		ctx.Log("Placing a Bid in the Auction...")
		err = p.processBid(ctx, ix.Price)
	case InstructionCancel:
		ctx.Log("Cancelling the Auction ...")
		err = p.processCancel(ctx)
	case InstructionClose:
		ctx.Log("Closing the Auction ...")
		err = p.processClose(ctx)
	}

	if err != nil {
		log.WithError(err).Debug("auction instruction failed")
		return err
	}

	log.Debug("auction instruction processed")
	return nil
}

func (p *Program) processOpen(ctx *ledger.InvokeContext, initialPrice, duration uint64) error {
	accounts := newAccountIter(ctx.Accounts)
	exhibitor := accounts.next()
	collectibleSource := accounts.next()
	collectibleCustody := accounts.next()
	payoutDestination := accounts.next()
	escrowInfo := accounts.next()
	rentInfo := accounts.next()
	clockInfo := accounts.next()
	tokenProgram := accounts.next()
	if err := accounts.err(); err != nil {
		return err
	}

	if !exhibitor.IsSigner {
		return errors.Wrap(solana.ErrMissingRequiredSignature, "exhibitor must sign")
	}

	rent, err := ledger.RentFromAccount(rentInfo)
	if err != nil {
		return err
	}
	if !rent.IsExempt(escrowInfo.Lamports(), uint64(len(escrowInfo.Data()))) {
		return p.fail(ctx, ErrNotRentExempt, "escrow holds %d lamports", escrowInfo.Lamports())
	}

	if err := checkEscrowOwner(ctx, escrowInfo); err != nil {
		return err
	}
	state, err := ParseState(escrowInfo.Data())
	if err != nil {
		return err
	}
	if state.IsActive() {
		return errors.Wrap(solana.ErrAccountAlreadyInitialized, "escrow already holds an auction")
	}

	clock, err := ledger.ClockFromAccount(clockInfo)
	if err != nil {
		return err
	}
	if duration > uint64(math.MaxInt64-clock.UnixTimestamp) {
		return p.fail(ctx, ErrAmountOverflow, "duration %d overflows the auction end", duration)
	}

	if err := checkTokenProgram(tokenProgram); err != nil {
		return err
	}
	escrow, err := newCustody(ctx)
	if err != nil {
		return err
	}
	if err := p.checkDistinct(ctx, collectibleCustody, collectibleSource.Key); err != nil {
		return err
	}

	record := &Record{
		Exhibitor:                      exhibitor.Key,
		ExhibitedItemCustody:           collectibleCustody.Key,
		PayoutDestination:              payoutDestination.Key,
		CurrentPrice:                   initialPrice,
		AuctionEnd:                     clock.UnixTimestamp + int64(duration),
		HighestBidder:                  NullIdentity,
		HighestBidderCurrencyCustody:   NullIdentity,
		HighestBidderRefundDestination: NullIdentity,
	}
	copy(escrowInfo.Data(), record.Marshal())

	ctx.Log("Transferring the NFT to the Escrow Account...")
	if err := escrow.deposit(collectibleSource.Key, collectibleCustody.Key, exhibitor.Key, 1); err != nil {
		return err
	}

	ctx.Log("Changing ownership of the token account...")
	if err := escrow.handOver(collectibleCustody.Key, exhibitor.Key); err != nil {
		return err
	}

	return p.checkFresh(ctx, escrow, collectibleCustody, 1)
}

func (p *Program) processBid(ctx *ledger.InvokeContext, price uint64) error {
	accounts := newAccountIter(ctx.Accounts)
	bidder := accounts.next()
	previousBidder := accounts.next()
	previousCustody := accounts.next()
	previousRefundDestination := accounts.next()
	currencyCustody := accounts.next()
	currencySource := accounts.next()
	escrowInfo := accounts.next()
	clockInfo := accounts.next()
	tokenProgram := accounts.next()
	authorityInfo := accounts.next()
	if err := accounts.err(); err != nil {
		return err
	}

	if !bidder.IsSigner {
		return errors.Wrap(solana.ErrMissingRequiredSignature, "bidder must sign")
	}

	record, err := loadActiveRecord(ctx, escrowInfo)
	if err != nil {
		return err
	}

	clock, err := ledger.ClockFromAccount(clockInfo)
	if err != nil {
		return err
	}
	if record.AuctionEnd <= clock.UnixTimestamp {
		return p.fail(ctx, ErrInactiveAuction, "auction ended at %d", record.AuctionEnd)
	}

	if record.CurrentPrice >= price {
		return p.fail(ctx, ErrInsufficientBidPrice, "bid of %d does not exceed %d", price, record.CurrentPrice)
	}

	if !previousCustody.Key.Equal(record.HighestBidderCurrencyCustody) {
		return p.fail(ctx, ErrInvalidInstruction, "previous bidder custody mismatch")
	}
	if !previousRefundDestination.Key.Equal(record.HighestBidderRefundDestination) {
		return p.fail(ctx, ErrInvalidInstruction, "previous bidder refund destination mismatch")
	}
	if !previousBidder.Key.Equal(record.HighestBidder) {
		return p.fail(ctx, ErrInvalidInstruction, "previous bidder mismatch")
	}

	if bidder.Key.Equal(record.HighestBidder) {
		return p.fail(ctx, ErrAlreadyBid, "bidder already holds the highest bid")
	}

	if err := checkTokenProgram(tokenProgram); err != nil {
		return err
	}
	escrow, err := newCustody(ctx)
	if err != nil {
		return err
	}
	if err := escrow.checkAuthority(authorityInfo); err != nil {
		return err
	}
	if err := p.checkDistinct(ctx, currencyCustody, currencySource.Key, previousCustody.Key, previousRefundDestination.Key); err != nil {
		return err
	}

	ctx.Log("Transferring FT to the Escrow Account from the bidder...")
	if err := escrow.deposit(currencySource.Key, currencyCustody.Key, bidder.Key, price); err != nil {
		return err
	}

	ctx.Log("Changing ownership of the token account...")
	if err := escrow.handOver(currencyCustody.Key, bidder.Key); err != nil {
		return err
	}
	if err := p.checkFresh(ctx, escrow, currencyCustody, price); err != nil {
		return err
	}

	if record.HasBid() {
		held, err := escrow.load(previousCustody)
		if err != nil {
			return err
		}
		if held.Amount < record.CurrentPrice {
			return p.fail(ctx, ErrExpectedAmountMismatch, "previous bidder custody holds %d, expected %d", held.Amount, record.CurrentPrice)
		}

		// A refund destination the previous bidder closed or replaced can no
		// longer be paid, so the custody account itself goes back to them.
		if !canReceive(previousRefundDestination, held.Mint) {
			ctx.Log("Returning the FT temporary account to the previous highest bidder...")
			if err := escrow.handBack(previousCustody, previousBidder.Key); err != nil {
				return err
			}
		} else {
			ctx.Log("Transferring FT to the previous highest bidder from the escrow account...")
			if err := escrow.release(previousCustody.Key, previousRefundDestination.Key, held.Amount); err != nil {
				return err
			}

			ctx.Log("Closing the Highest Bidder's FT temporary account...")
			if err := escrow.close(previousCustody.Key, previousBidder.Key); err != nil {
				return err
			}
		}
	}

	record.CurrentPrice = price
	record.HighestBidder = bidder.Key
	record.HighestBidderCurrencyCustody = currencyCustody.Key
	record.HighestBidderRefundDestination = currencySource.Key
	copy(escrowInfo.Data(), record.Marshal())

	return nil
}

func (p *Program) processCancel(ctx *ledger.InvokeContext) error {
	accounts := newAccountIter(ctx.Accounts)
	exhibitor := accounts.next()
	collectibleCustody := accounts.next()
	returnDestination := accounts.next()
	escrowInfo := accounts.next()
	tokenProgram := accounts.next()
	authorityInfo := accounts.next()
	if err := accounts.err(); err != nil {
		return err
	}

	if !exhibitor.IsSigner {
		return errors.Wrap(solana.ErrMissingRequiredSignature, "exhibitor must sign")
	}

	record, err := loadActiveRecord(ctx, escrowInfo)
	if err != nil {
		return err
	}

	if !exhibitor.Key.Equal(record.Exhibitor) {
		return errors.Wrap(solana.ErrInvalidAccountData, "exhibitor mismatch")
	}
	if !collectibleCustody.Key.Equal(record.ExhibitedItemCustody) {
		return errors.Wrap(solana.ErrInvalidAccountData, "collectible custody mismatch")
	}
	if record.HasBid() {
		return p.fail(ctx, ErrAlreadyBid, "auction has a bidder")
	}

	if err := checkTokenProgram(tokenProgram); err != nil {
		return err
	}
	escrow, err := newCustody(ctx)
	if err != nil {
		return err
	}
	if err := escrow.checkAuthority(authorityInfo); err != nil {
		return err
	}

	amount, err := escrow.balance(collectibleCustody)
	if err != nil {
		return err
	}

	ctx.Log("Transferring NFT to the Exhibitor...")
	if err := escrow.release(collectibleCustody.Key, returnDestination.Key, amount); err != nil {
		return err
	}

	return p.closeEscrow(ctx, escrow, exhibitor, collectibleCustody, escrowInfo)
}

func (p *Program) processClose(ctx *ledger.InvokeContext) error {
	accounts := newAccountIter(ctx.Accounts)
	bidder := accounts.next()
	exhibitor := accounts.next()
	collectibleCustody := accounts.next()
	payoutDestination := accounts.next()
	currencyCustody := accounts.next()
	collectibleDestination := accounts.next()
	escrowInfo := accounts.next()
	clockInfo := accounts.next()
	tokenProgram := accounts.next()
	authorityInfo := accounts.next()
	if err := accounts.err(); err != nil {
		return err
	}

	if !bidder.IsSigner {
		return errors.Wrap(solana.ErrMissingRequiredSignature, "highest bidder must sign")
	}

	record, err := loadActiveRecord(ctx, escrowInfo)
	if err != nil {
		return err
	}

	clock, err := ledger.ClockFromAccount(clockInfo)
	if err != nil {
		return err
	}
	if record.AuctionEnd > clock.UnixTimestamp {
		remaining := record.AuctionEnd - clock.UnixTimestamp
		ctx.Log("Auction will end in %d seconds", remaining)
		return p.fail(ctx, ErrActiveAuction, "auction will end in %d seconds", remaining)
	}

	if !record.HasBid() {
		return p.fail(ctx, ErrNoBidderFound, "auction ended without bids")
	}

	if !bidder.Key.Equal(record.HighestBidder) {
		return errors.Wrap(solana.ErrInvalidAccountData, "highest bidder mismatch")
	}
	if !exhibitor.Key.Equal(record.Exhibitor) {
		return errors.Wrap(solana.ErrInvalidAccountData, "exhibitor mismatch")
	}
	if !collectibleCustody.Key.Equal(record.ExhibitedItemCustody) {
		return errors.Wrap(solana.ErrInvalidAccountData, "collectible custody mismatch")
	}
	if !payoutDestination.Key.Equal(record.PayoutDestination) {
		return errors.Wrap(solana.ErrInvalidAccountData, "payout destination mismatch")
	}
	if !currencyCustody.Key.Equal(record.HighestBidderCurrencyCustody) {
		return errors.Wrap(solana.ErrInvalidAccountData, "highest bidder custody mismatch")
	}

	if err := checkTokenProgram(tokenProgram); err != nil {
		return err
	}
	escrow, err := newCustody(ctx)
	if err != nil {
		return err
	}
	if err := escrow.checkAuthority(authorityInfo); err != nil {
		return err
	}

	collectibles, err := escrow.balance(collectibleCustody)
	if err != nil {
		return err
	}
	if collectibles == 0 {
		return p.fail(ctx, ErrExpectedAmountMismatch, "collectible custody is empty")
	}
	proceeds, err := escrow.load(currencyCustody)
	if err != nil {
		return err
	}
	if proceeds.Amount < record.CurrentPrice {
		return p.fail(ctx, ErrExpectedAmountMismatch, "highest bidder custody holds %d, expected %d", proceeds.Amount, record.CurrentPrice)
	}

	ctx.Log("Transferring NFT to the Highest Bidder...")
	if err := escrow.release(collectibleCustody.Key, collectibleDestination.Key, collectibles); err != nil {
		return err
	}

	// As with refunds, a payout destination that can no longer be paid gets
	// the custody account instead.
	if !canReceive(payoutDestination, proceeds.Mint) {
		ctx.Log("Returning the FT temporary account to the Exhibitor...")
		if err := escrow.handBack(currencyCustody, exhibitor.Key); err != nil {
			return err
		}
	} else {
		ctx.Log("Transferring FT to the Exhibitor...")
		if err := escrow.release(currencyCustody.Key, payoutDestination.Key, proceeds.Amount); err != nil {
			return err
		}

		ctx.Log("Closing the Highest Bidder's FT temporary account...")
		if err := escrow.close(currencyCustody.Key, bidder.Key); err != nil {
			return err
		}
	}

	return p.closeEscrow(ctx, escrow, exhibitor, collectibleCustody, escrowInfo)
}

// closeEscrow closes the emptied collectible custody account and the escrow
// account, returning the rent of both to the exhibitor.
func (p *Program) closeEscrow(ctx *ledger.InvokeContext, escrow *custody, exhibitor, collectibleCustody, escrowInfo *ledger.AccountInfo) error {
	ctx.Log("Closing the exhibitor's NFT temporary account...")
	if err := escrow.close(collectibleCustody.Key, exhibitor.Key); err != nil {
		return err
	}

	ctx.Log("Closing the Escrow Account...")
	if err := exhibitor.Credit(escrowInfo.Lamports()); err != nil {
		return p.fail(ctx, ErrAmountOverflow, "exhibitor balance overflow")
	}
	escrowInfo.SetLamports(0)

	data := escrowInfo.Data()
	for i := range data {
		data[i] = 0
	}

	return nil
}

// fail logs the auction error the way the program reports it and returns it
// as the matching custom program error.
func (p *Program) fail(ctx *ledger.InvokeContext, e Error, format string, args ...interface{}) error {
	ctx.Log("Error: %s", e)
	return newProgramError(e, fmt.Sprintf(format, args...))
}

// checkDistinct rejects a custody account that aliases another account the
// instruction moves funds between.
func (p *Program) checkDistinct(ctx *ledger.InvokeContext, custodyInfo *ledger.AccountInfo, others ...ed25519.PublicKey) error {
	for _, other := range others {
		if custodyInfo.Key.Equal(other) {
			return p.fail(ctx, ErrInvalidInstruction, "custody account %s is reused", base58.Encode(custodyInfo.Key))
		}
	}
	return nil
}

// checkFresh verifies a custody account just handed over holds exactly
// amount, and that nobody but the custody authority can move or close it.
func (p *Program) checkFresh(ctx *ledger.InvokeContext, escrow *custody, info *ledger.AccountInfo, amount uint64) error {
	account, err := escrow.load(info)
	if err != nil {
		return err
	}

	switch {
	case account.Amount != amount:
		return p.fail(ctx, ErrInvalidInstruction, "custody account holds %d, expected %d", account.Amount, amount)
	case account.Delegate != nil:
		return p.fail(ctx, ErrInvalidInstruction, "custody account has a delegate")
	case account.CloseAuthority != nil && !account.CloseAuthority.Equal(escrow.authority):
		return p.fail(ctx, ErrInvalidInstruction, "custody account has a foreign close authority")
	}
	return nil
}

func checkEscrowOwner(ctx *ledger.InvokeContext, escrowInfo *ledger.AccountInfo) error {
	if !escrowInfo.IsOwnedBy(ctx.ProgramID) {
		return errors.Wrap(solana.ErrIncorrectProgramID, "escrow is not owned by the auction program")
	}
	return nil
}

func checkTokenProgram(info *ledger.AccountInfo) error {
	if !info.Key.Equal(token.ProgramKey) {
		return errors.Wrap(solana.ErrIncorrectProgramID, "expected the token program")
	}
	return nil
}

func loadActiveRecord(ctx *ledger.InvokeContext, escrowInfo *ledger.AccountInfo) (*Record, error) {
	if err := checkEscrowOwner(ctx, escrowInfo); err != nil {
		return nil, err
	}

	state, err := ParseState(escrowInfo.Data())
	if err != nil {
		return nil, err
	}
	if !state.IsActive() {
		return nil, errors.Wrap(solana.ErrUninitializedAccount, "escrow holds no auction")
	}
	return state.Record, nil
}

type accountIter struct {
	accounts []*ledger.AccountInfo
	pos      int
	missing  bool
}

func newAccountIter(accounts []*ledger.AccountInfo) *accountIter {
	return &accountIter{accounts: accounts}
}

// next returns the next account. Once the accounts run out it returns an
// empty placeholder and err reports the shortage.
func (it *accountIter) next() *ledger.AccountInfo {
	if it.pos >= len(it.accounts) {
		it.missing = true
		return &ledger.AccountInfo{}
	}
	info := it.accounts[it.pos]
	it.pos++
	return info
}

func (it *accountIter) err() error {
	if it.missing {
		return errors.Wrapf(solana.ErrNotEnoughAccountKeys, "have %d accounts", len(it.accounts))
	}
	return nil
}
