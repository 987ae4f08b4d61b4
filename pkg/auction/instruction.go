package auction

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/code-payments/code-auction/pkg/solana"
	"github.com/code-payments/code-auction/pkg/solana/system"
	"github.com/code-payments/code-auction/pkg/solana/token"
)

type InstructionType byte

const (
	InstructionOpen InstructionType = iota
	InstructionBid
	InstructionCancel
	InstructionClose
)

func (t InstructionType) String() string {
	switch t {
	case InstructionOpen:
		return "open"
	case InstructionBid:
		return "bid"
	case InstructionCancel:
		return "cancel"
	case InstructionClose:
		return "close"
	}
	return "unknown"
}

const (
	openDataSize   = 1 + 8 + 8
	bidDataSize    = 1 + 8
	cancelDataSize = 1
	closeDataSize  = 1
)

// Instruction is a decoded auction instruction. InitialPrice and Duration are
// only set for Open, Price only for Bid.
type Instruction struct {
	Type         InstructionType
	InitialPrice uint64
	Duration     uint64
	Price        uint64
}

func DecodeInstruction(data []byte) (*Instruction, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrInvalidInstruction, "empty instruction data")
	}

	ix := &Instruction{Type: InstructionType(data[0])}
	switch ix.Type {
	case InstructionOpen:
		if len(data) != openDataSize {
			return nil, errors.Wrapf(ErrInvalidInstruction, "invalid open data size: %d", len(data))
		}
		ix.InitialPrice = binary.LittleEndian.Uint64(data[1:])
		ix.Duration = binary.LittleEndian.Uint64(data[9:])
	case InstructionBid:
		if len(data) != bidDataSize {
			return nil, errors.Wrapf(ErrInvalidInstruction, "invalid bid data size: %d", len(data))
		}
		ix.Price = binary.LittleEndian.Uint64(data[1:])
	case InstructionCancel:
		if len(data) != cancelDataSize {
			return nil, errors.Wrapf(ErrInvalidInstruction, "invalid cancel data size: %d", len(data))
		}
	case InstructionClose:
		if len(data) != closeDataSize {
			return nil, errors.Wrapf(ErrInvalidInstruction, "invalid close data size: %d", len(data))
		}
	default:
		return nil, errors.Wrapf(ErrInvalidInstruction, "unknown instruction tag: %d", data[0])
	}

	return ix, nil
}

type OpenAccounts struct {
	Exhibitor          ed25519.PublicKey
	CollectibleSource  ed25519.PublicKey
	CollectibleCustody ed25519.PublicKey
	PayoutDestination  ed25519.PublicKey
	Escrow             ed25519.PublicKey
}

func NewOpenInstruction(programID ed25519.PublicKey, accounts *OpenAccounts, initialPrice, duration uint64) solana.Instruction {
	// Accounts expected by this instruction:
	//
	//   0. `[writable, signer]` The exhibitor
	//   1. `[writable]` The exhibitor's collectible token account
	//   2. `[writable]` The collectible custody account, owned by the exhibitor
	//   3. `[]` The exhibitor's payout destination
	//   4. `[writable]` The escrow account
	//   5. `[]` Rent sysvar
	//   6. `[]` Clock sysvar
	//   7. `[]` Token program
	data := make([]byte, openDataSize)
	data[0] = byte(InstructionOpen)
	binary.LittleEndian.PutUint64(data[1:], initialPrice)
	binary.LittleEndian.PutUint64(data[9:], duration)

	return solana.NewInstruction(
		programID,
		data,
		solana.NewAccountMeta(accounts.Exhibitor, true),
		solana.NewAccountMeta(accounts.CollectibleSource, false),
		solana.NewAccountMeta(accounts.CollectibleCustody, false),
		solana.NewReadonlyAccountMeta(accounts.PayoutDestination, false),
		solana.NewAccountMeta(accounts.Escrow, false),
		solana.NewReadonlyAccountMeta(system.RentSysVar, false),
		solana.NewReadonlyAccountMeta(system.ClockSysVar, false),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
	)
}

type BidAccounts struct {
	Bidder                          ed25519.PublicKey
	PreviousBidder                  ed25519.PublicKey
	PreviousBidderCurrencyCustody   ed25519.PublicKey
	PreviousBidderRefundDestination ed25519.PublicKey
	CurrencyCustody                 ed25519.PublicKey
	CurrencySource                  ed25519.PublicKey
	Escrow                          ed25519.PublicKey
	CustodyAuthority                ed25519.PublicKey
}

func NewBidInstruction(programID ed25519.PublicKey, accounts *BidAccounts, price uint64) solana.Instruction {
	// Accounts expected by this instruction:
	//
	//   0. `[writable, signer]` The bidder
	//   1. `[writable]` The previous highest bidder, or the null identity
	//   2. `[writable]` The previous highest bidder's currency custody account
	//   3. `[writable]` The previous highest bidder's refund destination
	//   4. `[writable]` The bidder's currency custody account, owned by the bidder
	//   5. `[writable]` The bidder's currency token account
	//   6. `[writable]` The escrow account
	//   7. `[]` Clock sysvar
	//   8. `[]` Token program
	//   9. `[]` The custody authority
	data := make([]byte, bidDataSize)
	data[0] = byte(InstructionBid)
	binary.LittleEndian.PutUint64(data[1:], price)

	return solana.NewInstruction(
		programID,
		data,
		solana.NewAccountMeta(accounts.Bidder, true),
		solana.NewAccountMeta(nullIfEmpty(accounts.PreviousBidder), false),
		solana.NewAccountMeta(nullIfEmpty(accounts.PreviousBidderCurrencyCustody), false),
		solana.NewAccountMeta(nullIfEmpty(accounts.PreviousBidderRefundDestination), false),
		solana.NewAccountMeta(accounts.CurrencyCustody, false),
		solana.NewAccountMeta(accounts.CurrencySource, false),
		solana.NewAccountMeta(accounts.Escrow, false),
		solana.NewReadonlyAccountMeta(system.ClockSysVar, false),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
		solana.NewReadonlyAccountMeta(accounts.CustodyAuthority, false),
	)
}

type CancelAccounts struct {
	Exhibitor          ed25519.PublicKey
	CollectibleCustody ed25519.PublicKey
	ReturnDestination  ed25519.PublicKey
	Escrow             ed25519.PublicKey
	CustodyAuthority   ed25519.PublicKey
}

func NewCancelInstruction(programID ed25519.PublicKey, accounts *CancelAccounts) solana.Instruction {
	// Accounts expected by this instruction:
	//
	//   0. `[writable, signer]` The exhibitor
	//   1. `[writable]` The collectible custody account
	//   2. `[writable]` The collectible return destination
	//   3. `[writable]` The escrow account
	//   4. `[]` Token program
	//   5. `[]` The custody authority
	return solana.NewInstruction(
		programID,
		[]byte{byte(InstructionCancel)},
		solana.NewAccountMeta(accounts.Exhibitor, true),
		solana.NewAccountMeta(accounts.CollectibleCustody, false),
		solana.NewAccountMeta(accounts.ReturnDestination, false),
		solana.NewAccountMeta(accounts.Escrow, false),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
		solana.NewReadonlyAccountMeta(accounts.CustodyAuthority, false),
	)
}

type CloseAccounts struct {
	Bidder                 ed25519.PublicKey
	Exhibitor              ed25519.PublicKey
	CollectibleCustody     ed25519.PublicKey
	PayoutDestination      ed25519.PublicKey
	CurrencyCustody        ed25519.PublicKey
	CollectibleDestination ed25519.PublicKey
	Escrow                 ed25519.PublicKey
	CustodyAuthority       ed25519.PublicKey
}

func NewCloseInstruction(programID ed25519.PublicKey, accounts *CloseAccounts) solana.Instruction {
	// Accounts expected by this instruction:
	//
	//   0. `[writable, signer]` The highest bidder
	//   1. `[writable]` The exhibitor
	//   2. `[writable]` The collectible custody account
	//   3. `[writable]` The exhibitor's payout destination
	//   4. `[writable]` The highest bidder's currency custody account
	//   5. `[writable]` The highest bidder's collectible destination
	//   6. `[writable]` The escrow account
	//   7. `[]` Clock sysvar
	//   8. `[]` Token program
	//   9. `[]` The custody authority
	return solana.NewInstruction(
		programID,
		[]byte{byte(InstructionClose)},
		solana.NewAccountMeta(accounts.Bidder, true),
		solana.NewAccountMeta(accounts.Exhibitor, false),
		solana.NewAccountMeta(accounts.CollectibleCustody, false),
		solana.NewAccountMeta(accounts.PayoutDestination, false),
		solana.NewAccountMeta(accounts.CurrencyCustody, false),
		solana.NewAccountMeta(accounts.CollectibleDestination, false),
		solana.NewAccountMeta(accounts.Escrow, false),
		solana.NewReadonlyAccountMeta(system.ClockSysVar, false),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
		solana.NewReadonlyAccountMeta(accounts.CustodyAuthority, false),
	)
}

func nullIfEmpty(key ed25519.PublicKey) ed25519.PublicKey {
	if len(key) == 0 {
		return NullIdentity
	}
	return key
}
