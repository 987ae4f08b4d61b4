package system

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/code-payments/code-auction/pkg/solana"
)

var ProgramKey [32]byte

type Command uint32

const (
	CommandCreateAccount Command = iota
	// nolint:varcheck,deadcode,unused
	commandAssign
	CommandTransfer
)

// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/system_instruction.rs#L14
const (
	ErrorAccountAlreadyInUse solana.CustomError = iota
	ErrorResultWithNegativeLamports
	// nolint:varcheck,deadcode,unused
	ErrorInvalidProgramId
	ErrorInvalidAccountDataLength
)

// MaxPermittedDataLength is the largest data size CreateAccount allocates.
const MaxPermittedDataLength = 10 * 1024 * 1024

const (
	createAccountDataSize = 4 + 2*8 + 32
	transferDataSize      = 4 + 8
)

// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/system_instruction.rs#L58-L72
func CreateAccount(funder, address, owner ed25519.PublicKey, lamports, size uint64) solana.Instruction {
	// # Account references
	//   0. [WRITE, SIGNER] Funding account
	//   1. [WRITE, SIGNER] New account
	//
	// CreateAccount {
	//   lamports: u64,
	//   space: u64,
	//   owner: Pubkey,
	// }
	data := make([]byte, createAccountDataSize)
	binary.LittleEndian.PutUint32(data, uint32(CommandCreateAccount))
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[4+8:], size)
	copy(data[4+2*8:], owner)

	return solana.NewInstruction(
		ProgramKey[:],
		data,
		solana.NewAccountMeta(funder, true),
		solana.NewAccountMeta(address, true),
	)
}

// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/system_instruction.rs#L88
func Transfer(from, to ed25519.PublicKey, lamports uint64) solana.Instruction {
	// # Account references
	//   0. [WRITE, SIGNER] Funding account
	//   1. [WRITE] Recipient account
	data := make([]byte, transferDataSize)
	binary.LittleEndian.PutUint32(data, uint32(CommandTransfer))
	binary.LittleEndian.PutUint64(data[4:], lamports)

	return solana.NewInstruction(
		ProgramKey[:],
		data,
		solana.NewAccountMeta(from, true),
		solana.NewAccountMeta(to, false),
	)
}

// GetCommand returns the command selector at the head of system instruction data.
func GetCommand(data []byte) (Command, error) {
	if len(data) < 4 {
		return 0, solana.ErrInvalidInstructionData
	}
	return Command(binary.LittleEndian.Uint32(data)), nil
}

type CreateAccountArgs struct {
	Lamports uint64
	Size     uint64
	Owner    ed25519.PublicKey
}

func DecodeCreateAccount(data []byte) (*CreateAccountArgs, error) {
	cmd, err := GetCommand(data)
	if err != nil {
		return nil, err
	}
	if cmd != CommandCreateAccount {
		return nil, solana.ErrIncorrectInstruction
	}
	if len(data) != createAccountDataSize {
		return nil, errors.Wrapf(solana.ErrInvalidInstructionData, "invalid create account data size: %d", len(data))
	}

	args := &CreateAccountArgs{
		Lamports: binary.LittleEndian.Uint64(data[4:]),
		Size:     binary.LittleEndian.Uint64(data[4+8:]),
		Owner:    make(ed25519.PublicKey, ed25519.PublicKeySize),
	}
	copy(args.Owner, data[4+2*8:])
	return args, nil
}

func DecodeTransfer(data []byte) (uint64, error) {
	cmd, err := GetCommand(data)
	if err != nil {
		return 0, err
	}
	if cmd != CommandTransfer {
		return 0, solana.ErrIncorrectInstruction
	}
	if len(data) != transferDataSize {
		return 0, errors.Wrapf(solana.ErrInvalidInstructionData, "invalid transfer data size: %d", len(data))
	}
	return binary.LittleEndian.Uint64(data[4:]), nil
}
