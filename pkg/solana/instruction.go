package solana

import (
	"bytes"
	"crypto/ed25519"
	"sort"

	"github.com/pkg/errors"
)

// ErrIncorrectInstruction is returned when decoding data that belongs to a
// different instruction of the same program.
var ErrIncorrectInstruction = errors.New("incorrect instruction")

// AccountMeta is an account referenced by an instruction, with the privileges
// the instruction requires of it.
type AccountMeta struct {
	PublicKey  ed25519.PublicKey
	IsSigner   bool
	IsWritable bool

	isPayer   bool
	isProgram bool
}

// NewAccountMeta returns a writable account meta.
func NewAccountMeta(pub ed25519.PublicKey, isSigner bool) AccountMeta {
	return AccountMeta{PublicKey: pub, IsSigner: isSigner, IsWritable: true}
}

// NewReadonlyAccountMeta returns a readonly account meta.
func NewReadonlyAccountMeta(pub ed25519.PublicKey, isSigner bool) AccountMeta {
	return AccountMeta{PublicKey: pub, IsSigner: isSigner}
}

// rank orders metas within a message: the payer, then writable signers,
// readonly signers, writable non-signers, readonly non-signers, and finally
// programs invoked without any other privileges.
func (m AccountMeta) rank() int {
	switch {
	case m.isPayer:
		return 0
	case m.isProgram:
		return 5
	case m.IsSigner && m.IsWritable:
		return 1
	case m.IsSigner:
		return 2
	case m.IsWritable:
		return 3
	default:
		return 4
	}
}

// sortAccountMetas puts metas in message order, breaking ties by key so the
// compiled message is deterministic.
func sortAccountMetas(metas []AccountMeta) {
	sort.Slice(metas, func(i, j int) bool {
		if ri, rj := metas[i].rank(), metas[j].rank(); ri != rj {
			return ri < rj
		}
		return bytes.Compare(metas[i].PublicKey, metas[j].PublicKey) < 0
	})
}

// Instruction is a single program invocation.
type Instruction struct {
	Program  ed25519.PublicKey
	Accounts []AccountMeta
	Data     []byte
}

func NewInstruction(program ed25519.PublicKey, data []byte, accounts ...AccountMeta) Instruction {
	return Instruction{
		Program:  program,
		Data:     data,
		Accounts: accounts,
	}
}

// CompiledInstruction is an Instruction inside a Message, with the program and
// accounts replaced by indexes into the message's account list.
type CompiledInstruction struct {
	ProgramIndex byte
	Accounts     []byte
	Data         []byte
}
