package ledger

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"math/bits"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-auction/pkg/ledger/account"
	"github.com/code-payments/code-auction/pkg/solana"
	"github.com/code-payments/code-auction/pkg/solana/system"
)

// InvokeContext is everything a program sees while processing one
// instruction, either from the transaction itself or from another program.
type InvokeContext struct {
	ctx   context.Context
	exec  *execution
	depth int
	pre   map[string]account.Record

	ProgramID ed25519.PublicKey
	Accounts  []*AccountInfo
	Data      []byte
}

func (c *InvokeContext) Context() context.Context {
	return c.ctx
}

// Rent returns the rent parameters in effect for the transaction.
func (c *InvokeContext) Rent() system.Rent {
	return c.exec.rent
}

// Clock returns the clock published to the transaction.
func (c *InvokeContext) Clock() system.Clock {
	return c.exec.clock
}

// Log records a program log line on the transaction result.
func (c *InvokeContext) Log(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.exec.appendLog("Program log: " + msg)
	c.exec.log.WithFields(logrus.Fields{
		"program": base58.Encode(c.ProgramID),
		"depth":   c.depth,
	}).Trace(msg)
}

// Invoke processes ix with the calling program's privileges. Every account ix
// references, including its program, must be available to the caller.
func (c *InvokeContext) Invoke(ix solana.Instruction) error {
	return c.invoke(ix, nil)
}

// InvokeSigned is Invoke, additionally granting signer status to the program
// addresses the calling program derives from each set of seeds.
func (c *InvokeContext) InvokeSigned(ix solana.Instruction, signerSeeds ...[][]byte) error {
	signers := make([]ed25519.PublicKey, 0, len(signerSeeds))
	for _, seeds := range signerSeeds {
		pda, err := solana.CreateProgramAddress(c.ProgramID, seeds...)
		if err != nil {
			return c.fail(errors.Wrapf(solana.ErrInvalidArgument, "invalid signer seeds: %v", err))
		}
		signers = append(signers, pda)
	}

	return c.invoke(ix, signers)
}

func (c *InvokeContext) invoke(ix solana.Instruction, signers []ed25519.PublicKey) error {
	if err := c.cpi(ix, signers); err != nil {
		return c.fail(err)
	}
	return nil
}

// fail records the first failure of a nested call. The transaction fails
// with it even if the caller chooses to continue.
func (c *InvokeContext) fail(err error) error {
	if c.exec.err == nil {
		c.exec.err = err
	}
	return err
}

func (c *InvokeContext) cpi(ix solana.Instruction, signers []ed25519.PublicKey) error {
	if c.depth+1 > c.exec.maxDepth {
		return solana.ErrCallDepth
	}

	if _, _, _, ok := c.lookup(ix.Program); !ok {
		return errors.Wrapf(solana.ErrMissingAccount, "program %s", base58.Encode(ix.Program))
	}

	infos := make([]*AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		record, callerSigner, callerWritable, ok := c.lookup(meta.PublicKey)
		if !ok {
			return errors.Wrapf(solana.ErrMissingAccount, "account %s", base58.Encode(meta.PublicKey))
		}

		if meta.IsWritable && !callerWritable {
			return errors.Wrapf(solana.ErrPrivilegeEscalation, "%s writable privilege escalated", base58.Encode(meta.PublicKey))
		}
		if meta.IsSigner && !callerSigner && !containsKey(signers, meta.PublicKey) {
			return errors.Wrapf(solana.ErrPrivilegeEscalation, "%s signer privilege escalated", base58.Encode(meta.PublicKey))
		}

		infos[i] = &AccountInfo{
			Key:        record.Address,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
			record:     record,
		}
	}

	// Changes the caller made so far are checked against its own privileges
	// before the callee gets to see them.
	if err := c.verify(); err != nil {
		return err
	}

	if err := c.exec.process(c.ctx, ix.Program, infos, ix.Data, c.depth+1); err != nil {
		return err
	}

	c.snapshot()
	return nil
}

func (c *InvokeContext) lookup(key ed25519.PublicKey) (record *account.Record, signer, writable, ok bool) {
	for _, info := range c.Accounts {
		if !bytes.Equal(info.Key, key) {
			continue
		}

		record = info.record
		signer = signer || info.IsSigner
		writable = writable || info.IsWritable
		ok = true
	}
	return record, signer, writable, ok
}

func (c *InvokeContext) snapshot() {
	c.pre = make(map[string]account.Record, len(c.Accounts))
	for _, info := range c.Accounts {
		c.pre[string(info.Key)] = info.record.Clone()
	}
}

// verify checks the changes made to every account since the last snapshot
// against the ownership and privilege rules of the executing program.
func (c *InvokeContext) verify() error {
	var preHi, preLo, postHi, postLo uint64

	for key, pre := range c.pre {
		record, _, writable, _ := c.lookup(ed25519.PublicKey(key))

		pre := pre
		if err := verifyAccount(c.ProgramID, writable, &pre, record); err != nil {
			return errors.Wrapf(err, "account %s", base58.Encode(pre.Address))
		}

		preHi, preLo = add128(preHi, preLo, pre.Lamports)
		postHi, postLo = add128(postHi, postLo, record.Lamports)
	}

	if preHi != postHi || preLo != postLo {
		return solana.ErrUnbalancedInstruction
	}
	return nil
}

func verifyAccount(program ed25519.PublicKey, writable bool, pre, post *account.Record) error {
	ownedByProgram := bytes.Equal(pre.Owner, program)

	// Only the owner may assign an account away, and only once the data is
	// zeroed.
	if !bytes.Equal(pre.Owner, post.Owner) {
		if !writable || !ownedByProgram || post.Executable || !isZeroed(post.Data) {
			return solana.ErrModifiedProgramID
		}
	}

	if pre.Lamports != post.Lamports {
		if !writable {
			return solana.ErrReadonlyLamportChange
		}
		if post.Lamports < pre.Lamports && !ownedByProgram {
			return solana.ErrExternalAccountLamportSpend
		}
	}

	if !bytes.Equal(pre.Data, post.Data) || len(pre.Data) != len(post.Data) {
		if !writable {
			return solana.ErrReadonlyDataModified
		}
		if !ownedByProgram {
			return solana.ErrExternalAccountDataModified
		}
	}

	if pre.Executable != post.Executable {
		return solana.ErrExecutableModified
	}

	return nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

func add128(hi, lo, v uint64) (uint64, uint64) {
	lo, carry := bits.Add64(lo, v, 0)
	return hi + carry, lo
}

func containsKey(keys []ed25519.PublicKey, key ed25519.PublicKey) bool {
	for _, k := range keys {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return false
}
