package ledger

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-auction/pkg/ledger/account"
	"github.com/code-payments/code-auction/pkg/lock"
	"github.com/code-payments/code-auction/pkg/lock/local"
	"github.com/code-payments/code-auction/pkg/metrics"
	"github.com/code-payments/code-auction/pkg/solana"
	"github.com/code-payments/code-auction/pkg/solana/system"
)

// ExecutionResult describes a committed transaction.
type ExecutionResult struct {
	ID   uuid.UUID
	Slot uint64
	Logs []string
}

// Bank executes transactions against the account store. Each transaction is
// atomic: either every change made by its instructions is committed, or none
// is. Transactions touching overlapping accounts are serialized through the
// account locker.
type Bank struct {
	log  *logrus.Entry
	conf *conf

	store    account.Store
	locker   lock.AccountLocker
	clock    Clock
	programs *registry

	slot atomic.Uint64
}

// NewBank returns a Bank with the system and token programs registered. A nil
// locker selects an in-process locker, which is only safe when no other Bank
// commits to the same store.
func NewBank(store account.Store, locker lock.AccountLocker, clock Clock, configProvider ConfigProvider) *Bank {
	conf := configProvider()

	if locker == nil {
		locker = local.NewAccountLocker(uint(conf.lockStripes.Get(context.Background())))
	}
	if clock == nil {
		clock = SystemClock()
	}

	return &Bank{
		log:      logrus.StandardLogger().WithField("type", "ledger/Bank"),
		conf:     conf,
		store:    store,
		locker:   locker,
		clock:    clock,
		programs: newRegistry(),
	}
}

// RegisterProgram makes the program executable at the id.
func (b *Bank) RegisterProgram(id ed25519.PublicKey, program Program) error {
	if len(id) != ed25519.PublicKeySize {
		return errors.New("program id must be 32 bytes")
	}
	return b.programs.register(id, program)
}

// Rent returns the rent parameters currently in effect.
func (b *Bank) Rent(ctx context.Context) system.Rent {
	return system.Rent{
		LamportsPerByteYear: b.conf.rentLamportsPerByteYear.Get(ctx),
		ExemptionThreshold:  b.conf.rentExemptionThresholdYears.Get(ctx),
		BurnPercent:         system.DefaultRent.BurnPercent,
	}
}

// GetAccount returns the committed state of the account, or
// account.ErrAccountNotFound.
func (b *Bank) GetAccount(ctx context.Context, address ed25519.PublicKey) (*account.Record, error) {
	if b.programs.isSynthetic(address) {
		return b.synthetic(ctx, address, b.clockSysvar(b.slot.Load())), nil
	}
	return b.store.Get(ctx, address)
}

// ExecuteTransaction verifies, executes and commits the transaction. Failures
// are reported as a *solana.TransactionError, in which case nothing was
// committed.
func (b *Bank) ExecuteTransaction(ctx context.Context, txn solana.Transaction) (*ExecutionResult, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "ExecuteTransaction")
	defer tracer.End()

	result, err := b.executeTransaction(ctx, txn)
	if err != nil {
		tracer.OnError(err)

		var txnErr *solana.TransactionError
		if errors.As(err, &txnErr) {
			recordFailed(ctx, txnErr)
		}
		return result, err
	}

	recordCommitted(ctx)
	return result, nil
}

func (b *Bank) executeTransaction(ctx context.Context, txn solana.Transaction) (*ExecutionResult, error) {
	result := &ExecutionResult{
		ID: uuid.New(),
	}

	log := b.log.WithFields(logrus.Fields{
		"method":    "ExecuteTransaction",
		"execution": result.ID.String(),
	})

	if err := b.sanitize(&txn); err != nil {
		log.WithError(err).Debug("transaction failed sanitization")
		return result, err
	}

	if err := txn.VerifySignatures(); err != nil {
		log.WithError(err).Debug("transaction failed signature verification")
		return result, solana.NewTransactionErrorWithCause(solana.TransactionErrorSignatureFailure, err)
	}

	log = log.WithField("signature", base58.Encode(txn.Signature()))

	var writable, readonly []ed25519.PublicKey
	for i, key := range txn.Message.Accounts {
		if b.programs.isSynthetic(key) {
			continue
		}

		if txn.Message.IsWritable(i) {
			writable = append(writable, key)
		} else {
			readonly = append(readonly, key)
		}
	}

	held, err := b.locker.LockAccounts(ctx, writable, readonly)
	if err != nil {
		log.WithError(err).Warn("failure locking accounts")
		return result, solana.NewTransactionErrorWithCause(solana.TransactionErrorAccountInUse, err)
	}
	defer held.Release(context.Background())

	exec, err := b.load(ctx, log, &txn)
	if err != nil {
		log.WithError(err).Warn("failure loading accounts")
		return result, solana.NewTransactionErrorWithCause(solana.TransactionErrorInternal, err)
	}
	result.Slot = exec.clock.Slot

	for i, ix := range txn.Message.Instructions {
		infos := make([]*AccountInfo, len(ix.Accounts))
		for j, index := range ix.Accounts {
			key := txn.Message.Accounts[index]
			infos[j] = &AccountInfo{
				Key:        exec.accounts[string(key)].Address,
				IsSigner:   txn.Message.IsSigner(int(index)),
				IsWritable: txn.Message.IsWritable(int(index)) && !b.programs.isSynthetic(key),
				record:     exec.accounts[string(key)],
			}
		}

		program := txn.Message.Accounts[ix.ProgramIndex]
		if err := exec.process(ctx, program, infos, ix.Data, 1); err != nil {
			result.Logs = exec.logs
			log.WithError(err).WithField("instruction", i).Debug("instruction failed")
			return result, solana.TransactionErrorFromInstructionError(&solana.InstructionError{
				Index: i,
				Err:   err,
			})
		}
	}
	result.Logs = exec.logs

	updates, err := exec.changes()
	if err != nil {
		log.WithError(err).Warn("transaction is unbalanced")
		return result, solana.NewTransactionErrorWithCause(solana.TransactionErrorUnbalancedTransaction, err)
	}

	select {
	case <-held.Lost():
		log.Warn("account lock lost before commit")
		return result, solana.NewTransactionErrorWithCause(solana.TransactionErrorAccountInUse, errors.New("account lock lost"))
	default:
	}

	if err := b.store.Commit(ctx, updates...); err != nil {
		log.WithError(err).Warn("failure committing accounts")
		return result, solana.NewTransactionErrorWithCause(solana.TransactionErrorInternal, err)
	}

	log.WithField("updated", len(updates)).Debug("transaction committed")
	return result, nil
}

func (b *Bank) sanitize(txn *solana.Transaction) error {
	m := &txn.Message

	if m.Header.NumSignatures == 0 || m.Header.NumReadonlySigned >= m.Header.NumSignatures {
		return solana.NewTransactionErrorWithCause(solana.TransactionErrorSanitizeFailure, errors.New("fee payer must be a writable signer"))
	}
	if int(m.Header.NumSignatures)+int(m.Header.NumReadOnly) > len(m.Accounts) {
		return solana.NewTransactionErrorWithCause(solana.TransactionErrorSanitizeFailure, errors.New("header exceeds account count"))
	}

	seen := make(map[string]struct{}, len(m.Accounts))
	for _, key := range m.Accounts {
		if len(key) != ed25519.PublicKeySize {
			return solana.NewTransactionErrorWithCause(solana.TransactionErrorSanitizeFailure, errors.New("invalid account key"))
		}
		if _, ok := seen[string(key)]; ok {
			return solana.NewTransactionErrorWithCause(solana.TransactionErrorAccountLoadedTwice, errors.New(base58.Encode(key)))
		}
		seen[string(key)] = struct{}{}
	}

	for i, ix := range m.Instructions {
		if int(ix.ProgramIndex) >= len(m.Accounts) {
			return solana.NewTransactionErrorWithCause(solana.TransactionErrorInvalidAccountIndex, errors.Errorf("instruction %d program", i))
		}
		for _, index := range ix.Accounts {
			if int(index) >= len(m.Accounts) {
				return solana.NewTransactionErrorWithCause(solana.TransactionErrorInvalidAccountIndex, errors.Errorf("instruction %d account %d", i, index))
			}
		}

		program := m.Accounts[ix.ProgramIndex]
		if _, ok := b.programs.get(program); !ok {
			return solana.NewTransactionErrorWithCause(solana.TransactionErrorProgramAccountNotFound, errors.New(base58.Encode(program)))
		}
	}

	return nil
}

func (b *Bank) load(ctx context.Context, log *logrus.Entry, txn *solana.Transaction) (*execution, error) {
	clock := b.clockSysvar(b.slot.Add(1))

	exec := &execution{
		log:      log,
		programs: b.programs,
		maxDepth: int(b.conf.maxInstructionDepth.Get(ctx)),
		rent:     b.Rent(ctx),
		clock:    clock,
		accounts: make(map[string]*account.Record, len(txn.Message.Accounts)),
		loaded:   make(map[string]account.Record, len(txn.Message.Accounts)),
		writable: make(map[string]bool, len(txn.Message.Accounts)),
	}

	var stored []ed25519.PublicKey
	for i, key := range txn.Message.Accounts {
		if b.programs.isSynthetic(key) {
			exec.accounts[string(key)] = b.synthetic(ctx, key, clock)
			continue
		}

		stored = append(stored, key)
		exec.accounts[string(key)] = emptyRecord(key)
		exec.writable[string(key)] = txn.Message.IsWritable(i)
	}

	records, err := b.store.GetMany(ctx, stored...)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		exec.accounts[string(record.Address)] = record
	}

	for _, key := range stored {
		exec.loaded[string(key)] = exec.accounts[string(key)].Clone()
	}

	return exec, nil
}

func (b *Bank) clockSysvar(slot uint64) system.Clock {
	return system.Clock{
		Slot:          slot,
		UnixTimestamp: b.clock.Now().Unix(),
	}
}

func (b *Bank) synthetic(ctx context.Context, key ed25519.PublicKey, clock system.Clock) *account.Record {
	switch string(key) {
	case string(system.RentSysVar):
		return sysvarRecord(key, b.Rent(ctx).Marshal())
	case string(system.ClockSysVar):
		return sysvarRecord(key, clock.Marshal())
	default:
		return programRecord(key)
	}
}

// execution is the working state of a single transaction.
type execution struct {
	log      *logrus.Entry
	programs *registry
	maxDepth int

	rent  system.Rent
	clock system.Clock

	accounts map[string]*account.Record
	loaded   map[string]account.Record
	writable map[string]bool

	logs []string
	err  error
}

func (e *execution) appendLog(line string) {
	e.logs = append(e.logs, line)
}

func (e *execution) process(ctx context.Context, programID ed25519.PublicKey, infos []*AccountInfo, data []byte, depth int) error {
	program, ok := e.programs.get(programID)
	if !ok {
		return errors.Wrap(solana.ErrUnsupportedProgramID, base58.Encode(programID))
	}

	ic := &InvokeContext{
		ctx:       ctx,
		exec:      e,
		depth:     depth,
		ProgramID: programID,
		Accounts:  infos,
		Data:      data,
	}
	ic.snapshot()

	id := base58.Encode(programID)
	e.appendLog(fmt.Sprintf("Program %s invoke [%d]", id, depth))

	err := program.Process(ic)
	if err == nil {
		err = e.err
	}
	if err == nil {
		err = ic.verify()
	}
	if err != nil {
		e.appendLog(fmt.Sprintf("Program %s failed: %v", id, err))
		return err
	}

	e.appendLog(fmt.Sprintf("Program %s success", id))
	return nil
}

// changes returns the stored accounts that differ from their loaded state,
// after checking the transaction neither created nor destroyed lamports.
func (e *execution) changes() ([]*account.Record, error) {
	var preHi, preLo, postHi, postLo uint64
	var updates []*account.Record

	for key, loaded := range e.loaded {
		current := e.accounts[key]

		preHi, preLo = add128(preHi, preLo, loaded.Lamports)
		postHi, postLo = add128(postHi, postLo, current.Lamports)

		if loaded.Equal(current) {
			continue
		}
		if !e.writable[key] {
			return nil, errors.Errorf("readonly account %s modified", base58.Encode(current.Address))
		}
		updates = append(updates, current)
	}

	if preHi != postHi || preLo != postLo {
		return nil, errors.New("lamports are not conserved")
	}
	return updates, nil
}
