package ledger

import (
	"crypto/ed25519"
	"sync"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/code-auction/pkg/ledger/account"
	"github.com/code-payments/code-auction/pkg/solana/system"
	"github.com/code-payments/code-auction/pkg/solana/token"
)

// NativeLoader owns every program account.
var NativeLoader ed25519.PublicKey

var ErrProgramAlreadyRegistered = errors.New("program already registered")

func init() {
	var err error
	NativeLoader, err = base58.Decode("NativeLoader1111111111111111111111111111111")
	if err != nil {
		panic(err)
	}
}

// Program processes instructions addressed to it.
type Program interface {
	Process(ctx *InvokeContext) error
}

// ProgramFunc adapts a function to a Program.
type ProgramFunc func(ctx *InvokeContext) error

func (f ProgramFunc) Process(ctx *InvokeContext) error {
	return f(ctx)
}

type registry struct {
	mu       sync.RWMutex
	programs map[string]Program
}

func newRegistry() *registry {
	r := &registry{
		programs: make(map[string]Program),
	}
	r.programs[string(system.SystemAccount)] = ProgramFunc(processSystem)
	r.programs[string(token.ProgramKey)] = ProgramFunc(processToken)
	return r
}

func (r *registry) register(id ed25519.PublicKey, program Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.programs[string(id)]; ok {
		return errors.Wrap(ErrProgramAlreadyRegistered, base58.Encode(id))
	}
	if isSysvar(id) {
		return errors.Errorf("%s is a sysvar", base58.Encode(id))
	}

	r.programs[string(id)] = program
	return nil
}

func (r *registry) get(id ed25519.PublicKey) (Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.programs[string(id)]
	return p, ok
}

// isSynthetic returns whether the account is materialized by the ledger on
// every execution rather than loaded from the store. Synthetic accounts are
// immutable, never locked and never committed.
func (r *registry) isSynthetic(key ed25519.PublicKey) bool {
	if isSysvar(key) {
		return true
	}
	_, ok := r.get(key)
	return ok
}

func isSysvar(key ed25519.PublicKey) bool {
	return string(key) == string(system.RentSysVar) || string(key) == string(system.ClockSysVar)
}

func programRecord(id ed25519.PublicKey) *account.Record {
	return &account.Record{
		Address:    append(ed25519.PublicKey{}, id...),
		Lamports:   1,
		Owner:      append(ed25519.PublicKey{}, NativeLoader...),
		Data:       []byte{},
		Executable: true,
	}
}

func sysvarRecord(id ed25519.PublicKey, data []byte) *account.Record {
	return &account.Record{
		Address:  append(ed25519.PublicKey{}, id...),
		Lamports: 1,
		Owner:    append(ed25519.PublicKey{}, system.SysvarOwner...),
		Data:     data,
	}
}

func emptyRecord(address ed25519.PublicKey) *account.Record {
	return &account.Record{
		Address: append(ed25519.PublicKey{}, address...),
		Owner:   append(ed25519.PublicKey{}, system.SystemAccount...),
		Data:    []byte{},
	}
}
