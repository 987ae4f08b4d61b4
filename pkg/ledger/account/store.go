package account

import (
	"context"
	"crypto/ed25519"
	"errors"
)

var (
	ErrAccountNotFound = errors.New("account not found")
)

type Store interface {
	// Get returns the account at the address, or ErrAccountNotFound.
	Get(ctx context.Context, address ed25519.PublicKey) (*Record, error)

	// GetMany returns the accounts that exist among the addresses, in the
	// order requested. Missing accounts are omitted.
	GetMany(ctx context.Context, addresses ...ed25519.PublicKey) ([]*Record, error)

	// Commit atomically writes every record. Closed records (zero lamports)
	// are deleted instead.
	Commit(ctx context.Context, records ...*Record) error
}
