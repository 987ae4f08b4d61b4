package account

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"
)

// Record is the persisted state of a ledger account.
type Record struct {
	Address ed25519.PublicKey

	Lamports uint64
	Owner    ed25519.PublicKey
	Data     []byte

	Executable bool
}

func (r *Record) Validate() error {
	if len(r.Address) != ed25519.PublicKeySize {
		return errors.New("address must be 32 bytes")
	}

	if len(r.Owner) != ed25519.PublicKeySize {
		return errors.New("owner must be 32 bytes")
	}

	return nil
}

// IsClosed returns whether the account holds no lamports, in which case it
// is removed from the ledger on commit.
func (r *Record) IsClosed() bool {
	return r.Lamports == 0
}

// Equal returns whether both records hold identical state.
func (r *Record) Equal(other *Record) bool {
	return bytes.Equal(r.Address, other.Address) &&
		r.Lamports == other.Lamports &&
		bytes.Equal(r.Owner, other.Owner) &&
		bytes.Equal(r.Data, other.Data) &&
		r.Executable == other.Executable
}

func (r *Record) Clone() Record {
	return Record{
		Address: clone(r.Address),

		Lamports: r.Lamports,
		Owner:    clone(r.Owner),
		Data:     clone(r.Data),

		Executable: r.Executable,
	}
}

func (r *Record) CopyTo(dst *Record) {
	dst.Address = clone(r.Address)

	dst.Lamports = r.Lamports
	dst.Owner = clone(r.Owner)
	dst.Data = clone(r.Data)

	dst.Executable = r.Executable
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}
