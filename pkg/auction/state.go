package auction

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/code-auction/pkg/solana"
	"github.com/code-payments/code-auction/pkg/solana/binary"
)

// RecordSize is the exact size of an escrow account's data.
const RecordSize = 1 + 3*ed25519.PublicKeySize + 8 + 8 + 3*ed25519.PublicKeySize

// NullIdentity marks the absence of a bidder in a record.
var NullIdentity = ed25519.PublicKey(make([]byte, ed25519.PublicKeySize))

// Record is the persisted state of an active auction. The highest bidder
// fields hold NullIdentity until the first bid is placed.
type Record struct {
	Exhibitor            ed25519.PublicKey
	ExhibitedItemCustody ed25519.PublicKey
	PayoutDestination    ed25519.PublicKey
	CurrentPrice         uint64
	AuctionEnd           int64

	HighestBidder                  ed25519.PublicKey
	HighestBidderCurrencyCustody   ed25519.PublicKey
	HighestBidderRefundDestination ed25519.PublicKey
}

// HasBid returns whether a bid has been placed.
func (r *Record) HasBid() bool {
	return !IsNullIdentity(r.HighestBidder)
}

// IsNullIdentity returns whether key is unset or NullIdentity.
func IsNullIdentity(key ed25519.PublicKey) bool {
	return len(key) == 0 || bytes.Equal(key, NullIdentity)
}

// Marshal encodes the record as an initialized escrow buffer.
func (r *Record) Marshal() []byte {
	b := make([]byte, RecordSize)

	var offset int
	binary.PutBool(b, true, &offset)
	binary.PutKey32(b[offset:], r.Exhibitor, &offset)
	binary.PutKey32(b[offset:], r.ExhibitedItemCustody, &offset)
	binary.PutKey32(b[offset:], r.PayoutDestination, &offset)
	binary.PutUint64(b[offset:], r.CurrentPrice, &offset)
	binary.PutInt64(b[offset:], r.AuctionEnd, &offset)
	binary.PutKey32(b[offset:], r.HighestBidder, &offset)
	binary.PutKey32(b[offset:], r.HighestBidderCurrencyCustody, &offset)
	binary.PutKey32(b[offset:], r.HighestBidderRefundDestination, &offset)

	return b
}

func (r *Record) unmarshal(b []byte) {
	offset := 1
	binary.GetKey32(b[offset:], &r.Exhibitor, &offset)
	binary.GetKey32(b[offset:], &r.ExhibitedItemCustody, &offset)
	binary.GetKey32(b[offset:], &r.PayoutDestination, &offset)
	binary.GetUint64(b[offset:], &r.CurrentPrice, &offset)
	binary.GetInt64(b[offset:], &r.AuctionEnd, &offset)
	binary.GetKey32(b[offset:], &r.HighestBidder, &offset)
	binary.GetKey32(b[offset:], &r.HighestBidderCurrencyCustody, &offset)
	binary.GetKey32(b[offset:], &r.HighestBidderRefundDestination, &offset)
}

type StateKind uint8

const (
	StateEmpty StateKind = iota
	StateActive
)

func (k StateKind) String() string {
	switch k {
	case StateEmpty:
		return "empty"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// State is the decoded contents of an escrow account. Record is only set for
// StateActive.
type State struct {
	Kind   StateKind
	Record *Record
}

func (s *State) IsActive() bool {
	return s.Kind == StateActive
}

// ParseState decodes an escrow buffer. A fully zeroed buffer is an empty
// escrow. Anything that is neither empty nor a well formed record is
// rejected with solana.ErrInvalidAccountData.
func ParseState(data []byte) (*State, error) {
	if len(data) != RecordSize {
		return nil, errors.Wrapf(solana.ErrInvalidAccountData, "escrow data is %d bytes, expected %d", len(data), RecordSize)
	}

	switch data[0] {
	case 0:
		for _, b := range data[1:] {
			if b != 0 {
				return nil, errors.Wrap(solana.ErrInvalidAccountData, "uninitialized escrow has non-zero data")
			}
		}
		return &State{Kind: StateEmpty}, nil
	case 1:
		var r Record
		r.unmarshal(data)
		return &State{Kind: StateActive, Record: &r}, nil
	default:
		return nil, errors.Wrapf(solana.ErrInvalidAccountData, "invalid initialized flag %d", data[0])
	}
}
