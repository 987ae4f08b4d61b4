package system

import (
	"crypto/ed25519"
	"math"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/code-auction/pkg/solana/binary"
)

const (
	RentSize  = 8 + 8 + 1
	ClockSize = 5 * 8

	// AccountStorageOverhead is the per-account byte count charged on top of
	// the data size when computing rent.
	AccountStorageOverhead = 128
)

// https://explorer.solana.com/address/11111111111111111111111111111111
var SystemAccount ed25519.PublicKey

// RentSysVar points to the system variable "Rent"
//
// Source: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/sysvar/rent.rs#L11
var RentSysVar ed25519.PublicKey

// ClockSysVar points to the system variable "Clock"
//
// Source: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/sysvar/clock.rs
var ClockSysVar ed25519.PublicKey

// SysvarOwner owns every sysvar account.
var SysvarOwner ed25519.PublicKey

func init() {
	var err error

	RentSysVar, err = base58.Decode("SysvarRent111111111111111111111111111111111")
	if err != nil {
		panic(err)
	}

	ClockSysVar, err = base58.Decode("SysvarC1ock11111111111111111111111111111111")
	if err != nil {
		panic(err)
	}

	SysvarOwner, err = base58.Decode("Sysvar1111111111111111111111111111111111111")
	if err != nil {
		panic(err)
	}

	SystemAccount, err = base58.Decode("11111111111111111111111111111111")
	if err != nil {
		panic(err)
	}
}

// DefaultRent matches the rent parameters of the public clusters.
var DefaultRent = Rent{
	LamportsPerByteYear: 3480,
	ExemptionThreshold:  2.0,
	BurnPercent:         50,
}

// Rent is the rent sysvar.
//
// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/rent.rs
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
	BurnPercent         uint8
}

// MinimumBalance returns the lamports an account of the given data size must
// hold to be exempt from rent.
func (r Rent) MinimumBalance(size uint64) uint64 {
	bytes := AccountStorageOverhead + size
	return uint64(float64(bytes*r.LamportsPerByteYear) * r.ExemptionThreshold)
}

func (r Rent) IsExempt(lamports, size uint64) bool {
	return lamports >= r.MinimumBalance(size)
}

func (r Rent) Marshal() []byte {
	res := make([]byte, RentSize)

	var offset int
	binary.PutUint64(res[offset:], r.LamportsPerByteYear, &offset)
	binary.PutUint64(res[offset:], math.Float64bits(r.ExemptionThreshold), &offset)
	binary.PutUint8(res[offset:], r.BurnPercent, &offset)

	return res
}

func (r *Rent) Unmarshal(data []byte) error {
	if len(data) < RentSize {
		return errors.Errorf("invalid rent sysvar size: %d", len(data))
	}

	var offset int
	var threshold uint64
	binary.GetUint64(data[offset:], &r.LamportsPerByteYear, &offset)
	binary.GetUint64(data[offset:], &threshold, &offset)
	binary.GetUint8(data[offset:], &r.BurnPercent, &offset)
	r.ExemptionThreshold = math.Float64frombits(threshold)

	return nil
}

// Clock is the clock sysvar. Only UnixTimestamp is meaningful to the ledger,
// the remaining fields are carried for layout compatibility.
//
// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/clock.rs
type Clock struct {
	Slot                uint64
	EpochStartTimestamp int64
	Epoch               uint64
	LeaderScheduleEpoch uint64
	UnixTimestamp       int64
}

func (c Clock) Marshal() []byte {
	res := make([]byte, ClockSize)

	var offset int
	binary.PutUint64(res[offset:], c.Slot, &offset)
	binary.PutInt64(res[offset:], c.EpochStartTimestamp, &offset)
	binary.PutUint64(res[offset:], c.Epoch, &offset)
	binary.PutUint64(res[offset:], c.LeaderScheduleEpoch, &offset)
	binary.PutInt64(res[offset:], c.UnixTimestamp, &offset)

	return res
}

func (c *Clock) Unmarshal(data []byte) error {
	if len(data) < ClockSize {
		return errors.Errorf("invalid clock sysvar size: %d", len(data))
	}

	var offset int
	binary.GetUint64(data[offset:], &c.Slot, &offset)
	binary.GetInt64(data[offset:], &c.EpochStartTimestamp, &offset)
	binary.GetUint64(data[offset:], &c.Epoch, &offset)
	binary.GetUint64(data[offset:], &c.LeaderScheduleEpoch, &offset)
	binary.GetInt64(data[offset:], &c.UnixTimestamp, &offset)

	return nil
}
