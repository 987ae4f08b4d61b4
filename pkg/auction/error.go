package auction

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/code-payments/code-auction/pkg/solana"
)

// Error is a failure specific to the auction program. Errors are returned to
// the ledger as the solana.CustomError with the same code.
type Error uint32

const (
	ErrInvalidInstruction Error = iota
	ErrNotRentExempt
	ErrExpectedAmountMismatch
	ErrAmountOverflow
	ErrInsufficientBidPrice
	ErrAlreadyBid
	ErrInactiveAuction
	ErrActiveAuction
	ErrNoBidderFound
)

var errorNames = map[Error]string{
	ErrInvalidInstruction:     "InvalidInstruction",
	ErrNotRentExempt:          "NotRentExempt",
	ErrExpectedAmountMismatch: "ExpectedAmountMismatch",
	ErrAmountOverflow:         "AmountOverflow",
	ErrInsufficientBidPrice:   "InsufficientBidPrice",
	ErrAlreadyBid:             "AlreadyBid",
	ErrInactiveAuction:        "InactiveAuction",
	ErrActiveAuction:          "ActiveAuction",
	ErrNoBidderFound:          "NoBidderFound",
}

var errorMessages = map[Error]string{
	ErrInvalidInstruction:     "Instruction Error: The provided instruction is not recognized.",
	ErrNotRentExempt:          "Rent Exemption Error: The escrow account is not exempted from rent.",
	ErrExpectedAmountMismatch: "Expected Amount Error: The expected amount differs from the actual value.",
	ErrAmountOverflow:         "Amount Overflow Error: The operation would result in an amount overflow.",
	ErrInsufficientBidPrice:   "Insufficient Bid Price Error: The bid amount is too low. Please increase your bid.",
	ErrAlreadyBid:             "Bid Error: A bid has already been placed in this auction.",
	ErrInactiveAuction:        "Auction Inactive Error: The auction has concluded and is no longer active.",
	ErrActiveAuction:          "Auction Active Error: The auction is still ongoing.",
	ErrNoBidderFound:          "No Bidders Error: There are no bidders participating in this auction.",
}

func (e Error) String() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Error(%d)", uint32(e))
}

func (e Error) Error() string {
	if msg, ok := errorMessages[e]; ok {
		return msg
	}
	return fmt.Sprintf("unknown auction error: %d", uint32(e))
}

func (e Error) ToCustomError() solana.CustomError {
	return solana.CustomError(e)
}

// ErrorFromCustom maps a custom program error back to the auction error with
// the same code.
func ErrorFromCustom(c solana.CustomError) (Error, bool) {
	e := Error(c)
	_, ok := errorNames[e]
	return e, ok && c >= 0
}

// programError is how the program returns an Error to the ledger. It unwraps
// to the matching solana.CustomError and still matches the Error itself, so
// callers can tell auction failures apart from token program failures that
// share the same codes.
type programError struct {
	code Error
	msg  string
}

func newProgramError(code Error, msg string) error {
	return &programError{code: code, msg: msg}
}

func (e *programError) Error() string {
	if e.msg == "" {
		return e.code.Error()
	}
	return e.msg + ": " + e.code.Error()
}

func (e *programError) Unwrap() error {
	return e.code.ToCustomError()
}

func (e *programError) Is(target error) bool {
	code, ok := target.(Error)
	return ok && code == e.code
}

func (e *programError) As(target interface{}) bool {
	code, ok := target.(*Error)
	if ok {
		*code = e.code
	}
	return ok
}

// ErrorFromTransaction returns the auction error a failed transaction was
// rejected with, if the auction program rejected it.
func ErrorFromTransaction(err error) (Error, bool) {
	var code Error
	if errors.As(err, &code) {
		return code, true
	}
	return 0, false
}
