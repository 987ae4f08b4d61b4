package solana

import (
	"fmt"

	"github.com/pkg/errors"
)

// TransactionErrorKey identifies why a transaction as a whole was rejected.
//
// Source: https://github.com/solana-labs/solana/blob/fc2bf2d3b669d1c6655ae48b0a05f470938f3676/sdk/src/transaction/mod.rs#L37
type TransactionErrorKey string

const (
	TransactionErrorInternal TransactionErrorKey = "Internal" // Internal error

	TransactionErrorAccountInUse               TransactionErrorKey = "AccountInUse"               // An account is already being processed in another transaction in a way that does not support parallelism
	TransactionErrorAccountLoadedTwice         TransactionErrorKey = "AccountLoadedTwice"         // A `Pubkey` appears twice in the transaction's `account_keys`
	TransactionErrorProgramAccountNotFound     TransactionErrorKey = "ProgramAccountNotFound"     // Attempt to load a program that does not exist
	TransactionErrorInstructionError           TransactionErrorKey = "InstructionError"           // An error occurred while processing an instruction
	TransactionErrorInvalidAccountIndex        TransactionErrorKey = "InvalidAccountIndex"        // Transaction contains an invalid account reference
	TransactionErrorSignatureFailure           TransactionErrorKey = "SignatureFailure"           // Transaction did not pass signature verification
	TransactionErrorInvalidProgramForExecution TransactionErrorKey = "InvalidProgramForExecution" // This program may not be used for executing instructions
	TransactionErrorSanitizeFailure            TransactionErrorKey = "SanitizeFailure"            // Transaction failed to sanitize accounts offsets correctly
	TransactionErrorUnbalancedTransaction      TransactionErrorKey = "UnbalancedTransaction"      // Transaction created or destroyed lamports
)

// InstructionErrorKey is the string key of a built-in instruction error.
//
// Source: https://github.com/solana-labs/solana/blob/4e2754341514cd181ae3f373cc2548bd22e918b8/sdk/program/src/instruction.rs#L23
type InstructionErrorKey string

const (
	InstructionErrorGenericError                InstructionErrorKey = "GenericError"
	InstructionErrorInvalidArgument             InstructionErrorKey = "InvalidArgument"
	InstructionErrorInvalidInstructionData      InstructionErrorKey = "InvalidInstructionData"
	InstructionErrorInvalidAccountData          InstructionErrorKey = "InvalidAccountData"
	InstructionErrorAccountDataTooSmall         InstructionErrorKey = "AccountDataTooSmall"
	InstructionErrorInsufficientFunds           InstructionErrorKey = "InsufficientFunds"
	InstructionErrorIncorrectProgramID          InstructionErrorKey = "IncorrectProgramId"
	InstructionErrorMissingRequiredSignature    InstructionErrorKey = "MissingRequiredSignature"
	InstructionErrorAccountAlreadyInitialized   InstructionErrorKey = "AccountAlreadyInitialized"
	InstructionErrorUninitializedAccount        InstructionErrorKey = "UninitializedAccount"
	InstructionErrorUnbalancedInstruction       InstructionErrorKey = "UnbalancedInstruction"
	InstructionErrorModifiedProgramID           InstructionErrorKey = "ModifiedProgramId"
	InstructionErrorExternalAccountLamportSpend InstructionErrorKey = "ExternalAccountLamportSpend"
	InstructionErrorExternalAccountDataModified InstructionErrorKey = "ExternalAccountDataModified"
	InstructionErrorReadonlyLamportChange       InstructionErrorKey = "ReadonlyLamportChange"
	InstructionErrorReadonlyDataModified        InstructionErrorKey = "ReadonlyDataModified"
	InstructionErrorExecutableModified          InstructionErrorKey = "ExecutableModified"
	InstructionErrorNotEnoughAccountKeys        InstructionErrorKey = "NotEnoughAccountKeys"
	InstructionErrorAccountNotExecutable        InstructionErrorKey = "AccountNotExecutable"
	InstructionErrorCustom                      InstructionErrorKey = "Custom"
	InstructionErrorUnsupportedProgramID        InstructionErrorKey = "UnsupportedProgramId"
	InstructionErrorCallDepth                   InstructionErrorKey = "CallDepth"
	InstructionErrorMissingAccount              InstructionErrorKey = "MissingAccount"
	InstructionErrorPrivilegeEscalation         InstructionErrorKey = "PrivilegeEscalation"
	InstructionErrorArithmeticOverflow          InstructionErrorKey = "ArithmeticOverflow"
)

// ProgramError is a built-in error a program may return. Values are
// comparable, so they can be matched with errors.Is through any wrapping.
type ProgramError InstructionErrorKey

func (e ProgramError) Error() string {
	return string(e)
}

var (
	ErrGenericError                = ProgramError(InstructionErrorGenericError)
	ErrInvalidArgument             = ProgramError(InstructionErrorInvalidArgument)
	ErrInvalidInstructionData      = ProgramError(InstructionErrorInvalidInstructionData)
	ErrInvalidAccountData          = ProgramError(InstructionErrorInvalidAccountData)
	ErrAccountDataTooSmall         = ProgramError(InstructionErrorAccountDataTooSmall)
	ErrInsufficientFunds           = ProgramError(InstructionErrorInsufficientFunds)
	ErrIncorrectProgramID          = ProgramError(InstructionErrorIncorrectProgramID)
	ErrMissingRequiredSignature    = ProgramError(InstructionErrorMissingRequiredSignature)
	ErrAccountAlreadyInitialized   = ProgramError(InstructionErrorAccountAlreadyInitialized)
	ErrUninitializedAccount        = ProgramError(InstructionErrorUninitializedAccount)
	ErrUnbalancedInstruction       = ProgramError(InstructionErrorUnbalancedInstruction)
	ErrModifiedProgramID           = ProgramError(InstructionErrorModifiedProgramID)
	ErrExternalAccountLamportSpend = ProgramError(InstructionErrorExternalAccountLamportSpend)
	ErrExternalAccountDataModified = ProgramError(InstructionErrorExternalAccountDataModified)
	ErrReadonlyLamportChange       = ProgramError(InstructionErrorReadonlyLamportChange)
	ErrReadonlyDataModified        = ProgramError(InstructionErrorReadonlyDataModified)
	ErrExecutableModified          = ProgramError(InstructionErrorExecutableModified)
	ErrNotEnoughAccountKeys        = ProgramError(InstructionErrorNotEnoughAccountKeys)
	ErrAccountNotExecutable        = ProgramError(InstructionErrorAccountNotExecutable)
	ErrUnsupportedProgramID        = ProgramError(InstructionErrorUnsupportedProgramID)
	ErrCallDepth                   = ProgramError(InstructionErrorCallDepth)
	ErrMissingAccount              = ProgramError(InstructionErrorMissingAccount)
	ErrPrivilegeEscalation         = ProgramError(InstructionErrorPrivilegeEscalation)
	ErrArithmeticOverflow          = ProgramError(InstructionErrorArithmeticOverflow)
)

// CustomError is the numerical error returned by a non-system program.
type CustomError int

func (c CustomError) Error() string {
	return fmt.Sprintf("custom program error: %x", int(c))
}

// InstructionError indicates an instruction returned an error in a transaction.
type InstructionError struct {
	Index int
	Err   error
}

func (i InstructionError) Error() string {
	return fmt.Sprintf("Error processing Instruction %d: %v", i.Index, i.Err)
}

func (i InstructionError) Unwrap() error {
	return i.Err
}

// ErrorKey returns the key of the underlying error, or an empty key if the
// error is not one a program can return.
func (i InstructionError) ErrorKey() InstructionErrorKey {
	if i.Err == nil {
		return ""
	}

	if i.CustomError() != nil {
		return InstructionErrorCustom
	}

	var pe ProgramError
	if errors.As(i.Err, &pe) {
		return InstructionErrorKey(pe)
	}

	return ""
}

func (i InstructionError) CustomError() *CustomError {
	var ce CustomError
	if errors.As(i.Err, &ce) {
		return &ce
	}

	return nil
}

// TransactionError contains the transaction error details.
type TransactionError struct {
	key              TransactionErrorKey
	instructionError *InstructionError
	cause            error
}

func NewTransactionError(key TransactionErrorKey) *TransactionError {
	return &TransactionError{key: key}
}

// NewTransactionErrorWithCause returns a TransactionError whose message also
// carries the cause, which remains reachable through errors.Is.
func NewTransactionErrorWithCause(key TransactionErrorKey, cause error) *TransactionError {
	return &TransactionError{key: key, cause: cause}
}

func TransactionErrorFromInstructionError(err *InstructionError) *TransactionError {
	return &TransactionError{
		key:              TransactionErrorInstructionError,
		instructionError: err,
	}
}

func (t TransactionError) Error() string {
	if t.instructionError != nil {
		return t.instructionError.Error()
	}

	if t.cause != nil {
		return fmt.Sprintf("%s: %v", t.key, t.cause)
	}

	return string(t.key)
}

func (t TransactionError) Unwrap() error {
	if t.instructionError != nil {
		return *t.instructionError
	}

	return t.cause
}

func (t TransactionError) ErrorKey() TransactionErrorKey {
	return t.key
}

func (t TransactionError) InstructionError() *InstructionError {
	return t.instructionError
}
