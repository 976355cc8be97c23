package ledger

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every input error that is rejected before any
// storage access. Use errors.Is(err, ErrValidation) to classify.
var ErrValidation = errors.New("validation failed")

type validationError struct{ msg string }

func (e *validationError) Error() string        { return e.msg }
func (e *validationError) Is(target error) bool { return target == ErrValidation }

func newValidationError(msg string) error { return &validationError{msg: msg} }

var (
	// ErrInvalidAmount covers non-positive amounts, amounts with more precision
	// than the ledger carries and amounts that would overflow a balance.
	ErrInvalidAmount = newValidationError("amount must be positive with at most 2 decimal places")

	// ErrInvalidRecipient is returned when the recipient reference is empty or malformed.
	ErrInvalidRecipient = newValidationError("invalid recipient reference")

	// ErrInvalidRecipientPayload is returned when a scanned payload fails schema validation.
	ErrInvalidRecipientPayload = newValidationError("invalid recipient payload")

	// ErrSelfTransfer is returned when the recipient resolves to the caller's own account.
	ErrSelfTransfer = newValidationError("cannot transfer to own account")

	// ErrMemoTooLong is returned when the memo exceeds MaxMemoLength runes.
	ErrMemoTooLong = newValidationError("memo too long")

	// ErrInvalidAccount is returned when onboarding details fail validation.
	ErrInvalidAccount = newValidationError("invalid account details")

	// ErrInvalidCursor is returned when a history cursor cannot be decoded.
	ErrInvalidCursor = newValidationError("invalid history cursor")

	// ErrMissingCaller is returned when no authenticated caller account id was supplied.
	ErrMissingCaller = newValidationError("caller account id is required")
)

var (
	// ErrRecipientNotFound is returned when no account matches a recipient reference.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrAccountNotFound is returned when an account vanished between resolution
	// and execution, or when a handle lookup is ambiguous.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConflict is reported by a Store when an atomic unit lost a write race.
	// The unit had no visible effect and may be re-executed.
	ErrConflict = errors.New("write conflict")

	// ErrRetryExhausted is returned when an atomic unit kept conflicting for the
	// whole retry budget. No partial effect persists.
	ErrRetryExhausted = errors.New("transfer retry budget exhausted")

	// ErrStoreUnavailable indicates the underlying store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrHandleAmbiguous is returned when a handle lookup matches more than one
	// account. It also matches ErrAccountNotFound.
	ErrHandleAmbiguous = fmt.Errorf("handle matches several accounts: %w", ErrAccountNotFound)

	// ErrHandleTaken is returned when onboarding an account whose handle is already used.
	ErrHandleTaken = errors.New("handle already registered")

	// ErrAccountExists is returned when onboarding an account id twice.
	ErrAccountExists = errors.New("account already exists")
)
