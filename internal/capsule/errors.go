package capsule

import (
	"errors"
	"fmt"
)

// Code categorizes capsule errors.
type Code string

const (
	// CodeUnlockTimeMustBeInFuture indicates a zero duration at creation.
	CodeUnlockTimeMustBeInFuture Code = "UnlockTimeMustBeInFuture"

	// CodeAdditionOverflow indicates current block + duration does not fit a BlockNumber.
	CodeAdditionOverflow Code = "AdditionOverflow"

	// CodeCapsuleNotFound indicates an unknown or already opened ID.
	CodeCapsuleNotFound Code = "CapsuleNotFound"

	// CodeNotTheDesignatedRecipient indicates the caller is not the recipient.
	CodeNotTheDesignatedRecipient Code = "NotTheDesignatedRecipient"

	// CodeCapsuleIsStillLocked indicates an open before the unlock block.
	CodeCapsuleIsStillLocked Code = "CapsuleIsStillLocked"

	// CodeTokenTransferFailed indicates the Transferer rejected the release.
	CodeTokenTransferFailed Code = "TokenTransferFailed"

	// CodeMessageTooLarge indicates a message above the store's bound.
	CodeMessageTooLarge Code = "MessageTooLarge"

	// CodeIDSpaceExhausted indicates next_id cannot advance. Fatal.
	CodeIDSpaceExhausted Code = "IDSpaceExhausted"
)

// Error is returned by the mutating Store operations.
type Error struct {
	Code    Code
	Message string

	// CapsuleID is set when the error concerns an existing or requested capsule.
	CapsuleID *ID

	// Err is the underlying cause, if any (for example the transfer failure).
	Err error
}

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrUnlockTimeMustBeInFuture  = &Error{Code: CodeUnlockTimeMustBeInFuture}
	ErrAdditionOverflow          = &Error{Code: CodeAdditionOverflow}
	ErrCapsuleNotFound           = &Error{Code: CodeCapsuleNotFound}
	ErrNotTheDesignatedRecipient = &Error{Code: CodeNotTheDesignatedRecipient}
	ErrCapsuleIsStillLocked      = &Error{Code: CodeCapsuleIsStillLocked}
	ErrTokenTransferFailed       = &Error{Code: CodeTokenTransferFailed}
	ErrMessageTooLarge           = &Error{Code: CodeMessageTooLarge}
	ErrIDSpaceExhausted          = &Error{Code: CodeIDSpaceExhausted}
)

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.CapsuleID != nil {
		msg = fmt.Sprintf("%s (capsule=%d)", msg, *e.CapsuleID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the code from err, or "" if err is not a capsule error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsFatal reports whether err means the store must stop accepting creations.
func IsFatal(err error) bool {
	return errors.Is(err, ErrIDSpaceExhausted)
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func capsuleError(code Code, id ID, message string) *Error {
	return &Error{Code: code, Message: message, CapsuleID: &id}
}
