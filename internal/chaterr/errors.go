// Package chaterr defines the error kinds surfaced by the chat subsystem.
//
// Library and transport errors are translated into one of these kinds at
// component boundaries. Callers compare with errors.Is against the sentinel
// values; matching is by Code, so a wrapped cause does not affect the result.
package chaterr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknown             Code = "UNKNOWN"
	CodeNotAuthenticated    Code = "NOT_AUTHENTICATED"
	CodeKeyDecryptionFailed Code = "KEY_DECRYPTION_FAILED"
	CodeApprovalFailed      Code = "APPROVAL_FAILED"
	CodeRejectionFailed     Code = "REJECTION_FAILED"
	CodeSendFailed          Code = "SEND_FAILED"
	CodeDecryptionFailed    Code = "DECRYPTION_FAILED"
	CodeConnectionLost      Code = "CONNECTION_LOST"
)

type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a chat error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

var (
	ErrNotAuthenticated    = New(CodeNotAuthenticated, "session is missing key material or signer")
	ErrKeyDecryptionFailed = New(CodeKeyDecryptionFailed, "failed to decrypt private key")
	ErrApprovalFailed      = New(CodeApprovalFailed, "failed to approve chat request")
	ErrRejectionFailed     = New(CodeRejectionFailed, "failed to reject chat request")
	ErrSendFailed          = New(CodeSendFailed, "failed to send message")
	ErrDecryptionFailed    = New(CodeDecryptionFailed, "failed to decrypt message")
	ErrConnectionLost      = New(CodeConnectionLost, "connection lost")
)

func ApprovalFailed(cause error) error {
	return Wrap(CodeApprovalFailed, "failed to approve chat request", cause)
}

func RejectionFailed(cause error) error {
	return Wrap(CodeRejectionFailed, "failed to reject chat request", cause)
}

func SendFailed(cause error) error {
	return Wrap(CodeSendFailed, "failed to send message", cause)
}

func DecryptionFailed(cause error) error {
	return Wrap(CodeDecryptionFailed, "failed to decrypt message", cause)
}

// CodeOf returns the kind of err, or CodeUnknown if err is not a chat error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
