package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the caller identity is not trusted
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation means a required part is missing or malformed
	ErrValidation = errors.New("validation failed")
	// ErrExpired means a mandate or token is past its expiry
	ErrExpired = errors.New("expired")
	// ErrIntegrity means a signature or digest did not verify
	ErrIntegrity = errors.New("integrity check failed")
	// ErrSettlement means the external payment step failed
	ErrSettlement = errors.New("settlement failed")
	// ErrInternal covers failures with no protocol meaning
	ErrInternal = errors.New("internal error")
)

// MandateError carries an error kind together with the operation that failed.
// errors.Is matches both the kind sentinel and the wrapped cause.
type MandateError struct {
	Kind   error
	Op     string
	Detail string
	Err    error
}

func (e *MandateError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MandateError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newMandateError(kind error, op, format string, args ...any) *MandateError {
	return &MandateError{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Unauthorized creates an UnauthorizedError
func Unauthorized(op, format string, args ...any) *MandateError {
	return newMandateError(ErrUnauthorized, op, format, args...)
}

// Validation creates a ValidationError
func Validation(op, format string, args ...any) *MandateError {
	return newMandateError(ErrValidation, op, format, args...)
}

// Expired creates an ExpiredError
func Expired(op, format string, args ...any) *MandateError {
	return newMandateError(ErrExpired, op, format, args...)
}

// Integrity creates an IntegrityError
func Integrity(op, format string, args ...any) *MandateError {
	return newMandateError(ErrIntegrity, op, format, args...)
}

// Settlement wraps a processor failure as a SettlementError
func Settlement(op string, cause error) *MandateError {
	return &MandateError{Kind: ErrSettlement, Op: op, Err: cause}
}

// Error codes used on the wire
const (
	CodeUnauthorized = "unauthorized"
	CodeValidation   = "validation"
	CodeExpired      = "expired"
	CodeIntegrity    = "integrity"
	CodeSettlement   = "settlement"
	CodeInternal     = "internal"
)

// ErrorInfo is the wire form of an agent error, sent as the "error" data part
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode maps an error to its wire code
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrExpired):
		return CodeExpired
	case errors.Is(err, ErrIntegrity):
		return CodeIntegrity
	case errors.Is(err, ErrSettlement):
		return CodeSettlement
	default:
		return CodeInternal
	}
}

// NewErrorInfo converts an error to its wire form. Unauthorized errors keep a
// generic message so the caller learns nothing about the trust policy.
func NewErrorInfo(err error) ErrorInfo {
	code := ErrorCode(err)
	msg := err.Error()
	if code == CodeUnauthorized {
		msg = "caller is not authorized"
	}
	return ErrorInfo{Code: code, Message: msg}
}

// Err rebuilds a typed error from the wire form
func (i ErrorInfo) Err() error {
	kind := ErrInternal
	switch i.Code {
	case CodeUnauthorized:
		kind = ErrUnauthorized
	case CodeValidation:
		kind = ErrValidation
	case CodeExpired:
		kind = ErrExpired
	case CodeIntegrity:
		kind = ErrIntegrity
	case CodeSettlement:
		kind = ErrSettlement
	}
	return &MandateError{Kind: kind, Op: "remote agent", Detail: i.Message}
}
