// Package errs defines the error taxonomy shared by every TACo component.
// Each kind is a typed, wrapped sentinel so callers can branch with
// errors.Is/errors.As instead of matching on string content.
package errs

import (
	"errors"
	"fmt"
)

// Kind groups an error into one of five families.
type Kind int

const (
	KindCrypto Kind = iota
	KindProtocol
	KindAuthorization
	KindNetwork
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindCrypto:
		return "Crypto"
	case KindProtocol:
		return "Protocol"
	case KindAuthorization:
		return "Authorization"
	case KindNetwork:
		return "Network"
	case KindState:
		return "State"
	default:
		return "Unknown"
	}
}

// Code is the specific variant within a Kind, e.g. Crypto/KfragVerification.
type Code struct {
	Kind Kind
	Name string
}

func (c Code) String() string { return c.Kind.String() + "." + c.Name }

var (
	// Crypto
	CodeSignature           = Code{KindCrypto, "Signature"}
	CodeAEAD                = Code{KindCrypto, "AEAD"}
	CodeKfragVerification   = Code{KindCrypto, "KfragVerification"}
	CodeCfragVerification   = Code{KindCrypto, "CfragVerification"}
	CodeShareVerification   = Code{KindCrypto, "ShareVerification"}
	CodeNotEnoughFragments  = Code{KindCrypto, "NotEnoughFragments"}

	// Protocol
	CodeMalformedRequest    = Code{KindProtocol, "MalformedRequest"}
	CodeUnsupportedVersion  = Code{KindProtocol, "UnsupportedVersion"}
	CodeUnknownPolicy       = Code{KindProtocol, "UnknownPolicy"}
	CodeUnknownRitual       = Code{KindProtocol, "UnknownRitual"}
	CodeRevoked             = Code{KindProtocol, "Revoked"}
	CodeNotEnoughNodes      = Code{KindProtocol, "NotEnoughNodes"}
	CodeInvalidTreasureMap  = Code{KindProtocol, "InvalidTreasureMap"}

	// Authorization
	CodeConditionFalse    = Code{KindAuthorization, "ConditionFalse"}
	CodeConditionError    = Code{KindAuthorization, "ConditionError"}
	CodeUnpaid            = Code{KindAuthorization, "Unpaid"}
	CodeUnauthorizedChain = Code{KindAuthorization, "UnauthorizedChain"}

	// Network
	CodeTimeout           = Code{KindNetwork, "Timeout"}
	CodeConnectionRefused = Code{KindNetwork, "ConnectionRefused"}
	CodeTLSHandshake      = Code{KindNetwork, "TlsHandshake"}
	CodeUnreachable       = Code{KindNetwork, "Unreachable"}

	// State
	CodeKeystoreLocked = Code{KindState, "KeystoreLocked"}
	CodeRitualNotReady = Code{KindState, "RitualNotReady"}
	CodeNodeNotBonded  = Code{KindState, "NodeNotBonded"}
)

// Error is a TACo error carrying its Code and an optional wrapped cause.
type Error struct {
	Code  Code
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, errs.New(CodeSignature, "")) to match purely on Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// New builds an Error of the given code.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap builds an Error of the given code around a lower-level cause.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}

// Is reports whether err (or something it wraps) carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsKind reports whether err (or something it wraps) belongs to the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code.Kind == kind
	}
	return false
}

// Suspicious reports whether err indicates active peer misbehavior.
// Crypto.Signature and Crypto.*Verification errors are never retried and
// must bucket the originating peer as suspicious.
func Suspicious(err error) bool {
	return Is(err, CodeSignature) ||
		Is(err, CodeKfragVerification) ||
		Is(err, CodeCfragVerification) ||
		Is(err, CodeShareVerification)
}

// Retryable reports whether err is a transient Network error a caller may
// retry. Nodes themselves never retry; only orchestration does.
func Retryable(err error) bool {
	return IsKind(err, KindNetwork)
}
