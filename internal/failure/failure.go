// Package failure defines the branchable error kinds of a checkout attempt.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can branch without string matching.
type Kind string

const (
	Unknown                    Kind = "unknown"
	Configuration              Kind = "configuration"
	Tokenization               Kind = "tokenization"
	ThreeDSInitialization      Kind = "threeds_initialization"
	UnsupportedProtocolVersion Kind = "unsupported_protocol_version"
	TransactionCreation        Kind = "transaction_creation"
	ChallengeFailed            Kind = "challenge_failed"
	InvalidChallengeStatus     Kind = "invalid_challenge_status"
	ProtocolError              Kind = "protocol_error"
	RuntimeError               Kind = "runtime_error"
	ChallengeTimedOut          Kind = "challenge_timed_out"
	Cancelled                  Kind = "cancelled"
	UnsupportedRequiredAction  Kind = "unsupported_required_action"
	ResumeChainTooLong         Kind = "resume_chain_too_long"
	PaymentFailed              Kind = "payment_failed"
	Network                    Kind = "network"
	Decoding                   Kind = "decoding"
)

// ErrCancelled is delivered when the shopper cancels an attempt.
var ErrCancelled = &Error{Kind: Cancelled, Message: "payment cancelled"}

// Error is a classified error with an optional operation name and cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// New returns an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err under kind. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrCancelled)
// holds for every cancellation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

func (e *Error) ErrorKind() Kind { return e.Kind }

type kinded interface {
	ErrorKind() Kind
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return Unknown
}

// IsCancelled reports whether err represents a shopper cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == Cancelled
}
