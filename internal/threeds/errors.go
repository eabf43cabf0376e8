package threeds

import (
	"fmt"
	"strings"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
)

// InitializationError reports a failed vendor SDK initialization or the
// warnings it raised.
type InitializationError struct {
	Err      error
	Warnings []Warning
}

func (e *InitializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("3ds sdk initialization failed: %v", e.Err)
	}
	msgs := make([]string, len(e.Warnings))
	for i, w := range e.Warnings {
		msgs[i] = w.String()
	}
	return "3ds sdk raised warnings: " + strings.Join(msgs, "; ")
}

func (e *InitializationError) Unwrap() error            { return e.Err }
func (e *InitializationError) ErrorKind() failure.Kind { return failure.ThreeDSInitialization }

// UnsupportedVersionError lists protocol versions of which none is usable.
type UnsupportedVersionError struct {
	Versions []string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("no supported 3ds protocol version in %v", e.Versions)
}

func (e *UnsupportedVersionError) ErrorKind() failure.Kind {
	return failure.UnsupportedProtocolVersion
}

// TransactionCreationError wraps a vendor failure to open a transaction.
type TransactionCreationError struct {
	DirectoryServerID string
	ProtocolVersion   string
	Err               error
}

func (e *TransactionCreationError) Error() string {
	return fmt.Sprintf("create 3ds transaction (ds %s, version %s): %v", e.DirectoryServerID, e.ProtocolVersion, e.Err)
}

func (e *TransactionCreationError) Unwrap() error            { return e.Err }
func (e *TransactionCreationError) ErrorKind() failure.Kind { return failure.TransactionCreation }

// InvalidChallengeStatusError is returned for any completed challenge whose
// status does not allow the payment to proceed.
type InvalidChallengeStatusError struct {
	Status        string
	TransactionID string
}

func (e *InvalidChallengeStatusError) Error() string {
	return fmt.Sprintf("3ds challenge finished with status %q (transaction %s)", e.Status, e.TransactionID)
}

func (e *InvalidChallengeStatusError) ErrorKind() failure.Kind {
	return failure.InvalidChallengeStatus
}

// ProtocolError is an EMV 3DS protocol error reported by the vendor SDK.
type ProtocolError struct {
	Description     string
	Code            string
	Component       string
	TransactionID   string
	ProtocolVersion string
	Detail          string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("3ds protocol error %s from %s: %s (transaction %s, version %s): %s",
		e.Code, e.Component, e.Description, e.TransactionID, e.ProtocolVersion, e.Detail)
}

func (e *ProtocolError) ErrorKind() failure.Kind { return failure.ProtocolError }

// RuntimeError is an internal vendor SDK error.
type RuntimeError struct {
	Description string
	Code        string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("3ds runtime error %s: %s", e.Code, e.Description)
}

func (e *RuntimeError) ErrorKind() failure.Kind { return failure.RuntimeError }
