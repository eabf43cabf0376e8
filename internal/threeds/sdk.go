// Package threeds wraps a vendor 3-D Secure SDK behind a process-wide gateway
// and drives the 3DS_AUTHENTICATION required action.
package threeds

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// InitParams configures the vendor SDK once per process.
type InitParams struct {
	APIKey      string
	Environment string
	Locale      string
}

// Warning is a security warning raised by the vendor SDK at initialization.
type Warning struct {
	ID       string
	Message  string
	Severity string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s (%s): %s", w.ID, w.Severity, w.Message)
}

// SDK is the narrow surface of a vendor 3DS SDK. Implementations need not be
// safe for concurrent use; the Gateway serializes every call.
type SDK interface {
	// Initialize prepares the SDK. Any returned warning aborts the flow.
	Initialize(ctx context.Context, params InitParams) ([]Warning, error)
	// CreateTransaction opens a transaction against a directory server.
	CreateTransaction(directoryServerID, protocolVersion string) (VendorTransaction, error)
}

// AuthRequestParameters is the device material of an open transaction.
type AuthRequestParameters struct {
	SDKTransactionID      string
	DeviceData            string
	SDKEphemeralPublicKey string
	SDKAppID              string
	SDKReferenceNumber    string
	MessageVersion        string
}

// ChallengeParameters is what the ACS returned for an app challenge.
type ChallengeParameters struct {
	ThreeDSServerTransactionID string
	ACSTransactionID           string
	ACSReferenceNumber         string
	ACSSignedContent           string
	RequestorAppURL            string
}

// VendorTransaction is one open vendor transaction.
type VendorTransaction interface {
	AuthenticationRequestParameters() (AuthRequestParameters, error)
	// DoChallenge presents the challenge and returns without waiting for it.
	// The receiver is called from any goroutine.
	DoChallenge(params ChallengeParameters, receiver ChallengeReceiver, timeout time.Duration) error
	// Close releases the vendor resources held by the transaction.
	Close() error
}

// AppReturnHandler is implemented by vendor transactions that complete out of
// band in another app and need the return URL.
type AppReturnHandler interface {
	HandleAppReturn(u *url.URL) bool
}

// CompletionEvent reports a finished challenge.
type CompletionEvent struct {
	SDKTransactionID  string
	TransactionStatus string
}

// ProtocolErrorEvent carries an EMV error message.
type ProtocolErrorEvent struct {
	SDKTransactionID string
	Description      string
	Code             string
	Component        string
	ProtocolVersion  string
	Detail           string
}

// RuntimeErrorEvent carries an SDK-internal failure.
type RuntimeErrorEvent struct {
	Description string
	Code        string
}

// ChallengeReceiver is the delegate a vendor calls exactly once per challenge.
type ChallengeReceiver interface {
	Completed(CompletionEvent)
	Cancelled()
	TimedOut()
	ProtocolError(ProtocolErrorEvent)
	RuntimeError(RuntimeErrorEvent)
}
