package threeds

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/config"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// TopicAppReturn is published for every URL an external app hands back.
const TopicAppReturn = "threeds:app_return"

// sdkMaxTimeoutMinutes is the challenge window advertised to the ACS.
const sdkMaxTimeoutMinutes = 10

// Dispatcher runs fn on the host's UI loop.
type Dispatcher func(fn func())

func inline(fn func()) { fn() }

// Gateway owns the vendor SDK. At most one vendor transaction is open at a
// time and every transaction is closed exactly once.
type Gateway struct {
	sdk      SDK
	timeout  time.Duration
	dispatch Dispatcher
	bus      EventBus.Bus
	logger   *slog.Logger

	slot chan struct{}

	initMu      sync.Mutex
	initialized bool

	mu      sync.Mutex
	current *Transaction
}

var (
	sharedOnce sync.Once
	shared     *Gateway
)

// Shared returns the process-wide gateway, creating it around sdk on the
// first call. Later calls return the same gateway; a different sdk is logged
// and not used.
func Shared(sdk SDK, logger *slog.Logger) *Gateway {
	sharedOnce.Do(func() {
		shared = NewGateway(sdk, config.ChallengeTimeout, nil, logger)
	})
	if sdk != nil && sdk != shared.sdk {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("threeds_sdk_ignored",
			"reason", "shared gateway already owns a vendor sdk",
			"existing", fmt.Sprintf("%T", shared.sdk),
			"requested", fmt.Sprintf("%T", sdk),
		)
	}
	return shared
}

// NewGateway creates a gateway with its own app-return bus. Production code
// uses Shared; tests create private gateways.
func NewGateway(sdk SDK, timeout time.Duration, dispatch Dispatcher, logger *slog.Logger) *Gateway {
	if dispatch == nil {
		dispatch = inline
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = config.ChallengeTimeout
	}
	g := &Gateway{
		sdk:      sdk,
		timeout:  timeout,
		dispatch: dispatch,
		bus:      EventBus.New(),
		logger:   logger,
		slot:     make(chan struct{}, 1),
	}
	if err := g.bus.Subscribe(TopicAppReturn, g.onAppReturn); err != nil {
		logger.Error("app_return_subscribe_failed", "error", err.Error())
	}
	return g
}

// SetDispatcher replaces the UI dispatcher used to present challenges.
func (g *Gateway) SetDispatcher(d Dispatcher) {
	if d == nil {
		d = inline
	}
	g.mu.Lock()
	g.dispatch = d
	g.mu.Unlock()
}

// Initialize prepares the vendor SDK. Calls after the first success are no-ops.
func (g *Gateway) Initialize(ctx context.Context, params InitParams) error {
	g.initMu.Lock()
	defer g.initMu.Unlock()

	if g.initialized {
		g.logger.Debug("threeds_sdk_already_initialized")
		return nil
	}

	warnings, err := g.sdk.Initialize(ctx, params)
	if err != nil {
		g.logger.Error("threeds_sdk_init_failed", "error", err.Error())
		return &InitializationError{Err: err}
	}
	if len(warnings) > 0 {
		g.logger.Error("threeds_sdk_init_warnings", "warnings", len(warnings))
		return &InitializationError{Warnings: warnings}
	}

	g.initialized = true
	g.logger.Info("threeds_sdk_initialized", "env", params.Environment)
	return nil
}

// CreateTransaction opens a vendor transaction for the highest usable protocol
// version in versions. It blocks while another transaction is open.
func (g *Gateway) CreateTransaction(ctx context.Context, directoryServerID string, versions []string) (*Transaction, error) {
	version, ok := MaxValidSupportedVersion(versions)
	if !ok {
		return nil, &UnsupportedVersionError{Versions: versions}
	}

	g.initMu.Lock()
	initialized := g.initialized
	g.initMu.Unlock()
	if !initialized {
		return nil, failure.New(failure.ThreeDSInitialization, "create_transaction", "3ds sdk is not initialized")
	}

	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, failure.Wrap(failure.Cancelled, "create_transaction", ctx.Err())
	}

	vt, err := g.sdk.CreateTransaction(directoryServerID, version)
	if err != nil {
		<-g.slot
		return nil, &TransactionCreationError{DirectoryServerID: directoryServerID, ProtocolVersion: version, Err: err}
	}

	params, err := vt.AuthenticationRequestParameters()
	if err != nil {
		_ = vt.Close()
		<-g.slot
		return nil, &TransactionCreationError{DirectoryServerID: directoryServerID, ProtocolVersion: version, Err: err}
	}

	t := &Transaction{
		id:      uuid.NewString(),
		gateway: g,
		vendor:  vt,
		version: version,
		params:  params,
	}

	g.mu.Lock()
	g.current = t
	g.mu.Unlock()

	g.logger.Info("threeds_transaction_opened",
		"transaction_id", t.id,
		"sdk_transaction_id", params.SDKTransactionID,
		"ds_id", directoryServerID,
		"protocol_version", version,
	)
	return t, nil
}

// HandleAppReturn forwards u to the transaction currently running a challenge.
// It reports false when no challenge is waiting.
func (g *Gateway) HandleAppReturn(u *url.URL) bool {
	g.mu.Lock()
	t := g.current
	g.mu.Unlock()

	if u == nil || t == nil || !t.challenging.Load() {
		return false
	}
	g.bus.Publish(TopicAppReturn, t.id, u)
	return true
}

func (g *Gateway) onAppReturn(transactionID string, u *url.URL) {
	g.mu.Lock()
	t := g.current
	g.mu.Unlock()

	if t == nil || t.id != transactionID {
		g.logger.Warn("app_return_stale", "transaction_id", transactionID)
		return
	}
	h, ok := t.vendor.(AppReturnHandler)
	if !ok {
		g.logger.Debug("app_return_ignored", "transaction_id", transactionID)
		return
	}
	handled := h.HandleAppReturn(u)
	g.logger.Info("app_return_forwarded", "transaction_id", transactionID, "handled", handled)
}

// OpenTransactions returns 1 while a transaction is open and 0 otherwise.
func (g *Gateway) OpenTransactions() int {
	return len(g.slot)
}

// ChallengeResult is a challenge that finished with a status allowing the payment to proceed.
type ChallengeResult struct {
	Status           AuthenticationStatus
	SDKTransactionID string
}

// Transaction is an open vendor transaction.
type Transaction struct {
	id      string
	gateway *Gateway
	vendor  VendorTransaction
	version string
	params  AuthRequestParameters

	challenging atomic.Bool
	challenged  atomic.Bool
	closeOnce   sync.Once

	// mu orders DoChallenge against Close. closed is set under it.
	mu     sync.Mutex
	closed bool
}

// ProtocolVersion is the version the transaction was opened with.
func (t *Transaction) ProtocolVersion() string { return t.version }

// AuthData returns the device material for the begin-auth call.
func (t *Transaction) AuthData() model.ThreeDSAuthData {
	return model.ThreeDSAuthData{
		SDKTransactionID:   t.params.SDKTransactionID,
		SDKAppID:           t.params.SDKAppID,
		SDKEncData:         t.params.DeviceData,
		SDKEphemPubKey:     t.params.SDKEphemeralPublicKey,
		SDKReferenceNumber: t.params.SDKReferenceNumber,
		SDKMaxTimeout:      sdkMaxTimeoutMinutes,
		ProtocolVersion:    t.version,
	}
}

// PerformChallenge presents the ACS challenge and waits for exactly one
// outcome, the gateway timeout, or ctx. The transaction is closed before it
// returns, whatever the outcome.
func (t *Transaction) PerformChallenge(ctx context.Context, data model.ThreeDSServerAuthData, requestorAppURL string) (ChallengeResult, error) {
	defer t.Close()

	if !t.challenged.CompareAndSwap(false, true) {
		return ChallengeResult{}, failure.New(failure.ChallengeFailed, "perform_challenge", "challenge already performed")
	}

	g := t.gateway
	params := ChallengeParameters{
		ThreeDSServerTransactionID: data.ThreeDSServerTransactionID,
		ACSTransactionID:           data.ACSTransactionID,
		ACSReferenceNumber:         data.ACSReferenceNumber,
		ACSSignedContent:           data.ACSSignedContent,
		RequestorAppURL:            requestorAppURL,
	}

	recv := newReceiver()
	t.challenging.Store(true)
	defer t.challenging.Store(false)

	g.mu.Lock()
	dispatch := g.dispatch
	g.mu.Unlock()
	dispatch(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closed {
			g.logger.Info("challenge_skipped", "transaction_id", t.id, "reason", "transaction_closed")
			return
		}
		if err := t.vendor.DoChallenge(params, recv, g.timeout); err != nil {
			recv.deliver(challengeOutcome{kind: outcomeStartFailed, startErr: err})
		}
	})

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	var out challengeOutcome
	select {
	case out = <-recv.ch:
	case <-timer.C:
		out = challengeOutcome{kind: outcomeTimedOut}
	case <-ctx.Done():
		out = challengeOutcome{kind: outcomeCancelled, ctxErr: ctx.Err()}
	}

	result, err := t.interpret(out)
	if err != nil {
		g.logger.Warn("challenge_failed",
			"transaction_id", t.id,
			"kind", failure.KindOf(err),
			"error", err.Error(),
		)
		return ChallengeResult{}, err
	}
	g.logger.Info("challenge_completed",
		"transaction_id", t.id,
		"status", string(result.Status),
	)
	return result, nil
}

func (t *Transaction) interpret(out challengeOutcome) (ChallengeResult, error) {
	switch out.kind {
	case outcomeCompleted:
		sdkTxID := out.completion.SDKTransactionID
		if sdkTxID == "" {
			sdkTxID = t.params.SDKTransactionID
		}
		status, ok := ParseAuthenticationStatus(out.completion.TransactionStatus)
		if !ok || status.Recommendation() != RecommendProceed {
			return ChallengeResult{}, &InvalidChallengeStatusError{
				Status:        out.completion.TransactionStatus,
				TransactionID: sdkTxID,
			}
		}
		return ChallengeResult{Status: status, SDKTransactionID: sdkTxID}, nil
	case outcomeCancelled:
		if out.ctxErr != nil {
			return ChallengeResult{}, failure.Wrap(failure.Cancelled, "perform_challenge", out.ctxErr)
		}
		return ChallengeResult{}, failure.New(failure.Cancelled, "perform_challenge", "challenge cancelled by shopper")
	case outcomeTimedOut:
		return ChallengeResult{}, failure.New(failure.ChallengeTimedOut, "perform_challenge", "challenge timed out")
	case outcomeProtocolError:
		e := out.protocol
		return ChallengeResult{}, &ProtocolError{
			Description:     e.Description,
			Code:            e.Code,
			Component:       e.Component,
			TransactionID:   e.SDKTransactionID,
			ProtocolVersion: e.ProtocolVersion,
			Detail:          e.Detail,
		}
	case outcomeRuntimeError:
		return ChallengeResult{}, &RuntimeError{Description: out.runtime.Description, Code: out.runtime.Code}
	default:
		return ChallengeResult{}, failure.Wrap(failure.ChallengeFailed, "perform_challenge", out.startErr)
	}
}

// Close releases the vendor transaction and the gateway slot. Only the first
// call has any effect.
func (t *Transaction) Close() {
	t.closeOnce.Do(func() {
		g := t.gateway
		t.mu.Lock()
		t.closed = true
		err := t.vendor.Close()
		t.mu.Unlock()
		if err != nil {
			g.logger.Warn("threeds_transaction_close_failed", "transaction_id", t.id, "error", err.Error())
		}
		g.mu.Lock()
		if g.current == t {
			g.current = nil
		}
		g.mu.Unlock()
		<-g.slot
		g.logger.Info("threeds_transaction_released", "transaction_id", t.id)
	})
}

type outcomeKind int

const (
	outcomeCompleted outcomeKind = iota
	outcomeCancelled
	outcomeTimedOut
	outcomeProtocolError
	outcomeRuntimeError
	outcomeStartFailed
)

type challengeOutcome struct {
	kind       outcomeKind
	completion CompletionEvent
	protocol   ProtocolErrorEvent
	runtime    RuntimeErrorEvent
	startErr   error
	ctxErr     error
}

// receiver turns vendor delegate callbacks into a single channel value.
type receiver struct {
	once sync.Once
	ch   chan challengeOutcome
}

func newReceiver() *receiver {
	return &receiver{ch: make(chan challengeOutcome, 1)}
}

func (r *receiver) deliver(o challengeOutcome) {
	r.once.Do(func() { r.ch <- o })
}

func (r *receiver) Completed(e CompletionEvent) {
	r.deliver(challengeOutcome{kind: outcomeCompleted, completion: e})
}

func (r *receiver) Cancelled() { r.deliver(challengeOutcome{kind: outcomeCancelled}) }
func (r *receiver) TimedOut()  { r.deliver(challengeOutcome{kind: outcomeTimedOut}) }

func (r *receiver) ProtocolError(e ProtocolErrorEvent) {
	r.deliver(challengeOutcome{kind: outcomeProtocolError, protocol: e})
}

func (r *receiver) RuntimeError(e RuntimeErrorEvent) {
	r.deliver(challengeOutcome{kind: outcomeRuntimeError, runtime: e})
}
