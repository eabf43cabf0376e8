package threeds

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChallengeBehavior selects how a mock challenge ends.
type ChallengeBehavior int

const (
	BehaviorComplete ChallengeBehavior = iota
	BehaviorCancel
	BehaviorTimeout
	BehaviorProtocolError
	BehaviorRuntimeError
	// BehaviorSilent never calls the receiver.
	BehaviorSilent
	// BehaviorAwaitAppReturn completes with Y once the app return URL arrives.
	BehaviorAwaitAppReturn
)

// MockConfig holds configuration for creating a mock SDK.
type MockConfig struct {
	Name              string
	Behavior          ChallengeBehavior
	TransactionStatus string
	InitWarnings      []Warning
	InitErr           error
	CreateErr         error
	MinLatency        time.Duration
	MaxLatency        time.Duration
}

// MockSDK simulates a vendor 3DS SDK with configurable challenge outcomes.
type MockSDK struct {
	config MockConfig
	rng    *rand.Rand

	mu              sync.Mutex
	initializations int
	opened          int
	closed          int
	challenges      int
	open            int
	maxOpen         int
	appReturns      []*url.URL
}

// NewMockSDK creates a new mock SDK from the given config.
func NewMockSDK(cfg MockConfig) *MockSDK {
	if cfg.TransactionStatus == "" {
		cfg.TransactionStatus = string(StatusAuthenticated)
	}
	return &MockSDK{
		config: cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockSDK) Name() string { return m.config.Name }

// SetBehavior changes how subsequent challenges end.
func (m *MockSDK) SetBehavior(b ChallengeBehavior, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Behavior = b
	if status != "" {
		m.config.TransactionStatus = status
	}
}

func (m *MockSDK) Initialize(ctx context.Context, params InitParams) ([]Warning, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initializations++
	if m.config.InitErr != nil {
		return nil, m.config.InitErr
	}
	if m.initializations > 1 {
		return nil, errors.New("sdk already initialized")
	}
	return m.config.InitWarnings, nil
}

func (m *MockSDK) CreateTransaction(directoryServerID, protocolVersion string) (VendorTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.CreateErr != nil {
		return nil, m.config.CreateErr
	}
	m.opened++
	m.open++
	if m.open > m.maxOpen {
		m.maxOpen = m.open
	}
	return &mockTransaction{
		sdk:     m,
		id:      uuid.NewString(),
		version: protocolVersion,
		done:    make(chan struct{}),
		returns: make(chan *url.URL, 1),
	}, nil
}

// Initializations returns how many times Initialize reached the SDK.
func (m *MockSDK) Initializations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializations
}

// Opened returns the number of transactions created.
func (m *MockSDK) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// Closed returns the number of Close calls across all transactions.
func (m *MockSDK) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Challenges returns the number of DoChallenge calls.
func (m *MockSDK) Challenges() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.challenges
}

// MaxConcurrent returns the highest number of simultaneously open transactions.
func (m *MockSDK) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxOpen
}

// AppReturns returns the URLs forwarded to transactions.
func (m *MockSDK) AppReturns() []*url.URL {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*url.URL(nil), m.appReturns...)
}

func (m *MockSDK) simulateLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	min := m.config.MinLatency
	max := m.config.MaxLatency
	if max <= min {
		return min
	}
	return min + time.Duration(m.rng.Int63n(int64(max-min)))
}

type mockTransaction struct {
	sdk     *MockSDK
	id      string
	version string

	closeOnce sync.Once
	done      chan struct{}
	returns   chan *url.URL
}

func (t *mockTransaction) AuthenticationRequestParameters() (AuthRequestParameters, error) {
	return AuthRequestParameters{
		SDKTransactionID:      t.id,
		DeviceData:            "mock-device-data-" + t.id[:8],
		SDKEphemeralPublicKey: `{"kty":"EC","crv":"P-256","x":"mock","y":"mock"}`,
		SDKAppID:              "mock-app-" + t.sdk.config.Name,
		SDKReferenceNumber:    "3DS_LOA_SDK_MOCK_000001",
		MessageVersion:        t.version,
	}, nil
}

func (t *mockTransaction) DoChallenge(params ChallengeParameters, receiver ChallengeReceiver, timeout time.Duration) error {
	if params.ACSTransactionID == "" {
		return fmt.Errorf("challenge parameters have no acs transaction id")
	}

	t.sdk.mu.Lock()
	t.sdk.challenges++
	behavior := t.sdk.config.Behavior
	status := t.sdk.config.TransactionStatus
	t.sdk.mu.Unlock()

	latency := t.sdk.simulateLatency()
	go func() {
		select {
		case <-time.After(latency):
		case <-t.done:
			return
		}

		switch behavior {
		case BehaviorComplete:
			receiver.Completed(CompletionEvent{SDKTransactionID: t.id, TransactionStatus: status})
		case BehaviorCancel:
			receiver.Cancelled()
		case BehaviorTimeout:
			receiver.TimedOut()
		case BehaviorProtocolError:
			receiver.ProtocolError(ProtocolErrorEvent{
				SDKTransactionID: t.id,
				Description:      "invalid acs signed content",
				Code:             "203",
				Component:        "C",
				ProtocolVersion:  t.version,
				Detail:           "acsSignedContent",
			})
		case BehaviorRuntimeError:
			receiver.RuntimeError(RuntimeErrorEvent{Description: "challenge rendering failed", Code: "RT-01"})
		case BehaviorAwaitAppReturn:
			select {
			case <-t.returns:
				receiver.Completed(CompletionEvent{SDKTransactionID: t.id, TransactionStatus: status})
			case <-t.done:
			}
		case BehaviorSilent:
		}
	}()
	return nil
}

func (t *mockTransaction) HandleAppReturn(u *url.URL) bool {
	t.sdk.mu.Lock()
	t.sdk.appReturns = append(t.sdk.appReturns, u)
	t.sdk.mu.Unlock()
	select {
	case t.returns <- u:
		return true
	default:
		return false
	}
}

func (t *mockTransaction) Close() error {
	t.sdk.mu.Lock()
	t.sdk.closed++
	t.sdk.mu.Unlock()

	t.closeOnce.Do(func() {
		close(t.done)
		t.sdk.mu.Lock()
		t.sdk.open--
		t.sdk.mu.Unlock()
	})
	return nil
}
