package threeds

import "time"

// NewApprovingSDK creates a mock SDK whose challenges authenticate (Y).
func NewApprovingSDK() *MockSDK {
	return NewMockSDK(MockConfig{
		Name:              "approving",
		Behavior:          BehaviorComplete,
		TransactionStatus: string(StatusAuthenticated),
		MinLatency:        20 * time.Millisecond,
		MaxLatency:        80 * time.Millisecond,
	})
}

// NewAttemptedSDK creates a mock SDK whose challenges are attempted (A).
func NewAttemptedSDK() *MockSDK {
	return NewMockSDK(MockConfig{
		Name:              "attempted",
		Behavior:          BehaviorComplete,
		TransactionStatus: string(StatusAttempted),
		MinLatency:        20 * time.Millisecond,
		MaxLatency:        80 * time.Millisecond,
	})
}

// NewRejectingSDK creates a mock SDK whose challenges fail authentication (N).
func NewRejectingSDK() *MockSDK {
	return NewMockSDK(MockConfig{
		Name:              "rejecting",
		Behavior:          BehaviorComplete,
		TransactionStatus: string(StatusNotVerified),
		MinLatency:        20 * time.Millisecond,
		MaxLatency:        80 * time.Millisecond,
	})
}

// NewAbandoningSDK creates a mock SDK whose shopper closes every challenge.
func NewAbandoningSDK() *MockSDK {
	return NewMockSDK(MockConfig{
		Name:       "abandoning",
		Behavior:   BehaviorCancel,
		MinLatency: 10 * time.Millisecond,
		MaxLatency: 30 * time.Millisecond,
	})
}

// NewStalledSDK creates a mock SDK that never reports a challenge outcome.
func NewStalledSDK() *MockSDK {
	return NewMockSDK(MockConfig{
		Name:     "stalled",
		Behavior: BehaviorSilent,
	})
}

// MockSDKByName returns a preset by name, for the CLI.
func MockSDKByName(name string) (*MockSDK, bool) {
	switch name {
	case "approving", "":
		return NewApprovingSDK(), true
	case "attempted":
		return NewAttemptedSDK(), true
	case "rejecting":
		return NewRejectingSDK(), true
	case "abandoning":
		return NewAbandoningSDK(), true
	case "stalled":
		return NewStalledSDK(), true
	default:
		return nil, false
	}
}
