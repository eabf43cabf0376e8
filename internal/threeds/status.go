package threeds

// AuthenticationStatus is the EMV 3DS transaction status of a challenge.
type AuthenticationStatus string

const (
	StatusAuthenticated AuthenticationStatus = "Y"
	StatusAttempted     AuthenticationStatus = "A"
	StatusNotVerified   AuthenticationStatus = "N"
	StatusUnavailable   AuthenticationStatus = "U"
	StatusError         AuthenticationStatus = "E"
)

// Recommendation is what the flow should do for a status.
type Recommendation int

const (
	RecommendStop Recommendation = iota
	RecommendProceed
	RecommendCallerDecision
)

func (r Recommendation) String() string {
	switch r {
	case RecommendProceed:
		return "proceed"
	case RecommendCallerDecision:
		return "caller_decision"
	default:
		return "stop"
	}
}

// ParseAuthenticationStatus returns false for values outside the enumeration.
func ParseAuthenticationStatus(s string) (AuthenticationStatus, bool) {
	switch st := AuthenticationStatus(s); st {
	case StatusAuthenticated, StatusAttempted, StatusNotVerified, StatusUnavailable, StatusError:
		return st, true
	default:
		return "", false
	}
}

// Recommendation maps Y and A to proceed, U to a caller decision, everything else to stop.
func (s AuthenticationStatus) Recommendation() Recommendation {
	switch s {
	case StatusAuthenticated, StatusAttempted:
		return RecommendProceed
	case StatusUnavailable:
		return RecommendCallerDecision
	default:
		return RecommendStop
	}
}
