package threeds

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// Response codes of the begin-auth and continue endpoints.
const (
	CodeSkipped          = "SKIPPED"
	CodeMethod           = "METHOD"
	CodeChallenge        = "CHALLENGE"
	CodeAuthSuccess      = "AUTH_SUCCESS"
	CodeAuthFailed       = "AUTH_FAILED"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
)

// AuthKind is the shape a begin-auth response decoded to.
type AuthKind int

const (
	AuthSkipped AuthKind = iota
	AuthMethod
	AuthBrowserChallengeV2
	AuthAppChallengeV2
	AuthBrowserChallengeV1
	AuthDeclined
	AuthSuccess
)

func (k AuthKind) String() string {
	switch k {
	case AuthSkipped:
		return "skipped"
	case AuthMethod:
		return "method"
	case AuthBrowserChallengeV2:
		return "browser_challenge_v2"
	case AuthAppChallengeV2:
		return "app_challenge_v2"
	case AuthBrowserChallengeV1:
		return "browser_challenge_v1"
	case AuthDeclined:
		return "declined"
	case AuthSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// Authentication is the permissive union of every authentication shape.
type Authentication struct {
	ResponseCode          string `json:"responseCode"`
	ProtocolVersion       string `json:"protocolVersion,omitempty"`
	TransactionID         string `json:"transactionId,omitempty"`
	ACSReferenceNumber    string `json:"acsReferenceNumber,omitempty"`
	ACSSignedContent      string `json:"acsSignedContent,omitempty"`
	ACSTransactionID      string `json:"acsTransactionId,omitempty"`
	ACSChallengeURL       string `json:"acsChallengeUrl,omitempty"`
	ACSChallengeMethod    string `json:"acsChallengeMethod,omitempty"`
	MethodURL             string `json:"methodUrl,omitempty"`
	ECI                   string `json:"eci,omitempty"`
	SkippedReasonCode     string `json:"skippedReasonCode,omitempty"`
	DeclinedReasonCode    string `json:"declinedReasonCode,omitempty"`
	DeclinedReasonMessage string `json:"declinedReasonMessage,omitempty"`
}

// ServerAuthData returns the ACS data an app challenge needs.
func (a Authentication) ServerAuthData() model.ThreeDSServerAuthData {
	return model.ThreeDSServerAuthData{
		ACSReferenceNumber:         a.ACSReferenceNumber,
		ACSSignedContent:           a.ACSSignedContent,
		ACSTransactionID:           a.ACSTransactionID,
		ThreeDSServerTransactionID: a.TransactionID,
	}
}

// AuthResponse is a decoded begin-auth or continue response.
type AuthResponse struct {
	Kind           AuthKind
	Authentication Authentication
	Token          *model.PaymentMethodToken
	ResumeToken    string
}

type authEnvelope struct {
	Authentication *Authentication          `json:"authentication"`
	Token          *model.PaymentMethodToken `json:"token,omitempty"`
	ResumeToken    string                    `json:"resumeToken,omitempty"`
}

type shape struct {
	kind    AuthKind
	matches func(a *Authentication) bool
}

// shapes is tried in order; the first match wins.
var shapes = []shape{
	{AuthSkipped, func(a *Authentication) bool {
		return a.ResponseCode == CodeSkipped
	}},
	{AuthMethod, func(a *Authentication) bool {
		return a.ResponseCode == CodeMethod && a.MethodURL != ""
	}},
	{AuthBrowserChallengeV2, func(a *Authentication) bool {
		return a.ResponseCode == CodeChallenge && majorVersion(a.ProtocolVersion) == "2" && a.ACSChallengeURL != ""
	}},
	{AuthAppChallengeV2, func(a *Authentication) bool {
		return a.ResponseCode == CodeChallenge && majorVersion(a.ProtocolVersion) == "2" &&
			a.ACSSignedContent != "" && a.ACSTransactionID != "" && a.ACSReferenceNumber != ""
	}},
	{AuthBrowserChallengeV1, func(a *Authentication) bool {
		return a.ResponseCode == CodeChallenge && majorVersion(a.ProtocolVersion) == "1" && a.ACSChallengeURL != ""
	}},
	{AuthDeclined, func(a *Authentication) bool {
		return a.ResponseCode == CodeAuthFailed
	}},
	{AuthSuccess, func(a *Authentication) bool {
		return a.ResponseCode == CodeAuthSuccess || a.ResponseCode == CodeNotAuthenticated
	}},
}

// DecodeAuthResponse decodes raw by trying every known authentication shape
// in a fixed priority order. Payloads matching several shapes are logged.
func DecodeAuthResponse(raw []byte, logger *slog.Logger) (*AuthResponse, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var env authEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, failure.Wrap(failure.Decoding, "decode_auth_response", err)
	}
	if env.Authentication == nil {
		return nil, failure.New(failure.Decoding, "decode_auth_response", "response has no authentication object")
	}

	var matched []AuthKind
	for _, s := range shapes {
		if s.matches(env.Authentication) {
			matched = append(matched, s.kind)
		}
	}
	if len(matched) == 0 {
		return nil, failure.New(failure.Decoding, "decode_auth_response",
			fmt.Sprintf("authentication with responseCode %q and protocolVersion %q matches no known shape",
				env.Authentication.ResponseCode, env.Authentication.ProtocolVersion))
	}
	if len(matched) > 1 {
		names := make([]string, len(matched))
		for i, k := range matched {
			names[i] = k.String()
		}
		logger.Warn("ambiguous_auth_response",
			"response_code", env.Authentication.ResponseCode,
			"matches", strings.Join(names, ","),
			"chosen", matched[0].String(),
		)
	}

	return &AuthResponse{
		Kind:           matched[0],
		Authentication: *env.Authentication,
		Token:          env.Token,
		ResumeToken:    env.ResumeToken,
	}, nil
}

func majorVersion(v string) string {
	major, _, _ := strings.Cut(v, ".")
	return major
}
