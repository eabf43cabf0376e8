package threeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/apiclient"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// SandboxDirectoryServerID routes every non-production transaction.
const SandboxDirectoryServerID = "A999999999"

var directoryServers = map[string]string{
	"VISA":             "A000000003",
	"MASTERCARD":       "A000000004",
	"AMEX":             "A000000025",
	"DISCOVER":         "A000000152",
	"DINERS_CLUB":      "A000000152",
	"DINERS":           "A000000152",
	"JCB":              "A000000065",
	"CARTES_BANCAIRES": "A000000042",
}

// DirectoryServerID returns the directory server for a card network.
func DirectoryServerID(network string, production bool) (string, bool) {
	if !production {
		return SandboxDirectoryServerID, true
	}
	id, ok := directoryServers[strings.ToUpper(network)]
	return id, ok
}

// AuthAPI is the backend half of a 3DS authentication.
type AuthAPI interface {
	BeginAuth(ctx context.Context, session *model.SessionToken, paymentMethodToken string, req apiclient.BeginAuthRequest) (json.RawMessage, error)
	ContinueAuth(ctx context.Context, session *model.SessionToken, paymentMethodToken, transactionStatus string) (json.RawMessage, error)
}

// ConfigSource supplies the checkout configuration.
type ConfigSource interface {
	Get(ctx context.Context) (*model.PaymentMethodConfig, error)
}

// Flow handles the 3DS_AUTHENTICATION required action and yields a resume token.
type Flow struct {
	gateway         *Gateway
	api             AuthAPI
	config          ConfigSource
	requestorAppURL string
	logger          *slog.Logger
}

// NewFlow creates a flow. requestorAppURL is where out-of-band challenges return.
func NewFlow(gateway *Gateway, api AuthAPI, cfg ConfigSource, requestorAppURL string, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{gateway: gateway, api: api, config: cfg, requestorAppURL: requestorAppURL, logger: logger}
}

// Handle runs the authentication with the action's session token. The vendor
// transaction is released before Handle returns.
func (f *Flow) Handle(ctx context.Context, req model.ActionRequest) (string, error) {
	if req.PaymentMethod == nil || req.PaymentMethod.Token == "" {
		return "", failure.New(failure.TransactionCreation, "threeds", "no payment method token to authenticate")
	}
	session := req.Session

	cfg, err := f.config.Get(ctx)
	if err != nil {
		return "", err
	}

	apiKey := session.ThreeDSecureToken
	versions := DefaultProtocolVersions
	if cfg.Keys != nil {
		if cfg.Keys.ThreeDSecureToken != "" {
			apiKey = cfg.Keys.ThreeDSecureToken
		}
		if len(cfg.Keys.ThreeDSecureProtocolVersions) > 0 {
			versions = cfg.Keys.ThreeDSecureProtocolVersions
		}
	}

	if err := f.gateway.Initialize(ctx, InitParams{APIKey: apiKey, Environment: session.Environment}); err != nil {
		return "", err
	}

	network := req.PaymentMethod.Network()
	dsID, ok := DirectoryServerID(network, session.IsProduction())
	if !ok {
		return "", failure.New(failure.TransactionCreation, "threeds",
			fmt.Sprintf("no directory server for card network %q", network))
	}

	txn, err := f.gateway.CreateTransaction(ctx, dsID, versions)
	if err != nil {
		return "", err
	}
	defer txn.Close()

	raw, err := f.api.BeginAuth(ctx, session, req.PaymentMethod.Token, apiclient.BeginAuthRequest{
		MaxProtocolVersion:  txn.ProtocolVersion(),
		ChallengePreference: "NO_PREFERENCE",
		Device:              txn.AuthData(),
	})
	if err != nil {
		return "", fmt.Errorf("begin 3ds auth: %w", err)
	}
	resp, err := DecodeAuthResponse(raw, f.logger)
	if err != nil {
		return "", err
	}

	f.logger.Info("threeds_auth_began",
		"attempt_id", req.AttemptID,
		"auth_kind", resp.Kind.String(),
		"protocol_version", txn.ProtocolVersion(),
	)

	switch resp.Kind {
	case AuthSkipped, AuthSuccess, AuthDeclined:
		txn.Close()
		return resumeTokenOf(resp)
	case AuthAppChallengeV2:
		result, err := txn.PerformChallenge(ctx, resp.Authentication.ServerAuthData(), f.requestorAppURL)
		if err != nil {
			return "", err
		}
		raw, err := f.api.ContinueAuth(ctx, session, req.PaymentMethod.Token, string(result.Status))
		if err != nil {
			return "", fmt.Errorf("continue 3ds auth: %w", err)
		}
		cont, err := DecodeAuthResponse(raw, f.logger)
		if err != nil {
			return "", err
		}
		return resumeTokenOf(cont)
	default:
		return "", failure.New(failure.ChallengeFailed, "threeds",
			fmt.Sprintf("%s is not supported by the native flow", resp.Kind))
	}
}

func resumeTokenOf(resp *AuthResponse) (string, error) {
	if resp.ResumeToken == "" {
		return "", failure.New(failure.Decoding, "threeds",
			fmt.Sprintf("%s response has no resume token", resp.Kind))
	}
	return resp.ResumeToken, nil
}
