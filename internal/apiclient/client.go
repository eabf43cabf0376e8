// Package apiclient is the network boundary of the checkout SDK.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/config"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

const (
	headerClientToken    = "Primer-Client-Token"
	headerAPIVersion     = "X-Api-Version"
	headerIdempotencyKey = "X-Idempotency-Key"

	maxErrorBody = 512
)

// RequestError describes a failed backend call. Transport failures have a zero
// StatusCode and classify as network errors; rejected or unparseable responses
// classify as decoding errors.
type RequestError struct {
	Op          string
	Method      string
	URL         string
	StatusCode  int
	Description string
	Body        string
	Err         error
}

func (e *RequestError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Method, e.URL, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s %s %s: status %d: %v", e.Op, e.Method, e.URL, e.StatusCode, e.Err)
	case e.Description != "":
		return fmt.Sprintf("%s %s %s: status %d: %s", e.Op, e.Method, e.URL, e.StatusCode, e.Description)
	default:
		return fmt.Sprintf("%s %s %s: status %d", e.Op, e.Method, e.URL, e.StatusCode)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

func (e *RequestError) ErrorKind() failure.Kind {
	if e.StatusCode == 0 {
		return failure.Network
	}
	return failure.Decoding
}

type errorEnvelope struct {
	Error struct {
		ErrorID       string `json:"errorId"`
		Description   string `json:"description"`
		DiagnosticsID string `json:"diagnosticsId"`
	} `json:"error"`
}

// BeginAuthRequest starts 3DS authentication for a payment method token.
type BeginAuthRequest struct {
	MaxProtocolVersion  string                `json:"maxProtocolVersion"`
	ChallengePreference string                `json:"challengePreference"`
	Device              model.ThreeDSAuthData `json:"device"`
}

// StatusResponse is the body of a status URL poll. Once Status is COMPLETE,
// ID is the resume token.
type StatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// MandateRequest signs a direct-debit mandate for a processor config.
type MandateRequest struct {
	ProcessorConfigID string `json:"id"`
	BankDetails       struct {
		IBAN string `json:"iban"`
	} `json:"bankDetails"`
	UserDetails struct {
		FirstName    string `json:"firstName"`
		LastName     string `json:"lastName"`
		Email        string `json:"email"`
		AddressLine1 string `json:"addressLine1"`
		City         string `json:"city"`
		PostalCode   string `json:"postalCode"`
		CountryCode  string `json:"countryCode"`
	} `json:"userDetails"`
}

const (
	PollPending  = "PENDING"
	PollComplete = "COMPLETE"
	PollFailed   = "FAILED"
)

// Client talks to the checkout backend on behalf of one SDK instance.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// New creates a client with the given per-request timeout.
func New(timeout time.Duration, logger *slog.Logger) *Client {
	return NewWithHTTPClient(&http.Client{Timeout: timeout}, logger)
}

// NewWithHTTPClient wraps an existing *http.Client, e.g. one from httptest.
func NewWithHTTPClient(hc *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	rc := resty.NewWithClient(hc).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader(headerAPIVersion, config.APIVersion)
	return &Client{http: rc, logger: logger}
}

// FetchConfiguration loads the checkout configuration for session.
func (c *Client) FetchConfiguration(ctx context.Context, session *model.SessionToken) (*model.PaymentMethodConfig, error) {
	var out model.PaymentMethodConfig
	if err := c.do(ctx, "fetch_configuration", http.MethodGet, session.ConfigurationURL, session, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tokenize exchanges a payment instrument for a single-use payment method token.
func (c *Client) Tokenize(ctx context.Context, session *model.SessionToken, instrument model.PaymentInstrument) (*model.PaymentMethodToken, error) {
	body := map[string]any{
		"paymentInstrument": instrument,
		"tokenType":         "SINGLE_USE",
	}
	var out model.PaymentMethodToken
	endpoint := join(session.PCIURL, "payment-instruments")
	if err := c.do(ctx, "tokenize", http.MethodPost, endpoint, session, nil, body, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, c.decodeError("tokenize", http.MethodPost, endpoint, http.StatusOK, "response has no token")
	}
	return &out, nil
}

// CreatePayment creates a payment from a payment method token.
func (c *Client) CreatePayment(ctx context.Context, session *model.SessionToken, paymentMethodToken string) (*model.Payment, error) {
	body := map[string]string{"paymentMethodToken": paymentMethodToken}
	headers := map[string]string{headerIdempotencyKey: uuid.NewString()}
	return c.payment(ctx, "create_payment", join(session.CoreURL, "payments"), session, headers, body)
}

// ResumePayment continues paymentID with the token produced by a required action.
func (c *Client) ResumePayment(ctx context.Context, session *model.SessionToken, paymentID, resumeToken string) (*model.Payment, error) {
	body := map[string]string{"resumeToken": resumeToken}
	endpoint := join(session.CoreURL, "payments", url.PathEscape(paymentID), "resume")
	return c.payment(ctx, "resume_payment", endpoint, session, nil, body)
}

// BeginAuth starts 3DS authentication. The response is polymorphic and
// returned undecoded.
func (c *Client) BeginAuth(ctx context.Context, session *model.SessionToken, paymentMethodToken string, req BeginAuthRequest) (json.RawMessage, error) {
	var out json.RawMessage
	endpoint := join(session.PCIURL, "3ds", url.PathEscape(paymentMethodToken), "auth")
	if err := c.do(ctx, "begin_auth", http.MethodPost, endpoint, session, nil, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ContinueAuth reports the challenge result for paymentMethodToken.
func (c *Client) ContinueAuth(ctx context.Context, session *model.SessionToken, paymentMethodToken, transactionStatus string) (json.RawMessage, error) {
	var out json.RawMessage
	body := map[string]string{"transactionStatus": transactionStatus}
	endpoint := join(session.PCIURL, "3ds", url.PathEscape(paymentMethodToken), "continue")
	if err := c.do(ctx, "continue_auth", http.MethodPost, endpoint, session, nil, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateMandate signs a direct-debit mandate and returns its id.
func (c *Client) CreateMandate(ctx context.Context, session *model.SessionToken, req MandateRequest) (string, error) {
	var out struct {
		MandateID string `json:"mandateId"`
	}
	endpoint := join(session.CoreURL, "gocardless", "mandates")
	if err := c.do(ctx, "create_mandate", http.MethodPost, endpoint, session, nil, req, &out); err != nil {
		return "", err
	}
	if out.MandateID == "" {
		return "", c.decodeError("create_mandate", http.MethodPost, endpoint, http.StatusOK, "response has no mandateId")
	}
	return out.MandateID, nil
}

// PollStatus reads the status URL of a redirect-style action once.
func (c *Client) PollStatus(ctx context.Context, session *model.SessionToken, statusURL string) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, "poll_status", http.MethodGet, statusURL, session, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) payment(ctx context.Context, op, endpoint string, session *model.SessionToken, headers map[string]string, body any) (*model.Payment, error) {
	var out model.Payment
	if err := c.do(ctx, op, http.MethodPost, endpoint, session, headers, body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" || out.Status == "" {
		return nil, c.decodeError(op, http.MethodPost, endpoint, http.StatusOK, "payment response has no id or status")
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, session *model.SessionToken, headers map[string]string, body, out any) error {
	if endpoint == "" {
		return failure.New(failure.Configuration, op, "endpoint url is empty")
	}
	if session == nil || session.AccessToken == "" {
		return failure.New(failure.Configuration, op, "no access token")
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader(headerClientToken, session.AccessToken).
		SetHeaders(headers)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		c.logger.Warn("api_request_failed", "op", op, "method", method, "error", err.Error())
		return &RequestError{Op: op, Method: method, URL: endpoint, Err: err}
	}

	raw := resp.Body()
	if !resp.IsSuccess() {
		reqErr := &RequestError{
			Op:         op,
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode(),
			Body:       truncate(string(raw)),
		}
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil {
			reqErr.Description = env.Error.Description
		}
		c.logger.Warn("api_request_rejected", "op", op, "method", method, "status", resp.StatusCode())
		return reqErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Warn("api_response_undecodable", "op", op, "status", resp.StatusCode(), "error", err.Error())
		return &RequestError{
			Op:         op,
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode(),
			Body:       truncate(string(raw)),
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}

	c.logger.Debug("api_request_completed", "op", op, "method", method, "status", resp.StatusCode())
	return nil
}

func (c *Client) decodeError(op, method, endpoint string, status int, msg string) error {
	c.logger.Warn("api_response_undecodable", "op", op, "status", status, "error", msg)
	return &RequestError{Op: op, Method: method, URL: endpoint, StatusCode: status, Err: errors.New(msg)}
}

func join(base string, parts ...string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
