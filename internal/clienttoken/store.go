// Package clienttoken decodes checkout session tokens and holds the current one.
package clienttoken

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// Claims is the payload of a session token.
type Claims struct {
	AccessToken         string `json:"accessToken" validate:"required"`
	ConfigurationURL    string `json:"configurationUrl" validate:"omitempty,url"`
	CoreURL             string `json:"coreUrl,omitempty" validate:"omitempty,url"`
	PCIURL              string `json:"pciUrl,omitempty" validate:"omitempty,url"`
	Environment         string `json:"env" validate:"required"`
	Intent              string `json:"intent,omitempty"`
	StatusURL           string `json:"statusUrl,omitempty" validate:"omitempty,url"`
	RedirectURL         string `json:"redirectUrl,omitempty" validate:"omitempty,url"`
	ThreeDSecureInitURL string `json:"threeDSecureInitUrl,omitempty" validate:"omitempty,url"`
	ThreeDSecureToken   string `json:"threeDSecureToken,omitempty"`
	QRCode              string `json:"qrCode,omitempty"`
	AccountNumber       string `json:"accountNumber,omitempty"`
	jwt.RegisteredClaims
}

var (
	validate = validator.New()
	parser   = jwt.NewParser()
)

// Decode parses raw without verifying its signature; the backend verifies it
// on every call. Malformed, incomplete or expired tokens are configuration errors.
func Decode(raw string, now time.Time) (*model.SessionToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, failure.New(failure.Configuration, "decode_token", "session token is empty")
	}

	var c Claims
	if _, _, err := parser.ParseUnverified(raw, &c); err != nil {
		return nil, failure.Wrap(failure.Configuration, "decode_token", err)
	}
	if err := validate.Struct(c); err != nil {
		return nil, failure.Wrap(failure.Configuration, "decode_token", err)
	}

	tok := &model.SessionToken{
		Raw:                 raw,
		AccessToken:         c.AccessToken,
		ConfigurationURL:    c.ConfigurationURL,
		CoreURL:             c.CoreURL,
		PCIURL:              c.PCIURL,
		Environment:         c.Environment,
		Intent:              c.Intent,
		StatusURL:           c.StatusURL,
		RedirectURL:         c.RedirectURL,
		ThreeDSecureInitURL: c.ThreeDSecureInitURL,
		ThreeDSecureToken:   c.ThreeDSecureToken,
		QRCode:              c.QRCode,
		AccountNumber:       c.AccountNumber,
	}
	if c.ExpiresAt != nil {
		tok.ExpiresAt = c.ExpiresAt.Time
	}
	if tok.IsExpired(now) {
		return nil, failure.New(failure.Configuration, "decode_token", "session token expired")
	}
	return tok, nil
}

// Store holds the current session token. Every Set that succeeds starts a new
// generation; consumers key derived state on it.
type Store struct {
	mu         sync.RWMutex
	current    *model.SessionToken
	generation uint64
	now        func() time.Time
	logger     *slog.Logger
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{now: time.Now, logger: logger}
}

// Set decodes raw and replaces the current token wholesale. On error the
// previous token stays current.
func (s *Store) Set(raw string) (*model.SessionToken, error) {
	tok, err := Decode(raw, s.now())
	if err != nil {
		s.logger.Warn("session_token_rejected", "error", err.Error())
		return nil, err
	}

	s.mu.Lock()
	s.current = tok
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.logger.Debug("session_token_set",
		"generation", gen,
		"env", tok.Environment,
		"intent", tok.Intent,
	)
	return tok, nil
}

// Current returns the current token and its generation.
func (s *Store) Current() (*model.SessionToken, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, 0, failure.New(failure.Configuration, "current_token", "no session token set")
	}
	return s.current, s.generation, nil
}

// Generation returns the number of tokens accepted so far.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Mint signs claims with an HMAC key. The mock backend and tests use it to
// issue tokens the store accepts.
func Mint(c Claims, key []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(key)
}
