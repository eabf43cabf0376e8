// Package tokenization exchanges payment instruments for payment method tokens.
package tokenization

import (
	"context"
	"log/slog"
	"time"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// TokenSource supplies the current session token.
type TokenSource interface {
	Current() (*model.SessionToken, uint64, error)
}

// Client posts instruments to the PCI-scoped endpoint.
type Client interface {
	Tokenize(ctx context.Context, session *model.SessionToken, instrument model.PaymentInstrument) (*model.PaymentMethodToken, error)
}

// Service tokenizes one instrument per call. It does not retry; a failed
// attempt is restarted by the caller.
type Service struct {
	tokens TokenSource
	client Client
	logger *slog.Logger
}

// NewService creates a tokenization service.
func NewService(tokens TokenSource, client Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tokens: tokens, client: client, logger: logger}
}

// Tokenize posts instrument using the current session token.
func (s *Service) Tokenize(ctx context.Context, instrument model.PaymentInstrument) (*model.PaymentMethodToken, error) {
	if instrument == nil {
		return nil, failure.New(failure.Tokenization, "tokenize", "no payment instrument")
	}
	session, _, err := s.tokens.Current()
	if err != nil {
		return nil, err
	}
	if session.PCIURL == "" {
		return nil, failure.New(failure.Configuration, "tokenize", "session token has no pci url")
	}

	start := time.Now()
	tok, err := s.client.Tokenize(ctx, session, instrument)
	if err != nil {
		s.logger.Warn("tokenization_failed",
			"instrument_type", instrument.InstrumentType(),
			"kind", failure.KindOf(err),
			"error", err.Error(),
		)
		return nil, failure.Wrap(failure.Tokenization, "tokenize", err)
	}

	attrs := []any{
		"instrument_type", instrument.InstrumentType(),
		"latency_ms", time.Since(start).Milliseconds(),
	}
	if tok.PaymentInstrumentData != nil && tok.PaymentInstrumentData.Last4Digits != "" {
		attrs = append(attrs, "last4", tok.PaymentInstrumentData.Last4Digits)
	}
	s.logger.Info("tokenization_succeeded", attrs...)
	return tok, nil
}
