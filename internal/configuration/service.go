// Package configuration fetches and caches the checkout configuration.
package configuration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/cache"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

const defaultTTL = time.Hour

// TokenSource supplies the current session token and its generation.
type TokenSource interface {
	Current() (*model.SessionToken, uint64, error)
}

// Fetcher loads configuration from the backend.
type Fetcher interface {
	FetchConfiguration(ctx context.Context, session *model.SessionToken) (*model.PaymentMethodConfig, error)
}

// Service exposes one immutable configuration snapshot per token generation.
// Concurrent callers of the same generation share a single fetch.
type Service struct {
	tokens  TokenSource
	fetcher Fetcher
	store   cache.Store
	logger  *slog.Logger

	mu         sync.Mutex
	generation uint64
	snapshot   *model.PaymentMethodConfig
}

// NewService creates a Service. store may be nil to disable the shared cache.
func NewService(tokens TokenSource, fetcher Fetcher, store cache.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tokens: tokens, fetcher: fetcher, store: store, logger: logger}
}

// Get returns the snapshot for the current token, fetching it on first use of
// a generation. Failures are configuration errors and never return a stale snapshot.
func (s *Service) Get(ctx context.Context) (*model.PaymentMethodConfig, error) {
	session, gen, err := s.tokens.Current()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot != nil && s.generation == gen {
		return s.snapshot, nil
	}
	s.snapshot = nil

	key := cacheKey(session)
	if cfg, ok := s.fromCache(ctx, key); ok {
		s.generation, s.snapshot = gen, cfg
		return cfg, nil
	}

	cfg, err := s.fetcher.FetchConfiguration(ctx, session)
	if err != nil {
		s.logger.Error("configuration_fetch_failed", "generation", gen, "error", err.Error())
		return nil, failure.Wrap(failure.Configuration, "fetch_configuration", err)
	}

	s.generation, s.snapshot = gen, cfg
	s.logger.Info("configuration_loaded",
		"generation", gen,
		"env", cfg.Environment,
		"payment_methods", len(cfg.PaymentMethods),
	)

	if s.store != nil {
		if err := s.store.Set(ctx, key, cfg, ttlFor(session)); err != nil {
			s.logger.Warn("configuration_cache_write_failed", "error", err.Error())
		}
	}
	return cfg, nil
}

// Invalidate drops the current snapshot so the next Get refetches.
func (s *Service) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.snapshot = nil
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	if session, _, err := s.tokens.Current(); err == nil {
		_ = s.store.Delete(ctx, cacheKey(session))
	}
}

// PaymentMethod returns the configured method of methodType. A method without
// a processor config id cannot be charged and is a configuration error.
func (s *Service) PaymentMethod(ctx context.Context, methodType string) (model.PaymentMethod, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return model.PaymentMethod{}, err
	}
	m, ok := cfg.Method(methodType)
	if !ok {
		return model.PaymentMethod{}, failure.New(failure.Configuration, "payment_method",
			fmt.Sprintf("payment method %s is not configured", methodType))
	}
	if m.ProcessorConfigID == "" {
		return model.PaymentMethod{}, failure.New(failure.Configuration, "payment_method",
			fmt.Sprintf("payment method %s has no processor config id", methodType))
	}
	return m, nil
}

func (s *Service) fromCache(ctx context.Context, key string) (*model.PaymentMethodConfig, bool) {
	if s.store == nil {
		return nil, false
	}
	var cfg model.PaymentMethodConfig
	if err := s.store.Get(ctx, key, &cfg); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("configuration_cache_read_failed", "error", err.Error())
		}
		return nil, false
	}
	s.logger.Debug("configuration_cache_hit")
	return &cfg, true
}

// cacheKey never embeds the raw access token.
func cacheKey(session *model.SessionToken) string {
	sum := sha256.Sum256([]byte(session.AccessToken))
	return "configuration:" + hex.EncodeToString(sum[:])
}

func ttlFor(session *model.SessionToken) time.Duration {
	if session.ExpiresAt.IsZero() {
		return defaultTTL
	}
	if ttl := time.Until(session.ExpiresAt); ttl > 0 && ttl < defaultTTL {
		return ttl
	}
	return defaultTTL
}
