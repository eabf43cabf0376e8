package configuration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/cache"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// fakeTokens hands out a fixed token whose generation can be bumped.
type fakeTokens struct {
	mu    sync.Mutex
	token *model.SessionToken
	gen   uint64
}

func (f *fakeTokens) Current() (*model.SessionToken, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token == nil {
		return nil, 0, failure.New(failure.Configuration, "current_token", "no session token set")
	}
	return f.token, f.gen, nil
}

func (f *fakeTokens) set(access string) {
	f.mu.Lock()
	f.token = &model.SessionToken{AccessToken: access}
	f.gen++
	f.mu.Unlock()
}

// countingFetcher counts fetches and returns cfg or err.
type countingFetcher struct {
	mu    sync.Mutex
	calls int
	cfg   *model.PaymentMethodConfig
	err   error
}

func (f *countingFetcher) FetchConfiguration(ctx context.Context, session *model.SessionToken) (*model.PaymentMethodConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.cfg
	return &cp, nil
}

func (f *countingFetcher) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() *model.PaymentMethodConfig {
	return &model.PaymentMethodConfig{
		CoreURL: "https://api.example.test",
		PaymentMethods: []model.PaymentMethod{
			{ID: "pm-card", Type: "PAYMENT_CARD", ProcessorConfigID: "proc-card"},
			{ID: "pm-ideal", Type: "ADYEN_IDEAL"},
		},
	}
}

func TestGet_FetchesOncePerGeneration(t *testing.T) {
	tokens := &fakeTokens{}
	tokens.set("a1")
	fetcher := &countingFetcher{cfg: testConfig()}
	svc := NewService(tokens, fetcher, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Get(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fetcher.CallCount())

	tokens.set("a2")
	_, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.CallCount())
}

func TestGet_FailureIsConfigurationErrorAndNotCached(t *testing.T) {
	tokens := &fakeTokens{}
	tokens.set("a1")
	fetcher := &countingFetcher{err: errors.New("connection refused")}
	svc := NewService(tokens, fetcher, nil, nil)

	_, err := svc.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, failure.Configuration, failure.KindOf(err))

	fetcher.mu.Lock()
	fetcher.err, fetcher.cfg = nil, testConfig()
	fetcher.mu.Unlock()

	cfg, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.test", cfg.CoreURL)
	assert.Equal(t, 2, fetcher.CallCount())
}

func TestGet_NoToken(t *testing.T) {
	svc := NewService(&fakeTokens{}, &countingFetcher{cfg: testConfig()}, nil, nil)
	_, err := svc.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, failure.Configuration, failure.KindOf(err))
}

func TestGet_SharedCacheSkipsFetch(t *testing.T) {
	store := cache.NewMemoryStore()

	tokens := &fakeTokens{}
	tokens.set("shared")
	first := &countingFetcher{cfg: testConfig()}
	_, err := NewService(tokens, first, store, nil).Get(context.Background())
	require.NoError(t, err)

	second := &countingFetcher{cfg: testConfig()}
	cfg, err := NewService(tokens, second, store, nil).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.CallCount())
	assert.Len(t, cfg.PaymentMethods, 2)
}

func TestInvalidate(t *testing.T) {
	store := cache.NewMemoryStore()
	tokens := &fakeTokens{}
	tokens.set("a1")
	fetcher := &countingFetcher{cfg: testConfig()}
	svc := NewService(tokens, fetcher, store, nil)

	_, err := svc.Get(context.Background())
	require.NoError(t, err)
	svc.Invalidate(context.Background())
	assert.Equal(t, 0, store.Len())

	_, err = svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.CallCount())
}

func TestPaymentMethod(t *testing.T) {
	tokens := &fakeTokens{}
	tokens.set("a1")
	svc := NewService(tokens, &countingFetcher{cfg: testConfig()}, nil, nil)

	m, err := svc.PaymentMethod(context.Background(), "PAYMENT_CARD")
	require.NoError(t, err)
	assert.Equal(t, "proc-card", m.ProcessorConfigID)

	tests := []struct {
		name       string
		methodType string
	}{
		{"missing processor config id", "ADYEN_IDEAL"},
		{"not configured", "KLARNA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PaymentMethod(context.Background(), tt.methodType)
			require.Error(t, err)
			assert.Equal(t, failure.Configuration, failure.KindOf(err))
		})
	}
}
