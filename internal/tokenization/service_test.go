package tokenization

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/apiclient"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

type staticTokens struct {
	token *model.SessionToken
}

func (s staticTokens) Current() (*model.SessionToken, uint64, error) {
	if s.token == nil {
		return nil, 0, failure.New(failure.Configuration, "current_token", "no session token set")
	}
	return s.token, 1, nil
}

// stubClient returns a fixed token or error and records the sessions it saw.
type stubClient struct {
	mu       sync.Mutex
	token    *model.PaymentMethodToken
	err      error
	sessions []*model.SessionToken
}

func (c *stubClient) Tokenize(ctx context.Context, session *model.SessionToken, instrument model.PaymentInstrument) (*model.PaymentMethodToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, session)
	return c.token, c.err
}

func (c *stubClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

var session = &model.SessionToken{AccessToken: "a", PCIURL: "https://pci.example.test"}

func TestTokenize_Success(t *testing.T) {
	client := &stubClient{token: &model.PaymentMethodToken{
		Token:                 "pmt_1",
		PaymentInstrumentData: &model.InstrumentData{Last4Digits: "1111"},
	}}
	svc := NewService(staticTokens{session}, client, nil)

	tok, err := svc.Tokenize(context.Background(), model.CardInstrument{Number: "4111111111111111"})
	require.NoError(t, err)
	assert.Equal(t, "pmt_1", tok.Token)
	assert.Same(t, session, client.sessions[0])
}

func TestTokenize_Failures(t *testing.T) {
	networkErr := &apiclient.RequestError{Op: "tokenize", Err: errors.New("connection refused")}

	tests := []struct {
		name       string
		tokens     staticTokens
		instrument model.PaymentInstrument
		clientErr  error
		kind       failure.Kind
		calls      int
	}{
		{"no instrument", staticTokens{session}, nil, nil, failure.Tokenization, 0},
		{"no token", staticTokens{}, model.ACHInstrument{}, nil, failure.Configuration, 0},
		{"no pci url", staticTokens{&model.SessionToken{AccessToken: "a"}}, model.ACHInstrument{}, nil, failure.Configuration, 0},
		{"network error", staticTokens{session}, model.ACHInstrument{}, networkErr, failure.Tokenization, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubClient{err: tt.clientErr}
			svc := NewService(tt.tokens, client, nil)

			tok, err := svc.Tokenize(context.Background(), tt.instrument)
			require.Error(t, err)
			assert.Nil(t, tok)
			assert.Equal(t, tt.kind, failure.KindOf(err))
			assert.Equal(t, tt.calls, client.CallCount(), "no retries")
			if tt.clientErr != nil {
				assert.ErrorIs(t, err, tt.clientErr)
			}
		})
	}
}
