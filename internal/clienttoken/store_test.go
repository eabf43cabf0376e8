package clienttoken

import (
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
)

var testKey = []byte("test-signing-key")

func validClaims() Claims {
	return Claims{
		AccessToken:      "access-1",
		ConfigurationURL: "https://api.example.test/client-sdk/configuration",
		CoreURL:          "https://api.example.test",
		PCIURL:           "https://pci.example.test",
		Environment:      "SANDBOX",
		Intent:           "CHECKOUT",
	}
}

func mint(t *testing.T, c Claims) string {
	t.Helper()
	raw, err := Mint(c, testKey)
	require.NoError(t, err)
	return raw
}

func TestDecode_Valid(t *testing.T) {
	c := validClaims()
	c.ThreeDSecureToken = "3ds-key"
	c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))

	tok, err := Decode(mint(t, c), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "https://pci.example.test", tok.PCIURL)
	assert.Equal(t, "SANDBOX", tok.Environment)
	assert.Equal(t, "3ds-key", tok.ThreeDSecureToken)
	assert.False(t, tok.ExpiresAt.IsZero())
}

func TestDecode_Rejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noAccess := validClaims()
	noAccess.AccessToken = ""

	badURL := validClaims()
	badURL.PCIURL = "not a url"

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", "   "},
		{"malformed", "not-a-jwt"},
		{"expired", mint(t, expired)},
		{"missing access token", mint(t, noAccess)},
		{"invalid url", mint(t, badURL)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := Decode(tt.raw, time.Now())
			require.Error(t, err)
			assert.Nil(t, tok)
			assert.Equal(t, failure.Configuration, failure.KindOf(err))
		})
	}
}

func TestStore_CurrentBeforeSet(t *testing.T) {
	s := NewStore(nil)
	_, _, err := s.Current()
	require.Error(t, err)
	assert.Equal(t, failure.Configuration, failure.KindOf(err))
	assert.Equal(t, uint64(0), s.Generation())
}

func TestStore_SetReplacesAndBumpsGeneration(t *testing.T) {
	s := NewStore(nil)

	_, err := s.Set(mint(t, validClaims()))
	require.NoError(t, err)

	next := validClaims()
	next.AccessToken = "access-2"
	_, err = s.Set(mint(t, next))
	require.NoError(t, err)

	tok, gen, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, uint64(2), gen)
}

func TestStore_FailedSetKeepsPrevious(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Set(mint(t, validClaims()))
	require.NoError(t, err)

	_, err = s.Set("garbage")
	require.Error(t, err)

	tok, gen, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, uint64(1), gen)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore(nil)
	raw := mint(t, validClaims())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Set(raw)
		}()
		go func() {
			defer wg.Done()
			_, _, _ = s.Current()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(20), s.Generation())
}
