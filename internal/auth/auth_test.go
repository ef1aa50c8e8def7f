package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-customs/internal/config"
)

const issuer = "https://idp.example.test"

var now = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type idp struct {
	key     *rsa.PrivateKey
	fetches atomic.Int32
	srv     *httptest.Server
}

func newIDP(t *testing.T) *idp {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p := &idp{key: key}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		p.fetches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []JWK{{
			Kid: "k1",
			Kty: "RSA",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *idp) sign(t *testing.T, kid string, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(data)
	}
	signing := enc(map[string]string{"alg": "RS256", "kid": kid, "typ": "JWT"}) + "." + enc(claims)
	digest := sha256.Sum256([]byte(signing))
	sig, err := rsa.SignPKCS1v15(rand.Reader, p.key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return signing + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func (p *idp) authenticator() *Authenticator {
	a := NewAuthenticator(&config.OAuth2Config{Issuer: issuer, Audience: "customs", JWKSUrl: p.srv.URL}, nil)
	a.now = func() time.Time { return now }
	return a
}

func claims(extra map[string]any) map[string]any {
	c := map[string]any{
		"iss":        issuer,
		"sub":        "operator",
		"aud":        "customs",
		"exp":        now.Add(time.Hour).Unix(),
		"iat":        now.Add(-time.Minute).Unix(),
		"company_id": "acme",
	}
	for k, v := range extra {
		c[k] = v
	}
	return c
}

func TestValidateToken(t *testing.T) {
	p := newIDP(t)
	a := p.authenticator()
	ctx := context.Background()

	c, err := a.ValidateToken(ctx, p.sign(t, "k1", claims(nil)))
	require.NoError(t, err)
	assert.Equal(t, "operator", c.Subject)
	assert.Equal(t, []string{"customs"}, c.Audience)
	assert.True(t, c.HasCompany("acme"))

	_, err = a.ValidateToken(ctx, p.sign(t, "k1", claims(map[string]any{"aud": []string{"other", "customs"}})))
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.fetches.Load(), "keys are cached")
}

func TestValidateTokenRejects(t *testing.T) {
	p := newIDP(t)
	a := p.authenticator()
	ctx := context.Background()

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"expired", p.sign(t, "k1", claims(map[string]any{"exp": now.Add(-time.Second).Unix()})), ErrTokenExpired},
		{"not yet valid", p.sign(t, "k1", claims(map[string]any{"nbf": now.Add(time.Minute).Unix()})), ErrTokenNotYet},
		{"wrong issuer", p.sign(t, "k1", claims(map[string]any{"iss": "https://evil.test"})), ErrInvalidIssuer},
		{"wrong audience", p.sign(t, "k1", claims(map[string]any{"aud": "billing"})), ErrInvalidAudience},
		{"unknown key", p.sign(t, "k2", claims(nil)), ErrInvalidToken},
		{"malformed", "not-a-jwt", ErrInvalidToken},
		{"tampered", p.sign(t, "k1", claims(nil)) + "x", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.ValidateToken(ctx, tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateRequest(t *testing.T) {
	p := newIDP(t)
	a := p.authenticator()

	req := httptest.NewRequest(http.MethodGet, "/api/companies/acme/transactions", nil)
	_, err := a.ValidateRequest(req)
	assert.ErrorIs(t, err, ErrNoToken)

	req.Header.Set("Authorization", "Basic dXNlcjpwdw==")
	_, err = a.ValidateRequest(req)
	assert.ErrorIs(t, err, ErrNoToken)

	req.Header.Set("Authorization", "Bearer "+p.sign(t, "k1", claims(nil)))
	c, err := a.ValidateRequest(req)
	require.NoError(t, err)
	assert.Same(t, c, ClaimsFromContext(ContextWithClaims(context.Background(), c)))
}

func TestIsEnabled(t *testing.T) {
	assert.False(t, NewAuthenticator(nil, nil).IsEnabled())
	assert.False(t, NewAuthenticator(&config.OAuth2Config{}, nil).IsEnabled())
	assert.True(t, NewAuthenticator(&config.OAuth2Config{Issuer: issuer}, nil).IsEnabled())
}

func TestClaimsHasCompany(t *testing.T) {
	tests := []struct {
		name    string
		claims  Claims
		company string
		want    bool
	}{
		{"direct match", Claims{CompanyID: "acme"}, "acme", true},
		{"list match", Claims{Companies: []string{"acme", "globex"}}, "globex", true},
		{"wildcard", Claims{Companies: []string{"*"}}, "initech", true},
		{"no match", Claims{CompanyID: "acme", Companies: []string{"globex"}}, "initech", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.claims.HasCompany(tt.company))
		})
	}
}
