// Package auth validates the bearer tokens presented to the operator API.
//
// Tokens are RS256/384/512 JWTs issued by an external OAuth2 provider and
// verified against its JWKS. The company_id and companies claims scope
// which companies' transactions a caller may read.
package auth

import (
	"context"
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirosfoundation/go-customs/internal/config"
)

// Sentinel errors for authentication failures
var (
	// ErrNoToken indicates no Authorization header or Bearer token was provided.
	ErrNoToken = errors.New("no authorization token provided")

	// ErrInvalidToken indicates the token is malformed or its signature does not verify.
	ErrInvalidToken = errors.New("invalid authorization token")

	ErrTokenExpired    = errors.New("token has expired")
	ErrTokenNotYet     = errors.New("token not yet valid")
	ErrInvalidAudience = errors.New("invalid audience")
	ErrInvalidIssuer   = errors.New("invalid issuer")
)

// jwksTTL is how long fetched signing keys are trusted before a refresh
const jwksTTL = time.Hour

var algorithms = map[string]crypto.Hash{
	"RS256": crypto.SHA256,
	"RS384": crypto.SHA384,
	"RS512": crypto.SHA512,
}

// Claims represents the JWT claims we care about
type Claims struct {
	Issuer    string   `json:"iss"`
	Subject   string   `json:"sub"`
	Audience  []string `json:"aud"`
	ExpiresAt int64    `json:"exp"`
	IssuedAt  int64    `json:"iat"`
	NotBefore int64    `json:"nbf,omitempty"`

	CompanyID string   `json:"company_id,omitempty"`
	Companies []string `json:"companies,omitempty"` // "*" grants every company
	Scope     string   `json:"scope,omitempty"`
}

// UnmarshalJSON handles both string and array audience
func (c *Claims) UnmarshalJSON(data []byte) error {
	type alias Claims
	aux := &struct {
		Audience any `json:"aud"`
		*alias
	}{alias: (*alias)(c)}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	switch v := aux.Audience.(type) {
	case string:
		c.Audience = []string{v}
	case []any:
		c.Audience = make([]string, len(v))
		for i, a := range v {
			c.Audience[i], _ = a.(string)
		}
	}
	return nil
}

// HasCompany reports whether the token grants access to companyID
func (c *Claims) HasCompany(companyID string) bool {
	if c.CompanyID == companyID {
		return true
	}
	return slices.Contains(c.Companies, companyID) || slices.Contains(c.Companies, "*")
}

// JWK is an RSA JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// PublicKey decodes the RSA modulus and exponent
func (j *JWK) PublicKey() (*rsa.PublicKey, error) {
	if j.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type: %s", j.Kty)
	}
	n, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	exp := 0
	for _, b := range e {
		exp = exp<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: exp}, nil
}

// Authenticator validates bearer tokens against the issuer's JWKS
type Authenticator struct {
	config *config.OAuth2Config
	logger *slog.Logger
	client *http.Client
	now    func() time.Time

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
}

// NewAuthenticator creates a JWT authenticator. A nil or issuer-less
// config disables authentication.
func NewAuthenticator(cfg *config.OAuth2Config, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// IsEnabled returns true if OAuth2 authentication is configured
func (a *Authenticator) IsEnabled() bool {
	return a.config != nil && a.config.Issuer != ""
}

// ValidateRequest extracts and validates the JWT from an HTTP request
func (a *Authenticator) ValidateRequest(r *http.Request) (*Claims, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, ErrNoToken
	}
	return a.ValidateToken(r.Context(), token)
}

// ValidateToken verifies the signature of token and checks its claims
func (a *Authenticator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := decodeSegment(parts[0], &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidToken, err)
	}
	var claims Claims
	if err := decodeSegment(parts[1], &claims); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", ErrInvalidToken, err)
	}

	hash, ok := algorithms[header.Alg]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidToken, header.Alg)
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrInvalidToken, err)
	}
	key, err := a.key(ctx, header.Kid)
	if err != nil {
		return nil, err
	}
	h := hash.New()
	h.Write([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(key, hash, h.Sum(nil), sig); err != nil {
		return nil, fmt.Errorf("%w: signature does not verify", ErrInvalidToken)
	}

	if err := a.validateClaims(&claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func decodeSegment(seg string, v any) error {
	data, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (a *Authenticator) validateClaims(c *Claims) error {
	now := a.now().Unix()
	if now > c.ExpiresAt {
		return ErrTokenExpired
	}
	if c.NotBefore > 0 && now < c.NotBefore {
		return ErrTokenNotYet
	}
	if c.Issuer != a.config.Issuer {
		return ErrInvalidIssuer
	}
	if a.config.Audience != "" && !slices.Contains(c.Audience, a.config.Audience) {
		return ErrInvalidAudience
	}
	return nil
}

func (a *Authenticator) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	a.mu.RLock()
	key, ok := a.keys[kid]
	fresh := a.now().Before(a.expires)
	a.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := a.refresh(ctx); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if key, ok := a.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidToken, kid)
}

// refresh fetches the JWKS unless another caller already did
func (a *Authenticator) refresh(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.now().Before(a.expires) && len(a.keys) > 0 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.JWKSUrl, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS fetch failed: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading JWKS: %w", err)
	}

	var set struct {
		Keys []JWK `json:"keys"`
	}
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("parsing JWKS: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey)
	for _, k := range set.Keys {
		if k.Use != "sig" && k.Use != "" {
			continue
		}
		pk, err := k.PublicKey()
		if err != nil {
			a.logger.Warn("skipping JWK", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pk
	}

	a.keys = keys
	a.expires = a.now().Add(jwksTTL)
	a.logger.Info("refreshed JWKS", "keys", len(keys))
	return nil
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type contextKey struct{}

// ClaimsFromContext retrieves claims stored by ContextWithClaims
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(contextKey{}).(*Claims)
	return c
}

// ContextWithClaims adds claims to context
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}
