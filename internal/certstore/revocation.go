package certstore

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// RevocationChecker defines the interface for certificate revocation checking
type RevocationChecker interface {
	// CheckRevocation returns nil if the certificate is not revoked and
	// ErrCertificateRevoked if it is
	CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) error
}

// OCSPConfig configures OCSP checking behavior
type OCSPConfig struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	// CRLFallback enables CRL checking if OCSP fails
	CRLFallback bool
	CacheTTL    time.Duration
	// Strict fails if revocation status cannot be determined
	Strict bool
}

// DefaultOCSPConfig returns default configuration
func DefaultOCSPConfig() *OCSPConfig {
	return &OCSPConfig{
		Timeout:     10 * time.Second,
		CRLFallback: true,
		CacheTTL:    time.Hour,
	}
}

// OCSPChecker implements RevocationChecker using OCSP with optional CRL fallback
type OCSPChecker struct {
	config     *OCSPConfig
	httpClient *http.Client
	crls       *ttlCache[*x509.RevocationList]
	answers    *ttlCache[error]
}

// NewOCSPChecker creates a new OCSP based revocation checker
func NewOCSPChecker(config *OCSPConfig) *OCSPChecker {
	if config == nil {
		config = DefaultOCSPConfig()
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &OCSPChecker{
		config:     config,
		httpClient: client,
		crls:       newTTLCache[*x509.RevocationList](config.CacheTTL),
		answers:    newTTLCache[error](config.CacheTTL),
	}
}

// CheckRevocation checks certificate revocation status
func (c *OCSPChecker) CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) error {
	if cert == nil || issuer == nil {
		return fmt.Errorf("certificate and issuer are required")
	}

	ocspErr := c.checkOCSP(ctx, cert, issuer)
	if ocspErr == nil || errors.Is(ocspErr, ErrCertificateRevoked) {
		return ocspErr
	}

	if c.config.CRLFallback {
		crlErr := c.checkCRL(ctx, cert)
		if crlErr == nil || errors.Is(crlErr, ErrCertificateRevoked) {
			return crlErr
		}
		if c.config.Strict {
			return fmt.Errorf("revocation check failed: OCSP: %v, CRL: %v", ocspErr, crlErr)
		}
	}

	if c.config.Strict {
		return fmt.Errorf("OCSP check failed: %w", ocspErr)
	}
	return nil
}

func (c *OCSPChecker) checkOCSP(ctx context.Context, cert, issuer *x509.Certificate) error {
	serial := cert.SerialNumber.String()
	if cached, ok := c.answers.get(serial); ok {
		return cached
	}
	if len(cert.OCSPServer) == 0 {
		return fmt.Errorf("no OCSP server URL in certificate")
	}

	req, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return fmt.Errorf("failed to create OCSP request: %w", err)
	}

	body, err := c.post(ctx, cert.OCSPServer[0], req)
	if err != nil {
		return fmt.Errorf("OCSP request failed: %w", err)
	}

	resp, err := ocsp.ParseResponse(body, issuer)
	if err != nil {
		return fmt.Errorf("failed to parse OCSP response: %w", err)
	}

	var result error
	switch resp.Status {
	case ocsp.Good:
	case ocsp.Revoked:
		result = fmt.Errorf("%w: serial %s at %s", ErrCertificateRevoked, serial, resp.RevokedAt.Format(time.RFC3339))
	default:
		// Unknown answers are not cached
		return fmt.Errorf("OCSP status unknown")
	}
	c.answers.set(serial, result)
	return result
}

// post sends the request by POST and falls back to GET
func (c *OCSPChecker) post(ctx context.Context, server string, request []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, server, bytes.NewReader(request))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")
	httpReq.Header.Set("Accept", "application/ocsp-response")

	resp, err := c.httpClient.Do(httpReq)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return io.ReadAll(resp.Body)
		}
	}

	getURL := server + "/" + url.PathEscape(base64.StdEncoding.EncodeToString(request))
	return c.get(ctx, getURL, "application/ocsp-response")
}

func (c *OCSPChecker) checkCRL(ctx context.Context, cert *x509.Certificate) error {
	if len(cert.CRLDistributionPoints) == 0 {
		return fmt.Errorf("no CRL distribution points in certificate")
	}

	var lastErr error
	for _, dp := range cert.CRLDistributionPoints {
		crl, err := c.fetchCRL(ctx, dp)
		if err != nil {
			lastErr = err
			continue
		}
		for _, revoked := range crl.RevokedCertificateEntries {
			if revoked.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return fmt.Errorf("%w: serial %s listed in %s", ErrCertificateRevoked, cert.SerialNumber, dp)
			}
		}
		return nil
	}
	return fmt.Errorf("failed to check CRL: %w", lastErr)
}

func (c *OCSPChecker) fetchCRL(ctx context.Context, dp string) (*x509.RevocationList, error) {
	if cached, ok := c.crls.get(dp); ok {
		return cached, nil
	}
	body, err := c.get(ctx, dp, "")
	if err != nil {
		return nil, err
	}
	crl, err := x509.ParseRevocationList(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL: %w", err)
	}
	c.crls.set(dp, crl)
	return crl, nil
}

func (c *OCSPChecker) get(ctx context.Context, target, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", target, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ttlCache is a small concurrent map whose entries expire
type ttlCache[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]ttlEntry[V]
}

type ttlEntry[V any] struct {
	value V
	at    time.Time
}

func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{ttl: ttl, entries: make(map[string]ttlEntry[V])}
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.at) > c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[V]) set(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry[V]{value: v, at: time.Now()}
}
