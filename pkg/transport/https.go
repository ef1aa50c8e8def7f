package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// ProductionEnvironment is the only environment where certificate checks can
// never be relaxed.
const ProductionEnvironment = "production"

// Recommended TLS 1.2 cipher suites
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// Transport errors
var (
	ErrNetwork            = errors.New("network error")
	ErrTimeout            = errors.New("request timed out")
	ErrAuth               = errors.New("credential rejected by remote service")
	ErrInsecureProduction = errors.New("insecure TLS is not allowed in production")
	ErrResponseTooLarge   = errors.New("response exceeds the configured size limit")
)

// StatusError is returned for unexpected HTTP statuses
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, truncate(string(e.Body), 256))
}

// Code returns the classifier code for the status
func (e *StatusError) Code() string {
	return fmt.Sprintf("HTTP-%d", e.StatusCode)
}

// Request is a single SOAP call
type Request struct {
	Endpoint    string
	ContentType string
	SOAPAction  string
	Body        []byte
}

// Caller performs SOAP calls. HTTPSClient is the production implementation;
// tests substitute fakes.
type Caller interface {
	Call(ctx context.Context, req *Request) ([]byte, error)
}

// HTTPSConfig contains HTTPS client configuration
type HTTPSConfig struct {
	MinTLSVersion   uint16
	MaxTLSVersion   uint16
	CipherSuites    []uint16
	Certificates    []tls.Certificate
	RootCAs         *x509.CertPool
	Timeout         time.Duration
	IdleConnTimeout time.Duration

	// InsecureSkipVerify disables server certificate verification. It is
	// rejected when Environment is production.
	InsecureSkipVerify bool
	Environment        string

	// MaxResponseBytes bounds the response body read into memory
	MaxResponseBytes int64
	UserAgent        string
}

// DefaultHTTPSConfig returns a default HTTPS configuration
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:    TLS12,
		MaxTLSVersion:    TLS13,
		CipherSuites:     RecommendedTLS12CipherSuites,
		Timeout:          60 * time.Second,
		IdleConnTimeout:  90 * time.Second,
		MaxResponseBytes: 16 << 20,
		UserAgent:        "go-customs/1.0",
	}
}

// HTTPSClient sends SOAP envelopes over HTTPS
type HTTPSClient struct {
	client  *http.Client
	config  *HTTPSConfig
	timeout time.Duration
}

// NewHTTPSClient creates a new HTTPS client
func NewHTTPSClient(config *HTTPSConfig) (*HTTPSClient, error) {
	if config == nil {
		config = DefaultHTTPSConfig()
	}
	if config.InsecureSkipVerify && strings.EqualFold(config.Environment, ProductionEnvironment) {
		return nil, ErrInsecureProduction
	}

	tlsConfig := &tls.Config{
		MinVersion:         config.MinTLSVersion,
		MaxVersion:         config.MaxTLSVersion,
		CipherSuites:       config.CipherSuites,
		Certificates:       config.Certificates,
		RootCAs:            config.RootCAs,
		InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec // gated by environment above
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		IdleConnTimeout:     config.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	// The per-call deadline is applied through the request context so that
	// it surfaces as ErrTimeout and cancels the connection.
	return &HTTPSClient{
		client:  &http.Client{Transport: transport},
		config:  config,
		timeout: config.Timeout,
	}, nil
}

// Call posts req and returns the response body. HTTP 200 and HTTP 500 with a
// body are returned as-is; 401 and 403 wrap ErrAuth; 502, 503 and 504 wrap
// ErrNetwork; other statuses return a *StatusError.
func (c *HTTPSClient) Call(ctx context.Context, req *Request) ([]byte, error) {
	ctx, span := otel.Tracer("github.com/sirosfoundation/go-customs/pkg/transport").Start(ctx, "soap.call")
	defer span.End()
	span.SetAttributes(
		attribute.String("soap.endpoint", req.Endpoint),
		attribute.String("soap.action", req.SOAPAction),
	)

	body, err := c.call(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return body, err
}

func (c *HTTPSClient) call(parent context.Context, req *Request) ([]byte, error) {
	ctx := parent
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "text/xml; charset=utf-8"
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	if req.SOAPAction != "" {
		httpReq.Header.Set("SOAPAction", req.SOAPAction)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classify(parent, err)
	}
	defer resp.Body.Close()

	limit := c.config.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultHTTPSConfig().MaxResponseBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, classify(parent, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes with status %d", ErrResponseTooLarge, limit, resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusInternalServerError && len(bytes.TrimSpace(body)) > 0:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %w", ErrAuth, &StatusError{StatusCode: resp.StatusCode, Body: body})
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w: %w", ErrNetwork, &StatusError{StatusCode: resp.StatusCode, Body: body})
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
}

// classify maps a transport error to ErrTimeout or ErrNetwork. Cancellation
// of the caller's context is returned unchanged so it is never retried.
func classify(parent context.Context, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// Retryable reports whether err is a transport failure worth retrying
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
