package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHTTPSConfig(t *testing.T) {
	config := DefaultHTTPSConfig()

	if config == nil {
		t.Fatal("expected non-nil config")
	}
	if config.MinTLSVersion != TLS12 {
		t.Errorf("expected MinTLSVersion TLS12, got %d", config.MinTLSVersion)
	}
	if config.MaxTLSVersion != TLS13 {
		t.Errorf("expected MaxTLSVersion TLS13, got %d", config.MaxTLSVersion)
	}
	if config.Timeout != 60*time.Second {
		t.Errorf("expected Timeout 60s, got %v", config.Timeout)
	}
	if config.InsecureSkipVerify {
		t.Error("expected certificate verification on by default")
	}
}

func TestRecommendedTLS12CipherSuites(t *testing.T) {
	for _, suite := range RecommendedTLS12CipherSuites {
		if tls.CipherSuiteName(suite) == "" {
			t.Errorf("unknown cipher suite: %d", suite)
		}
	}
}

func TestNewHTTPSClient_NilConfig(t *testing.T) {
	client, err := NewHTTPSClient(nil)
	require.NoError(t, err)
	assert.NotNil(t, client.client)
	assert.NotNil(t, client.config)
}

func TestNewHTTPSClient_InsecureRejectedInProduction(t *testing.T) {
	cfg := DefaultHTTPSConfig()
	cfg.InsecureSkipVerify = true
	cfg.Environment = "Production"

	_, err := NewHTTPSClient(cfg)
	assert.ErrorIs(t, err, ErrInsecureProduction)

	cfg.Environment = "testing"
	client, err := NewHTTPSClient(cfg)
	require.NoError(t, err)
	tr := client.client.Transport.(*http.Transport)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
}

func TestHTTPSClient_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "text/xml; charset=utf-8", r.Header.Get("Content-Type"))
		assert.Equal(t, `"urn:RegistrarTitulo"`, r.Header.Get("SOAPAction"))
		assert.Equal(t, "go-customs/1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<Response/>"))
	}))
	defer server.Close()

	client, err := NewHTTPSClient(nil)
	require.NoError(t, err)

	body, err := client.Call(context.Background(), &Request{
		Endpoint:   server.URL,
		SOAPAction: `"urn:RegistrarTitulo"`,
		Body:       []byte("<Request/>"),
	})
	require.NoError(t, err)
	assert.Equal(t, "<Response/>", string(body))
}

func TestHTTPSClient_CallStatuses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		wantBody bool
		retry    bool
	}{
		{name: "fault envelope", status: 500, body: "<Fault/>", wantBody: true},
		{name: "empty 500", status: 500, body: "", retry: false},
		{name: "unauthorized", status: 401, body: "no", wantErr: ErrAuth},
		{name: "forbidden", status: 403, body: "no", wantErr: ErrAuth},
		{name: "bad gateway", status: 502, body: "x", wantErr: ErrNetwork, retry: true},
		{name: "unavailable", status: 503, body: "x", wantErr: ErrNetwork, retry: true},
		{name: "gateway timeout", status: 504, body: "x", wantErr: ErrNetwork, retry: true},
		{name: "not found", status: 404, body: "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewHTTPSClient(nil)
			require.NoError(t, err)
			body, err := client.Call(context.Background(), &Request{Endpoint: server.URL, Body: []byte("<x/>")})

			if tt.wantBody {
				require.NoError(t, err)
				assert.Equal(t, tt.body, string(body))
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.retry, Retryable(err))
		})
	}
}

func TestHTTPSClient_CallTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := DefaultHTTPSConfig()
	cfg.Timeout = 50 * time.Millisecond
	client, err := NewHTTPSClient(cfg)
	require.NoError(t, err)

	_, err = client.Call(context.Background(), &Request{Endpoint: server.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, Retryable(err))
}

func TestHTTPSClient_CallUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewHTTPSClient(nil)
	require.NoError(t, err)

	_, err = client.Call(context.Background(), &Request{Endpoint: url})
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestHTTPSClient_CallCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewHTTPSClient(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.Call(ctx, &Request{Endpoint: server.URL})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, Retryable(err))
}

func TestStatusErrorCode(t *testing.T) {
	assert.Equal(t, "HTTP-503", (&StatusError{StatusCode: 503}).Code())
}

func TestHTTPSClient_CallResponseTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<Response>" + strings.Repeat("x", 64) + "</Response>"))
	}))
	defer server.Close()

	cfg := DefaultHTTPSConfig()
	cfg.MaxResponseBytes = 32
	client, err := NewHTTPSClient(cfg)
	require.NoError(t, err)

	_, err = client.Call(context.Background(), &Request{Endpoint: server.URL, Body: []byte("<x/>")})
	require.ErrorIs(t, err, ErrResponseTooLarge)
	assert.False(t, Retryable(err))

	cfg.MaxResponseBytes = 85
	client, err = NewHTTPSClient(cfg)
	require.NoError(t, err)
	body, err := client.Call(context.Background(), &Request{Endpoint: server.URL, Body: []byte("<x/>")})
	require.NoError(t, err)
	assert.Len(t, body, 85)
}
