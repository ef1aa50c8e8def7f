package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"

	"github.com/sirosfoundation/go-customs/pkg/errclass"
	"github.com/sirosfoundation/go-customs/pkg/ticket"
	"github.com/sirosfoundation/go-customs/pkg/transport"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticCredentials struct {
	creds *ticket.Credentials
	err   error
}

func (s staticCredentials) Credentials(context.Context, string) (*ticket.Credentials, error) {
	return s.creds, s.err
}

type fakeExchanger struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	token   string
	lastCMS []byte
	mu      sync.Mutex
}

func (f *fakeExchanger) Login(ctx context.Context, endpoint string, cms []byte) (*ticket.Credential, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastCMS = cms
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	tok := f.token
	if tok == "" {
		tok = "dG9rZW4="
	}
	return &ticket.Credential{Token: tok, Sign: "c2lnbg=="}, nil
}

var resolver = ResolverFunc(func(service, environment string) (string, error) {
	return "https://wsaa.example/" + environment, nil
})

func testCredentials(t *testing.T, notAfter time.Time) *ticket.Credentials {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(7),
		Subject:               pkix.Name{CommonName: "test-company"},
		NotBefore:             time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &ticket.Credentials{Certificate: cert, PrivateKey: key}
}

func newTestManager(t *testing.T, ex *fakeExchanger, c *clock) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	m, err := NewManager(Config{
		Store:       store,
		Credentials: staticCredentials{creds: testCredentials(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))},
		Exchanger:   ex,
		Resolver:    resolver,
		Now:         c.Now,
	})
	require.NoError(t, err)
	return m, store
}

func TestAcquireIssuesAndCaches(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)}
	ex := &fakeExchanger{}
	m, _ := newTestManager(t, ex, c)
	ctx := context.Background()

	tok, err := m.Acquire(ctx, "30712345678", "wgesregsintia2", "testing")
	require.NoError(t, err)
	assert.Equal(t, "dG9rZW4=", tok.Token)
	assert.Equal(t, c.Now(), tok.IssuedAt)
	assert.Equal(t, c.Now().Add(12*time.Hour), tok.ExpiresAt)
	assert.Equal(t, int64(1), tok.UsageCount)

	c.Advance(time.Hour)
	again, err := m.Acquire(ctx, "30712345678", "wgesregsintia2", "testing")
	require.NoError(t, err)
	assert.Equal(t, tok.Token, again.Token)
	assert.Equal(t, int64(2), again.UsageCount)
	assert.Equal(t, c.Now(), again.LastUsedAt)
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestAcquireSignsTicketRequest(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)}
	ex := &fakeExchanger{}
	m, _ := newTestManager(t, ex, c)

	_, err := m.Acquire(context.Background(), "30712345678", "wgesregsintia2", "testing")
	require.NoError(t, err)

	p7, err := pkcs7.Parse(ex.lastCMS)
	require.NoError(t, err)
	require.NoError(t, p7.Verify())
	assert.Contains(t, string(p7.Content), "<service>wgesregsintia2</service>")
}

func TestValidityWindow(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)}
	ex := &fakeExchanger{}
	m, _ := newTestManager(t, ex, c)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "c", "s", "e")
	require.NoError(t, err)

	assert.True(t, first.Usable(first.IssuedAt))
	assert.True(t, first.Usable(first.ExpiresAt.Add(-time.Nanosecond)))
	assert.False(t, first.Usable(first.ExpiresAt))
	assert.False(t, first.Usable(first.IssuedAt.Add(-time.Second)))

	c.Advance(12*time.Hour - time.Second)
	_, err = m.Acquire(ctx, "c", "s", "e")
	require.NoError(t, err)
	assert.Equal(t, int32(1), ex.calls.Load(), "token still valid one second before expiry")

	c.Advance(time.Second)
	second, err := m.Acquire(ctx, "c", "s", "e")
	require.NoError(t, err)
	assert.Equal(t, int32(2), ex.calls.Load(), "expired token is never returned")
	assert.True(t, second.Usable(c.Now()))
}

func TestTTLCappedAtTicketMaximum(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)}
	ex := &fakeExchanger{}
	m, err := NewManager(Config{
		Credentials: staticCredentials{creds: testCredentials(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))},
		Exchanger:   ex,
		Resolver:    resolver,
		TTL:         24 * time.Hour,
		Now:         c.Now,
	})
	require.NoError(t, err)

	tok, err := m.Acquire(context.Background(), "c", "s", "e")
	require.NoError(t, err)
	assert.Equal(t, c.Now().Add(ticket.MaxTTL), tok.ExpiresAt)

	p7, err := pkcs7.Parse(ex.lastCMS)
	require.NoError(t, err)
	want := tok.ExpiresAt.In(time.Local).Format(ticket.TimeLayout)
	assert.Contains(t, string(p7.Content), "<expirationTime>"+want+"</expirationTime>")
}

func TestConcurrentAcquireSingleExchange(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)}
	ex := &fakeExchanger{release: make(chan struct{})}
	m, _ := newTestManager(t, ex, c)

	const n = 20
	var wg sync.WaitGroup
	tokens := make([]*AuthToken, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.Acquire(context.Background(), "c", "s", "e")
		}(i)
	}

	require.Eventually(t, func() bool { return ex.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(ex.release)
	wg.Wait()

	assert.Equal(t, int32(1), ex.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "dG9rZW4=", tokens[i].Token)
	}
}

func TestAcquireNeverFabricates(t *testing.T) {
	fault := &ticket.FaultError{Code: "cms.cert.expired", Message: "Certificado expirado"}
	c := &clock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)}
	ex := &fakeExchanger{err: fault}
	m, store := newTestManager(t, ex, c)

	tok, err := m.Acquire(context.Background(), "c", "s", "e")
	require.Error(t, err)
	assert.Nil(t, tok)
	assert.ErrorIs(t, err, ErrRemoteAuthFault)
	assert.ErrorIs(t, err, ticket.ErrLoginFault)

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "cms.cert.expired", te.Code())
	assert.Equal(t, "Certificate expired", errclass.Classify(te.Code()).Title)

	cached, err := store.GetToken(context.Background(), Key{"c", "s", "e"}, c.Now())
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestAcquireMissingCredentialFields(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)}
	m, err := NewManager(Config{
		Credentials: staticCredentials{creds: testCredentials(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))},
		Exchanger:   exchangerFunc(func() (*ticket.Credential, error) { return &ticket.Credential{Token: "t"}, nil }),
		Resolver:    resolver,
		Now:         c.Now,
	})
	require.NoError(t, err)

	tok, err := m.Acquire(context.Background(), "c", "s", "e")
	assert.Nil(t, tok)
	assert.ErrorIs(t, err, ErrRemoteAuthFault)
	assert.ErrorIs(t, err, ticket.ErrMissingCredentials)
}

type exchangerFunc func() (*ticket.Credential, error)

func (f exchangerFunc) Login(context.Context, string, []byte) (*ticket.Credential, error) { return f() }

func TestAcquireCertificateErrors(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)}
	ex := &fakeExchanger{}

	tests := []struct {
		name   string
		source CredentialSource
	}{
		{"source error", staticCredentials{err: errors.New("no such company")}},
		{"missing key", staticCredentials{creds: &ticket.Credentials{}}},
		{"expired certificate", staticCredentials{creds: testCredentials(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(Config{Credentials: tt.source, Exchanger: ex, Resolver: resolver, Now: c.Now})
			require.NoError(t, err)

			_, err = m.Acquire(context.Background(), "c", "s", "e")
			assert.ErrorIs(t, err, ErrCertificate)
			var te *Error
			require.True(t, errors.As(err, &te))
			assert.Equal(t, errclass.CodeCertificate, te.Code())
		})
	}
	assert.Equal(t, int32(0), ex.calls.Load(), "no exchange without credentials")
}

type failingSigner struct{}

func (failingSigner) Sign(context.Context, []byte, *ticket.Credentials) ([]byte, error) {
	return nil, errors.New("hsm offline")
}

func TestAcquireSigningError(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)}
	ex := &fakeExchanger{}
	m, err := NewManager(Config{
		Credentials: staticCredentials{creds: testCredentials(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))},
		Signer:      failingSigner{},
		Exchanger:   ex,
		Resolver:    resolver,
		Now:         c.Now,
	})
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), "c", "s", "e")
	assert.ErrorIs(t, err, ErrSigning)
	assert.Equal(t, int32(0), ex.calls.Load())
}

func TestAcquireTransportFailureIsUnavailable(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)}
	m, _ := newTestManager(t, &fakeExchanger{err: transport.ErrNetwork}, c)

	_, err := m.Acquire(context.Background(), "c", "s", "e")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, transport.ErrNetwork)
	assert.True(t, transport.Retryable(err))
}

func TestAcquireInvalidKey(t *testing.T) {
	c := &clock{now: time.Now()}
	m, _ := newTestManager(t, &fakeExchanger{}, c)
	_, err := m.Acquire(context.Background(), "c", "", "e")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestInvalidateForcesReauthentication(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)}
	ex := &fakeExchanger{}
	m, _ := newTestManager(t, ex, c)
	ctx := context.Background()

	tok, err := m.Acquire(ctx, "c", "s", "e")
	require.NoError(t, err)
	require.NoError(t, m.Invalidate(ctx, tok.Key()))

	_, err = m.Acquire(ctx, "c", "s", "e")
	require.NoError(t, err)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestAcquireCancelledWaiter(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)}
	ex := &fakeExchanger{release: make(chan struct{})}
	m, _ := newTestManager(t, ex, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx, "c", "s", "e")
		done <- err
	}()
	require.Eventually(t, func() bool { return ex.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// The detached exchange still completes and populates the cache
	close(ex.release)
	require.Eventually(t, func() bool {
		tok, _ := m.Acquire(context.Background(), "c", "s", "e")
		return tok != nil
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), ex.calls.Load())
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) ObserveAcquire(outcome string, _ time.Duration) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

func TestObserver(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)}
	obs := &recordingObserver{}
	m, err := NewManager(Config{
		Credentials: staticCredentials{creds: testCredentials(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))},
		Exchanger:   &fakeExchanger{},
		Resolver:    resolver,
		Now:         c.Now,
		Observer:    obs,
	})
	require.NoError(t, err)

	_, _ = m.Acquire(context.Background(), "c", "s", "e")
	_, _ = m.Acquire(context.Background(), "c", "s", "e")
	assert.Equal(t, []string{"issued", "hit"}, obs.outcomes)
}
