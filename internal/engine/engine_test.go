package engine

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-customs/internal/config"
	"github.com/sirosfoundation/go-customs/internal/storage"
	"github.com/sirosfoundation/go-customs/pkg/ledger"
	"github.com/sirosfoundation/go-customs/pkg/pipeline"
	"github.com/sirosfoundation/go-customs/pkg/reliability"
	"github.com/sirosfoundation/go-customs/pkg/token"
	"github.com/sirosfoundation/go-customs/pkg/transport"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

const (
	authEndpoint     = "https://wsaahomo.test/ws/services/LoginCms"
	businessEndpoint = "https://wgesregsintia2.test/ws"
)

func loadConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	p12, err := filepath.Abs("../certstore/testdata/acme.p12")
	require.NoError(t, err)

	yaml := fmt.Sprintf(`
storage:
  driver: memory
certificates:
  mode: file
  dir: %s
companies:
  - id: acme
    taxId: "30712345678"
    agentType: ATA
    role: TRANSP
    pkcs12: %s
    passphrase: changeit
authorities:
  ar:
    environments:
      testing:
        authEndpoint: %s
        businessEndpoint: %s
        insecureSkipVerify: true
%s`, t.TempDir(), p12, authEndpoint, businessEndpoint, extra)

	path := filepath.Join(t.TempDir(), "customs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func loginReply(tok, sign string) []byte {
	inner := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<loginTicketResponse version="1.0"><header><source>CN=wsaahomo</source><destination>CN=acme</destination>
<uniqueId>1</uniqueId><generationTime>2025-03-14T09:55:00.000-03:00</generationTime>
<expirationTime>2025-03-14T21:55:00.000-03:00</expirationTime></header>
<credentials><token>` + tok + `</token><sign>` + sign + `</sign></credentials></loginTicketResponse>`
	return []byte(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>` +
		`<loginCmsResponse xmlns="http://wsaa.view.sua.dvadac.desein.afip.gov"><loginCmsReturn>` +
		html.EscapeString(inner) + `</loginCmsReturn></loginCmsResponse></soapenv:Body></soapenv:Envelope>`)
}

// fakeRemote answers login and business calls by endpoint
type fakeRemote struct {
	mu       sync.Mutex
	logins   int
	business int
	reject   bool
}

func (f *fakeRemote) Call(ctx context.Context, req *transport.Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch req.Endpoint {
	case authEndpoint:
		f.logins++
		return loginReply(fmt.Sprintf("token-%d", f.logins), "sign"), nil
	case businessEndpoint:
		f.business++
		if f.reject {
			f.reject = false
			return nil, fmt.Errorf("%w: status 401", transport.ErrAuth)
		}
		if !strings.Contains(string(req.Body), "token-") {
			return nil, fmt.Errorf("request carries no token")
		}
		return []byte(`<ConsultarEstadoMicDtaResponse><Estado>OK</Estado></ConsultarEstadoMicDtaResponse>`), nil
	default:
		return nil, fmt.Errorf("unexpected endpoint %s", req.Endpoint)
	}
}

func newEngine(t *testing.T, cfg *config.Config, remote *fakeRemote) *Engine {
	t.Helper()
	e, err := New(context.Background(), cfg,
		WithCaller(remote),
		WithRetryTimer(reliability.NewInstantTimer()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func queryStatus(t *testing.T, e *Engine) pipeline.Submission {
	t.Helper()
	company, err := e.Company("acme")
	require.NoError(t, err)
	return pipeline.Submission{
		Operation:   wire.OpQueryStatus,
		Company:     company,
		Environment: "testing",
		Input:       wire.Input{Reference: "25001MANI000123X"},
	}
}

func TestSubmitEndToEnd(t *testing.T) {
	cfg := loadConfig(t, "metrics:\n  enabled: true\n")
	remote := &fakeRemote{}
	e := newEngine(t, cfg, remote)
	ctx := context.Background()

	res, err := e.Pipeline.Submit(ctx, queryStatus(t, e))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, res.Status)

	res, err = e.Pipeline.Submit(ctx, queryStatus(t, e))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, res.Status)

	assert.Equal(t, 1, remote.logins, "the token is reused")
	assert.Equal(t, 2, remote.business)

	txs, err := e.Ledger.List(ctx, ledger.Filter{CompanyID: "acme"})
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	tok, err := e.Store.GetToken(ctx, token.Key{CompanyID: "acme", Service: config.DefaultServiceAR, Environment: "testing"}, txs[0].CreatedAt)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "token-1", tok.Token)

	require.NotNil(t, e.Metrics)
	count, err := testutil.GatherAndCount(e.Metrics.Registry(), "customs_submissions_total", "customs_token_acquisitions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "one submission series and two acquisition outcomes")
}

func TestSubmitRejectedTokenIsRenewed(t *testing.T) {
	cfg := loadConfig(t, "")
	remote := &fakeRemote{reject: true}
	e := newEngine(t, cfg, remote)
	ctx := context.Background()

	res, err := e.Pipeline.Submit(ctx, queryStatus(t, e))
	require.Error(t, err)
	assert.Equal(t, ledger.StatusError, res.Status)
	assert.Nil(t, e.Metrics)

	res, err = e.Pipeline.Submit(ctx, queryStatus(t, e))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, res.Status)
	assert.Equal(t, 2, remote.logins)
}

func TestNewWithInjectedStore(t *testing.T) {
	cfg := loadConfig(t, "")
	store := storage.NewMemory()
	e, err := New(context.Background(), cfg, WithStore(store), WithCaller(&fakeRemote{}))
	require.NoError(t, err)
	defer e.Close(context.Background())
	assert.Same(t, store, e.Store)
}

func TestNewFailsOnMissingCertificates(t *testing.T) {
	cfg := loadConfig(t, "")
	cfg.Certificates.Dir = filepath.Join(t.TempDir(), "missing")
	_, err := New(context.Background(), cfg, WithCaller(&fakeRemote{}))
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := OpenStore(ctx, &config.StorageConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "c.db")}})
	require.NoError(t, err)
	assert.NoError(t, s.Ping(ctx))
	assert.NoError(t, s.Close(ctx))

	s, err = OpenStore(ctx, &config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &storage.Memory{}, s)

	_, err = OpenStore(ctx, &config.StorageConfig{Driver: "cassandra"})
	assert.Error(t, err)
}

func TestRouterRelaxesOnlyConfiguredEndpoints(t *testing.T) {
	cfg := loadConfig(t, "")
	r, err := newRouter(cfg)
	require.NoError(t, err)

	require.NotNil(t, r.insecure)
	assert.True(t, r.relaxed[authEndpoint])
	assert.True(t, r.relaxed[businessEndpoint])
	assert.False(t, r.relaxed["https://other.test/ws"])
}
