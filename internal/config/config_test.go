package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-customs/pkg/reliability"
	"github.com/sirosfoundation/go-customs/pkg/token"
	"github.com/sirosfoundation/go-customs/pkg/transport"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

const sampleConfig = `
storage:
  driver: mongodb
  mongodb:
    uri: ${TEST_MONGO_URI}
companies:
  - id: acme
    taxId: "30712345678"
    agentType: ATA
    role: TRSP
authorities:
  ar:
    environments:
      testing:
        authEndpoint: https://auth.ar.test/LoginCms
        businessEndpoint: https://ws.ar.test/wgesregsintia2.asmx
        insecureSkipVerify: true
  py:
    service: gdsf-fluvial
    environments:
      production:
        authEndpoint: https://auth.py.test/LoginCms
        businessEndpoint: https://ws.py.test/fluvial
retry:
  intervals: [1s, 2s]
  maxRetries: 2
token:
  ttl: 6h
  location: America/Asuncion
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_MONGO_URI", "mongodb://db:27017")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db:27017", cfg.Storage.MongoDB.URI)
	assert.Equal(t, "customs", cfg.Storage.MongoDB.Database)
	assert.Equal(t, "file", cfg.Certificates.Mode)
	assert.Equal(t, "cms", cfg.Certificates.Signer)
	assert.Equal(t, DefaultServiceAR, cfg.Service(wire.AuthorityAR))
	assert.Equal(t, "gdsf-fluvial", cfg.Service(wire.AuthorityPY))
	assert.Equal(t, 60*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, 6*time.Hour, cfg.Token.TTL)
	assert.Equal(t, "America/Asuncion", cfg.TokenLocation().String())

	policy := cfg.RetryPolicy()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, policy.Intervals)
	assert.Equal(t, 2, policy.MaxRetries)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "customs.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, reliability.DefaultIntervals, cfg.Retry.Intervals)
	assert.Equal(t, reliability.DefaultMaxRetries, cfg.Retry.MaxRetries)
	assert.Equal(t, token.DefaultTTL, cfg.Token.TTL)
	assert.Equal(t, "company-{company-id}-signing", cfg.Certificates.PKCS11.KeyLabelPattern)
	assert.Equal(t, time.Local, cfg.TokenLocation())
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("CUSTOMS_STORAGE_DRIVER", "memory")
	t.Setenv("CUSTOMS_REDIS_ENABLED", "true")
	t.Setenv("CUSTOMS_REDIS_ADDRESS", "cache:6379")
	t.Setenv("CUSTOMS_CERT_DIR", "/run/certs")
	t.Setenv("CUSTOMS_LOG_LEVEL", "debug")
	t.Setenv("CUSTOMS_SERVER_ADDRESS", ":9443")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Address)
	assert.Equal(t, "/run/certs", cfg.Certificates.Dir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9443", cfg.Server.Address)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "storage: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "mongodb without uri",
			content: "storage:\n  driver: mongodb\n",
			wantErr: "storage.mongodb.uri is required",
		},
		{
			name:    "unknown driver",
			content: "storage:\n  driver: postgres\n",
			wantErr: "storage.driver must be",
		},
		{
			name:    "pkcs11 without module",
			content: "certificates:\n  mode: pkcs11\n",
			wantErr: "modulePath is required",
		},
		{
			name:    "unknown signer",
			content: "certificates:\n  signer: hsm\n",
			wantErr: "certificates.signer must be",
		},
		{
			name:    "openssl signer with pkcs11",
			content: "certificates:\n  mode: pkcs11\n  signer: openssl\n  pkcs11:\n    modulePath: /usr/lib/softhsm/libsofthsm2.so\n",
			wantErr: "cannot be used with mode 'pkcs11'",
		},
		{
			name:    "company without tax id",
			content: "companies:\n  - id: acme\n",
			wantErr: "taxId is required",
		},
		{
			name:    "duplicate company",
			content: "companies:\n  - id: acme\n    taxId: \"1\"\n  - id: acme\n    taxId: \"2\"\n",
			wantErr: "declared twice",
		},
		{
			name:    "unknown authority",
			content: "authorities:\n  br:\n    service: x\n",
			wantErr: "unknown authority",
		},
		{
			name:    "ttl above cap",
			content: "token:\n  ttl: 24h\n",
			wantErr: "token.ttl must be between",
		},
		{
			name:    "unknown location",
			content: "token:\n  location: Mars/Olympus\n",
			wantErr: "token.location",
		},
		{
			name:    "issuer without jwks",
			content: "server:\n  oauth2:\n    issuer: https://idp.test\n",
			wantErr: "server.oauth2.jwksUrl is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateInsecureProduction(t *testing.T) {
	content := `
authorities:
  py:
    environments:
      production:
        businessEndpoint: https://ws.py.test
        insecureSkipVerify: true
`
	_, err := Load(writeConfig(t, content))
	assert.ErrorIs(t, err, transport.ErrInsecureProduction)
}

func TestEndpoints(t *testing.T) {
	t.Setenv("TEST_MONGO_URI", "mongodb://db:27017")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	endpoint, err := cfg.BusinessEndpoint(wire.AuthorityAR, "testing")
	require.NoError(t, err)
	assert.Equal(t, "https://ws.ar.test/wgesregsintia2.asmx", endpoint)

	_, err = cfg.BusinessEndpoint(wire.AuthorityAR, "production")
	assert.ErrorIs(t, err, ErrUnknownEnvironment)

	auth, err := cfg.AuthEndpoint("gdsf-fluvial", "production")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.py.test/LoginCms", auth)

	_, err = cfg.AuthEndpoint("unknown", "production")
	assert.ErrorIs(t, err, ErrUnknownService)

	assert.True(t, cfg.InsecureSkipVerify("testing"))
	assert.False(t, cfg.InsecureSkipVerify("production"))
}

func TestCompany(t *testing.T) {
	t.Setenv("TEST_MONGO_URI", "mongodb://db:27017")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	co, err := cfg.Company("acme")
	require.NoError(t, err)
	assert.Equal(t, "30712345678", co.TaxID)
	assert.Equal(t, "ATA", co.AgentType)
	assert.Equal(t, "TRSP", co.Role)

	_, err = cfg.Company("globex")
	assert.ErrorIs(t, err, ErrUnknownCompany)
}
