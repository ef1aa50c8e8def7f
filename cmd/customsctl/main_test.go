package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-customs/pkg/errclass"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	p12, err := filepath.Abs("../../internal/certstore/testdata/acme.p12")
	require.NoError(t, err)
	dir := t.TempDir()

	yaml := fmt.Sprintf(`
storage:
  driver: sqlite
  sqlite:
    path: %s
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
        authEndpoint: https://wsaahomo.test/ws/services/LoginCms
        businessEndpoint: https://wgesregsintia2.test/ws
log:
  level: error
`, filepath.Join(dir, "customs.db"), dir, p12)

	path := filepath.Join(dir, "customs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := &app{out: &out, errOut: &errOut}
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	require.NoError(t, a.close(context.Background()))
	return out.String(), err
}

func TestClassify(t *testing.T) {
	out, err := run(t, "classify", errclass.CodeTimeout, "NO-SUCH-CODE")
	require.NoError(t, err)

	var got []errclass.Classification
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, errclass.Classify(errclass.CodeTimeout), got[0])
	assert.NotEmpty(t, got[1].SuggestedAction)
}

func TestClassifyAll(t *testing.T) {
	out, err := run(t, "classify", "--all")
	require.NoError(t, err)

	var got []errclass.Classification
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Len(t, got, len(errclass.Codes()))
}

func TestOperations(t *testing.T) {
	out, err := run(t, "operations")
	require.NoError(t, err)

	var got []operationView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, len(wire.Operations()))

	byName := map[string]operationView{}
	for _, op := range got {
		byName[op.Name] = op
	}
	assert.Equal(t, "ar", byName[string(wire.OpRegisterShipments)].Authority)
	assert.Equal(t, "tracks", byName[string(wire.OpRegisterShipments)].Produces)
}

func TestLedgerOnEmptyDatabase(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "ledger", "list", "--company", "acme", "--since", "24h")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	out, err = run(t, "--config", cfg, "ledger", "expire", "--older-than", "1h")
	require.NoError(t, err)
	assert.JSONEq(t, `{"expired": 0}`, out)

	_, err = run(t, "--config", cfg, "ledger", "show", "missing")
	assert.Error(t, err)

	_, err = run(t, "--config", cfg, "ledger", "list", "--status", "bogus")
	assert.ErrorContains(t, err, "unknown status")
}

func TestCertDescribe(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t), "cert", "describe")
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "acme", got[0]["company_id"])
	assert.Contains(t, got[0]["subject"], "acme")
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour), got)

	got, err = parseSince("2025-03-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = parseSince("yesterday", now)
	assert.Error(t, err)
}
