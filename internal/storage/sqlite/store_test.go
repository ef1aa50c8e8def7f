package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-customs/internal/storage"
	"github.com/sirosfoundation/go-customs/internal/storage/storagetest"
	"github.com/sirosfoundation/go-customs/pkg/ledger"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "customs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return openTemp(t)
	})
}

func TestReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "customs.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateTransaction(ctx, &ledger.Transaction{
		ID:        "tx-1",
		Family:    ledger.FamilySingle,
		Operation: "ConsultarEstadoMicDta",
		Authority: "ar",
		CompanyID: "acme",
		Status:    ledger.StatusPending,
	}))
	require.NoError(t, s.Close(ctx))

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close(ctx)

	tx, err := s.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "ConsultarEstadoMicDta", tx.Operation)
	assert.True(t, tx.CreatedAt.IsZero())
}

func TestTimeFormatSortsAsText(t *testing.T) {
	a := formatTime(storagetestTime(0))
	b := formatTime(storagetestTime(500))
	assert.Less(t, a, b)
	assert.Len(t, a, len(timeLayout))

	parsed, err := parseTime(b)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(storagetestTime(500)))

	zero, err := parseTime("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

func TestPing(t *testing.T) {
	assert.NoError(t, openTemp(t).Ping(context.Background()))
}

func storagetestTime(ms int) time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, ms*int(time.Millisecond), time.UTC)
}
