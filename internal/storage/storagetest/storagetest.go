// Package storagetest holds behaviour tests shared by every storage backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-customs/internal/storage"
	"github.com/sirosfoundation/go-customs/pkg/ledger"
	"github.com/sirosfoundation/go-customs/pkg/token"
)

// base is millisecond aligned so every backend round-trips it exactly
var base = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

// Run exercises store against the ledger and token contracts. newStore must
// return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("TransactionRoundTrip", func(t *testing.T) { testTransactionRoundTrip(t, newStore(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("ListOrderAndFilter", func(t *testing.T) { testListOrderAndFilter(t, newStore(t)) })
	t.Run("Identifiers", func(t *testing.T) { testIdentifiers(t, newStore(t)) })
	t.Run("Errors", func(t *testing.T) { testErrors(t, newStore(t)) })
	t.Run("Steps", func(t *testing.T) { testSteps(t, newStore(t)) })
	t.Run("Tokens", func(t *testing.T) { testTokens(t, newStore(t)) })
}

func newTx(id, company string, created time.Time) *ledger.Transaction {
	return &ledger.Transaction{
		ID:          id,
		Family:      ledger.FamilyVoyage,
		Operation:   "RegistrarViaje",
		Authority:   "ar",
		CompanyID:   company,
		Environment: "testing",
		Status:      ledger.StatusPending,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func testTransactionRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()

	tx := newTx("tx-1", "acme", base)
	tx.LinkedDomainIDs = []string{"voyage-7"}
	tx.RequestPayload = "<soap:Envelope/>"
	require.NoError(t, s.CreateTransaction(ctx, tx))
	assert.Error(t, s.CreateTransaction(ctx, tx), "duplicate ids are rejected")

	got, err := s.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.CompanyID)
	assert.Equal(t, ledger.StatusPending, got.Status)
	assert.Equal(t, []string{"voyage-7"}, got.LinkedDomainIDs)
	assert.Equal(t, "<soap:Envelope/>", got.RequestPayload)
	assert.True(t, got.CreatedAt.Equal(base))
	assert.True(t, got.SentAt.IsZero())

	got.Status = ledger.StatusSuccess
	got.ExternalReference = "25001MANI000123X"
	got.RetryCount = 2
	got.SentAt = base.Add(time.Second)
	got.CompletedAt = base.Add(2 * time.Second)
	got.UpdatedAt = got.CompletedAt
	require.NoError(t, s.UpdateTransaction(ctx, got))

	again, err := s.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, again.Status)
	assert.Equal(t, "25001MANI000123X", again.ExternalReference)
	assert.Equal(t, 2, again.RetryCount)
	assert.True(t, again.SentAt.Equal(base.Add(time.Second)))
	assert.True(t, again.CompletedAt.Equal(base.Add(2*time.Second)))

	_, err = s.GetTransaction(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testUpdateMissing(t *testing.T, s storage.Store) {
	err := s.UpdateTransaction(context.Background(), newTx("ghost", "acme", base))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testListOrderAndFilter(t *testing.T, s storage.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateTransaction(ctx, newTx("b", "acme", base)))
	require.NoError(t, s.CreateTransaction(ctx, newTx("a", "acme", base)))
	require.NoError(t, s.CreateTransaction(ctx, newTx("c", "acme", base.Add(time.Hour))))
	other := newTx("d", "globex", base.Add(2*time.Hour))
	other.Status = ledger.StatusError
	require.NoError(t, s.CreateTransaction(ctx, other))

	all, err := s.ListTransactions(ctx, ledger.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "a", "b"}, ids(all))

	acme, err := s.ListTransactions(ctx, ledger.Filter{CompanyID: "acme", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(acme))

	failed, err := s.ListTransactions(ctx, ledger.Filter{Statuses: []ledger.Status{ledger.StatusError}})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(failed))

	window, err := s.ListTransactions(ctx, ledger.Filter{Since: base.Add(time.Hour), Until: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(window))
}

func testIdentifiers(t *testing.T, s storage.Store) {
	ctx := context.Background()

	id := func(shipment, value string, at time.Duration) ledger.TrackIdentifier {
		return ledger.TrackIdentifier{
			TransactionID:   "tx-1",
			ShipmentID:      shipment,
			Value:           value,
			SourceOperation: "RegistrarTitEnvios",
			CreatedAt:       base.Add(at),
		}
	}
	require.NoError(t, s.AddIdentifiers(ctx, []ledger.TrackIdentifier{id("s1", "T-1", 0), id("s1", "T-2", time.Second)}))
	require.NoError(t, s.AddIdentifiers(ctx, []ledger.TrackIdentifier{id("s1", "T-1", 2*time.Second), id("s2", "T-1", 3*time.Second)}))

	got, err := s.ListIdentifiers(ctx, "tx-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "T-1", got[0].Value)
	assert.True(t, got[0].CreatedAt.Equal(base), "first insert wins")
	assert.Equal(t, "T-2", got[1].Value)
	assert.Equal(t, "s2", got[2].ShipmentID)

	none, err := s.ListIdentifiers(ctx, "tx-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testErrors(t *testing.T, s storage.Store) {
	ctx := context.Background()

	for i, code := range []string{"AUTH_FAILED", "VALIDATION"} {
		require.NoError(t, s.AddError(ctx, &ledger.ErrorRecord{
			ID:              code,
			TransactionID:   "tx-1",
			Category:        "authentication",
			Severity:        "error",
			Code:            code,
			Title:           "title",
			Message:         "message",
			IsBlocking:      true,
			SuggestedAction: "check",
			RawPayload:      "<fault/>",
			CreatedAt:       base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := s.ListErrors(ctx, "tx-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AUTH_FAILED", got[0].Code)
	assert.Equal(t, "VALIDATION", got[1].Code)
	assert.True(t, got[0].IsBlocking)
	assert.False(t, got[0].AllowsRetry)
	assert.Equal(t, "<fault/>", got[0].RawPayload)
}

func testSteps(t *testing.T, s storage.Store) {
	ctx := context.Background()

	step := ledger.StepRecord{
		TransactionID: "tx-1",
		Name:          "RegistrarTitEnvios",
		ShipmentID:    "s1",
		Status:        ledger.StatusSuccess,
		RequestDigest: "abc",
		Identifiers:   []string{"T-1"},
		CompletedAt:   base,
	}
	require.NoError(t, s.PutStep(ctx, &step))

	second := step
	second.Name = "RegistrarMicDta"
	second.ShipmentID = ""
	second.Reference = "MIC-1"
	second.Identifiers = nil
	second.CompletedAt = base.Add(time.Minute)
	require.NoError(t, s.PutStep(ctx, &second))

	step.RequestDigest = "def"
	step.Identifiers = []string{"T-1", "T-2"}
	require.NoError(t, s.PutStep(ctx, &step))

	got, err := s.ListSteps(ctx, "tx-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "RegistrarTitEnvios", got[0].Name)
	assert.Equal(t, "def", got[0].RequestDigest)
	assert.Equal(t, []string{"T-1", "T-2"}, got[0].Identifiers)
	assert.Equal(t, "MIC-1", got[1].Reference)
	assert.Empty(t, got[1].Identifiers)
}

func testTokens(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := token.Key{CompanyID: "acme", Service: "wgesregsintia2", Environment: "testing"}

	tok, err := s.GetToken(ctx, key, base)
	require.NoError(t, err)
	assert.Nil(t, tok)

	require.NoError(t, s.PutToken(ctx, &token.AuthToken{
		CompanyID:   key.CompanyID,
		Service:     key.Service,
		Environment: key.Environment,
		Token:       "tok",
		Sign:        "sig",
		IssuedAt:    base,
		ExpiresAt:   base.Add(12 * time.Hour),
	}))

	tok, err = s.GetToken(ctx, key, base.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "tok", tok.Token)
	assert.Equal(t, "sig", tok.Sign)

	require.NoError(t, s.TouchToken(ctx, key, base.Add(2*time.Minute)))
	require.NoError(t, s.TouchToken(ctx, key, base.Add(3*time.Minute)))
	tok, err = s.GetToken(ctx, key, base.Add(4*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.EqualValues(t, 2, tok.UsageCount)
	assert.True(t, tok.LastUsedAt.Equal(base.Add(3*time.Minute)))

	tok, err = s.GetToken(ctx, key, base.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, tok, "expired tokens are not returned")

	require.NoError(t, s.ExpireToken(ctx, key, base.Add(5*time.Minute)))
	tok, err = s.GetToken(ctx, key, base.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, tok)

	// Expiry never moves forward
	require.NoError(t, s.ExpireToken(ctx, key, base.Add(time.Hour)))
	tok, err = s.GetToken(ctx, key, base.Add(4*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.True(t, tok.ExpiresAt.Equal(base.Add(5*time.Minute)))

	other, err := s.GetToken(ctx, token.Key{CompanyID: "acme", Service: "gdsf", Environment: "testing"}, base)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func ids(txs []*ledger.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}
