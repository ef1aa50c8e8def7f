package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-customs/pkg/errclass"
)

type stepClock struct {
	times []time.Time
	i     int
}

func (c *stepClock) Now() time.Time {
	t := c.times[c.i]
	if c.i < len(c.times)-1 {
		c.i++
	}
	return t
}

var base = time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)

func newLedger(now func() time.Time) *Ledger {
	return New(NewMemoryStore(), WithClock(now))
}

func TestCreateAssignsDefaults(t *testing.T) {
	l := newLedger(func() time.Time { return base })
	tx, err := l.Create(context.Background(), &Transaction{
		Family:         FamilySingle,
		Operation:      "RegistrarTitulo",
		Authority:      "ar",
		CompanyID:      "30712345678",
		Status:         StatusSuccess,
		RetryCount:     5,
		RequestPayload: "<x/>",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, StatusPending, tx.Status)
	assert.Equal(t, 0, tx.RetryCount)
	assert.Equal(t, base, tx.CreatedAt)

	got, err := l.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx, got)
}

func TestTransitionLifecycle(t *testing.T) {
	clock := &stepClock{times: []time.Time{
		base,
		base.Add(1 * time.Second),
		base.Add(2 * time.Second),
		base.Add(3 * time.Second),
		base.Add(4 * time.Second),
		base.Add(5 * time.Second),
	}}
	l := newLedger(clock.Now)
	ctx := context.Background()

	tx, err := l.Create(ctx, &Transaction{Operation: "RegistrarMicDta"})
	require.NoError(t, err)

	tx, err = l.Transition(ctx, tx.ID, StatusSending, Update{Request: []byte("<req/>")})
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Second), tx.SentAt)
	assert.Equal(t, "<req/>", tx.RequestPayload)

	tx, err = l.Transition(ctx, tx.ID, StatusRetry, Update{})
	require.NoError(t, err)
	assert.Equal(t, 1, tx.RetryCount)

	tx, err = l.Transition(ctx, tx.ID, StatusSending, Update{})
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Second), tx.SentAt, "SentAt keeps the first send")

	tx, err = l.Transition(ctx, tx.ID, StatusSent, Update{Response: []byte("<resp/>")})
	require.NoError(t, err)
	assert.Equal(t, base.Add(4*time.Second), tx.RespondedAt)

	tx, err = l.Transition(ctx, tx.ID, StatusSuccess, Update{Reference: "24001MANI000123X"})
	require.NoError(t, err)
	assert.Equal(t, "24001MANI000123X", tx.ExternalReference)
	assert.Equal(t, base.Add(5*time.Second), tx.CompletedAt)

	assert.False(t, tx.CreatedAt.After(tx.SentAt))
	assert.False(t, tx.SentAt.After(tx.RespondedAt))
	assert.False(t, tx.RespondedAt.After(tx.CompletedAt))
}

func TestTransitionMonotonicTimestamps(t *testing.T) {
	clock := &stepClock{times: []time.Time{base, base.Add(time.Minute), base.Add(-time.Hour), base.Add(-2 * time.Hour)}}
	l := newLedger(clock.Now)
	ctx := context.Background()

	tx, _ := l.Create(ctx, &Transaction{})
	tx, err := l.Transition(ctx, tx.ID, StatusSending, Update{})
	require.NoError(t, err)
	tx, err = l.Transition(ctx, tx.ID, StatusSent, Update{})
	require.NoError(t, err)
	assert.Equal(t, tx.SentAt, tx.RespondedAt, "clock going backwards is clamped")

	tx, err = l.Transition(ctx, tx.ID, StatusError, Update{})
	require.NoError(t, err)
	assert.False(t, tx.CompletedAt.Before(tx.RespondedAt))
}

func TestTransitionIllegal(t *testing.T) {
	l := newLedger(time.Now)
	ctx := context.Background()
	tx, _ := l.Create(ctx, &Transaction{})

	_, err := l.Transition(ctx, tx.ID, StatusSuccess, Update{})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = l.Transition(ctx, tx.ID, StatusCancelled, Update{})
	require.NoError(t, err)

	for _, to := range []Status{StatusPending, StatusSending, StatusSuccess, StatusError} {
		_, err = l.Transition(ctx, tx.ID, to, Update{})
		assert.ErrorIs(t, err, ErrIllegalTransition, "terminal status left for %s", to)
	}
}

func TestReferenceOnlyOnSuccess(t *testing.T) {
	l := newLedger(time.Now)
	ctx := context.Background()
	tx, _ := l.Create(ctx, &Transaction{})
	_, _ = l.Transition(ctx, tx.ID, StatusSending, Update{})

	_, err := l.Transition(ctx, tx.ID, StatusSent, Update{Reference: "REF1"})
	assert.ErrorIs(t, err, ErrReferenceBeforeSuccess)

	got, _ := l.Get(ctx, tx.ID)
	assert.Equal(t, StatusSending, got.Status)
	assert.Empty(t, got.ExternalReference)
}

func TestTransitionUnknown(t *testing.T) {
	l := newLedger(time.Now)
	_, err := l.Transition(context.Background(), "missing", StatusSending, Update{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusGraph(t *testing.T) {
	all := []Status{StatusPending, StatusValidating, StatusSending, StatusSent, StatusSuccess, StatusError, StatusRetry, StatusCancelled, StatusExpired}
	for _, s := range all {
		assert.True(t, s.Valid(), s)
		if s.Terminal() {
			for _, to := range all {
				assert.False(t, CanTransition(s, to), "%s -> %s", s, to)
			}
		}
	}
	assert.False(t, Status("bogus").Valid())
	assert.True(t, CanTransition(StatusRetry, StatusExpired))
	assert.False(t, CanTransition(StatusSending, StatusSuccess))
}

func TestPayloadTruncation(t *testing.T) {
	l := newLedger(time.Now)
	ctx := context.Background()
	tx, _ := l.Create(ctx, &Transaction{})

	big := strings.Repeat("ñ", MaxPayloadBytes)
	tx, err := l.Transition(ctx, tx.ID, StatusSending, Update{Request: []byte(big)})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(tx.RequestPayload), MaxPayloadBytes)
	assert.True(t, strings.HasPrefix(big, tx.RequestPayload))
	assert.True(t, strings.HasSuffix(tx.RequestPayload, "ñ"))
}

func TestAttachError(t *testing.T) {
	l := newLedger(func() time.Time { return base })
	ctx := context.Background()
	tx, _ := l.Create(ctx, &Transaction{})

	raw := []byte(strings.Repeat("x", 5000))
	rec, err := l.AttachError(ctx, tx.ID, errclass.Classify(errclass.CodeTimeout), raw)
	require.NoError(t, err)
	assert.Len(t, rec.RawPayload, MaxRawErrorBytes)
	assert.Equal(t, errclass.CodeTimeout, rec.Code)
	assert.True(t, rec.AllowsRetry)

	_, err = l.AttachError(ctx, tx.ID, errclass.Classify("ZZZ-404"), nil)
	require.NoError(t, err)

	errs, err := l.Errors(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, errclass.Undocumented.Title, errs[1].Title)
}

func TestAttachIdentifiersDeduplicates(t *testing.T) {
	l := newLedger(time.Now)
	ctx := context.Background()
	tx, _ := l.Create(ctx, &Transaction{})

	require.NoError(t, l.AttachIdentifiers(ctx, tx.ID, "S1", "RegistrarEnvios", []string{"T1", "T2"}, true))
	require.NoError(t, l.AttachIdentifiers(ctx, tx.ID, "S1", "RegistrarEnvios", []string{"T2", "T3"}, true))
	require.NoError(t, l.AttachIdentifiers(ctx, tx.ID, "S2", "RegistrarEnvios", []string{"T1"}, false))
	require.NoError(t, l.AttachIdentifiers(ctx, tx.ID, "S2", "RegistrarEnvios", nil, false))

	ids, err := l.Identifiers(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, ids, 4)
	assert.False(t, ids[3].Reviewed)
}

func TestRecordStepUpserts(t *testing.T) {
	l := newLedger(func() time.Time { return base })
	ctx := context.Background()

	require.NoError(t, l.RecordStep(ctx, StepRecord{TransactionID: "tx", Name: "title", ShipmentID: "S1", RequestDigest: "a"}))
	require.NoError(t, l.RecordStep(ctx, StepRecord{TransactionID: "tx", Name: "title", ShipmentID: "S1", RequestDigest: "b"}))
	require.NoError(t, l.RecordStep(ctx, StepRecord{TransactionID: "tx", Name: "detail", ShipmentID: "S1", RequestDigest: "c"}))

	steps, err := l.Steps(ctx, "tx")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "b", steps[0].RequestDigest)
	assert.Equal(t, base, steps[0].CompletedAt)
}

func TestListFilter(t *testing.T) {
	now := base
	l := newLedger(func() time.Time { now = now.Add(time.Minute); return now })
	ctx := context.Background()

	a, _ := l.Create(ctx, &Transaction{CompanyID: "A", Operation: "XFFM"})
	b, _ := l.Create(ctx, &Transaction{CompanyID: "B", Operation: "XFFM"})
	c, _ := l.Create(ctx, &Transaction{CompanyID: "A", Operation: "XFBL"})
	_, _ = l.Transition(ctx, c.ID, StatusCancelled, Update{})

	all, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, c.ID, all[0].ID, "newest first")

	byCompany, _ := l.List(ctx, Filter{CompanyID: "A"})
	assert.Len(t, byCompany, 2)

	pending, _ := l.List(ctx, Filter{Statuses: []Status{StatusPending}})
	assert.Len(t, pending, 2)

	since, _ := l.List(ctx, Filter{Since: b.CreatedAt})
	assert.Len(t, since, 2)

	limited, _ := l.List(ctx, Filter{Limit: 1})
	require.Len(t, limited, 1)

	byOp, _ := l.List(ctx, Filter{Operation: "XFFM", Until: b.CreatedAt})
	require.Len(t, byOp, 1)
	assert.Equal(t, a.ID, byOp[0].ID)
}

func TestExpireStale(t *testing.T) {
	now := base
	l := newLedger(func() time.Time { return now })
	ctx := context.Background()

	old, _ := l.Create(ctx, &Transaction{})
	sending, _ := l.Create(ctx, &Transaction{})
	_, _ = l.Transition(ctx, sending.ID, StatusSending, Update{})
	now = base.Add(2 * time.Hour)
	fresh, _ := l.Create(ctx, &Transaction{})

	n, err := l.ExpireStale(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := l.Get(ctx, old.ID)
	assert.Equal(t, StatusExpired, got.Status)
	got, _ = l.Get(ctx, fresh.ID)
	assert.Equal(t, StatusPending, got.Status)
	got, _ = l.Get(ctx, sending.ID)
	assert.Equal(t, StatusSending, got.Status)
}
