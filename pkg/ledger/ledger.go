package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-customs/pkg/errclass"
)

const (
	// MaxPayloadBytes bounds stored request and response payloads
	MaxPayloadBytes = 64 << 10

	// MaxRawErrorBytes bounds the raw vendor payload kept on an ErrorRecord
	MaxRawErrorBytes = 2 << 10
)

var (
	ErrNotFound               = errors.New("transaction not found")
	ErrIllegalTransition      = errors.New("illegal status transition")
	ErrReferenceBeforeSuccess = errors.New("external reference can only be set on success")
)

// Store persists ledger records. Implementations must treat identifiers as
// unique per (TransactionID, ShipmentID, Value) and steps as unique per
// (TransactionID, Name, ShipmentID).
type Store interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	ListTransactions(ctx context.Context, filter Filter) ([]*Transaction, error)

	AddIdentifiers(ctx context.Context, ids []TrackIdentifier) error
	ListIdentifiers(ctx context.Context, txID string) ([]TrackIdentifier, error)

	AddError(ctx context.Context, rec *ErrorRecord) error
	ListErrors(ctx context.Context, txID string) ([]ErrorRecord, error)

	PutStep(ctx context.Context, step *StepRecord) error
	ListSteps(ctx context.Context, txID string) ([]StepRecord, error)
}

// Update carries the optional fields written with a transition
type Update struct {
	Request   []byte
	Response  []byte
	Reference string
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Ledger validates and records transaction lifecycles
type Ledger struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex
}

// New creates a Ledger over store
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Create records a new pending transaction. ID is generated when empty.
func (l *Ledger) Create(ctx context.Context, tx *Transaction) (*Transaction, error) {
	rec := *tx
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := l.now()
	rec.Status = StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.SentAt, rec.RespondedAt, rec.CompletedAt = time.Time{}, time.Time{}, time.Time{}
	rec.ExternalReference = ""
	rec.RetryCount = 0
	rec.RequestPayload = truncatePayload(rec.RequestPayload, MaxPayloadBytes)
	rec.ResponsePayload = ""

	if err := l.store.CreateTransaction(ctx, &rec); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	l.logger.Debug("transaction created",
		slog.String("transaction_id", rec.ID),
		slog.String("operation", rec.Operation),
		slog.String("company_id", rec.CompanyID))
	return &rec, nil
}

// Transition moves a transaction to status to, applying u. Entering retry
// increments RetryCount.
func (l *Ledger) Transition(ctx context.Context, id string, to Status, u Update) (*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(tx.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s (transaction %s)", ErrIllegalTransition, tx.Status, to, id)
	}
	if u.Reference != "" && to != StatusSuccess {
		return nil, ErrReferenceBeforeSuccess
	}

	now := l.now()
	if now.Before(tx.UpdatedAt) {
		now = tx.UpdatedAt
	}

	from := tx.Status
	tx.Status = to
	tx.UpdatedAt = now
	switch to {
	case StatusSending:
		if tx.SentAt.IsZero() {
			tx.SentAt = now
		}
	case StatusSent:
		tx.RespondedAt = now
	case StatusRetry:
		tx.RetryCount++
	}
	if to.Terminal() {
		tx.CompletedAt = now
	}
	if u.Request != nil {
		tx.RequestPayload = truncatePayload(string(u.Request), MaxPayloadBytes)
	}
	if u.Response != nil {
		tx.ResponsePayload = truncatePayload(string(u.Response), MaxPayloadBytes)
	}
	if u.Reference != "" {
		tx.ExternalReference = u.Reference
	}

	if err := l.store.UpdateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to update transaction %s: %w", id, err)
	}
	l.logger.Debug("transaction transition",
		slog.String("transaction_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Int("retry_count", tx.RetryCount))
	return tx, nil
}

// AttachIdentifiers records identifiers for a shipment. Duplicates are
// ignored by the store.
func (l *Ledger) AttachIdentifiers(ctx context.Context, txID, shipmentID, sourceOp string, values []string, reviewed bool) error {
	if len(values) == 0 {
		return nil
	}
	now := l.now()
	ids := make([]TrackIdentifier, 0, len(values))
	for _, v := range values {
		ids = append(ids, TrackIdentifier{
			TransactionID:   txID,
			ShipmentID:      shipmentID,
			Value:           v,
			SourceOperation: sourceOp,
			Reviewed:        reviewed,
			CreatedAt:       now,
		})
	}
	if err := l.store.AddIdentifiers(ctx, ids); err != nil {
		return fmt.Errorf("failed to attach identifiers to %s: %w", txID, err)
	}
	return nil
}

// AttachError records a classified error with the raw vendor payload
func (l *Ledger) AttachError(ctx context.Context, txID string, c errclass.Classification, raw []byte) (*ErrorRecord, error) {
	rec := &ErrorRecord{
		ID:              uuid.NewString(),
		TransactionID:   txID,
		Category:        string(c.Category),
		Severity:        string(c.Severity),
		Code:            c.Code,
		Title:           c.Title,
		Message:         c.Message,
		IsBlocking:      c.Blocking,
		AllowsRetry:     c.Retryable,
		SuggestedAction: c.SuggestedAction,
		RawPayload:      truncatePayload(string(raw), MaxRawErrorBytes),
		CreatedAt:       l.now(),
	}
	if err := l.store.AddError(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to attach error to %s: %w", txID, err)
	}
	l.logger.Info("transaction error recorded",
		slog.String("transaction_id", txID),
		slog.String("code", rec.Code),
		slog.String("category", rec.Category),
		slog.String("severity", rec.Severity))
	return rec, nil
}

// RecordStep stores an acknowledged step
func (l *Ledger) RecordStep(ctx context.Context, step StepRecord) error {
	if step.CompletedAt.IsZero() {
		step.CompletedAt = l.now()
	}
	if err := l.store.PutStep(ctx, &step); err != nil {
		return fmt.Errorf("failed to record step %s for %s: %w", step.Name, step.TransactionID, err)
	}
	return nil
}

// ExpireStale moves pending and retry transactions not updated since
// cutoff to expired and returns how many were moved.
func (l *Ledger) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := l.store.ListTransactions(ctx, Filter{Statuses: []Status{StatusPending, StatusRetry}})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, tx := range stale {
		if !tx.UpdatedAt.Before(cutoff) {
			continue
		}
		if _, err := l.Transition(ctx, tx.ID, StatusExpired, Update{}); err != nil {
			if errors.Is(err, ErrIllegalTransition) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// Get returns a transaction
func (l *Ledger) Get(ctx context.Context, id string) (*Transaction, error) {
	return l.store.GetTransaction(ctx, id)
}

// List returns transactions matching filter, newest first
func (l *Ledger) List(ctx context.Context, filter Filter) ([]*Transaction, error) {
	return l.store.ListTransactions(ctx, filter)
}

// Identifiers returns the identifiers attached to a transaction
func (l *Ledger) Identifiers(ctx context.Context, txID string) ([]TrackIdentifier, error) {
	return l.store.ListIdentifiers(ctx, txID)
}

// Errors returns the errors attached to a transaction
func (l *Ledger) Errors(ctx context.Context, txID string) ([]ErrorRecord, error) {
	return l.store.ListErrors(ctx, txID)
}

// Steps returns the acknowledged steps of a transaction
func (l *Ledger) Steps(ctx context.Context, txID string) ([]StepRecord, error) {
	return l.store.ListSteps(ctx, txID)
}

// truncatePayload cuts s to at most max bytes on a rune boundary
func truncatePayload(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.Clone(s[:cut])
}
