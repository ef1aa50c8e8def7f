// Package sqlite implements storage interfaces on an embedded SQLite
// database for single-node deployments.
//
// WAL mode is enabled on Open so that ledger readers (the CLI listing
// transactions) never block a running submission.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	// Pure-Go SQLite driver, no CGO required
	_ "modernc.org/sqlite"

	"github.com/sirosfoundation/go-customs/internal/storage"
	"github.com/sirosfoundation/go-customs/pkg/ledger"
	"github.com/sirosfoundation/go-customs/pkg/token"
)

var _ storage.Store = (*Store)(nil)

// timeLayout is fixed width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
    id                  TEXT PRIMARY KEY,
    parent_id           TEXT NOT NULL DEFAULT '',
    family              TEXT NOT NULL,
    operation           TEXT NOT NULL,
    authority           TEXT NOT NULL,
    company_id          TEXT NOT NULL,
    environment         TEXT NOT NULL,
    status              TEXT NOT NULL,
    request_payload     TEXT,
    response_payload    TEXT,
    external_reference  TEXT NOT NULL DEFAULT '',
    retry_count         INTEGER NOT NULL DEFAULT 0,
    -- JSON array of voyage or bill ids
    linked_domain_ids   TEXT NOT NULL DEFAULT '[]',
    created_at          TEXT NOT NULL,
    updated_at          TEXT NOT NULL,
    sent_at             TEXT NOT NULL DEFAULT '',
    responded_at        TEXT NOT NULL DEFAULT '',
    completed_at        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transactions_company ON transactions(company_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status, updated_at);

CREATE TABLE IF NOT EXISTS track_identifiers (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    transaction_id    TEXT NOT NULL,
    shipment_id       TEXT NOT NULL,
    value             TEXT NOT NULL,
    source_operation  TEXT NOT NULL,
    reviewed          INTEGER NOT NULL,
    created_at        TEXT NOT NULL,
    UNIQUE (transaction_id, shipment_id, value)
);

CREATE TABLE IF NOT EXISTS transaction_errors (
    id                TEXT PRIMARY KEY,
    seq               INTEGER NOT NULL,
    transaction_id    TEXT NOT NULL,
    category          TEXT NOT NULL,
    severity          TEXT NOT NULL,
    code              TEXT NOT NULL,
    title             TEXT NOT NULL,
    message           TEXT NOT NULL,
    is_blocking       INTEGER NOT NULL,
    allows_retry      INTEGER NOT NULL,
    suggested_action  TEXT NOT NULL,
    raw_payload       TEXT,
    created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transaction_errors_tx ON transaction_errors(transaction_id, seq);

CREATE TABLE IF NOT EXISTS transaction_steps (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    transaction_id  TEXT NOT NULL,
    name            TEXT NOT NULL,
    shipment_id     TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    request_digest  TEXT NOT NULL,
    reference       TEXT NOT NULL DEFAULT '',
    identifiers     TEXT NOT NULL DEFAULT '[]',
    completed_at    TEXT NOT NULL,
    UNIQUE (transaction_id, name, shipment_id)
);

CREATE TABLE IF NOT EXISTS auth_tokens (
    company_id    TEXT NOT NULL,
    service       TEXT NOT NULL,
    environment   TEXT NOT NULL,
    token         TEXT NOT NULL,
    sign          TEXT NOT NULL,
    issued_at     TEXT NOT NULL,
    expires_at    TEXT NOT NULL,
    usage_count   INTEGER NOT NULL DEFAULT 0,
    last_used_at  TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (company_id, service, environment)
);
`

// Store implements storage.Store on SQLite
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// A single connection serializes writers and keeps an in-memory
	// database alive for the lifetime of the Store
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close implements storage.Store
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// Ping implements storage.Store
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateTransaction implements ledger.Store
func (s *Store) CreateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	const q = `
		INSERT INTO transactions
			(id, parent_id, family, operation, authority, company_id, environment, status,
			 request_payload, response_payload, external_reference, retry_count, linked_domain_ids,
			 created_at, updated_at, sent_at, responded_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	linked, err := json.Marshal(nonNil(tx.LinkedDomainIDs))
	if err != nil {
		return fmt.Errorf("sqlite: encode linked ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, q,
		tx.ID, tx.ParentID, string(tx.Family), tx.Operation, tx.Authority, tx.CompanyID, tx.Environment,
		string(tx.Status), nullableString(tx.RequestPayload), nullableString(tx.ResponsePayload),
		tx.ExternalReference, tx.RetryCount, string(linked),
		formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt), formatTime(tx.SentAt),
		formatTime(tx.RespondedAt), formatTime(tx.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create transaction %q: %w", tx.ID, err)
	}
	return nil
}

// UpdateTransaction implements ledger.Store
func (s *Store) UpdateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	const q = `
		UPDATE transactions SET
			status = ?, request_payload = ?, response_payload = ?, external_reference = ?,
			retry_count = ?, updated_at = ?, sent_at = ?, responded_at = ?, completed_at = ?
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, q,
		string(tx.Status), nullableString(tx.RequestPayload), nullableString(tx.ResponsePayload),
		tx.ExternalReference, tx.RetryCount, formatTime(tx.UpdatedAt), formatTime(tx.SentAt),
		formatTime(tx.RespondedAt), formatTime(tx.CompletedAt), tx.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update transaction %q: %w", tx.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update transaction %q: %w", tx.ID, err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

const selectTransaction = `
	SELECT id, parent_id, family, operation, authority, company_id, environment, status,
	       COALESCE(request_payload, ''), COALESCE(response_payload, ''), external_reference,
	       retry_count, linked_domain_ids, created_at, updated_at, sent_at, responded_at, completed_at
	FROM   transactions`

// GetTransaction implements ledger.Store
func (s *Store) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx, selectTransaction+` WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get transaction %q: %w", id, err)
	}
	return tx, nil
}

// ListTransactions implements ledger.Store
func (s *Store) ListTransactions(ctx context.Context, filter ledger.Filter) ([]*ledger.Transaction, error) {
	var where []string
	var args []any
	if filter.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, filter.Operation)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(filter.Until))
	}

	q := selectTransaction
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list transactions: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list transactions: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	var family, status, linked string
	var created, updated, sent, responded, completed string
	err := row.Scan(
		&tx.ID, &tx.ParentID, &family, &tx.Operation, &tx.Authority, &tx.CompanyID, &tx.Environment,
		&status, &tx.RequestPayload, &tx.ResponsePayload, &tx.ExternalReference, &tx.RetryCount,
		&linked, &created, &updated, &sent, &responded, &completed,
	)
	if err != nil {
		return nil, err
	}
	tx.Family = ledger.Family(family)
	tx.Status = ledger.Status(status)
	if err := json.Unmarshal([]byte(linked), &tx.LinkedDomainIDs); err != nil {
		return nil, fmt.Errorf("decode linked ids: %w", err)
	}
	if len(tx.LinkedDomainIDs) == 0 {
		tx.LinkedDomainIDs = nil
	}
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&tx.CreatedAt, created}, {&tx.UpdatedAt, updated}, {&tx.SentAt, sent},
		{&tx.RespondedAt, responded}, {&tx.CompletedAt, completed},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}
	return &tx, nil
}

// AddIdentifiers implements ledger.Store. Duplicates are ignored.
func (s *Store) AddIdentifiers(ctx context.Context, ids []ledger.TrackIdentifier) error {
	const q = `
		INSERT OR IGNORE INTO track_identifiers
			(transaction_id, shipment_id, value, source_operation, reviewed, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = dbtx.Rollback() }()

	for _, id := range ids {
		if _, err := dbtx.ExecContext(ctx, q, id.TransactionID, id.ShipmentID, id.Value,
			id.SourceOperation, id.Reviewed, formatTime(id.CreatedAt)); err != nil {
			return fmt.Errorf("sqlite: add identifier %q: %w", id.Value, err)
		}
	}
	return dbtx.Commit()
}

// ListIdentifiers implements ledger.Store
func (s *Store) ListIdentifiers(ctx context.Context, txID string) ([]ledger.TrackIdentifier, error) {
	const q = `
		SELECT transaction_id, shipment_id, value, source_operation, reviewed, created_at
		FROM   track_identifiers
		WHERE  transaction_id = ?
		ORDER  BY id`

	rows, err := s.db.QueryContext(ctx, q, txID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list identifiers: %w", err)
	}
	defer rows.Close()

	var out []ledger.TrackIdentifier
	for rows.Next() {
		var id ledger.TrackIdentifier
		var created string
		if err := rows.Scan(&id.TransactionID, &id.ShipmentID, &id.Value, &id.SourceOperation, &id.Reviewed, &created); err != nil {
			return nil, fmt.Errorf("sqlite: list identifiers: %w", err)
		}
		if id.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AddError implements ledger.Store
func (s *Store) AddError(ctx context.Context, rec *ledger.ErrorRecord) error {
	const q = `
		INSERT INTO transaction_errors
			(id, seq, transaction_id, category, severity, code, title, message, is_blocking,
			 allows_retry, suggested_action, raw_payload, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM transaction_errors), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		rec.ID, rec.TransactionID, rec.Category, rec.Severity, rec.Code, rec.Title, rec.Message,
		rec.IsBlocking, rec.AllowsRetry, rec.SuggestedAction, nullableString(rec.RawPayload),
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: add error to %q: %w", rec.TransactionID, err)
	}
	return nil
}

// ListErrors implements ledger.Store
func (s *Store) ListErrors(ctx context.Context, txID string) ([]ledger.ErrorRecord, error) {
	const q = `
		SELECT id, transaction_id, category, severity, code, title, message, is_blocking,
		       allows_retry, suggested_action, COALESCE(raw_payload, ''), created_at
		FROM   transaction_errors
		WHERE  transaction_id = ?
		ORDER  BY seq`

	rows, err := s.db.QueryContext(ctx, q, txID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list errors: %w", err)
	}
	defer rows.Close()

	var out []ledger.ErrorRecord
	for rows.Next() {
		var rec ledger.ErrorRecord
		var created string
		if err := rows.Scan(&rec.ID, &rec.TransactionID, &rec.Category, &rec.Severity, &rec.Code,
			&rec.Title, &rec.Message, &rec.IsBlocking, &rec.AllowsRetry, &rec.SuggestedAction,
			&rec.RawPayload, &created); err != nil {
			return nil, fmt.Errorf("sqlite: list errors: %w", err)
		}
		if rec.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PutStep implements ledger.Store
func (s *Store) PutStep(ctx context.Context, step *ledger.StepRecord) error {
	const q = `
		INSERT INTO transaction_steps
			(transaction_id, name, shipment_id, status, request_digest, reference, identifiers, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id, name, shipment_id) DO UPDATE SET
			status = excluded.status,
			request_digest = excluded.request_digest,
			reference = excluded.reference,
			identifiers = excluded.identifiers,
			completed_at = excluded.completed_at`

	ids, err := json.Marshal(nonNil(step.Identifiers))
	if err != nil {
		return fmt.Errorf("sqlite: encode step identifiers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, q,
		step.TransactionID, step.Name, step.ShipmentID, string(step.Status), step.RequestDigest,
		step.Reference, string(ids), formatTime(step.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put step %q for %q: %w", step.Name, step.TransactionID, err)
	}
	return nil
}

// ListSteps implements ledger.Store
func (s *Store) ListSteps(ctx context.Context, txID string) ([]ledger.StepRecord, error) {
	const q = `
		SELECT transaction_id, name, shipment_id, status, request_digest, reference, identifiers, completed_at
		FROM   transaction_steps
		WHERE  transaction_id = ?
		ORDER  BY id`

	rows, err := s.db.QueryContext(ctx, q, txID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list steps: %w", err)
	}
	defer rows.Close()

	var out []ledger.StepRecord
	for rows.Next() {
		var step ledger.StepRecord
		var status, ids, completed string
		if err := rows.Scan(&step.TransactionID, &step.Name, &step.ShipmentID, &status,
			&step.RequestDigest, &step.Reference, &ids, &completed); err != nil {
			return nil, fmt.Errorf("sqlite: list steps: %w", err)
		}
		step.Status = ledger.Status(status)
		if err := json.Unmarshal([]byte(ids), &step.Identifiers); err != nil {
			return nil, fmt.Errorf("sqlite: decode step identifiers: %w", err)
		}
		if len(step.Identifiers) == 0 {
			step.Identifiers = nil
		}
		if step.CompletedAt, err = parseTime(completed); err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

// GetToken implements token.Store
func (s *Store) GetToken(ctx context.Context, key token.Key, now time.Time) (*token.AuthToken, error) {
	const q = `
		SELECT company_id, service, environment, token, sign, issued_at, expires_at, usage_count, last_used_at
		FROM   auth_tokens
		WHERE  company_id = ? AND service = ? AND environment = ?`

	var tok token.AuthToken
	var issued, expires, lastUsed string
	err := s.db.QueryRowContext(ctx, q, key.CompanyID, key.Service, key.Environment).Scan(
		&tok.CompanyID, &tok.Service, &tok.Environment, &tok.Token, &tok.Sign,
		&issued, &expires, &tok.UsageCount, &lastUsed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get token %s: %w", key, err)
	}
	if tok.IssuedAt, err = parseTime(issued); err != nil {
		return nil, err
	}
	if tok.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	if tok.LastUsedAt, err = parseTime(lastUsed); err != nil {
		return nil, err
	}
	if !tok.Usable(now) {
		return nil, nil
	}
	return &tok, nil
}

// PutToken implements token.Store. A new token replaces any previous one.
func (s *Store) PutToken(ctx context.Context, tok *token.AuthToken) error {
	const q = `
		INSERT OR REPLACE INTO auth_tokens
			(company_id, service, environment, token, sign, issued_at, expires_at, usage_count, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		tok.CompanyID, tok.Service, tok.Environment, tok.Token, tok.Sign,
		formatTime(tok.IssuedAt), formatTime(tok.ExpiresAt), tok.UsageCount, formatTime(tok.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put token %s: %w", tok.Key(), err)
	}
	return nil
}

// TouchToken implements token.Store
func (s *Store) TouchToken(ctx context.Context, key token.Key, at time.Time) error {
	const q = `
		UPDATE auth_tokens SET usage_count = usage_count + 1, last_used_at = ?
		WHERE  company_id = ? AND service = ? AND environment = ?`

	if _, err := s.db.ExecContext(ctx, q, formatTime(at), key.CompanyID, key.Service, key.Environment); err != nil {
		return fmt.Errorf("sqlite: touch token %s: %w", key, err)
	}
	return nil
}

// ExpireToken implements token.Store
func (s *Store) ExpireToken(ctx context.Context, key token.Key, at time.Time) error {
	const q = `
		UPDATE auth_tokens SET expires_at = ?
		WHERE  company_id = ? AND service = ? AND environment = ? AND expires_at > ?`

	ts := formatTime(at)
	if _, err := s.db.ExecContext(ctx, q, ts, key.CompanyID, key.Service, key.Environment, ts); err != nil {
		return fmt.Errorf("sqlite: expire token %s: %w", key, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

// nullableString stores NULL instead of an empty payload
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
