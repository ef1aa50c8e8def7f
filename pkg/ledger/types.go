package ledger

import (
	"time"
)

// Status is the lifecycle state of a transaction
type Status string

const (
	StatusPending    Status = "pending"
	StatusValidating Status = "validating"
	StatusSending    Status = "sending"
	StatusSent       Status = "sent"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
	StatusRetry      Status = "retry"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusValidating, StatusSending, StatusCancelled, StatusError, StatusExpired},
	StatusValidating: {StatusSending, StatusError, StatusCancelled},
	StatusSending:    {StatusSent, StatusRetry, StatusError, StatusCancelled},
	StatusSent:       {StatusSuccess, StatusError, StatusSending, StatusCancelled},
	StatusRetry:      {StatusSending, StatusError, StatusCancelled, StatusExpired},
}

// Terminal reports whether no transition leaves s
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	if s.Terminal() {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Family groups operations by how they are orchestrated
type Family string

const (
	FamilySingle     Family = "single"
	FamilyVoyage     Family = "voyage"
	FamilyAttachment Family = "attachment"
)

// Transaction is one submission attempt
type Transaction struct {
	ID                string    `json:"id" bson:"_id"`
	ParentID          string    `json:"parent_id,omitempty" bson:"parent_id,omitempty"`
	Family            Family    `json:"family" bson:"family"`
	Operation         string    `json:"operation" bson:"operation"`
	Authority         string    `json:"authority" bson:"authority"`
	CompanyID         string    `json:"company_id" bson:"company_id"`
	Environment       string    `json:"environment" bson:"environment"`
	Status            Status    `json:"status" bson:"status"`
	RequestPayload    string    `json:"request_payload,omitempty" bson:"request_payload,omitempty"`
	ResponsePayload   string    `json:"response_payload,omitempty" bson:"response_payload,omitempty"`
	ExternalReference string    `json:"external_reference,omitempty" bson:"external_reference,omitempty"`
	RetryCount        int       `json:"retry_count" bson:"retry_count"`
	LinkedDomainIDs   []string  `json:"linked_domain_ids,omitempty" bson:"linked_domain_ids,omitempty"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" bson:"updated_at"`
	SentAt            time.Time `json:"sent_at,omitzero" bson:"sent_at,omitempty"`
	RespondedAt       time.Time `json:"responded_at,omitzero" bson:"responded_at,omitempty"`
	CompletedAt       time.Time `json:"completed_at,omitzero" bson:"completed_at,omitempty"`
}

// StepRecord is the outcome of a remote step of a multi-step submission:
// success once acknowledged, or error/cancelled for the step that ended the
// run. Only successful steps are replayed on resume.
type StepRecord struct {
	TransactionID string    `json:"transaction_id" bson:"transaction_id"`
	Name          string    `json:"name" bson:"name"`
	ShipmentID    string    `json:"shipment_id,omitempty" bson:"shipment_id,omitempty"`
	Status        Status    `json:"status" bson:"status"`
	RequestDigest string    `json:"request_digest" bson:"request_digest"`
	Reference     string    `json:"reference,omitempty" bson:"reference,omitempty"`
	Identifiers   []string  `json:"identifiers,omitempty" bson:"identifiers,omitempty"`
	CompletedAt   time.Time `json:"completed_at" bson:"completed_at"`
}

// TrackIdentifier is an identifier returned by the remote service
type TrackIdentifier struct {
	TransactionID   string    `json:"transaction_id" bson:"transaction_id"`
	ShipmentID      string    `json:"shipment_id" bson:"shipment_id"`
	Value           string    `json:"value" bson:"value"`
	SourceOperation string    `json:"source_operation" bson:"source_operation"`
	Reviewed        bool      `json:"reviewed" bson:"reviewed"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
}

// ErrorRecord is a classified error attached to a transaction
type ErrorRecord struct {
	ID              string    `json:"id" bson:"_id"`
	TransactionID   string    `json:"transaction_id" bson:"transaction_id"`
	Category        string    `json:"category" bson:"category"`
	Severity        string    `json:"severity" bson:"severity"`
	Code            string    `json:"code" bson:"code"`
	Title           string    `json:"title" bson:"title"`
	Message         string    `json:"message" bson:"message"`
	IsBlocking      bool      `json:"is_blocking" bson:"is_blocking"`
	AllowsRetry     bool      `json:"allows_retry" bson:"allows_retry"`
	SuggestedAction string    `json:"suggested_action" bson:"suggested_action"`
	RawPayload      string    `json:"raw_payload,omitempty" bson:"raw_payload,omitempty"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
}

// Filter selects transactions for List
type Filter struct {
	CompanyID string
	Operation string
	Statuses  []Status
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Match reports whether tx satisfies the filter
func (f Filter) Match(tx *Transaction) bool {
	if f.CompanyID != "" && tx.CompanyID != f.CompanyID {
		return false
	}
	if f.Operation != "" && tx.Operation != f.Operation {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if tx.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && tx.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !tx.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}
