package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirosfoundation/go-customs/pkg/errclass"
	"github.com/sirosfoundation/go-customs/pkg/ticket"
)

// DefaultTTL is the validity assigned to an issued token
const DefaultTTL = 12 * time.Hour

// Error kinds
var (
	ErrCertificate     = errors.New("company certificate unavailable")
	ErrSigning         = errors.New("ticket signing failed")
	ErrRemoteAuthFault = errors.New("authentication service rejected the ticket")
	ErrUnavailable     = errors.New("authentication service unreachable")
	ErrInvalidKey      = errors.New("company, service and environment are required")
)

// Key identifies a token
type Key struct {
	CompanyID   string
	Service     string
	Environment string
}

func (k Key) String() string {
	return k.CompanyID + "/" + k.Service + "/" + k.Environment
}

func (k Key) valid() bool {
	return strings.TrimSpace(k.CompanyID) != "" &&
		strings.TrimSpace(k.Service) != "" &&
		strings.TrimSpace(k.Environment) != ""
}

// AuthToken is a credential issued by the authentication service. Only
// UsageCount and LastUsedAt change after issue.
type AuthToken struct {
	CompanyID   string    `json:"company_id" bson:"company_id"`
	Service     string    `json:"service" bson:"service"`
	Environment string    `json:"environment" bson:"environment"`
	Token       string    `json:"token" bson:"token"`
	Sign        string    `json:"sign" bson:"sign"`
	IssuedAt    time.Time `json:"issued_at" bson:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at" bson:"expires_at"`
	UsageCount  int64     `json:"usage_count" bson:"usage_count"`
	LastUsedAt  time.Time `json:"last_used_at" bson:"last_used_at"`
}

// Key returns the token key
func (t *AuthToken) Key() Key {
	return Key{CompanyID: t.CompanyID, Service: t.Service, Environment: t.Environment}
}

// Usable reports whether IssuedAt <= now < ExpiresAt
func (t *AuthToken) Usable(now time.Time) bool {
	return t != nil && !now.Before(t.IssuedAt) && now.Before(t.ExpiresAt)
}

// Error is returned by Manager.Acquire
type Error struct {
	Kind error
	Key  Key
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("token %s: %v", e.Key, e.Kind)
	}
	return fmt.Sprintf("token %s: %v: %v", e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Code returns the classifier code for the failure. Remote faults carry the
// authentication service's own code.
func (e *Error) Code() string {
	var fe *ticket.FaultError
	if errors.As(e.Err, &fe) && fe.Code != "" {
		return fe.Code
	}
	switch e.Kind {
	case ErrCertificate:
		return errclass.CodeCertificate
	case ErrSigning:
		return errclass.CodeSigning
	case ErrUnavailable:
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return errclass.CodeTimeout
		}
		return errclass.CodeNetwork
	default:
		return errclass.CodeAuth
	}
}

// Store persists tokens. Get returns nil without error when there is no
// usable token for key at now.
type Store interface {
	GetToken(ctx context.Context, key Key, now time.Time) (*AuthToken, error)
	PutToken(ctx context.Context, tok *AuthToken) error
	TouchToken(ctx context.Context, key Key, at time.Time) error
	ExpireToken(ctx context.Context, key Key, at time.Time) error
}

// CredentialSource supplies company certificates and keys
type CredentialSource interface {
	Credentials(ctx context.Context, companyID string) (*ticket.Credentials, error)
}

// Exchanger trades a signed ticket request for a credential
type Exchanger interface {
	Login(ctx context.Context, endpoint string, cms []byte) (*ticket.Credential, error)
}

// Resolver returns the authentication endpoint for a service and environment
type Resolver interface {
	AuthEndpoint(service, environment string) (string, error)
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(service, environment string) (string, error)

// AuthEndpoint implements Resolver
func (f ResolverFunc) AuthEndpoint(service, environment string) (string, error) {
	return f(service, environment)
}

// Observer receives acquisition outcomes: "hit", "issued" or "error"
type Observer interface {
	ObserveAcquire(outcome string, d time.Duration)
}
