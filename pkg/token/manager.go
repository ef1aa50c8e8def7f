package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sirosfoundation/go-customs/pkg/ticket"
	"github.com/sirosfoundation/go-customs/pkg/transport"
)

// Config configures a Manager
type Config struct {
	Store       Store
	Credentials CredentialSource
	Signer      ticket.Signer
	Exchanger   Exchanger
	Resolver    Resolver

	// TTL is the validity assigned to issued tokens, DefaultTTL if zero and
	// never more than ticket.MaxTTL
	TTL time.Duration

	// Location sets the zone offset written into ticket requests
	Location *time.Location

	Now      func() time.Time
	Logger   *slog.Logger
	Observer Observer
}

// Manager acquires and caches tokens
type Manager struct {
	store       Store
	credentials CredentialSource
	signer      ticket.Signer
	exchanger   Exchanger
	resolver    Resolver
	ttl         time.Duration
	location    *time.Location
	now         func() time.Time
	logger      *slog.Logger
	observer    Observer

	group singleflight.Group
}

// NewManager creates a Manager
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Credentials == nil || cfg.Exchanger == nil || cfg.Resolver == nil {
		return nil, errors.New("token manager requires credentials, exchanger and resolver")
	}
	m := &Manager{
		store:       cfg.Store,
		credentials: cfg.Credentials,
		signer:      cfg.Signer,
		exchanger:   cfg.Exchanger,
		resolver:    cfg.Resolver,
		ttl:         cfg.TTL,
		location:    cfg.Location,
		now:         cfg.Now,
		logger:      cfg.Logger,
		observer:    cfg.Observer,
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.signer == nil {
		m.signer = ticket.CMSSigner{}
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	m.ttl = min(m.ttl, ticket.MaxTTL)
	if m.location == nil {
		m.location = time.Local
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// Acquire returns a usable token for the key, running the ticket exchange
// on a miss.
func (m *Manager) Acquire(ctx context.Context, companyID, service, environment string) (*AuthToken, error) {
	key := Key{CompanyID: companyID, Service: service, Environment: environment}
	if !key.valid() {
		return nil, &Error{Kind: ErrInvalidKey, Key: key}
	}
	start := m.now()

	tok, err := m.cached(ctx, key)
	if err != nil {
		return nil, err
	}
	if tok != nil {
		m.observe("hit", start)
		return tok, nil
	}

	// The exchange runs detached from any single caller so one cancelled
	// waiter does not fail the others.
	ch := m.group.DoChan(key.String(), func() (interface{}, error) {
		flightCtx := context.WithoutCancel(ctx)
		if tok, err := m.cached(flightCtx, key); err != nil || tok != nil {
			return tok, err
		}
		return m.issue(flightCtx, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			m.observe("error", start)
			return nil, res.Err
		}
		m.observe("issued", start)
		cp := *res.Val.(*AuthToken)
		return &cp, nil
	}
}

// Invalidate expires the token for key so the next Acquire re-authenticates
func (m *Manager) Invalidate(ctx context.Context, key Key) error {
	if err := m.store.ExpireToken(ctx, key, m.now()); err != nil {
		return fmt.Errorf("failed to expire token %s: %w", key, err)
	}
	m.logger.Info("token invalidated",
		slog.String("company_id", key.CompanyID),
		slog.String("service", key.Service),
		slog.String("environment", key.Environment))
	return nil
}

func (m *Manager) cached(ctx context.Context, key Key) (*AuthToken, error) {
	now := m.now()
	tok, err := m.store.GetToken(ctx, key, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read token store: %w", err)
	}
	if tok == nil || !tok.Usable(now) {
		return nil, nil
	}
	if err := m.store.TouchToken(ctx, key, now); err != nil {
		m.logger.Warn("failed to record token usage", slog.String("key", key.String()), slog.String("error", err.Error()))
	}
	tok.UsageCount++
	tok.LastUsedAt = now
	return tok, nil
}

func (m *Manager) issue(ctx context.Context, key Key) (*AuthToken, error) {
	now := m.now().In(m.location)

	req, err := ticket.NewRequest(key.Service, now, m.ttl)
	if err != nil {
		return nil, &Error{Kind: ErrSigning, Key: key, Err: err}
	}

	creds, err := m.credentials.Credentials(ctx, key.CompanyID)
	if err != nil {
		return nil, &Error{Kind: ErrCertificate, Key: key, Err: err}
	}
	if creds == nil || creds.Certificate == nil || creds.PrivateKey == nil {
		return nil, &Error{Kind: ErrCertificate, Key: key, Err: ticket.ErrNoCredentials}
	}
	if now.After(creds.Certificate.NotAfter) || now.Before(creds.Certificate.NotBefore) {
		return nil, &Error{Kind: ErrCertificate, Key: key,
			Err: fmt.Errorf("certificate valid from %s to %s", creds.Certificate.NotBefore.Format(time.RFC3339), creds.Certificate.NotAfter.Format(time.RFC3339))}
	}

	cms, err := m.signer.Sign(ctx, req.Bytes(), creds)
	if err != nil {
		return nil, &Error{Kind: ErrSigning, Key: key, Err: err}
	}

	endpoint, err := m.resolver.AuthEndpoint(key.Service, key.Environment)
	if err != nil {
		return nil, &Error{Kind: ErrUnavailable, Key: key, Err: err}
	}

	cred, err := m.exchanger.Login(ctx, endpoint, cms)
	if err != nil {
		kind := ErrRemoteAuthFault
		if transport.Retryable(err) {
			kind = ErrUnavailable
		}
		m.logger.Warn("ticket exchange failed",
			slog.String("company_id", key.CompanyID),
			slog.String("service", key.Service),
			slog.String("environment", key.Environment),
			slog.String("error", err.Error()))
		return nil, &Error{Kind: kind, Key: key, Err: err}
	}
	if cred == nil || cred.Token == "" || cred.Sign == "" {
		return nil, &Error{Kind: ErrRemoteAuthFault, Key: key, Err: ticket.ErrMissingCredentials}
	}

	issued := m.now()
	tok := &AuthToken{
		CompanyID:   key.CompanyID,
		Service:     key.Service,
		Environment: key.Environment,
		Token:       cred.Token,
		Sign:        cred.Sign,
		IssuedAt:    issued,
		ExpiresAt:   issued.Add(m.ttl),
		UsageCount:  1,
		LastUsedAt:  issued,
	}
	if err := m.store.PutToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("failed to persist token %s: %w", key, err)
	}

	m.logger.Info("token issued",
		slog.String("company_id", key.CompanyID),
		slog.String("service", key.Service),
		slog.String("environment", key.Environment),
		slog.Time("expires_at", tok.ExpiresAt),
		slog.Int("cms_bytes", len(cms)))
	return tok, nil
}

func (m *Manager) observe(outcome string, start time.Time) {
	if m.observer != nil {
		m.observer.ObserveAcquire(outcome, m.now().Sub(start))
	}
}
