//go:build pkcs11

package certstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ThalesIgnite/crypto11"

	"github.com/sirosfoundation/go-customs/pkg/ticket"
)

// PKCS11Provider implements Provider using a PKCS#11 token (HSM/smart card)
//
// Keys never leave the token, so the openssl signer cannot use them.
type PKCS11Provider struct {
	ctx             *crypto11.Context
	keyLabelPattern string
	labels          map[string]string
	validator       *Validator

	mu    sync.RWMutex
	cache map[string]*ticket.Credentials
}

// PKCS11Config holds configuration for the PKCS#11 provider
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 library (.so/.dylib/.dll)
	ModulePath string

	// SlotID is the slot number to use (optional if SlotLabel is provided)
	SlotID *uint

	// SlotLabel is the token label to search for (optional if SlotID is provided)
	SlotLabel string

	PIN string

	// KeyLabelPattern uses {company-id} as placeholder
	KeyLabelPattern string

	// Labels overrides the pattern per company
	Labels map[string]string

	Validator *Validator
}

// NewPKCS11Provider creates a new PKCS#11 provider
func NewPKCS11Provider(cfg *PKCS11Config) (*PKCS11Provider, error) {
	config := &crypto11.Config{
		Path: cfg.ModulePath,
		Pin:  cfg.PIN,
	}
	if cfg.SlotID != nil {
		slotID := int(*cfg.SlotID)
		config.SlotNumber = &slotID
	}
	if cfg.SlotLabel != "" {
		config.TokenLabel = cfg.SlotLabel
	}

	ctx, err := crypto11.Configure(config)
	if err != nil {
		return nil, fmt.Errorf("configuring PKCS#11: %w", err)
	}

	pattern := cfg.KeyLabelPattern
	if pattern == "" {
		pattern = "company-{company-id}-signing"
	}

	return &PKCS11Provider{
		ctx:             ctx,
		keyLabelPattern: pattern,
		labels:          cfg.Labels,
		validator:       cfg.Validator,
		cache:           make(map[string]*ticket.Credentials),
	}, nil
}

// Credentials implements Provider
func (p *PKCS11Provider) Credentials(ctx context.Context, companyID string) (*ticket.Credentials, error) {
	p.mu.RLock()
	creds, ok := p.cache[companyID]
	p.mu.RUnlock()

	if !ok {
		var err error
		if creds, err = p.load(p.keyLabel(companyID)); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cache[companyID] = creds
		p.mu.Unlock()
	}

	if err := p.validator.Validate(ctx, creds); err != nil {
		return nil, fmt.Errorf("company %s: %w", companyID, err)
	}
	return creds, nil
}

// Describe implements Provider
func (p *PKCS11Provider) Describe(_ context.Context, companyID string) (*CertificateInfo, error) {
	cert, err := p.ctx.FindCertificate(nil, []byte(p.keyLabel(companyID)), nil)
	if err != nil {
		return nil, fmt.Errorf("finding certificate: %w", err)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: %s", ErrCertificateNotFound, companyID)
	}
	return describe(companyID, &ticket.Credentials{Certificate: cert}), nil
}

// Close releases PKCS#11 resources
func (p *PKCS11Provider) Close() error {
	return p.ctx.Close()
}

func (p *PKCS11Provider) keyLabel(companyID string) string {
	if label, ok := p.labels[companyID]; ok && label != "" {
		return label
	}
	return strings.ReplaceAll(p.keyLabelPattern, "{company-id}", companyID)
}

func (p *PKCS11Provider) load(label string) (*ticket.Credentials, error) {
	key, err := p.ctx.FindKeyPair(nil, []byte(label))
	if err != nil {
		return nil, fmt.Errorf("finding key pair: %w", err)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: no key labelled %s", ErrCertificateNotFound, label)
	}

	cert, err := p.ctx.FindCertificate(nil, []byte(label), nil)
	if err != nil {
		return nil, fmt.Errorf("finding certificate: %w", err)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: no certificate labelled %s", ErrCertificateNotFound, label)
	}

	if err := matchKey(cert, key); err != nil {
		return nil, err
	}
	return &ticket.Credentials{Certificate: cert, PrivateKey: key}, nil
}
