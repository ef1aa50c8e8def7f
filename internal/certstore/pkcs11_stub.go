//go:build !pkcs11

package certstore

import (
	"context"
	"errors"

	"github.com/sirosfoundation/go-customs/pkg/ticket"
)

// PKCS11Provider is a stub that returns an error when PKCS#11 support is not compiled in.
type PKCS11Provider struct{}

// PKCS11Config holds configuration for the PKCS#11 provider
type PKCS11Config struct {
	ModulePath      string
	SlotID          *uint
	SlotLabel       string
	PIN             string
	KeyLabelPattern string
	Labels          map[string]string
	Validator       *Validator
}

// ErrPKCS11NotSupported is returned when PKCS#11 operations are attempted
// but the binary was not compiled with PKCS#11 support.
var ErrPKCS11NotSupported = errors.New("PKCS#11 support not compiled in (build with -tags pkcs11)")

// NewPKCS11Provider returns an error because PKCS#11 is not compiled in.
func NewPKCS11Provider(cfg *PKCS11Config) (*PKCS11Provider, error) {
	return nil, ErrPKCS11NotSupported
}

// Credentials returns an error because PKCS#11 is not compiled in.
func (p *PKCS11Provider) Credentials(ctx context.Context, companyID string) (*ticket.Credentials, error) {
	return nil, ErrPKCS11NotSupported
}

// Describe returns an error because PKCS#11 is not compiled in.
func (p *PKCS11Provider) Describe(ctx context.Context, companyID string) (*CertificateInfo, error) {
	return nil, ErrPKCS11NotSupported
}

// Close is a no-op.
func (p *PKCS11Provider) Close() error {
	return nil
}
