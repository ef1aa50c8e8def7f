package certstore

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/sirosfoundation/go-customs/pkg/ticket"
)

// Validator checks a company certificate before it is used for signing
type Validator struct {
	// Roots anchors chain verification. Nil skips it.
	Roots *x509.CertPool

	// Revocation is consulted when the chain carries the issuer
	Revocation RevocationChecker

	Now func() time.Time
}

// Validate checks the validity window, the chain and the revocation status
func (v *Validator) Validate(ctx context.Context, creds *ticket.Credentials) error {
	if creds == nil || creds.Certificate == nil {
		return ErrCertificateNotFound
	}
	cert := creds.Certificate

	now := time.Now()
	if v != nil && v.Now != nil {
		now = v.Now()
	}
	if now.Before(cert.NotBefore) {
		return ErrCertificateNotYetValid
	}
	if now.After(cert.NotAfter) {
		return ErrCertificateExpired
	}
	if v == nil {
		return nil
	}

	if v.Roots != nil {
		opts := x509.VerifyOptions{
			Roots:         v.Roots,
			CurrentTime:   now,
			Intermediates: x509.NewCertPool(),
			// Ticket requests are signed as CMS, the same usage as S/MIME
			KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection, x509.ExtKeyUsageAny},
		}
		for _, c := range creds.Chain {
			opts.Intermediates.AddCert(c)
		}
		if _, err := cert.Verify(opts); err != nil {
			return fmt.Errorf("%w: %v", ErrCertificateUntrusted, err)
		}
	}

	if v.Revocation != nil {
		if issuer := issuerOf(cert, creds.Chain); issuer != nil {
			if err := v.Revocation.CheckRevocation(ctx, cert, issuer); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadRoots reads a PEM bundle into a pool
func LoadRoots(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roots: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates in %s", path)
	}
	return pool, nil
}

func issuerOf(cert *x509.Certificate, chain []*x509.Certificate) *x509.Certificate {
	for _, c := range chain {
		if cert.CheckSignatureFrom(c) == nil {
			return c
		}
	}
	return nil
}

func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no PEM certificate found")
	}
	return certs, nil
}
