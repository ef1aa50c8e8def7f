// Package certstore provides company certificates for ticket signing
//
// This package defines a single interface for loading a company's signing
// certificate and private key that can be implemented by different backends:
//
//   - File-based: PEM pairs or password-protected PKCS#12 bundles on disk
//   - PKCS#11: Keys stored in hardware security modules (HSM) or smart cards
//
// Every provider runs the loaded certificate through a Validator before
// handing it out, so an expired, untrusted or revoked certificate never
// reaches the authentication service.
package certstore

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/sirosfoundation/go-customs/pkg/ticket"
)

// Common errors
var (
	ErrCertificateNotFound    = errors.New("company certificate not found")
	ErrCertificateExpired     = errors.New("certificate has expired")
	ErrCertificateNotYetValid = errors.New("certificate is not yet valid")
	ErrCertificateUntrusted   = errors.New("certificate is not trusted")
	ErrCertificateRevoked     = errors.New("certificate has been revoked")
	ErrKeyMismatch            = errors.New("private key does not match certificate")
	ErrPassphraseRequired     = errors.New("passphrase required to unlock PKCS#12 bundle")
)

// Provider supplies company certificates and keys
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Credentials returns the validated certificate, key and chain of a
	// company. It satisfies token.CredentialSource.
	Credentials(ctx context.Context, companyID string) (*ticket.Credentials, error)

	// Describe returns certificate metadata without exposing the key
	Describe(ctx context.Context, companyID string) (*CertificateInfo, error)

	// Close releases any resources held by the provider.
	Close() error
}

// CertificateInfo describes a company certificate
type CertificateInfo struct {
	CompanyID    string    `json:"company_id"`
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number"`
	Algorithm    string    `json:"algorithm"`
	KeySize      int       `json:"key_size"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	ChainLength  int       `json:"chain_length"`
}

func describe(companyID string, creds *ticket.Credentials) *CertificateInfo {
	cert := creds.Certificate
	return &CertificateInfo{
		CompanyID:    companyID,
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		Algorithm:    keyAlgorithmName(cert.PublicKey),
		KeySize:      keySize(cert.PublicKey),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		ChainLength:  len(creds.Chain),
	}
}

// matchKey checks that key is the private half of cert's public key
func matchKey(cert *x509.Certificate, key crypto.Signer) error {
	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(cert.PublicKey) {
		return fmt.Errorf("%w: %s", ErrKeyMismatch, cert.Subject.CommonName)
	}
	return nil
}

func keyAlgorithmName(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		return "EC"
	case *rsa.PublicKey:
		return "RSA"
	case ed25519.PublicKey:
		return "Ed25519"
	default:
		return "Unknown"
	}
}

func keySize(pub crypto.PublicKey) int {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case *rsa.PublicKey:
		return k.N.BitLen()
	case ed25519.PublicKey:
		return 256
	default:
		return 0
	}
}
