package certstore

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pkcs12"

	"github.com/sirosfoundation/go-customs/pkg/ticket"
)

// FilePaths overrides the file conventions for one company
type FilePaths struct {
	Certificate string
	Key         string
	PKCS12      string
	Passphrase  string
}

// FileConfig configures a FileProvider
type FileConfig struct {
	// Dir holds {company}.p12 or the {company}.crt and {company}.key pair
	Dir string

	// Passphrase unlocks PKCS#12 bundles without a company passphrase
	Passphrase string

	Companies map[string]FilePaths
	Validator *Validator
}

// FileProvider implements Provider using files on disk
//
// A PKCS#12 bundle takes precedence over a PEM pair. The PEM certificate
// file may carry the issuing chain after the company certificate.
type FileProvider struct {
	config FileConfig

	mu    sync.RWMutex
	cache map[string]*ticket.Credentials
}

// NewFileProvider creates a new file based provider
func NewFileProvider(cfg FileConfig) (*FileProvider, error) {
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("checking certificate directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("certificate directory is not a directory: %s", cfg.Dir)
	}
	return &FileProvider{config: cfg, cache: make(map[string]*ticket.Credentials)}, nil
}

// Credentials implements Provider. Loaded credentials are cached but
// validated on every call.
func (p *FileProvider) Credentials(ctx context.Context, companyID string) (*ticket.Credentials, error) {
	p.mu.RLock()
	creds, ok := p.cache[companyID]
	p.mu.RUnlock()

	if !ok {
		var err error
		creds, err = p.load(companyID)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cache[companyID] = creds
		p.mu.Unlock()
	}

	if err := p.config.Validator.Validate(ctx, creds); err != nil {
		return nil, fmt.Errorf("company %s: %w", companyID, err)
	}
	return creds, nil
}

// Describe implements Provider
func (p *FileProvider) Describe(_ context.Context, companyID string) (*CertificateInfo, error) {
	creds, err := p.load(companyID)
	if err != nil {
		return nil, err
	}
	return describe(companyID, creds), nil
}

// Close drops cached keys
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]*ticket.Credentials)
	return nil
}

func (p *FileProvider) load(companyID string) (*ticket.Credentials, error) {
	paths := p.paths(companyID)

	if _, err := os.Stat(paths.PKCS12); err == nil {
		data, err := os.ReadFile(paths.PKCS12)
		if err != nil {
			return nil, fmt.Errorf("reading PKCS#12 bundle: %w", err)
		}
		return decodePKCS12(data, paths.Passphrase)
	}

	certPEM, err := os.ReadFile(paths.Certificate)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCertificateNotFound, companyID)
		}
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}
	certs, err := parseCertificates(certPEM)
	if err != nil {
		return nil, err
	}

	keyPEM, err := os.ReadFile(paths.Key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no key for %s", ErrCertificateNotFound, companyID)
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("parsing private key: no PEM block found")
	}
	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if err := matchKey(certs[0], key); err != nil {
		return nil, err
	}

	return &ticket.Credentials{Certificate: certs[0], PrivateKey: key, Chain: certs[1:]}, nil
}

func (p *FileProvider) paths(companyID string) FilePaths {
	paths := p.config.Companies[companyID]
	if paths.PKCS12 == "" {
		paths.PKCS12 = filepath.Join(p.config.Dir, companyID+".p12")
	}
	if paths.Certificate == "" {
		paths.Certificate = filepath.Join(p.config.Dir, companyID+".crt")
	}
	if paths.Key == "" {
		paths.Key = filepath.Join(p.config.Dir, companyID+".key")
	}
	if paths.Passphrase == "" {
		paths.Passphrase = p.config.Passphrase
	}
	return paths
}

// decodePKCS12 splits a bundle into the company certificate, its key and
// the remaining chain. The company certificate is the one matching the key.
func decodePKCS12(data []byte, passphrase string) (*ticket.Credentials, error) {
	blocks, err := pkcs12.ToPEM(data, passphrase)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) && passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		return nil, fmt.Errorf("decoding PKCS#12 bundle: %w", err)
	}

	var key crypto.Signer
	var certs []*x509.Certificate
	for _, b := range blocks {
		switch b.Type {
		case "PRIVATE KEY":
			if key, err = parsePrivateKey(b.Bytes); err != nil {
				return nil, fmt.Errorf("parsing PKCS#12 key: %w", err)
			}
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(b.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parsing PKCS#12 certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	}
	if key == nil || len(certs) == 0 {
		return nil, fmt.Errorf("%w: PKCS#12 bundle lacks a key or certificate", ErrCertificateNotFound)
	}

	creds := &ticket.Credentials{PrivateKey: key}
	for _, c := range certs {
		if creds.Certificate == nil && matchKey(c, key) == nil {
			creds.Certificate = c
			continue
		}
		creds.Chain = append(creds.Chain, c)
	}
	if creds.Certificate == nil {
		return nil, ErrKeyMismatch
	}
	return creds, nil
}

// parsePrivateKey accepts PKCS#8, PKCS#1 and SEC 1 DER. PKCS#12 bundles
// label every key "PRIVATE KEY" whatever its encoding.
func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("key is not a signer")
		}
		return signer, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key encoding")
}
