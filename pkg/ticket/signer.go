package ticket

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.mozilla.org/pkcs7"
)

var (
	ErrNoCredentials  = errors.New("certificate and private key are required")
	ErrKeyNotExported = errors.New("private key cannot be exported for external signing")
)

// Credentials is a company certificate and its private key
type Credentials struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
	Chain       []*x509.Certificate
}

// Signer produces a DER encoded CMS SignedData with data attached
type Signer interface {
	Sign(ctx context.Context, data []byte, creds *Credentials) ([]byte, error)
}

// CMSSigner signs in process with SHA-256
type CMSSigner struct{}

// Sign implements Signer
func (CMSSigner) Sign(_ context.Context, data []byte, creds *Credentials) ([]byte, error) {
	if creds == nil || creds.Certificate == nil || creds.PrivateKey == nil {
		return nil, ErrNoCredentials
	}

	sd, err := pkcs7.NewSignedData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signed data: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	if len(creds.Chain) > 0 {
		err = sd.AddSignerChain(creds.Certificate, creds.PrivateKey, creds.Chain, pkcs7.SignerInfoConfig{})
	} else {
		err = sd.AddSigner(creds.Certificate, creds.PrivateKey, pkcs7.SignerInfoConfig{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add signer: %w", err)
	}

	der, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to finish signed data: %w", err)
	}
	return der, nil
}

// CommandSigner shells out to openssl smime. The key is written to a
// private temporary directory that is removed after the call.
type CommandSigner struct {
	// Path is the openssl binary, "openssl" when empty
	Path string
}

// Sign implements Signer
func (s CommandSigner) Sign(ctx context.Context, data []byte, creds *Credentials) ([]byte, error) {
	if creds == nil || creds.Certificate == nil || creds.PrivateKey == nil {
		return nil, ErrNoCredentials
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(creds.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyNotExported, err)
	}

	dir, err := os.MkdirTemp("", "ticket-sign-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: creds.Certificate.Raw}), 0600); err != nil {
		return nil, fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key: %w", err)
	}

	path := s.Path
	if path == "" {
		path = "openssl"
	}
	cmd := exec.CommandContext(ctx, path, "smime", "-sign",
		"-signer", certPath, "-inkey", keyPath,
		"-outform", "DER", "-nodetach", "-binary", "-md", "sha256")
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("openssl smime failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
