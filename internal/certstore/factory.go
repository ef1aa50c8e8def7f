package certstore

import (
	"fmt"

	"github.com/sirosfoundation/go-customs/internal/config"
)

// NewProvider creates a Provider based on the configuration
func NewProvider(cfg *config.Config) (Provider, error) {
	validator, err := newValidator(&cfg.Certificates)
	if err != nil {
		return nil, err
	}

	switch cfg.Certificates.Mode {
	case "pkcs11":
		return newPKCS11Provider(cfg, validator)
	case "file":
		return newFileProvider(cfg, validator)
	default:
		return nil, fmt.Errorf("unknown certificate mode: %s", cfg.Certificates.Mode)
	}
}

func newValidator(cfg *config.CertificatesConfig) (*Validator, error) {
	v := &Validator{}
	if cfg.Roots != "" {
		roots, err := LoadRoots(cfg.Roots)
		if err != nil {
			return nil, err
		}
		v.Roots = roots
	}
	if cfg.Revocation.Enabled {
		v.Revocation = NewOCSPChecker(&OCSPConfig{
			Timeout:     cfg.Revocation.Timeout,
			CRLFallback: true,
			CacheTTL:    cfg.Revocation.CacheTTL,
			Strict:      cfg.Revocation.Strict,
		})
	}
	return v, nil
}

func newPKCS11Provider(cfg *config.Config, validator *Validator) (Provider, error) {
	p11cfg := &PKCS11Config{
		ModulePath:      cfg.Certificates.PKCS11.ModulePath,
		SlotLabel:       cfg.Certificates.PKCS11.SlotLabel,
		PIN:             cfg.Certificates.PKCS11.PIN,
		KeyLabelPattern: cfg.Certificates.PKCS11.KeyLabelPattern,
		Labels:          make(map[string]string),
		Validator:       validator,
	}
	if cfg.Certificates.PKCS11.SlotID > 0 {
		slotID := cfg.Certificates.PKCS11.SlotID
		p11cfg.SlotID = &slotID
	}
	for _, co := range cfg.Companies {
		if co.KeyLabel != "" {
			p11cfg.Labels[co.ID] = co.KeyLabel
		}
	}
	return NewPKCS11Provider(p11cfg)
}

func newFileProvider(cfg *config.Config, validator *Validator) (Provider, error) {
	companies := make(map[string]FilePaths)
	for _, co := range cfg.Companies {
		companies[co.ID] = FilePaths{
			Certificate: co.Certificate,
			Key:         co.Key,
			PKCS12:      co.PKCS12,
			Passphrase:  co.Passphrase,
		}
	}
	return NewFileProvider(FileConfig{
		Dir:        cfg.Certificates.Dir,
		Passphrase: cfg.Certificates.Passphrase,
		Companies:  companies,
		Validator:  validator,
	})
}
