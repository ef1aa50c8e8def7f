// Package config handles configuration loading for the customs engine.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax), then selected values are
// overridden from CUSTOMS_* environment variables. This allows credentials
// such as the MongoDB URI, Redis password or PKCS#11 PIN to be injected at
// runtime.
//
// # Configuration Sections
//
//   - storage: ledger and token persistence (mongodb, sqlite or memory)
//   - redis: shared token cache
//   - certificates: company certificates (PEM/PKCS#12 files or PKCS#11)
//   - companies: the identities submissions are made for
//   - authorities: per-environment endpoints of each customs authority
//   - retry: the transport retry schedule
//   - token: validity and time zone of issued tokens
//   - transport: HTTPS client settings
//   - server: the operator HTTP API run by the daemon
//   - metrics, log: observability
//
// # Example Configuration
//
//	storage:
//	  driver: mongodb
//	  mongodb:
//	    uri: ${MONGODB_URI}
//	    database: customs
//
//	certificates:
//	  mode: file
//	  dir: /etc/customs/certs
//
//	companies:
//	  - id: acme
//	    taxId: "30712345678"
//	    agentType: ATA
//	    role: TRSP
//
//	authorities:
//	  ar:
//	    environments:
//	      testing:
//	        authEndpoint: https://wsaahomo.afip.gov.ar/ws/services/LoginCms
//	        businessEndpoint: https://wsaduhomoext.afip.gob.ar/DIAV2/wgesregsintia2/wgesregsintia2.asmx
//
// See [Load] for loading configuration from a file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-customs/pkg/pipeline"
	"github.com/sirosfoundation/go-customs/pkg/reliability"
	"github.com/sirosfoundation/go-customs/pkg/token"
	"github.com/sirosfoundation/go-customs/pkg/transport"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

// MaxTokenTTL caps the configured token validity
const MaxTokenTTL = 12 * time.Hour

// Default service names of each authority
const (
	DefaultServiceAR = "wgesregsintia2"
	DefaultServicePY = "gdsf"
)

var (
	ErrUnknownCompany     = errors.New("unknown company")
	ErrUnknownAuthority   = errors.New("unknown authority")
	ErrUnknownEnvironment = errors.New("environment not configured")
	ErrUnknownService     = errors.New("no authority serves this service")
)

// Config is the root configuration structure
type Config struct {
	Storage      StorageConfig              `yaml:"storage"`
	Redis        RedisConfig                `yaml:"redis"`
	Certificates CertificatesConfig         `yaml:"certificates"`
	Companies    []CompanyConfig            `yaml:"companies"`
	Authorities  map[string]AuthorityConfig `yaml:"authorities"`
	Retry        RetryConfig                `yaml:"retry"`
	Token        TokenConfig                `yaml:"token"`
	Transport    TransportConfig            `yaml:"transport"`
	Server       ServerConfig               `yaml:"server"`
	Metrics      MetricsConfig              `yaml:"metrics"`
	Log          LogConfig                  `yaml:"log"`
}

// StorageConfig selects the ledger and token store
type StorageConfig struct {
	// Driver is "mongodb", "sqlite" or "memory"
	Driver  string        `yaml:"driver"`
	MongoDB MongoDBConfig `yaml:"mongodb"`
	SQLite  SQLiteConfig  `yaml:"sqlite"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// SQLiteConfig holds the SQLite database location
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds Redis connection settings for the shared token cache
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// LocalEntries sizes the in-process TinyLFU tier, 0 disables it
	LocalEntries int `yaml:"localEntries"`
}

// CertificatesConfig holds company certificate settings
type CertificatesConfig struct {
	// Mode determines where company keys live
	// - "file": PEM or PKCS#12 files in Dir
	// - "pkcs11": PKCS#11 token (HSM/smart card)
	Mode string `yaml:"mode"`

	// Dir holds {company}.crt/{company}.key or {company}.p12
	Dir string `yaml:"dir"`

	// Passphrase unlocks PKCS#12 files unless a company sets its own
	Passphrase string `yaml:"passphrase"`

	PKCS11 PKCS11Config `yaml:"pkcs11"`

	// Roots is a PEM bundle company certificates must chain to. Chain
	// verification is skipped when empty.
	Roots string `yaml:"roots"`

	Revocation RevocationConfig `yaml:"revocation"`

	// Signer is "cms" (in process) or "openssl"
	Signer      string `yaml:"signer"`
	OpenSSLPath string `yaml:"opensslPath"`
}

// PKCS11Config holds PKCS#11 settings
type PKCS11Config struct {
	// Path to the PKCS#11 library (.so/.dylib/.dll)
	ModulePath string `yaml:"modulePath"`
	SlotID     uint   `yaml:"slotId"`
	SlotLabel  string `yaml:"slotLabel"`
	PIN        string `yaml:"pin"`
	// Label pattern for company keys and certificates
	KeyLabelPattern string `yaml:"keyLabelPattern"`
}

// RevocationConfig controls OCSP and CRL checks of company certificates
type RevocationConfig struct {
	Enabled bool          `yaml:"enabled"`
	Strict  bool          `yaml:"strict"`
	Timeout time.Duration `yaml:"timeout"`
	// CacheTTL bounds how long an OCSP answer or CRL is reused
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// CompanyConfig describes a company submissions are made for
type CompanyConfig struct {
	ID        string `yaml:"id"`
	TaxID     string `yaml:"taxId"`
	AgentType string `yaml:"agentType"`
	Role      string `yaml:"role"`

	// Optional overrides of the certificate store conventions
	Certificate string `yaml:"certificate"`
	Key         string `yaml:"key"`
	PKCS12      string `yaml:"pkcs12"`
	Passphrase  string `yaml:"passphrase"`
	KeyLabel    string `yaml:"keyLabel"`
}

// AuthorityConfig holds the endpoints of one customs authority
type AuthorityConfig struct {
	Service      string                       `yaml:"service"`
	Environments map[string]EnvironmentConfig `yaml:"environments"`
}

// EnvironmentConfig holds the endpoints of one environment
type EnvironmentConfig struct {
	AuthEndpoint     string `yaml:"authEndpoint"`
	BusinessEndpoint string `yaml:"businessEndpoint"`
	// InsecureSkipVerify is rejected for the production environment
	InsecureSkipVerify bool `yaml:"insecureSkipVerify"`
}

// RetryConfig holds the transport retry schedule
type RetryConfig struct {
	Intervals  []time.Duration `yaml:"intervals"`
	MaxRetries int             `yaml:"maxRetries"`
}

// TokenConfig holds token settings
type TokenConfig struct {
	TTL time.Duration `yaml:"ttl"`
	// Location is the IANA zone written into ticket requests
	Location string `yaml:"location"`
}

// TransportConfig holds HTTPS client settings
type TransportConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBytes int64         `yaml:"maxResponseBytes"`
	UserAgent        string        `yaml:"userAgent"`
}

// ServerConfig holds the operator HTTP API settings
type ServerConfig struct {
	Enabled bool         `yaml:"enabled"`
	Address string       `yaml:"address"`
	OAuth2  OAuth2Config `yaml:"oauth2"`
}

// OAuth2Config holds the JWT validation settings of the operator API.
// Authentication is disabled when Issuer is empty.
type OAuth2Config struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	JWKSUrl  string `yaml:"jwksUrl"`
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// overrides are read from CUSTOMS_* environment variables
type overrides struct {
	StorageDriver string `envconfig:"STORAGE_DRIVER"`
	MongoURI      string `envconfig:"MONGODB_URI"`
	MongoDatabase string `envconfig:"MONGODB_DATABASE"`
	SQLitePath    string `envconfig:"SQLITE_PATH"`
	RedisEnabled  *bool  `envconfig:"REDIS_ENABLED"`
	RedisAddress  string `envconfig:"REDIS_ADDRESS"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	CertDir       string `envconfig:"CERT_DIR"`
	CertPassword  string `envconfig:"CERT_PASSPHRASE"`
	PKCS11PIN     string `envconfig:"PKCS11_PIN"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	MetricsAddr   string `envconfig:"METRICS_ADDRESS"`
	ServerAddr    string `envconfig:"SERVER_ADDRESS"`
}

// Load reads configuration from a YAML file. An empty path loads defaults
// and environment overrides only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var o overrides
	if err := envconfig.Process("customs", &o); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Storage.Driver, o.StorageDriver)
	set(&c.Storage.MongoDB.URI, o.MongoURI)
	set(&c.Storage.MongoDB.Database, o.MongoDatabase)
	set(&c.Storage.SQLite.Path, o.SQLitePath)
	set(&c.Redis.Address, o.RedisAddress)
	set(&c.Redis.Password, o.RedisPassword)
	set(&c.Certificates.Dir, o.CertDir)
	set(&c.Certificates.Passphrase, o.CertPassword)
	set(&c.Certificates.PKCS11.PIN, o.PKCS11PIN)
	set(&c.Log.Level, o.LogLevel)
	set(&c.Metrics.Address, o.MetricsAddr)
	set(&c.Server.Address, o.ServerAddr)
	if o.RedisEnabled != nil {
		c.Redis.Enabled = *o.RedisEnabled
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "customs"
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = "customs.db"
	}
	if c.Redis.Address == "" {
		c.Redis.Address = "localhost:6379"
	}
	if c.Certificates.Mode == "" {
		c.Certificates.Mode = "file"
	}
	if c.Certificates.Dir == "" {
		c.Certificates.Dir = "certs"
	}
	if c.Certificates.Signer == "" {
		c.Certificates.Signer = "cms"
	}
	if c.Certificates.PKCS11.KeyLabelPattern == "" {
		c.Certificates.PKCS11.KeyLabelPattern = "company-{company-id}-signing"
	}
	if c.Certificates.Revocation.Timeout == 0 {
		c.Certificates.Revocation.Timeout = 10 * time.Second
	}
	if c.Certificates.Revocation.CacheTTL == 0 {
		c.Certificates.Revocation.CacheTTL = time.Hour
	}
	if c.Authorities == nil {
		c.Authorities = make(map[string]AuthorityConfig)
	}
	for name, def := range map[string]string{
		string(wire.AuthorityAR): DefaultServiceAR,
		string(wire.AuthorityPY): DefaultServicePY,
	} {
		a := c.Authorities[name]
		if a.Service == "" {
			a.Service = def
		}
		c.Authorities[name] = a
	}
	if len(c.Retry.Intervals) == 0 {
		c.Retry.Intervals = reliability.DefaultIntervals
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = reliability.DefaultMaxRetries
	}
	if c.Token.TTL == 0 {
		c.Token.TTL = token.DefaultTTL
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 60 * time.Second
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "mongodb":
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("storage.mongodb.uri is required when driver is 'mongodb'")
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage.driver must be 'mongodb', 'sqlite', or 'memory', got '%s'", c.Storage.Driver)
	}

	switch c.Certificates.Mode {
	case "file", "pkcs11":
	default:
		return fmt.Errorf("certificates.mode must be 'file' or 'pkcs11', got '%s'", c.Certificates.Mode)
	}
	if c.Certificates.Mode == "pkcs11" && c.Certificates.PKCS11.ModulePath == "" {
		return fmt.Errorf("certificates.pkcs11.modulePath is required when mode is 'pkcs11'")
	}
	switch c.Certificates.Signer {
	case "cms", "openssl":
	default:
		return fmt.Errorf("certificates.signer must be 'cms' or 'openssl', got '%s'", c.Certificates.Signer)
	}
	if c.Certificates.Signer == "openssl" && c.Certificates.Mode == "pkcs11" {
		return fmt.Errorf("certificates.signer 'openssl' needs key files and cannot be used with mode 'pkcs11'")
	}

	seen := make(map[string]bool)
	for i, co := range c.Companies {
		if strings.TrimSpace(co.ID) == "" {
			return fmt.Errorf("companies[%d].id is required", i)
		}
		if seen[co.ID] {
			return fmt.Errorf("company %q is declared twice", co.ID)
		}
		seen[co.ID] = true
		if strings.TrimSpace(co.TaxID) == "" {
			return fmt.Errorf("companies[%d].taxId is required", i)
		}
	}

	for name, a := range c.Authorities {
		if wire.Authority(name) != wire.AuthorityAR && wire.Authority(name) != wire.AuthorityPY {
			return fmt.Errorf("%w: %s", ErrUnknownAuthority, name)
		}
		for env, e := range a.Environments {
			if e.InsecureSkipVerify && strings.EqualFold(env, transport.ProductionEnvironment) {
				return fmt.Errorf("authorities.%s.environments.%s: %w", name, env, transport.ErrInsecureProduction)
			}
		}
	}

	if c.Token.TTL < 0 || c.Token.TTL > MaxTokenTTL {
		return fmt.Errorf("token.ttl must be between 0 and %s, got %s", MaxTokenTTL, c.Token.TTL)
	}
	if c.Token.Location != "" {
		if _, err := time.LoadLocation(c.Token.Location); err != nil {
			return fmt.Errorf("token.location: %w", err)
		}
	}
	if c.Server.OAuth2.Issuer != "" && c.Server.OAuth2.JWKSUrl == "" {
		return fmt.Errorf("server.oauth2.jwksUrl is required when an issuer is set")
	}
	for _, d := range c.Retry.Intervals {
		if d <= 0 {
			return fmt.Errorf("retry.intervals must be positive, got %s", d)
		}
	}
	return nil
}

// Company returns the pipeline identity of a configured company
func (c *Config) Company(id string) (pipeline.Company, error) {
	co, ok := c.CompanyConfig(id)
	if !ok {
		return pipeline.Company{}, fmt.Errorf("%w: %s", ErrUnknownCompany, id)
	}
	return pipeline.Company{ID: co.ID, TaxID: co.TaxID, AgentType: co.AgentType, Role: co.Role}, nil
}

// CompanyConfig looks up a company by id
func (c *Config) CompanyConfig(id string) (CompanyConfig, bool) {
	for _, co := range c.Companies {
		if co.ID == id {
			return co, true
		}
	}
	return CompanyConfig{}, false
}

// Service returns the service name of an authority
func (c *Config) Service(a wire.Authority) string {
	return c.Authorities[string(a)].Service
}

// BusinessEndpoint returns the business endpoint of an authority
func (c *Config) BusinessEndpoint(a wire.Authority, environment string) (string, error) {
	e, err := c.environment(a, environment)
	if err != nil {
		return "", err
	}
	if e.BusinessEndpoint == "" {
		return "", fmt.Errorf("%w: %s/%s has no businessEndpoint", ErrUnknownEnvironment, a, environment)
	}
	return e.BusinessEndpoint, nil
}

// AuthEndpoint returns the authentication endpoint for the authority that
// serves service
func (c *Config) AuthEndpoint(service, environment string) (string, error) {
	for name, a := range c.Authorities {
		if a.Service != service {
			continue
		}
		e, err := c.environment(wire.Authority(name), environment)
		if err != nil {
			return "", err
		}
		if e.AuthEndpoint == "" {
			return "", fmt.Errorf("%w: %s/%s has no authEndpoint", ErrUnknownEnvironment, name, environment)
		}
		return e.AuthEndpoint, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownService, service)
}

// InsecureSkipVerify reports whether any authority relaxes TLS in environment
func (c *Config) InsecureSkipVerify(environment string) bool {
	for _, a := range c.Authorities {
		if a.Environments[environment].InsecureSkipVerify {
			return true
		}
	}
	return false
}

// RetryPolicy returns the configured retry policy
func (c *Config) RetryPolicy() reliability.Policy {
	return reliability.Policy{Intervals: c.Retry.Intervals, MaxRetries: c.Retry.MaxRetries}
}

// TokenLocation returns the zone written into ticket requests
func (c *Config) TokenLocation() *time.Location {
	if c.Token.Location == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Token.Location)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) environment(a wire.Authority, environment string) (EnvironmentConfig, error) {
	auth, ok := c.Authorities[string(a)]
	if !ok {
		return EnvironmentConfig{}, fmt.Errorf("%w: %s", ErrUnknownAuthority, a)
	}
	e, ok := auth.Environments[environment]
	if !ok {
		return EnvironmentConfig{}, fmt.Errorf("%w: %s/%s", ErrUnknownEnvironment, a, environment)
	}
	return e, nil
}
