// Package engine assembles the customs engine from configuration: storage,
// the token cache, company certificates, transport, the token manager, the
// ledger and the submission pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/sirosfoundation/go-customs/internal/certstore"
	"github.com/sirosfoundation/go-customs/internal/config"
	"github.com/sirosfoundation/go-customs/internal/metrics"
	"github.com/sirosfoundation/go-customs/internal/storage"
	"github.com/sirosfoundation/go-customs/internal/storage/mongodb"
	"github.com/sirosfoundation/go-customs/internal/storage/sqlite"
	"github.com/sirosfoundation/go-customs/internal/tokencache"
	"github.com/sirosfoundation/go-customs/pkg/ledger"
	"github.com/sirosfoundation/go-customs/pkg/pipeline"
	"github.com/sirosfoundation/go-customs/pkg/reliability"
	"github.com/sirosfoundation/go-customs/pkg/response"
	"github.com/sirosfoundation/go-customs/pkg/ticket"
	"github.com/sirosfoundation/go-customs/pkg/token"
	"github.com/sirosfoundation/go-customs/pkg/transport"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

// Engine holds the wired components
type Engine struct {
	Config       *config.Config
	Store        storage.Store
	Certificates certstore.Provider
	Tokens       *token.Manager
	Ledger       *ledger.Ledger
	Pipeline     *pipeline.Pipeline
	Metrics      *metrics.Recorder
	Logger       *slog.Logger

	redis redis.UniversalClient
}

type options struct {
	logger      *slog.Logger
	store       storage.Store
	caller      transport.Caller
	credentials certstore.Provider
	timer       backoff.Timer
}

// Option customizes New
type Option func(*options)

// WithLogger sets the logger, slog.Default() otherwise
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore replaces the configured storage backend. Close closes it.
func WithStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// WithCaller replaces the HTTPS transport for both login and business calls
func WithCaller(c transport.Caller) Option {
	return func(o *options) { o.caller = c }
}

// WithCertificates replaces the configured certificate provider
func WithCertificates(p certstore.Provider) Option {
	return func(o *options) { o.credentials = p }
}

// WithRetryTimer replaces the timer between retries
func WithRetryTimer(t backoff.Timer) Option {
	return func(o *options) { o.timer = t }
}

// New wires an Engine from cfg. Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	e := &Engine{Config: cfg, Logger: o.logger}
	ok := false
	defer func() {
		if !ok {
			_ = e.Close(context.WithoutCancel(ctx))
		}
	}()

	e.Store = o.store
	if e.Store == nil {
		s, err := OpenStore(ctx, &cfg.Storage)
		if err != nil {
			return nil, err
		}
		e.Store = s
	}

	var tokens token.Store = e.Store
	if cfg.Redis.Enabled {
		e.redis = tokencache.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		cached, err := tokencache.New(e.Store, tokencache.Config{
			Redis:        e.redis,
			LocalEntries: cfg.Redis.LocalEntries,
			Logger:       o.logger,
		})
		if err != nil {
			return nil, err
		}
		tokens = cached
	}

	e.Certificates = o.credentials
	if e.Certificates == nil {
		p, err := certstore.NewProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("loading certificates: %w", err)
		}
		e.Certificates = p
	}

	caller := o.caller
	if caller == nil {
		c, err := newRouter(cfg)
		if err != nil {
			return nil, err
		}
		caller = c
	}

	if cfg.Metrics.Enabled {
		e.Metrics = metrics.NewRecorder()
	}

	tm, err := token.NewManager(token.Config{
		Store:       tokens,
		Credentials: e.Certificates,
		Signer:      newSigner(&cfg.Certificates),
		Exchanger:   ticket.NewClient(caller, o.logger.With("component", "ticket")),
		Resolver:    cfg,
		TTL:         cfg.Token.TTL,
		Location:    cfg.TokenLocation(),
		Logger:      o.logger.With("component", "token"),
		Observer:    tokenObserver(e.Metrics),
	})
	if err != nil {
		return nil, err
	}
	e.Tokens = tm

	e.Ledger = ledger.New(e.Store, ledger.WithLogger(o.logger.With("component", "ledger")))

	retry := cfg.RetryPolicy()
	retry.Timer = o.timer
	p, err := pipeline.New(pipeline.Config{
		Builder:     wire.NewBuilder(),
		Interpreter: response.NewInterpreter(o.logger.With("component", "response")),
		Caller:      caller,
		Tokens:      tm,
		Endpoints:   cfg,
		Ledger:      e.Ledger,
		Retry:       retry,
		Tracker:     reliability.NewTracker(),
		Logger:      o.logger.With("component", "pipeline"),
		Observer:    pipelineObserver(e.Metrics),
	})
	if err != nil {
		return nil, err
	}
	e.Pipeline = p

	ok = true
	return e, nil
}

// OpenStore opens the configured storage backend
func OpenStore(ctx context.Context, cfg *config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "mongodb":
		s, err := mongodb.NewStore(ctx, &mongodb.Config{URI: cfg.MongoDB.URI, Database: cfg.MongoDB.Database})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// Company resolves a configured company
func (e *Engine) Company(id string) (pipeline.Company, error) {
	return e.Config.Company(id)
}

// Close releases the storage backend, the Redis client and the
// certificate provider
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.Certificates != nil {
		errs = append(errs, e.Certificates.Close())
	}
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	if e.Store != nil {
		errs = append(errs, e.Store.Close(ctx))
	}
	return errors.Join(errs...)
}

func newSigner(cfg *config.CertificatesConfig) ticket.Signer {
	if cfg.Signer == "openssl" {
		return ticket.CommandSigner{Path: cfg.OpenSSLPath}
	}
	return ticket.CMSSigner{}
}

// The observer interfaces must stay nil rather than hold a nil *Recorder
func tokenObserver(r *metrics.Recorder) token.Observer {
	if r == nil {
		return nil
	}
	return r
}

func pipelineObserver(r *metrics.Recorder) pipeline.Observer {
	if r == nil {
		return nil
	}
	return r
}
