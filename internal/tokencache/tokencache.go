// Package tokencache puts a Redis cache with an optional in-process
// TinyLFU tier in front of a durable token store.
//
// The durable store stays authoritative. Cache failures are logged and
// reads fall through to the durable store, so a Redis outage costs latency
// and never a login.
//
// Cached copies carry the usage counters from when they were cached; only
// the durable store sees every TouchToken. Invalidation deletes the shared
// Redis entry and this process's local entry. Local entries on other nodes
// live at most LocalTTL, and a cached token is never returned past its
// ExpiresAt.
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	"github.com/sirosfoundation/go-customs/pkg/token"
)

const keyPrefix = "customs:token:"

// DefaultLocalTTL bounds how long a node serves a token from process memory
const DefaultLocalTTL = 30 * time.Second

// Config configures a Store
type Config struct {
	// Redis is the shared cache. Required.
	Redis redis.UniversalClient

	// LocalEntries sizes the in-process tier; zero disables it
	LocalEntries int

	// LocalTTL defaults to DefaultLocalTTL
	LocalTTL time.Duration

	Logger *slog.Logger
}

// Store implements token.Store as a read-through cache over a durable store
type Store struct {
	durable token.Store
	cache   *cache.Cache
	logger  *slog.Logger
}

var _ token.Store = (*Store)(nil)

// New wraps durable with the cache described by cfg
func New(durable token.Store, cfg Config) (*Store, error) {
	if durable == nil {
		return nil, errors.New("tokencache: durable store is required")
	}
	if cfg.Redis == nil {
		return nil, errors.New("tokencache: redis client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := &cache.Options{Redis: cfg.Redis}
	if cfg.LocalEntries > 0 {
		ttl := cfg.LocalTTL
		if ttl <= 0 {
			ttl = DefaultLocalTTL
		}
		opts.LocalCache = cache.NewTinyLFU(cfg.LocalEntries, ttl)
	}

	return &Store{
		durable: durable,
		cache:   cache.New(opts),
		logger:  logger.With("component", "tokencache"),
	}, nil
}

// NewClient builds a Redis client for address
func NewClient(address, password string, db int) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
}

func cacheKey(key token.Key) string {
	return keyPrefix + key.String()
}

// GetToken implements token.Store
func (s *Store) GetToken(ctx context.Context, key token.Key, now time.Time) (*token.AuthToken, error) {
	var cached token.AuthToken
	err := s.cache.Get(ctx, cacheKey(key), &cached)
	switch {
	case err == nil:
		if cached.Usable(now) {
			return &cached, nil
		}
	case errors.Is(err, cache.ErrCacheMiss):
	default:
		s.logger.Warn("token cache read failed", "key", key.String(), "error", err)
	}

	tok, err := s.durable.GetToken(ctx, key, now)
	if err != nil || tok == nil {
		return tok, err
	}
	s.set(ctx, tok, now)
	return tok, nil
}

// PutToken implements token.Store
func (s *Store) PutToken(ctx context.Context, tok *token.AuthToken) error {
	if err := s.durable.PutToken(ctx, tok); err != nil {
		return err
	}
	s.set(ctx, tok, tok.IssuedAt)
	return nil
}

// TouchToken implements token.Store
func (s *Store) TouchToken(ctx context.Context, key token.Key, at time.Time) error {
	return s.durable.TouchToken(ctx, key, at)
}

// ExpireToken implements token.Store. The cache entry is dropped even when
// the durable update fails.
func (s *Store) ExpireToken(ctx context.Context, key token.Key, at time.Time) error {
	if err := s.cache.Delete(ctx, cacheKey(key)); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("token cache delete failed", "key", key.String(), "error", err)
	}
	if err := s.durable.ExpireToken(ctx, key, at); err != nil {
		return fmt.Errorf("expiring token %s: %w", key, err)
	}
	return nil
}

func (s *Store) set(ctx context.Context, tok *token.AuthToken, now time.Time) {
	ttl := tok.ExpiresAt.Sub(now)
	if ttl < time.Second {
		return
	}
	err := s.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   cacheKey(tok.Key()),
		Value: tok,
		TTL:   ttl,
	})
	if err != nil {
		s.logger.Warn("token cache write failed", "key", tok.Key().String(), "error", err)
	}
}
