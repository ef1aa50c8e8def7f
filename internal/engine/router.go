package engine

import (
	"context"
	"time"

	"github.com/sirosfoundation/go-customs/internal/config"
	"github.com/sirosfoundation/go-customs/pkg/transport"
)

// router sends each call through the HTTPS client configured for the
// environment its endpoint belongs to. Unknown endpoints use the verifying
// client.
type router struct {
	secure   transport.Caller
	insecure transport.Caller
	relaxed  map[string]bool
}

func newRouter(cfg *config.Config) (*router, error) {
	base := httpsConfig(cfg, "")
	secure, err := transport.NewHTTPSClient(base)
	if err != nil {
		return nil, err
	}
	r := &router{secure: secure, relaxed: make(map[string]bool)}

	for _, a := range cfg.Authorities {
		for name, env := range a.Environments {
			if !env.InsecureSkipVerify {
				continue
			}
			if r.insecure == nil {
				hc := httpsConfig(cfg, name)
				hc.InsecureSkipVerify = true
				insecure, err := transport.NewHTTPSClient(hc)
				if err != nil {
					return nil, err
				}
				r.insecure = insecure
			}
			r.relaxed[env.AuthEndpoint] = true
			r.relaxed[env.BusinessEndpoint] = true
		}
	}
	delete(r.relaxed, "")
	return r, nil
}

func httpsConfig(cfg *config.Config, environment string) *transport.HTTPSConfig {
	hc := transport.DefaultHTTPSConfig()
	hc.Environment = environment
	if cfg.Transport.Timeout > 0 {
		hc.Timeout = cfg.Transport.Timeout
	}
	if cfg.Transport.MaxResponseBytes > 0 {
		hc.MaxResponseBytes = cfg.Transport.MaxResponseBytes
	}
	if cfg.Transport.UserAgent != "" {
		hc.UserAgent = cfg.Transport.UserAgent
	}
	hc.IdleConnTimeout = 90 * time.Second
	return hc
}

// Call implements transport.Caller
func (r *router) Call(ctx context.Context, req *transport.Request) ([]byte, error) {
	if r.insecure != nil && r.relaxed[req.Endpoint] {
		return r.insecure.Call(ctx, req)
	}
	return r.secure.Call(ctx, req)
}
