package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sirosfoundation/go-customs/internal/server"
)

func daemonCommand(a *app) *cobra.Command {
	var (
		interval    time.Duration
		expireAfter time.Duration
	)
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Expire abandoned transactions periodically and serve the operator API",
		Long: "Runs the expiry sweep and, when enabled, the operator API (server.address).\n" +
			"Metrics are mounted on the operator API when it runs, otherwise served on metrics.address.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			g, ctx := errgroup.WithContext(cmd.Context())

			if a.cfg.Server.Enabled {
				srvCfg := server.Config{
					Ledger:       e.Ledger,
					Store:        e.Store,
					Certificates: e.Certificates,
					OAuth2:       &a.cfg.Server.OAuth2,
					Logger:       e.Logger.With("component", "server"),
				}
				if e.Metrics != nil {
					srvCfg.Metrics = e.Metrics.Handler()
				}
				srv, err := server.New(srvCfg)
				if err != nil {
					return err
				}
				g.Go(func() error { return srv.Serve(ctx, a.cfg.Server.Address) })
			} else if e.Metrics != nil {
				g.Go(func() error {
					return e.Metrics.Serve(ctx, a.cfg.Metrics.Address, a.cfg.Metrics.Path, e.Logger)
				})
			}

			g.Go(func() error {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					expireStale(ctx, a, expireAfter)
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
				}
			})

			e.Logger.Info("daemon started", "interval", interval, "expire_after", expireAfter)
			err = g.Wait()
			e.Logger.Info("daemon stopped")
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Minute, "time between expiry sweeps")
	cmd.Flags().DurationVar(&expireAfter, "expire-after", 24*time.Hour, "expire transactions not updated for this long")
	return cmd
}

// expireStale runs one sweep. Failures are logged and retried on the next tick.
func expireStale(ctx context.Context, a *app, after time.Duration) {
	n, err := a.eng.Ledger.ExpireStale(ctx, time.Now().Add(-after))
	if err != nil {
		if ctx.Err() == nil {
			a.eng.Logger.Error("expiry sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		a.eng.Logger.Info("expired stale transactions", "count", n)
	}
}
