package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-customs/pkg/token"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

// tokenView omits the token and sign values
type tokenView struct {
	CompanyID   string    `json:"company_id"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	UsageCount  int64     `json:"usage_count"`
}

type tokenFlags struct {
	company     string
	authority   string
	environment string
}

func (f *tokenFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.company, "company", "", "company id")
	cmd.Flags().StringVar(&f.authority, "authority", string(wire.AuthorityAR), "authority (ar or py)")
	cmd.Flags().StringVar(&f.environment, "env", "", "environment")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("env")
}

func (f *tokenFlags) service(a *app) (string, error) {
	auth := wire.Authority(f.authority)
	if auth != wire.AuthorityAR && auth != wire.AuthorityPY {
		return "", fmt.Errorf("unknown authority %q", f.authority)
	}
	return a.cfg.Service(auth), nil
}

func tokenCommands(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage authentication tokens",
	}

	var acquire tokenFlags
	acquireCmd := &cobra.Command{
		Use:   "acquire",
		Short: "Return a usable token, authenticating when none is cached",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			service, err := acquire.service(a)
			if err != nil {
				return err
			}
			tok, err := e.Tokens.Acquire(cmd.Context(), acquire.company, service, acquire.environment)
			if err != nil {
				return err
			}
			return a.print(tokenView{
				CompanyID:   tok.CompanyID,
				Service:     tok.Service,
				Environment: tok.Environment,
				IssuedAt:    tok.IssuedAt,
				ExpiresAt:   tok.ExpiresAt,
				UsageCount:  tok.UsageCount,
			})
		},
	}
	acquire.register(acquireCmd)

	var invalidate tokenFlags
	invalidateCmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Expire the cached token so the next call re-authenticates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			service, err := invalidate.service(a)
			if err != nil {
				return err
			}
			return e.Tokens.Invalidate(cmd.Context(), token.Key{
				CompanyID:   invalidate.company,
				Service:     service,
				Environment: invalidate.environment,
			})
		},
	}
	invalidate.register(invalidateCmd)

	cmd.AddCommand(acquireCmd, invalidateCmd)
	return cmd
}
