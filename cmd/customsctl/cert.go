package main

import (
	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-customs/internal/certstore"
)

func certCommands(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Inspect company certificates",
	}

	describeCmd := &cobra.Command{
		Use:   "describe [COMPANY...]",
		Short: "Show certificate metadata, every configured company when none is named",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			ids := args
			if len(ids) == 0 {
				for _, co := range a.cfg.Companies {
					ids = append(ids, co.ID)
				}
			}
			out := make([]*certstore.CertificateInfo, 0, len(ids))
			for _, id := range ids {
				info, err := e.Certificates.Describe(cmd.Context(), id)
				if err != nil {
					return err
				}
				out = append(out, info)
			}
			return a.print(out)
		},
	}

	cmd.AddCommand(describeCmd)
	return cmd
}
