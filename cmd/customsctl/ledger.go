package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-customs/pkg/ledger"
)

// transactionDetail is a transaction with everything attached to it
type transactionDetail struct {
	*ledger.Transaction
	Steps       []ledger.StepRecord      `json:"steps,omitempty"`
	Identifiers []ledger.TrackIdentifier `json:"identifiers,omitempty"`
	Errors      []ledger.ErrorRecord     `json:"errors,omitempty"`
}

// parseSince accepts an RFC 3339 timestamp or a duration before now
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or a duration such as 24h", s)
	}
	return t, nil
}

func ledgerCommands(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the transaction ledger",
	}

	var (
		filter   ledger.Filter
		statuses []string
		since    string
		until    string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			var err error
			if filter.Since, err = parseSince(since, now); err != nil {
				return err
			}
			if filter.Until, err = parseSince(until, now); err != nil {
				return err
			}
			filter.Statuses = nil
			for _, s := range statuses {
				st := ledger.Status(s)
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter.Statuses = append(filter.Statuses, st)
			}

			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			txs, err := e.Ledger.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if txs == nil {
				txs = []*ledger.Transaction{}
			}
			return a.print(txs)
		},
	}
	listCmd.Flags().StringVar(&filter.CompanyID, "company", "", "only this company")
	listCmd.Flags().StringVar(&filter.Operation, "operation", "", "only this operation")
	listCmd.Flags().StringSliceVar(&statuses, "status", nil, "only these statuses")
	listCmd.Flags().StringVar(&since, "since", "", "created at or after (RFC 3339 or duration ago)")
	listCmd.Flags().StringVar(&until, "until", "", "created before (RFC 3339 or duration ago)")
	listCmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of transactions, 0 for all")

	showCmd := &cobra.Command{
		Use:   "show TRANSACTION",
		Short: "Show a transaction with its steps, identifiers and errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			tx, err := e.Ledger.Get(ctx, args[0])
			if err != nil {
				return err
			}
			d := transactionDetail{Transaction: tx}
			if d.Steps, err = e.Ledger.Steps(ctx, tx.ID); err != nil {
				return err
			}
			if d.Identifiers, err = e.Ledger.Identifiers(ctx, tx.ID); err != nil {
				return err
			}
			if d.Errors, err = e.Ledger.Errors(ctx, tx.ID); err != nil {
				return err
			}
			return a.print(d)
		},
	}

	var olderThan time.Duration
	expireCmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire pending and retrying transactions left untouched",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			n, err := e.Ledger.ExpireStale(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			return a.print(map[string]int{"expired": n})
		},
	}
	expireCmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "expire transactions not updated for this long")

	cmd.AddCommand(listCmd, showCmd, expireCmd)
	return cmd
}
