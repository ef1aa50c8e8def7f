package main

import (
	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-customs/pkg/errclass"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

func classifyCommand(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "classify [CODE...]",
		Short: "Describe error codes",
		RunE: func(_ *cobra.Command, args []string) error {
			codes := args
			if all {
				codes = errclass.Codes()
			}
			out := make([]errclass.Classification, 0, len(codes))
			for _, code := range codes {
				out = append(out, errclass.Classify(code))
			}
			return a.print(out)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every documented code")
	return cmd
}

type operationView struct {
	Name      string `json:"name"`
	Authority string `json:"authority"`
	Produces  string `json:"produces"`
}

var producesNames = map[wire.Produces]string{
	wire.ProducesAck:       "ack",
	wire.ProducesTracks:    "tracks",
	wire.ProducesReference: "reference",
}

func operationsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "List the operations accepted by submit",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ops := wire.Operations()
			out := make([]operationView, 0, len(ops))
			for _, op := range ops {
				out = append(out, operationView{
					Name:      string(op),
					Authority: string(op.Authority()),
					Produces:  producesNames[op.Produces()],
				})
			}
			return a.print(out)
		},
	}
}
