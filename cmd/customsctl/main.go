// Command customsctl submits voyages and documents to the customs
// webservices and inspects the transaction ledger.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-customs/internal/config"
	"github.com/sirosfoundation/go-customs/internal/engine"
	"github.com/sirosfoundation/go-customs/internal/logging"
)

// app carries what the commands share. The engine is built on first use
// so that commands which need no storage or certificates start instantly.
type app struct {
	configFile string
	logLevel   string

	out    io.Writer
	errOut io.Writer

	cfg    *config.Config
	logger *slog.Logger
	eng    *engine.Engine

	// engineOptions are appended when the engine is built
	engineOptions []engine.Option
}

func (a *app) load() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := logging.New(a.errOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.cfg, a.logger = cfg, logger
	return nil
}

func (a *app) engine(ctx context.Context) (*engine.Engine, error) {
	if a.eng != nil {
		return a.eng, nil
	}
	if err := a.load(); err != nil {
		return nil, err
	}
	opts := append([]engine.Option{engine.WithLogger(a.logger)}, a.engineOptions...)
	e, err := engine.New(ctx, a.cfg, opts...)
	if err != nil {
		return nil, err
	}
	a.eng = e
	return e, nil
}

func (a *app) close(ctx context.Context) error {
	if a.eng == nil {
		return nil
	}
	err := a.eng.Close(ctx)
	a.eng = nil
	return err
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "customsctl",
		Short:         "Customs webservice integration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVar(&a.configFile, "config", os.Getenv("CUSTOMS_CONFIG"), "configuration file (YAML)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		tokenCommands(a),
		submitCommand(a),
		voyageCommand(a),
		resumeCommand(a),
		attachCommand(a),
		ledgerCommands(a),
		classifyCommand(a),
		operationsCommand(a),
		certCommands(a),
		daemonCommand(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{out: os.Stdout, errOut: os.Stderr}
	err := newRootCmd(a).ExecuteContext(ctx)
	if cerr := a.close(context.WithoutCancel(ctx)); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
