// Command physiopipe runs the PhysioPipe WhatsApp physiotherapy assistant.
//
// "serve" answers inbound messages over HTTP (Twilio) or a direct WhatsApp
// session and sweeps due workflows on a cron schedule. "sweep" fires due
// workflows once and exits, for deployments that trigger sweeps externally.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/PhysioPipe/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand. Non-empty values override the
// environment.
type rootFlags struct {
	envFile  string
	stateDir string
	dbDSN    string
	logLevel string
}

type serveFlags struct {
	apiAddr     string
	mode        string
	policy      string
	transport   string
	qrOutput    string
	numericCode bool
	noCron      bool
}

func newRootCmd() *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:          "physiopipe",
		Short:        "WhatsApp assistant for physiotherapy patients and practitioners",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&rf.envFile, "env", "", "path to a .env file (default ./.env when present)")
	root.PersistentFlags().StringVar(&rf.stateDir, "state-dir", "", "state directory (overrides $PHYSIOPIPE_STATE_DIR)")
	root.PersistentFlags().StringVar(&rf.dbDSN, "db-dsn", "", "database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)")
	root.PersistentFlags().StringVar(&rf.logLevel, "log-level", "", "debug, info, warn or error (overrides $PHYSIOPIPE_LOG_LEVEL)")

	root.AddCommand(newServeCmd(&rf), newSweepCmd(&rf))
	return root
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	var sf serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer inbound messages and run the workflow scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup(rf, &sf)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, buildOpts{qrOutput: sf.qrOutput, numericCode: sf.numericCode, cron: !sf.noCron})
		},
	}
	cmd.Flags().StringVar(&sf.apiAddr, "api-addr", "", "HTTP listen address (overrides $PHYSIOPIPE_API_ADDR)")
	cmd.Flags().StringVar(&sf.mode, "mode", "", "agents or assistant (overrides $PHYSIOPIPE_MODE)")
	cmd.Flags().StringVar(&sf.policy, "policy", "", "assistant policy: accept-all or finance-only (overrides $PHYSIOPIPE_POLICY)")
	cmd.Flags().StringVar(&sf.transport, "transport", "", "twilio or whatsmeow (overrides $PHYSIOPIPE_TRANSPORT)")
	cmd.Flags().StringVar(&sf.qrOutput, "qr-output", "", "file to write the WhatsApp login QR code to")
	cmd.Flags().BoolVar(&sf.numericCode, "numeric-code", false, "print the raw WhatsApp login code instead of a QR code")
	cmd.Flags().BoolVar(&sf.noCron, "no-cron", false, "disable the in-process workflow sweep")
	return cmd
}

func newSweepCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fire due workflow notifications once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup(rf, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fired, err := sweepOnce(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fired %d workflow notifications\n", fired)
			return nil
		},
	}
}

// setup loads and validates configuration and installs the logger.
func setup(rf *rootFlags, sf *serveFlags) (*config.Config, func(), error) {
	cfg, err := config.Load(rf.envFile)
	if err != nil {
		return nil, nil, err
	}
	applyOverrides(cfg, rf, sf)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger, closeLog, err := config.SetupLogger(cfg.LogFile, level)
	slog.SetDefault(logger)
	if err != nil {
		slog.Warn("setup: file logging disabled", "error", err)
	}
	slog.Debug("setup: configuration loaded",
		"mode", cfg.Mode, "transport", cfg.Transport, "state_dir", cfg.StateDir,
		"database_url_set", cfg.DatabaseURL != "", "openai_key_set", cfg.OpenAIAPIKey != "", "api_addr", cfg.APIAddr)

	return cfg, func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
		}
	}, nil
}

func applyOverrides(cfg *config.Config, rf *rootFlags, sf *serveFlags) {
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	if rf != nil {
		override(&cfg.StateDir, rf.stateDir)
		override(&cfg.DatabaseURL, rf.dbDSN)
		override(&cfg.LogLevel, rf.logLevel)
	}
	if sf != nil {
		override(&cfg.APIAddr, sf.apiAddr)
		override(&cfg.Mode, sf.mode)
		override(&cfg.Policy, sf.policy)
		override(&cfg.Transport, sf.transport)
	}
}
