package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lbartoszcze/autolife/internal/config"
	"github.com/lbartoszcze/autolife/internal/logging"
)

var (
	// Global flags
	cfgPath  string
	logLevel string
	console  bool
	stateDir string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nudge",
	Short: "Decide whether to surface a behavioral nudge",
	Long: `nudge runs the decision pipeline: pacing gates, five analysis stages,
arbitration, the safety veto, and a content-addressed trace for every call.

Configuration is read from --config (YAML) and NUDGE_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if stateDir != "" {
			cfg.StateRoot = stateDir
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		logger, err = logging.New(cfg.LogLevel, console)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&console, "console", false, "Human-readable log output")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-root", "", "State directory (overrides config)")

	traceCmd.AddCommand(traceListCmd)
	traceCmd.AddCommand(traceShowCmd)
	traceCmd.AddCommand(traceVerifyCmd)
	stateCmd.AddCommand(stateShowCmd)
	replayCmd.AddCommand(replayRunCmd)
	replayCmd.AddCommand(replayExportCmd)

	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
