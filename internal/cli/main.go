package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forPelevin/autodub/internal/config"
)

// app is the state shared by subcommands once the root has loaded config.
type app struct {
	cfg config.Config
	log *logrus.Logger
}

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{log: logrus.New()}

	root := &cobra.Command{
		Use:          "autodub",
		Short:        "Dub videos into another language",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	root.PersistentFlags().String("config", "", "Config file (default: config.yaml or config/$CONFIG_ENV/config.yaml)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "Log format: text or json")

	root.AddCommand(
		newDubCmd(a),
		newAlignCmd(a),
		newServeCmd(a),
		newConfigCmd(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := configureLogger(a.log, cfg.Log, cmd.ErrOrStderr()); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a.cfg = cfg
	if cfg.File != "" {
		a.log.WithField("file", cfg.File).Debug("config loaded")
	}
	return nil
}
