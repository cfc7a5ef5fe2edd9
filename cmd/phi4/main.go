package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/guru-systems/phi4-mini/internal/config"
	"github.com/guru-systems/phi4-mini/internal/logger"
)

var version = "dev"

type options struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "phi4",
		Short:         "Phi-4 Mini cognitive analysis engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger.Setup(cfg.LogLevel, cfg.LogFormat)
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "phi4.yaml", "path to the YAML config file")

	root.AddCommand(
		newAnalyzeCmd(opts),
		newParseCmd(),
		newServeCmd(opts),
		newInspectCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Log.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
