// Command parley runs the voice command pipeline: an HTTP service, a
// microphone loop and a few maintenance tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/internal/log"
)

// version is set at build time.
var version = "dev"

type rootOptions struct {
	configPath string
	profile    string
	envFile    string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "parley",
		Short:         "Voice command pipeline for desktop assistants",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.Options{
				Path:    opts.configPath,
				Profile: opts.profile,
				EnvFile: opts.envFile,
			})
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			if opts.logFormat != "" {
				cfg.Log.Format = opts.logFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log.Init(cfg.Log.Level, cfg.Log.Format)
			opts.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file (default ./parley.yaml or ~/.parley/config.yaml)")
	pf.StringVarP(&opts.profile, "profile", "p", "", "configuration profile: gui, simple or offline")
	pf.StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before the config (default .env)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: pretty, text or json")

	root.AddCommand(
		newServeCmd(opts),
		newSayCmd(opts),
		newListenCmd(opts),
		newRunsCmd(opts),
		newCheckCmd(opts),
		newTailCmd(opts),
	)
	return root
}
