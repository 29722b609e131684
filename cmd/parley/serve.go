package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/pkg/runs"
	"github.com/teslashibe/go-parley/pkg/web"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the /v1 HTTP API, event streams and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if addr != "" {
				cfg.API.Addr = addr
			}

			p, err := buildPipeline(cfg, pipelineOptions{})
			if err != nil {
				return err
			}
			defer p.Close()

			janitor, err := runs.NewJanitor(p.runs, cfg.Runs.PruneSchedule, cfg.Runs.Max)
			if err != nil {
				return err
			}
			janitor.Prune()
			janitor.Start()
			defer janitor.Stop()

			apiCfg := cfg.API
			apiCfg.Version = version
			srv := web.NewServer(p.engine,
				web.WithConfig(apiCfg),
				web.WithLogger(p.logger),
				web.WithGatherer(p.registry),
			)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			p.logger.Info("parley serving",
				"addr", apiCfg.Addr,
				"profile", cfg.Profile,
				"provider", p.gateway.Primary().Name(),
			)
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides api.addr)")
	return cmd
}
