package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/stt"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and probe backends and tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			out := cmd.OutOrStdout()
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			profile := cfg.Profile
			if profile == "" {
				profile = "default"
			}
			fmt.Fprintf(out, "config   ok (profile %s)\n", profile)

			failed := 0
			report := func(name string, ok bool, detail string) {
				mark := "ok"
				if !ok {
					mark = "MISSING"
					failed++
				}
				fmt.Fprintf(out, "%-8s %-7s %s\n", name, mark, detail)
			}

			gw, err := buildGateway(cfg, events.New(), nil)
			if err != nil {
				return err
			}
			for _, st := range gw.Status(ctx) {
				report("provider", st.Available, st.Name)
			}

			if cfg.Refiner.Enabled {
				ref := inference.NewOllama(cfg.Refiner.URL, cfg.Refiner.Model)
				report("refiner", ref.IsAvailable(ctx), ref.Name())
			}

			if w, err := stt.NewWhisperCLI(cfg.STT, nil); err != nil {
				report("stt", false, err.Error())
			} else {
				report("stt", w.Available(), w.Name())
			}

			speaker := newSpeaker(cfg)
			report("tts", speaker.Available(), speaker.Name())

			backends := audioio.AvailableBackends()
			report("audio", len(backends) > 1, fmt.Sprint(backends))

			printRuntime(out, cfg.API.Addr, cfg.Runs.Dir)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall probe timeout")
	return cmd
}

func printRuntime(out io.Writer, addr, runsDir string) {
	fmt.Fprintf(out, "api      %s\n", addr)
	fmt.Fprintf(out, "runs     %s\n", runsDir)
}
