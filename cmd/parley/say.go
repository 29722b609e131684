package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/pkg/schema"
	"github.com/teslashibe/go-parley/pkg/tts"
)

func newSayCmd(opts *rootOptions) *cobra.Command {
	var (
		skipConfirm bool
		speak       bool
		noRuns      bool
	)

	cmd := &cobra.Command{
		Use:   "say <text...>",
		Short: "Run one typed utterance through the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg

			var po pipelineOptions
			po.noRuns = noRuns
			var speaker tts.Speaker
			if speak {
				speaker = newSpeaker(cfg)
				po.speak = func(ctx context.Context, text string) error {
					return speaker.Speak(ctx, text, tts.ModeFull)
				}
			}

			p, err := buildPipeline(cfg, po)
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			res, err := p.engine.ProcessText(ctx, strings.Join(args, " "), skipConfirm)
			if err != nil {
				return err
			}
			printResult(cmd, res)

			if speaker != nil && res.ResponseText != "" {
				if err := speaker.Speak(ctx, res.ResponseText, tts.ModeShort); err != nil {
					p.logger.Warn("speak response failed", "error", err)
				}
			}
			if res.Error != "" {
				return fmt.Errorf("run %s: %s", res.RunID, res.Error)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&skipConfirm, "yes", "y", false, "skip the confirmation step")
	f.BoolVar(&speak, "speak", false, "speak prompts and the response")
	f.BoolVar(&noRuns, "no-runs", false, "do not persist the run")
	return cmd
}

func printResult(cmd *cobra.Command, res *schema.EngineResult) {
	out := cmd.OutOrStdout()
	if res.ResponseText != "" {
		fmt.Fprintln(out, res.ResponseText)
	}
	if res.Metrics != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "[%s] route=%s latency=%dms chars=%d/%d\n",
			res.RunID, res.Route, res.Metrics.LatencyMs, res.Metrics.CharsIn, res.Metrics.CharsOut)
	}
}
