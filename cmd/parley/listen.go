package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/capture"
	"github.com/teslashibe/go-parley/pkg/interrupt"
	"github.com/teslashibe/go-parley/pkg/stt"
	"github.com/teslashibe/go-parley/pkg/tts"
	"github.com/teslashibe/go-parley/pkg/vad"
)

func newSpeaker(cfg *config.Config) *tts.ExecSpeaker {
	t := cfg.TTS
	opts := []tts.Option{
		tts.WithBinary(t.Binary),
		tts.WithVoice(t.Voice),
		tts.WithRate(t.Rate),
		tts.WithTimeout(t.Timeout),
	}
	if len(t.Args) > 0 {
		opts = append(opts, tts.WithArgs(t.Args...))
	}
	return tts.NewExec(opts...)
}

func newListenCmd(opts *rootOptions) *cobra.Command {
	var (
		continuous bool
		mute       bool
		wavPath    string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Voice loop: record, transcribe, confirm, answer with barge-in",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg

			transcriber, err := stt.NewWhisperCLI(cfg.STT, nil)
			if err != nil {
				return err
			}
			if wavPath != "" {
				return processWAV(cmd, opts, transcriber, wavPath)
			}
			src, err := audioio.NewSource(cfg.Audio, nil)
			if err != nil {
				return err
			}
			detector, err := vad.New(cfg.VAD)
			if err != nil {
				return err
			}
			speaker := newSpeaker(cfg)

			var (
				rec  *capture.Recorder
				ctrl *interrupt.Controller
			)
			listen := func(ctx context.Context) (string, error) {
				r, err := rec.Record(ctx, "")
				if err != nil {
					return "", err
				}
				return transcriber.Transcribe(ctx, r.Samples, r.SampleRate, cfg.STT.Language)
			}
			speak := func(ctx context.Context, text string) error {
				_, err := ctrl.SpeakWithInterrupt(ctx, text, tts.ModeFull, "")
				return err
			}

			p, err := buildPipeline(cfg, pipelineOptions{
				speak:       speak,
				listen:      listen,
				transcriber: transcriber,
			})
			if err != nil {
				return err
			}
			defer p.Close()

			recOpts := []capture.Option{
				capture.WithVAD(detector),
				capture.WithEvents(p.bus),
				capture.WithLogger(p.logger),
			}
			if mute {
				recOpts = append(recOpts, capture.WithMuteCheck(capture.PactlMuted))
			}
			rec = capture.New(src, cfg.Capture, recOpts...)
			ctrl = interrupt.New(speaker, detector, interrupt.WithEvents(p.bus), interrupt.WithLogger(p.logger))

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			pumpErr := make(chan error, 1)
			go func() { pumpErr <- rec.Run(ctx) }()

			return voiceLoop(ctx, cmd, p, rec, ctrl, continuous, pumpErr)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&continuous, "continuous", false, "start the next recording right after each answer instead of waiting for Enter")
	f.BoolVar(&mute, "respect-mute", true, "skip recording while the PulseAudio source is muted")
	f.StringVar(&wavPath, "wav", "", "process a recorded WAV file instead of the microphone")
	return cmd
}

// processWAV runs one recorded utterance through the pipeline. Without a
// microphone, confirmations resolve through the API override or time out.
func processWAV(cmd *cobra.Command, opts *rootOptions, transcriber stt.Transcriber, path string) error {
	samples, rate, err := audioio.ReadWAV(path)
	if err != nil {
		return err
	}
	p, err := buildPipeline(opts.cfg, pipelineOptions{transcriber: transcriber})
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := p.engine.ProcessAudio(ctx, samples, rate)
	if err != nil {
		return err
	}
	if res.Transcript != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "> %s\n", res.Transcript)
	}
	printResult(cmd, res)
	if res.Error != "" {
		return fmt.Errorf("run %s: %s", res.RunID, res.Error)
	}
	return nil
}

func voiceLoop(ctx context.Context, cmd *cobra.Command, p *pipeline, rec *capture.Recorder, ctrl *interrupt.Controller, continuous bool, pumpErr <-chan error) error {
	stdin := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	interrupted := false

	for {
		if !continuous && !interrupted {
			fmt.Fprint(out, "Press Enter to speak (Ctrl+C to quit) ")
			if _, err := stdin.ReadString('\n'); err != nil {
				return nil
			}
		}
		interrupted = false

		select {
		case err := <-pumpErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("audio source: %w", err)
		case <-ctx.Done():
			return nil
		default:
		}

		r, err := rec.Record(ctx, "")
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, capture.ErrMuted), errors.Is(err, capture.ErrNoAudio):
			p.logger.Info("nothing recorded", "reason", err)
			continue
		case err != nil:
			return err
		}

		res, err := p.engine.ProcessAudio(ctx, r.Samples, r.SampleRate)
		if err != nil {
			p.logger.Warn("pipeline busy", "error", err)
			continue
		}
		if res.Transcript != "" {
			fmt.Fprintf(out, "> %s\n", res.Transcript)
		}
		printResult(cmd, res)
		if res.Error != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", res.Error)
		}
		if res.ResponseText == "" {
			continue
		}

		interrupted, err = ctrl.SpeakWithInterrupt(ctx, res.ResponseText, tts.ModeShort, res.RunID)
		if err != nil && ctx.Err() == nil {
			p.logger.Warn("speak failed", "error", err)
		}
		if interrupted {
			p.logger.Info("barge-in, recording again", "run_id", res.RunID)
		}
	}
}

