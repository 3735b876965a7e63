package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forPelevin/autodub/internal/pipeline"
	"github.com/forPelevin/autodub/internal/usecase"
)

const runTimeout = 3 * time.Hour

func newDubCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dub <url|file>",
		Short: "Dub a video URL or local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.dub(cmd, args[0])
		},
	}

	// Visible flags
	cmd.Flags().String("lang", "", "Target language code (es, fr, de, ...)")
	cmd.Flags().String("out", "", "Output directory")
	cmd.Flags().Bool("preserve-background", false, "Keep music and effects under the dubbed speech")
	cmd.Flags().Bool("burn-subtitles", false, "Burn translated subtitles into the video")
	cmd.Flags().Bool("voice-clone", false, "Clone speaker voices from the source (elevenlabs)")
	cmd.Flags().Int("concurrency", 0, "Parallel speech synthesis requests")

	// Hidden tuning flags (internal)
	cmd.Flags().Float64("tolerance", 0, "Max stretch tolerance as a multiple of the slot")
	cmd.Flags().Float64("min-rate", 0, "Fastest allowed playback rate")
	_ = cmd.Flags().MarkHidden("tolerance")
	_ = cmd.Flags().MarkHidden("min-rate")
	return cmd
}

func (a *app) dub(cmd *cobra.Command, input string) error {
	source := input
	if !usecase.IsRemote(input) {
		abs, err := filepath.Abs(input)
		if err != nil {
			return err
		}
		source = abs
	}

	cfg := a.cfg.Pipeline(source)
	if err := applyDubFlags(cmd, &cfg); err != nil {
		return err
	}

	entry := a.log.WithFields(logrus.Fields{"source": input, "language": cfg.Language})
	cfg.Logf = pipeline.Logf(entry)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	res, err := pipeline.Run(ctx, cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "video: %s\n", res.VideoPath)
	fmt.Fprintf(out, "manifest: %s\n", res.ManifestPath)
	if n := len(res.Manifest.Warnings); n > 0 {
		fmt.Fprintf(out, "overrun warnings: %d (max drift %.2fs)\n", n, res.Manifest.MaxDrift)
	}
	return nil
}

// applyDubFlags overrides config values with flags set on the command line.
func applyDubFlags(cmd *cobra.Command, cfg *pipeline.Config) error {
	f := cmd.Flags()
	if f.Changed("lang") {
		cfg.Language, _ = f.GetString("lang")
	}
	if f.Changed("out") {
		cfg.OutDir, _ = f.GetString("out")
	}
	if f.Changed("preserve-background") {
		cfg.PreserveBackground, _ = f.GetBool("preserve-background")
	}
	if f.Changed("burn-subtitles") {
		cfg.BurnSubtitles, _ = f.GetBool("burn-subtitles")
	}
	if f.Changed("voice-clone") {
		cfg.VoiceClone, _ = f.GetBool("voice-clone")
	}
	if f.Changed("concurrency") {
		cfg.Concurrency, _ = f.GetInt("concurrency")
	}
	return applyAlignFlags(cmd, &cfg.Align)
}
