package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/forPelevin/autodub/internal/domain/align"
	"github.com/forPelevin/autodub/internal/types"
)

func newAlignCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "align <segments.json|segments.yaml>",
		Short: "Place synthesized segments on the dubbed timeline",
		Long: "Reads segments (a list, or an object with \"segments\" and an optional \"config\")\n" +
			"and prints placements and overrun warnings as JSON.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.align(cmd, args[0])
		},
	}
	cmd.Flags().Float64("tolerance", 0, "Max stretch tolerance as a multiple of the slot")
	cmd.Flags().Float64("min-rate", 0, "Fastest allowed playback rate")
	return cmd
}

type alignFile struct {
	Config   *align.Config      `yaml:"config"`
	Segments []types.DubSegment `yaml:"segments"`
}

func (a *app) align(cmd *cobra.Command, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	in, err := parseAlignFile(b)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	cfg := a.cfg.Align
	if in.Config != nil {
		cfg = *in.Config
	}
	if err := applyAlignFlags(cmd, &cfg); err != nil {
		return err
	}

	res, err := align.Align(cfg, in.Segments)
	if err != nil {
		var verr *align.ValidationError
		if errors.As(err, &verr) {
			a.log.WithField("segment", verr.Index).Error(verr.Reason)
		}
		return err
	}
	for _, w := range res.Warnings {
		a.log.WithField("segment", w.Index).Warn(w.Error())
	}

	out, err := json.MarshalIndent(struct {
		align.Alignment
		TrackEnd float64 `json:"track_end"`
		MaxDrift float64 `json:"max_drift"`
	}{res, res.End(), res.MaxDrift()}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

// parseAlignFile accepts YAML or JSON, either a bare segment list or an
// alignFile object.
func parseAlignFile(b []byte) (alignFile, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return alignFile{}, err
	}
	if len(node.Content) == 0 {
		return alignFile{}, errors.New("empty document")
	}
	var in alignFile
	if node.Content[0].Kind == yaml.SequenceNode {
		err := node.Content[0].Decode(&in.Segments)
		return in, err
	}
	err := node.Content[0].Decode(&in)
	return in, err
}

func applyAlignFlags(cmd *cobra.Command, cfg *align.Config) error {
	f := cmd.Flags()
	if f.Changed("tolerance") {
		cfg.MaxStretchTolerance, _ = f.GetFloat64("tolerance")
	}
	if f.Changed("min-rate") {
		cfg.MinPlaybackRate, _ = f.GetFloat64("min-rate")
	}
	// align.New fills zero fields with defaults before validating.
	_, err := align.New(*cfg)
	return err
}
