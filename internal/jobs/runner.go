package jobs

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/forPelevin/autodub/internal/pipeline"
)

// PipelineRunner runs jobs through the dubbing pipeline. base carries the
// provider settings; each job overrides the source, language and options.
// Output URLs are rooted at urlPrefix and relative to base.OutDir.
func PipelineRunner(base pipeline.Config, urlPrefix string, log logrus.FieldLogger) Runner {
	if base.OutDir == "" {
		base.OutDir = "out"
	}
	return func(ctx context.Context, j Job, progress func(step, total int, msg string)) (Output, error) {
		cfg := base
		cfg.Source = j.URL
		cfg.Language = j.Language
		cfg.PreserveBackground = j.PreserveBackground
		cfg.BurnSubtitles = j.BurnSubtitles
		cfg.VoiceClone = j.VoiceClone
		cfg.Progress = progress

		cfg.Logf = pipeline.Logf(log.WithField("job_id", j.ID))

		if err := cfg.Validate(); err != nil {
			return Output{}, err
		}
		res, err := pipeline.Run(ctx, cfg)
		if err != nil {
			return Output{}, err
		}

		out := Output{Path: res.VideoPath}
		if r, err := filepath.Rel(base.OutDir, res.VideoPath); err == nil {
			out.URL = urlPrefix + filepath.ToSlash(r)
		}
		for _, w := range res.Manifest.Warnings {
			out.Warnings = append(out.Warnings, w.Message)
		}
		for _, i := range res.Manifest.Skipped {
			out.Warnings = append(out.Warnings, fmt.Sprintf("segment %d has no dubbed audio", i))
		}
		return out, nil
	}
}
