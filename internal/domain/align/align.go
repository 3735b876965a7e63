// Package align decides where each synthesized speech segment lands on the
// dubbed audio track and how much it has to be sped up to get there.
//
// The package never touches audio. It maps segments (source timing plus the
// measured duration of the rendered speech) to placements that the muxing
// stage renders. Align is a pure function and safe for concurrent use.
package align

import (
	"fmt"
	"math"

	"github.com/forPelevin/autodub/internal/types"
)

const (
	DefaultMaxStretchTolerance = 1.15
	DefaultMinPlaybackRate     = 1.5
)

// Config is the timing policy.
type Config struct {
	// MaxStretchTolerance is how far speech may run past its slot before it
	// gets sped up, as a multiple of the slot (1.15 = 15% overrun allowed).
	MaxStretchTolerance float64 `json:"max_stretch_tolerance" yaml:"max_stretch_tolerance" mapstructure:"max_stretch_tolerance"`
	// MinPlaybackRate is the fastest speed-up factor still considered
	// intelligible. Segments needing more are played at this rate and spill
	// into the following slot.
	MinPlaybackRate float64 `json:"min_playback_rate" yaml:"min_playback_rate" mapstructure:"min_playback_rate"`
}

func DefaultConfig() Config {
	return Config{
		MaxStretchTolerance: DefaultMaxStretchTolerance,
		MinPlaybackRate:     DefaultMinPlaybackRate,
	}
}

func (c Config) Validate() error {
	if !finite(c.MaxStretchTolerance) || c.MaxStretchTolerance < 1 {
		return fmt.Errorf("max stretch tolerance must be >= 1, got %v", c.MaxStretchTolerance)
	}
	if !finite(c.MinPlaybackRate) || c.MinPlaybackRate < 1 {
		return fmt.Errorf("min playback rate must be >= 1, got %v", c.MinPlaybackRate)
	}
	return nil
}

// withDefaults fills zero fields so a zero Config behaves like DefaultConfig.
func (c Config) withDefaults() Config {
	if c.MaxStretchTolerance == 0 {
		c.MaxStretchTolerance = DefaultMaxStretchTolerance
	}
	if c.MinPlaybackRate == 0 {
		c.MinPlaybackRate = DefaultMinPlaybackRate
	}
	return c
}

// Alignment is the result of one alignment pass: exactly one placement per
// input segment, in input order, plus the non-fatal overruns.
type Alignment struct {
	Placements []types.Placement `json:"placements"`
	Warnings   []OverrunWarning  `json:"warnings,omitempty"`
}

func (a Alignment) HasOverruns() bool { return len(a.Warnings) > 0 }

// End is the length of the dubbed track including the last trailing gap.
func (a Alignment) End() float64 {
	if len(a.Placements) == 0 {
		return 0
	}
	last := a.Placements[len(a.Placements)-1]
	return last.End() + last.TrailingGap
}

func (a Alignment) MaxDrift() float64 {
	var m float64
	for _, p := range a.Placements {
		if p.Drift > m {
			m = p.Drift
		}
	}
	return m
}

// Aligner binds a validated Config.
type Aligner struct {
	cfg Config
}

func New(cfg Config) (*Aligner, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aligner{cfg: cfg}, nil
}

func (a *Aligner) Config() Config { return a.cfg }

func (a *Aligner) Align(segs []types.DubSegment) (Alignment, error) {
	return align(a.cfg, segs)
}

// Align validates cfg and segs and computes the placements. A
// *ValidationError aborts the whole call; overruns are reported in
// Alignment.Warnings.
func Align(cfg Config, segs []types.DubSegment) (Alignment, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Alignment{}, err
	}
	return align(cfg, segs)
}

func align(cfg Config, segs []types.DubSegment) (Alignment, error) {
	if err := validate(segs); err != nil {
		return Alignment{}, err
	}

	out := Alignment{Placements: make([]types.Placement, 0, len(segs))}
	var cursor float64 // earliest time the next segment may start
	for i, s := range segs {
		slot := s.Slot()
		allowed := slot * cfg.MaxStretchTolerance

		rate := 1.0
		eff := s.SynthesizedDuration
		if s.SynthesizedDuration > allowed {
			required := s.SynthesizedDuration / allowed
			rate = required
			if required > cfg.MinPlaybackRate {
				rate = cfg.MinPlaybackRate
			}
			eff = s.SynthesizedDuration / rate
			if required > cfg.MinPlaybackRate {
				out.Warnings = append(out.Warnings, OverrunWarning{
					Index:        i,
					Speaker:      s.Speaker,
					RequiredRate: required,
					AppliedRate:  rate,
					Spillover:    eff - slot,
				})
			}
		}

		// A negative gap would mean silence of negative length; speech that
		// runs past its slot simply pushes the cursor instead.
		gap := math.Max(0, slot-eff)

		target := s.Start
		if i > 0 && cursor > target {
			target = cursor
		}
		cursor = target + eff + gap

		out.Placements = append(out.Placements, types.Placement{
			Index:             i,
			TargetStart:       target,
			PlaybackRate:      rate,
			EffectiveDuration: eff,
			TrailingGap:       gap,
			Drift:             target - s.Start,
		})
	}
	return out, nil
}

func validate(segs []types.DubSegment) error {
	if len(segs) == 0 {
		return &ValidationError{Index: -1, Reason: "no segments"}
	}
	prevStart := math.Inf(-1)
	for i, s := range segs {
		if !finite(s.Start) || !finite(s.End) || !finite(s.SynthesizedDuration) {
			return &ValidationError{Index: i, Reason: "non-finite timing"}
		}
		if s.End <= s.Start {
			return &ValidationError{Index: i, Reason: fmt.Sprintf("end %.3fs is not after start %.3fs", s.End, s.Start)}
		}
		if s.Start < prevStart {
			return &ValidationError{Index: i, Reason: fmt.Sprintf("start %.3fs is before previous start %.3fs", s.Start, prevStart)}
		}
		if s.SynthesizedDuration < 0 {
			return &ValidationError{Index: i, Reason: "negative synthesized duration"}
		}
		prevStart = s.Start
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
