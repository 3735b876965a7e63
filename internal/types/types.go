package types

import "time"

// Transcript is the normalized ASR output, independent of the provider.
type Transcript struct {
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}

type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Words      []Word  `json:"words,omitempty"`
}

type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

func (s Segment) Duration() float64 { return s.End - s.Start }

// DubSegment is one speaker turn carried through translation, synthesis
// and alignment. Times are seconds on the source timeline.
type DubSegment struct {
	Start               float64 `json:"start_time" yaml:"start_time"`
	End                 float64 `json:"end_time" yaml:"end_time"`
	Speaker             string  `json:"speaker_id" yaml:"speaker_id"`
	Text                string  `json:"text,omitempty" yaml:"text,omitempty"`
	Translated          string  `json:"translated_text" yaml:"translated_text"`
	SynthesizedDuration float64 `json:"synthesized_duration" yaml:"synthesized_duration"`
	AudioPath           string  `json:"audio_path,omitempty" yaml:"audio_path,omitempty"`
	Voice               string  `json:"voice,omitempty" yaml:"voice,omitempty"`
}

// Slot is the source window the synthesized speech has to fit into.
func (s DubSegment) Slot() float64 { return s.End - s.Start }

// Placement tells the muxing stage where and how fast to play one segment.
type Placement struct {
	Index             int     `json:"index"`
	TargetStart       float64 `json:"target_start_time"`
	PlaybackRate      float64 `json:"playback_rate"`
	EffectiveDuration float64 `json:"effective_duration"`
	TrailingGap       float64 `json:"trailing_gap"`
	Drift             float64 `json:"drift"`
}

// End is where the placed audio stops, excluding the trailing gap.
func (p Placement) End() float64 { return p.TargetStart + p.EffectiveDuration }

// TrackClip is a rendered segment ready to be laid onto the output track.
type TrackClip struct {
	Path  string
	Start time.Duration
	Rate  float64
}

type Manifest struct {
	Input     string            `json:"input"`
	Language  string            `json:"language"`
	Video     string            `json:"video"`
	Audio     string            `json:"audio"`
	Subtitles string            `json:"subtitles,omitempty"`
	Voices    map[string]string `json:"voices,omitempty"`
	Segments  []ManifestSegment `json:"segments"`
	Warnings  []ManifestWarning `json:"warnings,omitempty"`
	Skipped   []int             `json:"skipped,omitempty"`
	TrackSec  float64           `json:"track_sec"`
	MaxDrift  float64           `json:"max_drift_sec"`
}

type ManifestSegment struct {
	Index        int     `json:"index"`
	Speaker      string  `json:"speaker"`
	StartSec     float64 `json:"start_sec"`
	EndSec       float64 `json:"end_sec"`
	Text         string  `json:"text"`
	Translated   string  `json:"translated"`
	Audio        string  `json:"audio,omitempty"`
	SynthSec     float64 `json:"synth_sec"`
	TargetSec    float64 `json:"target_sec"`
	PlaybackRate float64 `json:"playback_rate"`
	EffectiveSec float64 `json:"effective_sec"`
	GapSec       float64 `json:"gap_sec"`
	DriftSec     float64 `json:"drift_sec"`
}

type ManifestWarning struct {
	Index        int     `json:"index"`
	RequiredRate float64 `json:"required_rate"`
	AppliedRate  float64 `json:"applied_rate"`
	SpilloverSec float64 `json:"spillover_sec"`
	Message      string  `json:"message"`
}
