package ports

import (
	"context"
	"time"

	"github.com/forPelevin/autodub/internal/types"
)

type Downloader interface {
	Download(ctx context.Context, url, outDir string) (videoPath string, err error)
}

type VideoTool interface {
	ExtractAudio(ctx context.Context, inVideo, outWav string, sampleRate, channels int) error
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
	RenderTrack(ctx context.Context, clips []types.TrackClip, total time.Duration, outWav string) error
	ExtractBackground(ctx context.Context, inAudio, outWav string) error
	MixBackground(ctx context.Context, vocalsWav, backgroundWav, outWav string) error
	Mux(ctx context.Context, inVideo, audio, burnASS, outVideo string) error
	// ExtractSpeech concatenates the given spans of inMedia into one
	// mono MP3 sample.
	ExtractSpeech(ctx context.Context, inMedia string, spans []types.Segment, outMP3 string) error
}

type ASR interface {
	Transcribe(ctx context.Context, wavPath, cacheDir string) (types.Transcript, error)
}

// Translator returns one translation per input segment, in order.
type Translator interface {
	Translate(ctx context.Context, segs []types.Segment, targetLang string) ([]string, error)
}

// Synthesizer renders text with the given voice. outPath is a path without
// extension; the returned path carries the extension of the produced format.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, outPath string) (string, error)
	Voices() []string
}

// VoiceCloner creates a provider voice from a speech sample. Cloned voices
// are temporary and must be deleted once the dub is rendered.
type VoiceCloner interface {
	CloneVoice(ctx context.Context, name, samplePath string) (voiceID string, err error)
	DeleteVoice(ctx context.Context, voiceID string) error
}

type DurationProber interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}
