package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/forPelevin/autodub/internal/types"
)

const (
	trackSampleRate = 44100
	cloneSampleRate = 22050

	// atempo accepts factors in [0.5, 2.0] per filter instance.
	atempoMin = 0.5
	atempoMax = 2.0
)

type Adapter struct {
	ffmpeg  string
	ffprobe string
}

func New(ffmpegPath, ffprobePath string) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

func (a *Adapter) ExtractAudio(ctx context.Context, inVideo, outWav string, sampleRate, channels int) error {
	if sampleRate <= 0 {
		sampleRate = trackSampleRate
	}
	if channels <= 0 {
		channels = 2
	}
	return a.run(ctx, "extract audio",
		"-y",
		"-i", inVideo,
		"-vn",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-f", "wav",
		outWav,
	)
}

func (a *Adapter) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w\n%s", err, string(b))
	}
	s := strings.TrimSpace(string(b))
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return time.Duration(sec * float64(time.Second)), nil
}

// Duration lets the adapter serve as a ports.DurationProber.
func (a *Adapter) Duration(ctx context.Context, path string) (time.Duration, error) {
	return a.ProbeDuration(ctx, path)
}

// RenderTrack lays every clip onto a silent track of the given length,
// sped up by its rate and delayed to its start.
func (a *Adapter) RenderTrack(ctx context.Context, clips []types.TrackClip, total time.Duration, outWav string) error {
	if total <= 0 {
		return errors.New("ffmpeg render track: total duration must be > 0")
	}
	return a.run(ctx, "render track", trackArgs(clips, total, outWav)...)
}

func trackArgs(clips []types.TrackClip, total time.Duration, outWav string) []string {
	args := []string{
		"-y",
		"-f", "lavfi",
		"-t", fmtSeconds(total),
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=stereo", trackSampleRate),
	}
	for _, c := range clips {
		args = append(args, "-i", c.Path)
	}

	var fc strings.Builder
	mixIn := "[0:a]"
	for i, c := range clips {
		in := i + 1
		fmt.Fprintf(&fc, "[%d:a]", in)
		if chain := atempoChain(c.Rate); chain != "" {
			fc.WriteString(chain)
			fc.WriteString(",")
		}
		delayMS := c.Start.Milliseconds()
		if delayMS < 0 {
			delayMS = 0
		}
		fmt.Fprintf(&fc, "aresample=%d,adelay=%d:all=1[d%d];", trackSampleRate, delayMS, in)
		mixIn += fmt.Sprintf("[d%d]", in)
	}
	fmt.Fprintf(&fc, "%samix=inputs=%d:duration=first:dropout_transition=0:normalize=0[out]", mixIn, len(clips)+1)

	args = append(args,
		"-filter_complex", fc.String(),
		"-map", "[out]",
		"-ac", "2",
		"-ar", strconv.Itoa(trackSampleRate),
		"-f", "wav",
		outWav,
	)
	return args
}

// atempoChain returns the filter chain speeding audio up by rate, or ""
// when no change is needed. Rates outside atempo's range are chained.
func atempoChain(rate float64) string {
	if rate <= 0 || abs(rate-1) < 0.001 {
		return ""
	}
	var filters []string
	for rate > atempoMax {
		filters = append(filters, "atempo=2.0")
		rate /= atempoMax
	}
	for rate < atempoMin {
		filters = append(filters, "atempo=0.5")
		rate /= atempoMin
	}
	if abs(rate-1) >= 0.001 {
		filters = append(filters, "atempo="+strconv.FormatFloat(rate, 'f', 4, 64))
	}
	return strings.Join(filters, ",")
}

// ExtractBackground suppresses center-panned content (usually dialogue) by
// subtracting the channels of a stereo source. Mono sources come out silent.
func (a *Adapter) ExtractBackground(ctx context.Context, inAudio, outWav string) error {
	return a.run(ctx, "extract background",
		"-y",
		"-i", inAudio,
		"-af", "pan=stereo|c0=c0-c1|c1=c1-c0,highpass=f=40",
		"-ar", strconv.Itoa(trackSampleRate),
		"-ac", "2",
		"-f", "wav",
		outWav,
	)
}

func (a *Adapter) MixBackground(ctx context.Context, vocalsWav, backgroundWav, outWav string) error {
	return a.run(ctx, "mix background",
		"-y",
		"-i", vocalsWav,
		"-i", backgroundWav,
		"-filter_complex", "[0:a]volume=1.0[vocals];[1:a]volume=0.7[bg];[vocals][bg]amix=inputs=2:duration=longest",
		"-ar", strconv.Itoa(trackSampleRate),
		"-ac", "2",
		outWav,
	)
}

// Mux replaces the audio of inVideo. With burnASS set the subtitles are
// burned in, which needs a video re-encode.
func (a *Adapter) Mux(ctx context.Context, inVideo, audio, burnASS, outVideo string) error {
	return a.run(ctx, "mux", muxArgs(inVideo, audio, burnASS, outVideo)...)
}

func muxArgs(inVideo, audio, burnASS, outVideo string) []string {
	args := []string{
		"-y",
		"-i", inVideo,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
	}
	if burnASS != "" {
		args = append(args,
			"-vf", "subtitles="+escapeFilterPath(burnASS),
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-crf", "18",
		)
	} else {
		args = append(args, "-c:v", "copy")
	}
	args = append(args,
		"-c:a", "aac",
		"-b:a", "192k",
		outVideo,
	)
	return args
}

// ExtractSpeech cuts spans out of inMedia and joins them into one mono MP3,
// the sample format voice cloning expects.
func (a *Adapter) ExtractSpeech(ctx context.Context, inMedia string, spans []types.Segment, outMP3 string) error {
	if len(spans) == 0 {
		return errors.New("ffmpeg extract speech: no spans")
	}
	return a.run(ctx, "extract speech", speechArgs(inMedia, spans, outMP3)...)
}

func speechArgs(inMedia string, spans []types.Segment, outMP3 string) []string {
	var fc strings.Builder
	concatIn := ""
	for i, s := range spans {
		fmt.Fprintf(&fc, "[0:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS[s%d];",
			fmtSec(s.Start), fmtSec(s.End), i)
		concatIn += fmt.Sprintf("[s%d]", i)
	}
	fmt.Fprintf(&fc, "%sconcat=n=%d:v=0:a=1[out]", concatIn, len(spans))

	return []string{
		"-y",
		"-i", inMedia,
		"-vn",
		"-filter_complex", fc.String(),
		"-map", "[out]",
		"-ac", "1",
		"-ar", strconv.Itoa(cloneSampleRate),
		"-c:a", "libmp3lame",
		outMP3,
	}
}

func (a *Adapter) run(ctx context.Context, what string, args ...string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg %s: %w\n%s", what, err, tail(string(b), 2000))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func fmtSeconds(d time.Duration) string {
	sec := float64(d) / float64(time.Second)
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func fmtSec(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "\\\\")
	p = strings.ReplaceAll(p, ":", "\\:")
	p = strings.ReplaceAll(p, "'", "\\'")
	return p
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
