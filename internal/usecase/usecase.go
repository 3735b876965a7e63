package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/forPelevin/autodub/internal/domain/align"
	"github.com/forPelevin/autodub/internal/domain/segments"
	"github.com/forPelevin/autodub/internal/domain/subtitles"
	"github.com/forPelevin/autodub/internal/domain/voices"
	"github.com/forPelevin/autodub/internal/ports"
	"github.com/forPelevin/autodub/internal/types"
)

// TotalSteps is the number of progress steps reported by Run.
const TotalSteps = 9

const (
	asrSampleRate      = 16000
	defaultConcurrency = 4
)

// ErrNoSpeech is returned when the transcript has no usable segments.
var ErrNoSpeech = errors.New("no speech segments detected")

type Deps struct {
	Downloader ports.Downloader
	Video      ports.VideoTool
	ASR        ports.ASR
	Translator ports.Translator
	TTS        ports.Synthesizer
	Prober     ports.DurationProber
	// Cloner is optional; without it VoiceClone falls back to the pool.
	Cloner ports.VoiceCloner
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase { return Usecase{d: d} }

type Input struct {
	// Source is a URL handed to the downloader or a local media file.
	Source   string
	Language string
	CacheDir string
	OutDir   string

	PreserveBackground bool
	BurnSubtitles      bool

	// VoiceClone clones each speaker's voice from the source before
	// synthesis. Cloned voices are deleted when Run returns.
	VoiceClone bool

	Align          align.Config
	VoiceOverrides map[string]string
	// Concurrency bounds parallel synthesis requests.
	Concurrency int

	Progress func(step, total int, msg string)
	Logf     func(format string, args ...any)
}

type Result struct {
	Manifest  types.Manifest
	Alignment align.Alignment
}

// IsRemote reports whether src should go through the downloader.
func IsRemote(src string) bool {
	s := strings.ToLower(strings.TrimSpace(src))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func (u Usecase) Run(ctx context.Context, in Input) (Result, error) {
	logf := in.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	step := func(n int, msg string) {
		logf("[%d/%d] %s", n, TotalSteps, msg)
		if in.Progress != nil {
			in.Progress(n, TotalSteps, msg)
		}
	}

	aligner, err := align.New(in.Align)
	if err != nil {
		return Result{}, fmt.Errorf("align config: %w", err)
	}

	// 1. source
	step(1, "fetching source video")
	video, err := u.fetch(ctx, in)
	if err != nil {
		return Result{}, err
	}

	// 2. audio for ASR
	step(2, "extracting audio")
	asrWav := filepath.Join(in.CacheDir, "audio.wav")
	if err := u.d.Video.ExtractAudio(ctx, video, asrWav, asrSampleRate, 1); err != nil {
		return Result{}, err
	}

	// 3. transcript
	step(3, "transcribing")
	tr, err := u.d.ASR.Transcribe(ctx, asrWav, in.CacheDir)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: %w", err)
	}
	segs, removed := segments.Deduplicate(segments.Normalize(tr.Segments))
	if removed > 0 {
		logf("dropped %d duplicate segments", removed)
	}
	segs, covered := segments.ResolveOverlaps(segs)
	if covered > 0 {
		logf("warning: dropped %d segments covered by overlapping speech", covered)
	}
	if len(segs) == 0 {
		return Result{}, ErrNoSpeech
	}
	logf("transcript: %d segments (lang=%s)", len(segs), tr.Language)

	// 4. voices
	stats := segments.SpeakerStats(segs)
	step(4, fmt.Sprintf("assigning voices to %d speakers", len(stats)))
	overrides := in.VoiceOverrides
	if in.VoiceClone {
		cloned := u.cloneVoices(ctx, in, video, segs, stats, logf)
		defer u.deleteVoices(context.WithoutCancel(ctx), cloned, logf)
		overrides = lo.Assign(cloned, in.VoiceOverrides)
	}
	voiceMap := voices.Assign(stats, u.d.TTS.Voices(), overrides)
	for _, st := range stats {
		logf("speaker %s: %.1fs in %d segments -> voice %s", st.Speaker, st.Total, st.Segments, voiceMap[st.Speaker])
	}

	// 5. translation
	step(5, "translating to "+in.Language)
	translated, err := u.d.Translator.Translate(ctx, segs, in.Language)
	if err != nil {
		return Result{}, fmt.Errorf("translate: %w", err)
	}
	dub := segments.ToDubSegments(segs, translated)
	for i := range dub {
		dub[i].Voice = voiceMap[dub[i].Speaker]
	}

	// 6. speech
	step(6, fmt.Sprintf("synthesizing %d segments", len(dub)))
	if err := u.synthesize(ctx, in, dub, logf); err != nil {
		return Result{}, err
	}

	// 7. durations + alignment
	step(7, "aligning dubbed speech")
	skipped := u.measure(ctx, dub, logf)
	alignment, err := aligner.Align(dub)
	if err != nil {
		return Result{}, err
	}
	for _, w := range alignment.Warnings {
		logf("warning: %v", w)
	}

	// 8. track, subtitles, background
	step(8, "rendering dubbed audio track")
	audioPath, subsPath, err := u.render(ctx, in, video, dub, alignment, logf)
	if err != nil {
		return Result{}, err
	}

	// 9. mux
	step(9, "muxing final video")
	outVideo := filepath.Join(in.OutDir, "dubbed_"+in.Language+".mp4")
	burn := ""
	if in.BurnSubtitles {
		burn = subsPath
	}
	if err := u.d.Video.Mux(ctx, video, audioPath, burn, outVideo); err != nil {
		return Result{}, err
	}

	m := buildManifest(in, dub, alignment)
	m.Input = in.Source
	m.Video = rel(in.OutDir, outVideo)
	m.Audio = rel(in.OutDir, audioPath)
	m.Subtitles = rel(in.OutDir, subsPath)
	m.Voices = voiceMap
	m.Skipped = skipped
	return Result{Manifest: m, Alignment: alignment}, nil
}

func (u Usecase) fetch(ctx context.Context, in Input) (string, error) {
	if IsRemote(in.Source) {
		if u.d.Downloader == nil {
			return "", errors.New("no downloader configured for remote source")
		}
		p, err := u.d.Downloader.Download(ctx, in.Source, filepath.Join(in.CacheDir, "download"))
		if err != nil {
			return "", fmt.Errorf("download: %w", err)
		}
		return p, nil
	}
	if _, err := os.Stat(in.Source); err != nil {
		return "", fmt.Errorf("stat input: %w", err)
	}
	return in.Source, nil
}

// cloneVoices clones the voice of every speaker with enough clean speech.
// Speakers with an explicit override are left alone. Failures fall back to
// the voice pool.
func (u Usecase) cloneVoices(
	ctx context.Context,
	in Input,
	video string,
	segs []types.Segment,
	stats []segments.SpeakerStat,
	logf func(string, ...any),
) map[string]string {
	if u.d.Cloner == nil {
		logf("warning: voice cloning is not supported by the tts provider")
		return nil
	}
	dir := filepath.Join(in.CacheDir, "clone")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logf("warning: voice cloning disabled: %v", err)
		return nil
	}

	cloned := map[string]string{}
	for i, st := range stats {
		if ctx.Err() != nil {
			break
		}
		if in.VoiceOverrides[st.Speaker] != "" {
			continue
		}
		spans := voices.CloneSample(segs, st.Speaker)
		if spans == nil {
			logf("speaker %s: less than %.0fs of speech, not cloning", st.Speaker, voices.MinCloneSample)
			continue
		}
		sample := filepath.Join(dir, fmt.Sprintf("speaker_%02d.mp3", i))
		if err := u.d.Video.ExtractSpeech(ctx, video, spans, sample); err != nil {
			logf("warning: speaker %s: extract clone sample: %v", st.Speaker, err)
			continue
		}
		id, err := u.d.Cloner.CloneVoice(ctx, "Speaker_"+st.Speaker+"_Clone", sample)
		_ = os.Remove(sample)
		if err != nil {
			logf("warning: speaker %s: clone voice: %v", st.Speaker, err)
			continue
		}
		logf("speaker %s: cloned voice %s", st.Speaker, id)
		cloned[st.Speaker] = id
	}
	logf("cloned %d/%d voices", len(cloned), len(stats))
	return cloned
}

func (u Usecase) deleteVoices(ctx context.Context, cloned map[string]string, logf func(string, ...any)) {
	for _, spk := range lo.Keys(cloned) {
		if err := u.d.Cloner.DeleteVoice(ctx, cloned[spk]); err != nil {
			logf("warning: delete cloned voice %s: %v", cloned[spk], err)
		}
	}
}

// synthesize renders every segment. A failed segment keeps an empty
// AudioPath and later aligns as silence.
func (u Usecase) synthesize(ctx context.Context, in Input, dub []types.DubSegment, logf func(string, ...any)) error {
	dir := filepath.Join(in.CacheDir, "tts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	limit := in.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range dub {
		g.Go(func() error {
			out := filepath.Join(dir, fmt.Sprintf("seg_%04d", i))
			p, err := u.d.TTS.Synthesize(gctx, dub[i].Translated, dub[i].Voice, out)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logf("warning: synthesis failed for segment %d: %v", i, err)
				return nil
			}
			dub[i].AudioPath = p
			return nil
		})
	}
	return g.Wait()
}

func (u Usecase) measure(ctx context.Context, dub []types.DubSegment, logf func(string, ...any)) []int {
	var skipped []int
	for i := range dub {
		if dub[i].AudioPath == "" {
			skipped = append(skipped, i)
			continue
		}
		d, err := u.d.Prober.Duration(ctx, dub[i].AudioPath)
		if err != nil || d < 0 {
			logf("warning: cannot measure segment %d (%s): %v", i, dub[i].AudioPath, err)
			dub[i].AudioPath = ""
			skipped = append(skipped, i)
			continue
		}
		dub[i].SynthesizedDuration = d.Seconds()
	}
	return skipped
}

func (u Usecase) render(
	ctx context.Context,
	in Input,
	video string,
	dub []types.DubSegment,
	alignment align.Alignment,
	logf func(string, ...any),
) (audioPath, subsPath string, err error) {
	clips := make([]types.TrackClip, 0, len(dub))
	for _, p := range alignment.Placements {
		s := dub[p.Index]
		if s.AudioPath == "" || p.EffectiveDuration <= 0 {
			continue
		}
		clips = append(clips, types.TrackClip{
			Path:  s.AudioPath,
			Start: seconds(p.TargetStart),
			Rate:  p.PlaybackRate,
		})
	}

	total := seconds(alignment.End())
	if vd, perr := u.d.Video.ProbeDuration(ctx, video); perr == nil && vd > total {
		total = vd
	} else if perr != nil {
		logf("warning: probe source duration: %v", perr)
	}

	vocals := filepath.Join(in.CacheDir, "dub_vocals.wav")
	if err := u.d.Video.RenderTrack(ctx, clips, total, vocals); err != nil {
		return "", "", err
	}

	ass, err := subtitles.RenderDubASS(dub, alignment.Placements)
	if err != nil {
		return "", "", err
	}
	subsPath = filepath.Join(in.OutDir, "subtitles.ass")
	if err := os.WriteFile(subsPath, []byte(ass), 0o644); err != nil {
		return "", "", err
	}

	audioPath = filepath.Join(in.OutDir, "dubbed_audio.wav")
	if !in.PreserveBackground {
		return audioPath, subsPath, copyFile(vocals, audioPath)
	}
	if err := u.mixBackground(ctx, in, video, vocals, audioPath); err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		logf("warning: background mix failed, using dubbed vocals only: %v", err)
		return audioPath, subsPath, copyFile(vocals, audioPath)
	}
	return audioPath, subsPath, nil
}

func (u Usecase) mixBackground(ctx context.Context, in Input, video, vocals, out string) error {
	stereo := filepath.Join(in.CacheDir, "source_stereo.wav")
	if err := u.d.Video.ExtractAudio(ctx, video, stereo, 44100, 2); err != nil {
		return err
	}
	bg := filepath.Join(in.CacheDir, "background.wav")
	if err := u.d.Video.ExtractBackground(ctx, stereo, bg); err != nil {
		return err
	}
	return u.d.Video.MixBackground(ctx, vocals, bg, out)
}

func buildManifest(in Input, dub []types.DubSegment, a align.Alignment) types.Manifest {
	m := types.Manifest{
		Language: in.Language,
		TrackSec: round3(a.End()),
		MaxDrift: round3(a.MaxDrift()),
	}
	for _, p := range a.Placements {
		s := dub[p.Index]
		m.Segments = append(m.Segments, types.ManifestSegment{
			Index:        p.Index,
			Speaker:      s.Speaker,
			StartSec:     s.Start,
			EndSec:       s.End,
			Text:         s.Text,
			Translated:   s.Translated,
			Audio:        s.AudioPath,
			SynthSec:     round3(s.SynthesizedDuration),
			TargetSec:    round3(p.TargetStart),
			PlaybackRate: round3(p.PlaybackRate),
			EffectiveSec: round3(p.EffectiveDuration),
			GapSec:       round3(p.TrailingGap),
			DriftSec:     round3(p.Drift),
		})
	}
	for _, w := range a.Warnings {
		m.Warnings = append(m.Warnings, types.ManifestWarning{
			Index:        w.Index,
			RequiredRate: round3(w.RequiredRate),
			AppliedRate:  round3(w.AppliedRate),
			SpilloverSec: round3(w.Spillover),
			Message:      w.Error(),
		})
	}
	return m
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o644)
}

func rel(base, p string) string {
	if p == "" {
		return ""
	}
	if r, err := filepath.Rel(base, p); err == nil {
		return filepath.ToSlash(r)
	}
	return p
}

func seconds(sec float64) time.Duration { return time.Duration(sec * float64(time.Second)) }

func round3(f float64) float64 { return math.Round(f*1000) / 1000 }
