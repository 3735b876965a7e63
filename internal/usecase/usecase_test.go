package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/forPelevin/autodub/internal/domain/align"
	"github.com/forPelevin/autodub/internal/types"
)

type fakeVideoTool struct {
	mu            sync.Mutex
	clips         []types.TrackClip
	total         time.Duration
	muxBurnASS    string
	muxAudio      string
	extractCalls  int
	backgroundErr error
	backgroundRun bool
	mixed         bool
	sourceDur     time.Duration
	speechSpans   [][]types.Segment
}

func (f *fakeVideoTool) ExtractAudio(_ context.Context, _, outWav string, _, _ int) error {
	f.mu.Lock()
	f.extractCalls++
	f.mu.Unlock()
	return os.WriteFile(outWav, []byte("wav"), 0o644)
}

func (f *fakeVideoTool) ProbeDuration(context.Context, string) (time.Duration, error) {
	return f.sourceDur, nil
}

func (f *fakeVideoTool) RenderTrack(_ context.Context, clips []types.TrackClip, total time.Duration, outWav string) error {
	f.clips = append([]types.TrackClip(nil), clips...)
	f.total = total
	return os.WriteFile(outWav, []byte("vocals"), 0o644)
}

func (f *fakeVideoTool) ExtractBackground(_ context.Context, _, outWav string) error {
	f.backgroundRun = true
	if f.backgroundErr != nil {
		return f.backgroundErr
	}
	return os.WriteFile(outWav, []byte("bg"), 0o644)
}

func (f *fakeVideoTool) MixBackground(_ context.Context, _, _, outWav string) error {
	f.mixed = true
	return os.WriteFile(outWav, []byte("mixed"), 0o644)
}

func (f *fakeVideoTool) Mux(_ context.Context, _, audio, burnASS, _ string) error {
	f.muxAudio = audio
	f.muxBurnASS = burnASS
	return nil
}

func (f *fakeVideoTool) ExtractSpeech(_ context.Context, _ string, spans []types.Segment, outMP3 string) error {
	f.mu.Lock()
	f.speechSpans = append(f.speechSpans, spans)
	f.mu.Unlock()
	return os.WriteFile(outMP3, []byte("sample"), 0o644)
}

type fakeASR struct {
	tr types.Transcript
}

func (f fakeASR) Transcribe(context.Context, string, string) (types.Transcript, error) {
	return f.tr, nil
}

type fakeTranslator struct{}

func (fakeTranslator) Translate(_ context.Context, segs []types.Segment, lang string) ([]string, error) {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = lang + ":" + s.Text
	}
	return out, nil
}

type fakeTTS struct {
	mu     sync.Mutex
	fail   map[string]bool
	voices map[string]string
}

func (f *fakeTTS) Voices() []string { return []string{"v1", "v2"} }

func (f *fakeTTS) Synthesize(_ context.Context, text, voice, outPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.voices == nil {
		f.voices = map[string]string{}
	}
	f.voices[text] = voice
	if f.fail[text] {
		return "", errors.New("tts quota exceeded")
	}
	p := outPath + ".wav"
	return p, os.WriteFile(p, []byte(text), 0o644)
}

// fakeProber maps the synthesized file name to a duration.
type fakeProber map[string]time.Duration

func (f fakeProber) Duration(_ context.Context, path string) (time.Duration, error) {
	d, ok := f[filepath.Base(path)]
	if !ok {
		return 0, errors.New("unknown file")
	}
	return d, nil
}

type fakeCloner struct {
	cloned  []string
	deleted []string
}

func (f *fakeCloner) CloneVoice(_ context.Context, name, samplePath string) (string, error) {
	if _, err := os.Stat(samplePath); err != nil {
		return "", err
	}
	f.cloned = append(f.cloned, name)
	return "clone-" + name, nil
}

func (f *fakeCloner) DeleteVoice(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeDownloader struct {
	got string
}

func (f *fakeDownloader) Download(_ context.Context, url, outDir string) (string, error) {
	f.got = url
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(outDir, "source.mp4")
	return p, os.WriteFile(p, []byte("mp4"), 0o644)
}

func testTranscript() types.Transcript {
	return types.Transcript{
		Language: "en",
		Segments: []types.Segment{
			{Start: 0, End: 2, Text: "hello", Speaker: "A", Confidence: 0.9},
			{Start: 2, End: 4, Text: "hi", Speaker: "B", Confidence: 0.9},
			{Start: 4, End: 6, Text: "bye", Speaker: "A", Confidence: 0.9},
			// ASR duplicate of the first segment.
			{Start: 0.001, End: 2.001, Text: "hello", Speaker: "A", Confidence: 0.5},
		},
	}
}

func testDurations() fakeProber {
	return fakeProber{
		"seg_0000.wav": 1 * time.Second,
		"seg_0001.wav": 2760 * time.Millisecond,
		"seg_0002.wav": 4 * time.Second,
	}
}

type env struct {
	video *fakeVideoTool
	tts   *fakeTTS
	uc    Usecase
	in    Input
}

func newEnv(t *testing.T) env {
	t.Helper()
	tmp := t.TempDir()
	src := filepath.Join(tmp, "in.mp4")
	if err := os.WriteFile(src, []byte("mp4"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := env{
		video: &fakeVideoTool{sourceDur: 10 * time.Second},
		tts:   &fakeTTS{},
	}
	e.uc = New(Deps{
		Downloader: &fakeDownloader{},
		Video:      e.video,
		ASR:        fakeASR{tr: testTranscript()},
		Translator: fakeTranslator{},
		TTS:        e.tts,
		Prober:     testDurations(),
	})
	e.in = Input{
		Source:   src,
		Language: "es",
		CacheDir: filepath.Join(tmp, "cache"),
		OutDir:   filepath.Join(tmp, "out"),
	}
	for _, d := range []string{e.in.CacheDir, e.in.OutDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return e
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestRun_PlacesSpeechOnTheDubbedTimeline(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	var steps []int
	e.in.Progress = func(step, total int, _ string) {
		if total != TotalSteps {
			t.Errorf("unexpected total %d", total)
		}
		steps = append(steps, step)
	}

	res, err := e.uc.Run(context.Background(), e.in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(steps) != TotalSteps || steps[0] != 1 || steps[TotalSteps-1] != TotalSteps {
		t.Fatalf("unexpected progress steps %v", steps)
	}

	m := res.Manifest
	if len(m.Segments) != 3 {
		t.Fatalf("expected duplicates removed, got %d segments", len(m.Segments))
	}
	if m.Segments[0].Translated != "es:hello" {
		t.Fatalf("unexpected translation %q", m.Segments[0].Translated)
	}

	wantStarts := []time.Duration{0, 2 * time.Second, 4300 * time.Millisecond}
	wantRates := []float64{1, 1.2, 1.5}
	if len(e.video.clips) != 3 {
		t.Fatalf("expected 3 clips, got %d", len(e.video.clips))
	}
	for i, c := range e.video.clips {
		if (c.Start - wantStarts[i]).Abs() > time.Millisecond {
			t.Fatalf("clip %d start = %v, want %v", i, c.Start, wantStarts[i])
		}
		if math.Abs(c.Rate-wantRates[i]) > 1e-3 {
			t.Fatalf("clip %d rate = %v, want %v", i, c.Rate, wantRates[i])
		}
	}
	if e.video.total != 10*time.Second {
		t.Fatalf("track must cover the source video, got %v", e.video.total)
	}

	if len(m.Warnings) != 1 || m.Warnings[0].Index != 2 || !near(m.Warnings[0].AppliedRate, 1.5) {
		t.Fatalf("expected one overrun warning on segment 2, got %+v", m.Warnings)
	}
	if !near(m.MaxDrift, 0.3) {
		t.Fatalf("unexpected max drift %v", m.MaxDrift)
	}

	// Speakers ordered by speaking time: A (4s) gets the first voice.
	if m.Voices["A"] != "v1" || m.Voices["B"] != "v2" {
		t.Fatalf("unexpected voices %v", m.Voices)
	}
	if e.tts.voices["es:bye"] != "v1" {
		t.Fatalf("segment voice not propagated: %v", e.tts.voices)
	}

	if m.Video != "dubbed_es.mp4" || m.Audio != "dubbed_audio.wav" || m.Subtitles != "subtitles.ass" {
		t.Fatalf("unexpected output paths: %+v", m)
	}
	b, err := os.ReadFile(filepath.Join(e.in.OutDir, "subtitles.ass"))
	if err != nil {
		t.Fatalf("read subtitles: %v", err)
	}
	if !strings.Contains(string(b), "es:hi") {
		t.Fatalf("expected translated text in subtitles")
	}
	if e.video.muxBurnASS != "" {
		t.Fatalf("subtitles must not be burned by default")
	}
}

func TestRun_FailedSynthesisBecomesSilence(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.tts.fail = map[string]bool{"es:hi": true}

	var mu sync.Mutex
	var logs []string
	e.in.Logf = func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		logs = append(logs, format)
	}

	res, err := e.uc.Run(context.Background(), e.in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	m := res.Manifest
	if len(m.Skipped) != 1 || m.Skipped[0] != 1 {
		t.Fatalf("expected segment 1 skipped, got %v", m.Skipped)
	}
	if m.Segments[1].EffectiveSec != 0 || m.Segments[1].GapSec != 2 {
		t.Fatalf("failed segment must be a pure gap: %+v", m.Segments[1])
	}
	if len(e.video.clips) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(e.video.clips))
	}
	found := false
	for _, l := range logs {
		if strings.Contains(l, "synthesis failed") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a synthesis warning in logs: %v", logs)
	}
}

func TestRun_OutputToggles(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		burn          bool
		background    bool
		backgroundErr error
		wantMixed     bool
	}{
		{name: "plain"},
		{name: "burn", burn: true},
		{name: "background", background: true, wantMixed: true},
		{name: "background failure falls back", background: true, backgroundErr: errors.New("mono source")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			e.video.backgroundErr = tc.backgroundErr
			e.in.BurnSubtitles = tc.burn
			e.in.PreserveBackground = tc.background

			if _, err := e.uc.Run(context.Background(), e.in); err != nil {
				t.Fatalf("run: %v", err)
			}
			if tc.burn != strings.HasSuffix(e.video.muxBurnASS, "subtitles.ass") {
				t.Fatalf("unexpected burnASS %q", e.video.muxBurnASS)
			}
			if e.video.backgroundRun != tc.background {
				t.Fatalf("background extraction ran=%v", e.video.backgroundRun)
			}
			if e.video.mixed != tc.wantMixed {
				t.Fatalf("mixed=%v, want %v", e.video.mixed, tc.wantMixed)
			}
			b, err := os.ReadFile(e.video.muxAudio)
			if err != nil {
				t.Fatalf("read muxed audio: %v", err)
			}
			want := "vocals"
			if tc.wantMixed {
				want = "mixed"
			}
			if string(b) != want {
				t.Fatalf("muxed audio = %q, want %q", b, want)
			}
		})
	}
}

func TestRun_NoSpeech(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.uc.d.ASR = fakeASR{tr: types.Transcript{Segments: []types.Segment{{Start: 1, End: 1, Text: "x"}, {Start: 0, End: 1, Text: "  "}}}}

	_, err := e.uc.Run(context.Background(), e.in)
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestRun_RemoteSourceIsDownloaded(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	dl := &fakeDownloader{}
	e.uc.d.Downloader = dl
	e.in.Source = "https://www.youtube.com/watch?v=abc"

	res, err := e.uc.Run(context.Background(), e.in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if dl.got != e.in.Source || res.Manifest.Input != e.in.Source {
		t.Fatalf("downloader not used: %q", dl.got)
	}
}

func TestRun_InvalidAlignConfig(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.in.Align = align.Config{MaxStretchTolerance: 0.5}

	if _, err := e.uc.Run(context.Background(), e.in); err == nil {
		t.Fatalf("expected config error")
	}
	if e.video.extractCalls != 0 {
		t.Fatalf("no work must happen on bad config")
	}
}

func TestIsRemote(t *testing.T) {
	cases := map[string]bool{
		"https://youtu.be/x": true,
		"HTTP://example.com": true,
		"/tmp/in.mp4":        false,
		"in.mp4":             false,
	}
	for in, want := range cases {
		if got := IsRemote(in); got != want {
			t.Fatalf("IsRemote(%q) = %v", in, got)
		}
	}
}

func TestRun_VoiceCloneOverridesPool(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	cl := &fakeCloner{}
	e.uc.d.Cloner = cl
	e.uc.d.ASR = fakeASR{tr: types.Transcript{Segments: []types.Segment{
		{Start: 0, End: 12, Text: "hello", Speaker: "A", Confidence: 0.9},
		{Start: 12, End: 14, Text: "hi", Speaker: "B", Confidence: 0.9},
		{Start: 14, End: 26, Text: "bye", Speaker: "C", Confidence: 0.9},
	}}}
	e.in.VoiceClone = true
	e.in.VoiceOverrides = map[string]string{"C": "mine"}

	res, err := e.uc.Run(context.Background(), e.in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(cl.cloned) != 1 || cl.cloned[0] != "Speaker_A_Clone" {
		t.Fatalf("only A has enough speech without an override, cloned %v", cl.cloned)
	}
	if len(e.video.speechSpans) != 1 || e.video.speechSpans[0][0].Start != 0 {
		t.Fatalf("unexpected sample spans %v", e.video.speechSpans)
	}
	want := map[string]string{"A": "clone-Speaker_A_Clone", "B": "v1", "C": "mine"}
	for spk, v := range want {
		if res.Manifest.Voices[spk] != v {
			t.Fatalf("speaker %s voice = %q, want %q (all %v)", spk, res.Manifest.Voices[spk], v, res.Manifest.Voices)
		}
	}
	if e.tts.voices["es:hello"] != "clone-Speaker_A_Clone" {
		t.Fatalf("cloned voice not used for synthesis: %v", e.tts.voices)
	}
	if len(cl.deleted) != 1 || cl.deleted[0] != "clone-Speaker_A_Clone" {
		t.Fatalf("cloned voice must be deleted after the run, deleted %v", cl.deleted)
	}
}

func TestRun_VoiceCloneWithoutClonerUsesPool(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.in.VoiceClone = true

	res, err := e.uc.Run(context.Background(), e.in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Manifest.Voices["A"] != "v1" || len(e.video.speechSpans) != 0 {
		t.Fatalf("expected pool voices, got %v", res.Manifest.Voices)
	}
}

func TestRun_CrosstalkDropIsLogged(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.uc.d.ASR = fakeASR{tr: types.Transcript{Segments: []types.Segment{
		{Start: 0, End: 2, Text: "hello", Speaker: "A", Confidence: 0.9},
		{Start: 0, End: 1, Text: "hm", Speaker: "B", Confidence: 0.9},
		{Start: 2, End: 4, Text: "hi", Speaker: "B", Confidence: 0.9},
	}}}
	var mu sync.Mutex
	var logs []string
	e.in.Logf = func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		logs = append(logs, fmt.Sprintf(format, args...))
	}

	res, err := e.uc.Run(context.Background(), e.in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Manifest.Segments) != 2 || res.Manifest.Segments[0].Text != "hello" {
		t.Fatalf("expected the longer turn kept, got %+v", res.Manifest.Segments)
	}
	found := false
	for _, l := range logs {
		if l == "warning: dropped 1 segments covered by overlapping speech" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a crosstalk warning in logs: %v", logs)
	}
}
