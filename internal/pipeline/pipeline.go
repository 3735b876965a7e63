package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/forPelevin/autodub/internal/domain/align"
	"github.com/forPelevin/autodub/internal/domain/languages"
	"github.com/forPelevin/autodub/internal/ports"
	"github.com/forPelevin/autodub/internal/ports/adapters/audioprobe"
	"github.com/forPelevin/autodub/internal/ports/adapters/deepgram"
	"github.com/forPelevin/autodub/internal/ports/adapters/elevenlabs"
	"github.com/forPelevin/autodub/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/autodub/internal/ports/adapters/openai"
	"github.com/forPelevin/autodub/internal/ports/adapters/openrouter"
	"github.com/forPelevin/autodub/internal/ports/adapters/whispercpp"
	"github.com/forPelevin/autodub/internal/ports/adapters/ytdlp"
	"github.com/forPelevin/autodub/internal/types"
	"github.com/forPelevin/autodub/internal/usecase"
)

// Provider names accepted in Config.
const (
	ASRDeepgram   = "deepgram"
	ASRWhisperCPP = "whispercpp"

	TranslatorOpenAI     = "openai"
	TranslatorOpenRouter = "openrouter"

	TTSOpenAI     = "openai"
	TTSElevenLabs = "elevenlabs"
)

type Config struct {
	// Source is a video URL or a local file.
	Source             string
	Language           string
	OutDir             string
	PreserveBackground bool
	BurnSubtitles      bool
	// VoiceClone clones speaker voices from the source (elevenlabs only).
	VoiceClone         bool
	Align              align.Config
	Concurrency        int
	VoiceOverrides     map[string]string

	Logf     func(format string, args ...any)
	Progress func(step, total int, msg string)

	// CacheDir is the base directory for intermediate artifacts.
	// If empty, defaults to ".cache".
	CacheDir string

	ASR        string
	Translator string
	TTS        string

	FFmpegPath  string
	FFprobePath string
	YtDlpPath   string

	// SourceLanguage hints the ASR; empty means auto-detect.
	SourceLanguage string

	DeepgramAPIKey  string
	DeepgramModel   string
	DeepgramBaseURL string

	WhisperBin   string
	WhisperModel string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIChatModel string

	OpenRouterAPIKey       string
	OpenRouterModel        string
	OpenRouterBaseURL      string
	OpenRouterAllowedHosts []string

	ElevenLabsAPIKey  string
	ElevenLabsModel   string
	ElevenLabsBaseURL string
	ElevenLabsVoices  []string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return errors.New("input is empty")
	}
	if !usecase.IsRemote(c.Source) {
		if _, err := os.Stat(c.Source); err != nil {
			return fmt.Errorf("stat input: %w", err)
		}
	}
	if !languages.Supported(c.Language) {
		return fmt.Errorf("unsupported language %q (supported: %s)", c.Language, strings.Join(languages.Codes(), ", "))
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency must be >= 0")
	}
	if _, err := align.New(c.Align); err != nil {
		return err
	}

	switch c.ASR {
	case ASRDeepgram:
		if c.DeepgramAPIKey == "" {
			return errors.New("deepgram api key is required")
		}
	case ASRWhisperCPP:
		if c.WhisperModel == "" {
			return errors.New("whisper model path is required")
		}
	default:
		return fmt.Errorf("unknown asr provider %q", c.ASR)
	}

	switch c.Translator {
	case TranslatorOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("openai api key is required for translation")
		}
	case TranslatorOpenRouter:
		if c.OpenRouterAPIKey == "" {
			return errors.New("openrouter api key is required")
		}
		if err := openrouter.ValidateBaseURL(c.OpenRouterBaseURL, c.OpenRouterAllowedHosts); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown translator %q", c.Translator)
	}

	switch c.TTS {
	case TTSOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("openai api key is required for speech")
		}
	case TTSElevenLabs:
		if c.ElevenLabsAPIKey == "" {
			return errors.New("elevenlabs api key is required")
		}
	default:
		return fmt.Errorf("unknown tts provider %q", c.TTS)
	}
	if c.VoiceClone && c.TTS != TTSElevenLabs {
		return errors.New("voice cloning requires the elevenlabs tts provider")
	}
	return nil
}

// Result locates the artifacts of one run.
type Result struct {
	RunDir       string
	ManifestPath string
	VideoPath    string
	Manifest     types.Manifest
}

func Run(ctx context.Context, cfg Config) (Result, error) {
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	deps, err := buildDeps(cfg)
	if err != nil {
		return Result{}, err
	}
	uc := usecase.New(deps)

	jobID := hash(cfg.Source + "|" + cfg.Language)
	baseCache := cfg.CacheDir
	if baseCache == "" {
		baseCache = ".cache"
	}
	cacheDir := filepath.Join(baseCache, "runs", jobID)
	logf("preparing workspace")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return Result{}, err
	}
	logf("cache: %s", cacheDir)

	outDir := cfg.OutDir
	if outDir == "" {
		outDir = "out"
	}
	runOutDir := buildRunOutDir(outDir, cfg.Source, time.Now().UTC())
	if err := os.MkdirAll(runOutDir, 0o755); err != nil {
		return Result{}, err
	}
	logf("output run dir: %s", runOutDir)
	logf("providers: asr=%s translator=%s tts=%s", cfg.ASR, cfg.Translator, cfg.TTS)

	res, err := uc.Run(ctx, usecase.Input{
		Source:             cfg.Source,
		Language:           cfg.Language,
		CacheDir:           cacheDir,
		OutDir:             runOutDir,
		PreserveBackground: cfg.PreserveBackground,
		BurnSubtitles:      cfg.BurnSubtitles,
		VoiceClone:         cfg.VoiceClone,
		Align:              cfg.Align,
		VoiceOverrides:     cfg.VoiceOverrides,
		Concurrency:        cfg.Concurrency,
		Progress:           cfg.Progress,
		Logf:               logf,
	})
	if err != nil {
		return Result{}, err
	}

	b, err := json.MarshalIndent(res.Manifest, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("marshal manifest: %w", err)
	}
	manifestPath := filepath.Join(runOutDir, "manifest.json")
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return Result{}, err
	}
	logf("manifest written (%d segments, %d warnings): %s",
		len(res.Manifest.Segments), len(res.Manifest.Warnings), manifestPath)

	return Result{
		RunDir:       runOutDir,
		ManifestPath: manifestPath,
		VideoPath:    filepath.Join(runOutDir, filepath.FromSlash(res.Manifest.Video)),
		Manifest:     res.Manifest,
	}, nil
}

func buildDeps(cfg Config) (usecase.Deps, error) {
	v := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath)
	deps := usecase.Deps{
		Downloader: ytdlp.New(cfg.YtDlpPath),
		Video:      v,
		Prober:     audioprobe.New(v),
	}

	switch cfg.ASR {
	case ASRDeepgram:
		deps.ASR = deepgram.New(cfg.DeepgramAPIKey, cfg.DeepgramModel, cfg.SourceLanguage, cfg.DeepgramBaseURL)
	case ASRWhisperCPP:
		deps.ASR = whispercpp.New(cfg.WhisperBin, cfg.WhisperModel, cfg.SourceLanguage)
	default:
		return usecase.Deps{}, fmt.Errorf("unknown asr provider %q", cfg.ASR)
	}

	switch cfg.Translator {
	case TranslatorOpenAI:
		deps.Translator = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIChatModel, cfg.OpenAIBaseURL)
	case TranslatorOpenRouter:
		deps.Translator = openrouter.New(cfg.OpenRouterAPIKey, cfg.OpenRouterModel, cfg.OpenRouterBaseURL)
	default:
		return usecase.Deps{}, fmt.Errorf("unknown translator %q", cfg.Translator)
	}

	switch cfg.TTS {
	case TTSOpenAI:
		deps.TTS = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIChatModel, cfg.OpenAIBaseURL)
	case TTSElevenLabs:
		el := elevenlabs.New(cfg.ElevenLabsAPIKey, cfg.ElevenLabsModel, cfg.ElevenLabsBaseURL, cfg.ElevenLabsVoices)
		deps.TTS = el
		deps.Cloner = el
	default:
		return usecase.Deps{}, fmt.Errorf("unknown tts provider %q", cfg.TTS)
	}
	return deps, nil
}

func buildRunOutDir(outRoot, source string, now time.Time) string {
	name := sourceName(source)
	name = normalizePathSegment(name)
	if name == "" {
		name = "input"
	}
	ts := now.UTC().Format("20060102-150405Z")
	runSeed := fmt.Sprintf("%s|%d", source, now.UTC().UnixNano())
	suffix := hash(runSeed)[:6]
	return filepath.Join(outRoot, fmt.Sprintf("%s-%s-%s", name, ts, suffix))
}

// sourceName picks a readable run name: the file stem for local inputs, the
// video id or last path element for URLs.
func sourceName(source string) string {
	if !usecase.IsRemote(source) {
		return strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	}
	s := source
	if i := strings.Index(s, "v="); i >= 0 {
		s = s[i+2:]
		if j := strings.IndexAny(s, "&#"); j >= 0 {
			s = s[:j]
		}
		return s
	}
	s = strings.TrimRight(strings.SplitN(s, "?", 2)[0], "/")
	return s[strings.LastIndex(s, "/")+1:]
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// ensure adapters implement ports
var _ ports.Downloader = (*ytdlp.Adapter)(nil)
var _ ports.VideoTool = (*ffmpeg.Adapter)(nil)
var _ ports.DurationProber = (*ffmpeg.Adapter)(nil)
var _ ports.DurationProber = (*audioprobe.Prober)(nil)
var _ ports.ASR = (*deepgram.Adapter)(nil)
var _ ports.ASR = (*whispercpp.Adapter)(nil)
var _ ports.Translator = (*openai.Adapter)(nil)
var _ ports.Translator = (*openrouter.Adapter)(nil)
var _ ports.Synthesizer = (*openai.Adapter)(nil)
var _ ports.Synthesizer = (*elevenlabs.Adapter)(nil)
var _ ports.VoiceCloner = (*elevenlabs.Adapter)(nil)
