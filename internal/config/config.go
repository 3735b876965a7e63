// Package config loads autodub settings from defaults, an optional YAML file
// and the environment, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/forPelevin/autodub/internal/domain/align"
	"github.com/forPelevin/autodub/internal/pipeline"
)

const envPrefix = "AUTODUB"

type Providers struct {
	ASR        string `mapstructure:"asr" yaml:"asr"`
	Translator string `mapstructure:"translator" yaml:"translator"`
	TTS        string `mapstructure:"tts" yaml:"tts"`
}

type Tools struct {
	FFmpeg       string `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	FFprobe      string `mapstructure:"ffprobe" yaml:"ffprobe"`
	YtDlp        string `mapstructure:"ytdlp" yaml:"ytdlp"`
	WhisperBin   string `mapstructure:"whisper_bin" yaml:"whisper_bin"`
	WhisperModel string `mapstructure:"whisper_model" yaml:"whisper_model"`
}

type Deepgram struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	Model   string `mapstructure:"model" yaml:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

type OpenAI struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	ChatModel string `mapstructure:"chat_model" yaml:"chat_model"`
}

type OpenRouter struct {
	APIKey       string   `mapstructure:"api_key" yaml:"api_key"`
	Model        string   `mapstructure:"model" yaml:"model"`
	BaseURL      string   `mapstructure:"base_url" yaml:"base_url"`
	AllowedHosts []string `mapstructure:"allowed_hosts" yaml:"allowed_hosts"`
}

type ElevenLabs struct {
	APIKey  string   `mapstructure:"api_key" yaml:"api_key"`
	Model   string   `mapstructure:"model" yaml:"model"`
	BaseURL string   `mapstructure:"base_url" yaml:"base_url"`
	Voices  []string `mapstructure:"voices" yaml:"voices"`
}

type Server struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	MaxJobs int    `mapstructure:"max_jobs" yaml:"max_jobs"`
	// Store is "memory" or "redis".
	Store         string `mapstructure:"store" yaml:"store"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	JobTTL        string `mapstructure:"job_ttl" yaml:"job_ttl"`
}

func (s Server) TTL() (time.Duration, error) {
	if s.JobTTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.JobTTL)
	if err != nil {
		return 0, fmt.Errorf("server.job_ttl: %w", err)
	}
	return d, nil
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type Config struct {
	Language           string `mapstructure:"language" yaml:"language"`
	SourceLanguage     string `mapstructure:"source_language" yaml:"source_language"`
	OutDir             string `mapstructure:"out_dir" yaml:"out_dir"`
	CacheDir           string `mapstructure:"cache_dir" yaml:"cache_dir"`
	PreserveBackground bool   `mapstructure:"preserve_background" yaml:"preserve_background"`
	BurnSubtitles      bool   `mapstructure:"burn_subtitles" yaml:"burn_subtitles"`
	VoiceClone         bool   `mapstructure:"voice_clone" yaml:"voice_clone"`
	Concurrency        int    `mapstructure:"concurrency" yaml:"concurrency"`

	Align     align.Config `mapstructure:"align" yaml:"align"`
	Providers Providers    `mapstructure:"providers" yaml:"providers"`
	Tools     Tools        `mapstructure:"tools" yaml:"tools"`
	// Voices pins speakers to voices, e.g. cloned voice ids.
	Voices map[string]string `mapstructure:"voices" yaml:"voices"`

	Deepgram   Deepgram   `mapstructure:"deepgram" yaml:"deepgram"`
	OpenAI     OpenAI     `mapstructure:"openai" yaml:"openai"`
	OpenRouter OpenRouter `mapstructure:"openrouter" yaml:"openrouter"`
	ElevenLabs ElevenLabs `mapstructure:"elevenlabs" yaml:"elevenlabs"`

	Server Server `mapstructure:"server" yaml:"server"`
	Log    Log    `mapstructure:"log" yaml:"log"`

	// File is the config file that was merged, if any.
	File string `mapstructure:"-" yaml:"-"`
}

func Default() Config {
	return Config{
		Language:    "es",
		OutDir:      "out",
		CacheDir:    ".cache",
		Concurrency: 4,
		Align:       align.DefaultConfig(),
		Providers: Providers{
			ASR:        pipeline.ASRDeepgram,
			Translator: pipeline.TranslatorOpenAI,
			TTS:        pipeline.TTSElevenLabs,
		},
		Tools: Tools{
			FFmpeg:     "ffmpeg",
			FFprobe:    "ffprobe",
			YtDlp:      "yt-dlp",
			WhisperBin: "whisper-cli",
		},
		Deepgram:   Deepgram{Model: "nova-2"},
		OpenAI:     OpenAI{ChatModel: "gpt-4o-mini"},
		OpenRouter: OpenRouter{Model: "anthropic/claude-3.5-sonnet"},
		ElevenLabs: ElevenLabs{Model: "eleven_multilingual_v2"},
		Server: Server{
			Addr:      ":8000",
			MaxJobs:   2,
			Store:     "memory",
			RedisAddr: "localhost:6379",
			JobTTL:    "24h",
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// envAliases lets the usual provider variables fill the API keys.
var envAliases = map[string][]string{
	"deepgram.api_key":   {"AUTODUB_DEEPGRAM_API_KEY", "DEEPGRAM_API_KEY"},
	"openai.api_key":     {"AUTODUB_OPENAI_API_KEY", "OPENAI_API_KEY"},
	"openrouter.api_key": {"AUTODUB_OPENROUTER_API_KEY", "OPENROUTER_API_KEY"},
	"elevenlabs.api_key": {"AUTODUB_ELEVENLABS_API_KEY", "ELEVENLABS_API_KEY"},
	"openrouter.base_url": {
		"AUTODUB_OPENROUTER_BASE_URL", "OPENROUTER_BASE_URL",
	},
	"openrouter.allowed_hosts": {
		"AUTODUB_OPENROUTER_ALLOWED_HOSTS", "OPENROUTER_ALLOWED_HOSTS",
	},
	"tools.whisper_model": {"AUTODUB_TOOLS_WHISPER_MODEL", "WHISPER_MODEL"},
}

// Load merges defaults, the YAML file at path (or the first of config.yaml
// and config/<CONFIG_ENV>/config.yaml when path is empty) and AUTODUB_*
// environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	base, err := yaml.Marshal(Default())
	if err != nil {
		return Config{}, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	file, err := findFile(path)
	if err != nil {
		return Config{}, err
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", file, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return Config{}, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	c.File = file
	return c, nil
}

func findFile(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return path, nil
	}
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	for _, p := range []string{"config.yaml", filepath.Join("config", env, "config.yaml")} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

func (c Config) Validate() error {
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	switch c.Server.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("server.store must be memory or redis, got %q", c.Server.Store)
	}
	if c.Server.MaxJobs <= 0 {
		return errors.New("server.max_jobs must be > 0")
	}
	if _, err := c.Server.TTL(); err != nil {
		return err
	}
	return c.Align.Validate()
}

// Pipeline maps the settings onto a run of the dubbing pipeline.
func (c Config) Pipeline(source string) pipeline.Config {
	return pipeline.Config{
		Source:             source,
		Language:           c.Language,
		OutDir:             c.OutDir,
		CacheDir:           c.CacheDir,
		PreserveBackground: c.PreserveBackground,
		BurnSubtitles:      c.BurnSubtitles,
		VoiceClone:         c.VoiceClone,
		Align:              c.Align,
		Concurrency:        c.Concurrency,
		VoiceOverrides:     c.Voices,

		ASR:        c.Providers.ASR,
		Translator: c.Providers.Translator,
		TTS:        c.Providers.TTS,

		FFmpegPath:     c.Tools.FFmpeg,
		FFprobePath:    c.Tools.FFprobe,
		YtDlpPath:      c.Tools.YtDlp,
		SourceLanguage: c.SourceLanguage,

		DeepgramAPIKey:  c.Deepgram.APIKey,
		DeepgramModel:   c.Deepgram.Model,
		DeepgramBaseURL: c.Deepgram.BaseURL,

		WhisperBin:   c.Tools.WhisperBin,
		WhisperModel: c.Tools.WhisperModel,

		OpenAIAPIKey:    c.OpenAI.APIKey,
		OpenAIBaseURL:   c.OpenAI.BaseURL,
		OpenAIChatModel: c.OpenAI.ChatModel,

		OpenRouterAPIKey:       c.OpenRouter.APIKey,
		OpenRouterModel:        c.OpenRouter.Model,
		OpenRouterBaseURL:      c.OpenRouter.BaseURL,
		OpenRouterAllowedHosts: c.OpenRouter.AllowedHosts,

		ElevenLabsAPIKey:  c.ElevenLabs.APIKey,
		ElevenLabsModel:   c.ElevenLabs.Model,
		ElevenLabsBaseURL: c.ElevenLabs.BaseURL,
		ElevenLabsVoices:  c.ElevenLabs.Voices,
	}
}

const fileHeader = "# autodub configuration. Environment variables (AUTODUB_*, OPENAI_API_KEY,\n" +
	"# DEEPGRAM_API_KEY, ELEVENLABS_API_KEY, OPENROUTER_API_KEY) override these values.\n"

// WriteDefault writes the default configuration as YAML. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}
