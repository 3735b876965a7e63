package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	defaultModel   = "eleven_multilingual_v2"
	requestTimeout = 2 * time.Minute
)

// DefaultVoices is the premade voice pool, male voices first.
var DefaultVoices = []string{
	"VR6AewLTigWG4xSOukaG", // Arnold
	"pNInz6obpgDQGcFmaJgB", // Adam
	"ErXwobaYiN019PkySvjV", // Antoni
	"21m00Tcm4TlvDq8ikWAM", // Rachel
	"ThT5KcBeYPX3keUQqHPh", // Dorothy
	"AZnzlk1XvdvUeBnXmlld", // Domi
	"EXAVITQu4vr4xnSDxMaL", // Bella
	"CYw3kZ02Hs0563khs1Fj", // Dave
	"flq6f7yk4E4fJM5XTYuZ", // Michael
	"TxGEqnHWrfWFTfGW9XjX", // Josh
}

type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type Adapter struct {
	key      string
	model    string
	baseURL  string
	voices   []string
	settings VoiceSettings
	client   *http.Client
}

func New(apiKey, model, baseURL string, voices []string) *Adapter {
	if model == "" {
		model = defaultModel
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if len(voices) == 0 {
		voices = DefaultVoices
	}
	return &Adapter{
		key:     apiKey,
		model:   model,
		baseURL: baseURL,
		voices:  append([]string(nil), voices...),
		settings: VoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.8,
			UseSpeakerBoost: true,
		},
		client: &http.Client{Timeout: requestTimeout},
	}
}

func (a *Adapter) Voices() []string {
	return append([]string(nil), a.voices...)
}

// Synthesize writes MP3 speech to outPath + ".mp3".
func (a *Adapter) Synthesize(ctx context.Context, text, voice, outPath string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("elevenlabs: empty text")
	}
	if voice == "" {
		voice = a.voices[0]
	}
	body, err := json.Marshal(map[string]any{
		"text":           text,
		"model_id":       a.model,
		"voice_settings": a.settings,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := a.baseURL + "/text-to-speech/" + url.PathEscape(voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", a.key)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", a.statusErr(resp, "voice="+voice)
	}

	path := outPath + ".mp3"
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("elevenlabs write: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// CloneVoice uploads an MP3 sample and returns the id of the new voice.
func (a *Adapter) CloneVoice(ctx context.Context, name, samplePath string) (string, error) {
	f, err := os.Open(samplePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", name); err != nil {
		return "", err
	}
	if err := mw.WriteField("description", "Cloned voice for dubbing - "+name); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("files", filepath.Base(samplePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", fmt.Errorf("elevenlabs read sample: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/voices/add", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("xi-api-key", a.key)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", a.statusErr(resp, "clone "+name)
	}
	var out struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("elevenlabs decode clone response: %w", err)
	}
	if out.VoiceID == "" {
		return "", errors.New("elevenlabs: clone response has no voice_id")
	}
	return out.VoiceID, nil
}

func (a *Adapter) DeleteVoice(ctx context.Context, voiceID string) error {
	endpoint := a.baseURL + "/voices/" + url.PathEscape(voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", a.key)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return a.statusErr(resp, "delete "+voiceID)
	}
	return nil
}

// statusErr reads the start of an error body with the API key redacted.
func (a *Adapter) statusErr(resp *http.Response, what string) error {
	rb, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := string(rb)
	if a.key != "" {
		msg = strings.ReplaceAll(msg, a.key, "[REDACTED]")
	}
	return fmt.Errorf("elevenlabs status %d (%s): %s", resp.StatusCode, what, msg)
}
