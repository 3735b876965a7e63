package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/forPelevin/autodub/internal/types"
)

const (
	defaultBaseURL = "https://api.deepgram.com"
	defaultModel   = "nova-2"
	requestTimeout = 10 * time.Minute
)

type Adapter struct {
	key      string
	model    string
	language string
	baseURL  string
	client   *http.Client
}

// New builds a prerecorded-audio client. An empty or "auto" language turns
// on Deepgram's language detection.
func New(apiKey, model, language, baseURL string) *Adapter {
	if model == "" {
		model = defaultModel
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		key:      apiKey,
		model:    model,
		language: language,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

type response struct {
	Metadata struct {
		RequestID string `json:"request_id"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
		} `json:"channels"`
		Utterances []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Transcript string  `json:"transcript"`
			Speaker    int     `json:"speaker"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
			} `json:"words"`
		} `json:"utterances"`
	} `json:"results"`
}

func (a *Adapter) Transcribe(ctx context.Context, wavPath, _ string) (types.Transcript, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return types.Transcript{}, err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(), f)
	if err != nil {
		return types.Transcript{}, err
	}
	req.Header.Set("Authorization", "Token "+a.key)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.Transcript{}, fmt.Errorf("deepgram timeout (model=%s)", a.model)
		}
		return types.Transcript{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.Transcript{}, fmt.Errorf("deepgram %s: %s", resp.Status, strings.ReplaceAll(string(body), a.key, "[REDACTED]"))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram decode: %w", err)
	}
	return toTranscript(out), nil
}

func (a *Adapter) endpoint() string {
	q := url.Values{}
	q.Set("model", a.model)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("utterances", "true")
	q.Set("diarize", "true")
	if a.language == "" || a.language == "auto" {
		q.Set("detect_language", "true")
	} else {
		q.Set("language", a.language)
	}
	return a.baseURL + "/v1/listen?" + q.Encode()
}

func toTranscript(r response) types.Transcript {
	tr := types.Transcript{}
	if len(r.Results.Channels) > 0 {
		tr.Language = r.Results.Channels[0].DetectedLanguage
	}
	for _, u := range r.Results.Utterances {
		seg := types.Segment{
			Start:      u.Start,
			End:        u.End,
			Text:       strings.TrimSpace(u.Transcript),
			Speaker:    strconv.Itoa(u.Speaker),
			Confidence: u.Confidence,
		}
		for _, w := range u.Words {
			word := w.PunctuatedWord
			if word == "" {
				word = w.Word
			}
			seg.Words = append(seg.Words, types.Word{Start: w.Start, End: w.End, Word: word})
		}
		tr.Segments = append(tr.Segments, seg)
	}
	return tr
}
