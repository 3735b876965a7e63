package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/forPelevin/autodub/internal/domain/languages"
	"github.com/forPelevin/autodub/internal/types"
)

type Adapter struct {
	key       string
	model     string
	baseURL   string
	batchSize int
	client    *http.Client
}

const (
	requestTimeout   = 90 * time.Second
	defaultBatchSize = 40
)

func New(apiKey, model, baseURL string) *Adapter {
	if model == "" {
		model = "anthropic/claude-3.5-sonnet"
	}
	baseURL = normalizeBaseURL(baseURL)
	return &Adapter{
		key:       apiKey,
		model:     model,
		baseURL:   baseURL,
		batchSize: defaultBatchSize,
		client:    &http.Client{Timeout: 5 * time.Minute},
	}
}

type promptLine struct {
	Idx     int    `json:"idx"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Translate sends segments in batches and returns one string per segment.
// Lines the model drops or leaves blank keep their source text.
func (a *Adapter) Translate(ctx context.Context, segs []types.Segment, targetLang string) ([]string, error) {
	out := lo.Map(segs, func(s types.Segment, _ int) string { return s.Text })
	if len(segs) == 0 {
		return out, nil
	}
	langName := languages.Name(targetLang)

	for _, chunk := range lo.Chunk(lo.Range(len(segs)), a.batchSize) {
		lines := make([]promptLine, 0, len(chunk))
		for _, i := range chunk {
			lines = append(lines, promptLine{Idx: i, Speaker: segs[i].Speaker, Text: segs[i].Text})
		}
		got, err := a.translateBatch(ctx, lines, langName)
		if err != nil {
			return nil, err
		}
		for idx, text := range got {
			if idx < 0 || idx >= len(out) || strings.TrimSpace(text) == "" {
				continue
			}
			out[idx] = strings.TrimSpace(text)
		}
	}
	return out, nil
}

func (a *Adapter) translateBatch(ctx context.Context, lines []promptLine, langName string) (map[int]string, error) {
	pb, err := json.Marshal(map[string]any{"language": langName, "lines": lines})
	if err != nil {
		return nil, fmt.Errorf("marshal prompt: %w", err)
	}

	payload := map[string]any{
		"model":  a.model,
		"stream": false,
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": string(buildPrompt(pb))},
		},
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name": "autodub_translate",
				"schema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"translations": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"idx":  map[string]any{"type": "integer"},
									"text": map[string]any{"type": "string"},
								},
								"required": []string{"idx", "text"},
							},
						},
					},
					"required": []string{"translations"},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := a.baseURL + "/api/v1/chat/completions"

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("openrouter timeout after %s (model=%s)", requestTimeout, a.model)
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("openrouter status %d and read body failed: %v", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("openrouter status %d: %s", resp.StatusCode, truncate(redactSecrets(string(rb), a.key), 400))
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	// A malformed answer is not fatal; callers keep the source lines.
	if len(raw.Choices) == 0 {
		return nil, nil
	}
	content, err := messageContentToString(raw.Choices[0].Message.Content)
	if err != nil {
		return nil, nil
	}
	return parseTranslations(content), nil
}

func parseTranslations(content string) map[int]string {
	clean, err := extractJSONObject(content)
	if err != nil {
		return nil
	}
	var out struct {
		Translations []struct {
			Idx  int    `json:"idx"`
			Text string `json:"text"`
		} `json:"translations"`
	}
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return nil
	}
	m := make(map[int]string, len(out.Translations))
	for _, t := range out.Translations {
		m[t.Idx] = t.Text
	}
	return m
}

const systemPrompt = "You are a professional translator for video dubbing. " +
	"Translations are spoken aloud over the original timing, so keep them about as long as the source."

func buildPrompt(linesJSON []byte) []byte {
	return []byte(
		"Translate every line into the target language. " +
			"Return strictly valid JSON (no markdown, no code fences) matching the provided schema. " +
			"Keep each idx unchanged and return exactly one translation per line. " +
			"Use the surrounding lines as context so pronouns and terminology stay consistent across speakers. " +
			"Preserve meaning and tone; do not add explanations." +
			"\n\nInput JSON:\n" + string(linesJSON),
	)
}

func messageContentToString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []any:
		// Some providers return an array of {type,text} parts.
		var b strings.Builder
		for _, it := range x {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := m["text"].(string); ok {
				b.WriteString(t)
			}
		}
		s := b.String()
		if strings.TrimSpace(s) == "" {
			return "", errors.New("openrouter: empty content")
		}
		return s, nil
	default:
		return "", fmt.Errorf("openrouter: unexpected content type %T", v)
	}
}

func extractJSONObject(s string) (string, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", errors.New("openrouter: empty content")
	}

	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}

	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		return t[start : end+1], nil
	}
	return "", fmt.Errorf("openrouter: could not locate JSON object in: %q", truncate(t, 200))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
