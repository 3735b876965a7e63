package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forPelevin/autodub/internal/types"
)

type chatReq struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestTranslate_UsesPreviousPairAsContext(t *testing.T) {
	var mu sync.Mutex
	var reqs []chatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req chatReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()

		last := req.Messages[len(req.Messages)-1].Content
		if last == "boom" {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": " ES:" + last + " "}}},
		})
	}))
	defer srv.Close()

	a := New("k", "", srv.URL)
	got, err := a.Translate(context.Background(), []types.Segment{{Text: "hello"}, {Text: "boom"}, {Text: "bye"}, {Text: "  "}}, "es")
	require.NoError(t, err)
	assert.Equal(t, []string{"ES:hello", "boom", "ES:bye", "  "}, got)

	require.NotEmpty(t, reqs)
	assert.Equal(t, defaultChatModel, reqs[0].Model)
	assert.Contains(t, reqs[0].Messages[0].Content, "Spanish")
	assert.Len(t, reqs[0].Messages, 2)

	lastReq := reqs[len(reqs)-1]
	require.Len(t, lastReq.Messages, 4)
	assert.Equal(t, "hello", lastReq.Messages[1].Content)
	assert.Equal(t, "ES:hello", lastReq.Messages[2].Content)
}

func TestTranslate_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New("k", "", "http://127.0.0.1:1").Translate(ctx, []types.Segment{{Text: "x"}}, "fr")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSynthesize_WritesWav(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tts-1", req["model"])
		assert.Equal(t, "nova", req["voice"])
		assert.Equal(t, "wav", req["response_format"])
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = io.WriteString(w, "RIFFdata")
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "seg_0001")
	path, err := New("k", "", srv.URL).Synthesize(context.Background(), "hola", "nova", out)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".wav"))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "RIFFdata", string(b))
}

func TestSynthesize_RejectsEmptyText(t *testing.T) {
	_, err := New("k", "", "").Synthesize(context.Background(), " ", "", filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
}

func TestVoices_ReturnsCopy(t *testing.T) {
	a := New("k", "", "")
	v := a.Voices()
	require.Len(t, v, 6)
	v[0] = "mutated"
	assert.NotEqual(t, "mutated", a.Voices()[0])
}
