package deepgram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTranscribe_MapsUtterances(t *testing.T) {
	var gotQuery, gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"results": {
				"channels": [{"detected_language": "en"}],
				"utterances": [
					{"start": 0.5, "end": 2.0, "transcript": " Hi there ", "speaker": 1, "confidence": 0.93,
					 "words": [{"start": 0.5, "end": 0.8, "word": "hi", "punctuated_word": "Hi"}]}
				]
			}
		}`)
	}))
	defer srv.Close()

	wav := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(wav, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := New("secret", "", "", srv.URL)
	tr, err := a.Transcribe(context.Background(), wav, "")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if gotAuth != "Token secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	for _, want := range []string{"diarize=true", "utterances=true", "model=nova-2", "detect_language=true"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %q", gotQuery, want)
		}
	}
	if string(gotBody) != "RIFF" {
		t.Fatalf("audio not uploaded, got %q", gotBody)
	}
	if tr.Language != "en" || len(tr.Segments) != 1 {
		t.Fatalf("unexpected transcript: %+v", tr)
	}
	s := tr.Segments[0]
	if s.Speaker != "1" || s.Text != "Hi there" || s.Words[0].Word != "Hi" {
		t.Fatalf("unexpected segment: %+v", s)
	}
}

func TestTranscribe_RedactsKeyInErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token secret", http.StatusUnauthorized)
	}))
	defer srv.Close()

	wav := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(wav, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := New("secret", "", "en", srv.URL).Transcribe(context.Background(), wav, "")
	if err == nil {
		t.Fatalf("expected error")
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("api key leaked into error: %v", err)
	}
}
