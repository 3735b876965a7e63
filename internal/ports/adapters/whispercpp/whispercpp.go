package whispercpp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/forPelevin/autodub/internal/types"
)

// Speaker is the label given to every segment; whisper.cpp does not diarize.
const Speaker = "0"

type Adapter struct {
	bin      string
	model    string
	language string
}

func New(binPath, modelPath, language string) *Adapter {
	if language == "" {
		language = "auto"
	}
	return &Adapter{bin: binPath, model: modelPath, language: language}
}

// output is the subset of whisper.cpp's -oj file we read.
type output struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func (a *Adapter) Transcribe(ctx context.Context, wavPath, cacheDir string) (types.Transcript, error) {
	outPrefix := filepath.Join(cacheDir, "whisper")
	args := []string{
		"-m", a.model,
		"-f", wavPath,
		"-l", a.language,
		"-oj",
		"-of", outPrefix,
	}
	cmd := exec.CommandContext(ctx, a.bin, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper.cpp failed: %w\n%s", err, string(b))
	}

	jb, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return types.Transcript{}, err
	}
	return parseOutput(jb)
}

func parseOutput(jb []byte) (types.Transcript, error) {
	var out output
	if err := json.Unmarshal(jb, &out); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper.cpp json: %w", err)
	}
	tr := types.Transcript{Language: out.Result.Language}
	for _, s := range out.Transcription {
		tr.Segments = append(tr.Segments, types.Segment{
			Start:      float64(s.Offsets.From) / 1000,
			End:        float64(s.Offsets.To) / 1000,
			Text:       strings.TrimSpace(s.Text),
			Speaker:    Speaker,
			Confidence: 1,
		})
	}
	return tr, nil
}
