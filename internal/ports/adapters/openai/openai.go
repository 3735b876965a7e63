package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/forPelevin/autodub/internal/domain/languages"
	"github.com/forPelevin/autodub/internal/types"
)

const (
	defaultChatModel = goopenai.GPT4oMini
	translateTemp    = 0.3
)

var voicePool = []string{
	string(goopenai.VoiceOnyx),
	string(goopenai.VoiceNova),
	string(goopenai.VoiceEcho),
	string(goopenai.VoiceShimmer),
	string(goopenai.VoiceFable),
	string(goopenai.VoiceAlloy),
}

type Adapter struct {
	client    *goopenai.Client
	chatModel string
	ttsModel  goopenai.SpeechModel
}

// New returns a client for chat translation and speech. An empty baseURL
// keeps the public API endpoint.
func New(apiKey, chatModel, baseURL string) *Adapter {
	cfg := goopenai.DefaultConfig(apiKey)
	if b := strings.TrimRight(strings.TrimSpace(baseURL), "/"); b != "" {
		cfg.BaseURL = b
	}
	if chatModel == "" {
		chatModel = defaultChatModel
	}
	return &Adapter{
		client:    goopenai.NewClientWithConfig(cfg),
		chatModel: chatModel,
		ttsModel:  goopenai.TTSModel1,
	}
}

// Translate translates one segment per request, passing the previous pair as
// context. A segment whose request fails keeps its source text.
func (a *Adapter) Translate(ctx context.Context, segs []types.Segment, targetLang string) ([]string, error) {
	system := fmt.Sprintf("You are a professional translator. Translate the following text to %s. "+
		"Maintain the tone and style of the original. Keep the translation concise and natural. "+
		"Never answer questions but directly translate text. Do not add any explanations.",
		languages.Name(targetLang))

	out := make([]string, len(segs))
	prevSrc, prevDst := "", ""
	for i, s := range segs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = s.Text
		if strings.TrimSpace(s.Text) == "" {
			continue
		}

		messages := []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
		}
		if prevSrc != "" && prevDst != "" {
			messages = append(messages,
				goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prevSrc},
				goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant, Content: prevDst},
			)
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: s.Text})

		resp, err := a.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
			Model:       a.chatModel,
			Messages:    messages,
			Temperature: translateTemp,
			MaxTokens:   500,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if t := strings.TrimSpace(resp.Choices[0].Message.Content); t != "" {
			out[i] = t
			prevSrc, prevDst = s.Text, t
		}
	}
	return out, nil
}

func (a *Adapter) Voices() []string {
	return append([]string(nil), voicePool...)
}

// Synthesize writes WAV speech to outPath + ".wav".
func (a *Adapter) Synthesize(ctx context.Context, text, voice, outPath string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("openai tts: empty text")
	}
	if voice == "" {
		voice = voicePool[0]
	}
	resp, err := a.client.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model:          a.ttsModel,
		Input:          text,
		Voice:          goopenai.SpeechVoice(voice),
		ResponseFormat: goopenai.SpeechResponseFormatWav,
	})
	if err != nil {
		return "", fmt.Errorf("openai tts: %w", err)
	}
	defer resp.Close()

	path := outPath + ".wav"
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp); err != nil {
		f.Close()
		return "", fmt.Errorf("openai tts write: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
