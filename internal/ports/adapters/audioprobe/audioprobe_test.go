package audioprobe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWav(t *testing.T, path string, sampleRate, channels int, seconds float64) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	n := int(float64(sampleRate)*seconds) * channels
	buf := &audio.IntBuffer{
		Data:           make([]int, n),
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

type fakeProber struct {
	d     time.Duration
	err   error
	calls int
}

func (f *fakeProber) Duration(context.Context, string) (time.Duration, error) {
	f.calls++
	return f.d, f.err
}

func TestDuration_Wav(t *testing.T) {
	tests := []struct {
		name     string
		rate     int
		channels int
		seconds  float64
	}{
		{"mono 16k", 16000, 1, 1.5},
		{"stereo 44.1k", 44100, 2, 0.75},
		{"openai 24k", 24000, 1, 2.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "a.wav")
			writeWav(t, p, tt.rate, tt.channels, tt.seconds)

			fb := &fakeProber{}
			got, err := New(fb).Duration(context.Background(), p)
			require.NoError(t, err)
			assert.InDelta(t, tt.seconds, got.Seconds(), 0.001)
			assert.Zero(t, fb.calls)
		})
	}
}

func TestDuration_NonWavUsesFallback(t *testing.T) {
	fb := &fakeProber{d: 3 * time.Second}
	got, err := New(fb).Duration(context.Background(), "seg.mp3")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, got)
	assert.Equal(t, 1, fb.calls)
}

func TestDuration_BrokenWavFallsBack(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.wav")
	require.NoError(t, os.WriteFile(p, []byte("not a wav"), 0o644))

	fb := &fakeProber{d: time.Second}
	got, err := New(fb).Duration(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, time.Second, got)

	_, err = New(nil).Duration(context.Background(), p)
	require.Error(t, err)
}

func TestDuration_FallbackError(t *testing.T) {
	fb := &fakeProber{err: errors.New("ffprobe missing")}
	_, err := New(fb).Duration(context.Background(), "x.mp3")
	require.EqualError(t, err, "ffprobe missing")
}
