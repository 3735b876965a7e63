package audioprobe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/forPelevin/autodub/internal/ports"
)

// Prober measures WAV files by counting PCM samples and hands every other
// format to the fallback prober.
type Prober struct {
	fallback ports.DurationProber
}

func New(fallback ports.DurationProber) *Prober {
	return &Prober{fallback: fallback}
}

func (p *Prober) Duration(ctx context.Context, path string) (time.Duration, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		d, err := wavDuration(path)
		if err == nil {
			return d, nil
		}
		if p.fallback == nil {
			return 0, err
		}
	}
	if p.fallback == nil {
		return 0, fmt.Errorf("no prober for %s", filepath.Ext(path))
	}
	return p.fallback.Duration(ctx, path)
}

// wavDuration streams the data chunk instead of trusting the header size,
// which streamed TTS responses leave unset.
func wavDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, errors.New("invalid wav file")
	}
	dec.ReadInfo()
	if dec.SampleRate == 0 || dec.NumChans == 0 || dec.BitDepth == 0 {
		return 0, errors.New("invalid wav header")
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: int(dec.NumChans), SampleRate: int(dec.SampleRate)},
		Data:           make([]int, 16384),
		SourceBitDepth: int(dec.BitDepth),
	}
	var total int
	for {
		n, err := dec.PCMBuffer(buf)
		total += n
		if err == io.EOF || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	frames := float64(total) / float64(dec.NumChans)
	return time.Duration(frames / float64(dec.SampleRate) * float64(time.Second)), nil
}
