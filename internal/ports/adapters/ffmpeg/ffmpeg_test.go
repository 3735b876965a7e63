package ffmpeg

import (
	"strings"
	"testing"
	"time"

	"github.com/forPelevin/autodub/internal/types"
)

func TestAtempoChain(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, ""},
		{1.0004, ""},
		{1.5, "atempo=1.5000"},
		{3.0, "atempo=2.0,atempo=1.5000"},
		{4.0, "atempo=2.0,atempo=2.0000"},
		{0.25, "atempo=0.5,atempo=0.5000"},
	}
	for _, tt := range tests {
		if got := atempoChain(tt.rate); got != tt.want {
			t.Fatalf("atempoChain(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestTrackArgs_DelaysAndMixesEveryClip(t *testing.T) {
	clips := []types.TrackClip{
		{Path: "a.wav", Start: 0, Rate: 1},
		{Path: "b.mp3", Start: 2500 * time.Millisecond, Rate: 1.25},
	}
	args := trackArgs(clips, 10*time.Second, "out.wav")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-t 10.000 -i anullsrc=r=44100:cl=stereo") {
		t.Fatalf("missing silent base input: %s", joined)
	}
	var fc string
	for i, a := range args {
		if a == "-filter_complex" {
			fc = args[i+1]
		}
	}
	if !strings.Contains(fc, "[1:a]aresample=44100,adelay=0:all=1[d1]") {
		t.Fatalf("unexpected first clip chain: %s", fc)
	}
	if !strings.Contains(fc, "[2:a]atempo=1.2500,aresample=44100,adelay=2500:all=1[d2]") {
		t.Fatalf("unexpected second clip chain: %s", fc)
	}
	if !strings.HasSuffix(fc, "[0:a][d1][d2]amix=inputs=3:duration=first:dropout_transition=0:normalize=0[out]") {
		t.Fatalf("unexpected mix: %s", fc)
	}
	if args[len(args)-1] != "out.wav" {
		t.Fatalf("output must be last arg: %v", args)
	}
}

func TestMuxArgs(t *testing.T) {
	copyArgs := strings.Join(muxArgs("in.mp4", "dub.wav", "", "out.mp4"), " ")
	if !strings.Contains(copyArgs, "-c:v copy") {
		t.Fatalf("expected stream copy without subtitles: %s", copyArgs)
	}
	burn := strings.Join(muxArgs("in.mp4", "dub.wav", "C:/subs/dub.ass", "out.mp4"), " ")
	if !strings.Contains(burn, `subtitles=C\:/subs/dub.ass`) || strings.Contains(burn, "-c:v copy") {
		t.Fatalf("expected burn-in with re-encode: %s", burn)
	}
}

func TestSpeechArgs_ConcatenatesSpans(t *testing.T) {
	spans := []types.Segment{
		{Start: 12.5, End: 20},
		{Start: 1, End: 4.25},
	}
	args := speechArgs("in.mp4", spans, "sample.mp3")
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"[0:a]atrim=start=12.500:end=20.000,asetpts=PTS-STARTPTS[s0];",
		"[0:a]atrim=start=1.000:end=4.250,asetpts=PTS-STARTPTS[s1];",
		"[s0][s1]concat=n=2:v=0:a=1[out]",
		"-ac 1 -ar 22050 -c:a libmp3lame sample.mp3",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in %s", want, joined)
		}
	}
	if args[len(args)-1] != "sample.mp3" {
		t.Fatalf("output must come last: %v", args)
	}
}
