package subtitles

import (
	"strings"
	"testing"
	"time"

	"github.com/forPelevin/autodub/internal/types"
)

func TestRenderDubASS_UsesPlacedTimeline(t *testing.T) {
	segs := []types.DubSegment{
		{Start: 0, End: 2, Translated: "Hola mundo"},
		{Start: 2, End: 4, Translated: "{adiós}"},
	}
	placements := []types.Placement{
		{Index: 0, TargetStart: 0, PlaybackRate: 1, EffectiveDuration: 2.5},
		{Index: 1, TargetStart: 2.5, PlaybackRate: 1, EffectiveDuration: 1},
	}
	ass, err := RenderDubASS(segs, placements)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ass, "Dialogue: 0,0:00:00.00,0:00:02.50,Dub,,0,0,0,,Hola mundo") {
		t.Fatalf("expected first event on placed timeline, got:\n%s", ass)
	}
	if !strings.Contains(ass, "0:00:02.50,0:00:03.50,Dub,,0,0,0,,(adiós)") {
		t.Fatalf("expected sanitized second event, got:\n%s", ass)
	}
}

func TestRenderDubASS_MismatchedInput(t *testing.T) {
	_, err := RenderDubASS([]types.DubSegment{{Start: 0, End: 1}}, nil)
	if err == nil {
		t.Fatalf("expected error for mismatched input")
	}
}

func TestSplitEvent_LongTextSharesSpan(t *testing.T) {
	text := strings.Repeat("palabra ", 20)
	evs := splitEvent(0, 10*time.Second, text)
	if len(evs) < 2 {
		t.Fatalf("expected long text to be split, got %d events", len(evs))
	}
	if evs[0].Start != 0 || evs[len(evs)-1].End != 10*time.Second {
		t.Fatalf("events must cover the full span: %+v", evs)
	}
	for i := 1; i < len(evs); i++ {
		if evs[i].Start != evs[i-1].End {
			t.Fatalf("events must be contiguous: %+v", evs)
		}
	}
}

func TestAssTime_Format(t *testing.T) {
	got := assTime(61*time.Second + 234*time.Millisecond)
	if got != "0:01:01.23" {
		t.Fatalf("unexpected assTime: %s", got)
	}
}
