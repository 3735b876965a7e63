package subtitles

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forPelevin/autodub/internal/types"
)

// RenderDubASS renders the translated text as ASS events on the dubbed
// timeline: each segment is shown while its placed audio plays, not at its
// source position. placements must be the aligner output for segs.
func RenderDubASS(segs []types.DubSegment, placements []types.Placement) (string, error) {
	if len(segs) != len(placements) {
		return "", fmt.Errorf("subtitles: %d segments but %d placements", len(segs), len(placements))
	}
	var events []event
	for i, p := range placements {
		if p.Index < 0 || p.Index >= len(segs) {
			return "", errors.New("subtitles: placement index out of range")
		}
		text := strings.TrimSpace(segs[p.Index].Translated)
		if text == "" || p.EffectiveDuration <= 0 {
			continue
		}
		start := dur(p.TargetStart)
		end := dur(p.End())
		// keep captions from sticking over the next segment's start
		if i+1 < len(placements) {
			if next := dur(placements[i+1].TargetStart); end > next {
				end = next
			}
		}
		events = append(events, splitEvent(start, end, text)...)
	}
	return renderASS(events), nil
}

type event struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// splitEvent breaks long text into readable lines and shares the time span
// between them in proportion to their length.
func splitEvent(start, end time.Duration, text string) []event {
	lines := packLines(strings.Fields(sanitizeASS(text)))
	total := 0
	for _, ln := range lines {
		total += len([]rune(ln))
	}
	if total == 0 {
		return nil
	}
	span := end - start
	out := make([]event, 0, len(lines))
	cur := start
	for i, ln := range lines {
		next := cur + time.Duration(float64(span)*float64(len([]rune(ln)))/float64(total))
		if i == len(lines)-1 {
			next = end
		}
		out = append(out, event{Start: cur, End: next, Text: ln})
		cur = next
	}
	return out
}

func packLines(words []string) []string {
	const (
		charBudget = 42
		wordBudget = 9
	)
	var out []string
	var cur []string
	curLen := 0
	for _, w := range words {
		wl := len([]rune(w))
		nextLen := curLen
		if curLen > 0 {
			nextLen++
		}
		nextLen += wl
		if len(cur) > 0 && (len(cur) >= wordBudget || nextLen > charBudget) {
			out = append(out, strings.Join(cur, " "))
			cur = nil
			curLen = 0
			nextLen = wl
		}
		cur = append(cur, w)
		curLen = nextLen
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}

func renderASS(events []event) string {
	var b strings.Builder
	b.WriteString(assHeader())
	b.WriteString("\n\n[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, ev := range events {
		b.WriteString("Dialogue: 0,")
		b.WriteString(assTime(ev.Start))
		b.WriteString(",")
		b.WriteString(assTime(ev.End))
		b.WriteString(",Dub,,0,0,0,,")
		b.WriteString(ev.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func assHeader() string {
	return strings.TrimSpace(`
[Script Info]
ScriptType: v4.00+
PlayResX: 1920
PlayResY: 1080
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Dub, Inter, 54, &H00FFFFFF, &H00FFD200, &H00000000, &H64000000, 0,0,0,0,100,100,0,0,1,3,1,2, 80,80,60,1
`)
}

func assTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hs := int(d / time.Hour)
	d -= time.Duration(hs) * time.Hour
	ms := int(d / time.Minute)
	d -= time.Duration(ms) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	cs := int(d / (10 * time.Millisecond))
	return fmt.Sprintf("%d:%02d:%02d.%02d", hs, ms, s, cs)
}

func sanitizeASS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

func dur(sec float64) time.Duration { return time.Duration(sec * float64(time.Second)) }
