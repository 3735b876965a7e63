package segments

import (
	"math"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/forPelevin/autodub/internal/types"
)

// Normalize trims text and drops segments that cannot be dubbed: empty text
// or a non-positive time span. The result is sorted by start time.
func Normalize(segs []types.Segment) []types.Segment {
	out := make([]types.Segment, 0, len(segs))
	for _, s := range segs {
		s.Text = strings.TrimSpace(s.Text)
		s.Speaker = strings.TrimSpace(s.Speaker)
		if s.Text == "" || !(s.End > s.Start) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

type dedupeKey struct {
	start, end int64
	speaker    string
}

// Deduplicate collapses segments reported more than once by the ASR (same
// start, end and speaker at 10ms resolution), keeping the one with the
// highest confidence. Output is sorted by start time.
func Deduplicate(segs []types.Segment) (out []types.Segment, removed int) {
	if len(segs) == 0 {
		return nil, 0
	}
	best := make(map[dedupeKey]int, len(segs))
	order := make([]dedupeKey, 0, len(segs))
	for i, s := range segs {
		k := dedupeKey{start: centis(s.Start), end: centis(s.End), speaker: s.Speaker}
		j, ok := best[k]
		if !ok {
			best[k] = i
			order = append(order, k)
			continue
		}
		removed++
		if s.Confidence > segs[j].Confidence {
			best[k] = i
		}
	}
	out = lo.Map(order, func(k dedupeKey, _ int) types.Segment { return segs[best[k]] })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, removed
}

func centis(sec float64) int64 { return int64(math.Round(sec * 100)) }

// ResolveOverlaps makes the sequence partition the source timeline. A
// segment that starts inside its predecessor trims the predecessor's end.
// When both start together (crosstalk) the longer turn is kept and the
// other one starts after it; segments left with nothing are dropped and
// counted. Input must be sorted by start.
func ResolveOverlaps(segs []types.Segment) (out []types.Segment, dropped int) {
	sorted := append([]types.Segment(nil), segs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].Duration() > sorted[j].Duration()
		}
		return sorted[i].Start < sorted[j].Start
	})

	out = make([]types.Segment, 0, len(sorted))
	for _, s := range sorted {
		if n := len(out); n > 0 && s.Start < out[n-1].End {
			prev := &out[n-1]
			if s.Start > prev.Start {
				prev.End = s.Start
			} else {
				s.Start = prev.End
			}
		}
		if s.End <= s.Start {
			dropped++
			continue
		}
		out = append(out, s)
	}
	return out, dropped
}

type SpeakerStat struct {
	Speaker  string
	Total    float64
	Segments int
}

// SpeakerStats returns per-speaker speaking time, longest first.
func SpeakerStats(segs []types.Segment) []SpeakerStat {
	groups := lo.GroupBy(segs, func(s types.Segment) string { return s.Speaker })
	out := make([]SpeakerStat, 0, len(groups))
	for spk, ss := range groups {
		total := lo.SumBy(ss, func(s types.Segment) float64 { return math.Max(0, s.Duration()) })
		out = append(out, SpeakerStat{Speaker: spk, Total: total, Segments: len(ss)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total == out[j].Total {
			return out[i].Speaker < out[j].Speaker
		}
		return out[i].Total > out[j].Total
	})
	return out
}

// ToDubSegments pairs transcript segments with their translations. A missing
// or blank translation falls back to the source text.
func ToDubSegments(segs []types.Segment, translated []string) []types.DubSegment {
	return lo.Map(segs, func(s types.Segment, i int) types.DubSegment {
		tr := ""
		if i < len(translated) {
			tr = strings.TrimSpace(translated[i])
		}
		if tr == "" {
			tr = s.Text
		}
		return types.DubSegment{
			Start:      s.Start,
			End:        s.End,
			Speaker:    s.Speaker,
			Text:       s.Text,
			Translated: tr,
		}
	})
}
