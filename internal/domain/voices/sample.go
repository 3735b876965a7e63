package voices

import (
	"sort"

	"github.com/forPelevin/autodub/internal/types"
)

// Bounds, in seconds, of the speech handed to voice cloning.
const (
	MinCloneSample    = 10.0
	TargetCloneSample = 30.0
	MaxCloneSample    = 60.0
)

// CloneSample picks the speaker's most confident segments for a cloning
// sample. Segments are added while the total stays within MaxCloneSample and
// picking stops once TargetCloneSample is reached. It returns nil when the
// speaker has less than MinCloneSample of usable speech. The result is in
// timeline order.
func CloneSample(segs []types.Segment, speaker string) []types.Segment {
	var own []types.Segment
	for _, s := range segs {
		if s.Speaker == speaker && s.Duration() > 0 {
			own = append(own, s)
		}
	}
	sort.SliceStable(own, func(i, j int) bool { return own[i].Confidence > own[j].Confidence })

	var picked []types.Segment
	total := 0.0
	for _, s := range own {
		if total+s.Duration() <= MaxCloneSample {
			picked = append(picked, s)
			total += s.Duration()
		}
		if total >= TargetCloneSample {
			break
		}
	}
	if total < MinCloneSample {
		return nil
	}
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].Start < picked[j].Start })
	return picked
}
