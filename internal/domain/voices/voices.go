package voices

import (
	"github.com/samber/lo"

	"github.com/forPelevin/autodub/internal/domain/segments"
)

// Assign maps each speaker to a voice from pool. Speakers who talk the most
// pick first so the main voices stay distinct; once the pool is exhausted
// voices are reused round-robin. Entries in overrides (for example cloned
// voices) always win. The result is deterministic for a given input.
func Assign(stats []segments.SpeakerStat, pool []string, overrides map[string]string) map[string]string {
	pool = lo.Uniq(lo.Compact(pool))
	out := make(map[string]string, len(stats))
	next := 0
	for _, st := range stats {
		if v, ok := overrides[st.Speaker]; ok && v != "" {
			out[st.Speaker] = v
			continue
		}
		if len(pool) == 0 {
			out[st.Speaker] = ""
			continue
		}
		out[st.Speaker] = pool[next%len(pool)]
		next++
	}
	return out
}
