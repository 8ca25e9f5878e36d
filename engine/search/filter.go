package search

import (
	"math"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
)

// FilterPolicy decides how many ranked candidates are confident enough to
// return, instead of always returning a fixed count. A fixed top-K returns
// K hits even when only one is meaningful; a fixed absolute threshold
// fails when scores run globally low or high for a query. The policy
// combines a relative floor, a local-gap circuit breaker, and a
// minimum-count backstop.
type FilterPolicy struct {
	// RelativeMin keeps candidates scoring at least this fraction of the
	// top score. In [0,1].
	RelativeMin float64
	// DropoffGap stops the walk at the first score drop larger than this
	// versus the previously kept candidate.
	DropoffGap float64
	// MinHitScore is an absolute confidence floor.
	MinHitScore float64
	// MinReturnHits backfills past the thresholds up to this count, so a
	// query always gets some answer when candidates exist.
	MinReturnHits int
	// TopK caps the final hit count.
	TopK int
}

// Apply trims a descending-ranked candidate list per the policy. The
// first-ranked candidate is always kept (subject to the TopK cap); the
// walk keeps lower ranks only while they clear both the confidence floor
// and the drop-off gap, then MinReturnHits backfills in rank order and
// TopK caps the result. Output order is the input rank order, so equal
// scores stay stable.
func (p FilterPolicy) Apply(cands []domain.Candidate) []domain.Candidate {
	if len(cands) == 0 {
		return nil
	}

	floor := math.Max(p.MinHitScore, p.RelativeMin*cands[0].Score)
	kept := 1
	prev := cands[0].Score
	for i := 1; i < len(cands); i++ {
		s := cands[i].Score
		if s < floor || prev-s > p.DropoffGap {
			// A sharp quality drop or a sub-floor score ends consideration
			// of everything ranked lower.
			break
		}
		kept++
		prev = s
	}

	topK := p.TopK
	if topK < 0 {
		topK = 0
	}
	if kept > topK {
		kept = topK
	}
	out := make([]domain.Candidate, kept)
	copy(out, cands[:kept])

	target := p.MinReturnHits
	if target > topK {
		target = topK
	}
	for i := len(out); len(out) < target && i < len(cands); i++ {
		out = append(out, cands[i])
	}
	return out
}
