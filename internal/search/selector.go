package search

import (
	"sort"

	"github.com/sells-group/zoning-cli/internal/model"
)

// SelectNonOverlapping greedily picks up to k hits in descending score order,
// skipping any hit whose coverage overlaps one already picked. Equal scores
// keep input order. k <= 0 means no limit.
func SelectNonOverlapping(hits []model.PageSearchOutput, k int) []model.PageSearchOutput {
	if len(hits) == 0 {
		return nil
	}

	order := make([]int, len(hits))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return hits[order[a]].Score > hits[order[b]].Score
	})

	var (
		selected []model.PageSearchOutput
		taken    []Range
	)
	for _, idx := range order {
		if k > 0 && len(selected) >= k {
			break
		}
		cov := Coverage(hits[idx])
		if overlapsAny(cov, taken) {
			continue
		}
		taken = append(taken, cov)
		selected = append(selected, hits[idx])
	}
	return selected
}

func overlapsAny(r Range, taken []Range) bool {
	for _, t := range taken {
		if r.Overlaps(t) {
			return true
		}
	}
	return false
}
