package search

import (
	"regexp"
	"slices"
	"strconv"

	"github.com/sells-group/zoning-cli/internal/model"
)

// pageMarker matches the page separators written into indexed windows.
var pageMarker = regexp.MustCompile(`NEW PAGE (\d+)`)

// Range is an inclusive span of page numbers.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlaps reports whether two ranges share at least one page.
func (r Range) Overlaps(o Range) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// Pages lists every page in the range.
func (r Range) Pages() []int {
	out := make([]int, 0, r.End-r.Start+1)
	for p := r.Start; p <= r.End; p++ {
		out = append(out, p)
	}
	return out
}

// Coverage returns the contiguous page range a hit represents. Windows that
// span several pages carry "NEW PAGE <n>" markers; a hit without markers
// covers only its own page.
func Coverage(hit model.PageSearchOutput) Range {
	r := Range{Start: hit.PageNumber, End: hit.PageNumber}
	matches := pageMarker.FindAllStringSubmatch(hit.Text, -1)
	first := true
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if first {
			r = Range{Start: n, End: n}
			first = false
			continue
		}
		r.Start = min(r.Start, n)
		r.End = max(r.End, n)
	}
	return r
}

// ExpandedPages returns the sorted union of pages covered by hits.
func ExpandedPages(hits []model.PageSearchOutput) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, h := range hits {
		for _, p := range Coverage(h).Pages() {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}
