package eval

import (
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/zoning-cli/internal/model"
)

// Result is the verdict for one lookup output. Confidence is nil when the
// answer has no scored token.
type Result struct {
	Town       string    `json:"town"`
	District   string    `json:"district"`
	Term       string    `json:"term"`
	Expected   []float64 `json:"expected"`
	Actual     []float64 `json:"actual"`
	Pages      []int     `json:"pages,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	Correct    bool      `json:"correct"`
}

// Report accumulates results across lookups.
type Report struct {
	Results []Result `json:"results"`
	Correct int      `json:"correct"`
	Total   int      `json:"total"`
}

// Accuracy is the share of correct results, or 0 with no results.
func (r *Report) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

// Add scores every lookup in row that has a ground-truth entry. A term
// with no lookups counts as one incorrect result.
func (r *Report) Add(gt GroundTruth, row model.AllLookupOutput) []Result {
	var added []Result
	for term, lookups := range row.Sizes {
		expected, ok := gt.Expected(row.Town, row.District.ShortName, term)
		if !ok {
			zap.L().Debug("eval: no ground truth",
				zap.String("town", row.Town),
				zap.String("district", row.District.ShortName),
				zap.String("term", term),
			)
			continue
		}
		if len(lookups) == 0 {
			lookups = []model.LookupOutput{{}}
		}
		for _, l := range lookups {
			res := Result{
				Town:     row.Town,
				District: row.District.ShortName,
				Term:     term,
				Expected: expected,
			}
			if c := l.Confidence(); !math.IsInf(c, -1) {
				res.Confidence = &c
			}
			if l.Output != nil {
				res.Actual = CleanStringUnits(l.Output.Answer)
				res.Pages = l.Output.Pages
			}
			res.Correct = intersects(expected, res.Actual)
			added = append(added, res)
		}
	}
	slices.SortStableFunc(added, func(a, b Result) int { return strings.Compare(a.Term, b.Term) })

	for _, res := range added {
		r.Total++
		if res.Correct {
			r.Correct++
		}
	}
	r.Results = append(r.Results, added...)
	return added
}

func intersects(a, b []float64) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}
