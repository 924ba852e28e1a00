package model

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractionMethod selects how selected pages are turned into answers.
type ExtractionMethod string

const (
	// MethodSearchOnly returns the selected pages without calling a model.
	MethodSearchOnly ExtractionMethod = "search_only"
	// MethodStuff concatenates all pages and prompts chunk by chunk.
	MethodStuff ExtractionMethod = "stuff"
	// MethodMap prompts once per page and ranks the answers.
	MethodMap ExtractionMethod = "map"
)

// ErrUnknownMethod is returned for an extraction method outside the known set.
var ErrUnknownMethod = eris.New("unknown extraction method")

// ParseExtractionMethod validates a method name.
func ParseExtractionMethod(s string) (ExtractionMethod, error) {
	switch m := ExtractionMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodSearchOnly, MethodStuff, MethodMap:
		return m, nil
	case "none", "search-only":
		return MethodSearchOnly, nil
	default:
		return "", eris.Wrapf(ErrUnknownMethod, "method %q", s)
	}
}

// PageSearchOutput is a single search hit.
type PageSearchOutput struct {
	Text       string            `json:"text"`
	PageNumber int               `json:"page_number"`
	Highlight  []string          `json:"highlight"`
	Score      float64           `json:"score"`
	Query      string            `json:"query"`
	Log        map[string]string `json:"log"`
}

// PromptOutput is one model-derived candidate answer.
type PromptOutput struct {
	Answer              string             `json:"answer"`
	ExtractedText       string             `json:"extracted_text"`
	Pages               []int              `json:"pages"`
	AnswerTokenLogprobs map[string]float64 `json:"answer_token_logprobs"`
}

// Confidence is the highest logprob among tokens that occur in the answer.
// Whitespace tokens count; the empty token is skipped since every answer
// contains it. Answers with no overlapping token get -Inf so they rank last.
func (p *PromptOutput) Confidence() float64 {
	if p == nil {
		return math.Inf(-1)
	}
	best := math.Inf(-1)
	for tok, lp := range p.AnswerTokenLogprobs {
		if tok == "" || !strings.Contains(p.Answer, tok) {
			continue
		}
		if lp > best {
			best = lp
		}
	}
	return best
}

// LookupOutput is one strategy result.
type LookupOutput struct {
	Output              *PromptOutput      `json:"output"`
	SearchPages         []PageSearchOutput `json:"search_pages"`
	SearchPagesExpanded []int              `json:"search_pages_expanded"`
}

// Confidence returns the output's confidence, or -Inf when there is none.
func (l LookupOutput) Confidence() float64 {
	return l.Output.Confidence()
}

// AllLookupOutput holds every term's results for one (town, district) pair.
type AllLookupOutput struct {
	Town     string                    `json:"town"`
	District District                  `json:"district"`
	Sizes    map[string][]LookupOutput `json:"sizes"`
}
