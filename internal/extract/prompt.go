package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/zoning-cli/internal/model"
	"github.com/sells-group/zoning-cli/internal/prompt"
)

const extractionPrompt = `You are reading an excerpt of a town zoning ordinance.

# Excerpt
%s

# Task
Find the %s (also written as: %s) required in the zoning district "%s" (abbreviated "%s").

Respond with a single JSON object and nothing else:
{"answer": "<the value with its units, exactly as written>", "extracted_text": "<the sentence or table row stating it>", "pages": [<page numbers the text appears on>]}

If the excerpt does not state the %s for this district, respond with null.`

func renderPrompt(passage, term string, synonyms []string, d model.District) string {
	return fmt.Sprintf(extractionPrompt,
		passage,
		term,
		strings.Join(synonyms, ", "),
		d.FullName,
		d.ShortName,
		term,
	)
}

// answer is the JSON shape the model is asked for. Pointers distinguish a
// missing field from an empty one.
type answer struct {
	Answer        *string `json:"answer"`
	ExtractedText *string `json:"extracted_text"`
	Pages         []int   `json:"pages"`
}

// parseOutput converts a completion into a PromptOutput. Output that does
// not match the expected shape is an error.
func parseOutput(comp *prompt.Completion) (*model.PromptOutput, error) {
	text := cleanJSON(comp.Text)
	if text == "" || text == "null" {
		return nil, eris.New("extract: model returned no answer")
	}

	var a answer
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return nil, eris.Wrap(err, "extract: decode model output")
	}
	if a.Answer == nil || a.ExtractedText == nil || a.Pages == nil {
		return nil, eris.Errorf("extract: model output missing fields: %s", text)
	}

	logprobs := comp.TokenLogprobs
	if logprobs == nil {
		logprobs = map[string]float64{}
	}
	return &model.PromptOutput{
		Answer:              *a.Answer,
		ExtractedText:       *a.ExtractedText,
		Pages:               a.Pages,
		AnswerTokenLogprobs: logprobs,
	}, nil
}

// cleanJSON extracts a JSON object from text that may contain markdown
// code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// chunks splits text into pieces of at most size runes.
func chunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}
	out := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}
