// Package extract turns selected ordinance pages into answers using one of
// the search_only, stuff or map strategies.
package extract

import (
	"context"
	"iter"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/zoning-cli/internal/model"
	"github.com/sells-group/zoning-cli/internal/prompt"
	"github.com/sells-group/zoning-cli/internal/search"
	"github.com/sells-group/zoning-cli/internal/thesaurus"
)

// ErrUnknownMethod is returned for a method outside search_only, stuff and map.
var ErrUnknownMethod = model.ErrUnknownMethod

// Completer is the subset of the prompt client the strategies need. A nil
// completion with a nil error means the model had no answer.
type Completer interface {
	Complete(ctx context.Context, req prompt.Request) (*prompt.Completion, error)
}

// Config tunes the model calls made by the stuff and map strategies.
type Config struct {
	Model         string
	MaxTokens     int
	ContextTokens int
	PromptReserve int
	MapWorkers    int
	TopLogprobs   int
	JSONResponse  bool
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 256
	}
	if c.ContextTokens <= 0 {
		c.ContextTokens = 2047
	}
	if c.PromptReserve <= 0 {
		c.PromptReserve = 256
	}
	if c.MapWorkers <= 0 {
		c.MapWorkers = 20
	}
	if c.TopLogprobs <= 0 {
		c.TopLogprobs = 1
	}
	return c
}

// chunkSize is the passage budget left after the prompt reserve.
func (c Config) chunkSize() int {
	return max(c.ContextTokens-c.PromptReserve, 1)
}

// Extractor runs lookups for a single (town, district, term) at a time.
type Extractor struct {
	searcher  search.Searcher
	completer Completer
	th        thesaurus.Thesaurus
	cfg       Config
}

// New creates an Extractor.
func New(searcher search.Searcher, completer Completer, th thesaurus.Thesaurus, cfg Config) *Extractor {
	return &Extractor{
		searcher:  searcher,
		completer: completer,
		th:        th,
		cfg:       cfg.withDefaults(),
	}
}

// Extract searches for the term, narrows the hits to at most topK
// non-overlapping pages and applies method to them. Zero selected pages
// yields an empty result.
func (e *Extractor) Extract(ctx context.Context, town string, district model.District, term string, topK int, method model.ExtractionMethod) ([]model.LookupOutput, error) {
	switch method {
	case model.MethodSearchOnly, model.MethodStuff, model.MethodMap:
	default:
		return nil, eris.Wrapf(ErrUnknownMethod, "extract: method %q", method)
	}

	hits, err := e.searcher.Search(ctx, town, district, term)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: search %s/%s %q", town, district.ShortName, term)
	}

	pages := search.SelectNonOverlapping(hits, topK)
	if len(pages) == 0 {
		zap.L().Debug("extract: no pages selected",
			zap.String("town", town),
			zap.String("district", district.ShortName),
			zap.String("term", term),
		)
		return []model.LookupOutput{}, nil
	}

	switch method {
	case model.MethodStuff:
		return e.stuff(ctx, district, term, pages)
	case model.MethodMap:
		return e.mapPages(ctx, district, term, pages)
	default:
		return searchOnly(pages), nil
	}
}

func searchOnly(pages []model.PageSearchOutput) []model.LookupOutput {
	out := make([]model.LookupOutput, 0, len(pages))
	for _, p := range pages {
		one := []model.PageSearchOutput{p}
		out = append(out, model.LookupOutput{
			SearchPages:         one,
			SearchPagesExpanded: search.ExpandedPages(one),
		})
	}
	return out
}

// stuff prompts over the pages concatenated in page order, chunk by chunk,
// and stops at the first chunk that yields an answer. The result keeps the
// pages in selection order.
func (e *Extractor) stuff(ctx context.Context, district model.District, term string, pages []model.PageSearchOutput) ([]model.LookupOutput, error) {
	sorted := make([]model.PageSearchOutput, len(pages))
	copy(sorted, pages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PageNumber < sorted[j].PageNumber })

	var doc []byte
	for _, p := range sorted {
		doc = append(doc, p.Text...)
	}

	result := model.LookupOutput{
		SearchPages:         pages,
		SearchPagesExpanded: search.ExpandedPages(pages),
	}
	for i, chunk := range chunks(string(doc), e.cfg.chunkSize()) {
		out, err := e.ask(ctx, district, term, chunk)
		if err != nil {
			return nil, err
		}
		if out == nil {
			continue
		}
		zap.L().Debug("extract: stuff answered",
			zap.String("district", district.ShortName),
			zap.String("term", term),
			zap.Int("chunk", i),
		)
		result.Output = out
		break
	}
	return []model.LookupOutput{result}, nil
}

// mapPages prompts once per page in parallel and ranks the answers by
// descending confidence. Pages without an answer are dropped.
func (e *Extractor) mapPages(ctx context.Context, district model.District, term string, pages []model.PageSearchOutput) ([]model.LookupOutput, error) {
	results := make([]*model.PromptOutput, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MapWorkers)
	for i, page := range pages {
		g.Go(func() error {
			out, err := e.ask(gctx, district, term, page.Text)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.LookupOutput, 0, len(pages))
	for i, r := range results {
		if r == nil {
			continue
		}
		one := []model.PageSearchOutput{pages[i]}
		out = append(out, model.LookupOutput{
			Output:              r,
			SearchPages:         one,
			SearchPagesExpanded: search.ExpandedPages(one),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence() > out[j].Confidence() })
	return out, nil
}

// ask prompts over one passage. A missing or unparseable answer is a nil
// output; only client failures are returned as errors.
func (e *Extractor) ask(ctx context.Context, district model.District, term, passage string) (*model.PromptOutput, error) {
	req := prompt.Request{
		Model:        e.cfg.Model,
		Prompt:       renderPrompt(passage, term, e.th.Synonyms(term), district),
		MaxTokens:    e.cfg.MaxTokens,
		Logprobs:     true,
		TopLogprobs:  e.cfg.TopLogprobs,
		JSONResponse: e.cfg.JSONResponse,
	}
	comp, err := e.completer.Complete(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: prompt %s %q", district.ShortName, term)
	}
	if comp == nil {
		return nil, nil
	}
	out, err := parseOutput(comp)
	if err != nil {
		zap.L().Debug("extract: discarding model output",
			zap.String("district", district.ShortName),
			zap.String("term", term),
			zap.Error(err),
		)
		return nil, nil
	}
	return out, nil
}

// ExtractAll lazily yields one AllLookupOutput per (town, district) pair,
// holding every term's result. Iteration stops after the first error.
func (e *Extractor) ExtractAll(ctx context.Context, towns []model.TownDistricts, terms []string, topK int, method model.ExtractionMethod) iter.Seq2[model.AllLookupOutput, error] {
	return func(yield func(model.AllLookupOutput, error) bool) {
		for _, td := range towns {
			for _, district := range td.Districts {
				row := model.AllLookupOutput{
					Town:     td.Town,
					District: district,
					Sizes:    make(map[string][]model.LookupOutput, len(terms)),
				}
				for _, term := range terms {
					res, err := e.Extract(ctx, td.Town, district, term, topK, method)
					if err != nil {
						yield(model.AllLookupOutput{}, err)
						return
					}
					row.Sizes[term] = res
				}
				zap.L().Info("extract: district complete",
					zap.String("town", td.Town),
					zap.String("district", district.ShortName),
					zap.Int("terms", len(terms)),
				)
				if !yield(row, nil) {
					return
				}
			}
		}
	}
}
