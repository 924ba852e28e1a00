package extract

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/zoning-cli/internal/model"
	"github.com/sells-group/zoning-cli/internal/prompt"
	"github.com/sells-group/zoning-cli/internal/search"
	"github.com/sells-group/zoning-cli/internal/thesaurus"
)

var residenceA = model.District{FullName: "Residence A", ShortName: "RA"}

type fakeSearcher struct {
	hits  []model.PageSearchOutput
	err   error
	calls atomic.Int32
}

func (f *fakeSearcher) Search(_ context.Context, _ string, _ model.District, _ string) ([]model.PageSearchOutput, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

// fakeCompleter answers by matching a marker in the rendered prompt.
type fakeCompleter struct {
	mu      sync.Mutex
	answers map[string]*prompt.Completion
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, req prompt.Request) (*prompt.Completion, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for marker, comp := range f.answers {
		if strings.Contains(req.Prompt, marker) {
			return comp, nil
		}
	}
	return nil, nil
}

func (f *fakeCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func validAnswer(answer string, logprobs map[string]float64) *prompt.Completion {
	return &prompt.Completion{
		Text:          `{"answer": "` + answer + `", "extracted_text": "minimum lot area ` + answer + `", "pages": [1]}`,
		TokenLogprobs: logprobs,
	}
}

func page(n int, score float64, text string) model.PageSearchOutput {
	return model.PageSearchOutput{PageNumber: n, Score: score, Text: text}
}

func newTestExtractor(s search.Searcher, c Completer, cfg Config) *Extractor {
	if cfg.Model == "" {
		cfg.Model = "gpt-4"
	}
	return New(s, c, thesaurus.Default(), cfg)
}

func TestExtract_StuffShortCircuits(t *testing.T) {
	a, b, c := strings.Repeat("A", 100), strings.Repeat("B", 100), strings.Repeat("C", 100)
	s := &fakeSearcher{hits: []model.PageSearchOutput{
		page(3, 0.9, c),
		page(1, 0.8, a),
		page(2, 0.7, b),
	}}
	comp := &fakeCompleter{answers: map[string]*prompt.Completion{
		a: {Text: "null"},
		b: validAnswer("2 acres", map[string]float64{"2": -0.2}),
		c: validAnswer("5 acres", map[string]float64{"5": -0.1}),
	}}
	ex := newTestExtractor(s, comp, Config{ContextTokens: 110, PromptReserve: 10})

	out, err := ex.Extract(context.Background(), "ansonia", residenceA, "min lot size", 3, model.MethodStuff)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Output)
	assert.Equal(t, "2 acres", out[0].Output.Answer)
	assert.Equal(t, 2, comp.count(), "third chunk must not be tried")
	assert.Contains(t, comp.prompts[0], a)
	assert.Contains(t, comp.prompts[1], b)

	require.Len(t, out[0].SearchPages, 3)
	got := []int{out[0].SearchPages[0].PageNumber, out[0].SearchPages[1].PageNumber, out[0].SearchPages[2].PageNumber}
	assert.Equal(t, []int{3, 1, 2}, got, "pages stay in relevance order")
	assert.Equal(t, []int{1, 2, 3}, out[0].SearchPagesExpanded)
}

func TestExtract_StuffNoAnswer(t *testing.T) {
	s := &fakeSearcher{hits: []model.PageSearchOutput{page(2, 0.9, "nothing here"), page(1, 0.5, "or here")}}
	comp := &fakeCompleter{}
	ex := newTestExtractor(s, comp, Config{})

	out, err := ex.Extract(context.Background(), "ansonia", residenceA, "min lot size", 2, model.MethodStuff)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].Output)
	assert.Equal(t, 1, comp.count())
	assert.Equal(t, []int{1, 2}, out[0].SearchPagesExpanded)
}

func TestExtract_MapRanksByConfidence(t *testing.T) {
	s := &fakeSearcher{hits: []model.PageSearchOutput{
		page(7, 0.9, "page-low"),
		page(3, 0.8, "page-none"),
		page(9, 0.7, "page-high"),
	}}
	comp := &fakeCompleter{answers: map[string]*prompt.Completion{
		"page-low":  validAnswer("1 acre", map[string]float64{"1": -2.5, " acre": -1.5}),
		"page-high": validAnswer("40000 sq ft", map[string]float64{"40000": -0.1, " sq": -0.3}),
	}}
	ex := newTestExtractor(s, comp, Config{MapWorkers: 2})

	out, err := ex.Extract(context.Background(), "ansonia", residenceA, "min lot size", 3, model.MethodMap)
	require.NoError(t, err)
	require.Len(t, out, 2, "pages without an answer are dropped")
	assert.Equal(t, "40000 sq ft", out[0].Output.Answer)
	assert.Equal(t, 9, out[0].SearchPages[0].PageNumber)
	assert.Equal(t, "1 acre", out[1].Output.Answer)
	assert.Equal(t, 7, out[1].SearchPages[0].PageNumber)
	assert.Greater(t, out[0].Confidence(), out[1].Confidence())
	assert.Equal(t, 3, comp.count())
}

func TestExtract_MapNoOverlapRanksLast(t *testing.T) {
	s := &fakeSearcher{hits: []model.PageSearchOutput{
		page(1, 0.9, "page-one"),
		page(2, 0.8, "page-two"),
	}}
	comp := &fakeCompleter{answers: map[string]*prompt.Completion{
		"page-one": validAnswer("2 acres", nil),
		"page-two": validAnswer("3 acres", map[string]float64{"3": -4}),
	}}
	ex := newTestExtractor(s, comp, Config{})

	out, err := ex.Extract(context.Background(), "ansonia", residenceA, "min lot size", 2, model.MethodMap)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "3 acres", out[0].Output.Answer)
	assert.True(t, math.IsInf(out[1].Confidence(), -1))
	assert.NotNil(t, out[1].Output.AnswerTokenLogprobs)
}

func TestExtract_SearchOnly(t *testing.T) {
	s := &fakeSearcher{hits: []model.PageSearchOutput{page(4, 0.9, "four"), page(8, 0.4, "eight")}}
	comp := &fakeCompleter{}
	ex := newTestExtractor(s, comp, Config{})

	out, err := ex.Extract(context.Background(), "ansonia", residenceA, "min lot size", 5, model.MethodSearchOnly)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, o := range out {
		assert.Nil(t, o.Output)
		assert.Len(t, o.SearchPages, 1)
	}
	assert.Equal(t, []int{4}, out[0].SearchPagesExpanded)
	assert.Zero(t, comp.count())
}

func TestExtract_ZeroHits(t *testing.T) {
	for _, m := range []model.ExtractionMethod{model.MethodSearchOnly, model.MethodStuff, model.MethodMap} {
		t.Run(string(m), func(t *testing.T) {
			comp := &fakeCompleter{}
			ex := newTestExtractor(&fakeSearcher{}, comp, Config{})
			out, err := ex.Extract(context.Background(), "ansonia", residenceA, "min lot size", 2, m)
			require.NoError(t, err)
			assert.NotNil(t, out)
			assert.Empty(t, out)
			assert.Zero(t, comp.count())
		})
	}
}

func TestExtract_AnsoniaSelection(t *testing.T) {
	s := &fakeSearcher{hits: []model.PageSearchOutput{
		page(4, 0.9, "NEW PAGE 4\nlot area"),
		page(4, 0.7, "NEW PAGE 4\nlot\nNEW PAGE 5\narea"),
		page(5, 0.5, "NEW PAGE 5\nfrontage"),
	}}
	ex := newTestExtractor(s, &fakeCompleter{}, Config{})

	out, err := ex.Extract(context.Background(), "ansonia", residenceA, "min lot size", 2, model.MethodSearchOnly)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 0.9, out[0].SearchPages[0].Score)
	assert.Equal(t, 0.5, out[1].SearchPages[0].Score)
}

func TestExtract_UnknownMethod(t *testing.T) {
	s := &fakeSearcher{}
	ex := newTestExtractor(s, &fakeCompleter{}, Config{})

	_, err := ex.Extract(context.Background(), "ansonia", residenceA, "min lot size", 2, "reduce")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownMethod))
	assert.Zero(t, s.calls.Load())
}

func TestExtract_SearchUnavailablePropagates(t *testing.T) {
	s := &fakeSearcher{err: eris.Wrap(search.ErrSearchUnavailable, "boom")}
	ex := newTestExtractor(s, &fakeCompleter{}, Config{})

	_, err := ex.Extract(context.Background(), "ansonia", residenceA, "min lot size", 2, model.MethodMap)
	require.Error(t, err)
	assert.True(t, errors.Is(err, search.ErrSearchUnavailable))
}

func TestExtract_CompleterErrorPropagates(t *testing.T) {
	s := &fakeSearcher{hits: []model.PageSearchOutput{page(1, 0.9, "x"), page(2, 0.8, "y")}}
	comp := &fakeCompleter{err: prompt.ErrUnknownModel}
	ex := newTestExtractor(s, comp, Config{})

	_, err := ex.Extract(context.Background(), "ansonia", residenceA, "min lot size", 2, model.MethodMap)
	require.Error(t, err)
	assert.True(t, errors.Is(err, prompt.ErrUnknownModel))
}

func TestExtract_RequestShape(t *testing.T) {
	s := &fakeSearcher{hits: []model.PageSearchOutput{page(1, 0.9, "passage text")}}
	var got prompt.Request
	comp := completerFunc(func(_ context.Context, req prompt.Request) (*prompt.Completion, error) {
		got = req
		return nil, nil
	})
	ex := newTestExtractor(s, comp, Config{Model: "gpt-4-1106-preview", JSONResponse: true})

	_, err := ex.Extract(context.Background(), "ansonia", residenceA, "min lot size", 1, model.MethodStuff)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4-1106-preview", got.Model)
	assert.Equal(t, 256, got.MaxTokens)
	assert.True(t, got.Logprobs)
	assert.True(t, got.JSONResponse)
	assert.Contains(t, got.Prompt, "passage text")
	assert.Contains(t, got.Prompt, `"Residence A"`)
	assert.Contains(t, got.Prompt, `"RA"`)
}

type completerFunc func(ctx context.Context, req prompt.Request) (*prompt.Completion, error)

func (f completerFunc) Complete(ctx context.Context, req prompt.Request) (*prompt.Completion, error) {
	return f(ctx, req)
}

func TestExtractAll(t *testing.T) {
	s := &fakeSearcher{hits: []model.PageSearchOutput{page(1, 0.9, "one")}}
	ex := newTestExtractor(s, &fakeCompleter{}, Config{})
	towns := []model.TownDistricts{
		{Town: "ansonia", Districts: []model.District{residenceA, {FullName: "Business", ShortName: "B-1"}}},
		{Town: "bethany", Districts: []model.District{{FullName: "Residential", ShortName: "R-2"}}},
	}
	terms := []string{"min lot size", "min unit size"}

	seq := ex.ExtractAll(context.Background(), towns, terms, 2, model.MethodSearchOnly)
	assert.Zero(t, s.calls.Load(), "iteration is lazy")

	var rows []model.AllLookupOutput
	for row, err := range seq {
		require.NoError(t, err)
		rows = append(rows, row)
	}
	require.Len(t, rows, 3)
	assert.Equal(t, "ansonia", rows[0].Town)
	assert.Equal(t, "B-1", rows[1].District.ShortName)
	assert.Equal(t, "bethany", rows[2].Town)
	for _, r := range rows {
		assert.Len(t, r.Sizes, 2)
		assert.Len(t, r.Sizes["min lot size"], 1)
	}
	assert.Equal(t, int32(6), s.calls.Load())

	// Re-iterating runs the lookups again.
	n := 0
	for range seq {
		n++
	}
	assert.Equal(t, 3, n)
}

func TestExtractAll_StopsEarly(t *testing.T) {
	s := &fakeSearcher{hits: []model.PageSearchOutput{page(1, 0.9, "one")}}
	ex := newTestExtractor(s, &fakeCompleter{}, Config{})
	towns := []model.TownDistricts{{Town: "ansonia", Districts: []model.District{residenceA, residenceA, residenceA}}}

	for range ex.ExtractAll(context.Background(), towns, []string{"min lot size"}, 1, model.MethodSearchOnly) {
		break
	}
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestExtractAll_Error(t *testing.T) {
	s := &fakeSearcher{err: eris.Wrap(search.ErrSearchUnavailable, "down")}
	ex := newTestExtractor(s, &fakeCompleter{}, Config{})
	towns := []model.TownDistricts{{Town: "ansonia", Districts: []model.District{residenceA, residenceA}}}

	var errs int
	for _, err := range ex.ExtractAll(context.Background(), towns, []string{"min lot size"}, 1, model.MethodMap) {
		require.Error(t, err)
		errs++
	}
	assert.Equal(t, 1, errs)
	assert.Equal(t, int32(1), s.calls.Load())
}
