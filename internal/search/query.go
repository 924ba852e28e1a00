package search

import (
	"encoding/json"

	coresearch "github.com/elastic/go-elasticsearch/v8/typedapi/core/search"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"

	"github.com/sells-group/zoning-cli/internal/model"
	"github.com/sells-group/zoning-cli/internal/thesaurus"
)

// Query is a typed Elasticsearch query tree.
type Query struct {
	*types.Query
}

// Options tune query construction and result size.
type Options struct {
	// K caps the number of hits returned.
	K int
	// DistrictFuzzy adds edit-distance matches on the district names.
	DistrictFuzzy bool
	// TermFuzzy adds edit-distance matches on the term synonyms.
	TermFuzzy bool
	// Label is recorded in each hit's log for audit.
	Label string
	// TextField is the indexed page text field. Default: "Text".
	TextField string
	// PageField is the indexed page number field. Default: "Page".
	PageField string
}

func (o Options) withDefaults() Options {
	if o.K <= 0 {
		o.K = 10
	}
	if o.TextField == "" {
		o.TextField = "Text"
	}
	if o.PageField == "" {
		o.PageField = "Page"
	}
	return o
}

func matchPhrase(field, text string) types.Query {
	return types.Query{MatchPhrase: map[string]types.MatchPhraseQuery{field: {Query: text}}}
}

func fuzzyMatch(field, text string) types.Query {
	return types.Query{Match: map[string]types.MatchQuery{field: {Query: text, Fuzziness: "AUTO"}}}
}

func should(clauses ...types.Query) types.Query {
	return types.Query{Bool: &types.BoolQuery{Should: clauses, MinimumShouldMatch: 1}}
}

func must(clauses ...types.Query) types.Query {
	return types.Query{Bool: &types.BoolQuery{Must: clauses}}
}

// BuildQuery constructs the district AND term AND dimension query for a
// lookup.
func BuildQuery(th thesaurus.Thesaurus, district model.District, term string, opts Options) Query {
	opts = opts.withDefaults()
	q := must(
		districtClause(district, opts),
		phraseClause(th.Expand(term), opts.TextField, opts.TermFuzzy),
		phraseClause(th.ExpandDimensions(term), opts.TextField, false),
	)
	return Query{Query: &q}
}

func districtClause(d model.District, opts Options) types.Query {
	var names []string
	if d.FullName != "" {
		names = append(names, d.FullName)
	}
	if d.ShortName != "" {
		names = append(names, d.ShortNameVariants()...)
	}

	exact := make([]types.Query, 0, len(names))
	for _, n := range names {
		exact = append(exact, matchPhrase(opts.TextField, n))
	}
	if !opts.DistrictFuzzy {
		return should(exact...)
	}

	var fuzzy []types.Query
	for _, n := range []string{d.ShortName, d.FullName} {
		if n != "" {
			fuzzy = append(fuzzy, fuzzyMatch(opts.TextField, n))
		}
	}
	return should(should(exact...), should(fuzzy...))
}

func phraseClause(phrases []string, field string, fuzzy bool) types.Query {
	clauses := make([]types.Query, 0, len(phrases)*2)
	for _, p := range phrases {
		clauses = append(clauses, matchPhrase(field, p))
	}
	if fuzzy {
		for _, p := range phrases {
			clauses = append(clauses, fuzzyMatch(field, p))
		}
	}
	return should(clauses...)
}

// searchRequest wraps a query with size and highlight settings.
func searchRequest(q Query, opts Options) *coresearch.Request {
	size := opts.K
	return &coresearch.Request{
		Query: q.Query,
		Size:  &size,
		Highlight: &types.Highlight{
			Fields: map[string]types.HighlightField{opts.TextField: {}},
		},
	}
}

// String renders q as JSON for audit logs.
func (q Query) String() string {
	if q.Query == nil {
		return "{}"
	}
	b, err := json.Marshal(q.Query)
	if err != nil {
		return "{}"
	}
	return string(b)
}
