package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/elastic/go-elasticsearch/v8"
	coresearch "github.com/elastic/go-elasticsearch/v8/typedapi/core/search"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zoning-cli/internal/model"
	"github.com/sells-group/zoning-cli/internal/resilience"
	"github.com/sells-group/zoning-cli/internal/thesaurus"
)

// ElasticConfig holds connection settings for the search cluster.
type ElasticConfig struct {
	Addresses []string
	Username  string
	Password  string
}

// NewElasticClient creates a typed Elasticsearch client. Client-side
// retries are disabled; failures surface to the circuit breaker instead.
func NewElasticClient(cfg ElasticConfig) (*elasticsearch.TypedClient, error) {
	es, err := elasticsearch.NewTypedClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DisableRetry: true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "elastic: create client")
	}
	return es, nil
}

// ElasticSearcher implements Searcher against an Elasticsearch cluster
// holding one index per town.
type ElasticSearcher struct {
	es      *elasticsearch.TypedClient
	th      thesaurus.Thesaurus
	opts    Options
	breaker *resilience.CircuitBreaker
}

// NewElasticSearcher creates a searcher guarded by a circuit breaker. Only
// availability failures count toward tripping it.
func NewElasticSearcher(es *elasticsearch.TypedClient, th thesaurus.Thesaurus, opts Options, breakerCfg resilience.CircuitBreakerConfig) *ElasticSearcher {
	if breakerCfg.Name == "" {
		breakerCfg.Name = "elasticsearch"
	}
	if breakerCfg.ShouldTrip == nil {
		breakerCfg.ShouldTrip = func(err error) bool { return errors.Is(err, ErrSearchUnavailable) }
	}
	return &ElasticSearcher{
		es:      es,
		th:      th,
		opts:    opts.withDefaults(),
		breaker: resilience.NewCircuitBreaker(breakerCfg),
	}
}

// Search runs the lookup query against the town's index.
func (s *ElasticSearcher) Search(ctx context.Context, town string, district model.District, term string) ([]model.PageSearchOutput, error) {
	q := BuildQuery(s.th, district, term, s.opts)
	req := searchRequest(q, s.opts)

	resp, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*coresearch.Response, error) {
		return s.do(ctx, town, req)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, eris.Wrapf(ErrSearchUnavailable, "elastic: search %s: %v", town, err)
		}
		return nil, err
	}

	queryJSON := q.String()
	out := make([]model.PageSearchOutput, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		hit, err := s.toPage(h, queryJSON)
		if err != nil {
			zap.L().Warn("elastic: skipping malformed hit", zap.String("town", town), zap.Error(err))
			continue
		}
		out = append(out, hit)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > s.opts.K {
		out = out[:s.opts.K]
	}

	zap.L().Debug("elastic: search complete",
		zap.String("town", town),
		zap.String("district", district.ShortName),
		zap.String("term", term),
		zap.Int("hits", len(out)),
	)
	return out, nil
}

func (s *ElasticSearcher) do(ctx context.Context, town string, req *coresearch.Request) (*coresearch.Response, error) {
	resp, err := s.es.Search().Index(town).Request(req).Do(ctx)
	if err == nil {
		return resp, nil
	}

	var esErr *types.ElasticsearchError
	if !errors.As(err, &esErr) {
		return nil, eris.Wrapf(ErrSearchUnavailable, "elastic: search %s: %v", town, err)
	}
	switch {
	case esErr.Status == http.StatusNotFound:
		return nil, eris.Wrapf(ErrIndexNotFound, "elastic: index %s", town)
	case esErr.Status == http.StatusTooManyRequests || esErr.Status >= 500:
		return nil, eris.Wrapf(ErrSearchUnavailable, "elastic: search %s: status %d: %s", town, esErr.Status, errorReason(esErr))
	default:
		return nil, eris.Errorf("elastic: search %s: status %d: %s", town, esErr.Status, errorReason(esErr))
	}
}

func errorReason(e *types.ElasticsearchError) string {
	if e.ErrorCause.Reason != nil {
		return e.ErrorCause.Type + ": " + *e.ErrorCause.Reason
	}
	return e.ErrorCause.Type
}

func (s *ElasticSearcher) toPage(h types.Hit, queryJSON string) (model.PageSearchOutput, error) {
	var source map[string]json.RawMessage
	if len(h.Source_) > 0 {
		if err := json.Unmarshal(h.Source_, &source); err != nil {
			return model.PageSearchOutput{}, eris.Wrap(err, "decode source")
		}
	}
	var text string
	if raw, ok := source[s.opts.TextField]; ok {
		if err := json.Unmarshal(raw, &text); err != nil {
			return model.PageSearchOutput{}, eris.Wrap(err, "decode text field")
		}
	}
	var page int
	if raw, ok := source[s.opts.PageField]; ok {
		if err := json.Unmarshal(raw, &page); err != nil {
			return model.PageSearchOutput{}, eris.Wrap(err, "decode page field")
		}
	}
	var score float64
	if h.Score_ != nil {
		score = float64(*h.Score_)
	}
	return model.PageSearchOutput{
		Text:       text,
		PageNumber: page,
		Highlight:  h.Highlight[s.opts.TextField],
		Score:      score,
		Query:      queryJSON,
		Log:        map[string]string{"label": s.opts.Label},
	}, nil
}
