package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/zoning-cli/internal/model"
	"github.com/sells-group/zoning-cli/internal/resilience"
	"github.com/sells-group/zoning-cli/internal/thesaurus"
)

func esError(status int, typ string) string {
	return fmt.Sprintf(`{"error": {"type": %q, "reason": "test failure"}, "status": %d}`, typ, status)
}

func newTestSearcher(t *testing.T, handler http.HandlerFunc, opts Options, cb resilience.CircuitBreakerConfig) *ElasticSearcher {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	es, err := NewElasticClient(ElasticConfig{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewElasticSearcher(es, thesaurus.Default(), opts, cb)
}

func TestElasticSearcher_Search(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	s := newTestSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		_, _ = w.Write([]byte(`{
			"hits": {"hits": [
				{"_score": 1.5, "_source": {"Text": "NEW PAGE 4\nlot area", "Page": 4}, "highlight": {"Text": ["<em>lot area</em>"]}},
				{"_score": 3.2, "_source": {"Text": "NEW PAGE 9\nminimum lot size", "Page": 9}},
				{"_score": 0.4, "_source": {"Text": "other", "Page": 12}}
			]}
		}`))
	}, Options{K: 2, Label: "baseline"}, resilience.CircuitBreakerConfig{})

	hits, err := s.Search(context.Background(), "ansonia", model.District{FullName: "Residence A", ShortName: "A"}, "min lot size")
	require.NoError(t, err)

	assert.Equal(t, "/ansonia/_search", gotPath)
	assert.EqualValues(t, 2, gotBody["size"])
	assert.Contains(t, gotBody["highlight"].(map[string]any)["fields"], "Text")
	_, hasBool := gotBody["query"].(map[string]any)["bool"]
	assert.True(t, hasBool)

	require.Len(t, hits, 2)
	assert.Equal(t, 9, hits[0].PageNumber)
	assert.Equal(t, 3.2, hits[0].Score)
	assert.Equal(t, 4, hits[1].PageNumber)
	assert.Equal(t, []string{"<em>lot area</em>"}, hits[1].Highlight)
	assert.Equal(t, "baseline", hits[1].Log["label"])
	assert.True(t, strings.HasPrefix(hits[0].Query, `{"bool"`))
}

func TestElasticSearcher_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"index_missing", http.StatusNotFound, ErrIndexNotFound},
		{"unavailable", http.StatusServiceUnavailable, ErrSearchUnavailable},
		{"rate_limited", http.StatusTooManyRequests, ErrSearchUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSearcher(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(esError(tt.status, "nope")))
			}, Options{}, resilience.CircuitBreakerConfig{FailureThreshold: 10})

			_, err := s.Search(context.Background(), "nowhere", model.District{ShortName: "R"}, "min lot size")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestElasticSearcher_BadRequestNotUnavailable(t *testing.T) {
	s := newTestSearcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(esError(http.StatusBadRequest, "parsing_exception")))
	}, Options{}, resilience.CircuitBreakerConfig{})

	_, err := s.Search(context.Background(), "town", model.District{ShortName: "R"}, "min lot size")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSearchUnavailable)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "parsing_exception")
}

func TestElasticSearcher_TransportFailureUnavailable(t *testing.T) {
	es, err := NewElasticClient(ElasticConfig{Addresses: []string{"http://127.0.0.1:1"}})
	require.NoError(t, err)
	s := NewElasticSearcher(es, thesaurus.Default(), Options{}, resilience.CircuitBreakerConfig{})

	_, err = s.Search(context.Background(), "town", model.District{ShortName: "R"}, "min lot size")
	require.ErrorIs(t, err, ErrSearchUnavailable)
}

func TestElasticSearcher_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	s := newTestSearcher(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(esError(http.StatusServiceUnavailable, "unavailable")))
	}, Options{}, resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

	d := model.District{ShortName: "R"}
	for range 2 {
		_, err := s.Search(context.Background(), "town", d, "min lot size")
		require.ErrorIs(t, err, ErrSearchUnavailable)
	}
	assert.Equal(t, resilience.CircuitOpen, s.breaker.State())

	_, err := s.Search(context.Background(), "town", d, "min lot size")
	require.ErrorIs(t, err, ErrSearchUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestElasticSearcher_IndexMissingDoesNotTrip(t *testing.T) {
	s := newTestSearcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(esError(http.StatusNotFound, "index_not_found_exception")))
	}, Options{}, resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	for range 3 {
		_, err := s.Search(context.Background(), "ghost", model.District{ShortName: "R"}, "min lot size")
		require.ErrorIs(t, err, ErrIndexNotFound)
	}
	assert.Equal(t, resilience.CircuitClosed, s.breaker.State())
}
