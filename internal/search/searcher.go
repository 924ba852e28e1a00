// Package search queries the per-town page index and narrows the hits to a
// non-overlapping, coverage-maximizing selection.
package search

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/zoning-cli/internal/model"
)

// ErrSearchUnavailable means the search backend could not serve the query.
var ErrSearchUnavailable = eris.New("search backend unavailable")

// ErrIndexNotFound means the town has no index.
var ErrIndexNotFound = eris.New("search index not found")

// Searcher finds candidate pages for a (town, district, term) lookup. Hits
// are ordered by descending score.
type Searcher interface {
	Search(ctx context.Context, town string, district model.District, term string) ([]model.PageSearchOutput, error)
}
