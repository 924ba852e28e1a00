// Package store persists the prompt cache, extraction runs and their
// lookup results.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/zoning-cli/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Prompt cache. A stored value of "null" is a remembered null result.
	GetPrompt(ctx context.Context, key string) ([]byte, bool, error)
	SetPrompt(ctx context.Context, key, model string, value []byte) error

	// Runs
	CreateRun(ctx context.Context, method model.ExtractionMethod, terms []string, topK int) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lookup results
	SaveLookups(ctx context.Context, runID string, outs []model.AllLookupOutput) error
	ListLookups(ctx context.Context, runID string) ([]model.AllLookupOutput, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Pinger is implemented by stores backed by a database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

func finishState(runErr error) (model.RunStatus, string) {
	if runErr != nil {
		return model.RunStatusFailed, runErr.Error()
	}
	return model.RunStatusComplete, ""
}

func pageLimit(f RunFilter) int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}
