package prompt

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Cache persists completions by call signature. A stored nil completion is
// a remembered null result and counts as a hit.
type Cache interface {
	GetPrompt(ctx context.Context, key string) (value []byte, found bool, err error)
	SetPrompt(ctx context.Context, key, model string, value []byte) error
}

var nullValue = []byte("null")

func encodeCompletion(c *Completion) ([]byte, error) {
	if c == nil {
		return nullValue, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, eris.Wrap(err, "prompt: encode completion")
	}
	return b, nil
}

func decodeCompletion(b []byte) (*Completion, error) {
	var c *Completion
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, eris.Wrap(err, "prompt: decode cached completion")
	}
	return c, nil
}
