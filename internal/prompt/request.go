package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"

	"github.com/sells-group/zoning-cli/internal/cost"
)

// Role values for Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role/content pair of a chat input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single model call. Either Prompt or Messages carries the
// input; chat models wrap a bare Prompt in one user message.
type Request struct {
	Model       string    `json:"model"`
	Prompt      string    `json:"prompt,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	// Logprobs asks for the per-token logprob table.
	Logprobs bool `json:"logprobs"`
	// TopLogprobs is the number of alternatives recorded per position.
	TopLogprobs int `json:"top_logprobs,omitempty"`
	// JSONResponse enables strict JSON output on models that support it.
	JSONResponse bool `json:"json_response"`
}

// CacheKey hashes the full call signature.
func (r Request) CacheKey() string {
	b, _ := json.Marshal(r)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// chatMessages returns the chat input for r.
func (r Request) chatMessages() []Message {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	return []Message{{Role: RoleUser, Content: r.Prompt}}
}

// Completion is the text a model produced.
type Completion struct {
	Text string `json:"text"`
	// TokenLogprobs maps each token to its logprob. Empty when the model
	// or request does not provide logprobs.
	TokenLogprobs map[string]float64 `json:"token_logprobs,omitempty"`
	Usage         cost.Usage         `json:"usage"`
}

// clone returns a deep copy so cached values are never shared with callers.
func (c *Completion) clone() *Completion {
	if c == nil {
		return nil
	}
	out := *c
	out.TokenLogprobs = maps.Clone(c.TokenLogprobs)
	return &out
}
