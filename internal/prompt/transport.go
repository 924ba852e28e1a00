package prompt

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/zoning-cli/internal/cost"
	"github.com/sells-group/zoning-cli/pkg/anthropic"
	"github.com/sells-group/zoning-cli/pkg/openai"
)

// Transport performs one raw model call.
type Transport interface {
	Generate(ctx context.Context, spec ModelSpec, req Request) (*Completion, error)
}

// Router dispatches to a transport by provider.
type Router map[Provider]Transport

// Generate implements Transport.
func (r Router) Generate(ctx context.Context, spec ModelSpec, req Request) (*Completion, error) {
	t, ok := r[spec.Provider]
	if !ok || t == nil {
		return nil, eris.Errorf("prompt: no transport configured for provider %q", spec.Provider)
	}
	return t.Generate(ctx, spec, req)
}

// OpenAITransport serves completion and chat models over the OpenAI API.
type OpenAITransport struct {
	client openai.Client
}

// NewOpenAITransport wraps an OpenAI client.
func NewOpenAITransport(c openai.Client) *OpenAITransport {
	return &OpenAITransport{client: c}
}

// Generate implements Transport.
func (t *OpenAITransport) Generate(ctx context.Context, spec ModelSpec, req Request) (*Completion, error) {
	temp := req.Temperature
	topN := req.TopLogprobs
	if req.Logprobs && topN <= 0 {
		topN = 1
	}

	if spec.Variant == VariantCompletion {
		prompt := req.Prompt
		if prompt == "" {
			prompt = flattenMessages(req.Messages)
		}
		creq := openai.CompletionRequest{
			Model:       spec.Name,
			Prompt:      prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: &temp,
		}
		if req.Logprobs {
			creq.Logprobs = &topN
		}
		resp, err := t.client.Completion(ctx, creq)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, eris.Errorf("prompt: %s returned no choices", spec.Name)
		}
		choice := resp.Choices[0]
		return &Completion{
			Text:          choice.Text,
			TokenLogprobs: completionLogprobs(choice.Logprobs),
			Usage:         cost.Usage{Input: resp.Usage.PromptTokens, Output: resp.Usage.CompletionTokens},
		}, nil
	}

	msgs := req.chatMessages()
	creq := openai.ChatCompletionRequest{
		Model:       spec.Name,
		Messages:    make([]openai.Message, len(msgs)),
		MaxTokens:   req.MaxTokens,
		Temperature: &temp,
	}
	for i, m := range msgs {
		creq.Messages[i] = openai.Message{Role: m.Role, Content: m.Content}
	}
	if req.Logprobs {
		creq.Logprobs = true
		creq.TopLogprobs = topN
	}
	if req.JSONResponse && spec.Variant == VariantChatJSON {
		creq.ResponseFormat = openai.JSONObject
	}

	resp, err := t.client.ChatCompletion(ctx, creq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, eris.Errorf("prompt: %s returned no choices", spec.Name)
	}
	choice := resp.Choices[0]
	return &Completion{
		Text:          choice.Message.Content,
		TokenLogprobs: chatLogprobs(choice.Logprobs),
		Usage:         cost.Usage{Input: resp.Usage.PromptTokens, Output: resp.Usage.CompletionTokens},
	}, nil
}

// completionLogprobs merges the per-position top alternatives into one
// token table. Later positions win on duplicate tokens.
func completionLogprobs(lp *openai.CompletionLogprobs) map[string]float64 {
	if lp == nil {
		return nil
	}
	out := make(map[string]float64)
	if len(lp.TopLogprobs) > 0 {
		for _, pos := range lp.TopLogprobs {
			for tok, v := range pos {
				out[tok] = v
			}
		}
		return out
	}
	for i, tok := range lp.Tokens {
		if i < len(lp.TokenLogprobs) {
			out[tok] = lp.TokenLogprobs[i]
		}
	}
	return out
}

func chatLogprobs(lp *openai.ChatLogprobs) map[string]float64 {
	if lp == nil {
		return nil
	}
	out := make(map[string]float64)
	for _, pos := range lp.Content {
		if len(pos.TopLogprobs) == 0 {
			out[pos.Token] = pos.Logprob
			continue
		}
		for _, alt := range pos.TopLogprobs {
			out[alt.Token] = alt.Logprob
		}
	}
	return out
}

func flattenMessages(msgs []Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n\n")
}

// AnthropicTransport serves Claude chat models. The Messages API has no
// logprobs, so completions carry an empty token table.
type AnthropicTransport struct {
	client anthropic.Client
}

// NewAnthropicTransport wraps an Anthropic client.
func NewAnthropicTransport(c anthropic.Client) *AnthropicTransport {
	return &AnthropicTransport{client: c}
}

// Generate implements Transport. System messages become a cached system
// block.
func (t *AnthropicTransport) Generate(ctx context.Context, spec ModelSpec, req Request) (*Completion, error) {
	if spec.Variant == VariantCompletion {
		return nil, eris.Wrapf(ErrInvalidRequest, "prompt: %s does not accept completion requests", spec.Name)
	}

	var (
		system []string
		msgs   []anthropic.Message
	)
	for _, m := range req.chatMessages() {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		msgs = append(msgs, anthropic.Message{Role: m.Role, Content: m.Content})
	}

	temp := req.Temperature
	resp, err := t.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       spec.Name,
		MaxTokens:   int64(req.MaxTokens),
		System:      anthropic.BuildCachedSystemBlocks(strings.Join(system, "\n\n")),
		Messages:    msgs,
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}

	return &Completion{
		Text: resp.Text(),
		Usage: cost.Usage{
			Input:      int(resp.Usage.InputTokens),
			Output:     int(resp.Usage.OutputTokens),
			CacheWrite: int(resp.Usage.CacheCreationInputTokens),
			CacheRead:  int(resp.Usage.CacheReadInputTokens),
		},
	}, nil
}
