// Package openai wraps the OpenAI completions and chat completions
// endpoints, including token logprobs, behind a small, mockable interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rotisserie/eris"
)

// Client talks to the OpenAI API.
type Client interface {
	Completion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// CompletionRequest is our own request type for legacy text completions.
type CompletionRequest struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature *float64
	// Logprobs is the number of most likely alternatives returned per token.
	Logprobs *int
}

// CompletionResponse is a text completion result.
type CompletionResponse struct {
	ID      string
	Model   string
	Choices []CompletionChoice
	Usage   Usage
}

// CompletionChoice is a single text completion.
type CompletionChoice struct {
	Index        int
	Text         string
	FinishReason string
	Logprobs     *CompletionLogprobs
}

// CompletionLogprobs holds per-token logprobs of a text completion.
type CompletionLogprobs struct {
	Tokens        []string
	TokenLogprobs []float64
	TopLogprobs   []map[string]float64
}

// ChatCompletionRequest is our own request type for chat completions.
type ChatCompletionRequest struct {
	Model          string
	Messages       []Message
	MaxTokens      int
	Temperature    *float64
	Logprobs       bool
	TopLogprobs    int
	ResponseFormat *ResponseFormat
}

// ResponseFormat constrains the chat output format.
type ResponseFormat struct {
	Type string
}

// JSONObject forces the model to emit a JSON object.
var JSONObject = &ResponseFormat{Type: "json_object"}

// Message represents a single message in the conversation.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// ChatCompletionResponse is a chat completion result.
type ChatCompletionResponse struct {
	ID      string
	Model   string
	Choices []ChatChoice
	Usage   Usage
}

// ChatChoice is a single chat completion choice.
type ChatChoice struct {
	Index        int
	Message      Message
	FinishReason string
	Logprobs     *ChatLogprobs
}

// ChatLogprobs holds per-token logprobs of a chat completion.
type ChatLogprobs struct {
	Content []TokenLogprob
}

// TokenLogprob is a sampled token with its most likely alternatives.
type TokenLogprob struct {
	Token       string
	Logprob     float64
	TopLogprobs []TopLogprob
}

// TopLogprob is one alternative token.
type TopLogprob struct {
	Token   string
	Logprob float64
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the client.
type Option func(*[]option.RequestOption)

// WithBaseURL overrides the default API base URL. Empty keeps the default.
func WithBaseURL(url string) Option {
	return func(opts *[]option.RequestOption) {
		if url == "" {
			return
		}
		*opts = append(*opts, option.WithBaseURL(strings.TrimRight(url, "/")+"/"))
	}
}

// WithOrganization sets the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithOrganization(org))
	}
}

// sdkClient implements Client using the official openai-go SDK.
type sdkClient struct {
	client sdk.Client
}

// NewClient creates an OpenAI client backed by the SDK. SDK retries are
// disabled so the caller's retry policy is the only one in effect.
func NewClient(apiKey string, opts ...Option) Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &sdkClient{client: sdk.NewClient(reqOpts...)}
}

func (c *sdkClient) Completion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params := sdk.CompletionNewParams{
		Model:  sdk.CompletionNewParamsModel(req.Model),
		Prompt: sdk.CompletionNewParamsPromptUnion{OfString: sdk.String(req.Prompt)},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.Logprobs != nil {
		params.Logprobs = sdk.Int(int64(*req.Logprobs))
	}

	resp, err := c.client.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapError(err, "openai: completion")
	}
	return fromSDKCompletion(resp), nil
}

func (c *sdkClient) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(req.Model),
		Messages: toSDKMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.Logprobs {
		params.Logprobs = sdk.Bool(true)
		if req.TopLogprobs > 0 {
			params.TopLogprobs = sdk.Int(int64(req.TopLogprobs))
		}
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == JSONObject.Type {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapError(err, "openai: chat completion")
	}
	return fromSDKChatCompletion(resp), nil
}

// wrapError maps SDK API errors onto APIError so status-based retry
// classification applies.
func wrapError(err error, msg string) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		detail := apiErr.Message
		if detail == "" {
			detail = apiErr.Error()
		}
		return eris.Wrap(&APIError{StatusCode: apiErr.StatusCode, Message: detail}, msg)
	}
	return eris.Wrap(err, msg)
}

func toSDKMessages(msgs []Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case "system":
			out[i] = sdk.SystemMessage(m.Content)
		case "assistant":
			out[i] = sdk.AssistantMessage(m.Content)
		default:
			out[i] = sdk.UserMessage(m.Content)
		}
	}
	return out
}

func fromSDKCompletion(resp *sdk.Completion) *CompletionResponse {
	out := &CompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Choices: make([]CompletionChoice, 0, len(resp.Choices)),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}
	for _, ch := range resp.Choices {
		choice := CompletionChoice{
			Index:        int(ch.Index),
			Text:         ch.Text,
			FinishReason: string(ch.FinishReason),
		}
		lp := ch.Logprobs
		if len(lp.Tokens) > 0 || len(lp.TopLogprobs) > 0 {
			choice.Logprobs = &CompletionLogprobs{
				Tokens:        lp.Tokens,
				TokenLogprobs: lp.TokenLogprobs,
				TopLogprobs:   lp.TopLogprobs,
			}
		}
		out.Choices = append(out.Choices, choice)
	}
	return out
}

func fromSDKChatCompletion(resp *sdk.ChatCompletion) *ChatCompletionResponse {
	out := &ChatCompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Choices: make([]ChatChoice, 0, len(resp.Choices)),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}
	for _, ch := range resp.Choices {
		choice := ChatChoice{
			Index:        int(ch.Index),
			Message:      Message{Role: "assistant", Content: ch.Message.Content},
			FinishReason: string(ch.FinishReason),
		}
		if len(ch.Logprobs.Content) > 0 {
			content := make([]TokenLogprob, len(ch.Logprobs.Content))
			for i, tok := range ch.Logprobs.Content {
				alts := make([]TopLogprob, len(tok.TopLogprobs))
				for j, alt := range tok.TopLogprobs {
					alts[j] = TopLogprob{Token: alt.Token, Logprob: alt.Logprob}
				}
				content[i] = TokenLogprob{Token: tok.Token, Logprob: tok.Logprob, TopLogprobs: alts}
			}
			choice.Logprobs = &ChatLogprobs{Content: content}
		}
		out.Choices = append(out.Choices, choice)
	}
	return out
}
