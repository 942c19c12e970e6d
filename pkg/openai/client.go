// Package openai wraps go-openai for the JSON-mode chat calls made by the
// LLM stages, including the vision variant used by image search.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/sells-group/dupe-finder/internal/resilience"
)

// Client is the chat surface used by internal/llm.
type Client interface {
	ChatJSON(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Image is an inline image attached to a vision request.
type Image struct {
	Data     []byte
	MIMEType string
}

// DataURL encodes the image as a base64 data URL.
func (i Image) DataURL() string {
	mime := i.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// ChatRequest is a single system + user exchange that must answer in JSON.
type ChatRequest struct {
	Model       string
	System      string
	User        string
	Images      []Image
	Temperature float32
	MaxTokens   int
}

// ChatResponse carries the raw JSON text and token usage.
type ChatResponse struct {
	Content          string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Truncated reports whether the model stopped on the token limit.
func (r *ChatResponse) Truncated() bool {
	return r.FinishReason == string(goopenai.FinishReasonLength)
}

type sdkClient struct {
	client       *goopenai.Client
	defaultModel string
	visionModel  string
}

// Option configures the underlying SDK client.
type Option func(*goopenai.ClientConfig)

// WithHTTPClient overrides the SDK's http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(cfg *goopenai.ClientConfig) {
		if hc != nil {
			cfg.HTTPClient = hc
		}
	}
}

// NewClient creates a Client. baseURL may be empty for the public API.
func NewClient(apiKey, baseURL, model, visionModel string, opts ...Option) Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	for _, o := range opts {
		o(&cfg)
	}
	if visionModel == "" {
		visionModel = model
	}
	return &sdkClient{
		client:       goopenai.NewClientWithConfig(cfg),
		defaultModel: model,
		visionModel:  visionModel,
	}
}

func (c *sdkClient) ChatJSON(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
		if len(req.Images) > 0 {
			model = c.visionModel
		}
	}

	user := goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser}
	if len(req.Images) == 0 {
		user.Content = req.User
	} else {
		user.MultiContent = []goopenai.ChatMessagePart{{Type: goopenai.ChatMessagePartTypeText, Text: req.User}}
		for _, img := range req.Images {
			user.MultiContent = append(user.MultiContent, goopenai.ChatMessagePart{
				Type:     goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{URL: img.DataURL(), Detail: goopenai.ImageURLDetailAuto},
			})
		}
	}

	msgs := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, user)

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:          model,
		Messages:       msgs,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, classify(eris.Wrap(err, "openai: chat completion"))
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: no response choices")
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Content:          strings.TrimSpace(choice.Message.Content),
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.HTTPStatusCode) {
		return resilience.NewTransientError(err, apiErr.HTTPStatusCode)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && resilience.IsTransientHTTPStatus(reqErr.HTTPStatusCode) {
		return resilience.NewTransientError(err, reqErr.HTTPStatusCode)
	}
	return err
}
