package groq

import (
	"context"
	"net/http"

	"github.com/koscakluka/ema-kiosk/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultURL   = "https://api.groq.com/openai/v1/chat/completions"
	DefaultModel = "llama-3.3-70b-versatile"

	endMessage  = "[DONE]"
	chunkPrefix = "data:"
)

// Client generates text through Groq's OpenAI compatible chat completions
// endpoint.
type Client struct {
	apiKey     string
	model      string
	url        string
	sampling   llms.Sampling
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func WithURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.url = url
		}
	}
}

func WithSampling(opts ...llms.SamplingOption) ClientOption {
	return func(c *Client) { c.sampling = c.sampling.With(opts...) }
}

func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:   apiKey,
		model:    DefaultModel,
		url:      DefaultURL,
		sampling: llms.DefaultSampling(),
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends prompt as a single user message and returns the full
// response.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return llms.Collect(ctx, c.PromptWithStream(prompt))
}

// PromptWithStream prepares a streamed completion. The request is sent when
// the returned stream's chunks are iterated.
func (c *Client) PromptWithStream(prompt string) *Stream {
	messages := []message{}
	if c.sampling.Instructions != "" {
		messages = append(messages, message{Role: messageRoleSystem, Content: c.sampling.Instructions})
	}
	messages = append(messages, message{Role: messageRoleUser, Content: prompt})

	return &Stream{
		client:   c,
		messages: messages,
	}
}
