// Package gemini generates answers and embeddings with the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/koscakluka/ema-kiosk/core/llms"
	"github.com/koscakluka/ema-kiosk/core/retrieval"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

const (
	DefaultModel          = "gemini-2.0-flash"
	DefaultEmbeddingModel = "text-embedding-004"
)

var ErrEmptyResponse = errors.New("model returned no text")

// Client implements [retrieval.Generator] and [retrieval.Embedder].
type Client struct {
	client         *genai.Client
	model          string
	embeddingModel string
	sampling       llms.Sampling
}

type ClientOption func(*clientOptions)

type clientOptions struct {
	model          string
	embeddingModel string
	baseURL        string
	sampling       llms.Sampling
}

func WithModel(model string) ClientOption {
	return func(o *clientOptions) {
		if model != "" {
			o.model = model
		}
	}
}

func WithEmbeddingModel(model string) ClientOption {
	return func(o *clientOptions) {
		if model != "" {
			o.embeddingModel = model
		}
	}
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) { o.baseURL = baseURL }
}

func WithSampling(opts ...llms.SamplingOption) ClientOption {
	return func(o *clientOptions) { o.sampling = o.sampling.With(opts...) }
}

func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	options := clientOptions{
		model:          DefaultModel,
		embeddingModel: DefaultEmbeddingModel,
		sampling:       llms.DefaultSampling(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	config := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	if options.baseURL != "" {
		config.HTTPOptions = genai.HTTPOptions{BaseURL: options.baseURL}
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Client{
		client:         client,
		model:          options.model,
		embeddingModel: options.embeddingModel,
		sampling:       options.sampling,
	}, nil
}

func (c *Client) Generate(ctx context.Context, prompt string) (text string, err error) {
	ctx, span := tracer.Start(ctx, "generate content")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.sampling.Temperature),
		TopP:            genai.Ptr(c.sampling.TopP),
		TopK:            genai.Ptr(float32(c.sampling.TopK)),
		MaxOutputTokens: int32(c.sampling.MaxOutputTokens),
	}
	if c.sampling.Instructions != "" {
		config.SystemInstruction = genai.NewContentFromText(c.sampling.Instructions, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if resp.UsageMetadata != nil {
		span.SetAttributes(
			attribute.Int("usage.input", int(resp.UsageMetadata.PromptTokenCount)),
			attribute.Int("usage.output", int(resp.UsageMetadata.CandidatesTokenCount)),
		)
	}

	text = resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (c *Client) Embed(ctx context.Context, texts []string, task retrieval.EmbeddingTask) (vectors [][]float32, err error) {
	ctx, span := tracer.Start(ctx, "embed content")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.model", c.embeddingModel),
		attribute.String("request.task", string(task)),
		attribute.Int("request.texts", len(texts)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	resp, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents, &genai.EmbedContentConfig{TaskType: string(task)})
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	vectors = make([][]float32, 0, len(resp.Embeddings))
	for _, embedding := range resp.Embeddings {
		vectors = append(vectors, embedding.Values)
	}
	logger.DebugContext(ctx, "embedded texts", "count", len(vectors), "task", string(task))
	return vectors, nil
}
