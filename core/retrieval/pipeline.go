package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultTopK             = 5
	DefaultRetrievalTimeout = 10 * time.Second
)

// PipelineMetrics receives pipeline outcomes.
type PipelineMetrics interface {
	AnswerGenerated(degraded bool, duration time.Duration)
	GenerationFailed()
}

type noopPipelineMetrics struct{}

func (noopPipelineMetrics) AnswerGenerated(bool, time.Duration) {}
func (noopPipelineMetrics) GenerationFailed()                   {}

// Pipeline answers queries by retrieving context and generating from it.
// It is safe for concurrent use.
type Pipeline struct {
	retriever        Retriever
	generator        Generator
	topK             int
	retrievalTimeout time.Duration
	metrics          PipelineMetrics

	sequence   atomic.Uint64
	degradedCt metric.Int64Counter
}

type PipelineOption func(*Pipeline)

func WithTopK(topK int) PipelineOption {
	return func(p *Pipeline) {
		if topK > 0 {
			p.topK = topK
		}
	}
}

func WithRetrievalTimeout(timeout time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if timeout > 0 {
			p.retrievalTimeout = timeout
		}
	}
}

func WithPipelineMetrics(metrics PipelineMetrics) PipelineOption {
	return func(p *Pipeline) {
		if metrics != nil {
			p.metrics = metrics
		}
	}
}

// NewPipeline builds a pipeline. retriever may be nil, in which case every
// answer is degraded.
func NewPipeline(retriever Retriever, generator Generator, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		retriever:        retriever,
		generator:        generator,
		topK:             DefaultTopK,
		retrievalTimeout: DefaultRetrievalTimeout,
		metrics:          noopPipelineMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}

	counter, err := meter.Int64Counter("retrieval.degraded",
		metric.WithDescription("Answers generated without retrieved context"))
	if err != nil {
		logger.Warn("failed to create degraded counter", "error", err)
	}
	p.degradedCt = counter
	return p
}

// Answer runs retrieval then generation for query. A retrieval failure
// degrades the answer but generation still runs; a generation failure
// returns an error wrapping [ErrGeneration] and no answer.
func (p *Pipeline) Answer(ctx context.Context, query Query) (answer Answer, err error) {
	sequence := p.sequence.Add(1)
	started := time.Now()

	ctx, span := tracer.Start(ctx, "answer query")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("answer.sequence", int64(sequence)),
		attribute.Int("query.length", len(query.Text)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if p.generator == nil {
		return Answer{}, fmt.Errorf("%w: no generator configured", ErrGeneration)
	}

	retrieved, retrievalErr := p.retrieve(ctx, query)
	degraded := retrievalErr != nil
	if degraded {
		logger.WarnContext(ctx, "answering without context", "sequence", sequence, "error", retrievalErr)
		span.SetAttributes(attribute.Bool("answer.degraded", true))
		if p.degradedCt != nil {
			p.degradedCt.Add(ctx, 1)
		}
	}

	text, err := p.generator.Generate(ctx, buildPrompt(query, retrieved))
	if err != nil {
		p.metrics.GenerationFailed()
		return Answer{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	p.metrics.AnswerGenerated(degraded, time.Since(started))
	return Answer{
		Sequence:    sequence,
		Query:       query,
		Text:        text,
		Context:     retrieved,
		Degraded:    degraded,
		GeneratedAt: time.Now(),
	}, nil
}

func (p *Pipeline) retrieve(ctx context.Context, query Query) (Context, error) {
	if p.retriever == nil {
		return Context{}, fmt.Errorf("%w: no retriever configured", ErrRetrieval)
	}

	ctx, cancel := context.WithTimeout(ctx, p.retrievalTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "retrieve context")
	defer span.End()

	topK := p.topK
	if query.TopK > 0 {
		topK = query.TopK
	}

	passages, err := p.retriever.Search(ctx, query.Text, topK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", p.retrievalTimeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Context{}, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	span.SetAttributes(attribute.Int("retrieval.passages", len(passages)))
	return Context{Passages: passages}, nil
}
