// Package render writes completed answers into the shared kiosk panel.
package render

import (
	"context"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-kiosk/core/retrieval"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Target is a surface owned by someone else that shows the latest answer.
type Target interface {
	Write(content string) error
}

// CouplingMetrics receives publish outcomes.
type CouplingMetrics interface {
	AnswerPublished()
	AnswerDropped()
}

type noopCouplingMetrics struct{}

func (noopCouplingMetrics) AnswerPublished() {}
func (noopCouplingMetrics) AnswerDropped()   {}

// Coupling guards writes to a single target so that it always shows the
// answer with the highest sequence written so far. An answer that finishes
// after a newer one has been written is dropped.
type Coupling struct {
	target  Target
	metrics CouplingMetrics

	mu          sync.Mutex
	lastWritten uint64
	written     bool
}

type CouplingOption func(*Coupling)

func WithCouplingMetrics(metrics CouplingMetrics) CouplingOption {
	return func(c *Coupling) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

func NewCoupling(target Target, opts ...CouplingOption) *Coupling {
	c := &Coupling{target: target, metrics: noopCouplingMetrics{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish writes answer to the target unless a newer answer was already
// written. The last written sequence only advances when the write succeeds.
func (c *Coupling) Publish(answer retrieval.Answer) (bool, error) {
	return c.publish(context.Background(), answer)
}

func (c *Coupling) publish(ctx context.Context, answer retrieval.Answer) (written bool, err error) {
	_, span := tracer.Start(ctx, "publish answer")
	defer span.End()
	span.SetAttributes(attribute.Int64("answer.sequence", int64(answer.Sequence)))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.written && answer.Sequence < c.lastWritten {
		c.metrics.AnswerDropped()
		span.SetAttributes(attribute.Bool("answer.stale", true))
		logger.InfoContext(ctx, "dropped stale answer", "sequence", answer.Sequence, "last_written", c.lastWritten)
		return false, nil
	}

	if err := c.target.Write(answer.Markdown()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to write answer %d: %w", answer.Sequence, err)
	}

	c.lastWritten, c.written = answer.Sequence, true
	c.metrics.AnswerPublished()
	return true, nil
}

// LastWritten returns the sequence of the answer currently on the target.
func (c *Coupling) LastWritten() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWritten, c.written
}

// Answerer produces answers for queries.
type Answerer interface {
	Answer(ctx context.Context, query retrieval.Query) (retrieval.Answer, error)
}

// AnswerAndPublish runs the pipeline and publishes its answer in the same
// call. A failed query leaves the target untouched.
func AnswerAndPublish(ctx context.Context, pipeline Answerer, coupling *Coupling, query retrieval.Query) (retrieval.Answer, bool, error) {
	answer, err := pipeline.Answer(ctx, query)
	if err != nil {
		return retrieval.Answer{}, false, err
	}

	written, err := coupling.publish(ctx, answer)
	return answer, written, err
}
