package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-kiosk/core/render"
	"github.com/koscakluka/ema-kiosk/core/retrieval"
	"github.com/koscakluka/ema-kiosk/core/retrieval/boltindex"
)

const maxTopK = 20

type searchParameters struct {
	Query string `json:"query" jsonschema:"description=What to look for in the kiosk documents"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=How many passages to retrieve,minimum=1,maximum=20"`
}

type passageResult struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// SearchDocuments answers a question from the indexed documents and shows
// the answer on the kiosk panel.
func SearchDocuments(pipeline render.Answerer, coupling *render.Coupling) Tool {
	return NewTool("search_documents",
		"Search the kiosk documents and show the answer on the screen. Use it for questions about the place, its services or its information.",
		func(ctx context.Context, parameters searchParameters) (any, error) {
			if strings.TrimSpace(parameters.Query) == "" {
				return nil, errors.New("query is required")
			}

			query := retrieval.NewQuery(parameters.Query)
			query.TopK = min(parameters.TopK, maxTopK)

			answer, displayed, err := render.AnswerAndPublish(ctx, pipeline, coupling, query)
			if err != nil && answer.Text == "" {
				return nil, err
			}
			if err != nil {
				logger.WarnContext(ctx, "failed to display answer", "sequence", answer.Sequence, "error", err)
			}

			var passages []passageResult
			if err := copier.Copy(&passages, answer.Context.Passages); err != nil {
				return nil, fmt.Errorf("failed to map passages: %w", err)
			}

			return map[string]any{
				"answer":    answer.Text,
				"sources":   answer.Context.Sources(),
				"passages":  passages,
				"degraded":  answer.Degraded,
				"displayed": displayed,
			}, nil
		})
}

// CurrentTime reports the local time. now is injectable for tests.
func CurrentTime(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return NewTool("get_current_time", "Get the current local time, date and day of the week.",
		func(context.Context, struct{}) (any, error) {
			current := now()
			return map[string]any{
				"time":     current.Format("15:04:05"),
				"date":     current.Format("2006-01-02"),
				"weekday":  current.Weekday().String(),
				"timezone": current.Location().String(),
			}, nil
		})
}

// DocumentLister lists what has been ingested.
type DocumentLister interface {
	Documents() ([]boltindex.DocumentInfo, error)
}

type documentSummary struct {
	ID     string `json:"id"`
	Chunks int    `json:"chunks"`
}

func ListDocuments(lister DocumentLister) Tool {
	return NewTool("list_available_documents", "List the documents the kiosk can answer questions from.",
		func(context.Context, struct{}) (any, error) {
			documents, err := lister.Documents()
			if err != nil {
				return nil, err
			}

			summaries := []documentSummary{}
			if err := copier.Copy(&summaries, documents); err != nil {
				return nil, fmt.Errorf("failed to map documents: %w", err)
			}
			return map[string]any{"documents": summaries}, nil
		})
}
