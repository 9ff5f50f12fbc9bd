package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrRetrieval marks a failed retrieval step. The pipeline recovers from
	// it by answering without context.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrGeneration marks a failed generation step. No answer is produced.
	ErrGeneration = errors.New("generation failed")
)

type TurnRole string

const (
	TurnRoleUser  TurnRole = "user"
	TurnRoleModel TurnRole = "model"
)

// Turn is a prior exchange included with a query for context.
type Turn struct {
	Role TurnRole
	Text string
}

// Query is an immutable user question with optional prior turns. TopK
// overrides the pipeline's passage count when positive.
type Query struct {
	Text    string
	History []Turn
	TopK    int
}

func NewQuery(text string, history ...Turn) Query {
	return Query{Text: strings.TrimSpace(text), History: append([]Turn(nil), history...)}
}

// Passage is a single retrieved chunk of an indexed document.
type Passage struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Context is the ordered set of passages retrieved for one query.
type Context struct {
	Passages []Passage
}

func (c Context) IsEmpty() bool { return len(c.Passages) == 0 }

// Sources returns the distinct document IDs in retrieval order.
func (c Context) Sources() []string {
	seen := make(map[string]struct{}, len(c.Passages))
	sources := make([]string, 0, len(c.Passages))
	for _, passage := range c.Passages {
		if _, ok := seen[passage.DocumentID]; ok {
			continue
		}
		seen[passage.DocumentID] = struct{}{}
		sources = append(sources, passage.DocumentID)
	}
	return sources
}

// Answer is the result of one pipeline run. Sequence is assigned when the
// query is issued, so a later query always has a higher sequence even if
// it finishes first.
type Answer struct {
	Sequence    uint64
	Query       Query
	Text        string
	Context     Context
	Degraded    bool
	GeneratedAt time.Time
}

// Markdown renders the answer for the kiosk panel.
func (a Answer) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Answer for: %s\n\n", a.Query.Text)
	if a.Degraded {
		b.WriteString("> Document search was unavailable. This answer is not based on the indexed documents.\n\n")
	}
	b.WriteString(strings.TrimSpace(a.Text))
	b.WriteString("\n\n## Sources\n\n")

	sources := a.Context.Sources()
	if len(sources) == 0 {
		b.WriteString("_No sources._\n")
		return b.String()
	}
	for _, source := range sources {
		fmt.Fprintf(&b, "- %s\n", source)
	}
	return b.String()
}

// Retriever finds the passages most relevant to a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]Passage, error)
}

// Generator produces text for a fully built prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type EmbeddingTask string

const (
	EmbeddingTaskQuery    EmbeddingTask = "RETRIEVAL_QUERY"
	EmbeddingTaskDocument EmbeddingTask = "RETRIEVAL_DOCUMENT"
)

// Embedder turns texts into vectors, one per text and in the same order.
type Embedder interface {
	Embed(ctx context.Context, texts []string, task EmbeddingTask) ([][]float32, error)
}
