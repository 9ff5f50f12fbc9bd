// Package boltindex is a vector index stored in a single bbolt file. It
// ranks chunks by cosine similarity with a linear scan, which is fine for
// the few hundred documents a kiosk serves.
package boltindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/koscakluka/ema-kiosk/core/retrieval"
	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	documentsBucket = []byte("documents")
	chunksBucket    = []byte("chunks")
)

var ErrNoEmbedder = errors.New("no embedder configured")

// DocumentInfo describes an ingested document.
type DocumentInfo struct {
	ID         string    `json:"id"`
	Source     string    `json:"source,omitempty"`
	Chunks     int       `json:"chunks"`
	IngestedAt time.Time `json:"ingested_at"`
}

type chunkRecord struct {
	DocumentID string    `json:"document_id"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector"`
}

// Index implements [retrieval.Retriever].
type Index struct {
	db        *bolt.DB
	embedder  retrieval.Embedder
	chunkSize int
}

type Option func(*Index)

// WithChunkSize sets the number of characters per chunk used when ingesting.
func WithChunkSize(size int) Option {
	return func(i *Index) {
		if size > 0 {
			i.chunkSize = size
		}
	}
}

// Open opens or creates the index file at path.
func Open(path string, embedder retrieval.Embedder, opts ...Option) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(documentsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(chunksBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare index buckets: %w", err)
	}

	index := &Index{db: db, embedder: embedder, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(index)
	}
	return index, nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

// Search embeds query and returns the topK most similar chunks, best first.
// An empty index returns no passages and no error.
func (i *Index) Search(ctx context.Context, query string, topK int) (passages []retrieval.Passage, err error) {
	ctx, span := tracer.Start(ctx, "search index")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if i.embedder == nil {
		return nil, ErrNoEmbedder
	}
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}

	vectors, err := i.embedder.Embed(ctx, []string{query}, retrieval.EmbeddingTaskQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected one query embedding, got %d", len(vectors))
	}
	queryVector := vectors[0]

	err = i.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(chunksBucket).ForEach(func(_, value []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			var chunk chunkRecord
			if err := json.Unmarshal(value, &chunk); err != nil {
				return nil
			}
			score, ok := cosine(queryVector, chunk.Vector)
			if !ok {
				return nil
			}

			passages = append(passages, retrieval.Passage{
				DocumentID: chunk.DocumentID,
				ChunkIndex: chunk.Index,
				Text:       chunk.Text,
				Score:      score,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan index: %w", err)
	}

	slices.SortStableFunc(passages, func(a, b retrieval.Passage) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(passages) > topK {
		passages = passages[:topK]
	}

	span.SetAttributes(attribute.Int("index.results", len(passages)))
	return passages, nil
}

// Documents lists the ingested documents ordered by ID.
func (i *Index) Documents() ([]DocumentInfo, error) {
	var documents []DocumentInfo
	err := i.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).ForEach(func(_, value []byte) error {
			var document DocumentInfo
			if err := json.Unmarshal(value, &document); err != nil {
				return nil
			}
			documents = append(documents, document)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return documents, nil
}

// Chunk returns the stored text of one chunk.
func (i *Index) Chunk(documentID string, index int) (string, bool, error) {
	var text string
	var found bool
	err := i.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(chunksBucket).Get(chunkKey(documentID, index))
		if value == nil {
			return nil
		}
		var chunk chunkRecord
		if err := json.Unmarshal(value, &chunk); err != nil {
			return err
		}
		text, found = chunk.Text, true
		return nil
	})
	return text, found, err
}

func (i *Index) putDocument(document DocumentInfo, chunks []chunkRecord) error {
	return i.db.Update(func(tx *bolt.Tx) error {
		chunkBucket := tx.Bucket(chunksBucket)
		prefix := chunkPrefix(document.ID)
		cursor := chunkBucket.Cursor()
		for key, _ := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, _ = cursor.Seek(prefix) {
			if err := chunkBucket.Delete(key); err != nil {
				return err
			}
		}

		for _, chunk := range chunks {
			encoded, err := json.Marshal(chunk)
			if err != nil {
				return err
			}
			if err := chunkBucket.Put(chunkKey(chunk.DocumentID, chunk.Index), encoded); err != nil {
				return err
			}
		}

		encoded, err := json.Marshal(document)
		if err != nil {
			return err
		}
		return tx.Bucket(documentsBucket).Put([]byte(document.ID), encoded)
	})
}

func chunkPrefix(documentID string) []byte {
	return append([]byte(documentID), 0)
}

func chunkKey(documentID string, index int) []byte {
	return fmt.Appendf(chunkPrefix(documentID), "%08d", index)
}

func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, true
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
