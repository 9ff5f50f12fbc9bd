package boltindex

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/koscakluka/ema-kiosk/core/retrieval"
	"go.opentelemetry.io/otel/attribute"
)

const DefaultChunkSize = 1000

var ingestableExtensions = map[string]struct{}{".md": {}, ".txt": {}}

// Document is raw text to be ingested under ID.
type Document struct {
	ID     string
	Source string
	Text   string
}

// IngestReport summarizes an ingestion run.
type IngestReport struct {
	Documents     int
	Chunks        int
	SkippedChunks int
	Failed        []string
}

// IngestDir ingests every .md and .txt file under dir. Document IDs are the
// slash separated paths relative to dir.
func (i *Index) IngestDir(ctx context.Context, dir string) (IngestReport, error) {
	var documents []Document
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if _, ok := ingestableExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		relative, err := filepath.Rel(dir, path)
		if err != nil {
			relative = entry.Name()
		}
		documents = append(documents, Document{ID: filepath.ToSlash(relative), Source: path, Text: string(content)})
		return nil
	})
	if err != nil {
		return IngestReport{}, fmt.Errorf("failed to load documents: %w", err)
	}

	return i.Ingest(ctx, documents...)
}

// Ingest chunks, embeds and stores documents. Re-ingesting a document
// replaces its chunks. Chunks that fail to embed are skipped; a document
// with no embedded chunks is reported as failed.
func (i *Index) Ingest(ctx context.Context, documents ...Document) (IngestReport, error) {
	ctx, span := tracer.Start(ctx, "ingest documents")
	defer span.End()
	span.SetAttributes(attribute.Int("ingest.documents", len(documents)))

	if i.embedder == nil {
		return IngestReport{}, ErrNoEmbedder
	}

	report := IngestReport{}
	for _, document := range documents {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		chunks := splitText(document.Text, i.chunkSize)
		records := make([]chunkRecord, 0, len(chunks))
		for index, text := range chunks {
			vectors, err := i.embedder.Embed(ctx, []string{text}, retrieval.EmbeddingTaskDocument)
			if err != nil || len(vectors) != 1 {
				logger.WarnContext(ctx, "skipping chunk", "document", document.ID, "chunk", index, "error", err)
				report.SkippedChunks++
				continue
			}
			records = append(records, chunkRecord{DocumentID: document.ID, Index: index, Text: text, Vector: vectors[0]})
		}

		if len(records) == 0 {
			report.Failed = append(report.Failed, document.ID)
			continue
		}

		info := DocumentInfo{ID: document.ID, Source: document.Source, Chunks: len(records), IngestedAt: time.Now()}
		if err := i.putDocument(info, records); err != nil {
			return report, fmt.Errorf("failed to store %s: %w", document.ID, err)
		}
		report.Documents++
		report.Chunks += len(records)
		logger.InfoContext(ctx, "ingested document", "document", document.ID, "chunks", len(records))
	}

	return report, nil
}

// splitText cuts text into chunks of at most size characters. Whitespace-only
// chunks are dropped.
func splitText(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks []string
	for len(text) > 0 {
		end, count := 0, 0
		for end < len(text) && count < size {
			_, width := utf8.DecodeRuneInString(text[end:])
			end += width
			count++
		}
		if chunk := text[:end]; strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		text = text[end:]
	}
	return chunks
}
