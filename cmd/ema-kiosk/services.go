package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/koscakluka/ema-kiosk/core/llms/gemini"
	"github.com/koscakluka/ema-kiosk/core/llms/groq"
	"github.com/koscakluka/ema-kiosk/core/render"
	"github.com/koscakluka/ema-kiosk/core/retrieval"
	"github.com/koscakluka/ema-kiosk/core/retrieval/boltindex"
	"github.com/koscakluka/ema-kiosk/core/tools"
	"github.com/koscakluka/ema-kiosk/internal/config"
	"github.com/koscakluka/ema-kiosk/internal/metrics"
)

// services holds everything the kiosk shares between the live session, the
// HTTP server and the one-shot commands.
type services struct {
	index    *boltindex.Index
	pipeline *retrieval.Pipeline
	panel    *render.Memory
	coupling *render.Coupling
	tools    *tools.Registry
	metrics  *metrics.Metrics
}

func newServices(ctx context.Context, cfg config.Config) (*services, error) {
	llm, err := gemini.NewClient(ctx, cfg.GoogleAPIKey,
		gemini.WithModel(cfg.Retrieval.GenerationModel),
		gemini.WithEmbeddingModel(cfg.Retrieval.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	var generator retrieval.Generator = llm
	if cfg.Retrieval.Generator == config.GeneratorGroq {
		generator = groq.NewClient(cfg.GroqAPIKey, groq.WithModel(cfg.Retrieval.GenerationModel))
	}

	index, err := boltindex.Open(cfg.Retrieval.IndexPath, llm, boltindex.WithChunkSize(cfg.Retrieval.ChunkSize))
	if err != nil {
		return nil, err
	}

	m := metrics.New("ema_kiosk")
	pipeline := retrieval.NewPipeline(index, generator,
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithRetrievalTimeout(cfg.Retrieval.Timeout),
		retrieval.WithPipelineMetrics(m),
	)

	panelFile := render.NewMarkdownFile(cfg.Panel.Path)
	initial, err := panelFile.Load()
	if err != nil {
		slog.Warn("failed to load previous panel", "path", panelFile.Path(), "error", err)
	}
	panel := render.NewMemory(initial)
	coupling := render.NewCoupling(render.Mirrored{Primary: panel, Mirrors: []render.Target{panelFile}}, render.WithCouplingMetrics(m))

	registry := tools.NewRegistry(
		tools.SearchDocuments(pipeline, coupling),
		tools.CurrentTime(nil),
		tools.ListDocuments(index),
	)

	return &services{
		index:    index,
		pipeline: pipeline,
		panel:    panel,
		coupling: coupling,
		tools:    registry,
		metrics:  m,
	}, nil
}

func (s *services) Close() error {
	return s.index.Close()
}

// ask answers query from the documents and shows the answer on the panel.
func (s *services) ask(ctx context.Context, query string) (retrieval.Answer, error) {
	answer, written, err := render.AnswerAndPublish(ctx, s.pipeline, s.coupling, retrieval.NewQuery(query))
	if err != nil {
		return answer, err
	}
	if !written {
		slog.Debug("answer superseded before it reached the panel", "sequence", answer.Sequence)
	}
	return answer, nil
}

func runAsk(ctx context.Context, cfg config.Config, query string, stdout io.Writer) (err error) {
	svc, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, svc.Close()) }()

	answer, err := svc.ask(ctx, query)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, answer.Markdown())
	return err
}

func runIngest(ctx context.Context, cfg config.Config, dir string, stdout io.Writer) (err error) {
	svc, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, svc.Close()) }()

	report, err := svc.index.IngestDir(ctx, dir)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "indexed %d documents (%d chunks) from %s\n", report.Documents, report.Chunks, dir)
	if report.SkippedChunks > 0 {
		fmt.Fprintf(stdout, "skipped %d chunks that could not be embedded\n", report.SkippedChunks)
	}
	for _, failed := range report.Failed {
		fmt.Fprintf(stdout, "failed: %s\n", failed)
	}
	return nil
}
