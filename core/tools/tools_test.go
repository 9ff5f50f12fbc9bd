package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/core/render"
	"github.com/koscakluka/ema-kiosk/core/retrieval"
	"github.com/koscakluka/ema-kiosk/core/retrieval/boltindex"
)

type greetParameters struct {
	Name string `json:"name" jsonschema:"description=Who to greet"`
}

func greetTool() Tool {
	return NewTool("greet", "Greets someone", func(_ context.Context, parameters greetParameters) (any, error) {
		if parameters.Name == "" {
			return nil, errors.New("name is required")
		}
		return "hello " + parameters.Name, nil
	})
}

func call(name, arguments string) events.FunctionCall {
	return events.FunctionCall{ID: "call-1", Name: name, Arguments: json.RawMessage(arguments)}
}

func TestNewToolReflectsParameters(t *testing.T) {
	tool := greetTool()

	if tool.Parameters == nil {
		t.Fatalf("expected parameters schema")
	}
	property, ok := tool.Parameters.Properties.Get("name")
	if !ok || property.Type != "string" || property.Description != "Who to greet" {
		t.Fatalf("expected described string property, got %+v", property)
	}
	if tool.Parameters.Version != "" {
		t.Fatalf("expected schema version to be stripped, got %q", tool.Parameters.Version)
	}

	if CurrentTime(nil).Parameters != nil {
		t.Fatalf("expected tool without parameters to have no schema")
	}
}

func TestRegistryExecutesByName(t *testing.T) {
	registry := NewRegistry(greetTool())

	result := registry.Execute(context.Background(), call("greet", `{"name":"Ana"}`))
	if result.ID != "call-1" || result.Name != "greet" {
		t.Fatalf("expected result to echo the call, got %+v", result)
	}
	if result.Response["output"] != "hello Ana" {
		t.Fatalf("expected greeting output, got %+v", result.Response)
	}
}

func TestRegistryReportsFailuresInResponse(t *testing.T) {
	registry := NewRegistry(greetTool())

	cases := []struct {
		name      string
		call      events.FunctionCall
		wantError string
	}{
		{name: "unknown tool", call: call("missing", `{}`), wantError: "tool not found"},
		{name: "invalid arguments", call: call("greet", `{"name":`), wantError: "invalid arguments"},
		{name: "tool error", call: call("greet", `{}`), wantError: "name is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := registry.Execute(context.Background(), tc.call)
			message, _ := result.Response["error"].(string)
			if !strings.Contains(message, tc.wantError) {
				t.Fatalf("expected error containing %q, got %+v", tc.wantError, result.Response)
			}
		})
	}
}

func TestRegistryDeclarationsKeepOrder(t *testing.T) {
	registry := NewRegistry(greetTool(), CurrentTime(nil))
	registry.Register(greetTool())

	declarations := registry.Declarations()
	if len(declarations) != 2 || declarations[0].Name != "greet" || declarations[1].Name != "get_current_time" {
		t.Fatalf("expected greet then get_current_time, got %+v", declarations)
	}
}

func TestCurrentTime(t *testing.T) {
	fixed := time.Date(2024, time.March, 4, 13, 5, 9, 0, time.UTC)
	registry := NewRegistry(CurrentTime(func() time.Time { return fixed }))

	result := registry.Execute(context.Background(), call("get_current_time", ``))
	if result.Response["time"] != "13:05:09" || result.Response["date"] != "2024-03-04" || result.Response["weekday"] != "Monday" {
		t.Fatalf("expected fixed time, got %+v", result.Response)
	}
}

type answererStub struct {
	query retrieval.Query
}

func (stub *answererStub) Answer(_ context.Context, query retrieval.Query) (retrieval.Answer, error) {
	stub.query = query
	return retrieval.Answer{
		Sequence: 1,
		Query:    query,
		Text:     "Parking is free.",
		Context: retrieval.Context{Passages: []retrieval.Passage{
			{DocumentID: "parking.md", ChunkIndex: 0, Text: "Parking is free.", Score: 0.9},
		}},
	}, nil
}

func TestSearchDocumentsPublishesAnswer(t *testing.T) {
	pipeline := &answererStub{}
	panel := render.NewMemory("")
	registry := NewRegistry(SearchDocuments(pipeline, render.NewCoupling(panel)))

	result := registry.Execute(context.Background(), call("search_documents", `{"query":"is parking free?","top_k":50}`))
	if result.Response["answer"] != "Parking is free." || result.Response["displayed"] != true {
		t.Fatalf("expected displayed answer, got %+v", result.Response)
	}
	if pipeline.query.TopK != maxTopK {
		t.Fatalf("expected top k to be capped at %d, got %d", maxTopK, pipeline.query.TopK)
	}
	passages, ok := result.Response["passages"].([]passageResult)
	if !ok || len(passages) != 1 || passages[0].DocumentID != "parking.md" {
		t.Fatalf("expected mapped passages, got %+v", result.Response["passages"])
	}

	content, _ := panel.Content()
	if !strings.Contains(content, "# Answer for: is parking free?") {
		t.Fatalf("expected panel to show the answer, got %q", content)
	}
}

func TestSearchDocumentsRequiresQuery(t *testing.T) {
	registry := NewRegistry(SearchDocuments(&answererStub{}, render.NewCoupling(render.NewMemory(""))))

	result := registry.Execute(context.Background(), call("search_documents", `{"query":"  "}`))
	if _, ok := result.Response["error"]; !ok {
		t.Fatalf("expected error for empty query, got %+v", result.Response)
	}
}

type listerStub struct{}

func (listerStub) Documents() ([]boltindex.DocumentInfo, error) {
	return []boltindex.DocumentInfo{{ID: "hours.md", Chunks: 2}, {ID: "menu.md", Chunks: 1}}, nil
}

func TestListDocuments(t *testing.T) {
	registry := NewRegistry(ListDocuments(listerStub{}))

	result := registry.Execute(context.Background(), call("list_available_documents", `{}`))
	documents, ok := result.Response["documents"].([]documentSummary)
	if !ok || len(documents) != 2 || documents[0].ID != "hours.md" || documents[0].Chunks != 2 {
		t.Fatalf("expected mapped documents, got %+v", result.Response["documents"])
	}
}
