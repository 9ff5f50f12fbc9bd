package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koscakluka/ema-kiosk/core/render"
	"github.com/koscakluka/ema-kiosk/core/retrieval"
)

type answererStub struct {
	err error
}

func (stub answererStub) Answer(_ context.Context, query retrieval.Query) (retrieval.Answer, error) {
	if stub.err != nil {
		return retrieval.Answer{}, stub.err
	}
	return retrieval.Answer{Sequence: 1, Query: query, Text: "Open at 9."}, nil
}

func serve(t *testing.T, deps Dependencies, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	New(deps).ServeHTTP(w, r)
	return w
}

func TestHealthz(t *testing.T) {
	w := serve(t, Dependencies{}, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", w.Code, w.Body.String())
	}
}

func TestPanelServesMarkdown(t *testing.T) {
	panel := render.NewMemory("# Welcome")

	w := serve(t, Dependencies{Panel: panel}, http.MethodGet, "/panel", "")
	if w.Code != http.StatusOK || w.Body.String() != "# Welcome" {
		t.Fatalf("expected panel markdown, got %d %q", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/markdown") {
		t.Fatalf("expected markdown content type, got %q", w.Header().Get("Content-Type"))
	}

	w = serve(t, Dependencies{Panel: panel}, http.MethodGet, "/panel?format=json", "")
	var response panelResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil || response.Content != "# Welcome" {
		t.Fatalf("expected JSON panel, got %q (err=%v)", w.Body.String(), err)
	}
}

func TestPanelWithoutSource(t *testing.T) {
	w := serve(t, Dependencies{}, http.MethodGet, "/panel", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestAskPublishesAnswer(t *testing.T) {
	panel := render.NewMemory("")
	deps := Dependencies{Panel: panel, Pipeline: answererStub{}, Coupling: render.NewCoupling(panel)}

	w := serve(t, deps, http.MethodPost, "/ask", `{"query":"when do you open?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}

	var response askResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("expected JSON response, got %v", err)
	}
	if !response.Displayed || !strings.Contains(response.Markdown, "Open at 9.") {
		t.Fatalf("expected displayed answer, got %+v", response)
	}
	if content, _ := panel.Content(); !strings.Contains(content, "Open at 9.") {
		t.Fatalf("expected panel to show answer, got %q", content)
	}
}

func TestAskRejectsBadRequests(t *testing.T) {
	panel := render.NewMemory("")
	deps := Dependencies{Panel: panel, Pipeline: answererStub{}, Coupling: render.NewCoupling(panel)}

	if w := serve(t, deps, http.MethodPost, "/ask", `{"query":" "}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty query, got %d", w.Code)
	}
	if w := serve(t, deps, http.MethodPost, "/ask", `not-json`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad JSON, got %d", w.Code)
	}
}

func TestAskReportsGenerationFailure(t *testing.T) {
	panel := render.NewMemory("before")
	deps := Dependencies{Panel: panel, Pipeline: answererStub{err: errors.New("quota")}, Coupling: render.NewCoupling(panel)}

	if w := serve(t, deps, http.MethodPost, "/ask", `{"query":"hi"}`); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if content, _ := panel.Content(); content != "before" {
		t.Fatalf("expected panel untouched, got %q", content)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("metric 1")) })

	w := serve(t, Dependencies{Metrics: metrics}, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || w.Body.String() != "metric 1" {
		t.Fatalf("expected metrics output, got %d %q", w.Code, w.Body.String())
	}
}
