// Package httpserver serves the kiosk panel, health and metrics over HTTP.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/koscakluka/ema-kiosk/core/render"
	"github.com/koscakluka/ema-kiosk/core/retrieval"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-kiosk/internal/httpserver"

var logger = otelslog.NewLogger(scopeName)

const shutdownTimeout = 5 * time.Second

// PanelSource provides the markdown currently on the panel.
type PanelSource interface {
	Content() (string, uint64)
}

type Dependencies struct {
	Panel    PanelSource
	Metrics  http.Handler
	Pipeline render.Answerer
	Coupling *render.Coupling
}

// New creates the echo server with every route registered.
func New(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.InfoContext(c.Request().Context(), "http request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	h := handlers{deps: deps}
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/panel", h.panel)
	if deps.Pipeline != nil && deps.Coupling != nil {
		e.POST("/ask", h.ask)
	}
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics))
	}
	return e
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

type handlers struct {
	deps Dependencies
}

type panelResponse struct {
	Content string `json:"content"`
	Version uint64 `json:"version"`
}

func (h handlers) panel(c echo.Context) error {
	if h.deps.Panel == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "panel not configured")
	}

	content, version := h.deps.Panel.Content()
	if c.QueryParam("format") == "json" {
		return c.JSON(http.StatusOK, panelResponse{Content: content, Version: version})
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(content))
}

type askRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

type askResponse struct {
	Sequence  uint64   `json:"sequence"`
	Markdown  string   `json:"markdown"`
	Sources   []string `json:"sources"`
	Degraded  bool     `json:"degraded"`
	Displayed bool     `json:"displayed"`
}

func (h handlers) ask(c echo.Context) error {
	var request askRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(request.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	query := retrieval.NewQuery(request.Query)
	query.TopK = request.TopK
	answer, displayed, err := render.AnswerAndPublish(c.Request().Context(), h.deps.Pipeline, h.deps.Coupling, query)
	if err != nil && answer.Text == "" {
		logger.WarnContext(c.Request().Context(), "query failed", "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "failed to answer query")
	}
	if err != nil {
		logger.WarnContext(c.Request().Context(), "failed to display answer", "sequence", answer.Sequence, "error", err)
	}

	return c.JSON(http.StatusOK, askResponse{
		Sequence:  answer.Sequence,
		Markdown:  answer.Markdown(),
		Sources:   answer.Context.Sources(),
		Degraded:  answer.Degraded,
		Displayed: displayed,
	})
}
