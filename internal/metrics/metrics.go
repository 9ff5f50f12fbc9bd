// Package metrics exposes kiosk activity as Prometheus metrics on a
// private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements the session, pipeline and render metrics interfaces.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsTotal    prometheus.Counter
	AudioFrames      *prometheus.CounterVec
	PlaybackOverruns prometheus.Counter
	TransportErrors  prometheus.Counter
	ToolCalls        *prometheus.CounterVec

	Answers         *prometheus.CounterVec
	AnswerDuration  prometheus.Histogram
	GenerationFails prometheus.Counter
	Publishes       *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ema_kiosk"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of live conversation sessions currently open",
	})
	sessionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total number of live conversation sessions started",
	})
	audioFrames := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_frames_total",
		Help:      "Audio frames by stage",
	}, []string{"stage"})
	playbackOverruns := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "playback_overruns_total",
		Help:      "Model audio frames dropped because playback could not keep up",
	})
	transportErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_errors_total",
		Help:      "Live sessions ended by a transport failure",
	})
	toolCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool calls made by the live model",
	}, []string{"tool", "failed"})
	answers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_total",
		Help:      "Answers generated by the retrieval pipeline",
	}, []string{"degraded"})
	answerDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "answer_duration_seconds",
		Help:      "Time from query to generated answer",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40},
	})
	generationFails := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_failures_total",
		Help:      "Queries that produced no answer",
	})
	publishes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "panel_publishes_total",
		Help:      "Answers offered to the panel by outcome",
	}, []string{"outcome"})

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		audioFrames,
		playbackOverruns,
		transportErrors,
		toolCalls,
		answers,
		answerDuration,
		generationFails,
		publishes,
	)

	return &Metrics{
		registry:         registry,
		SessionsActive:   sessionsActive,
		SessionsTotal:    sessionsTotal,
		AudioFrames:      audioFrames,
		PlaybackOverruns: playbackOverruns,
		TransportErrors:  transportErrors,
		ToolCalls:        toolCalls,
		Answers:          answers,
		AnswerDuration:   answerDuration,
		GenerationFails:  generationFails,
		Publishes:        publishes,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) SessionStarted() {
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

func (m *Metrics) SessionClosed()   { m.SessionsActive.Dec() }
func (m *Metrics) FrameCaptured()   { m.AudioFrames.WithLabelValues("captured").Inc() }
func (m *Metrics) FrameSent()       { m.AudioFrames.WithLabelValues("sent").Inc() }
func (m *Metrics) FramePlayed()     { m.AudioFrames.WithLabelValues("played").Inc() }
func (m *Metrics) PlaybackOverrun() { m.PlaybackOverruns.Inc() }
func (m *Metrics) TransportError()  { m.TransportErrors.Inc() }

func (m *Metrics) ToolCalled(name string, failed bool) {
	m.ToolCalls.WithLabelValues(name, strconv.FormatBool(failed)).Inc()
}

func (m *Metrics) AnswerGenerated(degraded bool, duration time.Duration) {
	m.Answers.WithLabelValues(strconv.FormatBool(degraded)).Inc()
	m.AnswerDuration.Observe(duration.Seconds())
}

func (m *Metrics) GenerationFailed() { m.GenerationFails.Inc() }
func (m *Metrics) AnswerPublished()  { m.Publishes.WithLabelValues("written").Inc() }
func (m *Metrics) AnswerDropped()    { m.Publishes.WithLabelValues("stale").Inc() }
