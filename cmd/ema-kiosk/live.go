package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/ema-kiosk/core"
	"github.com/koscakluka/ema-kiosk/core/audio/miniaudio"
	"github.com/koscakluka/ema-kiosk/core/audio/otoplayer"
	"github.com/koscakluka/ema-kiosk/core/audio/portaudio"
	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/core/transport"
	geminitransport "github.com/koscakluka/ema-kiosk/core/transport/gemini"
	"github.com/koscakluka/ema-kiosk/internal/config"
	"github.com/koscakluka/ema-kiosk/internal/httpserver"
	"github.com/koscakluka/ema-kiosk/internal/tui"
	"golang.org/x/term"
)

var errNoSession = errors.New("no live session")

type audioDevices struct {
	capture  orchestration.AudioCaptureDevice
	playback orchestration.AudioPlaybackDevice
	closers  []io.Closer
}

func (d audioDevices) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i].Close())
	}
	return errors.Join(errs...)
}

func openAudio(cfg config.AudioConfig) (audioDevices, error) {
	devices := audioDevices{}

	switch cfg.Backend {
	case config.AudioBackendPortaudio:
		client, err := portaudio.NewClient(cfg.FrameSamples)
		if err != nil {
			return devices, err
		}
		devices.capture, devices.playback = client, client
		devices.closers = append(devices.closers, client)
	default:
		client, err := miniaudio.NewClient()
		if err != nil {
			return devices, err
		}
		devices.capture, devices.playback = client, client
		devices.closers = append(devices.closers, client)
	}

	if cfg.Playback == config.PlaybackBackendOto {
		player, err := otoplayer.NewPlayer(devices.playback.PlaybackEncodingInfo())
		if err != nil {
			return devices, errors.Join(err, devices.Close())
		}
		devices.playback = player
		devices.closers = append(devices.closers, player)
	}

	return devices, nil
}

func transportConfig(cfg config.LiveConfig, textOnly bool) transport.Config {
	modality := cfg.ResponseModality
	if textOnly {
		modality = "TEXT"
	}

	live := transport.Config{
		Model:             cfg.Model,
		SystemInstruction: cfg.SystemInstruction,
		Voice:             cfg.Voice,
	}
	if modality != "" {
		live.ResponseModalities = []string{modality}
	}
	return live
}

func runLive(ctx context.Context, cfg config.Config, textOnly bool, stdin io.Reader, stdout io.Writer) (err error) {
	svc, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, svc.Close()) }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []orchestration.OrchestratorOption{
		orchestration.WithTools(svc.tools),
		orchestration.WithTransportConfig(transportConfig(cfg.Live, textOnly)),
		orchestration.WithMetrics(svc.metrics),
		orchestration.WithPlaybackQueue(cfg.Audio.PlaybackQueue, cfg.Audio.OverrunTimeout),
		orchestration.WithCaptureFrames(cfg.Audio.FrameSamples, cfg.Audio.CaptureBuffer),
		orchestration.WithShutdownTimeout(cfg.Audio.ShutdownTimeout),
	}
	if !textOnly {
		var devices audioDevices
		if devices, err = openAudio(cfg.Audio); err != nil {
			return fmt.Errorf("failed to open audio devices: %w", err)
		}
		defer func() { err = errors.Join(err, devices.Close()) }()
		opts = append(opts,
			orchestration.WithAudioCapture(devices.capture),
			orchestration.WithAudioPlayback(devices.playback),
		)
	}

	dialerOpts := []geminitransport.DialerOption{}
	if cfg.Live.Endpoint != "" {
		dialerOpts = append(dialerOpts, geminitransport.WithEndpoint(cfg.Live.Endpoint))
	}
	orchestrator := orchestration.NewOrchestrator(geminitransport.NewDialer(cfg.GoogleAPIKey, dialerOpts...), opts...)
	defer func() { err = errors.Join(err, orchestrator.Close()) }()

	if cfg.HTTPAddress != "" {
		server := httpserver.New(httpserver.Dependencies{
			Panel:    svc.panel,
			Metrics:  svc.metrics.Handler(),
			Pipeline: svc.pipeline,
			Coupling: svc.coupling,
		})
		go func() {
			if err := httpserver.Run(ctx, server, cfg.HTTPAddress); err != nil {
				slog.Error("http server stopped", "address", cfg.HTTPAddress, "error", err)
			}
		}()
	}

	actions := tui.Actions{
		Say: func(ctx context.Context, text string) error {
			session := orchestrator.Session()
			if session == nil {
				return errNoSession
			}
			return session.SendText(ctx, text)
		},
		Ask: func(ctx context.Context, question string) error {
			_, err := svc.ask(ctx, question)
			return err
		},
	}

	if isTerminal(stdin) {
		return tui.Run(ctx, actions, svc.panel, func(send func(tea.Msg)) error {
			_, err := orchestrator.StartSession(ctx, programCallbacks(send)...)
			return err
		})
	}

	console := newConsole(stdout)
	if _, err := orchestrator.StartSession(ctx, console.sessionOptions()...); err != nil {
		return err
	}
	return console.run(ctx, stdin, actions)
}

func programCallbacks(send func(tea.Msg)) []orchestration.SessionOption {
	return []orchestration.SessionOption{
		orchestration.WithPartialTextCallback(func(text string) {
			send(tui.PartialTextMsg{Text: text})
		}),
		orchestration.WithTurnCompleteCallback(func(orchestration.TranscriptTurn) {
			send(tui.TurnCompleteMsg{})
		}),
		orchestration.WithInterruptionCallback(func() {
			send(tui.InterruptedMsg{})
		}),
		orchestration.WithToolCallCallback(func(call events.FunctionCall, _ events.ToolResult) {
			send(tui.StatusMsg{Text: "Used " + call.Name})
		}),
		orchestration.WithErrorCallback(func(err error) {
			slog.Warn("session error", "error", err)
		}),
		orchestration.WithClosedCallback(func(err error) {
			send(tui.SessionClosedMsg{Err: err})
		}),
	}
}

func isTerminal(r io.Reader) bool {
	file, ok := r.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
