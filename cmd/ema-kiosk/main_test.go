package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/koscakluka/ema-kiosk/internal/config"
	"github.com/koscakluka/ema-kiosk/internal/tui"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		command string
		rest    []string
		wantErr bool
	}{
		{name: "default live", args: nil, command: "live"},
		{name: "flags before command", args: []string{"--http-addr", ":8080", "ingest", "docs"}, command: "ingest", rest: []string{"docs"}},
		{name: "ask with query", args: []string{"ask", "when", "do", "you", "open"}, command: "ask", rest: []string{"when", "do", "you", "open"}},
		{name: "ask without query", args: []string{"ask", "  "}, wantErr: true},
		{name: "unknown command", args: []string{"serve"}, wantErr: true},
		{name: "unknown flag", args: []string{"--nope"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseArgs(tt.args, io.Discard)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got options %+v", opts)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if opts.command != tt.command {
				t.Fatalf("expected command %q, got %q", tt.command, opts.command)
			}
			if !slices.Equal(opts.args, tt.rest) {
				t.Fatalf("expected args %v, got %v", tt.rest, opts.args)
			}
		})
	}
}

func TestParseArgsFlags(t *testing.T) {
	opts, err := parseArgs([]string{"--config", "kiosk.yaml", "--log-file", "kiosk.log", "--text"}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.configPath != "kiosk.yaml" || opts.logFile != "kiosk.log" || !opts.textOnly {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestTransportConfigTextOnlyForcesTextReplies(t *testing.T) {
	live := config.Default().Live

	audio := transportConfig(live, false)
	if !slices.Equal(audio.ResponseModalities, []string{"AUDIO"}) {
		t.Fatalf("expected AUDIO modality, got %v", audio.ResponseModalities)
	}
	if audio.Model != live.Model || audio.Voice != live.Voice {
		t.Fatalf("expected model and voice to carry over, got %+v", audio)
	}

	text := transportConfig(live, true)
	if !slices.Equal(text.ResponseModalities, []string{"TEXT"}) {
		t.Fatalf("expected TEXT modality, got %v", text.ResponseModalities)
	}
}

type recordedActions struct {
	mu    sync.Mutex
	said  []string
	asked []string
	err   error
}

func (r *recordedActions) actions() tui.Actions {
	return tui.Actions{
		Say: func(_ context.Context, text string) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.said = append(r.said, text)
			return r.err
		},
		Ask: func(_ context.Context, question string) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.asked = append(r.asked, question)
			return r.err
		},
	}
}

func TestConsoleRunDispatchesCommands(t *testing.T) {
	out := &bytes.Buffer{}
	c := newConsole(out)
	recorded := &recordedActions{}

	input := strings.NewReader("hello there\n\n/ask where is parking\nquit\nnever sent\n")
	if err := c.run(context.Background(), input, recorded.actions()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !slices.Equal(recorded.said, []string{"hello there"}) {
		t.Fatalf("expected one spoken line, got %v", recorded.said)
	}
	if !slices.Equal(recorded.asked, []string{"where is parking"}) {
		t.Fatalf("expected one question, got %v", recorded.asked)
	}
	if !strings.Contains(out.String(), "answer is on the panel") {
		t.Fatalf("expected answer notice, got %q", out.String())
	}
}

func TestConsoleRunReportsActionErrors(t *testing.T) {
	out := &bytes.Buffer{}
	c := newConsole(out)
	recorded := &recordedActions{err: errors.New("offline")}

	if err := c.run(context.Background(), strings.NewReader("hi\n/ask menu\n"), recorded.actions()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := out.String()
	if !strings.Contains(output, "could not send: offline") {
		t.Fatalf("expected send failure, got %q", output)
	}
	if !strings.Contains(output, "could not answer: offline") {
		t.Fatalf("expected answer failure, got %q", output)
	}
}

func TestConsoleRunStopsOnContextCancel(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- newConsole(io.Discard).run(ctx, reader, (&recordedActions{}).actions())
	}()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected nil error on cancel, got %v", err)
	}
}

func TestConsoleFormatsReplies(t *testing.T) {
	out := &bytes.Buffer{}
	c := newConsole(out)

	c.partial("Hel")
	c.partial("lo")
	c.endReply("")
	c.partial("Wait")
	c.endReply(" [interrupted]")
	c.endReply(" [interrupted]")
	c.println("session closed")

	expected := "ema: Hello\nema: Wait [interrupted]\nsession closed\n"
	if out.String() != expected {
		t.Fatalf("expected %q, got %q", expected, out.String())
	}
	if len(c.sessionOptions()) == 0 {
		t.Fatalf("expected session callbacks")
	}
}
