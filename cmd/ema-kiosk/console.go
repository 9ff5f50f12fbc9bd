package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	orchestration "github.com/koscakluka/ema-kiosk/core"
	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/internal/tui"
)

// console is the line-based interface used when stdin is not a terminal.
// Session callbacks and the input loop share the same writer.
type console struct {
	mu       sync.Mutex
	out      io.Writer
	midReply bool
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) partial(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.midReply {
		fmt.Fprint(c.out, "ema: ")
		c.midReply = true
	}
	fmt.Fprint(c.out, text)
}

func (c *console) println(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.midReply {
		fmt.Fprintln(c.out)
		c.midReply = false
	}
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) endReply(suffix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.midReply {
		return
	}
	fmt.Fprintln(c.out, suffix)
	c.midReply = false
}

func (c *console) sessionOptions() []orchestration.SessionOption {
	return []orchestration.SessionOption{
		orchestration.WithPartialTextCallback(c.partial),
		orchestration.WithTurnCompleteCallback(func(orchestration.TranscriptTurn) {
			c.endReply("")
		}),
		orchestration.WithInterruptionCallback(func() {
			c.endReply(" [interrupted]")
		}),
		orchestration.WithToolCallCallback(func(call events.FunctionCall, _ events.ToolResult) {
			c.println("(used %s)", call.Name)
		}),
		orchestration.WithClosedCallback(func(err error) {
			if err != nil {
				c.println("session closed: %v", err)
				return
			}
			c.println("session closed")
		}),
	}
}

// run reads commands from in until it is exhausted, the visitor quits or
// ctx ends.
func (c *console) run(ctx context.Context, in io.Reader, actions tui.Actions) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := c.handle(ctx, line, actions); quit {
				return nil
			}
		}
	}
}

func (c *console) handle(ctx context.Context, line string, actions tui.Actions) (quit bool) {
	command := tui.ParseCommand(line)
	switch command.Kind {
	case tui.CommandQuit:
		return true
	case tui.CommandSay:
		if err := actions.Say(ctx, command.Text); err != nil {
			c.println("could not send: %v", err)
		}
	case tui.CommandAsk:
		if err := actions.Ask(ctx, command.Text); err != nil {
			c.println("could not answer: %v", err)
			return false
		}
		c.println("answer is on the panel")
	}
	return false
}
