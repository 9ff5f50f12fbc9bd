// Command ema-kiosk runs a voice kiosk: a live conversation with the model
// next to a panel that shows answers found in the local documents.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/koscakluka/ema-kiosk/internal/config"
)

const usage = `usage: ema-kiosk [flags] [command]

commands:
  live          talk to the kiosk (default)
  ask <query>   answer one question from the documents and print it
  ingest [dir]  index the documents in dir

flags:
`

type options struct {
	configPath  string
	httpAddress string
	logFile     string
	textOnly    bool

	command string
	args    []string
}

func parseArgs(args []string, output io.Writer) (options, error) {
	opts := options{}
	flags := flag.NewFlagSet("ema-kiosk", flag.ContinueOnError)
	flags.SetOutput(output)
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&opts.httpAddress, "http-addr", "", "address for the panel, health and metrics server")
	flags.StringVar(&opts.logFile, "log-file", "", "append logs to this file")
	flags.BoolVar(&opts.textOnly, "text", false, "run without audio devices")
	flags.Usage = func() {
		fmt.Fprint(output, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return options{}, err
	}

	opts.command = "live"
	if rest := flags.Args(); len(rest) > 0 {
		opts.command, opts.args = rest[0], rest[1:]
	}

	switch opts.command {
	case "live", "ingest":
	case "ask":
		if strings.TrimSpace(strings.Join(opts.args, " ")) == "" {
			return options{}, errors.New("ask needs a query")
		}
	default:
		return options{}, fmt.Errorf("unknown command %q", opts.command)
	}

	return opts, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "ema-kiosk:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.httpAddress != "" {
		cfg.HTTPAddress = opts.httpAddress
	}
	if opts.logFile != "" {
		cfg.LogFile = opts.logFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg.LogFile, stderr, opts.command == "live" && isTerminal(stdin))
	if err != nil {
		return err
	}
	defer closeLog()

	switch opts.command {
	case "ingest":
		dir := cfg.Retrieval.DocumentsDir
		if len(opts.args) > 0 {
			dir = opts.args[0]
		}
		return runIngest(ctx, cfg, dir, stdout)
	case "ask":
		return runAsk(ctx, cfg, strings.Join(opts.args, " "), stdout)
	default:
		return runLive(ctx, cfg, opts.textOnly, stdin, stdout)
	}
}

// setupLogging routes the default slog logger to path. Logs are discarded
// when no file is given and the terminal belongs to the interface.
func setupLogging(path string, stderr io.Writer, interactive bool) (func(), error) {
	if path == "" {
		var output io.Writer = stderr
		if interactive {
			output = io.Discard
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(output, nil)))
		return func() {}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return func() { file.Close() }, nil
}
