package tui

import "strings"

type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandQuit
	CommandSay
	CommandAsk
)

// Command is a parsed input line.
type Command struct {
	Kind CommandKind
	Text string
}

var quitTokens = map[string]struct{}{"q": {}, "quit": {}, "exit": {}}

const askPrefix = "/ask"

// ParseCommand interprets a line typed by the visitor. "/ask <question>"
// queries the documents, a quit token ends the program and anything else is
// said to the live model.
func ParseCommand(line string) Command {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{Kind: CommandNone}
	}
	if _, ok := quitTokens[strings.ToLower(trimmed)]; ok {
		return Command{Kind: CommandQuit}
	}

	if rest, ok := strings.CutPrefix(trimmed, askPrefix); ok && (rest == "" || rest[0] == ' ') {
		question := strings.TrimSpace(rest)
		if question == "" {
			return Command{Kind: CommandNone}
		}
		return Command{Kind: CommandAsk, Text: question}
	}

	return Command{Kind: CommandSay, Text: trimmed}
}
