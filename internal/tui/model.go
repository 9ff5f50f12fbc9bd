// Package tui is the kiosk's terminal interface: the live transcript, the
// answer panel, a clock and an input line.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

// Actions are what the interface can ask the rest of the kiosk to do. They
// run off the UI goroutine.
type Actions struct {
	Say func(ctx context.Context, text string) error
	Ask func(ctx context.Context, question string) error
}

// PanelSource is the shared render target the panel mirrors.
type PanelSource interface {
	Content() (string, uint64)
	Updates() <-chan struct{}
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	clockStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	modelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	paneStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
	paneTitleTop = lipgloss.NewStyle().Bold(true).Underline(true)
)

type transcriptLine struct {
	user        bool
	text        string
	interrupted bool
}

type Model struct {
	ctx     context.Context
	actions Actions
	panel   PanelSource
	now     func() time.Time

	input          textinput.Model
	transcriptView viewport.Model
	panelView      viewport.Model

	lines   []transcriptLine
	partial string

	panelContent string
	status       string
	statusIsErr  bool
	clock        time.Time
	width        int
	height       int
	quitting     bool
}

func NewModel(ctx context.Context, actions Actions, panel PanelSource) Model {
	input := textinput.New()
	input.Placeholder = "Type to talk, /ask <question> to search, q to quit"
	input.CharLimit = 500
	input.Focus()

	m := Model{
		ctx:            ctx,
		actions:        actions,
		panel:          panel,
		now:            time.Now,
		input:          input,
		transcriptView: viewport.New(40, 10),
		panelView:      viewport.New(40, 10),
	}
	m.clock = m.now()
	if panel != nil {
		m.panelContent, _ = panel.Content()
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick(), m.waitForPanel())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) waitForPanel() tea.Cmd {
	if m.panel == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case <-m.panel.Updates():
			content, _ := m.panel.Content()
			return PanelMsg{Content: content}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			if cmd := m.submit(line); cmd != nil {
				cmds = append(cmds, cmd)
			}
			if m.quitting {
				return m, tea.Quit
			}
		}

	case PartialTextMsg:
		m.partial += msg.Text

	case TurnCompleteMsg:
		m.finishModelLine(false)

	case InterruptedMsg:
		m.finishModelLine(true)

	case PanelMsg:
		m.panelContent = msg.Content
		m.panelView.GotoTop()
		cmds = append(cmds, m.waitForPanel())

	case StatusMsg:
		m.status, m.statusIsErr = msg.Text, false

	case SessionClosedMsg:
		if msg.Err != nil {
			m.status, m.statusIsErr = "Conversation ended: "+msg.Err.Error(), true
		} else {
			m.status, m.statusIsErr = "Conversation ended", false
		}

	case actionDoneMsg:
		if msg.err != nil {
			m.status, m.statusIsErr = fmt.Sprintf("%s failed: %v", msg.label, msg.err), true
		} else if msg.label == "Search" {
			m.status, m.statusIsErr = "Answer ready", false
		}

	case tickMsg:
		m.clock = time.Time(msg)
		cmds = append(cmds, tick())
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.refreshViews()
	m.transcriptView, cmd = m.transcriptView.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) submit(line string) tea.Cmd {
	command := ParseCommand(line)
	switch command.Kind {
	case CommandQuit:
		m.quitting = true
		return nil

	case CommandSay:
		m.lines = append(m.lines, transcriptLine{user: true, text: command.Text})
		if m.actions.Say == nil {
			return nil
		}
		ctx, say := m.ctx, m.actions.Say
		return func() tea.Msg {
			return actionDoneMsg{label: "Send", err: say(ctx, command.Text)}
		}

	case CommandAsk:
		m.status, m.statusIsErr = "Searching documents for: "+command.Text, false
		if m.actions.Ask == nil {
			return nil
		}
		ctx, ask := m.ctx, m.actions.Ask
		return func() tea.Msg {
			return actionDoneMsg{label: "Search", err: ask(ctx, command.Text)}
		}
	}
	return nil
}

func (m *Model) finishModelLine(interrupted bool) {
	text := m.partial
	m.partial = ""
	if text == "" && !interrupted {
		return
	}
	m.lines = append(m.lines, transcriptLine{text: text, interrupted: interrupted})
}

func (m *Model) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	paneWidth := max(m.width/2-4, 10)
	paneHeight := max(m.height-7, 3)
	m.transcriptView.Width, m.transcriptView.Height = paneWidth, paneHeight
	m.panelView.Width, m.panelView.Height = paneWidth, paneHeight
	m.input.Width = max(m.width-4, 10)
}

func (m *Model) refreshViews() {
	width := m.transcriptView.Width

	var b strings.Builder
	for _, line := range m.lines {
		b.WriteString(renderLine(line, width))
		b.WriteString("\n")
	}
	if m.partial != "" {
		b.WriteString(renderLine(transcriptLine{text: m.partial}, width))
	}
	m.transcriptView.SetContent(b.String())
	m.transcriptView.GotoBottom()

	m.panelView.SetContent(wordwrap.String(m.panelContent, m.panelView.Width))
}

func renderLine(line transcriptLine, width int) string {
	speaker := modelStyle.Render("Kiosk: ")
	if line.user {
		speaker = userStyle.Render("You: ")
	}
	text := line.text
	if line.interrupted {
		text += " …"
	}
	return wordwrap.String(speaker+text, width)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("EMA Kiosk"),
		"  ",
		clockStyle.Render(m.clock.Format("Mon 02 Jan 2006 15:04:05")),
	)

	transcript := paneStyle.Render(paneTitleTop.Render("Conversation") + "\n" + m.transcriptView.View())
	panel := paneStyle.Render(paneTitleTop.Render("Information") + "\n" + m.panelView.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, transcript, panel)

	status := statusStyle.Render(m.status)
	if m.statusIsErr {
		status = errorStyle.Render(m.status)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, status, m.input.View())
}

// Run starts the interface and blocks until the visitor quits. send lets
// callers deliver session events into the running program.
func Run(ctx context.Context, actions Actions, panel PanelSource, ready func(send func(tea.Msg)) error) error {
	program := tea.NewProgram(NewModel(ctx, actions, panel), tea.WithAltScreen(), tea.WithContext(ctx))
	if ready != nil {
		if err := ready(program.Send); err != nil {
			return err
		}
	}
	_, err := program.Run()
	return err
}
