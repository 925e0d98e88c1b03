// Package tui is the interactive terminal front end.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeanpaul/danzar/internal/commentator"
	"github.com/jeanpaul/danzar/internal/dispatcher"
	"github.com/jeanpaul/danzar/internal/prompt"
	"github.com/jeanpaul/danzar/internal/session"
	"github.com/jeanpaul/danzar/internal/settings"
)

// ThinkingSpinner is a braille dots animation.
var ThinkingSpinner = spinner.Spinner{
	Frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	FPS:    time.Second / 12,
}

type Dispatcher interface {
	Submit(ctx context.Context, it dispatcher.Item) error
}

type Sessions interface {
	Teach(ctx context.Context, req session.TeachRequest) (session.Report, error)
	Research(ctx context.Context, req session.ResearchRequest) (session.Report, error)
}

type Commentator interface {
	Start(ctx context.Context, t commentator.Target) (bool, error)
	Stop() bool
	Running() bool
}

type Exporter interface {
	Export(channelID, path string) error
}

type Options struct {
	Dispatcher  Dispatcher
	Sessions    Sessions
	Commentator Commentator // optional
	History     Exporter
	Settings    *settings.Manager // optional

	ProviderName string
	ModelName    string
	// Author and Channel identify this terminal to the dispatcher.
	Author  string
	Channel string
	// CopyText defaults to the system clipboard.
	CopyText func(string) error
}

type chatMessage struct {
	role    string
	id      int64
	content string
}

type sessionDoneMsg struct {
	err error
}

type Model struct {
	width, height int
	viewport      viewport.Model
	textarea      textarea.Model
	spinner       spinner.Model
	renderer      *glamour.TermRenderer
	menu          MenuModel
	settingsView  SettingsModel

	messages     []chatMessage
	showThinking bool
	inflight     int  // dispatcher items awaiting their final edit
	inSession    bool // a teach or research session is running

	opts       Options
	replies    *channel
	narration  *channel
	commentary *channel
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewModel(opts Options) Model {
	if opts.Author == "" {
		opts.Author = "user"
	}
	if opts.Channel == "" {
		opts.Channel = "tui"
	}
	if opts.CopyText == nil {
		opts.CopyText = clipboard.WriteAll
	}

	ta := textarea.New()
	ta.Placeholder = "Ask Danzar, or drop an image path..."
	ta.Focus()
	ta.CharLimit = 0
	ta.SetHeight(1)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Base = lipgloss.NewStyle().Foreground(White)
	ta.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(DimGreen)
	ta.BlurredStyle.Base = lipgloss.NewStyle().Foreground(DarkGreen)
	ta.ShowLineNumbers = false

	sp := spinner.New()
	sp.Spinner = ThinkingSpinner
	sp.Style = SpinnerStyle

	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	events := make(chan tea.Msg, 256)
	ids := new(idSource)
	ctx, cancel := context.WithCancel(context.Background())

	m := Model{
		viewport:     viewport.New(80, 20),
		textarea:     ta,
		spinner:      sp,
		renderer:     r,
		menu:         NewMenuModel(),
		settingsView: NewSettingsModel(opts.Settings),
		showThinking: true,
		opts:         opts,
		replies:      newChannel(events, ids, "assistant"),
		narration:    newChannel(events, ids, "session"),
		commentary:   newChannel(events, ids, "commentary"),
		ctx:          ctx,
		cancel:       cancel,
	}
	m.viewport.MouseWheelEnabled = true
	m.messages = append(m.messages, chatMessage{
		role: "welcome",
		content: fmt.Sprintf("Connected to %s. Ask anything, paste an image path, or try /teach and /research.\nType /help for commands.",
			opts.ModelName),
	})
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.replies.waitForEvent(),
	)
}

func (m Model) busy() bool { return m.inflight > 0 || m.inSession }

func (m *Model) layout() {
	headerH := 9
	inputH := 3
	menuH := 0
	if m.menu.active || m.settingsView.active {
		menuH = 16
	}
	m.viewport.Width = max(m.width-4, 10)
	m.viewport.Height = max(m.height-headerH-inputH-menuH, 3)
	m.textarea.SetWidth(max(m.width-6, 10))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.rebuildView()

	case tea.KeyMsg:
		if m.settingsView.active {
			var cmd tea.Cmd
			m.settingsView, cmd = m.settingsView.Update(msg)
			if key := m.settingsView.SelectedKey(); key != "" {
				m.textarea.SetValue("/set " + key + " ")
				m.textarea.Focus()
			}
			if !m.settingsView.active {
				m.layout()
				m.rebuildView()
			}
			return m, cmd
		}

		if m.menu.active {
			var cmd tea.Cmd
			m.menu, cmd = m.menu.Update(msg)
			if msg.String() == "enter" && m.menu.active {
				m.menu.active = false
				if selected, ok := m.menu.list.SelectedItem().(item); ok {
					if selected.title == "/quit" {
						return m.quit()
					}
					m.textarea.SetValue(selected.title + " ")
				} else {
					m.textarea.SetValue("/" + m.menu.list.FilterValue())
				}
				m.textarea.Focus()
			}
			if !m.menu.active {
				m.layout()
				m.rebuildView()
			}
			return m, cmd
		}

		if msg.String() == "/" && m.textarea.Value() == "" {
			m.menu.active = true
			m.menu.list.ResetSelected()
			m.menu.list.ResetFilter()
			m.layout()
			m.rebuildView()
			var cmd tea.Cmd
			m.menu, cmd = m.menu.Update(msg)
			return m, cmd
		}

		switch msg.Type {
		case tea.KeyPgUp:
			m.viewport.HalfViewUp()
			return m, nil
		case tea.KeyPgDown:
			m.viewport.HalfViewDown()
			return m, nil
		case tea.KeyEsc, tea.KeyCtrlC:
			return m.quit()
		case tea.KeyCtrlT:
			m.showThinking = !m.showThinking
			m.rebuildView()
			return m, nil
		case tea.KeyEnter:
			if msg.Alt {
				break
			}
			text := strings.TrimSpace(m.textarea.Value())
			if text == "" {
				return m, nil
			}
			m.textarea.Reset()
			if strings.HasPrefix(text, "/") {
				return m.handleSlashCommand(text)
			}
			return m.submit(dispatcher.Classify(text), text)
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case postMsg:
		m.messages = append(m.messages, chatMessage{role: msg.role, id: msg.id, content: msg.text})
		m.rebuildView()
		return m, m.replies.waitForEvent()

	case editMsg:
		for i := len(m.messages) - 1; i >= 0; i-- {
			if m.messages[i].id == msg.id {
				m.messages[i].content = msg.text
				break
			}
		}
		if msg.role == "assistant" && m.inflight > 0 {
			m.inflight--
		}
		m.rebuildView()
		return m, m.replies.waitForEvent()

	case sessionDoneMsg:
		m.inSession = false
		if msg.err != nil {
			m.messages = append(m.messages, chatMessage{role: "error", content: msg.err.Error()})
		}
		m.rebuildView()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.busy() {
			m.rebuildView()
		}
		cmds = append(cmds, cmd)
	}

	if !m.menu.active {
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// submit queues a chat or image item with the dispatcher.
func (m Model) submit(p dispatcher.Payload, echo string) (tea.Model, tea.Cmd) {
	m.messages = append(m.messages, chatMessage{role: "user", content: echo})
	err := m.opts.Dispatcher.Submit(m.ctx, dispatcher.Item{
		Author:  m.opts.Author,
		Channel: m.opts.Channel,
		Payload: p,
		Reply:   m.replies,
	})
	if err != nil {
		m.messages = append(m.messages, chatMessage{role: "error", content: err.Error()})
	} else {
		m.inflight++
	}
	m.rebuildView()
	return m, nil
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.opts.Commentator != nil {
		m.opts.Commentator.Stop()
	}
	m.cancel()
	return m, tea.Quit
}

// lastAnswer is the visible text of the most recent reply.
func (m Model) lastAnswer() string {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].role == "assistant" {
			_, answer := prompt.SplitReasoning(m.messages[i].content)
			return answer
		}
	}
	return ""
}

func (m *Model) rebuildView() {
	var sb strings.Builder
	for _, msg := range m.messages {
		switch msg.role {
		case "welcome":
			sb.WriteString(m.renderAssistantBlock("Danzar", msg.content, false))
		case "user":
			sb.WriteString(UserBlockStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
				RoleHeaderStyle.Foreground(BrightGreen).Render(strings.ToUpper(m.opts.Author)),
				UserMsgStyle.Render(msg.content),
			)) + "\n")
		case "assistant", "commentary":
			reasoning, answer := prompt.SplitReasoning(msg.content)
			sb.WriteString(m.renderThinkingBlock(reasoning))
			title := "Danzar"
			if msg.role == "commentary" {
				title = "Danzar (commentary)"
			}
			sb.WriteString(m.renderAssistantBlock(title, answer, true))
		case "session":
			reasoning, answer := prompt.SplitReasoning(msg.content)
			sb.WriteString(m.renderThinkingBlock(reasoning))
			if answer != "" {
				sb.WriteString(SessionStyle.Render("  "+answer) + "\n\n")
			}
		case "system":
			sb.WriteString(SystemMsgStyle.Render("  ℹ "+msg.content) + "\n\n")
		case "error":
			sb.WriteString(ErrorStyle.Render("  ✗ Error: "+msg.content) + "\n\n")
		}
	}

	if m.busy() {
		status := "Thinking..."
		if m.inSession {
			status = "Session running..."
		}
		sb.WriteString(m.spinner.Style.Render(fmt.Sprintf(" %s %s", m.spinner.View(), status)) + "\n")
	}

	wasAtBottom := m.viewport.AtBottom()
	m.viewport.SetContent(sb.String())
	if wasAtBottom || len(m.messages) <= 1 {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderAssistantBlock(title, content string, markdown bool) string {
	body := AssistantMsgStyle.Render(content)
	if markdown && m.renderer != nil {
		if rendered, err := m.renderer.Render(content); err == nil {
			body = rendered
		}
	}
	body = strings.TrimRight(body, "\n")
	return AssistantBlockStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			RoleHeaderStyle.Foreground(Cyan).Render(title),
			body,
		),
	) + "\n"
}

func (m *Model) renderThinkingBlock(content string) string {
	if content == "" {
		return ""
	}
	if !m.showThinking {
		lines := strings.Count(content, "\n") + 1
		return ThinkingBlockStyle.Render(fmt.Sprintf("💭 Reasoning (%d lines) [Ctrl+T to expand]", lines)) + "\n"
	}

	lines := strings.Split(content, "\n")
	var formatted strings.Builder
	formatted.WriteString(ThinkingLabelStyle.Render("💭 Reasoning") + "\n")

	maxLines := 15
	if len(lines) > maxLines {
		for _, line := range lines[:maxLines] {
			formatted.WriteString("│ " + line + "\n")
		}
		formatted.WriteString(fmt.Sprintf("└─ ... (%d more lines)\n", len(lines)-maxLines))
	} else {
		for i, line := range lines {
			prefix := "│ "
			if i == len(lines)-1 {
				prefix = "└─ "
			}
			formatted.WriteString(prefix + line + "\n")
		}
	}
	return ThinkingBlockStyle.Render(formatted.String()) + "\n"
}

func (m Model) View() string {
	state := "Ready"
	switch {
	case m.inSession:
		state = "Session running..."
	case m.inflight > 0:
		state = fmt.Sprintf("Thinking (%d queued)...", m.inflight)
	}
	commentary := "off"
	if m.opts.Commentator != nil && m.opts.Commentator.Running() {
		commentary = "on"
	}

	left := lipgloss.JoinVertical(lipgloss.Center,
		BannerStyle.Render(Banner),
		fmt.Sprintf("%s / %s", m.opts.ProviderName, m.opts.ModelName),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Foreground(Amber).Bold(true).Render("STATUS"),
		lipgloss.NewStyle().Foreground(White).Render(state),
		lipgloss.NewStyle().Foreground(White).Render("Commentary: "+commentary),
		"",
		lipgloss.NewStyle().Foreground(Amber).Bold(true).Render("Tips"),
		HelpStyle.Render("/help"),
		HelpStyle.Render("Esc to quit"),
	)
	header := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(DimGreen).
		Width(m.width).
		Align(lipgloss.Center).
		Render(lipgloss.JoinHorizontal(lipgloss.Center,
			lipgloss.NewStyle().PaddingLeft(2).Render(left),
			lipgloss.NewStyle().Width(4).Render(""),
			lipgloss.NewStyle().PaddingRight(2).PaddingTop(2).Render(right),
		))

	promptMark := lipgloss.NewStyle().Foreground(Green).Bold(true).Render("> ")
	if m.busy() {
		promptMark = lipgloss.NewStyle().Foreground(Purple).Bold(true).Render("● ")
	}
	inputBox := InputBoxStyle.
		Width(max(m.width-4, 10)).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, promptMark, m.textarea.View()))

	help := HelpStyle.Render("Enter: send  •  Alt+Enter: newline  •  Ctrl+T: reasoning  •  /help  •  Esc: quit")

	view := lipgloss.JoinVertical(lipgloss.Left,
		header,
		ViewportStyle.Render(m.viewport.View()),
		inputBox,
		lipgloss.NewStyle().PaddingLeft(2).Render(help),
	)
	switch {
	case m.settingsView.active:
		return lipgloss.JoinVertical(lipgloss.Left, view, m.settingsView.View())
	case m.menu.active:
		return lipgloss.JoinVertical(lipgloss.Left, view, m.menu.View())
	}
	return view
}

// Run starts the full-screen program and blocks until it exits.
func Run(opts Options) error {
	p := tea.NewProgram(NewModel(opts), tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}
