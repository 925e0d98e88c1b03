package tui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeanpaul/danzar/internal/commentator"
	"github.com/jeanpaul/danzar/internal/dispatcher"
	"github.com/jeanpaul/danzar/internal/session"
)

const helpText = `Available commands:
    /help                      show this help
    /teach <turns> <topic>     run a guided lesson
    /research <min> <topic>    research a topic for a fixed time
    /image <path>              describe an image (the file is consumed)
    /commentator on|off        toggle live screen commentary
    /copy                      copy the last answer to the clipboard
    /export [path]             write this conversation as markdown
    /settings                  browse persona and voice settings
    /set <key> <value>         change one setting
    /model                     show the current model
    /clear                     clear the screen
    /quit                      exit

  Keyboard shortcuts:
    Enter        send message
    Alt+Enter    new line
    Ctrl+T       toggle reasoning visibility
    PgUp/PgDown  scroll conversation
    Esc          quit`

func (m *Model) system(text string) {
	m.messages = append(m.messages, chatMessage{role: "system", content: text})
}

func (m *Model) fail(text string) {
	m.messages = append(m.messages, chatMessage{role: "error", content: text})
}

// handleSlashCommand processes /commands entered by the user.
func (m Model) handleSlashCommand(text string) (tea.Model, tea.Cmd) {
	parts := strings.Fields(text)
	cmd := parts[0]
	args := parts[1:]
	var next tea.Cmd

	switch cmd {
	case "/help":
		m.system(helpText)

	case "/teach", "/research":
		if m.inSession {
			m.fail("a session is already running")
			break
		}
		if len(args) < 2 {
			m.fail(fmt.Sprintf("Usage: %s <%s> <topic>", cmd, map[string]string{"/teach": "turns", "/research": "minutes"}[cmd]))
			break
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			m.fail(fmt.Sprintf("%q is not a valid count", args[0]))
			break
		}
		topic := strings.Join(args[1:], " ")
		m.messages = append(m.messages, chatMessage{role: "user", content: text})
		m.inSession = true
		next = m.runSession(cmd == "/teach", topic, n)

	case "/image":
		if len(args) == 0 {
			m.fail("Usage: /image <path>")
			break
		}
		path := strings.Join(args, " ")
		return m.submit(dispatcher.ImagePath(path), "🖼 "+path)

	case "/commentator":
		if m.opts.Commentator == nil {
			m.fail("commentator is not configured")
			break
		}
		switch strings.ToLower(strings.Join(args, "")) {
		case "on":
			started, err := m.opts.Commentator.Start(m.ctx, commentator.Target{
				Author: m.opts.Author, Channel: m.opts.Channel, Reply: m.commentary,
			})
			switch {
			case err != nil:
				m.fail(err.Error())
			case started:
				m.system("Commentator started.")
			default:
				m.system("Commentator is already running.")
			}
		case "off":
			if m.opts.Commentator.Stop() {
				m.system("Commentator stopped.")
			} else {
				m.system("Commentator is not running.")
			}
		default:
			m.fail("Usage: /commentator on|off")
		}

	case "/copy":
		answer := m.lastAnswer()
		if answer == "" {
			m.fail("nothing to copy yet")
			break
		}
		if err := m.opts.CopyText(answer); err != nil {
			m.fail("copy failed: " + err.Error())
		} else {
			m.system("Copied last answer to clipboard.")
		}

	case "/export":
		if m.opts.History == nil {
			m.fail("history is not available")
			break
		}
		path := "danzar-session.md"
		if len(args) > 0 {
			path = args[0]
		}
		if err := m.opts.History.Export(m.opts.Channel, path); err != nil {
			m.fail(err.Error())
		} else {
			m.system("Saved to " + path)
		}

	case "/settings":
		if m.opts.Settings == nil {
			m.fail("settings are not available")
			break
		}
		m.settingsView.Activate()
		m.layout()

	case "/set":
		if m.opts.Settings == nil {
			m.fail("settings are not available")
			break
		}
		if len(args) < 1 {
			m.fail("Usage: /set <key> <value>")
			break
		}
		if err := m.opts.Settings.Set(args[0], strings.Join(args[1:], " ")); err != nil {
			m.fail(err.Error())
			break
		}
		m.opts.Settings.Save()
		m.settingsView.Refresh()
		m.system(fmt.Sprintf("Set %s.", args[0]))

	case "/model":
		m.system(fmt.Sprintf("Provider: %s\n  Model: %s", m.opts.ProviderName, m.opts.ModelName))

	case "/clear":
		m.messages = nil
		m.system("Screen cleared. Memory and history are kept.")

	case "/quit":
		return m.quit()

	default:
		m.fail(fmt.Sprintf("Unknown command: %s (type /help for available commands)", cmd))
	}

	m.rebuildView()
	return m, next
}

// runSession starts a teach or research loop whose messages flow through the
// narration channel. The final report is sent by the session itself.
func (m Model) runSession(teach bool, topic string, n int) tea.Cmd {
	ctx, sessions, out := m.ctx, m.opts.Sessions, m.narration
	return func() tea.Msg {
		var err error
		if teach {
			_, err = sessions.Teach(ctx, session.TeachRequest{Topic: topic, Turns: n, Channel: out})
		} else {
			_, err = sessions.Research(ctx, session.ResearchRequest{Topic: topic, Minutes: n, Channel: out})
		}
		return sessionDoneMsg{err: err}
	}
}
