package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/danzar/internal/commentator"
	"github.com/jeanpaul/danzar/internal/dispatcher"
	"github.com/jeanpaul/danzar/internal/history"
	"github.com/jeanpaul/danzar/internal/provider"
	"github.com/jeanpaul/danzar/internal/session"
	"github.com/jeanpaul/danzar/internal/settings"
)

type recordingDispatcher struct {
	items []dispatcher.Item
	err   error
}

func (d *recordingDispatcher) Submit(_ context.Context, it dispatcher.Item) error {
	if d.err != nil {
		return d.err
	}
	d.items = append(d.items, it)
	return nil
}

type recordingSessions struct {
	teach    []session.TeachRequest
	research []session.ResearchRequest
}

func (s *recordingSessions) Teach(ctx context.Context, req session.TeachRequest) (session.Report, error) {
	s.teach = append(s.teach, req)
	_, err := req.Channel.Send(ctx, "✅ Teaching complete: 2 rounds.")
	return session.Report{Rounds: req.Turns}, err
}

func (s *recordingSessions) Research(_ context.Context, req session.ResearchRequest) (session.Report, error) {
	s.research = append(s.research, req)
	return session.Report{}, nil
}

type toggleCommentator struct {
	running bool
	target  commentator.Target
}

func (c *toggleCommentator) Start(_ context.Context, t commentator.Target) (bool, error) {
	if c.running {
		return false, nil
	}
	c.running, c.target = true, t
	return true, nil
}

func (c *toggleCommentator) Stop() bool {
	was := c.running
	c.running = false
	return was
}

func (c *toggleCommentator) Running() bool { return c.running }

func newTestModel(t *testing.T) (Model, *recordingDispatcher, *recordingSessions) {
	t.Helper()
	d := &recordingDispatcher{}
	s := &recordingSessions{}
	m := NewModel(Options{
		Dispatcher:   d,
		Sessions:     s,
		History:      history.New(6),
		ProviderName: "mock-provider",
		ModelName:    "mock-model",
	})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 50})
	return updated.(Model), d, s
}

func send(t *testing.T, m Model, text string) (Model, tea.Cmd) {
	t.Helper()
	m.textarea.SetValue(text)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return updated.(Model), cmd
}

func TestMenuTrigger(t *testing.T) {
	m, _, _ := newTestModel(t)
	if m.menu.active {
		t.Error("Menu should be inactive on startup")
	}

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'/'}})
	m = updated.(Model)
	if !m.menu.active {
		t.Error("Menu should be active after pressing '/'")
	}
	if !strings.Contains(m.View(), "/teach") {
		t.Error("View should display menu items like '/teach'")
	}
}

func TestHeaderRendering(t *testing.T) {
	m, _, _ := newTestModel(t)
	view := m.View()
	assert.Contains(t, view, "mock-model")
	assert.Contains(t, view, "Tips")
	assert.Contains(t, view, "> ")
}

func TestEnterSubmitsClassifiedPayload(t *testing.T) {
	m, d, _ := newTestModel(t)

	m, _ = send(t, m, "  what is fire?  ")
	img := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0o644))
	m, _ = send(t, m, img)

	require.Len(t, d.items, 2)
	assert.Equal(t, dispatcher.Text("what is fire?"), d.items[0].Payload)
	assert.Equal(t, dispatcher.KindImage, d.items[1].Payload.Kind)
	assert.Equal(t, "user", d.items[0].Author)
	assert.Equal(t, "tui", d.items[0].Channel)
	assert.Same(t, m.replies, d.items[0].Reply)
	assert.Equal(t, 2, m.inflight)
	assert.Empty(t, m.textarea.Value())
}

func TestSubmitErrorIsShown(t *testing.T) {
	m, d, _ := newTestModel(t)
	d.err = dispatcher.ErrQueueFull

	m, _ = send(t, m, "hello there")
	assert.Zero(t, m.inflight)
	assert.Equal(t, "error", m.messages[len(m.messages)-1].role)
}

func TestReplyEditReplacesPlaceholder(t *testing.T) {
	m, _, _ := newTestModel(t)
	m, _ = send(t, m, "what is fire?")

	h, err := m.replies.Send(context.Background(), "user Thinking…")
	require.NoError(t, err)
	updated, _ := m.Update(<-m.replies.events)
	m = updated.(Model)
	assert.Equal(t, "user Thinking…", m.messages[len(m.messages)-1].content)

	require.NoError(t, h.Edit(context.Background(), "<think>recall</think>Heat and light."))
	updated, _ = m.Update(<-m.replies.events)
	m = updated.(Model)

	last := m.messages[len(m.messages)-1]
	assert.Equal(t, "assistant", last.role)
	assert.Equal(t, "<think>recall</think>Heat and light.", last.content)
	assert.Zero(t, m.inflight)
	assert.Equal(t, "Heat and light.", m.lastAnswer())
}

func TestCopyUsesVisibleAnswer(t *testing.T) {
	m, _, _ := newTestModel(t)
	var copied string
	m.opts.CopyText = func(s string) error { copied = s; return nil }

	m, _ = send(t, m, "/copy")
	assert.Equal(t, "error", m.messages[len(m.messages)-1].role)

	m.messages = append(m.messages, chatMessage{role: "assistant", content: "<think>x</think>Fireball."})
	m, _ = send(t, m, "/copy")
	assert.Equal(t, "Fireball.", copied)

	m.opts.CopyText = func(string) error { return errors.New("no clipboard") }
	m, _ = send(t, m, "/copy")
	assert.Contains(t, m.messages[len(m.messages)-1].content, "no clipboard")
}

func TestTeachCommandRunsSession(t *testing.T) {
	m, _, s := newTestModel(t)

	m, cmd := send(t, m, "/teach 2 fire magic")
	require.NotNil(t, cmd)
	assert.True(t, m.inSession)

	done := cmd()
	require.Len(t, s.teach, 1)
	assert.Equal(t, "fire magic", s.teach[0].Topic)
	assert.Equal(t, 2, s.teach[0].Turns)
	assert.Same(t, m.narration, s.teach[0].Channel)

	updated, _ := m.Update(<-m.replies.events)
	m = updated.(Model)
	assert.Equal(t, "session", m.messages[len(m.messages)-1].role)

	updated, _ = m.Update(done)
	m = updated.(Model)
	assert.False(t, m.inSession)
}

func TestSessionCommandValidation(t *testing.T) {
	m, _, s := newTestModel(t)
	for _, in := range []string{"/teach", "/teach fire", "/research x topic", "/research -1 topic"} {
		var cmd tea.Cmd
		m, cmd = send(t, m, in)
		assert.Nil(t, cmd, in)
		assert.Equal(t, "error", m.messages[len(m.messages)-1].role, in)
	}
	assert.Empty(t, s.teach)
	assert.Empty(t, s.research)
}

func TestCommentatorToggle(t *testing.T) {
	m, _, _ := newTestModel(t)
	c := &toggleCommentator{}
	m.opts.Commentator = c

	m, _ = send(t, m, "/commentator on")
	assert.True(t, c.running)
	assert.Same(t, m.commentary, c.target.Reply)
	assert.Contains(t, m.View(), "Commentary: on")

	m, _ = send(t, m, "/commentator off")
	assert.False(t, c.running)
	assert.Equal(t, "Commentator stopped.", m.messages[len(m.messages)-1].content)
}

func TestExportWritesHistory(t *testing.T) {
	h := history.New(6)
	h.Push("tui", provider.RoleUser, "what is fire?")
	h.Push("tui", provider.RoleAssistant, "Heat and light.")

	m, _, _ := newTestModel(t)
	m.opts.History = h
	path := filepath.Join(t.TempDir(), "out.md")
	send(t, m, "/export "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Heat and light.")
}

func TestSetUpdatesSettings(t *testing.T) {
	m, _, _ := newTestModel(t)
	mgr := settings.Open(filepath.Join(t.TempDir(), "settings.yaml"), nil)
	m.opts.Settings = mgr
	m.settingsView = NewSettingsModel(mgr)

	m, _ = send(t, m, "/set voice p225")
	assert.Equal(t, "p225", mgr.Get().Voice)

	m, _ = send(t, m, "/set colour red")
	assert.Equal(t, "error", m.messages[len(m.messages)-1].role)

	m, _ = send(t, m, "/settings")
	assert.True(t, m.settingsView.active)
	var voice string
	for _, it := range m.settingsView.list.Items() {
		if si := it.(settingsItem); si.key == "voice" {
			voice = si.value
		}
	}
	assert.Equal(t, "p225", voice)
}
