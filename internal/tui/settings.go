package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeanpaul/danzar/internal/settings"
)

// SettingsModel lists the editable settings. Selecting one pre-fills a /set
// command in the input box.
type SettingsModel struct {
	list        list.Model
	active      bool
	mgr         *settings.Manager
	selectedKey string
}

type settingsItem struct {
	key   string
	value string
}

func (i settingsItem) Title() string       { return i.key }
func (i settingsItem) Description() string { return i.value }
func (i settingsItem) FilterValue() string { return i.key }

func NewSettingsModel(mgr *settings.Manager) SettingsModel {
	d := list.NewDefaultDelegate()
	d.Styles.SelectedTitle = lipgloss.NewStyle().Foreground(Green).Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(Green).PaddingLeft(1)
	d.Styles.SelectedDesc = d.Styles.SelectedTitle.Foreground(DimGreen)

	l := list.New(nil, d, 60, 14)
	l.Title = "Settings"
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.Styles.Title = lipgloss.NewStyle().Foreground(Green).Bold(true).MarginLeft(2)

	m := SettingsModel{list: l, mgr: mgr}
	m.Refresh()
	return m
}

// Refresh reloads the displayed values from the manager.
func (m *SettingsModel) Refresh() {
	if m.mgr == nil {
		return
	}
	m.list.SetItems(settingsItems(m.mgr.Get()))
}

func settingsItems(s settings.Settings) []list.Item {
	join := "none"
	if s.AutoJoinChannel != nil {
		join = *s.AutoJoinChannel
	}
	values := map[string]string{
		"voice":             s.Voice,
		"volume":            fmt.Sprintf("%g", s.Volume),
		"personality":       firstLine(s.Personality, 50),
		"auto_join_channel": join,
	}
	items := make([]list.Item, 0, len(values))
	for _, k := range settings.Keys() {
		items = append(items, settingsItem{key: k, value: values[k]})
	}
	return items
}

func firstLine(s string, n int) string {
	s, _, _ = strings.Cut(s, "\n")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

func (m SettingsModel) Update(msg tea.Msg) (SettingsModel, tea.Cmd) {
	if !m.active {
		return m, nil
	}
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			m.active = false
			return m, nil
		case "enter":
			if selected, ok := m.list.SelectedItem().(settingsItem); ok {
				m.selectedKey = selected.key
				m.active = false
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m SettingsModel) View() string {
	if !m.active {
		return ""
	}
	footer := HelpStyle.Render("↑/↓: Navigate | Enter: Edit | Esc: Close")
	return MenuBoxStyle.Render(m.list.View() + "\n" + footer)
}

func (m *SettingsModel) Activate() {
	m.Refresh()
	m.active = true
}

// SelectedKey returns the key chosen with Enter, once.
func (m *SettingsModel) SelectedKey() string {
	key := m.selectedKey
	m.selectedKey = ""
	return key
}
