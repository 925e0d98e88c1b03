package tui

import (
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type item struct {
	title, desc string
}

func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title }

// MenuModel is the slash command popup opened by typing '/'.
type MenuModel struct {
	list   list.Model
	active bool
}

func NewMenuModel() MenuModel {
	items := []list.Item{
		item{title: "/help", desc: "Show help commands"},
		item{title: "/teach", desc: "Guided lesson: /teach <turns> <topic>"},
		item{title: "/research", desc: "Timed research: /research <minutes> <topic>"},
		item{title: "/image", desc: "Describe an image file"},
		item{title: "/commentator", desc: "Live screen commentary on|off"},
		item{title: "/copy", desc: "Copy the last answer"},
		item{title: "/export", desc: "Save the conversation as markdown"},
		item{title: "/settings", desc: "Persona and voice settings"},
		item{title: "/quit", desc: "Exit the application"},
	}

	d := list.NewDefaultDelegate()
	d.Styles.SelectedTitle = lipgloss.NewStyle().Foreground(Green).Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(Green).PaddingLeft(1)
	d.Styles.SelectedDesc = d.Styles.SelectedTitle.Foreground(DimGreen)

	l := list.New(items, d, 40, 14)
	l.Title = "Commands"
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = lipgloss.NewStyle().Foreground(Green).Bold(true).MarginLeft(2)

	return MenuModel{list: l}
}

func (m MenuModel) Update(msg tea.Msg) (MenuModel, tea.Cmd) {
	if !m.active {
		return m, nil
	}
	if k, ok := msg.(tea.KeyMsg); ok && k.String() == "esc" {
		m.active = false
		return m, nil
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m MenuModel) View() string {
	if !m.active {
		return ""
	}
	return MenuBoxStyle.Render(m.list.View())
}
