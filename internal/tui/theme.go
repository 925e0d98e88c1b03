package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Core palette
	Green       = lipgloss.Color("#00FF41")
	BrightGreen = lipgloss.Color("#39FF14")
	MedGreen    = lipgloss.Color("#00C832")
	DarkGreen   = lipgloss.Color("#008F11")
	DimGreen    = lipgloss.Color("#003B00")
	Cyan        = lipgloss.Color("#00D4AA")
	Amber       = lipgloss.Color("#FFB000")
	Ember       = lipgloss.Color("#FF6B35")
	Purple      = lipgloss.Color("#B388FF")
	Black       = lipgloss.Color("#0D0208")
	MidGray     = lipgloss.Color("#3a3a4e")
	LightGray   = lipgloss.Color("#aaaaaa")
	White       = lipgloss.Color("#e0e0e0")

	StatusBarStyle = lipgloss.NewStyle().
			Background(DarkGreen).
			Foreground(Black).
			Bold(true).
			Padding(0, 1)

	StatusProviderStyle = lipgloss.NewStyle().
				Background(Green).
				Foreground(Black).
				Bold(true).
				Padding(0, 1)

	RoleHeaderStyle = lipgloss.NewStyle().Bold(true)

	UserMsgStyle = lipgloss.NewStyle().
			Foreground(Green)

	UserBlockStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(BrightGreen).
			PaddingLeft(1)

	AssistantMsgStyle = lipgloss.NewStyle().
				Foreground(White)

	AssistantBlockStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(Cyan).
				PaddingLeft(1)

	// Session progress lines (rounds, summaries, follow-ups)
	SessionStyle = lipgloss.NewStyle().
			Foreground(Amber)

	SystemMsgStyle = lipgloss.NewStyle().
			Foreground(LightGray).
			Italic(true)

	InputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(DarkGreen).
			Padding(0, 1)

	ViewportStyle = lipgloss.NewStyle().
			Padding(0, 1)

	MenuBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Green).
			Padding(0, 1)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(BrightGreen)

	BannerStyle = lipgloss.NewStyle().
			Foreground(Ember).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4136")).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(DimGreen)

	// Thinking blocks
	ThinkingLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#556B2F")).
				Italic(true).
				Bold(true)

	ThinkingBlockStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#4a5a3a")).
				Italic(true).
				PaddingLeft(2)
)

const Banner = `
  ██████╗  █████╗ ███╗   ██╗███████╗ █████╗ ██████╗
  ██╔══██╗██╔══██╗████╗  ██║╚══███╔╝██╔══██╗██╔══██╗
  ██║  ██║███████║██╔██╗ ██║  ███╔╝ ███████║██████╔╝
  ██║  ██║██╔══██║██║╚██╗██║ ███╔╝  ██╔══██║██╔══██╗
  ██████╔╝██║  ██║██║ ╚████║███████╗██║  ██║██║  ██║
  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═══╝╚══════╝╚═╝  ╚═╝╚═╝  ╚═╝
`
