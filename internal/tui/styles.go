package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#f7c0af")
	colorAccent  = lipgloss.Color("#3ccad7")
	colorFg      = lipgloss.Color("#dddddd")
	colorMuted   = lipgloss.Color("#7f7f7f")
	colorError   = lipgloss.Color("#bf5d47")
)

type styles struct {
	Header,
	HeaderRule,
	UserLabel,
	UserText,
	AgentLabel,
	Status,
	StatusError,
	Spinner,
	Input lipgloss.Style
}

func newStyles() styles {
	base := lipgloss.NewStyle().Foreground(colorFg)
	return styles{
		Header:      base.Foreground(colorPrimary).Bold(true).Padding(0, 1),
		HeaderRule:  base.Foreground(colorMuted),
		UserLabel:   base.Foreground(colorAccent).Bold(true),
		UserText:    base.PaddingLeft(2),
		AgentLabel:  base.Foreground(colorPrimary).Bold(true),
		Status:      base.Foreground(colorMuted).PaddingLeft(1),
		StatusError: base.Foreground(colorError).PaddingLeft(1),
		Spinner:     base.Foreground(colorPrimary),
		Input:       base.BorderStyle(lipgloss.NormalBorder()).BorderTop(true).BorderForeground(colorMuted),
	}
}
