package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"portfolioagent/internal/llm"
	"portfolioagent/internal/session"
)

// Start runs the chat until the user quits.
func Start(engine *llm.Engine, sess *session.Session) error {
	p := tea.NewProgram(
		New(engine, sess),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := p.Run()
	return err
}
