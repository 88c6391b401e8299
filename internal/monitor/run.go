package monitor

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the monitor on the terminal until the user quits or ctx ends.
func Run(ctx context.Context, src Source, opts Options) error {
	p := tea.NewProgram(NewModel(src, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
