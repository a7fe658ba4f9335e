package console

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"meshbridge/pkg/bus"
)

// Run drives the operator console until the user quits or ctx ends.
func Run(ctx context.Context, notices <-chan bus.Notice, statusFn StatusFunc, exportFn ActionFunc, initFn ActionFunc) error {
	model := newModel(ctx, notices, statusFn, exportFn, initFn)
	program := tea.NewProgram(model, tea.WithContext(ctx))
	_, err := program.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(1, 2)

	return style.Render("⛭ MeshBridge console closed")
}
