package console

import "github.com/charmbracelet/lipgloss"

// theme groups reusable styles for console UI regions.
type theme struct {
	header     lipgloss.Style
	headerMeta lipgloss.Style
	divider    lipgloss.Style
	stateLine  lipgloss.Style
	artifact   lipgloss.Style
	errorLine  lipgloss.Style
	protocol   lipgloss.Style
	timestamp  lipgloss.Style
	status     lipgloss.Style
	statusBusy lipgloss.Style
	statusErr  lipgloss.Style
	hint       lipgloss.Style
	viewport   lipgloss.Style
}

// defaultTheme defines the terminal palette for the bridge console.
func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("24")),
		headerMeta: lipgloss.NewStyle().
			Foreground(lipgloss.Color("152")),
		divider: lipgloss.NewStyle().
			Foreground(lipgloss.Color("66")),
		stateLine: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true),
		artifact: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true),
		errorLine: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")),
		protocol: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")),
		timestamp: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Bold(true),
		statusBusy: lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")).
			Bold(true),
		statusErr: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		viewport: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("66")).
			Background(lipgloss.Color("233")).
			Padding(0, 1),
	}
}
