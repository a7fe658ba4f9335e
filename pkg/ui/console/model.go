package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"meshbridge/pkg/bus"
)

// Snapshot is the slice of bridge state the header renders.
type Snapshot struct {
	SessionID     string
	SessionState  string
	PeerVersion   string
	Connected     bool
	PeerOrigin    string
	ArtifactName  string
	ArtifactBytes int
}

// StatusFunc supplies the current bridge snapshot.
type StatusFunc func() Snapshot

// ActionFunc triggers a bridge operation from a key binding.
type ActionFunc func(ctx context.Context) error

type consoleLine struct {
	kind    bus.NoticeKind
	at      time.Time
	content string
}

type noticeMsg struct {
	notice bus.Notice
	ok     bool
}

type actionResultMsg struct {
	action string
	err    error
}

type statusTickMsg struct{}

type model struct {
	ctx      context.Context
	statusFn StatusFunc
	exportFn ActionFunc
	initFn   ActionFunc
	notices  <-chan bus.Notice

	theme     theme
	spinner   spinner.Model
	viewport  viewport.Model
	lines     []consoleLine
	snapshot  Snapshot
	width     int
	height    int
	isReady   bool
	pending   string
	lastErr   string
	followLog bool
	closed    bool
}

func newModel(ctx context.Context, notices <-chan bus.Notice, statusFn StatusFunc, exportFn ActionFunc, initFn ActionFunc) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	vp := viewport.New(80, 12)

	m := &model{
		ctx:       ctx,
		statusFn:  statusFn,
		exportFn:  exportFn,
		initFn:    initFn,
		notices:   notices,
		theme:     defaultTheme(),
		spinner:   spin,
		viewport:  vp,
		width:     100,
		height:    28,
		followLog: true,
	}
	if statusFn != nil {
		m.snapshot = statusFn()
	}

	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(waitNoticeCmd(m.notices), statusTickCmd())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case statusTickMsg:
		if m.statusFn != nil {
			m.snapshot = m.statusFn()
		}
		return m, statusTickCmd()
	case noticeMsg:
		if !typed.ok {
			m.closed = true
			return m, nil
		}
		m.appendNotice(typed.notice)
		m.refreshViewport(false)
		return m, waitNoticeCmd(m.notices)
	case actionResultMsg:
		m.pending = ""
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			m.appendNotice(bus.Notice{
				Kind:    bus.NoticeError,
				At:      time.Now().UTC(),
				Message: fmt.Sprintf("%s failed: %v", typed.action, typed.err),
			})
		} else {
			m.lastErr = ""
		}
		m.refreshViewport(false)
		return m, nil
	case spinner.TickMsg:
		if m.pending == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case tea.KeyMsg:
		return m.handleKey(typed)
	}

	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc", "q":
		return m, tea.Quit
	case "e":
		if m.pending != "" || m.exportFn == nil {
			return m, nil
		}
		m.pending = "export"
		m.lastErr = ""
		return m, tea.Batch(m.spinner.Tick, runActionCmd(m.ctx, "export", m.exportFn))
	case "i":
		if m.pending != "" || m.initFn == nil {
			return m, nil
		}
		m.pending = "init"
		m.lastErr = ""
		return m, tea.Batch(m.spinner.Tick, runActionCmd(m.ctx, "init", m.initFn))
	}

	if m.handleViewportKey(msg) {
		return m, nil
	}

	return m, nil
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("⛭ MeshBridge Console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"session:%s · state:%s · peer:%s · channel:%s · artifact:%s",
		displayOrNA(m.snapshot.SessionID),
		displayOrNA(m.snapshot.SessionState),
		displayOrNA(m.snapshot.PeerVersion),
		connectionLabel(m.snapshot),
		artifactLabel(m.snapshot),
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("e export  ·  i resend init  ·  PgUp/PgDn scroll  ·  q quit")
	if m.pending != "" {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s running %s...", m.spinner.View(), m.pending))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("last action failed: " + m.lastErr)
	}
	if m.closed {
		status = m.theme.statusErr.Render("notice stream closed, bridge is shutting down")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
	)
}

func (m *model) appendNotice(notice bus.Notice) {
	at := notice.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	content := notice.Message
	if category := notice.Fields["category"]; category != "" {
		content = fmt.Sprintf("%s [%s]", content, category)
	}

	m.lines = append(m.lines, consoleLine{kind: notice.Kind, at: at, content: content})
}

func (m *model) resizeComponents() {
	w := m.width - 6
	if w < 50 {
		w = 50
	}
	h := m.height - 8
	if h < 8 {
		h = 8
	}

	m.viewport.Width = w
	m.viewport.Height = h
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	rendered := make([]string, 0, len(m.lines))
	for _, item := range m.lines {
		stamp := m.theme.timestamp.Render(item.at.Format("15:04:05"))
		rendered = append(rendered, stamp+" "+m.lineStyle(item.kind).Render(item.content))
	}

	m.viewport.SetContent(strings.Join(rendered, "\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if previousOffset > maxOffset {
		previousOffset = maxOffset
	}
	m.viewport.SetYOffset(previousOffset)
}

func (m *model) lineStyle(kind bus.NoticeKind) lipgloss.Style {
	switch kind {
	case bus.NoticeState:
		return m.theme.stateLine
	case bus.NoticeArtifact:
		return m.theme.artifact
	case bus.NoticeError:
		return m.theme.errorLine
	default:
		return m.theme.protocol
	}
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func waitNoticeCmd(notices <-chan bus.Notice) tea.Cmd {
	return func() tea.Msg {
		notice, ok := <-notices
		return noticeMsg{notice: notice, ok: ok}
	}
}

func statusTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(_ time.Time) tea.Msg {
		return statusTickMsg{}
	})
}

func runActionCmd(ctx context.Context, action string, fn ActionFunc) tea.Cmd {
	return func() tea.Msg {
		return actionResultMsg{action: action, err: fn(ctx)}
	}
}

func connectionLabel(snapshot Snapshot) string {
	if !snapshot.Connected {
		return "disconnected"
	}
	if snapshot.PeerOrigin != "" {
		return "connected " + snapshot.PeerOrigin
	}

	return "connected"
}

func artifactLabel(snapshot Snapshot) string {
	if snapshot.ArtifactName == "" {
		return "none"
	}

	return fmt.Sprintf("%s (%d bytes)", snapshot.ArtifactName, snapshot.ArtifactBytes)
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func max(a int, b int) int {
	if a > b {
		return a
	}

	return b
}
