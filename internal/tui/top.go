// Package tui renders the live spool dashboard for "spindle top".
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agusx1211/spindle/internal/spool"
	"github.com/agusx1211/spindle/internal/store"
)

// refreshInterval is how often the dashboard re-reads the store.
const refreshInterval = time.Second

// KeyMap defines the dashboard key bindings.
type KeyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
	}
}

type tickMsg time.Time

// Model is the bubbletea model for the spool dashboard.
type Model struct {
	store  *store.Store
	keys   KeyMap
	width  int
	height int

	spools   []*spool.Spool
	selected int
	err      error
}

// New creates the dashboard model over a spool store.
func New(st *store.Store) Model {
	m := Model{store: st, keys: DefaultKeyMap()}
	m.load()
	return m
}

func (m *Model) load() {
	spools, err := m.store.List(nil)
	m.err = err
	if err != nil {
		return
	}
	// Newest first.
	for i, j := 0, len(spools)-1; i < j; i, j = i+1, j-1 {
		spools[i], spools[j] = spools[j], spools[i]
	}
	m.spools = spools
	if m.selected >= len(spools) {
		m.selected = len(spools) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles key presses, window sizing, and refresh ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.load()
		return m, tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.spools)-1 {
				m.selected++
			}
		}
	}
	return m, nil
}

// View renders the summary line, the spool list, and the selected record's
// detail.
func (m Model) View() string {
	if m.err != nil {
		return fmt.Sprintf("error reading spools: %v\n", m.err)
	}

	width := m.width
	if width < 40 {
		width = 100
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("spindle top"))
	b.WriteString("  ")
	b.WriteString(m.summaryLine())
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-16s %-8s %-9s %-8s %s", "ID", "HARNESS", "STATUS", "AGE", "PROMPT")))
	b.WriteString("\n")

	if len(m.spools) == 0 {
		b.WriteString(dimStyle.Render("no spools yet"))
		b.WriteString("\n")
	}

	maxRows := m.height - 10
	if maxRows < 5 {
		maxRows = 20
	}
	for i, sp := range m.spools {
		if i >= maxRows {
			b.WriteString(dimStyle.Render(fmt.Sprintf("… %d more", len(m.spools)-maxRows)))
			b.WriteString("\n")
			break
		}
		b.WriteString(m.renderRow(i, sp, width))
		b.WriteString("\n")
	}

	if len(m.spools) > 0 && m.selected < len(m.spools) {
		b.WriteString("\n")
		b.WriteString(m.renderDetail(m.spools[m.selected], width))
	}

	b.WriteString(helpStyle.Render("↑/↓ select · q quit"))
	return b.String()
}

func (m Model) summaryLine() string {
	counts := make(map[spool.Status]int)
	for _, sp := range m.spools {
		counts[sp.Status]++
	}
	parts := []string{
		statusStyle("running").Render(fmt.Sprintf("%d running", counts[spool.StatusRunning])),
		statusStyle("complete").Render(fmt.Sprintf("%d complete", counts[spool.StatusComplete])),
		statusStyle("error").Render(fmt.Sprintf("%d failed", counts[spool.StatusError]+counts[spool.StatusTimeout]+counts[spool.StatusKilled])),
		dimStyle.Render(fmt.Sprintf("%d total", len(m.spools))),
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderRow(i int, sp *spool.Spool, width int) string {
	promptWidth := width - 48
	if promptWidth < 10 {
		promptWidth = 10
	}
	row := fmt.Sprintf("%-16s %-8s %-9s %-8s %s",
		sp.ID,
		sp.Harness,
		statusStyle(string(sp.Status)).Render(fmt.Sprintf("%-9s", sp.Status)),
		shortAge(sp.CreatedAt),
		spool.Truncate(strings.ReplaceAll(sp.Prompt, "\n", " "), promptWidth),
	)
	if i == m.selected {
		return selectedStyle.Render(row)
	}
	return row
}

func (m Model) renderDetail(sp *spool.Spool, width int) string {
	var lines []string
	lines = append(lines, dimStyle.Render("prompt: ")+spool.Truncate(strings.ReplaceAll(sp.Prompt, "\n", " "), width-10))
	switch {
	case sp.Status == spool.StatusComplete:
		lines = append(lines, dimStyle.Render("result: ")+spool.Truncate(strings.ReplaceAll(sp.Result, "\n", " "), width-10))
	case sp.Status.Terminal():
		lines = append(lines, dimStyle.Render("error:  ")+spool.Truncate(sp.Error, width-10))
	case sp.PID > 0:
		lines = append(lines, dimStyle.Render(fmt.Sprintf("pid: %d", sp.PID)))
	}
	if sp.SessionID != "" {
		lines = append(lines, dimStyle.Render("session: ")+sp.SessionID)
	}
	if sp.Shard != nil {
		lines = append(lines, dimStyle.Render("shard:  ")+sp.Shard.BranchName)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

func shortAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}
