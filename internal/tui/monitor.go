// Package tui renders a compact live view of the worker pool: slot states,
// allocation counter, and the most recent pool events.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quarrylabs/quarry/internal/events"
	"github.com/quarrylabs/quarry/internal/workers"
)

const maxRecent = 12

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("57")).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	busyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	idleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	emptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

// Run blocks on the monitor until the user quits.
func Run(pool *workers.Pool, hub *events.Hub) error {
	sub, cancel := hub.Subscribe()
	m := model{
		pool:   pool,
		sub:    sub,
		cancel: cancel,
		status: pool.Status(),
	}
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

type model struct {
	pool   *workers.Pool
	sub    <-chan events.Event
	cancel func()
	status workers.Status
	recent []events.Event
}

type eventMsg events.Event

type tickMsg time.Time

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.sub), tick())
}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return tea.Quit()
		}
		return eventMsg(ev)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}
	case eventMsg:
		m.recent = append(m.recent, events.Event(msg))
		if len(m.recent) > maxRecent {
			m.recent = m.recent[len(m.recent)-maxRecent:]
		}
		return m, waitForEvent(m.sub)
	case tickMsg:
		m.status = m.pool.Status()
		return m, tick()
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("quarry workers — %s", m.status.Network)))
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render(fmt.Sprintf("slots %d  allocs %d  in-flight %d",
		m.status.Size, m.status.Allocs, m.status.InFlight)))
	b.WriteString("\n")

	for _, slot := range m.status.Slots {
		switch {
		case !slot.Spawned:
			b.WriteString(emptyStyle.Render(fmt.Sprintf("  [%d] empty", slot.Slot)))
		case slot.InFlight > 0:
			b.WriteString(busyStyle.Render(fmt.Sprintf("  [%d] busy (%d in flight)", slot.Slot, slot.InFlight)))
		default:
			b.WriteString(idleStyle.Render(fmt.Sprintf("  [%d] idle", slot.Slot)))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(labelStyle.Render("recent events"))
	b.WriteString("\n")
	for i := len(m.recent) - 1; i >= 0; i-- {
		ev := m.recent[i]
		line := fmt.Sprintf("  %s [%d] %s %s", ev.At.Format("15:04:05"), ev.Slot, ev.Type, string(ev.Data))
		if ev.Type == events.TypeWorkerError || ev.Type == events.TypeWorkerExit {
			b.WriteString(errStyle.Render(line))
		} else {
			b.WriteString(line)
		}
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("q: quit"))
	return b.String()
}
