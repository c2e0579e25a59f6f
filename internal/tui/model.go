// Package tui is the interactive front end: a live dashboard while a run is
// in progress and a browser over the run history.
package tui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"syncq/internal/report"
	"syncq/internal/runner"
	"syncq/internal/tui/history"
	"syncq/internal/tui/live"
	"syncq/internal/tui/result"
	"syncq/internal/tui/styles"
)

type ViewID int

const (
	ViewLive ViewID = iota
	ViewResult
	ViewHistory
)

// StatsMsg carries one live snapshot into the program.
type StatsMsg runner.StatsSnapshot

// DoneMsg is sent once the run has finished and its summary is built.
type DoneMsg struct {
	Summary report.Summary
}

type Model struct {
	Updates runner.StatsUpdateChan
	Cancel  context.CancelFunc

	Live    live.Model
	Result  *result.Model
	History *history.Model

	CurrentView ViewID
	Stopping    bool
	Done        bool

	Width  int
	Height int
}

// NewModel builds the dashboard for a run. cancel stops the run early; store
// may be nil when history is disabled.
func NewModel(cfg runner.Config, updates runner.StatsUpdateChan, cancel context.CancelFunc, store history.Lister) Model {
	m := Model{
		Updates:     updates,
		Cancel:      cancel,
		Live:        live.NewModel(cfg),
		CurrentView: ViewLive,
	}
	if store != nil {
		h := history.NewModel(store)
		m.History = &h
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return waitForUpdate(m.Updates)
}

func waitForUpdate(sub runner.StatsUpdateChan) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-sub
		if !ok {
			return nil
		}
		return StatsMsg(snap)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.Done {
				return m, tea.Quit
			}
			if !m.Stopping && m.Cancel != nil {
				m.Stopping = true
				m.Cancel()
			}
			return m, nil

		case "tab":
			m.CurrentView = m.nextView()
			if m.CurrentView == ViewHistory {
				m.History.Refresh()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		inner := tea.WindowSizeMsg{Width: msg.Width, Height: msg.Height - 6}
		m.Live, _ = m.Live.Update(inner)
		if m.History != nil {
			*m.History, _ = m.History.Update(inner)
		}
		return m, nil

	case StatsMsg:
		var c tea.Cmd
		m.Live, c = m.Live.Update(runner.StatsSnapshot(msg))
		return m, tea.Batch(c, waitForUpdate(m.Updates))

	case DoneMsg:
		m.Done = true
		r := result.NewModel(msg.Summary)
		m.Result = &r
		m.CurrentView = ViewResult
		if m.History != nil {
			m.History.Refresh()
		}
		return m, nil
	}

	var cmd tea.Cmd
	switch m.CurrentView {
	case ViewLive:
		m.Live, cmd = m.Live.Update(msg)
	case ViewHistory:
		*m.History, cmd = m.History.Update(msg)
	}
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) nextView() ViewID {
	views := []ViewID{ViewLive}
	if m.Result != nil {
		views = append(views, ViewResult)
	}
	if m.History != nil {
		views = append(views, ViewHistory)
	}
	for i, v := range views {
		if v == m.CurrentView {
			return views[(i+1)%len(views)]
		}
	}
	return ViewLive
}

func (m Model) View() string {
	if m.Width == 0 {
		return "Loading..."
	}

	tabs := []struct {
		id    ViewID
		label string
		show  bool
	}{
		{ViewLive, "Live", true},
		{ViewResult, "Summary", m.Result != nil},
		{ViewHistory, "History", m.History != nil},
	}
	nav := strings.Builder{}
	for _, t := range tabs {
		if !t.show {
			continue
		}
		if t.id == m.CurrentView {
			nav.WriteString(styles.TabActive.Render(t.label))
		} else {
			nav.WriteString(styles.TabBase.Render(t.label))
		}
	}
	navBar := styles.FooterBase.Width(m.Width).Render(nav.String())

	var content string
	switch m.CurrentView {
	case ViewLive:
		content = m.Live.View()
	case ViewResult:
		content = m.Result.View()
	case ViewHistory:
		content = m.History.View()
	}
	panel := styles.Panel.Width(m.Width - 2).Render(content)

	var keys []string
	switch {
	case m.Done:
		keys = append(keys, styles.RenderKey("q", "Quit"))
	case m.Stopping:
		keys = append(keys, styles.Warn.Render("Stopping: closing sessions..."))
	default:
		keys = append(keys, styles.RenderKey("q", "Stop"))
	}
	keys = append(keys, styles.RenderKey("Tab", "View"))
	if m.CurrentView == ViewHistory {
		keys = append(keys, styles.RenderKey("Enter", "Details"))
	}
	footer := styles.FooterBase.Width(m.Width).Render(strings.Join(keys, "   "))

	return lipgloss.JoinVertical(lipgloss.Left, navBar, panel, footer)
}

// Browser is the standalone history viewer.
type Browser struct {
	History history.Model
}

func NewBrowser(store history.Lister) Browser {
	return Browser{History: history.NewModel(store)}
}

func (b Browser) Init() tea.Cmd {
	return nil
}

func (b Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "ctrl+c", "q":
			return b, tea.Quit
		}
	}
	var cmd tea.Cmd
	b.History, cmd = b.History.Update(msg)
	return b, cmd
}

func (b Browser) View() string {
	keys := strings.Join([]string{
		styles.RenderKey("↑/↓", "Select"),
		styles.RenderKey("Enter", "Details"),
		styles.RenderKey("r", "Reload"),
		styles.RenderKey("q", "Quit"),
	}, "   ")
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render("SyncQ run history"),
		b.History.View(),
		styles.FooterBase.Render(keys),
	)
}
