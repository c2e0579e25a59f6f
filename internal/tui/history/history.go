package history

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"syncq/internal/storage"
	"syncq/internal/tui/result"
	"syncq/internal/tui/styles"
)

// Lister is the read side of the history store.
type Lister interface {
	List() ([]storage.HistoryItem, error)
}

type Model struct {
	Store Lister
	Table table.Model
	Items []storage.HistoryItem
	Err   error

	// Detail is set while the selected run's summary is shown.
	Detail *result.Model

	Width  int
	Height int
}

func NewModel(store Lister) Model {
	columns := []table.Column{
		{Title: "Time", Width: 20},
		{Title: "URL", Width: 30},
		{Title: "VUs", Width: 6},
		{Title: "Sent", Width: 10},
		{Title: "Recv", Width: 10},
		{Title: "RTT p95", Width: 10},
		{Title: "Result", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	m := Model{
		Store: store,
		Table: t,
	}
	m.Refresh()
	return m
}

func (m *Model) Refresh() {
	m.Items, m.Err = m.Store.List()
	rows := make([]table.Row, len(m.Items))

	for i, item := range m.Items {
		verdict := "pass"
		if !item.Summary.Passed {
			verdict = "fail"
		}
		rows[i] = table.Row{
			item.Timestamp.Local().Format(time.DateTime),
			item.Config.URL,
			fmt.Sprintf("%d", item.Config.NumUsers),
			fmt.Sprintf("%d", item.Summary.Messages.Sent),
			fmt.Sprintf("%d", item.Summary.Messages.Received),
			fmt.Sprintf("%.1f", item.Summary.RTT.P95),
			verdict,
		}
	}
	m.Table.SetRows(rows)
}

// Selected returns the highlighted run, or nil when the table is empty.
func (m Model) Selected() *storage.HistoryItem {
	i := m.Table.Cursor()
	if i < 0 || i >= len(m.Items) {
		return nil
	}
	return &m.Items[i]
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)
		m.Table.SetHeight(max(msg.Height-8, 5))

	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			if item := m.Selected(); item != nil {
				d := result.NewModel(item.Summary)
				m.Detail = &d
			}
			return m, nil
		case "esc", "backspace":
			m.Detail = nil
			return m, nil
		case "r":
			m.Refresh()
			return m, nil
		}
	}

	if m.Detail != nil {
		return m, nil
	}
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.Err != nil {
		return styles.Error.Render(fmt.Sprintf("history unavailable: %v", m.Err))
	}
	if m.Detail != nil {
		return m.Detail.View() + "\n\n" + styles.RenderKey("Esc", "Back")
	}
	if len(m.Items) == 0 {
		return styles.Subtle.Render("No runs recorded yet. Run with --history to keep one.")
	}
	return styles.Box.Render(m.Table.View())
}
