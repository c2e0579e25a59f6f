package result

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"syncq/internal/report"
	"syncq/internal/tui/styles"
)

// Model renders a finished run's summary.
type Model struct {
	Summary report.Summary

	Width  int
	Height int
}

func NewModel(s report.Summary) Model {
	return Model{Summary: s}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}
	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}
	sum := m.Summary

	s.WriteString(styles.Title.Render("📊 Test Complete"))
	s.WriteString("\n\n")

	s.WriteString(styles.Active.Render("Connections"))
	s.WriteString("\n")
	s.WriteString(styles.Box.Render(fmt.Sprintf(
		"Sessions:    %d\nFailed:      %d\nSuccess:     %.1f%%\nConnect p95: %.2f ms",
		sum.Connections.Total, sum.Connections.Failed,
		sum.Connections.SuccessRate*100, sum.Connections.ConnectingTime.P95,
	)))
	s.WriteString("\n\n")

	s.WriteString(styles.Active.Render("Messages"))
	s.WriteString("\n")
	s.WriteString(styles.Box.Render(fmt.Sprintf(
		"Sent:            %d (%.1f/s)\nReceived:        %d (%.1f/s)\nProtocol errors: %d\nBytes out/in:    %d / %d",
		sum.Messages.Sent, sum.Messages.Rate.SentPerSecond,
		sum.Messages.Received, sum.Messages.Rate.ReceivedPerSecond,
		sum.Messages.ProtocolErrors,
		sum.Run.BytesSent, sum.Run.BytesReceived,
	)))
	s.WriteString("\n\n")

	s.WriteString(styles.Active.Render("Round-trip time"))
	s.WriteString("\n")
	s.WriteString(styles.Box.Render(fmt.Sprintf(
		"Avg: %.2f ms\nMin: %.2f ms\nMed: %.2f ms\nP90: %.2f ms\nP95: %.2f ms\nMax: %.2f ms",
		sum.RTT.Avg, sum.RTT.Min, sum.RTT.Median, sum.RTT.P90, sum.RTT.P95, sum.RTT.Max,
	)))

	if len(sum.Thresholds) > 0 {
		s.WriteString("\n\n")
		s.WriteString(styles.Active.Render("Thresholds"))
		s.WriteString("\n")
		lines := make([]string, 0, len(sum.Thresholds))
		for _, t := range sum.Thresholds {
			line := fmt.Sprintf("%s %s: %s (actual %.2f)", styles.Verdict(t.Passed), t.Metric, t.Expr, t.Actual)
			if t.Err != "" {
				line += " " + styles.Error.Render(t.Err)
			}
			lines = append(lines, line)
		}
		s.WriteString(styles.Box.Render(strings.Join(lines, "\n")))
	}

	return s.String()
}
