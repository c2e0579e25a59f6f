package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"syncq/internal/runner"
	"syncq/internal/tui/components"
	"syncq/internal/tui/styles"
)

// Model is the live dashboard of a running test, fed by runner snapshots.
type Model struct {
	Stats    runner.StatsSnapshot
	Progress progress.Model

	SentLine components.Sparkline
	RTTLine  components.Sparkline

	URL      string
	VUs      int
	Duration time.Duration

	lastSent    int64
	lastElapsed time.Duration

	Width  int
	Height int
}

func NewModel(cfg runner.Config) Model {
	return Model{
		Progress: progress.New(progress.WithDefaultGradient()),
		SentLine: components.NewSparkline(40, "Messages/s (sent)", styles.Active),
		RTTLine:  components.NewSparkline(40, "RTT P90 (ms)", styles.Warn),
		URL:      cfg.URL,
		VUs:      cfg.NumUsers,
		Duration: cfg.Duration,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runner.StatsSnapshot:
		dt := (msg.Elapsed - m.lastElapsed).Seconds()
		if dt > 0.01 {
			m.SentLine.Add(float64(msg.Sent-m.lastSent) / dt)
			m.RTTLine.Add(msg.P90RTTMs)
			m.lastSent = msg.Sent
			m.lastElapsed = msg.Elapsed
		}
		m.Stats = msg
		return m, m.Progress.SetPercent(m.Percent())

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		half := max(msg.Width/2-4, 10)
		m.SentLine.Width = half
		m.RTTLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

// Percent is the elapsed share of the run deadline; runs bounded only by
// iterations report 0.
func (m Model) Percent() float64 {
	if m.Duration <= 0 {
		return 0
	}
	return min(float64(m.Stats.Elapsed)/float64(m.Duration), 1.0)
}

func (m Model) View() string {
	s := strings.Builder{}
	st := m.Stats

	s.WriteString(styles.Subtle.Render(fmt.Sprintf("%s  |  %d VUs  |  %s / %s",
		m.URL, m.VUs, st.Elapsed.Round(time.Second), m.Duration)))
	s.WriteString("\n\n")

	connErrPct := 0.0
	if st.Sessions > 0 {
		connErrPct = float64(st.ConnectionErrors) / float64(st.Sessions) * 100
	}
	protoPct := 0.0
	if st.Received > 0 {
		protoPct = float64(st.ProtocolErrors) / float64(st.Received) * 100
	}

	col1 := fmt.Sprintf("VUs:      %d\nOPEN:     %d\nSESSIONS: %d", st.ActiveVUs, st.ActiveConnections, st.Sessions)
	col2 := styles.ErrorLevel(connErrPct).Render(fmt.Sprintf("CONN ERR: %d\nSUCCESS:  %.1f%%", st.ConnectionErrors, st.ConnectionSuccess*100))
	col3 := fmt.Sprintf("SENT: %d\nRECV: %d\n%s", st.Sent, st.Received,
		styles.ErrorLevel(protoPct).Render(fmt.Sprintf("PROTO ERR: %d", st.ProtocolErrors)))
	col4 := fmt.Sprintf("KB OUT: %d\nKB IN:  %d", st.BytesSent/1024, st.BytesReceived/1024)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(col2),
		styles.Box.Render(col3),
		styles.Box.Render(col4),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.SentLine.View()),
		styles.Box.Render(m.RTTLine.View()),
	))
	s.WriteString("\n\n")

	rtt := fmt.Sprintf(
		"RTT  P50: %.2f ms  |  P90: %.2f ms  |  P99: %.2f ms  |  Max: %.2f ms",
		st.P50RTTMs, st.P90RTTMs, st.P99RTTMs, st.MaxRTTMs,
	)
	box := styles.Box
	if m.Width > 4 {
		box = box.Width(m.Width - 4)
	}
	s.WriteString(box.Render(rtt))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.ViewAs(m.Percent()))

	return s.String()
}
