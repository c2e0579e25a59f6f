package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncq/internal/report"
	"syncq/internal/runner"
	"syncq/internal/storage"
)

type fakeStore struct{ items []storage.HistoryItem }

func (f *fakeStore) List() ([]storage.HistoryItem, error) { return f.items, nil }

func update(t *testing.T, m tea.Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func TestStopThenQuit(t *testing.T) {
	cancelled := 0
	updates := make(runner.StatsUpdateChan, 1)
	m := NewModel(runner.Config{Duration: time.Second}, updates, func() { cancelled++ }, nil)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, cmd)
	assert.True(t, m.Stopping)
	assert.Equal(t, 1, cancelled)

	// a second press while stopping does not cancel again
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Equal(t, 1, cancelled)

	m, _ = update(t, m, DoneMsg{Summary: report.Summary{Passed: true}})
	assert.True(t, m.Done)
	assert.Equal(t, ViewResult, m.CurrentView)

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestStatsFlowToLive(t *testing.T) {
	updates := make(runner.StatsUpdateChan, 1)
	m := NewModel(runner.Config{Duration: 10 * time.Second}, updates, func() {}, nil)

	updates <- runner.StatsSnapshot{Elapsed: time.Second, Sent: 3}
	msg := m.Init()()
	require.IsType(t, StatsMsg{}, msg)

	m, cmd := update(t, m, msg)
	assert.NotNil(t, cmd)
	assert.Equal(t, int64(3), m.Live.Stats.Sent)
}

func TestClosedUpdatesStopPolling(t *testing.T) {
	updates := make(runner.StatsUpdateChan)
	close(updates)
	m := NewModel(runner.Config{}, updates, nil, nil)
	assert.Nil(t, m.Init()())
}

func TestTabCyclesAvailableViews(t *testing.T) {
	store := &fakeStore{}
	m := NewModel(runner.Config{}, make(runner.StatsUpdateChan), func() {}, store)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, ViewHistory, m.CurrentView)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, ViewLive, m.CurrentView)

	m, _ = update(t, m, DoneMsg{})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, ViewHistory, m.CurrentView)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, ViewLive, m.CurrentView)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, ViewResult, m.CurrentView)
}

func TestViewRendersTabs(t *testing.T) {
	m := NewModel(runner.Config{URL: "ws://x/ws"}, make(runner.StatsUpdateChan), func() {}, &fakeStore{})
	assert.Equal(t, "Loading...", m.View())

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	v := m.View()
	assert.Contains(t, v, "Live")
	assert.Contains(t, v, "History")
	assert.NotContains(t, v, "Summary")
}

func TestBrowserQuits(t *testing.T) {
	b := NewBrowser(&fakeStore{})
	_, cmd := b.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Contains(t, b.View(), "SyncQ run history")
}
