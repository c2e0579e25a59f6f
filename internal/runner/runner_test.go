package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"syncq/internal/dummy"
	"syncq/internal/payload"
	"syncq/internal/session"
	"syncq/internal/stats"
)

func newServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(dummy.Handler(dummy.ServerConfig{RequireUser: true}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func baseConfig(url string) Config {
	return Config{
		URL:            url,
		NumUsers:       1,
		Iterations:     1,
		ConnectTimeout: 10 * time.Second,
		StallTimeout:   35 * time.Second,
		CloseGrace:     time.Second,
		Mode:           payload.ModeStructural,
		Payload:        payload.DefaultOptions(),
		Correlation:    session.CorrelationExact,
	}
}

func TestRunner_SingleUserRequestResponse(t *testing.T) {
	cfg := baseConfig(newServer(t) + "/ws")
	cfg.RequestResponse = true
	cfg.MaxMessages = 5
	cfg.Thresholds = map[string][]string{
		stats.MetricRTT:               {"max<1000"},
		stats.MetricConnectionSuccess: {"rate>0.95"},
		stats.MetricConnectionErrors:  {"count==0"},
	}

	r, err := NewRunner(cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	res := r.Run(context.Background())

	assert.True(t, res.Passed)
	require.Len(t, res.Sessions, 1)
	assert.Equal(t, session.Closed, res.Sessions[0].State)
	assert.Equal(t, int64(5), res.Snapshot.Counter(stats.MetricMessagesSent))
	assert.Equal(t, int64(5), res.Snapshot.Counter(stats.MetricMessagesReceived))
	assert.Equal(t, int64(1), res.Snapshot.Counter(stats.MetricIterations))
	assert.Equal(t, int64(0), res.Snapshot.Counter(stats.MetricConnectionErrors))
	assert.Less(t, res.Snapshot.Distribution(stats.MetricRTT).Max(), 1000.0)
}

func TestRunner_DeadlineTerminatesEverySession(t *testing.T) {
	cfg := baseConfig(newServer(t) + "/ws")
	cfg.NumUsers = 10
	cfg.Duration = time.Second
	cfg.Interval = 100 * time.Millisecond

	r, err := NewRunner(cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	start := time.Now()
	res := r.Run(context.Background())

	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, res.Sessions, 10)
	for _, s := range res.Sessions {
		assert.True(t, s.State.Terminal(), "session %s in %s", s.ID, s.State)
	}
	assert.Equal(t, int64(0), r.GetActiveUsers())
	assert.Equal(t, int64(0), res.Snapshot.Counter(stats.MetricActiveConnections))
}

func TestRunner_DeadlineDuringHandshakeIsNotAConnectionError(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)

	cfg := baseConfig("ws" + strings.TrimPrefix(slow.URL, "http") + "/ws")
	cfg.NumUsers = 5
	cfg.Duration = 300 * time.Millisecond
	cfg.Thresholds = map[string][]string{stats.MetricConnectionErrors: {"count==0"}}

	r, err := NewRunner(cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	start := time.Now()
	res := r.Run(context.Background())

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.Passed)
	assert.Equal(t, int64(0), res.Snapshot.Counter(stats.MetricConnectionErrors))
	assert.Equal(t, int64(0), res.Snapshot.Rates[stats.MetricConnectionSuccess].Total)
	require.Len(t, res.Sessions, 5)
	for _, s := range res.Sessions {
		assert.Equal(t, session.Closed, s.State)
		assert.Equal(t, session.ClassNone, s.Class)
		assert.ErrorIs(t, s.Err, session.ErrCancelled)
	}
}

func TestRunner_FailedThreshold(t *testing.T) {
	cfg := baseConfig(newServer(t) + "/ws")
	cfg.MaxMessages = 1
	cfg.Thresholds = map[string][]string{stats.MetricMessagesSent: {"count>100"}}

	r, err := NewRunner(cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	res := r.Run(context.Background())
	assert.False(t, res.Passed)
	require.Len(t, res.Thresholds, 1)
	assert.Equal(t, 1.0, res.Thresholds[0].Actual)
}

func TestRunner_OrderedTransactionsFromSpecs(t *testing.T) {
	cfg := baseConfig(newServer(t) + "/ws/code")
	cfg.Correlation = session.CorrelationOrdered
	cfg.Transactions = []TransactionSpec{{Messages: []MessageSpec{
		{Msg: "hello", Code: 13},
		{Msg: "test", Code: 42},
	}}}

	r, err := NewRunner(cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	res := r.Run(context.Background())
	assert.Equal(t, uint64(2), res.Snapshot.Distribution(stats.MetricRTT).Count())
	assert.Equal(t, int64(0), res.Snapshot.Counter(stats.MetricProtocolErrors))
}

func TestRunner_SpawnRateAndUpdates(t *testing.T) {
	cfg := baseConfig(newServer(t) + "/ws")
	cfg.NumUsers = 3
	cfg.SpawnRate = 20
	cfg.MaxMessages = 2

	updates := make(StatsUpdateChan, 100)
	r, err := NewRunner(cfg, updates, zaptest.NewLogger(t))
	require.NoError(t, err)

	res := r.Run(context.Background())
	require.Len(t, res.Sessions, 3)

	users := map[string]bool{}
	for _, s := range res.Sessions {
		users[s.UserID] = true
	}
	assert.Equal(t, map[string]bool{"1": true, "2": true, "3": true}, users)

	// the final update is always pushed
	require.NotEmpty(t, updates)
	var last StatsSnapshot
	for len(updates) > 0 {
		last = <-updates
	}
	assert.Equal(t, int64(6), last.Sent)
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(Config{URL: "ws://x"}, nil, nil)
	assert.ErrorIs(t, err, ErrNoUsers)

	cfg := baseConfig("ws://x")
	cfg.Thresholds = map[string][]string{"m": {"bogus"}}
	_, err = NewRunner(cfg, nil, nil)
	assert.ErrorIs(t, err, stats.ErrBadThreshold)

	cfg = baseConfig("ws://x/{{")
	_, err = NewRunner(cfg, nil, nil)
	assert.Error(t, err)
}
