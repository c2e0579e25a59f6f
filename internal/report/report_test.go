package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"syncq/internal/runner"
	"syncq/internal/session"
	"syncq/internal/stats"
)

func sampleResult(t *testing.T) *runner.Result {
	t.Helper()

	reg := stats.NewRegistry()
	reg.Counter(stats.MetricSessions).Add(2)
	reg.Counter(stats.MetricConnectionErrors).Inc()
	reg.Counter(stats.MetricMessagesSent).Add(10)
	reg.Counter(stats.MetricMessagesReceived).Add(8)
	reg.Counter(stats.MetricBytesSent).Add(100)
	reg.Counter(stats.MetricBytesReceived).Add(80)
	reg.Counter(stats.MetricIterations).Add(2)
	reg.Rate(stats.MetricConnectionSuccess).Add(true)
	reg.Rate(stats.MetricConnectionSuccess).Add(false)
	for _, v := range []float64{15, 20, 35, 40, 50} {
		require.NoError(t, reg.Distribution(stats.MetricRTT).Observe(v))
	}
	require.NoError(t, reg.Distribution(stats.MetricConnecting).Observe(4))

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &runner.Result{
		Started: started,
		Elapsed: 2 * time.Second,
		Config: runner.Config{
			URL:      "ws://localhost:8080/ws",
			NumUsers: 2,
			Duration: 5 * time.Second,
		},
		Snapshot: reg.Snapshot(),
		Thresholds: []stats.ThresholdResult{
			{Metric: stats.MetricRTT, Expr: "p(95)<100", Actual: 48, Passed: true},
		},
		Passed: true,
		Sessions: []session.Result{
			{ID: "s1", UserID: "1", State: session.Closed, Started: started, Sent: 5, Received: 5},
			{ID: "s2", UserID: "2", State: session.Failed, Class: session.ClassConnection, Error: "refused", Started: started},
		},
	}
}

func TestBuild(t *testing.T) {
	s := Build(sampleResult(t))

	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, 2, s.Totals.VUs)
	assert.Equal(t, "5s", s.Totals.Duration)
	assert.Equal(t, int64(2), s.Totals.Iterations)

	assert.Equal(t, int64(2), s.Connections.Total)
	assert.Equal(t, int64(1), s.Connections.Failed)
	assert.InDelta(t, 0.5, s.Connections.SuccessRate, 1e-9)
	assert.InDelta(t, 4, s.Connections.ConnectingTime.Max, 1e-9)

	assert.Equal(t, int64(10), s.Messages.Sent)
	assert.Equal(t, int64(8), s.Messages.Received)
	assert.InDelta(t, 5, s.Messages.Rate.SentPerSecond, 1e-9)
	assert.InDelta(t, 4, s.Messages.Rate.ReceivedPerSecond, 1e-9)

	assert.InDelta(t, 32, s.RTT.Avg, 1e-9)
	assert.InDelta(t, 15, s.RTT.Min, 1e-9)
	assert.InDelta(t, 50, s.RTT.Max, 1e-9)
	assert.InDelta(t, 35, s.RTT.Median, 1e-9)
	assert.InDelta(t, 48, s.RTT.P95, 1e-9)

	assert.Equal(t, int64(2000), s.Run.DurationMs)
	assert.Equal(t, int64(80), s.Run.BytesReceived)
	assert.Equal(t, int64(100), s.Run.BytesSent)

	assert.Equal(t, map[string]int{"connection": 1}, s.Errors)
	assert.True(t, s.Passed)
	require.Len(t, s.Thresholds, 1)
}

func TestBuildEmptyRun(t *testing.T) {
	s := Build(&runner.Result{Snapshot: stats.NewRegistry().Snapshot()})

	assert.Zero(t, s.Messages.Rate.SentPerSecond)
	assert.Zero(t, s.RTT.P95)
	assert.Nil(t, s.Errors)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "yaml": FormatYAML, "yml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestWriteSummaryJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, Build(sampleResult(t)), FormatJSON))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	messages := decoded["messages"].(map[string]any)
	assert.EqualValues(t, 10, messages["sent"])
	rate := messages["rate"].(map[string]any)
	assert.Contains(t, rate, "sent_per_second")
	assert.Contains(t, decoded["run"], "duration_ms")
	assert.Contains(t, decoded["connections"], "connecting_time")
}

func TestWriteSummaryYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, Build(sampleResult(t)), FormatYAML))

	var decoded Summary
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, int64(8), decoded.Messages.Received)
	assert.Equal(t, "ws://localhost:8080/ws", decoded.URL)
	require.Len(t, decoded.Thresholds, 1)
	assert.Equal(t, "p(95)<100", decoded.Thresholds[0].Expr)
}

func TestExportFiles(t *testing.T) {
	res := sampleResult(t)
	prefix := filepath.Join(t.TempDir(), "run")

	name, err := ExportSummary(Build(res), prefix, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, prefix+"_summary.yaml", name)
	assert.FileExists(t, name)

	csvName := prefix + "_sessions.csv"
	require.NoError(t, ExportCSV(res.Sessions, csvName))

	f, err := os.Open(csvName)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "timeStamp", rows[0][0])
	assert.Equal(t, "closed", rows[1][4])
	assert.Equal(t, "connection", rows[2][5])

	jsonName := prefix + "_sessions.json"
	require.NoError(t, ExportJSON(res.Sessions, jsonName))
	data, err := os.ReadFile(jsonName)
	require.NoError(t, err)
	var sessions []map[string]any
	require.NoError(t, json.Unmarshal(data, &sessions))
	assert.Len(t, sessions, 2)
}

func setupTestRedis(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("SYNCQ_REDIS_ADDR")
	if addr == "" {
		t.Skip("SYNCQ_REDIS_ADDR not set")
	}
	return addr
}

func TestRedisPublisher(t *testing.T) {
	addr := setupTestRedis(t)
	ctx := context.Background()

	key := "syncq:test:" + t.Name()
	cfg := RedisConfig{Addr: addr, Key: key, Channel: key + ":events"}

	sub := redis.NewClient(&redis.Options{Addr: addr})
	defer sub.Close()
	defer sub.Del(ctx, key)

	ps := sub.Subscribe(ctx, cfg.Channel)
	defer ps.Close()
	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	p, err := NewRedisPublisher(ctx, cfg)
	require.NoError(t, err)
	defer p.Close()

	s := Build(sampleResult(t))
	require.NoError(t, p.Publish(ctx, s))

	stored, err := sub.LRange(ctx, key, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, stored, 1)

	var decoded Summary
	require.NoError(t, json.Unmarshal([]byte(stored[0]), &decoded))
	assert.Equal(t, s.RunID, decoded.RunID)

	select {
	case msg := <-ps.Channel():
		assert.Equal(t, stored[0], msg.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("no pubsub message")
	}
}

func TestRedisPublisherUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewRedisPublisher(ctx, RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
