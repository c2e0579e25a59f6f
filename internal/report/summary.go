// Package report turns a finished run into the summary handed to operators
// and to downstream tooling.
package report

import (
	"time"

	"github.com/google/uuid"

	"syncq/internal/runner"
	"syncq/internal/session"
	"syncq/internal/stats"
)

type Summary struct {
	RunID       string                  `json:"run_id" yaml:"run_id"`
	Started     time.Time               `json:"started" yaml:"started"`
	URL         string                  `json:"url" yaml:"url"`
	Totals      Totals                  `json:"totals" yaml:"totals"`
	Connections Connections             `json:"connections" yaml:"connections"`
	Messages    Messages                `json:"messages" yaml:"messages"`
	RTT         RTT                     `json:"rtt" yaml:"rtt"`
	Run         Run                     `json:"run" yaml:"run"`
	Errors      map[string]int          `json:"errors,omitempty" yaml:"errors,omitempty"`
	Thresholds  []stats.ThresholdResult `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Passed      bool                    `json:"passed" yaml:"passed"`
}

type Totals struct {
	VUs        int    `json:"vus" yaml:"vus"`
	Duration   string `json:"duration" yaml:"duration"`
	Iterations int64  `json:"iterations" yaml:"iterations"`
}

type Connections struct {
	Total          int64    `json:"total" yaml:"total"`
	Failed         int64    `json:"failed" yaml:"failed"`
	SuccessRate    float64  `json:"success_rate" yaml:"success_rate"`
	ConnectingTime Timespan `json:"connecting_time" yaml:"connecting_time"`
}

// Timespan is in milliseconds.
type Timespan struct {
	Avg float64 `json:"avg" yaml:"avg"`
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
	P95 float64 `json:"p95" yaml:"p95"`
}

type Messages struct {
	Sent           int64       `json:"sent" yaml:"sent"`
	Received       int64       `json:"received" yaml:"received"`
	ProtocolErrors int64       `json:"protocol_errors" yaml:"protocol_errors"`
	Rate           MessageRate `json:"rate" yaml:"rate"`
}

type MessageRate struct {
	SentPerSecond     float64 `json:"sent_per_second" yaml:"sent_per_second"`
	ReceivedPerSecond float64 `json:"received_per_second" yaml:"received_per_second"`
}

// RTT is in milliseconds.
type RTT struct {
	Avg    float64 `json:"avg" yaml:"avg"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	Median float64 `json:"median" yaml:"median"`
	P90    float64 `json:"p90" yaml:"p90"`
	P95    float64 `json:"p95" yaml:"p95"`
	P99    float64 `json:"p99" yaml:"p99"`
}

type Run struct {
	DurationMs    int64 `json:"duration_ms" yaml:"duration_ms"`
	BytesReceived int64 `json:"bytes_received" yaml:"bytes_received"`
	BytesSent     int64 `json:"bytes_sent" yaml:"bytes_sent"`
}

func Build(res *runner.Result) Summary {
	snap := res.Snapshot
	secs := res.Elapsed.Seconds()

	connecting := snap.Distribution(stats.MetricConnecting)
	rtt := snap.Distribution(stats.MetricRTT).Summary()

	s := Summary{
		RunID:   uuid.NewString(),
		Started: res.Started,
		URL:     res.Config.URL,
		Totals: Totals{
			VUs:        res.Config.NumUsers,
			Duration:   res.Config.Duration.String(),
			Iterations: snap.Counter(stats.MetricIterations),
		},
		Connections: Connections{
			Total:       snap.Counter(stats.MetricSessions),
			Failed:      snap.Counter(stats.MetricConnectionErrors),
			SuccessRate: snap.Rates[stats.MetricConnectionSuccess].Rate,
			ConnectingTime: Timespan{
				Avg: connecting.Mean(),
				Min: connecting.Min(),
				Max: connecting.Max(),
				P95: connecting.Percentile(95),
			},
		},
		Messages: Messages{
			Sent:           snap.Counter(stats.MetricMessagesSent),
			Received:       snap.Counter(stats.MetricMessagesReceived),
			ProtocolErrors: snap.Counter(stats.MetricProtocolErrors),
		},
		RTT: RTT{
			Avg:    rtt.Avg,
			Min:    rtt.Min,
			Max:    rtt.Max,
			Median: rtt.Med,
			P90:    rtt.P90,
			P95:    rtt.P95,
			P99:    rtt.P99,
		},
		Run: Run{
			DurationMs:    res.Elapsed.Milliseconds(),
			BytesReceived: snap.Counter(stats.MetricBytesReceived),
			BytesSent:     snap.Counter(stats.MetricBytesSent),
		},
		Errors:     errorCounts(res.Sessions),
		Thresholds: res.Thresholds,
		Passed:     res.Passed,
	}
	if secs > 0 {
		s.Messages.Rate.SentPerSecond = float64(s.Messages.Sent) / secs
		s.Messages.Rate.ReceivedPerSecond = float64(s.Messages.Received) / secs
	}
	return s
}

func errorCounts(sessions []session.Result) map[string]int {
	out := make(map[string]int)
	for _, s := range sessions {
		if s.Class != session.ClassNone {
			out[string(s.Class)]++
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
