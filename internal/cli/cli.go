// Package cli is the headless front end: a single-line progress monitor and
// the plain-text summary printed when a run ends.
package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"syncq/internal/report"
	"syncq/internal/runner"
)

const rule = "======================================================================"

// Start runs r to completion while printing progress to w.
func Start(ctx context.Context, r *runner.Runner, w io.Writer) *runner.Result {
	PrintHeader(w, r.Cfg)

	done := make(chan *runner.Result, 1)
	go func() {
		done <- r.Run(ctx)
	}()

	for {
		select {
		case snap := <-r.Updates:
			PrintProgress(w, r.Cfg, snap)
		case res := <-done:
			// the final snapshot is queued before Run returns
			for drained := false; !drained; {
				select {
				case snap := <-r.Updates:
					PrintProgress(w, r.Cfg, snap)
				default:
					drained = true
				}
			}
			fmt.Fprintln(w)
			return res
		}
	}
}

func PrintHeader(w io.Writer, cfg runner.Config) {
	fmt.Fprintf(w, "\n🚀 STARTING SYNCQ LOAD TEST\n")
	fmt.Fprintf(w, "%s\n", rule)
	fmt.Fprintf(w, "Target URL  : %s\n", cfg.URL)
	fmt.Fprintf(w, "Users       : %d (spawn rate %s)\n", cfg.NumUsers, spawnRate(cfg.SpawnRate))
	if cfg.Iterations == 0 {
		fmt.Fprintf(w, "Iterations  : until deadline\n")
	} else {
		fmt.Fprintf(w, "Iterations  : %d per user\n", cfg.Iterations)
	}
	fmt.Fprintf(w, "Duration    : %s\n", cfg.Duration)
	fmt.Fprintf(w, "Payload     : %s (correlation %s)\n", cfg.Mode, cfg.Correlation)
	fmt.Fprintf(w, "%s\n\n", rule)
}

func spawnRate(r float64) string {
	if r <= 0 {
		return "all at once"
	}
	return fmt.Sprintf("%.1f/s", r)
}

// PrintProgress rewrites the current line with one snapshot.
func PrintProgress(w io.Writer, cfg runner.Config, s runner.StatsSnapshot) {
	pct := 0.0
	if cfg.Duration > 0 {
		pct = min(s.Elapsed.Seconds()/cfg.Duration.Seconds(), 1.0)
	}

	fmt.Fprintf(w, "\r%s %3.0f%% | %s/%s | VUs: %3d | Open: %3d | Sent: %d | Recv: %d | Err: %d | P90: %.1fms",
		progressBar(pct, 20), pct*100,
		s.Elapsed.Round(time.Second), cfg.Duration,
		s.ActiveVUs,
		s.ActiveConnections,
		s.Sent,
		s.Received,
		s.ConnectionErrors+s.ProtocolErrors,
		s.P90RTTMs,
	)
}

func progressBar(pct float64, width int) string {
	filled := min(max(int(pct*float64(width)), 0), width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func PrintSummary(w io.Writer, s report.Summary) {
	fmt.Fprintf(w, "\n📊 LOAD TEST RESULTS\n")
	fmt.Fprintf(w, "%s\n", rule)
	fmt.Fprintf(w, "Total Duration  : %s\n", (time.Duration(s.Run.DurationMs) * time.Millisecond).Round(time.Millisecond))
	fmt.Fprintf(w, "Iterations      : %d\n", s.Totals.Iterations)
	fmt.Fprintf(w, "Sessions        : %d (%d failed to connect)\n", s.Connections.Total, s.Connections.Failed)
	fmt.Fprintf(w, "Messages Sent   : %d (%.2f/s)\n", s.Messages.Sent, s.Messages.Rate.SentPerSecond)
	fmt.Fprintf(w, "Messages Recv   : %d (%.2f/s)\n", s.Messages.Received, s.Messages.Rate.ReceivedPerSecond)
	fmt.Fprintf(w, "Protocol Errors : %d\n", s.Messages.ProtocolErrors)
	fmt.Fprintf(w, "Bytes Out / In  : %d / %d\n", s.Run.BytesSent, s.Run.BytesReceived)

	fmt.Fprintf(w, "\n🔌 CONNECTING TIME (ms)\n")
	fmt.Fprintf(w, "   Avg : %.2f\n", s.Connections.ConnectingTime.Avg)
	fmt.Fprintf(w, "   P95 : %.2f\n", s.Connections.ConnectingTime.P95)
	fmt.Fprintf(w, "   Max : %.2f\n", s.Connections.ConnectingTime.Max)

	fmt.Fprintf(w, "\n⏱️  ROUND-TRIP TIME (ms)\n")
	fmt.Fprintf(w, "   Avg : %.2f\n", s.RTT.Avg)
	fmt.Fprintf(w, "   Min : %.2f\n", s.RTT.Min)
	fmt.Fprintf(w, "   Med : %.2f\n", s.RTT.Median)
	fmt.Fprintf(w, "   P90 : %.2f\n", s.RTT.P90)
	fmt.Fprintf(w, "   P95 : %.2f\n", s.RTT.P95)
	fmt.Fprintf(w, "   Max : %.2f\n", s.RTT.Max)

	if len(s.Errors) > 0 {
		fmt.Fprintf(w, "\n❌ FAILURE SUMMARY\n")
		classes := make([]string, 0, len(s.Errors))
		for c := range s.Errors {
			classes = append(classes, c)
		}
		sort.Strings(classes)
		for _, c := range classes {
			fmt.Fprintf(w, "   %d x %s\n", s.Errors[c], c)
		}
	}

	if len(s.Thresholds) > 0 {
		fmt.Fprintf(w, "\n🎯 THRESHOLDS\n")
		for _, t := range s.Thresholds {
			mark := "✓"
			if !t.Passed {
				mark = "✗"
			}
			line := fmt.Sprintf("   %s %s %s (actual %.2f)", mark, t.Metric, t.Expr, t.Actual)
			if t.Err != "" {
				line += ": " + t.Err
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintf(w, "%s\n", rule)
}

// AutoReport writes the summary, per-session exports and the timeline
// under prefix.
func AutoReport(w io.Writer, res *runner.Result, s report.Summary, prefix string, format report.Format) error {
	if prefix == "" {
		return nil
	}

	fmt.Fprintf(w, "\n💾 Generating reports with prefix: %s\n", prefix)
	summaryFile, err := report.ExportSummary(s, prefix, format)
	if err != nil {
		return fmt.Errorf("export summary: %w", err)
	}
	if err := report.ExportCSV(res.Sessions, prefix+"_sessions.csv"); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	if err := report.ExportJSON(res.Sessions, prefix+"_sessions.json"); err != nil {
		return fmt.Errorf("export json: %w", err)
	}
	if err := report.ExportTimeline(res.Sessions, prefix+"_timeline.json"); err != nil {
		return fmt.Errorf("export timeline: %w", err)
	}
	fmt.Fprintf(w, "✅ Reports saved to %s and %s_{sessions.csv,sessions.json,timeline.json}\n", summaryFile, prefix)
	return nil
}
