package report

import (
	"os"
	"sort"

	"syncq/internal/session"
)

// TimeBucket aggregates the sessions that started within one second.
type TimeBucket struct {
	Timestamp int64 `json:"timestamp" yaml:"timestamp"`
	Sessions  int   `json:"sessions" yaml:"sessions"`
	Failed    int   `json:"failed" yaml:"failed"`
	Sent      int   `json:"sent" yaml:"sent"`
	Received  int   `json:"received" yaml:"received"`
}

func Timeline(results []session.Result) []TimeBucket {
	buckets := make(map[int64]*TimeBucket)

	for _, res := range results {
		ts := res.Started.Unix()
		b, ok := buckets[ts]
		if !ok {
			b = &TimeBucket{Timestamp: ts}
			buckets[ts] = b
		}
		b.Sessions++
		if res.State == session.Failed {
			b.Failed++
		}
		b.Sent += res.Sent
		b.Received += res.Received
	}

	timeline := make([]TimeBucket, 0, len(buckets))
	for _, b := range buckets {
		timeline = append(timeline, *b)
	}

	sort.Slice(timeline, func(i, j int) bool {
		return timeline[i].Timestamp < timeline[j].Timestamp
	})
	return timeline
}

func ExportTimeline(results []session.Result, filename string) error {
	b, err := json.MarshalIndent(Timeline(results), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, b, 0644)
}
