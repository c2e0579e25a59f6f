package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// liveScale converts the millisecond values held by a Distribution into the
// integer microseconds recorded by its live sketch.
const liveScale = 1000

// SafeHistogram is a thread-safe wrapper around hdrhistogram
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	// 1us to 10min, 3 significant figures
	h := hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)
	return &SafeHistogram{hist: h}
}

// RecordValue records a value in microseconds. Values outside the trackable
// range are clamped so the sketch never drops an observation.
func (h *SafeHistogram) RecordValue(v int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v < h.hist.LowestTrackableValue() {
		v = h.hist.LowestTrackableValue()
	}
	if v > h.hist.HighestTrackableValue() {
		v = h.hist.HighestTrackableValue()
	}
	return h.hist.RecordValue(v)
}

// ValueAtQuantile takes q in percent (0-100).
func (h *SafeHistogram) ValueAtQuantile(q float64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.ValueAtQuantile(q)
}
