package stats

import (
	"sync/atomic"
)

// Counter is a cumulative signed total. Negative deltas are allowed so the
// same type serves gauges such as the number of open connections.
type Counter struct {
	name  string
	value atomic.Int64
}

func (c *Counter) Name() string { return c.name }

func (c *Counter) Add(delta int64) {
	c.value.Add(delta)
}

func (c *Counter) Inc() {
	c.value.Add(1)
}

func (c *Counter) Value() int64 {
	return c.value.Load()
}

// Rate tracks the share of successful observations.
type Rate struct {
	name    string
	success atomic.Int64
	total   atomic.Int64
}

// RateValue is a point-in-time copy of a Rate.
type RateValue struct {
	Success int64   `json:"success"`
	Total   int64   `json:"total"`
	Rate    float64 `json:"rate"`
}

func (r *Rate) Name() string { return r.name }

// Add records one observation. total is bumped before success so a
// concurrent Value never sees success > total.
func (r *Rate) Add(ok bool) {
	r.total.Add(1)
	if ok {
		r.success.Add(1)
	}
}

func (r *Rate) Value() RateValue {
	s := r.success.Load()
	t := r.total.Load()
	v := RateValue{Success: s, Total: t}
	if t > 0 {
		v.Rate = float64(s) / float64(t)
	}
	return v
}
