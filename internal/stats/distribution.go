package stats

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrInvalidSample is returned for observations that would corrupt a
// Distribution (NaN, ±Inf).
var ErrInvalidSample = errors.New("stats: invalid sample")

const (
	numStripes = 8

	// DefaultMaxSamples bounds the exact samples kept per Distribution. Past
	// it, samples are kept by reservoir sampling.
	DefaultMaxSamples = 1 << 18
)

type stripe struct {
	mu      sync.Mutex
	samples []float64
	count   uint64
	sum     float64
	min     float64
	max     float64
	rng     *rand.Rand
}

func (s *stripe) add(v float64, limit int) {
	s.count++
	s.sum += v
	if s.count == 1 || v < s.min {
		s.min = v
	}
	if s.count == 1 || v > s.max {
		s.max = v
	}
	if len(s.samples) < limit {
		s.samples = append(s.samples, v)
		return
	}
	// Algorithm R
	if j := s.rng.Uint64N(s.count); j < uint64(limit) {
		s.samples[j] = v
	}
}

// Distribution is a streaming multiset of observations. Writers are spread
// across lock stripes; min, max, mean and count stay exact even once the
// sample set is capped.
type Distribution struct {
	name      string
	perStripe int
	stripes   [numStripes]stripe
	next      atomic.Uint64
	rejected  atomic.Int64
	live      *SafeHistogram
}

func newDistribution(name string, maxSamples int) *Distribution {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	per := maxSamples / numStripes
	if per < 1 {
		per = 1
	}
	d := &Distribution{
		name:      name,
		perStripe: per,
		live:      NewSafeHistogram(),
	}
	for i := range d.stripes {
		d.stripes[i].rng = rand.New(rand.NewPCG(uint64(i), uint64(len(name))))
	}
	return d
}

func (d *Distribution) Name() string { return d.name }

// Observe records v. Non-finite values are discarded and counted in
// Rejected.
func (d *Distribution) Observe(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		d.rejected.Add(1)
		return fmt.Errorf("%w: %s=%v", ErrInvalidSample, d.name, v)
	}

	s := &d.stripes[d.next.Add(1)%numStripes]
	s.mu.Lock()
	s.add(v, d.perStripe)
	s.mu.Unlock()

	if v >= 0 {
		_ = d.live.RecordValue(int64(v * liveScale))
	}
	return nil
}

// Rejected returns the number of discarded invalid observations.
func (d *Distribution) Rejected() int64 {
	return d.rejected.Load()
}

// Totals returns the exact count, sum, min and max without copying samples.
func (d *Distribution) Totals() (count uint64, sum, min, max float64) {
	for i := range d.stripes {
		s := &d.stripes[i]
		s.mu.Lock()
		if s.count > 0 {
			if count == 0 || s.min < min {
				min = s.min
			}
			if count == 0 || s.max > max {
				max = s.max
			}
			count += s.count
			sum += s.sum
		}
		s.mu.Unlock()
	}
	return count, sum, min, max
}

// LiveQuantile reads q (percent) from the hdrhistogram sketch. It is cheap
// and approximate; use Sample for exact values.
func (d *Distribution) LiveQuantile(q float64) float64 {
	return float64(d.live.ValueAtQuantile(q)) / liveScale
}

// Sample returns an immutable sorted copy of the observations.
func (d *Distribution) Sample() *Sample {
	out := &Sample{}
	for i := range d.stripes {
		s := &d.stripes[i]
		s.mu.Lock()
		out.values = append(out.values, s.samples...)
		if s.count > 0 {
			if out.count == 0 || s.min < out.min {
				out.min = s.min
			}
			if out.count == 0 || s.max > out.max {
				out.max = s.max
			}
			out.count += s.count
			out.sum += s.sum
		}
		s.mu.Unlock()
	}
	sort.Float64s(out.values)
	return out
}

func (d *Distribution) Percentile(p float64) float64 { return d.Sample().Percentile(p) }
func (d *Distribution) Min() float64                 { return d.Sample().Min() }
func (d *Distribution) Max() float64                 { return d.Sample().Max() }
func (d *Distribution) Mean() float64                { return d.Sample().Mean() }
func (d *Distribution) Median() float64              { return d.Sample().Median() }
func (d *Distribution) Summary() Summary             { return d.Sample().Summary() }

// Sample is a sorted, read-only view of a Distribution.
type Sample struct {
	values []float64
	count  uint64
	sum    float64
	min    float64
	max    float64
}

func (s *Sample) Count() uint64 { return s.count }
func (s *Sample) Min() float64  { return s.min }
func (s *Sample) Max() float64  { return s.max }

func (s *Sample) Mean() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

func (s *Sample) Median() float64 { return s.Percentile(50) }

// Percentile interpolates linearly at rank p/100*(n-1). p0 and p100 are the
// exact min and max; an empty sample yields 0.
func (s *Sample) Percentile(p float64) float64 {
	n := len(s.values)
	if n == 0 {
		return 0
	}
	if p <= 0 || math.IsNaN(p) {
		return s.min
	}
	if p >= 100 {
		return s.max
	}

	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	v := s.values[lo] + (s.values[hi]-s.values[lo])*(rank-float64(lo))

	// reservoir samples may not include the exact extremes
	return math.Min(math.Max(v, s.min), s.max)
}

// Summary holds the fixed aggregates reported at run end.
type Summary struct {
	Count uint64  `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Med   float64 `json:"med"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

func (s *Sample) Summary() Summary {
	return Summary{
		Count: s.count,
		Avg:   s.Mean(),
		Min:   s.Min(),
		Max:   s.Max(),
		Med:   s.Median(),
		P90:   s.Percentile(90),
		P95:   s.Percentile(95),
		P99:   s.Percentile(99),
	}
}
