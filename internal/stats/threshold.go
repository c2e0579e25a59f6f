package stats

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// ErrBadThreshold is returned for expressions that cannot be parsed.
var (
	ErrBadThreshold = errors.New("stats: bad threshold")
	ErrNoSamples    = errors.New("no samples")
)

var thresholdRe = regexp.MustCompile(
	`^\s*(count|rate|value|avg|min|max|med|p\(\s*([0-9]+(?:\.[0-9]+)?)\s*\))\s*(<=|>=|==|!=|<|>)\s*(-?[0-9]+(?:\.[0-9]+)?(?:[eE][-+]?[0-9]+)?)\s*$`,
)

// Threshold is a pass/fail predicate over one metric's final value, written
// in k6 syntax, e.g. "p(95)<1000" or "rate>0.95".
type Threshold struct {
	Metric string
	Expr   string

	agg   string
	p     float64
	op    string
	bound float64
}

// ThresholdResult is the outcome of one Threshold.
type ThresholdResult struct {
	Metric string  `json:"metric" yaml:"metric"`
	Expr   string  `json:"expr" yaml:"expr"`
	Actual float64 `json:"actual" yaml:"actual"`
	Passed bool    `json:"passed" yaml:"passed"`
	Err    string  `json:"error,omitempty" yaml:"error,omitempty"`
}

func ParseThreshold(metric, expr string) (Threshold, error) {
	m := thresholdRe.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("%w: %s: %q", ErrBadThreshold, metric, expr)
	}

	t := Threshold{Metric: metric, Expr: expr, agg: m[1], op: m[3]}
	if m[2] != "" {
		t.agg = "p"
		t.p, _ = strconv.ParseFloat(m[2], 64)
		if t.p > 100 {
			return Threshold{}, fmt.Errorf("%w: %s: percentile %v out of range", ErrBadThreshold, metric, t.p)
		}
	}
	t.bound, _ = strconv.ParseFloat(m[4], 64)
	return t, nil
}

// ParseThresholds parses a metric → expressions map. The result is ordered
// by metric name, then by expression order.
func ParseThresholds(set map[string][]string) ([]Threshold, error) {
	metrics := make([]string, 0, len(set))
	for name := range set {
		metrics = append(metrics, name)
	}
	sort.Strings(metrics)

	var out []Threshold
	var errs []error
	for _, name := range metrics {
		for _, expr := range set[name] {
			t, err := ParseThreshold(name, expr)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, t)
		}
	}
	return out, errors.Join(errs...)
}

func (t Threshold) resolve(s Snapshot) (float64, error) {
	if v, ok := s.Counters[t.Metric]; ok {
		switch t.agg {
		case "count", "value":
			return float64(v), nil
		}
		return 0, fmt.Errorf("%q not defined for counter", t.agg)
	}
	if r, ok := s.Rates[t.Metric]; ok {
		switch t.agg {
		case "rate", "value":
			return r.Rate, nil
		case "count":
			return float64(r.Total), nil
		}
		return 0, fmt.Errorf("%q not defined for rate", t.agg)
	}
	if d, ok := s.Distributions[t.Metric]; ok {
		if t.agg == "count" {
			return float64(d.Count()), nil
		}
		if d.Count() == 0 {
			return 0, ErrNoSamples
		}
		switch t.agg {
		case "avg":
			return d.Mean(), nil
		case "min":
			return d.Min(), nil
		case "max":
			return d.Max(), nil
		case "med":
			return d.Median(), nil
		case "p":
			return d.Percentile(t.p), nil
		}
		return 0, fmt.Errorf("%q not defined for distribution", t.agg)
	}
	return 0, errors.New("metric not found")
}

func (t Threshold) compare(v float64) bool {
	switch t.op {
	case "<":
		return v < t.bound
	case "<=":
		return v <= t.bound
	case ">":
		return v > t.bound
	case ">=":
		return v >= t.bound
	case "==":
		return v == t.bound
	case "!=":
		return v != t.bound
	}
	return false
}

// Evaluate checks t against the final snapshot. A metric that does not
// exist, or a distribution without samples, fails unless the aggregate is
// count.
func (t Threshold) Evaluate(s Snapshot) ThresholdResult {
	res := ThresholdResult{Metric: t.Metric, Expr: t.Expr}
	v, err := t.resolve(s)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	res.Actual = v
	res.Passed = t.compare(v)
	return res
}

// EvaluateThresholds evaluates every threshold once and reports whether all
// passed.
func EvaluateThresholds(s Snapshot, set []Threshold) ([]ThresholdResult, bool) {
	results := make([]ThresholdResult, 0, len(set))
	passed := true
	for _, t := range set {
		r := t.Evaluate(s)
		if !r.Passed {
			passed = false
		}
		results = append(results, r)
	}
	return results, passed
}
