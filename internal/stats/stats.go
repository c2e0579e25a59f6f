package stats

import (
	"sort"
	"sync"
)

// Well-known metric names. They follow k6 naming so thresholds written for
// the original scripts keep working.
const (
	MetricSessions          = "ws_sessions"
	MetricConnecting        = "ws_connecting"
	MetricConnectionSuccess = "connection_success"
	MetricConnectionErrors  = "connection_errors"
	MetricActiveConnections = "active_connections"
	MetricMessagesSent      = "messages_sent"
	MetricMessagesReceived  = "messages_received"
	MetricBytesSent         = "bytes_sent"
	MetricBytesReceived     = "bytes_received"
	MetricRTT               = "websocket_rtt"
	MetricProtocolErrors    = "protocol_errors"
	MetricLateResponses     = "late_responses"
	MetricTransportErrors   = "transport_errors"
	MetricSessionTimeouts   = "session_timeouts"
	MetricPendingDiscarded  = "pending_discarded"
	MetricDuplicateKeys     = "duplicate_keys"
	MetricIterations        = "iterations"
	MetricSessionDuration   = "session_duration"
)

// Registry is the shared aggregator handed to every session. Lookups are
// get-or-create and safe for concurrent use; the returned primitives carry
// their own synchronization.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	rates      map[string]*Rate
	dists      map[string]*Distribution
	maxSamples int
}

func NewRegistry() *Registry {
	return NewRegistryWithLimit(DefaultMaxSamples)
}

// NewRegistryWithLimit caps the exact samples each Distribution keeps.
func NewRegistryWithLimit(maxSamples int) *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		rates:      make(map[string]*Rate),
		dists:      make(map[string]*Distribution),
		maxSamples: maxSamples,
	}
}

func (r *Registry) Counter(name string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; ok {
		return c
	}
	c = &Counter{name: name}
	r.counters[name] = c
	return c
}

func (r *Registry) Rate(name string) *Rate {
	r.mu.RLock()
	rt, ok := r.rates[name]
	r.mu.RUnlock()
	if ok {
		return rt
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok = r.rates[name]; ok {
		return rt
	}
	rt = &Rate{name: name}
	r.rates[name] = rt
	return rt
}

func (r *Registry) Distribution(name string) *Distribution {
	r.mu.RLock()
	d, ok := r.dists[name]
	r.mu.RUnlock()
	if ok {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok = r.dists[name]; ok {
		return d
	}
	d = newDistribution(name, r.maxSamples)
	r.dists[name] = d
	return d
}

// Names returns every registered metric name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.counters)+len(r.rates)+len(r.dists))
	for n := range r.counters {
		names = append(names, n)
	}
	for n := range r.rates {
		names = append(names, n)
	}
	for n := range r.dists {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot is a read-only copy of every metric.
type Snapshot struct {
	Counters      map[string]int64
	Rates         map[string]RateValue
	Distributions map[string]*Sample
}

// Counter returns the named counter value, or 0.
func (s Snapshot) Counter(name string) int64 {
	return s.Counters[name]
}

// Distribution returns the named sample, or an empty one.
func (s Snapshot) Distribution(name string) *Sample {
	if d, ok := s.Distributions[name]; ok {
		return d
	}
	return &Sample{}
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	counters := make([]*Counter, 0, len(r.counters))
	for _, c := range r.counters {
		counters = append(counters, c)
	}
	rates := make([]*Rate, 0, len(r.rates))
	for _, rt := range r.rates {
		rates = append(rates, rt)
	}
	dists := make([]*Distribution, 0, len(r.dists))
	for _, d := range r.dists {
		dists = append(dists, d)
	}
	r.mu.RUnlock()

	s := Snapshot{
		Counters:      make(map[string]int64, len(counters)),
		Rates:         make(map[string]RateValue, len(rates)),
		Distributions: make(map[string]*Sample, len(dists)),
	}
	for _, c := range counters {
		s.Counters[c.name] = c.Value()
	}
	for _, rt := range rates {
		s.Rates[rt.name] = rt.Value()
	}
	for _, d := range dists {
		s.Distributions[d.name] = d.Sample()
	}
	return s
}
