package session

import (
	"fmt"
	"net/http"
	"time"

	"syncq/internal/correlate"
	"syncq/internal/payload"
)

// Correlation selects how responses are matched to requests.
type Correlation string

const (
	CorrelationExact   Correlation = "exact"
	CorrelationOrdered Correlation = "ordered"
	// CorrelationNone only counts responses. Useful against servers that
	// broadcast instead of answering.
	CorrelationNone Correlation = "none"
)

func ParseCorrelation(s string) (Correlation, error) {
	switch c := Correlation(s); c {
	case CorrelationExact, CorrelationOrdered, CorrelationNone:
		return c, nil
	case "":
		return CorrelationExact, nil
	}
	return "", fmt.Errorf("session: unknown correlation %q", s)
}

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultStallTimeout   = 35 * time.Second
	DefaultCloseGrace     = 2 * time.Second
)

// Config drives one session. URL is final; user templating happens before.
type Config struct {
	URL    string
	Header http.Header

	ConnectTimeout time.Duration
	StallTimeout   time.Duration
	CloseGrace     time.Duration

	// Pacing. With no burst and no interval the session falls back to
	// request/response.
	InitialBurst    int
	BurstGap        time.Duration
	Interval        time.Duration
	RequestResponse bool
	ThinkTime       time.Duration
	PingInterval    time.Duration

	// Budgets. Zero means unlimited.
	MaxMessages int
	MaxDuration time.Duration

	Mode         payload.Mode
	Correlation  Correlation
	Transactions []correlate.Transaction
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = DefaultStallTimeout
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = DefaultCloseGrace
	}
	if c.Mode == "" {
		c.Mode = payload.ModeStructural
	}
	if c.Correlation == "" {
		c.Correlation = CorrelationExact
	}
	if c.InitialBurst <= 0 && c.Interval <= 0 {
		c.RequestResponse = true
	}
	// a burst with nothing after it is the whole session
	if c.InitialBurst > 0 && c.Interval <= 0 && !c.RequestResponse && c.MaxMessages <= 0 {
		c.MaxMessages = c.InitialBurst
	}
	return c
}
