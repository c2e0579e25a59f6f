package runner

import (
	"sync/atomic"
	"time"

	"syncq/internal/payload"
	"syncq/internal/session"
	"syncq/internal/stats"
)

type Config struct {
	URL      string
	Headers  map[string]string
	Insecure bool

	// Closed-loop virtual users
	NumUsers   int
	Duration   time.Duration
	Iterations int     // sessions per user, 0 = until Duration
	SpawnRate  float64 // users started per second, 0 = all at once

	ConnectTimeout time.Duration
	StallTimeout   time.Duration
	CloseGrace     time.Duration

	InitialBurst    int
	BurstGap        time.Duration
	Interval        time.Duration
	RequestResponse bool
	ThinkTime       time.Duration
	PingInterval    time.Duration

	MaxMessages     int
	SessionDuration time.Duration

	Mode         payload.Mode
	Payload      payload.Options
	Correlation  session.Correlation
	Transactions []TransactionSpec

	Thresholds map[string][]string
	MaxSamples int

	OutPrefix string
}

// MessageSpec is a simple-mode request; the server answers "msg: code".
type MessageSpec struct {
	Msg  string `mapstructure:"msg" json:"msg" yaml:"msg"`
	Code uint64 `mapstructure:"code" json:"code" yaml:"code"`
}

type TransactionSpec struct {
	Messages []MessageSpec `mapstructure:"messages" json:"messages" yaml:"messages"`
}

// VirtualUser is one simulated client. Its sequence counter spans every
// session it runs, so keys never repeat within a run.
type VirtualUser struct {
	Index int
	ID    string

	seq atomic.Uint64
}

func (u *VirtualUser) Next() uint64 {
	return u.seq.Add(1)
}

// StatsSnapshot is the live view pushed on Updates.
type StatsSnapshot struct {
	Elapsed   time.Duration
	ActiveVUs int64

	Sessions          int64
	ActiveConnections int64
	ConnectionErrors  int64
	ConnectionSuccess float64

	Sent           int64
	Received       int64
	BytesSent      int64
	BytesReceived  int64
	ProtocolErrors int64

	// Approximate, from the live sketch
	P50RTTMs float64
	P90RTTMs float64
	P99RTTMs float64
	MaxRTTMs float64
}

// StatsUpdateChan is the channel type
type StatsUpdateChan chan StatsSnapshot

// Result is the outcome of a finished run.
type Result struct {
	Started    time.Time
	Elapsed    time.Duration
	Config     Config
	Snapshot   stats.Snapshot
	Thresholds []stats.ThresholdResult
	Passed     bool
	Sessions   []session.Result
}
