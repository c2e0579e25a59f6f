package runner

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"syncq/internal/correlate"
	"syncq/internal/payload"
	"syncq/internal/session"
	"syncq/internal/stats"
	"syncq/internal/transport"
)

const (
	tickInterval = 200 * time.Millisecond

	// pause before a looping user starts a new session after a failed one
	failedIterationBackoff = time.Second
)

var ErrNoUsers = errors.New("runner: at least one user is required")

type Runner struct {
	Cfg     Config
	Metrics *stats.Registry
	Dialer  transport.Dialer
	Results []session.Result
	mu      sync.Mutex

	endpoint     *Endpoint
	generator    *payload.Generator
	transactions []correlate.Transaction
	thresholds   []stats.Threshold
	log          *zap.Logger

	activeVUs atomic.Int64
	started   time.Time

	// Event Channel
	Updates StatsUpdateChan
}

func NewRunner(cfg Config, updates StatsUpdateChan, log *zap.Logger) (*Runner, error) {
	if cfg.NumUsers <= 0 {
		return nil, ErrNoUsers
	}
	if log == nil {
		log = zap.NewNop()
	}

	endpoint, err := NewEndpoint(NewTemplateEngine(), cfg.URL, cfg.Headers)
	if err != nil {
		return nil, err
	}

	thresholds, err := stats.ParseThresholds(cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	if updates == nil {
		// Avoid nil panics if not provided
		updates = make(StatsUpdateChan, 10)
	}

	r := &Runner{
		Cfg:     cfg,
		Metrics: stats.NewRegistryWithLimit(cfg.MaxSamples),
		Dialer: transport.WSDialer{
			HandshakeTimeout: cfg.ConnectTimeout,
			Insecure:         cfg.Insecure,
		},
		endpoint:     endpoint,
		generator:    payload.New(cfg.Payload),
		transactions: buildTransactions(cfg.Transactions),
		thresholds:   thresholds,
		log:          log,
		Updates:      updates,
	}
	r.registerMetrics()
	return r, nil
}

// registerMetrics creates the core metrics up front so they are reported
// (as zero) even when nothing happened.
func (r *Runner) registerMetrics() {
	for _, name := range []string{
		stats.MetricSessions,
		stats.MetricConnectionErrors,
		stats.MetricActiveConnections,
		stats.MetricMessagesSent,
		stats.MetricMessagesReceived,
		stats.MetricBytesSent,
		stats.MetricBytesReceived,
		stats.MetricProtocolErrors,
		stats.MetricIterations,
	} {
		r.Metrics.Counter(name)
	}
	r.Metrics.Rate(stats.MetricConnectionSuccess)
	r.Metrics.Distribution(stats.MetricRTT)
	r.Metrics.Distribution(stats.MetricConnecting)
}

func buildTransactions(specs []TransactionSpec) []correlate.Transaction {
	out := make([]correlate.Transaction, 0, len(specs))
	for _, spec := range specs {
		tx := correlate.Transaction{Exchanges: make([]correlate.Exchange, len(spec.Messages))}
		for i, m := range spec.Messages {
			tx.Exchanges[i] = correlate.Exchange{
				Request: payload.SimpleRequest(m.Msg, m.Code),
				Expect:  []byte(payload.Reply(m.Msg, m.Code)),
			}
		}
		out = append(out, tx)
	}
	return out
}

// StartTickLoop starts a goroutine that pushes stats updates. The returned
// channel is closed once it has stopped.
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sendUpdate()
			}
		}
	}()
	return done
}

// Snapshot reads the live counters. Quantiles come from the hdrhistogram
// sketch so this stays cheap at tick rate.
func (r *Runner) Snapshot() StatsSnapshot {
	m := r.Metrics
	rtt := m.Distribution(stats.MetricRTT)
	_, _, _, maxRTT := rtt.Totals()

	s := StatsSnapshot{
		ActiveVUs:         r.activeVUs.Load(),
		Sessions:          m.Counter(stats.MetricSessions).Value(),
		ActiveConnections: m.Counter(stats.MetricActiveConnections).Value(),
		ConnectionErrors:  m.Counter(stats.MetricConnectionErrors).Value(),
		ConnectionSuccess: m.Rate(stats.MetricConnectionSuccess).Value().Rate,
		Sent:              m.Counter(stats.MetricMessagesSent).Value(),
		Received:          m.Counter(stats.MetricMessagesReceived).Value(),
		BytesSent:         m.Counter(stats.MetricBytesSent).Value(),
		BytesReceived:     m.Counter(stats.MetricBytesReceived).Value(),
		ProtocolErrors:    m.Counter(stats.MetricProtocolErrors).Value(),
		P50RTTMs:          rtt.LiveQuantile(50),
		P90RTTMs:          rtt.LiveQuantile(90),
		P99RTTMs:          rtt.LiveQuantile(99),
		MaxRTTMs:          maxRTT,
	}
	if !r.started.IsZero() {
		s.Elapsed = time.Since(r.started)
	}
	return s
}

func (r *Runner) sendUpdate() {
	s := r.Snapshot()

	// Non-blocking send
	select {
	case r.Updates <- s:
	default:
		// Drop update if channel full, UI acts as backpressure
	}
}

// Run spawns every virtual user and blocks until all of them are done or
// the run deadline passes. At the deadline running sessions are asked to
// close and each is bounded by its close grace.
func (r *Runner) Run(ctx context.Context) *Result {
	r.started = time.Now()

	tickCtx, stopTicks := context.WithCancel(ctx)
	defer stopTicks()
	ticksDone := r.StartTickLoop(tickCtx, tickInterval)

	var runCtx context.Context
	var cancel context.CancelFunc
	if r.Cfg.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.Cfg.Duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var limiter *rate.Limiter
	if r.Cfg.SpawnRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.Cfg.SpawnRate), 1)
	}

	r.log.Info("run started",
		zap.Int("vus", r.Cfg.NumUsers),
		zap.Duration("duration", r.Cfg.Duration),
		zap.Int("iterations", r.Cfg.Iterations),
		zap.String("url", r.Cfg.URL),
	)

	var wg sync.WaitGroup
	for i := 0; i < r.Cfg.NumUsers; i++ {
		if limiter != nil {
			if err := limiter.Wait(runCtx); err != nil {
				r.log.Info("spawn stopped at deadline", zap.Int("spawned", i))
				break
			}
		}

		u := &VirtualUser{Index: i, ID: strconv.Itoa(i + 1)}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runUser(runCtx, u)
		}()
	}
	wg.Wait()

	elapsed := time.Since(r.started)
	stopTicks()
	<-ticksDone
	r.sendUpdate()

	return r.finalize(elapsed)
}

func (r *Runner) runUser(ctx context.Context, u *VirtualUser) {
	r.activeVUs.Add(1)
	defer r.activeVUs.Add(-1)

	env := session.Env{
		Dialer:  r.Dialer,
		Metrics: r.Metrics,
		Payload: r.generator,
		Log:     r.log,
	}

	for iter := 0; r.Cfg.Iterations == 0 || iter < r.Cfg.Iterations; iter++ {
		if ctx.Err() != nil {
			return
		}

		url, header, err := r.endpoint.Render(u)
		if err != nil {
			r.log.Error("render endpoint", zap.String("user", u.ID), zap.Error(err))
			return
		}

		res := session.New(r.sessionConfig(url, header), u.ID, iter, u, env).Run(ctx)
		r.Metrics.Counter(stats.MetricIterations).Inc()

		r.mu.Lock()
		r.Results = append(r.Results, res)
		r.mu.Unlock()

		pause := r.Cfg.ThinkTime
		if res.State == session.Failed && r.Cfg.Iterations == 0 {
			pause = max(pause, failedIterationBackoff)
		}
		if !sleep(ctx, pause) {
			return
		}
	}
}

func (r *Runner) sessionConfig(url string, header http.Header) session.Config {
	c := r.Cfg
	return session.Config{
		URL:             url,
		Header:          header,
		ConnectTimeout:  c.ConnectTimeout,
		StallTimeout:    c.StallTimeout,
		CloseGrace:      c.CloseGrace,
		InitialBurst:    c.InitialBurst,
		BurstGap:        c.BurstGap,
		Interval:        c.Interval,
		RequestResponse: c.RequestResponse,
		ThinkTime:       c.ThinkTime,
		PingInterval:    c.PingInterval,
		MaxMessages:     c.MaxMessages,
		MaxDuration:     c.SessionDuration,
		Mode:            c.Mode,
		Correlation:     c.Correlation,
		Transactions:    r.transactions,
	}
}

// finalize runs after the terminal barrier: every session has returned.
func (r *Runner) finalize(elapsed time.Duration) *Result {
	snap := r.Metrics.Snapshot()
	results, passed := stats.EvaluateThresholds(snap, r.thresholds)

	for _, t := range results {
		if !t.Passed {
			r.log.Warn("threshold failed",
				zap.String("metric", t.Metric),
				zap.String("expr", t.Expr),
				zap.Float64("actual", t.Actual),
				zap.String("error", t.Err),
			)
		}
	}

	r.mu.Lock()
	sessions := append([]session.Result(nil), r.Results...)
	r.mu.Unlock()

	r.log.Info("run finished",
		zap.Duration("elapsed", elapsed),
		zap.Int("sessions", len(sessions)),
		zap.Bool("thresholds_passed", passed),
	)

	return &Result{
		Started:    r.started,
		Elapsed:    elapsed,
		Config:     r.Cfg,
		Snapshot:   snap,
		Thresholds: results,
		Passed:     passed,
		Sessions:   sessions,
	}
}

func (r *Runner) GetActiveUsers() int64 {
	return r.activeVUs.Load()
}

// sleep waits d or until ctx is done, reporting whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
