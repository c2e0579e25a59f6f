// Package session drives one simulated client through its connection
// lifecycle: connect, send and receive under a pacing policy, close.
//
// A session is a single loop over inbound events and timers. A separate
// reader goroutine turns blocking reads into events; nothing else touches
// session state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"syncq/internal/correlate"
	"syncq/internal/payload"
	"syncq/internal/stats"
	"syncq/internal/transport"
)

// Sequencer hands out message sequence numbers for a user.
type Sequencer interface {
	Next() uint64
}

// Env holds the collaborators shared by every session of a run.
type Env struct {
	Dialer  transport.Dialer
	Metrics *stats.Registry
	Payload *payload.Generator
	Log     *zap.Logger
}

// Result is what a session reports once terminal.
type Result struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	Iteration      int           `json:"iteration"`
	State          State         `json:"state"`
	Class          ErrorClass    `json:"error_class,omitempty"`
	Err            error         `json:"-"`
	Error          string        `json:"error,omitempty"`
	Started        time.Time     `json:"started"`
	ConnectTime    time.Duration `json:"connect_time"`
	Duration       time.Duration `json:"duration"`
	Sent           int           `json:"sent"`
	Received       int           `json:"received"`
	ProtocolErrors int           `json:"protocol_errors"`
	Discarded      int           `json:"discarded"`
}

type event struct {
	data []byte
	err  error
	at   time.Time
}

type Session struct {
	ID string

	cfg       Config
	userID    string
	iteration int
	seq       Sequencer
	env       Env
	log       *zap.Logger

	state atomic.Int32

	conn       transport.Conn
	done       chan struct{}
	readerDone chan struct{}

	tracker *correlate.Tracker
	txs     *correlate.TransactionTracker
	txIndex int
	txSent  bool

	res Result
}

func New(cfg Config, userID string, iteration int, seq Sequencer, env Env) *Session {
	cfg = cfg.withDefaults()
	if env.Log == nil {
		env.Log = zap.NewNop()
	}
	if env.Payload == nil {
		env.Payload = payload.New(payload.DefaultOptions())
	}
	if env.Metrics == nil {
		env.Metrics = stats.NewRegistry()
	}

	id := uuid.NewString()
	s := &Session{
		ID:        id,
		cfg:       cfg,
		userID:    userID,
		iteration: iteration,
		seq:       seq,
		env:       env,
		log:       env.Log.With(zap.String("session", id), zap.String("user", userID)),
		tracker:   correlate.NewTracker(),
	}
	if cfg.Correlation == CorrelationOrdered {
		s.txs = correlate.NewTransactionTracker(cfg.Transactions)
	}
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run blocks until the session is Closed or Failed. Cancelling ctx starts a
// graceful close bounded by CloseGrace.
func (s *Session) Run(ctx context.Context) Result {
	s.res = Result{
		ID:        s.ID,
		UserID:    s.userID,
		Iteration: s.iteration,
		Started:   time.Now(),
	}
	s.setState(Connecting)
	s.env.Metrics.Counter(stats.MetricSessions).Inc()

	if err := s.connect(ctx); err != nil {
		if errors.Is(err, ErrCancelled) {
			return s.finish(Closed, err)
		}
		return s.finish(Failed, err)
	}

	st, err := s.loop(ctx)
	return s.finish(st, err)
}

func (s *Session) connect(ctx context.Context) error {
	m := s.env.Metrics
	dctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	start := time.Now()
	conn, err := s.env.Dialer.Dial(dctx, s.cfg.URL, s.cfg.Header)
	if err != nil {
		// the run was stopped, the handshake itself did not fail
		if ctx.Err() != nil {
			return fmt.Errorf("%w while connecting: %w", ErrCancelled, ctx.Err())
		}
		m.Rate(stats.MetricConnectionSuccess).Add(false)
		m.Counter(stats.MetricConnectionErrors).Inc()
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %w", ErrConnectTimeout, s.cfg.ConnectTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	s.res.ConnectTime = time.Since(start)
	s.conn = conn
	s.done = make(chan struct{})
	s.readerDone = make(chan struct{})

	m.Rate(stats.MetricConnectionSuccess).Add(true)
	m.Counter(stats.MetricActiveConnections).Inc()
	s.observe(stats.MetricConnecting, s.res.ConnectTime)
	s.setState(Open)
	s.log.Debug("connected", zap.Duration("connect_time", s.res.ConnectTime))
	return nil
}

func (s *Session) readLoop(events chan<- event) {
	defer close(s.readerDone)
	for {
		data, err := s.conn.ReadMessage()
		select {
		case events <- event{data: data, err: err, at: time.Now()}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) loop(ctx context.Context) (State, error) {
	events := make(chan event, 64)
	go s.readLoop(events)

	stall := time.NewTimer(s.cfg.StallTimeout)
	defer stall.Stop()

	var budget <-chan time.Time
	if s.cfg.MaxDuration > 0 {
		t := time.NewTimer(s.cfg.MaxDuration)
		defer t.Stop()
		budget = t.C
	}

	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		t := time.NewTicker(s.cfg.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	send := time.NewTimer(s.firstSendDelay())
	defer send.Stop()
	sendC := send.C

	schedule := func() {
		if sendC != nil {
			return
		}
		if d, ok := s.nextSendDelay(); ok {
			send.Reset(d)
			sendC = send.C
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("run cancelled, closing")
			return s.closeGracefully(events)

		case <-budget:
			return s.closeGracefully(events)

		case <-stall.C:
			s.log.Warn("stalled", zap.Duration("stall_timeout", s.cfg.StallTimeout), zap.Int("pending", s.outstanding()))
			st, err := s.closeGracefully(events)
			if err == nil {
				err = ErrStalled
			}
			return st, err

		case <-ping:
			if err := s.conn.Ping(); err != nil {
				return s.transportFailure(err)
			}

		case <-sendC:
			sendC = nil
			if s.sendingDone() {
				if s.workDone() {
					return s.closeGracefully(events)
				}
				continue
			}
			if err := s.sendNext(); err != nil {
				return s.transportFailure(err)
			}
			if s.workDone() {
				return s.closeGracefully(events)
			}
			schedule()

		case ev := <-events:
			if ev.err != nil {
				if transport.IsNormalClose(ev.err) {
					s.log.Debug("peer closed the connection")
					return Closed, nil
				}
				return s.transportFailure(ev.err)
			}
			stall.Reset(s.cfg.StallTimeout)
			s.onMessage(ev)
			if s.workDone() {
				return s.closeGracefully(events)
			}
			schedule()
		}
	}
}

func (s *Session) firstSendDelay() time.Duration {
	if s.cfg.Correlation == CorrelationOrdered || s.cfg.InitialBurst > 0 || s.cfg.RequestResponse {
		return 0
	}
	return s.cfg.Interval
}

// nextSendDelay reports when the next send is due given what has been sent
// and answered so far.
func (s *Session) nextSendDelay() (time.Duration, bool) {
	if s.sendingDone() {
		return 0, false
	}

	if s.cfg.Correlation == CorrelationOrdered {
		if s.txSent {
			return 0, false
		}
		return s.cfg.ThinkTime, true
	}

	switch {
	case s.res.Sent < s.cfg.InitialBurst:
		return s.cfg.BurstGap, true
	case s.cfg.Interval > 0:
		return s.cfg.Interval, true
	case s.cfg.RequestResponse && s.outstanding() == 0:
		return s.cfg.ThinkTime, true
	}
	return 0, false
}

func (s *Session) sendingDone() bool {
	if s.cfg.Correlation == CorrelationOrdered {
		return s.txIndex >= s.txs.Len()
	}
	return s.cfg.MaxMessages > 0 && s.res.Sent >= s.cfg.MaxMessages
}

func (s *Session) workDone() bool {
	return s.sendingDone() && s.outstanding() == 0
}

func (s *Session) outstanding() int {
	switch s.cfg.Correlation {
	case CorrelationOrdered:
		return s.txs.Pending()
	case CorrelationNone:
		return max(0, s.res.Sent-s.res.Received)
	}
	return s.tracker.Pending()
}

func (s *Session) sendNext() error {
	s.setState(Sending)
	defer s.setState(AwaitingIdle)

	if s.cfg.Correlation == CorrelationOrdered {
		return s.sendTransaction()
	}

	seq := s.seq.Next()
	body := s.env.Payload.Generate(s.userID, seq, s.cfg.Mode)
	if s.cfg.Correlation == CorrelationExact {
		key := correlate.Key{UserID: s.userID, Seq: seq}
		if err := s.tracker.OnSend(key, time.Now()); err != nil {
			s.env.Metrics.Counter(stats.MetricDuplicateKeys).Inc()
			s.log.Warn("pending key reused", zap.Stringer("key", key), zap.Error(err))
		}
	}
	return s.write(body)
}

func (s *Session) sendTransaction() error {
	tx := s.txs.Transaction(s.txIndex)
	for i, ex := range tx.Exchanges {
		if err := s.txs.OnSend(s.txIndex, i, time.Now()); err != nil {
			s.log.Warn("transaction send rejected", zap.Int("tx", s.txIndex), zap.Int("index", i), zap.Error(err))
		}
		if err := s.write(ex.Request); err != nil {
			return err
		}
	}
	s.txSent = true
	return nil
}

func (s *Session) write(body []byte) error {
	if err := s.conn.WriteMessage(body); err != nil {
		return err
	}
	s.res.Sent++
	s.env.Metrics.Counter(stats.MetricMessagesSent).Inc()
	s.env.Metrics.Counter(stats.MetricBytesSent).Add(int64(len(body)))
	return nil
}

func (s *Session) onMessage(ev event) {
	s.countReceived(ev)

	switch s.cfg.Correlation {
	case CorrelationExact:
		key, ok := correlate.KeyFromResponse(ev.data, s.userID)
		if !ok {
			s.protocolError(correlate.ErrUnmatched, ev.data)
			return
		}
		rtt, err := s.tracker.OnReceive(key, ev.at)
		if err != nil {
			s.protocolError(err, ev.data)
			return
		}
		s.observe(stats.MetricRTT, rtt)

	case CorrelationOrdered:
		res, err := s.txs.OnReceive(ev.data, ev.at)
		if err != nil {
			s.protocolError(err, ev.data)
			return
		}
		s.observe(stats.MetricRTT, res.RTT)
		if res.Complete && res.Tx == s.txIndex {
			s.txIndex++
			s.txSent = false
		}
	}
}

func (s *Session) countReceived(ev event) {
	s.res.Received++
	s.env.Metrics.Counter(stats.MetricMessagesReceived).Inc()
	s.env.Metrics.Counter(stats.MetricBytesReceived).Add(int64(len(ev.data)))
}

func (s *Session) protocolError(err error, body []byte) {
	s.res.ProtocolErrors++
	s.env.Metrics.Counter(stats.MetricProtocolErrors).Inc()
	if ce := s.log.Check(zap.DebugLevel, "uncorrelated response"); ce != nil {
		ce.Write(zap.Error(err), zap.ByteString("body", truncate(body, 64)))
	}
}

func (s *Session) observe(metric string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if err := s.env.Metrics.Distribution(metric).Observe(ms); err != nil {
		s.log.Warn("sample rejected", zap.Error(err))
	}
}

// closeGracefully sends a normal close and waits up to CloseGrace for the
// peer. Responses arriving now are late: counted and dropped.
func (s *Session) closeGracefully(events <-chan event) (State, error) {
	s.setState(Closing)
	if err := s.conn.WriteClose(transport.CloseNormal, ""); err != nil {
		return s.transportFailure(err)
	}

	grace := time.NewTimer(s.cfg.CloseGrace)
	defer grace.Stop()

	for {
		select {
		case ev := <-events:
			if ev.err == nil {
				s.countReceived(ev)
				s.res.ProtocolErrors++
				s.env.Metrics.Counter(stats.MetricLateResponses).Inc()
				s.env.Metrics.Counter(stats.MetricProtocolErrors).Inc()
				continue
			}
			if transport.IsNormalClose(ev.err) {
				return Closed, nil
			}
			return s.transportFailure(ev.err)

		case <-grace.C:
			s.log.Debug("close grace expired, forcing", zap.Duration("grace", s.cfg.CloseGrace))
			return Closed, nil
		}
	}
}

func (s *Session) transportFailure(err error) (State, error) {
	s.env.Metrics.Counter(stats.MetricTransportErrors).Inc()
	return Failed, fmt.Errorf("%w: %w", ErrTransport, err)
}

func (s *Session) finish(st State, err error) Result {
	m := s.env.Metrics

	if s.conn != nil {
		close(s.done)
		_ = s.conn.Close()
		<-s.readerDone
		m.Counter(stats.MetricActiveConnections).Add(-1)
	}

	discarded := s.tracker.Discard()
	if s.txs != nil {
		discarded += s.txs.Discard()
	}
	if discarded > 0 {
		m.Counter(stats.MetricPendingDiscarded).Add(int64(discarded))
	}

	s.setState(st)
	s.res.State = st
	s.res.Discarded = discarded
	s.res.Duration = time.Since(s.res.Started)
	s.res.Err = err
	s.res.Class = Classify(err)
	if err != nil {
		s.res.Error = err.Error()
	}
	if s.res.Class == ClassTimeout {
		m.Counter(stats.MetricSessionTimeouts).Inc()
	}
	s.observe(stats.MetricSessionDuration, s.res.Duration)

	fields := []zap.Field{
		zap.Stringer("state", st),
		zap.Int("sent", s.res.Sent),
		zap.Int("received", s.res.Received),
		zap.Int("discarded", discarded),
		zap.Duration("duration", s.res.Duration),
	}
	if err != nil {
		s.log.Info("session ended", append(fields, zap.String("class", string(s.res.Class)), zap.Error(err))...)
	} else {
		s.log.Debug("session ended", fields...)
	}
	return s.res
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
