// Package correlate matches inbound responses to the outbound messages that
// caused them and measures the round trip.
package correlate

import (
	"bytes"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Key identifies one outbound message.
type Key struct {
	UserID string
	Seq    uint64
}

func (k Key) String() string {
	return k.UserID + "/" + strconv.FormatUint(k.Seq, 10)
}

// Tracker correlates by exact key: the response must carry the key of the
// message it answers.
type Tracker struct {
	mu      sync.Mutex
	pending map[Key]time.Time
	closed  bool
}

func NewTracker() *Tracker {
	return &Tracker{pending: make(map[Key]time.Time)}
}

// OnSend records that k left at at. A key that is already pending is
// overwritten and reported with ErrDuplicateKey.
func (t *Tracker) OnSend(k Key, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	_, dup := t.pending[k]
	t.pending[k] = at
	if dup {
		return ErrDuplicateKey
	}
	return nil
}

// OnReceive resolves k and returns its round-trip time.
func (t *Tracker) OnReceive(k Key, at time.Time) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrClosed
	}
	sent, ok := t.pending[k]
	if !ok {
		return 0, ErrUnmatched
	}
	delete(t.pending, k)
	return nonNegative(at.Sub(sent)), nil
}

func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Discard drops every pending entry and closes the tracker. It returns how
// many entries were dropped.
func (t *Tracker) Discard() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.pending)
	clear(t.pending)
	t.closed = true
	return n
}

// KeyFromResponse recovers the key a response answers. It understands JSON
// objects carrying messageId (and optionally userId), a bare decimal id, and
// the "<msg>: <code>" reply of the sync server.
func KeyFromResponse(body []byte, defaultUser string) (Key, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Key{}, false
	}

	if body[0] == '{' {
		id := jsoniter.Get(body, "messageId")
		seq, ok := anyUint(id)
		if !ok {
			return Key{}, false
		}
		user := defaultUser
		if u := jsoniter.Get(body, "userId"); u.LastError() == nil {
			user = u.ToString()
		}
		return Key{UserID: user, Seq: seq}, true
	}

	if seq, err := strconv.ParseUint(string(body), 10, 64); err == nil {
		return Key{UserID: defaultUser, Seq: seq}, true
	}

	if i := bytes.LastIndex(body, []byte(": ")); i >= 0 {
		if seq, err := strconv.ParseUint(string(body[i+2:]), 10, 64); err == nil {
			return Key{UserID: defaultUser, Seq: seq}, true
		}
	}
	return Key{}, false
}

func anyUint(v jsoniter.Any) (uint64, bool) {
	if v.LastError() != nil {
		return 0, false
	}
	switch v.ValueType() {
	case jsoniter.NumberValue:
		f := v.ToFloat64()
		if f < 0 || f != float64(uint64(f)) {
			return 0, false
		}
		return v.ToUint64(), true
	case jsoniter.StringValue:
		n, err := strconv.ParseUint(v.ToString(), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
