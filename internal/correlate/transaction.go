package correlate

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// Exchange is one request of a transaction and the reply it must produce.
type Exchange struct {
	Request []byte
	Expect  []byte
}

// Transaction is an ordered group of exchanges whose replies must arrive in
// send order.
type Transaction struct {
	Exchanges []Exchange
}

// Resolution describes a reply consumed by a TransactionTracker.
type Resolution struct {
	Tx       int
	Index    int
	RTT      time.Duration
	Complete bool
}

type txState struct {
	tx     Transaction
	sentAt []time.Time
	sent   []bool
	cursor int
}

func (s *txState) done() bool { return s.cursor >= len(s.tx.Exchanges) }

// TransactionTracker keeps a FIFO cursor per transaction. Ordering across
// transactions is unconstrained.
type TransactionTracker struct {
	mu     sync.Mutex
	txs    []*txState
	closed bool
}

func NewTransactionTracker(txs []Transaction) *TransactionTracker {
	t := &TransactionTracker{txs: make([]*txState, len(txs))}
	for i, tx := range txs {
		t.txs[i] = &txState{
			tx:     tx,
			sentAt: make([]time.Time, len(tx.Exchanges)),
			sent:   make([]bool, len(tx.Exchanges)),
		}
	}
	return t
}

func (t *TransactionTracker) Len() int { return len(t.txs) }

// Transaction returns transaction i as given at construction.
func (t *TransactionTracker) Transaction(i int) Transaction {
	return t.txs[i].tx
}

func (t *TransactionTracker) state(tx, idx int) (*txState, error) {
	if tx < 0 || tx >= len(t.txs) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTransaction, tx)
	}
	s := t.txs[tx]
	if idx < 0 || idx >= len(s.tx.Exchanges) {
		return nil, fmt.Errorf("%w: %d[%d]", ErrUnknownTransaction, tx, idx)
	}
	return s, nil
}

// OnSend records that exchange idx of transaction tx left at at.
func (t *TransactionTracker) OnSend(tx, idx int, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	s, err := t.state(tx, idx)
	if err != nil {
		return err
	}

	dup := s.sent[idx] && idx >= s.cursor
	s.sent[idx] = true
	s.sentAt[idx] = at
	if dup {
		return fmt.Errorf("%w: %d[%d]", ErrDuplicateKey, tx, idx)
	}
	return nil
}

// OnReceive consumes a reply. It must match the head of some transaction;
// a reply matching a later pending entry is rejected with ErrOutOfOrder and
// the cursor stays put.
func (t *TransactionTracker) OnReceive(reply []byte, at time.Time) (Resolution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return Resolution{}, ErrClosed
	}

	reply = bytes.TrimSpace(reply)
	for i, s := range t.txs {
		if s.done() || !s.sent[s.cursor] {
			continue
		}
		if !bytes.Equal(reply, s.tx.Exchanges[s.cursor].Expect) {
			continue
		}
		res := Resolution{
			Tx:    i,
			Index: s.cursor,
			RTT:   nonNegative(at.Sub(s.sentAt[s.cursor])),
		}
		s.cursor++
		res.Complete = s.done()
		return res, nil
	}

	for i, s := range t.txs {
		for j := s.cursor + 1; j < len(s.tx.Exchanges); j++ {
			if s.sent[j] && bytes.Equal(reply, s.tx.Exchanges[j].Expect) {
				return Resolution{Tx: i, Index: j}, fmt.Errorf("%w: %d[%d] before %d[%d]", ErrOutOfOrder, i, j, i, s.cursor)
			}
		}
	}
	return Resolution{}, ErrUnmatched
}

// Complete reports whether every reply of transaction tx has been consumed.
func (t *TransactionTracker) Complete(tx int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tx < 0 || tx >= len(t.txs) {
		return false
	}
	return t.txs[tx].done()
}

// Pending counts exchanges sent but not yet answered.
func (t *TransactionTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingLocked()
}

func (t *TransactionTracker) pendingLocked() int {
	if t.closed {
		return 0
	}
	n := 0
	for _, s := range t.txs {
		for j := s.cursor; j < len(s.tx.Exchanges); j++ {
			if s.sent[j] {
				n++
			}
		}
	}
	return n
}

// Discard drops every unanswered exchange and closes the tracker.
func (t *TransactionTracker) Discard() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.pendingLocked()
	for _, s := range t.txs {
		s.cursor = len(s.tx.Exchanges)
	}
	t.closed = true
	return n
}
