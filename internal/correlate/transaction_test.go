package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func helloTest() []Transaction {
	return []Transaction{{
		Exchanges: []Exchange{
			{Request: []byte(`{"msg":"hello","code":13}`), Expect: []byte("hello: 13")},
			{Request: []byte(`{"msg":"test","code":42}`), Expect: []byte("test: 42")},
		},
	}}
}

func TestTransactionTracker_InOrder(t *testing.T) {
	tr := NewTransactionTracker(helloTest())
	t0 := time.Now()

	require.NoError(t, tr.OnSend(0, 0, t0))
	require.NoError(t, tr.OnSend(0, 1, t0.Add(time.Millisecond)))
	assert.Equal(t, 2, tr.Pending())

	var rtts []time.Duration
	protocolErrors := 0
	for _, reply := range []string{"hello: 13", "test: 42"} {
		res, err := tr.OnReceive([]byte(reply), t0.Add(10*time.Millisecond))
		if err != nil {
			protocolErrors++
			continue
		}
		rtts = append(rtts, res.RTT)
	}

	assert.Zero(t, protocolErrors)
	require.Len(t, rtts, 2)
	for _, rtt := range rtts {
		assert.GreaterOrEqual(t, rtt, time.Duration(0))
	}
	assert.True(t, tr.Complete(0))
	assert.Equal(t, 0, tr.Pending())
}

func TestTransactionTracker_Reversed(t *testing.T) {
	tr := NewTransactionTracker(helloTest())
	t0 := time.Now()

	require.NoError(t, tr.OnSend(0, 0, t0))
	require.NoError(t, tr.OnSend(0, 1, t0))

	var rtts []time.Duration
	protocolErrors := 0
	for _, reply := range []string{"test: 42", "hello: 13"} {
		res, err := tr.OnReceive([]byte(reply), t0.Add(5*time.Millisecond))
		if err != nil {
			assert.ErrorIs(t, err, ErrOutOfOrder)
			protocolErrors++
			continue
		}
		rtts = append(rtts, res.RTT)
	}

	assert.Equal(t, 1, protocolErrors)
	assert.Len(t, rtts, 1)
	assert.False(t, tr.Complete(0))
	assert.Equal(t, 1, tr.Pending())
	assert.Equal(t, 1, tr.Discard())
}

func TestTransactionTracker_IndependentTransactions(t *testing.T) {
	txs := []Transaction{
		{Exchanges: []Exchange{{Expect: []byte("a: 1")}, {Expect: []byte("a: 2")}}},
		{Exchanges: []Exchange{{Expect: []byte("b: 1")}}},
	}
	tr := NewTransactionTracker(txs)
	t0 := time.Now()
	require.NoError(t, tr.OnSend(0, 0, t0))
	require.NoError(t, tr.OnSend(0, 1, t0))
	require.NoError(t, tr.OnSend(1, 0, t0))

	res, err := tr.OnReceive([]byte("b: 1"), t0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tx)
	assert.True(t, res.Complete)

	res, err = tr.OnReceive([]byte("a: 1"), t0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Tx)
	assert.False(t, res.Complete)

	res, err = tr.OnReceive([]byte("a: 2"), t0)
	require.NoError(t, err)
	assert.True(t, res.Complete)
}

func TestTransactionTracker_Errors(t *testing.T) {
	tr := NewTransactionTracker(helloTest())
	t0 := time.Now()

	assert.ErrorIs(t, tr.OnSend(1, 0, t0), ErrUnknownTransaction)
	assert.ErrorIs(t, tr.OnSend(0, 5, t0), ErrUnknownTransaction)

	// a reply for something never sent
	_, err := tr.OnReceive([]byte("hello: 13"), t0)
	assert.ErrorIs(t, err, ErrUnmatched)

	require.NoError(t, tr.OnSend(0, 0, t0))
	assert.ErrorIs(t, tr.OnSend(0, 0, t0), ErrDuplicateKey)

	_, err = tr.OnReceive([]byte("nope"), t0)
	assert.ErrorIs(t, err, ErrUnmatched)

	tr.Discard()
	_, err = tr.OnReceive([]byte("hello: 13"), t0)
	assert.ErrorIs(t, err, ErrClosed)
}
