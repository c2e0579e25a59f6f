package correlate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_SendReceive(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()
	k := Key{UserID: "1", Seq: 1}

	require.NoError(t, tr.OnSend(k, t0))
	assert.Equal(t, 1, tr.Pending())

	rtt, err := tr.OnReceive(k, t0.Add(25*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 25*time.Millisecond, rtt)
	assert.Equal(t, 0, tr.Pending())

	_, err = tr.OnReceive(k, t0)
	assert.ErrorIs(t, err, ErrUnmatched)
}

func TestTracker_DuplicateOverwrites(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()
	k := Key{UserID: "1", Seq: 9}

	require.NoError(t, tr.OnSend(k, t0))
	assert.ErrorIs(t, tr.OnSend(k, t0.Add(time.Second)), ErrDuplicateKey)
	assert.Equal(t, 1, tr.Pending())

	rtt, err := tr.OnReceive(k, t0.Add(1500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, rtt)
}

func TestTracker_NegativeRTTClamped(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()
	k := Key{UserID: "1", Seq: 1}
	require.NoError(t, tr.OnSend(k, t0))

	rtt, err := tr.OnReceive(k, t0.Add(-time.Millisecond))
	require.NoError(t, err)
	assert.Zero(t, rtt)
}

func TestTracker_DiscardLeavesNothing(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()
	for i := uint64(0); i < 10; i++ {
		require.NoError(t, tr.OnSend(Key{UserID: "1", Seq: i}, t0))
	}

	assert.Equal(t, 10, tr.Discard())
	assert.Equal(t, 0, tr.Pending())

	_, err := tr.OnReceive(Key{UserID: "1", Seq: 3}, t0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, tr.OnSend(Key{UserID: "1", Seq: 11}, t0), ErrClosed)
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()

	var wg sync.WaitGroup
	for u := 0; u < 8; u++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := uint64(0); i < 200; i++ {
				k := Key{UserID: user, Seq: i}
				_ = tr.OnSend(k, t0)
				_, _ = tr.OnReceive(k, t0)
			}
		}(string(rune('a' + u)))
	}
	wg.Wait()

	assert.Equal(t, 0, tr.Pending())
}

func TestKeyFromResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Key
		ok   bool
	}{
		{name: "json", body: `{"messageId":12,"userId":"7","content":"x"}`, want: Key{"7", 12}, ok: true},
		{name: "json numeric user", body: `{"messageId":3,"userId":5}`, want: Key{"5", 3}, ok: true},
		{name: "json default user", body: `{"messageId":"4"}`, want: Key{"u", 4}, ok: true},
		{name: "json without id", body: `{"userId":"7"}`},
		{name: "json negative id", body: `{"messageId":-1}`},
		{name: "bare id", body: " 42\n", want: Key{"u", 42}, ok: true},
		{name: "reply", body: "hello: 13", want: Key{"u", 13}, ok: true},
		{name: "garbage", body: "Invalid message format"},
		{name: "empty", body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KeyFromResponse([]byte(tt.body), "u")
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
