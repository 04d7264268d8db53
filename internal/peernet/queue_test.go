package peernet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueKeepsOrderWithoutBlocking(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	for i := 0; i < 100; i++ {
		require.True(t, q.Push(Event{Kind: EventData, Data: []byte{byte(i)}}))
	}

	for i := 0; i < 100; i++ {
		select {
		case e := <-q.Events():
			assert.Equal(t, byte(i), e.Data[0])
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue()
	q.Close()
	q.Close()

	assert.False(t, q.Push(Event{Kind: EventCall}))
	select {
	case _, ok := <-q.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "channel-open", EventChannelOpen.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
