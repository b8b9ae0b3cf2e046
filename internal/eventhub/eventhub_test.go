package eventhub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDeliversInOrder(t *testing.T) {
	h := New()
	sub := h.Subscribe(nil, 0)

	h.Send([]byte("one"))
	h.Send([]byte("two"))
	h.Send([]byte("three"))

	require.Equal(t, "one", string(recv(t, sub.C)))
	require.Equal(t, "two", string(recv(t, sub.C)))
	require.Equal(t, "three", string(recv(t, sub.C)))
}

func TestFilterExcludesFrames(t *testing.T) {
	h := New()
	onlyA := h.Subscribe(func(f []byte) bool { return string(f) == "a" }, 0)

	h.Send([]byte("b"))
	h.Send([]byte("a"))

	require.Equal(t, "a", string(recv(t, onlyA.C)))
	select {
	case extra := <-onlyA.C:
		t.Fatalf("unexpected extra frame: %q", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSendDropsOldestWhenQueueFull(t *testing.T) {
	h := New()
	sub := h.Subscribe(nil, 2)

	h.Send([]byte("1"))
	h.Send([]byte("2"))
	h.Send([]byte("3")) // queue full, "1" dropped

	require.Equal(t, "2", string(recv(t, sub.C)))
	require.Equal(t, "3", string(recv(t, sub.C)))
}

func TestCloseEndsAllSubscribers(t *testing.T) {
	h := New()
	sub := h.Subscribe(nil, 0)

	h.Close()

	_, ok := <-sub.C
	assert.False(t, ok, "subscriber channel should be closed")

	late := h.Subscribe(nil, 0)
	_, ok = <-late.C
	assert.False(t, ok, "subscription after Close should be end-of-stream immediately")
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := New()
	sub := h.Subscribe(nil, 0)

	assert.Equal(t, 1, h.SubscriberCount())
	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, h.SubscriberCount())
}

func recv(t *testing.T, c <-chan []byte) []byte {
	t.Helper()
	select {
	case f := <-c:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}
