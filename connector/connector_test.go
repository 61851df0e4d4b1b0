package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resourcefab/msgfabric/msg"
)

func TestLoopPairRoundTrip(t *testing.T) {
	a, b := NewLoopPair()
	defer a.Destroy()
	defer b.Destroy()

	m := msg.New(msg.Request, "foo.bar", []byte("hi"))
	require.NoError(t, a.Send(m, false))

	got, err := b.Recv(false)
	require.NoError(t, err)
	require.Equal(t, "foo.bar", got.Topic())
	require.Equal(t, []byte("hi"), got.Payload())

	// Empty queue, non-blocking mode: EAGAIN immediately.
	_, err = b.Recv(true)
	require.Error(t, err)

	// Empty queue, blocking mode: Recv genuinely waits for the Send that
	// arrives on another goroutine, rather than failing immediately.
	done := make(chan *msg.Message, 1)
	go func() {
		m, err := b.Recv(false)
		require.NoError(t, err)
		done <- m
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, a.Send(msg.New(msg.Event, "late.arrival", nil), false))

	select {
	case got := <-done:
		require.Equal(t, "late.arrival", got.Topic())
	case <-time.After(time.Second):
		t.Fatal("blocking Recv never woke for the late Send")
	}
}

func TestInterthreadRoundTrip(t *testing.T) {
	a, err := Open("interthread", "/rendezvous-test", 0)
	require.NoError(t, err)
	defer a.Destroy()

	b, err := Open("interthread", "/rendezvous-test", 0)
	require.NoError(t, err)
	defer b.Destroy()

	m := msg.New(msg.Event, "stats.cpu", nil)
	require.NoError(t, a.Send(m, false))

	got, err := b.Recv(false)
	require.NoError(t, err)
	require.Equal(t, "stats.cpu", got.Topic())
}

func TestOpenUnknownSchemeFails(t *testing.T) {
	_, err := Open("nonexistent-scheme", "", 0)
	require.ErrorIs(t, err, ErrNotFound)
}
