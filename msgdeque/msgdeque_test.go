package msgdeque_test

import (
	"testing"

	"github.com/resourcefab/msgfabric/msg"
	"github.com/resourcefab/msgfabric/msgdeque"
	"github.com/stretchr/testify/require"
)

func TestDequePollEvents(t *testing.T) {
	d := msgdeque.Create(msgdeque.Default)
	defer d.Destroy()

	require.Equal(t, msgdeque.Out, d.PollEvents())

	m := msg.New(msg.Request, "foo.bar", nil)
	require.NoError(t, d.PushBack(m))
	require.Equal(t, msgdeque.Out|msgdeque.In, d.PollEvents())

	got := d.PopFront()
	require.Same(t, m, got)
	require.False(t, got.Linked())
	require.Equal(t, msgdeque.Out, d.PollEvents())
}

func TestDequeFIFOOrder(t *testing.T) {
	d := msgdeque.Create(msgdeque.Default)
	defer d.Destroy()

	a := msg.New(msg.Event, "a", nil)
	b := msg.New(msg.Event, "b", nil)
	c := msg.New(msg.Event, "c", nil)

	require.NoError(t, d.PushBack(a))
	require.NoError(t, d.PushBack(b))
	require.NoError(t, d.PushBack(c))

	require.Same(t, a, d.PopFront())
	require.Same(t, b, d.PopFront())
	require.Same(t, c, d.PopFront())
	require.Nil(t, d.PopFront())
}

func TestDequePushFrontRequeue(t *testing.T) {
	d := msgdeque.Create(msgdeque.Default)
	defer d.Destroy()

	a := msg.New(msg.Event, "a", nil)
	b := msg.New(msg.Event, "b", nil)

	require.NoError(t, d.PushBack(a))
	require.NoError(t, d.PushFront(b))

	require.Same(t, b, d.PopFront())
	require.Same(t, a, d.PopFront())
}

func TestDequeRejectsDoubleLink(t *testing.T) {
	d := msgdeque.Create(msgdeque.Default)
	defer d.Destroy()

	d2 := msgdeque.Create(msgdeque.Default)
	defer d2.Destroy()

	m := msg.New(msg.Event, "a", nil)
	require.NoError(t, d.PushBack(m))
	require.ErrorIs(t, d2.PushBack(m), msgdeque.ErrLinked)
}

func TestDequeRejectsAliasedRefcount(t *testing.T) {
	d := msgdeque.Create(msgdeque.Default)
	defer d.Destroy()

	m := msg.New(msg.Event, "a", nil)
	m.Clone() // refs now 2

	require.ErrorIs(t, d.PushBack(m), msgdeque.ErrAliased)
}

func TestDequeSingleThreadAllowsAliasing(t *testing.T) {
	d := msgdeque.Create(msgdeque.SingleThread)
	defer d.Destroy()

	m := msg.New(msg.Event, "a", nil)
	m.Clone()

	require.NoError(t, d.PushBack(m))
}

func TestDequeGrowsPastInitialCapacity(t *testing.T) {
	d := msgdeque.Create(msgdeque.Default)
	defer d.Destroy()

	const n = 1000
	msgs := make([]*msg.Message, n)
	for i := 0; i < n; i++ {
		msgs[i] = msg.New(msg.Event, "a", nil)
		require.NoError(t, d.PushBack(msgs[i]))
	}
	require.Equal(t, n, d.Count())
	for i := 0; i < n; i++ {
		require.Same(t, msgs[i], d.PopFront())
	}
	require.True(t, d.Empty())
}
