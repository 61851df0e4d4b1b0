package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/resourcefab/msgfabric/msg"
)

func TestMethodOverrideSymmetry(t *testing.T) {
	d := New()

	var calledA, calledB bool
	idA, err := d.Register(Match{Type: msg.Request, Topic: "foo.bar"}, func(*msg.Message) bool {
		calledA = true
		return true
	})
	require.NoError(t, err)
	d.Start(idA)

	idB, err := d.Register(Match{Type: msg.Request, Topic: "foo.bar"}, func(*msg.Message) bool {
		calledB = true
		return true
	})
	require.NoError(t, err)
	d.Start(idB)

	m := msg.New(msg.Request, "foo.bar", nil)
	require.True(t, d.Dispatch(m))
	require.False(t, calledA)
	require.True(t, calledB)

	d.Destroy(idB)
	calledA, calledB = false, false
	require.True(t, d.Dispatch(m))
	require.True(t, calledA)
	require.False(t, calledB)
}

func TestCatchAllVsExact(t *testing.T) {
	d := New()

	var calledA, calledB bool
	idA, _ := d.Register(Match{Type: msg.Request, Topic: "foo.bar"}, func(*msg.Message) bool {
		calledA = true
		return true
	})
	d.Start(idA)
	idB, _ := d.Register(Match{Type: msg.Request, Topic: "*"}, func(*msg.Message) bool {
		calledB = true
		return true
	})
	d.Start(idB)

	d.Dispatch(msg.New(msg.Request, "foo.bar", nil))
	require.True(t, calledA)
	require.False(t, calledB)

	calledA, calledB = false, false
	d.Dispatch(msg.New(msg.Request, "other", nil))
	require.False(t, calledA)
	require.True(t, calledB)
}

func TestEventAndControlOnlyMatchGlob(t *testing.T) {
	d := New()

	var called bool
	id, _ := d.Register(Match{Type: msg.Event, Topic: "stats.*"}, func(*msg.Message) bool {
		called = true
		return true
	})
	d.Start(id)

	require.False(t, d.Dispatch(msg.New(msg.Event, "other.thing", nil)))
	require.True(t, d.Dispatch(msg.New(msg.Event, "stats.cpu", nil)))
	require.True(t, called)
}

func TestStopSuspendsThenStartRearms(t *testing.T) {
	d := New()

	var called bool
	id, _ := d.Register(Match{Type: msg.Request, Topic: "foo"}, func(*msg.Message) bool {
		called = true
		return true
	})
	d.Start(id)
	d.Stop(id)

	require.False(t, d.Dispatch(msg.New(msg.Request, "foo", nil)))
	require.False(t, called)

	d.Start(id)
	require.True(t, d.Dispatch(msg.New(msg.Request, "foo", nil)))
	require.True(t, called)
}

func TestUnconsumedFallsThroughToNextCandidate(t *testing.T) {
	d := New()

	id, _ := d.Register(Match{Type: msg.Event, Topic: "a.*"}, func(*msg.Message) bool {
		return false // declines
	})
	d.Start(id)
	var calledFallback bool
	idFallback, _ := d.Register(Match{Type: msg.Event, Topic: "*"}, func(*msg.Message) bool {
		calledFallback = true
		return true
	})
	d.Start(idFallback)

	require.True(t, d.Dispatch(msg.New(msg.Event, "a.b", nil)))
	require.True(t, calledFallback)
}

func TestRegisterRejectsInvalidMatch(t *testing.T) {
	d := New()
	_, err := d.Register(Match{Type: msg.Request, Topic: ""}, func(*msg.Message) bool { return true })
	require.ErrorIs(t, err, ErrInvalid)
	_, err = d.Register(Match{Type: msg.Request, Topic: "foo"}, nil)
	require.ErrorIs(t, err, ErrInvalid)
}
