package socketwatcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/resourcefab/msgfabric/reactor"
)

// fakeSampler reports a fixed bitmask and an invalid fd; since the bitmask
// is always asserted, onPrepare takes the idle-watcher path and never
// touches the (unregistrable) fd, matching the "no data available yet"
// case being the only one that needs a live pollable descriptor.
type fakeSampler struct {
	mask Events
}

func (s *fakeSampler) PollFD() int  { return -1 }
func (s *fakeSampler) Sample() Events { return s.mask }

func TestFiresWhenInterestBitAsserted(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)

	s := &fakeSampler{mask: In}
	fired := Events(0)
	w := New(r, s, In, func(ev Events) { fired = ev })

	w.Start()
	r.Run(reactor.NoWait)
	w.Stop()

	require.Equal(t, In, fired)
}

func TestDoesNotFireWhenInterestBitNotAsserted(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)

	s := &fakeSampler{mask: Out}
	called := false
	w := New(r, s, In, func(Events) { called = true })

	w.Start()
	r.Run(reactor.NoWait)
	w.Stop()

	require.False(t, called)
}

func TestHasAndAny(t *testing.T) {
	e := In | Err
	require.True(t, e.Has(In))
	require.True(t, e.Any(Out|Err))
	require.False(t, e.Has(Out))
	require.False(t, e.Any(Out))
}

func TestDestroyStopsAllInnerWatchers(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)

	s := &fakeSampler{mask: Out}
	w := New(r, s, In, func(Events) {})
	w.Start()
	w.Destroy()

	// Run should quiesce immediately: nothing left active.
	require.Equal(t, 0, r.Run(reactor.Default))
}
