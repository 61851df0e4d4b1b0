package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunQuiescesWhenNoActiveWatchers(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	require.Equal(t, 0, r.Run(Default))
}

func TestTimerFiresAndStops(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	n := 0
	tw := r.NewTimer(time.Millisecond, 0, func() { n++ })
	tw.Start()

	r.Run(Default)
	require.Equal(t, 1, n)
	require.False(t, tw.IsActive())
}

func TestTimerRepeats(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	n := 0
	var tw *TimerWatcher
	tw = r.NewTimer(time.Millisecond, time.Millisecond, func() {
		n++
		if n == 3 {
			tw.Stop()
		}
	})
	tw.Start()

	r.Run(Default)
	require.Equal(t, 3, n)
}

func TestPrepareCheckIdleOrdering(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	var order []string
	var tw *TimerWatcher
	var check Watcher

	prep := r.NewPrepare(func() { order = append(order, "prepare") })
	idle := r.NewIdle(func() { order = append(order, "idle") })
	check = r.NewCheck(func() {
		order = append(order, "check")
		prep.Stop()
		idle.Stop()
		check.Stop()
	})
	tw = r.NewTimer(time.Millisecond, 0, func() { order = append(order, "timer") })

	prep.Start()
	idle.Start()
	check.Start()
	tw.Start()

	r.Run(Default)

	require.Equal(t, "prepare", order[0])
	require.Contains(t, order, "timer")
	require.Contains(t, order, "idle")
	require.Contains(t, order, "check")
}

func TestUnrefDoesNotBlockRun(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	tw := r.NewTimer(time.Hour, 0, func() {})
	tw.Start()
	tw.Unref()

	require.Equal(t, 0, r.Run(Default))
}

func TestStopErrorReturnsNegativeOne(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	idle := r.NewIdle(func() { r.StopError() })
	idle.Start()

	require.Equal(t, -1, r.Run(Default))
	require.True(t, r.ErrFlag())
}

func TestPeriodicPastDueSafelyStops(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	fired := 0
	pw := r.NewPeriodic(time.Now().Add(-time.Hour), 0, nil, func() { fired++ })
	pw.Start()

	r.Run(Default)
	require.Equal(t, 0, fired)
	require.False(t, pw.IsActive())
}
