package handle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/resourcefab/msgfabric/connector"
	"github.com/resourcefab/msgfabric/dispatch"
	"github.com/resourcefab/msgfabric/msg"
)

func newLoopPair(t *testing.T, flags Flag) (*Handle, *Handle) {
	t.Helper()
	a, b := connector.NewLoopPair()
	ha, err := Wrap(a, flags)
	require.NoError(t, err)
	hb, err := Wrap(b, flags)
	require.NoError(t, err)
	return ha, hb
}

func TestSendRecvRoundTrip(t *testing.T) {
	ha, hb := newLoopPair(t, 0)

	m := msg.New(msg.Event, "stats.cpu", []byte("payload"))
	require.NoError(t, ha.Send(m))

	got, err := hb.Recv(dispatch.Match{Type: msg.Event, Topic: "stats.*"}, false)
	require.NoError(t, err)
	require.Equal(t, "stats.cpu", got.Topic())
	require.Equal(t, int64(1), hb.Counters.RxEvent.Load())
	require.Equal(t, int64(1), ha.Counters.TxEvent.Load())
}

func TestRecvParksNonMatchingThenReturnsOnRequeueScan(t *testing.T) {
	ha, hb := newLoopPair(t, 0)

	require.NoError(t, ha.Send(msg.New(msg.Event, "stats.cpu", nil)))
	require.NoError(t, ha.Send(msg.New(msg.Event, "logs.app", nil)))

	got, err := hb.Recv(dispatch.Match{Type: msg.Event, Topic: "logs.*"}, false)
	require.NoError(t, err)
	require.Equal(t, "logs.app", got.Topic())

	// The parked stats.cpu message should still be recoverable.
	got2, err := hb.Recv(dispatch.Match{Type: msg.Event, Topic: "stats.*"}, false)
	require.NoError(t, err)
	require.Equal(t, "stats.cpu", got2.Topic())
}

func TestRecvNoRequeueFlagRejectsNonMatch(t *testing.T) {
	ha, hb := newLoopPair(t, NoRequeue)

	require.NoError(t, ha.Send(msg.New(msg.Event, "other.topic", nil)))
	_, err := hb.Recv(dispatch.Match{Type: msg.Event, Topic: "stats.*"}, false)
	require.ErrorIs(t, err, ErrNoRequeue)
}

func TestSendNewNilsCallerPointerOnSuccess(t *testing.T) {
	ha, hb := newLoopPair(t, 0)

	m := msg.New(msg.Event, "x.y", nil)
	require.NoError(t, ha.SendNew(&m))
	require.Nil(t, m)

	_, err := hb.Recv(dispatch.Match{Type: msg.Event, Topic: "x.*"}, false)
	require.NoError(t, err)
}

func TestRPCTrackFastPathMatchesResponseByMatchtagRegardlessOfTopic(t *testing.T) {
	ha, hb := newLoopPair(t, RPCTrack)

	req := msg.New(msg.Request, "svc.do", nil)
	req.SetMatchtag(ha.MatchtagAlloc())
	req.SetRoute(msg.Route{Hops: []string{"peer-uuid"}, Enabled: true})
	require.NoError(t, ha.Send(req))

	_, err := hb.Recv(dispatch.Match{Type: msg.Request, Topic: "svc.*"}, false)
	require.NoError(t, err)

	resp := msg.NewResponse(req, []byte("ok"))
	require.NoError(t, hb.Send(resp))

	got, err := ha.Recv(dispatch.Match{Type: msg.Response, Topic: "nonsense.topic.that.would.never.match"}, false)
	require.NoError(t, err)
	require.Equal(t, "svc.do", got.Topic())
	require.Equal(t, 0, ha.tracker.Count())
}

func TestOpenRejectsIllegalFlags(t *testing.T) {
	_, err := Open("loop://", Flag(1<<30), nil)
	require.ErrorIs(t, err, ErrIllegalFlag)
}

func TestOpenLoopScheme(t *testing.T) {
	h, err := Open("loop://", 0, nil)
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestCloneSharesMatchtagPoolButNotDispatch(t *testing.T) {
	h, err := Open("loop://", 0, nil)
	require.NoError(t, err)

	c, err := h.Clone()
	require.NoError(t, err)
	require.Same(t, h.matchtags, c.matchtags)
	require.NotSame(t, h.Dispatch, c.Dispatch)
}

func TestFlagsSetUnsetRejectsCreationTimeOnlyFlags(t *testing.T) {
	h, err := Open("loop://", 0, nil)
	require.NoError(t, err)

	require.ErrorIs(t, h.FlagsSet(RPCTrack), ErrRPCTrackOnly)
	require.NoError(t, h.FlagsSet(Trace))
	require.Equal(t, Trace, h.FlagsGet())
	require.NoError(t, h.FlagsUnset(Trace))
	require.Equal(t, Flag(0), h.FlagsGet())
}

func TestAuxSetGetDestroy(t *testing.T) {
	h, err := Open("loop://", 0, nil)
	require.NoError(t, err)

	destroyed := false
	require.NoError(t, h.AuxSet("k", 42, func(any) { destroyed = true }))
	v, err := h.AuxGet("k")
	require.NoError(t, err)
	require.Equal(t, 42, v)

	h.AuxDestroy()
	require.True(t, destroyed)
	_, err = h.AuxGet("k")
	require.Error(t, err)
}
