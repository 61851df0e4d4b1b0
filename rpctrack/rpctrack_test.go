package rpctrack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/resourcefab/msgfabric/msg"
)

func newTrackedRequest(uuid string, tag uint32) *msg.Message {
	m := msg.New(msg.Request, "foo", nil)
	m.SetRoute(msg.Route{Hops: []string{uuid}, Enabled: true})
	m.SetMatchtag(tag)
	return m
}

func TestInsertAndRemoveByResponse(t *testing.T) {
	tr := New()

	req1 := newTrackedRequest("uuid-1", 1)
	req2 := newTrackedRequest("uuid-2", 2)

	require.True(t, tr.Insert(req1))
	require.True(t, tr.Insert(req2))
	require.Equal(t, 2, tr.Count())

	rep1 := msg.NewResponse(req1, nil)
	removed := tr.Remove(rep1, true)
	require.NotNil(t, removed)
	require.Equal(t, 1, tr.Count())

	rep2 := msg.NewResponse(req2, nil)
	require.NotNil(t, tr.Remove(rep2, true))
	require.Equal(t, 0, tr.Count())
}

func TestInsertSkipsNoResponseAndUntagged(t *testing.T) {
	tr := New()

	untagged := msg.New(msg.Request, "foo", nil)
	untagged.SetRoute(msg.Route{Hops: []string{"uuid-1"}, Enabled: true})
	require.False(t, tr.Insert(untagged))

	noResp := newTrackedRequest("uuid-1", 5)
	noResp.SetFlags(msg.NoResponse)
	require.False(t, tr.Insert(noResp))

	require.Equal(t, 0, tr.Count())
}

func TestStreamingResponseOnlyRemovedWhenTerminal(t *testing.T) {
	tr := New()
	req := newTrackedRequest("uuid-1", 1)
	require.True(t, tr.Insert(req))

	resp := msg.NewResponse(req, nil)
	resp.SetFlags(msg.Streaming)

	require.Nil(t, tr.Remove(resp, false))
	require.Equal(t, 1, tr.Count())

	require.NotNil(t, tr.Remove(resp, true))
	require.Equal(t, 0, tr.Count())
}

func TestPurgeUUIDRemovesOnlyMatchingHops(t *testing.T) {
	tr := New()
	a1 := newTrackedRequest("uuid-A", 1)
	a2 := newTrackedRequest("uuid-A", 2)
	b1 := newTrackedRequest("uuid-B", 1)
	tr.Insert(a1)
	tr.Insert(a2)
	tr.Insert(b1)

	var purged []*msg.Message
	n := tr.PurgeUUID("uuid-A", func(req *msg.Message) {
		purged = append(purged, req)
	})

	require.Equal(t, 2, n)
	require.Len(t, purged, 2)
	require.Equal(t, 1, tr.Count())
}

func TestPurgeEmptiesHash(t *testing.T) {
	tr := New()
	tr.Insert(newTrackedRequest("uuid-1", 1))
	tr.Insert(newTrackedRequest("uuid-2", 2))

	count := 0
	tr.Purge(func(*msg.Message) { count++ })

	require.Equal(t, 2, count)
	require.Equal(t, 0, tr.Count())
}

func TestFingerprintMatchesBernsteinOverUUIDThenMatchtagBytes(t *testing.T) {
	var want uint64
	for _, c := range []byte("abc") {
		want = 33*want ^ uint64(c)
	}
	for _, c := range []byte{1, 0, 0, 0} { // matchtag=1, little-endian
		want = 33*want ^ uint64(c)
	}
	require.Equal(t, want, Fingerprint("abc", 1))
}

func TestFingerprintDependsOnBothUUIDAndMatchtag(t *testing.T) {
	require.NotEqual(t, Fingerprint("uuid-1", 1), Fingerprint("uuid-1", 2))
	require.NotEqual(t, Fingerprint("uuid-1", 1), Fingerprint("uuid-2", 1))
}
