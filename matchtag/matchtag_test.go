package matchtag_test

import (
	"testing"

	"github.com/resourcefab/msgfabric/matchtag"
	"github.com/stretchr/testify/require"
)

func TestAllocUnique(t *testing.T) {
	p := matchtag.New(false)
	seen := make(map[uint32]bool)
	for i := 0; i < 1000; i++ {
		id := p.Alloc()
		require.False(t, seen[id], "duplicate matchtag %d", id)
		require.NotEqual(t, matchtag.None, id)
		seen[id] = true
	}
}

func TestAllocFreeRoundTrip(t *testing.T) {
	p := matchtag.New(false)
	before := p.Avail()
	id := p.Alloc()
	require.NoError(t, p.Free(id))
	require.Equal(t, before, p.Avail())
}

func TestDebugDoubleFreeDetected(t *testing.T) {
	p := matchtag.New(true)
	id := p.Alloc()
	require.NoError(t, p.Free(id))
	err := p.Free(id)
	require.Error(t, err)
	var dfe *matchtag.DoubleFreeError
	require.ErrorAs(t, err, &dfe)
}

func TestDebugSentinelFreeDetected(t *testing.T) {
	p := matchtag.New(true)
	require.Error(t, p.Free(matchtag.None))
}

func TestNonDebugFreeIsLenient(t *testing.T) {
	p := matchtag.New(false)
	require.NoError(t, p.Free(matchtag.None))
	require.NoError(t, p.Free(12345))
}
