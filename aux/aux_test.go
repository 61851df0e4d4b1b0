package aux_test

import (
	"testing"

	"github.com/resourcefab/msgfabric/aux"
	"github.com/stretchr/testify/require"
)

func TestSetGetDestroyOnReplace(t *testing.T) {
	var c aux.Container
	var destroyedWith any
	require.NoError(t, c.Set("k", "v1", func(v any) { destroyedWith = v }))

	got, err := c.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v1", got)

	require.NoError(t, c.Set("k", "v2", nil))
	require.Equal(t, "v1", destroyedWith)

	got, err = c.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v2", got)

	require.NoError(t, c.Set("k", nil, nil))
	_, err = c.Get("k")
	require.ErrorIs(t, err, aux.ErrNotFound)
}

func TestAnonymousEntryInvisibleToGet(t *testing.T) {
	var c aux.Container
	called := false
	require.NoError(t, c.Set("", 42, func(any) { called = true }))

	_, err := c.Get("")
	require.ErrorIs(t, err, aux.ErrNotFound)

	c.Destroy()
	require.True(t, called)
}

func TestSetInvalidCombinations(t *testing.T) {
	var c aux.Container
	require.ErrorIs(t, c.Set("", nil, nil), aux.ErrInvalid)
	require.ErrorIs(t, c.Set("k", nil, func(any) {}), aux.ErrInvalid)
	require.ErrorIs(t, c.Set("", 1, nil), aux.ErrInvalid)
}

func TestDestroyRunsAllInOrder(t *testing.T) {
	var c aux.Container
	var order []string
	require.NoError(t, c.Set("a", 1, func(any) { order = append(order, "a") }))
	require.NoError(t, c.Set("b", 2, func(any) { order = append(order, "b") }))
	require.NoError(t, c.Set("", 3, func(any) { order = append(order, "anon") }))

	c.Destroy()
	require.Equal(t, []string{"a", "b", "anon"}, order)

	_, err := c.Get("a")
	require.ErrorIs(t, err, aux.ErrNotFound)
}
