package future

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitForFulfilled(t *testing.T) {
	f := New(nil)
	go func() {
		time.Sleep(time.Millisecond)
		f.Fulfill(42)
	}()
	err := f.WaitFor(time.Second)
	require.NoError(t, err)
	v, err := f.Get()
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestWaitForAlreadyReady(t *testing.T) {
	f := New(nil)
	f.Fulfill("done")
	require.NoError(t, f.WaitFor(time.Second))
}

func TestWaitForTimesOut(t *testing.T) {
	f := New(nil)
	err := f.WaitFor(5 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimedOut)
}

func TestFatalSupersedesResult(t *testing.T) {
	f := New(nil)
	wantErr := errors.New("boom")
	f.FatalError(wantErr)
	f.Fulfill("ignored")

	_, err := f.Get()
	require.ErrorIs(t, err, wantErr)
}

func TestMultiFulfillmentQueueAndReset(t *testing.T) {
	f := New(nil)
	f.Fulfill(1)
	f.Fulfill(2)
	f.Fulfill(3)

	v, err := f.Get()
	require.NoError(t, err)
	require.Equal(t, 1, v)

	f.Reset()
	v, err = f.Get()
	require.NoError(t, err)
	require.Equal(t, 2, v)

	f.Reset()
	v, err = f.Get()
	require.NoError(t, err)
	require.Equal(t, 3, v)

	f.Reset()
	_, err = f.Get()
	require.ErrorIs(t, err, ErrAgain)
}

func TestFulfillWithAdoptsSameFutureOnly(t *testing.T) {
	src := New(nil)
	src.Fulfill("value")

	dst := New(nil)
	require.NoError(t, dst.FulfillWith(src))
	v, err := dst.Get()
	require.NoError(t, err)
	require.Equal(t, "value", v)

	other := New(nil)
	other.Fulfill("other")
	require.ErrorIs(t, dst.FulfillWith(other), ErrExist)

	require.NoError(t, dst.FulfillWith(src))
}

func TestFulfillWithNotReadyReturnsAgain(t *testing.T) {
	src := New(nil)
	dst := New(nil)
	require.ErrorIs(t, dst.FulfillWith(src), ErrAgain)
}

func TestAndThenChain(t *testing.T) {
	incr := func(f *Future) *Future {
		return f.AndThen(func(f, f2 *Future) {
			v, _ := f.Get()
			f2.Fulfill(v.(int) + 1)
		})
	}

	base := New(nil)
	f3 := incr(incr(incr(base)))

	base.Fulfill(0)

	v, err := f3.Get()
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestOrThenSkipsOnSuccess(t *testing.T) {
	base := New(nil)
	called := false
	chained := base.OrThen(func(f, f2 *Future) {
		called = true
		f2.FulfillError(errors.New("should not run"))
	})

	base.Fulfill("ok")

	require.False(t, called)
	v, err := chained.Get()
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestOrThenFiresOnFailure(t *testing.T) {
	base := New(nil)
	chained := base.OrThen(func(f, f2 *Future) {
		f2.Fulfill("recovered")
	})

	base.FulfillError(errors.New("EPROTO"))

	v, err := chained.Get()
	require.NoError(t, err)
	require.Equal(t, "recovered", v)
}
