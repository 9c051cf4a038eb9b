package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lang/lumen/pkg/value"
)

func constTask(v value.Value) Task {
	return func() (value.Value, error) { return v, nil }
}

func TestEagerSpawnRunsImmediately(t *testing.T) {
	s := New(Eager)
	ran := false
	f := s.Spawn(func() (value.Value, error) {
		ran = true
		return value.Int(1), nil
	})
	assert.True(t, ran, "eager spawn must run before returning")
	assert.True(t, f.AsFuture().Done)
}

func TestDeferredSpawnRunsInFIFOOrder(t *testing.T) {
	s := New(DeferredFifo)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		s.Spawn(func() (value.Value, error) {
			order = append(order, i)
			return value.Int(int64(i)), nil
		})
	}
	assert.Empty(t, order, "deferred spawn must not run before a cooperative point")
	s.Drain()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestAwaitResolvesNestedCollections(t *testing.T) {
	s := New(DeferredFifo)
	f := s.Spawn(constTask(value.Int(7)))
	list := value.List([]value.Value{f, value.Int(1)})

	resolved, err := s.Await(list)
	require.NoError(t, err)
	elems := resolved.AsList()
	assert.Equal(t, int64(7), elems[0].AsInt())
	assert.Equal(t, int64(1), elems[1].AsInt())
}

func TestAwaitPropagatesFailure(t *testing.T) {
	s := New(DeferredFifo)
	f := s.Spawn(func() (value.Value, error) {
		return value.Null, errors.New("boom")
	})
	_, err := s.Await(f)
	assert.Error(t, err)
}

func TestParallelPreservesArgumentOrder(t *testing.T) {
	s := New(DeferredFifo)
	futs := []value.Value{
		s.Spawn(constTask(value.String("a"))),
		s.Spawn(constTask(value.String("b"))),
		s.Spawn(constTask(value.String("c"))),
	}
	res, err := s.Parallel(futs)
	require.NoError(t, err)
	elems := res.AsList()
	assert.Equal(t, "a", elems[0].AsString())
	assert.Equal(t, "b", elems[1].AsString())
	assert.Equal(t, "c", elems[2].AsString())
}

func TestRaceIsDeterministicByScheduleOrder(t *testing.T) {
	s := New(DeferredFifo)
	futs := []value.Value{
		s.Spawn(constTask(value.String("first"))),
		s.Spawn(constTask(value.String("second"))),
	}
	res, err := s.Race(futs)
	require.NoError(t, err)
	assert.Equal(t, "first", res.AsString(), "the first spawned future completes first under FIFO")
}

func TestVoteReturnsThresholdWinner(t *testing.T) {
	s := New(DeferredFifo)
	futs := []value.Value{
		s.Spawn(constTask(value.String("x"))),
		s.Spawn(constTask(value.String("y"))),
		s.Spawn(constTask(value.String("x"))),
	}
	res, err := s.Vote(2, futs)
	require.NoError(t, err)
	assert.Equal(t, "x", res.AsString())
}

func TestVoteFailsBelowThreshold(t *testing.T) {
	s := New(DeferredFifo)
	futs := []value.Value{
		s.Spawn(constTask(value.String("x"))),
		s.Spawn(constTask(value.String("y"))),
	}
	_, err := s.Vote(2, futs)
	assert.Error(t, err)
}

func TestSelectPicksFirstSatisfying(t *testing.T) {
	s := New(DeferredFifo)
	futs := []value.Value{
		s.Spawn(constTask(value.Int(1))),
		s.Spawn(constTask(value.Int(10))),
		s.Spawn(constTask(value.Int(20))),
	}
	res, err := s.Select(func(v value.Value) (bool, error) {
		return v.AsInt() >= 10, nil
	}, futs)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.AsInt())
}

func TestTimeoutOnCompletedFutureReturnsValue(t *testing.T) {
	s := New(DeferredFifo)
	f := s.Spawn(constTask(value.Int(5)))
	res, err := s.Timeout(100, f)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.AsInt())
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, DeferredFifo, ParsePolicy("deferred_fifo"))
	assert.Equal(t, Eager, ParsePolicy("eager"))
	assert.Equal(t, Eager, ParsePolicy(""))
}
