package effect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindSearchesTopDown(t *testing.T) {
	var s Stack
	s.Push(Handler{CellIndex: 1, Effect: "Console", Op: "log"})
	s.Push(Handler{CellIndex: 2, Effect: "Console", Op: "log"})

	h, _, ok := s.Find("Console", "log")
	require.True(t, ok)
	assert.Equal(t, 2, h.CellIndex, "the most recently installed handler wins")
}

func TestFindMissReportsNotFound(t *testing.T) {
	var s Stack
	s.Push(Handler{CellIndex: 1, Effect: "Console", Op: "log"})
	_, _, ok := s.Find("Console", "read")
	assert.False(t, ok)
}

func TestPopRemovesTopHandler(t *testing.T) {
	var s Stack
	s.Push(Handler{CellIndex: 1, Effect: "A", Op: "x"})
	s.Push(Handler{CellIndex: 2, Effect: "B", Op: "y"})
	popped := s.Pop()
	assert.Equal(t, "B", popped.Effect)
	assert.Equal(t, 1, s.Depth())
}

func TestContinuationIsOneShot(t *testing.T) {
	k := NewContinuation("snapshot")

	snap, err := k.Take()
	require.NoError(t, err)
	assert.Equal(t, "snapshot", snap)

	_, err = k.Take()
	assert.ErrorIs(t, err, ErrConsumed)
	assert.True(t, k.Consumed())
}
