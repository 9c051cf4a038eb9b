package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainVerifies(t *testing.T) {
	log := NewLog("run-1", true)
	log.Append(KindRunStart, map[string]any{"cell": "main"})
	log.Append(KindCellEnter, map[string]any{"cell": "main"})
	log.Append(KindCellExit, map[string]any{"cell": "main"})
	log.Append(KindRunEnd, nil)

	require.NoError(t, Verify("run-1", log.Events()))
}

func TestTamperedEventInvalidatesChain(t *testing.T) {
	log := NewLog("run-1", true)
	log.Append(KindRunStart, map[string]any{"cell": "main"})
	log.Append(KindEmit, map[string]any{"value": "a"})
	log.Append(KindRunEnd, nil)

	events := append([]Event(nil), log.Events()...)
	events[1].Fields = map[string]any{"value": "b"}
	assert.Error(t, Verify("run-1", events))
}

func TestPrevHashLinksEvents(t *testing.T) {
	log := NewLog("run-1", true)
	a := log.Append(KindRunStart, nil)
	b := log.Append(KindRunEnd, nil)
	assert.Equal(t, a.Hash, b.PrevHash)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestDeterministicLogsUseLogicalClock(t *testing.T) {
	log := NewLog("run-1", true)
	log.Append(KindRunStart, nil)
	log.Append(KindRunEnd, nil)
	events := log.Events()
	assert.Equal(t, int64(0), events[0].Timestamp)
	assert.Equal(t, int64(1), events[1].Timestamp)
}

func TestCanonicalSortsKeys(t *testing.T) {
	got := Canonical(map[string]any{"b": 2, "a": 1})
	assert.Equal(t, `{"a":1,"b":2}`, got)
}

func TestCanonicalStableNumbers(t *testing.T) {
	assert.Equal(t, "3", Canonical(float64(3)))
	assert.Equal(t, "3.5", Canonical(3.5))
	assert.Equal(t, "7", Canonical(int64(7)))
}

func TestDifferentRunIDsDiverge(t *testing.T) {
	a := NewLog("run-a", true)
	b := NewLog("run-b", true)
	ea := a.Append(KindRunStart, nil)
	eb := b.Append(KindRunStart, nil)
	assert.NotEqual(t, ea.Hash, eb.Hash)
}
