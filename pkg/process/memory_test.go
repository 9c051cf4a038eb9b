package process

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lang/lumen/pkg/value"
)

func TestMemoryAppendRecent(t *testing.T) {
	m := NewMemory()
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, m.Append(value.String(s)))
	}
	recent := m.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].AsString())
	assert.Equal(t, "c", recent[1].AsString())

	assert.Len(t, m.Recent(10), 3)
	assert.Nil(t, m.Recent(0))
}

func TestMemoryRememberRecall(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Remember("k", value.Int(1)))
	assert.Equal(t, int64(1), m.Recall("k").AsInt())
	assert.True(t, m.Recall("missing").IsNull())

	require.NoError(t, m.Upsert("k", value.Int(2)))
	assert.Equal(t, int64(2), m.Get("k").AsInt())
}

func TestMemoryInstancesAreIsolated(t *testing.T) {
	a := NewMemory()
	b := NewMemory()
	require.NoError(t, a.Append(value.String("x")))
	assert.Empty(t, b.Recent(10))
	require.NoError(t, a.Remember("k", value.Int(1)))
	assert.True(t, b.Recall("k").IsNull())
}

func TestMemoryQuery(t *testing.T) {
	m := NewMemory()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(value.Int(int64(i))))
	}
	out, err := m.Query(func(v value.Value) (bool, error) {
		return v.AsInt()%2 == 0, nil
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(4), out[2].AsInt())
}

func TestMemoryStoreSnapshot(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Append(value.String("ev")))
	require.NoError(t, m.Remember("k", value.Int(9)))

	snap := m.Store()
	events, ok := snap.MapGet("events")
	require.True(t, ok)
	assert.Len(t, events.AsList(), 1)
	k, ok := snap.MapGet("k")
	require.True(t, ok)
	assert.Equal(t, int64(9), k.AsInt())
}

// toyEmbedding is a deterministic local embedding so vector-memory
// tests run without any network credential: each of the three
// dimensions counts a letter bucket.
func toyEmbedding(_ context.Context, text string) ([]float32, error) {
	var v [3]float32
	for _, r := range text {
		v[int(r)%3]++
	}
	// normalize so cosine similarity behaves
	var norm float32
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		norm = 1
	}
	for i := range v {
		v[i] /= norm
	}
	return v[:], nil
}

func TestVectorMemorySearch(t *testing.T) {
	m, err := NewVectorMemory("buf", toyEmbedding)
	require.NoError(t, err)

	require.NoError(t, m.Append(value.String("aaa")))
	require.NoError(t, m.Append(value.String("bbb")))

	out, err := m.Search("aaa", 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "aaa", out[0].AsString())
}

func TestVectorSearchOnPlainMemoryFails(t *testing.T) {
	m := NewMemory()
	_, err := m.Search("q", 1)
	assert.Error(t, err)
}
