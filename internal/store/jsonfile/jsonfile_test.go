package jsonfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func TestWriteAtomicThenReadInto(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.json")

	require.NoError(t, WriteAtomic(path, sample{Name: "a", N: 1}))
	assert.True(t, Exists(path))

	var got sample
	require.NoError(t, ReadInto(path, &got))
	assert.Equal(t, sample{Name: "a", N: 1}, got)
}

func TestWriteAtomicOverwritesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")
	require.NoError(t, WriteAtomic(path, sample{Name: "a", N: 1}))
	require.NoError(t, WriteAtomic(path, sample{Name: "b", N: 2}))

	var got sample
	require.NoError(t, ReadInto(path, &got))
	assert.Equal(t, sample{Name: "b", N: 2}, got)
}

func TestAppendLogTailReturnsLastNLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := NewAppendLog(path)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(sample{Name: "evt", N: i}))
	}

	lines, err := Tail(path, 2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, float64(3), lines[0]["n"])
	assert.Equal(t, float64(4), lines[1]["n"])
}
