package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsEmptySnapshot(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "checkpoint.json"))
	assert.False(t, m.Exists())

	snap, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), snap.AppliedIndex)
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "checkpoint.json"))
	want := Snapshot{AppliedIndex: 42, State: []byte(`{"count":7}`)}
	require.NoError(t, m.Write(want))
	assert.True(t, m.Exists())

	got, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, want.AppliedIndex, got.AppliedIndex)
	assert.Equal(t, want.State, got.State)
}

func TestWriteOverwritesPreviousCheckpoint(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "checkpoint.json"))
	require.NoError(t, m.Write(Snapshot{AppliedIndex: 1, State: []byte("a")}))
	require.NoError(t, m.Write(Snapshot{AppliedIndex: 2, State: []byte("b")}))

	got, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.AppliedIndex)
	assert.Equal(t, []byte("b"), got.State)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	m := NewManager(path)
	_, err := m.Load()
	require.ErrorIs(t, err, ErrCorrupted)
}
