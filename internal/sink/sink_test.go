package sink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	samples := []int64{100, 200, 300}
	require.NoError(t, s.Write(3, 400, samples))

	data, err := os.ReadFile(filepath.Join(dir, "stage-0003-rate-400.json"))
	require.NoError(t, err)

	var got []int64
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, samples, got)
}

func TestWriteEmptySamplesProducesEmptyArray(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Write(0, 100, nil))

	data, err := os.ReadFile(filepath.Join(dir, "stage-0000-rate-100.json"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestWriteLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Write(1, 200, []int64{1}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stage-0001-rate-200.json", entries[0].Name())
}

func TestNewRejectsMissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.ErrorIs(t, err, ErrSinkFailure)
}

func TestNewRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := New(file)
	assert.ErrorIs(t, err, ErrSinkFailure)
}
