package scratchpad

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLifecycle(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, "session-1")
	require.NoError(t, err)

	assert.Equal(t, "(scratchpad is empty)", store.Read())

	require.NoError(t, store.Append("the token is hidden in the audio\n"))
	require.NoError(t, store.Append("endpoint: /answer\n"))
	assert.Equal(t, "the token is hidden in the audio\nendpoint: /answer\n", store.Read())

	require.NoError(t, store.Clear())
	assert.Equal(t, "(scratchpad is empty)", store.Read())

	require.NoError(t, store.Remove())
	_, err = os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestNewTruncatesExistingFile(t *testing.T) {
	dir := t.TempDir()
	first, err := New(dir, "session-2")
	require.NoError(t, err)
	require.NoError(t, first.Append("leftover"))

	second, err := New(dir, "session-2")
	require.NoError(t, err)
	assert.Equal(t, "(scratchpad is empty)", second.Read())
}

func TestReadNeverErrors(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, "session-3")
	require.NoError(t, err)
	require.NoError(t, store.Remove())

	got := store.Read()
	assert.Contains(t, got, "scratchpad unavailable")
}

func TestRemoveIsIdempotent(t *testing.T) {
	store, err := New(t.TempDir(), "session-4")
	require.NoError(t, err)
	require.NoError(t, store.Remove())
	require.NoError(t, store.Remove())
}
