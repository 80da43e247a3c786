package marker_test

import (
	"testing"

	"github.com/lorrc/incident-sync/internal/adapters/secondary/marker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_ReadMissingMarker(t *testing.T) {
	store, err := marker.NewFileStore(t.TempDir())
	require.NoError(t, err)

	id, err := store.Read()
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestFileStore_WriteThenRead(t *testing.T) {
	store, err := marker.NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("1042"))

	id, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, "1042", id)
}

func TestFileStore_MarkerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := marker.NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Write("77"))

	// A fresh store on the same profile dir models a page reload.
	reopened, err := marker.NewFileStore(dir)
	require.NoError(t, err)

	id, err := reopened.Read()
	require.NoError(t, err)
	assert.Equal(t, "77", id)
}

func TestFileStore_OverwriteReplacesValue(t *testing.T) {
	store, err := marker.NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("1"))
	require.NoError(t, store.Write("2"))

	id, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, "2", id)
}
