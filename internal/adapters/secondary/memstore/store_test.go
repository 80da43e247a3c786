package memstore_test

import (
	"encoding/json"
	"testing"

	"github.com/lorrc/incident-sync/internal/adapters/secondary/memstore"
	"github.com/lorrc/incident-sync/internal/core/domain"
	apperrors "github.com/lorrc/incident-sync/internal/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_EventIDsAreMonotonic(t *testing.T) {
	store := memstore.New()
	assert.Equal(t, "0", store.LastEventID(), "an untouched store still reports a position")

	id1, err := store.Put(domain.EntityIncident, "2025", "1", json.RawMessage(`{}`), false)
	require.NoError(t, err)
	id2, err := store.Put(domain.EntityFieldReport, "2025", "1", json.RawMessage(`{}`), false)
	require.NoError(t, err)

	assert.Equal(t, "1", id1)
	assert.Equal(t, "2", id2, "the counter is shared across entity types")
	assert.Equal(t, "2", store.LastEventID())
}

func TestStore_ListScopesAndVisibility(t *testing.T) {
	store := memstore.New()
	_, err := store.Put(domain.EntityIncident, "2025", "a", json.RawMessage(`{"n":1}`), false)
	require.NoError(t, err)
	_, err = store.Put(domain.EntityIncident, "2025", "b", json.RawMessage(`{"n":2}`), true)
	require.NoError(t, err)
	_, err = store.Put(domain.EntityIncident, "2024", "a", json.RawMessage(`{"n":3}`), false)
	require.NoError(t, err)

	records, err := store.List(domain.EntityIncident, "2025")
	require.NoError(t, err)
	require.Len(t, records, 1, "restricted entities are hidden from lists")
	assert.Equal(t, "a", records[0].Key)

	records, err = store.List(domain.EntityIncident, "2024")
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestStore_Get(t *testing.T) {
	store := memstore.New()
	_, err := store.Put(domain.EntityIncident, "2025", "a", json.RawMessage(`{"n":1}`), false)
	require.NoError(t, err)
	_, err = store.Put(domain.EntityIncident, "2025", "b", json.RawMessage(`{"n":2}`), true)
	require.NoError(t, err)

	t.Run("visible entity", func(t *testing.T) {
		rec, err := store.Get(domain.EntityIncident, "2025", "a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":1}`, string(rec.Payload))
	})

	t.Run("restricted entity is forbidden", func(t *testing.T) {
		_, err := store.Get(domain.EntityIncident, "2025", "b")
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("absent entity", func(t *testing.T) {
		_, err := store.Get(domain.EntityIncident, "2025", "zz")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestStore_PutReplacesInPlace(t *testing.T) {
	store := memstore.New()
	_, err := store.Put(domain.EntityIncident, "2025", "a", json.RawMessage(`{"rev":1}`), false)
	require.NoError(t, err)
	_, err = store.Put(domain.EntityIncident, "2025", "b", json.RawMessage(`{"rev":1}`), false)
	require.NoError(t, err)
	_, err = store.Put(domain.EntityIncident, "2025", "a", json.RawMessage(`{"rev":2}`), false)
	require.NoError(t, err)

	records, err := store.List(domain.EntityIncident, "2025")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Key, "replacement keeps the original position")
	assert.JSONEq(t, `{"rev":2}`, string(records[0].Payload))
}

func TestStore_Validation(t *testing.T) {
	store := memstore.New()

	_, err := store.Put("widget", "2025", "a", nil, false)
	assert.ErrorIs(t, err, apperrors.ErrUnknownEntityType)

	_, err = store.Put(domain.EntityIncident, "", "a", nil, false)
	assert.ErrorIs(t, err, apperrors.ErrScopeRequired)

	_, err = store.Put(domain.EntityIncident, "2025", "", nil, false)
	assert.ErrorIs(t, err, apperrors.ErrEntityKeyRequired)

	_, err = store.List(domain.EntityIncident, "")
	assert.ErrorIs(t, err, apperrors.ErrScopeRequired)
}
