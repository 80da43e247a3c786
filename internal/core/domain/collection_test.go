package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/lorrc/incident-sync/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(key, body string) domain.Record {
	return domain.Record{Key: key, Payload: json.RawMessage(body)}
}

func TestCollectionView_Replace(t *testing.T) {
	v := domain.NewCollectionView()
	v.Upsert(rec("old", `{"n":1}`))

	v.Replace([]domain.Record{
		rec("a", `{"n":1}`),
		rec("b", `{"n":2}`),
	})

	require.Equal(t, 2, v.Len())
	records := v.Records()
	assert.Equal(t, "a", records[0].Key)
	assert.Equal(t, "b", records[1].Key)

	_, ok := v.Get("old")
	assert.False(t, ok, "replaced contents must not survive")
}

func TestCollectionView_UpsertIsIdempotent(t *testing.T) {
	v := domain.NewCollectionView()

	inserted := v.Upsert(rec("42", `{"state":"open"}`))
	assert.True(t, inserted)

	inserted = v.Upsert(rec("42", `{"state":"closed"}`))
	assert.False(t, inserted, "second upsert of the same key replaces in place")

	require.Equal(t, 1, v.Len())
	got, ok := v.Get("42")
	require.True(t, ok)
	assert.JSONEq(t, `{"state":"closed"}`, string(got.Payload))
}

func TestCollectionView_UpsertPreservesOrder(t *testing.T) {
	v := domain.NewCollectionView()
	v.Replace([]domain.Record{rec("a", `1`), rec("b", `2`), rec("c", `3`)})

	v.Upsert(rec("b", `20`))

	records := v.Records()
	require.Len(t, records, 3)
	assert.Equal(t, "b", records[1].Key, "in-place replace keeps the row position")
}

func TestCollectionView_Remove(t *testing.T) {
	v := domain.NewCollectionView()
	v.Replace([]domain.Record{rec("a", `1`), rec("b", `2`)})

	assert.True(t, v.Remove("a"))
	assert.False(t, v.Remove("a"), "second remove reports absence")
	assert.Equal(t, 1, v.Len())

	records := v.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].Key)
}
