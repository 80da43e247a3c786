package domain

import "encoding/json"

// Record is one entity as returned by the collection fetch endpoint. The
// payload is kept opaque; how a row renders is the consuming page's concern.
type Record struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// CollectionView is the in-memory projection of one entity collection for
// one scope. It is owned by exactly one reconciler and is not safe for
// concurrent use; the owning reconciler serializes access.
type CollectionView struct {
	order   []string
	records map[string]Record
}

// NewCollectionView returns an empty view.
func NewCollectionView() *CollectionView {
	return &CollectionView{records: make(map[string]Record)}
}

// Replace discards the current contents and installs records wholesale,
// preserving their order. Duplicate keys keep the last occurrence.
func (v *CollectionView) Replace(records []Record) {
	v.order = v.order[:0]
	clear(v.records)
	for _, rec := range records {
		if _, seen := v.records[rec.Key]; !seen {
			v.order = append(v.order, rec.Key)
		}
		v.records[rec.Key] = rec
	}
}

// Upsert inserts rec if its key is new to the view, or replaces the existing
// record in place. It reports whether an insert happened.
func (v *CollectionView) Upsert(rec Record) bool {
	_, exists := v.records[rec.Key]
	if !exists {
		v.order = append(v.order, rec.Key)
	}
	v.records[rec.Key] = rec
	return !exists
}

// Remove deletes the record with the given key, reporting whether it was
// present.
func (v *CollectionView) Remove(key string) bool {
	if _, ok := v.records[key]; !ok {
		return false
	}
	delete(v.records, key)
	for i, k := range v.order {
		if k == key {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the record for key, if present.
func (v *CollectionView) Get(key string) (Record, bool) {
	rec, ok := v.records[key]
	return rec, ok
}

// Records returns the view's contents in display order.
func (v *CollectionView) Records() []Record {
	out := make([]Record, 0, len(v.order))
	for _, key := range v.order {
		out = append(out, v.records[key])
	}
	return out
}

// Len returns the number of records in the view.
func (v *CollectionView) Len() int {
	return len(v.records)
}
