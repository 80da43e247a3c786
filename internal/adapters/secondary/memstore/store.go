package memstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/lorrc/incident-sync/internal/core/domain"
	apperrors "github.com/lorrc/incident-sync/internal/core/errors"
)

type entry struct {
	record     domain.Record
	restricted bool
}

// Store is the stream simulator's in-memory entity store. Every mutation
// gets the next event id from a single counter shared by all entity types,
// matching the server's single ordered change stream.
type Store struct {
	mu          sync.RWMutex
	entities    map[string]*entry
	order       []string
	lastEventID uint64
}

func New() *Store {
	return &Store{entities: make(map[string]*entry)}
}

func storeKey(entityType domain.EntityType, scope, key string) string {
	return fmt.Sprintf("%s/%s/%s", entityType, scope, key)
}

// List returns the visible entities of one scope in insertion order.
// Restricted entities are omitted rather than erred on; a collection fetch
// shows the caller what they may see.
func (s *Store) List(entityType domain.EntityType, scope string) ([]domain.Record, error) {
	if !entityType.Valid() {
		return nil, apperrors.ErrUnknownEntityType
	}
	if scope == "" {
		return nil, apperrors.ErrScopeRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.Record, 0)
	prefix := fmt.Sprintf("%s/%s/", entityType, scope)
	for _, k := range s.order {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		e := s.entities[k]
		if e.restricted {
			continue
		}
		records = append(records, e.record)
	}
	return records, nil
}

func (s *Store) Get(entityType domain.EntityType, scope, key string) (domain.Record, error) {
	if !entityType.Valid() {
		return domain.Record{}, apperrors.ErrUnknownEntityType
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[storeKey(entityType, scope, key)]
	if !ok {
		return domain.Record{}, apperrors.ErrNotFound
	}
	if e.restricted {
		return domain.Record{}, apperrors.ErrForbidden
	}
	return e.record, nil
}

func (s *Store) Put(entityType domain.EntityType, scope, key string, payload json.RawMessage, restricted bool) (string, error) {
	if !entityType.Valid() {
		return "", apperrors.ErrUnknownEntityType
	}
	if scope == "" {
		return "", apperrors.ErrScopeRequired
	}
	if key == "" {
		return "", apperrors.ErrEntityKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sk := storeKey(entityType, scope, key)
	if _, exists := s.entities[sk]; !exists {
		s.order = append(s.order, sk)
	}
	s.entities[sk] = &entry{
		record:     domain.Record{Key: key, Payload: payload},
		restricted: restricted,
	}

	s.lastEventID++
	return strconv.FormatUint(s.lastEventID, 10), nil
}

// LastEventID reports the current stream position. An untouched store
// reports "0" rather than an empty id, so a fresh profile's empty marker
// never reads as a clean resume.
func (s *Store) LastEventID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return strconv.FormatUint(s.lastEventID, 10)
}
