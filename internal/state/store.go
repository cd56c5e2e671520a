// Package state holds the last-published value per entity and the per-disk
// attribute records used for storage-health change detection.
package state

import (
	"sync"
	"time"
)

// Store keeps the most recent successfully observed value per entity id.
// Keys are already server-scoped (entity ids embed the server slug) and each
// key is only mutated by its owning (server, scan class) worker; the lock
// protects the map itself across workers.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
	attrs  map[string]AttributeRecord
}

// AttributeRecord is the last observation of one storage-health attribute.
type AttributeRecord struct {
	EntityID    string
	AttributeID string
	RawValue    int64
	ObservedAt  time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		values: map[string]any{},
		attrs:  map[string]AttributeRecord{},
	}
}

// Update records a fresh observation and reports whether it differs from the
// stored one. previous is nil when the entity was never observed.
func (s *Store) Update(entityID string, value any) (changed bool, previous any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, seen := s.values[entityID]
	s.values[entityID] = value
	if !seen {
		return true, nil
	}
	return previous != value, previous
}

// Get returns the stored value for an entity.
func (s *Store) Get(entityID string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[entityID]
	return v, ok
}

// Len reports the number of tracked entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func attrKey(entityID, attributeID string) string {
	return entityID + "\x00" + attributeID
}

// UpdateAttribute records a storage-health attribute observation and returns
// the previous record, if any. Used by the alert engine to compare exactly
// against the immediately preceding successful observation.
func (s *Store) UpdateAttribute(entityID, attributeID string, raw int64, at time.Time) (prev AttributeRecord, seen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := attrKey(entityID, attributeID)
	prev, seen = s.attrs[key]
	s.attrs[key] = AttributeRecord{
		EntityID:    entityID,
		AttributeID: attributeID,
		RawValue:    raw,
		ObservedAt:  at,
	}
	return prev, seen
}

// Attribute returns the stored record for one attribute.
func (s *Store) Attribute(entityID, attributeID string) (AttributeRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.attrs[attrKey(entityID, attributeID)]
	return rec, ok
}
