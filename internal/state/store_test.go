package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateFirstObservationIsChange(t *testing.T) {
	s := NewStore()
	changed, prev := s.Update("tower_cpu_load", 12.5)
	assert.True(t, changed)
	assert.Nil(t, prev)
}

func TestUpdateDetectsChange(t *testing.T) {
	s := NewStore()
	s.Update("tower_cpu_load", 12.5)

	changed, prev := s.Update("tower_cpu_load", 12.5)
	assert.False(t, changed)
	assert.Equal(t, 12.5, prev)

	changed, prev = s.Update("tower_cpu_load", 13.0)
	assert.True(t, changed)
	assert.Equal(t, 12.5, prev)
}

func TestAbsentObservationRetainsValue(t *testing.T) {
	// An unreadable value is never written: the caller simply does not call
	// Update, and the stored value survives.
	s := NewStore()
	s.Update("tower_disk1_temp", 38)

	v, ok := s.Get("tower_disk1_temp")
	require.True(t, ok)
	assert.Equal(t, 38, v)
}

func TestUpdateAttribute(t *testing.T) {
	s := NewStore()
	now := time.Now()

	_, seen := s.UpdateAttribute("tower_disk_WD1234", "5", 0, now)
	assert.False(t, seen)

	prev, seen := s.UpdateAttribute("tower_disk_WD1234", "5", 5, now.Add(time.Minute))
	require.True(t, seen)
	assert.EqualValues(t, 0, prev.RawValue)

	rec, ok := s.Attribute("tower_disk_WD1234", "5")
	require.True(t, ok)
	assert.EqualValues(t, 5, rec.RawValue)
}

func TestAttributeKeysAreDisjointAcrossEntities(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.UpdateAttribute("tower_disk_A", "5", 1, now)
	s.UpdateAttribute("tower_disk_B", "5", 2, now)

	a, _ := s.Attribute("tower_disk_A", "5")
	b, _ := s.Attribute("tower_disk_B", "5")
	assert.EqualValues(t, 1, a.RawValue)
	assert.EqualValues(t, 2, b.RawValue)
}
