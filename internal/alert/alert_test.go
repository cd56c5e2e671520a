package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unraid-agent/internal/snapshot"
)

func disk(smart map[int]int64, sas map[string]int64) *snapshot.DiskFragment {
	return &snapshot.DiskFragment{Name: "disk1", Serial: "WD1234", Smart: smart, SasCounters: sas}
}

func TestReallocatedSectorsAlertOnce(t *testing.T) {
	e := NewEngine()
	now := time.Now()

	old := disk(map[int]int64{5: 0}, nil)
	curr := disk(map[int]int64{5: 5}, nil)

	events := e.Evaluate("tower", "tower_disk_WD1234", old, curr, now)
	require.Len(t, events, 1)
	assert.Equal(t, "reallocated_sectors", events[0].Attribute)
	assert.Equal(t, SeverityCritical, events[0].Severity)
	assert.EqualValues(t, 0, events[0].Previous)
	assert.EqualValues(t, 5, events[0].Current)

	// Same snapshot again (5 -> 5): no further alert.
	events = e.Evaluate("tower", "tower_disk_WD1234", curr, disk(map[int]int64{5: 5}, nil), now)
	assert.Empty(t, events)
}

func TestFurtherIncreaseAlertsAgain(t *testing.T) {
	e := NewEngine()
	now := time.Now()

	e.Evaluate("tower", "id", disk(map[int]int64{5: 0}, nil), disk(map[int]int64{5: 5}, nil), now)
	events := e.Evaluate("tower", "id", disk(map[int]int64{5: 5}, nil), disk(map[int]int64{5: 8}, nil), now)
	require.Len(t, events, 1)
	assert.EqualValues(t, 8, events[0].Current)
}

func TestRedegradationAfterRecoveryAlertsAgain(t *testing.T) {
	e := NewEngine()
	now := time.Now()

	// Pending sectors rise, get remapped back to zero, then rise again.
	events := e.Evaluate("tower", "id", disk(map[int]int64{197: 0}, nil), disk(map[int]int64{197: 5}, nil), now)
	require.Len(t, events, 1)

	events = e.Evaluate("tower", "id", disk(map[int]int64{197: 5}, nil), disk(map[int]int64{197: 0}, nil), now)
	assert.Empty(t, events)

	events = e.Evaluate("tower", "id", disk(map[int]int64{197: 0}, nil), disk(map[int]int64{197: 5}, nil), now)
	require.Len(t, events, 1)
	assert.Equal(t, SeverityCritical, events[0].Severity)
}

func TestFirstObservationNonzeroWarns(t *testing.T) {
	e := NewEngine()
	events := e.Evaluate("tower", "id", nil, disk(map[int]int64{197: 2}, nil), time.Now())
	require.Len(t, events, 1)
	assert.Equal(t, "current_pending_sectors", events[0].Attribute)
	assert.Equal(t, SeverityWarning, events[0].Severity)
}

func TestFirstObservationZeroIsSilent(t *testing.T) {
	e := NewEngine()
	events := e.Evaluate("tower", "id", nil, disk(map[int]int64{5: 0, 197: 0}, nil), time.Now())
	assert.Empty(t, events)
}

func TestSasCounterAlertsOnAnyChange(t *testing.T) {
	e := NewEngine()
	now := time.Now()

	old := disk(nil, map[string]int64{"grown_defects": 3})
	curr := disk(nil, map[string]int64{"grown_defects": 4})

	events := e.Evaluate("tower", "id", old, curr, now)
	require.Len(t, events, 1)
	assert.Equal(t, "grown_defects", events[0].Attribute)
	assert.Equal(t, SeverityWarning, events[0].Severity)

	// Unchanged counter is silent.
	events = e.Evaluate("tower", "id", curr, disk(nil, map[string]int64{"grown_defects": 4}), now)
	assert.Empty(t, events)
}

func TestUnmonitoredAttributesIgnored(t *testing.T) {
	e := NewEngine()
	// Attribute 194 (temperature) is not in the monitored set.
	events := e.Evaluate("tower", "id",
		disk(map[int]int64{194: 38}, nil),
		disk(map[int]int64{194: 45}, nil), time.Now())
	assert.Empty(t, events)
}

func TestIdempotencePerEntity(t *testing.T) {
	e := NewEngine()
	now := time.Now()

	a := e.Evaluate("tower", "tower_disk_A", disk(map[int]int64{5: 0}, nil), disk(map[int]int64{5: 5}, nil), now)
	b := e.Evaluate("tower", "tower_disk_B", disk(map[int]int64{5: 0}, nil), disk(map[int]int64{5: 5}, nil), now)
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}
