// Package alert turns consecutive storage-health observations into discrete
// alert events. The engine is a pure function of (previous, current) pairs
// supplied by the pipeline; it never fetches or retries on its own.
package alert

import (
	"fmt"
	"time"

	"github.com/unraid-agent/internal/snapshot"
)

// Severity of an emitted alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one discrete storage-health alert.
type Event struct {
	Server    string    `json:"server"`
	EntityID  string    `json:"entity_id"`
	Disk      string    `json:"disk"`
	Attribute string    `json:"attribute"`
	Severity  Severity  `json:"severity"`
	Previous  int64     `json:"previous"`
	Current   int64     `json:"current"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// smartAttr describes one monitored SMART attribute with critical-threshold
// semantics: any nonzero raw value is reportable, and a rise from the
// previous observation is critical.
type smartAttr struct {
	id   int
	name string
}

// monitoredAttrs are the attributes whose raw values indicate media or
// transport degradation on ATA disks.
var monitoredAttrs = []smartAttr{
	{5, "reallocated_sectors"},
	{187, "reported_uncorrectable"},
	{188, "command_timeouts"},
	{197, "current_pending_sectors"},
	{198, "offline_uncorrectable"},
}

// Engine evaluates attribute transitions and suppresses repeats: the same
// (entity, attribute, new-value) transition observed twice without an
// intervening different value never re-alerts.
type Engine struct {
	// lastSeen holds the last observed value per (entity, attribute), not
	// just the last alerted one, so a recovery followed by a repeat of an
	// earlier degradation alerts again.
	lastSeen map[string]int64
}

// NewEngine returns an engine with no alert history.
func NewEngine() *Engine {
	return &Engine{lastSeen: map[string]int64{}}
}

func alertKey(entityID, attribute string) string {
	return entityID + "\x00" + attribute
}

// observation pairs a previous and current raw value for one attribute.
type observation struct {
	attribute string
	// thresholded marks attributes with known critical semantics; others
	// alert on any change.
	thresholded bool
	prev        int64
	prevSeen    bool
	curr        int64
}

// Evaluate compares two consecutive observations of one disk and returns
// the alert events to publish. old may be nil on the first observation;
// first observations only alert for thresholded attributes already nonzero.
func (e *Engine) Evaluate(server, entityID string, old, curr *snapshot.DiskFragment, at time.Time) []Event {
	if curr == nil {
		return nil
	}

	var obs []observation
	for _, attr := range monitoredAttrs {
		currVal, ok := curr.Smart[attr.id]
		if !ok {
			continue
		}
		o := observation{attribute: attr.name, thresholded: true, curr: currVal}
		if old != nil {
			if prev, seen := old.Smart[attr.id]; seen {
				o.prev, o.prevSeen = prev, true
			}
		}
		obs = append(obs, o)
	}
	for name, currVal := range curr.SasCounters {
		o := observation{attribute: name, curr: currVal}
		if old != nil {
			if prev, seen := old.SasCounters[name]; seen {
				o.prev, o.prevSeen = prev, true
			}
		}
		obs = append(obs, o)
	}

	var events []Event
	for _, o := range obs {
		ev, ok := e.evaluateOne(server, entityID, curr.Name, o, at)
		if ok {
			events = append(events, ev)
		}
	}
	return events
}

func (e *Engine) evaluateOne(server, entityID, disk string, o observation, at time.Time) (Event, bool) {
	key := alertKey(entityID, o.attribute)

	var severity Severity
	var reportable bool
	switch {
	case o.thresholded && o.prevSeen && o.curr > o.prev:
		// Transition from not-critical (or less critical) to critical.
		severity, reportable = SeverityCritical, true
	case o.thresholded && !o.prevSeen && o.curr > 0:
		// First observation already past threshold.
		severity, reportable = SeverityWarning, true
	case !o.thresholded && o.prevSeen && o.curr != o.prev:
		// Raw counter without threshold semantics changed at all.
		severity, reportable = SeverityWarning, true
	default:
		e.lastSeen[key] = o.curr
		return Event{}, false
	}

	// Idempotence per (entity, attribute, new-value).
	if last, seen := e.lastSeen[key]; seen && last == o.curr {
		return Event{}, false
	}
	e.lastSeen[key] = o.curr

	return Event{
		Server:    server,
		EntityID:  entityID,
		Disk:      disk,
		Attribute: o.attribute,
		Severity:  severity,
		Previous:  o.prev,
		Current:   o.curr,
		Message:   fmt.Sprintf("%s: %s changed %d -> %d", disk, o.attribute, o.prev, o.curr),
		At:        at,
	}, reportable
}
