package reco

import (
	"sort"

	"github.com/larpix-data/reco3d/internal/monitoring"
)

// EventBuilderConfig configures the event builder. MaxNhit < 0 leaves the
// cluster size unbounded. The trigger window is an offset pair applied to
// each trigger's delay-corrected timestamp: a trigger accepts events whose
// time span intersects [trig.TS − trig.Delay + WindowMin, trig.TS −
// trig.Delay + WindowMax], bounds inclusive.
type EventBuilderConfig struct {
	MinNhit           int
	MaxNhit           int
	DTCut             int64 // max hit separation within a cluster (ns)
	AssociateTriggers bool
	WindowMin         int64 // ns
	WindowMax         int64 // ns
}

// EventBuilder assembles buffered hits into Event records. Clustering uses
// chained adjacency: a hit joins the current cluster if it is within DTCut of
// any member. This is looser than the TriggerBuilder's pairwise rule, which
// bounds the span of the whole run.
type EventBuilder struct {
	cfg    EventBuilderConfig
	active *Buffer
	out    *Buffer

	built int64
}

// NewEventBuilder returns a builder clustering from the active buffer and
// emitting finalized events to the out buffer.
func NewEventBuilder(cfg EventBuilderConfig, active, out *Buffer) *EventBuilder {
	return &EventBuilder{cfg: cfg, active: active, out: out}
}

// Name implements Stage.
func (eb *EventBuilder) Name() string { return "event-builder" }

// Run drains buffered hits and previously pending events, clusters, runs
// trigger association, and emits resolved events sorted by start time.
// The trailing open cluster and any still-pending events are pushed back
// with holds so the next cycle can extend or resolve them.
func (eb *EventBuilder) Run() error {
	carried := eb.active.PopEvents(-1)
	hits := eb.active.PopHits(-1)
	events, skipped, remaining := eb.findEvents(hits)
	candidates := append(carried, events...)

	var emitted, pending []*Event
	if eb.cfg.AssociateTriggers {
		triggers := eb.active.PeekTriggers(-1)
		associated, unassociated, pend := eb.associate(candidates, triggers)
		pending = pend
		emitted = append(associated, unassociated...)
		sortByStart(emitted)
	} else {
		emitted = candidates
	}

	if len(remaining) > 0 {
		eb.active.RequestHold(KindHit)
	}
	if len(pending) > 0 {
		eb.active.RequestHold(KindEvent)
	}
	eb.active.PushHits(skipped)
	eb.active.PushHits(remaining)
	eb.active.PushEvents(pending)
	eb.out.PushEvents(emitted)
	eb.built += int64(len(emitted))
	return nil
}

// Finish force-closes the open cluster if it meets the size cut and resolves
// every pending event without further waiting: pending events are emitted
// as unassociated.
func (eb *EventBuilder) Finish() error {
	carried := eb.active.PopEvents(-1)
	hits := eb.active.PopHits(-1)
	events, skipped, remaining := eb.findEvents(hits)
	if eb.selects(remaining) {
		events = append(events, NewEvent(remaining))
		remaining = nil
	}
	candidates := append(carried, events...)

	var emitted []*Event
	if eb.cfg.AssociateTriggers {
		triggers := eb.active.PeekTriggers(-1)
		associated, unassociated, pending := eb.associate(candidates, triggers)
		emitted = append(associated, unassociated...)
		emitted = append(emitted, pending...)
		sortByStart(emitted)
	} else {
		emitted = candidates
	}

	eb.active.PushHits(skipped)
	eb.active.PushHits(remaining)
	eb.out.PushEvents(emitted)
	eb.built += int64(len(emitted))
	monitoring.Debugf("event-builder: %d events built in total", eb.built)
	return nil
}

// joins reports whether hit may extend the cluster: within DTCut of any
// member, and the cluster still below the size cap if one is set.
func (eb *EventBuilder) joins(hit Hit, cluster []Hit) bool {
	if eb.cfg.MaxNhit >= 0 && len(cluster) >= eb.cfg.MaxNhit {
		return false
	}
	if len(cluster) == 0 {
		return true
	}
	for _, other := range cluster {
		dt := hit.TS - other.TS
		if dt < 0 {
			dt = -dt
		}
		if dt < eb.cfg.DTCut {
			return true
		}
	}
	return false
}

// selects reports whether a closed cluster qualifies as an event.
func (eb *EventBuilder) selects(cluster []Hit) bool {
	return len(cluster) > 0 && len(cluster) >= eb.cfg.MinNhit
}

// findEvents walks the hits (assumed chronological). When a hit fails the
// adjacency test the cluster closes: qualifying clusters become events,
// undersized ones are discarded to the skipped pool. The failing hit starts
// the next cluster; the open trailing cluster is returned separately.
func (eb *EventBuilder) findEvents(hits []Hit) (events []*Event, skipped, remaining []Hit) {
	var cluster []Hit
	for _, hit := range hits {
		switch {
		case eb.joins(hit, cluster):
			cluster = append(cluster, hit)
		case eb.selects(cluster):
			events = append(events, NewEvent(cluster))
			cluster = []Hit{hit}
		default:
			skipped = append(skipped, cluster...)
			cluster = []Hit{hit}
		}
	}
	return events, skipped, cluster
}

// window returns the absolute acceptance bounds for a trigger.
func (eb *EventBuilder) window(trig *ExternalTrigger) (minT, maxT int64) {
	base := trig.TS - trig.Delay
	return base + eb.cfg.WindowMin, base + eb.cfg.WindowMax
}

// inWindow reports whether any part of the event's time span lies within the
// trigger's acceptance window (inclusive bounds).
func (eb *EventBuilder) inWindow(event *Event, trig *ExternalTrigger) bool {
	minT, maxT := eb.window(trig)
	if event.TSEnd < minT {
		return false
	}
	if event.TSStart > maxT {
		return false
	}
	return true
}

// stillPending reports whether an unmatched event could still match a future
// trigger. Acceptance windows only move forward in time, so an event that
// starts after every known window's upper bound must wait for its trigger;
// one at or before that bound has been passed over for good.
func (eb *EventBuilder) stillPending(event *Event, triggers []*ExternalTrigger) bool {
	if len(triggers) == 0 {
		return true
	}
	var latest int64
	for i, trig := range triggers {
		_, maxT := eb.window(trig)
		if i == 0 || maxT > latest {
			latest = maxT
		}
	}
	return event.TSStart > latest
}

// associate splits events three ways: events with at least one matching
// trigger (recorded on the event), events no trigger can ever match, and
// events still waiting on a possible future trigger.
func (eb *EventBuilder) associate(events []*Event, triggers []*ExternalTrigger) (associated, unassociated, pending []*Event) {
	if len(events) == 0 {
		return nil, nil, nil
	}
	if len(triggers) == 0 {
		return nil, nil, events
	}
	for _, event := range events {
		var matches []*ExternalTrigger
		for _, trig := range triggers {
			if eb.inWindow(event, trig) {
				matches = append(matches, trig)
			}
		}
		switch {
		case len(matches) > 0:
			event.Triggers = append(event.Triggers, matches...)
			associated = append(associated, event)
		case eb.stillPending(event, triggers):
			pending = append(pending, event)
		default:
			unassociated = append(unassociated, event)
		}
	}
	return associated, unassociated, pending
}

func sortByStart(events []*Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].TSStart < events[j].TSStart })
}
