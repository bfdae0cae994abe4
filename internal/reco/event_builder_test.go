package reco

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testEventBuilder(cfg EventBuilderConfig) (*EventBuilder, *Buffer, *Buffer) {
	active := NewBuffer()
	out := NewBuffer()
	return NewEventBuilder(cfg, active, out), active, out
}

func clusterHits(start, step int64, n int) []Hit {
	hits := make([]Hit, n)
	for i := range hits {
		hits[i] = Hit{ID: int64(i), TS: start + int64(i)*step}
	}
	return hits
}

func TestEventBuilderMinNhit(t *testing.T) {
	cfg := EventBuilderConfig{MinNhit: 5, MaxNhit: -1, DTCut: 10000}

	// 4 clustered hits: below the cut, discarded when the cluster closes.
	eb, active, out := testEventBuilder(cfg)
	active.PushHits(append(clusterHits(0, 100, 4), Hit{TS: 1000000}))
	if err := eb.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := out.Len(KindEvent); n != 0 {
		t.Errorf("4-hit cluster produced %d events, want 0", n)
	}

	// 5 clustered hits qualify.
	eb, active, out = testEventBuilder(cfg)
	active.PushHits(append(clusterHits(0, 100, 5), Hit{TS: 1000000}))
	if err := eb.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := out.PopEvents(-1)
	if len(events) != 1 {
		t.Fatalf("5-hit cluster produced %d events, want 1", len(events))
	}
	want := HitSummary{Nhit: 5, TSStart: 0, TSEnd: 400}
	if diff := cmp.Diff(want, events[0].HitSummary); diff != "" {
		t.Errorf("event summary mismatch (-want +got):\n%s", diff)
	}
	if events[0].ID != -1 {
		t.Errorf("event ID = %d, want -1 before persistence", events[0].ID)
	}
}

func TestEventBuilderChainedAdjacency(t *testing.T) {
	// Consecutive gaps are below DTCut but the total span is not. The
	// chained rule keeps the cluster together; only a gap larger than DTCut
	// on both sides splits events.
	eb, active, out := testEventBuilder(EventBuilderConfig{MinNhit: 3, MaxNhit: -1, DTCut: 10000})
	active.PushHits([]Hit{
		{TS: 0}, {TS: 9000}, {TS: 18000},
		{TS: 1000000},
	})
	if err := eb.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := out.PopEvents(-1)
	if len(events) != 1 {
		t.Fatalf("built %d events, want 1", len(events))
	}
	if events[0].TSStart != 0 || events[0].TSEnd != 18000 {
		t.Errorf("event span = [%d, %d], want [0, 18000]", events[0].TSStart, events[0].TSEnd)
	}
}

func TestEventBuilderMaxNhitCap(t *testing.T) {
	eb, active, out := testEventBuilder(EventBuilderConfig{MinNhit: 2, MaxNhit: 2, DTCut: 10000})
	active.PushHits([]Hit{{TS: 0}, {TS: 100}, {TS: 200}, {TS: 300}})
	if err := eb.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := eb.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	events := out.PopEvents(-1)
	if len(events) != 2 {
		t.Fatalf("built %d events, want 2 capped at 2 hits", len(events))
	}
	for i, event := range events {
		if event.Nhit != 2 {
			t.Errorf("event %d has %d hits, want 2", i, event.Nhit)
		}
	}
}

func TestEventBuilderTriggerAssociation(t *testing.T) {
	eb, active, out := testEventBuilder(EventBuilderConfig{
		MinNhit: 3, MaxNhit: -1, DTCut: 10000,
		AssociateTriggers: true,
		WindowMin:         0, WindowMax: 300000,
	})
	trig := &ExternalTrigger{ID: -1, TS: 997000, Delay: 997000} // window [0, 300000]
	active.PushTriggers([]*ExternalTrigger{trig})
	active.PushHits([]Hit{
		// Inside the window: associated.
		{TS: 0}, {TS: 100}, {TS: 200},
		// Past every window upper bound: must wait for a later trigger.
		{TS: 400000}, {TS: 400100}, {TS: 400200},
		// Closer.
		{TS: 2000000},
	})
	if err := eb.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	emitted := out.PopEvents(-1)
	if len(emitted) != 1 {
		t.Fatalf("emitted %d events, want 1 associated", len(emitted))
	}
	if len(emitted[0].Triggers) != 1 || emitted[0].Triggers[0] != trig {
		t.Errorf("associated triggers = %v, want the matching trigger", emitted[0].Triggers)
	}

	// The late event is pending and survives the cycle boundary.
	active.PurgeCycle()
	pending := active.PeekEvents(-1)
	if len(pending) != 1 || pending[0].TSStart != 400000 {
		t.Fatalf("pending events after purge = %v, want the late event", pending)
	}
}

func TestEventBuilderPendingResolvedByLaterTrigger(t *testing.T) {
	eb, active, out := testEventBuilder(EventBuilderConfig{
		MinNhit: 3, MaxNhit: -1, DTCut: 10000,
		AssociateTriggers: true,
		WindowMin:         0, WindowMax: 300000,
	})

	// No triggers yet: the event is pending, nothing emitted.
	active.PushHits(append(clusterHits(0, 100, 3), Hit{TS: 1000000}))
	if err := eb.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := out.Len(KindEvent); n != 0 {
		t.Fatalf("emitted %d events with no triggers, want 0 (pending)", n)
	}

	// Next cycle a matching trigger arrives and resolves the carried event.
	active.PurgeCycle()
	trig := &ExternalTrigger{ID: -1, TS: 997000, Delay: 997000}
	active.PushTriggers([]*ExternalTrigger{trig})
	if err := eb.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	emitted := out.PopEvents(-1)
	if len(emitted) != 1 || len(emitted[0].Triggers) != 1 {
		t.Fatalf("carried event not associated: %v", emitted)
	}
}

func TestEventBuilderUnassociated(t *testing.T) {
	eb, active, out := testEventBuilder(EventBuilderConfig{
		MinNhit: 3, MaxNhit: -1, DTCut: 10000,
		AssociateTriggers: true,
		WindowMin:         0, WindowMax: 300000,
	})
	// The trigger's window is [1000000, 1300000]; an event entirely before
	// it can never match any known or future window.
	trig := &ExternalTrigger{ID: -1, TS: 1997000, Delay: 997000}
	active.PushTriggers([]*ExternalTrigger{trig})
	active.PushHits(append(clusterHits(0, 100, 3), Hit{TS: 5000000}))
	if err := eb.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	emitted := out.PopEvents(-1)
	if len(emitted) != 1 {
		t.Fatalf("emitted %d events, want 1 unassociated", len(emitted))
	}
	if len(emitted[0].Triggers) != 0 {
		t.Errorf("unassociated event carries triggers: %v", emitted[0].Triggers)
	}
}

func TestEventBuilderFinishForcesClosure(t *testing.T) {
	eb, active, out := testEventBuilder(EventBuilderConfig{
		MinNhit: 3, MaxNhit: -1, DTCut: 10000,
		AssociateTriggers: true,
		WindowMin:         0, WindowMax: 300000,
	})

	// Open trailing cluster plus a pending event, no triggers in sight.
	active.PushHits(clusterHits(0, 100, 3))
	if err := eb.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := out.Len(KindEvent); n != 0 {
		t.Fatalf("open cluster emitted before Finish: %d events", n)
	}

	if err := eb.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	emitted := out.PopEvents(-1)
	if len(emitted) != 1 {
		t.Fatalf("Finish emitted %d events, want 1", len(emitted))
	}
	if len(emitted[0].Triggers) != 0 {
		t.Errorf("finalized event carries triggers: %v", emitted[0].Triggers)
	}
}

func TestEventBuilderEmissionSorted(t *testing.T) {
	eb, active, out := testEventBuilder(EventBuilderConfig{
		MinNhit: 2, MaxNhit: 2, DTCut: 10000,
		AssociateTriggers: true,
		WindowMin:         0, WindowMax: 300000,
	})
	trig := &ExternalTrigger{ID: -1, TS: 997000, Delay: 997000}
	active.PushTriggers([]*ExternalTrigger{trig})
	// The size cap splits these into two events in window order.
	active.PushHits([]Hit{{TS: 0}, {TS: 100}, {TS: 200}, {TS: 300}, {TS: 2000000}})
	if err := eb.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	emitted := out.PopEvents(-1)
	if len(emitted) != 2 {
		t.Fatalf("emitted %d events, want 2", len(emitted))
	}
	if emitted[0].TSStart > emitted[1].TSStart {
		t.Errorf("emission unsorted: starts %d, %d", emitted[0].TSStart, emitted[1].TSStart)
	}
}
