package reco

import (
	"fmt"

	"github.com/larpix-data/reco3d/internal/monitoring"
)

// EventSink is the persistence boundary. The core pushes fully resolved
// records; relational links between them are plain integer IDs assigned by
// the RecordWriter before each call.
type EventSink interface {
	// WriteEvent persists the event together with its hits, attached tracks,
	// and trigger associations.
	WriteEvent(event *Event) error
	// WriteTrigger persists one external trigger record.
	WriteTrigger(trig *ExternalTrigger) error
	// Flush forces any buffered writes out.
	Flush() error
}

// RecordWriter drains the out buffer each cycle, assigns sequential IDs at
// the persistence boundary (events, tracks, and triggers arrive with ID -1),
// and forwards the records to the sink.
type RecordWriter struct {
	out  *Buffer
	sink EventSink

	nextEventID   int64
	nextTrackID   int64
	nextTriggerID int64

	events   int64
	tracks   int64
	triggers int64
}

// NewRecordWriter returns a writer draining the out buffer into sink.
func NewRecordWriter(out *Buffer, sink EventSink) *RecordWriter {
	return &RecordWriter{out: out, sink: sink}
}

// Name implements Stage.
func (w *RecordWriter) Name() string { return "record-writer" }

// Run writes this cycle's triggers and finalized events. Tracks travel with
// their owning event; the track stack is drained so the out buffer starts
// the next cycle clean.
func (w *RecordWriter) Run() error {
	for _, trig := range w.out.PopTriggers(-1) {
		if trig.ID < 0 {
			trig.ID = w.nextTriggerID
			w.nextTriggerID++
		}
		if err := w.sink.WriteTrigger(trig); err != nil {
			return fmt.Errorf("write trigger %d: %w", trig.ID, err)
		}
		w.triggers++
	}

	events := w.out.PopEvents(-1)
	w.out.PopTracks(-1) // same pointers as the events' Tracks
	for _, event := range events {
		if event.ID < 0 {
			event.ID = w.nextEventID
			w.nextEventID++
		}
		for _, track := range event.Tracks {
			if track.ID < 0 {
				track.ID = w.nextTrackID
				w.nextTrackID++
			}
			track.EventID = event.ID
			w.tracks++
		}
		if err := w.sink.WriteEvent(event); err != nil {
			return fmt.Errorf("write event %d: %w", event.ID, err)
		}
		w.events++
	}
	return nil
}

// Finish writes whatever finalization produced and flushes the sink.
func (w *RecordWriter) Finish() error {
	if err := w.Run(); err != nil {
		return err
	}
	if err := w.sink.Flush(); err != nil {
		return err
	}
	monitoring.Logf("record-writer: wrote %d events, %d tracks, %d triggers", w.events, w.tracks, w.triggers)
	return nil
}

// Counts reports the records written so far as (events, tracks, triggers).
func (w *RecordWriter) Counts() (int64, int64, int64) {
	return w.events, w.tracks, w.triggers
}
