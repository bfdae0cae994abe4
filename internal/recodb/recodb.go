// Package recodb is the SQLite persistence collaborator: it streams raw hits
// into the reconstruction core and stores the finalized events, tracks, and
// triggers the core emits. The core never imports this package; it sees only
// the HitSource and EventSink interfaces.
package recodb

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/larpix-data/reco3d/internal/reco"
)

// schema.sql contains the SQL statements for creating the reconstruction
// database schema: run bookkeeping, raw and per-event hits, events with
// their trigger associations, and fitted tracks.
//
//go:embed schema.sql
var schemaSQL string

type RecoDB struct {
	*sql.DB
}

// Open opens (creating if needed) a reconstruction database and applies the
// schema.
func Open(path string) (*RecoDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &RecoDB{db}, nil
}

// StartRun records the beginning of a reconstruction run and returns its row
// ID and UUID.
func (db *RecoDB) StartRun(inputPath string) (int64, string, error) {
	runUUID := uuid.New().String()
	res, err := db.Exec(`INSERT INTO runs (uuid, input_path) VALUES (?, ?)`, runUUID, inputPath)
	if err != nil {
		return 0, "", fmt.Errorf("start run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, "", fmt.Errorf("start run id: %w", err)
	}
	return id, runUUID, nil
}

// FinishRun stamps the run's end time and emitted-record counts.
func (db *RecoDB) FinishRun(runID, events, tracks, triggers int64) error {
	_, err := db.Exec(`
		UPDATE runs
		SET finished_at = CURRENT_TIMESTAMP, event_count = ?, track_count = ?, trigger_count = ?
		WHERE id = ?`,
		events, tracks, triggers, runID)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	return nil
}

// InsertRawHits stores hits with no owning event, as produced by a readout
// converter. hit_id preserves the caller's IDs.
func (db *RecoDB) InsertRawHits(hits []reco.Hit) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO hits (hit_id, px, py, ts, q, iochain, chip_id, channel_id, geom)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, h := range hits {
		if _, err := stmt.Exec(h.ID, h.PX, h.PY, h.TS, h.Q, h.IOChain, h.ChipID, h.ChannelID, h.Geom); err != nil {
			return fmt.Errorf("insert hit %d: %w", h.ID, err)
		}
	}
	return tx.Commit()
}

// HitScanner streams raw hits in timestamp order. It implements the core's
// HitSource interface and must be closed after the run.
type HitScanner struct {
	rows *sql.Rows
	done bool
}

// NewHitScanner opens a cursor over every raw hit (event_id IS NULL) ordered
// by timestamp, ties broken by hit_id.
func NewHitScanner(db *RecoDB) (*HitScanner, error) {
	rows, err := db.Query(`
		SELECT hit_id, px, py, ts, q, iochain, chip_id, channel_id, geom
		FROM hits
		WHERE event_id IS NULL
		ORDER BY ts, hit_id`)
	if err != nil {
		return nil, fmt.Errorf("query hits: %w", err)
	}
	return &HitScanner{rows: rows}, nil
}

// NextHits returns up to max hits, or every remaining hit when max <= 0.
// io.EOF is returned once the cursor is exhausted, possibly alongside the
// final batch.
func (s *HitScanner) NextHits(max int) ([]reco.Hit, error) {
	if s.done {
		return nil, io.EOF
	}
	var hits []reco.Hit
	for max <= 0 || len(hits) < max {
		if !s.rows.Next() {
			s.done = true
			if err := s.rows.Err(); err != nil {
				return hits, fmt.Errorf("scan hits: %w", err)
			}
			return hits, io.EOF
		}
		var h reco.Hit
		if err := s.rows.Scan(&h.ID, &h.PX, &h.PY, &h.TS, &h.Q, &h.IOChain, &h.ChipID, &h.ChannelID, &h.Geom); err != nil {
			s.done = true
			return hits, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Close releases the cursor.
func (s *HitScanner) Close() error {
	return s.rows.Close()
}

// Writer persists finalized records. It implements the core's EventSink
// interface, buffering writes and committing them in one transaction per
// flush. A flush happens when the queued record count reaches queueLen and
// on Flush.
type Writer struct {
	db       *RecoDB
	runID    int64
	queueLen int

	events   []*reco.Event
	triggers []*reco.ExternalTrigger
}

// NewWriter returns a writer for the given run. queueLen <= 0 flushes after
// every record.
func NewWriter(db *RecoDB, runID int64, queueLen int) *Writer {
	return &Writer{db: db, runID: runID, queueLen: queueLen}
}

// WriteEvent queues an event with its hits, tracks, and trigger links.
func (w *Writer) WriteEvent(event *reco.Event) error {
	w.events = append(w.events, event)
	return w.maybeFlush()
}

// WriteTrigger queues an external trigger record.
func (w *Writer) WriteTrigger(trig *reco.ExternalTrigger) error {
	w.triggers = append(w.triggers, trig)
	return w.maybeFlush()
}

func (w *Writer) maybeFlush() error {
	if len(w.events)+len(w.triggers) >= w.queueLen {
		return w.Flush()
	}
	return nil
}

// Flush commits every queued record in a single transaction. The queue is
// kept intact on failure so a retry sees the same records.
func (w *Writer) Flush() error {
	if len(w.events) == 0 && len(w.triggers) == 0 {
		return nil
	}
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, trig := range w.triggers {
		if err := insertTrigger(tx, w.runID, trig); err != nil {
			return err
		}
	}
	for _, event := range w.events {
		if err := insertEvent(tx, w.runID, event); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	w.events = w.events[:0]
	w.triggers = w.triggers[:0]
	return nil
}

func insertTrigger(tx *sql.Tx, runID int64, trig *reco.ExternalTrigger) error {
	_, err := tx.Exec(`
		INSERT INTO triggers (id, run_id, ts, delay, trig_type)
		VALUES (?, ?, ?, ?, ?)`,
		trig.ID, runID, trig.TS, trig.Delay, trig.TrigType)
	if err != nil {
		return fmt.Errorf("insert trigger %d: %w", trig.ID, err)
	}
	return nil
}

func insertEvent(tx *sql.Tx, runID int64, event *reco.Event) error {
	_, err := tx.Exec(`
		INSERT INTO events (id, run_id, nhit, ts_start, ts_end, q)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, runID, event.Nhit, event.TSStart, event.TSEnd, event.Q)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", event.ID, err)
	}

	hitStmt, err := tx.Prepare(`
		INSERT INTO hits (hit_id, event_id, px, py, ts, q, iochain, chip_id, channel_id, geom)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer hitStmt.Close()
	for _, h := range event.Hits {
		if _, err := hitStmt.Exec(h.ID, event.ID, h.PX, h.PY, h.TS, h.Q, h.IOChain, h.ChipID, h.ChannelID, h.Geom); err != nil {
			return fmt.Errorf("insert event %d hit %d: %w", event.ID, h.ID, err)
		}
	}

	for _, trig := range event.Triggers {
		if _, err := tx.Exec(`
			INSERT INTO event_triggers (event_id, trigger_id) VALUES (?, ?)`,
			event.ID, trig.ID); err != nil {
			return fmt.Errorf("link event %d trigger %d: %w", event.ID, trig.ID, err)
		}
	}

	for _, track := range event.Tracks {
		if err := insertTrack(tx, track); err != nil {
			return err
		}
	}
	return nil
}

func insertTrack(tx *sql.Tx, track *reco.Track) error {
	var cov any
	if track.Cov != nil {
		data, err := json.Marshal(track.Cov)
		if err != nil {
			return fmt.Errorf("encode track %d covariance: %w", track.ID, err)
		}
		cov = string(data)
	}
	_, err := tx.Exec(`
		INSERT INTO tracks (id, event_id, theta, phi, xp, yp, nhit, ts_start, ts_end, q, cov)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		track.ID, track.EventID, track.Theta, track.Phi, track.Xp, track.Yp,
		track.Nhit, track.TSStart, track.TSEnd, track.Q, cov)
	if err != nil {
		return fmt.Errorf("insert track %d: %w", track.ID, err)
	}
	for _, h := range track.Hits {
		if _, err := tx.Exec(`
			INSERT INTO track_hits (track_id, hit_id) VALUES (?, ?)`,
			track.ID, h.ID); err != nil {
			return fmt.Errorf("link track %d hit %d: %w", track.ID, h.ID, err)
		}
	}
	return nil
}

// LoadEvent reads one reconstructed event back out, with its hits and
// tracks. Trigger associations are resolved through event_triggers. Used by
// the plotting tool.
func (db *RecoDB) LoadEvent(eventID int64) (*reco.Event, error) {
	event := &reco.Event{ID: eventID}
	err := db.QueryRow(`
		SELECT nhit, ts_start, ts_end, q FROM events WHERE id = ?`, eventID).
		Scan(&event.Nhit, &event.TSStart, &event.TSEnd, &event.Q)
	if err != nil {
		return nil, fmt.Errorf("load event %d: %w", eventID, err)
	}

	hits, err := db.eventHits(eventID)
	if err != nil {
		return nil, err
	}
	event.Hits = hits

	trigRows, err := db.Query(`
		SELECT t.id, t.ts, t.delay, t.trig_type
		FROM triggers t JOIN event_triggers et ON et.trigger_id = t.id
		WHERE et.event_id = ?`, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event %d triggers: %w", eventID, err)
	}
	defer trigRows.Close()
	for trigRows.Next() {
		trig := &reco.ExternalTrigger{}
		if err := trigRows.Scan(&trig.ID, &trig.TS, &trig.Delay, &trig.TrigType); err != nil {
			return nil, err
		}
		event.Triggers = append(event.Triggers, trig)
	}
	if err := trigRows.Err(); err != nil {
		return nil, err
	}

	tracks, err := db.eventTracks(eventID, hits)
	if err != nil {
		return nil, err
	}
	event.Tracks = tracks
	return event, nil
}

func (db *RecoDB) eventHits(eventID int64) ([]reco.Hit, error) {
	rows, err := db.Query(`
		SELECT hit_id, px, py, ts, q, iochain, chip_id, channel_id, geom
		FROM hits WHERE event_id = ? ORDER BY ts, hit_id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event %d hits: %w", eventID, err)
	}
	defer rows.Close()

	var hits []reco.Hit
	for rows.Next() {
		var h reco.Hit
		if err := rows.Scan(&h.ID, &h.PX, &h.PY, &h.TS, &h.Q, &h.IOChain, &h.ChipID, &h.ChannelID, &h.Geom); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (db *RecoDB) eventTracks(eventID int64, eventHits []reco.Hit) ([]*reco.Track, error) {
	byID := make(map[int64]reco.Hit, len(eventHits))
	for _, h := range eventHits {
		byID[h.ID] = h
	}

	rows, err := db.Query(`
		SELECT id, theta, phi, xp, yp, nhit, ts_start, ts_end, q, cov
		FROM tracks WHERE event_id = ? ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event %d tracks: %w", eventID, err)
	}
	defer rows.Close()

	var tracks []*reco.Track
	for rows.Next() {
		track := &reco.Track{EventID: eventID}
		var cov sql.NullString
		if err := rows.Scan(&track.ID, &track.Theta, &track.Phi, &track.Xp, &track.Yp,
			&track.Nhit, &track.TSStart, &track.TSEnd, &track.Q, &cov); err != nil {
			return nil, err
		}
		if cov.Valid {
			if err := json.Unmarshal([]byte(cov.String), &track.Cov); err != nil {
				return nil, fmt.Errorf("decode track %d covariance: %w", track.ID, err)
			}
		}
		tracks = append(tracks, track)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, track := range tracks {
		hitRows, err := db.Query(`SELECT hit_id FROM track_hits WHERE track_id = ?`, track.ID)
		if err != nil {
			return nil, fmt.Errorf("load track %d hits: %w", track.ID, err)
		}
		for hitRows.Next() {
			var hitID int64
			if err := hitRows.Scan(&hitID); err != nil {
				hitRows.Close()
				return nil, err
			}
			if h, ok := byID[hitID]; ok {
				track.Hits = append(track.Hits, h)
			}
		}
		if err := hitRows.Err(); err != nil {
			hitRows.Close()
			return nil, err
		}
		hitRows.Close()
	}
	return tracks, nil
}
