// Package reco implements the streaming reconstruction core: the per-kind
// record buffer, the trigger and event builders, and the iterative Hough
// track finder. Persistence and argument handling live outside this package;
// the core consumes an ordered hit stream through HitSource and emits
// finalized records through EventSink.
package reco

// Kind discriminates the four record kinds carried by a Buffer.
type Kind uint8

const (
	KindHit Kind = iota
	KindTrigger
	KindEvent
	KindTrack
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindHit:
		return "hit"
	case KindTrigger:
		return "trigger"
	case KindEvent:
		return "event"
	case KindTrack:
		return "track"
	}
	return "unknown"
}

// Hit is a single channel trigger record: position on the pixel plane,
// timestamp, collected charge, and readout addressing. Hits are immutable
// once created and compare equal by all fields.
type Hit struct {
	ID        int64
	PX, PY    float64 // pixel position (mm)
	TS        int64   // timestamp (ns)
	Q         float64 // collected charge
	IOChain   int
	ChipID    int
	ChannelID int
	Geom      string // geometry tag
}

// ExternalTrigger is a detected coincidence across the configured channel
// mask. TS is the earliest member-hit timestamp; Delay is the configured
// offset between the real-time trigger and the channel response.
type ExternalTrigger struct {
	ID       int64 // -1 until assigned at the persistence boundary
	TS       int64 // ns
	Delay    int64 // ns
	TrigType string
}

// HitSummary holds the fields derived from a record's member hits. It is
// composed into Event and Track rather than inherited.
type HitSummary struct {
	Nhit    int
	TSStart int64 // min member timestamp (ns)
	TSEnd   int64 // max member timestamp (ns)
	Q       float64
}

// Summarize derives the collection fields for a set of hits. Zero value for
// an empty set.
func Summarize(hits []Hit) HitSummary {
	if len(hits) == 0 {
		return HitSummary{}
	}
	s := HitSummary{
		Nhit:    len(hits),
		TSStart: hits[0].TS,
		TSEnd:   hits[0].TS,
	}
	for _, h := range hits {
		if h.TS < s.TSStart {
			s.TSStart = h.TS
		}
		if h.TS > s.TSEnd {
			s.TSEnd = h.TS
		}
		s.Q += h.Q
	}
	return s
}

// Event is a temporally clustered group of hits, with any associated
// external triggers and reconstructed tracks. Events own their hits by
// value; the builder hands ownership downstream when the event is emitted.
type Event struct {
	HitSummary
	ID       int64 // -1 until assigned at the persistence boundary
	Hits     []Hit
	Triggers []*ExternalTrigger
	Tracks   []*Track
}

// NewEvent builds an unidentified event from a hit cluster.
func NewEvent(hits []Hit) *Event {
	return &Event{
		HitSummary: Summarize(hits),
		ID:         -1,
		Hits:       hits,
	}
}

// Track is a fitted straight-line segment and its supporting hits. The line
// parameters follow the Roberts representation (see Line). Cov, when
// present, is the 4x4 fit covariance over (theta, phi, anchor-x, anchor-y)
// stored row-major; nil means the covariance estimate was rejected.
type Track struct {
	HitSummary
	ID      int64 // -1 until assigned at the persistence boundary
	EventID int64 // owning event, assigned with the event's ID
	Hits    []Hit
	Theta   float64
	Phi     float64
	Xp      float64
	Yp      float64
	Cov     []float64 // len 16 row-major, nil if rejected
}

// NewTrack builds an unidentified track from the fitted line and its hits.
func NewTrack(hits []Hit, line Line) *Track {
	return &Track{
		HitSummary: Summarize(hits),
		ID:         -1,
		EventID:    -1,
		Hits:       hits,
		Theta:      line.Theta,
		Phi:        line.Phi,
		Xp:         line.Xp,
		Yp:         line.Yp,
		Cov:        line.Cov,
	}
}
