package reco

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/larpix-data/reco3d/internal/monitoring"
)

// Point cloud scaling: pixel positions arrive in mm and are fitted in cm;
// timestamps arrive in ns and are fitted in us so the drift axis is
// commensurate with the spatial axes.
const (
	positionScaleMM = 10.0
	timeScaleNS     = 1000.0
)

// HoughTracker extracts straight-line track segments from finalized events.
// The third fit coordinate is the hit time relative to the event start,
// which approximates (but is not) the true interaction time t0; this
// anchoring is preserved from the reference reconstruction.
type HoughTracker struct {
	cfg HoughConfig
	out *Buffer

	found int64
}

// NewHoughTracker returns a tracker operating on the out buffer: it pops
// finalized events, attaches tracks, and pushes both events and tracks back
// for the writer.
func NewHoughTracker(cfg HoughConfig, out *Buffer) *HoughTracker {
	return &HoughTracker{cfg: cfg, out: out}
}

// Name implements Stage.
func (ht *HoughTracker) Name() string { return "hough-tracker" }

// Run reconstructs tracks for every buffered event.
func (ht *HoughTracker) Run() error {
	events := ht.out.PopEvents(-1)
	if len(events) == 0 {
		return nil
	}
	for _, event := range events {
		tracks := ht.extractTracks(event)
		event.Tracks = append(event.Tracks, tracks...)
		ht.out.PushTracks(tracks)
		ht.found += int64(len(tracks))
	}
	ht.out.PushEvents(events)
	return nil
}

// Finish runs one last reconstruction pass over whatever the finalizing
// builders emitted.
func (ht *HoughTracker) Finish() error {
	if err := ht.Run(); err != nil {
		return err
	}
	monitoring.Debugf("hough-tracker: %d tracks found in total", ht.found)
	return nil
}

// HitPoint maps a hit into fit coordinates: pixel position in cm and drift
// time in us relative to the event start tsStart.
func HitPoint(h Hit, tsStart int64) r3.Vec {
	return r3.Vec{
		X: h.PX / positionScaleMM,
		Y: h.PY / positionScaleMM,
		Z: float64(h.TS-tsStart) / timeScaleNS,
	}
}

// extractTracks runs the iterative Hough transform on the event's hit cloud
// and converts each accepted line into a Track owning its inlier hits.
func (ht *HoughTracker) extractTracks(event *Event) []*Track {
	points := make([]r3.Vec, len(event.Hits))
	for i, h := range event.Hits {
		points[i] = HitPoint(h, event.TSStart)
	}
	fits := RunIterativeHough(points, ht.cfg)

	tracks := make([]*Track, 0, len(fits))
	for _, fit := range fits {
		hits := make([]Hit, len(fit.Inliers))
		for i, idx := range fit.Inliers {
			hits[i] = event.Hits[idx]
		}
		tracks = append(tracks, NewTrack(hits, fit.Line))
	}
	return tracks
}
