package reco

import (
	"errors"
	"io"

	"github.com/larpix-data/reco3d/internal/monitoring"
)

// HitSource is the ingestion boundary. Implementations must deliver hits in
// non-decreasing timestamp order (the clustering stages assume it) and
// return io.EOF (possibly alongside a final batch) once the stream is
// exhausted.
type HitSource interface {
	NextHits(max int) ([]Hit, error)
}

// HitReader moves batches of hits from a HitSource into the active buffer.
type HitReader struct {
	src    HitSource
	batch  int
	active *Buffer

	done bool
	read int64
}

// NewHitReader returns a reader pulling up to batch hits per cycle. batch
// <= 0 reads the entire remaining stream on the first cycle.
func NewHitReader(src HitSource, batch int, active *Buffer) *HitReader {
	return &HitReader{src: src, batch: batch, active: active}
}

// Name implements Stage.
func (r *HitReader) Name() string { return "hit-reader" }

// Run pushes the next batch into the active buffer. Source failures other
// than end-of-stream are fatal: without ingest the run cannot make progress.
func (r *HitReader) Run() error {
	if r.done {
		return nil
	}
	hits, err := r.src.NextHits(r.batch)
	r.active.PushHits(hits)
	r.read += int64(len(hits))
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.done = true
			return nil
		}
		return &FatalError{Err: err}
	}
	return nil
}

// Finish implements Stage.
func (r *HitReader) Finish() error {
	monitoring.Debugf("hit-reader: %d hits read in total", r.read)
	return nil
}

// Continue implements Continuer: the run loop ends once the source reports
// end-of-stream.
func (r *HitReader) Continue() bool { return !r.done }
