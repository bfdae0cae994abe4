package reco

import (
	"context"
	"errors"
	"fmt"

	"github.com/larpix-data/reco3d/internal/monitoring"
)

// Stage is one step of a processing cycle. Stages communicate only through
// the Buffers they were constructed with; no stage calls another directly.
type Stage interface {
	Name() string
	// Run executes one cycle's worth of work. A non-nil error aborts the
	// remainder of the cycle; Buffer mutations already committed by earlier
	// stages stand.
	Run() error
	// Finish runs once after the last cycle, flushing carried state.
	Finish() error
}

// Continuer is implemented by stages that can end the run loop, typically
// the reader once its source is exhausted.
type Continuer interface {
	Continue() bool
}

// FatalError marks a stage failure that must stop the pipeline instead of
// being contained to the failing cycle.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Pipeline drives the stages: each cycle purges both buffers (honoring
// holds), then runs every stage in the fixed construction order. Execution
// is single-threaded and cooperative; a stop request takes effect only
// between cycles.
type Pipeline struct {
	active *Buffer
	out    *Buffer
	stages []Stage
	cycles int64
}

// NewPipeline assembles a pipeline over the shared buffers. Stage order is
// execution order; builders must precede the tracker, the tracker the
// writer.
func NewPipeline(active, out *Buffer, stages ...Stage) *Pipeline {
	return &Pipeline{active: active, out: out, stages: stages}
}

// Cycles reports the number of completed processing cycles.
func (p *Pipeline) Cycles() int64 { return p.cycles }

// Cycle executes one processing cycle. Per-stage errors are returned after
// aborting the remainder of the cycle; only a FatalError should stop the
// caller's loop.
func (p *Pipeline) Cycle() error {
	p.active.PurgeCycle()
	p.out.PurgeCycle()
	p.cycles++
	for _, stage := range p.stages {
		if err := stage.Run(); err != nil {
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}
	return nil
}

// Run cycles until the source is exhausted, the context is canceled, or a
// stage fails fatally, then performs the finalize pass exactly once.
// Non-fatal cycle errors are logged and the pipeline continues with the
// next cycle.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			monitoring.Logf("pipeline: stop requested after %d cycles", p.cycles)
			break
		}
		if err := p.Cycle(); err != nil {
			var fatal *FatalError
			if errors.As(err, &fatal) {
				p.finish()
				return err
			}
			monitoring.Logf("pipeline: cycle %d aborted: %v", p.cycles, err)
		}
		if !p.shouldContinue() {
			break
		}
	}
	return p.finish()
}

// finish runs every stage's Finish in order against the buffers exactly as
// the last cycle left them. Errors are logged and do not stop later stages
// from flushing.
func (p *Pipeline) finish() error {
	var firstErr error
	for _, stage := range p.stages {
		if err := stage.Finish(); err != nil {
			monitoring.Logf("pipeline: finish %s: %v", stage.Name(), err)
			if firstErr == nil {
				firstErr = fmt.Errorf("finish %s: %w", stage.Name(), err)
			}
		}
	}
	return firstErr
}

func (p *Pipeline) shouldContinue() bool {
	for _, stage := range p.stages {
		if c, ok := stage.(Continuer); ok && !c.Continue() {
			return false
		}
	}
	return true
}
