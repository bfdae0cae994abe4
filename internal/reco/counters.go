package reco

import "github.com/larpix-data/reco3d/internal/monitoring"

// CycleCounter tallies the records passing through the active buffer and
// logs running totals on a fixed cycle interval. Purely observational: it
// only peeks.
type CycleCounter struct {
	active   *Buffer
	interval int64

	cycles int64
	totals [numKinds]int64
}

// NewCycleCounter logs every interval cycles; interval <= 0 disables
// periodic output, leaving only the final summary.
func NewCycleCounter(active *Buffer, interval int64) *CycleCounter {
	return &CycleCounter{active: active, interval: interval}
}

// Name implements Stage.
func (c *CycleCounter) Name() string { return "cycle-counter" }

// Run implements Stage.
func (c *CycleCounter) Run() error {
	c.cycles++
	for k := Kind(0); k < numKinds; k++ {
		c.totals[k] += int64(c.active.Len(k))
	}
	if c.interval > 0 && c.cycles%c.interval == 0 {
		c.log()
	}
	return nil
}

// Finish implements Stage.
func (c *CycleCounter) Finish() error {
	c.log()
	return nil
}

func (c *CycleCounter) log() {
	monitoring.Logf("counter: %d cycles, buffered records seen: hit=%d trigger=%d event=%d track=%d",
		c.cycles, c.totals[KindHit], c.totals[KindTrigger], c.totals[KindEvent], c.totals[KindTrack])
}
