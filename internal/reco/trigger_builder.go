package reco

import (
	"errors"

	"github.com/larpix-data/reco3d/internal/monitoring"
)

// ChannelKey addresses a single detector channel.
type ChannelKey struct {
	ChipID    int
	ChannelID int
}

// TriggerBuilderConfig configures the trigger builder. ChannelMask lists the
// channels that must all fire within DTCut for a coincidence; it maps chip ID
// to the externally triggered channels on that chip.
type TriggerBuilderConfig struct {
	ChannelMask map[int][]int
	DTCut       int64 // max pairwise hit separation within a run (ns)
	Delay       int64 // real-time trigger to channel response offset (ns)
}

// ErrNoChannelMask is returned when a TriggerBuilder is constructed without
// any masked channels. This is a fatal configuration error: without a mask no
// run can ever qualify as a coincidence.
var ErrNoChannelMask = errors.New("reco: trigger builder requires a non-empty channel mask")

// TriggerBuilder assembles buffered hits into ExternalTrigger records. A
// coincidence is a run of hits in which every pair is separated by less than
// DTCut (the bound applies to the full run span, not just consecutive gaps)
// and whose hits cover the entire channel mask.
type TriggerBuilder struct {
	mask   map[ChannelKey]struct{}
	dtCut  int64
	delay  int64
	active *Buffer
	out    *Buffer

	built int64
}

// NewTriggerBuilder validates the configuration and returns a builder
// operating on the active buffer, publishing new triggers to both the active
// buffer (for same-cycle association) and the out buffer (for persistence).
func NewTriggerBuilder(cfg TriggerBuilderConfig, active, out *Buffer) (*TriggerBuilder, error) {
	mask := make(map[ChannelKey]struct{})
	for chip, channels := range cfg.ChannelMask {
		for _, ch := range channels {
			mask[ChannelKey{ChipID: chip, ChannelID: ch}] = struct{}{}
		}
	}
	if len(mask) == 0 {
		return nil, ErrNoChannelMask
	}
	return &TriggerBuilder{
		mask:   mask,
		dtCut:  cfg.DTCut,
		delay:  cfg.Delay,
		active: active,
		out:    out,
	}, nil
}

// Name implements Stage.
func (tb *TriggerBuilder) Name() string { return "trigger-builder" }

// Run drains the buffered hits (oldest first), extracts coincidences, and
// pushes skipped hits, the still-open trailing run, and any new triggers back
// to the buffer. A non-empty trailing run requests a hold on the Hit kind so
// next cycle's hits can extend it.
func (tb *TriggerBuilder) Run() error {
	hits := tb.active.PopHits(-1)
	if len(hits) == 0 {
		return nil
	}
	triggers, skipped, remaining := tb.findTriggers(hits)
	if len(remaining) > 0 {
		tb.active.RequestHold(KindHit)
	}
	tb.active.PushHits(skipped)
	tb.active.PushHits(remaining)
	tb.active.PushTriggers(triggers)
	tb.out.PushTriggers(triggers)
	tb.built += int64(len(triggers))
	return nil
}

// Finish performs one last pass, also testing the trailing run for coverage
// since no later hit can arrive to close it. Leftover hits go back to the
// buffer for the event builder's finalization.
func (tb *TriggerBuilder) Finish() error {
	hits := tb.active.PopHits(-1)
	if len(hits) == 0 {
		return nil
	}
	triggers, skipped, remaining := tb.findTriggers(hits)
	if len(remaining) > 0 && tb.covers(remaining) {
		members, rejects := tb.splitByMask(remaining)
		triggers = append(triggers, tb.newTrigger(members))
		remaining = rejects
	}
	tb.active.PushHits(skipped)
	tb.active.PushHits(remaining)
	tb.active.PushTriggers(triggers)
	tb.out.PushTriggers(triggers)
	tb.built += int64(len(triggers))
	monitoring.Debugf("trigger-builder: %d triggers built in total", tb.built)
	return nil
}

// joins reports whether hit may extend the run: every hit already in the run
// must lie within dtCut of it.
func (tb *TriggerBuilder) joins(hit Hit, run []Hit) bool {
	for _, other := range run {
		dt := hit.TS - other.TS
		if dt < 0 {
			dt = -dt
		}
		if dt >= tb.dtCut {
			return false
		}
	}
	return true
}

// covers reports whether the run's hits fire every masked channel.
func (tb *TriggerBuilder) covers(run []Hit) bool {
	if len(run) == 0 {
		return false
	}
	seen := make(map[ChannelKey]struct{}, len(run))
	for _, h := range run {
		seen[ChannelKey{ChipID: h.ChipID, ChannelID: h.ChannelID}] = struct{}{}
	}
	for key := range tb.mask {
		if _, ok := seen[key]; !ok {
			return false
		}
	}
	return true
}

// splitByMask divides a run into mask members and the rest.
func (tb *TriggerBuilder) splitByMask(run []Hit) (members, rest []Hit) {
	for _, h := range run {
		if _, ok := tb.mask[ChannelKey{ChipID: h.ChipID, ChannelID: h.ChannelID}]; ok {
			members = append(members, h)
		} else {
			rest = append(rest, h)
		}
	}
	return members, rest
}

func (tb *TriggerBuilder) newTrigger(members []Hit) *ExternalTrigger {
	return &ExternalTrigger{
		ID:    -1,
		TS:    Summarize(members).TSStart,
		Delay: tb.delay,
	}
}

// findTriggers walks the hits (assumed chronological) maintaining the current
// run. When a hit fails the pairwise test the run closes: a covering run is
// split into trigger members and skipped non-members, a non-covering run is
// discarded whole to the skipped pool. The failing hit starts the next run.
// The still-open trailing run is returned separately.
func (tb *TriggerBuilder) findTriggers(hits []Hit) (triggers []*ExternalTrigger, skipped, remaining []Hit) {
	var run []Hit
	for _, hit := range hits {
		switch {
		case tb.joins(hit, run):
			run = append(run, hit)
		case tb.covers(run):
			members, rest := tb.splitByMask(run)
			skipped = append(skipped, rest...)
			triggers = append(triggers, tb.newTrigger(members))
			run = []Hit{hit}
		default:
			skipped = append(skipped, run...)
			run = []Hit{hit}
		}
	}
	return triggers, skipped, run
}
