package reco

// stack is an insertion-ordered container with LIFO extraction. The n
// argument to pop and peek follows the Buffer contract: n == -1 drains in
// chronological (insertion) order, n > 0 returns the n most recently
// inserted items newest-first, clamped to the available count.
type stack[T any] struct {
	items []T
}

func (s *stack[T]) push(items ...T) {
	s.items = append(s.items, items...)
}

func (s *stack[T]) take(n int, remove bool) []T {
	if n == 0 || len(s.items) == 0 {
		return nil
	}
	if n < 0 {
		out := make([]T, len(s.items))
		copy(out, s.items)
		if remove {
			s.items = s.items[:0]
		}
		return out
	}
	if n > len(s.items) {
		n = len(s.items)
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = s.items[len(s.items)-1-i]
	}
	if remove {
		s.items = s.items[:len(s.items)-n]
	}
	return out
}

func (s *stack[T]) pop(n int) []T  { return s.take(n, true) }
func (s *stack[T]) peek(n int) []T { return s.take(n, false) }
func (s *stack[T]) len() int       { return len(s.items) }
func (s *stack[T]) clear()         { s.items = s.items[:0] }

// Buffer is the single shared container the pipeline stages communicate
// through: one insertion-ordered stack per record kind. At every cycle
// boundary PurgeCycle clears each kind unless a hold was requested for it
// during the cycle; holds expire after exactly one boundary and must be
// re-requested to persist further. Failing to re-request a hold silently
// drops the buffered state; the builders rely on this to express "nothing
// left to carry forward".
//
// The Buffer is not safe for concurrent use. The pipeline driver owns it
// and stages mutate it strictly in sequence.
type Buffer struct {
	hits     stack[Hit]
	triggers stack[*ExternalTrigger]
	events   stack[*Event]
	tracks   stack[*Track]
	holds    [numKinds]bool
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// PushHits appends hits in the given order. No-op on an empty slice.
func (b *Buffer) PushHits(hits []Hit) { b.hits.push(hits...) }

// PopHits removes and returns buffered hits; see stack for the n contract.
func (b *Buffer) PopHits(n int) []Hit { return b.hits.pop(n) }

// PeekHits is PopHits without removal.
func (b *Buffer) PeekHits(n int) []Hit { return b.hits.peek(n) }

// PushTriggers appends triggers in the given order.
func (b *Buffer) PushTriggers(trigs []*ExternalTrigger) { b.triggers.push(trigs...) }

// PopTriggers removes and returns buffered triggers.
func (b *Buffer) PopTriggers(n int) []*ExternalTrigger { return b.triggers.pop(n) }

// PeekTriggers is PopTriggers without removal.
func (b *Buffer) PeekTriggers(n int) []*ExternalTrigger { return b.triggers.peek(n) }

// PushEvents appends events in the given order.
func (b *Buffer) PushEvents(events []*Event) { b.events.push(events...) }

// PopEvents removes and returns buffered events.
func (b *Buffer) PopEvents(n int) []*Event { return b.events.pop(n) }

// PeekEvents is PopEvents without removal.
func (b *Buffer) PeekEvents(n int) []*Event { return b.events.peek(n) }

// PushTracks appends tracks in the given order.
func (b *Buffer) PushTracks(tracks []*Track) { b.tracks.push(tracks...) }

// PopTracks removes and returns buffered tracks.
func (b *Buffer) PopTracks(n int) []*Track { return b.tracks.pop(n) }

// PeekTracks is PopTracks without removal.
func (b *Buffer) PeekTracks(n int) []*Track { return b.tracks.peek(n) }

// Len reports the number of buffered records of the given kind.
func (b *Buffer) Len(k Kind) int {
	switch k {
	case KindHit:
		return b.hits.len()
	case KindTrigger:
		return b.triggers.len()
	case KindEvent:
		return b.events.len()
	case KindTrack:
		return b.tracks.len()
	}
	return 0
}

// RequestHold marks kind k to survive the next PurgeCycle. The hold is
// consumed by that purge; persisting further requires a new request each
// cycle.
func (b *Buffer) RequestHold(k Kind) {
	if k < numKinds {
		b.holds[k] = true
	}
}

// PurgeCycle runs the cycle-boundary refresh: every kind without a hold is
// cleared, and all hold flags reset.
func (b *Buffer) PurgeCycle() {
	if !b.holds[KindHit] {
		b.hits.clear()
	}
	if !b.holds[KindTrigger] {
		b.triggers.clear()
	}
	if !b.holds[KindEvent] {
		b.events.clear()
	}
	if !b.holds[KindTrack] {
		b.tracks.clear()
	}
	for k := range b.holds {
		b.holds[k] = false
	}
}
