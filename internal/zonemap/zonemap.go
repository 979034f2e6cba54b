// Package zonemap holds the in-RAM per-segment summaries the ring uses to
// skip irrelevant segments during range queries and latest lookups. Each
// Entry mirrors a segment footer (or, for the still-open head segment, the
// footer a finalize would produce) plus a validity flag and a 256-bit
// series-presence bitmap.
package zonemap

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/tinkerator/stampdb/internal/wraptime"
)

// SeriesBits is the width of the series-presence bitmap: one bit per
// possible series id (0..255).
const SeriesBits = 256

// Entry summarizes one ring segment.
type Entry struct {
	Valid      bool
	AddrFirst  uint32
	SeqNo      uint32
	TMin       uint32
	TMax       uint32
	BlockCount uint32
	Series     *bitset.BitSet
}

// NewEntry returns an invalid, zeroed entry ready to be reset.
func NewEntry() *Entry {
	return &Entry{Series: bitset.New(SeriesBits)}
}

// NewArray allocates n zeroed entries, one per ring segment.
func NewArray(n int) []*Entry {
	arr := make([]*Entry, n)
	for i := range arr {
		arr[i] = NewEntry()
	}
	return arr
}

// Reset reinitializes the entry for a freshly erased segment that is about
// to become (or already is) the head segment.
func (e *Entry) Reset(addrFirst uint32, seqNo uint32) {
	e.Valid = false
	e.AddrFirst = addrFirst
	e.SeqNo = seqNo
	e.TMin = 0
	e.TMax = 0
	e.BlockCount = 0
	e.Series.ClearAll()
}

// Observe folds one published block's header into the entry: it widens
// (t_min, t_max) under wrap-aware ordering, sets the series bit, and bumps
// the block count. The very first observation in a fresh entry seeds
// t_min/t_max directly rather than widening, since there is nothing to
// compare against yet.
func (e *Entry) Observe(series uint16, tFirst, tLast uint32) {
	if e.BlockCount == 0 {
		e.TMin = tFirst
		e.TMax = tLast
	} else {
		if !wraptime.Le(e.TMin, tFirst) {
			e.TMin = tFirst
		}
		if !wraptime.Le(tLast, e.TMax) {
			e.TMax = tLast
		}
	}
	e.Series.Set(uint(series))
	e.BlockCount++
}

// HasSeries reports whether any published block in this segment belongs to
// series.
func (e *Entry) HasSeries(series uint16) bool {
	return e.Series.Test(uint(series))
}

// Overlaps reports whether this segment's (t_min, t_max) window can
// possibly hold a sample in [t0, t1], per the spec's membership rule: a
// segment is in range iff either of its own endpoints falls inside the
// query window, or the query window's start falls inside the segment's
// window. Both orderings are evaluated under modular (wrap-aware) time
// comparison.
func (e *Entry) Overlaps(t0, t1 uint32) bool {
	return wraptime.InRange(e.TMin, t0, t1) || wraptime.InRange(e.TMax, t0, t1) || wraptime.InRange(t0, e.TMin, e.TMax)
}
