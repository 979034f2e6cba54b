package ring

import "time"

// GCReclaim evaluates the ring's true segment occupancy and, when free
// segments drop below the busy watermark, reclaims the oldest retained
// segment (spec §4.4 "Retention GC", §8 boundary behaviors). It is called
// once per incoming sample at the engine facade (Engine.Write) — not gated
// on whether this particular write happens to finalize or rotate a
// segment — matching `_examples/original_source/src/stampdb.c:138`, which
// calls `ring_gc_reclaim_if_needed` as the first action of every
// `stampdb_write`, independent of `ring_write_block`'s own unconditional
// (unrate-limited) erase of the next segment on rotation.
//
// "Used" means a zone map entry with at least one published block
// (BlockCount > 0); "free" is every other segment, exactly the
// `s->segs[i].valid && s->segs[i].block_count>0` occupancy scan
// `ring_gc_reclaim_if_needed` performs in `ring.c`. At <10% free,
// GCWarnEvents increments. At <5% free, GCBusyEvents increments and the
// oldest-sequence used segment is erased, subject to the rolling erase-rate
// quota (≤2 erases per second) enforced below.
//
// Spec §4.4 ties reclamation to the <5% busy threshold only ("at <5% free,
// increment a busy counter and reclaim"); `ring_gc_reclaim_if_needed`
// itself actually reclaims any time free is below the 10% warn threshold,
// which would reclaim more aggressively than the spec's own wording
// describes. Since the spec text here is explicit rather than silent, it
// is followed over the original's more aggressive behavior: reclaim is
// gated on the busy (<5%) threshold, not the warn (<10%) one.
func (r *Ring) GCReclaim(now uint64) error {
	free := r.freeSegmentFraction()
	if free < gcWarnFreeFrac {
		r.stats.GCWarnEvents++
	}
	if free >= gcBusyFreeFrac {
		return nil
	}
	r.stats.GCBusyEvents++

	if now < r.gcWindowStart || now-r.gcWindowStart >= gcWindowMs {
		r.gcWindowStart = now
		r.gcErasedInWindow = 0
	}
	if r.gcErasedInWindow >= gcErasesPerWindow {
		if !r.blocking {
			return ErrBusy
		}
		if r.blockUntilWindowRolls() {
			return ErrBusy
		}
	}
	return r.reclaimOldest()
}

// freeSegmentFraction returns the fraction of ring segments holding no
// published block, the occupancy measure spec §4.4 and §8 name.
func (r *Ring) freeSegmentFraction() float64 {
	used := 0
	for _, e := range r.zmap {
		if e.Valid && e.BlockCount > 0 {
			used++
		}
	}
	return float64(int(r.numSegments)-used) / float64(r.numSegments)
}

// reclaimOldest erases the used segment with the smallest sequence number
// (spec §4.4 "Reclamation erases the oldest-sequence-number segment,
// clearing its zone-map entry"), so the ring can write into it again once
// the head eventually rotates there. It leaves the entry's Valid flag and
// AddrFirst/SeqNo untouched and only clears the aggregates (t_min, t_max,
// block_count, series bitmap), matching `ring_gc_reclaim_if_needed`'s own
// reclaim, which clears those same four fields and leaves `valid` and
// `seg_seqno` as they were. It is a no-op if no segment currently holds
// data.
func (r *Ring) reclaimOldest() error {
	haveOldest := false
	var oldestSeq, oldestIdx uint32
	for idx := uint32(0); idx < r.numSegments; idx++ {
		e := r.zmap[idx]
		if e.Valid && e.BlockCount > 0 && (!haveOldest || e.SeqNo < oldestSeq) {
			oldestSeq, oldestIdx, haveOldest = e.SeqNo, idx, true
		}
	}
	if !haveOldest {
		return nil
	}
	if err := r.flash.EraseSector(r.segmentBase(oldestIdx)); err != nil {
		return errIO(err, "ring: gc reclaim erase segment %d", oldestIdx)
	}
	r.gcErasedInWindow++
	e := r.zmap[oldestIdx]
	e.TMin, e.TMax, e.BlockCount = 0, 0, 0
	e.Series.ClearAll()
	return nil
}

// blockUntilWindowRolls busy-waits, in small real-time increments, until the
// GC window rolls over (as observed through r.clock) or gcMaxBlockWait real
// time has elapsed. It returns true if the wait timed out still busy.
func (r *Ring) blockUntilWindowRolls() bool {
	deadline := time.Now().Add(gcMaxBlockWait)
	for time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		now := r.clock.MillisNow()
		if now < r.gcWindowStart || now-r.gcWindowStart >= gcWindowMs {
			r.gcWindowStart = now
			r.gcErasedInWindow = 0
			return false
		}
	}
	return true
}
