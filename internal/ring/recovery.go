package ring

import (
	"github.com/tinkerator/stampdb/internal/codec"
	"github.com/tinkerator/stampdb/internal/meta"
)

// Recover rebuilds the ring's in-RAM state (zone map, head/tail cursors,
// epoch) from flash. It always performs the full footer scan across every
// segment (spec §4.4 step 1) for zone-map correctness; this is the only way
// to populate zone-map entries for segments other than the head, snapshot
// or no snapshot.
//
// Head, tail, and epoch are then seeded in the precedence spec §4.4 steps
// 2-4 name: a CRC-valid snapshot first (step 2); otherwise the segment after
// the one with the largest footer sequence number (step 3), with a
// CRC-valid head hint that falls within the ring used only when no footer
// survived at all; otherwise segment 0 (step 4). This matches `ring_scan_and_recover` in
// `_examples/original_source/src/ring.c`, which assigns `s->head.addr`,
// `s->head.seg_seqno`, `s->tail_seqno`, and `s->epoch_id` directly from
// `snap_opt` when present, and only consults `meta_load_head_hint` in the
// `else` branch.
//
// In every case, the head segment is then probed page by page to find
// exactly where publishing left off (spec §4.4 step 5) — this final probe
// is unconditional and never skipped, because a snapshot or hint only
// identifies the segment, never how many of its pages are already
// published; `ring_scan_and_recover` re-derives `head.page_index` from the
// probe the same way regardless of how `head.addr` was seeded.
//
// The metadata store ms is attached to the ring afterward so subsequent
// Publish calls can save advisory hints through it.
func (r *Ring) Recover(ms *meta.Store) error {
	var (
		haveMaxSeq bool
		maxSeq     uint32
		maxSeqIdx  uint32
	)

	for idx := uint32(0); idx < r.numSegments; idx++ {
		f, ok, err := r.readFooter(idx)
		if err != nil {
			return err
		}
		e := r.zmap[idx]
		if !ok {
			e.Valid = false
			continue
		}
		e.Valid = true
		e.AddrFirst = r.segmentBase(idx)
		e.SeqNo = f.SeqNo
		e.TMin = f.TMin
		e.TMax = f.TMax
		e.BlockCount = f.BlockCount
		e.Series = f.Series
		if !haveMaxSeq || f.SeqNo > maxSeq {
			maxSeq = f.SeqNo
			maxSeqIdx = idx
			haveMaxSeq = true
		}
	}

	// footerHeadIdx/footerHeadSeq is the step 4 fallback: the segment after
	// the largest confirmed footer sequence, or segment 0 with seq 0 if no
	// footer survived anywhere in the ring.
	var footerHeadIdx, footerHeadSeq uint32
	if haveMaxSeq {
		footerHeadIdx = (maxSeqIdx + 1) % r.numSegments
		footerHeadSeq = maxSeq + 1
	}

	var headIdx uint32
	haveSnapshot := false

	snap, snapOK, err := ms.LoadSnapshot()
	if err != nil {
		return err
	}
	if snapOK {
		if idx, ok := r.addrToSegIdx(snap.HeadAddr); ok {
			headIdx = idx
			r.head.SegSeqNo = snap.SegSeqHead
			r.tailSeq = snap.SegSeqTail
			r.epochID = snap.EpochID
			haveSnapshot = true
		}
	}

	if !haveSnapshot {
		usedHint := false
		if hint, ok, err := ms.LoadHint(); err != nil {
			return err
		} else if ok {
			if idx, ok := r.addrToSegIdx(hint.HeadAddr); ok {
				headIdx = idx
				r.head.SegSeqNo = hint.SegSeqNo
				usedHint = true
			}
		}
		if !usedHint || haveMaxSeq {
			// A surviving footer outranks the advisory hint: the footer
			// scan's position wins whenever it found one.
			headIdx = footerHeadIdx
			r.head.SegSeqNo = footerHeadSeq
		}
		if r.head.SegSeqNo >= r.numSegments {
			r.tailSeq = r.head.SegSeqNo - r.numSegments + 1
		} else {
			r.tailSeq = 0
		}
	}

	r.head.Addr = r.segmentBase(headIdx)
	r.head.PageIndex = 0
	if !r.zmap[headIdx].Valid {
		r.zmap[headIdx].Reset(r.head.Addr, r.head.SegSeqNo)
	}
	r.zmap[headIdx].Valid = true

	page := make([]byte, codec.PageSize)
	scanned := 0
	for ; scanned < DataPagesPerSegment; scanned++ {
		addr := r.pageAddr(headIdx, scanned)
		if err := r.flash.ReadAt(addr, page); err != nil {
			return errIO(err, "ring: probe head segment %d page %d", headIdx, scanned)
		}
		header, err := codec.UnpackHeader(page[codec.PayloadSize:codec.PageSize])
		if err != nil {
			break
		}
		payload := page[0:codec.PayloadSize]
		if !codec.VerifyPayloadCRC(payload, header.PayloadCRC) {
			r.stats.CRCErrors++
			break
		}
		deltas, _, err := codec.DecodePayload(payload, header.DtBits, int(header.Count))
		if err != nil {
			break
		}
		tLast := header.T0Ms
		for _, d := range deltas {
			tLast += d
		}
		r.zmap[headIdx].Observe(header.Series, header.T0Ms, tLast)
		r.ObserveTimestamp(tLast)
	}
	r.head.PageIndex = scanned

	if scanned > 0 && scanned < DataPagesPerSegment {
		r.stats.RecoveryTruncations++
	}
	r.head.Addr = r.pageAddr(headIdx, scanned)

	r.AttachMetaStore(ms)

	if scanned == DataPagesPerSegment {
		// Every data page in the head segment was already published; only
		// the footer write (and the erase of the segment after it) never
		// completed. Finish what the interrupted finalize started.
		if err := r.finalizeAndRotate(headIdx); err != nil {
			return err
		}
	}
	return nil
}

// addrToSegIdx validates that addr falls within the ring's address range
// and returns its segment index. A snapshot or hint carrying a stale or
// corrupt address (e.g. from a ring that has since been resized) is
// rejected here rather than trusted, matching `ring_scan_and_recover`'s own
// `hint_addr < usable_bytes` bounds check before trusting a head hint.
func (r *Ring) addrToSegIdx(addr uint32) (uint32, bool) {
	if addr >= r.numSegments*SegmentSize {
		return 0, false
	}
	return r.segmentIndex(addr), true
}
