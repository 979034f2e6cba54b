package ring

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/tinkerator/stampdb/internal/codec"
	"github.com/tinkerator/stampdb/internal/wraptime"
	"github.com/tinkerator/stampdb/internal/zonemap"
)

// blockOverlaps reports whether a block spanning [tFirst, tLast] can hold a
// sample in the query window [t0, t1] — the same membership rule
// zonemap.Entry.Overlaps uses at the segment level.
func blockOverlaps(tFirst, tLast, t0, t1 uint32) bool {
	return wraptime.WindowsOverlap(tFirst, tLast, t0, t1)
}

// sampleInRange reports whether a single sample timestamp falls in
// [t0, t1] under wrap-aware comparison.
func sampleInRange(ts, t0, t1 uint32) bool {
	return wraptime.InRange(ts, t0, t1)
}

// Row is one decoded, dequantized sample returned by Next.
type Row struct {
	Series      uint16
	TimestampMs uint32
	Value       float32
}

// Iterator walks published blocks in chronological (oldest-to-newest)
// order, skipping segments and pages the zone map and per-block headers
// rule out, per the range-scan algorithm in spec §4.5.
type Iterator struct {
	r      *Ring
	series *bitset.BitSet // nil means "all series"
	t0, t1 uint32

	headIdx   uint32
	stepsLeft uint32 // candidate segments still to consider

	segIdx     uint32 // segment currently being scanned
	pageInSeg  int
	pagesInSeg int // DataPagesPerSegment, or r.head.PageIndex for the live head segment
	inSegment  bool

	pending    []Row
	pendingIdx int

	pagesVisited int
	maxPages     int

	done bool
	err  error
}

// QueryBegin returns an Iterator over samples with timestamps in [t0, t1]
// (inclusive, wrap-aware) belonging to any series in seriesIDs, or to any
// series at all if seriesIDs is empty.
func (r *Ring) QueryBegin(seriesIDs []uint16, t0, t1 uint32) *Iterator {
	var mask *bitset.BitSet
	if len(seriesIDs) > 0 {
		mask = bitset.New(zonemap.SeriesBits)
		for _, s := range seriesIDs {
			mask.Set(uint(s))
		}
	}
	headIdx := r.head.SegSeqNo % r.numSegments
	return &Iterator{
		r:         r,
		series:    mask,
		t0:        t0,
		t1:        t1,
		headIdx:   headIdx,
		stepsLeft: r.numSegments,
		segIdx:    (headIdx + 1) % r.numSegments,
		maxPages:  int(r.numSegments)*DataPagesPerSegment + 1,
	}
}

func (it *Iterator) matchesSeries(series uint16) bool {
	return it.series == nil || it.series.Test(uint(series))
}

// nextSegment advances to the next candidate segment whose zone map entry
// does not already rule it out entirely (spec §4.5 skip rules 1-3).
// Returns false once every segment has been considered.
func (it *Iterator) nextSegment() bool {
	for it.stepsLeft > 0 {
		idx := it.segIdx
		it.stepsLeft--
		it.segIdx = (it.segIdx + 1) % it.r.numSegments

		e := it.r.zmap[idx]
		if !e.Valid || e.BlockCount == 0 {
			continue
		}
		if it.series != nil && e.Series.IntersectionCardinality(it.series) == 0 {
			continue
		}
		if !e.Overlaps(it.t0, it.t1) {
			continue
		}

		pagesInSeg := DataPagesPerSegment
		if idx == it.headIdx {
			pagesInSeg = it.r.head.PageIndex
		}
		if pagesInSeg == 0 {
			continue
		}
		it.segIdx, it.pagesInSeg, it.pageInSeg = idx, pagesInSeg, 0
		it.inSegment = true
		return true
	}
	return false
}

// fillNextBlock decodes the next page in the current segment into
// it.pending, skipping pages that fail the block-level series/time filter.
// A page whose header or payload does not validate ends the scan of the
// current segment: its remaining pages are not read. It returns false when
// the current segment is exhausted or abandoned (the caller should call
// nextSegment again).
func (it *Iterator) fillNextBlock() (bool, error) {
	for it.inSegment && it.pageInSeg < it.pagesInSeg {
		if it.pagesVisited >= it.maxPages {
			return false, nil
		}
		addr := it.r.pageAddr(it.segIdx, it.pageInSeg)
		it.pageInSeg++
		it.pagesVisited++

		page := make([]byte, codec.PageSize)
		if err := it.r.flash.ReadAt(addr, page); err != nil {
			return false, err
		}
		header, err := codec.UnpackHeader(page[codec.PayloadSize:codec.PageSize])
		if err != nil {
			// A header that doesn't verify (e.g. a torn write) means the
			// rest of the segment can't be trusted either: abandon it
			// rather than risk yielding blocks past a power-cut tear
			// (spec §4.5, §7).
			break
		}
		if !it.matchesSeries(header.Series) {
			continue
		}
		payload := page[0:codec.PayloadSize]
		if !codec.VerifyPayloadCRC(payload, header.PayloadCRC) {
			it.r.stats.CRCErrors++
			break // abandon this segment; do not yield partial rows from it
		}
		deltas, qvals, err := codec.DecodePayload(payload, header.DtBits, int(header.Count))
		if err != nil {
			break
		}
		ts := header.T0Ms
		tLast := ts
		for _, d := range deltas {
			tLast += d
		}
		if !blockOverlaps(ts, tLast, it.t0, it.t1) {
			continue
		}

		rows := make([]Row, 0, len(deltas))
		for i, d := range deltas {
			if i > 0 {
				ts += d
			}
			if sampleInRange(ts, it.t0, it.t1) {
				rows = append(rows, Row{
					Series:      header.Series,
					TimestampMs: ts,
					Value:       header.Bias + float32(qvals[i])*header.Scale,
				})
			}
		}
		if len(rows) == 0 {
			continue
		}
		it.pending = rows
		it.pendingIdx = 0
		return true, nil
	}
	it.inSegment = false
	return false, nil
}

// Next returns the next matching row. ok is false once the iterator is
// exhausted; err is non-nil only on an unrecoverable flash read failure.
func (it *Iterator) Next() (row Row, ok bool, err error) {
	if it.done {
		return Row{}, false, it.err
	}
	for {
		if it.pendingIdx < len(it.pending) {
			row = it.pending[it.pendingIdx]
			it.pendingIdx++
			return row, true, nil
		}
		if it.inSegment {
			got, err := it.fillNextBlock()
			if err != nil {
				it.done, it.err = true, err
				return Row{}, false, err
			}
			if got {
				continue
			}
		}
		if !it.nextSegment() {
			it.done = true
			return Row{}, false, nil
		}
	}
}

// Close releases the iterator. Range queries over a flash-backed ring hold
// no resources beyond the Iterator value itself, so Close is a no-op kept
// as the counterpart of QueryBegin.
func (it *Iterator) Close() error { return nil }
