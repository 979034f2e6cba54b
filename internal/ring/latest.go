package ring

import "github.com/tinkerator/stampdb/internal/codec"

// QueryLatest returns the most recently published sample for series,
// scanning newest-to-oldest (spec §4.6): the live head segment first, then
// each sealed segment in reverse finalize order, stopping at the first
// matching block. ok is false if series has no retained data at all.
func (r *Ring) QueryLatest(series uint16) (row Row, ok bool, err error) {
	headIdx := r.head.SegSeqNo % r.numSegments

	idx := headIdx
	for steps := uint32(0); steps < r.numSegments; steps++ {
		e := r.zmap[idx]
		pages := DataPagesPerSegment
		if idx == headIdx {
			pages = r.head.PageIndex
		}
		if e.Valid && e.BlockCount > 0 && pages > 0 && e.HasSeries(series) {
			if row, ok, err := r.latestInSegment(idx, pages, series); err != nil {
				return Row{}, false, err
			} else if ok {
				return row, true, nil
			}
		}
		idx = (idx + r.numSegments - 1) % r.numSegments
	}
	return Row{}, false, nil
}

// latestInSegment scans a single segment's pages back to front looking for
// the newest block belonging to series.
func (r *Ring) latestInSegment(idx uint32, pages int, series uint16) (Row, bool, error) {
	page := make([]byte, codec.PageSize)
	for p := pages - 1; p >= 0; p-- {
		addr := r.pageAddr(idx, p)
		if err := r.flash.ReadAt(addr, page); err != nil {
			return Row{}, false, err
		}
		header, err := codec.UnpackHeader(page[codec.PayloadSize:codec.PageSize])
		if err != nil || header.Series != series {
			continue
		}
		payload := page[0:codec.PayloadSize]
		if !codec.VerifyPayloadCRC(payload, header.PayloadCRC) {
			r.stats.CRCErrors++
			continue
		}
		deltas, qvals, err := codec.DecodePayload(payload, header.DtBits, int(header.Count))
		if err != nil || len(qvals) == 0 {
			continue
		}
		ts := header.T0Ms
		for _, d := range deltas {
			ts += d
		}
		last := qvals[len(qvals)-1]
		return Row{Series: series, TimestampMs: ts, Value: header.Bias + float32(last)*header.Scale}, true, nil
	}
	return Row{}, false, nil
}
