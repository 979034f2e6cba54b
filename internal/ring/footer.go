package ring

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"github.com/tinkerator/stampdb/internal/codec"
	"github.com/tinkerator/stampdb/internal/crc32c"
	"github.com/tinkerator/stampdb/internal/zonemap"
)

// footer is the decoded form of a segment's trailing page: the aggregate
// (t_min, t_max, block count, series bitmap) a finalized segment carries so
// recovery and range queries never need to re-scan its 15 data pages.
type footer struct {
	SeqNo      uint32
	TMin       uint32
	TMax       uint32
	BlockCount uint32
	Series     *bitset.BitSet
}

// readFooter reads and validates the footer page for segment idx. ok is
// false (with a nil error) whenever the page is not a well-formed, CRC-valid
// footer — an erased page, a torn write, or a stale footer from a segment's
// previous lifetime that happens to read back as garbage all look the same
// to a caller: "this segment has no confirmed footer."
func (r *Ring) readFooter(idx uint32) (f footer, ok bool, err error) {
	page := make([]byte, codec.PageSize)
	if err := r.flash.ReadAt(r.footerAddr(idx), page); err != nil {
		return footer{}, false, errors.Wrapf(err, "ring: read footer for segment %d", idx)
	}
	if binary.LittleEndian.Uint32(page[0:4]) != footerMagic {
		return footer{}, false, nil
	}
	gotCRC := crc32c.Checksum(page[0:footerCRCOffset])
	wantCRC := binary.LittleEndian.Uint32(page[footerCRCOffset : footerCRCOffset+4])
	if gotCRC != wantCRC {
		return footer{}, false, nil
	}
	f.SeqNo = binary.LittleEndian.Uint32(page[4:8])
	f.TMin = binary.LittleEndian.Uint32(page[8:12])
	f.TMax = binary.LittleEndian.Uint32(page[12:16])
	f.BlockCount = binary.LittleEndian.Uint32(page[16:20])
	f.Series = bitset.New(zonemap.SeriesBits)
	if err := f.Series.UnmarshalBinary(page[20 : 20+zonemapBitmapBytes]); err != nil {
		return footer{}, false, nil
	}
	return f, true, nil
}
