package ring

import (
	"encoding/binary"

	"github.com/tinkerator/stampdb/internal/codec"
	"github.com/tinkerator/stampdb/internal/crc32c"
)

// ErrBusy is returned by GCReclaim when the occupancy-based retention GC
// needs to reclaim a segment but the erase-rate quota is exhausted and the
// ring was configured non-blocking (spec §6.4, §7).
var ErrBusy = errBusy{}

type errBusy struct{}

func (errBusy) Error() string { return "ring: busy, GC erase quota exhausted" }

const footerMagic uint32 = 0x53464731 // 'SFG1'

// Publish writes one block to the current head page using the header-last,
// power-cut-safe two-phase program sequence (spec §4.4): first the 224 B
// payload with the header region left 0xFF, then the header over the
// previously-0xFF header region. A crash between the two phases, or during
// the second, leaves an unpublished (ignorable) block, never a corrupt
// one, because NOR programming only ever clears bits.
//
// header.PayloadCRC must already be set from payload's own checksum, and
// tLast must be the timestamp of the block's final sample (for the zone
// map's (t_min, t_max) tracking) — ring has no way to derive it from an
// already-encoded payload without redundantly decoding it.
func (r *Ring) Publish(header codec.Header, payload []byte, tLast uint32) error {
	if len(payload) != codec.PayloadSize {
		return errIO(nil, "ring: payload must be %d bytes, got %d", codec.PayloadSize, len(payload))
	}

	addr := r.head.Addr

	phase1 := make([]byte, codec.PageSize)
	copy(phase1, payload)
	for i := codec.PayloadSize; i < codec.PageSize; i++ {
		phase1[i] = 0xFF
	}
	if err := r.flash.ProgramPage(addr, phase1); err != nil {
		return errIO(err, "ring: program payload phase at 0x%08x", addr)
	}

	phase2 := make([]byte, codec.PageSize)
	for i := 0; i < codec.PayloadSize; i++ {
		phase2[i] = 0xFF
	}
	headerBytes := make([]byte, codec.HeaderSize)
	if err := codec.PackHeader(headerBytes, header); err != nil {
		return errIO(err, "ring: pack header")
	}
	copy(phase2[codec.PayloadSize:], headerBytes)
	if err := r.flash.ProgramPage(addr, phase2); err != nil {
		return errIO(err, "ring: program header phase at 0x%08x", addr)
	}

	segIdx := r.segmentIndex(addr)
	r.zmap[segIdx].Valid = true
	r.zmap[segIdx].Observe(header.Series, header.T0Ms, tLast)

	r.stats.BlocksWritten++
	r.head.PageIndex++
	r.head.Addr += codec.PageSize

	r.maybeSaveHint()

	if r.head.PageIndex == DataPagesPerSegment {
		if err := r.finalizeAndRotate(segIdx); err != nil {
			return err
		}
	}
	return nil
}

// finalizeAndRotate seals the just-filled segment (writing its footer from
// the zone map entry Publish has already been accumulating into), erases
// the next segment, and moves the head cursor there.
func (r *Ring) finalizeAndRotate(segIdx uint32) error {
	zm := r.zmap[segIdx]
	footerPage := make([]byte, codec.PageSize)
	for i := range footerPage {
		footerPage[i] = 0xFF
	}
	binary.LittleEndian.PutUint32(footerPage[0:4], footerMagic)
	binary.LittleEndian.PutUint32(footerPage[4:8], r.head.SegSeqNo)
	binary.LittleEndian.PutUint32(footerPage[8:12], zm.TMin)
	binary.LittleEndian.PutUint32(footerPage[12:16], zm.TMax)
	binary.LittleEndian.PutUint32(footerPage[16:20], zm.BlockCount)
	bitmapBytes, err := zm.Series.MarshalBinary()
	if err != nil {
		return errIO(err, "ring: marshal series bitmap for segment %d", segIdx)
	}
	copy(footerPage[20:20+len(bitmapBytes)], bitmapBytes)
	crc := crc32c.Checksum(footerPage[0:footerCRCOffset])
	binary.LittleEndian.PutUint32(footerPage[footerCRCOffset:footerCRCOffset+4], crc)

	if err := r.flash.ProgramPage(r.footerAddr(segIdx), footerPage); err != nil {
		return errIO(err, "ring: write footer for segment %d", segIdx)
	}

	nextIdx := (segIdx + 1) % r.numSegments
	if err := r.flash.EraseSector(r.segmentBase(nextIdx)); err != nil {
		return errIO(err, "ring: erase segment %d", nextIdx)
	}
	r.head.SegSeqNo++
	if r.head.SegSeqNo >= r.numSegments {
		r.tailSeq = r.head.SegSeqNo - r.numSegments + 1
	}
	r.head.Addr = r.segmentBase(nextIdx)
	r.head.PageIndex = 0
	r.zmap[nextIdx].Reset(r.head.Addr, r.head.SegSeqNo)
	r.zmap[nextIdx].Valid = true
	return nil
}

// maybeSaveHint persists the advisory head-hint record after every 64
// published blocks or 2000 ms since the last hint, whichever comes first
// (spec §4.4 "Head-hint cadence"). It is a no-op if no metadata store has
// been attached (e.g. a Ring used purely for codec-level unit tests).
func (r *Ring) maybeSaveHint() {
	if r.metaStore == nil {
		return
	}
	r.hintBlocksSince++
	now := r.clock.MillisNow()
	if r.hintBlocksSince < 64 && now-r.hintLastMs < 2000 {
		return
	}
	// Best-effort: the hint is advisory, so a save failure here does not
	// fail the write that triggered it.
	_ = r.metaStore.SaveHint(r.HintFields())
	r.hintBlocksSince = 0
	r.hintLastMs = now
}

const footerCRCOffset = 20 + zonemapBitmapBytes
// zonemapBitmapBytes is the size of bitset.MarshalBinary's encoding of the
// 256-bit series bitmap: an 8-byte length prefix plus four 64-bit words.
const zonemapBitmapBytes = 8 + 32
