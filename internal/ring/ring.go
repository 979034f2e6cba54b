// Package ring implements StampDB's segment ring: the erase-and-write
// cyclic array of 4 KiB flash segments that holds every published block,
// plus the recovery, retention-GC, range-iteration, and latest-query logic
// that operate over it. These are kept in one package because they all
// close over the same head/tail cursors and zone map — the teacher keeps
// an analogous cluster of operations (Read, Write, reset, validate) as
// methods on one QF receiver rather than splitting them across packages
// (_examples/tinkerator-qftool, qftool.go).
package ring

import (
	"time"

	"github.com/pkg/errors"

	"github.com/tinkerator/stampdb/internal/codec"
	"github.com/tinkerator/stampdb/internal/meta"
	"github.com/tinkerator/stampdb/internal/wraptime"
	"github.com/tinkerator/stampdb/internal/zonemap"
	"github.com/tinkerator/stampdb/platform"
)

const (
	// SegmentSize is the erase unit: one 4 KiB sector.
	SegmentSize = 4096
	// PagesPerSegment is the number of 256 B pages in a segment.
	PagesPerSegment = 16
	// DataPagesPerSegment is the number of block slots in a segment; the
	// last page is the footer.
	DataPagesPerSegment = PagesPerSegment - 1

	gcWindowMs      = 1000
	gcErasesPerWindow = 2
	// gcWarnFreeFrac and gcBusyFreeFrac are fractions of free (unused)
	// ring segments — physical occupancy, not erase-quota headroom. See
	// GCReclaim in gc.go.
	gcWarnFreeFrac = 0.10
	gcBusyFreeFrac = 0.05
	gcMaxBlockWait = 1000 * time.Millisecond
)

// Head identifies the next free page to publish into.
type Head struct {
	Addr       uint32
	PageIndex  int
	SegSeqNo   uint32
}

// Stats mirrors the counters the engine facade's Info() call exposes
// (spec §6.1).
type Stats struct {
	SegSeqHead          uint32
	SegSeqTail          uint32
	BlocksWritten        uint64
	CRCErrors            uint64
	GCWarnEvents         uint64
	GCBusyEvents         uint64
	RecoveryTruncations  uint64
}

// Ring owns the segment array, the zone map, and the head/tail cursors.
type Ring struct {
	flash platform.Flash
	clock platform.Clock

	numSegments uint32
	blocking    bool

	zmap []*zonemap.Entry

	head     Head
	tailSeq  uint32
	epochID  uint32
	lastObservedTs uint32
	haveLastTs     bool

	gcWindowStart    uint64
	gcErasedInWindow int

	hintBlocksSince int
	hintLastMs      uint64

	metaStore *meta.Store

	stats Stats
}

// AttachMetaStore wires the metadata store Recover used (or a fresh one, for
// a brand-new flash image) so Publish can save advisory hints through it.
// Snapshots are saved by the engine facade through the store directly, not
// through the ring. It is separate from New
// because a Ring used only to exercise the iterator or GC logic in isolation
// need not have one.
func (r *Ring) AttachMetaStore(ms *meta.Store) { r.metaStore = ms }

// New returns a Ring over a flash device whose first numSegments*SegmentSize
// bytes are the ring; the caller is responsible for reserving the metadata
// region beyond it (spec §6.3). The ring is not usable until Recover has
// run.
func New(flash platform.Flash, clock platform.Clock, numSegments uint32, blocking bool) *Ring {
	return &Ring{
		flash:       flash,
		clock:       clock,
		numSegments: numSegments,
		blocking:    blocking,
		zmap:        zonemap.NewArray(int(numSegments)),
	}
}

// NumSegments returns the ring's segment count.
func (r *Ring) NumSegments() uint32 { return r.numSegments }

func (r *Ring) segmentBase(idx uint32) uint32 { return idx * SegmentSize }

func (r *Ring) segmentIndex(addr uint32) uint32 { return addr / SegmentSize }

func (r *Ring) footerAddr(idx uint32) uint32 {
	return r.segmentBase(idx) + DataPagesPerSegment*codec.PageSize
}

func (r *Ring) pageAddr(idx uint32, page int) uint32 {
	return r.segmentBase(idx) + uint32(page)*codec.PageSize
}

// Head returns a copy of the ring's current head cursor.
func (r *Ring) Head() Head { return r.head }

// TailSeq returns the sequence number of the oldest retained segment.
func (r *Ring) TailSeq() uint32 { return r.tailSeq }

// EpochID returns the current wraparound epoch counter.
func (r *Ring) EpochID() uint32 { return r.epochID }

// Stats returns a snapshot of the ring's counters, with the live head/tail
// sequence numbers folded in.
func (r *Ring) Stats() Stats {
	s := r.stats
	s.SegSeqHead = r.head.SegSeqNo
	s.SegSeqTail = r.tailSeq
	return s
}

// ObserveTimestamp feeds a newly-written sample's timestamp into the
// epoch tracker. It bumps EpochID when ts appears to have wrapped backward
// by more than 2^31 ms since the last observed sample (spec §3 "Epoch"),
// and is called once per sample by the writer, not once per block.
func (r *Ring) ObserveTimestamp(ts uint32) {
	if r.haveLastTs && ts < r.lastObservedTs && wraptime.Le(r.lastObservedTs, ts) {
		r.epochID++
	}
	r.lastObservedTs = ts
	r.haveLastTs = true
}

// ZoneMapEntry exposes the zone map entry for segment idx (0 <= idx <
// NumSegments), for tests and diagnostics; the iterator and latest-query
// logic in this package read the zone map directly.
func (r *Ring) ZoneMapEntry(idx uint32) *zonemap.Entry { return r.zmap[idx] }

// SnapshotFields returns the (epoch, head-seq, tail-seq, head-addr) tuple
// the metadata store persists.
func (r *Ring) SnapshotFields() meta.Snapshot {
	return meta.Snapshot{
		EpochID:    r.epochID,
		SegSeqHead: r.head.SegSeqNo,
		SegSeqTail: r.tailSeq,
		HeadAddr:   r.head.Addr,
	}
}

// HintFields returns the (head-addr, head-seq) tuple the advisory hint
// sector persists.
func (r *Ring) HintFields() meta.Hint {
	return meta.Hint{HeadAddr: r.head.Addr, SegSeqNo: r.head.SegSeqNo}
}

// errIO wraps a low-level flash failure with the ring-level context callers
// need to tell it apart from a CRC or capacity failure.
func errIO(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
