package ring

import (
	"testing"
	"time"

	"github.com/tinkerator/stampdb/internal/meta"
	"github.com/tinkerator/stampdb/internal/simflash"
)

// newGCTestRing returns a recovered, empty ring with numSegments segments,
// sized generously so occupancy fractions land on clean percentage
// boundaries (numSegments=20 gives 5%-per-segment granularity).
func newGCTestRing(t *testing.T, numSegments uint32, blocking bool) (*Ring, *simflash.Flash, *simflash.Clock) {
	t.Helper()
	size := numSegments*SegmentSize + meta.Reserved
	fl, err := simflash.New(size)
	if err != nil {
		t.Fatalf("simflash.New: %v", err)
	}
	clk := simflash.NewClock(0)
	ms := meta.NewStore(fl, size-meta.Reserved)
	r := New(fl, clk, numSegments, blocking)
	if err := r.Recover(ms); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	return r, fl, clk
}

// markUsed directly marks segment idx as holding data with sequence number
// seq, via the exported zone map accessor, so occupancy scenarios can be
// constructed precisely without driving thousands of real Publish calls
// through a large ring.
func markUsed(r *Ring, idx uint32, seq uint32) {
	e := r.ZoneMapEntry(idx)
	e.Valid = true
	e.SeqNo = seq
	e.Observe(1, 100, 200)
}

func TestGCNoActionWhenPlentyFree(t *testing.T) {
	r, _, clk := newGCTestRing(t, 20, false)
	markUsed(r, 0, 1)

	if err := r.GCReclaim(clk.MillisNow()); err != nil {
		t.Fatalf("GCReclaim: %v", err)
	}
	if r.Stats().GCWarnEvents != 0 {
		t.Fatal("expected no warn event at 95% free")
	}
	if r.Stats().GCBusyEvents != 0 {
		t.Fatal("expected no busy event at 95% free")
	}
	if r.ZoneMapEntry(0).BlockCount == 0 {
		t.Fatal("the only used segment should not have been reclaimed")
	}
}

func TestGCWarnOnlyBelowTenPercentFree(t *testing.T) {
	r, _, clk := newGCTestRing(t, 20, false)
	for i := uint32(0); i < 19; i++ {
		markUsed(r, i, i+1)
	}
	// 19/20 used, 5% free: crosses the 10% warn line but not the 5% busy
	// line (free == gcBusyFreeFrac is not "< 5%").
	if err := r.GCReclaim(clk.MillisNow()); err != nil {
		t.Fatalf("GCReclaim: %v", err)
	}
	if r.Stats().GCWarnEvents == 0 {
		t.Fatal("expected a warn event at 5% free")
	}
	if r.Stats().GCBusyEvents != 0 {
		t.Fatal("expected no busy event at exactly 5% free")
	}
	if r.ZoneMapEntry(0).BlockCount == 0 {
		t.Fatal("no segment should have been reclaimed above the busy threshold")
	}
}

func TestGCReclaimsOldestSegmentBelowBusyThreshold(t *testing.T) {
	r, fl, clk := newGCTestRing(t, 20, false)
	for i := uint32(0); i < 20; i++ {
		markUsed(r, i, i+1) // segment 0 has the smallest SeqNo (oldest)
	}

	if err := r.GCReclaim(clk.MillisNow()); err != nil {
		t.Fatalf("GCReclaim: %v", err)
	}
	if r.Stats().GCBusyEvents == 0 {
		t.Fatal("expected a busy event at 0% free")
	}
	if r.ZoneMapEntry(0).BlockCount != 0 {
		t.Fatal("segment 0 (oldest SeqNo) should have been reclaimed")
	}
	if !r.ZoneMapEntry(0).Valid {
		t.Fatal("reclaim should not flip Valid to false, only clear its aggregates")
	}
	if r.ZoneMapEntry(0).SeqNo != 1 {
		t.Fatal("reclaim should not disturb the entry's stored SeqNo")
	}

	sector := make([]byte, SegmentSize)
	if err := fl.ReadAt(r.segmentBase(0), sector); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for i, b := range sector {
		if b != 0xFF {
			t.Fatalf("segment 0 byte %d = 0x%02x, want 0xFF after reclaim erase", i, b)
		}
	}

	for i := uint32(1); i < 20; i++ {
		if r.ZoneMapEntry(i).BlockCount == 0 {
			t.Fatalf("segment %d should still be considered used", i)
		}
	}
}

func TestGCRateLimitAcrossReclaimCalls(t *testing.T) {
	// A large ring so that reclaiming gcErasesPerWindow segments still
	// leaves occupancy below the busy threshold; with a small ring two
	// reclaims alone would push free fraction back above 5% and the quota
	// would never actually bind.
	r, _, clk := newGCTestRing(t, 100, false)
	for i := uint32(0); i < 100; i++ {
		markUsed(r, i, i+1)
	}

	// First two calls within the same window each reclaim one segment
	// (quota 2/window); the third is refused.
	if err := r.GCReclaim(clk.MillisNow()); err != nil {
		t.Fatalf("GCReclaim #1: %v", err)
	}
	if err := r.GCReclaim(clk.MillisNow()); err != nil {
		t.Fatalf("GCReclaim #2: %v", err)
	}
	if err := r.GCReclaim(clk.MillisNow()); err != ErrBusy {
		t.Fatalf("GCReclaim #3 = %v, want ErrBusy", err)
	}

	clk.Advance(1100)
	if err := r.GCReclaim(clk.MillisNow()); err != nil {
		t.Fatalf("GCReclaim after window roll: %v", err)
	}
}

func TestGCBlockingTimesOutWhenWindowNeverRolls(t *testing.T) {
	r, _, clk := newGCTestRing(t, 100, true)
	for i := uint32(0); i < 100; i++ {
		markUsed(r, i, i+1)
	}
	clk.Set(0)

	if err := r.GCReclaim(clk.MillisNow()); err != nil {
		t.Fatalf("GCReclaim #1: %v", err)
	}
	if err := r.GCReclaim(clk.MillisNow()); err != nil {
		t.Fatalf("GCReclaim #2: %v", err)
	}

	start := time.Now()
	err := r.GCReclaim(clk.MillisNow())
	elapsed := time.Since(start)
	if err != ErrBusy {
		t.Fatalf("GCReclaim #3 = %v, want ErrBusy after the wait times out", err)
	}
	if elapsed < gcMaxBlockWait/2 {
		t.Fatalf("blocking wait returned after %v, expected it to wait close to %v", elapsed, gcMaxBlockWait)
	}
}
