package ring

import (
	"testing"

	"zappem.net/pub/debug/xxd"

	"github.com/tinkerator/stampdb/internal/simflash"
)

// dumpSegment hex-dumps segment idx to the test log, for use when a
// corruption-injection test wants the tampered bytes visible in -v output
// instead of just the pass/fail line.
func dumpSegment(t *testing.T, fl *simflash.Flash, idx uint32) {
	t.Helper()
	img := fl.Snapshot()
	base := idx * SegmentSize
	if uint32(len(img)) < base+SegmentSize {
		return
	}
	xxd.Print(int(base), img[base:base+SegmentSize])
}
