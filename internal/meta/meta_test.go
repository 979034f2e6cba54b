package meta

import (
	"testing"

	"github.com/tinkerator/stampdb/internal/simflash"
)

func newStore(t *testing.T) (*Store, *simflash.Flash) {
	t.Helper()
	fl, err := simflash.New(64 * 1024)
	if err != nil {
		t.Fatalf("simflash.New: %v", err)
	}
	return NewStore(fl, fl.SizeBytes()-Reserved), fl
}

func TestLoadSnapshotAbsentOnFreshFlash(t *testing.T) {
	s, _ := newStore(t)
	_, ok, err := s.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if ok {
		t.Fatal("fresh flash should have no snapshot")
	}
}

func TestSaveLoadSnapshotRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	want := Snapshot{EpochID: 2, SegSeqHead: 10, SegSeqTail: 3, HeadAddr: 4096 * 7}
	if err := s.SaveSnapshot(want); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, ok, err := s.LoadSnapshot()
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot: ok=%v err=%v", ok, err)
	}
	if got.EpochID != want.EpochID || got.SegSeqHead != want.SegSeqHead || got.SegSeqTail != want.SegSeqTail || got.HeadAddr != want.HeadAddr {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if got.Version != SnapshotVersion {
		t.Fatalf("Version = %d, want %d", got.Version, SnapshotVersion)
	}
}

func TestSaveSnapshotTogglesParity(t *testing.T) {
	s, fl := newStore(t)
	if err := s.SaveSnapshot(Snapshot{SegSeqHead: 2}); err != nil { // even -> B
		t.Fatalf("SaveSnapshot: %v", err)
	}
	bBytes := make([]byte, 256)
	fl.ReadAt(s.addrB(), bBytes)
	allFF := true
	for _, b := range bBytes {
		if b != 0xFF {
			allFF = false
		}
	}
	if allFF {
		t.Fatal("even SegSeqHead should write to copy B")
	}

	if err := s.SaveSnapshot(Snapshot{SegSeqHead: 3}); err != nil { // odd -> A
		t.Fatalf("SaveSnapshot: %v", err)
	}
	aBytes := make([]byte, 256)
	fl.ReadAt(s.addrA(), aBytes)
	allFF = true
	for _, b := range aBytes {
		if b != 0xFF {
			allFF = false
		}
	}
	if allFF {
		t.Fatal("odd SegSeqHead should write to copy A")
	}
}

func TestLoadSnapshotPrefersLargerSeqHead(t *testing.T) {
	s, _ := newStore(t)
	if err := s.SaveSnapshot(Snapshot{SegSeqHead: 2, HeadAddr: 100}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := s.SaveSnapshot(Snapshot{SegSeqHead: 5, HeadAddr: 200}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, ok, err := s.LoadSnapshot()
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot: ok=%v err=%v", ok, err)
	}
	if got.SegSeqHead != 5 || got.HeadAddr != 200 {
		t.Fatalf("got %+v, want the newer (seq=5) record", got)
	}
}

func TestLoadSnapshotSurvivesCorruptedCopy(t *testing.T) {
	s, fl := newStore(t)
	if err := s.SaveSnapshot(Snapshot{SegSeqHead: 2, HeadAddr: 111}); err != nil { // -> B
		t.Fatalf("SaveSnapshot: %v", err)
	}
	// Corrupt B directly, bypassing the erase/program path.
	bad := make([]byte, 256)
	fl.ReadAt(s.addrB(), bad)
	bad[0] ^= 0xFF
	if err := fl.Poke(s.addrB(), bad); err != nil {
		t.Fatalf("Poke: %v", err)
	}
	got, ok, err := s.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if ok {
		t.Fatalf("only copy is corrupted, should report absent, got %+v", got)
	}
}

func TestSaveLoadHintRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	want := Hint{HeadAddr: 1234, SegSeqNo: 9}
	if err := s.SaveHint(want); err != nil {
		t.Fatalf("SaveHint: %v", err)
	}
	got, ok, err := s.LoadHint()
	if err != nil || !ok {
		t.Fatalf("LoadHint: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestLoadHintAbsentOnFreshFlash(t *testing.T) {
	s, _ := newStore(t)
	_, ok, err := s.LoadHint()
	if err != nil {
		t.Fatalf("LoadHint: %v", err)
	}
	if ok {
		t.Fatal("fresh flash should have no hint")
	}
}
