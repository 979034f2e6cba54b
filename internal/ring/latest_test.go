package ring

import "testing"

func TestQueryLatestReturnsNewestSample(t *testing.T) {
	r, _, _ := newTestRing(t)
	publishSamples(t, r, 1, 0, 10, []float32{1, 2, 3})
	publishSamples(t, r, 1, 100, 10, []float32{4, 5})

	row, ok, err := r.QueryLatest(1)
	if err != nil {
		t.Fatalf("QueryLatest: %v", err)
	}
	if !ok {
		t.Fatal("expected a result")
	}
	if row.TimestampMs != 110 {
		t.Fatalf("ts = %d, want 110", row.TimestampMs)
	}
}

func TestQueryLatestAcrossSegmentBoundary(t *testing.T) {
	r, _, _ := newTestRing(t)
	for i := 0; i < DataPagesPerSegment; i++ {
		publishSamples(t, r, 1, uint32(i*100), 10, []float32{float32(i)})
	}
	publishSamples(t, r, 1, 2000, 10, []float32{99})

	row, ok, err := r.QueryLatest(1)
	if err != nil {
		t.Fatalf("QueryLatest: %v", err)
	}
	if !ok {
		t.Fatal("expected a result")
	}
	if row.TimestampMs != 2000 {
		t.Fatalf("ts = %d, want 2000", row.TimestampMs)
	}
}

func TestQueryLatestNoData(t *testing.T) {
	r, _, _ := newTestRing(t)
	_, ok, err := r.QueryLatest(7)
	if err != nil {
		t.Fatalf("QueryLatest: %v", err)
	}
	if ok {
		t.Fatal("expected no result on an empty ring")
	}
}
