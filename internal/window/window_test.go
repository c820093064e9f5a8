package window

import (
	"math"
	"testing"
)

func almostEq(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestNewDefaultsSize(t *testing.T) {
	if got := New(0).Cap(); got != DefaultSize {
		t.Fatalf("cap=%d want %d", got, DefaultSize)
	}
	if got := New(-3).Cap(); got != DefaultSize {
		t.Fatalf("cap=%d want %d", got, DefaultSize)
	}
}

func TestFIFOEviction(t *testing.T) {
	w := New(3)
	for i := 1; i <= 5; i++ {
		w.Add(Sample{LatencyMs: float64(i)})
	}
	if w.Len() != 3 {
		t.Fatalf("len=%d", w.Len())
	}
	got := w.Samples()
	for i, want := range []float64{3, 4, 5} {
		if got[i].LatencyMs != want {
			t.Fatalf("samples[%d]=%v want %v", i, got[i].LatencyMs, want)
		}
	}
}

func TestEmptyWindowSentinel(t *testing.T) {
	f := New(5).Features()
	if len(f) != 1 {
		t.Fatalf("rows=%d want 1", len(f))
	}
	if f[0] != (FeatureVector{}) {
		t.Fatalf("sentinel row not zero: %v", f[0])
	}
}

func TestFeatureRows(t *testing.T) {
	w := New(10)
	w.Add(Sample{LatencyMs: 100, JitterMs: 10, PacketLoss: 0.1, BandwidthKbps: 25000, Complexity: 0.4, BitrateKbps: 10000})
	w.Add(Sample{LatencyMs: 200, JitterMs: 20, PacketLoss: 0.3, BandwidthKbps: 50000, Complexity: 0.6})
	w.Add(Sample{LatencyMs: 300, JitterMs: 30, PacketLoss: 0.2, BandwidthKbps: 5000, Complexity: 0.5, BitrateKbps: 4000})

	f := w.Features()
	if len(f) != 3 {
		t.Fatalf("rows=%d", len(f))
	}

	r0 := f[0]
	want0 := FeatureVector{0.5, 0.2, 0.1, 0.5, 0.4, 0, 0, 0, 0, 0.5}
	for k := range want0 {
		if !almostEq(r0[k], want0[k]) {
			t.Fatalf("row0[%d]=%v want %v", k, r0[k], want0[k])
		}
	}

	r1 := f[1]
	if !almostEq(r1[5], 150.0/200) || !almostEq(r1[7], 15.0/50) || !almostEq(r1[8], 0.2) {
		t.Fatalf("row1 running means wrong: %v", r1)
	}
	if r1[6] != 0 {
		t.Fatalf("row1 std should be 0 with two samples, got %v", r1[6])
	}
	if r1[9] != BitrateMissing {
		t.Fatalf("missing bitrate fallback=%v", r1[9])
	}

	r2 := f[2]
	// population std of 100,200,300
	std := math.Sqrt((100.0*100 + 0 + 100*100) / 3)
	if !almostEq(r2[6], std/50) {
		t.Fatalf("row2 std=%v want %v", r2[6], std/50)
	}
	if !almostEq(r2[9], 0.2) {
		t.Fatalf("row2 bitrate=%v", r2[9])
	}
}

func TestFeaturesCausal(t *testing.T) {
	w := New(10)
	for i := 0; i < 4; i++ {
		w.Add(Sample{LatencyMs: float64(10 * (i + 1)), JitterMs: 3, PacketLoss: 0.01, BandwidthKbps: 20000, Complexity: 0.5, BitrateKbps: 8000})
	}
	before := w.Features()
	w.Add(Sample{LatencyMs: 999, JitterMs: 49, PacketLoss: 0.9, BandwidthKbps: 1, Complexity: 1, BitrateKbps: 1})
	after := w.Features()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("row %d changed after appending a later sample", i)
		}
	}
}
